package metrics

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics OpenTelemetry 指标集合
type OTelMetrics struct {
	// 拉取相关指标
	FetchTotal    metric.Int64Counter
	FetchDuration metric.Float64Histogram
	PersistTotal  metric.Int64Counter
	RefreshTotal  metric.Int64Counter

	// 同步调度相关指标
	SyncRunTotal     metric.Int64Counter
	SyncRunDuration  metric.Float64Histogram
	ReminderTotal    metric.Int64Counter
	ActiveSyncs      metric.Int64UpDownCounter
	MissingPairGauge metric.Int64Histogram
}

var (
	// 全局指标实例
	metrics *OTelMetrics
	// meter 用于创建指标，未初始化 MeterProvider 时是 no-op
	meter = otel.Meter("wearsync")
)

// InitMetrics 初始化 OpenTelemetry 指标
func InitMetrics() error {
	m, err := NewOTelMetrics(meter)
	if err != nil {
		return err
	}
	metrics = m
	return nil
}

// NewOTelMetrics 使用指定 meter 创建指标
func NewOTelMetrics(meter metric.Meter) (*OTelMetrics, error) {
	var err error
	m := &OTelMetrics{}

	m.FetchTotal, err = meter.Int64Counter(
		"ingest_fetch_total",
		metric.WithDescription("Total number of wearable API fetches by outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	m.FetchDuration, err = meter.Float64Histogram(
		"ingest_batch_duration_seconds",
		metric.WithDescription("Time spent fetching one batch in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.PersistTotal, err = meter.Int64Counter(
		"ingest_persist_total",
		metric.WithDescription("Total number of capture files written"),
		metric.WithUnit("{file}"),
	)
	if err != nil {
		return nil, err
	}

	m.RefreshTotal, err = meter.Int64Counter(
		"ingest_token_refresh_total",
		metric.WithDescription("Total number of token refresh attempts"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, err
	}

	m.SyncRunTotal, err = meter.Int64Counter(
		"sync_run_total",
		metric.WithDescription("Total number of participant sync runs by status"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	m.SyncRunDuration, err = meter.Float64Histogram(
		"sync_run_duration_seconds",
		metric.WithDescription("Duration of one participant sync run in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.ReminderTotal, err = meter.Int64Counter(
		"sync_reminder_total",
		metric.WithDescription("Total number of sync reminders published"),
		metric.WithUnit("{reminder}"),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveSyncs, err = meter.Int64UpDownCounter(
		"sync_active_runs",
		metric.WithDescription("Number of participant sync runs in progress"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	m.MissingPairGauge, err = meter.Int64Histogram(
		"sync_missing_pairs",
		metric.WithDescription("Missing (date, metric) pairs found per run"),
		metric.WithUnit("{pair}"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// GetMetrics 获取全局指标实例，未初始化时返回 nil，所有记录方法对 nil 安全
func GetMetrics() *OTelMetrics {
	return metrics
}

// RecordFetch 记录单次拉取结果
func (m *OTelMetrics) RecordFetch(ctx context.Context, metricName, outcome string, statusCode int) {
	if m == nil {
		return
	}
	m.FetchTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("metric", metricName),
		attribute.String("outcome", outcome),
		attribute.String("status_code", strconv.Itoa(statusCode)),
	))
}

// RecordBatch 记录一批请求的耗时
func (m *OTelMetrics) RecordBatch(ctx context.Context, size int, seconds float64) {
	if m == nil {
		return
	}
	m.FetchDuration.Record(ctx, seconds, metric.WithAttributes(
		attribute.Int("batch_size", size),
	))
}

// RecordPersist 记录落盘结果
func (m *OTelMetrics) RecordPersist(ctx context.Context, metricName string, ok bool) {
	if m == nil {
		return
	}
	status := "success"
	if !ok {
		status = "failed"
	}
	m.PersistTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("metric", metricName),
		attribute.String("status", status),
	))
}

// RecordRefresh 记录凭证刷新
func (m *OTelMetrics) RecordRefresh(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.RefreshTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", result),
	))
}

// RecordSyncRun 记录一次参与者同步
func (m *OTelMetrics) RecordSyncRun(ctx context.Context, status string, seconds float64, missingPairs int) {
	if m == nil {
		return
	}
	m.SyncRunTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	m.SyncRunDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("status", status)))
	m.MissingPairGauge.Record(ctx, int64(missingPairs))
}

// RecordReminder 记录提醒投递
func (m *OTelMetrics) RecordReminder(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.ReminderTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// AddActiveSync 增加进行中的同步
func (m *OTelMetrics) AddActiveSync(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSyncs.Add(ctx, 1)
}

// SubtractActiveSync 减少进行中的同步
func (m *OTelMetrics) SubtractActiveSync(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSyncs.Add(ctx, -1)
}
