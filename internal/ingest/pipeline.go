package ingest

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"WearSync/internal/model"
	errs "WearSync/pkg/errors"
	"WearSync/pkg/fitbit"
	"WearSync/pkg/metrics"
)

// Fetcher 按路径拉取数据
type Fetcher interface {
	Get(ctx context.Context, path, accessToken string) (fitbit.Response, error)
}

// TokenRefresher 用 refresh token 换取新凭证
type TokenRefresher interface {
	RefreshToken(ctx context.Context, accessToken, refreshToken string, expirySeconds int) (fitbit.Token, error)
}

// APIClient 数据源客户端，*fitbit.Client 实现了该接口
type APIClient interface {
	Fetcher
	TokenRefresher
}

// CredentialStore 凭证读写，只有刷新成功后才会写回
type CredentialStore interface {
	GetCredentials(ctx context.Context, participantID string) (model.Credentials, error)
	UpdateCredentials(ctx context.Context, participantID string, creds model.Credentials) error
}

// Options 流水线配置
type Options struct {
	// MaxConcurrency 单批次最大并发请求数，<= 0 表示不限制
	MaxConcurrency int
	Logger         *zap.Logger
	Metrics        *metrics.OTelMetrics
	// NextID 生成运行 ID，默认使用纳秒时间戳
	NextID func() int64
}

// Pipeline 拉取缺失的 (日期, 指标)，分类响应并落盘。
// 本身不持有运行状态，每次 Run 都有独立的 runContext 和 RefreshGuard。
type Pipeline struct {
	client         APIClient
	store          CredentialStore
	sink           Sink
	maxConcurrency int
	logger         *zap.Logger
	metrics        *metrics.OTelMetrics
	nextID         func() int64
	tracer         trace.Tracer
}

func NewPipeline(client APIClient, store CredentialStore, sink Sink, opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	nextID := opts.NextID
	if nextID == nil {
		nextID = func() int64 { return time.Now().UnixNano() }
	}
	return &Pipeline{
		client:         client,
		store:          store,
		sink:           sink,
		maxConcurrency: opts.MaxConcurrency,
		logger:         logger,
		metrics:        opts.Metrics,
		nextID:         nextID,
		tracer:         otel.Tracer("wearsync.ingest"),
	}
}

// runContext 单次运行的上下文，凭证只是快照，写回必须经过 guard
type runContext struct {
	runID         int64
	participantID string
	creds         model.Credentials
	guard         *RefreshGuard
	refreshed     bool
	logger        *zap.Logger
}

type fetchResult struct {
	pair  model.Pair
	class Classification
	body  []byte
}

// Run 拉取 dates × metrics 的全部组合
func (p *Pipeline) Run(ctx context.Context, participantID string, dates []time.Time, metricList []model.Metric) (*model.IngestionReport, error) {
	return p.RunPairs(ctx, participantID, model.CrossPairs(dates, metricList))
}

// RunPairs 拉取指定的 (日期, 指标) 组合。
// 返回的报告总是非 nil；error 只表示致命错误（重复刷新、刷新失败、凭证写回失败、读取凭证失败）。
func (p *Pipeline) RunPairs(ctx context.Context, participantID string, pairs []model.Pair) (*model.IngestionReport, error) {
	rc := &runContext{
		runID:         p.nextID(),
		participantID: participantID,
	}
	rc.logger = p.logger.With(
		zap.String("participant_id", participantID),
		zap.Int64("run_id", rc.runID),
	)

	pairs = dedupePairs(pairs)
	report := model.NewIngestionReport(rc.runID, participantID)
	report.DatesRequested = distinctDates(pairs)
	report.PairsRequested = len(pairs)
	defer func() { report.FinishedAt = time.Now() }()

	if len(pairs) == 0 {
		return report, nil
	}

	ctx, span := p.tracer.Start(ctx, "ingest.run", trace.WithAttributes(
		attribute.String("participant.id", participantID),
		attribute.Int64("run.id", rc.runID),
		attribute.Int("pairs", len(pairs)),
	))
	defer span.End()

	creds, err := p.store.GetCredentials(ctx, participantID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load credentials")
		return report, fmt.Errorf("failed to load credentials for %s: %w", participantID, err)
	}
	rc.creds = creds
	rc.guard = NewRefreshGuard(participantID, p.client, p.store, rc.logger)

	final := make(map[model.Pair]fetchResult, len(pairs))

	results := p.fetchBatch(ctx, rc, pairs)
	unauthorized := collect(results, final, report)

	var fatal error
	if len(unauthorized) > 0 {
		report.UnauthorizedBeforeRefresh = len(unauthorized)
		rc.logger.Warn("Authorization failed, refreshing credentials",
			zap.Int("unauthorized", len(unauthorized)),
			zap.Int("batch", len(pairs)),
		)
		fatal = p.refreshAndRetry(ctx, rc, unauthorized, final, report)
		report.Refreshed = rc.refreshed
	}

	p.persistAll(ctx, rc, pairs, final, report)

	if fatal != nil {
		span.RecordError(fatal)
		span.SetStatus(codes.Error, "fatal")
		rc.logger.Error("Ingestion run aborted", zap.Error(fatal))
		return report, fatal
	}

	rc.logger.Info("Ingestion run finished",
		zap.Int("requested", report.PairsRequested),
		zap.Int("persisted", len(report.Persisted)),
		zap.Int("failed", len(report.Failures)),
		zap.Bool("refreshed", report.Refreshed),
	)
	return report, nil
}

// refreshAndRetry 刷新一次凭证后只重跑返回 401 的组合。
// 重跑后仍有 401 时再次进入 guard，guard 直接拒绝，不会再发出网络请求。
func (p *Pipeline) refreshAndRetry(ctx context.Context, rc *runContext, pending []model.Pair, final map[model.Pair]fetchResult, report *model.IngestionReport) error {
	creds, err := rc.guard.Refresh(ctx, rc.creds)
	if err != nil {
		p.metrics.RecordRefresh(ctx, "failed")
		return err
	}
	p.metrics.RecordRefresh(ctx, "success")
	rc.creds = creds
	rc.refreshed = true

	retried := p.fetchBatch(ctx, rc, pending)
	stillUnauthorized := collect(retried, final, report)
	if len(stillUnauthorized) == 0 {
		return nil
	}

	if _, err := rc.guard.Refresh(ctx, rc.creds); err != nil {
		p.metrics.RecordRefresh(ctx, "rejected")
		return fmt.Errorf("%w: %d requests still unauthorized: %w", errs.RefreshDidNotResolve, len(stillUnauthorized), err)
	}
	// guard 只允许一次刷新，走不到这里
	return fmt.Errorf("%w: %d requests still unauthorized", errs.RefreshDidNotResolve, len(stillUnauthorized))
}

// fetchBatch 并发拉取整批请求，全部返回后才开始分类
func (p *Pipeline) fetchBatch(ctx context.Context, rc *runContext, pairs []model.Pair) []fetchResult {
	results := make([]fetchResult, len(pairs))
	start := time.Now()

	var g errgroup.Group
	if p.maxConcurrency > 0 {
		g.SetLimit(p.maxConcurrency)
	}
	for i, pair := range pairs {
		g.Go(func() error {
			resp, err := p.client.Get(ctx, pair.Metric.Path(pair.Date), rc.creds.AccessToken)
			class := Classify(pair.Metric, resp, err)
			results[i] = fetchResult{pair: pair, class: class, body: resp.Body}
			p.metrics.RecordFetch(ctx, pair.Metric.String(), class.Outcome.String(), class.StatusCode)
			return nil
		})
	}
	_ = g.Wait()

	p.metrics.RecordBatch(ctx, len(pairs), time.Since(start).Seconds())
	return results
}

// persistAll 并发写入成功的组合，每个组合对应不相交的路径；聚合在写入全部结束后串行完成
func (p *Pipeline) persistAll(ctx context.Context, rc *runContext, pairs []model.Pair, final map[model.Pair]fetchResult, report *model.IngestionReport) {
	writeErrs := make([]error, len(pairs))

	var g errgroup.Group
	if p.maxConcurrency > 0 {
		g.SetLimit(p.maxConcurrency)
	}
	for i, pair := range pairs {
		res, ok := final[pair]
		if !ok || res.class.Outcome != OutcomeSuccess {
			continue
		}
		g.Go(func() error {
			_, err := p.sink.Write(rc.participantID, pair, res.body)
			writeErrs[i] = err
			p.metrics.RecordPersist(ctx, pair.Metric.String(), err == nil)
			return nil
		})
	}
	_ = g.Wait()

	for i, pair := range pairs {
		res, ok := final[pair]
		if !ok {
			continue
		}
		switch {
		case res.class.Outcome != OutcomeSuccess:
			report.Failures = append(report.Failures, model.PairFailure{
				Pair:       pair,
				Reason:     res.class.Reason,
				StatusCode: res.class.StatusCode,
				Detail:     res.class.Detail,
			})
			rc.logger.Warn("Fetch failed",
				zap.String("pair", pair.String()),
				zap.String("reason", string(res.class.Reason)),
				zap.Int("status_code", res.class.StatusCode),
			)
		case writeErrs[i] != nil:
			report.Failures = append(report.Failures, model.PairFailure{
				Pair:       pair,
				Reason:     model.ReasonWriteFailed,
				StatusCode: res.class.StatusCode,
				Detail:     writeErrs[i].Error(),
			})
			rc.logger.Error("Failed to persist capture",
				zap.String("pair", pair.String()),
				zap.Error(writeErrs[i]),
			)
		default:
			report.Persisted = append(report.Persisted, pair)
		}
	}
}

// collect 把结果写入 final 并累计错误状态码，返回仍需刷新后重跑的 401 组合
func collect(results []fetchResult, final map[model.Pair]fetchResult, report *model.IngestionReport) []model.Pair {
	var unauthorized []model.Pair
	for _, res := range results {
		final[res.pair] = res
		if res.class.StatusCode >= http.StatusBadRequest {
			report.StatusCounts[res.class.StatusCode]++
		}
		if res.class.Reason == model.ReasonUnauthorized {
			unauthorized = append(unauthorized, res.pair)
		}
	}
	return unauthorized
}

func dedupePairs(pairs []model.Pair) []model.Pair {
	seen := make(map[model.Pair]bool, len(pairs))
	out := make([]model.Pair, 0, len(pairs))
	for _, pair := range pairs {
		if seen[pair] {
			continue
		}
		seen[pair] = true
		out = append(out, pair)
	}
	return out
}

func distinctDates(pairs []model.Pair) []time.Time {
	seen := make(map[time.Time]bool)
	out := make([]time.Time, 0)
	for _, pair := range pairs {
		if seen[pair.Date] {
			continue
		}
		seen[pair.Date] = true
		out = append(out, pair.Date)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
