package model

import (
	"sort"
	"time"
)

// FailureReason 拉取/落盘失败原因
type FailureReason string

const (
	ReasonUnauthorized   FailureReason = "unauthorized"    // 401，刷新凭证后仍未解决
	ReasonRateLimited    FailureReason = "rate_limited"    // 429，由调用方决定何时重跑
	ReasonClientError    FailureReason = "client_error"    // 其他 4xx，不自动重试
	ReasonServerError    FailureReason = "server_error"    // 5xx
	ReasonTransportError FailureReason = "transport_error" // 没有拿到响应
	ReasonInvalidPayload FailureReason = "invalid_payload" // 200 但缺少数据集
	ReasonWriteFailed    FailureReason = "write_failed"    // 拉取成功但落盘失败
)

// PairFailure 单个 (日期, 指标) 的失败记录
type PairFailure struct {
	Pair
	Reason     FailureReason `json:"reason"`
	StatusCode int           `json:"status_code,omitempty"`
	Detail     string        `json:"detail,omitempty"`
}

// IngestionReport 一次同步的汇总结果，批次级别唯一的聚合点
type IngestionReport struct {
	RunID          int64         `json:"run_id"`
	ParticipantID  string        `json:"participant_id"`
	DatesRequested []time.Time   `json:"dates_requested"`
	PairsRequested int           `json:"pairs_requested"`
	Persisted      []Pair        `json:"persisted"`
	Failures       []PairFailure `json:"failures"`
	// StatusCounts 批次内所有 >= 400 的响应，刷新前后两轮都计入
	StatusCounts map[int]int `json:"status_counts"`
	// UnauthorizedBeforeRefresh 首轮返回 401、触发刷新的组合数
	UnauthorizedBeforeRefresh int        `json:"unauthorized_before_refresh"`
	Refreshed                 bool       `json:"refreshed"`
	ReminderTriggered         bool       `json:"reminder_triggered"`
	LastSyncedDate            *time.Time `json:"last_synced_date,omitempty"`
	StartedAt                 time.Time  `json:"started_at"`
	FinishedAt                time.Time  `json:"finished_at"`
}

// NewIngestionReport 创建空报告
func NewIngestionReport(runID int64, participantID string) *IngestionReport {
	return &IngestionReport{
		RunID:         runID,
		ParticipantID: participantID,
		Persisted:     []Pair{},
		Failures:      []PairFailure{},
		StatusCounts:  make(map[int]int),
		StartedAt:     time.Now(),
	}
}

// FailureCount 按原因统计失败数
func (r *IngestionReport) FailureCount(reason FailureReason) int {
	n := 0
	for _, f := range r.Failures {
		if f.Reason == reason {
			n++
		}
	}
	return n
}

// RateLimited 本次是否遇到过限流
func (r *IngestionReport) RateLimited() bool {
	return r.StatusCounts[429] > 0
}

// DatesSucceeded 所有请求的指标都已落盘的日期，升序
func (r *IngestionReport) DatesSucceeded() []time.Time {
	failed := make(map[time.Time]bool, len(r.Failures))
	for _, f := range r.Failures {
		failed[f.Date] = true
	}
	seen := make(map[time.Time]bool)
	out := make([]time.Time, 0)
	for _, p := range r.Persisted {
		if failed[p.Date] || seen[p.Date] {
			continue
		}
		seen[p.Date] = true
		out = append(out, p.Date)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// DatesFailed 按失败原因分组的日期，升序去重
func (r *IngestionReport) DatesFailed() map[FailureReason][]time.Time {
	out := make(map[FailureReason][]time.Time)
	seen := make(map[FailureReason]map[time.Time]bool)
	for _, f := range r.Failures {
		if seen[f.Reason] == nil {
			seen[f.Reason] = make(map[time.Time]bool)
		}
		if seen[f.Reason][f.Date] {
			continue
		}
		seen[f.Reason][f.Date] = true
		out[f.Reason] = append(out[f.Reason], f.Date)
	}
	for reason := range out {
		dates := out[reason]
		sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	}
	return out
}

// RunStatus 根据结果推导同步状态
func (r *IngestionReport) RunStatus(fatal error) SyncRunStatus {
	switch {
	case fatal != nil:
		return SyncRunStatusFailed
	case len(r.Failures) > 0:
		return SyncRunStatusPartial
	default:
		return SyncRunStatusCompleted
	}
}
