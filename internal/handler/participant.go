package handler

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"

	"WearSync/internal/capture"
	"WearSync/internal/model"
	"WearSync/internal/service"
	errs "WearSync/pkg/errors"
	"WearSync/pkg/response"
	"WearSync/utils"
)

// SyncAPI 接口层用到的同步能力，*service.SyncService 实现了该接口
type SyncAPI interface {
	DefaultWindow() capture.WindowRequest
	Status(ctx context.Context, participantID string, req capture.WindowRequest) (*service.StatusResult, error)
	SyncParticipant(ctx context.Context, participantID string, req capture.WindowRequest) (*model.IngestionReport, error)
	LastRun(ctx context.Context, participantID string) (*model.IngestionReport, *model.SyncRun, error)
}

type ParticipantHandler struct {
	svc SyncAPI
}

func NewParticipantHandler(svc SyncAPI) *ParticipantHandler {
	return &ParticipantHandler{svc: svc}
}

// StatusView 对账结果
type StatusView struct {
	ParticipantID   string              `json:"participant_id"`
	WindowStart     string              `json:"window_start"`
	WindowStop      string              `json:"window_stop"`
	MissingDates    []string            `json:"missing_dates"`
	MissingByMetric map[string][]string `json:"missing_by_metric"`
	ShouldRemind    bool                `json:"should_remind"`
	LastSyncedDate  *string             `json:"last_synced_date"`
}

type FailureView struct {
	Date       string `json:"date"`
	Metric     string `json:"metric"`
	Reason     string `json:"reason"`
	StatusCode int    `json:"status_code,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// ReportView 一次同步的报告
type ReportView struct {
	RunID             int64               `json:"run_id"`
	ParticipantID     string              `json:"participant_id"`
	Status            string              `json:"status"`
	DatesRequested    []string            `json:"dates_requested"`
	PairsRequested    int                 `json:"pairs_requested"`
	Persisted         []string            `json:"persisted"`
	Failures          []FailureView       `json:"failures"`
	StatusCounts      map[string]int      `json:"status_counts"`
	RateLimited       bool                `json:"rate_limited"`
	Unauthorized      int                 `json:"unauthorized_before_refresh"`
	DatesSucceeded    []string            `json:"dates_succeeded"`
	DatesFailed       map[string][]string `json:"dates_failed"`
	Refreshed         bool                `json:"refreshed"`
	ReminderTriggered bool                `json:"reminder_triggered"`
	LastSyncedDate    *string             `json:"last_synced_date"`
	StartedAt         time.Time           `json:"started_at"`
	FinishedAt        time.Time           `json:"finished_at"`
}

// Ping 健康检查
// GET /ping
func Ping(ctx context.Context, c *app.RequestContext) {
	response.Success(ctx, c, map[string]string{"message": "pong"})
}

// GetStatus 缺失日期与提醒判定，不发起网络请求
// GET /v1/participants/:id/status?window=N 或 ?dates=yyyy-MM-dd[,yyyy-MM-dd]
func (h *ParticipantHandler) GetStatus(ctx context.Context, c *app.RequestContext) {
	req, err := h.windowFromQuery(c)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	result, err := h.svc.Status(ctx, c.Param("id"), req)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, toStatusView(result))
}

// TriggerSync 立即同步一个参与者，参数同 GetStatus
// POST /v1/participants/:id/sync
func (h *ParticipantHandler) TriggerSync(ctx context.Context, c *app.RequestContext) {
	req, err := h.windowFromQuery(c)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	report, err := h.svc.SyncParticipant(ctx, c.Param("id"), req)
	if err != nil {
		if report != nil {
			response.ErrorWithDetails(ctx, c, err, map[string]interface{}{"report": toReportView(report, err)})
			return
		}
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, toReportView(report, nil))
}

// GetReport 最近一次同步报告，缓存过期后返回运行记录
// GET /v1/participants/:id/report
func (h *ParticipantHandler) GetReport(ctx context.Context, c *app.RequestContext) {
	report, run, err := h.svc.LastRun(ctx, c.Param("id"))
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	if report != nil {
		response.SuccessWithMeta(ctx, c, toReportView(report, nil), map[string]interface{}{"source": "cache"})
		return
	}
	response.SuccessWithMeta(ctx, c, run, map[string]interface{}{"source": "history"})
}

// windowFromQuery window 和 dates 都没有时使用默认窗口
func (h *ParticipantHandler) windowFromQuery(c *app.RequestContext) (capture.WindowRequest, error) {
	var req capture.WindowRequest

	if raw := strings.TrimSpace(c.Query("window")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			return req, fmt.Errorf("%w: window %q is not a number", errs.InvalidWindowSize, raw)
		}
		if size == 0 {
			// 0 会被当成未提供
			return req, fmt.Errorf("%w: got 0", errs.InvalidWindowSize)
		}
		req.Size = size
	}
	if raw := strings.TrimSpace(c.Query("dates")); raw != "" {
		for _, d := range strings.Split(raw, ",") {
			if d = strings.TrimSpace(d); d != "" {
				req.Dates = append(req.Dates, d)
			}
		}
	}

	if req.Size == 0 && len(req.Dates) == 0 {
		return h.svc.DefaultWindow(), nil
	}
	return req, nil
}

func formatDates(dates []time.Time) []string {
	out := make([]string, len(dates))
	for i, d := range dates {
		out[i] = utils.FormatDate(d)
	}
	return out
}

func optionalDate(d *time.Time) *string {
	if d == nil {
		return nil
	}
	s := utils.FormatDate(*d)
	return &s
}

func toStatusView(r *service.StatusResult) StatusView {
	view := StatusView{
		ParticipantID:   r.ParticipantID,
		WindowStart:     utils.FormatDate(r.Window.Start),
		WindowStop:      utils.FormatDate(r.Window.Stop),
		MissingDates:    formatDates(r.MissingDates),
		MissingByMetric: make(map[string][]string, len(r.MissingByMetric)),
		ShouldRemind:    r.Reminder.ShouldRemind,
		LastSyncedDate:  optionalDate(r.Reminder.LastSyncedDate),
	}
	for m, dates := range r.MissingByMetric {
		view.MissingByMetric[string(m)] = formatDates(dates)
	}
	return view
}

func toReportView(r *model.IngestionReport, fatal error) ReportView {
	view := ReportView{
		RunID:             r.RunID,
		ParticipantID:     r.ParticipantID,
		Status:            string(r.RunStatus(fatal)),
		DatesRequested:    formatDates(r.DatesRequested),
		PairsRequested:    r.PairsRequested,
		Persisted:         make([]string, len(r.Persisted)),
		Failures:          make([]FailureView, len(r.Failures)),
		StatusCounts:      make(map[string]int, len(r.StatusCounts)),
		RateLimited:       r.RateLimited(),
		Unauthorized:      r.UnauthorizedBeforeRefresh,
		DatesSucceeded:    formatDates(r.DatesSucceeded()),
		DatesFailed:       make(map[string][]string),
		Refreshed:         r.Refreshed,
		ReminderTriggered: r.ReminderTriggered,
		LastSyncedDate:    optionalDate(r.LastSyncedDate),
		StartedAt:         r.StartedAt,
		FinishedAt:        r.FinishedAt,
	}
	for i, p := range r.Persisted {
		view.Persisted[i] = p.String()
	}
	sort.Strings(view.Persisted)
	for i, f := range r.Failures {
		view.Failures[i] = FailureView{
			Date:       utils.FormatDate(f.Date),
			Metric:     string(f.Metric),
			Reason:     string(f.Reason),
			StatusCode: f.StatusCode,
			Detail:     f.Detail,
		}
	}
	for code, n := range r.StatusCounts {
		view.StatusCounts[strconv.Itoa(code)] = n
	}
	for reason, dates := range r.DatesFailed() {
		view.DatesFailed[string(reason)] = formatDates(dates)
	}
	return view
}
