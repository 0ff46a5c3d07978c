package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/cloudwego/hertz/pkg/common/config"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/cloudwego/hertz/pkg/route"

	"WearSync/internal/capture"
	"WearSync/internal/model"
	"WearSync/internal/service"
	errs "WearSync/pkg/errors"
	"WearSync/utils"
)

type fakeSyncAPI struct {
	lastReq    capture.WindowRequest
	status     *service.StatusResult
	report     *model.IngestionReport
	run        *model.SyncRun
	err        error
	syncCalled bool
}

func (f *fakeSyncAPI) DefaultWindow() capture.WindowRequest {
	return capture.WindowRequest{Size: 14}
}

func (f *fakeSyncAPI) Status(_ context.Context, id string, req capture.WindowRequest) (*service.StatusResult, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.status, nil
}

func (f *fakeSyncAPI) SyncParticipant(_ context.Context, id string, req capture.WindowRequest) (*model.IngestionReport, error) {
	f.lastReq = req
	f.syncCalled = true
	return f.report, f.err
}

func (f *fakeSyncAPI) LastRun(_ context.Context, id string) (*model.IngestionReport, *model.SyncRun, error) {
	return f.report, f.run, f.err
}

func day(s string) time.Time {
	d, err := utils.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newEngine(api SyncAPI) *route.Engine {
	engine := route.NewEngine(config.NewOptions([]config.Option{}))
	h := NewParticipantHandler(api)
	engine.GET("/ping", Ping)
	engine.GET("/v1/participants/:id/status", h.GetStatus)
	engine.POST("/v1/participants/:id/sync", h.TriggerSync)
	engine.GET("/v1/participants/:id/report", h.GetReport)
	return engine
}

type envelope struct {
	Data  json.RawMessage        `json:"data"`
	Meta  map[string]interface{} `json:"meta"`
	Error struct {
		Code    string                 `json:"code"`
		Details map[string]interface{} `json:"details"`
	} `json:"error"`
}

func decode(t *testing.T, body []byte) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
	return env
}

func TestPing(t *testing.T) {
	w := ut.PerformRequest(newEngine(&fakeSyncAPI{}), http.MethodGet, "/ping", nil)
	if got := w.Result().StatusCode(); got != http.StatusOK {
		t.Fatalf("status = %d", got)
	}
}

func TestGetStatus(t *testing.T) {
	last := day("2024-03-09")
	api := &fakeSyncAPI{status: &service.StatusResult{
		ParticipantID: "P001",
		Window:        capture.DateRange{Start: day("2024-03-07"), Stop: day("2024-03-10")},
		MissingDates:  []time.Time{day("2024-03-07"), day("2024-03-10")},
		MissingByMetric: map[model.Metric][]time.Time{
			model.MetricSteps: {day("2024-03-10")},
		},
		Reminder: capture.ReminderDecision{LastSyncedDate: &last},
	}}

	w := ut.PerformRequest(newEngine(api), http.MethodGet, "/v1/participants/P001/status?dates=2024-03-07,2024-03-10", nil)
	resp := w.Result()
	if resp.StatusCode() != http.StatusOK {
		t.Fatalf("status = %d body = %s", resp.StatusCode(), resp.Body())
	}
	if len(api.lastReq.Dates) != 2 || api.lastReq.Size != 0 {
		t.Fatalf("window request = %+v", api.lastReq)
	}

	var view StatusView
	if err := json.Unmarshal(decode(t, resp.Body()).Data, &view); err != nil {
		t.Fatal(err)
	}
	if view.WindowStart != "2024-03-07" || view.WindowStop != "2024-03-10" {
		t.Fatalf("window = %s..%s", view.WindowStart, view.WindowStop)
	}
	if fmt.Sprint(view.MissingDates) != "[2024-03-07 2024-03-10]" {
		t.Fatalf("missing = %v", view.MissingDates)
	}
	if fmt.Sprint(view.MissingByMetric["steps"]) != "[2024-03-10]" {
		t.Fatalf("missing steps = %v", view.MissingByMetric)
	}
	if view.LastSyncedDate == nil || *view.LastSyncedDate != "2024-03-09" {
		t.Fatalf("last synced = %v", view.LastSyncedDate)
	}
}

func TestGetStatusDefaultsWindow(t *testing.T) {
	api := &fakeSyncAPI{status: &service.StatusResult{}}

	ut.PerformRequest(newEngine(api), http.MethodGet, "/v1/participants/P001/status", nil)
	if api.lastReq.Size != 14 {
		t.Fatalf("window request = %+v, want default size", api.lastReq)
	}
}

func TestGetStatusBadWindow(t *testing.T) {
	api := &fakeSyncAPI{}

	for _, query := range []string{"window=abc", "window=0"} {
		w := ut.PerformRequest(newEngine(api), http.MethodGet, "/v1/participants/P001/status?"+query, nil)
		resp := w.Result()
		if resp.StatusCode() != http.StatusBadRequest {
			t.Fatalf("%s: status = %d", query, resp.StatusCode())
		}
		if code := decode(t, resp.Body()).Error.Code; code != errs.InvalidWindowSize.Code {
			t.Fatalf("%s: code = %s", query, code)
		}
	}
}

func TestGetStatusErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: P404", errs.ParticipantNotFound), http.StatusNotFound},
		{errs.WindowConflict, http.StatusBadRequest},
	}
	for _, tt := range tests {
		api := &fakeSyncAPI{err: tt.err}
		w := ut.PerformRequest(newEngine(api), http.MethodGet, "/v1/participants/P404/status?window=3&dates=2024-03-01", nil)
		if got := w.Result().StatusCode(); got != tt.want {
			t.Errorf("%v: status = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestTriggerSync(t *testing.T) {
	pair := model.Pair{Date: day("2024-03-10"), Metric: model.MetricSteps}
	report := model.NewIngestionReport(42, "P001")
	report.PairsRequested = 2
	report.DatesRequested = []time.Time{day("2024-03-10")}
	report.Persisted = []model.Pair{pair}
	report.Failures = []model.PairFailure{{Pair: model.Pair{Date: day("2024-03-10"), Metric: model.MetricSleep}, Reason: model.ReasonRateLimited, StatusCode: 429}}
	report.StatusCounts[429] = 1
	report.StatusCounts[401] = 1
	report.UnauthorizedBeforeRefresh = 1
	api := &fakeSyncAPI{report: report}

	w := ut.PerformRequest(newEngine(api), http.MethodPost, "/v1/participants/P001/sync?window=3", nil)
	resp := w.Result()
	if resp.StatusCode() != http.StatusOK {
		t.Fatalf("status = %d body = %s", resp.StatusCode(), resp.Body())
	}
	if api.lastReq.Size != 3 {
		t.Fatalf("window request = %+v", api.lastReq)
	}

	var view ReportView
	if err := json.Unmarshal(decode(t, resp.Body()).Data, &view); err != nil {
		t.Fatal(err)
	}
	if view.RunID != 42 || view.Status != string(model.SyncRunStatusPartial) {
		t.Fatalf("view = %+v", view)
	}
	if !view.RateLimited || view.StatusCounts["429"] != 1 {
		t.Fatalf("rate limit fields = %v %v", view.RateLimited, view.StatusCounts)
	}
	if view.Unauthorized != 1 || view.StatusCounts["401"] != 1 {
		t.Fatalf("unauthorized fields = %d %v", view.Unauthorized, view.StatusCounts)
	}
	if fmt.Sprint(view.Persisted) != "[2024-03-10/steps]" {
		t.Fatalf("persisted = %v", view.Persisted)
	}
	if fmt.Sprint(view.DatesFailed["rate_limited"]) != "[2024-03-10]" {
		t.Fatalf("dates failed = %v", view.DatesFailed)
	}
}

func TestTriggerSyncBusy(t *testing.T) {
	api := &fakeSyncAPI{err: fmt.Errorf("%w: P001", errs.SyncInProgress)}

	w := ut.PerformRequest(newEngine(api), http.MethodPost, "/v1/participants/P001/sync", nil)
	resp := w.Result()
	if resp.StatusCode() != http.StatusConflict {
		t.Fatalf("status = %d", resp.StatusCode())
	}
	if code := decode(t, resp.Body()).Error.Code; code != errs.SyncInProgress.Code {
		t.Fatalf("code = %s", code)
	}
}

func TestTriggerSyncFatalIncludesPartialReport(t *testing.T) {
	report := model.NewIngestionReport(7, "P001")
	api := &fakeSyncAPI{report: report, err: fmt.Errorf("%w: 2 requests still unauthorized", errs.RefreshDidNotResolve)}

	w := ut.PerformRequest(newEngine(api), http.MethodPost, "/v1/participants/P001/sync", nil)
	resp := w.Result()
	if resp.StatusCode() != http.StatusBadGateway {
		t.Fatalf("status = %d", resp.StatusCode())
	}
	env := decode(t, resp.Body())
	if env.Error.Code != errs.RefreshDidNotResolve.Code {
		t.Fatalf("code = %s", env.Error.Code)
	}
	rep, ok := env.Error.Details["report"].(map[string]interface{})
	if !ok || rep["status"] != string(model.SyncRunStatusFailed) {
		t.Fatalf("details = %v", env.Error.Details)
	}
	if env.Error.Details["reason"] == nil {
		t.Fatal("expected wrapped reason in details")
	}
}

func TestGetReport(t *testing.T) {
	report := model.NewIngestionReport(9, "P001")
	w := ut.PerformRequest(newEngine(&fakeSyncAPI{report: report}), http.MethodGet, "/v1/participants/P001/report", nil)
	env := decode(t, w.Result().Body())
	if env.Meta["source"] != "cache" {
		t.Fatalf("meta = %v", env.Meta)
	}

	run := &model.SyncRun{RunID: 9, ParticipantID: "P001", Status: model.SyncRunStatusCompleted}
	w = ut.PerformRequest(newEngine(&fakeSyncAPI{run: run}), http.MethodGet, "/v1/participants/P001/report", nil)
	env = decode(t, w.Result().Body())
	if env.Meta["source"] != "history" {
		t.Fatalf("meta = %v", env.Meta)
	}

	w = ut.PerformRequest(newEngine(&fakeSyncAPI{err: errs.SyncRunNotFound}), http.MethodGet, "/v1/participants/P001/report", nil)
	if got := w.Result().StatusCode(); got != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", got)
	}
}
