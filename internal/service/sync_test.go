package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"WearSync/internal/capture"
	"WearSync/internal/ingest"
	"WearSync/internal/model"
	errs "WearSync/pkg/errors"
	"WearSync/utils"
)

const pid = "P001"

var fixedNow = time.Date(2024, 3, 11, 10, 0, 0, 0, time.UTC)

func day(s string) time.Time {
	d, err := utils.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

type memStore struct {
	mu           sync.Mutex
	participants map[string]*model.Participant
	runs         []*model.SyncRun
	reminded     map[string]time.Time
}

func newMemStore(registered string) *memStore {
	return &memStore{
		participants: map[string]*model.Participant{
			pid: {ParticipantID: pid, RegistrationDate: day(registered), Status: model.ParticipantStatusActive},
		},
		reminded: make(map[string]time.Time),
	}
}

func (s *memStore) GetByParticipantID(_ context.Context, id string) (*model.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errs.ParticipantNotFound, id)
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) GetRegistrationDate(ctx context.Context, id string) (time.Time, error) {
	p, err := s.GetByParticipantID(ctx, id)
	if err != nil {
		return time.Time{}, err
	}
	return p.RegistrationDate, nil
}

func (s *memStore) GetCredentials(ctx context.Context, id string) (model.Credentials, error) {
	p, err := s.GetByParticipantID(ctx, id)
	if err != nil {
		return model.Credentials{}, err
	}
	return model.Credentials{AccessToken: p.AccessToken, RefreshToken: p.RefreshToken}, nil
}

func (s *memStore) UpdateCredentials(_ context.Context, id string, creds model.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[id]
	if !ok {
		return fmt.Errorf("%w: %s", errs.ParticipantNotFound, id)
	}
	p.AccessToken, p.RefreshToken = creds.AccessToken, creds.RefreshToken
	return nil
}

func (s *memStore) ListActive(_ context.Context) ([]model.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		if p.Status == model.ParticipantStatusActive {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *memStore) UpdateLastSynced(_ context.Context, id string, lastSynced *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lastSynced != nil {
		d := *lastSynced
		s.participants[id].LastSyncedDate = &d
	}
	return nil
}

func (s *memStore) MarkReminded(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.participants[id]; !ok {
		return fmt.Errorf("%w: %s", errs.ParticipantNotFound, id)
	}
	s.reminded[id] = at
	return nil
}

func (s *memStore) RecordSyncRun(_ context.Context, run *model.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	return nil
}

func (s *memStore) LatestSyncRun(_ context.Context, id string) (*model.SyncRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.runs) - 1; i >= 0; i-- {
		if s.runs[i].ParticipantID == id {
			return s.runs[i], nil
		}
	}
	return nil, nil
}

// fileIngester 把请求的 pair 直接写入数据目录，fail 中的 pair 记为失败
type fileIngester struct {
	mu    sync.Mutex
	sink  *ingest.FileSink
	fail  map[model.Pair]model.FailureReason
	err   error
	calls [][]model.Pair
}

func (f *fileIngester) RunPairs(_ context.Context, id string, pairs []model.Pair) (*model.IngestionReport, error) {
	f.mu.Lock()
	f.calls = append(f.calls, pairs)
	f.mu.Unlock()

	report := model.NewIngestionReport(int64(len(f.calls)), id)
	report.PairsRequested = len(pairs)
	for _, p := range pairs {
		if reason, ok := f.fail[p]; ok {
			report.Failures = append(report.Failures, model.PairFailure{Pair: p, Reason: reason})
			continue
		}
		if _, err := f.sink.Write(id, p, []byte(`{}`)); err != nil {
			return report, err
		}
		report.Persisted = append(report.Persisted, p)
	}
	report.FinishedAt = time.Now()
	return report, f.err
}

type memLock struct {
	mu       sync.Mutex
	held     map[string]string
	released int
}

func (l *memLock) Acquire(_ context.Context, id string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = make(map[string]string)
	}
	if _, ok := l.held[id]; ok {
		return "", nil
	}
	l.held[id] = "token-" + id
	return l.held[id], nil
}

func (l *memLock) Release(_ context.Context, id, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[id] == token {
		delete(l.held, id)
		l.released++
	}
	return nil
}

type memReports struct {
	mu      sync.Mutex
	reports map[string]*model.IngestionReport
}

func (c *memReports) Set(_ context.Context, r *model.IngestionReport) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reports == nil {
		c.reports = make(map[string]*model.IngestionReport)
	}
	c.reports[r.ParticipantID] = r
	return nil
}

func (c *memReports) Get(_ context.Context, id string) (*model.IngestionReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reports[id], nil
}

type memGate struct {
	limit     int
	scheduled map[string]bool
	counts    map[string]int
}

func newMemGate(limit int) *memGate {
	return &memGate{limit: limit, scheduled: make(map[string]bool), counts: make(map[string]int)}
}

func (g *memGate) TryMarkScheduled(_ context.Context, date, id string) (bool, error) {
	key := date + "/" + id
	if g.scheduled[key] {
		return false, nil
	}
	g.scheduled[key] = true
	return true, nil
}

func (g *memGate) UnmarkScheduled(_ context.Context, date, id string) error {
	delete(g.scheduled, date+"/"+id)
	return nil
}

func (g *memGate) Allow(_ context.Context, id string, _ time.Time) (bool, int, error) {
	return g.counts[id] < g.limit, g.counts[id], nil
}

func (g *memGate) Increment(_ context.Context, id string, _ time.Time) error {
	g.counts[id]++
	return nil
}

type memPublisher struct {
	err  error
	msgs []model.SyncReminderMessage
}

func (p *memPublisher) PublishSyncReminder(_ context.Context, msg model.SyncReminderMessage) error {
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

type fixture struct {
	dir       string
	store     *memStore
	ingester  *fileIngester
	lock      *memLock
	reports   *memReports
	gate      *memGate
	publisher *memPublisher
	svc       *SyncService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		dir:       dir,
		store:     newMemStore("2024-03-01"),
		ingester:  &fileIngester{sink: ingest.NewFileSink(dir), fail: map[model.Pair]model.FailureReason{}},
		lock:      &memLock{},
		reports:   &memReports{},
		gate:      newMemGate(2),
		publisher: &memPublisher{},
	}
	f.svc = NewSyncService(SyncDeps{
		Store:     f.store,
		Ingester:  f.ingester,
		Lock:      f.lock,
		Reports:   f.reports,
		Gate:      f.gate,
		Publisher: f.publisher,
	}, SyncOptions{
		DataDir:           dir,
		Metrics:           []model.Metric{model.MetricSteps, model.MetricSleep},
		WindowDays:        7,
		ReminderThreshold: 3,
		Now:               func() time.Time { return fixedNow },
	})
	return f
}

func (f *fixture) capture(t *testing.T, date string, metric model.Metric) {
	t.Helper()
	name, err := capture.Encode(pid, day(date), metric)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := os.WriteFile(filepath.Join(f.dir, name), []byte(`{}`), 0o644); err != nil {
		t.Fatalf("write capture: %v", err)
	}
}

func TestSyncParticipantFetchesOnlyMissingPairs(t *testing.T) {
	f := newFixture(t)
	for _, d := range []string{"2024-03-04", "2024-03-05", "2024-03-06", "2024-03-07", "2024-03-08", "2024-03-09", "2024-03-10"} {
		f.capture(t, d, model.MetricSleep)
		if d < "2024-03-09" {
			f.capture(t, d, model.MetricSteps)
		}
	}

	report, err := f.svc.SyncParticipant(context.Background(), pid, f.svc.DefaultWindow())
	if err != nil {
		t.Fatalf("SyncParticipant: %v", err)
	}

	if len(f.ingester.calls) != 1 {
		t.Fatalf("ingester calls = %d, want 1", len(f.ingester.calls))
	}
	want := []model.Pair{
		{Date: day("2024-03-09"), Metric: model.MetricSteps},
		{Date: day("2024-03-10"), Metric: model.MetricSteps},
	}
	got := f.ingester.calls[0]
	if len(got) != len(want) {
		t.Fatalf("requested pairs = %v, want %v", got, want)
	}
	for i := range want {
		if !got[i].Date.Equal(want[i].Date) || got[i].Metric != want[i].Metric {
			t.Fatalf("pair %d = %v, want %v", i, got[i], want[i])
		}
	}

	if report.ReminderTriggered {
		t.Fatal("expected no reminder for a fully synced window")
	}
	if report.LastSyncedDate == nil || utils.FormatDate(*report.LastSyncedDate) != "2024-03-10" {
		t.Fatalf("LastSyncedDate = %v, want 2024-03-10", report.LastSyncedDate)
	}
	if len(f.store.runs) != 1 || f.store.runs[0].Status != model.SyncRunStatusCompleted {
		t.Fatalf("recorded runs = %+v", f.store.runs)
	}
	if !f.store.runs[0].WindowStart.Equal(day("2024-03-04")) || !f.store.runs[0].WindowStop.Equal(day("2024-03-10")) {
		t.Fatalf("recorded window = %s..%s", f.store.runs[0].WindowStart, f.store.runs[0].WindowStop)
	}
	if got := f.store.participants[pid].LastSyncedDate; got == nil || !got.Equal(day("2024-03-10")) {
		t.Fatalf("stored LastSyncedDate = %v", got)
	}
	if f.reports.reports[pid] != report {
		t.Fatal("expected report to be cached")
	}
	if f.lock.released != 1 {
		t.Fatalf("lock released %d times, want 1", f.lock.released)
	}
}

func TestSyncParticipantSecondRunIsNoop(t *testing.T) {
	f := newFixture(t)

	if _, err := f.svc.SyncParticipant(context.Background(), pid, f.svc.DefaultWindow()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	report, err := f.svc.SyncParticipant(context.Background(), pid, f.svc.DefaultWindow())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(f.ingester.calls[1]) != 0 || report.PairsRequested != 0 {
		t.Fatalf("second run requested %d pairs, want 0", len(f.ingester.calls[1]))
	}
}

func TestSyncParticipantLockBusy(t *testing.T) {
	f := newFixture(t)
	if _, err := f.lock.Acquire(context.Background(), pid); err != nil {
		t.Fatal(err)
	}

	_, err := f.svc.SyncParticipant(context.Background(), pid, f.svc.DefaultWindow())
	if !errors.Is(err, errs.SyncInProgress) {
		t.Fatalf("err = %v, want SyncInProgress", err)
	}
	if len(f.ingester.calls) != 0 {
		t.Fatal("ingester must not run while another sync holds the lock")
	}
}

func TestSyncParticipantValidatesWindowBeforeLocking(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.SyncParticipant(context.Background(), pid, capture.WindowRequest{Size: 3, Dates: []string{"2024-03-05"}})
	if !errors.Is(err, errs.WindowConflict) {
		t.Fatalf("err = %v, want WindowConflict", err)
	}
	if len(f.lock.held) != 0 || len(f.ingester.calls) != 0 {
		t.Fatal("invalid window must not lock or fetch")
	}
}

func TestSyncParticipantUnknown(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.SyncParticipant(context.Background(), "P404", f.svc.DefaultWindow())
	if !errors.Is(err, errs.ParticipantNotFound) {
		t.Fatalf("err = %v, want ParticipantNotFound", err)
	}
}

func TestSyncParticipantFatalErrorStillRecorded(t *testing.T) {
	f := newFixture(t)
	f.ingester.err = fmt.Errorf("%w: provider said no", errs.RefreshFailed)

	report, err := f.svc.SyncParticipant(context.Background(), pid, f.svc.DefaultWindow())
	if !errors.Is(err, errs.RefreshFailed) {
		t.Fatalf("err = %v, want RefreshFailed", err)
	}
	if report == nil {
		t.Fatal("report must be returned alongside a fatal error")
	}
	if len(f.store.runs) != 1 {
		t.Fatalf("runs = %d, want 1", len(f.store.runs))
	}
	run := f.store.runs[0]
	if run.Status != model.SyncRunStatusFailed || run.Error == "" {
		t.Fatalf("run = %+v, want failed with error text", run)
	}
	if f.lock.released != 1 {
		t.Fatal("lock must be released after a fatal error")
	}
}

func TestSyncParticipantTriggersReminderWhenNothingArrives(t *testing.T) {
	f := newFixture(t)
	for _, d := range (capture.DateRange{Start: day("2024-03-04"), Stop: day("2024-03-10")}).Days() {
		for _, m := range []model.Metric{model.MetricSteps, model.MetricSleep} {
			f.ingester.fail[model.Pair{Date: d, Metric: m}] = model.ReasonInvalidPayload
		}
	}

	report, err := f.svc.SyncParticipant(context.Background(), pid, f.svc.DefaultWindow())
	if err != nil {
		t.Fatalf("SyncParticipant: %v", err)
	}
	if !report.ReminderTriggered || report.LastSyncedDate != nil {
		t.Fatalf("reminder = %v last = %v, want reminder with no last synced date", report.ReminderTriggered, report.LastSyncedDate)
	}
	if f.store.runs[0].Status != model.SyncRunStatusPartial {
		t.Fatalf("status = %s, want partial", f.store.runs[0].Status)
	}

	published, err := f.svc.PublishReminder(context.Background(), report)
	if err != nil || !published {
		t.Fatalf("PublishReminder = %v, %v", published, err)
	}
	msg := f.publisher.msgs[0]
	if msg.ParticipantID != pid || msg.ReminderDate != "2024-03-11" || msg.MissedDays != 3 || msg.LastSyncedDate != "" {
		t.Fatalf("unexpected message %+v", msg)
	}

	published, err = f.svc.PublishReminder(context.Background(), report)
	if err != nil || published {
		t.Fatalf("second PublishReminder same day = %v, %v, want skipped", published, err)
	}
	if len(f.publisher.msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(f.publisher.msgs))
	}
}

func TestPublishReminderMonthlyCap(t *testing.T) {
	f := newFixture(t)
	f.gate.counts[pid] = 2
	report := &model.IngestionReport{ParticipantID: pid, ReminderTriggered: true}

	published, err := f.svc.PublishReminder(context.Background(), report)
	if err != nil || published {
		t.Fatalf("PublishReminder = %v, %v, want capped", published, err)
	}
	if len(f.publisher.msgs) != 0 {
		t.Fatal("capped reminder must not be published")
	}
}

func TestPublishReminderFailureUnmarks(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = errors.New("channel closed")
	report := &model.IngestionReport{ParticipantID: pid, ReminderTriggered: true}

	if _, err := f.svc.PublishReminder(context.Background(), report); err == nil {
		t.Fatal("expected publish error")
	}
	if len(f.gate.scheduled) != 0 {
		t.Fatal("failed publish must leave the day unmarked for retry")
	}
	if f.gate.counts[pid] != 0 {
		t.Fatal("failed publish must not count toward the monthly limit")
	}
}

func TestPublishReminderNotTriggered(t *testing.T) {
	f := newFixture(t)

	published, err := f.svc.PublishReminder(context.Background(), &model.IngestionReport{ParticipantID: pid})
	if err != nil || published {
		t.Fatalf("PublishReminder = %v, %v", published, err)
	}
}

func TestStatusReportsMissingPerMetric(t *testing.T) {
	f := newFixture(t)
	f.capture(t, "2024-03-08", model.MetricSteps)
	f.capture(t, "2024-03-08", model.MetricSleep)
	f.capture(t, "2024-03-09", model.MetricSleep)

	result, err := f.svc.Status(context.Background(), pid, capture.WindowRequest{Dates: []string{"2024-03-07", "2024-03-10"}})
	if err != nil {
		t.Fatalf("Status: %v", err)
	}

	if got := fmtDates(result.MissingDates); got != "[2024-03-07 2024-03-10]" {
		t.Fatalf("MissingDates = %s", got)
	}
	if got := fmtDates(result.MissingByMetric[model.MetricSteps]); got != "[2024-03-07 2024-03-09 2024-03-10]" {
		t.Fatalf("missing steps = %s", got)
	}
	if got := fmtDates(result.MissingByMetric[model.MetricSleep]); got != "[2024-03-07 2024-03-10]" {
		t.Fatalf("missing sleep = %s", got)
	}
	if result.Reminder.ShouldRemind {
		t.Fatal("one missing day at the end must not trigger a reminder with threshold 3")
	}
	if result.Reminder.LastSyncedDate == nil || utils.FormatDate(*result.Reminder.LastSyncedDate) != "2024-03-09" {
		t.Fatalf("LastSyncedDate = %v", result.Reminder.LastSyncedDate)
	}
	if len(f.ingester.calls) != 0 {
		t.Fatal("Status must not fetch")
	}
}

func TestLastRun(t *testing.T) {
	f := newFixture(t)

	if _, _, err := f.svc.LastRun(context.Background(), pid); !errors.Is(err, errs.SyncRunNotFound) {
		t.Fatalf("err = %v, want SyncRunNotFound", err)
	}
	if _, _, err := f.svc.LastRun(context.Background(), "P404"); !errors.Is(err, errs.ParticipantNotFound) {
		t.Fatalf("err = %v, want ParticipantNotFound", err)
	}

	report, err := f.svc.SyncParticipant(context.Background(), pid, f.svc.DefaultWindow())
	if err != nil {
		t.Fatal(err)
	}
	cached, run, err := f.svc.LastRun(context.Background(), pid)
	if err != nil || cached != report || run != nil {
		t.Fatalf("LastRun = %v, %v, %v, want cached report", cached, run, err)
	}

	f.reports.reports = nil
	cached, run, err = f.svc.LastRun(context.Background(), pid)
	if err != nil || cached != nil || run == nil || run.RunID != report.RunID {
		t.Fatalf("LastRun after cache expiry = %v, %v, %v", cached, run, err)
	}
}

func TestHandleSyncReminder(t *testing.T) {
	f := newFixture(t)

	err := f.svc.HandleSyncReminder(context.Background(), model.SyncReminderMessage{ParticipantID: pid, MissedDays: 3})
	if err != nil {
		t.Fatalf("HandleSyncReminder: %v", err)
	}
	if !f.store.reminded[pid].Equal(fixedNow) {
		t.Fatalf("reminded at %v, want %v", f.store.reminded[pid], fixedNow)
	}

	err = f.svc.HandleSyncReminder(context.Background(), model.SyncReminderMessage{ParticipantID: "P404"})
	if !errs.IsSkipMessageError(err) {
		t.Fatalf("unknown participant err = %v, want skip", err)
	}
	if err := f.svc.HandleSyncReminder(context.Background(), model.SyncReminderMessage{}); !errs.IsSkipMessageError(err) {
		t.Fatalf("empty participant err = %v, want skip", err)
	}
}

func fmtDates(dates []time.Time) string {
	out := make([]string, len(dates))
	for i, d := range dates {
		out[i] = utils.FormatDate(d)
	}
	return fmt.Sprint(out)
}
