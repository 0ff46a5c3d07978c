package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/multierr"

	"WearSync/internal/capture"
	"WearSync/internal/model"
	errs "WearSync/pkg/errors"
)

type fakeSyncer struct {
	participants []model.Participant
	listErr      error
	results      map[string]func() (*model.IngestionReport, error)
	block        chan struct{}

	mu        sync.Mutex
	published []string
	inFlight  int32
	maxFlight int32
}

func (f *fakeSyncer) ActiveParticipants(context.Context) ([]model.Participant, error) {
	return f.participants, f.listErr
}

func (f *fakeSyncer) DefaultWindow() capture.WindowRequest {
	return capture.WindowRequest{Size: 7}
}

func (f *fakeSyncer) SyncParticipant(_ context.Context, id string, _ capture.WindowRequest) (*model.IngestionReport, error) {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		peak := atomic.LoadInt32(&f.maxFlight)
		if n <= peak || atomic.CompareAndSwapInt32(&f.maxFlight, peak, n) {
			break
		}
	}
	if f.block != nil {
		<-f.block
	}
	if fn, ok := f.results[id]; ok {
		return fn()
	}
	return &model.IngestionReport{ParticipantID: id}, nil
}

func (f *fakeSyncer) PublishReminder(_ context.Context, report *model.IngestionReport) (bool, error) {
	if !report.ReminderTriggered {
		return false, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, report.ParticipantID)
	return true, nil
}

func participants(ids ...string) []model.Participant {
	out := make([]model.Participant, len(ids))
	for i, id := range ids {
		out[i] = model.Participant{ParticipantID: id, Status: model.ParticipantStatusActive}
	}
	return out
}

func TestRunPassAggregatesOutcomes(t *testing.T) {
	fatal := fmt.Errorf("%w: provider rejected refresh", errs.RefreshFailed)
	syncer := &fakeSyncer{
		participants: participants("ok", "partial", "remind", "fatal", "busy", "new"),
		results: map[string]func() (*model.IngestionReport, error){
			"partial": func() (*model.IngestionReport, error) {
				return &model.IngestionReport{
					ParticipantID: "partial",
					Failures:      []model.PairFailure{{Reason: model.ReasonRateLimited}},
				}, nil
			},
			"remind": func() (*model.IngestionReport, error) {
				return &model.IngestionReport{ParticipantID: "remind", ReminderTriggered: true}, nil
			},
			"fatal": func() (*model.IngestionReport, error) {
				return &model.IngestionReport{ParticipantID: "fatal", ReminderTriggered: true}, fatal
			},
			"busy": func() (*model.IngestionReport, error) {
				return nil, fmt.Errorf("%w: busy", errs.SyncInProgress)
			},
			"new": func() (*model.IngestionReport, error) {
				return nil, fmt.Errorf("%w: registered today", errs.InvalidRange)
			},
		},
	}
	s := NewSyncScheduler(syncer, 3, nil)

	summary, err := s.RunPass(context.Background())

	want := PassSummary{Participants: 6, Completed: 2, Partial: 1, Failed: 1, Skipped: 2, Reminded: 1}
	if summary != want {
		t.Fatalf("summary = %+v, want %+v", summary, want)
	}
	if !errors.Is(err, errs.RefreshFailed) || len(multierr.Errors(err)) != 1 {
		t.Fatalf("err = %v, want exactly the fatal participant error", err)
	}
	if len(syncer.published) != 1 || syncer.published[0] != "remind" {
		t.Fatalf("published = %v, want [remind]", syncer.published)
	}
	if s.LastPass().IsZero() {
		t.Fatal("LastPass not recorded")
	}
}

func TestRunPassBoundsConcurrency(t *testing.T) {
	ids := make([]string, 10)
	for i := range ids {
		ids[i] = fmt.Sprintf("P%02d", i)
	}
	syncer := &fakeSyncer{participants: participants(ids...)}
	s := NewSyncScheduler(syncer, 2, nil)

	summary, err := s.RunPass(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Completed != 10 {
		t.Fatalf("completed = %d, want 10", summary.Completed)
	}
	if got := atomic.LoadInt32(&syncer.maxFlight); got > 2 {
		t.Fatalf("max concurrent syncs = %d, want <= 2", got)
	}
}

func TestRunPassSkipsWhileRunning(t *testing.T) {
	syncer := &fakeSyncer{participants: participants("P1"), block: make(chan struct{})}
	s := NewSyncScheduler(syncer, 1, nil)

	done := make(chan PassSummary)
	go func() {
		summary, _ := s.RunPass(context.Background())
		done <- summary
	}()

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&syncer.inFlight) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first pass never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	summary, err := s.RunPass(context.Background())
	if err != nil || summary != (PassSummary{}) {
		t.Fatalf("overlapping pass = %+v, %v, want skipped", summary, err)
	}

	close(syncer.block)
	if first := <-done; first.Completed != 1 {
		t.Fatalf("first pass = %+v", first)
	}
}

func TestRunPassListError(t *testing.T) {
	syncer := &fakeSyncer{listErr: errors.New("db down")}
	s := NewSyncScheduler(syncer, 1, nil)

	if _, err := s.RunPass(context.Background()); err == nil {
		t.Fatal("expected list error")
	}
}

func TestNextRunAt(t *testing.T) {
	now := time.Date(2024, 3, 11, 2, 30, 0, 0, time.UTC)
	tests := []struct {
		clock string
		want  time.Time
	}{
		{"03:00:00", time.Date(2024, 3, 11, 3, 0, 0, 0, time.UTC)},
		{"02:30:00", time.Date(2024, 3, 12, 2, 30, 0, 0, time.UTC)},
		{"01:00:00", time.Date(2024, 3, 12, 1, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := NextRunAt(now, tt.clock)
		if err != nil {
			t.Fatalf("NextRunAt(%s): %v", tt.clock, err)
		}
		if !got.Equal(tt.want) {
			t.Errorf("NextRunAt(%s) = %s, want %s", tt.clock, got, tt.want)
		}
	}

	if _, err := NextRunAt(now, "25:00"); err == nil {
		t.Fatal("expected error for malformed clock")
	}
}
