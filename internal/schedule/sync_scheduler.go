package schedule

// 同步调度器：每天固定时间对所有 active 参与者补齐缺失数据，连续多日没有数据时投递提醒

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"WearSync/config"
	"WearSync/internal/capture"
	"WearSync/internal/model"
	"WearSync/internal/service"
	errs "WearSync/pkg/errors"
	"WearSync/pkg/logger"
	"WearSync/utils"
)

// Syncer 调度器需要的同步能力，*service.SyncService 实现了该接口
type Syncer interface {
	ActiveParticipants(ctx context.Context) ([]model.Participant, error)
	DefaultWindow() capture.WindowRequest
	SyncParticipant(ctx context.Context, participantID string, req capture.WindowRequest) (*model.IngestionReport, error)
	PublishReminder(ctx context.Context, report *model.IngestionReport) (bool, error)
}

var (
	schedulerOnce sync.Once
	schedulerInst *SyncScheduler
)

type SyncScheduler struct {
	syncer      Syncer
	concurrency int
	logger      *zap.Logger

	passRunning bool
	passMu      sync.Mutex
	lastPass    time.Time
}

// PassSummary 一轮调度的统计
type PassSummary struct {
	Participants int
	Completed    int
	Partial      int
	Failed       int
	Skipped      int
	Reminded     int
}

// GetScheduler 全局调度器，依赖 service.InitSync 已经完成
func GetScheduler() *SyncScheduler {
	schedulerOnce.Do(func() {
		schedulerInst = NewSyncScheduler(service.Sync(), config.Cfg.SyncParticipantConcurrency, logger.Named("scheduler"))
	})
	return schedulerInst
}

func NewSyncScheduler(syncer Syncer, concurrency int, log *zap.Logger) *SyncScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &SyncScheduler{
		syncer:      syncer,
		concurrency: concurrency,
		logger:      log,
	}
}

// LastPass 最近一轮开始的时间
func (s *SyncScheduler) LastPass() time.Time {
	s.passMu.Lock()
	defer s.passMu.Unlock()
	return s.lastPass
}

// RunPass 对所有 active 参与者执行一轮同步。上一轮还没结束时直接跳过。
// 单个参与者失败不影响其他参与者，所有错误合并后返回。
func (s *SyncScheduler) RunPass(ctx context.Context) (PassSummary, error) {
	s.passMu.Lock()
	if s.passRunning {
		s.passMu.Unlock()
		s.logger.Info("Sync pass already running, skipping")
		return PassSummary{}, nil
	}
	s.passRunning = true
	startTime := time.Now()
	s.lastPass = startTime
	s.passMu.Unlock()

	defer func() {
		s.passMu.Lock()
		s.passRunning = false
		s.passMu.Unlock()
	}()

	s.logger.Info("Starting sync pass", zap.Time("start_time", startTime))

	participants, err := s.syncer.ActiveParticipants(ctx)
	if err != nil {
		s.logger.Error("Failed to list active participants", zap.Error(err))
		return PassSummary{}, fmt.Errorf("failed to list active participants: %w", err)
	}

	summary := PassSummary{Participants: len(participants)}
	if len(participants) == 0 {
		s.logger.Info("No active participants to sync")
		return summary, nil
	}

	var (
		mu      sync.Mutex
		passErr error
	)
	window := s.syncer.DefaultWindow()

	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)
	for _, p := range participants {
		participantID := p.ParticipantID
		g.Go(func() error {
			outcome, err := s.syncOne(ctx, participantID, window)

			mu.Lock()
			defer mu.Unlock()
			switch outcome.status {
			case model.SyncRunStatusCompleted:
				summary.Completed++
			case model.SyncRunStatusPartial:
				summary.Partial++
			case model.SyncRunStatusFailed:
				summary.Failed++
			default:
				if err != nil {
					summary.Failed++
				} else {
					summary.Skipped++
				}
			}
			if outcome.reminded {
				summary.Reminded++
			}
			if err != nil {
				passErr = multierr.Append(passErr, fmt.Errorf("participant %s: %w", participantID, err))
			}
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("Sync pass completed",
		zap.Duration("duration", time.Since(startTime)),
		zap.Int("participants", summary.Participants),
		zap.Int("completed", summary.Completed),
		zap.Int("partial", summary.Partial),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("reminded", summary.Reminded),
		zap.Int("error_count", len(multierr.Errors(passErr))),
	)
	return summary, passErr
}

type participantOutcome struct {
	status   model.SyncRunStatus
	reminded bool
}

func (s *SyncScheduler) syncOne(ctx context.Context, participantID string, window capture.WindowRequest) (participantOutcome, error) {
	var outcome participantOutcome

	report, err := s.syncer.SyncParticipant(ctx, participantID, window)
	if errors.Is(err, errs.SyncInProgress) {
		s.logger.Info("Participant sync already in progress, skipping",
			zap.String("participant_id", participantID),
		)
		return outcome, nil
	}
	if errors.Is(err, errs.InvalidRange) {
		// 当天注册的参与者还没有完整的一天
		s.logger.Debug("Participant has no complete day yet, skipping",
			zap.String("participant_id", participantID),
		)
		return outcome, nil
	}
	if report == nil {
		return outcome, err
	}

	outcome.status = report.RunStatus(err)

	// 致命错误时落盘结果不完整，提醒留给下一轮
	if err != nil {
		return outcome, err
	}

	reminded, pubErr := s.syncer.PublishReminder(ctx, report)
	if pubErr != nil {
		s.logger.Warn("Failed to publish sync reminder",
			zap.String("participant_id", participantID),
			zap.Error(pubErr),
		)
		return outcome, pubErr
	}
	outcome.reminded = reminded
	return outcome, nil
}

// NextRunAt 下一次每日运行的时间，clock 为 HH:MM:SS
func NextRunAt(now time.Time, clock string) (time.Time, error) {
	next, err := utils.ParseClock(clock, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid run time %q: %w", clock, err)
	}
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next, nil
}

// RunDaily 阻塞运行每日调度直到 ctx 结束。
// development 环境下每分钟一轮，方便本地调试。
func (s *SyncScheduler) RunDaily(ctx context.Context, clock string, passTimeout time.Duration) {
	if config.Cfg.IsDevelopment() {
		ticker := time.NewTicker(1 * time.Minute)
		defer ticker.Stop()

		s.logger.Info("Sync scheduler running in development mode with 1m interval")
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runWithTimeout(ctx, passTimeout)
			}
		}
	}

	for {
		now := time.Now()
		next, err := NextRunAt(now, clock)
		if err != nil {
			s.logger.Error("Invalid sync run time, falling back to 03:00:00", zap.Error(err))
			next, _ = NextRunAt(now, "03:00:00")
		}

		delay := time.Until(next)
		s.logger.Info("Scheduled next sync pass",
			zap.Time("now", now),
			zap.Time("next_run", next),
			zap.Duration("delay", delay),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.runWithTimeout(ctx, passTimeout)
		}
	}
}

func (s *SyncScheduler) runWithTimeout(ctx context.Context, timeout time.Duration) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if _, err := s.RunPass(runCtx); err != nil {
		s.logger.Error("Sync pass finished with errors", zap.Error(err))
	}
}
