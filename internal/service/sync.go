package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"WearSync/internal/capture"
	"WearSync/internal/ingest"
	"WearSync/internal/model"
	errs "WearSync/pkg/errors"
	"WearSync/pkg/metrics"
	"WearSync/utils"
)

// ParticipantStore 同步服务用到的参与者存储，*repository.ParticipantRepository 实现了该接口
type ParticipantStore interface {
	ingest.CredentialStore
	GetRegistrationDate(ctx context.Context, participantID string) (time.Time, error)
	ListActive(ctx context.Context) ([]model.Participant, error)
	UpdateLastSynced(ctx context.Context, participantID string, lastSynced *time.Time) error
	MarkReminded(ctx context.Context, participantID string, at time.Time) error
	RecordSyncRun(ctx context.Context, run *model.SyncRun) error
	LatestSyncRun(ctx context.Context, participantID string) (*model.SyncRun, error)
}

// RunLocker 参与者级别的同步互斥，Acquire 返回空 token 表示锁被占用
type RunLocker interface {
	Acquire(ctx context.Context, participantID string) (string, error)
	Release(ctx context.Context, participantID, token string) error
}

type ReportCache interface {
	Set(ctx context.Context, report *model.IngestionReport) error
	Get(ctx context.Context, participantID string) (*model.IngestionReport, error)
}

// ReminderGate 提醒去重与月度上限
type ReminderGate interface {
	TryMarkScheduled(ctx context.Context, date, participantID string) (bool, error)
	UnmarkScheduled(ctx context.Context, date, participantID string) error
	Allow(ctx context.Context, participantID string, now time.Time) (bool, int, error)
	Increment(ctx context.Context, participantID string, now time.Time) error
}

type ReminderPublisher interface {
	PublishSyncReminder(ctx context.Context, msg model.SyncReminderMessage) error
}

// Ingester 拉取并落盘指定的 (日期, 指标)，*ingest.Pipeline 实现了该接口
type Ingester interface {
	RunPairs(ctx context.Context, participantID string, pairs []model.Pair) (*model.IngestionReport, error)
}

// SyncDeps 同步服务依赖，Publisher 和 Gate 可以为空（此时不投递提醒）
type SyncDeps struct {
	Store     ParticipantStore
	Ingester  Ingester
	Lock      RunLocker
	Reports   ReportCache
	Gate      ReminderGate
	Publisher ReminderPublisher
}

// SyncOptions 同步服务配置
type SyncOptions struct {
	DataDir           string
	Metrics           []model.Metric
	WindowDays        int
	ReminderThreshold int
	Logger            *zap.Logger
	Recorder          *metrics.OTelMetrics
	// Now 当前时间，测试时替换
	Now func() time.Time
}

// SyncService 负责一个参与者的完整同步：对账、拉取、提醒判定和记录
type SyncService struct {
	deps      SyncDeps
	dataDir   string
	metrics   []model.Metric
	window    int
	threshold int
	logger    *zap.Logger
	recorder  *metrics.OTelMetrics
	now       func() time.Time
}

func NewSyncService(deps SyncDeps, opts SyncOptions) *SyncService {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	metricList := opts.Metrics
	if len(metricList) == 0 {
		metricList = model.AllMetrics()
	}
	return &SyncService{
		deps:      deps,
		dataDir:   opts.DataDir,
		metrics:   metricList,
		window:    opts.WindowDays,
		threshold: opts.ReminderThreshold,
		logger:    logger,
		recorder:  opts.Recorder,
		now:       now,
	}
}

// DefaultWindow 按配置的窗口天数构造请求
func (s *SyncService) DefaultWindow() capture.WindowRequest {
	return capture.WindowRequest{Size: s.window}
}

// StatusResult 不发起网络请求的对账结果
type StatusResult struct {
	ParticipantID   string
	Window          capture.DateRange
	MissingDates    []time.Time
	MissingByMetric map[model.Metric][]time.Time
	Reminder        capture.ReminderDecision
}

// Status 计算缺失日期和提醒判定，只读取本地数据目录
func (s *SyncService) Status(ctx context.Context, participantID string, req capture.WindowRequest) (*StatusResult, error) {
	registered, err := s.deps.Store.GetRegistrationDate(ctx, participantID)
	if err != nil {
		return nil, err
	}

	window, err := capture.ResolveWindow(req, registered, s.now())
	if err != nil {
		return nil, err
	}

	records, err := capture.ScanDir(s.dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan data dir: %w", err)
	}

	result := &StatusResult{
		ParticipantID:   participantID,
		Window:          window,
		MissingDates:    capture.FindMissingDates(window, records, participantID),
		MissingByMetric: make(map[model.Metric][]time.Time, len(s.metrics)),
	}
	for _, m := range s.metrics {
		result.MissingByMetric[m] = capture.FindMissingDatesForMetric(window, records, participantID, m)
	}
	result.Reminder = capture.Decide(window.Days(), capture.CapturedDates(window, records, participantID), s.threshold)
	return result, nil
}

// SyncParticipant 对一个参与者执行一次同步。
// 返回的 error 为致命错误时报告仍然非 nil，包含已经落盘的部分。
func (s *SyncService) SyncParticipant(ctx context.Context, participantID string, req capture.WindowRequest) (*model.IngestionReport, error) {
	registered, err := s.deps.Store.GetRegistrationDate(ctx, participantID)
	if err != nil {
		return nil, err
	}

	window, err := capture.ResolveWindow(req, registered, s.now())
	if err != nil {
		return nil, err
	}

	token, err := s.deps.Lock.Acquire(ctx, participantID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire sync lock: %w", err)
	}
	if token == "" {
		return nil, fmt.Errorf("%w: %s", errs.SyncInProgress, participantID)
	}
	defer func() {
		if err := s.deps.Lock.Release(context.WithoutCancel(ctx), participantID, token); err != nil {
			s.logger.Warn("Failed to release sync lock",
				zap.String("participant_id", participantID),
				zap.Error(err),
			)
		}
	}()

	s.recorder.AddActiveSync(ctx)
	defer s.recorder.SubtractActiveSync(ctx)

	startTime := time.Now()
	log := s.logger.With(
		zap.String("participant_id", participantID),
		zap.String("window", window.String()),
	)

	records, err := capture.ScanDir(s.dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan data dir: %w", err)
	}
	missing := capture.MissingPairs(window, records, participantID, s.metrics)

	log.Info("Starting participant sync", zap.Int("missing_pairs", len(missing)))

	report, runErr := s.deps.Ingester.RunPairs(ctx, participantID, missing)
	if report == nil {
		report = model.NewIngestionReport(0, participantID)
	}

	// 重新扫描，提醒判定基于本次同步之后的实际落盘结果
	after, scanErr := capture.ScanDir(s.dataDir)
	if scanErr != nil {
		log.Warn("Failed to rescan data dir after sync, using pre-sync records", zap.Error(scanErr))
		after = records
	}
	decision := capture.Decide(window.Days(), capture.CapturedDates(window, after, participantID), s.threshold)
	report.ReminderTriggered = decision.ShouldRemind
	report.LastSyncedDate = decision.LastSyncedDate

	s.record(ctx, log, window, report, runErr)

	status := report.RunStatus(runErr)
	s.recorder.RecordSyncRun(ctx, string(status), time.Since(startTime).Seconds(), len(missing))

	fields := []zap.Field{
		zap.Int64("run_id", report.RunID),
		zap.String("status", string(status)),
		zap.Int("pairs_requested", report.PairsRequested),
		zap.Int("pairs_persisted", len(report.Persisted)),
		zap.Int("failures", len(report.Failures)),
		zap.Bool("refreshed", report.Refreshed),
		zap.Bool("reminder", report.ReminderTriggered),
		zap.Duration("duration", time.Since(startTime)),
	}
	if runErr != nil {
		log.Error("Participant sync aborted", append(fields, zap.Error(runErr))...)
		return report, runErr
	}
	log.Info("Participant sync finished", fields...)
	return report, nil
}

// record 写入同步历史、最近同步日期和报告缓存，失败只记日志
func (s *SyncService) record(ctx context.Context, log *zap.Logger, window capture.DateRange, report *model.IngestionReport, runErr error) {
	if err := s.deps.Store.UpdateLastSynced(ctx, report.ParticipantID, report.LastSyncedDate); err != nil {
		log.Warn("Failed to update last synced date", zap.Error(err))
	}

	run := &model.SyncRun{
		RunID:             report.RunID,
		ParticipantID:     report.ParticipantID,
		WindowStart:       window.Start,
		WindowStop:        window.Stop,
		Status:            report.RunStatus(runErr),
		PairsRequested:    report.PairsRequested,
		PairsPersisted:    len(report.Persisted),
		Refreshed:         report.Refreshed,
		ReminderTriggered: report.ReminderTriggered,
		StartedAt:         report.StartedAt,
		FinishedAt:        report.FinishedAt,
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now()
	}
	if err := s.deps.Store.RecordSyncRun(ctx, run); err != nil {
		log.Warn("Failed to record sync run", zap.Error(err))
	}

	if s.deps.Reports != nil {
		if err := s.deps.Reports.Set(ctx, report); err != nil {
			log.Warn("Failed to cache ingestion report", zap.Error(err))
		}
	}
}

// LastRun 最近一次同步。缓存命中时返回完整报告，否则只有数据库中的运行记录
func (s *SyncService) LastRun(ctx context.Context, participantID string) (*model.IngestionReport, *model.SyncRun, error) {
	if s.deps.Reports != nil {
		report, err := s.deps.Reports.Get(ctx, participantID)
		if err != nil {
			s.logger.Warn("Failed to read cached report",
				zap.String("participant_id", participantID),
				zap.Error(err),
			)
		} else if report != nil {
			return report, nil, nil
		}
	}

	run, err := s.deps.Store.LatestSyncRun(ctx, participantID)
	if err != nil {
		return nil, nil, err
	}
	if run != nil {
		return nil, run, nil
	}

	if _, err := s.deps.Store.GetRegistrationDate(ctx, participantID); err != nil {
		return nil, nil, err
	}
	return nil, nil, fmt.Errorf("%w: %s", errs.SyncRunNotFound, participantID)
}

// PublishReminder 报告触发提醒时投递一条提醒消息。
// 同一参与者每天最多一条，每月不超过上限；返回是否实际投递。
func (s *SyncService) PublishReminder(ctx context.Context, report *model.IngestionReport) (bool, error) {
	if report == nil || !report.ReminderTriggered || s.deps.Publisher == nil || s.deps.Gate == nil {
		return false, nil
	}

	now := s.now()
	date := utils.FormatDate(now)
	pid := report.ParticipantID
	log := s.logger.With(zap.String("participant_id", pid), zap.String("reminder_date", date))

	first, err := s.deps.Gate.TryMarkScheduled(ctx, date, pid)
	if err != nil {
		s.recorder.RecordReminder(ctx, "failed")
		return false, err
	}
	if !first {
		log.Debug("Reminder already scheduled today, skipping")
		s.recorder.RecordReminder(ctx, "duplicate")
		return false, nil
	}

	allowed, count, err := s.deps.Gate.Allow(ctx, pid, now)
	if err != nil {
		log.Warn("Monthly reminder count unavailable, allowing", zap.Error(err))
	}
	if !allowed {
		log.Info("Monthly reminder limit reached", zap.Int("count", count))
		s.recorder.RecordReminder(ctx, "capped")
		return false, nil
	}

	msg := model.SyncReminderMessage{
		RunID:         report.RunID,
		ParticipantID: pid,
		ReminderDate:  date,
		MissedDays:    s.threshold,
		ScheduledAt:   now.Format(time.RFC3339),
	}
	if report.LastSyncedDate != nil {
		msg.LastSyncedDate = utils.FormatDate(*report.LastSyncedDate)
	}

	if err := s.deps.Publisher.PublishSyncReminder(ctx, msg); err != nil {
		if unmarkErr := s.deps.Gate.UnmarkScheduled(ctx, date, pid); unmarkErr != nil {
			log.Warn("Failed to unmark reminder after publish failure", zap.Error(unmarkErr))
		}
		s.recorder.RecordReminder(ctx, "failed")
		return false, fmt.Errorf("failed to publish sync reminder: %w", err)
	}

	if err := s.deps.Gate.Increment(ctx, pid, now); err != nil {
		log.Warn("Failed to increment monthly reminder count", zap.Error(err))
	}
	s.recorder.RecordReminder(ctx, "published")
	return true, nil
}

// HandleSyncReminder worker 消费提醒消息，记录提醒时间
func (s *SyncService) HandleSyncReminder(ctx context.Context, msg model.SyncReminderMessage) error {
	if msg.ParticipantID == "" {
		return &errs.SkipMessageError{Reason: "sync reminder without participant id"}
	}

	err := s.deps.Store.MarkReminded(ctx, msg.ParticipantID, s.now())
	if errors.Is(err, errs.ParticipantNotFound) {
		return &errs.SkipMessageError{Reason: err.Error()}
	}
	if err != nil {
		return fmt.Errorf("failed to mark participant reminded: %w", err)
	}

	s.logger.Info("Participant reminded to sync device",
		zap.String("participant_id", msg.ParticipantID),
		zap.String("last_synced_date", msg.LastSyncedDate),
		zap.Int("missed_days", msg.MissedDays),
	)
	return nil
}

// ActiveParticipants 调度器每轮处理的参与者
func (s *SyncService) ActiveParticipants(ctx context.Context) ([]model.Participant, error) {
	return s.deps.Store.ListActive(ctx)
}
