package service

import (
	"fmt"
	"sync"

	"WearSync/config"
	"WearSync/internal/cache"
	"WearSync/internal/ingest"
	"WearSync/internal/model"
	"WearSync/internal/queue"
	"WearSync/internal/repository"
	"WearSync/pkg/fitbit"
	"WearSync/pkg/logger"
	"WearSync/pkg/metrics"
	"WearSync/pkg/snowflake"
	"WearSync/storage/database"
)

var (
	syncService *SyncService
	syncOnce    sync.Once
	syncErr     error
)

// InitSync 按全局配置组装同步服务，需要在 storage.Init 之后调用
func InitSync() error {
	syncOnce.Do(func() {
		syncService, syncErr = newSyncServiceFromConfig()
	})
	return syncErr
}

// Sync 返回全局同步服务，未初始化时为 nil
func Sync() *SyncService {
	return syncService
}

func newSyncServiceFromConfig() (*SyncService, error) {
	cfg := config.Cfg

	metricList, err := model.ParseMetrics(cfg.SyncMetrics)
	if err != nil {
		return nil, err
	}

	client, err := fitbit.NewClient(fitbit.Options{
		APIBase:        cfg.FitbitAPIBase,
		TokenURL:       cfg.FitbitTokenURL,
		ClientID:       cfg.FitbitClientID,
		ClientSecret:   cfg.FitbitClientSecret,
		RequestTimeout: cfg.FitbitRequestTimeout,
		UserAgent:      cfg.ServiceName + "/" + cfg.ServiceVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create fitbit client: %w", err)
	}

	repo := repository.NewParticipantRepository(database.DB())
	pipeline := ingest.NewPipeline(client, repo, ingest.NewFileSink(cfg.DataDir), ingest.Options{
		MaxConcurrency: cfg.IngestMaxConcurrency,
		Logger:         logger.Named("ingest"),
		Metrics:        metrics.GetMetrics(),
		NextID:         snowflake.NextIDOrNow,
	})

	deps := SyncDeps{
		Store:     repo,
		Ingester:  pipeline,
		Lock:      cache.NewRunLock(cfg.SyncRunTimeout),
		Reports:   cache.NewReportCache(),
		Gate:      cache.NewReminderGate(cfg.MonthlyReminderLimit),
		Publisher: queue.NewPublisher(),
	}

	return NewSyncService(deps, SyncOptions{
		DataDir:           cfg.DataDir,
		Metrics:           metricList,
		WindowDays:        cfg.SyncWindowDays,
		ReminderThreshold: cfg.ReminderThresholdDays,
		Logger:            logger.Named("sync"),
		Recorder:          metrics.GetMetrics(),
	}), nil
}
