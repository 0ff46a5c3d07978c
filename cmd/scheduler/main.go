package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"WearSync/config"
	"WearSync/internal/queue"
	"WearSync/internal/schedule"
	"WearSync/internal/service"
	"WearSync/pkg/logger"
	"WearSync/pkg/metrics"
	"WearSync/pkg/otel"
	"WearSync/pkg/snowflake"
	"WearSync/storage"
)

func main() {
	logger.Init()
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Logger.Info("Scheduler received shutdown signal",
			zap.String("signal", sig.String()),
		)
		cancel()
	}()

	if config.Cfg.OTelEnabled {
		shutdown, err := otel.InitOpenTelemetry(ctx, otel.ConfigFromEnv("scheduler"))
		if err != nil {
			logger.Logger.Fatal("Failed to initialize OpenTelemetry for scheduler", zap.Error(err))
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Logger.Warn("Failed to shutdown OpenTelemetry", zap.Error(err))
			}
		}()
	}
	if err := metrics.InitMetrics(); err != nil {
		logger.Logger.Warn("Failed to initialize ingestion metrics", zap.Error(err))
	}

	if err := storage.Init(); err != nil {
		logger.Logger.Fatal("Failed to initialize storage for scheduler", zap.Error(err))
	}
	defer storage.Close()

	// 多实例部署时 server/worker/scheduler 应配置不同的 machine id
	if err := snowflake.Init(config.Cfg.SnowflakeMachineID, config.Cfg.SnowflakeDataCenter); err != nil {
		logger.Logger.Fatal("Failed to initialize snowflake for scheduler", zap.Error(err))
	}

	// 调度器负责投递提醒，启动前确保交换机和队列存在
	if err := queue.DeclareTopology(); err != nil {
		logger.Logger.Fatal("Failed to declare reminder topology", zap.Error(err))
	}

	if err := service.InitSync(); err != nil {
		logger.Logger.Fatal("Failed to initialize sync service", zap.Error(err))
	}

	logger.Logger.Info("Scheduler service starting",
		zap.String("service", config.Cfg.ServiceName+"-scheduler"),
		zap.String("environment", config.Cfg.Environment),
		zap.String("run_at", config.Cfg.SyncRunAt),
		zap.Int("concurrency", config.Cfg.SyncParticipantConcurrency),
	)

	schedule.GetScheduler().RunDaily(ctx, config.Cfg.SyncRunAt, config.Cfg.SyncRunTimeout)

	logger.Logger.Info("Scheduler service shutting down gracefully")
}
