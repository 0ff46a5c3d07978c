package storage

import (
	"context"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"WearSync/pkg/logger"
	"WearSync/storage/database"
	"WearSync/storage/mq"
	"WearSync/storage/redis"
)

// Close 按 MQ -> Redis -> Database 的顺序关闭连接，先停止收发消息，最后关闭数据库
func Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	logger.Logger.Info("Closing storage connections...")

	var err error
	if e := mq.Close(ctx); e != nil {
		logger.Logger.Error("Failed to close message queue", zap.Error(e))
		err = multierr.Append(err, e)
	}

	if e := redis.Close(ctx); e != nil {
		logger.Logger.Error("Failed to close Redis connection", zap.Error(e))
		err = multierr.Append(err, e)
	}

	if e := database.Close(ctx); e != nil {
		logger.Logger.Error("Failed to close database connection", zap.Error(e))
		err = multierr.Append(err, e)
	}

	logger.Logger.Info("All storage connections closed", zap.Int("errors", len(multierr.Errors(err))))
	return err
}
