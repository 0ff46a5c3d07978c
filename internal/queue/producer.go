package queue

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"WearSync/internal/model"
	"WearSync/pkg/logger"
	"WearSync/pkg/snowflake"
	"WearSync/storage/mq"
)

const (
	SyncExchange          = "wearsync.sync"
	SyncReminderQueue     = "sync.reminder"
	SyncReminderRouteKey  = "sync.reminder"
	syncReminderConsumer  = "sync_reminder_consumer"
	syncReminderPrefetchN = 10
)

// DeclareTopology 声明同步相关的交换机和队列，生产者和消费者启动时各调用一次
func DeclareTopology() error {
	return mq.DeclareQueue(SyncExchange, SyncReminderQueue, SyncReminderRouteKey)
}

// Publisher 投递同步提醒
type Publisher struct{}

func NewPublisher() *Publisher {
	return &Publisher{}
}

// PublishSyncReminder 投递同步提醒，MessageID 为空时自动生成
func (p *Publisher) PublishSyncReminder(ctx context.Context, msg model.SyncReminderMessage) error {
	if msg.MessageID == "" {
		id, err := snowflake.NextID()
		if err != nil {
			logger.Logger.Error("Failed to generate message ID",
				zap.String("participant_id", msg.ParticipantID),
				zap.Error(err),
			)
			return fmt.Errorf("failed to generate message ID: %w", err)
		}
		msg.MessageID = fmt.Sprintf("sync_reminder_%d", id)
	}

	if err := mq.PublishMessage(ctx, SyncExchange, SyncReminderRouteKey, msg.MessageID, msg); err != nil {
		logger.Logger.Error("Failed to publish sync reminder message",
			zap.String("participant_id", msg.ParticipantID),
			zap.Int64("run_id", msg.RunID),
			zap.Error(err),
		)
		return err
	}

	logger.Logger.Info("Published sync reminder message",
		zap.String("message_id", msg.MessageID),
		zap.String("participant_id", msg.ParticipantID),
		zap.String("last_synced_date", msg.LastSyncedDate),
	)
	return nil
}
