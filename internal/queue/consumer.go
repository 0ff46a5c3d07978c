package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"WearSync/internal/cache"
	"WearSync/internal/model"
	"WearSync/pkg/errors"
	"WearSync/pkg/logger"
	"WearSync/storage/mq"
)

// ReminderHandler 处理一条同步提醒，例如记录提醒时间、通知研究人员
type ReminderHandler interface {
	HandleSyncReminder(ctx context.Context, msg model.SyncReminderMessage) error
}

// HandleReminderBody 解码并幂等处理一条提醒消息
func HandleReminderBody(ctx context.Context, handler ReminderHandler, body []byte) error {
	var msg model.SyncReminderMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		// 格式错误的消息重试也不会成功
		return &errors.SkipMessageError{Reason: fmt.Sprintf("malformed sync reminder: %v", err)}
	}

	if msg.MessageID != "" {
		first, err := cache.TryMarkMessageProcessing(ctx, msg.MessageID)
		if err != nil {
			logger.Logger.Warn("Failed to check message processed status",
				zap.String("message_id", msg.MessageID),
				zap.Error(err),
			)
		} else if !first {
			return &errors.SkipMessageError{Reason: fmt.Sprintf("message %s already processed", msg.MessageID)}
		}
	}

	logger.Logger.Info("Processing sync reminder",
		zap.String("message_id", msg.MessageID),
		zap.String("participant_id", msg.ParticipantID),
		zap.String("reminder_date", msg.ReminderDate),
	)

	if err := handler.HandleSyncReminder(ctx, msg); err != nil {
		if msg.MessageID != "" {
			_ = cache.UnmarkMessageProcessing(ctx, msg.MessageID)
		}
		return fmt.Errorf("failed to handle sync reminder: %w", err)
	}

	if msg.MessageID != "" {
		if err := cache.MarkMessageProcessed(ctx, msg.MessageID); err != nil {
			logger.Logger.Warn("Failed to mark message as processed",
				zap.String("message_id", msg.MessageID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// StartSyncReminderConsumer 阻塞消费提醒队列
func StartSyncReminderConsumer(ctx context.Context, handler ReminderHandler) error {
	return mq.Consume(ctx, mq.ConsumeOptions{
		Queue:         SyncReminderQueue,
		ConsumerTag:   syncReminderConsumer,
		PrefetchCount: syncReminderPrefetchN,
		Handler: func(ctx context.Context, body []byte) error {
			return HandleReminderBody(ctx, handler, body)
		},
	})
}
