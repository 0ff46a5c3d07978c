package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"WearSync/storage/redis"
)

const (
	reminderScheduledPrefix = "reminder:scheduled"
	reminderMonthlyPrefix   = "reminder:monthly"
	messageProcessedPrefix  = "message:processed"

	scheduledTTL = 24 * time.Hour
	processedTTL = 48 * time.Hour
)

// ReminderGate 提醒去重和月度限流
type ReminderGate struct {
	monthlyLimit int
}

func NewReminderGate(monthlyLimit int) *ReminderGate {
	return &ReminderGate{monthlyLimit: monthlyLimit}
}

// TryMarkScheduled 同一参与者同一天只投递一次提醒，返回 false 表示已投递过
func (g *ReminderGate) TryMarkScheduled(ctx context.Context, date, participantID string) (bool, error) {
	key := redis.Key(reminderScheduledPrefix, date, participantID)
	var marked bool
	err := RedisBreaker.Call(ctx, func(ctx context.Context) error {
		var err error
		marked, err = redis.Client().SetNX(ctx, key, "1", scheduledTTL).Result()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to mark reminder scheduled: %w", err)
	}
	return marked, nil
}

// UnmarkScheduled 投递失败时撤销标记，允许下一轮重试
func (g *ReminderGate) UnmarkScheduled(ctx context.Context, date, participantID string) error {
	key := redis.Key(reminderScheduledPrefix, date, participantID)
	return RedisBreaker.Call(ctx, func(ctx context.Context) error {
		return redis.Client().Del(ctx, key).Err()
	})
}

// Allow 检查本月提醒次数是否未超上限；limit <= 0 表示不限制
func (g *ReminderGate) Allow(ctx context.Context, participantID string, now time.Time) (bool, int, error) {
	if g.monthlyLimit <= 0 {
		return true, 0, nil
	}
	key := redis.Key(reminderMonthlyPrefix, participantID, now.Format("2006-01"))

	var count int
	err := RedisBreaker.Call(ctx, func(ctx context.Context) error {
		var err error
		count, err = redis.Client().Get(ctx, key).Int()
		if errors.Is(err, goredis.Nil) {
			count = 0
			return nil
		}
		return err
	})
	if err != nil {
		// 计数不可用时放行，提醒宁可多发
		return true, 0, fmt.Errorf("failed to get monthly reminder count: %w", err)
	}
	return count < g.monthlyLimit, count, nil
}

// Increment 计数 +1，过期时间为下个月 1 号
func (g *ReminderGate) Increment(ctx context.Context, participantID string, now time.Time) error {
	key := redis.Key(reminderMonthlyPrefix, participantID, now.Format("2006-01"))
	nextMonth := time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, now.Location())

	return RedisBreaker.Call(ctx, func(ctx context.Context) error {
		pipe := redis.Client().Pipeline()
		pipe.Incr(ctx, key)
		pipe.ExpireAt(ctx, key, nextMonth)
		_, err := pipe.Exec(ctx)
		return err
	})
}

// TryMarkMessageProcessing SETNX 标记消息正在处理，返回 false 表示重复消息
func TryMarkMessageProcessing(ctx context.Context, messageID string) (bool, error) {
	key := redis.Key(messageProcessedPrefix, messageID)
	var marked bool
	err := RedisBreaker.Call(ctx, func(ctx context.Context) error {
		var err error
		marked, err = redis.Client().SetNX(ctx, key, "processing", processedTTL).Result()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to mark message as processing: %w", err)
	}
	return marked, nil
}

// UnmarkMessageProcessing 处理失败时调用，允许重试
func UnmarkMessageProcessing(ctx context.Context, messageID string) error {
	key := redis.Key(messageProcessedPrefix, messageID)
	return RedisBreaker.Call(ctx, func(ctx context.Context) error {
		return redis.Client().Del(ctx, key).Err()
	})
}

// MarkMessageProcessed 处理成功后更新状态并续期
func MarkMessageProcessed(ctx context.Context, messageID string) error {
	key := redis.Key(messageProcessedPrefix, messageID)
	return RedisBreaker.Call(ctx, func(ctx context.Context) error {
		return redis.Client().Set(ctx, key, "completed", processedTTL).Err()
	})
}
