package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"WearSync/storage/redis"
)

// 基于 SETNX 的分布式锁，value 是持有者 token，释放时校验避免误删别人的锁
const (
	lockPrefix = "lock"
	syncLock   = "sync"
)

var unlockScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RunLock 单个参与者同步互斥锁
type RunLock struct {
	ttl time.Duration
}

func NewRunLock(ttl time.Duration) *RunLock {
	return &RunLock{ttl: ttl}
}

// SyncLockKey 参与者同步锁 key
func SyncLockKey(participantID string) string {
	return redis.Key(lockPrefix, syncLock, participantID)
}

// Acquire 成功时返回持有者 token，锁已被占用时返回空字符串
func (l *RunLock) Acquire(ctx context.Context, participantID string) (string, error) {
	token := uuid.NewString()
	ok, err := TryLock(ctx, SyncLockKey(participantID), token, l.ttl)
	if err != nil || !ok {
		return "", err
	}
	return token, nil
}

func (l *RunLock) Release(ctx context.Context, participantID, token string) error {
	return Unlock(ctx, SyncLockKey(participantID), token)
}

func TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	var acquired bool
	err := RedisBreaker.Call(ctx, func(ctx context.Context) error {
		var err error
		acquired, err = redis.Client().SetNX(ctx, key, token, ttl).Result()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	return acquired, nil
}

func Unlock(ctx context.Context, key, token string) error {
	if token == "" {
		return nil
	}
	return RedisBreaker.Call(ctx, func(ctx context.Context) error {
		return unlockScript.Run(ctx, redis.Client(), []string{key}, token).Err()
	})
}
