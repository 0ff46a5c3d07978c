package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"WearSync/internal/model"
	"WearSync/storage/redis"
)

const (
	reportPrefix    = "report:last"
	reportTTL       = 7 * 24 * time.Hour
	reportTTLJitter = time.Hour
)

// ReportCache 每个参与者最近一次同步报告
type ReportCache struct{}

func NewReportCache() *ReportCache {
	return &ReportCache{}
}

// Set 过期时间加随机抖动，避免同一批参与者的报告同时过期
func (c *ReportCache) Set(ctx context.Context, report *model.IngestionReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	ttl := reportTTL + time.Duration(rand.Int63n(int64(reportTTLJitter)))
	key := redis.Key(reportPrefix, report.ParticipantID)

	return RedisBreaker.Call(ctx, func(ctx context.Context) error {
		return redis.Client().Set(ctx, key, data, ttl).Err()
	})
}

// Get 未命中时返回 nil, nil
func (c *ReportCache) Get(ctx context.Context, participantID string) (*model.IngestionReport, error) {
	key := redis.Key(reportPrefix, participantID)

	var data []byte
	err := RedisBreaker.Call(ctx, func(ctx context.Context) error {
		var err error
		data, err = redis.Client().Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			data = nil
			return nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	if data == nil {
		return nil, nil
	}

	var report model.IngestionReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}
	return &report, nil
}
