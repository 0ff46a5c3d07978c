package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"WearSync/internal/model"
	errs "WearSync/pkg/errors"
	"WearSync/utils"
)

// ParticipantRepository 参与者存储，凭证的唯一写入口
type ParticipantRepository struct {
	db *gorm.DB
}

func NewParticipantRepository(db *gorm.DB) *ParticipantRepository {
	return &ParticipantRepository{db: db}
}

func (r *ParticipantRepository) GetByParticipantID(ctx context.Context, participantID string) (*model.Participant, error) {
	var p model.Participant
	err := r.db.WithContext(ctx).
		Where("participant_id = ?", participantID).
		Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", errs.ParticipantNotFound, participantID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query participant %s: %w", participantID, err)
	}
	return &p, nil
}

func (r *ParticipantRepository) GetCredentials(ctx context.Context, participantID string) (model.Credentials, error) {
	p, err := r.GetByParticipantID(ctx, participantID)
	if err != nil {
		return model.Credentials{}, err
	}
	return model.Credentials{AccessToken: p.AccessToken, RefreshToken: p.RefreshToken}, nil
}

// UpdateCredentials 同时写入两个 token，避免只更新一半
func (r *ParticipantRepository) UpdateCredentials(ctx context.Context, participantID string, creds model.Credentials) error {
	now := time.Now()
	res := r.db.WithContext(ctx).
		Model(&model.Participant{}).
		Where("participant_id = ?", participantID).
		Updates(map[string]interface{}{
			"access_token":     creds.AccessToken,
			"refresh_token":    creds.RefreshToken,
			"token_updated_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update credentials for %s: %w", participantID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", errs.ParticipantNotFound, participantID)
	}
	return nil
}

// GetRegistrationDate 登记日期，窗口计算的下界
func (r *ParticipantRepository) GetRegistrationDate(ctx context.Context, participantID string) (time.Time, error) {
	p, err := r.GetByParticipantID(ctx, participantID)
	if err != nil {
		return time.Time{}, err
	}
	return utils.Day(p.RegistrationDate), nil
}

// ListActive 调度器每轮同步的参与者
func (r *ParticipantRepository) ListActive(ctx context.Context) ([]model.Participant, error) {
	var participants []model.Participant
	err := r.db.WithContext(ctx).
		Where("status = ?", model.ParticipantStatusActive).
		Order("participant_id").
		Find(&participants).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active participants: %w", err)
	}
	return participants, nil
}

func (r *ParticipantRepository) UpdateLastSynced(ctx context.Context, participantID string, lastSynced *time.Time) error {
	if lastSynced == nil {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&model.Participant{}).
		Where("participant_id = ?", participantID).
		Update("last_synced_date", utils.Day(*lastSynced)).Error
}

func (r *ParticipantRepository) MarkReminded(ctx context.Context, participantID string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.Participant{}).
		Where("participant_id = ?", participantID).
		Update("last_reminded_at", at).Error
}

func (r *ParticipantRepository) RecordSyncRun(ctx context.Context, run *model.SyncRun) error {
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("failed to record sync run %d: %w", run.RunID, err)
	}
	return nil
}

// LatestSyncRun 没有记录时返回 nil, nil
func (r *ParticipantRepository) LatestSyncRun(ctx context.Context, participantID string) (*model.SyncRun, error) {
	var run model.SyncRun
	err := r.db.WithContext(ctx).
		Where("participant_id = ?", participantID).
		Order("started_at DESC").
		Take(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest sync run: %w", err)
	}
	return &run, nil
}
