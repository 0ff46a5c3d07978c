package model

import "time"

// ParticipantStatus 参与者在研究中的状态
type ParticipantStatus string

const (
	ParticipantStatusActive ParticipantStatus = "active" // 正常同步
	ParticipantStatusPaused ParticipantStatus = "paused" // 暂停同步，例如设备丢失
	ParticipantStatusExited ParticipantStatus = "exited" // 退出研究
)

// Participant 参与者模型，凭证只通过 Participant Store 读写

type Participant struct {
	BaseModel
	ParticipantID    string            `gorm:"uniqueIndex;type:varchar(64);not null" json:"participant_id"`
	RegistrationDate time.Time         `gorm:"type:date;not null" json:"registration_date"`
	Status           ParticipantStatus `gorm:"type:varchar(16);not null;default:'active';index:idx_participants_status" json:"status"`
	AccessToken      string            `gorm:"type:text;not null;default:''" json:"-"`
	RefreshToken     string            `gorm:"type:text;not null;default:''" json:"-"`
	TokenUpdatedAt   *time.Time        `gorm:"type:timestamptz" json:"token_updated_at,omitempty"`
	LastSyncedDate   *time.Time        `gorm:"type:date" json:"last_synced_date,omitempty"`
	LastRemindedAt   *time.Time        `gorm:"type:timestamptz" json:"last_reminded_at,omitempty"`
}

// TableName 指定表名
func (Participant) TableName() string {
	return "participants"
}

// Credentials 访问凭证快照
type Credentials struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// SyncRunStatus 单次同步结果
type SyncRunStatus string

const (
	SyncRunStatusCompleted SyncRunStatus = "completed" // 全部成功
	SyncRunStatusPartial   SyncRunStatus = "partial"   // 部分失败，下次重跑会补齐
	SyncRunStatusFailed    SyncRunStatus = "failed"    // 致命错误中止
)

// SyncRun 同步历史记录
type SyncRun struct {
	BaseModel
	RunID             int64         `gorm:"uniqueIndex;not null" json:"run_id"`
	ParticipantID     string        `gorm:"type:varchar(64);not null;index:idx_sync_runs_participant" json:"participant_id"`
	WindowStart       time.Time     `gorm:"type:date;not null" json:"window_start"`
	WindowStop        time.Time     `gorm:"type:date;not null" json:"window_stop"`
	Status            SyncRunStatus `gorm:"type:varchar(16);not null" json:"status"`
	PairsRequested    int           `gorm:"not null;default:0" json:"pairs_requested"`
	PairsPersisted    int           `gorm:"not null;default:0" json:"pairs_persisted"`
	Refreshed         bool          `gorm:"not null;default:false" json:"refreshed"`
	ReminderTriggered bool          `gorm:"not null;default:false" json:"reminder_triggered"`
	Error             string        `gorm:"type:text;not null;default:''" json:"error,omitempty"`
	StartedAt         time.Time     `gorm:"type:timestamptz;not null" json:"started_at"`
	FinishedAt        time.Time     `gorm:"type:timestamptz;not null" json:"finished_at"`
}

// TableName 指定表名
func (SyncRun) TableName() string {
	return "sync_runs"
}
