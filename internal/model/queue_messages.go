package model

// SyncReminderMessage 同步提醒消息，调度器连续多日未同步时投递，由 worker 消费
type SyncReminderMessage struct {
	MessageID      string `json:"message_id"` // 消息唯一ID，用于幂等性检查
	RunID          int64  `json:"run_id"`
	ParticipantID  string `json:"participant_id"`
	ReminderDate   string `json:"reminder_date"`              // 触发提醒的日期 yyyy-MM-dd
	LastSyncedDate string `json:"last_synced_date,omitempty"` // 最近一次有数据的日期，从未同步过则为空
	MissedDays     int    `json:"missed_days"`                // 阈值
	ScheduledAt    string `json:"scheduled_at"`
}
