package capture

import (
	"time"

	"WearSync/utils"
)

// ReminderDecision 是否需要提醒参与者同步设备
type ReminderDecision struct {
	ShouldRemind   bool       `json:"should_remind"`
	LastSyncedDate *time.Time `json:"last_synced_date"`
}

// Decide 从最近的日期往回扫描，连续缺失天数达到阈值即提醒。
// 任何一天有数据都会把计数清零：偶尔同步但规律的参与者不提醒，彻底停止同步的才提醒。
// idealDates 需为升序；理想日期数少于阈值时（刚注册）不可能提醒。
func Decide(idealDates, capturedDates []time.Time, threshold int) ReminderDecision {
	captured := make(map[time.Time]struct{}, len(capturedDates))
	for _, d := range capturedDates {
		captured[utils.Day(d)] = struct{}{}
	}

	decision := ReminderDecision{LastSyncedDate: lastSynced(idealDates, captured)}

	if threshold < 1 || len(idealDates) < threshold {
		return decision
	}

	misses := 0
	for i := len(idealDates) - 1; i >= 0; i-- {
		if _, ok := captured[utils.Day(idealDates[i])]; ok {
			misses = 0
			continue
		}
		misses++
		if misses >= threshold {
			decision.ShouldRemind = true
			break
		}
	}
	return decision
}

// lastSynced 理想窗口内最近一次有数据的日期
func lastSynced(idealDates []time.Time, captured map[time.Time]struct{}) *time.Time {
	var last *time.Time
	for _, d := range idealDates {
		day := utils.Day(d)
		if _, ok := captured[day]; !ok {
			continue
		}
		if last == nil || day.After(*last) {
			v := day
			last = &v
		}
	}
	return last
}
