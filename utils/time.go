package utils

import (
	"time"
)

// DateLayout 日历日期格式，文件名和接口路径都使用这个格式
const DateLayout = "2006-01-02"

// Day 将时间截断到 UTC 当天 00:00，作为日历日期使用，保证可以直接比较和作为 map key
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate 严格解析 yyyy-MM-dd 格式的日期
func ParseDate(s string) (time.Time, error) {
	if len(s) != len(DateLayout) {
		return time.Time{}, &time.ParseError{Layout: DateLayout, Value: s, Message: ": date must be yyyy-MM-dd"}
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return Day(t), nil
}

// FormatDate 输出 yyyy-MM-dd
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// AddDays 按日历日偏移
func AddDays(t time.Time, days int) time.Time {
	return Day(t).AddDate(0, 0, days)
}

// MaxDate 返回较晚的日期
func MaxDate(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

// ParseClock 解析时间字符串（格式：HH:MM:SS）并应用到指定日期
func ParseClock(timeStr string, date time.Time) (time.Time, error) {
	if timeStr == "" {
		return date, nil
	}

	parsedTime, err := time.Parse("15:04:05", timeStr)
	if err != nil {
		return date, err
	}

	return time.Date(
		date.Year(),
		date.Month(),
		date.Day(),
		parsedTime.Hour(),
		parsedTime.Minute(),
		parsedTime.Second(),
		0,
		date.Location(),
	), nil
}
