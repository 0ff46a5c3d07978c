package capture

import (
	"fmt"
	"strings"
	"time"

	errs "WearSync/pkg/errors"
	"WearSync/utils"
)

// DateRange 闭区间 [Start, Stop]，Start <= Stop 恒成立
type DateRange struct {
	Start time.Time `json:"start"`
	Stop  time.Time `json:"stop"`
}

// NewDateRange 构造日期区间，start 晚于 stop 时返回 InvalidRange
func NewDateRange(start, stop time.Time) (DateRange, error) {
	start, stop = utils.Day(start), utils.Day(stop)
	if start.After(stop) {
		return DateRange{}, fmt.Errorf("%w: start %s is after stop %s",
			errs.InvalidRange, utils.FormatDate(start), utils.FormatDate(stop))
	}
	return DateRange{Start: start, Stop: stop}, nil
}

// Len 区间包含的天数
func (r DateRange) Len() int {
	return int(r.Stop.Sub(r.Start).Hours()/24) + 1
}

// Days 按时间顺序枚举区间内的每一天，每天只出现一次
func (r DateRange) Days() []time.Time {
	n := r.Len()
	if n <= 0 {
		return nil
	}
	days := make([]time.Time, 0, n)
	for d := r.Start; !d.After(r.Stop); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// Contains 判断日期是否在区间内
func (r DateRange) Contains(t time.Time) bool {
	d := utils.Day(t)
	return !d.Before(r.Start) && !d.After(r.Stop)
}

func (r DateRange) String() string {
	return utils.FormatDate(r.Start) + ".." + utils.FormatDate(r.Stop)
}

// WindowFromSize 以昨天为终点、向前 windowSizeDays 天的窗口，起点不早于注册日期。
// 今天的数据可能不完整，所以永远不查询今天。
func WindowFromSize(windowSizeDays int, registrationDate, today time.Time) (DateRange, error) {
	if windowSizeDays < 1 {
		return DateRange{}, fmt.Errorf("%w: got %d", errs.InvalidWindowSize, windowSizeDays)
	}
	stop := utils.AddDays(today, -1)
	start := utils.AddDays(stop, -(windowSizeDays - 1))
	start = utils.MaxDate(start, utils.Day(registrationDate))
	return NewDateRange(start, stop)
}

// WindowFromDates 接受一个或两个 yyyy-MM-dd 日期，起点同样不早于注册日期
func WindowFromDates(dateStrings []string, registrationDate time.Time) (DateRange, error) {
	if len(dateStrings) == 0 || len(dateStrings) > 2 {
		return DateRange{}, fmt.Errorf("%w: expected one or two dates, got %d", errs.InvalidRange, len(dateStrings))
	}

	dates := make([]time.Time, 0, 2)
	for _, s := range dateStrings {
		d, err := utils.ParseDate(strings.TrimSpace(s))
		if err != nil {
			return DateRange{}, fmt.Errorf("%w: %v", errs.InvalidRange, err)
		}
		dates = append(dates, d)
	}

	start, stop := dates[0], dates[0]
	if len(dates) == 2 {
		stop = dates[1]
		if start.After(stop) {
			return DateRange{}, fmt.Errorf("%w: start %s is after stop %s",
				errs.InvalidRange, utils.FormatDate(start), utils.FormatDate(stop))
		}
	}

	start = utils.MaxDate(start, utils.Day(registrationDate))
	return NewDateRange(start, stop)
}

// WindowRequest 调用方的窗口参数，Size 和 Dates 只能二选一
type WindowRequest struct {
	Size  int      `json:"size,omitempty"`
	Dates []string `json:"dates,omitempty"`
}

// ResolveWindow 校验二选一后分派到对应的计算方式
func ResolveWindow(req WindowRequest, registrationDate, today time.Time) (DateRange, error) {
	hasSize := req.Size != 0
	hasDates := len(req.Dates) > 0
	if hasSize == hasDates {
		return DateRange{}, errs.WindowConflict
	}
	if hasSize {
		return WindowFromSize(req.Size, registrationDate, today)
	}
	return WindowFromDates(req.Dates, registrationDate)
}
