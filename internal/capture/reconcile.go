package capture

import (
	"time"

	"WearSync/internal/model"
	"WearSync/utils"
)

// capturedDateSet 过滤出某参与者（可选某指标）已落盘的日期集合
func capturedDateSet(records []CapturedFileRecord, participantID string, metric model.Metric) map[time.Time]struct{} {
	set := make(map[time.Time]struct{}, len(records))
	for _, rec := range records {
		if rec.ParticipantID != participantID {
			continue
		}
		if metric != "" && rec.Metric != metric {
			continue
		}
		set[utils.Day(rec.Date)] = struct{}{}
	}
	return set
}

func subtract(ideal DateRange, captured map[time.Time]struct{}) []time.Time {
	missing := make([]time.Time, 0)
	for _, d := range ideal.Days() {
		if _, ok := captured[d]; !ok {
			missing = append(missing, d)
		}
	}
	return missing
}

// FindMissingDates 理想日期序列减去已落盘日期，保持时间顺序。
// 某天只要有任一指标的文件即视为已采集。
func FindMissingDates(ideal DateRange, records []CapturedFileRecord, participantID string) []time.Time {
	return subtract(ideal, capturedDateSet(records, participantID, ""))
}

// FindMissingDatesForMetric 按指标粒度对账
func FindMissingDatesForMetric(ideal DateRange, records []CapturedFileRecord, participantID string, metric model.Metric) []time.Time {
	return subtract(ideal, capturedDateSet(records, participantID, metric))
}

// MissingPairs 对每个指标分别对账，再按日期优先展开成 (日期, 指标) 列表
func MissingPairs(ideal DateRange, records []CapturedFileRecord, participantID string, metrics []model.Metric) []model.Pair {
	byMetric := make(map[model.Metric]map[time.Time]struct{}, len(metrics))
	for _, m := range metrics {
		byMetric[m] = make(map[time.Time]struct{})
	}
	for _, rec := range records {
		if rec.ParticipantID != participantID {
			continue
		}
		if set, ok := byMetric[rec.Metric]; ok {
			set[utils.Day(rec.Date)] = struct{}{}
		}
	}

	pairs := make([]model.Pair, 0)
	for _, d := range ideal.Days() {
		for _, m := range metrics {
			if _, ok := byMetric[m][d]; !ok {
				pairs = append(pairs, model.Pair{Date: d, Metric: m})
			}
		}
	}
	return pairs
}

// CapturedDates 窗口内已采集的日期，升序
func CapturedDates(ideal DateRange, records []CapturedFileRecord, participantID string) []time.Time {
	captured := capturedDateSet(records, participantID, "")
	out := make([]time.Time, 0, len(captured))
	for _, d := range ideal.Days() {
		if _, ok := captured[d]; ok {
			out = append(out, d)
		}
	}
	return out
}
