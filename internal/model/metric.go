package model

import (
	"fmt"
	"strings"
	"time"

	errs "WearSync/pkg/errors"
	"WearSync/utils"
)

// Metric 一种生理/活动数据流，每个日期独立拉取
type Metric string

const (
	MetricSteps      Metric = "steps"
	MetricCalories   Metric = "calories"
	MetricDistance   Metric = "distance"
	MetricHeartRate  Metric = "heartrate"
	MetricActivities Metric = "activities"
	MetricSleep      Metric = "sleep"
)

// DatePlaceholder 接口路径模板中的日期占位符
const DatePlaceholder = "%DATE%"

// PayloadShape 描述成功响应中数据集所在的位置
type PayloadShape int

const (
	// ShapeIntraday 顶层 key 为对象，数据在其 dataset 数组中
	ShapeIntraday PayloadShape = iota
	// ShapeList 顶层 key 直接是数组
	ShapeList
)

type metricSpec struct {
	template   string
	payloadKey string
	shape      PayloadShape
}

var metricSpecs = map[Metric]metricSpec{
	MetricSteps:      {template: "/activities/steps/date/%DATE%/1d/1min.json", payloadKey: "activities-steps-intraday", shape: ShapeIntraday},
	MetricCalories:   {template: "/activities/calories/date/%DATE%/1d/1min.json", payloadKey: "activities-calories-intraday", shape: ShapeIntraday},
	MetricDistance:   {template: "/activities/distance/date/%DATE%/1d/1min.json", payloadKey: "activities-distance-intraday", shape: ShapeIntraday},
	MetricHeartRate:  {template: "/activities/heart/date/%DATE%/1d/1min.json", payloadKey: "activities-heart-intraday", shape: ShapeIntraday},
	MetricActivities: {template: "/activities/date/%DATE%.json", payloadKey: "activities", shape: ShapeList},
	MetricSleep:      {template: "/sleep/date/%DATE%.json", payloadKey: "sleep", shape: ShapeList},
}

// AllMetrics 按固定顺序返回全部指标
func AllMetrics() []Metric {
	return []Metric{MetricSteps, MetricCalories, MetricDistance, MetricHeartRate, MetricActivities, MetricSleep}
}

// Valid 判断是否属于已知指标集合
func (m Metric) Valid() bool {
	_, ok := metricSpecs[m]
	return ok
}

func (m Metric) String() string {
	return string(m)
}

// Template 返回接口路径模板
func (m Metric) Template() string {
	return metricSpecs[m].template
}

// Path 将日期代入模板得到请求路径
func (m Metric) Path(date time.Time) string {
	return strings.ReplaceAll(m.Template(), DatePlaceholder, utils.FormatDate(date))
}

// PayloadKey 成功响应中必须出现的顶层 key
func (m Metric) PayloadKey() string {
	return metricSpecs[m].payloadKey
}

// Shape 成功响应中数据集的结构
func (m Metric) Shape() PayloadShape {
	return metricSpecs[m].shape
}

// ParseMetric 解析指标名称，大小写和首尾空白不敏感
func ParseMetric(s string) (Metric, error) {
	m := Metric(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q", errs.InvalidMetric, s)
	}
	return m, nil
}

// ParseMetrics 解析配置中的指标列表，去重并保持原有顺序
func ParseMetrics(names []string) ([]Metric, error) {
	seen := make(map[Metric]bool, len(names))
	out := make([]Metric, 0, len(names))
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			continue
		}
		m, err := ParseMetric(name)
		if err != nil {
			return nil, err
		}
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty metric list", errs.InvalidMetric)
	}
	return out, nil
}

// Pair 一次拉取的最小单元：(日期, 指标)
type Pair struct {
	Date   time.Time `json:"date"`
	Metric Metric    `json:"metric"`
}

func (p Pair) String() string {
	return utils.FormatDate(p.Date) + "/" + string(p.Metric)
}

// CrossPairs 日期 × 指标，日期优先排序
func CrossPairs(dates []time.Time, metrics []Metric) []Pair {
	pairs := make([]Pair, 0, len(dates)*len(metrics))
	for _, d := range dates {
		for _, m := range metrics {
			pairs = append(pairs, Pair{Date: utils.Day(d), Metric: m})
		}
	}
	return pairs
}
