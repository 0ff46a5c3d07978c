package capture

import (
	"fmt"
	"strings"
	"time"

	"WearSync/internal/model"
	errs "WearSync/pkg/errors"
	"WearSync/utils"
)

// FileExtension 落盘文件扩展名
const FileExtension = "json"

// CapturedFileRecord 由文件名解析出的落盘记录
type CapturedFileRecord struct {
	ParticipantID string       `json:"participant_id"`
	Date          time.Time    `json:"date"`
	Metric        model.Metric `json:"metric"`
	Extension     string       `json:"extension"`
}

// Encode 生成 <participantId>_<yyyy-MM-dd>_<metric>.json。
// 空 ID、以 "." 开头（扫描时视为隐藏文件）或含路径分隔符的 ID 无法往返，返回 MalformedFilename。
func Encode(participantID string, date time.Time, metric model.Metric) (string, error) {
	if participantID == "" || strings.HasPrefix(participantID, ".") || strings.ContainsAny(participantID, `/\`) {
		return "", fmt.Errorf("%w: participant id %q cannot be encoded", errs.MalformedFilename, participantID)
	}
	return participantID + "_" + utils.FormatDate(date) + "_" + string(metric) + "." + FileExtension, nil
}

// Decode 解析文件名。分隔符宽松（按 _ 和 . 切分），日期和指标严格校验。
// 参与者 ID 本身可以包含下划线：最后三段依次是日期、指标、扩展名，日期之前的原文都属于 ID。
func Decode(filename string) (CapturedFileRecord, error) {
	tokens := strings.FieldsFunc(filename, func(r rune) bool {
		return r == '_' || r == '.'
	})
	if len(tokens) < 4 || strings.HasPrefix(filename, ".") {
		return CapturedFileRecord{}, fmt.Errorf("%w: %q", errs.MalformedFilename, filename)
	}

	n := len(tokens)
	ext := tokens[n-1]
	metric := model.Metric(tokens[n-2])
	dateToken := tokens[n-3]
	// ID 是日期前一个分隔符之前的原文，不裁剪，首尾的 _ 和 . 都属于 ID
	idx := strings.LastIndex(filename, dateToken)
	if idx < 2 {
		return CapturedFileRecord{}, fmt.Errorf("%w: %q has no participant id", errs.MalformedFilename, filename)
	}
	participantID := filename[:idx-1]

	if ext != FileExtension {
		return CapturedFileRecord{}, fmt.Errorf("%w: %q has extension %q", errs.MalformedFilename, filename, ext)
	}
	if !metric.Valid() {
		return CapturedFileRecord{}, fmt.Errorf("%w: %q has unknown metric %q", errs.MalformedFilename, filename, tokens[n-2])
	}
	date, err := utils.ParseDate(dateToken)
	if err != nil {
		return CapturedFileRecord{}, fmt.Errorf("%w: %q has bad date %q", errs.MalformedFilename, filename, dateToken)
	}

	return CapturedFileRecord{
		ParticipantID: participantID,
		Date:          date,
		Metric:        metric,
		Extension:     ext,
	}, nil
}

// IsValid 目录列表过滤用，解析失败即为 false
func IsValid(filename string) bool {
	_, err := Decode(filename)
	return err == nil
}
