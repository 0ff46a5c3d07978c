package errors

import stderrors "errors"

func (d Definition) Error() string {
	return d.Message
}

// Definition 表示业务错误码及默认信息。
// Definition 是可比较的值类型，包装后可以直接用标准库 errors.Is 判断。
type Definition struct {
	Code    string
	Message string
}

// 参数校验错误，调用方输入问题，不重试。
var (
	InvalidWindowSize = Definition{Code: "INVALID_WINDOW_SIZE", Message: "Window size must be at least one day"}
	InvalidRange      = Definition{Code: "INVALID_RANGE", Message: "Invalid date range"}
	WindowConflict    = Definition{Code: "WINDOW_CONFLICT", Message: "Exactly one of window size or explicit dates is required"}
	MalformedFilename = Definition{Code: "MALFORMED_FILENAME", Message: "Malformed capture filename"}
	InvalidMetric     = Definition{Code: "INVALID_METRIC", Message: "Unknown metric"}
)

// 授权相关错误，均为致命错误，直接中止本次同步。
var (
	RefreshFailed           = Definition{Code: "REFRESH_FAILED", Message: "Token refresh failed"}
	DoubleRefresh           = Definition{Code: "DOUBLE_REFRESH", Message: "Unexpected multiple refresh attempts"}
	RefreshDidNotResolve    = Definition{Code: "REFRESH_DID_NOT_RESOLVE", Message: "Refresh did not resolve authorization"}
	CredentialPersistFailed = Definition{Code: "CREDENTIAL_PERSIST_FAILED", Message: "Failed to persist refreshed credentials"}
)

// 参与者与同步调度错误。
var (
	ParticipantNotFound = Definition{Code: "PARTICIPANT_NOT_FOUND", Message: "Participant not found"}
	SyncInProgress      = Definition{Code: "SYNC_IN_PROGRESS", Message: "Sync already in progress"}
	SyncRunNotFound     = Definition{Code: "SYNC_RUN_NOT_FOUND", Message: "No sync run recorded yet"}
)

// Lookup 提供错误码查询能力。
var Lookup = map[string]Definition{
	InvalidWindowSize.Code:       InvalidWindowSize,
	InvalidRange.Code:            InvalidRange,
	WindowConflict.Code:          WindowConflict,
	MalformedFilename.Code:       MalformedFilename,
	InvalidMetric.Code:           InvalidMetric,
	RefreshFailed.Code:           RefreshFailed,
	DoubleRefresh.Code:           DoubleRefresh,
	RefreshDidNotResolve.Code:    RefreshDidNotResolve,
	CredentialPersistFailed.Code: CredentialPersistFailed,
	ParticipantNotFound.Code:     ParticipantNotFound,
	SyncInProgress.Code:          SyncInProgress,
	SyncRunNotFound.Code:         SyncRunNotFound,
}

// Get 根据错误码返回 Definition，若不存在则返回空 Definition。
func Get(code string) Definition {
	if def, ok := Lookup[code]; ok {
		return def
	}
	return Definition{Code: code, Message: "Unexpected error"}
}

// As 沿着包装链查找第一个 Definition
func As(err error) (Definition, bool) {
	var def Definition
	if stderrors.As(err, &def) {
		return def, true
	}
	return Definition{}, false
}

// SkipMessageError 消费者遇到重复或已过期的消息时返回，消息会被 ack 而不是重新入队
type SkipMessageError struct {
	Reason string
}

func (e *SkipMessageError) Error() string {
	return "skip message: " + e.Reason
}

// IsSkipMessageError 判断是否应该直接跳过该消息
func IsSkipMessageError(err error) bool {
	var skip *SkipMessageError
	return stderrors.As(err, &skip)
}
