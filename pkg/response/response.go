package response

import (
	"context"
	"net/http"

	"github.com/cloudwego/hertz/pkg/app"

	"WearSync/pkg/errors"
)

// ErrorResponse 统一的错误响应格式
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Details map[string]interface{} `json:"details,omitempty"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
}

// SuccessResponse 统一的成功响应格式
type SuccessResponse struct {
	Data interface{}            `json:"data"`
	Meta map[string]interface{} `json:"meta,omitempty"`
}

// StatusFor 错误码到 HTTP 状态码的映射，未知错误一律 500
func StatusFor(err error) int {
	def, ok := errors.As(err)
	if !ok {
		return http.StatusInternalServerError
	}

	switch def.Code {
	case errors.InvalidWindowSize.Code, errors.InvalidRange.Code, errors.WindowConflict.Code,
		errors.MalformedFilename.Code, errors.InvalidMetric.Code, "INVALID_REQUEST":
		return http.StatusBadRequest // 400
	case errors.ParticipantNotFound.Code, errors.SyncRunNotFound.Code:
		return http.StatusNotFound // 404
	case errors.SyncInProgress.Code:
		return http.StatusConflict // 409
	case errors.RefreshFailed.Code, errors.RefreshDidNotResolve.Code:
		return http.StatusBadGateway // 502，上游拒绝了凭证
	default:
		return http.StatusInternalServerError // 500
	}
}

// detailOf 错误被包装过时，把完整信息放进 details.reason
func detailOf(err error) (errors.Definition, map[string]interface{}) {
	def, ok := errors.As(err)
	if !ok {
		return errors.Definition{Code: "INTERNAL_ERROR", Message: err.Error()}, nil
	}
	if msg := err.Error(); msg != def.Message {
		return def, map[string]interface{}{"reason": msg}
	}
	return def, nil
}

// Error 返回错误响应
func Error(ctx context.Context, c *app.RequestContext, err error) {
	ErrorWithDetails(ctx, c, err, nil)
}

func ErrorWithDetails(ctx context.Context, c *app.RequestContext, err error, details map[string]interface{}) {
	def, extra := detailOf(err)
	if len(extra) > 0 {
		if details == nil {
			details = make(map[string]interface{}, len(extra))
		}
		for k, v := range extra {
			if _, exists := details[k]; !exists {
				details[k] = v
			}
		}
	}

	c.JSON(StatusFor(err), ErrorResponse{
		Error: ErrorDetail{
			Code:    def.Code,
			Message: def.Message,
			Details: details,
		},
	})
}

func Success(ctx context.Context, c *app.RequestContext, data interface{}) {
	c.JSON(http.StatusOK, SuccessResponse{
		Data: data,
	})
}

func SuccessWithMeta(ctx context.Context, c *app.RequestContext, data interface{}, meta map[string]interface{}) {
	c.JSON(http.StatusOK, SuccessResponse{
		Data: data,
		Meta: meta,
	})
}
