package ingest

import (
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"

	"WearSync/internal/model"
	"WearSync/pkg/fitbit"
)

// Outcome 单个响应的分类
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeInvalidPayload
	OutcomeHTTPError
	OutcomeTransportError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeInvalidPayload:
		return "invalid_payload"
	case OutcomeHTTPError:
		return "http_error"
	case OutcomeTransportError:
		return "transport_error"
	default:
		return "unknown"
	}
}

// Classification 分类结果，失败时带上原因
type Classification struct {
	Outcome    Outcome
	StatusCode int
	Reason     model.FailureReason
	Detail     string
}

// Classify 以状态码为判别依据，200 时再校验指标对应的顶层 key 和非空数据集
func Classify(metric model.Metric, resp fitbit.Response, err error) Classification {
	if err != nil {
		return Classification{Outcome: OutcomeTransportError, Reason: model.ReasonTransportError, Detail: err.Error()}
	}

	code := resp.StatusCode
	switch {
	case code == http.StatusOK:
		if detail := checkPayload(metric, resp.Body); detail != "" {
			return Classification{Outcome: OutcomeInvalidPayload, StatusCode: code, Reason: model.ReasonInvalidPayload, Detail: detail}
		}
		return Classification{Outcome: OutcomeSuccess, StatusCode: code}
	case code == http.StatusUnauthorized:
		return httpError(code, model.ReasonUnauthorized, resp.Body)
	case code == http.StatusTooManyRequests:
		return httpError(code, model.ReasonRateLimited, resp.Body)
	case code >= 500:
		return httpError(code, model.ReasonServerError, resp.Body)
	case code >= 400:
		return httpError(code, model.ReasonClientError, resp.Body)
	default:
		// 2xx/3xx 但不是 200，没有可用数据集
		return Classification{Outcome: OutcomeInvalidPayload, StatusCode: code, Reason: model.ReasonInvalidPayload,
			Detail: fmt.Sprintf("unexpected status %d", code)}
	}
}

func httpError(code int, reason model.FailureReason, body []byte) Classification {
	return Classification{Outcome: OutcomeHTTPError, StatusCode: code, Reason: reason, Detail: truncate(string(body), 512)}
}

// checkPayload 返回空字符串表示校验通过
func checkPayload(metric model.Metric, body []byte) string {
	if !gjson.ValidBytes(body) {
		return "payload is not valid JSON"
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return "payload is not a JSON object"
	}

	key := metric.PayloadKey()
	field := root.Get(key)
	if !field.Exists() {
		return fmt.Sprintf("payload missing key %q", key)
	}

	var dataset gjson.Result
	switch metric.Shape() {
	case model.ShapeIntraday:
		dataset = field.Get("dataset")
	case model.ShapeList:
		dataset = field
	}
	if !dataset.IsArray() {
		return fmt.Sprintf("key %q has no dataset array", key)
	}
	if len(dataset.Array()) == 0 {
		return fmt.Sprintf("key %q has an empty dataset", key)
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
