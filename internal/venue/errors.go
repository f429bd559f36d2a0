package venue

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Error 交易所调用错误。StatusCode 为 0 表示传输层失败。
type Error struct {
	StatusCode int
	Message    string
	transport  bool
}

func (e *Error) Error() string {
	if e.transport {
		return fmt.Sprintf("venue transport error: %s", e.Message)
	}
	return fmt.Sprintf("venue error %d: %s", e.StatusCode, e.Message)
}

// Retryable 按错误分类决定是否可退避重试。
// 传输层失败、5xx、429 可重试；鉴权失败与业务拒单不可重试；
// 400 仅在消息指示临时故障时重试。
func (e *Error) Retryable() bool {
	if e.transport {
		return true
	}
	switch {
	case e.StatusCode >= 500:
		return true
	case e.StatusCode == 429:
		return true
	case e.StatusCode == 401 || e.StatusCode == 403:
		return false
	case e.StatusCode == 400:
		msg := strings.ToLower(e.Message)
		return strings.Contains(msg, "timeout") || strings.Contains(msg, "temporary")
	default:
		return false
	}
}

// Humanize 把交易所返回的原始拒单消息转成可读的失败说明
func (e *Error) Humanize() string {
	if e.transport {
		return "venue unreachable: " + e.Message
	}

	msg := strings.ToLower(e.Message)
	switch {
	case e.StatusCode == 401 || e.StatusCode == 403:
		return "invalid credentials / forbidden"
	case e.StatusCode == 429:
		return "venue rate limit exceeded"
	case strings.Contains(msg, "insufficient"):
		return "insufficient funds on venue wallet"
	case strings.Contains(msg, "quantity") || strings.Contains(msg, "qty") || strings.Contains(msg, "lot"):
		return "order quantity rejected by venue: " + e.Message
	case strings.Contains(msg, "price"):
		return "order price rejected by venue: " + e.Message
	case strings.Contains(msg, "leverage"):
		return "leverage rejected by venue: " + e.Message
	case e.StatusCode >= 500:
		return "venue unavailable"
	default:
		return e.Message
	}
}

// IsRetryable 对任意错误做重试分类。
// 非 *Error 的网络错误（超时、连接失败）视为可重试。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var ve *Error
	if errors.As(err, &ve) {
		return ve.Retryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "timeout")
}

// HumanMessage 提取可写入 error_message 字段的说明
func HumanMessage(err error) string {
	if err == nil {
		return ""
	}
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Humanize()
	}
	return err.Error()
}
