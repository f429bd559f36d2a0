// Package errors 定义镜像交易核心的统一错误码
package errors

import (
	"fmt"
)

// Code 错误码
type Code string

// 错误码定义
const (
	// 通用错误
	CodeOK           Code = "OK"
	CodeUnknown      Code = "UNKNOWN"
	CodeInvalidParam Code = "INVALID_PARAM"
	CodeNotFound     Code = "NOT_FOUND"
	CodeInternal     Code = "INTERNAL"
	CodeUnavailable  Code = "UNAVAILABLE"
	CodeTimeout      Code = "TIMEOUT"

	// 凭证
	CodeInvalidCredentials Code = "INVALID_CREDENTIALS"
	CodeForbidden          Code = "FORBIDDEN"
	CodeCredentialSealed   Code = "CREDENTIAL_SEALED"

	// 限流
	CodeRateLimited Code = "RATE_LIMITED"

	// 仓位计算
	CodeSymbolNotFound     Code = "SYMBOL_NOT_FOUND"
	CodeMetaUnavailable    Code = "META_UNAVAILABLE"
	CodeInvalidPrice       Code = "INVALID_PRICE"
	CodeInvalidQuantity    Code = "INVALID_QUANTITY"
	CodeQtyTooSmall        Code = "QTY_TOO_SMALL"
	CodeNotionalTooSmall   Code = "NOTIONAL_TOO_SMALL"
	CodeInsufficientMargin Code = "INSUFFICIENT_MARGIN"
	CodeLeverageExceeded   Code = "LEVERAGE_EXCEEDED"

	// 执行
	CodeInsufficientFunds Code = "INSUFFICIENT_FUNDS"
	CodeOrderRejected     Code = "ORDER_REJECTED"
	CodeRetriesExhausted  Code = "RETRIES_EXHAUSTED"
	CodeDailyCapReached   Code = "DAILY_CAP_REACHED"

	// 镜像记录
	CodeMirrorNotFound   Code = "MIRROR_NOT_FOUND"
	CodeFollowerNotFound Code = "FOLLOWER_NOT_FOUND"
	CodeAlreadyTerminal  Code = "ALREADY_TERMINAL"
)

// Error 业务错误
type Error struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// New 创建错误
func New(code Code, message string) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Retryable: isRetryable(code),
	}
}

// Newf 创建格式化错误
func Newf(code Code, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// isRetryable 判断是否可重试
func isRetryable(code Code) bool {
	switch code {
	case CodeRateLimited, CodeTimeout, CodeUnavailable:
		return true
	default:
		return false
	}
}

// 预定义错误
var (
	ErrInvalidParam       = New(CodeInvalidParam, "invalid parameter")
	ErrNotFound           = New(CodeNotFound, "not found")
	ErrMetaUnavailable    = New(CodeMetaUnavailable, "instrument metadata unavailable")
	ErrInsufficientFunds  = New(CodeInsufficientFunds, "insufficient funds")
	ErrInvalidCredentials = New(CodeInvalidCredentials, "invalid credentials / forbidden")
	ErrRateLimited        = New(CodeRateLimited, "rate limited")
)
