// Package executor 限速重试的下单执行
package executor

import (
	"context"
	"time"

	"github.com/copytrade/mirror/internal/metrics"
	"github.com/copytrade/mirror/internal/venue"
	"github.com/copytrade/mirror/pkg/crypto"
	"github.com/copytrade/mirror/pkg/errors"
	"github.com/copytrade/mirror/pkg/logger"
)

// 默认执行参数，可被环境配置覆盖
const (
	DefaultMaxRetries     = 3
	DefaultRetryBaseDelay = 1000 * time.Millisecond
	DefaultMinAPIInterval = 2000 * time.Millisecond
)

// OrderExecutor 下单执行策略。启动时一次性选定
// 真实或模拟实现，调用方不感知差异。
type OrderExecutor interface {
	Execute(ctx context.Context, followerID int64, creds crypto.Credentials, spec *venue.OrderSpec) (*venue.OrderResult, error)
}

// orderPlacer 真实执行器依赖的下单能力
type orderPlacer interface {
	CreateOrder(ctx context.Context, creds crypto.Credentials, spec *venue.OrderSpec) (*venue.OrderResult, error)
}

// LiveExecutor 对接真实交易所的执行器
type LiveExecutor struct {
	client     orderPlacer
	gate       *Gate
	maxRetries int
	baseDelay  time.Duration
	log        *logger.Logger
	metrics    *metrics.Metrics

	sleep func(ctx context.Context, d time.Duration) error
}

// NewLiveExecutor 创建真实执行器，metrics 可为 nil
func NewLiveExecutor(client orderPlacer, gate *Gate, maxRetries int, baseDelay time.Duration, log *logger.Logger, m *metrics.Metrics) *LiveExecutor {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if baseDelay <= 0 {
		baseDelay = DefaultRetryBaseDelay
	}
	return &LiveExecutor{
		client:     client,
		gate:       gate,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		log:        log,
		metrics:    m,
		sleep:      sleepContext,
	}
}

// Execute 限速后下单，可重试错误按 baseDelay*2^(attempt-1) 指数退避，
// 同一次调用链内的重试严格串行。不可重试错误立即失败并转换为
// 人类可读的拒绝消息；重试耗尽时保留最后一次底层错误。
func (e *LiveExecutor) Execute(ctx context.Context, followerID int64, creds crypto.Credentials, spec *venue.OrderSpec) (*venue.OrderResult, error) {
	var lastErr error
	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		if err := e.gate.Wait(ctx, followerID); err != nil {
			return nil, err
		}

		result, err := e.client.CreateOrder(ctx, creds, spec)
		if err == nil {
			if result != nil && !result.Success {
				return nil, errors.New(errors.CodeOrderRejected, result.Message)
			}
			return result, nil
		}
		lastErr = err

		if !venue.IsRetryable(err) {
			return nil, errors.New(errors.CodeOrderRejected, venue.HumanMessage(err))
		}

		if attempt < e.maxRetries {
			e.metrics.IncVenueRetry()
			delay := e.baseDelay << uint(attempt-1)
			e.log.WithContext(ctx).Warnf("order attempt failed, retrying", map[string]interface{}{
				"follower_id": followerID,
				"pair":        spec.Pair,
				"attempt":     attempt,
				"delay_ms":    delay.Milliseconds(),
				"error":       err.Error(),
			})
			if err := e.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
	}

	return nil, errors.Newf(errors.CodeRetriesExhausted, "order failed after %d attempts: %s", e.maxRetries, venue.HumanMessage(lastErr))
}
