package executor

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/copytrade/mirror/internal/venue"
	"github.com/copytrade/mirror/pkg/crypto"
	"github.com/copytrade/mirror/pkg/errors"
	"github.com/copytrade/mirror/pkg/logger"
	"github.com/copytrade/mirror/pkg/snowflake"
)

// 模拟成功率，百分比
const defaultSimSuccessRate = 90

// SimulatedExecutor 干跑模式执行器：不触达交易所，
// 按权重随机产生成交或拒绝，订单号为本地生成的合成 ID。
// 限速闸门照常生效以保持与真实执行一致的节奏，退避逻辑跳过。
type SimulatedExecutor struct {
	gate        *Gate
	idGen       *snowflake.Generator
	successRate int
	log         *logger.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulatedExecutor 创建模拟执行器
func NewSimulatedExecutor(gate *Gate, idGen *snowflake.Generator, seed int64, log *logger.Logger) *SimulatedExecutor {
	return &SimulatedExecutor{
		gate:        gate,
		idGen:       idGen,
		successRate: defaultSimSuccessRate,
		log:         log,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// Execute 模拟一次下单
func (e *SimulatedExecutor) Execute(ctx context.Context, followerID int64, creds crypto.Credentials, spec *venue.OrderSpec) (*venue.OrderResult, error) {
	if err := e.gate.Wait(ctx, followerID); err != nil {
		return nil, err
	}

	e.mu.Lock()
	roll := e.rng.Intn(100)
	e.mu.Unlock()

	if roll >= e.successRate {
		e.log.WithContext(ctx).Warnf("simulated order rejected", map[string]interface{}{
			"follower_id": followerID,
			"pair":        spec.Pair,
		})
		return nil, errors.New(errors.CodeOrderRejected, "simulated rejection")
	}

	orderID := fmt.Sprintf("SIM-%d", e.idGen.MustGenerate())
	e.log.WithContext(ctx).Infof("simulated order placed", map[string]interface{}{
		"follower_id": followerID,
		"pair":        spec.Pair,
		"order_id":    orderID,
	})
	return &venue.OrderResult{
		OrderID: orderID,
		Success: true,
		Message: "simulated",
	}, nil
}
