package service

import (
	"context"
	"strings"
	"time"

	"github.com/copytrade/mirror/internal/executor"
	"github.com/copytrade/mirror/internal/metrics"
	"github.com/copytrade/mirror/internal/repository"
	"github.com/copytrade/mirror/internal/sizing"
	"github.com/copytrade/mirror/internal/venue"
	"github.com/copytrade/mirror/pkg/crypto"
	"github.com/copytrade/mirror/pkg/decimal"
	"github.com/copytrade/mirror/pkg/errors"
	"github.com/copytrade/mirror/pkg/logger"
)

// 钱包余额相对保证金的手续费缓冲
var marginBuffer = decimal.MustNew("1.10")

// MetaSource 元数据来源接口，由 venue.MetaCache 实现
type MetaSource interface {
	Get(ctx context.Context, pair string) (*venue.InstrumentMeta, error)
}

// CredentialOpener 凭证解密接口，失败即关闭，绝不返回密文
type CredentialOpener interface {
	Open(blob string) (crypto.Credentials, error)
}

// ExecutionService 单个镜像单的执行状态机。
// pending 是唯一初始态，executed / failed 都是终态；
// 对已终态记录的重复调用是幂等空操作。
type ExecutionService struct {
	followers FollowerStore
	mirrors   MirrorStore
	meta      MetaSource
	exec      executor.OrderExecutor
	opener    CredentialOpener
	metrics   *metrics.Metrics
	publisher mirrorPublisher
	log       *logger.Logger

	now func() time.Time
}

// NewExecutionService 创建执行服务
func NewExecutionService(followers FollowerStore, mirrors MirrorStore, meta MetaSource, exec executor.OrderExecutor, opener CredentialOpener, metricsClient *metrics.Metrics, log *logger.Logger) *ExecutionService {
	return &ExecutionService{
		followers: followers,
		mirrors:   mirrors,
		meta:      meta,
		exec:      exec,
		opener:    opener,
		metrics:   metricsClient,
		log:       log,
		now:       time.Now,
	}
}

func (s *ExecutionService) SetPublisher(publisher mirrorPublisher) {
	s.publisher = publisher
}

// Run 执行一个 pending 镜像单直到终态。错误不向上返回：
// 执行结果只体现在镜像单状态上。
func (s *ExecutionService) Run(ctx context.Context, mirror *repository.MirrorTrade, follower *repository.Follower, trade *PrimaryTrade) {
	start := s.now()
	log := s.log.WithContext(ctx)

	fail := func(message string) {
		s.markFailed(ctx, mirror, message)
	}

	// 1. 预检：已知资金不足的跟单者直接失败，不浪费限速槽和重试预算
	if follower.LowFund {
		s.metrics.IncLowFundSkip()
		fail("insufficient funds: wallet balance below configured fund")
		return
	}

	// 2. 元数据与仓位计算
	meta, err := s.meta.Get(ctx, trade.Pair)
	if err != nil {
		s.metrics.IncSizingRejected(string(errors.CodeMetaUnavailable))
		fail("instrument metadata unavailable for " + trade.Pair)
		return
	}

	entry, err := decimal.New(trade.Entry)
	if err != nil {
		fail("invalid entry price: " + trade.Entry)
		return
	}
	stopLoss, err := decimal.New(trade.StopLoss)
	if err != nil {
		fail("invalid stop loss: " + trade.StopLoss)
		return
	}
	fund, err := decimal.New(follower.Fund)
	if err != nil {
		fail("invalid follower fund: " + follower.Fund)
		return
	}
	riskPct, err := decimal.New(follower.RiskPerTrade)
	if err != nil {
		fail("invalid follower risk percent: " + follower.RiskPerTrade)
		return
	}

	sized, err := sizing.Calculate(sizing.Input{
		Pair:     trade.Pair,
		Entry:    entry,
		StopLoss: stopLoss,
		Fund:     fund,
		RiskPct:  riskPct,
	}, meta)
	if err != nil {
		if bizErr, ok := err.(*errors.Error); ok {
			s.metrics.IncSizingRejected(string(bizErr.Code))
			fail(bizErr.Message)
		} else {
			fail(err.Error())
		}
		return
	}
	for _, warning := range sized.Warnings {
		log.WithField("mirror_id", mirror.MirrorID).Warn(warning)
	}

	// 3. 保证金预检：钱包余额要覆盖保证金加 10% 手续费缓冲
	if follower.WalletBalance != "" {
		wallet, err := decimal.New(follower.WalletBalance)
		if err == nil && wallet.Cmp(sized.RequiredMargin.Mul(marginBuffer)) < 0 {
			fail("insufficient funds: wallet balance " + follower.WalletBalance +
				" below required margin with fee buffer")
			return
		}
	}

	// 4. 解密凭证，失败即关闭
	creds, err := s.opener.Open(follower.Credentials)
	if err != nil {
		log.WithError(err).WithField("follower_id", follower.FollowerID).Error("open credentials failed")
		fail("invalid credentials")
		return
	}

	// 5. 下单
	spec := &venue.OrderSpec{
		Pair:     trade.Pair,
		Side:     sideName(trade.Side),
		Qty:      sized.Qty.String(),
		Price:    trade.Entry,
		Leverage: sized.Leverage,
		Margin:   sized.RequiredMargin.String(),
	}
	result, err := s.exec.Execute(ctx, follower.FollowerID, creds, spec)
	if err != nil {
		message := err.Error()
		if bizErr, ok := err.(*errors.Error); ok {
			message = bizErr.Message
		}
		// 交易所明确报余额不足时同步打上 low_fund，避免后续交易重复撞墙
		if strings.Contains(message, "insufficient funds") {
			if lfErr := s.followers.SetLowFund(ctx, follower.FollowerID, true, s.now().UnixMilli()); lfErr != nil {
				log.WithError(lfErr).Warn("set low fund flag failed")
			}
		}
		fail(message)
		return
	}

	// 6. 订单号必须真实可对账，占位值一律按失败处理
	if isPlaceholderOrderID(result.OrderID) {
		fail("venue returned placeholder order id")
		return
	}

	// 7. 原子落盘执行结果；记录已被并发写成终态时不覆盖
	nowMs := s.now().UnixMilli()
	applied, err := s.mirrors.MarkExecuted(ctx, mirror.MirrorID, result.OrderID, trade.Entry, sized.Qty.String(), sized.Leverage, nowMs)
	if err != nil {
		log.WithError(err).WithField("mirror_id", mirror.MirrorID).Error("mark executed failed")
		return
	}
	if !applied {
		log.WithField("mirror_id", mirror.MirrorID).Warn("mirror already terminal, execution result dropped")
		return
	}

	mirror.Status = repository.StatusExecuted
	mirror.VenueOrderID = result.OrderID
	mirror.ExecutedPrice = trade.Entry
	mirror.ExecutedQty = sized.Qty.String()
	mirror.ExecutedLeverage = sized.Leverage

	s.metrics.IncMirrorOutcome("executed")
	s.metrics.ObserveExecuteLatency(s.now().Sub(start))
	if s.publisher != nil {
		if err := s.publisher.PublishMirrorExecuted(ctx, follower.FollowerID, mirror); err != nil {
			log.WithError(err).Warn("publish mirror executed event failed")
		}
	}
	log.Infof("mirror executed", map[string]interface{}{
		"mirror_id": mirror.MirrorID,
		"order_id":  result.OrderID,
		"qty":       mirror.ExecutedQty,
		"leverage":  mirror.ExecutedLeverage,
	})
}

func (s *ExecutionService) markFailed(ctx context.Context, mirror *repository.MirrorTrade, message string) {
	log := s.log.WithContext(ctx).WithField("mirror_id", mirror.MirrorID)

	applied, err := s.mirrors.MarkFailed(ctx, mirror.MirrorID, message, s.now().UnixMilli())
	if err != nil {
		log.WithError(err).Error("mark failed failed")
		return
	}
	if !applied {
		log.Warn("mirror already terminal, failure dropped")
		return
	}

	mirror.Status = repository.StatusFailed
	mirror.ErrorMessage = message

	s.metrics.IncMirrorOutcome("failed")
	if s.publisher != nil {
		if err := s.publisher.PublishMirrorFailed(ctx, mirror.FollowerID, mirror); err != nil {
			log.WithError(err).Warn("publish mirror failed event failed")
		}
	}
	log.Infof("mirror failed", map[string]interface{}{"error": message})
}

func isPlaceholderOrderID(orderID string) bool {
	switch strings.TrimSpace(orderID) {
	case "", "0", "null", "undefined", "N/A":
		return true
	}
	return false
}
