// Package service 镜像交易服务
package service

import (
	"context"
	"strconv"
	"time"

	"github.com/copytrade/mirror/internal/metrics"
	"github.com/copytrade/mirror/internal/repository"
	"github.com/copytrade/mirror/pkg/decimal"
	"github.com/copytrade/mirror/pkg/errors"
	"github.com/copytrade/mirror/pkg/logger"
)

// PrimaryTrade 主交易。由外部交易登记流程创建，核心只读。
type PrimaryTrade struct {
	TradeID    int64
	Pair       string
	Side       int // repository.SideBuy / repository.SideSell
	Entry      string
	StopLoss   string
	TakeProfit string
	Leverage   int
	Total      string
}

// FollowerStore 跟单者数据接口
type FollowerStore interface {
	ListActive(ctx context.Context) ([]*repository.Follower, error)
	Get(ctx context.Context, followerID int64) (*repository.Follower, error)
	SetLowFund(ctx context.Context, followerID int64, lowFund bool, updateTimeMs int64) error
	UpdateWalletBalance(ctx context.Context, followerID int64, balance string, updateTimeMs int64) error
}

// MirrorStore 镜像单数据接口
type MirrorStore interface {
	Create(ctx context.Context, m *repository.MirrorTrade) error
	Get(ctx context.Context, mirrorID int64) (*repository.MirrorTrade, error)
	MarkExecuted(ctx context.Context, mirrorID int64, venueOrderID, executedPrice, executedQty string, executedLeverage int, updateTimeMs int64) (bool, error)
	MarkFailed(ctx context.Context, mirrorID int64, errorMessage string, updateTimeMs int64) (bool, error)
	UpdatePnL(ctx context.Context, mirrorID int64, pnl, exitPrice string, updateTimeMs int64) (bool, error)
	ListExecutedWithoutPnL(ctx context.Context, limit int) ([]*repository.MirrorTrade, error)
	ListByTrade(ctx context.Context, tradeID int64) ([]*repository.MirrorTrade, error)
	CountForFollowerSince(ctx context.Context, followerID int64, sinceMs int64) (int, error)
}

// IDGenerator ID 生成器接口
type IDGenerator interface {
	MustGenerate() int64
}

type mirrorPublisher interface {
	PublishMirrorCreated(ctx context.Context, followerID int64, mirror interface{}) error
	PublishMirrorExecuted(ctx context.Context, followerID int64, mirror interface{}) error
	PublishMirrorFailed(ctx context.Context, followerID int64, mirror interface{}) error
	PublishPnLSettled(ctx context.Context, followerID int64, settlement interface{}) error
}

// executionRunner 单个镜像单的执行入口
type executionRunner interface {
	Run(ctx context.Context, mirror *repository.MirrorTrade, follower *repository.Follower, trade *PrimaryTrade)
}

// FanoutResult 扇出结果。只保证 pending 记录已落盘，
// 执行结果要通过镜像单状态观察，不在返回值里。
type FanoutResult struct {
	MirrorIDs []int64          `json:"mirror_ids"`
	Errors    map[int64]string `json:"errors,omitempty"` // followerID -> 原因
}

// OrchestratorService 镜像编排：一条主交易扇出到全部启用的跟单者
type OrchestratorService struct {
	followers FollowerStore
	mirrors   MirrorStore
	idGen     IDGenerator
	runner    executionRunner
	metrics   *metrics.Metrics
	publisher mirrorPublisher
	log       *logger.Logger

	now func() time.Time
}

// NewOrchestratorService 创建编排服务
func NewOrchestratorService(followers FollowerStore, mirrors MirrorStore, idGen IDGenerator, runner executionRunner, metricsClient *metrics.Metrics, log *logger.Logger) *OrchestratorService {
	return &OrchestratorService{
		followers: followers,
		mirrors:   mirrors,
		idGen:     idGen,
		runner:    runner,
		metrics:   metricsClient,
		log:       log,
		now:       time.Now,
	}
}

func (s *OrchestratorService) SetPublisher(publisher mirrorPublisher) {
	s.publisher = publisher
}

// Mirror 处理一条新的主交易。
// 同步为每个跟单者创建 pending 镜像单，然后并发派发执行并立即返回；
// 单个跟单者的创建失败只记录错误，不影响其他人。
func (s *OrchestratorService) Mirror(ctx context.Context, trade *PrimaryTrade) (*FanoutResult, error) {
	if err := validateTrade(trade); err != nil {
		return nil, err
	}

	log := s.log.WithContext(ctx).WithField("trade_id", trade.TradeID)

	// 1. 加载启用的跟单者，没有就是空操作成功
	followers, err := s.followers.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	s.metrics.SetActiveFollowers(len(followers))
	if len(followers) == 0 {
		log.Info("no active followers, nothing to mirror")
		return &FanoutResult{}, nil
	}

	result := &FanoutResult{Errors: make(map[int64]string)}
	nowMs := s.now().UnixMilli()

	// 2. 逐个同步创建 pending 记录，保证调用方立即拿到稳定的 ID 列表
	type dispatchItem struct {
		mirror   *repository.MirrorTrade
		follower *repository.Follower
	}
	var dispatches []dispatchItem

	for _, follower := range followers {
		if reason := s.checkDailyCap(ctx, follower, nowMs); reason != "" {
			result.Errors[follower.FollowerID] = reason
			continue
		}

		mirror := &repository.MirrorTrade{
			MirrorID:          s.idGen.MustGenerate(),
			TradeID:           trade.TradeID,
			FollowerID:        follower.FollowerID,
			Pair:              trade.Pair,
			Side:              trade.Side,
			RequestedQty:      placeholderQty(follower, trade),
			RequestedPrice:    trade.Entry,
			RequestedLeverage: trade.Leverage,
			CreatedAtMs:       nowMs,
			UpdatedAtMs:       nowMs,
		}
		if err := s.mirrors.Create(ctx, mirror); err != nil {
			log.WithError(err).WithField("follower_id", follower.FollowerID).Error("create mirror record failed")
			result.Errors[follower.FollowerID] = err.Error()
			continue
		}

		s.metrics.IncMirrorCreated(trade.Pair, sideName(trade.Side))
		if s.publisher != nil {
			if err := s.publisher.PublishMirrorCreated(ctx, follower.FollowerID, mirror); err != nil {
				log.WithError(err).Warn("publish mirror created event failed")
			}
		}

		result.MirrorIDs = append(result.MirrorIDs, mirror.MirrorID)
		dispatches = append(dispatches, dispatchItem{mirror: mirror, follower: follower})
	}

	// 3. 并发派发执行，不等待完成；一个跟单者的慢或失败不影响其他人
	for _, d := range dispatches {
		d := d
		execCtx := logger.ContextWithTradeID(context.Background(), strconv.FormatInt(trade.TradeID, 10))
		execCtx = logger.ContextWithFollowerID(execCtx, strconv.FormatInt(d.follower.FollowerID, 10))
		go s.runner.Run(execCtx, d.mirror, d.follower, trade)
	}

	log.Infof("mirror fan-out dispatched", map[string]interface{}{
		"followers":  len(followers),
		"dispatched": len(dispatches),
		"skipped":    len(result.Errors),
	})
	if len(result.Errors) == 0 {
		result.Errors = nil
	}
	return result, nil
}

// ListMirrors 查询一条主交易的全部镜像单
func (s *OrchestratorService) ListMirrors(ctx context.Context, tradeID int64) ([]*repository.MirrorTrade, error) {
	return s.mirrors.ListByTrade(ctx, tradeID)
}

// checkDailyCap 日限额检查，返回非空字符串表示跳过原因
func (s *OrchestratorService) checkDailyCap(ctx context.Context, follower *repository.Follower, nowMs int64) string {
	if follower.MaxTradesPerDay <= 0 {
		return ""
	}
	midnight := time.UnixMilli(nowMs).UTC().Truncate(24 * time.Hour).UnixMilli()
	count, err := s.mirrors.CountForFollowerSince(ctx, follower.FollowerID, midnight)
	if err != nil {
		// 数数失败不挡交易，只记日志
		s.log.WithError(err).WithField("follower_id", follower.FollowerID).Warn("daily cap count failed")
		return ""
	}
	if count >= follower.MaxTradesPerDay {
		return errors.Newf(errors.CodeDailyCapReached, "daily trade cap %d reached", follower.MaxTradesPerDay).Error()
	}
	return ""
}

// placeholderQty pending 记录上的占位数量：未做步长对齐的原始风险数量，
// 真实数量在执行阶段由仓位计算器决定
func placeholderQty(follower *repository.Follower, trade *PrimaryTrade) string {
	fund, err1 := decimal.New(follower.Fund)
	riskPct, err2 := decimal.New(follower.RiskPerTrade)
	entry, err3 := decimal.New(trade.Entry)
	stop, err4 := decimal.New(trade.StopLoss)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return "0"
	}
	perUnitRisk := entry.Sub(stop).Abs()
	if perUnitRisk.IsZero() {
		return "0"
	}
	riskAmount := fund.Mul(riskPct).Div(decimal.FromInt(100), 8)
	return riskAmount.Div(perUnitRisk, 8).String()
}

func validateTrade(trade *PrimaryTrade) error {
	if trade == nil || trade.TradeID == 0 {
		return errors.New(errors.CodeInvalidParam, "trade id required")
	}
	if trade.Pair == "" {
		return errors.New(errors.CodeInvalidParam, "pair required")
	}
	if trade.Side != repository.SideBuy && trade.Side != repository.SideSell {
		return errors.New(errors.CodeInvalidParam, "side must be buy or sell")
	}
	if trade.Entry == "" || trade.StopLoss == "" {
		return errors.New(errors.CodeInvalidParam, "entry and stop loss required")
	}
	return nil
}

func sideName(side int) string {
	if side == repository.SideSell {
		return "SELL"
	}
	return "BUY"
}
