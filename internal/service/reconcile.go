package service

import (
	"context"
	"time"

	"github.com/copytrade/mirror/internal/metrics"
	"github.com/copytrade/mirror/internal/repository"
	"github.com/copytrade/mirror/internal/venue"
	"github.com/copytrade/mirror/pkg/crypto"
	"github.com/copytrade/mirror/pkg/decimal"
	"github.com/copytrade/mirror/pkg/logger"
)

// LedgerSource 交易所流水来源接口，由 venue.Client 实现
type LedgerSource interface {
	GetTransactions(ctx context.Context, creds crypto.Credentials, orderID string) ([]venue.LedgerEntry, error)
}

// SweepReport 一轮对账扫描的结果
type SweepReport struct {
	StartedAtMs  int64    `json:"started_at_ms"`
	FinishedAtMs int64    `json:"finished_at_ms"`
	Scanned      int      `json:"scanned"`
	Settled      int      `json:"settled"`
	Pending      int      `json:"pending"`
	Failed       int      `json:"failed"`
	Errors       []string `json:"errors,omitempty"`
}

// ReconcileService 盈亏对账。交易所结算是异步的，可能滞后任意久，
// 扫描设计为可反复运行：已结算的镜像单再扫到也是安全空操作。
type ReconcileService struct {
	followers FollowerStore
	mirrors   MirrorStore
	ledger    LedgerSource
	opener    CredentialOpener
	metrics   *metrics.Metrics
	publisher mirrorPublisher
	log       *logger.Logger

	batchSize int
	dryRun    bool
	now       func() time.Time
}

// NewReconcileService 创建对账服务
func NewReconcileService(followers FollowerStore, mirrors MirrorStore, ledger LedgerSource, opener CredentialOpener, metricsClient *metrics.Metrics, log *logger.Logger) *ReconcileService {
	return &ReconcileService{
		followers: followers,
		mirrors:   mirrors,
		ledger:    ledger,
		opener:    opener,
		metrics:   metricsClient,
		log:       log,
		batchSize: 200,
		now:       time.Now,
	}
}

func (s *ReconcileService) SetPublisher(publisher mirrorPublisher) {
	s.publisher = publisher
}

// SetDryRun 干跑模式：照常匹配盈亏并计入报告，但不落盘、不发事件
func (s *ReconcileService) SetDryRun(dryRun bool) {
	s.dryRun = dryRun
}

// SweepOnce 扫一轮所有已执行未结算的镜像单
func (s *ReconcileService) SweepOnce(ctx context.Context) (*SweepReport, error) {
	report := &SweepReport{StartedAtMs: s.now().UnixMilli()}

	mirrors, err := s.mirrors.ListExecutedWithoutPnL(ctx, s.batchSize)
	if err != nil {
		return nil, err
	}
	report.Scanned = len(mirrors)

	for _, mirror := range mirrors {
		if err := s.reconcileOne(ctx, mirror, report); err != nil {
			report.Failed++
			report.Errors = append(report.Errors, err.Error())
			s.log.WithContext(ctx).WithError(err).WithField("mirror_id", mirror.MirrorID).Warn("reconcile mirror failed")
		}
	}

	report.FinishedAtMs = s.now().UnixMilli()
	s.log.WithContext(ctx).Infof("reconcile sweep finished", map[string]interface{}{
		"scanned": report.Scanned,
		"settled": report.Settled,
		"pending": report.Pending,
		"failed":  report.Failed,
	})
	return report, nil
}

func (s *ReconcileService) reconcileOne(ctx context.Context, mirror *repository.MirrorTrade, report *SweepReport) error {
	// 1. 拉这个订单的流水
	follower, err := s.followers.Get(ctx, mirror.FollowerID)
	if err != nil {
		return err
	}
	creds, err := s.opener.Open(follower.Credentials)
	if err != nil {
		return err
	}
	entries, err := s.ledger.GetTransactions(ctx, creds, mirror.VenueOrderID)
	if err != nil {
		return err
	}

	// 2. 流水里还找不到已实现盈亏就是尚未结算，等下一轮
	pnl, ok := matchPnL(mirror.VenueOrderID, entries)
	if !ok {
		report.Pending++
		return nil
	}

	// 3. 能推导就顺带算出隐含平仓价
	exitPrice := deriveExitPrice(mirror, pnl)

	if s.dryRun {
		report.Settled++
		s.log.WithContext(ctx).Infof("dry-run: would settle pnl", map[string]interface{}{
			"mirror_id":  mirror.MirrorID,
			"pnl":        pnl.String(),
			"exit_price": exitPrice,
		})
		return nil
	}

	// 4. 只写一次；并发扫描重复结算时后写的是空操作
	applied, err := s.mirrors.UpdatePnL(ctx, mirror.MirrorID, pnl.String(), exitPrice, s.now().UnixMilli())
	if err != nil {
		return err
	}
	if !applied {
		report.Pending++
		return nil
	}

	report.Settled++
	s.metrics.IncPnLSettled()
	if s.publisher != nil {
		settlement := map[string]interface{}{
			"mirror_id":  mirror.MirrorID,
			"trade_id":   mirror.TradeID,
			"pnl":        pnl.String(),
			"exit_price": exitPrice,
		}
		if err := s.publisher.PublishPnLSettled(ctx, mirror.FollowerID, settlement); err != nil {
			s.log.WithContext(ctx).WithError(err).Warn("publish pnl settled event failed")
		}
	}
	return nil
}

// matchPnL 在流水里找出订单的已实现盈亏。
// 先找 parent_id 等于订单号的入场流水拿到仓位号 P，
// 再找同仓位、非本订单、金额非零的流水，其金额即已实现盈亏。
func matchPnL(orderID string, entries []venue.LedgerEntry) (*decimal.Decimal, bool) {
	positionID := ""
	for _, entry := range entries {
		if entry.ParentID == orderID {
			positionID = entry.PositionID
			break
		}
	}
	if positionID == "" {
		return nil, false
	}

	for _, entry := range entries {
		if entry.PositionID != positionID || entry.ParentID == orderID {
			continue
		}
		amount, err := decimal.New(entry.Amount)
		if err != nil || amount.IsZero() {
			continue
		}
		return amount, true
	}
	return nil, false
}

// deriveExitPrice 从已实现盈亏反推隐含平仓价：
// 多头 exit = entry + pnl/(qty*leverage)，空头取减。
// 缺执行价格、执行数量或杠杆时返回空串，只结 pnl。
func deriveExitPrice(mirror *repository.MirrorTrade, pnl *decimal.Decimal) string {
	if mirror.ExecutedPrice == "" || mirror.ExecutedQty == "" || mirror.ExecutedLeverage <= 0 || pnl.IsZero() {
		return ""
	}
	entry, err := decimal.New(mirror.ExecutedPrice)
	if err != nil {
		return ""
	}
	qty, err := decimal.New(mirror.ExecutedQty)
	if err != nil || qty.IsZero() {
		return ""
	}

	exposure := qty.Mul(decimal.FromInt(int64(mirror.ExecutedLeverage)))
	delta := pnl.Div(exposure, 8)
	if mirror.Side == repository.SideSell {
		return entry.Sub(delta).String()
	}
	return entry.Add(delta).String()
}
