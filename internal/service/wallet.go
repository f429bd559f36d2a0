package service

import (
	"context"
	"time"

	"github.com/copytrade/mirror/pkg/crypto"
	"github.com/copytrade/mirror/pkg/logger"
)

// WalletSource 钱包余额来源接口，由 venue.Client 实现
type WalletSource interface {
	GetWalletBalance(ctx context.Context, creds crypto.Credentials) (string, error)
}

// WalletService 定期轮询跟单者的交易所钱包余额并更新 low_fund 标记。
// low_fund 在仓储层由余额和配置资金比较派生，这里只负责喂余额。
type WalletService struct {
	followers FollowerStore
	wallet    WalletSource
	opener    CredentialOpener
	log       *logger.Logger

	now func() time.Time
}

// NewWalletService 创建钱包轮询服务
func NewWalletService(followers FollowerStore, wallet WalletSource, opener CredentialOpener, log *logger.Logger) *WalletService {
	return &WalletService{
		followers: followers,
		wallet:    wallet,
		opener:    opener,
		log:       log,
		now:       time.Now,
	}
}

// PollOnce 轮询一轮全部启用的跟单者；单个失败只记日志不中断
func (s *WalletService) PollOnce(ctx context.Context) error {
	followers, err := s.followers.ListActive(ctx)
	if err != nil {
		return err
	}

	updated := 0
	for _, follower := range followers {
		log := s.log.WithContext(ctx).WithField("follower_id", follower.FollowerID)

		creds, err := s.opener.Open(follower.Credentials)
		if err != nil {
			log.WithError(err).Warn("open credentials failed, skipping wallet poll")
			continue
		}
		balance, err := s.wallet.GetWalletBalance(ctx, creds)
		if err != nil {
			log.WithError(err).Warn("wallet balance query failed")
			continue
		}
		if err := s.followers.UpdateWalletBalance(ctx, follower.FollowerID, balance, s.now().UnixMilli()); err != nil {
			log.WithError(err).Warn("update wallet balance failed")
			continue
		}
		updated++
	}

	s.log.WithContext(ctx).Infof("wallet poll finished", map[string]interface{}{
		"followers": len(followers),
		"updated":   updated,
	})
	return nil
}

// Run 按固定间隔轮询直到 ctx 取消
func (s *WalletService) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.PollOnce(ctx); err != nil {
				s.log.WithError(err).Error("wallet poll failed")
			}
		}
	}
}
