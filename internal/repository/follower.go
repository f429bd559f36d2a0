// Package repository 跟单数据访问层
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var (
	ErrFollowerNotFound = errors.New("follower not found")
	ErrMirrorNotFound   = errors.New("mirror trade not found")
)

// Follower 跟单者。核心只读，除钱包余额与 low_fund 派生字段外
// 均由外部管理后台维护。
type Follower struct {
	FollowerID      int64
	Name            string
	Credentials     string // 加密后的凭证对，调用交易所前才解密
	Fund            string // DECIMAL from DB
	RiskPerTrade    string // DECIMAL from DB，百分比 (0, 100]
	MaxTradesPerDay int    // 0 表示不限
	IsActive        bool
	LowFund         bool
	WalletBalance   string // DECIMAL from DB，最近一次轮询结果
	CreatedAtMs     int64
	UpdatedAtMs     int64
}

// FollowerRepository 跟单者仓储
type FollowerRepository struct {
	db *sql.DB
}

// NewFollowerRepository 创建仓储
func NewFollowerRepository(db *sql.DB) *FollowerRepository {
	return &FollowerRepository{db: db}
}

const followerColumns = `follower_id, name, credentials, fund, risk_per_trade,
	       max_trades_per_day, is_active, low_fund, wallet_balance,
	       created_at_ms, updated_at_ms`

// ListActive 列出所有启用的跟单者
func (r *FollowerRepository) ListActive(ctx context.Context) ([]*Follower, error) {
	query := `
		SELECT ` + followerColumns + `
		FROM copytrade.followers
		WHERE is_active = TRUE
		ORDER BY follower_id
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active followers: %w", err)
	}
	defer rows.Close()

	var followers []*Follower
	for rows.Next() {
		f, err := scanFollower(rows)
		if err != nil {
			return nil, err
		}
		followers = append(followers, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list active followers: %w", err)
	}
	return followers, nil
}

// Get 获取跟单者
func (r *FollowerRepository) Get(ctx context.Context, followerID int64) (*Follower, error) {
	query := `
		SELECT ` + followerColumns + `
		FROM copytrade.followers
		WHERE follower_id = $1
	`
	f, err := scanFollower(r.db.QueryRowContext(ctx, query, followerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrFollowerNotFound
		}
		return nil, err
	}
	return f, nil
}

// SetLowFund 更新资金不足标记
func (r *FollowerRepository) SetLowFund(ctx context.Context, followerID int64, lowFund bool, updateTimeMs int64) error {
	query := `
		UPDATE copytrade.followers
		SET low_fund = $1, updated_at_ms = $2
		WHERE follower_id = $3
	`
	result, err := r.db.ExecContext(ctx, query, lowFund, updateTimeMs, followerID)
	if err != nil {
		return fmt.Errorf("set low fund: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrFollowerNotFound
	}
	return nil
}

// UpdateWalletBalance 更新钱包余额并重新派生 low_fund（余额低于 fund 即视为不足）
func (r *FollowerRepository) UpdateWalletBalance(ctx context.Context, followerID int64, balance string, updateTimeMs int64) error {
	query := `
		UPDATE copytrade.followers
		SET wallet_balance = $1,
		    low_fund = ($1::numeric < fund),
		    updated_at_ms = $2
		WHERE follower_id = $3
	`
	result, err := r.db.ExecContext(ctx, query, balance, updateTimeMs, followerID)
	if err != nil {
		return fmt.Errorf("update wallet balance: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrFollowerNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFollower(row rowScanner) (*Follower, error) {
	var f Follower
	var name, wallet sql.NullString
	var maxTrades sql.NullInt64

	err := row.Scan(
		&f.FollowerID, &name, &f.Credentials, &f.Fund, &f.RiskPerTrade,
		&maxTrades, &f.IsActive, &f.LowFund, &wallet,
		&f.CreatedAtMs, &f.UpdatedAtMs,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan follower: %w", err)
	}

	f.Name = name.String
	f.WalletBalance = wallet.String
	f.MaxTradesPerDay = int(maxTrades.Int64)
	return &f, nil
}
