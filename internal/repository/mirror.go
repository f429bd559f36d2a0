package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// MirrorStatus 镜像单状态
const (
	StatusPending  = 0
	StatusExecuted = 1
	StatusFailed   = 2
)

// Side 方向
const (
	SideBuy  = 1
	SideSell = 2
)

// MirrorTrade 镜像单：一条主交易对一个跟单者的复制尝试。
// 由编排器创建，状态只能从 pending 单向迁移到 executed 或 failed。
type MirrorTrade struct {
	MirrorID   int64
	TradeID    int64
	FollowerID int64
	Pair       string
	Side       int

	RequestedQty      string // DECIMAL from DB
	RequestedPrice    string // DECIMAL from DB
	RequestedLeverage int

	ExecutedQty      string // DECIMAL from DB
	ExecutedPrice    string // DECIMAL from DB
	ExecutedLeverage int

	Status       int
	VenueOrderID string
	ErrorMessage string

	Pnl       string // DECIMAL from DB，空串表示尚未结算
	ExitPrice string // DECIMAL from DB

	CreatedAtMs int64
	UpdatedAtMs int64
}

// MirrorRepository 镜像单仓储
type MirrorRepository struct {
	db *sql.DB
}

// NewMirrorRepository 创建仓储
func NewMirrorRepository(db *sql.DB) *MirrorRepository {
	return &MirrorRepository{db: db}
}

const mirrorColumns = `mirror_id, trade_id, follower_id, pair, side,
	       requested_qty, requested_price, requested_leverage,
	       executed_qty, executed_price, executed_leverage,
	       status, venue_order_id, error_message, pnl, exit_price,
	       created_at_ms, updated_at_ms`

// Create 创建 pending 镜像单
func (r *MirrorRepository) Create(ctx context.Context, m *MirrorTrade) error {
	query := `
		INSERT INTO copytrade.mirror_trades
		(mirror_id, trade_id, follower_id, pair, side,
		 requested_qty, requested_price, requested_leverage, status,
		 created_at_ms, updated_at_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.ExecContext(ctx, query,
		m.MirrorID, m.TradeID, m.FollowerID, m.Pair, m.Side,
		m.RequestedQty, m.RequestedPrice, m.RequestedLeverage, StatusPending,
		m.CreatedAtMs, m.UpdatedAtMs,
	)
	if err != nil {
		return fmt.Errorf("insert mirror trade: %w", err)
	}
	m.Status = StatusPending
	return nil
}

// Get 获取镜像单
func (r *MirrorRepository) Get(ctx context.Context, mirrorID int64) (*MirrorTrade, error) {
	query := `
		SELECT ` + mirrorColumns + `
		FROM copytrade.mirror_trades
		WHERE mirror_id = $1
	`
	m, err := scanMirror(r.db.QueryRowContext(ctx, query, mirrorID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMirrorNotFound
		}
		return nil, err
	}
	return m, nil
}

// MarkExecuted 原子落盘执行结果。只有 pending 记录能迁移到 executed；
// 对已终态记录调用不产生任何写入（幂等）。
func (r *MirrorRepository) MarkExecuted(ctx context.Context, mirrorID int64, venueOrderID, executedPrice, executedQty string, executedLeverage int, updateTimeMs int64) (bool, error) {
	query := `
		UPDATE copytrade.mirror_trades
		SET status = $1, venue_order_id = $2, executed_price = $3,
		    executed_qty = $4, executed_leverage = $5, updated_at_ms = $6
		WHERE mirror_id = $7 AND status = $8
	`
	result, err := r.db.ExecContext(ctx, query,
		StatusExecuted, venueOrderID, executedPrice,
		executedQty, executedLeverage, updateTimeMs,
		mirrorID, StatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("mark executed: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// MarkFailed 记录失败原因。终态记录不再改写（幂等）。
func (r *MirrorRepository) MarkFailed(ctx context.Context, mirrorID int64, errorMessage string, updateTimeMs int64) (bool, error) {
	query := `
		UPDATE copytrade.mirror_trades
		SET status = $1, error_message = $2, updated_at_ms = $3
		WHERE mirror_id = $4 AND status = $5
	`
	result, err := r.db.ExecContext(ctx, query,
		StatusFailed, errorMessage, updateTimeMs,
		mirrorID, StatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("mark failed: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// UpdatePnL 落盘已结算盈亏。只写一次：pnl 已存在时为安全空操作。
func (r *MirrorRepository) UpdatePnL(ctx context.Context, mirrorID int64, pnl, exitPrice string, updateTimeMs int64) (bool, error) {
	query := `
		UPDATE copytrade.mirror_trades
		SET pnl = $1, exit_price = NULLIF($2, ''), updated_at_ms = $3
		WHERE mirror_id = $4 AND status = $5 AND pnl IS NULL
	`
	result, err := r.db.ExecContext(ctx, query,
		pnl, exitPrice, updateTimeMs, mirrorID, StatusExecuted,
	)
	if err != nil {
		return false, fmt.Errorf("update pnl: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// ListExecutedWithoutPnL 列出已执行但尚未结算盈亏的镜像单（对账扫描输入）
func (r *MirrorRepository) ListExecutedWithoutPnL(ctx context.Context, limit int) ([]*MirrorTrade, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	query := `
		SELECT ` + mirrorColumns + `
		FROM copytrade.mirror_trades
		WHERE status = $1 AND pnl IS NULL AND venue_order_id <> ''
		ORDER BY created_at_ms
		LIMIT $2
	`
	return r.queryMirrors(ctx, query, StatusExecuted, limit)
}

// ListByTrade 列出一条主交易的全部镜像单
func (r *MirrorRepository) ListByTrade(ctx context.Context, tradeID int64) ([]*MirrorTrade, error) {
	query := `
		SELECT ` + mirrorColumns + `
		FROM copytrade.mirror_trades
		WHERE trade_id = $1
		ORDER BY follower_id
	`
	return r.queryMirrors(ctx, query, tradeID)
}

// CountForFollowerSince 统计某跟单者自某时刻起创建的镜像单数（日限额用）
func (r *MirrorRepository) CountForFollowerSince(ctx context.Context, followerID int64, sinceMs int64) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM copytrade.mirror_trades
		WHERE follower_id = $1 AND created_at_ms >= $2
	`
	var count int
	if err := r.db.QueryRowContext(ctx, query, followerID, sinceMs).Scan(&count); err != nil {
		return 0, fmt.Errorf("count mirrors: %w", err)
	}
	return count, nil
}

func (r *MirrorRepository) queryMirrors(ctx context.Context, query string, args ...interface{}) ([]*MirrorTrade, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query mirror trades: %w", err)
	}
	defer rows.Close()

	var mirrors []*MirrorTrade
	for rows.Next() {
		m, err := scanMirror(rows)
		if err != nil {
			return nil, err
		}
		mirrors = append(mirrors, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query mirror trades: %w", err)
	}
	return mirrors, nil
}

func scanMirror(row rowScanner) (*MirrorTrade, error) {
	var m MirrorTrade
	var executedQty, executedPrice, venueOrderID sql.NullString
	var errorMessage, pnl, exitPrice sql.NullString
	var executedLeverage sql.NullInt64

	err := row.Scan(
		&m.MirrorID, &m.TradeID, &m.FollowerID, &m.Pair, &m.Side,
		&m.RequestedQty, &m.RequestedPrice, &m.RequestedLeverage,
		&executedQty, &executedPrice, &executedLeverage,
		&m.Status, &venueOrderID, &errorMessage, &pnl, &exitPrice,
		&m.CreatedAtMs, &m.UpdatedAtMs,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan mirror trade: %w", err)
	}

	m.ExecutedQty = executedQty.String
	m.ExecutedPrice = executedPrice.String
	m.ExecutedLeverage = int(executedLeverage.Int64)
	m.VenueOrderID = venueOrderID.String
	m.ErrorMessage = errorMessage.String
	m.Pnl = pnl.String
	m.ExitPrice = exitPrice.String
	return &m, nil
}
