package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func followerRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"follower_id", "name", "credentials", "fund", "risk_per_trade",
		"max_trades_per_day", "is_active", "low_fund", "wallet_balance",
		"created_at_ms", "updated_at_ms",
	}).AddRow(
		int64(1), "alice", "sealed:v1:abc", "100", "5",
		10, true, false, "250.5",
		int64(1000), int64(2000),
	).AddRow(
		int64(2), nil, "sealed:v1:def", "500", "2.5",
		nil, true, true, nil,
		int64(1000), int64(2000),
	)
}

func TestFollowerRepository_ListActive(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	repo := NewFollowerRepository(db)
	mock.ExpectQuery("SELECT (.+) FROM copytrade.followers").
		WillReturnRows(followerRows())

	followers, err := repo.ListActive(context.Background())
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(followers) != 2 {
		t.Fatalf("got %d followers, want 2", len(followers))
	}

	first := followers[0]
	if first.FollowerID != 1 || first.Name != "alice" || first.Fund != "100" {
		t.Fatalf("unexpected follower: %+v", first)
	}
	if first.MaxTradesPerDay != 10 || first.WalletBalance != "250.5" {
		t.Fatalf("unexpected follower: %+v", first)
	}

	// NULL 列降级为零值
	second := followers[1]
	if second.Name != "" || second.MaxTradesPerDay != 0 || second.WalletBalance != "" {
		t.Fatalf("nullable columns not zeroed: %+v", second)
	}
	if !second.LowFund {
		t.Fatal("expected low_fund to carry through")
	}
}

func TestFollowerRepository_GetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	repo := NewFollowerRepository(db)
	mock.ExpectQuery("SELECT (.+) FROM copytrade.followers").
		WithArgs(int64(404)).
		WillReturnRows(sqlmock.NewRows([]string{"follower_id"}))

	_, err = repo.Get(context.Background(), 404)
	if !errors.Is(err, ErrFollowerNotFound) {
		t.Fatalf("err = %v, want ErrFollowerNotFound", err)
	}
}

func TestFollowerRepository_UpdateWalletBalance(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	repo := NewFollowerRepository(db)
	query := regexp.QuoteMeta(`
		UPDATE copytrade.followers
		SET wallet_balance = $1,
		    low_fund = ($1::numeric < fund),
		    updated_at_ms = $2
		WHERE follower_id = $3
	`)

	mock.ExpectExec(query).
		WithArgs("250.5", int64(2000), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.UpdateWalletBalance(context.Background(), 1, "250.5", 2000); err != nil {
		t.Fatalf("update wallet balance: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestFollowerRepository_UpdateWalletBalanceNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	repo := NewFollowerRepository(db)
	mock.ExpectExec("UPDATE copytrade.followers").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = repo.UpdateWalletBalance(context.Background(), 404, "1", 2000)
	if !errors.Is(err, ErrFollowerNotFound) {
		t.Fatalf("err = %v, want ErrFollowerNotFound", err)
	}
}

func TestFollowerRepository_SetLowFund(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	repo := NewFollowerRepository(db)
	query := regexp.QuoteMeta(`
		UPDATE copytrade.followers
		SET low_fund = $1, updated_at_ms = $2
		WHERE follower_id = $3
	`)

	mock.ExpectExec(query).
		WithArgs(true, int64(2000), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.SetLowFund(context.Background(), 1, true, 2000); err != nil {
		t.Fatalf("set low fund: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
