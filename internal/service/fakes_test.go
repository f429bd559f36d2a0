package service

import (
	"context"
	"errors"
	"sync"

	"github.com/copytrade/mirror/internal/repository"
	"github.com/copytrade/mirror/internal/venue"
	"github.com/copytrade/mirror/pkg/crypto"
)

// 内存版跟单者存储
type fakeFollowerStore struct {
	mu        sync.Mutex
	followers map[int64]*repository.Follower
	listErr   error
}

func newFakeFollowerStore(followers ...*repository.Follower) *fakeFollowerStore {
	s := &fakeFollowerStore{followers: make(map[int64]*repository.Follower)}
	for _, f := range followers {
		s.followers[f.FollowerID] = f
	}
	return s
}

func (s *fakeFollowerStore) ListActive(ctx context.Context) ([]*repository.Follower, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var active []*repository.Follower
	for _, f := range s.followers {
		if f.IsActive {
			active = append(active, f)
		}
	}
	return active, nil
}

func (s *fakeFollowerStore) Get(ctx context.Context, followerID int64) (*repository.Follower, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.followers[followerID]
	if !ok {
		return nil, repository.ErrFollowerNotFound
	}
	return f, nil
}

func (s *fakeFollowerStore) SetLowFund(ctx context.Context, followerID int64, lowFund bool, updateTimeMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.followers[followerID]
	if !ok {
		return repository.ErrFollowerNotFound
	}
	f.LowFund = lowFund
	return nil
}

func (s *fakeFollowerStore) UpdateWalletBalance(ctx context.Context, followerID int64, balance string, updateTimeMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.followers[followerID]
	if !ok {
		return repository.ErrFollowerNotFound
	}
	f.WalletBalance = balance
	return nil
}

// 内存版镜像单存储，状态迁移守卫与 SQL 版一致
type fakeMirrorStore struct {
	mu        sync.Mutex
	mirrors   map[int64]*repository.MirrorTrade
	createErr map[int64]error // followerID -> 注入的创建错误
	counts    map[int64]int
}

func newFakeMirrorStore() *fakeMirrorStore {
	return &fakeMirrorStore{
		mirrors:   make(map[int64]*repository.MirrorTrade),
		createErr: make(map[int64]error),
		counts:    make(map[int64]int),
	}
}

func (s *fakeMirrorStore) Create(ctx context.Context, m *repository.MirrorTrade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.createErr[m.FollowerID]; err != nil {
		return err
	}
	clone := *m
	clone.Status = repository.StatusPending
	s.mirrors[m.MirrorID] = &clone
	m.Status = repository.StatusPending
	return nil
}

func (s *fakeMirrorStore) Get(ctx context.Context, mirrorID int64) (*repository.MirrorTrade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mirrors[mirrorID]
	if !ok {
		return nil, repository.ErrMirrorNotFound
	}
	clone := *m
	return &clone, nil
}

func (s *fakeMirrorStore) MarkExecuted(ctx context.Context, mirrorID int64, venueOrderID, executedPrice, executedQty string, executedLeverage int, updateTimeMs int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mirrors[mirrorID]
	if !ok || m.Status != repository.StatusPending {
		return false, nil
	}
	m.Status = repository.StatusExecuted
	m.VenueOrderID = venueOrderID
	m.ExecutedPrice = executedPrice
	m.ExecutedQty = executedQty
	m.ExecutedLeverage = executedLeverage
	m.UpdatedAtMs = updateTimeMs
	return true, nil
}

func (s *fakeMirrorStore) MarkFailed(ctx context.Context, mirrorID int64, errorMessage string, updateTimeMs int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mirrors[mirrorID]
	if !ok || m.Status != repository.StatusPending {
		return false, nil
	}
	m.Status = repository.StatusFailed
	m.ErrorMessage = errorMessage
	m.UpdatedAtMs = updateTimeMs
	return true, nil
}

func (s *fakeMirrorStore) UpdatePnL(ctx context.Context, mirrorID int64, pnl, exitPrice string, updateTimeMs int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mirrors[mirrorID]
	if !ok || m.Status != repository.StatusExecuted || m.Pnl != "" {
		return false, nil
	}
	m.Pnl = pnl
	m.ExitPrice = exitPrice
	m.UpdatedAtMs = updateTimeMs
	return true, nil
}

func (s *fakeMirrorStore) ListExecutedWithoutPnL(ctx context.Context, limit int) ([]*repository.MirrorTrade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*repository.MirrorTrade
	for _, m := range s.mirrors {
		if m.Status == repository.StatusExecuted && m.Pnl == "" && m.VenueOrderID != "" {
			clone := *m
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *fakeMirrorStore) ListByTrade(ctx context.Context, tradeID int64) ([]*repository.MirrorTrade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*repository.MirrorTrade
	for _, m := range s.mirrors {
		if m.TradeID == tradeID {
			clone := *m
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *fakeMirrorStore) CountForFollowerSince(ctx context.Context, followerID int64, sinceMs int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[followerID], nil
}

func (s *fakeMirrorStore) get(mirrorID int64) *repository.MirrorTrade {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mirrors[mirrorID]
}

// 顺序递增 ID
type seqIDGen struct {
	mu   sync.Mutex
	next int64
}

func (g *seqIDGen) MustGenerate() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return g.next
}

// 明文直通的凭证解密桩
type plainOpener struct {
	failFor map[string]bool
}

func (o *plainOpener) Open(blob string) (crypto.Credentials, error) {
	if o.failFor != nil && o.failFor[blob] {
		return crypto.Credentials{}, errors.New("sealed blob corrupted")
	}
	return crypto.Credentials{APIKey: blob, APISecret: blob}, nil
}

// 固定元数据来源
type fixedMetaSource struct {
	meta *venue.InstrumentMeta
	err  error
}

func (m *fixedMetaSource) Get(ctx context.Context, pair string) (*venue.InstrumentMeta, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.meta, nil
}

// 可编排的执行器桩
type stubExecutor struct {
	mu     sync.Mutex
	calls  int
	result *venue.OrderResult
	err    error
}

func (e *stubExecutor) Execute(ctx context.Context, followerID int64, creds crypto.Credentials, spec *venue.OrderSpec) (*venue.OrderResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return e.result, nil
}

// 固定流水来源
type fixedLedger struct {
	entries map[string][]venue.LedgerEntry
	err     error
}

func (l *fixedLedger) GetTransactions(ctx context.Context, creds crypto.Credentials, orderID string) ([]venue.LedgerEntry, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.entries[orderID], nil
}

// 记录派发的执行入口桩
type recordingRunner struct {
	mu   sync.Mutex
	wg   sync.WaitGroup
	runs []int64 // mirrorIDs
}

func (r *recordingRunner) Run(ctx context.Context, mirror *repository.MirrorTrade, follower *repository.Follower, trade *PrimaryTrade) {
	r.mu.Lock()
	r.runs = append(r.runs, mirror.MirrorID)
	r.mu.Unlock()
	r.wg.Done()
}

func (r *recordingRunner) mirrorIDs() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int64, len(r.runs))
	copy(out, r.runs)
	return out
}
