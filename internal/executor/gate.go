package executor

import (
	"context"
	"sync"
	"time"
)

// Gate 按跟单者维度限制最小调用间隔。
// 时间槽在锁内原子预占，等待发生在锁外，
// 同一跟单者的并发任务各自排队，不同跟单者互不影响。
type Gate struct {
	mu          sync.Mutex
	minInterval time.Duration
	last        map[int64]time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewGate 创建限速闸门
func NewGate(minInterval time.Duration) *Gate {
	return &Gate{
		minInterval: minInterval,
		last:        make(map[int64]time.Time),
		now:         time.Now,
		sleep:       sleepContext,
	}
}

// Wait 为 followerID 预占下一个调用槽并等待到槽位时刻。
// 预占是单次锁内读写，后续任务在槽位之上继续排队。
func (g *Gate) Wait(ctx context.Context, followerID int64) error {
	if g.minInterval <= 0 {
		return nil
	}

	g.mu.Lock()
	now := g.now()
	slot := now
	prev, hadPrev := g.last[followerID]
	if hadPrev {
		if next := prev.Add(g.minInterval); next.After(now) {
			slot = next
		}
	}
	g.last[followerID] = slot
	g.mu.Unlock()

	if delay := slot.Sub(now); delay > 0 {
		if err := g.sleep(ctx, delay); err != nil {
			g.release(followerID, slot, prev, hadPrev)
			return err
		}
	}
	return nil
}

// release 退回取消等待留下的槽位。仅当没有后续任务
// 在该槽位之上继续排队时才回滚。
func (g *Gate) release(followerID int64, slot, prev time.Time, hadPrev bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.last[followerID].Equal(slot) {
		return
	}
	if hadPrev {
		g.last[followerID] = prev
		return
	}
	delete(g.last, followerID)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
