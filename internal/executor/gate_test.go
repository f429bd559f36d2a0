package executor

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"
)

// 测试用时钟：只有 sleep 会推进时间
type fakeTimeline struct {
	mu     sync.Mutex
	now    time.Time
	slept  []time.Duration
	frozen bool
}

func newFakeTimeline() *fakeTimeline {
	return &fakeTimeline{now: time.Unix(1700000000, 0)}
}

func (f *fakeTimeline) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeTimeline) Sleep(ctx context.Context, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slept = append(f.slept, d)
	if !f.frozen {
		f.now = f.now.Add(d)
	}
	return nil
}

func (f *fakeTimeline) sleeps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.slept))
	copy(out, f.slept)
	return out
}

func newTestGate(interval time.Duration, tl *fakeTimeline) *Gate {
	g := NewGate(interval)
	g.now = tl.Now
	g.sleep = tl.Sleep
	return g
}

func TestGateBackToBackCalls(t *testing.T) {
	tl := newFakeTimeline()
	g := newTestGate(2*time.Second, tl)
	ctx := context.Background()

	if err := g.Wait(ctx, 1); err != nil {
		t.Fatalf("first Wait failed: %v", err)
	}
	if err := g.Wait(ctx, 1); err != nil {
		t.Fatalf("second Wait failed: %v", err)
	}

	sleeps := tl.sleeps()
	if len(sleeps) != 1 {
		t.Fatalf("sleeps = %v, want exactly one", sleeps)
	}
	if sleeps[0] < 2*time.Second {
		t.Errorf("second call waited %v, want >= 2s", sleeps[0])
	}
}

func TestGateIndependentFollowers(t *testing.T) {
	tl := newFakeTimeline()
	g := newTestGate(2*time.Second, tl)
	ctx := context.Background()

	if err := g.Wait(ctx, 1); err != nil {
		t.Fatalf("Wait(1) failed: %v", err)
	}
	if err := g.Wait(ctx, 2); err != nil {
		t.Fatalf("Wait(2) failed: %v", err)
	}

	if sleeps := tl.sleeps(); len(sleeps) != 0 {
		t.Errorf("different followers delayed each other: %v", sleeps)
	}
}

func TestGateConcurrentReservation(t *testing.T) {
	// 并发任务各自预占槽位：槽位间隔恒为 minInterval，
	// 时钟冻结时等待时长必为 0,2s,4s,6s,8s
	tl := newFakeTimeline()
	tl.frozen = true
	g := newTestGate(2*time.Second, tl)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := g.Wait(ctx, 7); err != nil {
				t.Errorf("Wait failed: %v", err)
			}
		}()
	}
	wg.Wait()

	sleeps := tl.sleeps()
	sleeps = append(sleeps, 0) // 第一个调用不等待，不产生 sleep 记录
	sort.Slice(sleeps, func(i, j int) bool { return sleeps[i] < sleeps[j] })

	want := []time.Duration{0, 2 * time.Second, 4 * time.Second, 6 * time.Second, 8 * time.Second}
	if len(sleeps) != len(want) {
		t.Fatalf("sleeps = %v, want %v", sleeps, want)
	}
	for i := range want {
		if sleeps[i] != want[i] {
			t.Errorf("sleeps[%d] = %v, want %v", i, sleeps[i], want[i])
		}
	}
}

func TestGateZeroInterval(t *testing.T) {
	tl := newFakeTimeline()
	g := newTestGate(0, tl)

	for i := 0; i < 3; i++ {
		if err := g.Wait(context.Background(), 1); err != nil {
			t.Fatalf("Wait failed: %v", err)
		}
	}
	if sleeps := tl.sleeps(); len(sleeps) != 0 {
		t.Errorf("zero interval gate slept: %v", sleeps)
	}
}

func TestGateCancelledWaitReleasesSlot(t *testing.T) {
	// 取消等待不该留下占着不用的槽位，
	// 下一次真实调用只按上一次真实调用排队
	tl := newFakeTimeline()
	tl.frozen = true
	g := newTestGate(2*time.Second, tl)
	g.sleep = func(ctx context.Context, d time.Duration) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return tl.Sleep(ctx, d)
	}

	if err := g.Wait(context.Background(), 1); err != nil {
		t.Fatalf("first Wait failed: %v", err)
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if err := g.Wait(cancelled, 1); err != context.Canceled {
		t.Fatalf("Wait on cancelled context = %v, want context.Canceled", err)
	}

	if err := g.Wait(context.Background(), 1); err != nil {
		t.Fatalf("third Wait failed: %v", err)
	}

	sleeps := tl.sleeps()
	if len(sleeps) != 1 || sleeps[0] != 2*time.Second {
		t.Fatalf("sleeps = %v, want a single 2s wait after the cancelled call", sleeps)
	}
}

func TestGateCancelledContext(t *testing.T) {
	g := NewGate(time.Hour)
	ctx := context.Background()
	if err := g.Wait(ctx, 1); err != nil {
		t.Fatalf("first Wait failed: %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := g.Wait(cancelled, 1); err != context.Canceled {
		t.Errorf("Wait on cancelled context = %v, want context.Canceled", err)
	}
}
