package rate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/goGuard/internal/clock"
)

var testStart = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func TestMemoryCounterRejectsOverLimitAndRecovers(t *testing.T) {
	clk := clock.NewManual(testStart)
	c := NewMemoryCounter(clk.Now)
	ctx := context.Background()
	window := 10 * time.Second

	for i := 0; i < 3; i++ {
		ok, err := c.Admit(ctx, "k", window, 3)
		if err != nil || !ok {
			t.Fatalf("admit %d: ok=%v err=%v", i+1, ok, err)
		}
		clk.Advance(time.Second)
	}

	ok, _ := c.Admit(ctx, "k", window, 3)
	if ok {
		t.Fatal("expected fourth event inside window to be rejected")
	}
	if n, _ := c.Count(ctx, "k", window); n != 3 {
		t.Fatalf("rejected admission must not be recorded, count=%d", n)
	}

	// First event was at start; move to exactly start+window.
	clk.Set(testStart.Add(window))
	ok, _ = c.Admit(ctx, "k", window, 3)
	if !ok {
		t.Fatal("expected admission once the first event left the window")
	}
}

func TestMemoryCounterKeysAreIndependent(t *testing.T) {
	clk := clock.NewManual(testStart)
	c := NewMemoryCounter(clk.Now)
	ctx := context.Background()

	if ok, _ := c.Admit(ctx, "a", time.Minute, 1); !ok {
		t.Fatal("first admission for a rejected")
	}
	if ok, _ := c.Admit(ctx, "a", time.Minute, 1); ok {
		t.Fatal("second admission for a accepted")
	}
	if ok, _ := c.Admit(ctx, "b", time.Minute, 1); !ok {
		t.Fatal("key b must not share a's budget")
	}
}

func TestMemoryCounterConcurrentAdmissionsNeverExceedLimit(t *testing.T) {
	c := NewMemoryCounter(nil)
	ctx := context.Background()

	const callers = 64
	const limit = 10
	var admitted atomic.Int64
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			if ok, _ := c.Admit(ctx, "hot", time.Hour, limit); ok {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	if admitted.Load() != limit {
		t.Fatalf("expected exactly %d admissions, got %d", limit, admitted.Load())
	}
}

func TestMemoryCounterResetAndPurge(t *testing.T) {
	clk := clock.NewManual(testStart)
	c := NewMemoryCounter(clk.Now)
	ctx := context.Background()

	c.Admit(ctx, "x", time.Minute, 1)
	if err := c.Reset(ctx, "x"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if ok, _ := c.Admit(ctx, "x", time.Minute, 1); !ok {
		t.Fatal("expected admission after reset")
	}

	c.Admit(ctx, "y", time.Minute, 5)
	clk.Advance(2 * time.Minute)
	if removed := c.Purge(time.Minute); removed != 2 {
		t.Fatalf("expected 2 idle keys purged, got %d", removed)
	}
	if c.Len() != 0 {
		t.Fatalf("expected no tracked keys, got %d", c.Len())
	}
	if ok, _ := c.Admit(ctx, "y", time.Minute, 1); !ok {
		t.Fatal("purged key must be usable again")
	}
}

func TestMemoryCounterZeroLimitRejects(t *testing.T) {
	c := NewMemoryCounter(nil)
	if ok, _ := c.Admit(context.Background(), "k", time.Second, 0); ok {
		t.Fatal("zero limit must reject")
	}
}

func BenchmarkMemoryCounter(b *testing.B) {
	c := NewMemoryCounter(nil)
	ctx := context.Background()
	keys := []string{"rl:ip:10.0.0.1", "rl:ip:10.0.0.2", "rl:user:alice", "rl:user:bob"}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = c.Admit(ctx, keys[i%len(keys)], time.Minute, 1<<30)
	}
}
