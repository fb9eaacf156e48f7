package rate

import (
	"context"
	"sync"
	"time"

	"github.com/MrEthical07/goGuard/internal/clock"
)

type bucket struct {
	mu    sync.Mutex
	times []time.Time
	dead  bool
}

// evict drops timestamps at or before cutoff. Callers hold b.mu.
func (b *bucket) evict(cutoff time.Time) {
	i := 0
	for i < len(b.times) && !b.times[i].After(cutoff) {
		i++
	}
	if i == len(b.times) {
		b.times = b.times[:0]
		return
	}
	b.times = b.times[i:]
}

// MemoryCounter keeps one timestamp deque per key in process memory.
// Each key is guarded by its own mutex.
type MemoryCounter struct {
	buckets sync.Map // string -> *bucket
	now     func() time.Time
}

// NewMemoryCounter creates an in-memory counter. A nil now uses the
// system clock.
func NewMemoryCounter(now func() time.Time) *MemoryCounter {
	return &MemoryCounter{now: clock.OrSystem(now)}
}

// lockBucket returns the live bucket for key with its mutex held.
func (c *MemoryCounter) lockBucket(key string) *bucket {
	for {
		v, _ := c.buckets.LoadOrStore(key, &bucket{})
		b := v.(*bucket)
		b.mu.Lock()
		if !b.dead {
			return b
		}
		// Purged between load and lock; retry against the replacement.
		b.mu.Unlock()
	}
}

// Admit implements [Counter].
func (c *MemoryCounter) Admit(_ context.Context, key string, window time.Duration, limit int) (bool, error) {
	if limit <= 0 {
		return false, nil
	}
	now := c.now()

	b := c.lockBucket(key)
	defer b.mu.Unlock()

	b.evict(now.Add(-window))
	if len(b.times) >= limit {
		return false, nil
	}
	b.times = append(b.times, now)
	return true, nil
}

// Count implements [Counter].
func (c *MemoryCounter) Count(_ context.Context, key string, window time.Duration) (int, error) {
	v, ok := c.buckets.Load(key)
	if !ok {
		return 0, nil
	}
	b := v.(*bucket)
	b.mu.Lock()
	defer b.mu.Unlock()

	b.evict(c.now().Add(-window))
	return len(b.times), nil
}

// Reset implements [Counter].
func (c *MemoryCounter) Reset(_ context.Context, key string) error {
	v, ok := c.buckets.Load(key)
	if !ok {
		return nil
	}
	b := v.(*bucket)
	b.mu.Lock()
	b.times = nil
	b.mu.Unlock()
	return nil
}

// Purge removes keys whose newest entry is older than maxAge and returns
// how many were dropped. maxAge should be at least the longest window the
// counter serves.
func (c *MemoryCounter) Purge(maxAge time.Duration) int {
	cutoff := c.now().Add(-maxAge)
	removed := 0
	c.buckets.Range(func(k, v any) bool {
		b := v.(*bucket)
		b.mu.Lock()
		b.evict(cutoff)
		if len(b.times) == 0 {
			b.dead = true
			c.buckets.CompareAndDelete(k, b)
			removed++
		}
		b.mu.Unlock()
		return true
	})
	return removed
}

// Len returns the number of tracked keys.
func (c *MemoryCounter) Len() int {
	n := 0
	c.buckets.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
