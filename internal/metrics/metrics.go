package metrics

import (
	"sync/atomic"
	"time"
)

const (
	// BucketCount is the number of latency histogram buckets.
	BucketCount   = 8
	cacheLineSize = 64
)

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

type histogram struct {
	buckets [BucketCount]uint64
}

// Set is a fixed-size group of counters and histograms. A nil or disabled
// Set ignores writes and reads as zero.
type Set struct {
	enabled    bool
	latency    bool
	counters   []paddedCounter
	histograms []histogram
}

// New allocates a Set with n ids.
func New(n int, enabled, latency bool) *Set {
	return &Set{
		enabled:    enabled,
		latency:    enabled && latency,
		counters:   make([]paddedCounter, n),
		histograms: make([]histogram, n),
	}
}

func (s *Set) Enabled() bool        { return s != nil && s.enabled }
func (s *Set) LatencyEnabled() bool { return s != nil && s.latency }

// Len returns the number of ids.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.counters)
}

func (s *Set) Inc(id int) {
	if !s.Enabled() || id < 0 || id >= len(s.counters) {
		return
	}
	atomic.AddUint64(&s.counters[id].value, 1)
}

// Observe records d in id's histogram when latency tracking is enabled.
func (s *Set) Observe(id int, d time.Duration) {
	if !s.LatencyEnabled() || id < 0 || id >= len(s.histograms) {
		return
	}
	atomic.AddUint64(&s.histograms[id].buckets[BucketIndex(d)], 1)
}

func (s *Set) Value(id int) uint64 {
	if s == nil || id < 0 || id >= len(s.counters) {
		return 0
	}
	return atomic.LoadUint64(&s.counters[id].value)
}

// Buckets returns a non-cumulative copy of id's histogram.
func (s *Set) Buckets(id int) []uint64 {
	out := make([]uint64, BucketCount)
	if s == nil || id < 0 || id >= len(s.histograms) {
		return out
	}
	for i := range out {
		out[i] = atomic.LoadUint64(&s.histograms[id].buckets[i])
	}
	return out
}

// BucketIndex maps a latency to its bucket: <=5ms, <=10ms, <=25ms, <=50ms,
// <=100ms, <=250ms, <=500ms, +Inf.
func BucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
