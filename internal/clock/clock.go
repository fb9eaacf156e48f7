// Package clock provides the time source shared by windows, stores and
// token services. Production code uses [System]; tests drive a [Manual]
// clock forward explicitly.
package clock

import (
	"sync"
	"time"
)

// System returns the current wall-clock time in UTC.
func System() time.Time {
	return time.Now().UTC()
}

// OrSystem returns now when it is non-nil, otherwise [System].
func OrSystem(now func() time.Time) func() time.Time {
	if now == nil {
		return System
	}
	return now
}

// Manual is a clock that only moves when told to.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual returns a manual clock positioned at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// Set positions the clock at t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}
