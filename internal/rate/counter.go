package rate

import (
	"context"
	"strings"
	"time"
)

// Counter is a sliding-window event counter keyed by an arbitrary string.
//
// Implementations must be safe for concurrent use and must never serialize
// unrelated keys behind a single lock.
type Counter interface {
	// Admit evicts expired entries for key, then records now and returns
	// true when fewer than limit entries remain. It returns false without
	// recording otherwise.
	Admit(ctx context.Context, key string, window time.Duration, limit int) (bool, error)
	// Count returns the number of entries inside the window without
	// recording anything.
	Count(ctx context.Context, key string, window time.Duration) (int, error)
	// Reset drops every entry for key.
	Reset(ctx context.Context, key string) error
}

// NormalizeKey trims and lower-cases a user supplied identifier so that
// "Alice " and "alice" share a budget.
func NormalizeKey(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
