package limiters

import (
	"context"
	"time"

	"github.com/MrEthical07/goGuard/internal/rate"
)

// AttemptConfig holds thresholds for failed authentication outcomes.
type AttemptConfig struct {
	Window      time.Duration
	UsernameMax int
	IPMax       int
}

// FailureOutcome reports whether each key may still attempt authentication
// after a failure was recorded.
type FailureOutcome struct {
	UsernameAllowed bool
	IPAllowed       bool
}

// AttemptTracker records authentication failures. It is distinct from the
// request-rate limiter: it counts outcomes, not requests.
type AttemptTracker struct {
	counter rate.Counter
	config  AttemptConfig
}

// NewAttemptTracker creates a tracker on top of counter.
func NewAttemptTracker(counter rate.Counter, cfg AttemptConfig) *AttemptTracker {
	return &AttemptTracker{counter: counter, config: cfg}
}

// RegisterFailure records one failure for username and one for ip. Either
// may be empty; the other is still recorded. Unknown usernames are counted
// like known ones.
func (t *AttemptTracker) RegisterFailure(ctx context.Context, username, ip string) (FailureOutcome, error) {
	out := FailureOutcome{UsernameAllowed: true, IPAllowed: true}

	if username = rate.NormalizeKey(username); username != "" {
		allowed, err := t.record(ctx, attemptUserKey(username), t.config.UsernameMax)
		if err != nil {
			return out, err
		}
		out.UsernameAllowed = allowed
	}
	if ip != "" {
		allowed, err := t.record(ctx, attemptIPKey(ip), t.config.IPMax)
		if err != nil {
			return out, err
		}
		out.IPAllowed = allowed
	}
	return out, nil
}

// IsUsernameBlocked reports whether username has reached its failure limit.
func (t *AttemptTracker) IsUsernameBlocked(ctx context.Context, username string) (bool, error) {
	username = rate.NormalizeKey(username)
	if username == "" {
		return false, nil
	}
	return t.blocked(ctx, attemptUserKey(username), t.config.UsernameMax)
}

// IsIPBlocked reports whether ip has reached its failure limit.
func (t *AttemptTracker) IsIPBlocked(ctx context.Context, ip string) (bool, error) {
	if ip == "" {
		return false, nil
	}
	return t.blocked(ctx, attemptIPKey(ip), t.config.IPMax)
}

// RegisterSuccess clears the failure history of both username and ip.
func (t *AttemptTracker) RegisterSuccess(ctx context.Context, username, ip string) error {
	if username = rate.NormalizeKey(username); username != "" {
		if err := t.counter.Reset(ctx, attemptUserKey(username)); err != nil {
			return err
		}
	}
	if ip != "" {
		return t.counter.Reset(ctx, attemptIPKey(ip))
	}
	return nil
}

// ResetUsername clears only the username history (administrative unlock).
func (t *AttemptTracker) ResetUsername(ctx context.Context, username string) error {
	username = rate.NormalizeKey(username)
	if username == "" {
		return nil
	}
	return t.counter.Reset(ctx, attemptUserKey(username))
}

func (t *AttemptTracker) record(ctx context.Context, key string, limit int) (bool, error) {
	admitted, err := t.counter.Admit(ctx, key, t.config.Window, limit)
	if err != nil || !admitted {
		return false, err
	}
	n, err := t.counter.Count(ctx, key, t.config.Window)
	if err != nil {
		return false, err
	}
	return n < limit, nil
}

func (t *AttemptTracker) blocked(ctx context.Context, key string, limit int) (bool, error) {
	n, err := t.counter.Count(ctx, key, t.config.Window)
	if err != nil {
		return false, err
	}
	return n >= limit, nil
}

func attemptUserKey(username string) string {
	return "att:user:" + username
}

func attemptIPKey(ip string) string {
	return "att:ip:" + ip
}
