package rate

import (
	"context"
	"time"
)

// Config holds request-rate budgets.
type Config struct {
	Window      time.Duration
	IPMax       int
	UsernameMax int
}

// Limiter makes admission decisions for client IPs and submitted usernames
// using two independent budgets on a shared [Counter].
type Limiter struct {
	counter Counter
	config  Config
}

// New creates a [Limiter] on top of counter.
func New(counter Counter, cfg Config) *Limiter {
	return &Limiter{
		counter: counter,
		config:  cfg,
	}
}

// AllowIP admits one request from ip. Returns [ErrRateLimited] when the IP
// budget is exhausted. An empty ip is always admitted.
func (l *Limiter) AllowIP(ctx context.Context, ip string) error {
	if ip == "" {
		return nil
	}
	return l.admit(ctx, ipKey(ip), l.config.IPMax)
}

// AllowUsername admits one request naming username.
func (l *Limiter) AllowUsername(ctx context.Context, username string) error {
	username = NormalizeKey(username)
	if username == "" {
		return nil
	}
	return l.admit(ctx, userKey(username), l.config.UsernameMax)
}

// Reset clears both budgets for the pair. Empty values are skipped.
func (l *Limiter) Reset(ctx context.Context, username, ip string) error {
	if username = NormalizeKey(username); username != "" {
		if err := l.counter.Reset(ctx, userKey(username)); err != nil {
			return err
		}
	}
	if ip != "" {
		return l.counter.Reset(ctx, ipKey(ip))
	}
	return nil
}

func (l *Limiter) admit(ctx context.Context, key string, limit int) error {
	ok, err := l.counter.Admit(ctx, key, l.config.Window, limit)
	if err != nil {
		return err
	}
	if !ok {
		return ErrRateLimited
	}
	return nil
}

func ipKey(ip string) string {
	return "rl:ip:" + ip
}

func userKey(username string) string {
	return "rl:user:" + username
}
