package middleware

import (
	"net/http"
	"sync"
	"time"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const (
	issueLimiterSize = 10000
	issueLimiterIdle = 30 * time.Minute
)

// IssueLimiter is a per-IP token bucket for challenge generation. Buckets
// idle for longer than issueLimiterIdle are dropped, as is the least
// recently used bucket once issueLimiterSize IPs are tracked.
type IssueLimiter struct {
	mu      sync.Mutex
	buckets *expirable.LRU[string, *rate.Limiter]
	limit   rate.Limit
	burst   int
	proxies int
}

// NewIssueLimiter allows perMinute requests per IP with the given burst.
func NewIssueLimiter(perMinute, burst, trustedProxies int) *IssueLimiter {
	return &IssueLimiter{
		buckets: expirable.NewLRU[string, *rate.Limiter](issueLimiterSize, nil, issueLimiterIdle),
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   burst,
		proxies: trustedProxies,
	}
}

// IssueLimiterFor builds an IssueLimiter from the engine's captcha and
// pipeline settings.
func IssueLimiterFor(engine *goGuard.Engine) *IssueLimiter {
	cfg := engine.Config()
	return NewIssueLimiter(cfg.Captcha.IssuePerMinute, cfg.Captcha.IssueBurst, cfg.Pipeline.TrustedProxies)
}

// Allow consumes one token from ip's bucket.
func (l *IssueLimiter) Allow(ip string) bool {
	l.mu.Lock()
	bucket, ok := l.buckets.Get(ip)
	if !ok {
		bucket = rate.NewLimiter(l.limit, l.burst)
	}
	// Re-adding refreshes the idle timer.
	l.buckets.Add(ip, bucket)
	l.mu.Unlock()

	return bucket.Allow()
}

// Len reports how many IPs are tracked.
func (l *IssueLimiter) Len() int {
	return l.buckets.Len()
}

// Limit wraps a challenge-issuing handler.
func (l *IssueLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := goGuard.ClientIP(r.Context())
		if ip == "" {
			ip = GetClientIP(r, l.proxies)
		}
		if !l.Allow(ip) {
			WriteError(w, goGuard.ErrIPRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}
