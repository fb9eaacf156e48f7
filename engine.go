package goGuard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/goGuard/challenge"
	internalaudit "github.com/MrEthical07/goGuard/internal/audit"
	"github.com/MrEthical07/goGuard/internal/limiters"
	"github.com/MrEthical07/goGuard/internal/rate"
	"github.com/MrEthical07/goGuard/internal/stores"
	"github.com/MrEthical07/goGuard/jwt"
	"github.com/MrEthical07/goGuard/password"
	"github.com/MrEthical07/goGuard/permission"
	"github.com/MrEthical07/goGuard/refresh"
	"github.com/sirupsen/logrus"
)

// Engine orchestrates login, refresh, logout and the per-request checks.
// It is safe for concurrent use once built.
type Engine struct {
	config Config
	now    func() time.Time
	log    *logrus.Logger

	userProvider UserProvider
	rateLimiter  *rate.Limiter
	attempts     *limiters.AttemptTracker
	locks        *limiters.LockService
	otpLimiter   *limiters.OTPLimiter
	jwtManager   *jwt.Manager
	refreshStore refresh.Store
	grants       *permission.Cache
	gate         *challenge.Gate
	hasher       *password.Verifier
	dummyHash    string

	metrics     *Metrics
	audit       *internalaudit.Dispatcher
	sweeper     *stores.Sweeper
	distributed bool
}

// Close stops background sweeps and drains the audit queue.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.sweeper != nil {
		e.sweeper.Stop()
	}
	e.audit.Close()
}

func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the active configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

func (e *Engine) Logger() *logrus.Logger {
	return e.log
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

/*
====================================
REQUEST THROTTLING
====================================
*/

// CheckIPRate consumes one request from ip's budget.
func (e *Engine) CheckIPRate(ctx context.Context, ip string) error {
	if err := e.rateLimiter.AllowIP(ctx, ip); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricLoginRateLimited)
			e.emitAudit(ctx, auditEventRateLimited, false, "", "", ErrIPRateLimited, func() map[string]string {
				return map[string]string{"scope": "ip"}
			})
			return ErrIPRateLimited
		}
		return unavailable(err)
	}
	return nil
}

// CheckUsernameRate consumes one request from username's budget.
func (e *Engine) CheckUsernameRate(ctx context.Context, username string) error {
	if err := e.rateLimiter.AllowUsername(ctx, username); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricLoginRateLimited)
			e.emitAudit(ctx, auditEventRateLimited, false, username, "", ErrUsernameRateLimited, func() map[string]string {
				return map[string]string{"scope": "username"}
			})
			return ErrUsernameRateLimited
		}
		return unavailable(err)
	}
	return nil
}

/*
====================================
CHALLENGES
====================================
*/

// CaptchaEnabled reports whether login and registration require a captcha.
func (e *Engine) CaptchaEnabled() bool {
	return e.config.Captcha.Enabled
}

// GenerateCaptcha issues a captcha from the configured provider.
func (e *Engine) GenerateCaptcha(ctx context.Context) (challenge.Challenge, error) {
	c, err := e.gate.GenerateCaptcha(ctx)
	if err != nil {
		return challenge.Challenge{}, providerError(err)
	}
	return c, nil
}

// VerifyCaptcha consumes the captcha id. Missing fields yield
// ErrChallengeRequired, a wrong answer ErrChallengeInvalid.
func (e *Engine) VerifyCaptcha(ctx context.Context, id, response string) error {
	if strings.TrimSpace(id) == "" || strings.TrimSpace(response) == "" {
		return ErrChallengeRequired
	}
	ok, err := e.gate.ValidateCaptcha(ctx, id, response)
	if err != nil {
		return providerError(err)
	}
	if !ok {
		e.metricInc(MetricChallengeFailure)
		e.emitAudit(ctx, auditEventChallengeFailed, false, "", "", ErrChallengeInvalid, func() map[string]string {
			return map[string]string{"challenge": "captcha"}
		})
		return ErrChallengeInvalid
	}
	return nil
}

func providerError(err error) error {
	return fmt.Errorf("%w: %v", ErrChallengeProvider, err)
}

/*
====================================
ACCESS TOKENS
====================================
*/

// ExtractToken returns the access token carried by r: the access cookie
// first, then an Authorization bearer header.
func (e *Engine) ExtractToken(r *http.Request) string {
	return e.jwtManager.ExtractToken(r)
}

// ValidateAccess verifies token and resolves the caller's grants.
func (e *Engine) ValidateAccess(ctx context.Context, token string) (*Principal, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer func() {
		e.metrics.Observe(MetricValidateLatency, time.Since(start))
	}()

	claims, err := e.jwtManager.Validate(ctx, token, "")
	if err != nil {
		e.metricInc(MetricValidateFailure)
		return nil, mapTokenError(err)
	}

	grants, err := e.Grants(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}

	return &Principal{
		Subject: claims.Subject,
		UserID:  claims.UserID,
		TokenID: claims.ID,
		Grants:  grants,
	}, nil
}

// Grants returns subject's cached grants. A subject the UserProvider no
// longer knows yields ErrTokenInvalid.
func (e *Engine) Grants(ctx context.Context, subject string) (*permission.Grants, error) {
	g, err := e.grants.Get(ctx, subject)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.metricInc(MetricValidateFailure)
			return nil, ErrTokenInvalid
		}
		return nil, unavailable(err)
	}
	return g, nil
}

// InvalidateGrants must be called after any change to subject's roles,
// groups or permissions.
func (e *Engine) InvalidateGrants(subject string) {
	e.grants.Invalidate(subject)
}

// InvalidateAllGrants must be called after structural changes such as a
// role's permission set changing.
func (e *Engine) InvalidateAllGrants() {
	e.grants.InvalidateAll()
}

func mapTokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenRevoked):
		return ErrTokenRevoked
	case errors.Is(err, jwt.ErrBlacklistUnavailable):
		return unavailable(err)
	default:
		return ErrTokenInvalid
	}
}
