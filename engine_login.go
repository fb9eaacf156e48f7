package goGuard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goGuard/challenge"
	"github.com/MrEthical07/goGuard/internal/limiters"
	"github.com/sirupsen/logrus"
)

// Login authenticates a username and password and issues a token pair.
//
// Checks run in this order: the IP failure budget, the account lock (an
// expired lock is cleared first), then the credentials. Unknown usernames
// and wrong passwords are indistinguishable to the caller and both count
// against the IP and username failure budgets. The failure that exhausts
// the username budget locks the account; attempts during the lock fail with
// *LockedError even with the correct password.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		return nil, fmt.Errorf("%w: username and password are required", ErrValidation)
	}
	ip := ClientIP(ctx)

	if err := e.preAuthChecks(ctx, username, ip); err != nil {
		return nil, err
	}

	user, found, err := e.lookupUser(ctx, username)
	if err != nil {
		return nil, err
	}

	hash := e.dummyHash
	if found {
		hash = user.PasswordHash
	}
	ok, verr := e.hasher.Verify(req.Password, hash)
	if verr != nil {
		e.log.WithError(verr).WithField("subject", username).Warn("password hash could not be verified")
	}
	if !found || !ok {
		return nil, e.loginFailure(ctx, username, ip)
	}

	if user.Disabled {
		e.emitAudit(ctx, auditEventLoginDisabled, false, user.Username, user.ID, ErrAccountDisabled, nil)
		return nil, ErrAccountDisabled
	}

	if err := e.attempts.RegisterSuccess(ctx, username, ip); err != nil {
		return nil, unavailable(err)
	}
	e.upgradeHash(ctx, user, req.Password)

	res, err := e.completeLogin(ctx, user)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, user.Username, user.ID, nil, nil)
	return res, nil
}

// SendLoginOTP issues a one-time login code to the destination the
// configured channel selects. Unknown usernames succeed without sending so
// the response does not reveal which accounts exist.
func (e *Engine) SendLoginOTP(ctx context.Context, username string) error {
	return e.sendOTP(ctx, username, challenge.PurposeLogin)
}

// SendResetOTP issues a one-time code for ResetPassword.
func (e *Engine) SendResetOTP(ctx context.Context, username string) error {
	return e.sendOTP(ctx, username, challenge.PurposeReset)
}

func (e *Engine) sendOTP(ctx context.Context, username string, purpose challenge.Purpose) error {
	if e == nil {
		return ErrEngineNotReady
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return fmt.Errorf("%w: username is required", ErrValidation)
	}
	ip := ClientIP(ctx)

	if err := e.otpLimiter.Allow(ctx, username, ip); err != nil {
		if errors.Is(err, limiters.ErrOTPResendLimited) {
			e.emitAudit(ctx, auditEventRateLimited, false, username, "", ErrOTPResendLimited, func() map[string]string {
				return map[string]string{"scope": "otp_resend"}
			})
			return ErrOTPResendLimited
		}
		return unavailable(err)
	}

	user, found, err := e.lookupUser(ctx, username)
	if err != nil {
		return err
	}
	if !found || user.Disabled {
		e.emitAudit(ctx, auditEventOTPUnknownUser, false, username, "", nil, func() map[string]string {
			return map[string]string{"purpose": string(purpose)}
		})
		return nil
	}

	dest, err := e.gate.Destination(challenge.Contact{Email: user.Email, Mobile: user.Mobile})
	if err != nil {
		e.log.WithFields(logrus.Fields{
			"subject": user.Username,
			"channel": e.gate.Channel(),
		}).Warn("no otp destination for subject")
		return nil
	}

	if err := e.gate.SendOTP(ctx, purpose, username, dest); err != nil {
		return unavailable(err)
	}

	e.metricInc(MetricOTPSent)
	e.emitAudit(ctx, auditEventOTPSent, true, user.Username, user.ID, nil, func() map[string]string {
		return map[string]string{"purpose": string(purpose), "channel": string(e.gate.Channel())}
	})
	return nil
}

// LoginWithOTP authenticates with a code from SendLoginOTP. Wrong codes
// count as failed attempts and can lock the account like wrong passwords.
func (e *Engine) LoginWithOTP(ctx context.Context, username, code string) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	username = strings.TrimSpace(username)
	if username == "" || strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("%w: username and otp are required", ErrValidation)
	}
	ip := ClientIP(ctx)

	if err := e.preAuthChecks(ctx, username, ip); err != nil {
		return nil, err
	}

	ok, err := e.gate.VerifyOTP(ctx, challenge.PurposeLogin, username, code)
	if err != nil {
		return nil, unavailable(err)
	}
	if !ok {
		e.metricInc(MetricChallengeFailure)
		if err := e.loginFailure(ctx, username, ip); !errors.Is(err, ErrInvalidCredentials) {
			return nil, err
		}
		return nil, ErrChallengeInvalid
	}

	user, found, err := e.lookupUser(ctx, username)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrInvalidCredentials
	}
	if user.Disabled {
		e.emitAudit(ctx, auditEventLoginDisabled, false, user.Username, user.ID, ErrAccountDisabled, nil)
		return nil, ErrAccountDisabled
	}

	if err := e.attempts.RegisterSuccess(ctx, username, ip); err != nil {
		return nil, unavailable(err)
	}

	res, err := e.completeLogin(ctx, user)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricOTPLoginSuccess)
	e.emitAudit(ctx, auditEventOTPLoginSuccess, true, user.Username, user.ID, nil, nil)
	return res, nil
}

/*
====================================
SHARED STEPS
====================================
*/

func (e *Engine) preAuthChecks(ctx context.Context, username, ip string) error {
	blocked, err := e.attempts.IsIPBlocked(ctx, ip)
	if err != nil {
		return unavailable(err)
	}
	if blocked {
		e.metricInc(MetricLoginRateLimited)
		e.emitAudit(ctx, auditEventLoginThrottled, false, username, "", ErrTooManyAttempts, nil)
		return ErrTooManyAttempts
	}

	state, err := e.locks.UnlockIfExpired(ctx, username)
	if err != nil {
		return unavailable(err)
	}
	if state.Locked {
		e.metricInc(MetricLoginLocked)
		e.emitAudit(ctx, auditEventLoginLocked, false, username, "", ErrAccountLocked, func() map[string]string {
			return map[string]string{"until": state.Until.UTC().Format(time.RFC3339)}
		})
		return &LockedError{Until: state.Until}
	}
	return nil
}

func (e *Engine) loginFailure(ctx context.Context, username, ip string) error {
	out, err := e.attempts.RegisterFailure(ctx, username, ip)
	if err != nil {
		return unavailable(err)
	}
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, username, "", ErrInvalidCredentials, nil)

	if !out.UsernameAllowed {
		until, err := e.locks.Lock(ctx, username)
		if err != nil {
			return unavailable(err)
		}
		e.metricInc(MetricAccountLocked)
		e.emitAudit(ctx, auditEventAccountLocked, true, username, "", nil, func() map[string]string {
			return map[string]string{"until": until.UTC().Format(time.RFC3339)}
		})
	}
	if !out.IPAllowed {
		return ErrTooManyAttempts
	}
	return ErrInvalidCredentials
}

func (e *Engine) lookupUser(ctx context.Context, identifier string) (UserRecord, bool, error) {
	user, err := e.userProvider.GetUserByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return UserRecord{}, false, nil
		}
		return UserRecord{}, false, unavailable(err)
	}
	return user, true, nil
}

// completeLogin applies the session cap and issues a token pair.
func (e *Engine) completeLogin(ctx context.Context, user UserRecord) (*LoginResult, error) {
	if err := e.enforceSessionCap(ctx, user.Username); err != nil {
		return nil, err
	}
	res, err := e.issuePair(ctx, user)
	if err != nil {
		return nil, err
	}
	res.PasswordExpired = e.passwordExpired(user)
	return res, nil
}

func (e *Engine) issuePair(ctx context.Context, user UserRecord) (*LoginResult, error) {
	access, claims, err := e.jwtManager.Issue(user.Username, user.ID)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	rt, err := e.refreshStore.Create(ctx, user.Username)
	if err != nil {
		return nil, unavailable(err)
	}
	return &LoginResult{
		AccessToken:      access,
		RefreshToken:     rt.Value,
		Subject:          summarize(user),
		AccessExpiresAt:  claims.ExpiresAt.Time,
		RefreshExpiresAt: rt.ExpiresAt,
	}, nil
}

// enforceSessionCap makes room for one more session under MaxSessions.
func (e *Engine) enforceSessionCap(ctx context.Context, subject string) error {
	limit := e.config.Refresh.MaxSessions
	if limit <= 0 {
		return nil
	}
	active, err := e.refreshStore.ListActive(ctx, subject)
	if err != nil {
		return unavailable(err)
	}
	if len(active) < limit {
		return nil
	}
	if e.config.Refresh.SessionPolicy == SessionDenyNew {
		e.emitAudit(ctx, auditEventLoginThrottled, false, subject, "", ErrSessionLimit, nil)
		return ErrSessionLimit
	}

	// active is oldest first. Evicted tokens are deleted rather than revoked
	// so a later presentation reads as unknown instead of as a replay.
	for _, tok := range active[:len(active)-limit+1] {
		if err := e.refreshStore.Delete(ctx, tok.Value); err != nil {
			return unavailable(err)
		}
		e.metricInc(MetricSessionEvicted)
		e.emitAudit(ctx, auditEventSessionEvicted, true, subject, "", nil, func() map[string]string {
			return map[string]string{"token_id": tok.ID}
		})
	}
	return nil
}

func (e *Engine) passwordExpired(user UserRecord) bool {
	if !e.config.Password.ExpirationEnabled {
		return false
	}
	if user.MustChangePassword {
		return true
	}
	if user.PasswordChangedAt.IsZero() {
		return false
	}
	deadline := user.PasswordChangedAt.AddDate(0, 0, e.config.Password.ExpirationDays)
	return deadline.Before(e.now())
}

// upgradeHash re-hashes legacy or weaker hashes after a successful login.
// Failures are logged and never fail the login.
func (e *Engine) upgradeHash(ctx context.Context, user UserRecord, plain string) {
	if !e.config.Password.UpgradeOnLogin || !e.hasher.NeedsRehash(user.PasswordHash) {
		return
	}
	hash, err := e.hasher.Hash(plain)
	if err != nil {
		e.log.WithError(err).WithField("subject", user.Username).Warn("password rehash failed")
		return
	}
	if err := e.userProvider.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		e.log.WithError(err).WithField("subject", user.Username).Warn("password rehash not persisted")
	}
}
