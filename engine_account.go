package goGuard

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/MrEthical07/goGuard/challenge"
	"github.com/MrEthical07/goGuard/password"
)

// Register creates a subject with the default role and signs it in.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if !e.config.Account.RegistrationEnabled {
		return nil, fmt.Errorf("%w: registration disabled", ErrValidation)
	}

	username := strings.TrimSpace(req.Username)
	email := strings.TrimSpace(req.Email)
	mobile := strings.TrimSpace(req.Mobile)
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrValidation)
	}
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, fmt.Errorf("%w: invalid email", ErrValidation)
		}
	}
	if err := e.checkPasswordPolicy(req.Password); err != nil {
		return nil, err
	}

	taken, err := e.userProvider.IdentifierExists(ctx, username, email, mobile)
	if err != nil {
		return nil, unavailable(err)
	}
	if taken {
		e.metricInc(MetricRegisterDuplicate)
		e.emitAudit(ctx, auditEventRegisterConflict, false, username, "", ErrIdentifierTaken, nil)
		return nil, ErrIdentifierTaken
	}

	hash, err := e.hasher.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user, err := e.userProvider.CreateUser(ctx, NewUser{
		Username:     username,
		Email:        email,
		Mobile:       mobile,
		PasswordHash: hash,
		Roles:        []string{e.config.Account.DefaultRole},
	})
	if err != nil {
		if errors.Is(err, ErrIdentifierTaken) {
			e.metricInc(MetricRegisterDuplicate)
			return nil, ErrIdentifierTaken
		}
		return nil, unavailable(err)
	}

	res, err := e.issuePair(ctx, user)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegister, true, user.Username, user.ID, nil, nil)
	return res, nil
}

// ChangePassword replaces the password after verifying the current one. All
// refresh tokens of the subject are revoked.
func (e *Engine) ChangePassword(ctx context.Context, req ChangePasswordRequest) error {
	if e == nil {
		return ErrEngineNotReady
	}
	username := strings.TrimSpace(req.Username)
	if username == "" || req.OldPassword == "" {
		return fmt.Errorf("%w: username and current password are required", ErrValidation)
	}
	ip := ClientIP(ctx)

	if err := e.preAuthChecks(ctx, username, ip); err != nil {
		return err
	}
	user, found, err := e.lookupUser(ctx, username)
	if err != nil {
		return err
	}
	hash := e.dummyHash
	if found {
		hash = user.PasswordHash
	}
	ok, _ := e.hasher.Verify(req.OldPassword, hash)
	if !found || !ok {
		return e.loginFailure(ctx, username, ip)
	}
	if user.Disabled {
		return ErrAccountDisabled
	}

	if err := e.checkPasswordPolicy(req.NewPassword); err != nil {
		return err
	}
	if req.NewPassword == req.OldPassword {
		return fmt.Errorf("%w: new password must differ from the current one", ErrValidation)
	}

	if err := e.setPassword(ctx, user, req.NewPassword); err != nil {
		return err
	}
	if err := e.attempts.RegisterSuccess(ctx, username, ip); err != nil {
		return unavailable(err)
	}
	e.metricInc(MetricPasswordChange)
	e.emitAudit(ctx, auditEventPasswordChange, true, user.Username, user.ID, nil, nil)
	return nil
}

// ResetPassword replaces the password of a subject proving possession of a
// code from SendResetOTP. All refresh tokens of the subject are revoked.
func (e *Engine) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	if e == nil {
		return ErrEngineNotReady
	}
	username := strings.TrimSpace(req.Username)
	if username == "" || strings.TrimSpace(req.OTP) == "" {
		return fmt.Errorf("%w: username and otp are required", ErrValidation)
	}
	if err := e.checkPasswordPolicy(req.NewPassword); err != nil {
		return err
	}
	ip := ClientIP(ctx)

	blocked, err := e.attempts.IsIPBlocked(ctx, ip)
	if err != nil {
		return unavailable(err)
	}
	if blocked {
		return ErrTooManyAttempts
	}

	ok, err := e.gate.VerifyOTP(ctx, challenge.PurposeReset, username, req.OTP)
	if err != nil {
		return unavailable(err)
	}
	if !ok {
		e.metricInc(MetricChallengeFailure)
		if _, err := e.attempts.RegisterFailure(ctx, username, ip); err != nil {
			return unavailable(err)
		}
		e.emitAudit(ctx, auditEventChallengeFailed, false, username, "", ErrChallengeInvalid, func() map[string]string {
			return map[string]string{"challenge": "otp", "purpose": "reset"}
		})
		return ErrChallengeInvalid
	}

	user, found, err := e.lookupUser(ctx, username)
	if err != nil {
		return err
	}
	if !found {
		return ErrChallengeInvalid
	}
	if user.Disabled {
		return ErrAccountDisabled
	}

	if err := e.setPassword(ctx, user, req.NewPassword); err != nil {
		return err
	}
	// A reset proves ownership, so any lockout is lifted.
	if err := e.locks.ForceUnlock(ctx, username); err != nil {
		return unavailable(err)
	}
	if err := e.attempts.ResetUsername(ctx, username); err != nil {
		return unavailable(err)
	}
	e.metricInc(MetricPasswordReset)
	e.emitAudit(ctx, auditEventPasswordReset, true, user.Username, user.ID, nil, nil)
	return nil
}

// UnlockAccount lifts a lockout and clears the failure counter of username.
func (e *Engine) UnlockAccount(ctx context.Context, username string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return fmt.Errorf("%w: username is required", ErrValidation)
	}
	if err := e.locks.ForceUnlock(ctx, username); err != nil {
		return unavailable(err)
	}
	if err := e.attempts.ResetUsername(ctx, username); err != nil {
		return unavailable(err)
	}
	e.metricInc(MetricAccountUnlocked)
	e.emitAudit(ctx, auditEventAccountUnlocked, true, username, "", nil, nil)
	return nil
}

// LockState reports whether username is currently locked.
func (e *Engine) LockState(ctx context.Context, username string) (bool, error) {
	if e == nil {
		return false, ErrEngineNotReady
	}
	state, err := e.locks.State(ctx, username)
	if err != nil {
		return false, unavailable(err)
	}
	return state.Locked, nil
}

func (e *Engine) checkPasswordPolicy(pw string) error {
	err := password.CheckPolicy(pw, e.config.Password.MinLength, e.config.Password.MaxLength)
	switch {
	case errors.Is(err, password.ErrTooShort):
		return fmt.Errorf("%w: password shorter than %d characters", ErrValidation, e.config.Password.MinLength)
	case errors.Is(err, password.ErrTooLong):
		return fmt.Errorf("%w: password longer than %d characters", ErrValidation, e.config.Password.MaxLength)
	}
	return err
}

func (e *Engine) setPassword(ctx context.Context, user UserRecord, plain string) error {
	history, _ := e.userProvider.(PasswordHistoryProvider)
	depth := e.config.Password.HistoryDepth
	if history == nil {
		depth = 0
	}
	if depth > 0 {
		if err := e.checkPasswordHistory(ctx, history, user, plain, depth); err != nil {
			return err
		}
	}

	hash, err := e.hasher.Hash(plain)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := e.userProvider.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		return unavailable(err)
	}
	if depth > 0 && user.PasswordHash != "" {
		if err := history.AppendHash(ctx, user.ID, user.PasswordHash); err != nil {
			e.log.WithError(err).WithField("subject", user.Username).Warn("password history not recorded")
		}
	}
	if _, err := e.refreshStore.RevokeAll(ctx, user.Username); err != nil {
		return unavailable(err)
	}
	e.grants.Invalidate(user.Username)
	return nil
}

// checkPasswordHistory rejects plain when it matches the current hash or
// one of the depth most recent ones.
func (e *Engine) checkPasswordHistory(ctx context.Context, history PasswordHistoryProvider, user UserRecord, plain string, depth int) error {
	previous, err := history.RecentHashes(ctx, user.ID, depth)
	if err != nil {
		return unavailable(err)
	}
	if len(previous) > depth {
		previous = previous[:depth]
	}
	candidates := append([]string{user.PasswordHash}, previous...)
	for _, h := range candidates {
		if h == "" {
			continue
		}
		if ok, _ := e.hasher.Verify(plain, h); ok {
			e.emitAudit(ctx, auditEventPasswordReuse, false, user.Username, user.ID, ErrValidation, nil)
			return fmt.Errorf("%w: password was used recently", ErrValidation)
		}
	}
	return nil
}
