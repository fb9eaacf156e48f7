package goGuard

import (
	"context"
)

const (
	auditEventLoginSuccess     = "login_success"
	auditEventLoginFailure     = "login_failure"
	auditEventLoginLocked      = "login_locked"
	auditEventLoginThrottled   = "login_throttled"
	auditEventLoginDisabled    = "login_disabled"
	auditEventOTPLoginSuccess  = "otp_login_success"
	auditEventOTPSent          = "otp_sent"
	auditEventOTPUnknownUser   = "otp_unknown_subject"
	auditEventAccountLocked    = "account_locked"
	auditEventAccountUnlocked  = "account_unlocked"
	auditEventRefreshSuccess   = "refresh_success"
	auditEventRefreshInvalid   = "refresh_invalid"
	auditEventRefreshReplay    = "refresh_replay"
	auditEventLogout           = "logout"
	auditEventLogoutAll        = "logout_all"
	auditEventSessionEvicted   = "session_evicted"
	auditEventRegister         = "register"
	auditEventRegisterConflict = "register_conflict"
	auditEventPasswordChange   = "password_change"
	auditEventPasswordReset    = "password_reset"
	auditEventPasswordReuse    = "password_reuse"
	auditEventSessionRevoked   = "session_revoked"
	auditEventRateLimited      = "rate_limited"
	auditEventChallengeFailed  = "challenge_failed"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	subject string,
	userID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}
	if ua := userAgentFromContext(ctx); ua != "" {
		if metadata == nil {
			metadata = make(map[string]string, 1)
		}
		metadata["user_agent"] = ua
	}

	e.audit.Emit(ctx, AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		Subject:   subject,
		UserID:    userID,
		IP:        ClientIP(ctx),
		Success:   success,
		Error:     ErrorCode(err),
		Metadata:  metadata,
	})
}
