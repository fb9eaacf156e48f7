package goGuard

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/MrEthical07/goGuard/refresh"
)

// Refresh rotates a refresh token and issues a new access token for its
// subject. Presenting an already-rotated value revokes every session of the
// subject and returns ErrRefreshReplay.
func (e *Engine) Refresh(ctx context.Context, refreshValue string) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if strings.TrimSpace(refreshValue) == "" {
		e.metricInc(MetricRefreshFailure)
		return nil, ErrRefreshInvalid
	}

	next, err := e.refreshStore.Rotate(ctx, refreshValue)
	if err != nil {
		return nil, e.refreshFailure(ctx, err)
	}

	user, found, err := e.lookupUser(ctx, next.Subject)
	if err != nil {
		return nil, err
	}
	if !found {
		if _, err := e.refreshStore.RevokeAll(ctx, next.Subject); err != nil {
			e.log.WithError(err).WithField("subject", next.Subject).Warn("revoke sessions of unknown subject")
		}
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, next.Subject, "", ErrRefreshInvalid, nil)
		return nil, ErrRefreshInvalid
	}
	if user.Disabled {
		if _, err := e.refreshStore.RevokeAll(ctx, next.Subject); err != nil {
			return nil, unavailable(err)
		}
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventLoginDisabled, false, user.Username, user.ID, ErrAccountDisabled, nil)
		return nil, ErrAccountDisabled
	}

	access, claims, err := e.jwtManager.Issue(user.Username, user.ID)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, user.Username, user.ID, nil, nil)
	return &LoginResult{
		AccessToken:      access,
		RefreshToken:     next.Value,
		Subject:          summarize(user),
		AccessExpiresAt:  claims.ExpiresAt.Time,
		RefreshExpiresAt: next.ExpiresAt,
		PasswordExpired:  e.passwordExpired(user),
	}, nil
}

func (e *Engine) refreshFailure(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, refresh.ErrReplayDetected):
		e.metricInc(MetricRefreshReplay)
		e.emitAudit(ctx, auditEventRefreshReplay, false, "", "", ErrRefreshReplay, nil)
		e.log.WithError(err).Warn("refresh token replay, sessions revoked")
		return ErrRefreshReplay
	case errors.Is(err, refresh.ErrExpired):
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", ErrRefreshExpired, nil)
		return ErrRefreshExpired
	case errors.Is(err, refresh.ErrNotFound):
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", ErrRefreshInvalid, nil)
		return ErrRefreshInvalid
	default:
		return unavailable(err)
	}
}

// Logout blacklists accessToken for its remaining lifetime and deletes
// refreshValue when it belongs to the same subject. Either value may be
// empty. An access token that no longer validates is ignored so that
// logging out twice succeeds.
func (e *Engine) Logout(ctx context.Context, accessToken, refreshValue string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	var subject, userID string
	if accessToken != "" {
		claims, err := e.jwtManager.Parse(accessToken)
		if err == nil {
			subject, userID = claims.Subject, claims.UserID
			if err := e.jwtManager.Revoke(ctx, claims); err != nil {
				return unavailable(err)
			}
			e.metricInc(MetricTokenBlacklisted)
		}
	}

	if refreshValue != "" {
		tok, err := e.refreshStore.Get(ctx, refreshValue)
		switch {
		case errors.Is(err, refresh.ErrNotFound):
		case errors.Is(err, refresh.ErrExpired):
			_ = e.refreshStore.Delete(ctx, refreshValue)
		case err != nil:
			return unavailable(err)
		case subject == "" || tok.Subject == subject:
			if subject == "" {
				subject = tok.Subject
			}
			if err := e.refreshStore.Delete(ctx, refreshValue); err != nil && !errors.Is(err, refresh.ErrNotFound) {
				return unavailable(err)
			}
		default:
			e.log.WithField("subject", subject).Warn("logout refresh token belongs to another subject")
		}
	}

	if subject == "" {
		return nil
	}
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, subject, userID, nil, nil)
	return nil
}

// LogoutAll revokes every refresh token of subject and drops its cached
// grants. Access tokens already issued stay valid until they expire unless
// they are blacklisted individually.
func (e *Engine) LogoutAll(ctx context.Context, subject string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return ErrValidation
	}
	n, err := e.refreshStore.RevokeAll(ctx, subject)
	if err != nil {
		return unavailable(err)
	}
	e.grants.Invalidate(subject)

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, subject, "", nil, func() map[string]string {
		return map[string]string{"revoked": strconv.Itoa(n)}
	})
	return nil
}

// ListSessions returns subject's active sessions, oldest first.
func (e *Engine) ListSessions(ctx context.Context, subject string) ([]Session, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, ErrValidation
	}
	active, err := e.refreshStore.ListActive(ctx, subject)
	if err != nil {
		return nil, unavailable(err)
	}
	out := make([]Session, 0, len(active))
	for _, tok := range active {
		out = append(out, Session{ID: tok.ID, CreatedAt: tok.CreatedAt, ExpiresAt: tok.ExpiresAt})
	}
	return out, nil
}

// RevokeSession ends one of subject's sessions. The token is deleted, so
// presenting it afterwards is ErrRefreshInvalid and does not trip replay
// detection for the remaining sessions.
func (e *Engine) RevokeSession(ctx context.Context, subject, sessionID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	subject = strings.TrimSpace(subject)
	sessionID = strings.TrimSpace(sessionID)
	if subject == "" || sessionID == "" {
		return ErrValidation
	}
	active, err := e.refreshStore.ListActive(ctx, subject)
	if err != nil {
		return unavailable(err)
	}
	for _, tok := range active {
		if tok.ID != sessionID || tok.Subject != subject {
			continue
		}
		if err := e.refreshStore.Delete(ctx, tok.Value); err != nil {
			return unavailable(err)
		}
		e.emitAudit(ctx, auditEventSessionRevoked, true, subject, "", nil, func() map[string]string {
			return map[string]string{"token_id": sessionID}
		})
		return nil
	}
	return ErrSessionNotFound
}
