package goGuard

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrInvalidCredentials covers both unknown usernames and wrong passwords.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountDisabled is returned when the subject is administratively disabled.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrAccountLocked is returned while a lockout is active. Lockouts surface
	// as *LockedError, which unwraps to this sentinel.
	ErrAccountLocked = errors.New("account locked")

	// ErrTokenExpired is returned for a well-signed access token past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid is returned for a malformed or wrongly signed access token.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenRevoked is returned for a blacklisted access token.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrRefreshInvalid is returned for an unknown refresh value.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrRefreshExpired is returned for a refresh token past its expiry.
	ErrRefreshExpired = errors.New("refresh token expired")
	// ErrRefreshReplay is returned when a rotated refresh token is presented
	// again. Every session of the subject has been revoked.
	ErrRefreshReplay = errors.New("refresh token replay detected")

	ErrIPRateLimited       = errors.New("ip rate limited")
	ErrUsernameRateLimited = errors.New("username rate limited")
	// ErrTooManyAttempts is returned when an IP has exhausted its failed
	// authentication budget.
	ErrTooManyAttempts  = errors.New("too many failed attempts")
	ErrOTPResendLimited = errors.New("otp resend limited")
	// ErrSessionLimit is returned by login under the DENY_NEW session policy.
	ErrSessionLimit = errors.New("session limit reached")

	ErrChallengeRequired = errors.New("challenge required")
	ErrChallengeInvalid  = errors.New("challenge invalid")
	// ErrChallengeProvider is returned when a challenge provider fails.
	ErrChallengeProvider = errors.New("challenge provider error")

	// ErrValidation is returned for malformed requests and policy violations.
	ErrValidation = errors.New("validation failed")
	// ErrIdentifierTaken is returned by Register when the username, email or
	// mobile is already in use.
	ErrIdentifierTaken = errors.New("identifier already registered")
	// ErrSessionNotFound is returned by RevokeSession for an unknown id or a
	// session owned by another subject.
	ErrSessionNotFound = errors.New("session not found")

	// ErrBackendUnavailable wraps storage and delivery failures. Every
	// operation fails closed on it.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrUserNotFound is returned by UserProvider implementations for unknown
	// identifiers.
	ErrUserNotFound = errors.New("user not found")
	// ErrEngineNotReady is returned by methods called on a nil Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// LockedError reports an active lockout together with its expiry.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	if e.Until.IsZero() {
		return ErrAccountLocked.Error()
	}
	return fmt.Sprintf("%s until %s", ErrAccountLocked, e.Until.UTC().Format(time.RFC3339))
}

func (e *LockedError) Unwrap() error {
	return ErrAccountLocked
}

// Kind groups errors by how a caller should react to them.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindAuthentication
	KindToken
	KindThrottled
	KindChallenge
	KindValidation
	KindConflict
	KindUnavailable
)

var kindNames = [...]string{
	KindUnknown:        "unknown",
	KindAuthentication: "authentication",
	KindToken:          "token",
	KindThrottled:      "throttled",
	KindChallenge:      "challenge",
	KindValidation:     "validation",
	KindConflict:       "conflict",
	KindUnavailable:    "unavailable",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return kindNames[KindUnknown]
}

var kindTable = []struct {
	kind     Kind
	sentinel []error
}{
	// Unavailable first: a backend failure wrapped together with another
	// sentinel must still fail closed.
	{KindUnavailable, []error{ErrBackendUnavailable}},
	{KindAuthentication, []error{ErrInvalidCredentials, ErrAccountDisabled, ErrAccountLocked}},
	{KindToken, []error{ErrTokenExpired, ErrTokenInvalid, ErrTokenRevoked, ErrRefreshInvalid, ErrRefreshExpired, ErrRefreshReplay}},
	{KindThrottled, []error{ErrIPRateLimited, ErrUsernameRateLimited, ErrTooManyAttempts, ErrOTPResendLimited, ErrSessionLimit}},
	{KindChallenge, []error{ErrChallengeRequired, ErrChallengeInvalid, ErrChallengeProvider}},
	{KindValidation, []error{ErrValidation, ErrSessionNotFound}},
	{KindConflict, []error{ErrIdentifierTaken}},
}

// KindOf classifies err by the first sentinel it wraps.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, row := range kindTable {
		for _, s := range row.sentinel {
			if errors.Is(err, s) {
				return row.kind
			}
		}
	}
	return KindUnknown
}

// HTTPStatus maps a kind to the response status the pipeline and handlers use.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindAuthentication, KindToken:
		return http.StatusUnauthorized
	case KindThrottled:
		return http.StatusTooManyRequests
	case KindChallenge:
		return http.StatusUnauthorized
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// StatusOf is HTTPStatus(KindOf(err)) with a few refinements: a missing
// challenge is a bad request, a failing challenge provider is 406 and an
// unknown session is 404.
func StatusOf(err error) int {
	switch {
	case errors.Is(err, ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrChallengeRequired):
		return http.StatusBadRequest
	case errors.Is(err, ErrChallengeProvider):
		return http.StatusNotAcceptable
	case errors.Is(err, ErrSessionNotFound):
		return http.StatusNotFound
	}
	return HTTPStatus(KindOf(err))
}

// ErrorCode returns a stable machine-readable code for err.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBackendUnavailable):
		return "backend_unavailable"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrAccountDisabled):
		return "account_disabled"
	case errors.Is(err, ErrAccountLocked):
		return "account_locked"
	case errors.Is(err, ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, ErrTokenInvalid):
		return "token_invalid"
	case errors.Is(err, ErrTokenRevoked):
		return "token_revoked"
	case errors.Is(err, ErrRefreshInvalid):
		return "refresh_invalid"
	case errors.Is(err, ErrRefreshExpired):
		return "refresh_expired"
	case errors.Is(err, ErrRefreshReplay):
		return "refresh_replay"
	case errors.Is(err, ErrIPRateLimited):
		return "ip_rate_limited"
	case errors.Is(err, ErrUsernameRateLimited):
		return "username_rate_limited"
	case errors.Is(err, ErrTooManyAttempts):
		return "too_many_attempts"
	case errors.Is(err, ErrOTPResendLimited):
		return "otp_resend_limited"
	case errors.Is(err, ErrSessionLimit):
		return "session_limit"
	case errors.Is(err, ErrChallengeRequired):
		return "challenge_required"
	case errors.Is(err, ErrChallengeInvalid):
		return "challenge_invalid"
	case errors.Is(err, ErrChallengeProvider):
		return "challenge_provider"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrIdentifierTaken):
		return "identifier_taken"
	case errors.Is(err, ErrSessionNotFound):
		return "session_not_found"
	}
	return "internal"
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}
