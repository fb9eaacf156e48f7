package goGuard

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		err    error
		kind   Kind
		status int
		code   string
	}{
		{ErrInvalidCredentials, KindAuthentication, http.StatusUnauthorized, "invalid_credentials"},
		{&LockedError{Until: time.Unix(0, 0)}, KindAuthentication, http.StatusUnauthorized, "account_locked"},
		{ErrTokenExpired, KindToken, http.StatusUnauthorized, "token_expired"},
		{ErrRefreshReplay, KindToken, http.StatusUnauthorized, "refresh_replay"},
		{ErrIPRateLimited, KindThrottled, http.StatusTooManyRequests, "ip_rate_limited"},
		{ErrTooManyAttempts, KindThrottled, http.StatusTooManyRequests, "too_many_attempts"},
		{ErrChallengeRequired, KindChallenge, http.StatusBadRequest, "challenge_required"},
		{ErrChallengeInvalid, KindChallenge, http.StatusUnauthorized, "challenge_invalid"},
		{providerError(errors.New("down")), KindChallenge, http.StatusNotAcceptable, "challenge_provider"},
		{fmt.Errorf("%w: bad", ErrValidation), KindValidation, http.StatusBadRequest, "validation"},
		{ErrIdentifierTaken, KindConflict, http.StatusConflict, "identifier_taken"},
		{ErrSessionNotFound, KindValidation, http.StatusNotFound, "session_not_found"},
		{unavailable(errors.New("dial tcp")), KindUnavailable, http.StatusServiceUnavailable, "backend_unavailable"},
		{errors.New("boom"), KindUnknown, http.StatusInternalServerError, "internal"},
	}

	for _, tc := range cases {
		if got := KindOf(tc.err); got != tc.kind {
			t.Errorf("%v: kind %v, want %v", tc.err, got, tc.kind)
		}
		if got := StatusOf(tc.err); got != tc.status {
			t.Errorf("%v: status %d, want %d", tc.err, got, tc.status)
		}
		if got := ErrorCode(tc.err); got != tc.code {
			t.Errorf("%v: code %q, want %q", tc.err, got, tc.code)
		}
	}
}

func TestUnavailableWinsOverOtherSentinels(t *testing.T) {
	err := fmt.Errorf("%w: %w", ErrBackendUnavailable, ErrTokenRevoked)
	if KindOf(err) != KindUnavailable {
		t.Fatalf("expected unavailable, got %v", KindOf(err))
	}
}

func TestLockedErrorMessage(t *testing.T) {
	err := &LockedError{Until: time.Date(2026, 3, 1, 12, 15, 0, 0, time.UTC)}
	if err.Error() != "account locked until 2026-03-01T12:15:00Z" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
