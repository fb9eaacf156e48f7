package refresh

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no token carries the presented value.
	ErrNotFound = errors.New("refresh token not found")
	// ErrExpired is returned when the token is past its expiry. The token is
	// deleted as a side effect of rotation.
	ErrExpired = errors.New("refresh token expired")
	// ErrReplayDetected is returned when a revoked token is presented.
	ErrReplayDetected = errors.New("refresh token replay detected")
	// ErrStoreUnavailable wraps backend failures.
	ErrStoreUnavailable = errors.New("refresh store unavailable")
)

// DefaultTTL is the refresh token lifetime used when none is configured.
const DefaultTTL = 15 * 24 * time.Hour

// Token is a stored refresh token.
type Token struct {
	ID        string
	Subject   string
	Value     string
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
}

// Expired reports whether t is past its expiry at now.
func (t *Token) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

func (t *Token) clone() *Token {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// Store persists refresh tokens.
//
// Rotate must be atomic per value: of any number of concurrent rotations of
// the same value, at most one succeeds.
type Store interface {
	Create(ctx context.Context, subject string) (*Token, error)
	Rotate(ctx context.Context, value string) (*Token, error)
	Revoke(ctx context.Context, value string) error
	RevokeAll(ctx context.Context, subject string) (int, error)
	Delete(ctx context.Context, value string) error
	Get(ctx context.Context, value string) (*Token, error)
	// ListActive returns the subject's unrevoked, unexpired tokens, oldest
	// first.
	ListActive(ctx context.Context, subject string) ([]*Token, error)
	// Sweep deletes expired tokens and reports how many were removed.
	Sweep(ctx context.Context) (int, error)
}

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}
