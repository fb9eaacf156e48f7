package refresh

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goGuard/internal"
	"github.com/MrEthical07/goGuard/internal/clock"
	"github.com/google/uuid"
)

const (
	schemaSQL = `CREATE TABLE IF NOT EXISTS refresh_tokens (
	id TEXT PRIMARY KEY,
	value TEXT NOT NULL UNIQUE,
	subject TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	revoked BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS refresh_tokens_subject_idx ON refresh_tokens (subject);`

	insertSQL       = `INSERT INTO refresh_tokens (id, value, subject, expires_at, revoked, created_at) VALUES ($1, $2, $3, $4, FALSE, $5)`
	selectSQL       = `SELECT id, subject, expires_at, revoked, created_at FROM refresh_tokens WHERE value = $1`
	revokeIfLiveSQL = `UPDATE refresh_tokens SET revoked = TRUE WHERE value = $1 AND revoked = FALSE`
	revokeSQL       = `UPDATE refresh_tokens SET revoked = TRUE WHERE value = $1`
	revokeAllSQL    = `UPDATE refresh_tokens SET revoked = TRUE WHERE subject = $1 AND revoked = FALSE AND expires_at > $2`
	deleteSQL       = `DELETE FROM refresh_tokens WHERE value = $1`
	listActiveSQL   = `SELECT id, value, expires_at, created_at FROM refresh_tokens WHERE subject = $1 AND revoked = FALSE AND expires_at > $2 ORDER BY created_at ASC`
	sweepSQL        = `DELETE FROM refresh_tokens WHERE expires_at <= $1`
)

// SQLStore persists tokens in a refresh_tokens table. Queries use
// PostgreSQL placeholders.
type SQLStore struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// NewSQLStore returns a Store on db. Call EnsureSchema once before use.
func NewSQLStore(db *sql.DB, ttl time.Duration, now func() time.Time) *SQLStore {
	return &SQLStore{db: db, ttl: ttlOrDefault(ttl), now: clock.OrSystem(now)}
}

// EnsureSchema creates the table and its subject index if missing.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Create mints a token for subject.
func (s *SQLStore) Create(ctx context.Context, subject string) (*Token, error) {
	tok, err := s.insert(ctx, s.db, subject)
	if err != nil {
		return nil, err
	}
	return tok, nil
}

// Rotate revokes value and inserts its successor inside one transaction.
// Losing a concurrent rotation race is reported as a replay.
func (s *SQLStore) Rotate(ctx context.Context, value string) (*Token, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		tok     = Token{Value: value}
		revoked bool
	)
	err = tx.QueryRowContext(ctx, selectSQL, value).Scan(&tok.ID, &tok.Subject, &tok.ExpiresAt, &revoked, &tok.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if tok.Expired(s.now()) {
		if _, err := tx.ExecContext(ctx, deleteSQL, value); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return nil, ErrExpired
	}
	if revoked {
		return nil, s.replay(ctx, tx, tok.Subject)
	}

	res, err := tx.ExecContext(ctx, revokeIfLiveSQL, value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return nil, s.replay(ctx, tx, tok.Subject)
	}

	next, err := s.insert(ctx, tx, tok.Subject)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return next, nil
}

func (s *SQLStore) replay(ctx context.Context, tx *sql.Tx, subject string) error {
	_ = tx.Rollback()
	if _, err := s.RevokeAll(ctx, subject); err != nil {
		return err
	}
	return ErrReplayDetected
}

// Revoke marks value revoked.
func (s *SQLStore) Revoke(ctx context.Context, value string) error {
	res, err := s.db.ExecContext(ctx, revokeSQL, value)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RevokeAll revokes every live token of subject.
func (s *SQLStore) RevokeAll(ctx context.Context, subject string) (int, error) {
	res, err := s.db.ExecContext(ctx, revokeAllSQL, subject, s.now())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return int(n), nil
}

// Delete removes value.
func (s *SQLStore) Delete(ctx context.Context, value string) error {
	if _, err := s.db.ExecContext(ctx, deleteSQL, value); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Get returns the token stored under value.
func (s *SQLStore) Get(ctx context.Context, value string) (*Token, error) {
	tok := &Token{Value: value}
	err := s.db.QueryRowContext(ctx, selectSQL, value).Scan(&tok.ID, &tok.Subject, &tok.ExpiresAt, &tok.Revoked, &tok.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if tok.Expired(s.now()) {
		return nil, ErrExpired
	}
	return tok, nil
}

// ListActive returns subject's live tokens, oldest first.
func (s *SQLStore) ListActive(ctx context.Context, subject string) ([]*Token, error) {
	rows, err := s.db.QueryContext(ctx, listActiveSQL, subject, s.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []*Token
	for rows.Next() {
		tok := &Token{Subject: subject}
		if err := rows.Scan(&tok.ID, &tok.Value, &tok.ExpiresAt, &tok.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		out = append(out, tok)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return out, nil
}

// Sweep deletes expired rows.
func (s *SQLStore) Sweep(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, sweepSQL, s.now())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLStore) insert(ctx context.Context, ex execer, subject string) (*Token, error) {
	value, err := internal.NewOpaqueValue()
	if err != nil {
		return nil, err
	}
	now := s.now()
	tok := &Token{
		ID:        uuid.NewString(),
		Subject:   subject,
		Value:     value,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if _, err := ex.ExecContext(ctx, insertSQL, tok.ID, tok.Value, tok.Subject, tok.ExpiresAt, tok.CreatedAt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return tok, nil
}
