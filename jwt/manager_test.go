package jwt

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrEthical07/goGuard/internal/clock"
	"github.com/MrEthical07/goGuard/internal/stores"
	gjwt "github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newEdKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return pub, priv
}

func newTestManager(t *testing.T, clk *clock.Manual, bl Blacklist) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		AccessTTL:     15 * time.Minute,
		SigningMethod: MethodHS256,
		PrivateKey:    testSecret,
		Issuer:        "goguard",
		Now:           clk.Now,
	}, bl)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

type failingBlacklist struct{}

func (failingBlacklist) Add(context.Context, string, time.Duration) error {
	return errors.New("down")
}

func (failingBlacklist) Contains(context.Context, string) (bool, error) {
	return false, errors.New("down")
}

func TestIssueAndValidate(t *testing.T) {
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	m := newTestManager(t, clk, nil)

	token, issued, err := m.Issue("alice", "u-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if issued.ID == "" {
		t.Fatal("expected jti")
	}
	if got := issued.ExpiresAt.Sub(issued.IssuedAt.Time); got != 15*time.Minute {
		t.Fatalf("expected 15m lifetime, got %v", got)
	}

	claims, err := m.Validate(context.Background(), token, "alice")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Subject != "alice" || claims.UserID != "u-1" {
		t.Fatalf("unexpected claims %+v", claims)
	}

	if _, err := m.Validate(context.Background(), token, "bob"); !errors.Is(err, ErrSubjectMismatch) {
		t.Fatalf("expected subject mismatch, got %v", err)
	}
}

func TestIssueUniqueIdentifiers(t *testing.T) {
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	m := newTestManager(t, clk, nil)

	a, ca, _ := m.Issue("alice", "u-1")
	b, cb, _ := m.Issue("alice", "u-1")
	if a == b || ca.ID == cb.ID {
		t.Fatal("expected distinct tokens within the same second")
	}
}

func TestExpiredDistinctFromMalformed(t *testing.T) {
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	m := newTestManager(t, clk, nil)

	token, _, err := m.Issue("alice", "u-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	clk.Advance(16 * time.Minute)

	claims, err := m.Parse(token)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
	if claims == nil || claims.Subject != "alice" {
		t.Fatal("expected claims with expired error")
	}

	if _, err := m.Parse(token + "x"); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected malformed for bad signature, got %v", err)
	}
	if _, err := m.Parse("not-a-token"); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected malformed, got %v", err)
	}
	if _, err := m.Parse(""); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected malformed for empty token, got %v", err)
	}
}

func TestBlacklistRevokesForRemainingLifetime(t *testing.T) {
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	bl := stores.NewMemoryBlacklist(clk.Now)
	m := newTestManager(t, clk, bl)

	token, claims, _ := m.Issue("alice", "u-1")
	clk.Advance(5 * time.Minute)

	if err := m.Blacklist(context.Background(), token); err != nil {
		t.Fatalf("blacklist: %v", err)
	}
	if _, err := m.Validate(context.Background(), token, ""); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected revoked, got %v", err)
	}

	clk.Advance(10*time.Minute + time.Second)
	ok, _ := bl.Contains(context.Background(), claims.ID)
	if ok {
		t.Fatal("blacklist entry should expire with the token")
	}
}

func TestBlacklistIgnoresExpiredAndGarbage(t *testing.T) {
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	bl := stores.NewMemoryBlacklist(clk.Now)
	m := newTestManager(t, clk, bl)

	token, _, _ := m.Issue("alice", "u-1")
	clk.Advance(time.Hour)

	if err := m.Blacklist(context.Background(), token); err != nil {
		t.Fatalf("expected nil for expired token, got %v", err)
	}
	if err := m.Blacklist(context.Background(), "garbage"); err != nil {
		t.Fatalf("expected nil for garbage, got %v", err)
	}
	if bl.Len() != 0 {
		t.Fatalf("expected no entries, got %d", bl.Len())
	}
}

func TestValidateFailsClosedOnBlacklistError(t *testing.T) {
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	m := newTestManager(t, clk, failingBlacklist{})

	token, _, _ := m.Issue("alice", "u-1")
	if _, err := m.Validate(context.Background(), token, ""); !errors.Is(err, ErrBlacklistUnavailable) {
		t.Fatalf("expected blacklist unavailable, got %v", err)
	}
}

func TestRejectsWrongAlgorithm(t *testing.T) {
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	_, priv := newEdKeys(t)

	m := newTestManager(t, clk, nil)

	claims := gjwt.RegisteredClaims{
		ID:        "x",
		Subject:   "alice",
		Issuer:    "goguard",
		ExpiresAt: gjwt.NewNumericDate(clk.Now().Add(time.Minute)),
	}
	forged, err := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, claims).SignedString(priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.Parse(forged); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected malformed for foreign algorithm, got %v", err)
	}
}

func TestEd25519VerifyOnly(t *testing.T) {
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	pub, priv := newEdKeys(t)

	signer, err := NewManager(Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		Now:           clk.Now,
	}, nil)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	verifier, err := NewManager(Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodEd25519,
		PublicKey:     pub,
		Now:           clk.Now,
	}, nil)
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}

	token, _, err := signer.Issue("alice", "u-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := verifier.Parse(token); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if _, _, err := verifier.Issue("alice", "u-1"); err == nil {
		t.Fatal("verify-only manager must not sign")
	}
}

func TestNewManagerRejectsBadConfig(t *testing.T) {
	cases := []Config{
		{AccessTTL: 0, SigningMethod: MethodHS256, PrivateKey: testSecret},
		{AccessTTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: []byte("short")},
		{AccessTTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: testSecret, Leeway: time.Hour},
		{AccessTTL: time.Minute, SigningMethod: "rs512"},
		{AccessTTL: time.Minute, SigningMethod: MethodEd25519},
	}
	for i, cfg := range cases {
		if _, err := NewManager(cfg, nil); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

func TestExtractToken(t *testing.T) {
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	m := newTestManager(t, clk, nil)

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer header-token")
	if got := m.ExtractToken(r); got != "header-token" {
		t.Fatalf("expected bearer token, got %q", got)
	}

	r.AddCookie(&http.Cookie{Name: "access-token", Value: "cookie-token"})
	if got := m.ExtractToken(r); got != "cookie-token" {
		t.Fatalf("expected cookie to win, got %q", got)
	}

	r = httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Basic abc")
	if got := m.ExtractToken(r); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}
