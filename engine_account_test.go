package goGuard

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestRegisterCreatesUserAndSignsIn(t *testing.T) {
	te := newTestEngine(t, testConfig())
	ctx := ipContext("10.0.0.1")

	res, err := te.Register(ctx, RegisterRequest{
		Username: "carol",
		Password: "long-enough-1",
		Email:    "carol@example.com",
		Mobile:   "+15550001",
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if res.AccessToken == "" || res.RefreshToken == "" {
		t.Fatal("expected tokens after registration")
	}
	if len(res.Subject.Roles) != 1 || res.Subject.Roles[0] != "ROLE_USER" {
		t.Fatalf("expected default role, got %v", res.Subject.Roles)
	}

	if _, err := te.Login(ctx, LoginRequest{Username: "carol@example.com", Password: "long-enough-1"}); err != nil {
		t.Fatalf("expected login by email, got %v", err)
	}
	if te.MetricsSnapshot().Counters[MetricRegisterSuccess] != 1 {
		t.Fatal("expected register metric")
	}
}

func TestRegisterConflicts(t *testing.T) {
	te := newTestEngine(t, testConfig())
	te.seed(t, "alice", "correct-horse")
	ctx := ipContext("10.0.0.1")

	cases := []RegisterRequest{
		{Username: "ALICE", Password: "long-enough-1"},
		{Username: "alice2", Password: "long-enough-1", Email: "alice@example.com"},
		{Username: "alice3", Password: "long-enough-1", Mobile: "+1-alice"},
	}
	for _, req := range cases {
		_, err := te.Register(ctx, req)
		if !errors.Is(err, ErrIdentifierTaken) {
			t.Fatalf("%+v: expected identifier taken, got %v", req, err)
		}
		if StatusOf(err) != 409 {
			t.Fatalf("expected 409, got %d", StatusOf(err))
		}
	}
	if got := te.MetricsSnapshot().Counters[MetricRegisterDuplicate]; got != 3 {
		t.Fatalf("expected 3 duplicates, got %d", got)
	}
}

func TestRegisterValidation(t *testing.T) {
	te := newTestEngine(t, testConfig())
	ctx := ipContext("10.0.0.1")

	cases := map[string]RegisterRequest{
		"short password": {Username: "dave", Password: "short"},
		"no username":    {Username: "", Password: "long-enough-1"},
		"bad email":      {Username: "dave", Password: "long-enough-1", Email: "not-an-email"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := te.Register(ctx, req)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestRegisterDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Account.RegistrationEnabled = false
	te := newTestEngine(t, cfg)

	_, err := te.Register(ipContext("10.0.0.1"), RegisterRequest{Username: "erin", Password: "long-enough-1"})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected registration to be refused, got %v", err)
	}
}

func TestChangePasswordRevokesSessions(t *testing.T) {
	te := newTestEngine(t, testConfig())
	ctx := ipContext("10.0.0.1")
	res := loginAlice(t, te)

	err := te.ChangePassword(ctx, ChangePasswordRequest{
		Username:    "alice",
		OldPassword: "wrong-pass",
		NewPassword: "brand-new-pass",
	})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}

	err = te.ChangePassword(ctx, ChangePasswordRequest{
		Username:    "alice",
		OldPassword: "correct-horse",
		NewPassword: "correct-horse",
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected reuse to be rejected, got %v", err)
	}

	if err := te.ChangePassword(ctx, ChangePasswordRequest{
		Username:    "alice",
		OldPassword: "correct-horse",
		NewPassword: "brand-new-pass",
	}); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}

	if _, err := te.Refresh(ctx, res.RefreshToken); err == nil {
		t.Fatal("expected existing sessions to be revoked")
	}
	if _, err := te.Login(ctx, LoginRequest{Username: "alice", Password: "correct-horse"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password must stop working, got %v", err)
	}
	if _, err := te.Login(ctx, LoginRequest{Username: "alice", Password: "brand-new-pass"}); err != nil {
		t.Fatalf("new password must work, got %v", err)
	}
}

func TestResetPasswordWithOTP(t *testing.T) {
	te := newTestEngine(t, testConfig())
	ctx := ipContext("10.0.0.1")
	res := loginAlice(t, te)
	alice := te.users.get("id-alice")

	for i := 0; i < 5; i++ {
		_, _ = te.Login(ctx, LoginRequest{Username: "alice", Password: "forgotten"})
	}
	if locked, _ := te.LockState(ctx, "alice"); !locked {
		t.Fatal("expected alice to be locked before reset")
	}

	if err := te.SendResetOTP(ctx, "alice"); err != nil {
		t.Fatalf("SendResetOTP failed: %v", err)
	}

	err := te.ResetPassword(ctx, ResetPasswordRequest{Username: "alice", OTP: "000000", NewPassword: "reset-password"})
	if !errors.Is(err, ErrChallengeInvalid) {
		t.Fatalf("expected wrong code to fail, got %v", err)
	}

	// The wrong attempt consumed the code; issue a fresh one.
	if err := te.SendResetOTP(ctx, "alice"); err != nil {
		t.Fatalf("SendResetOTP failed: %v", err)
	}
	code := te.sent.last(alice.Mobile)

	if err := te.ResetPassword(ctx, ResetPasswordRequest{Username: "alice", OTP: code, NewPassword: "reset-password"}); err != nil {
		t.Fatalf("ResetPassword failed: %v", err)
	}
	if _, err := te.Refresh(ctx, res.RefreshToken); err == nil {
		t.Fatal("expected sessions to be revoked by reset")
	}
	if _, err := te.Login(ctx, LoginRequest{Username: "alice", Password: "reset-password"}); err != nil {
		t.Fatalf("expected login with reset password, got %v", err)
	}
	if got := te.MetricsSnapshot().Counters[MetricPasswordReset]; got != 1 {
		t.Fatalf("expected one reset, got %d", got)
	}
}

// historyUsers adds password history to the mock provider.
type historyUsers struct {
	*mockUserProvider

	mu     sync.Mutex
	hashes map[string][]string
}

func (h *historyUsers) RecentHashes(_ context.Context, userID string, limit int) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := h.hashes[userID]
	if len(list) > limit {
		list = list[:limit]
	}
	return append([]string(nil), list...), nil
}

func (h *historyUsers) AppendHash(_ context.Context, userID, hash string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.hashes == nil {
		h.hashes = map[string][]string{}
	}
	h.hashes[userID] = append([]string{hash}, h.hashes[userID]...)
	return nil
}

func newHistoryEngine(t *testing.T, depth int) (*testEngine, *historyUsers) {
	t.Helper()
	cfg := testConfig()
	cfg.Password.HistoryDepth = depth
	var history *historyUsers
	te := newTestEngine(t, cfg, func(b *Builder) {
		history = &historyUsers{}
		b.WithUserProvider(history)
	})
	history.mockUserProvider = te.users
	return te, history
}

func changePassword(te *testEngine, from, to string) error {
	return te.ChangePassword(ipContext("10.0.0.1"), ChangePasswordRequest{
		Username:    "alice",
		OldPassword: from,
		NewPassword: to,
	})
}

func TestChangePasswordRejectsRecentPasswords(t *testing.T) {
	te, history := newHistoryEngine(t, 5)
	te.seed(t, "alice", "pass-one-1")

	for _, step := range [][2]string{{"pass-one-1", "pass-two-2"}, {"pass-two-2", "pass-three-3"}} {
		if err := changePassword(te, step[0], step[1]); err != nil {
			t.Fatalf("change %s -> %s: %v", step[0], step[1], err)
		}
	}
	if got := len(history.hashes["id-alice"]); got != 2 {
		t.Fatalf("expected 2 recorded hashes, got %d", got)
	}

	err := changePassword(te, "pass-three-3", "pass-one-1")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected reuse of an old password to be rejected, got %v", err)
	}
	if err := changePassword(te, "pass-three-3", "pass-four-4"); err != nil {
		t.Fatalf("fresh password must be accepted: %v", err)
	}
}

func TestPasswordHistoryDepth(t *testing.T) {
	te, _ := newHistoryEngine(t, 1)
	te.seed(t, "alice", "pass-one-1")

	if err := changePassword(te, "pass-one-1", "pass-two-2"); err != nil {
		t.Fatalf("change: %v", err)
	}
	if err := changePassword(te, "pass-two-2", "pass-three-3"); err != nil {
		t.Fatalf("change: %v", err)
	}
	if err := changePassword(te, "pass-three-3", "pass-two-2"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected the newest previous password to be rejected, got %v", err)
	}
	if err := changePassword(te, "pass-three-3", "pass-one-1"); err != nil {
		t.Fatalf("passwords older than the depth are allowed again: %v", err)
	}
}

func TestResetPasswordRejectsCurrentPassword(t *testing.T) {
	te, _ := newHistoryEngine(t, 5)
	u := te.seed(t, "alice", "pass-one-1")
	ctx := ipContext("10.0.0.1")

	if err := te.SendResetOTP(ctx, "alice"); err != nil {
		t.Fatalf("SendResetOTP failed: %v", err)
	}
	err := te.ResetPassword(ctx, ResetPasswordRequest{Username: "alice", OTP: te.sent.last(u.Mobile), NewPassword: "pass-one-1"})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected current password to be rejected, got %v", err)
	}
}
