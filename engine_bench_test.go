package goGuard

import (
	"testing"
)

func BenchmarkValidateAccess(b *testing.B) {
	te := newTestEngine(b, testConfig())
	te.seed(b, "alice", "correct-horse")
	ctx := ipContext("10.0.0.1")
	res, err := te.Login(ctx, LoginRequest{Username: "alice", Password: "correct-horse"})
	if err != nil {
		b.Fatalf("Login failed: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := te.ValidateAccess(ctx, res.AccessToken); err != nil {
			b.Fatalf("ValidateAccess failed: %v", err)
		}
	}
}

func BenchmarkRefresh(b *testing.B) {
	cfg := testConfig()
	cfg.Refresh.MaxSessions = 0
	te := newTestEngine(b, cfg)
	te.seed(b, "alice", "correct-horse")
	ctx := ipContext("10.0.0.1")
	res, err := te.Login(ctx, LoginRequest{Username: "alice", Password: "correct-horse"})
	if err != nil {
		b.Fatalf("Login failed: %v", err)
	}
	current := res.RefreshToken

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		next, err := te.Refresh(ctx, current)
		if err != nil {
			b.Fatalf("Refresh failed: %v", err)
		}
		current = next.RefreshToken
	}
}
