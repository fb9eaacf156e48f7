package refresh

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goGuard/internal/clock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const testTTL = 15 * 24 * time.Hour

type storeFactory func(t *testing.T, clk *clock.Manual) Store

func storeFactories() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T, clk *clock.Manual) Store {
			return NewMemoryStore(testTTL, clk.Now)
		},
		"redis": func(t *testing.T, clk *clock.Manual) Store {
			mr, err := miniredis.Run()
			if err != nil {
				t.Fatalf("miniredis: %v", err)
			}
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() {
				_ = rdb.Close()
				mr.Close()
			})
			return NewRedisStore(rdb, "test:", testTTL, clk.Now)
		},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store, clk *clock.Manual)) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			clk := clock.NewManual(time.Unix(1_700_000_000, 0))
			fn(t, factory(t, clk), clk)
		})
	}
}

func TestRotateRevokesAndMintsSuccessor(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clk *clock.Manual) {
		ctx := context.Background()
		first, err := s.Create(ctx, "alice")
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		next, err := s.Rotate(ctx, first.Value)
		if err != nil {
			t.Fatalf("rotate: %v", err)
		}
		if next.Value == first.Value || next.Subject != "alice" {
			t.Fatalf("unexpected successor %+v", next)
		}
		if !next.ExpiresAt.Equal(clk.Now().Add(testTTL)) {
			t.Fatalf("unexpected successor expiry %v", next.ExpiresAt)
		}

		old, err := s.Get(ctx, first.Value)
		if err != nil {
			t.Fatalf("get old: %v", err)
		}
		if !old.Revoked {
			t.Fatal("rotated token must be revoked")
		}
	})
}

func TestRotateUnknownValue(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ *clock.Manual) {
		if _, err := s.Rotate(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})
}

func TestRotateExpiredDeletes(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clk *clock.Manual) {
		ctx := context.Background()
		tok, _ := s.Create(ctx, "alice")
		clk.Advance(testTTL + time.Second)

		if _, err := s.Rotate(ctx, tok.Value); !errors.Is(err, ErrExpired) {
			t.Fatalf("expected expired, got %v", err)
		}
		if _, err := s.Get(ctx, tok.Value); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expired token should be deleted, got %v", err)
		}
	})
}

func TestReplayRevokesWholeSubject(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ *clock.Manual) {
		ctx := context.Background()
		first, _ := s.Create(ctx, "alice")
		other, _ := s.Create(ctx, "alice")
		bob, _ := s.Create(ctx, "bob")

		successor, err := s.Rotate(ctx, first.Value)
		if err != nil {
			t.Fatalf("rotate: %v", err)
		}
		if _, err := s.Rotate(ctx, first.Value); !errors.Is(err, ErrReplayDetected) {
			t.Fatalf("expected replay, got %v", err)
		}

		for _, v := range []string{successor.Value, other.Value} {
			if _, err := s.Rotate(ctx, v); !errors.Is(err, ErrReplayDetected) {
				t.Fatalf("expected %s revoked by replay, got %v", v, err)
			}
		}
		if _, err := s.Rotate(ctx, bob.Value); err != nil {
			t.Fatalf("other subjects must be untouched: %v", err)
		}

		active, err := s.ListActive(ctx, "alice")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(active) != 0 {
			t.Fatalf("expected no active tokens, got %d", len(active))
		}
	})
}

func TestRevokeAllCountsLiveTokens(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ *clock.Manual) {
		ctx := context.Background()
		a, _ := s.Create(ctx, "alice")
		_, _ = s.Create(ctx, "alice")
		_, _ = s.Create(ctx, "alice")
		if err := s.Revoke(ctx, a.Value); err != nil {
			t.Fatalf("revoke: %v", err)
		}

		n, err := s.RevokeAll(ctx, "alice")
		if err != nil {
			t.Fatalf("revoke all: %v", err)
		}
		if n != 2 {
			t.Fatalf("expected 2 revoked, got %d", n)
		}
		if n, _ := s.RevokeAll(ctx, "alice"); n != 0 {
			t.Fatalf("expected idempotent revoke all, got %d", n)
		}
		if err := s.Revoke(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})
}

func TestListActiveOldestFirst(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clk *clock.Manual) {
		ctx := context.Background()
		var values []string
		for i := 0; i < 3; i++ {
			tok, err := s.Create(ctx, "alice")
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			values = append(values, tok.Value)
			clk.Advance(time.Second)
		}

		active, err := s.ListActive(ctx, "alice")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(active) != 3 {
			t.Fatalf("expected 3 active, got %d", len(active))
		}
		for i, tok := range active {
			if tok.Value != values[i] {
				t.Fatalf("position %d: expected %s, got %s", i, values[i], tok.Value)
			}
		}
	})
}

func TestDeleteIsIdempotent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ *clock.Manual) {
		ctx := context.Background()
		tok, _ := s.Create(ctx, "alice")
		if err := s.Delete(ctx, tok.Value); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if err := s.Delete(ctx, tok.Value); err != nil {
			t.Fatalf("second delete: %v", err)
		}
		if _, err := s.Get(ctx, tok.Value); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})
}

func TestConcurrentRotateSingleWinner(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ *clock.Manual) {
		ctx := context.Background()
		tok, err := s.Create(ctx, "alice")
		if err != nil {
			t.Fatalf("create: %v", err)
		}

		const n = 16
		var wg sync.WaitGroup
		wg.Add(n)
		results := make(chan error, n)
		for i := 0; i < n; i++ {
			go func() {
				defer wg.Done()
				_, err := s.Rotate(ctx, tok.Value)
				results <- err
			}()
		}
		wg.Wait()
		close(results)

		success, replay := 0, 0
		for err := range results {
			switch {
			case err == nil:
				success++
			case errors.Is(err, ErrReplayDetected):
				replay++
			default:
				t.Fatalf("unexpected rotate error: %v", err)
			}
		}
		if success != 1 {
			t.Fatalf("expected exactly one rotation success, got %d", success)
		}
		if replay != n-1 {
			t.Fatalf("expected %d replays, got %d", n-1, replay)
		}
	})
}

func TestMemorySweep(t *testing.T) {
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	s := NewMemoryStore(time.Hour, clk.Now)
	ctx := context.Background()

	_, _ = s.Create(ctx, "alice")
	clk.Advance(30 * time.Minute)
	_, _ = s.Create(ctx, "bob")
	clk.Advance(31 * time.Minute)

	n, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 || s.Len() != 1 {
		t.Fatalf("expected one swept and one left, got %d swept, %d left", n, s.Len())
	}
}

func TestRedisStoreUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	s := NewRedisStore(rdb, "", time.Hour, nil)
	mr.Close()

	if _, err := s.Create(context.Background(), "alice"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if _, err := s.Rotate(context.Background(), "v"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}
