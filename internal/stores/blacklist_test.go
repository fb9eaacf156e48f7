package stores

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/goGuard/internal/clock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var testStart = time.Date(2026, 5, 5, 8, 0, 0, 0, time.UTC)

func TestMemoryBlacklistLazyExpiry(t *testing.T) {
	clk := clock.NewManual(testStart)
	bl := NewMemoryBlacklist(clk.Now)
	ctx := context.Background()

	if err := bl.Add(ctx, "jti-1", time.Minute); err != nil {
		t.Fatalf("add: %v", err)
	}
	if ok, _ := bl.Contains(ctx, "jti-1"); !ok {
		t.Fatal("expected jti-1 blacklisted")
	}
	if ok, _ := bl.Contains(ctx, "jti-2"); ok {
		t.Fatal("unrelated id must not be blacklisted")
	}

	clk.Advance(time.Minute)
	if ok, _ := bl.Contains(ctx, "jti-1"); ok {
		t.Fatal("expected entry expired")
	}
	if bl.Len() != 0 {
		t.Fatalf("expected stale entry removed on lookup, len=%d", bl.Len())
	}
}

func TestMemoryBlacklistIgnoresNonPositiveTTLAndKeepsLongest(t *testing.T) {
	clk := clock.NewManual(testStart)
	bl := NewMemoryBlacklist(clk.Now)
	ctx := context.Background()

	bl.Add(ctx, "a", 0)
	bl.Add(ctx, "b", -time.Second)
	if bl.Len() != 0 {
		t.Fatalf("non-positive ttl must not insert, len=%d", bl.Len())
	}

	bl.Add(ctx, "c", time.Hour)
	bl.Add(ctx, "c", time.Minute)
	clk.Advance(30 * time.Minute)
	if ok, _ := bl.Contains(ctx, "c"); !ok {
		t.Fatal("shorter re-add must not shrink an existing revocation")
	}
}

func TestMemoryBlacklistPurge(t *testing.T) {
	clk := clock.NewManual(testStart)
	bl := NewMemoryBlacklist(clk.Now)
	ctx := context.Background()

	bl.Add(ctx, "short", time.Second)
	bl.Add(ctx, "long", time.Hour)
	clk.Advance(time.Minute)

	removed, err := bl.Purge(ctx)
	if err != nil || removed != 1 {
		t.Fatalf("purge removed=%d err=%v", removed, err)
	}
	if ok, _ := bl.Contains(ctx, "long"); !ok {
		t.Fatal("unexpired entry purged")
	}
}

func TestRedisBlacklist(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	bl := NewRedisBlacklist(rdb, "")
	ctx := context.Background()

	if err := bl.Add(ctx, "jti", 2*time.Second); err != nil {
		t.Fatalf("add: %v", err)
	}
	if ok, err := bl.Contains(ctx, "jti"); err != nil || !ok {
		t.Fatalf("contains ok=%v err=%v", ok, err)
	}
	if ttl := mr.TTL("bl:jti"); ttl <= 0 || ttl > 2*time.Second {
		t.Fatalf("unexpected ttl %v", ttl)
	}

	mr.FastForward(3 * time.Second)
	if ok, _ := bl.Contains(ctx, "jti"); ok {
		t.Fatal("expected redis entry expired")
	}
}

func TestRedisBlacklistUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	bl := NewRedisBlacklist(rdb, "")
	if _, err := bl.Contains(context.Background(), "x"); !errors.Is(err, ErrBlacklistUnavailable) {
		t.Fatalf("expected ErrBlacklistUnavailable, got %v", err)
	}
}
