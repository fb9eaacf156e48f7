package stores

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrEthical07/goGuard/internal/clock"
	"github.com/redis/go-redis/v9"
)

// ErrBlacklistUnavailable wraps backend failures.
var ErrBlacklistUnavailable = errors.New("blacklist backend unavailable")

// Blacklist is a revocation registry keyed by token identifier.
type Blacklist interface {
	Add(ctx context.Context, tokenID string, ttl time.Duration) error
	Contains(ctx context.Context, tokenID string) (bool, error)
}

// MemoryBlacklist keeps {jti, expiresAt} pairs in process memory.
type MemoryBlacklist struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryBlacklist creates an empty in-memory blacklist.
func NewMemoryBlacklist(now func() time.Time) *MemoryBlacklist {
	return &MemoryBlacklist{
		entries: make(map[string]time.Time),
		now:     clock.OrSystem(now),
	}
}

// Add revokes tokenID for ttl. Non-positive ttl is ignored.
func (b *MemoryBlacklist) Add(_ context.Context, tokenID string, ttl time.Duration) error {
	if tokenID == "" || ttl <= 0 {
		return nil
	}
	expiresAt := b.now().Add(ttl)

	b.mu.Lock()
	defer b.mu.Unlock()
	if current, ok := b.entries[tokenID]; ok && current.After(expiresAt) {
		return nil
	}
	b.entries[tokenID] = expiresAt
	return nil
}

// Contains reports whether tokenID is revoked. A stale entry is removed
// when found.
func (b *MemoryBlacklist) Contains(_ context.Context, tokenID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	expiresAt, ok := b.entries[tokenID]
	if !ok {
		return false, nil
	}
	if !b.now().Before(expiresAt) {
		delete(b.entries, tokenID)
		return false, nil
	}
	return true, nil
}

// Purge drops every expired entry and returns how many were removed.
func (b *MemoryBlacklist) Purge(_ context.Context) (int, error) {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for id, expiresAt := range b.entries {
		if !now.Before(expiresAt) {
			delete(b.entries, id)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored entries, expired or not.
func (b *MemoryBlacklist) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// RedisBlacklist stores revocations as "bl:<jti>" keys with a native TTL.
type RedisBlacklist struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisBlacklist creates a Redis-backed blacklist.
func NewRedisBlacklist(redisClient redis.UniversalClient, prefix string) *RedisBlacklist {
	if prefix == "" {
		prefix = "bl:"
	}
	return &RedisBlacklist{redis: redisClient, prefix: prefix}
}

func (b *RedisBlacklist) Add(ctx context.Context, tokenID string, ttl time.Duration) error {
	if tokenID == "" || ttl <= 0 {
		return nil
	}
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	if err := b.redis.Set(ctx, b.prefix+tokenID, "1", ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBlacklistUnavailable, err)
	}
	return nil
}

func (b *RedisBlacklist) Contains(ctx context.Context, tokenID string) (bool, error) {
	n, err := b.redis.Exists(ctx, b.prefix+tokenID).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBlacklistUnavailable, err)
	}
	return n > 0, nil
}
