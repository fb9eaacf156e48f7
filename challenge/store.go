package challenge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrEthical07/goGuard/internal/clock"
	"github.com/redis/go-redis/v9"
)

// ErrStoreUnavailable wraps code store backend failures.
var ErrStoreUnavailable = errors.New("challenge store unavailable")

// CodeStore holds issued answers until they are taken or expire.
type CodeStore interface {
	Put(ctx context.Context, key, code string, ttl time.Duration) error
	// Take returns and removes the code under key.
	Take(ctx context.Context, key string) (string, bool, error)
}

type memoryCode struct {
	code      string
	expiresAt time.Time
}

// MemoryCodeStore is an in-process CodeStore.
type MemoryCodeStore struct {
	now   func() time.Time
	mu    sync.Mutex
	codes map[string]memoryCode
}

// NewMemoryCodeStore returns an empty MemoryCodeStore.
func NewMemoryCodeStore(now func() time.Time) *MemoryCodeStore {
	return &MemoryCodeStore{now: clock.OrSystem(now), codes: make(map[string]memoryCode)}
}

// Put stores code under key, replacing any previous code.
func (s *MemoryCodeStore) Put(_ context.Context, key, code string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[key] = memoryCode{code: code, expiresAt: s.now().Add(ttl)}
	return nil
}

// Take removes and returns the live code under key.
func (s *MemoryCodeStore) Take(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.codes[key]
	if !ok {
		return "", false, nil
	}
	delete(s.codes, key)
	if !s.now().Before(c.expiresAt) {
		return "", false, nil
	}
	return c.code, true, nil
}

// Purge drops expired codes.
func (s *MemoryCodeStore) Purge(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for k, c := range s.codes {
		if !now.Before(c.expiresAt) {
			delete(s.codes, k)
			n++
		}
	}
	return n, nil
}

// RedisCodeStore keeps codes under <prefix><key> with a native TTL.
type RedisCodeStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisCodeStore returns a Redis-backed CodeStore.
func NewRedisCodeStore(redisClient redis.UniversalClient, prefix string) *RedisCodeStore {
	return &RedisCodeStore{redis: redisClient, prefix: prefix}
}

// Put stores code under key with ttl.
func (s *RedisCodeStore) Put(ctx context.Context, key, code string, ttl time.Duration) error {
	if err := s.redis.Set(ctx, s.prefix+key, code, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Take atomically reads and deletes key.
func (s *RedisCodeStore) Take(ctx context.Context, key string) (string, bool, error) {
	code, err := s.redis.GetDel(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return code, true, nil
}
