package limiters

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/MrEthical07/goGuard/internal/clock"
	"github.com/MrEthical07/goGuard/internal/rate"
	"github.com/redis/go-redis/v9"
)

// ErrLockoutUnavailable indicates the lock backend is unreachable.
var ErrLockoutUnavailable = errors.New("lockout backend unavailable")

// LockState is the lock flag and lock-until timestamp of one subject.
type LockState struct {
	Locked bool
	Until  time.Time
}

// LockStore persists lock state by username.
type LockStore interface {
	Load(ctx context.Context, username string) (LockState, error)
	Save(ctx context.Context, username string, state LockState) error
	Clear(ctx context.Context, username string) error
}

// LockService drives lock transitions. Expired locks are cleared lazily by
// [LockService.UnlockIfExpired]; there is no background timer.
type LockService struct {
	store    LockStore
	duration time.Duration
	now      func() time.Time
}

// NewLockService creates a lock service locking for duration.
func NewLockService(store LockStore, duration time.Duration, now func() time.Time) *LockService {
	return &LockService{
		store:    store,
		duration: duration,
		now:      clock.OrSystem(now),
	}
}

// Lock locks username until now+duration and returns the lock-until time.
func (s *LockService) Lock(ctx context.Context, username string) (time.Time, error) {
	until := s.now().Add(s.duration)
	if err := s.store.Save(ctx, rate.NormalizeKey(username), LockState{Locked: true, Until: until}); err != nil {
		return time.Time{}, err
	}
	return until, nil
}

// UnlockIfExpired clears the lock when it has passed and returns the
// effective state.
func (s *LockService) UnlockIfExpired(ctx context.Context, username string) (LockState, error) {
	username = rate.NormalizeKey(username)
	state, err := s.store.Load(ctx, username)
	if err != nil {
		return LockState{}, err
	}
	if state.Locked && s.now().After(state.Until) {
		if err := s.store.Clear(ctx, username); err != nil {
			return LockState{}, err
		}
		return LockState{}, nil
	}
	return state, nil
}

// ForceUnlock clears the lock regardless of its timer.
func (s *LockService) ForceUnlock(ctx context.Context, username string) error {
	return s.store.Clear(ctx, rate.NormalizeKey(username))
}

// State returns the stored state without clearing expired locks.
func (s *LockService) State(ctx context.Context, username string) (LockState, error) {
	return s.store.Load(ctx, rate.NormalizeKey(username))
}

// MemoryLockStore keeps lock state in process memory.
type MemoryLockStore struct {
	mu     sync.RWMutex
	states map[string]LockState
}

// NewMemoryLockStore creates an empty in-memory lock store.
func NewMemoryLockStore() *MemoryLockStore {
	return &MemoryLockStore{states: make(map[string]LockState)}
}

func (m *MemoryLockStore) Load(_ context.Context, username string) (LockState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states[username], nil
}

func (m *MemoryLockStore) Save(_ context.Context, username string, state LockState) error {
	m.mu.Lock()
	m.states[username] = state
	m.mu.Unlock()
	return nil
}

func (m *MemoryLockStore) Clear(_ context.Context, username string) error {
	m.mu.Lock()
	delete(m.states, username)
	m.mu.Unlock()
	return nil
}

// RedisLockStore keeps lock-until timestamps under "<prefix>lock:<username>".
// Keys outlive the lock by a minute so that an expired lock can still be
// observed and cleared by UnlockIfExpired.
type RedisLockStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisLockStore creates a Redis-backed lock store.
func NewRedisLockStore(redisClient redis.UniversalClient, prefix string, now func() time.Time) *RedisLockStore {
	return &RedisLockStore{redis: redisClient, prefix: prefix, now: clock.OrSystem(now)}
}

func (r *RedisLockStore) key(username string) string {
	return r.prefix + "lock:" + username
}

func (r *RedisLockStore) Load(ctx context.Context, username string) (LockState, error) {
	raw, err := r.redis.Get(ctx, r.key(username)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return LockState{}, nil
		}
		return LockState{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return LockState{}, fmt.Errorf("%w: corrupt lock value", ErrLockoutUnavailable)
	}
	return LockState{Locked: true, Until: time.Unix(0, nanos).UTC()}, nil
}

func (r *RedisLockStore) Save(ctx context.Context, username string, state LockState) error {
	if !state.Locked {
		return r.Clear(ctx, username)
	}
	ttl := state.Until.Sub(r.now()) + time.Minute
	if ttl < time.Minute {
		ttl = time.Minute
	}
	value := strconv.FormatInt(state.Until.UnixNano(), 10)
	if err := r.redis.Set(ctx, r.key(username), value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

func (r *RedisLockStore) Clear(ctx context.Context, username string) error {
	if err := r.redis.Del(ctx, r.key(username)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}
