package refresh

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/goGuard/internal"
	"github.com/MrEthical07/goGuard/internal/clock"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	rotateStatusNotFound int64 = 0
	rotateStatusExpired  int64 = 1
	rotateStatusReplay   int64 = 2
	rotateStatusRotated  int64 = 3
)

// KEYS[1] token hash, KEYS[2] successor hash.
// ARGV: now ms, successor value, successor id, successor exp ms, subject-set prefix, old value.
const rotateScript = `
local sub = redis.call("HGET", KEYS[1], "sub")
if not sub then
  return {0}
end
local now = tonumber(ARGV[1])
if tonumber(redis.call("HGET", KEYS[1], "exp")) <= now then
  redis.call("DEL", KEYS[1])
  redis.call("SREM", ARGV[5] .. sub, ARGV[6])
  return {1, sub}
end
if redis.call("HGET", KEYS[1], "revoked") == "1" then
  return {2, sub}
end
redis.call("HSET", KEYS[1], "revoked", "1")
redis.call("HSET", KEYS[2], "id", ARGV[3], "sub", sub, "exp", ARGV[4], "created", ARGV[1], "revoked", "0")
redis.call("PEXPIRE", KEYS[2], tonumber(ARGV[4]) - now)
redis.call("SADD", ARGV[5] .. sub, ARGV[2])
return {3, sub}
`

// KEYS[1] subject set. ARGV: token prefix, now ms.
const revokeAllScript = `
local n = 0
local now = tonumber(ARGV[2])
for _, v in ipairs(redis.call("SMEMBERS", KEYS[1])) do
  local k = ARGV[1] .. v
  local revoked = redis.call("HGET", k, "revoked")
  if not revoked then
    redis.call("SREM", KEYS[1], v)
  elseif revoked == "0" and tonumber(redis.call("HGET", k, "exp")) > now then
    redis.call("HSET", k, "revoked", "1")
    n = n + 1
  end
end
return n
`

const revokeScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "revoked", "1")
return 1
`

var (
	rotateLua    = redis.NewScript(rotateScript)
	revokeAllLua = redis.NewScript(revokeAllScript)
	revokeLua    = redis.NewScript(revokeScript)
)

// RedisStore keeps each token in a hash under <prefix>rt:<value> and the
// subject index in a set under <prefix>rtu:<subject>. Revoked tokens live
// until their natural expiry so replays stay detectable.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStore returns a Redis-backed Store.
func NewRedisStore(redisClient redis.UniversalClient, prefix string, ttl time.Duration, now func() time.Time) *RedisStore {
	return &RedisStore{
		redis:  redisClient,
		prefix: prefix,
		ttl:    ttlOrDefault(ttl),
		now:    clock.OrSystem(now),
	}
}

func (s *RedisStore) tokenKey(value string) string {
	return s.prefix + "rt:" + value
}

func (s *RedisStore) subjectPrefix() string {
	return s.prefix + "rtu:"
}

func (s *RedisStore) subjectKey(subject string) string {
	return s.subjectPrefix() + subject
}

// Create mints a token for subject.
func (s *RedisStore) Create(ctx context.Context, subject string) (*Token, error) {
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

	key := s.tokenKey(value)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"id", tok.ID,
			"sub", subject,
			"exp", tok.ExpiresAt.UnixMilli(),
			"created", now.UnixMilli(),
			"revoked", "0",
		)
		pipe.PExpire(ctx, key, s.ttl)
		pipe.SAdd(ctx, s.subjectKey(subject), value)
		pipe.PExpire(ctx, s.subjectKey(subject), s.ttl)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return tok, nil
}

// Rotate revokes value and returns its successor in one script call.
func (s *RedisStore) Rotate(ctx context.Context, value string) (*Token, error) {
	next, err := internal.NewOpaqueValue()
	if err != nil {
		return nil, err
	}
	now := s.now()
	succ := &Token{
		ID:        uuid.NewString(),
		Value:     next,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	raw, err := rotateLua.Run(ctx, s.redis,
		[]string{s.tokenKey(value), s.tokenKey(next)},
		now.UnixMilli(), next, succ.ID, succ.ExpiresAt.UnixMilli(), s.subjectPrefix(), value,
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty rotate reply", ErrStoreUnavailable)
	}
	status, _ := raw[0].(int64)
	subject := ""
	if len(raw) > 1 {
		subject, _ = raw[1].(string)
	}

	switch status {
	case rotateStatusNotFound:
		return nil, ErrNotFound
	case rotateStatusExpired:
		return nil, ErrExpired
	case rotateStatusReplay:
		if _, err := s.RevokeAll(ctx, subject); err != nil {
			return nil, err
		}
		return nil, ErrReplayDetected
	case rotateStatusRotated:
		succ.Subject = subject
		s.redis.PExpire(ctx, s.subjectKey(subject), s.ttl)
		return succ, nil
	default:
		return nil, fmt.Errorf("%w: unexpected rotate status %d", ErrStoreUnavailable, status)
	}
}

// Revoke marks value revoked.
func (s *RedisStore) Revoke(ctx context.Context, value string) error {
	n, err := revokeLua.Run(ctx, s.redis, []string{s.tokenKey(value)}).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RevokeAll revokes every live token of subject.
func (s *RedisStore) RevokeAll(ctx context.Context, subject string) (int, error) {
	n, err := revokeAllLua.Run(ctx, s.redis,
		[]string{s.subjectKey(subject)},
		s.tokenKey(""), s.now().UnixMilli(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}

// Delete removes value and its subject index entry.
func (s *RedisStore) Delete(ctx context.Context, value string) error {
	key := s.tokenKey(value)
	subject, err := s.redis.HGet(ctx, key, "sub").Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.SRem(ctx, s.subjectKey(subject), value)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Get returns the token stored under value.
func (s *RedisStore) Get(ctx context.Context, value string) (*Token, error) {
	fields, err := s.redis.HGetAll(ctx, s.tokenKey(value)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	tok, ok := decodeHash(value, fields)
	if !ok {
		return nil, ErrNotFound
	}
	if tok.Expired(s.now()) {
		return nil, ErrExpired
	}
	return tok, nil
}

// ListActive returns subject's live tokens, oldest first.
func (s *RedisStore) ListActive(ctx context.Context, subject string) ([]*Token, error) {
	values, err := s.redis.SMembers(ctx, s.subjectKey(subject)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(values) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(values))
	_, err = s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, v := range values {
			cmds[i] = pipe.HGetAll(ctx, s.tokenKey(v))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	now := s.now()
	out := make([]*Token, 0, len(values))
	for i, cmd := range cmds {
		tok, ok := decodeHash(values[i], cmd.Val())
		if !ok || tok.Revoked || tok.Expired(now) {
			continue
		}
		out = append(out, tok)
	}
	sortOldestFirst(out)
	return out, nil
}

// Sweep is a no-op: Redis expires token hashes natively.
func (s *RedisStore) Sweep(context.Context) (int, error) {
	return 0, nil
}

func decodeHash(value string, fields map[string]string) (*Token, bool) {
	if len(fields) == 0 || fields["sub"] == "" {
		return nil, false
	}
	exp, err := strconv.ParseInt(fields["exp"], 10, 64)
	if err != nil {
		return nil, false
	}
	created, _ := strconv.ParseInt(fields["created"], 10, 64)
	return &Token{
		ID:        fields["id"],
		Subject:   fields["sub"],
		Value:     value,
		ExpiresAt: time.UnixMilli(exp),
		CreatedAt: time.UnixMilli(created),
		Revoked:   fields["revoked"] == "1",
	}, true
}
