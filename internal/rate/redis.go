package rate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/goGuard/internal/clock"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Scores are unix microseconds; nanoseconds would exceed float64 precision.
const admitScript = `
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
local count = redis.call("ZCARD", KEYS[1])
if count >= tonumber(ARGV[3]) then
  return 0
end
redis.call("ZADD", KEYS[1], ARGV[2], ARGV[4])
redis.call("PEXPIRE", KEYS[1], ARGV[5])
return 1
`

var admitLua = redis.NewScript(admitScript)

// RedisCounter stores each key's window as a sorted set so every instance
// behind a load balancer shares one budget.
type RedisCounter struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisCounter creates a counter backed by redisClient. Keys are
// namespaced with prefix.
func NewRedisCounter(redisClient redis.UniversalClient, prefix string, now func() time.Time) *RedisCounter {
	return &RedisCounter{
		redis:  redisClient,
		prefix: prefix,
		now:    clock.OrSystem(now),
	}
}

// Admit implements [Counter].
func (c *RedisCounter) Admit(ctx context.Context, key string, window time.Duration, limit int) (bool, error) {
	if limit <= 0 {
		return false, nil
	}
	now := c.now()
	ttl := window.Milliseconds()
	if ttl < 1 {
		ttl = 1
	}

	res, err := admitLua.Run(ctx, c.redis, []string{c.prefix + key},
		strconv.FormatInt(now.Add(-window).UnixMicro(), 10),
		strconv.FormatInt(now.UnixMicro(), 10),
		limit,
		uuid.NewString(),
		ttl,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return res == 1, nil
}

// Count implements [Counter].
func (c *RedisCounter) Count(ctx context.Context, key string, window time.Duration) (int, error) {
	fullKey := c.prefix + key
	cutoff := strconv.FormatInt(c.now().Add(-window).UnixMicro(), 10)

	var card *redis.IntCmd
	_, err := c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, fullKey, "-inf", cutoff)
		card = pipe.ZCard(ctx, fullKey)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(card.Val()), nil
}

// Reset implements [Counter].
func (c *RedisCounter) Reset(ctx context.Context, key string) error {
	if err := c.redis.Del(ctx, c.prefix+key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
