// Package rate implements the sliding-window admission primitive and the
// request-rate limiter built on it.
//
// # Window semantics
//
// Each key owns an ordered sequence of admission timestamps. A call evicts
// entries at or before now-window, rejects when the remaining count has
// reached the limit, and otherwise records now. Rejected calls are never
// recorded.
//
// Two interchangeable counters exist:
//   - [MemoryCounter] for single-instance deployments (per-key locks).
//   - [RedisCounter] for shared deployments (one Lua script per admission).
//
// Key prefixes used by [Limiter]:
//   - "rl:ip:" counts requests per client IP
//   - "rl:user:" counts requests per submitted username
package rate
