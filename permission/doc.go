// Package permission resolves and caches the grants held by a subject.
//
// # Grants
//
// A [Grants] value is an immutable set of authority strings ("orders:read",
// "admin"). It is produced by a [Resolver] and never mutated afterwards, so
// a single pointer may be shared freely between goroutines.
//
// # Caching
//
// [Cache] keeps resolved grants for a bounded time in an expiring LRU.
// Concurrent misses for one subject collapse into a single resolver call.
// Invalidation bumps a generation counter: a resolve that started before
// the bump still answers its callers but is never stored.
//
// # Roles
//
// [RoleResolver] is a static resolver composing grants from named roles,
// useful for tests and single-node deployments.
package permission
