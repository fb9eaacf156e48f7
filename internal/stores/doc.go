// Package stores provides short-lived revocation records and the periodic
// sweeper that bounds in-memory state.
//
// # Design
//
// [Blacklist] is keyed by access-token identifier (jti). Entries live no
// longer than the token they revoke. Expired entries are dropped lazily on
// lookup, so correctness never depends on the sweeper; [Sweeper] only
// reclaims memory for keys that are never looked up again.
//
// # Architecture boundaries
//
// This package owns persistence only. It does NOT parse tokens or decide
// what to revoke; the jwt package and the Engine do.
package stores
