// Package refresh stores long-lived opaque refresh tokens and rotates them.
//
// Every token is single use. Rotating a token revokes it and mints a
// successor for the same subject. Presenting an already revoked token is
// treated as theft: every token of that subject is revoked and
// [ErrReplayDetected] is returned.
//
// Three stores share the [Store] contract: an in-process map, Redis (Lua
// scripts keep each rotation atomic) and any database/sql backend that
// understands PostgreSQL placeholders.
package refresh
