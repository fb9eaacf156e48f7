// Package goGuard is the authentication and session-security core of a
// service: password and one-time-code login, JWT access tokens, rotating
// opaque refresh tokens with replay detection, throttling and lockout, and
// cached permission grants.
//
// An [Engine] is assembled with a [Builder] and is safe for concurrent use.
// Every stateful component runs in process memory by default and moves to
// Redis when [Builder.WithRedis] is given a client, so several instances can
// share counters, lockouts, the token blacklist and refresh tokens.
//
// # Failure behaviour
//
// Operations fail closed. A store or delivery failure surfaces as an error
// wrapping [ErrBackendUnavailable] and is never treated as "not limited",
// "not locked" or "not revoked". [KindOf], [StatusOf] and [ErrorCode]
// classify errors for transport layers.
//
// # HTTP
//
// The middleware package wraps an Engine in a request pipeline that buffers
// bodies, applies IP and username limits, checks captchas on login routes
// and authenticates bearer tokens everywhere else.
package goGuard
