// Package middleware adapts a goGuard.Engine to net/http.
//
// [Pipeline] runs a fixed chain of stages in front of a handler:
//
//  1. body buffering, so later stages and the handler can both read the body
//  2. per-IP rate limiting on the auth prefix
//  3. captcha verification on the login and register routes
//  4. per-username rate limiting on the login and OTP routes
//  5. bearer token validation everywhere outside the auth prefix
//
// The first failing stage writes a JSON error and the handler never runs.
// Storage failures in any stage answer 503.
//
// [IssueLimiter] bounds how fast one client can request captchas.
package middleware
