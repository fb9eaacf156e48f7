// Package limiters provides authentication-outcome policies built on top of
// the internal/rate sliding-window primitive.
//
// # Components
//
//   - [AttemptTracker]: failed authentication outcomes per username and per IP.
//   - [LockService]: lock/unlock transitions with a lock-until timestamp.
//   - [OTPLimiter]: OTP resend budget per username and per IP.
//
// # Architecture boundaries
//
// Each component owns its own key namespace and error types. Thresholds come
// from Config structs supplied at construction time. Callers (the Engine)
// decide consequences: the tracker only counts, the lock service only stores.
package limiters
