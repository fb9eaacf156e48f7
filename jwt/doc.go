// Package jwt issues and validates short-lived bearer credentials.
//
// A credential carries the subject (username), the user id, a random token
// identifier (jti), issued-at and expiry. Validation checks the signature,
// the expiry, the optional subject binding and the revocation registry, in
// that order. Expired and malformed tokens produce distinct errors so
// callers can choose between a silent refresh and a forced re-login.
package jwt
