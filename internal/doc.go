// Package internal holds randomness helpers shared by the refresh store,
// the challenge providers and the Engine: opaque refresh values, numeric
// one-time codes and captcha text.
//
// Every helper reads from crypto/rand.
package internal
