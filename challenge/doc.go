// Package challenge issues and checks human-verification challenges:
// captchas before credential submission and one-time passcodes delivered
// over SMS or email.
//
// Providers form a closed set selected by name at construction. Every
// issued answer lives in a [CodeStore] and is consumed by the first
// verification attempt, right or wrong.
package challenge
