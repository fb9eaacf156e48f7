// Package security summarises the protections a configuration enables.
//
// BuildReport is pure: it never reads configuration or state itself, so the
// caller decides which values to report.
package security
