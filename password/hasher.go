package password

import (
	"errors"
	"strings"
	"unicode/utf8"
)

var (
	// ErrUnknownFormat is returned for a hash no registered algorithm owns.
	ErrUnknownFormat = errors.New("unknown password hash format")
	// ErrTooShort is returned by CheckPolicy.
	ErrTooShort = errors.New("password too short")
	// ErrTooLong is returned by CheckPolicy.
	ErrTooLong = errors.New("password too long")
)

// Hasher produces and checks one hash encoding.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
	// Owns reports whether encoded was produced by this algorithm.
	Owns(encoded string) bool
	// NeedsRehash reports whether encoded uses weaker parameters than the
	// hasher's current configuration.
	NeedsRehash(encoded string) bool
}

// Verifier hashes with a primary Hasher and verifies with any known one.
type Verifier struct {
	primary Hasher
	all     []Hasher
}

// NewVerifier returns a Verifier hashing with primary and also accepting
// hashes owned by legacy.
func NewVerifier(primary Hasher, legacy ...Hasher) *Verifier {
	return &Verifier{primary: primary, all: append([]Hasher{primary}, legacy...)}
}

// Hash encodes password with the primary algorithm.
func (v *Verifier) Hash(password string) (string, error) {
	return v.primary.Hash(password)
}

// Verify checks password against encoded using whichever algorithm owns it.
func (v *Verifier) Verify(password, encoded string) (bool, error) {
	for _, h := range v.all {
		if h.Owns(encoded) {
			return h.Verify(password, encoded)
		}
	}
	return false, ErrUnknownFormat
}

// NeedsRehash is true when encoded is owned by a legacy algorithm or by the
// primary one with weaker parameters.
func (v *Verifier) NeedsRehash(encoded string) bool {
	if !v.primary.Owns(encoded) {
		return true
	}
	return v.primary.NeedsRehash(encoded)
}

// CheckPolicy enforces length bounds counted in runes. Bytes are hashed as
// provided, without normalisation.
func CheckPolicy(password string, minLen, maxLen int) error {
	n := utf8.RuneCountInString(password)
	if n < minLen || strings.TrimSpace(password) == "" {
		return ErrTooShort
	}
	if maxLen > 0 && n > maxLen {
		return ErrTooLong
	}
	return nil
}
