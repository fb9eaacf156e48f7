package internal

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

const opaqueEntropySize = 16

// NewOpaqueValue returns a URL-safe refresh value: a random UUID followed
// by 16 further random bytes, base64url encoded without padding.
func NewOpaqueValue() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	raw := make([]byte, 0, len(id)+opaqueEntropySize)
	raw = append(raw, id[:]...)

	extra := make([]byte, opaqueEntropySize)
	if _, err := rand.Read(extra); err != nil {
		return "", err
	}
	raw = append(raw, extra...)

	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// NewOTP returns a numeric one-time code with the given number of digits.
func NewOTP(digits int) (string, error) {
	if digits < 4 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}
	return randomFrom("0123456789", digits)
}

// NewCode returns a random string of length drawn uniformly from charset.
func NewCode(charset string, length int) (string, error) {
	if charset == "" || length <= 0 {
		return "", errors.New("invalid code parameters")
	}
	return randomFrom(charset, length)
}

func randomFrom(charset string, length int) (string, error) {
	var b strings.Builder
	b.Grow(length)

	max := big.NewInt(int64(len(charset)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(charset[n.Int64()])
	}
	return b.String(), nil
}
