package internal

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestNewOpaqueValueIsURLSafeAndUnique(t *testing.T) {
	seen := make(map[string]struct{}, 256)
	for i := 0; i < 256; i++ {
		v, err := NewOpaqueValue()
		if err != nil {
			t.Fatalf("opaque value: %v", err)
		}
		raw, err := base64.RawURLEncoding.DecodeString(v)
		if err != nil {
			t.Fatalf("value %q is not raw base64url: %v", v, err)
		}
		if len(raw) != 32 {
			t.Fatalf("expected 32 raw bytes, got %d", len(raw))
		}
		if _, dup := seen[v]; dup {
			t.Fatalf("duplicate value %q", v)
		}
		seen[v] = struct{}{}
	}
}

func TestNewOTPDigits(t *testing.T) {
	code, err := NewOTP(6)
	if err != nil {
		t.Fatalf("otp: %v", err)
	}
	if len(code) != 6 || strings.Trim(code, "0123456789") != "" {
		t.Fatalf("unexpected otp %q", code)
	}
	if _, err := NewOTP(3); err == nil {
		t.Fatal("expected error for too few digits")
	}
}

func TestNewCodeUsesCharset(t *testing.T) {
	const charset = "abc"
	code, err := NewCode(charset, 32)
	if err != nil {
		t.Fatalf("code: %v", err)
	}
	if strings.Trim(code, charset) != "" {
		t.Fatalf("code %q contains characters outside charset", code)
	}
}
