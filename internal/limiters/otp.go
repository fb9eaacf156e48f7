package limiters

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goGuard/internal/rate"
)

// ErrOTPResendLimited is returned when a username or IP has requested too
// many one-time codes inside the window.
var ErrOTPResendLimited = errors.New("otp resend limited")

// OTPLimiterConfig holds the resend budget.
type OTPLimiterConfig struct {
	Window    time.Duration
	MaxResend int
}

// OTPLimiter caps how often codes are sent to one username or from one IP.
type OTPLimiter struct {
	counter rate.Counter
	config  OTPLimiterConfig
}

// NewOTPLimiter creates an OTP resend limiter. Zero-value fields fall back
// to 3 sends per 10 minutes.
func NewOTPLimiter(counter rate.Counter, cfg OTPLimiterConfig) *OTPLimiter {
	if cfg.Window <= 0 {
		cfg.Window = 10 * time.Minute
	}
	if cfg.MaxResend <= 0 {
		cfg.MaxResend = 3
	}
	return &OTPLimiter{counter: counter, config: cfg}
}

// Allow consumes one send from the IP budget and then the username budget.
func (l *OTPLimiter) Allow(ctx context.Context, username, ip string) error {
	if ip != "" {
		if err := l.admit(ctx, "otp:ip:"+ip); err != nil {
			return err
		}
	}
	if username = rate.NormalizeKey(username); username != "" {
		return l.admit(ctx, "otp:u:"+username)
	}
	return nil
}

func (l *OTPLimiter) admit(ctx context.Context, key string) error {
	ok, err := l.counter.Admit(ctx, key, l.config.Window, l.config.MaxResend)
	if err != nil {
		return err
	}
	if !ok {
		return ErrOTPResendLimited
	}
	return nil
}
