package challenge

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goGuard/internal"
	"github.com/sirupsen/logrus"
)

var (
	// ErrUnknownProvider is returned by NewGate for an unrecognised captcha
	// provider or OTP channel name.
	ErrUnknownProvider = errors.New("unknown challenge provider")
	// ErrNoDestination is returned when a contact has no address for the
	// configured channel.
	ErrNoDestination = errors.New("no otp destination for channel")
	// ErrSendFailed wraps Sender failures.
	ErrSendFailed = errors.New("otp delivery failed")
)

// CaptchaKind names a captcha provider.
type CaptchaKind string

// OTPChannel names an OTP delivery channel.
type OTPChannel string

// Purpose scopes a one-time code. A code issued for one purpose never
// verifies for another.
type Purpose string

const (
	CaptchaLocal CaptchaKind = "local"
	CaptchaDev   CaptchaKind = "dev"

	OTPSMS   OTPChannel = "sms"
	OTPEmail OTPChannel = "email"
	OTPDev   OTPChannel = "dev"

	PurposeLogin Purpose = "login"
	PurposeReset Purpose = "reset"
)

// Sender delivers a one-time code to a destination address.
type Sender interface {
	Send(ctx context.Context, destination, code string) error
}

// SenderFunc adapts a function to [Sender].
type SenderFunc func(ctx context.Context, destination, code string) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, destination, code string) error {
	return f(ctx, destination, code)
}

// Contact carries the addresses a code can be sent to.
type Contact struct {
	Email  string
	Mobile string
}

// Config selects providers and code policy.
type Config struct {
	Captcha    CaptchaKind
	CaptchaTTL time.Duration
	OTPChannel OTPChannel
	OTPLength  int
	OTPTTL     time.Duration
	MasterCode string
}

// Gate issues and verifies captchas and one-time codes.
type Gate struct {
	cfg     Config
	captcha captchaProvider
	codes   CodeStore
	sender  Sender
	log     *logrus.Logger
}

// NewGate resolves the configured providers. sender may be nil only for the
// dev channel, which logs codes instead of delivering them.
func NewGate(cfg Config, codes CodeStore, sender Sender, log *logrus.Logger) (*Gate, error) {
	if codes == nil {
		return nil, errors.New("challenge: code store required")
	}
	if log == nil {
		log = logrus.New()
	}
	if cfg.CaptchaTTL <= 0 {
		cfg.CaptchaTTL = 120 * time.Second
	}
	if cfg.OTPLength == 0 {
		cfg.OTPLength = 6
	}
	if cfg.OTPTTL <= 0 {
		cfg.OTPTTL = 180 * time.Second
	}

	g := &Gate{cfg: cfg, codes: codes, sender: sender, log: log}

	switch cfg.Captcha {
	case CaptchaLocal:
		g.captcha = &localCaptcha{codes: codes, ttl: cfg.CaptchaTTL}
	case CaptchaDev:
		g.captcha = devCaptcha{}
	default:
		return nil, fmt.Errorf("%w: captcha %q", ErrUnknownProvider, cfg.Captcha)
	}

	switch cfg.OTPChannel {
	case OTPSMS, OTPEmail:
		if sender == nil {
			return nil, fmt.Errorf("challenge: channel %q needs a sender", cfg.OTPChannel)
		}
	case OTPDev:
		if g.sender == nil {
			g.sender = &DevSender{Log: log}
		}
	default:
		return nil, fmt.Errorf("%w: otp channel %q", ErrUnknownProvider, cfg.OTPChannel)
	}

	return g, nil
}

// Channel returns the configured OTP channel.
func (g *Gate) Channel() OTPChannel {
	return g.cfg.OTPChannel
}

// GenerateCaptcha issues a new captcha.
func (g *Gate) GenerateCaptcha(ctx context.Context) (Challenge, error) {
	return g.captcha.generate(ctx)
}

// ValidateCaptcha consumes the captcha id and reports whether response
// answers it.
func (g *Gate) ValidateCaptcha(ctx context.Context, id, response string) (bool, error) {
	if id == "" || response == "" {
		return false, nil
	}
	return g.captcha.validate(ctx, id, response)
}

// Destination picks the address for the configured channel: SMS uses the
// mobile number, email the email address, and dev prefers mobile.
func (g *Gate) Destination(c Contact) (string, error) {
	var dest string
	switch g.cfg.OTPChannel {
	case OTPSMS:
		dest = c.Mobile
	case OTPEmail:
		dest = c.Email
	default:
		dest = c.Mobile
		if strings.TrimSpace(dest) == "" {
			dest = c.Email
		}
	}
	if strings.TrimSpace(dest) == "" {
		return "", ErrNoDestination
	}
	return dest, nil
}

// SendOTP issues a purpose code for username and delivers it to
// destination. A previous pending code of the same purpose is replaced.
func (g *Gate) SendOTP(ctx context.Context, purpose Purpose, username, destination string) error {
	code, err := internal.NewOTP(g.cfg.OTPLength)
	if err != nil {
		return err
	}
	if err := g.codes.Put(ctx, otpKey(purpose, username), code, g.cfg.OTPTTL); err != nil {
		return err
	}
	if err := g.sender.Send(ctx, destination, code); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	if g.cfg.OTPChannel == OTPDev && g.cfg.MasterCode != "" {
		g.log.WithField("username", username).Warn("dev otp channel active, master code accepted")
	}
	return nil
}

// VerifyOTP consumes username's pending purpose code and reports whether
// code matches it. On the dev channel the master code is always accepted.
func (g *Gate) VerifyOTP(ctx context.Context, purpose Purpose, username, code string) (bool, error) {
	if code == "" {
		return false, nil
	}
	if g.cfg.OTPChannel == OTPDev && g.cfg.MasterCode != "" && code == g.cfg.MasterCode {
		return true, nil
	}

	stored, ok, err := g.codes.Take(ctx, otpKey(purpose, username))
	if err != nil || !ok {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(code)) == 1, nil
}

func otpKey(purpose Purpose, username string) string {
	return "otp:" + string(purpose) + ":" + strings.ToLower(strings.TrimSpace(username))
}

// DevSender writes codes to the log instead of delivering them.
type DevSender struct {
	Log *logrus.Logger
}

// Send logs destination and code at warn level.
func (s *DevSender) Send(_ context.Context, destination, code string) error {
	s.Log.WithFields(logrus.Fields{
		"destination": destination,
		"code":        code,
	}).Warn("dev otp issued")
	return nil
}
