package security

import "time"

type PasswordReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Report is a flat summary of the protections a configuration enables.
type Report struct {
	ProductionMode         bool
	SigningAlgorithm       string
	AccessTTL              time.Duration
	RefreshTTL             time.Duration
	Argon2                 PasswordReport
	LegacyHashesAccepted   bool
	RefreshReplayDetection bool
	SessionCapsActive      bool
	SessionPolicy          string
	RateLimitingActive     bool
	LockoutActive          bool
	CaptchaActive          bool
	CaptchaProvider        string
	OTPChannel             string
	MasterCodeActive       bool
	DistributedState       bool
	AuditEnabled           bool
	PasswordExpiration     bool
	// Warnings lists settings that weaken a production deployment.
	Warnings []string
}

type ReportInput struct {
	ProductionMode       bool
	SigningAlgorithm     string
	AccessTTL            time.Duration
	RefreshTTL           time.Duration
	Password             PasswordReport
	AcceptBcrypt         bool
	MaxSessions          int
	SessionPolicy        string
	RateWindow           time.Duration
	IPMax                int
	UsernameMax          int
	MaxFailedAttempts    int
	LockDuration         time.Duration
	CaptchaEnabled       bool
	CaptchaProvider      string
	OTPChannel           string
	MasterCode           string
	RedisConfigured      bool
	AuditEnabled         bool
	PasswordExpiration   bool
	TrustedProxies       int
	RegistrationDisabled bool
}

func BuildReport(input ReportInput) Report {
	rateLimiting := input.RateWindow > 0 &&
		(input.IPMax > 0 || input.UsernameMax > 0)

	lockout := input.MaxFailedAttempts > 0 &&
		input.LockDuration > 0

	masterCode := !input.ProductionMode && input.MasterCode != ""

	r := Report{
		ProductionMode:         input.ProductionMode,
		SigningAlgorithm:       input.SigningAlgorithm,
		AccessTTL:              input.AccessTTL,
		RefreshTTL:             input.RefreshTTL,
		Argon2:                 input.Password,
		LegacyHashesAccepted:   input.AcceptBcrypt,
		RefreshReplayDetection: true,
		SessionCapsActive:      input.MaxSessions > 0,
		SessionPolicy:          input.SessionPolicy,
		RateLimitingActive:     rateLimiting,
		LockoutActive:          lockout,
		CaptchaActive:          input.CaptchaEnabled,
		CaptchaProvider:        input.CaptchaProvider,
		OTPChannel:             input.OTPChannel,
		MasterCodeActive:       masterCode,
		DistributedState:       input.RedisConfigured,
		AuditEnabled:           input.AuditEnabled,
		PasswordExpiration:     input.PasswordExpiration,
	}

	if !input.ProductionMode {
		r.Warnings = append(r.Warnings, "development profile active")
	}
	if masterCode {
		r.Warnings = append(r.Warnings, "otp master code accepted")
	}
	if input.SigningAlgorithm == "HS256" {
		r.Warnings = append(r.Warnings, "symmetric signing key shared by issuers and verifiers")
	}
	if !input.CaptchaEnabled {
		r.Warnings = append(r.Warnings, "captcha disabled on login and registration")
	}
	if !rateLimiting {
		r.Warnings = append(r.Warnings, "request rate limiting disabled")
	}
	if !input.RedisConfigured {
		r.Warnings = append(r.Warnings, "counters and tokens held in process memory")
	}
	if input.TrustedProxies == 0 {
		r.Warnings = append(r.Warnings, "no trusted proxies, client ip is the socket peer")
	}
	return r
}
