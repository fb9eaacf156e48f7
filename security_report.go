package goGuard

import "github.com/MrEthical07/goGuard/internal/security"

// SecurityReport is a read-only snapshot of the engine's protections,
// returned by [Engine.SecurityReport].
type SecurityReport = security.Report

// PasswordConfigReport contains the Argon2 parameters active in the engine.
type PasswordConfigReport = security.PasswordReport

func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	cfg := e.config

	return security.BuildReport(security.ReportInput{
		ProductionMode:   !cfg.IsDev(),
		SigningAlgorithm: e.jwtManager.Algorithm(),
		AccessTTL:        cfg.JWT.AccessTTL,
		RefreshTTL:       cfg.Refresh.TTL,
		Password: PasswordConfigReport{
			Memory:      cfg.Password.Memory,
			Time:        cfg.Password.Time,
			Parallelism: cfg.Password.Parallelism,
			SaltLength:  cfg.Password.SaltLength,
			KeyLength:   cfg.Password.KeyLength,
		},
		AcceptBcrypt:         cfg.Password.AcceptBcrypt,
		MaxSessions:          cfg.Refresh.MaxSessions,
		SessionPolicy:        string(cfg.Refresh.SessionPolicy),
		RateWindow:           cfg.RateLimit.Window,
		IPMax:                cfg.RateLimit.IPMax,
		UsernameMax:          cfg.RateLimit.UsernameMax,
		MaxFailedAttempts:    cfg.Attempt.UsernameMax,
		LockDuration:         cfg.Lock.Duration,
		CaptchaEnabled:       cfg.Captcha.Enabled,
		CaptchaProvider:      cfg.Captcha.Provider,
		OTPChannel:           cfg.OTP.Channel,
		MasterCode:           cfg.OTP.DevMasterCode,
		RedisConfigured:      e.distributed,
		AuditEnabled:         cfg.Audit.Enabled,
		PasswordExpiration:   cfg.Password.ExpirationEnabled,
		TrustedProxies:       cfg.Pipeline.TrustedProxies,
		RegistrationDisabled: !cfg.Account.RegistrationEnabled,
	})
}
