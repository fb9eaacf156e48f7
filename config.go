package goGuard

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goGuard/challenge"
	"github.com/MrEthical07/goGuard/jwt"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Config is the full Engine configuration. Obtain one from DefaultConfig or
// LoadConfig and adjust it before passing it to Builder.WithConfig.
type Config struct {
	Profile     string            `yaml:"profile"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Attempt     AttemptConfig     `yaml:"attempt"`
	Lock        LockConfig        `yaml:"lock"`
	Blacklist   BlacklistConfig   `yaml:"blacklist"`
	JWT         JWTConfig         `yaml:"jwt"`
	Refresh     RefreshConfig     `yaml:"refresh"`
	Permission  PermissionConfig  `yaml:"permission"`
	Captcha     CaptchaConfig     `yaml:"captcha"`
	OTP         OTPConfig         `yaml:"otp"`
	Password    PasswordConfig    `yaml:"password"`
	Account     AccountConfig     `yaml:"account"`
	Cookie      CookieConfig      `yaml:"cookie"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Audit       AuditConfig       `yaml:"audit"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Redis       RedisConfig       `yaml:"redis"`
	Database    DatabaseConfig    `yaml:"database"`
	Logging     LoggingConfig     `yaml:"logging"`
	Sentry      SentryConfig      `yaml:"sentry"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

// ProfileDev relaxes cookie security and enables dev challenge providers.
const ProfileDev = "dev"

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig bounds request volume per IP and per submitted username.
type RateLimitConfig struct {
	Window      time.Duration `yaml:"window"`
	IPMax       int           `yaml:"ip_max"`
	UsernameMax int           `yaml:"username_max"`
}

/*
====================================
ATTEMPT / LOCK CONFIG
====================================
*/

// AttemptConfig bounds failed authentications. It is independent of
// RateLimitConfig: it counts outcomes, not requests.
type AttemptConfig struct {
	Window      time.Duration `yaml:"window"`
	UsernameMax int           `yaml:"username_max"`
	IPMax       int           `yaml:"ip_max"`
}

type LockConfig struct {
	Duration time.Duration `yaml:"duration"`
}

/*
====================================
TOKEN CONFIG
====================================
*/

type BlacklistConfig struct {
	RedisPrefix string `yaml:"redis_prefix"`
}

// JWTConfig configures access tokens. PrivateKey holds the shared secret
// for hs256 and a PEM or raw Ed25519 key for ed25519. LoadConfig fills the
// key fields from the *File paths or from Secret.
type JWTConfig struct {
	AccessTTL      time.Duration `yaml:"access_ttl"`
	SigningMethod  string        `yaml:"signing_method"`
	PrivateKey     []byte        `yaml:"-"`
	PublicKey      []byte        `yaml:"-"`
	PrivateKeyFile string        `yaml:"private_key_file"`
	PublicKeyFile  string        `yaml:"public_key_file"`
	Secret         string        `yaml:"secret"`
	Issuer         string        `yaml:"issuer"`
	Audience       string        `yaml:"audience"`
	Leeway         time.Duration `yaml:"leeway"`
	MaxFutureIAT   time.Duration `yaml:"max_future_iat"`
}

// SessionPolicy decides what happens when a login would exceed MaxSessions.
type SessionPolicy string

const (
	SessionEvictOldest SessionPolicy = "EVICT_OLDEST"
	SessionDenyNew     SessionPolicy = "DENY_NEW"
)

type RefreshConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	RedisPrefix   string        `yaml:"redis_prefix"`
	MaxSessions   int           `yaml:"max_sessions"`
	SessionPolicy SessionPolicy `yaml:"session_policy"`
	// Store selects the backend: "memory", "redis" or "sql". Empty follows
	// the Builder: redis when a client is set, sql when a database is set,
	// memory otherwise.
	Store string `yaml:"store"`
}

/*
====================================
PERMISSION CONFIG
====================================
*/

type PermissionConfig struct {
	TTL  time.Duration `yaml:"ttl"`
	Size int           `yaml:"size"`
}

/*
====================================
CHALLENGE CONFIG
====================================
*/

type CaptchaConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Provider string        `yaml:"provider"`
	TTL      time.Duration `yaml:"ttl"`
	// IssuePerMinute bounds captcha generation per client IP.
	IssuePerMinute int `yaml:"issue_per_minute"`
	IssueBurst     int `yaml:"issue_burst"`
}

type OTPConfig struct {
	Channel       string        `yaml:"channel"`
	Length        int           `yaml:"length"`
	TTL           time.Duration `yaml:"ttl"`
	ResendWindow  time.Duration `yaml:"resend_window"`
	ResendMax     int           `yaml:"resend_max"`
	DevMasterCode string        `yaml:"dev_master_code"`
}

/*
====================================
PASSWORD CONFIG
====================================
*/

type PasswordConfig struct {
	MinLength int `yaml:"min_length"`
	MaxLength int `yaml:"max_length"`

	Memory      uint32 `yaml:"argon2_memory_kib"`
	Time        uint32 `yaml:"argon2_time"`
	Parallelism uint8  `yaml:"argon2_parallelism"`
	SaltLength  uint32 `yaml:"argon2_salt_length"`
	KeyLength   uint32 `yaml:"argon2_key_length"`

	// AcceptBcrypt verifies legacy bcrypt hashes; they are re-hashed with
	// argon2id on the next successful login when UpgradeOnLogin is set.
	AcceptBcrypt   bool `yaml:"accept_bcrypt"`
	UpgradeOnLogin bool `yaml:"upgrade_on_login"`

	ExpirationEnabled bool `yaml:"expiration_enabled"`
	ExpirationDays    int  `yaml:"expiration_days"`

	// HistoryDepth is how many previous hashes a new password is checked
	// against when the UserProvider implements PasswordHistoryProvider.
	// Zero disables the check.
	HistoryDepth int `yaml:"history_depth"`
}

type AccountConfig struct {
	RegistrationEnabled bool   `yaml:"registration_enabled"`
	DefaultRole         string `yaml:"default_role"`
}

/*
====================================
HTTP CONFIG
====================================
*/

type CookieConfig struct {
	AccessName  string `yaml:"access_name"`
	RefreshName string `yaml:"refresh_name"`
	Domain      string `yaml:"domain"`
}

type PipelineConfig struct {
	AuthPrefix   string `yaml:"auth_prefix"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
	// TrustedProxies is the number of reverse proxies appending to
	// X-Forwarded-For in front of the service.
	TrustedProxies int `yaml:"trusted_proxies"`
}

/*
====================================
OBSERVABILITY CONFIG
====================================
*/

type AuditConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
	DropIfFull bool `yaml:"drop_if_full"`
}

type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled"`
	EnableLatencyHistograms bool `yaml:"latency_histograms"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type SentryConfig struct {
	DSN         string  `yaml:"dsn"`
	Environment string  `yaml:"environment"`
	SampleRate  float64 `yaml:"sample_rate"`
}

/*
====================================
BACKEND CONFIG
====================================
*/

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// MaintenanceConfig schedules expiry sweeps of in-process and SQL stores.
type MaintenanceConfig struct {
	SweepSpec string `yaml:"sweep_spec"`
}

/*
====================================
DEFAULTS
====================================
*/

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Profile: "prod",
		RateLimit: RateLimitConfig{
			Window:      300 * time.Second,
			IPMax:       100,
			UsernameMax: 10,
		},
		Attempt: AttemptConfig{
			Window:      300 * time.Second,
			UsernameMax: 5,
			IPMax:       50,
		},
		Lock: LockConfig{
			Duration: 900 * time.Second,
		},
		Blacklist: BlacklistConfig{
			RedisPrefix: "bl:",
		},
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: string(jwt.MethodEd25519),
			Leeway:        30 * time.Second,
			MaxFutureIAT:  time.Minute,
		},
		Refresh: RefreshConfig{
			TTL:           15 * 24 * time.Hour,
			MaxSessions:   3,
			SessionPolicy: SessionEvictOldest,
		},
		Permission: PermissionConfig{
			TTL:  300 * time.Second,
			Size: 10000,
		},
		Captcha: CaptchaConfig{
			Enabled:        true,
			Provider:       string(challenge.CaptchaLocal),
			TTL:            120 * time.Second,
			IssuePerMinute: 20,
			IssueBurst:     5,
		},
		OTP: OTPConfig{
			Channel:       string(challenge.OTPSMS),
			Length:        6,
			TTL:           180 * time.Second,
			ResendWindow:  600 * time.Second,
			ResendMax:     3,
			DevMasterCode: "999999",
		},
		Password: PasswordConfig{
			MinLength:      8,
			MaxLength:      128,
			Memory:         64 * 1024,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			AcceptBcrypt:   true,
			UpgradeOnLogin: true,
			ExpirationDays: 90,
			HistoryDepth:   5,
		},
		Account: AccountConfig{
			RegistrationEnabled: true,
			DefaultRole:         "ROLE_USER",
		},
		Cookie: CookieConfig{
			AccessName:  "access-token",
			RefreshName: "refresh-token",
		},
		Pipeline: PipelineConfig{
			AuthPrefix:     "/api/v1/auth",
			MaxBodyBytes:   1 << 20,
			TrustedProxies: 1,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
		Redis: RedisConfig{
			Prefix: "guard:",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Sentry: SentryConfig{
			SampleRate: 1.0,
		},
		Maintenance: MaintenanceConfig{
			SweepSpec: "@every 5m",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// IsDev reports whether the dev profile is active.
func (c *Config) IsDev() bool {
	return strings.EqualFold(c.Profile, ProfileDev)
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks bounds and cross-field constraints.
func (c *Config) Validate() error {
	// Throttling
	if c.RateLimit.Window <= 0 {
		return errors.New("RateLimit Window must be > 0")
	}
	if c.RateLimit.IPMax <= 0 || c.RateLimit.UsernameMax <= 0 {
		return errors.New("RateLimit IPMax and UsernameMax must be > 0")
	}
	if c.Attempt.Window <= 0 {
		return errors.New("Attempt Window must be > 0")
	}
	if c.Attempt.UsernameMax <= 0 || c.Attempt.IPMax <= 0 {
		return errors.New("Attempt UsernameMax and IPMax must be > 0")
	}
	if c.Lock.Duration <= 0 {
		return errors.New("Lock Duration must be > 0")
	}

	// Tokens
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	switch jwt.SigningMethod(c.JWT.SigningMethod) {
	case jwt.MethodEd25519:
		if len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	case jwt.MethodHS256:
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be within [0, 2m]")
	}
	if c.Refresh.TTL <= 0 {
		return errors.New("Refresh TTL must be > 0")
	}
	if c.Refresh.TTL <= c.JWT.AccessTTL {
		return errors.New("Refresh TTL must exceed JWT AccessTTL")
	}
	if c.Refresh.MaxSessions < 0 {
		return errors.New("Refresh MaxSessions must be >= 0")
	}
	switch c.Refresh.SessionPolicy {
	case SessionEvictOldest, SessionDenyNew:
	default:
		return fmt.Errorf("Refresh SessionPolicy %q is invalid", c.Refresh.SessionPolicy)
	}
	switch c.Refresh.Store {
	case "", "memory", "redis", "sql":
	default:
		return fmt.Errorf("Refresh Store %q is invalid", c.Refresh.Store)
	}

	// Permission cache
	if c.Permission.TTL <= 0 || c.Permission.Size <= 0 {
		return errors.New("Permission TTL and Size must be > 0")
	}

	// Challenges
	switch challenge.CaptchaKind(c.Captcha.Provider) {
	case challenge.CaptchaLocal:
	case challenge.CaptchaDev:
		if !c.IsDev() {
			return errors.New("dev captcha provider requires the dev profile")
		}
	default:
		return fmt.Errorf("%w: captcha %q", challenge.ErrUnknownProvider, c.Captcha.Provider)
	}
	if c.Captcha.TTL <= 0 {
		return errors.New("Captcha TTL must be > 0")
	}
	if c.Captcha.IssuePerMinute <= 0 || c.Captcha.IssueBurst <= 0 {
		return errors.New("Captcha IssuePerMinute and IssueBurst must be > 0")
	}
	switch challenge.OTPChannel(c.OTP.Channel) {
	case challenge.OTPSMS, challenge.OTPEmail:
	case challenge.OTPDev:
		if !c.IsDev() {
			return errors.New("dev otp channel requires the dev profile")
		}
	default:
		return fmt.Errorf("%w: otp channel %q", challenge.ErrUnknownProvider, c.OTP.Channel)
	}
	if c.OTP.Length < 4 || c.OTP.Length > 10 {
		return errors.New("OTP Length must be between 4 and 10")
	}
	if c.OTP.TTL <= 0 || c.OTP.ResendWindow <= 0 || c.OTP.ResendMax <= 0 {
		return errors.New("OTP TTL, ResendWindow and ResendMax must be > 0")
	}

	// Password
	if c.Password.MinLength < 1 || c.Password.MaxLength < c.Password.MinLength {
		return errors.New("Password length bounds are invalid")
	}
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KiB")
	}
	if c.Password.Time < 1 || c.Password.Parallelism < 1 {
		return errors.New("Password Time and Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 || c.Password.KeyLength < 16 {
		return errors.New("Password SaltLength and KeyLength must be >= 16")
	}
	if c.Password.ExpirationEnabled && c.Password.ExpirationDays <= 0 {
		return errors.New("Password ExpirationDays must be > 0 when expiration is enabled")
	}
	if c.Password.HistoryDepth < 0 {
		return errors.New("Password HistoryDepth must be >= 0")
	}

	// HTTP
	if c.Cookie.AccessName == "" || c.Cookie.RefreshName == "" || c.Cookie.AccessName == c.Cookie.RefreshName {
		return errors.New("Cookie names must be set and distinct")
	}
	if !strings.HasPrefix(c.Pipeline.AuthPrefix, "/") {
		return errors.New("Pipeline AuthPrefix must start with /")
	}
	if c.Pipeline.MaxBodyBytes <= 0 {
		return errors.New("Pipeline MaxBodyBytes must be > 0")
	}
	if c.Pipeline.TrustedProxies < 0 {
		return errors.New("Pipeline TrustedProxies must be >= 0")
	}

	// Observability
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}
	if c.Logging.Level != "" {
		if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
			return fmt.Errorf("Logging Level: %w", err)
		}
	}
	if c.Sentry.SampleRate < 0 || c.Sentry.SampleRate > 1 {
		return errors.New("Sentry SampleRate must be within [0, 1]")
	}

	if c.Maintenance.SweepSpec != "" {
		if _, err := cron.ParseStandard(c.Maintenance.SweepSpec); err != nil {
			return fmt.Errorf("Maintenance SweepSpec: %w", err)
		}
	}

	return nil
}
