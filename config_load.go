package goGuard

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override read by LoadConfig.
const EnvPrefix = "GUARD_"

// LoadConfig reads a YAML file over DefaultConfig, applies GUARD_*
// environment overrides (a .env file in the working directory is loaded
// first when present), resolves signing keys and validates the result.
// An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	_ = godotenv.Load()
	if err := applyEnv(&cfg, os.Getenv); err != nil {
		return Config{}, err
	}
	if err := resolveKeys(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	str := func(name string, dst *string) {
		if v := strings.TrimSpace(getenv(EnvPrefix + name)); v != "" {
			*dst = v
		}
	}
	integer := func(name string, dst *int) error {
		v := strings.TrimSpace(getenv(EnvPrefix + name))
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
		return nil
	}
	duration := func(name string, dst *time.Duration) error {
		v := strings.TrimSpace(getenv(EnvPrefix + name))
		if v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = d
		return nil
	}

	str("PROFILE", &cfg.Profile)
	str("REDIS_ADDR", &cfg.Redis.Addr)
	str("REDIS_PASSWORD", &cfg.Redis.Password)
	str("DATABASE_DSN", &cfg.Database.DSN)
	str("REFRESH_STORE", &cfg.Refresh.Store)
	str("JWT_SIGNING_METHOD", &cfg.JWT.SigningMethod)
	str("JWT_SECRET", &cfg.JWT.Secret)
	str("JWT_PRIVATE_KEY_FILE", &cfg.JWT.PrivateKeyFile)
	str("JWT_PUBLIC_KEY_FILE", &cfg.JWT.PublicKeyFile)
	str("JWT_ISSUER", &cfg.JWT.Issuer)
	str("CAPTCHA_PROVIDER", &cfg.Captcha.Provider)
	str("OTP_CHANNEL", &cfg.OTP.Channel)
	str("LOG_LEVEL", &cfg.Logging.Level)
	str("SENTRY_DSN", &cfg.Sentry.DSN)
	str("SENTRY_ENVIRONMENT", &cfg.Sentry.Environment)

	for _, f := range []func() error{
		func() error { return integer("REDIS_DB", &cfg.Redis.DB) },
		func() error { return integer("RATE_LIMIT_IP_MAX", &cfg.RateLimit.IPMax) },
		func() error { return integer("RATE_LIMIT_USERNAME_MAX", &cfg.RateLimit.UsernameMax) },
		func() error { return integer("ATTEMPT_USERNAME_MAX", &cfg.Attempt.UsernameMax) },
		func() error { return integer("REFRESH_MAX_SESSIONS", &cfg.Refresh.MaxSessions) },
		func() error { return duration("JWT_ACCESS_TTL", &cfg.JWT.AccessTTL) },
		func() error { return duration("REFRESH_TTL", &cfg.Refresh.TTL) },
		func() error { return duration("LOCK_DURATION", &cfg.Lock.Duration) },
	} {
		if err := f(); err != nil {
			return err
		}
	}

	if v := strings.TrimSpace(getenv(EnvPrefix + "CAPTCHA_ENABLED")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sCAPTCHA_ENABLED: %w", EnvPrefix, err)
		}
		cfg.Captcha.Enabled = b
	}
	return nil
}

func resolveKeys(cfg *Config) error {
	if len(cfg.JWT.PrivateKey) == 0 {
		switch {
		case cfg.JWT.PrivateKeyFile != "":
			b, err := os.ReadFile(cfg.JWT.PrivateKeyFile)
			if err != nil {
				return fmt.Errorf("read jwt private key: %w", err)
			}
			cfg.JWT.PrivateKey = b
		case cfg.JWT.Secret != "":
			cfg.JWT.PrivateKey = []byte(cfg.JWT.Secret)
		}
	}
	if len(cfg.JWT.PublicKey) == 0 && cfg.JWT.PublicKeyFile != "" {
		b, err := os.ReadFile(cfg.JWT.PublicKeyFile)
		if err != nil {
			return fmt.Errorf("read jwt public key: %w", err)
		}
		cfg.JWT.PublicKey = b
	}
	return nil
}
