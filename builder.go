package goGuard

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goGuard/challenge"
	"github.com/MrEthical07/goGuard/internal"
	internalaudit "github.com/MrEthical07/goGuard/internal/audit"
	"github.com/MrEthical07/goGuard/internal/clock"
	"github.com/MrEthical07/goGuard/internal/limiters"
	"github.com/MrEthical07/goGuard/internal/rate"
	"github.com/MrEthical07/goGuard/internal/stores"
	"github.com/MrEthical07/goGuard/jwt"
	"github.com/MrEthical07/goGuard/password"
	"github.com/MrEthical07/goGuard/permission"
	"github.com/MrEthical07/goGuard/refresh"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Builder assembles an Engine. It is single use.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	db     *sql.DB

	userProvider  UserProvider
	grantResolver GrantResolver
	otpSender     challenge.Sender
	auditSink     AuditSink
	logger        *logrus.Logger
	now           func() time.Time

	built bool
}

// New returns a Builder holding DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis switches every stateful component (counters, lockout,
// blacklist, refresh tokens, challenge codes) to Redis.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithDB supplies the database for the SQL refresh token store.
func (b *Builder) WithDB(db *sql.DB) *Builder {
	b.db = db
	return b
}

func (b *Builder) WithUserProvider(up UserProvider) *Builder {
	b.userProvider = up
	return b
}

// WithGrantResolver sets the authorization source. Without one, a subject's
// grants are its role names.
func (b *Builder) WithGrantResolver(r GrantResolver) *Builder {
	b.grantResolver = r
	return b
}

func (b *Builder) WithOTPSender(s challenge.Sender) *Builder {
	b.otpSender = s
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(log *logrus.Logger) *Builder {
	b.logger = log
	return b
}

// WithClock replaces the time source of every component.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and wires the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.userProvider == nil {
		return nil, errors.New("user provider required")
	}

	now := clock.OrSystem(b.now)
	log := b.logger
	if log == nil {
		log = logrus.New()
	}
	prefix := cfg.Redis.Prefix

	// -------- COUNTERS --------
	var counter rate.Counter
	var memCounter *rate.MemoryCounter
	if b.redis != nil {
		counter = rate.NewRedisCounter(b.redis, prefix, now)
	} else {
		memCounter = rate.NewMemoryCounter(now)
		counter = memCounter
	}

	// -------- LOCKOUT --------
	var lockStore limiters.LockStore
	if b.redis != nil {
		lockStore = limiters.NewRedisLockStore(b.redis, prefix, now)
	} else {
		lockStore = limiters.NewMemoryLockStore()
	}

	// -------- TOKENS --------
	var blacklist stores.Blacklist
	var memBlacklist *stores.MemoryBlacklist
	if b.redis != nil {
		blacklist = stores.NewRedisBlacklist(b.redis, prefix+cfg.Blacklist.RedisPrefix)
	} else {
		memBlacklist = stores.NewMemoryBlacklist(now)
		blacklist = memBlacklist
	}

	jwtManager, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cfg.JWT.PrivateKey,
		PublicKey:     cfg.JWT.PublicKey,
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		MaxFutureIAT:  cfg.JWT.MaxFutureIAT,
		CookieName:    cfg.Cookie.AccessName,
		Now:           now,
	}, blacklist)
	if err != nil {
		return nil, err
	}

	refreshStore, err := b.refreshStore(cfg, now)
	if err != nil {
		return nil, err
	}

	// -------- PERMISSIONS --------
	resolver := b.grantResolver
	if resolver == nil {
		up := b.userProvider
		roles := permission.NewRoleResolver(func(ctx context.Context, subject string) ([]string, error) {
			u, err := up.GetUserByIdentifier(ctx, subject)
			if err != nil {
				return nil, err
			}
			return u.Roles, nil
		})
		roles.Freeze()
		resolver = roles
	}

	// -------- CHALLENGES --------
	var codes challenge.CodeStore
	var memCodes *challenge.MemoryCodeStore
	if b.redis != nil {
		codes = challenge.NewRedisCodeStore(b.redis, prefix)
	} else {
		memCodes = challenge.NewMemoryCodeStore(now)
		codes = memCodes
	}
	gateCfg := challenge.Config{
		Captcha:    challenge.CaptchaKind(cfg.Captcha.Provider),
		CaptchaTTL: cfg.Captcha.TTL,
		OTPChannel: challenge.OTPChannel(cfg.OTP.Channel),
		OTPLength:  cfg.OTP.Length,
		OTPTTL:     cfg.OTP.TTL,
	}
	if cfg.IsDev() {
		gateCfg.MasterCode = cfg.OTP.DevMasterCode
	}
	gate, err := challenge.NewGate(gateCfg, codes, b.otpSender, log)
	if err != nil {
		return nil, err
	}

	// -------- PASSWORDS --------
	argon, err := password.NewArgon2(password.Argon2Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	var legacy []password.Hasher
	if cfg.Password.AcceptBcrypt {
		bc, err := password.NewBcrypt(0)
		if err != nil {
			return nil, err
		}
		legacy = append(legacy, bc)
	}
	hasher := password.NewVerifier(argon, legacy...)

	filler, err := internal.NewOpaqueValue()
	if err != nil {
		return nil, err
	}
	dummyHash, err := hasher.Hash(filler)
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:       cfg,
		now:          now,
		log:          log,
		userProvider: b.userProvider,
		rateLimiter: rate.New(counter, rate.Config{
			Window:      cfg.RateLimit.Window,
			IPMax:       cfg.RateLimit.IPMax,
			UsernameMax: cfg.RateLimit.UsernameMax,
		}),
		attempts: limiters.NewAttemptTracker(counter, limiters.AttemptConfig{
			Window:      cfg.Attempt.Window,
			UsernameMax: cfg.Attempt.UsernameMax,
			IPMax:       cfg.Attempt.IPMax,
		}),
		locks: limiters.NewLockService(lockStore, cfg.Lock.Duration, now),
		otpLimiter: limiters.NewOTPLimiter(counter, limiters.OTPLimiterConfig{
			Window:    cfg.OTP.ResendWindow,
			MaxResend: cfg.OTP.ResendMax,
		}),
		jwtManager:   jwtManager,
		refreshStore: refreshStore,
		grants: permission.NewCache(resolver, permission.CacheConfig{
			TTL:  cfg.Permission.TTL,
			Size: cfg.Permission.Size,
		}),
		gate:      gate,
		hasher:    hasher,
		dummyHash: dummyHash,
		metrics:   NewMetrics(cfg.Metrics),
		audit: internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.auditSink, now),
		distributed: b.redis != nil,
	}

	// -------- MAINTENANCE --------
	if cfg.Maintenance.SweepSpec != "" {
		sweeper := stores.NewSweeper(log)
		jobs := map[string]stores.SweepFunc{
			"refresh_tokens": refreshStore.Sweep,
		}
		if memCounter != nil {
			window := maxDuration(cfg.RateLimit.Window, cfg.Attempt.Window, cfg.OTP.ResendWindow)
			jobs["rate_counters"] = func(context.Context) (int, error) {
				return memCounter.Purge(window), nil
			}
		}
		if memBlacklist != nil {
			jobs["blacklist"] = memBlacklist.Purge
		}
		if memCodes != nil {
			jobs["challenge_codes"] = memCodes.Purge
		}
		for name, fn := range jobs {
			if err := sweeper.Register(name, cfg.Maintenance.SweepSpec, fn); err != nil {
				return nil, fmt.Errorf("schedule %s sweep: %w", name, err)
			}
		}
		sweeper.Start()
		engine.sweeper = sweeper
	}

	b.built = true
	return engine, nil
}

func (b *Builder) refreshStore(cfg Config, now func() time.Time) (refresh.Store, error) {
	kind := cfg.Refresh.Store
	if kind == "" {
		switch {
		case b.redis != nil:
			kind = "redis"
		case b.db != nil:
			kind = "sql"
		default:
			kind = "memory"
		}
	}

	switch kind {
	case "redis":
		if b.redis == nil {
			return nil, errors.New("redis refresh store requires a redis client")
		}
		return refresh.NewRedisStore(b.redis, cfg.Redis.Prefix+cfg.Refresh.RedisPrefix, cfg.Refresh.TTL, now), nil
	case "sql":
		if b.db == nil {
			return nil, errors.New("sql refresh store requires a database")
		}
		return refresh.NewSQLStore(b.db, cfg.Refresh.TTL, now), nil
	default:
		return refresh.NewMemoryStore(cfg.Refresh.TTL, now), nil
	}
}

func maxDuration(ds ...time.Duration) time.Duration {
	var out time.Duration
	for _, d := range ds {
		if d > out {
			out = d
		}
	}
	return out
}
