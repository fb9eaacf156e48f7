// Command guardd serves the goGuard authentication endpoints over HTTP.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/refresh"
	"github.com/alicebob/miniredis/v2"
	"github.com/getsentry/sentry-go"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML config file")
		addr       = flag.String("addr", ":8080", "listen address")
		devRedis   = flag.Bool("dev-redis", false, "run against an in-process miniredis")
	)
	flag.Parse()

	cfg, err := goGuard.LoadConfig(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	log := newLogger(cfg.Logging)

	if err := initSentry(cfg.Sentry); err != nil {
		log.WithError(err).Warn("sentry disabled")
	}
	defer sentry.Flush(2 * time.Second)

	ctx := context.Background()
	builder := goGuard.New().WithConfig(cfg).WithLogger(log)

	rdb, closeRedis, err := openRedis(cfg.Redis, *devRedis, log)
	if err != nil {
		log.WithError(err).Fatal("connect redis")
	}
	defer closeRedis()
	if rdb != nil {
		builder.WithRedis(rdb)
	}

	if cfg.Database.DSN != "" {
		db, err := openDatabase(ctx, cfg.Database.DSN, cfg.Refresh.TTL)
		if err != nil {
			log.WithError(err).Fatal("open database")
		}
		defer db.Close()
		builder.WithDB(db)
	}

	users := newMemoryUsers()
	if err := users.bootstrapAdmin(os.Getenv(goGuard.EnvPrefix+"ADMIN_USERNAME"), os.Getenv(goGuard.EnvPrefix+"ADMIN_PASSWORD")); err != nil {
		log.WithError(err).Fatal("bootstrap admin")
	}
	builder.WithUserProvider(users)

	engine, err := builder.Build()
	if err != nil {
		log.WithError(err).Fatal("build engine")
	}
	defer engine.Close()

	for _, w := range engine.SecurityReport().Warnings {
		log.Warn(w)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           newServer(engine, log).routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	go func() {
		log.WithField("addr", *addr).Info("guardd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("serve")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown")
	}
	log.Info("guardd stopped")
}

func newLogger(cfg goGuard.LoggingConfig) *logrus.Logger {
	log := logrus.New()
	if lvl, err := logrus.ParseLevel(cfg.Level); err == nil {
		log.SetLevel(lvl)
	}
	if cfg.Format != "text" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log
}

func initSentry(cfg goGuard.SentryConfig) error {
	if cfg.DSN == "" {
		return nil
	}
	return sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		SampleRate:       cfg.SampleRate,
		AttachStacktrace: true,
	})
}

// openRedis returns nil when no address is configured and dev mode is off;
// the engine then keeps its state in process.
func openRedis(cfg goGuard.RedisConfig, dev bool, log *logrus.Logger) (*redis.Client, func(), error) {
	addr := cfg.Addr
	cleanup := func() {}

	if dev {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, err
		}
		addr = mr.Addr()
		cleanup = mr.Close
		log.WithField("addr", addr).Warn("using in-process miniredis")
	}
	if addr == "" {
		return nil, cleanup, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		cleanup()
		return nil, nil, err
	}

	stop := cleanup
	return rdb, func() {
		_ = rdb.Close()
		stop()
	}, nil
}

func openDatabase(ctx context.Context, dsn string, ttl time.Duration) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := refresh.NewSQLStore(db, ttl, nil).EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
