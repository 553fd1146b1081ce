package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/pos-register/internal/notices"
	"github.com/angelmondragon/pos-register/pkg/config"
	"github.com/angelmondragon/pos-register/pkg/db"
	"github.com/angelmondragon/pos-register/pkg/ledger"
	"github.com/angelmondragon/pos-register/pkg/logger"
	"github.com/angelmondragon/pos-register/pkg/metrics"
	"github.com/angelmondragon/pos-register/pkg/migrate"
	"github.com/angelmondragon/pos-register/pkg/outbox"
	"github.com/angelmondragon/pos-register/pkg/redis"
)

func main() {
	once := flag.Bool("once", false, "drain a single pass per company and exit")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "outbox-drain"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "outbox-drain",
		RegisterID:  cfg.App.RegisterID,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeAutoRun(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.Open(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	ledgerClient, err := ledger.NewClient(cfg.Ledger)
	if err != nil {
		logg.Error(context.Background(), "failed to build ledger client", err)
		os.Exit(1)
	}

	backoff, err := outbox.NewBackoffPolicy(cfg.Outbox.BackoffLadder)
	if err != nil {
		logg.Error(context.Background(), "invalid backoff ladder", err)
		os.Exit(1)
	}

	outboxSvc, err := outbox.NewService(outbox.ServiceParams{
		DB:          dbClient,
		Transport:   ledger.NewTransport(ledgerClient, cfg.Ledger.SubmitMode),
		Backoff:     backoff,
		MaxAttempts: cfg.Outbox.MaxAttempts,
		Metrics:     metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
		Logger:      logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox service", err)
		os.Exit(1)
	}

	center, err := notices.New(notices.Params{Store: redisClient, Window: cfg.Outbox.NoticeWindow, Logger: logg})
	if err != nil {
		logg.Error(context.Background(), "failed to create notice center", err)
		os.Exit(1)
	}

	drainer, err := outbox.NewDrainer(outbox.DrainerParams{
		Service:      outboxSvc,
		Companies:    cfg.App.CompanyKeys,
		BatchSize:    cfg.Outbox.BatchSize,
		Concurrency:  cfg.Outbox.Concurrency,
		PollInterval: cfg.Outbox.PollInterval,
		Locks: func(companyKey string) (redis.Locker, error) {
			return redis.NewLock(redisClient, redisClient.LockKey("outbox-drain", companyKey), cfg.Outbox.LockTTL)
		},
		Notifier: center,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox drainer", err)
		os.Exit(1)
	}

	service, err := NewService(ServiceParams{
		Logger:  logg,
		DB:      dbClient,
		Redis:   redisClient,
		Drainer: drainer,
		Once:    *once,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox drain service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": "outbox-drain",
		"once":        *once,
	})
	logg.Info(ctx, "starting outbox drain")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "outbox drain stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "outbox drain shutting down gracefully")
}
