package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/pos-register/api/routes"
	"github.com/angelmondragon/pos-register/internal/approval"
	"github.com/angelmondragon/pos-register/internal/cart"
	"github.com/angelmondragon/pos-register/internal/catalog"
	"github.com/angelmondragon/pos-register/internal/checkout"
	"github.com/angelmondragon/pos-register/internal/cron"
	"github.com/angelmondragon/pos-register/internal/notices"
	"github.com/angelmondragon/pos-register/internal/register"
	"github.com/angelmondragon/pos-register/pkg/config"
	"github.com/angelmondragon/pos-register/pkg/db"
	"github.com/angelmondragon/pos-register/pkg/ledger"
	"github.com/angelmondragon/pos-register/pkg/logger"
	"github.com/angelmondragon/pos-register/pkg/metrics"
	"github.com/angelmondragon/pos-register/pkg/migrate"
	"github.com/angelmondragon/pos-register/pkg/outbox"
	"github.com/angelmondragon/pos-register/pkg/redis"
)

const (
	serviceName         = "pos-register"
	housekeepingEvery   = 24 * time.Hour
	housekeepingLockTTL = 10 * time.Minute
	shutdownTimeout     = 10 * time.Second
	readHeaderTimeout   = 10 * time.Second
)

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceName})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		RegisterID:  cfg.App.RegisterID,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":       cfg.App.Env,
		"addr":      cfg.App.Addr(),
		"companies": cfg.App.CompanyKeys,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()
	requireResource(ctx, logg, "migrations", migrate.MaybeAutoRun(ctx, cfg, logg, dbClient))

	redisClient, err := redis.Open(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	logg.Info(logg.WithField(ctx, "backend", redisClient.Backend()), "key-value store ready")
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	ledgerClient, err := ledger.NewClient(cfg.Ledger)
	requireResource(ctx, logg, "ledger client", err)

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	backoff, err := outbox.NewBackoffPolicy(cfg.Outbox.BackoffLadder)
	requireResource(ctx, logg, "outbox backoff policy", err)

	outboxSvc, err := outbox.NewService(outbox.ServiceParams{
		DB:          dbClient,
		Transport:   ledger.NewTransport(ledgerClient, cfg.Ledger.SubmitMode),
		Backoff:     backoff,
		MaxAttempts: cfg.Outbox.MaxAttempts,
		Metrics:     metrics.NewOutboxMetrics(promRegistry),
		Logger:      logg,
	})
	requireResource(ctx, logg, "outbox service", err)

	center, err := notices.New(notices.Params{
		Store:  redisClient,
		Window: cfg.Outbox.NoticeWindow,
		Logger: logg,
	})
	requireResource(ctx, logg, "notice center", err)

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
	requireResource(ctx, logg, "outbox drainer", err)

	store := catalog.NewStore()
	refresher, err := catalog.NewRefresher(catalog.RefresherParams{
		Fetcher:   ledgerClient,
		Store:     store,
		Companies: cfg.App.CompanyKeys,
		Logger:    logg,
	})
	requireResource(ctx, logg, "catalog refresher", err)
	// An unreachable ledger at start is not fatal; the refresh schedule retries.
	if err := refresher.Refresh(ctx); err != nil {
		logg.Warn(logg.WithField(ctx, "error", err.Error()), "initial catalog refresh incomplete")
	}

	gate, err := approval.NewGate(approval.GateParams{
		Verifier:   ledgerClient,
		Config:     cfg.Approval,
		RegisterID: cfg.App.RegisterID,
		Logger:     logg,
	})
	requireResource(ctx, logg, "approval gate", err)
	policy := approval.NewPolicy(store, cfg.FeatureFlags.ApprovalForSales)

	var loop *register.Loop
	checkoutSvc, err := checkout.NewService(checkout.ServiceParams{
		Catalog:    store,
		Outbox:     outboxSvc,
		Approvals:  gate,
		Policy:     policy,
		Config:     cfg.Checkout,
		RegisterID: cfg.App.RegisterID,
		Logger:     logg,
		Finished: func(res checkout.Result) {
			loop.CheckoutFinished(res)
		},
	})
	requireResource(ctx, logg, "checkout service", err)

	loop, err = register.New(register.Params{
		Items:      store,
		Checkout:   checkoutSvc,
		Drafts:     cart.NewDraftRepository(dbClient.DB()),
		RegisterID: cfg.App.RegisterID,
		Logger:     logg,
	})
	requireResource(ctx, logg, "register loop", err)
	if err := loop.Restore(ctx); err != nil {
		logg.Warn(logg.WithField(ctx, "error", err.Error()), "cart draft not restored")
	}

	cronMetrics := metrics.NewCronJobMetrics(promRegistry)
	catalogSchedule, err := newCatalogSchedule(cfg, logg, redisClient, refresher, loop, cronMetrics)
	requireResource(ctx, logg, "catalog schedule", err)
	housekeeping, err := newHousekeeping(cfg, logg, redisClient, outboxSvc, cronMetrics)
	requireResource(ctx, logg, "housekeeping schedule", err)

	server := &http.Server{
		Addr: cfg.App.Addr(),
		Handler: routes.NewRouter(routes.Deps{
			Config:   cfg,
			Logger:   logg,
			DB:       dbClient,
			Redis:    redisClient,
			Ledger:   ledgerClient,
			Register: loop,
			Checkout: checkoutSvc,
			Approval: gate,
			Outbox:   outboxSvc,
			Notices:  center,
			Gatherer: promRegistry,
		}),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	logg.Info(ctx, "starting register")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(gctx) })
	g.Go(func() error { return drainer.Run(gctx) })
	g.Go(func() error { return catalogSchedule.Run(gctx) })
	g.Go(func() error { return housekeeping.Run(gctx) })
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("register api: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "register stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "register shutting down gracefully")
}

func newCatalogSchedule(
	cfg *config.Config,
	logg *logger.Logger,
	redisClient *redis.Client,
	refresher *catalog.Refresher,
	loop *register.Loop,
	cronMetrics *metrics.CronJobMetrics,
) (*cron.Service, error) {
	job, err := cron.NewCatalogRefreshJob(cron.CatalogRefreshJobParams{
		Logger:    logg,
		Refresher: refresher,
		OnRefreshed: func(ctx context.Context) {
			if _, err := loop.Reprice(ctx); err != nil {
				logg.Warn(logg.WithField(ctx, "error", err.Error()), "cart reprice after refresh failed")
			}
		},
	})
	if err != nil {
		return nil, err
	}
	// The snapshot lives in this process, so the lock is per register.
	lock, err := redis.NewLock(redisClient, redisClient.LockKey("cron", "catalog-refresh", cfg.App.RegisterID), cfg.Catalog.RefreshInterval)
	if err != nil {
		return nil, err
	}
	return cron.NewService(cron.ServiceParams{
		Name:     "catalog-refresh",
		Logger:   logg,
		Registry: cron.NewRegistry(job),
		Lock:     lock,
		Metrics:  cronMetrics,
		Interval: cfg.Catalog.RefreshInterval,
	})
}

func newHousekeeping(
	cfg *config.Config,
	logg *logger.Logger,
	redisClient *redis.Client,
	outboxSvc *outbox.Service,
	cronMetrics *metrics.CronJobMetrics,
) (*cron.Service, error) {
	job, err := cron.NewReceiptRetentionJob(cron.ReceiptRetentionJobParams{
		Logger:     logg,
		Repository: outboxSvc.Receipts(),
		Retention:  cfg.Outbox.ReceiptRetention,
	})
	if err != nil {
		return nil, err
	}
	lock, err := redis.NewLock(redisClient, redisClient.LockKey("cron", "housekeeping"), housekeepingLockTTL)
	if err != nil {
		return nil, err
	}
	return cron.NewService(cron.ServiceParams{
		Name:     "housekeeping",
		Logger:   logg,
		Registry: cron.NewRegistry(job),
		Lock:     lock,
		Metrics:  cronMetrics,
		Interval: housekeepingEvery,
		// the job must finish before the lock can expire under it
		JobTimeout: housekeepingLockTTL,
	})
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("failed to bootstrap %s", resource), err)
	os.Exit(1)
}
