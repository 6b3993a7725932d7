// Package main is the entry point for the progression engine worker.
//
// The worker owns everything that runs without a caller: it applies
// migrations, subscribes the cache-invalidation and cascade-alarm
// handlers to the event bus, and schedules the maintenance sweeps
// (drip unlocks, ledger reconciliation).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cohortly/progression-engine/config"
	"github.com/cohortly/progression-engine/internal/application/command"
	"github.com/cohortly/progression-engine/internal/application/eventhandler"
	"github.com/cohortly/progression-engine/internal/domain/enrollment"
	"github.com/cohortly/progression-engine/internal/domain/ledger"
	"github.com/cohortly/progression-engine/internal/domain/shared"
	"github.com/cohortly/progression-engine/internal/infrastructure/messaging"
	"github.com/cohortly/progression-engine/internal/infrastructure/persistence/postgres"
	"github.com/cohortly/progression-engine/internal/infrastructure/persistence/redis"
	"github.com/cohortly/progression-engine/internal/infrastructure/scheduler"
	"github.com/cohortly/progression-engine/internal/infrastructure/scheduler/jobs"
	"github.com/cohortly/progression-engine/pkg/circuitbreaker"
	"github.com/cohortly/progression-engine/pkg/logger"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	slogger := setupSlog(cfg)
	appLog := setupAppLogger(cfg)

	slogger.Info("starting progression engine worker",
		"env", string(cfg.App.Environment),
		"version", cfg.App.Version,
		"timezone", cfg.App.Timezone,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. DATABASE
	// ─────────────────────────────────────────────────────────────────────────
	conn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL, postgres.PoolSettings{
		MaxConns:          cfg.Database.MaxConns,
		MinConns:          cfg.Database.MinConns,
		MaxConnLifetime:   cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:   cfg.Database.MaxConnIdleTime,
		HealthCheckPeriod: cfg.Database.HealthCheckPeriod,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close()
	slogger.Info("database connection established")

	if cfg.Database.RunMigrations {
		migrator := postgres.NewMigrator(conn)
		if err := migrator.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		slogger.Info("database schema is up to date")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. REDIS (optional: caches and the distributed event bus)
	// ─────────────────────────────────────────────────────────────────────────
	var (
		cache         *redis.Cache
		balanceCache  ledger.BalanceCache
		progressCache enrollment.ProgressCache
	)

	if !cfg.Redis.Disabled {
		cache, err = redis.NewCache(redis.Config{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			// The engine degrades to direct reads without Redis; only the
			// distributed bus is lost.
			slogger.Warn("redis unavailable, caching disabled", "error", err)
			cache = nil
		} else {
			defer cache.Close()
			slogger.Info("redis connection established")
		}
	}

	if cache != nil {
		breaker := redis.NewCacheBreaker(func(name string, from, to circuitbreaker.State) {
			slogger.Warn("cache circuit state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		})
		if cfg.Features.IsEnabled(config.FeatureCacheBalances, nil) {
			balanceCache = redis.NewGuardedBalanceCache(redis.NewBalanceCache(cache), breaker)
		}
		if cfg.Features.IsEnabled(config.FeatureCacheProgress, nil) {
			progressCache = redis.NewGuardedProgressCache(redis.NewProgressCache(cache), breaker)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. EVENT BUS + DISPATCHER
	// ─────────────────────────────────────────────────────────────────────────
	busConfig := messaging.DefaultInMemoryEventBusConfig()
	busConfig.Logger = slogger
	busConfig.AsyncMode = cfg.Features.IsEnabled(config.FeatureAsyncDispatch, nil)

	var bus shared.EventBus
	var closeBus func() error

	if cache != nil && cfg.Features.IsEnabled(config.FeatureDistributedBus, nil) {
		pubsub := redis.NewPubSub(cache)
		redisBus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
			Client:         pubsub,
			LocalBusConfig: busConfig,
			Logger:         slogger,
		})
		if err != nil {
			return fmt.Errorf("failed to start event bus: %w", err)
		}
		bus = redisBus
		closeBus = redisBus.Close
	} else {
		memBus := messaging.NewInMemoryEventBus(busConfig)
		bus = memBus
		closeBus = memBus.Close
	}
	defer func() { _ = closeBus() }()

	dispatcher := messaging.NewDispatcher(messaging.DefaultDispatcherConfig(bus))
	dispatcher.Use(messaging.RecoveryMiddleware(slogger))
	dispatcher.Use(messaging.LoggingMiddleware(slogger))

	invalidator := eventhandler.NewOnProgressChangedHandler(progressCache, balanceCache, slogger)
	if err := invalidator.Register(dispatcher); err != nil {
		return fmt.Errorf("failed to register cache invalidation handler: %w", err)
	}

	cascadeAlarm := eventhandler.NewOnCascadeFailedHandler(slogger, eventhandler.DefaultCascadeFailedConfig())
	if err := cascadeAlarm.Register(dispatcher); err != nil {
		return fmt.Errorf("failed to register cascade alarm handler: %w", err)
	}

	if err := dispatcher.Start(); err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}
	defer func() { _ = dispatcher.Stop() }()

	// ─────────────────────────────────────────────────────────────────────────
	// 6. APPLICATION SERVICES
	// ─────────────────────────────────────────────────────────────────────────
	uow := postgres.NewUnitOfWork(conn)
	repos := postgres.NewRepositories(conn.Pool())

	unlocker := command.NewUnlockWeekHandler(uow, bus, appLog)
	recalc := command.NewRecalculateBalanceHandler(uow, bus, appLog)

	// ─────────────────────────────────────────────────────────────────────────
	// 7. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	if !cfg.Scheduler.Enabled {
		slogger.Info("scheduler disabled, worker idles until shutdown")
		waitForShutdown(slogger)
		return nil
	}

	sched := scheduler.New(scheduler.Config{
		Logger:   slogger,
		Timezone: cfg.App.Location,
	})

	if cfg.Features.IsEnabled(config.FeatureDripSweep, nil) {
		dripJob := jobs.NewDripUnlockSweepJob(
			repos.Content,
			repos.Enrollments,
			repos.WeekProgress,
			unlocker,
			slogger,
			jobs.DripUnlockSweepConfig{
				Concurrency: cfg.Scheduler.MaxConcurrentStudents,
				Timeout:     cfg.Scheduler.JobTimeout,
			},
		)
		if err := sched.Register(dripJob, scheduler.NewIntervalSchedule(cfg.Scheduler.DripSweepInterval)); err != nil {
			return fmt.Errorf("failed to register drip sweep: %w", err)
		}
	}

	if cfg.Features.IsEnabled(config.FeatureReconcileSweep, nil) {
		reconcileJob := jobs.NewReconcileBalancesJob(
			repos.Ledger,
			recalc,
			slogger,
			jobs.ReconcileBalancesConfig{
				ActivityWindow: cfg.Scheduler.ReconcileWindow,
				Concurrency:    cfg.Scheduler.MaxConcurrentStudents,
				Timeout:        cfg.Scheduler.JobTimeout,
			},
		)
		cron, err := scheduler.ParseCronExpression(cfg.Scheduler.ReconcileCron)
		if err != nil {
			return fmt.Errorf("invalid reconcile cron: %w", err)
		}
		if err := sched.Register(reconcileJob, cron); err != nil {
			return fmt.Errorf("failed to register reconcile sweep: %w", err)
		}
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	slogger.Info("progression engine worker is running")

	// ─────────────────────────────────────────────────────────────────────────
	// 8. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	waitForShutdown(slogger)

	slogger.Info("stopping scheduler, waiting for running jobs", "timeout", cfg.App.ShutdownTimeout.String())
	if err := sched.Stop(); err != nil {
		slogger.Error("scheduler stop failed", "error", err)
	}

	slogger.Info("shutdown completed")
	return nil
}

// waitForShutdown blocks until SIGINT or SIGTERM.
func waitForShutdown(log *slog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	log.Info("received shutdown signal", "signal", sig.String())
}

// setupSlog configures the structured logger used by infrastructure.
func setupSlog(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slogLevel(cfg.Observability.LogLevel)}

	var handler slog.Handler
	if cfg.Observability.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}

func slogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupAppLogger configures the application-layer logger.
func setupAppLogger(cfg *config.Config) *logger.Logger {
	opts := logger.DefaultOptions()
	switch cfg.Observability.LogLevel {
	case "debug":
		opts.Level = logger.LevelDebug
	case "warn":
		opts.Level = logger.LevelWarn
	case "error":
		opts.Level = logger.LevelError
	}
	return logger.New(opts)
}
