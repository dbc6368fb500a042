/**
 * @description
 * Entry point for the ledger service. Wires configuration, the account store,
 * the event producer, the optional Redis tick lock, the transfer engine, the
 * recurring transfer and maturity schedulers and the HTTP server.
 *
 * @dependencies
 * - github.com/joho/godotenv: local .env loading before config is read.
 * - github.com/jackc/pgx/v5: PostgreSQL pool (memory store when no DSN is set).
 * - github.com/redis/go-redis/v9: cross-instance scheduler lock.
 * - pkg/rabbitmq: ledger event publishing.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/transfa/ledger-service/internal/api"
	"github.com/transfa/ledger-service/internal/app"
	"github.com/transfa/ledger-service/internal/config"
	"github.com/transfa/ledger-service/internal/store"
	"github.com/transfa/ledger-service/pkg/rabbitmq"
	"github.com/transfa/ledger-service/pkg/redislock"
)

// ledgerStore is satisfied by both the memory and the PostgreSQL repositories.
type ledgerStore interface {
	app.LedgerRepository
	store.RecurringTransferRegistry
	store.MaturityRegistry
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "ledger-service")
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to load .env file", "error", err)
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger.Info("starting ledger-service", "port", cfg.ServerPort, "scheduler_enabled", cfg.SchedulerEnabled, "timezone", cfg.SchedulerTimezone)

	var repo ledgerStore
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		logger.Warn("DATABASE_URL not set; using in-memory store")
		repo = store.NewMemoryRepository()
	} else {
		poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
		if err != nil {
			logger.Error("database url parse failed", "error", err)
			os.Exit(1)
		}
		poolConfig.MaxConns = cfg.DBMaxConns
		poolConfig.MinConns = cfg.DBMinConns
		poolConfig.MaxConnLifetime = 30 * time.Minute
		poolConfig.MaxConnIdleTime = 5 * time.Minute

		dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
		if err != nil {
			logger.Error("database connection failed", "error", err)
			os.Exit(1)
		}
		defer dbpool.Close()

		pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
		err = dbpool.Ping(pingCtx)
		cancelPing()
		if err != nil {
			logger.Error("database ping failed", "error", err)
			os.Exit(1)
		}
		logger.Info("database connected")

		if cfg.DBMigrate {
			if err := store.Migrate(context.Background(), dbpool); err != nil {
				logger.Error("database migration failed", "error", err)
				os.Exit(1)
			}
			logger.Info("database migrations applied")
		}
		repo = store.NewPostgresRepository(dbpool)
	}

	var publisher rabbitmq.Publisher = &rabbitmq.EventProducerFallback{Logger: logger}
	if strings.TrimSpace(cfg.RabbitMQURL) != "" {
		producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, logger)
		if err != nil {
			logger.Warn("rabbitmq producer unavailable; using fallback", "error", err)
		} else {
			publisher = producer
			logger.Info("rabbitmq producer connected")
		}
	}
	defer publisher.Close()

	var tickLock app.TickLocker
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisOptions, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Warn("redis url parse failed; scheduler lock limited to this process", "error", err)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			err := redisClient.Ping(pingCtx).Err()
			cancelPing()
			if err != nil {
				logger.Warn("redis ping failed; scheduler lock limited to this process", "error", err)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				tickLock = redislock.New(redisClient, cfg.SchedulerLockKey, cfg.SchedulerLockTTL())
				logger.Info("redis connected", "lock_prefix", cfg.SchedulerLockKey)
			}
		}
	}

	engineCfg := app.EngineConfig{LockTimeout: cfg.LockTimeout(), EventsExchange: cfg.LedgerEventsExchange}
	engine := app.NewEngine(repo, publisher, logger, engineCfg)
	recurring := app.NewRecurringService(repo, engine, publisher, logger, engineCfg)
	maturities := app.NewMaturityService(repo, engine, publisher, logger, engineCfg)
	jobs := app.NewJobs(recurring, maturities, tickLock, cfg.Location, logger)

	var scheduler *app.Scheduler
	if cfg.SchedulerEnabled {
		scheduler = app.NewScheduler(jobs, logger, app.ScheduleConfig{
			RecurringTransferSchedule: cfg.RecurringTransferSchedule,
			MaturityPayoutSchedule:    cfg.MaturityPayoutSchedule,
			Location:                  cfg.Location,
		})
		if err := scheduler.Start(); err != nil {
			logger.Error("scheduler start failed", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("scheduler disabled; ticks run only through the internal API")
	}

	router := api.LedgerRoutes(api.Handlers{
		Ledger:     api.NewLedgerHandlers(engine, logger),
		Recurring:  api.NewRecurringHandlers(recurring, engine, jobs.Today, logger),
		Maturities: api.NewMaturityHandlers(maturities, engine, logger),
		Internal:   api.NewInternalHandlers(jobs, logger),
	}, api.RouterConfig{
		JWTSecret:          cfg.JWTSecret,
		InternalAPIKey:     cfg.InternalAPIKey,
		AllowedOrigins:     cfg.AllowedOrigins(),
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server stopped unexpectedly", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutdown started")

	if scheduler != nil {
		<-scheduler.Stop().Done()
		logger.Info("scheduler stopped")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
	logger.Info("shutdown complete")
}
