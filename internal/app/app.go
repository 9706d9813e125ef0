// Package app provides the main application lifecycle management for the
// republisher service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/evergreenpress/republisher/internal/api"
	"github.com/evergreenpress/republisher/internal/config"
	"github.com/evergreenpress/republisher/internal/database"
	"github.com/evergreenpress/republisher/internal/engine"
	"github.com/evergreenpress/republisher/internal/lock"
	"github.com/evergreenpress/republisher/internal/logger"
	"github.com/evergreenpress/republisher/internal/metrics"
	"github.com/evergreenpress/republisher/internal/ratelimit"
	"github.com/evergreenpress/republisher/internal/retry"
	"github.com/evergreenpress/republisher/internal/scheduler"
)

const (
	// DefaultShutdownTimeout is the timeout for graceful shutdown
	DefaultShutdownTimeout = 30 * time.Second

	redisPingTimeout = 2 * time.Second
)

// App represents the republisher application with all its dependencies
type App struct {
	config      *config.Config
	logger      logger.Logger
	db          *sqlx.DB
	redisClient *redis.Client
	engine      *engine.Engine
	retries     *retry.Scheduler
	cron        *scheduler.Service
	httpServer  *http.Server
	version     string
}

// Options contains configuration for creating a new App
type Options struct {
	ConfigPath string
	Version    string
}

// New creates a new App instance with all dependencies initialized
func New(opts Options) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	appLogger, err := logger.NewLogger(cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	appLogger = appLogger.With(
		logger.String("service", "republisher"),
		logger.String("version", opts.Version),
	)

	db, err := database.NewPostgresConnection(cfg.Database)
	if err != nil {
		_ = appLogger.Sync()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.URL,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
		db.Close()
		_ = appLogger.Sync()
		return nil, fmt.Errorf("connect to Redis: %w", pingErr)
	}

	items := database.NewItemRepository(db)
	history := database.NewHistoryRepository(db)
	settings := database.NewSettingsRepository(db, cfg.Settings())
	execLock := lock.New(redisClient, appLogger)

	eng := engine.New(engine.Deps{
		Settings: settings,
		Items:    items,
		History:  history,
		Lock:     execLock,
		Logger:   appLogger,
	}, engine.Config{
		LockTTL:         cfg.Republish.LockTTL,
		WriteRatePerSec: cfg.Republish.WriteRatePerSec,
	})

	retries := retry.New(eng, retry.Config{
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
		MaxAttempts: cfg.Retry.MaxAttempts,
	}, appLogger)
	eng.SetRetryArmer(retries)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	eng.Subscribe(metrics.NewCollector(registry))

	limiter := ratelimit.New(
		redisClient,
		cfg.Republish.RateLimitWindow,
		cfg.Republish.RateLimitMax,
		cfg.Debug,
		appLogger,
	)

	defaults := cfg.Settings()
	loc, err := defaults.Location()
	if err != nil {
		db.Close()
		_ = appLogger.Sync()
		return nil, err
	}

	cronSvc, err := scheduler.New(cfg.Republish.Schedule, loc, eng, appLogger)
	if err != nil {
		db.Close()
		_ = appLogger.Sync()
		return nil, err
	}

	router := api.NewRouter(eng, limiter, history, db, redisClient, registry, cfg, appLogger)
	httpServer := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router.SetupRoutes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &App{
		config:      cfg,
		logger:      appLogger,
		db:          db,
		redisClient: redisClient,
		engine:      eng,
		retries:     retries,
		cron:        cronSvc,
		httpServer:  httpServer,
		version:     opts.Version,
	}, nil
}

// Engine exposes the batch engine for one-shot callers.
func (a *App) Engine() *engine.Engine {
	return a.engine
}

// Logger exposes the application logger.
func (a *App) Logger() logger.Logger {
	return a.logger
}

// Close releases connections without running the full service lifecycle.
func (a *App) Close() {
	a.retries.Stop()
	if err := a.db.Close(); err != nil {
		a.logger.Error("database close failed", logger.Error(err))
	}
	if err := a.redisClient.Close(); err != nil {
		a.logger.Error("redis close failed", logger.Error(err))
	}
	_ = a.logger.Sync()
}

// Run starts the scheduler and HTTP server and blocks until shutdown.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	a.cron.Start()
	a.logger.Info("scheduler started",
		logger.String("schedule", a.config.Republish.Schedule),
		logger.String("timezone", a.config.Site.Timezone),
	)

	go func() {
		a.logger.Info("HTTP server starting", logger.String("address", a.config.Server.Address))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigChan:
		a.logger.Info("shutting down gracefully", logger.String("signal", sig.String()))
	case err := <-serverErr:
		a.logger.Error("HTTP server error", logger.Error(err))
		runErr = err
	case <-ctx.Done():
		a.logger.Info("context cancelled, shutting down")
	}

	a.shutdown()
	return runErr
}

func (a *App) shutdown() {
	a.cron.Stop()
	a.retries.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("HTTP server shutdown failed", logger.Error(err))
	}

	if err := a.db.Close(); err != nil {
		a.logger.Error("database close failed", logger.Error(err))
	}
	if err := a.redisClient.Close(); err != nil {
		a.logger.Error("redis close failed", logger.Error(err))
	}

	a.logger.Info("service stopped")
	_ = a.logger.Sync()
}
