/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the installment billing server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration from the environment, apply flag overrides
  2. Initialize SQLite store
  3. Connect Redis for the report cache (optional)
  4. Wire billing, reporting and the arrears job
  5. Start the accrual scheduler (runs once immediately)
  6. Start the HTTP server

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides APP_ADDR)
  -db      SQLite database path (overrides DB_PATH)
           Use ":memory:" for in-memory database

ENVIRONMENT:
  See config/config.go. The main ones:
  DB_PATH, APP_ADDR, LOG_FORMAT, LOG_LEVEL, ACCRUAL_ENABLED, ACCRUAL_CRON,
  REDIS_ADDR, REPORT_CACHE_TTL, CORS_ORIGINS, RATE_LIMIT_PER_MINUTE

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler, waiting for a running batch
  2. Stop accepting new connections, drain requests (SHUTDOWN_TIMEOUT)
  3. Close Redis and the database

EXAMPLES:
  ./server -db="./data/billing.db"
  LOG_FORMAT=json ACCRUAL_CRON="30 2 * * *" ./server -port=3000

SEE ALSO:
  - api/server.go: Router configuration
  - arrears/scheduler.go: Daily batch trigger
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/warp/installment-engine/api"
	"github.com/warp/installment-engine/arrears"
	"github.com/warp/installment-engine/billing"
	"github.com/warp/installment-engine/config"
	"github.com/warp/installment-engine/observability"
	"github.com/warp/installment-engine/report"
	"github.com/warp/installment-engine/store/sqlite"
)

func main() {
	port := flag.Int("port", 0, "HTTP server port (overrides APP_ADDR)")
	dbPath := flag.String("db", "", "SQLite database path (overrides DB_PATH)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	if *port != 0 {
		cfg.AppAddr = fmt.Sprintf(":%d", *port)
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	logger := config.NewLogger(cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return err
		}
	}
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	var cache *report.Cache
	if cfg.CacheEnabled() {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis ping", slog.Any("error", err))
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		cache = report.NewCache(redisClient, cfg.ReportCacheTTL)
	}

	metrics := observability.NewMetrics()
	billingSvc := billing.NewService(store, billing.WithLogger(logger))
	reportSvc := report.NewService(store, cache, logger)

	job := arrears.NewJob(store,
		arrears.WithLogger(logger),
		arrears.WithRecorder(metrics),
		arrears.WithTimeout(cfg.AccrualTimeout),
		arrears.WithListener(func(ctx context.Context, _ arrears.Result) {
			if err := reportSvc.Invalidate(ctx); err != nil {
				logger.Warn("report cache invalidation failed", slog.Any("error", err))
			}
		}),
	)

	scheduler := arrears.NewScheduler(job)
	scheduler.Spec = cfg.AccrualCron
	scheduler.Enabled = cfg.AccrualEnabled
	scheduler.Clock = billingSvc.Today
	scheduler.Logger = logger
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer scheduler.Stop()

	handler := api.NewHandler(store, billingSvc, reportSvc, job, scheduler, logger)
	router := api.NewRouter(handler, api.RouterOptions{
		Config:  cfg,
		Metrics: metrics,
		Logger:  logger,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", slog.String("addr", cfg.AppAddr), slog.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("server stopped")
	return err
}
