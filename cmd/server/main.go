/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the freight reconciliation server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, then flags)
  2. Initialize logger, SQLite store and metrics
  3. Pick the locker: Redis when REDIS_ADDR is set, in-process otherwise
  4. Create service, handler and router
  5. Start the drift sweep (if enabled) and the HTTP server

COMMAND-LINE FLAGS:
  -addr    HTTP listen address (overrides APP_ADDR)
  -db      SQLite database path (overrides DB_PATH)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the drift sweep
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close Redis and the database

ENVIRONMENT:
  See config/config.go for every variable and its default.

SEE ALSO:
  - api/server.go: Router configuration
  - finance/service.go: Operations
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/warp/freight-core/api"
	"github.com/warp/freight-core/config"
	"github.com/warp/freight-core/finance"
	"github.com/warp/freight-core/logger"
	"github.com/warp/freight-core/metrics"
	"github.com/warp/freight-core/store/lock"
	"github.com/warp/freight-core/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	addr := flag.String("addr", cfg.AppAddr, "HTTP listen address")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	flag.Parse()

	log := logger.ForEnvironment(cfg.AppEnv, cfg.LogLevel, cfg.LogFormat)
	defer log.Sync()

	store, err := sqlite.New(*dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	m := metrics.New()
	opts := []finance.Option{
		finance.WithLogger(log.Named("finance")),
		finance.WithRecorder(m),
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(ctx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		opts = append(opts, finance.WithLocker(lock.NewRedis(client, cfg.LockTTL, log.Named("lock"))))
		log.Info("using redis locks", zap.String("addr", cfg.RedisAddr), zap.Duration("ttl", cfg.LockTTL))
	}

	svc := finance.NewService(store, opts...)
	handler := api.NewHandler(svc, store, log)

	handler.Sweeper.Enabled = cfg.SweepEnabled
	handler.Sweeper.Interval = cfg.SweepInterval
	handler.Sweeper.Repair = cfg.SweepRepair
	handler.Sweeper.OnReport = m.DriftReported
	handler.Sweeper.Start()
	defer handler.Sweeper.Stop()

	router := api.NewRouter(handler, api.RouterOptions{
		CORSOrigins:      cfg.CORSOrigins,
		RateLimit:        cfg.RateLimit,
		Metrics:          m,
		DisableScenarios: cfg.IsProduction(),
	})

	server := &http.Server{
		Addr:         *addr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.String("addr", *addr), zap.String("db", *dbPath), zap.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}
