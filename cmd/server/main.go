/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the swim school charge ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present), environment and command-line flags
  2. Open the configured store (memory, sqlite or postgres)
  3. Connect to Redis when configured (idempotent POST replay)
  4. Build the charge service, seed demo data into an empty ledger
  5. Start the balance reporter and the HTTP server

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides SWIMLEDGER_PORT)
  -db      SQLite database path; selects the sqlite driver
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the reporter, close Redis and the store
  4. Exit non-zero if any of the above failed

EXAMPLES:
  # Run with file database
  ./server -db="./data/ledger.db"

  # Run against postgres with idempotent retries
  SWIMLEDGER_STORE_DRIVER=postgres \
  SWIMLEDGER_POSTGRES_DSN="postgres://localhost/ledger?sslmode=disable" \
  SWIMLEDGER_REDIS_URL="redis://localhost:6379/0" ./server

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - charges/service.go: Command processing
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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/warp/swim-ledger/api"
	"github.com/warp/swim-ledger/charges"
	"github.com/warp/swim-ledger/config"
	"github.com/warp/swim-ledger/directory"
	"github.com/warp/swim-ledger/idempotency"
	"github.com/warp/swim-ledger/ledger"
	"github.com/warp/swim-ledger/ledger/store"
	"github.com/warp/swim-ledger/logger"
	"github.com/warp/swim-ledger/metrics"
	"github.com/warp/swim-ledger/store/postgres"
	"github.com/warp/swim-ledger/store/sqlite"
)

const serviceName = "swim-ledger"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
}

func run() (err error) {
	// Flags
	port := flag.String("port", "", "HTTP server port")
	dbPath := flag.String("db", "", "SQLite database path")
	flag.Parse()

	// .env is optional
	if loadErr := godotenv.Load(); loadErr != nil && !errors.Is(loadErr, os.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", loadErr)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if *port != "" {
		cfg.App.Port = *port
	}
	if *dbPath != "" {
		cfg.Store.Driver = config.DriverSQLite
		cfg.Store.SQLitePath = *dbPath
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logg := logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":    cfg.App.Env,
		"driver": cfg.Store.Driver,
	})

	// Store
	st, checks, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeStore()) }()

	// Redis (optional)
	var idem idempotency.Store
	if cfg.Redis.Enabled() {
		rs, redisErr := idempotency.NewRedis(ctx, cfg.Redis.URL, cfg.Redis.DialTimeout)
		if redisErr != nil {
			return redisErr
		}
		defer func() { err = multierr.Append(err, rs.Close()) }()
		idem = rs
		checks["redis"] = rs.Ping
	} else {
		logg.Warn(ctx, "redis not configured; Idempotency-Key is ignored")
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	ledgerMetrics := metrics.NewLedgerMetrics(registry)

	// Service
	svc, err := charges.NewService(st, charges.Options{
		CommitDelay: cfg.Ledger.CommitDelay,
		Logger:      logg,
		Metrics:     ledgerMetrics,
	})
	if err != nil {
		return err
	}

	if cfg.Ledger.SeedDemo {
		if err := seedDemo(ctx, svc); err != nil {
			return err
		}
	}

	// Reporter
	reporter := api.NewBalanceReporter(svc, ledgerMetrics, logg)
	reporter.Interval = cfg.Ledger.ReportInterval
	reporter.Checks = checks
	reporter.Start()
	defer reporter.Stop()

	// Router
	handler := api.NewHandler(svc, directory.Default(), logg)
	handler.Checks = checks
	router := api.NewRouter(handler, api.RouterOptions{
		CORSOrigins:    cfg.App.CORSOrigins,
		Idempotency:    idem,
		IdempotencyTTL: cfg.Redis.IdempotencyTTL,
		Gatherer:       registry,
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15*time.Second + cfg.Ledger.CommitDelay,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(logg.WithField(ctx, "addr", server.Addr), "server.starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal or a listener failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logg.Info(logg.WithField(ctx, "signal", sig.String()), "server.shutting_down")
	case listenErr := <-serveErr:
		if listenErr != nil {
			return fmt.Errorf("server failed: %w", listenErr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		err = multierr.Append(err, fmt.Errorf("server forced to shutdown: %w", shutdownErr))
	}

	logg.Info(ctx, "server.stopped")
	return err
}

// openStore opens the configured backend and returns its health checks and
// a close func.
func openStore(ctx context.Context, cfg config.StoreConfig) (ledger.TxStore, map[string]api.HealthCheck, func() error, error) {
	checks := map[string]api.HealthCheck{}
	switch cfg.Driver {
	case config.DriverSQLite:
		s, err := sqlite.New(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to initialize sqlite store: %w", err)
		}
		checks["store"] = s.Ping
		return s, checks, s.Close, nil

	case config.DriverPostgres:
		s, err := postgres.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to initialize postgres store: %w", err)
		}
		checks["store"] = s.Ping
		return s, checks, s.Close, nil
	}
	return store.NewTxMemory(), checks, func() error { return nil }, nil
}

// seedDemo loads the demo ledger into an empty store. A store that already
// holds charges is left alone.
func seedDemo(ctx context.Context, svc *charges.Service) error {
	existing, err := svc.List(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	return svc.Load(ctx, api.DemoCharges())
}
