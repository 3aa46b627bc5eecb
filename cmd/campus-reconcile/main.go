package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/campus/pkg/observability"
	"github.com/platinummonkey/campus/pkg/reconcile"
	"github.com/platinummonkey/campus/pkg/storage/postgres"
)

var (
	dbURL       = flag.String("db-url", getEnv("DATABASE_URL", "postgres://localhost/campus?sslmode=disable"), "PostgreSQL connection URL")
	schedule    = flag.String("schedule", getEnv("CAMPUS_RECONCILE_SCHEDULE", "@every 10m"), "Cron schedule for role assignment repair")
	batchSize   = flag.Int("batch-size", 500, "Rows repaired per statement")
	maxBatches  = flag.Int("max-batches", 100, "Statements per run")
	timeout     = flag.Duration("timeout", 5*time.Minute, "Timeout for one run")
	migrate     = flag.Bool("migrate", false, "Apply schema migrations before starting")
	runOnce     = flag.Bool("run-once", false, "Repair once and exit")
	metricsAddr = flag.String("metrics-addr", "", "Serve Prometheus metrics on this address (disabled when empty)")
	logLevel    = flag.String("log-level", getEnv("LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
)

func main() {
	flag.Parse()

	logger := setupLogger(*logLevel)
	logger.Info("Starting Campus role reconciler")

	appLogger := observability.NewLogger(observability.ParseLogLevel(*logLevel), os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := postgres.NewConnectionManager(ctx, postgres.ConnectionConfig{
		PrimaryURL: *dbURL,
		MaxConns:   4,
		MinConns:   1,
	}, appLogger)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer conn.Close()

	if *migrate {
		if err := postgres.RunMigrations(ctx, conn.Primary(), appLogger); err != nil {
			logger.Fatalf("Failed to run migrations: %v", err)
		}
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	reconciler := reconcile.New(postgres.NewAssignmentStore(conn), reconcile.Config{
		Schedule:   *schedule,
		BatchSize:  *batchSize,
		MaxBatches: *maxBatches,
		Timeout:    *timeout,
	}, appLogger, metrics)

	if *runOnce {
		runCtx, cancel := context.WithTimeout(ctx, *timeout)
		defer cancel()

		repaired, err := reconciler.RunOnce(runCtx)
		if err != nil {
			logger.Fatalf("Reconciliation failed after %d repairs: %v", repaired, err)
		}
		logger.Infof("Reconciliation completed, %d assignments repaired", repaired)
		return
	}

	if *metricsAddr != "" {
		go serveMetrics(logger, *metricsAddr, registry)
	}

	if err := reconciler.Start(); err != nil {
		logger.Fatalf("Failed to schedule reconciliation: %v", err)
	}
	logger.Infof("Reconciliation schedule: %s", *schedule)

	<-ctx.Done()
	logger.Info("Shutting down gracefully...")

	stopCtx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := reconciler.Stop(stopCtx); err != nil {
		logger.Warnf("Reconciler did not stop cleanly: %v", err)
	}

	logger.Info("Reconciler stopped")
}

func serveMetrics(logger *logrus.Logger, addr string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler(registry))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Infof("Metrics listening on %s", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Errorf("Metrics server failed: %v", err)
	}
}

func setupLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)

	return logger
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
