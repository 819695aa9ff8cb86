/**
 * @description
 * This is the main entry point for the sweeper. It is a non-HTTP,
 * long-running process that runs the scheduled expiration sweep on a cron
 * schedule. It initializes the configuration, database connection, and the
 * cron scheduler, then starts it.
 */
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/appdotbuilder/iklan-baris-online/internal/app"
	"github.com/appdotbuilder/iklan-baris-online/internal/config"
	"github.com/appdotbuilder/iklan-baris-online/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Load application configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// Establish database connection with connection pool configuration
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to parse database URL", "error", err)
		os.Exit(1)
	}

	// The sweep is set-based and periodic, so a small pool is enough.
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	// Initialize dependencies
	repository := store.NewPostgresRepository(dbpool)
	sweeper := app.NewSweeper(repository, logger, nil)
	scheduler := app.NewScheduler(sweeper, logger, cfg)

	// Start the cron scheduler in the background
	scheduler.Start()
	logger.Info("sweeper started", "schedule", cfg.SweepSchedule)

	// Wait for termination signal to gracefully shut down
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	// Stop the scheduler
	logger.Info("shutdown signal received, stopping sweeper")
	stopCtx := scheduler.Stop()
	<-stopCtx.Done() // Wait for in-flight sweep to finish
	logger.Info("sweeper stopped gracefully")
}
