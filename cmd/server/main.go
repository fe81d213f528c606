// Package main is the entry point for the macroecon HTTP service.
//
// The service serves hierarchical economic series trees and their data,
// backed by a file cache of provider responses. Background jobs keep the
// cache warm, snapshot it to object storage and maintain the SQLite files.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/macroecon/internal/config"
	"github.com/aristath/macroecon/internal/di"
	"github.com/aristath/macroecon/internal/scheduler"
	"github.com/aristath/macroecon/internal/server"
	"github.com/aristath/macroecon/pkg/logger"
)

// main orchestrates startup:
// 1. Loads configuration from the environment (.env is optional)
// 2. Initializes logging
// 3. Wires databases, cache store, provider clients and the resolver
// 4. Registers and starts the scheduled jobs
// 5. Starts the HTTP server
// 6. Waits for a shutdown signal and stops everything in reverse order
func main() {
	// Load configuration first to get log level
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: true,
	})

	log.Info().
		Str("data_dir", cfg.DataDir).
		Str("cache_dir", cfg.CacheDir).
		Dur("cache_ttl", cfg.CacheTTL).
		Msg("Starting macroecon")

	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	// Databases must be closed so WAL checkpoints are written.
	defer container.Close()

	sched := scheduler.New(log)
	if _, err := di.RegisterJobs(container, cfg, sched, log); err != nil {
		log.Fatal().Err(err).Msg("Failed to register jobs")
	}
	sched.Start()

	srv := server.New(server.Config{
		Log:       log,
		Store:     container.Store,
		Registry:  container.Registry,
		Catalog:   container.Catalog,
		CatalogDB: container.CatalogDB,
		Resolver:  container.Resolver,
		FRED:      container.FRED,
		BEA:       container.BEA,
		Jobs:      sched,
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Stop accepting new job runs; in-flight runs finish first.
	sched.Stop()
	log.Info().Msg("Scheduler stopped")

	// In-flight requests get up to 10 seconds to complete.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
