package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/macroecon/internal/config"
)

// Wire initializes databases and services and returns a configured container.
// Jobs are registered separately with RegisterJobs by the binaries that run
// a scheduler.
func Wire(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container, err := InitializeDatabases(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := InitializeServices(container, cfg, log); err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	log.Info().Msg("Dependency injection wiring completed successfully")

	return container, nil
}
