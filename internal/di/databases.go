package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/macroecon/internal/config"
	"github.com/aristath/macroecon/internal/database"
)

// InitializeDatabases opens the catalog and client data databases and
// applies their schemas.
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	// catalog.db - saved series trees
	catalogDB, err := database.Open(database.Config{
		Path:    cfg.CatalogPath(),
		Profile: database.ProfileStandard,
		Name:    database.NameCatalog,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize catalog database: %w", err)
	}
	container.CatalogDB = catalogDB

	// client_data.db - provider lookups that can always be refetched
	clientDataDB, err := database.Open(database.Config{
		Path:    cfg.ClientDataPath(),
		Profile: database.ProfileCache,
		Name:    database.NameClientData,
	})
	if err != nil {
		catalogDB.Close()
		return nil, fmt.Errorf("failed to initialize client_data database: %w", err)
	}
	container.ClientDataDB = clientDataDB

	log.Info().Msg("Databases initialized and schemas applied")

	return container, nil
}
