package di

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/macroecon/internal/cache"
	"github.com/aristath/macroecon/internal/catalog"
	"github.com/aristath/macroecon/internal/clientdata"
	"github.com/aristath/macroecon/internal/clients/bea"
	"github.com/aristath/macroecon/internal/clients/bls"
	"github.com/aristath/macroecon/internal/clients/fred"
	"github.com/aristath/macroecon/internal/config"
	"github.com/aristath/macroecon/internal/fetch"
	"github.com/aristath/macroecon/internal/hierarchies"
	"github.com/aristath/macroecon/internal/reliability"
)

// InitializeServices builds the cache store, repositories, provider clients,
// the resolver and, when configured, the backup service.
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}

	store, err := cache.NewStore(cfg.CacheDir, cfg.CacheTTL, log)
	if err != nil {
		return fmt.Errorf("failed to open cache store: %w", err)
	}
	container.Store = store

	container.Catalog = catalog.NewRepository(container.CatalogDB.Conn())
	container.ClientData = clientdata.NewRepository(container.ClientDataDB.Conn())
	container.Registry = hierarchies.Default()

	container.FRED = fred.NewClient(cfg.FREDKey, store, container.ClientData, log)
	container.BLS = bls.NewClient(cfg.BLSKey, store, log)
	container.BEA = bea.NewClient(cfg.BEAKey, store, container.ClientData, log)
	container.Resolver = fetch.NewResolver(cfg.Providers, log,
		container.FRED,
		container.BLS,
		container.BEA,
	)

	if cfg.Backup.Enabled() {
		objects, err := reliability.NewS3Client(context.Background(), reliability.S3Config{
			Endpoint:        cfg.Backup.Endpoint,
			Region:          cfg.Backup.Region,
			Bucket:          cfg.Backup.Bucket,
			AccessKeyID:     cfg.Backup.AccessKeyID,
			SecretAccessKey: cfg.Backup.SecretAccessKey,
		})
		if err != nil {
			return fmt.Errorf("failed to create backup client: %w", err)
		}
		container.Backup = reliability.NewCacheBackupService(store, objects, cfg.Backup.Prefix, log)
	}

	log.Info().
		Strs("providers", container.Resolver.Providers()).
		Bool("backup", container.Backup != nil).
		Msg("Services initialized")

	return nil
}
