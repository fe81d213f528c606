// Package di wires the databases, the cache store, the provider clients and
// the background jobs shared by the server and the CLI.
package di

import (
	"github.com/aristath/macroecon/internal/cache"
	"github.com/aristath/macroecon/internal/catalog"
	"github.com/aristath/macroecon/internal/clientdata"
	"github.com/aristath/macroecon/internal/clients/bea"
	"github.com/aristath/macroecon/internal/clients/bls"
	"github.com/aristath/macroecon/internal/clients/fred"
	"github.com/aristath/macroecon/internal/database"
	"github.com/aristath/macroecon/internal/fetch"
	"github.com/aristath/macroecon/internal/hierarchies"
	"github.com/aristath/macroecon/internal/reliability"
	"github.com/aristath/macroecon/internal/scheduler"
)

// Container holds all application dependencies. It is built by Wire.
type Container struct {
	// Databases
	CatalogDB    *database.DB
	ClientDataDB *database.DB

	// Storage
	Store      *cache.Store
	Catalog    *catalog.Repository
	ClientData *clientdata.Repository
	Registry   *hierarchies.Registry

	// Provider clients
	FRED     *fred.Client
	BLS      *bls.Client
	BEA      *bea.Client
	Resolver *fetch.Resolver

	// Backup is nil when no bucket is configured.
	Backup *reliability.CacheBackupService
}

// JobInstances holds the registered background jobs. Optional jobs are nil
// when their schedule is not configured.
type JobInstances struct {
	ClientDataCleanup *clientdata.CleanupJob
	WALCheckpoints    *scheduler.CheckWALCheckpointsJob
	WarmCache         *scheduler.WarmCacheJob
	CacheBackup       *reliability.CacheBackupJob
}

// Close releases the databases. Safe on a partly built container.
func (c *Container) Close() error {
	var firstErr error
	for _, db := range []*database.DB{c.CatalogDB, c.ClientDataDB} {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
