package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/macroecon/internal/clientdata"
	"github.com/aristath/macroecon/internal/config"
	"github.com/aristath/macroecon/internal/reliability"
	"github.com/aristath/macroecon/internal/scheduler"
)

// Fixed maintenance schedules (seconds field first).
const (
	ClientDataCleanupSchedule = "0 0 3 * * *"
	WALCheckpointSchedule     = "0 15 * * * *"
)

// RegisterJobs creates the background jobs and registers them with sched.
// The warm and backup jobs are only registered when their schedule is set.
func RegisterJobs(container *Container, cfg *config.Config, sched *scheduler.Scheduler, log zerolog.Logger) (*JobInstances, error) {
	if container == nil {
		return nil, fmt.Errorf("container cannot be nil")
	}

	instances := &JobInstances{}

	instances.ClientDataCleanup = clientdata.NewCleanupJob(container.ClientData, log)
	if err := sched.AddJob(ClientDataCleanupSchedule, instances.ClientDataCleanup); err != nil {
		return nil, fmt.Errorf("failed to register client data cleanup: %w", err)
	}

	instances.WALCheckpoints = scheduler.NewCheckWALCheckpointsJob(log, container.CatalogDB, container.ClientDataDB)
	if err := sched.AddJob(WALCheckpointSchedule, instances.WALCheckpoints); err != nil {
		return nil, fmt.Errorf("failed to register WAL checkpoints: %w", err)
	}

	if cfg.Warm.Schedule != "" {
		instances.WarmCache = scheduler.NewWarmCacheJob(cfg.Warm.Trees, container.Registry, container.Resolver, log)
		if err := sched.AddJob(cfg.Warm.Schedule, instances.WarmCache); err != nil {
			return nil, fmt.Errorf("invalid WARM_SCHEDULE %q: %w", cfg.Warm.Schedule, err)
		}
	}

	if cfg.Backup.Schedule != "" {
		if container.Backup == nil {
			log.Warn().Msg("BACKUP_SCHEDULE set but backup bucket not configured, skipping")
		} else {
			instances.CacheBackup = reliability.NewCacheBackupJob(container.Backup, cfg.Backup.Keep)
			if err := sched.AddJob(cfg.Backup.Schedule, instances.CacheBackup); err != nil {
				return nil, fmt.Errorf("invalid BACKUP_SCHEDULE %q: %w", cfg.Backup.Schedule, err)
			}
		}
	}

	return instances, nil
}
