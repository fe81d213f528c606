package scheduler

import (
	"github.com/rs/zerolog"

	"github.com/aristath/macroecon/internal/database"
)

// walFramesWarn is the WAL size, in frames, above which a checkpoint is forced.
const walFramesWarn = 1000

// CheckWALCheckpointsJob checkpoints the SQLite databases whose WAL has grown.
type CheckWALCheckpointsJob struct {
	log       zerolog.Logger
	databases []*database.DB
}

// NewCheckWALCheckpointsJob creates the job. Nil databases are ignored.
func NewCheckWALCheckpointsJob(log zerolog.Logger, databases ...*database.DB) *CheckWALCheckpointsJob {
	j := &CheckWALCheckpointsJob{log: log.With().Str("job", "check_wal_checkpoints").Logger()}
	for _, db := range databases {
		if db != nil {
			j.databases = append(j.databases, db)
		}
	}
	return j
}

// Name returns the job name
func (j *CheckWALCheckpointsJob) Name() string {
	return "check_wal_checkpoints"
}

// Run inspects each WAL with a passive checkpoint and truncates large ones.
func (j *CheckWALCheckpointsJob) Run() error {
	checked := 0
	for _, db := range j.databases {
		res, err := db.WALCheckpoint(database.CheckpointPassive)
		if err != nil {
			j.log.Warn().
				Err(err).
				Str("database", db.Name()).
				Msg("Failed to check WAL checkpoint")
			continue
		}
		checked++

		if res.Frames <= walFramesWarn {
			j.log.Debug().
				Str("database", db.Name()).
				Int("wal_frames", res.Frames).
				Bool("busy", res.Busy).
				Msg("WAL checkpoint status OK")
			continue
		}

		j.log.Warn().
			Str("database", db.Name()).
			Int("wal_frames", res.Frames).
			Int("checkpointed", res.Checkpointed).
			Msg("WAL file is large, truncating")
		if _, err := db.WALCheckpoint(database.CheckpointTruncate); err != nil {
			j.log.Warn().Err(err).Str("database", db.Name()).Msg("WAL truncate failed")
		}
	}

	j.log.Info().
		Int("checked", checked).
		Msg("WAL checkpoint check completed")

	return nil
}
