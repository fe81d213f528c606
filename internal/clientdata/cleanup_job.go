package clientdata

import (
	"errors"

	"github.com/rs/zerolog"
)

// CleanupResult reports one cleanup pass.
type CleanupResult struct {
	Removed   map[string]int64 // expired rows deleted, by table
	Remaining int64            // rows left across all tables
}

// CleanupJob drops expired provider lookups so client_data.db does not grow
// with every search query ever made. Fresh rows are never touched.
type CleanupJob struct {
	repo *Repository
	log  zerolog.Logger
}

// NewCleanupJob creates the cleanup job for repo.
func NewCleanupJob(repo *Repository, log zerolog.Logger) *CleanupJob {
	return &CleanupJob{
		repo: repo,
		log:  log.With().Str("job", "client_data_cleanup").Logger(),
	}
}

// Name returns the job name
func (j *CleanupJob) Name() string {
	return "client_data_cleanup"
}

// Cleanup deletes expired rows table by table. A failing table does not
// stop the others; its error is joined into the result.
func (j *CleanupJob) Cleanup() (CleanupResult, error) {
	res := CleanupResult{Removed: make(map[string]int64, len(AllTables))}
	var errs []error

	for _, table := range AllTables {
		n, err := j.repo.DeleteExpired(table)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		res.Removed[table] = n
	}

	counts, err := j.repo.Count()
	if err != nil {
		errs = append(errs, err)
	}
	for _, n := range counts {
		res.Remaining += n
	}
	return res, errors.Join(errs...)
}

// Run performs one cleanup pass and logs what was removed.
func (j *CleanupJob) Run() error {
	res, err := j.Cleanup()

	var removed int64
	for _, table := range AllTables {
		if n := res.Removed[table]; n > 0 {
			j.log.Debug().Str("table", table).Int64("removed", n).Msg("Expired lookups removed")
			removed += n
		}
	}

	if err != nil {
		j.log.Error().Err(err).Int64("removed", removed).Msg("Client data cleanup failed")
		return err
	}
	j.log.Info().
		Int64("removed", removed).
		Int64("remaining", res.Remaining).
		Msg("Client data cleanup completed")
	return nil
}
