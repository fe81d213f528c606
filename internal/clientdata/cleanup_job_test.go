package clientdata

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanupJobName(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	job := NewCleanupJob(NewRepository(db), zerolog.Nop())
	assert.Equal(t, "client_data_cleanup", job.Name())
}

func TestCleanupJobRun(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)
	job := NewCleanupJob(repo, zerolog.Nop())

	for _, table := range AllTables {
		require.NoError(t, repo.Store(table, "fresh", "ok", time.Hour))
		require.NoError(t, repo.Store(table, "expired", "old", -time.Hour))
	}

	res, err := job.Cleanup()
	require.NoError(t, err)
	assert.Equal(t, int64(len(AllTables)), res.Remaining)
	for _, table := range AllTables {
		assert.Equal(t, int64(1), res.Removed[table], table)
	}

	require.NoError(t, job.Run())

	counts, err := repo.Count()
	require.NoError(t, err)
	for _, table := range AllTables {
		assert.Equal(t, int64(1), counts[table], table)
		raw, err := repo.Get(table, "fresh")
		require.NoError(t, err)
		assert.NotNil(t, raw)
	}
}

func TestCleanupJobRun_EmptyTables(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	job := NewCleanupJob(NewRepository(db), zerolog.Nop())
	res, err := job.Cleanup()
	require.NoError(t, err)
	assert.Zero(t, res.Remaining)
	assert.Len(t, res.Removed, len(AllTables))
	assert.NoError(t, job.Run())
}

func TestCleanupJobRun_MissingTableStillCleansOthers(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)
	require.NoError(t, repo.Store(TableFREDSeriesInfo, "expired", "old", -time.Hour))
	_, err := db.Exec("DROP TABLE " + TableFREDSearch)
	require.NoError(t, err)

	res, err := NewCleanupJob(repo, zerolog.Nop()).Cleanup()
	assert.Error(t, err)
	assert.Equal(t, int64(1), res.Removed[TableFREDSeriesInfo])
	assert.NotContains(t, res.Removed, TableFREDSearch)
}
