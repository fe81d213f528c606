package di

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/macroecon/internal/config"
	"github.com/aristath/macroecon/internal/scheduler"
)

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	return &config.Config{
		DataDir:   dir,
		CacheDir:  filepath.Join(dir, "cache"),
		CacheTTL:  time.Hour,
		Port:      8001,
		Providers: []string{"bea", "fred"},
		Warm:      config.WarmConfig{Trees: []string{"cpi"}},
		Backup:    config.BackupConfig{Keep: 3},
	}
}

func TestWire(t *testing.T) {
	cfg := testConfig(t)

	container, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { container.Close() })

	assert.NotNil(t, container.CatalogDB)
	assert.NotNil(t, container.ClientDataDB)
	assert.NotNil(t, container.Store)
	assert.NotNil(t, container.Catalog)
	assert.NotNil(t, container.ClientData)
	assert.NotNil(t, container.FRED)
	assert.NotNil(t, container.BLS)
	assert.NotNil(t, container.BEA)
	assert.Nil(t, container.Backup, "no bucket configured")

	assert.Equal(t, []string{"bea", "fred", "bls"}, container.Resolver.Providers())
	assert.True(t, container.Registry.Has("cpi"))
	assert.DirExists(t, cfg.CacheDir)
	assert.Equal(t, cfg.CacheDir, container.Store.Dir())
}

func TestInitializeDatabases(t *testing.T) {
	cfg := testConfig(t)

	container, err := InitializeDatabases(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { container.Close() })

	assert.FileExists(t, cfg.CatalogPath())
	assert.FileExists(t, cfg.ClientDataPath())

	var count int
	require.NoError(t, container.CatalogDB.Conn().QueryRow("SELECT COUNT(*) FROM trees").Scan(&count))
	assert.Zero(t, count)
	require.NoError(t, container.ClientDataDB.Conn().QueryRow("SELECT COUNT(*) FROM fred_series_info").Scan(&count))
	assert.Zero(t, count)
}

func TestContainerCloseToleratesPartialContainer(t *testing.T) {
	assert.NoError(t, (&Container{}).Close())
}

func TestRegisterJobs(t *testing.T) {
	tests := []struct {
		name      string
		configure func(*config.Config)
		wantErr   bool
		wantWarm  bool
		wantJobs  int
	}{
		{
			name:      "maintenance only",
			configure: func(*config.Config) {},
			wantJobs:  2,
		},
		{
			name:      "with warm schedule",
			configure: func(c *config.Config) { c.Warm.Schedule = "0 0 6 * * *" },
			wantWarm:  true,
			wantJobs:  3,
		},
		{
			name:      "backup schedule without bucket is skipped",
			configure: func(c *config.Config) { c.Backup.Schedule = "@daily" },
			wantJobs:  2,
		},
		{
			name:      "invalid warm schedule",
			configure: func(c *config.Config) { c.Warm.Schedule = "often" },
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.configure(cfg)

			container, err := Wire(cfg, zerolog.Nop())
			require.NoError(t, err)
			t.Cleanup(func() { container.Close() })

			sched := scheduler.New(zerolog.Nop())
			jobs, err := RegisterJobs(container, cfg, sched, zerolog.Nop())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			assert.NotNil(t, jobs.ClientDataCleanup)
			assert.NotNil(t, jobs.WALCheckpoints)
			assert.Equal(t, tt.wantWarm, jobs.WarmCache != nil)
			assert.Nil(t, jobs.CacheBackup)
			assert.Equal(t, tt.wantJobs, sched.Jobs())

			require.NoError(t, sched.RunNow(jobs.ClientDataCleanup))
			require.NoError(t, sched.RunNow(jobs.WALCheckpoints))
		})
	}
}
