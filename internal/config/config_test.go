package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("MACRO_DATA_DIR", dir)
	t.Setenv("MACRO_CACHE_DIR", "")
	t.Setenv("MACRO_CACHE_TTL", "")
	t.Setenv("GO_PORT", "")
	t.Setenv("WARM_TREES", "")
	t.Setenv("BACKUP_PREFIX", "")
	t.Setenv("PROVIDER_ORDER", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, filepath.Join(dir, "cache"), cfg.CacheDir)
	assert.DirExists(t, cfg.CacheDir)
	assert.Equal(t, 24*time.Hour, cfg.CacheTTL)
	assert.Equal(t, 8001, cfg.Port)
	assert.Equal(t, []string{"cpi", "pce", "gdp"}, cfg.Warm.Trees)
	assert.Equal(t, []string{"fred", "bls", "bea"}, cfg.Providers)
	assert.Equal(t, "macroecon-cache", cfg.Backup.Prefix)
	assert.Equal(t, "auto", cfg.Backup.Region)
	assert.False(t, cfg.Backup.Enabled())
	assert.Equal(t, 7, cfg.Backup.Keep)
	assert.Empty(t, cfg.Backup.Schedule)
	assert.Equal(t, filepath.Join(dir, "catalog.db"), cfg.CatalogPath())
	assert.Equal(t, filepath.Join(dir, "client_data.db"), cfg.ClientDataPath())
}

func TestLoad_Overrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("MACRO_DATA_DIR", dir)
	t.Setenv("MACRO_CACHE_DIR", filepath.Join(dir, "elsewhere"))
	t.Setenv("MACRO_CACHE_TTL", "60")
	t.Setenv("GO_PORT", "9100")
	t.Setenv("DEV_MODE", "true")
	t.Setenv("WARM_SCHEDULE", "0 0 6 * * *")
	t.Setenv("WARM_TREES", " ces, cps ,")
	t.Setenv("PROVIDER_ORDER", "bea,fred")
	t.Setenv("BACKUP_BUCKET", "bucket")
	t.Setenv("BACKUP_PREFIX", "/snapshots/")
	t.Setenv("BACKUP_ACCESS_KEY_ID", "id")
	t.Setenv("BACKUP_SECRET_ACCESS_KEY", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "elsewhere"), cfg.CacheDir)
	assert.Equal(t, time.Minute, cfg.CacheTTL)
	assert.Equal(t, 9100, cfg.Port)
	assert.True(t, cfg.DevMode)
	assert.Equal(t, "0 0 6 * * *", cfg.Warm.Schedule)
	assert.Equal(t, []string{"ces", "cps"}, cfg.Warm.Trees)
	assert.Equal(t, []string{"bea", "fred"}, cfg.Providers)
	assert.Equal(t, "snapshots", cfg.Backup.Prefix)
	assert.True(t, cfg.Backup.Enabled())
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("MACRO_DATA_DIR", t.TempDir())
	t.Setenv("GO_PORT", "not-a-number")
	t.Setenv("DEV_MODE", "maybe")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8001, cfg.Port)
	assert.False(t, cfg.DevMode)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"negative ttl", func(c *Config) { c.CacheTTL = -time.Second }, true},
		{"bad port", func(c *Config) { c.Port = 70000 }, true},
		{"no providers", func(c *Config) { c.Providers = nil }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{CacheTTL: time.Hour, Port: 8001, Providers: []string{"fred"}}
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNIPATableVariants(t *testing.T) {
	variants := NIPATableVariants(2, 8)

	assert.Len(t, variants, 6)
	assert.Equal(t, "T20805", variants["current_dollars"])
	assert.Equal(t, "T20804", variants["price_index"])
	assert.Equal(t, "T10101", NIPATableVariants(1, 1)["pct_change_real"])
}
