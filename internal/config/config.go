// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir   string // Base directory for databases and the cache (always absolute)
	CacheDir  string // Series cache directory (defaults to <DataDir>/cache)
	CacheTTL  time.Duration
	FREDKey   string
	BEAKey    string
	BLSKey    string
	LogLevel  string
	Port      int
	DevMode   bool
	Warm      WarmConfig
	Backup    BackupConfig
	Providers []string // Provider order used when a node has several sources
}

// WarmConfig controls the scheduled cache warm job
type WarmConfig struct {
	Schedule string   // cron expression with seconds; empty disables the job
	Trees    []string // built-in tree names to walk
}

// BackupConfig holds the S3-compatible bucket used for cache snapshots
type BackupConfig struct {
	Endpoint        string
	Region          string
	Bucket          string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	Schedule        string // cron expression for scheduled snapshots; empty disables
	Keep            int    // snapshots kept by rotation
}

// Enabled reports whether enough settings are present to reach the bucket.
func (b BackupConfig) Enabled() bool {
	return b.Bucket != "" && b.AccessKeyID != "" && b.SecretAccessKey != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir, err := ensureDir(getEnv("MACRO_DATA_DIR", "./data"))
	if err != nil {
		return nil, fmt.Errorf("failed to prepare data directory: %w", err)
	}

	cacheDir := getEnv("MACRO_CACHE_DIR", "")
	if cacheDir == "" {
		cacheDir = filepath.Join(dataDir, "cache")
	}
	cacheDir, err = ensureDir(cacheDir)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare cache directory: %w", err)
	}

	cfg := &Config{
		DataDir:  dataDir,
		CacheDir: cacheDir,
		CacheTTL: time.Duration(getEnvAsInt("MACRO_CACHE_TTL", int(DefaultCacheTTL/time.Second))) * time.Second,
		FREDKey:  getEnv("FRED_API_KEY", ""),
		BEAKey:   getEnv("BEA_API_KEY", ""),
		BLSKey:   getEnv("BLS_API_KEY", ""),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Port:     getEnvAsInt("GO_PORT", 8001),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		Warm: WarmConfig{
			Schedule: getEnv("WARM_SCHEDULE", ""),
			Trees:    getEnvAsList("WARM_TREES", []string{"cpi", "pce", "gdp"}),
		},
		Backup: BackupConfig{
			Endpoint:        getEnv("BACKUP_ENDPOINT", ""),
			Region:          getEnv("BACKUP_REGION", "auto"),
			Bucket:          getEnv("BACKUP_BUCKET", ""),
			Prefix:          strings.Trim(getEnv("BACKUP_PREFIX", "macroecon-cache"), "/"),
			AccessKeyID:     getEnv("BACKUP_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("BACKUP_SECRET_ACCESS_KEY", ""),
			Schedule:        getEnv("BACKUP_SCHEDULE", ""),
			Keep:            getEnvAsInt("BACKUP_KEEP", 7),
		},
		Providers: getEnvAsList("PROVIDER_ORDER", []string{"fred", "bls", "bea"}),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if the configuration is usable
func (c *Config) Validate() error {
	if c.CacheTTL < 0 {
		return fmt.Errorf("MACRO_CACHE_TTL must not be negative")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("GO_PORT out of range: %d", c.Port)
	}
	if len(c.Providers) == 0 {
		return fmt.Errorf("PROVIDER_ORDER must name at least one provider")
	}
	// API keys are optional: FRED and BEA calls fail at request time without
	// them, BLS falls back to the keyless v1 endpoint.
	return nil
}

// CatalogPath is the SQLite file holding saved trees.
func (c *Config) CatalogPath() string {
	return filepath.Join(c.DataDir, "catalog.db")
}

// ClientDataPath is the SQLite file caching provider metadata lookups.
func (c *Config) ClientDataPath() string {
	return filepath.Join(c.DataDir, "client_data.db")
}

func ensureDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", abs, err)
	}
	return abs, nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
