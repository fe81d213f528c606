// Package database opens the SQLite databases (the tree catalog and the
// provider lookup cache) with per-profile PRAGMAs and applies their
// embedded schemas.
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Database names with an embedded schema.
const (
	NameCatalog    = "catalog"
	NameClientData = "client_data"
)

//go:embed schemas/*.sql
var schemas embed.FS

var schemaFiles = map[string]string{
	NameCatalog:    "schemas/catalog_schema.sql",
	NameClientData: "schemas/client_data_schema.sql",
}

// DatabaseProfile selects durability and pool settings.
type DatabaseProfile string

const (
	// ProfileCache trades durability for speed; everything in it can be refetched.
	ProfileCache DatabaseProfile = "cache"
	// ProfileStandard fsyncs at checkpoints; used for saved trees.
	ProfileStandard DatabaseProfile = "standard"
)

// Checkpoint modes accepted by WALCheckpoint.
const (
	CheckpointPassive  = "PASSIVE"
	CheckpointFull     = "FULL"
	CheckpointRestart  = "RESTART"
	CheckpointTruncate = "TRUNCATE"
)

type profileSettings struct {
	pragmas  []string
	maxOpen  int
	maxIdle  int
	lifetime time.Duration
	idleTime time.Duration
}

var profiles = map[DatabaseProfile]profileSettings{
	ProfileCache: {
		pragmas:  []string{"synchronous(OFF)", "auto_vacuum(FULL)", "temp_store(MEMORY)"},
		maxOpen:  10,
		maxIdle:  2,
		lifetime: 24 * time.Hour,
		idleTime: 30 * time.Minute,
	},
	ProfileStandard: {
		pragmas:  []string{"synchronous(NORMAL)", "auto_vacuum(INCREMENTAL)", "temp_store(MEMORY)"},
		maxOpen:  25,
		maxIdle:  5,
		lifetime: 24 * time.Hour,
		idleTime: 30 * time.Minute,
	},
}

// Applied to every profile after its own PRAGMAs.
var commonPragmas = []string{
	"foreign_keys(1)",
	"wal_autocheckpoint(1000)",
	"cache_size(-64000)", // 64MB
}

// DB is an open SQLite database.
type DB struct {
	conn    *sql.DB
	path    string
	profile DatabaseProfile
	name    string
}

// Config describes a database to open.
type Config struct {
	Path    string
	Profile DatabaseProfile // defaults to ProfileStandard
	Name    string          // selects the schema and names the database in errors
}

// New opens a database with the PRAGMAs and pool settings of its profile.
// Paths starting with "file:" are passed through untouched (in-memory
// databases); other paths are made absolute and their directory created.
func New(cfg Config) (*DB, error) {
	if cfg.Profile == "" {
		cfg.Profile = ProfileStandard
	}
	settings, ok := profiles[cfg.Profile]
	if !ok {
		return nil, fmt.Errorf("unknown database profile %q", cfg.Profile)
	}

	if !strings.HasPrefix(cfg.Path, "file:") {
		abs, err := filepath.Abs(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve database path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		cfg.Path = abs
	}

	conn, err := sql.Open("sqlite", buildConnectionString(cfg.Path, cfg.Profile))
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.Name, err)
	}
	conn.SetMaxOpenConns(settings.maxOpen)
	conn.SetMaxIdleConns(settings.maxIdle)
	conn.SetConnMaxLifetime(settings.lifetime)
	conn.SetConnMaxIdleTime(settings.idleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database %s: %w", cfg.Name, err)
	}

	return &DB{
		conn:    conn,
		path:    cfg.Path,
		profile: cfg.Profile,
		name:    cfg.Name,
	}, nil
}

// Open opens a database and applies its schema.
func Open(cfg Config) (*DB, error) {
	db, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// buildConnectionString appends the modernc _pragma parameters for profile.
// WAL journaling is always on.
func buildConnectionString(path string, profile DatabaseProfile) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}

	pragmas := append([]string{"journal_mode(WAL)"}, profiles[profile].pragmas...)
	pragmas = append(pragmas, commonPragmas...)

	var b strings.Builder
	b.WriteString(path)
	for i, p := range pragmas {
		if i == 0 {
			b.WriteString(sep)
		} else {
			b.WriteString("&")
		}
		b.WriteString("_pragma=")
		b.WriteString(p)
	}
	return b.String()
}

// Close closes the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the pool for repositories.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Name returns the database name.
func (db *DB) Name() string {
	return db.name
}

// Profile returns the profile the database was opened with.
func (db *DB) Profile() DatabaseProfile {
	return db.profile
}

// Path returns the absolute file path (or the file: URI).
func (db *DB) Path() string {
	return db.path
}

// Schema returns the embedded schema of a named database.
func Schema(name string) (string, error) {
	file, ok := schemaFiles[name]
	if !ok {
		return "", fmt.Errorf("no schema for database %q", name)
	}
	content, err := schemas.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("failed to read schema %s: %w", file, err)
	}
	return string(content), nil
}

// Migrate applies the embedded schema for this database. Schemas use
// IF NOT EXISTS, so running Migrate again is a no-op. Databases without a
// schema are left alone.
func (db *DB) Migrate() error {
	if _, ok := schemaFiles[db.name]; !ok {
		return nil
	}

	content, err := Schema(db.name)
	if err != nil {
		return err
	}

	return WithTransaction(db.conn, func(tx *sql.Tx) error {
		if _, err := tx.Exec(content); err != nil {
			return fmt.Errorf("failed to execute schema for %s: %w", db.name, err)
		}
		return nil
	})
}

// WithTransaction runs fn in a transaction, committing when it returns nil
// and rolling back on an error or panic. A panic is returned as an error.
func WithTransaction(db *sql.DB, fn func(*sql.Tx) error) (err error) {
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			err = fmt.Errorf("panic in transaction: %v", p)
			return
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = fmt.Errorf("transaction failed: %w (rollback also failed: %v)", err, rbErr)
				return
			}
			err = fmt.Errorf("transaction failed: %w", err)
			return
		}
		if cErr := tx.Commit(); cErr != nil {
			err = fmt.Errorf("failed to commit transaction: %w", cErr)
		}
	}()

	return fn(tx)
}

// HealthCheck pings the database and runs PRAGMA quick_check, which skips
// the index cross-checks of integrity_check and stays cheap enough for the
// health endpoint.
func (db *DB) HealthCheck(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed for %s: %w", db.name, err)
	}

	var result string
	if err := db.conn.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("quick check query failed for %s: %w", db.name, err)
	}
	if result != "ok" {
		return fmt.Errorf("quick check failed for %s: %s", db.name, result)
	}
	return nil
}

// CheckpointResult is the row returned by PRAGMA wal_checkpoint.
type CheckpointResult struct {
	Busy         bool // a reader or writer blocked completion
	Frames       int  // frames in the WAL, -1 when not in WAL mode
	Checkpointed int  // frames moved into the database file
}

// WALCheckpoint runs a checkpoint in the given mode (TRUNCATE when empty).
func (db *DB) WALCheckpoint(mode string) (CheckpointResult, error) {
	if mode == "" {
		mode = CheckpointTruncate
	}
	switch mode {
	case CheckpointPassive, CheckpointFull, CheckpointRestart, CheckpointTruncate:
	default:
		return CheckpointResult{}, fmt.Errorf("invalid checkpoint mode %q", mode)
	}

	var busy int
	var res CheckpointResult
	row := db.conn.QueryRow(fmt.Sprintf("PRAGMA wal_checkpoint(%s)", mode))
	if err := row.Scan(&busy, &res.Frames, &res.Checkpointed); err != nil {
		return CheckpointResult{}, fmt.Errorf("WAL checkpoint failed for %s: %w", db.name, err)
	}
	res.Busy = busy != 0
	return res, nil
}

// Stats describes the database files.
type Stats struct {
	Name          string `json:"name"`
	SizeBytes     int64  `json:"size_bytes"`
	WALSizeBytes  int64  `json:"wal_size_bytes"`
	PageCount     int64  `json:"page_count"`
	PageSize      int64  `json:"page_size"`
	FreelistCount int64  `json:"freelist_count"`
}

// Stats reads file sizes and page counters. Missing files count as zero bytes.
func (db *DB) Stats() (*Stats, error) {
	stats := &Stats{Name: db.name}

	if info, err := os.Stat(db.path); err == nil {
		stats.SizeBytes = info.Size()
	}
	if info, err := os.Stat(db.path + "-wal"); err == nil {
		stats.WALSizeBytes = info.Size()
	}

	for _, p := range []struct {
		pragma string
		dst    *int64
	}{
		{"page_count", &stats.PageCount},
		{"page_size", &stats.PageSize},
		{"freelist_count", &stats.FreelistCount},
	} {
		if err := db.conn.QueryRow("PRAGMA " + p.pragma).Scan(p.dst); err != nil {
			return nil, fmt.Errorf("failed to read %s for %s: %w", p.pragma, db.name, err)
		}
	}
	return stats, nil
}
