// Package clientdata caches provider lookups that are not time series
// (FRED series info and search results, the BEA table list) as JSON blobs
// with expiration timestamps, for cache-first behaviour in the clients.
package clientdata

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"
)

// Table names in client_data.db. Every table has the columns
// key, data, fetched_at and expires_at (unix seconds).
const (
	TableFREDSeriesInfo = "fred_series_info"
	TableFREDSearch     = "fred_search"
	TableBEATables      = "bea_tables"
)

// AllTables lists the tables in client_data.db.
var AllTables = []string{
	TableFREDSeriesInfo,
	TableFREDSearch,
	TableBEATables,
}

// Repository reads and writes lookup documents.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository creates a repository on the client_data database.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// sqlFor fills the table name into a statement template. Table names
// cannot be bound as parameters, so anything outside AllTables is refused.
func sqlFor(table, format string) (string, error) {
	if !slices.Contains(AllTables, table) {
		return "", fmt.Errorf("invalid table name: %s", table)
	}
	return fmt.Sprintf(format, table), nil
}

// Store upserts data as JSON, expiring ttl from now.
func (r *Repository) Store(table, key string, data interface{}, ttl time.Duration) error {
	stmt, err := sqlFor(table, "INSERT OR REPLACE INTO %s (key, data, fetched_at, expires_at) VALUES (?, ?, ?, ?)")
	if err != nil {
		return err
	}
	doc, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data for %s: %w", table, err)
	}

	now := r.now()
	if _, err := r.db.Exec(stmt, key, string(doc), now.Unix(), now.Add(ttl).Unix()); err != nil {
		return fmt.Errorf("failed to store %s/%s: %w", table, key, err)
	}
	return nil
}

// GetIfFresh returns the document for key while it has not expired.
// A miss or an expired row returns nil, nil.
func (r *Repository) GetIfFresh(table, key string) (json.RawMessage, error) {
	return r.lookup(table, "SELECT data FROM %s WHERE key = ? AND expires_at > ?", key, r.now().Unix())
}

// Get returns the document for key whether or not it has expired.
func (r *Repository) Get(table, key string) (json.RawMessage, error) {
	return r.lookup(table, "SELECT data FROM %s WHERE key = ?", key)
}

func (r *Repository) lookup(table, format string, args ...any) (json.RawMessage, error) {
	stmt, err := sqlFor(table, format)
	if err != nil {
		return nil, err
	}
	var doc string
	switch err := r.db.QueryRow(stmt, args...).Scan(&doc); {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read %s: %w", table, err)
	}
	return json.RawMessage(doc), nil
}

// Delete removes one document.
func (r *Repository) Delete(table, key string) error {
	_, err := r.exec(table, "DELETE FROM %s WHERE key = ?", key)
	return err
}

// DeleteExpired removes rows whose expiry has passed and reports how many.
func (r *Repository) DeleteExpired(table string) (int64, error) {
	return r.exec(table, "DELETE FROM %s WHERE expires_at < ?", r.now().Unix())
}

func (r *Repository) exec(table, format string, args ...any) (int64, error) {
	stmt, err := sqlFor(table, format)
	if err != nil {
		return 0, err
	}
	res, err := r.db.Exec(stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count affected rows in %s: %w", table, err)
	}
	return n, nil
}

// Count returns the number of rows per table, fresh or not.
func (r *Repository) Count() (map[string]int64, error) {
	counts := make(map[string]int64, len(AllTables))
	for _, table := range AllTables {
		stmt, _ := sqlFor(table, "SELECT COUNT(*) FROM %s")
		var n int64
		if err := r.db.QueryRow(stmt).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}
