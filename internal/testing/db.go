// Package testing provides fixtures and fakes shared by the package tests.
package testing

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/aristath/macroecon/internal/database"
)

// NewTestDB opens a file-backed database under t.TempDir() with the named
// embedded schema applied ("catalog" or "client_data"). The database is
// closed when the test ends.
func NewTestDB(t *testing.T, name string) *database.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), fmt.Sprintf("test_%s.db", name))
	db, err := database.Open(database.Config{
		Path:    path,
		Profile: database.ProfileStandard,
		Name:    name,
	})
	if err != nil {
		t.Fatalf("Failed to create test database %s: %v", name, err)
	}

	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			// cleanup should not fail the test
			t.Logf("Warning: Failed to close test database %s: %v", name, err)
		}
	})
	return db
}
