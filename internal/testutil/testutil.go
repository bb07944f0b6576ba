// Package testutil provides testing utilities.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/asteroid-belt/fieldsync/internal/db"
)

// SkipIntegrationTests skips the test unless FIELDSYNC_TEST_REMOTE_URL
// points at a live sync service.
//
// Run integration tests with: FIELDSYNC_TEST_REMOTE_URL=http://... go test ./...
func SkipIntegrationTests(t *testing.T) string {
	t.Helper()
	url := os.Getenv("FIELDSYNC_TEST_REMOTE_URL")
	if url == "" {
		t.Skip("Skipping integration test (set FIELDSYNC_TEST_REMOTE_URL to run)")
	}
	return url
}

// NewDB opens an isolated database in a temp dir, closed on cleanup.
func NewDB(t *testing.T) *db.DB {
	t.Helper()

	database, err := db.New(db.DefaultConfig(filepath.Join(t.TempDir(), "test.db")))
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	return database
}
