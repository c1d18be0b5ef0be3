package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const testDBURLKey = "OPENCLAW_TEST_DATABASE_URL"

func getTestDatabaseURL(t *testing.T) string {
	t.Helper()
	connStr := os.Getenv(testDBURLKey)
	if connStr == "" {
		t.Skipf("set %s to a dedicated test database", testDBURLKey)
	}
	return connStr
}

// setupTestDatabase migrates a clean schema and empties approval_requests so
// each test starts from zero rows.
func setupTestDatabase(t *testing.T, connStr string) *sql.DB {
	t.Helper()
	dir, err := filepath.Abs(filepath.Join("..", "..", "migrations"))
	require.NoError(t, err)
	require.NoError(t, Migrate(connStr, dir))

	db, err := Open(context.Background(), connStr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec("TRUNCATE approval_requests")
	require.NoError(t, err)
	return db
}
