// Package storagetest opens throwaway databases for package tests.
package storagetest

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/elbethel/academy/pkg/storage"
)

// OpenSQLite returns an in-memory SQLite database with the full schema applied.
// The database is closed when the test ends.
func OpenSQLite(t testing.TB) *sql.DB {
	t.Helper()
	ctx := context.Background()
	db, dialect, err := storage.Open(ctx, storage.Config{Driver: "sqlite3", URL: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, storage.EnsureSchema(ctx, db, dialect))
	return db
}
