// Package dbtest opens migrated in-memory SQLite databases for tests.
package dbtest

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/uuid"

	"github.com/mohans/snaptutor/internal/database"
)

// Open returns a fresh, migrated database private to the test.
func Open(t testing.TB) (*sql.DB, database.Dialect) {
	t.Helper()
	ctx := context.Background()
	db, dialect, err := database.Open(ctx, "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := database.Migrate(ctx, db, dialect); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return db, dialect
}
