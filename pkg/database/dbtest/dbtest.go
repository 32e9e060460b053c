// Package dbtest opens migrated in-memory databases for tests.
package dbtest

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/jordanlanch/entityhub/pkg/database"
)

// Open returns a fresh, migrated in-memory SQLite database that is closed
// when the test ends.
func Open(t testing.TB) *database.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_fk=1", uuid.NewString())
	db, err := database.Open(dsn, database.DefaultPoolConfig(), nil)
	if err != nil {
		t.Fatalf("failed opening test database: %v", err)
	}
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("failed migrating test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
