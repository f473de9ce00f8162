package store

import (
	"context"
	"testing"

	"github.com/dukerupert/heirloom/internal/database"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// setupFamily creates a family owned by user "u-owner" and returns its id.
func setupFamily(t *testing.T, db *database.DB, name string) string {
	t.Helper()
	f, err := NewFamilyStore(db).Create(context.Background(), name, "u-owner")
	if err != nil {
		t.Fatalf("create family: %v", err)
	}
	return f.ID
}
