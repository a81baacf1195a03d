package testing

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/teranos/pressline/db"
)

// CreateTestDB creates an in-memory SQLite test database without schema.
// Automatically registers cleanup via t.Cleanup().
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	// Each pooled connection would otherwise get its own empty in-memory database
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("Failed to enable foreign keys: %v", err)
	}

	t.Cleanup(func() {
		conn.Close()
	})

	return conn
}

// CreateMigratedTestDB creates a file-backed SQLite database in t.TempDir() with
// all migrations applied. File-backed so concurrent claims use real pooled connections.
func CreateMigratedTestDB(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := db.OpenWithMigrations(filepath.Join(t.TempDir(), "pressline.db"), nil)
	if err != nil {
		t.Fatalf("Failed to create migrated test database: %v", err)
	}

	t.Cleanup(func() {
		conn.Close()
	})

	return conn
}
