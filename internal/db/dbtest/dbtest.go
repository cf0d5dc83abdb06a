// Package dbtest opens throwaway migrated databases for package tests.
package dbtest

import (
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/asd12288/meydacrm/internal/db"
)

// Open returns a migrated SQLite database in a temp dir, closed on cleanup.
func Open(t testing.TB) *sqlx.DB {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		if err := d.Close(); err != nil {
			t.Errorf("close db: %v", err)
		}
	})
	return d
}

// Profile inserts an active profile with an unusable password hash and
// returns its ID.
func Profile(t testing.TB, d *sqlx.DB, username, role string) int64 {
	t.Helper()
	var id int64
	err := d.QueryRowx(d.Rebind(
		"INSERT INTO profiles (username, display_name, role, password_hash) VALUES (?, ?, ?, ?) RETURNING id"),
		username, username, role, "!",
	).Scan(&id)
	if err != nil {
		t.Fatalf("insert profile %s: %v", username, err)
	}
	return id
}
