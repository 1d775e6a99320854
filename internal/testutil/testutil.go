// Package testutil provides shared test helpers for setting up backends and
// trip stores.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/starford/tripbook/internal/kv"
)

// TestSQLite opens a SQLite backend in a temporary directory that is cleaned
// up with the test.
func TestSQLite(t *testing.T) *kv.SQLite {
	t.Helper()
	db, err := kv.OpenSQLite(filepath.Join(t.TempDir(), "trips.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestFS creates a filesystem backend rooted at a fresh temporary directory.
func TestFS(t *testing.T) *kv.FS {
	t.Helper()
	fs, err := kv.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return fs
}
