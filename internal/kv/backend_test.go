package kv

import (
	"context"
	"errors"
	"os"
	"testing"
)

// backends returns one instance of every Backend implementation.
func backends(t *testing.T) map[string]Backend {
	t.Helper()

	f, err := os.CreateTemp("", "tripbook-kv-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })
	db, err := OpenSQLite(f.Name())
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return map[string]Backend{
		"fs":     tempFS(t),
		"sqlite": db,
		"memory": NewMemory(),
	}
}

func TestBackendContract(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, err := b.Get(ctx, "trip_missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get missing = %v, want ErrNotFound", err)
			}

			if err := b.Set(ctx, "trip_1", []byte("one")); err != nil {
				t.Fatalf("Set: %v", err)
			}
			if err := b.Set(ctx, "trip_1", []byte("uno")); err != nil {
				t.Fatalf("overwrite: %v", err)
			}
			got, err := b.Get(ctx, "trip_1")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if string(got) != "uno" {
				t.Errorf("value = %q, want uno", got)
			}

			if err := b.Remove(ctx, "trip_1"); err != nil {
				t.Fatalf("Remove: %v", err)
			}
			if err := b.Remove(ctx, "trip_1"); err != nil {
				t.Fatalf("second Remove should be a no-op: %v", err)
			}
			if _, err := b.Get(ctx, "trip_1"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get after remove = %v", err)
			}
		})
	}
}

func TestBackendKeysByPrefix(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, k := range []string{"trip_a", "settings", "trip_b", "tripx"} {
				if err := b.Set(ctx, k, []byte("v")); err != nil {
					t.Fatalf("Set %s: %v", k, err)
				}
			}
			keys, err := b.Keys(ctx, "trip_")
			if err != nil {
				t.Fatalf("Keys: %v", err)
			}
			if len(keys) != 2 {
				t.Fatalf("keys = %v, want 2 trip_ keys", keys)
			}
			seen := map[string]bool{}
			for _, k := range keys {
				seen[k] = true
			}
			if !seen["trip_a"] || !seen["trip_b"] {
				t.Errorf("keys = %v", keys)
			}
		})
	}
}

func TestInsertionOrderBackends(t *testing.T) {
	all := backends(t)
	for _, name := range []string{"sqlite", "memory"} {
		b := all[name]
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, k := range []string{"trip_z", "trip_a", "trip_m"} {
				_ = b.Set(ctx, k, []byte("v"))
			}
			_ = b.Set(ctx, "trip_z", []byte("v2"))

			keys, err := b.Keys(ctx, "trip_")
			if err != nil {
				t.Fatalf("Keys: %v", err)
			}
			want := []string{"trip_z", "trip_a", "trip_m"}
			for i := range want {
				if keys[i] != want[i] {
					t.Fatalf("keys = %v, want %v", keys, want)
				}
			}
		})
	}
}
