package kv

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/starford/tripbook/internal/checksum"
)

const (
	fileExt   = ".json"
	tmpPrefix = ".tripbook-tmp-"
)

// FS implements Backend with one JSON file per key in a single directory.
type FS struct {
	root string // absolute path to the data directory

	mu      sync.Mutex
	written map[string]string   // key -> checksum of the last value this process wrote
	removed map[string]struct{} // keys this process removed, until consumed
}

// NewFS creates an FS backend rooted at dir. The directory must already exist.
func NewFS(dir string) (*FS, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("kv: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("kv: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("kv: root is not a directory: %s", abs)
	}
	return &FS{root: abs, written: make(map[string]string), removed: make(map[string]struct{})}, nil
}

// Root returns the absolute data directory.
func (f *FS) Root() string { return f.root }

// path maps a key to its file. ValidKey guarantees the result stays in root.
func (f *FS) path(key string) (string, error) {
	if err := ValidKey(key); err != nil {
		return "", err
	}
	return filepath.Join(f.root, key+fileExt), nil
}

// KeyForPath is the inverse of the key-to-file mapping. It reports false for
// temp files, other extensions and files outside root.
func (f *FS) KeyForPath(p string) (string, bool) {
	if filepath.Dir(p) != f.root {
		return "", false
	}
	name := filepath.Base(p)
	if strings.HasPrefix(name, tmpPrefix) || !strings.HasSuffix(name, fileExt) {
		return "", false
	}
	key := strings.TrimSuffix(name, fileExt)
	if ValidKey(key) != nil {
		return "", false
	}
	return key, true
}

// LastWritten returns the checksum of the value this process last wrote
// under key, or "" if it never wrote or has since removed it.
func (f *FS) LastWritten(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written[key]
}

// ConsumeRemoval reports whether this process removed key since the last
// call for that key, and forgets the removal.
func (f *FS) ConsumeRemoval(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.removed[key]
	delete(f.removed, key)
	return ok
}

// Get returns the bytes stored under key.
func (f *FS) Get(_ context.Context, key string) ([]byte, error) {
	p, err := f.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("kv: read %s: %w", key, err)
	}
	return data, nil
}

// Set atomically writes value: tmp file → fsync → rename.
func (f *FS) Set(_ context.Context, key string, value []byte) error {
	p, err := f.path(key)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(f.root, tmpPrefix+"*")
	if err != nil {
		return fmt.Errorf("kv: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(value); err != nil {
		return fmt.Errorf("kv: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("kv: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("kv: close temp: %w", err)
	}

	// Record before the rename so a watcher never sees the new file without
	// knowing we wrote it.
	f.mu.Lock()
	prev, hadPrev := f.written[key]
	f.written[key] = checksum.Sum(value)
	f.mu.Unlock()

	if err := os.Rename(tmpName, p); err != nil {
		f.mu.Lock()
		if hadPrev {
			f.written[key] = prev
		} else {
			delete(f.written, key)
		}
		f.mu.Unlock()
		return fmt.Errorf("kv: rename: %w", err)
	}
	success = true
	return nil
}

// Remove deletes the file for key. A missing file is not an error.
func (f *FS) Remove(_ context.Context, key string) error {
	p, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("kv: delete %s: %w", key, err)
	}
	f.mu.Lock()
	delete(f.written, key)
	f.removed[key] = struct{}{}
	f.mu.Unlock()
	return nil
}

// Keys lists stored keys with the given prefix in lexical order. The file
// system keeps no insertion order.
func (f *FS) Keys(_ context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return nil, fmt.Errorf("kv: list: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		key, ok := f.KeyForPath(filepath.Join(f.root, e.Name()))
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		out = append(out, key)
	}
	sort.Strings(out)
	return out, nil
}

// Close is a no-op for the file system backend.
func (f *FS) Close() error { return nil }
