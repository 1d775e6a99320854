// Package kv provides the key-value backends trip documents are persisted in.
// A backend stores opaque byte values under string keys and knows nothing
// about trips.
package kv

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// ErrNotFound is returned by Get when the key is not stored.
var ErrNotFound = errors.New("kv: key not found")

// Backend is the interface for key-value persistence.
type Backend interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set durably replaces the value stored under key.
	Set(ctx context.Context, key string, value []byte) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
	// Keys returns every stored key starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
	// Close releases backend resources.
	Close() error
}

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidKey rejects keys that are empty or contain anything besides letters,
// digits, '_' and '-'. Keys map directly onto file names in the FS backend.
func ValidKey(key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("kv: invalid key %q", key)
	}
	return nil
}
