// Package apperr defines the error taxonomy shared by the store and its
// callers. Errors are wrapped with fmt.Errorf("...: %w", ...) and matched with
// errors.Is.
package apperr

import "errors"

var (
	// ErrNotFound: the operation referenced a trip id that is not stored.
	ErrNotFound = errors.New("not found")
	// ErrCorruptRecord: stored bytes did not decode to a trip document.
	ErrCorruptRecord = errors.New("corrupt record")
	// ErrStorage: the persistence backend rejected a read or write.
	ErrStorage = errors.New("storage failure")
	// ErrValidation: a field value violates its type or shape.
	ErrValidation = errors.New("validation failure")
	// ErrConflict: the caller's version of the document is stale.
	ErrConflict = errors.New("conflict")
)
