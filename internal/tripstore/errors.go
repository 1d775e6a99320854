package tripstore

import (
	"fmt"

	"github.com/starford/tripbook/internal/apperr"
)

// RecordError reports a stored record that could not be turned into a trip
// document. It matches apperr.ErrCorruptRecord with errors.Is.
type RecordError struct {
	ID  string
	Err error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("tripstore: %s: %s: %v", e.ID, apperr.ErrCorruptRecord, e.Err)
}

func (e *RecordError) Unwrap() []error {
	return []error{apperr.ErrCorruptRecord, e.Err}
}
