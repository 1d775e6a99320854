package tripstore

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v4"

	"github.com/starford/tripbook/internal/apperr"
	"github.com/starford/tripbook/internal/trip"
)

// Session is one editor's view of a trip: a snapshot read when the editor
// opened, written back whole on every Merge. A Session is not safe for
// concurrent use; open one per editor.
type Session struct {
	store *Store
	snap  *trip.Document
}

// Open reads id and returns a session holding that snapshot.
func (s *Store) Open(ctx context.Context, id string) (*Session, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Session{store: s, snap: doc}, nil
}

// ID returns the trip id the session edits.
func (se *Session) ID() string { return se.snap.ID }

// Version returns the version of the current snapshot.
func (se *Session) Version() int64 { return se.snap.Version }

// Document returns a copy of the current snapshot.
func (se *Session) Document() *trip.Document { return se.snap.Clone() }

// Reload replaces the snapshot with the stored record.
func (se *Session) Reload(ctx context.Context) error {
	doc, err := se.store.Get(ctx, se.snap.ID)
	if err != nil {
		return err
	}
	se.snap = doc
	return nil
}

// Merge applies patch to the snapshot and writes the whole snapshot back.
//
// Under PolicyVersionCheck the write fails with apperr.ErrConflict when the
// record changed since the snapshot was taken; the snapshot is left as it was
// so the caller can Reload and try again. Under PolicyLastWriterWins the
// snapshot is written regardless and replaces any field another writer stored
// in the meantime.
func (se *Session) Merge(ctx context.Context, patch trip.Patch) (*trip.Document, error) {
	next := se.snap.Clone()
	if err := patch.Apply(next); err != nil {
		return nil, err
	}
	saved, err := se.store.replace(ctx, next, se.store.policy != PolicyLastWriterWins)
	if err != nil {
		return nil, err
	}
	se.snap = saved
	return saved.Clone(), nil
}

// MergeRetry is Merge that reloads the snapshot and tries again on conflict,
// backing off exponentially within the store's retry bounds. Errors other
// than apperr.ErrConflict are returned immediately.
func (se *Session) MergeRetry(ctx context.Context, patch trip.Patch) (*trip.Document, error) {
	var out *trip.Document
	op := func() error {
		doc, err := se.Merge(ctx, patch)
		if err == nil {
			out = doc
			return nil
		}
		if !errors.Is(err, apperr.ErrConflict) {
			return backoff.Permanent(err)
		}
		if rerr := se.Reload(ctx); rerr != nil {
			return backoff.Permanent(rerr)
		}
		return err
	}
	if err := backoff.Retry(op, se.store.retryPolicy(ctx)); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) retryPolicy(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if s.retry.InitialInterval > 0 {
		eb.InitialInterval = s.retry.InitialInterval
	}
	eb.MaxElapsedTime = s.retry.MaxElapsed
	var b backoff.BackOff = eb
	if s.retry.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, s.retry.MaxAttempts)
	}
	return backoff.WithContext(b, ctx)
}
