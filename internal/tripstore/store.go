// Package tripstore persists trip documents in a key-value backend and merges
// single-field edits into them.
//
// Every trip is stored as one blob under its id. A field edit reads the whole
// blob, replaces one top-level field and writes the whole blob back, so two
// editors working from different snapshots of the same trip can overwrite
// each other. The store guards against that with a per-document version: the
// server side MergeField is atomic, and edit sessions (see Session) either
// fail with apperr.ErrConflict or, under PolicyLastWriterWins, reproduce the
// legacy clobbering behaviour.
package tripstore

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/tripbook/internal/apperr"
	"github.com/starford/tripbook/internal/kv"
	"github.com/starford/tripbook/internal/trip"
)

// maxMintAttempts bounds how often Create re-mints an id that is already taken.
const maxMintAttempts = 8

const lockStripes = 64

// EventKind describes a successful write.
type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
	EventDeleted EventKind = "deleted"
)

// Notifier is called after every successful create, merge or delete.
type Notifier func(kind EventKind, id string)

// Policy decides what a Session does when its snapshot is stale.
type Policy string

const (
	// PolicyVersionCheck rejects stale session writes with apperr.ErrConflict.
	PolicyVersionCheck Policy = "version_check"
	// PolicyLastWriterWins writes the stale snapshot anyway, dropping
	// whatever other writers stored in between.
	PolicyLastWriterWins Policy = "last_writer_wins"
)

// Policies lists every supported policy.
var Policies = []Policy{PolicyVersionCheck, PolicyLastWriterWins}

// RetryConfig bounds Session.MergeRetry.
type RetryConfig struct {
	MaxAttempts     uint64
	InitialInterval time.Duration
	MaxElapsed      time.Duration
}

// DefaultRetry is used when no WithRetry option is given.
var DefaultRetry = RetryConfig{
	MaxAttempts:     5,
	InitialInterval: 10 * time.Millisecond,
	MaxElapsed:      2 * time.Second,
}

// Option configures a Store.
type Option func(*Store)

// WithNotifier registers fn to be told about every successful write.
func WithNotifier(fn Notifier) Option {
	return func(s *Store) { s.notify = fn }
}

// WithPolicy sets the conflict policy used by sessions. An empty policy
// keeps the default.
func WithPolicy(p Policy) Option {
	return func(s *Store) {
		if p != "" {
			s.policy = p
		}
	}
}

// WithRetry sets the retry bounds used by Session.MergeRetry.
func WithRetry(cfg RetryConfig) Option {
	return func(s *Store) { s.retry = cfg }
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithIDGenerator replaces trip.NewID.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// Store is the trip record store. It is safe for concurrent use.
type Store struct {
	backend kv.Backend
	policy  Policy
	retry   RetryConfig
	notify  Notifier
	logger  *slog.Logger
	newID   func() string
	locks   [lockStripes]sync.Mutex
}

// New creates a Store on top of backend.
func New(backend kv.Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		policy:  PolicyVersionCheck,
		retry:   DefaultRetry,
		logger:  slog.Default(),
		newID:   trip.NewID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy reports the conflict policy sessions use.
func (s *Store) Policy() Policy { return s.policy }

// lock serializes writers of one id. Ids hashing to the same stripe share a
// mutex.
func (s *Store) lock(id string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	mu := &s.locks[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

// Create stores a new trip built from the empty template and patches and
// returns its id. It never overwrites an existing record.
func (s *Store) Create(ctx context.Context, patches ...trip.Patch) (string, error) {
	draft := trip.New("")
	for _, p := range patches {
		if err := p.Apply(draft); err != nil {
			return "", err
		}
	}

	for range maxMintAttempts {
		id := s.newID()
		if err := trip.ValidateID(id); err != nil {
			return "", fmt.Errorf("tripstore: create: %w", err)
		}
		created, err := s.createAs(ctx, id, draft)
		if err != nil {
			return "", err
		}
		if created {
			s.logger.Debug("tripstore: created", slog.String("id", id))
			s.emit(EventCreated, id)
			return id, nil
		}
		s.logger.Warn("tripstore: id collision, minting again", slog.String("id", id))
	}
	return "", fmt.Errorf("tripstore: create: no free id after %d attempts: %w", maxMintAttempts, apperr.ErrStorage)
}

func (s *Store) createAs(ctx context.Context, id string, draft *trip.Document) (bool, error) {
	unlock := s.lock(id)
	defer unlock()

	_, err := s.backend.Get(ctx, id)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, kv.ErrNotFound):
		return false, fmt.Errorf("tripstore: create %s: %w: %w", id, apperr.ErrStorage, err)
	}

	doc := draft.Clone()
	doc.ID = id
	doc.Version = 1
	if err := s.save(ctx, doc); err != nil {
		return false, err
	}
	return true, nil
}

// Get returns the stored trip. A missing id yields apperr.ErrNotFound and
// undecodable bytes a *RecordError.
func (s *Store) Get(ctx context.Context, id string) (*trip.Document, error) {
	if err := trip.ValidateID(id); err != nil {
		return nil, err
	}
	return s.load(ctx, id)
}

type mergeOptions struct {
	ifVersion *int64
	create    bool
}

// MergeOption adjusts a single MergeField call.
type MergeOption func(*mergeOptions)

// IfVersion makes MergeField fail with apperr.ErrConflict unless the stored
// version equals v. A trip that does not exist yet has version 0.
func IfVersion(v int64) MergeOption {
	return func(o *mergeOptions) { o.ifVersion = &v }
}

// CreateIfMissing lets MergeField start from the empty template when id is not
// stored yet.
func CreateIfMissing() MergeOption {
	return func(o *mergeOptions) { o.create = true }
}

// MergeField replaces one top-level field of the stored trip and returns the
// document as written. Other fields keep their stored values.
func (s *Store) MergeField(ctx context.Context, id string, patch trip.Patch, opts ...MergeOption) (*trip.Document, error) {
	var o mergeOptions
	for _, opt := range opts {
		opt(&o)
	}
	if err := trip.ValidateID(id); err != nil {
		return nil, err
	}
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	unlock := s.lock(id)
	defer unlock()

	cur, err := s.load(ctx, id)
	kind := EventUpdated
	switch {
	case errors.Is(err, apperr.ErrNotFound) && o.create:
		cur = trip.New(id)
		kind = EventCreated
	case err != nil:
		return nil, err
	}
	if o.ifVersion != nil && *o.ifVersion != cur.Version {
		return nil, fmt.Errorf("tripstore: merge %s: have version %d, stored %d: %w",
			id, *o.ifVersion, cur.Version, apperr.ErrConflict)
	}

	next := cur.Clone()
	if err := patch.Apply(next); err != nil {
		return nil, err
	}
	next.Version = cur.Version + 1
	if err := s.save(ctx, next); err != nil {
		return nil, err
	}
	s.logger.Debug("tripstore: merged field",
		slog.String("id", id),
		slog.String("field", string(patch.Field())),
		slog.Int64("version", next.Version),
	)
	s.emit(kind, id)
	return next, nil
}

// List yields every stored trip in backend key order. A record that cannot be
// decoded yields a *RecordError and enumeration continues with the next id;
// a failure to enumerate keys yields a single error and stops.
func (s *Store) List(ctx context.Context) iter.Seq2[*trip.Document, error] {
	return func(yield func(*trip.Document, error) bool) {
		keys, err := s.backend.Keys(ctx, trip.KeyPrefix)
		if err != nil {
			yield(nil, fmt.Errorf("tripstore: list: %w: %w", apperr.ErrStorage, err))
			return
		}
		for _, key := range keys {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if err := trip.ValidateID(key); err != nil {
				if !yield(nil, &RecordError{ID: key, Err: err}) {
					return
				}
				continue
			}
			doc, err := s.load(ctx, key)
			if errors.Is(err, apperr.ErrNotFound) {
				// removed after Keys returned
				continue
			}
			if !yield(doc, err) {
				return
			}
		}
	}
}

// Delete removes the trip. Deleting an id that is not stored succeeds.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := trip.ValidateID(id); err != nil {
		return err
	}
	unlock := s.lock(id)
	defer unlock()

	_, err := s.backend.Get(ctx, id)
	switch {
	case errors.Is(err, kv.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("tripstore: delete %s: %w: %w", id, apperr.ErrStorage, err)
	}
	if err := s.backend.Remove(ctx, id); err != nil {
		return fmt.Errorf("tripstore: delete %s: %w: %w", id, apperr.ErrStorage, err)
	}
	s.logger.Debug("tripstore: deleted", slog.String("id", id))
	s.emit(EventDeleted, id)
	return nil
}

// replace writes snap over the stored record of snap.ID. With checkVersion
// set the stored version must still equal snap.Version.
func (s *Store) replace(ctx context.Context, snap *trip.Document, checkVersion bool) (*trip.Document, error) {
	unlock := s.lock(snap.ID)
	defer unlock()

	cur, err := s.load(ctx, snap.ID)
	if err != nil {
		return nil, err
	}
	if checkVersion && cur.Version != snap.Version {
		return nil, fmt.Errorf("tripstore: write %s: snapshot version %d, stored %d: %w",
			snap.ID, snap.Version, cur.Version, apperr.ErrConflict)
	}
	if cur.Version != snap.Version {
		s.logger.Warn("tripstore: overwriting newer record",
			slog.String("id", snap.ID),
			slog.Int64("snapshot_version", snap.Version),
			slog.Int64("stored_version", cur.Version),
		)
	}

	next := snap.Clone()
	next.Version = cur.Version + 1
	if err := s.save(ctx, next); err != nil {
		return nil, err
	}
	s.emit(EventUpdated, snap.ID)
	return next, nil
}

func (s *Store) load(ctx context.Context, id string) (*trip.Document, error) {
	data, err := s.backend.Get(ctx, id)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, fmt.Errorf("tripstore: trip %s: %w", id, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("tripstore: read %s: %w: %w", id, apperr.ErrStorage, err)
	}
	doc, err := trip.Decode(data)
	if err != nil {
		return nil, &RecordError{ID: id, Err: err}
	}
	// Records written by the first clients carry no id; the key is
	// authoritative.
	doc.ID = id
	return doc, nil
}

func (s *Store) save(ctx context.Context, doc *trip.Document) error {
	data, err := trip.Encode(doc)
	if err != nil {
		return fmt.Errorf("tripstore: write %s: %w: %w", doc.ID, apperr.ErrStorage, err)
	}
	if err := s.backend.Set(ctx, doc.ID, data); err != nil {
		return fmt.Errorf("tripstore: write %s: %w: %w", doc.ID, apperr.ErrStorage, err)
	}
	return nil
}

func (s *Store) emit(kind EventKind, id string) {
	if s.notify != nil {
		s.notify(kind, id)
	}
}
