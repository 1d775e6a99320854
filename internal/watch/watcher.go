// Package watch reports trip records changed on disk by something other than
// this process, such as a sync client or a hand edit of the data directory.
package watch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/tripbook/internal/checksum"
	"github.com/starford/tripbook/internal/kv"
	"github.com/starford/tripbook/internal/trip"
)

// DefaultDebounce is how long the watcher waits after the last event on a
// key before looking at it.
const DefaultDebounce = 150 * time.Millisecond

// Callback is called for every external change.
// kind is one of "created", "updated", "deleted".
type Callback func(kind string, id string)

// Watcher follows the data directory of a kv.FS backend.
type Watcher struct {
	store    *kv.FS
	logger   *slog.Logger
	cb       Callback
	debounce time.Duration

	// known holds the trip ids present on disk as far as the watcher knows.
	known map[string]bool
}

// New creates a watcher for store. cb may be nil.
func New(store *kv.FS, logger *slog.Logger, cb Callback) *Watcher {
	return &Watcher{
		store:    store,
		logger:   logger,
		cb:       cb,
		debounce: DefaultDebounce,
		known:    make(map[string]bool),
	}
}

// SetDebounce overrides DefaultDebounce. Call before Run.
func (w *Watcher) SetDebounce(d time.Duration) { w.debounce = d }

// Run processes file events until ctx is cancelled.
//
// Events are collected per key and examined once the key has been quiet for
// the debounce interval, so the temp file and rename of an atomic write
// produce a single report. Writes and removals made through the same kv.FS
// value are recognised and not reported.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(w.store.Root()); err != nil {
		return err
	}
	keys, err := w.store.Keys(ctx, trip.KeyPrefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		w.known[k] = true
	}

	w.logger.Info("watcher: started", slog.String("root", w.store.Root()), slog.Int("trips", len(keys)))

	pending := make(map[string]struct{})
	var timer *time.Timer
	var timerCh <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(w.debounce)
			timerCh = timer.C
		} else {
			timer.Reset(w.debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			w.logger.Info("watcher: stopped")
			return nil

		case <-timerCh:
			for key := range pending {
				w.examine(ctx, key)
			}
			clear(pending)

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			key, ok := w.store.KeyForPath(ev.Name)
			if !ok || !strings.HasPrefix(key, trip.KeyPrefix) {
				continue
			}
			pending[key] = struct{}{}
			schedule()

		case watchErr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// examine compares the current state of key with what the watcher last knew
// and reports the difference.
func (w *Watcher) examine(ctx context.Context, key string) {
	ours := w.store.ConsumeRemoval(key)
	data, err := w.store.Get(ctx, key)
	switch {
	case errors.Is(err, kv.ErrNotFound):
		wasKnown := w.known[key]
		delete(w.known, key)
		if !wasKnown || ours {
			return
		}
		w.report("deleted", key)

	case err != nil:
		w.logger.Warn("watcher: read failed", slog.String("id", key), slog.String("error", err.Error()))

	default:
		wasKnown := w.known[key]
		w.known[key] = true
		if checksum.Matches(data, w.store.LastWritten(key)) {
			return
		}
		if wasKnown {
			w.report("updated", key)
		} else {
			w.report("created", key)
		}
	}
}

func (w *Watcher) report(kind, key string) {
	w.logger.Debug("watcher: external change", slog.String("id", key), slog.String("op", kind))
	if w.cb != nil {
		w.cb(kind, key)
	}
}
