package controlfile

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDefault is the default debounce interval for file events. Atomic
// replacement produces a short burst (create of the temp file, rename over
// the target); debouncing collapses the burst into one status report.
const debounceDefault = 100 * time.Millisecond

// Watcher observes the control file and reports status transitions to a
// handler. It is controller-side tooling only: the engine never watches the
// file, it re-reads it on every decision.
type Watcher struct {
	path     string
	handler  func(Status)
	debounce time.Duration
}

// NewWatcher creates a watcher for the control file at path. The handler is
// invoked with the probed status after each settled change.
func NewWatcher(path string, handler func(Status)) *Watcher {
	return &Watcher{
		path:     path,
		handler:  handler,
		debounce: debounceDefault,
	}
}

// Run watches the control file until ctx is cancelled. The watch is placed on
// the parent directory because the file itself appears and disappears; rename
// into place and removal both surface as directory events.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	// Single debounce timer, reset on each relevant event. Initialized as
	// stopped; the first event starts it.
	debounceTimer := time.NewTimer(w.debounce)
	debounceTimer.Stop()
	defer debounceTimer.Stop()

	// Report the starting state so the handler sees the initial
	// active/inactive condition, not just transitions.
	w.handler(Probe(w.path))

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-debounceTimer.C:
			w.handler(Probe(w.path))

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != w.path {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}

			if !debounceTimer.Stop() {
				select {
				case <-debounceTimer.C:
				default:
				}
			}
			debounceTimer.Reset(w.debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			_ = err
		}
	}
}
