// Package watch provides the fsnotify-backed notification source for the
// mirror engine. fsnotify does not watch directories recursively, so the
// watcher walks the root once and adds every subdirectory, then keeps the
// watch set current by adding directories as they appear.
package watch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"pixelgardenlabs.io/pgl-mirror/pkg/mirror"
	"pixelgardenlabs.io/pgl-mirror/pkg/plog"
)

// eventBuffer absorbs bursts between the OS delivery and the engine's
// event loop.
const eventBuffer = 256

// Option tunes watcher construction.
type Option func(*Watcher)

// WithSkipDir installs a predicate over directory basenames; matching
// directories are never added to the watch set, so excluded subtrees cost
// no inotify watches.
func WithSkipDir(skip func(name string) bool) Option {
	return func(w *Watcher) { w.skipDir = skip }
}

// Watcher subscribes to raw filesystem notifications for a root path,
// recursively, and normalizes them into mirror events. It implements
// mirror.Notifier.
type Watcher struct {
	root    string
	fsw     *fsnotify.Watcher
	skipDir func(name string) bool

	events chan mirror.Event
	errs   chan error

	closeOnce sync.Once
	closeErr  error
}

var _ mirror.Notifier = (*Watcher)(nil)

// New establishes the subscription for root and all its current
// subdirectories and starts delivering events.
func New(root string, opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem watcher: %w", err)
	}

	w := &Watcher{
		root:   root,
		fsw:    fsw,
		events: make(chan mirror.Event, eventBuffer),
		errs:   make(chan error, 1),
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := w.addTree(root); err != nil {
		// Release the watches added before the failure.
		if closeErr := fsw.Close(); closeErr != nil {
			plog.Warn("Failed to close filesystem watcher", "error", closeErr)
		}
		return nil, err
	}

	go w.translate()
	return w, nil
}

// Events yields the normalized notification stream.
func (w *Watcher) Events() <-chan mirror.Event { return w.events }

// Errors yields non-fatal errors from the underlying mechanism.
func (w *Watcher) Errors() <-chan error { return w.errs }

// Close stops the subscription. The event and error channels are closed
// once the in-flight deliveries have drained.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		w.closeErr = w.fsw.Close()
	})
	return w.closeErr
}

// addTree adds root and every non-skipped subdirectory beneath it to the
// watch set.
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return fmt.Errorf("failed to watch %s: %w", root, err)
			}
			// A subtree that vanished mid-walk produces its own events.
			plog.Warn("Error accessing path while adding watches, skipping", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.skipDir != nil && w.skipDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			if path == root {
				return fmt.Errorf("failed to watch %s: %w", root, err)
			}
			plog.Warn("Failed to add watch, subtree changes will be missed", "path", path, "error", err)
			return filepath.SkipDir
		}
		return nil
	})
}

// translate converts the raw fsnotify stream into normalized mirror events
// until the underlying watcher is closed.
func (w *Watcher) translate() {
	defer close(w.events)
	defer close(w.errs)

	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleRaw(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			default:
				plog.Warn("Watcher error dropped, consumer is behind", "error", err)
			}
		}
	}
}

func (w *Watcher) handleRaw(ev fsnotify.Event) {
	switch {
	case ev.Op.Has(fsnotify.Create):
		// New directories must join the watch set before their own
		// children change. A directory moved into place brings a whole
		// populated subtree; the engine reconciles it, the watcher only
		// needs the watches.
		if info, err := os.Lstat(ev.Name); err == nil && info.IsDir() {
			if w.skipDir == nil || !w.skipDir(filepath.Base(ev.Name)) {
				if err := w.addTree(ev.Name); err != nil {
					plog.Warn("Failed to watch new directory", "path", ev.Name, "error", err)
				}
			}
		}
		w.events <- mirror.Event{Kind: mirror.EventCreated, Path: ev.Name}

	case ev.Op.Has(fsnotify.Write):
		w.events <- mirror.Event{Kind: mirror.EventModified, Path: ev.Name}

	case ev.Op.Has(fsnotify.Remove):
		w.events <- mirror.Event{Kind: mirror.EventDeleted, Path: ev.Name}

	case ev.Op.Has(fsnotify.Rename):
		// fsnotify reports a rename as a bare event for the old path; the
		// new location arrives as a separate Create. Without a pairable
		// endpoint the old entry is simply gone.
		w.events <- mirror.Event{Kind: mirror.EventRenamed, Path: ev.Name}

	case ev.Op.Has(fsnotify.Chmod):
		// Metadata-only changes carry no content to mirror.
	}
}
