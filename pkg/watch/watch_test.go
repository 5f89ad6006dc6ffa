package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pixelgardenlabs.io/pgl-mirror/pkg/mirror"
)

// waitFor drains the watcher until an event matches the predicate or the
// deadline passes.
func waitFor(t *testing.T, w *Watcher, what string, match func(mirror.Event) bool) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-w.Events():
			if !ok {
				t.Fatalf("event channel closed while waiting for %s", what)
			}
			if match(ev) {
				return
			}
		case err := <-w.Errors():
			t.Logf("watcher error: %v", err)
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
}

func TestNewFailsForMissingRoot(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "does-not-exist"))
	require.Error(t, err)
}

func TestWatcherDeliversCreateAndRemove(t *testing.T) {
	root := t.TempDir()
	w, err := New(root)
	require.NoError(t, err)
	defer w.Close()

	path := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	waitFor(t, w, "create of a.txt", func(ev mirror.Event) bool {
		return ev.Kind == mirror.EventCreated && ev.Path == path
	})

	require.NoError(t, os.Remove(path))
	waitFor(t, w, "remove of a.txt", func(ev mirror.Event) bool {
		return ev.Kind == mirror.EventDeleted && ev.Path == path
	})
}

func TestWatcherIsRecursive(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pre/existing"), 0o755))

	w, err := New(root)
	require.NoError(t, err)
	defer w.Close()

	// Changes inside directories that existed before the watch started.
	deep := filepath.Join(root, "pre/existing/file.txt")
	require.NoError(t, os.WriteFile(deep, []byte("x"), 0o644))
	waitFor(t, w, "create in pre-existing subdir", func(ev mirror.Event) bool {
		return ev.Kind == mirror.EventCreated && ev.Path == deep
	})

	// Newly created directories join the watch set on the fly.
	newDir := filepath.Join(root, "fresh")
	require.NoError(t, os.Mkdir(newDir, 0o755))
	waitFor(t, w, "create of fresh dir", func(ev mirror.Event) bool {
		return ev.Kind == mirror.EventCreated && ev.Path == newDir
	})
	// Give the watcher a moment to register the new directory.
	time.Sleep(250 * time.Millisecond)

	inside := filepath.Join(newDir, "inner.txt")
	require.NoError(t, os.WriteFile(inside, []byte("y"), 0o644))
	waitFor(t, w, "create inside fresh dir", func(ev mirror.Event) bool {
		return ev.Kind == mirror.EventCreated && ev.Path == inside
	})
}

func TestWatcherSkipDir(t *testing.T) {
	root := t.TempDir()
	excluded := filepath.Join(root, "node_modules")
	require.NoError(t, os.Mkdir(excluded, 0o755))

	w, err := New(root, WithSkipDir(func(name string) bool { return name == "node_modules" }))
	require.NoError(t, err)
	defer w.Close()

	// A change inside the skipped directory produces no event; a change
	// beside it still does.
	require.NoError(t, os.WriteFile(filepath.Join(excluded, "dep.js"), []byte("x"), 0o644))
	marker := filepath.Join(root, "marker.txt")
	require.NoError(t, os.WriteFile(marker, []byte("x"), 0o644))

	waitFor(t, w, "create of marker.txt", func(ev mirror.Event) bool {
		if ev.Path == filepath.Join(excluded, "dep.js") {
			t.Fatalf("received event for skipped directory: %s", ev)
		}
		return ev.Kind == mirror.EventCreated && ev.Path == marker
	})
}

func TestWatcherCloseEndsStreams(t *testing.T) {
	w, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, w.Close())
	// Close is idempotent.
	require.NoError(t, w.Close())

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-w.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("event channel not closed after Close")
		}
	}
}
