package mirror

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/spf13/afero"

	"pixelgardenlabs.io/pgl-mirror/pkg/plog"
)

// WatchState is the lifecycle state of the live watch path.
type WatchState int32

const (
	StateStopped WatchState = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s WatchState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("WatchState(%d)", int32(s))
	}
}

// MirrorEventTranslator converts normalized filesystem notifications into
// mirror operations, honoring the exclusion policy. All emitted operations
// route through the same serialized apply point as the reconciler. Any
// notification delivered outside the Running state is discarded without
// error.
type MirrorEventTranslator struct {
	fsys       afero.Fs
	policy     *ExclusionPolicy
	mapper     PathMapper
	applier    *Applier
	reconciler *TreeReconciler
	metrics    Metrics

	state atomic.Int32
}

// NewMirrorEventTranslator builds a translator in the Stopped state.
func NewMirrorEventTranslator(fsys afero.Fs, policy *ExclusionPolicy, mapper PathMapper, applier *Applier, reconciler *TreeReconciler, metrics Metrics) *MirrorEventTranslator {
	return &MirrorEventTranslator{
		fsys:       fsys,
		policy:     policy,
		mapper:     mapper,
		applier:    applier,
		reconciler: reconciler,
		metrics:    metrics,
	}
}

// State returns the current lifecycle state.
func (t *MirrorEventTranslator) State() WatchState {
	return WatchState(t.state.Load())
}

// beginStart transitions Stopped -> Starting. Any other current state is an
// error.
func (t *MirrorEventTranslator) beginStart() error {
	if !t.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return fmt.Errorf("cannot start watching: state is %s", t.State())
	}
	return nil
}

// completeStart transitions Starting -> Running.
func (t *MirrorEventTranslator) completeStart() {
	t.state.CompareAndSwap(int32(StateStarting), int32(StateRunning))
}

// abortStart reverts a failed start to Stopped.
func (t *MirrorEventTranslator) abortStart() {
	t.state.Store(int32(StateStopped))
}

// beginStop transitions Running -> Stopping. Any other current state is an
// error.
func (t *MirrorEventTranslator) beginStop() error {
	if !t.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return fmt.Errorf("cannot stop watching: state is %s", t.State())
	}
	return nil
}

// completeStop transitions to Stopped.
func (t *MirrorEventTranslator) completeStop() {
	t.state.Store(int32(StateStopped))
}

// Handle translates one notification into mirror operations and applies
// them. Per-item failures are logged and skipped; nothing is fatal to the
// watch session. Events delivered outside the Running state are discarded.
func (t *MirrorEventTranslator) Handle(ctx context.Context, ev Event) {
	if t.State() != StateRunning {
		plog.Debug("Discarding event outside running state", "state", t.State().String(), "event", ev.String())
		return
	}

	switch ev.Kind {
	case EventCreated:
		t.handleCreated(ctx, ev)
	case EventDeleted:
		t.handleDeleted(ev)
	case EventModified:
		t.handleModified(ev)
	case EventRenamed:
		t.handleRenamed(ctx, ev)
	default:
		plog.Warn("Unknown event kind, ignoring", "event", ev.String())
	}
}

// underPrunedFolder reports whether any component of relPath names an
// excluded folder. The watcher may deliver events for paths it started
// watching before the exclusion took effect; they are out of scope.
func (t *MirrorEventTranslator) underPrunedFolder(relPath string) bool {
	dir := filepath.Dir(relPath)
	if dir == "." {
		return false
	}
	for _, component := range strings.Split(filepath.ToSlash(dir), "/") {
		if t.policy.PrunesDirectory(component) {
			return true
		}
	}
	return false
}

func (t *MirrorEventTranslator) handleCreated(ctx context.Context, ev Event) {
	relPath, err := t.mapper.SourceRel(ev.Path)
	if err != nil {
		plog.Debug("Event path outside source root, ignoring", "path", ev.Path)
		return
	}
	if t.underPrunedFolder(relPath) {
		return
	}

	info, err := lstat(t.fsys, ev.Path)
	if err != nil {
		if !os.IsNotExist(err) {
			plog.Warn("Could not stat created path, ignoring", "path", relPath, "error", err)
		}
		// Already gone again; a delete event will follow.
		return
	}

	if info.IsDir() {
		if t.policy.PrunesDirectory(info.Name()) {
			plog.Info("SKIPDIR", "reason", "excluded folder name", "dir", relPath)
			t.metrics.AddDirsExcluded(1)
			return
		}
		if err := t.applier.Apply(Operation{Kind: OpMakeDir, RelPath: relPath}); err != nil {
			plog.Warn("Failed to create destination directory", "dir", relPath, "error", err)
			return
		}
		// Directory creation events are shallow: a directory moved into
		// place arrives with pre-existing contents that never produced
		// their own events. Reconcile the subtree to pick them up.
		children, err := afero.ReadDir(t.fsys, ev.Path)
		if err == nil && len(children) > 0 {
			if _, err := t.reconciler.RunSubtree(ctx, relPath); err != nil {
				plog.Warn("Scoped reconciliation failed", "dir", relPath, "error", err)
			}
		}
		return
	}

	t.copyIfIncluded(relPath)
}

func (t *MirrorEventTranslator) handleDeleted(ev Event) {
	relPath, err := t.mapper.SourceRel(ev.Path)
	if err != nil {
		plog.Debug("Event path outside source root, ignoring", "path", ev.Path)
		return
	}

	// Deletes are unconditional: the exclusion filter cannot be re-checked
	// against a path that no longer exists, and deleting a never-mirrored
	// path is a harmless no-op at apply time.
	if err := t.applier.Apply(Operation{Kind: OpDelete, RelPath: relPath}); err != nil {
		plog.Warn("Failed to delete mirror entry", "path", relPath, "error", err)
	}
}

func (t *MirrorEventTranslator) handleModified(ev Event) {
	relPath, err := t.mapper.SourceRel(ev.Path)
	if err != nil {
		plog.Debug("Event path outside source root, ignoring", "path", ev.Path)
		return
	}
	if t.underPrunedFolder(relPath) {
		return
	}

	info, err := lstat(t.fsys, ev.Path)
	if err != nil {
		// Already gone; a delete event will follow.
		return
	}
	if info.IsDir() {
		// Modification is only meaningful for files.
		return
	}

	t.copyIfIncluded(relPath)
}

func (t *MirrorEventTranslator) handleRenamed(ctx context.Context, ev Event) {
	if ev.NewPath == "" {
		// The notification source could not pair the rename endpoints;
		// the old path is simply gone from its previous location.
		t.handleDeleted(ev)
		return
	}

	oldRel, err := t.mapper.SourceRel(ev.Path)
	if err != nil {
		plog.Debug("Event path outside source root, ignoring", "path", ev.Path)
		return
	}
	newRel, err := t.mapper.SourceRel(ev.NewPath)
	if err != nil {
		// Moved out of the source root entirely.
		t.handleDeleted(Event{Kind: EventDeleted, Path: ev.Path})
		return
	}

	// A rename into excluded scope removes the entry from the mirror.
	if t.renamedOutOfScope(newRel) {
		if err := t.applier.Apply(Operation{Kind: OpDelete, RelPath: oldRel}); err != nil {
			plog.Warn("Failed to delete mirror entry", "path", oldRel, "error", err)
		}
		return
	}

	err = t.applier.Apply(Operation{Kind: OpRename, RelPath: oldRel, NewRelPath: newRel})
	if errors.Is(err, errRenameNeedsReconcile) {
		// The old path was never mirrored and the new path is a
		// directory: materialize it the same way a populated created
		// directory is handled.
		if _, err := t.reconciler.RunSubtree(ctx, newRel); err != nil {
			plog.Warn("Scoped reconciliation failed", "dir", newRel, "error", err)
		}
		return
	}
	if err != nil {
		plog.Warn("Failed to rename mirror entry", "from", oldRel, "to", newRel, "error", err)
	}
}

// renamedOutOfScope reports whether the rename target falls outside the
// sync scope under the exclusion policy.
func (t *MirrorEventTranslator) renamedOutOfScope(newRel string) bool {
	if t.underPrunedFolder(newRel) {
		return true
	}
	info, err := lstat(t.fsys, t.mapper.ToSource(newRel))
	if err != nil {
		// Cannot re-check; let the rename proceed.
		return false
	}
	if info.IsDir() {
		return t.policy.PrunesDirectory(info.Name())
	}
	return !t.policy.Includes(Entry{RelPath: newRel, Kind: KindFile})
}

// copyIfIncluded applies an unconditional copy for a file that passes the
// inclusion filter. Live events are the freshness signal; no mtime
// comparison is made.
func (t *MirrorEventTranslator) copyIfIncluded(relPath string) {
	if !t.policy.Includes(Entry{RelPath: relPath, Kind: KindFile}) {
		if !plog.IsQuiet() {
			plog.Info("SKIP", "reason", "excluded by filter", "file", relPath)
		}
		t.metrics.AddFilesExcluded(1)
		return
	}
	if err := t.applier.Apply(Operation{Kind: OpCopy, RelPath: relPath}); err != nil {
		t.metrics.AddFilesFailed(1)
		plog.Warn("Copy failed, skipping", "path", relPath, "error", err)
	}
}
