package mirror

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"golang.org/x/sync/singleflight"

	"pixelgardenlabs.io/pgl-mirror/pkg/plog"
	"pixelgardenlabs.io/pgl-mirror/pkg/sharded"
	"pixelgardenlabs.io/pgl-mirror/pkg/util"
)

// applierLockShards sizes the striped lock table. Must be a power of two.
const applierLockShards = 64

// errRenameNeedsReconcile signals that a rename degraded on a directory whose
// old destination was never mirrored; the caller must reconcile the new
// subtree instead.
var errRenameNeedsReconcile = errors.New("rename target is a directory, subtree reconcile required")

// Applier is the serialized apply point. Every destination mutation from
// both the reconciler and the event translator goes through Apply, which
// serializes operations per destination path: two operations targeting the
// same path never interleave, while operations on disjoint paths may run
// concurrently.
type Applier struct {
	fsys    afero.Fs
	mapper  PathMapper
	metrics Metrics
	dryRun  bool

	locks *sharded.Locks
	// dirFlight deduplicates concurrent creation of the same directory.
	dirFlight singleflight.Group
}

// NewApplier builds the apply point over the injected filesystem.
func NewApplier(fsys afero.Fs, mapper PathMapper, metrics Metrics, dryRun bool) *Applier {
	return &Applier{
		fsys:    fsys,
		mapper:  mapper,
		metrics: metrics,
		dryRun:  dryRun,
		locks:   sharded.NewLocks(applierLockShards),
	}
}

// Apply executes one operation against the destination tree. Failures are
// returned to the caller, which decides whether they are fatal; Apply itself
// never retries.
func (a *Applier) Apply(op Operation) error {
	switch op.Kind {
	case OpCopy:
		return a.applyCopy(op.RelPath)
	case OpMakeDir:
		return a.applyMakeDir(op.RelPath)
	case OpDelete:
		return a.applyDelete(op.RelPath)
	case OpRename:
		return a.applyRename(op.RelPath, op.NewRelPath)
	default:
		return fmt.Errorf("unknown operation kind %d", op.Kind)
	}
}

// ensureDir creates the destination directory for relPath, deduplicating
// concurrent creation of the same path. An already existing directory is
// success.
func (a *Applier) ensureDir(relPath string) error {
	_, err, _ := a.dirFlight.Do(relPath, func() (interface{}, error) {
		return nil, makeDirs(a.fsys, a.mapper.ToDest(relPath), util.UserWritableDirPerms)
	})
	return err
}

func (a *Applier) applyCopy(relPath string) error {
	srcPath := a.mapper.ToSource(relPath)
	dstPath := a.mapper.ToDest(relPath)

	if a.dryRun {
		plog.Info("[DRY RUN] COPY", "path", relPath)
		return nil
	}

	a.locks.Lock(relPath)
	defer a.locks.Unlock(relPath)

	srcInfo, err := lstat(a.fsys, srcPath)
	if err != nil {
		return fmt.Errorf("failed to stat source file %s: %w", srcPath, err)
	}
	if !srcInfo.Mode().IsRegular() {
		plog.Debug("SKIP", "reason", "not a regular file", "type", srcInfo.Mode().String(), "path", relPath)
		return nil
	}

	if err := a.ensureDir(filepath.Dir(relPath)); err != nil {
		return err
	}

	// A non-regular entry at the destination (directory, symlink) is
	// replaced to restore a consistent mirror state.
	if dstInfo, err := lstat(a.fsys, dstPath); err == nil && !dstInfo.Mode().IsRegular() {
		plog.Warn("Destination is not a regular file, removing before copy", "path", relPath, "type", dstInfo.Mode().String())
		if err := a.fsys.RemoveAll(dstPath); err != nil {
			return fmt.Errorf("failed to remove non-regular file at destination %s: %w", dstPath, err)
		}
	}

	written, err := copyFileWithMetadata(a.fsys, srcPath, dstPath, srcInfo)
	if err != nil {
		return err
	}

	a.metrics.AddFilesCopied(1)
	a.metrics.AddBytesWritten(written)
	if !plog.IsQuiet() {
		plog.Info("COPY", "path", relPath)
	}
	return nil
}

func (a *Applier) applyMakeDir(relPath string) error {
	if a.dryRun {
		plog.Info("[DRY RUN] MKDIR", "path", relPath)
		return nil
	}

	a.locks.Lock(relPath)
	defer a.locks.Unlock(relPath)

	dstPath := a.mapper.ToDest(relPath)
	_, statErr := a.fsys.Stat(dstPath)
	if err := a.ensureDir(relPath); err != nil {
		return err
	}
	if os.IsNotExist(statErr) {
		a.metrics.AddDirsCreated(1)
		if !plog.IsQuiet() {
			plog.Info("MKDIR", "path", relPath)
		}
	}
	return nil
}

func (a *Applier) applyDelete(relPath string) error {
	if a.dryRun {
		plog.Info("[DRY RUN] DELETE", "path", relPath)
		return nil
	}

	a.locks.Lock(relPath)
	defer a.locks.Unlock(relPath)

	removed, err := removeRecursive(a.fsys, a.mapper.ToDest(relPath))
	if err != nil {
		return err
	}
	if removed {
		a.metrics.AddDeletes(1)
		if !plog.IsQuiet() {
			plog.Info("DELETE", "path", relPath)
		}
	}
	// A delete for a path that was never mirrored is a harmless no-op.
	return nil
}

// applyRename moves the old destination entry to the new destination path.
// When the old destination was never mirrored (e.g. it was excluded) the
// rename degrades to a copy of the new source path; for directories that
// degrade is a subtree reconcile, signalled via errRenameNeedsReconcile.
func (a *Applier) applyRename(oldRel, newRel string) error {
	if a.dryRun {
		plog.Info("[DRY RUN] RENAME", "from", oldRel, "to", newRel)
		return nil
	}

	unlock := a.locks.LockPair(oldRel, newRel)

	oldDst := a.mapper.ToDest(oldRel)
	newDst := a.mapper.ToDest(newRel)

	if _, err := lstat(a.fsys, oldDst); err != nil {
		unlock()
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat rename source %s: %w", oldDst, err)
		}
		// The old path was never mirrored. Degrade to a copy of the new
		// source path.
		srcInfo, statErr := lstat(a.fsys, a.mapper.ToSource(newRel))
		if statErr != nil {
			return fmt.Errorf("failed to stat source %s for degraded rename: %w", a.mapper.ToSource(newRel), statErr)
		}
		if srcInfo.IsDir() {
			return errRenameNeedsReconcile
		}
		return a.applyCopy(newRel)
	}
	defer unlock()

	if err := a.ensureDir(filepath.Dir(newRel)); err != nil {
		return err
	}
	if err := renameEntry(a.fsys, oldDst, newDst); err != nil {
		return err
	}

	a.metrics.AddRenames(1)
	if !plog.IsQuiet() {
		plog.Info("RENAME", "from", oldRel, "to", newRel)
	}
	return nil
}
