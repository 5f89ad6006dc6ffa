package mirror

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"pixelgardenlabs.io/pgl-mirror/pkg/plog"
)

// Result reports the outcome of one reconciliation pass.
type Result struct {
	mu sync.Mutex
	// Copied holds the source-relative paths that were actually copied.
	Copied []string
	// Failed is the number of per-file copy failures that were skipped.
	Failed int
}

// CopiedCount returns the number of files copied by the pass.
func (r *Result) CopiedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Copied)
}

func (r *Result) addCopied(relPath string) {
	r.mu.Lock()
	r.Copied = append(r.Copied, relPath)
	r.mu.Unlock()
}

func (r *Result) addFailed() {
	r.mu.Lock()
	r.Failed++
	r.mu.Unlock()
}

// TreeReconciler produces a full, deterministic pass that brings the
// destination tree up to date with the source tree at a point in time. A
// pass is additive: it creates directories and copies files whose source is
// newer than or absent from the destination, and never deletes destination
// entries. Deletions are the live watcher's responsibility.
type TreeReconciler struct {
	fsys    afero.Fs
	policy  *ExclusionPolicy
	mapper  PathMapper
	applier *Applier
	metrics Metrics

	// workers bounds apply parallelism across disjoint destination paths.
	// 1 means strictly sequential.
	workers int
	// failFast aborts the pass on the first copy failure instead of
	// logging and skipping.
	failFast bool
}

// NewTreeReconciler builds a reconciler routing all mutations through the
// given apply point.
func NewTreeReconciler(fsys afero.Fs, policy *ExclusionPolicy, mapper PathMapper, applier *Applier, metrics Metrics, workers int, failFast bool) *TreeReconciler {
	if workers < 1 {
		workers = 1
	}
	return &TreeReconciler{
		fsys:     fsys,
		policy:   policy,
		mapper:   mapper,
		applier:  applier,
		metrics:  metrics,
		workers:  workers,
		failFast: failFast,
	}
}

// Run performs one full reconciliation pass over the source root.
func (t *TreeReconciler) Run(ctx context.Context) (*Result, error) {
	return t.run(ctx, "")
}

// RunSubtree performs a reconciliation pass scoped to one source-relative
// subtree. It is used by the event translator when a directory appears with
// pre-existing contents that never produced individual events.
func (t *TreeReconciler) RunSubtree(ctx context.Context, relPath string) (*Result, error) {
	for _, component := range strings.Split(filepath.ToSlash(relPath), "/") {
		if t.policy.PrunesDirectory(component) {
			plog.Info("SKIPDIR", "reason", "excluded folder name", "dir", relPath)
			return &Result{}, nil
		}
	}
	return t.run(ctx, relPath)
}

func (t *TreeReconciler) run(ctx context.Context, baseRel string) (*Result, error) {
	scan, err := t.scan(ctx, baseRel)
	if err != nil {
		return nil, err
	}
	return t.apply(ctx, scan)
}

// scan traverses the source tree top-down and produces the ordered entry
// list. Excluded folder names are dropped before descent, so excluded
// subtrees are never read. File entries that fail the inclusion filter are
// dropped here too, keeping the scan and live paths consistent.
func (t *TreeReconciler) scan(ctx context.Context, baseRel string) (*ScanResult, error) {
	root := t.mapper.ToSource(baseRel)
	if _, err := t.fsys.Stat(root); err != nil {
		return nil, fmt.Errorf("failed to scan source root %s: %w", root, err)
	}

	result := &ScanResult{}
	if err := t.scanDir(ctx, baseRel, root, result, true); err != nil {
		return nil, err
	}
	return result, nil
}

// scanDir appends the entries of one directory and recurses into its
// non-pruned subdirectories. A read failure on the scan root is fatal;
// deeper read failures are logged and that subtree is skipped.
func (t *TreeReconciler) scanDir(ctx context.Context, relDir, absDir string, result *ScanResult, isRoot bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	infos, err := afero.ReadDir(t.fsys, absDir)
	if err != nil {
		if isRoot {
			return fmt.Errorf("failed to scan source root %s: %w", absDir, err)
		}
		plog.Warn("Error reading directory, skipping subtree", "dir", relDir, "error", err)
		return nil
	}

	for _, info := range infos {
		name := info.Name()
		childRel := filepath.Join(relDir, name)

		if info.IsDir() {
			if t.policy.PrunesDirectory(name) {
				plog.Info("SKIPDIR", "reason", "excluded folder name", "dir", childRel)
				t.metrics.AddDirsExcluded(1)
				continue
			}
			result.Entries = append(result.Entries, Entry{
				RelPath: childRel,
				Kind:    KindDirectory,
				Mode:    info.Mode(),
			})
			if err := t.scanDir(ctx, childRel, filepath.Join(absDir, name), result, false); err != nil {
				return err
			}
			continue
		}

		if !info.Mode().IsRegular() {
			plog.Debug("SKIP", "reason", "not a regular file", "type", info.Mode().String(), "path", childRel)
			continue
		}

		entry := Entry{
			RelPath: childRel,
			Kind:    KindFile,
			ModTime: info.ModTime(),
			Size:    info.Size(),
			Mode:    info.Mode(),
		}
		if !t.policy.Includes(entry) {
			if !plog.IsQuiet() {
				plog.Info("SKIP", "reason", "excluded by filter", "file", childRel)
			}
			t.metrics.AddFilesExcluded(1)
			continue
		}
		result.Entries = append(result.Entries, entry)
		result.FileCount++
	}
	return nil
}

// apply walks the scanned entries in order and routes the resulting
// operations through the serialized apply point. With workers > 1 the
// entries are processed by a bounded group; per-path correctness is
// guaranteed by the applier's striped locks.
func (t *TreeReconciler) apply(ctx context.Context, scan *ScanResult) (*Result, error) {
	result := &Result{}

	var processedFiles atomic.Int64
	var lastMilestone atomic.Int64
	var attempted atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(t.workers)

	for _, entry := range scan.Entries {
		if err := ctx.Err(); err != nil {
			break
		}
		entry := entry
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			t.metrics.AddEntriesProcessed(1)
			if entry.IsDir() {
				if err := t.applier.Apply(Operation{Kind: OpMakeDir, RelPath: entry.RelPath}); err != nil {
					// Creation failures surface again on each file
					// beneath the directory; the pass continues.
					plog.Warn("Failed to create destination directory, skipping", "dir", entry.RelPath, "error", err)
				}
				return nil
			}
			err := t.applyFile(entry, result, &attempted)
			t.reportProgress(&processedFiles, &lastMilestone, scan.FileCount)
			if err != nil && t.failFast {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return result, err
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	if attempted.Load() > 0 && result.CopiedCount() == 0 {
		return result, fmt.Errorf("all %d copy operations failed", attempted.Load())
	}
	return result, nil
}

// applyFile decides and executes the operation for one file entry: copy when
// the destination is absent or strictly older than the source, otherwise
// leave the destination untouched.
func (t *TreeReconciler) applyFile(entry Entry, result *Result, attempted *atomic.Int64) error {
	dstPath := t.mapper.ToDest(entry.RelPath)

	dstInfo, err := lstat(t.fsys, dstPath)
	switch {
	case err == nil:
		if !entry.ModTime.After(dstInfo.ModTime()) {
			// Destination is newer or equal; only the source may
			// overwrite the destination, never the reverse.
			t.metrics.AddFilesUpToDate(1)
			return nil
		}
	case !os.IsNotExist(err):
		plog.Warn("Could not stat destination, attempting copy", "path", entry.RelPath, "error", err)
	}

	attempted.Add(1)
	if err := t.applier.Apply(Operation{Kind: OpCopy, RelPath: entry.RelPath}); err != nil {
		t.metrics.AddFilesFailed(1)
		result.addFailed()
		plog.Warn("Copy failed, skipping", "path", entry.RelPath, "error", err)
		return err
	}
	result.addCopied(entry.RelPath)
	return nil
}

// reportProgress logs coarse completion milestones, every 10% of files
// processed. Purely an observability signal.
func (t *TreeReconciler) reportProgress(processed, lastMilestone *atomic.Int64, total int) {
	if total == 0 {
		return
	}
	done := processed.Add(1)
	milestone := done * 100 / int64(total) / 10
	if milestone == 0 {
		return
	}
	last := lastMilestone.Load()
	if milestone > last && lastMilestone.CompareAndSwap(last, milestone) {
		plog.Info("PROGRESS", "percent", milestone*10, "files", done, "total", total)
	}
}
