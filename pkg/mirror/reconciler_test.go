package mirror

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixelgardenlabs.io/pgl-mirror/pkg/config"
)

func TestRunCopiesOnlyIncludedFiles(t *testing.T) {
	kit := newTestKit(t, config.SyncConfig{
		ExcludedFolderNames: []string{"node_modules"},
		ExcludedFileTypes:   []string{".log"},
	})
	writeFile(t, kit.fsys, "/src/x.txt", "keep", baseTime())
	writeFile(t, kit.fsys, "/src/node_modules/y.txt", "pruned", baseTime())
	writeFile(t, kit.fsys, "/src/app.log", "filtered", baseTime())

	result, err := kit.reconciler.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.CopiedCount())
	assert.Equal(t, []string{"x.txt"}, result.Copied)
	assert.Equal(t, "keep", readFile(t, kit.fsys, "/dst/x.txt"))
	assert.False(t, exists(t, kit.fsys, "/dst/node_modules"))
	assert.False(t, exists(t, kit.fsys, "/dst/app.log"))
}

func TestRunIsIdempotent(t *testing.T) {
	kit := newTestKit(t, config.SyncConfig{})
	writeFile(t, kit.fsys, "/src/a.txt", "a", baseTime())
	writeFile(t, kit.fsys, "/src/sub/b.txt", "b", baseTime())

	first, err := kit.reconciler.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, first.CopiedCount())

	second, err := kit.reconciler.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.CopiedCount(), "a second immediate pass must copy nothing")
	assert.Equal(t, int64(2), kit.metrics.FilesUpToDate.Load())
}

func TestRunLeavesNewerDestinationUntouched(t *testing.T) {
	kit := newTestKit(t, config.SyncConfig{})
	writeFile(t, kit.fsys, "/src/x.txt", "older source", baseTime())
	writeFile(t, kit.fsys, "/dst/x.txt", "newer destination", baseTime().Add(time.Hour))

	result, err := kit.reconciler.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, result.CopiedCount())
	assert.Equal(t, "newer destination", readFile(t, kit.fsys, "/dst/x.txt"))
}

func TestRunLeavesEqualMtimeUntouched(t *testing.T) {
	kit := newTestKit(t, config.SyncConfig{})
	writeFile(t, kit.fsys, "/src/x.txt", "source", baseTime())
	writeFile(t, kit.fsys, "/dst/x.txt", "destination", baseTime())

	result, err := kit.reconciler.Run(context.Background())
	require.NoError(t, err)

	// Only a strictly newer source overwrites.
	assert.Equal(t, 0, result.CopiedCount())
	assert.Equal(t, "destination", readFile(t, kit.fsys, "/dst/x.txt"))
}

func TestRunOverwritesOlderDestination(t *testing.T) {
	kit := newTestKit(t, config.SyncConfig{})
	writeFile(t, kit.fsys, "/src/x.txt", "newer source", baseTime().Add(time.Hour))
	writeFile(t, kit.fsys, "/dst/x.txt", "older destination", baseTime())

	result, err := kit.reconciler.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.CopiedCount())
	assert.Equal(t, "newer source", readFile(t, kit.fsys, "/dst/x.txt"))
}

func TestRunNeverDeletesDestinationEntries(t *testing.T) {
	kit := newTestKit(t, config.SyncConfig{})
	writeFile(t, kit.fsys, "/src/kept.txt", "x", baseTime())
	writeFile(t, kit.fsys, "/dst/stale.txt", "no source counterpart", baseTime())

	_, err := kit.reconciler.Run(context.Background())
	require.NoError(t, err)

	// Full reconciliation is additive; only live events delete.
	assert.True(t, exists(t, kit.fsys, "/dst/stale.txt"))
}

func TestRunMaterializesEmptyDirectories(t *testing.T) {
	kit := newTestKit(t, config.SyncConfig{})
	require.NoError(t, kit.fsys.MkdirAll("/src/empty/nested", 0o755))

	_, err := kit.reconciler.Run(context.Background())
	require.NoError(t, err)

	info, err := kit.fsys.Stat("/dst/empty/nested")
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestRunFailsWhenSourceRootMissing(t *testing.T) {
	kit := newTestKit(t, config.SyncConfig{})

	_, err := kit.reconciler.Run(context.Background())
	assert.Error(t, err)
}

func TestRunFailsWhenEveryCopyFails(t *testing.T) {
	mem := afero.NewMemMapFs()
	writeFile(t, mem, "/src/a.txt", "a", baseTime())
	writeFile(t, mem, "/src/b.txt", "b", baseTime())

	// A read-only filesystem makes every destination write fail while the
	// source scan still works.
	kit := newTestKitFs(t, config.SyncConfig{}, afero.NewReadOnlyFs(mem))

	result, err := kit.reconciler.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, result.CopiedCount())
	assert.Equal(t, 2, result.Failed)
}

func TestRunFailFastAbortsOnFirstFailure(t *testing.T) {
	mem := afero.NewMemMapFs()
	writeFile(t, mem, "/src/a.txt", "a", baseTime())
	writeFile(t, mem, "/src/b.txt", "b", baseTime())

	fsys := afero.NewReadOnlyFs(mem)
	cfg := config.SyncConfig{SourceRoot: "/src", DestRoot: "/dst"}
	metrics := NewSyncMetrics()
	policy := NewExclusionPolicy(cfg)
	mapper := NewPathMapper(cfg.SourceRoot, cfg.DestRoot)
	applier := NewApplier(fsys, mapper, metrics, false)
	reconciler := NewTreeReconciler(fsys, policy, mapper, applier, metrics, 1, true)

	result, err := reconciler.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, result.Failed)
}

func TestRunWithBoundedWorkers(t *testing.T) {
	cfg := config.SyncConfig{SourceRoot: "/src", DestRoot: "/dst"}
	fsys := afero.NewMemMapFs()
	metrics := NewSyncMetrics()
	policy := NewExclusionPolicy(cfg)
	mapper := NewPathMapper(cfg.SourceRoot, cfg.DestRoot)
	applier := NewApplier(fsys, mapper, metrics, false)
	reconciler := NewTreeReconciler(fsys, policy, mapper, applier, metrics, 4, false)

	for _, f := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		writeFile(t, fsys, "/src/dir/"+f+".txt", f, baseTime())
	}

	result, err := reconciler.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, result.CopiedCount())

	for _, f := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		assert.Equal(t, f, readFile(t, fsys, "/dst/dir/"+f+".txt"))
	}
}

func TestRunSubtreeScopesThePass(t *testing.T) {
	kit := newTestKit(t, config.SyncConfig{})
	writeFile(t, kit.fsys, "/src/inside/a.txt", "in scope", baseTime())
	writeFile(t, kit.fsys, "/src/outside/b.txt", "out of scope", baseTime())

	result, err := kit.reconciler.RunSubtree(context.Background(), "inside")
	require.NoError(t, err)

	assert.Equal(t, 1, result.CopiedCount())
	assert.True(t, exists(t, kit.fsys, "/dst/inside/a.txt"))
	assert.False(t, exists(t, kit.fsys, "/dst/outside"))
}

func TestRunSubtreeSkipsPrunedPaths(t *testing.T) {
	kit := newTestKit(t, config.SyncConfig{
		ExcludedFolderNames: []string{"node_modules"},
	})
	writeFile(t, kit.fsys, "/src/node_modules/pkg/a.txt", "x", baseTime())

	result, err := kit.reconciler.RunSubtree(context.Background(), "node_modules/pkg")
	require.NoError(t, err)

	assert.Equal(t, 0, result.CopiedCount())
	assert.False(t, exists(t, kit.fsys, "/dst/node_modules"))
}

func TestRunRespectsCancellation(t *testing.T) {
	kit := newTestKit(t, config.SyncConfig{})
	writeFile(t, kit.fsys, "/src/a.txt", "a", baseTime())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := kit.reconciler.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
