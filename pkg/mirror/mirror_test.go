package mirror

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"pixelgardenlabs.io/pgl-mirror/pkg/config"
)

// testKit wires the core components over an in-memory filesystem with the
// conventional /src -> /dst pair.
type testKit struct {
	fsys       afero.Fs
	cfg        config.SyncConfig
	policy     *ExclusionPolicy
	mapper     PathMapper
	applier    *Applier
	reconciler *TreeReconciler
	translator *MirrorEventTranslator
	metrics    *SyncMetrics
}

func newTestKit(t *testing.T, cfg config.SyncConfig) *testKit {
	t.Helper()
	return newTestKitFs(t, cfg, afero.NewMemMapFs())
}

func newTestKitFs(t *testing.T, cfg config.SyncConfig, fsys afero.Fs) *testKit {
	t.Helper()
	if cfg.SourceRoot == "" {
		cfg.SourceRoot = "/src"
	}
	if cfg.DestRoot == "" {
		cfg.DestRoot = "/dst"
	}

	metrics := NewSyncMetrics()
	policy := NewExclusionPolicy(cfg)
	mapper := NewPathMapper(cfg.SourceRoot, cfg.DestRoot)
	applier := NewApplier(fsys, mapper, metrics, false)
	reconciler := NewTreeReconciler(fsys, policy, mapper, applier, metrics, 1, false)

	return &testKit{
		fsys:       fsys,
		cfg:        cfg,
		policy:     policy,
		mapper:     mapper,
		applier:    applier,
		reconciler: reconciler,
		translator: NewMirrorEventTranslator(fsys, policy, mapper, applier, reconciler, metrics),
		metrics:    metrics,
	}
}

// startTranslator moves the translator into the Running state.
func (k *testKit) startTranslator(t *testing.T) {
	t.Helper()
	require.NoError(t, k.translator.beginStart())
	k.translator.completeStart()
}

// writeFile creates a file with the given content and modification time,
// materializing parent directories.
func writeFile(t *testing.T, fsys afero.Fs, path, content string, mtime time.Time) {
	t.Helper()
	require.NoError(t, fsys.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, afero.WriteFile(fsys, path, []byte(content), 0o644))
	require.NoError(t, fsys.Chtimes(path, mtime, mtime))
}

// readFile returns the file content as a string.
func readFile(t *testing.T, fsys afero.Fs, path string) string {
	t.Helper()
	data, err := afero.ReadFile(fsys, path)
	require.NoError(t, err)
	return string(data)
}

// exists reports whether a path is present on the filesystem.
func exists(t *testing.T, fsys afero.Fs, path string) bool {
	t.Helper()
	ok, err := afero.Exists(fsys, path)
	require.NoError(t, err)
	return ok
}

// baseTime is an arbitrary fixed timestamp for mtime comparisons.
func baseTime() time.Time {
	return time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
}
