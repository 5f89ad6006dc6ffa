package mirror

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"pixelgardenlabs.io/pgl-mirror/pkg/util"
)

// copyBufferSize is the size of the pooled buffers used for file copies.
const copyBufferSize = 256 * 1024

// ioBufferPool recycles copy buffers across operations.
var ioBufferPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, copyBufferSize)
		return &b
	},
}

// lstat returns information about the file itself rather than a symlink
// target where the filesystem supports it.
func lstat(fsys afero.Fs, path string) (os.FileInfo, error) {
	if lstater, ok := fsys.(afero.Lstater); ok {
		info, _, err := lstater.LstatIfPossible(path)
		return info, err
	}
	return fsys.Stat(path)
}

// makeDirs materializes a destination directory tree. An already existing
// directory is success. Created directories always carry the owner-write bit
// so subsequent runs are never locked out.
func makeDirs(fsys afero.Fs, path string, perm os.FileMode) error {
	if err := fsys.MkdirAll(path, util.WithUserWritePermission(perm)); err != nil {
		return fmt.Errorf("failed to create destination directory %s: %w", path, err)
	}
	return nil
}

// removeRecursive removes a destination entry and anything beneath it. A
// missing entry is a harmless no-op; the bool reports whether anything was
// actually there to remove.
func removeRecursive(fsys afero.Fs, path string) (bool, error) {
	if _, err := lstat(fsys, path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s before removal: %w", path, err)
	}
	if err := fsys.RemoveAll(path); err != nil {
		return false, fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return true, nil
}

// renameEntry moves a destination entry, replacing the target when it
// already exists. Some filesystems refuse to rename over an existing entry,
// so the existing target is removed and the rename retried once.
func renameEntry(fsys afero.Fs, oldPath, newPath string) error {
	err := fsys.Rename(oldPath, newPath)
	if err == nil {
		return nil
	}
	if _, statErr := lstat(fsys, newPath); statErr == nil {
		if rmErr := fsys.RemoveAll(newPath); rmErr != nil {
			return fmt.Errorf("failed to replace existing %s: %w", newPath, rmErr)
		}
		if err = fsys.Rename(oldPath, newPath); err == nil {
			return nil
		}
	}
	return fmt.Errorf("failed to rename %s to %s: %w", oldPath, newPath, err)
}

// copyFileWithMetadata copies a single source file to its destination,
// preserving permissions and modification time. It writes to a temporary
// file in the destination directory and renames it into place, so a crashed
// copy never leaves a half-written file at the final path. The destination
// parent directory must already exist. Returns the number of bytes written.
func copyFileWithMetadata(fsys afero.Fs, src, dst string, srcInfo os.FileInfo) (written int64, err error) {
	in, err := fsys.Open(src)
	if err != nil {
		return 0, fmt.Errorf("failed to open source file %s: %w", src, err)
	}
	defer in.Close()

	dstDir := filepath.Dir(dst)
	out, err := afero.TempFile(fsys, dstDir, "pgl-mirror-*.tmp")
	if err != nil {
		return 0, fmt.Errorf("failed to create temporary file in %s: %w", dstDir, err)
	}

	tempPath := out.Name()
	// If the rename succeeds tempPath is cleared, making this a no-op.
	defer func() {
		if tempPath != "" {
			fsys.Remove(tempPath)
		}
	}()

	bufPtr := ioBufferPool.Get().(*[]byte)
	defer ioBufferPool.Put(bufPtr)

	written, err = io.CopyBuffer(out, in, *bufPtr)
	if err != nil {
		out.Close()
		return written, fmt.Errorf("failed to copy content from %s to %s: %w", src, tempPath, err)
	}

	if err := fsys.Chmod(tempPath, srcInfo.Mode().Perm()); err != nil {
		out.Close()
		return written, fmt.Errorf("failed to set permissions on temporary file %s: %w", tempPath, err)
	}

	// Close flushes data to disk. It must happen before Chtimes because
	// flushing can update the modification time.
	if err := out.Close(); err != nil {
		return written, fmt.Errorf("failed to close temporary file %s: %w", tempPath, err)
	}

	if err := fsys.Chtimes(tempPath, srcInfo.ModTime(), srcInfo.ModTime()); err != nil {
		return written, fmt.Errorf("failed to set timestamps on %s: %w", tempPath, err)
	}

	if err := renameEntry(fsys, tempPath, dst); err != nil {
		return written, err
	}
	tempPath = ""
	return written, nil
}
