// Package preflight provides validation checks that run before a mirror
// operation begins. The checks are designed to be stateless and idempotent,
// ensuring the system is in a suitable state for an operation to proceed
// without changing the system's state itself.
package preflight

import (
	"fmt"
	"os"
	"path/filepath"
)

// CheckDestinationAccessible performs pre-flight checks to ensure the mirror
// destination is usable. It provides more user-friendly errors than letting
// os.MkdirAll fail.
//
// The checks include:
//  1. On Windows, verifies that the drive or network share (e.g., "Z:", "\\Server\Share") exists.
//  2. If the destination path exists, confirms it is a directory.
//  3. If the destination path does not exist, confirms its deepest existing ancestor is accessible.
//  4. On Unix, verifies the destination is not a "ghost" directory on the root
//     filesystem where an external drive was supposed to be mounted.
func CheckDestinationAccessible(destPath string) error {
	// --- 1. Check if the Volume/Drive exists, windows only ---
	if err := checkVolumeExists(destPath); err != nil {
		return err
	}

	// --- 2. Check existence and type ---
	info, err := os.Stat(destPath)
	if os.IsNotExist(err) {
		// Destination doesn't exist yet. Find the deepest existing ancestor:
		// if /mnt/mirror/projects doesn't exist, is /mnt/mirror mounted?
		ancestor := filepath.Dir(destPath)
		for {
			if _, statErr := os.Stat(ancestor); statErr == nil {
				break // Found the deepest directory that actually exists.
			} else if !os.IsNotExist(statErr) {
				return fmt.Errorf("cannot access ancestor directory %s: %w", ancestor, statErr)
			}
			parent := filepath.Dir(ancestor)
			if parent == ancestor {
				break // Hit root.
			}
			ancestor = parent
		}

		return validateMountPoint(ancestor)
	} else if err != nil {
		return fmt.Errorf("cannot access destination path: %w", err)
	}

	// --- 3. The Destination Path Exists ---
	if !info.IsDir() {
		return fmt.Errorf("destination path exists but is not a directory: %s", destPath)
	}

	return validateMountPoint(destPath)
}

// CheckSourceAccessible validates that the source path exists and is a directory.
func CheckSourceAccessible(srcPath string) error {
	srcInfo, err := os.Stat(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("source directory %s does not exist", srcPath)
		}
		return fmt.Errorf("cannot stat source directory %s: %w", srcPath, err)
	}

	if !srcInfo.IsDir() {
		return fmt.Errorf("source path %s is not a directory", srcPath)
	}

	return nil
}

// CheckDestinationWritable ensures the destination directory can be created
// and is writable by performing filesystem modifications.
func CheckDestinationWritable(destPath string) error {
	// Ensure the destination directory can be created.
	if err := os.MkdirAll(destPath, 0755); err != nil {
		return fmt.Errorf("failed to create destination directory %s: %w", destPath, err)
	}

	// Perform a thorough write check by creating and deleting a temporary file.
	tempFile := filepath.Join(destPath, ".pgl-mirror-writetest.tmp")
	f, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("destination directory %s is not writable: %w", destPath, err)
	}
	f.Close()
	_ = os.Remove(tempFile)
	return nil
}
