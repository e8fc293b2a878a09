package library

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rs/zerolog"
)

var (
	ErrHardlinkFailed = errors.New("failed to create hardlink")
	ErrCrossDevice    = errors.New("cross-device link not supported")
)

// LinkMode defines how a file was placed in the library.
type LinkMode string

const (
	LinkModeHardlink LinkMode = "hardlink"
	LinkModeCopy     LinkMode = "copy"
)

// fileOps places and removes library files.
type fileOps struct {
	logger zerolog.Logger
}

// createHardlink creates a hardlink from source to destination.
// Returns ErrCrossDevice if source and destination are on different filesystems.
func (f fileOps) createHardlink(source, dest string) error {
	if err := ensureDestDir(dest); err != nil {
		return err
	}

	// Remove existing file if present (overwrite behavior)
	if err := f.removeIfExists(dest); err != nil {
		return err
	}

	if err := os.Link(source, dest); err != nil {
		if isCrossDeviceError(err) {
			return fmt.Errorf("%w: %w", ErrCrossDevice, err)
		}
		return fmt.Errorf("%w: %w", ErrHardlinkFailed, err)
	}

	f.logger.Debug().
		Str("source", source).
		Str("dest", dest).
		Msg("Created hardlink")
	return nil
}

// linkOrCopy hardlinks source to dest and falls back to a copy. The
// source is left in place for seeding.
func (f fileOps) linkOrCopy(source, dest string) (LinkMode, error) {
	err := f.createHardlink(source, dest)
	if err == nil {
		return LinkModeHardlink, nil
	}
	f.logger.Debug().Err(err).Str("source", source).Msg("Hardlink failed, falling back to copy")

	if err := f.copyFile(source, dest); err != nil {
		return "", err
	}
	return LinkModeCopy, nil
}

// copyFile performs the actual file copy.
func (f fileOps) copyFile(sourcePath, destPath string) error {
	if err := ensureDestDir(destPath); err != nil {
		return err
	}

	source, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer source.Close()

	dest, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	defer dest.Close()

	if _, err := io.Copy(dest, source); err != nil {
		os.Remove(destPath) // Clean up on failure
		return fmt.Errorf("failed to copy file: %w", err)
	}

	// Copy file permissions
	if sourceInfo, err := os.Stat(sourcePath); err == nil {
		if err := os.Chmod(destPath, sourceInfo.Mode()); err != nil {
			f.logger.Warn().Err(err).Str("path", destPath).Msg("Failed to set file permissions")
		}
	}
	return nil
}

// deleteFile removes a file if it exists.
func (f fileOps) deleteFile(path string) error {
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil // Already gone
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}

	f.logger.Debug().Str("path", path).Msg("Deleted file")
	return nil
}

// cleanEmptyFolders removes empty folders from dir upwards, stopping at
// root.
func (f fileOps) cleanEmptyFolders(dir, root string) {
	root = filepath.Clean(root)
	for dir = filepath.Clean(dir); dir != root && strings.HasPrefix(dir, root+string(filepath.Separator)); dir = filepath.Dir(dir) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		f.logger.Debug().Str("path", dir).Msg("Removed empty folder")
	}
}

// removeIfExists removes a file if it exists (for overwrite behavior).
func (f fileOps) removeIfExists(path string) error {
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove existing file: %w", err)
		}
	}
	return nil
}

// ensureDestDir creates the destination directory if needed, inheriting permissions.
func ensureDestDir(destPath string) error {
	destDir := filepath.Dir(destPath)

	info, err := os.Stat(destDir)
	if err == nil && info.IsDir() {
		return nil
	}

	perm := os.FileMode(0o755)
	if parentInfo, err := os.Stat(filepath.Dir(destDir)); err == nil {
		perm = parentInfo.Mode().Perm()
	}

	if err := os.MkdirAll(destDir, perm); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	return nil
}

// isCrossDeviceError checks if an error is a cross-device link error.
func isCrossDeviceError(err error) bool {
	if err == nil {
		return false
	}

	errStr := err.Error()
	switch runtime.GOOS {
	case "windows":
		// ERROR_NOT_SAME_DEVICE
		return strings.Contains(errStr, "not on the same disk")
	default:
		// EXDEV: Cross-device link
		return strings.Contains(errStr, "cross-device")
	}
}
