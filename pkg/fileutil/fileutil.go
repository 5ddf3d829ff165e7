// Package fileutil provides output file helpers with optional tmp+mv commit.
package fileutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/eunmann/bdf-merge/pkg/logging"
)

// TmpSuffix is appended to the output path while an atomic write is in progress.
const TmpSuffix = ".tmp"

// Exists returns true if the file exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// IsNonEmpty returns true if the file exists and has non-zero size.
func IsNonEmpty(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Size() > 0
}

// EnsureParentDir creates the directory that will contain path.
func EnsureParentDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir %s: %w", dir, err)
	}
	return nil
}

// TmpPath returns the in-progress path used for an atomic write of outPath.
func TmpPath(outPath string) string {
	return outPath + TmpSuffix
}

// WriteFile creates or truncates outPath and passes it to writeFunc. The file
// is synced and closed before returning. On failure the partial file is left
// in place.
func WriteFile(outPath string, writeFunc func(f *os.File) error) error {
	if err := EnsureParentDir(outPath); err != nil {
		return err
	}
	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := writeFunc(f); err != nil {
		f.Close()
		return err
	}
	return syncClose(f)
}

// WriteTmpThenMove writes to a temporary file next to outPath, then renames it
// over outPath. The tmp file is removed on any failure, so outPath is either
// untouched or complete.
func WriteTmpThenMove(outPath string, writeFunc func(f *os.File) error) error {
	if err := EnsureParentDir(outPath); err != nil {
		return err
	}

	tmpPath := TmpPath(outPath)
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	if err := writeFunc(f); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}

	if err := syncClose(f); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp to final: %w", err)
	}

	return nil
}

func syncClose(f *os.File) error {
	syncErr := f.Sync()
	closeErr := f.Close()
	if err := errors.Join(syncErr, closeErr); err != nil {
		return fmt.Errorf("sync output: %w", err)
	}
	return nil
}

// CleanupTmp removes a stale tmp file left behind for outPath.
func CleanupTmp(outPath string) error {
	tmpPath := TmpPath(outPath)
	err := os.Remove(tmpPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("remove stale tmp: %w", err)
	}
	logging.L().Debug().Str("path", tmpPath).Msg("removed stale tmp file")
	return nil
}
