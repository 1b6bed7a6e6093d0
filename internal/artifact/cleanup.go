package artifact

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"clipweave/internal/logging"
)

// CleanResult contains the outcome of a run directory cleanup.
type CleanResult struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs a directory path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// RunDirInfo describes one run directory under the work dir.
type RunDirInfo struct {
	RunID   string
	Path    string
	ModTime time.Time
	Size    int64
}

// CleanStale removes run directories under workDir older than maxAge, except
// those listed in keep.
func CleanStale(workDir string, maxAge time.Duration, keep map[string]struct{}, logger *slog.Logger) CleanResult {
	result := CleanResult{}
	dirs, err := ListRunDirs(workDir)
	if err != nil {
		result.Errors = append(result.Errors, CleanupError{Path: workDir, Error: err})
		return result
	}

	cutoff := time.Now().Add(-maxAge)
	for _, dir := range dirs {
		if _, ok := keep[dir.RunID]; ok {
			continue
		}
		if !dir.ModTime.Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(dir.Path); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dir.Path, Error: err})
			if logger != nil {
				logging.WarnWithContext(logger, "failed to remove stale run directory", "run_cleanup_failed",
					logging.String("path", dir.Path),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check paths.work_dir permissions"),
					logging.String(logging.FieldImpact, "disk space not reclaimed"),
				)
			}
			continue
		}
		result.Removed = append(result.Removed, dir.Path)
		if logger != nil {
			logger.Info("removed stale run directory",
				logging.String(logging.FieldRunID, dir.RunID),
				logging.Duration("age", time.Since(dir.ModTime)),
				logging.Int64("size_bytes", dir.Size),
				logging.String(logging.FieldEventType, "run_cleanup"),
			)
		}
	}
	return result
}

// ListRunDirs returns every run directory under workDir. A missing work dir
// yields no entries.
func ListRunDirs(workDir string) ([]RunDirInfo, error) {
	workDir = strings.TrimSpace(workDir)
	if workDir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(workDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var dirs []RunDirInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		dirPath := filepath.Join(workDir, entry.Name())
		size, _ := dirSize(dirPath)
		dirs = append(dirs, RunDirInfo{
			RunID:   entry.Name(),
			Path:    dirPath,
			ModTime: info.ModTime(),
			Size:    size,
		})
	}
	return dirs, nil
}

func dirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // best effort
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}
