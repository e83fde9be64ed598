package media

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// stagingSubdirs are the per-slot directories that accumulate task-scoped
// artifacts: staged face/audio pairs, backend results, and voice references.
var stagingSubdirs = []string{faceDirName, resultDirName, referenceDirName}

// CleanStaleArtifacts removes task-scoped files older than maxAge from a
// slot's staging directory. Subdirectories that do not exist yet are
// skipped. Returns the number of files removed.
func CleanStaleArtifacts(logger *slog.Logger, stagingDir string, maxAge time.Duration) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cutoff := time.Now().Add(-maxAge)
	var removed int
	for _, sub := range stagingSubdirs {
		n, err := removeOlderThan(logger, filepath.Join(stagingDir, sub), cutoff)
		removed += n
		if err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// CleanTempDir removes files older than maxAge from the shared scratch
// directory (extracted references, synthesized audio, chunk splits).
func CleanTempDir(logger *slog.Logger, tempDir string, maxAge time.Duration) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return removeOlderThan(logger, tempDir, time.Now().Add(-maxAge))
}

// removeOlderThan deletes regular files in dir whose modification time is at
// or before cutoff. Subdirectories are left alone; a missing dir is not an
// error.
func removeOlderThan(logger *slog.Logger, dir string, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	var removed int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			logger.Warn("failed to remove stale artifact",
				slog.String("path", path),
				slog.Any("error", err))
			continue
		}

		logger.Debug("removed stale artifact",
			slog.String("path", path),
			slog.Duration("age", time.Since(info.ModTime()).Round(time.Second)))
		removed++
	}

	return removed, nil
}
