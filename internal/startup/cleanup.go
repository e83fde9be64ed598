// Package startup provides boot-time recovery tasks.
package startup

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/surajit20072003/heygemd/internal/gpu"
	"github.com/surajit20072003/heygemd/internal/media"
	"github.com/surajit20072003/heygemd/internal/repository"
)

// CleanupStaleStaging removes task-scoped staging artifacts left behind by a
// previous run. The task table is in-memory, so after a restart nothing can
// reference them.
//
// Returns the number of files removed. Per-slot failures are logged and do
// not stop the pass; the last error is returned.
func CleanupStaleStaging(logger *slog.Logger, endpoints []gpu.Endpoint, maxAge time.Duration) (int, error) {
	var (
		removed int
		lastErr error
	)
	for _, ep := range endpoints {
		n, err := media.CleanStaleArtifacts(logger, ep.StagingDir, maxAge)
		removed += n
		if err != nil {
			logger.Warn("staging cleanup failed",
				"gpu_id", ep.ID,
				"staging_dir", ep.StagingDir,
				"error", err,
			)
			lastErr = err
		}
	}

	if removed > 0 {
		logger.Info("removed stale staging artifacts",
			"count", removed,
			"max_age", maxAge,
		)
	}
	return removed, lastErr
}

// CleanupTempFiles removes stale scratch files (extracted references,
// synthesized audio, chunk splits) from the shared temp directory.
func CleanupTempFiles(logger *slog.Logger, tempDir string, maxAge time.Duration) (int, error) {
	removed, err := media.CleanTempDir(logger, tempDir, maxAge)
	if err != nil {
		logger.Warn("temp cleanup failed",
			"path", tempDir,
			"error", err,
		)
		return removed, err
	}

	if removed > 0 {
		logger.Info("removed stale temp files",
			"count", removed,
			"path", tempDir,
		)
	}
	return removed, nil
}

// VerifyAvatarMedia checks that every avatar's media files still exist on
// disk and logs any dangling rows. Rows are never mutated: the operator may
// be mid-restore of the media volume, and a task that selects a dangling
// avatar fails with a clear error anyway.
//
// Returns the number of avatars with missing media.
func VerifyAvatarMedia(ctx context.Context, logger *slog.Logger, repo repository.AvatarRepository) (int, error) {
	avatars, err := repo.GetAll(ctx)
	if err != nil {
		logger.Error("failed to load avatars for media verification",
			"error", err,
		)
		return 0, err
	}

	var dangling int
	for _, a := range avatars {
		missing := missingPaths(a.VideoPath, a.AudioPath)
		if len(missing) == 0 {
			continue
		}

		logger.Warn("avatar references missing media",
			"avatar_id", a.ID.String(),
			"avatar_name", a.Name,
			"missing", missing,
		)
		dangling++
	}

	if dangling == 0 && len(avatars) > 0 {
		logger.Debug("avatar media verified",
			"count", len(avatars),
		)
	}
	return dangling, nil
}

// missingPaths returns the given paths that do not exist. Empty paths are
// skipped; avatar audio is optional.
func missingPaths(paths ...string) []string {
	var missing []string
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			missing = append(missing, p)
		}
	}
	return missing
}
