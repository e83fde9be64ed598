// Package maintenance runs periodic background upkeep: terminal-task
// eviction, stale staging cleanup, and idle TTS unload.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/surajit20072003/heygemd/internal/config"
	"github.com/surajit20072003/heygemd/internal/engine"
	"github.com/surajit20072003/heygemd/internal/gpu"
	"github.com/surajit20072003/heygemd/internal/media"
	"github.com/surajit20072003/heygemd/internal/tts"
	"github.com/surajit20072003/heygemd/pkg/format"
)

// unloadTimeout bounds a single unload call.
const unloadTimeout = 30 * time.Second

// idleCheckSpec is how often idleness is evaluated. Unload latency is
// therefore the configured quiet window plus at most one check interval.
const idleCheckSpec = "@every 1m"

// Runner schedules the background maintenance jobs. The sweep job evicts
// terminal tasks past the retention window and prunes stale staging
// artifacts; the idle job unloads TTS models after a quiet period.
type Runner struct {
	mu sync.Mutex

	engine   *engine.Engine
	registry *gpu.Registry
	logger   *slog.Logger

	cfg     config.MaintenanceConfig
	tempDir string

	ttsClient  *tts.Client
	idleUnload time.Duration

	cron *cron.Cron

	// lastActive is the newest moment the engine was known busy; unloaded
	// latches so a quiet period triggers one unload round, not one per check.
	lastActive time.Time
	unloaded   bool
}

// NewRunner creates a maintenance runner for the engine and its slots.
func NewRunner(eng *engine.Engine, registry *gpu.Registry, cfg config.MaintenanceConfig) *Runner {
	return &Runner{
		engine:     eng,
		registry:   registry,
		logger:     slog.Default(),
		cfg:        cfg,
		lastActive: time.Now(),
	}
}

// WithLogger sets a custom logger.
func (r *Runner) WithLogger(logger *slog.Logger) *Runner {
	r.logger = logger.With(slog.String("component", "maintenance"))
	return r
}

// WithTempDir includes the shared scratch directory in the staging sweep.
func (r *Runner) WithTempDir(dir string) *Runner {
	r.tempDir = dir
	return r
}

// WithTTSUnload enables idle model unload through client once the engine has
// been quiet for the given window. A zero window disables the job.
func (r *Runner) WithTTSUnload(client *tts.Client, after time.Duration) *Runner {
	r.ttsClient = client
	r.idleUnload = after
	return r
}

// Start registers the cron entries and begins running them. Start on a
// disabled runner is a no-op.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron != nil {
		return fmt.Errorf("maintenance already started")
	}
	if !r.cfg.Enabled {
		r.logger.Info("maintenance disabled")
		return nil
	}

	c := cron.New(cron.WithSeconds())
	if _, err := c.AddFunc(r.cfg.SweepCron, r.sweep); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", r.cfg.SweepCron, err)
	}
	if r.ttsClient != nil && r.idleUnload > 0 {
		if _, err := c.AddFunc(idleCheckSpec, r.checkIdle); err != nil {
			return fmt.Errorf("registering idle check: %w", err)
		}
	}

	c.Start()
	r.cron = c

	r.logger.Info("maintenance started",
		slog.String("sweep_schedule", format.CronDescription(r.cfg.SweepCron)),
		slog.Duration("task_retention", r.cfg.TaskRetention),
		slog.Duration("staging_max_age", r.cfg.StagingMaxAge),
		slog.Duration("tts_idle_unload", r.idleUnload))
	return nil
}

// Stop halts the schedule and waits for any running job to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	r.logger.Info("maintenance stopped")
}

// sweep evicts terminal tasks past the retention window and removes staging
// artifacts older than the staging age cap.
func (r *Runner) sweep() {
	if n := r.engine.SweepTerminal(r.cfg.TaskRetention); n > 0 {
		r.logger.Info("evicted terminal tasks",
			slog.Int("count", n),
			slog.Duration("retention", r.cfg.TaskRetention))
	}

	var removed int
	for _, ep := range r.registry.Endpoints() {
		n, err := media.CleanStaleArtifacts(r.logger, ep.StagingDir, r.cfg.StagingMaxAge)
		removed += n
		if err != nil {
			r.logger.Warn("staging sweep failed",
				slog.Int("gpu_id", ep.ID),
				slog.String("staging_dir", ep.StagingDir),
				slog.Any("error", err))
		}
	}
	if r.tempDir != "" {
		n, err := media.CleanTempDir(r.logger, r.tempDir, r.cfg.StagingMaxAge)
		removed += n
		if err != nil {
			r.logger.Warn("temp sweep failed",
				slog.String("path", r.tempDir),
				slog.Any("error", err))
		}
	}
	if removed > 0 {
		r.logger.Info("removed stale artifacts",
			slog.Int("count", removed),
			slog.Duration("max_age", r.cfg.StagingMaxAge))
	}
}

// checkIdle unloads TTS models once the engine has been quiet for the
// configured window. Synthesis reloads them on demand, so unloading while a
// request is already in flight costs one reload, nothing more.
func (r *Runner) checkIdle() {
	live, latest := r.activity()

	r.mu.Lock()
	if live > 0 {
		r.lastActive = time.Now()
		r.unloaded = false
		r.mu.Unlock()
		return
	}
	if latest.After(r.lastActive) {
		r.lastActive = latest
	}
	if r.unloaded || time.Since(r.lastActive) < r.idleUnload {
		r.mu.Unlock()
		return
	}
	r.unloaded = true
	r.mu.Unlock()

	for _, ep := range r.registry.Endpoints() {
		ctx, cancel := context.WithTimeout(context.Background(), unloadTimeout)
		err := r.ttsClient.Unload(ctx, ep.TTSURL)
		cancel()
		if err != nil {
			r.logger.Warn("tts unload failed",
				slog.Int("gpu_id", ep.ID),
				slog.Any("error", err))
			continue
		}
		r.logger.Info("tts models unloaded",
			slog.Int("gpu_id", ep.ID),
			slog.Duration("idle", r.idleUnload))
	}
}

// activity reports the live task count and the newest completion time.
func (r *Runner) activity() (int, time.Time) {
	var (
		live   int
		latest time.Time
	)
	for _, t := range r.engine.List() {
		if !t.IsTerminal() {
			live++
			continue
		}
		if t.CompletedAt != nil && t.CompletedAt.After(latest) {
			latest = *t.CompletedAt
		}
	}
	return live, latest
}
