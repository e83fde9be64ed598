// Package gpu owns the process-wide GPU slot table. The registry is the
// only place a slot's busy flag is read or written; reserve and release are
// linearizable, and releases post to a dispatch channel consumed by the
// task engine's dispatcher.
package gpu

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/surajit20072003/heygemd/internal/config"
)

// Endpoint is the immutable descriptor of one GPU slot: where its inference
// backend and paired TTS sidecar listen, and which staging directory the
// backend container has mounted as its data root.
type Endpoint struct {
	ID           int    `json:"id"`
	InferenceURL string `json:"inference_url"`
	TTSURL       string `json:"tts_url"`
	StagingDir   string `json:"staging_dir"`
}

// SlotStatus is an observability snapshot of one slot.
type SlotStatus struct {
	ID             int    `json:"id"`
	Busy           bool   `json:"busy"`
	CurrentTask    string `json:"current_task,omitempty"`
	MemoryUsedMB   int    `json:"memory_used_mb"`
	UtilizationPct int    `json:"utilization_pct"`
	InferenceURL   string `json:"inference_url"`
	TTSURL         string `json:"tts_url"`
}

// slot is the mutable registry record for one GPU.
type slot struct {
	endpoint       Endpoint
	busy           bool
	currentTask    string
	memoryUsedMB   int
	utilizationPct int
}

// Registry is the process-wide GPU slot table.
type Registry struct {
	mu    sync.Mutex
	slots []*slot

	// dispatch is the release notification channel. Buffered so a release
	// never blocks on a slow dispatcher; a dropped signal is harmless
	// because the dispatcher drains the queue until no slot is free.
	dispatch chan struct{}

	logger *slog.Logger
}

// NewRegistry builds the slot table from configuration. Slots are ordered
// by ascending id; reserve scans in that order.
func NewRegistry(cfg config.GPUConfig, stagingRoot string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	slotCfgs := cfg.EffectiveSlots()
	if len(slotCfgs) == 0 {
		return nil, fmt.Errorf("no gpu slots configured")
	}

	slots := make([]*slot, 0, len(slotCfgs))
	for _, sc := range slotCfgs {
		stagingDir := sc.StagingDir
		if stagingDir == "" {
			stagingDir = filepath.Join(stagingRoot, fmt.Sprintf("gpu%d", sc.ID))
		}
		slots = append(slots, &slot{
			endpoint: Endpoint{
				ID:           sc.ID,
				InferenceURL: fmt.Sprintf("http://%s:%d", cfg.Host, sc.InferencePort),
				TTSURL:       fmt.Sprintf("http://%s:%d", cfg.Host, sc.TTSPort),
				StagingDir:   stagingDir,
			},
		})
	}

	return &Registry{
		slots:    slots,
		dispatch: make(chan struct{}, len(slots)),
		logger:   logger.With(slog.String("component", "gpu-registry")),
	}, nil
}

// Count returns the number of managed slots.
func (r *Registry) Count() int {
	return len(r.slots)
}

// Endpoint returns the immutable descriptor for a slot id.
func (r *Registry) Endpoint(id int) (Endpoint, error) {
	for _, s := range r.slots {
		if s.endpoint.ID == id {
			return s.endpoint, nil
		}
	}
	return Endpoint{}, fmt.Errorf("unknown gpu slot %d", id)
}

// Endpoints returns all slot descriptors in ascending-id order.
func (r *Registry) Endpoints() []Endpoint {
	eps := make([]Endpoint, 0, len(r.slots))
	for _, s := range r.slots {
		eps = append(eps, s.endpoint)
	}
	return eps
}

// Reserve binds the lowest-id free slot to taskID and returns its id.
// Returns (-1, false) when every slot is busy. Two concurrent reserves
// never return the same id.
func (r *Registry) Reserve(taskID string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.slots {
		if s.busy {
			continue
		}
		s.busy = true
		s.currentTask = taskID
		r.logger.Debug("gpu reserved",
			slog.Int("gpu", s.endpoint.ID),
			slog.String("task_id", taskID),
		)
		return s.endpoint.ID, true
	}
	return -1, false
}

// Release clears the slot's binding if it is held by taskID and posts a
// dispatch signal. A mismatched release is logged and leaves the slot
// untouched, protecting a later reservation from an earlier task's
// double-release.
func (r *Registry) Release(gpuID int, taskID string) bool {
	r.mu.Lock()
	var released bool
	for _, s := range r.slots {
		if s.endpoint.ID != gpuID {
			continue
		}
		if s.currentTask != taskID {
			r.logger.Warn("gpu release mismatch",
				slog.Int("gpu", gpuID),
				slog.String("task_id", taskID),
				slog.String("holder", s.currentTask),
			)
			break
		}
		s.busy = false
		s.currentTask = ""
		released = true
		break
	}
	r.mu.Unlock()

	if released {
		r.logger.Debug("gpu released",
			slog.Int("gpu", gpuID),
			slog.String("task_id", taskID),
		)
		r.signalDispatch()
	}
	return released
}

// ResetAll clears every binding under one lock acquisition and returns the
// ids of slots that were busy. Used by the admin reset.
func (r *Registry) ResetAll() []int {
	r.mu.Lock()
	var cleared []int
	for _, s := range r.slots {
		if !s.busy {
			continue
		}
		cleared = append(cleared, s.endpoint.ID)
		s.busy = false
		s.currentTask = ""
	}
	r.mu.Unlock()

	if len(cleared) > 0 {
		r.logger.Warn("gpu registry reset", slog.Int("cleared", len(cleared)))
		r.signalDispatch()
	}
	return cleared
}

// FreeCount returns the number of currently free slots.
func (r *Registry) FreeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	free := 0
	for _, s := range r.slots {
		if !s.busy {
			free++
		}
	}
	return free
}

// Holder returns the task currently bound to a slot, if any.
func (r *Registry) Holder(gpuID int) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.slots {
		if s.endpoint.ID == gpuID {
			return s.currentTask, s.busy
		}
	}
	return "", false
}

// Snapshot returns the observable state of every slot, including the most
// recent sampler readings.
func (r *Registry) Snapshot() []SlotStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	statuses := make([]SlotStatus, 0, len(r.slots))
	for _, s := range r.slots {
		statuses = append(statuses, SlotStatus{
			ID:             s.endpoint.ID,
			Busy:           s.busy,
			CurrentTask:    s.currentTask,
			MemoryUsedMB:   s.memoryUsedMB,
			UtilizationPct: s.utilizationPct,
			InferenceURL:   s.endpoint.InferenceURL,
			TTSURL:         s.endpoint.TTSURL,
		})
	}
	return statuses
}

// DispatchSignals returns the channel releases and resets post to. The
// engine's dispatcher goroutine is the sole consumer.
func (r *Registry) DispatchSignals() <-chan struct{} {
	return r.dispatch
}

func (r *Registry) signalDispatch() {
	select {
	case r.dispatch <- struct{}{}:
	default:
	}
}

// setSample records sampler readings for a slot. Unknown ids are ignored so
// a machine exposing more physical GPUs than configured slots stays quiet.
func (r *Registry) setSample(gpuID, memoryUsedMB, utilizationPct int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.slots {
		if s.endpoint.ID == gpuID {
			s.memoryUsedMB = memoryUsedMB
			s.utilizationPct = utilizationPct
			return
		}
	}
}
