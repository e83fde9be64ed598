// Package engine owns the task state machine: the in-memory task table, the
// FIFO wait queue, GPU dispatch, terminal transitions, and administrative
// reset. One scheduler lock guards every decision; all I/O happens outside
// it in the pipeline drivers.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/surajit20072003/heygemd/internal/gpu"
	"github.com/surajit20072003/heygemd/internal/models"
)

// DefaultTableCapacity bounds the task table when no capacity is configured.
const DefaultTableCapacity = 1000

// dispatchBuffer sizes the dispatched-task channel. The dispatcher blocks
// once a burst exceeds it, which only delays queued hand-offs, never drops
// them.
const dispatchBuffer = 16

var (
	// ErrTaskNotFound is returned for operations on unknown task ids.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskExists is returned when a task id is added twice.
	ErrTaskExists = errors.New("task already exists")

	// ErrReserveWindowLapsed is returned when a chunked run could not hold
	// all its GPUs inside the reserve window.
	ErrReserveWindowLapsed = errors.New("gpu reserve window lapsed")

	// ErrStopped is returned when the engine is shutting down.
	ErrStopped = errors.New("engine stopped")
)

// ResetSummary reports what an administrative reset swept away.
type ResetSummary struct {
	TasksFailed  int   `json:"tasks_failed"`
	QueueCleared int   `json:"queue_cleared"`
	SlotsFreed   []int `json:"slots_freed"`
}

// Engine is the scheduler core. Every mutation of task phase, the wait
// queue, or a GPU binding happens under its lock; the registry lock nests
// inside it and is never held across I/O.
type Engine struct {
	mu   sync.Mutex
	cond *sync.Cond

	tasks map[string]*models.Task
	order []string // insertion order, oldest first
	queue []string // FIFO of queued task ids

	registry *gpu.Registry
	logger   *slog.Logger

	capacity int

	dispatchCh chan string

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped bool
}

// New creates an Engine over the GPU registry. capacity bounds the task
// table; only terminal tasks are ever evicted to honor it.
func New(registry *gpu.Registry, capacity int, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if capacity <= 0 {
		capacity = DefaultTableCapacity
	}
	e := &Engine{
		tasks:      make(map[string]*models.Task),
		registry:   registry,
		logger:     logger.With(slog.String("component", "engine")),
		capacity:   capacity,
		dispatchCh: make(chan string, dispatchBuffer),
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Start launches the dispatcher goroutine. It consumes the registry's
// dispatch signals and is the only goroutine that pops the wait queue.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ctx != nil {
		return fmt.Errorf("engine already started")
	}
	e.ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(1)
	go e.dispatchLoop()

	e.logger.Info("engine started",
		slog.Int("gpus", e.registry.Count()),
		slog.Int("table_capacity", e.capacity))
	return nil
}

// Stop halts the dispatcher and wakes any chunked reservation waiters.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.cancel == nil || e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.cancel()
	e.cond.Broadcast()
	e.mu.Unlock()

	e.wg.Wait()
	e.logger.Info("engine stopped")
}

// Dispatched yields ids of queued tasks that just received a GPU. The
// pipeline resumes each from the TTS stage.
func (e *Engine) Dispatched() <-chan string {
	return e.dispatchCh
}

// Add registers an accepted task in the table.
func (e *Engine) Add(task *models.Task) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := task.ID.String()
	if _, exists := e.tasks[id]; exists {
		return fmt.Errorf("%w: %s", ErrTaskExists, id)
	}
	e.tasks[id] = task
	e.order = append(e.order, id)
	e.evictLocked()
	return nil
}

// Get returns a point-in-time copy of the task.
func (e *Engine) Get(id string) (*models.Task, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.tasks[id]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// List returns copies of every task, newest first.
func (e *Engine) List() []*models.Task {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*models.Task, 0, len(e.order))
	for i := len(e.order) - 1; i >= 0; i-- {
		if t, ok := e.tasks[e.order[i]]; ok {
			out = append(out, t.Clone())
		}
	}
	return out
}

// QueueDepth returns the number of waiting tasks.
func (e *Engine) QueueDepth() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// QueuePosition returns the 1-based wait position of a queued task.
func (e *Engine) QueuePosition(id string) (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, qid := range e.queue {
		if qid == id {
			return i + 1, true
		}
	}
	return 0, false
}

// Transition moves a task to the next non-terminal phase, enforcing the
// forward-only machine.
func (e *Engine) Transition(id string, next models.TaskPhase) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if !t.Phase.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidPhaseTransition, t.Phase, next)
	}
	t.Phase = next
	return nil
}

// ReserveOrEnqueue attempts to reserve a GPU for the task. When the wait
// queue is non-empty the task queues directly so arrivals never leapfrog
// earlier waiters; otherwise a free slot binds immediately. Returns the
// reserved endpoint, or reserved=false once the task is queued.
func (e *Engine) ReserveOrEnqueue(id string) (gpu.Endpoint, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.tasks[id]
	if !ok {
		return gpu.Endpoint{}, false, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if !t.Phase.CanTransition(models.TaskPhaseReserving) {
		return gpu.Endpoint{}, false, fmt.Errorf("%w: %s -> %s",
			models.ErrInvalidPhaseTransition, t.Phase, models.TaskPhaseReserving)
	}
	t.Phase = models.TaskPhaseReserving

	if len(e.queue) == 0 {
		if gpuID, reserved := e.registry.Reserve(id); reserved {
			t.MarkReserved(gpuID)
			ep, err := e.registry.Endpoint(gpuID)
			if err != nil {
				// The registry handed out an id it cannot describe;
				// undo the binding rather than strand the slot.
				e.registry.Release(gpuID, id)
				t.GPU = -1
				return gpu.Endpoint{}, false, err
			}
			e.logger.Debug("reserved gpu",
				slog.String("task", id), slog.Int("gpu", gpuID))
			return ep, true, nil
		}
	}

	t.MarkQueued()
	e.queue = append(e.queue, id)
	e.logger.Info("task queued",
		slog.String("task", id), slog.Int("position", len(e.queue)))
	return gpu.Endpoint{}, false, nil
}

// Endpoints lists every configured GPU endpoint regardless of binding.
func (e *Engine) Endpoints() []gpu.Endpoint {
	return e.registry.Endpoints()
}

// Endpoint resolves the endpoint of the task's bound GPU.
func (e *Engine) Endpoint(id string) (gpu.Endpoint, error) {
	e.mu.Lock()
	t, ok := e.tasks[id]
	if !ok {
		e.mu.Unlock()
		return gpu.Endpoint{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	gpuID := t.GPU
	e.mu.Unlock()

	if gpuID < 0 {
		return gpu.Endpoint{}, fmt.Errorf("task %s holds no gpu", id)
	}
	return e.registry.Endpoint(gpuID)
}

// ReserveChunkGPUs holds n distinct GPUs for a chunked run, all or none.
// Each attempt reserves the full set inside one critical section, so a
// partial set is never held while waiting; the call retries on every
// release until the window lapses. Chunk records receive their GPU
// bindings in index order.
func (e *Engine) ReserveChunkGPUs(id string, window time.Duration) ([]gpu.Endpoint, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	n := len(t.Chunks)
	if n == 0 {
		return nil, models.ErrInvalidChunkCount
	}

	deadline := time.Now().Add(window)
	for {
		if e.stopped {
			return nil, ErrStopped
		}
		if e.registry.FreeCount() >= n {
			ids := make([]int, 0, n)
			complete := true
			for i := 0; i < n; i++ {
				gpuID, reserved := e.registry.Reserve(t.Chunks[i].Code)
				if !reserved {
					complete = false
					break
				}
				ids = append(ids, gpuID)
			}
			if complete {
				now := time.Now()
				t.ReservedAt = &now
				endpoints := make([]gpu.Endpoint, n)
				for i, gpuID := range ids {
					t.Chunks[i].GPU = gpuID
					ep, err := e.registry.Endpoint(gpuID)
					if err != nil {
						for j, held := range ids {
							e.registry.Release(held, t.Chunks[j].Code)
							t.Chunks[j].GPU = -1
						}
						return nil, err
					}
					endpoints[i] = ep
				}
				e.logger.Info("reserved chunk gpus",
					slog.String("task", id), slog.Int("chunks", n))
				return endpoints, nil
			}
			// Free count lied only if something raced us outside the
			// engine lock; roll back and retry.
			for i, held := range ids {
				e.registry.Release(held, t.Chunks[i].Code)
			}
		}
		if !e.waitFreeLocked(deadline) {
			return nil, fmt.Errorf("%w: %d gpus within %s", ErrReserveWindowLapsed, n, window)
		}
	}
}

// waitFreeLocked blocks on the release condition until woken or the
// deadline passes. Caller holds the lock; returns false once the deadline
// is behind us.
func (e *Engine) waitFreeLocked(deadline time.Time) bool {
	if !time.Now().Before(deadline) {
		return false
	}
	timer := time.AfterFunc(time.Until(deadline), e.cond.Broadcast)
	defer timer.Stop()
	e.cond.Wait()
	return time.Now().Before(deadline) && !e.stopped
}

// SetMedia records the resolved reference media paths.
func (e *Engine) SetMedia(id, videoPath, referenceAudio string) error {
	return e.mutate(id, func(t *models.Task) {
		t.VideoPath = videoPath
		t.ReferenceAudioPath = referenceAudio
	})
}

// SetNormalizedText records the spoken-form narration text.
func (e *Engine) SetNormalizedText(id, text string) error {
	return e.mutate(id, func(t *models.Task) {
		t.NormalizedText = text
	})
}

// SetGeneratedAudio records the TTS outcome.
func (e *Engine) SetGeneratedAudio(id, path string, degraded bool, took time.Duration) error {
	return e.mutate(id, func(t *models.Task) {
		t.GeneratedAudioPath = path
		t.TTSDegraded = degraded
		t.TTSDuration = took
	})
}

// MarkSubmitted records backend acceptance and starts the inference clock.
func (e *Engine) MarkSubmitted(id string) error {
	return e.mutate(id, func(t *models.Task) {
		t.MarkSubmitted()
	})
}

// RecordProgress stores the latest backend progress percent.
func (e *Engine) RecordProgress(id string, pct int) error {
	return e.mutate(id, func(t *models.Task) {
		if pct > t.Progress {
			t.Progress = pct
		}
	})
}

// SetChunks attaches the chunk records of a chunked run, in index order.
func (e *Engine) SetChunks(id string, chunks []*models.Chunk) error {
	return e.mutate(id, func(t *models.Task) {
		t.Chunks = chunks
	})
}

// SetChunkOutput marks one chunk complete.
func (e *Engine) SetChunkOutput(id string, index int, outputPath string) error {
	return e.mutateErr(id, func(t *models.Task) error {
		if index < 0 || index >= len(t.Chunks) {
			return fmt.Errorf("chunk index %d out of range", index)
		}
		t.Chunks[index].OutputPath = outputPath
		t.Chunks[index].Completed = true
		return nil
	})
}

// SetChunkError records one chunk's failure reason.
func (e *Engine) SetChunkError(id string, index int, reason string) error {
	return e.mutateErr(id, func(t *models.Task) error {
		if index < 0 || index >= len(t.Chunks) {
			return fmt.Errorf("chunk index %d out of range", index)
		}
		t.Chunks[index].Error = reason
		return nil
	})
}

// Complete moves the task to its terminal success state and releases its
// reservation.
func (e *Engine) Complete(id, outputPath string) error {
	return e.terminal(id, func(t *models.Task) {
		t.MarkCompleted(outputPath)
	})
}

// Fail moves the task to the failed state with a classified kind.
func (e *Engine) Fail(id string, kind models.ErrorKind, message string) error {
	return e.terminal(id, func(t *models.Task) {
		t.MarkFailed(kind, message)
	})
}

// Expire moves the task to the timeout state.
func (e *Engine) Expire(id, message string) error {
	return e.terminal(id, func(t *models.Task) {
		t.MarkTimeout(message)
	})
}

// Reset is the administrative wipe: every live task fails with AdminReset,
// every slot clears, the queue empties. One lock acquisition end to end.
func (e *Engine) Reset() ResetSummary {
	e.mu.Lock()
	defer e.mu.Unlock()

	var summary ResetSummary
	for _, id := range e.order {
		t, ok := e.tasks[id]
		if !ok || t.IsTerminal() {
			continue
		}
		if !t.Released {
			if t.GPU >= 0 {
				summary.SlotsFreed = append(summary.SlotsFreed, t.GPU)
			}
			for _, c := range t.Chunks {
				if c.GPU >= 0 {
					summary.SlotsFreed = append(summary.SlotsFreed, c.GPU)
				}
			}
		}
		t.MarkFailed(models.ErrorKindAdminReset, "administrative reset")
		e.releaseLocked(t)
		summary.TasksFailed++
	}

	summary.QueueCleared = len(e.queue)
	e.queue = nil

	// Catch any binding the task table no longer knows about.
	summary.SlotsFreed = append(summary.SlotsFreed, e.registry.ResetAll()...)

	e.cond.Broadcast()
	e.logger.Warn("administrative reset",
		slog.Int("tasks_failed", summary.TasksFailed),
		slog.Int("queue_cleared", summary.QueueCleared),
		slog.Int("slots_freed", len(summary.SlotsFreed)))
	return summary
}

// SweepTerminal evicts terminal tasks older than the retention window.
// Returns the number removed.
func (e *Engine) SweepTerminal(retention time.Duration) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := time.Now().Add(-retention)
	removed := 0
	kept := e.order[:0]
	for _, id := range e.order {
		t, ok := e.tasks[id]
		if !ok {
			continue
		}
		if t.IsTerminal() && t.CompletedAt != nil && t.CompletedAt.Before(cutoff) {
			delete(e.tasks, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	e.order = kept
	return removed
}

// mutate applies fn to the task under the scheduler lock.
func (e *Engine) mutate(id string, fn func(*models.Task)) error {
	return e.mutateErr(id, func(t *models.Task) error {
		fn(t)
		return nil
	})
}

func (e *Engine) mutateErr(id string, fn func(*models.Task) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return fn(t)
}

// terminal applies the terminal mutation and releases the reservation
// exactly once.
func (e *Engine) terminal(id string, fn func(*models.Task)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if t.IsTerminal() {
		// Competing terminal causes (timeout vs monitor verdict) resolve
		// first-wins; the loser's outcome is dropped.
		return nil
	}

	fn(t)
	e.removeFromQueueLocked(id)
	e.releaseLocked(t)
	e.evictLocked()
	return nil
}

// releaseLocked returns the task's reservation (or its chunks') to the
// registry. Guarded by the task's release-once flag.
func (e *Engine) releaseLocked(t *models.Task) {
	if t.Released {
		return
	}
	id := t.ID.String()
	if t.GPU >= 0 {
		e.registry.Release(t.GPU, id)
	}
	for _, c := range t.Chunks {
		if c.GPU >= 0 {
			e.registry.Release(c.GPU, c.Code)
		}
	}
	t.Released = true
	e.cond.Broadcast()
}

// removeFromQueueLocked drops the task from the wait queue if present.
func (e *Engine) removeFromQueueLocked(id string) {
	for i, qid := range e.queue {
		if qid == id {
			e.queue = append(e.queue[:i], e.queue[i+1:]...)
			return
		}
	}
}

// evictLocked enforces the table capacity by dropping the oldest terminal
// tasks. Live tasks are never evicted, so the table can exceed capacity
// while everything in it is still running.
func (e *Engine) evictLocked() {
	if len(e.order) <= e.capacity {
		return
	}
	kept := e.order[:0]
	over := len(e.order) - e.capacity
	for _, id := range e.order {
		if over > 0 {
			if t, ok := e.tasks[id]; ok && t.IsTerminal() {
				delete(e.tasks, id)
				over--
				continue
			}
		}
		kept = append(kept, id)
	}
	e.order = kept
}

// dispatchLoop is the sole queue consumer. Each registry release (or reset)
// posts a signal; the loop then drains as many head-of-queue dispatches as
// free slots allow.
func (e *Engine) dispatchLoop() {
	defer e.wg.Done()

	signals := e.registry.DispatchSignals()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-signals:
			e.drainDispatch()
		}
	}
}

// drainDispatch pops and reserves queue heads until the queue is empty or
// no slot is free. Reservation and pop happen in one critical section, so
// no observer can see a slot reserved for the head without the head gone.
func (e *Engine) drainDispatch() {
	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			e.mu.Unlock()
			return
		}
		id := e.queue[0]
		t, ok := e.tasks[id]
		if !ok || t.IsTerminal() {
			// Stale entry (evicted or reset while queued); drop and keep
			// draining.
			e.queue = e.queue[1:]
			e.mu.Unlock()
			continue
		}
		gpuID, reserved := e.registry.Reserve(id)
		if !reserved {
			e.mu.Unlock()
			return
		}
		e.queue = e.queue[1:]
		t.Phase = models.TaskPhaseReserving
		t.MarkReserved(gpuID)
		e.mu.Unlock()

		select {
		case e.dispatchCh <- id:
			e.logger.Info("dispatched queued task",
				slog.String("task", id), slog.Int("gpu", gpuID))
		case <-e.ctx.Done():
			return
		}
	}
}
