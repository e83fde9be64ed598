package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surajit20072003/heygemd/internal/config"
	"github.com/surajit20072003/heygemd/internal/gpu"
	"github.com/surajit20072003/heygemd/internal/models"
)

func newTestEngine(t *testing.T, gpus, capacity int) *Engine {
	t.Helper()
	reg, err := gpu.NewRegistry(config.GPUConfig{
		Count:         gpus,
		Host:          "127.0.0.1",
		InferenceBase: 8390,
		TTSBase:       18182,
	}, t.TempDir(), nil)
	require.NoError(t, err)
	return New(reg, capacity, nil)
}

func addTask(t *testing.T, e *Engine, text string) *models.Task {
	t.Helper()
	task := models.NewTask(text)
	require.NoError(t, e.Add(task))
	return task
}

func withChunks(t *testing.T, e *Engine, task *models.Task, n int) {
	t.Helper()
	chunks := make([]*models.Chunk, n)
	for i := range chunks {
		chunks[i] = &models.Chunk{
			Index: i,
			Code:  models.ChunkCode(task.Code, i),
			GPU:   -1,
		}
	}
	require.NoError(t, e.SetChunks(task.ID.String(), chunks))
}

func waitDispatch(t *testing.T, e *Engine) string {
	t.Helper()
	select {
	case id := <-e.Dispatched():
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("no dispatch within deadline")
		return ""
	}
}

func TestEngine_AddAndGet(t *testing.T) {
	e := newTestEngine(t, 1, 10)
	task := addTask(t, e, "hello")

	got, ok := e.Get(task.ID.String())
	require.True(t, ok)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, models.TaskPhaseAccepted, got.Phase)

	// Copies are detached from the table.
	got.Text = "mutated"
	again, _ := e.Get(task.ID.String())
	assert.Equal(t, "hello", again.Text)

	_, ok = e.Get("missing")
	assert.False(t, ok)

	err := e.Add(task)
	assert.ErrorIs(t, err, ErrTaskExists)
}

func TestEngine_ListNewestFirst(t *testing.T) {
	e := newTestEngine(t, 1, 10)
	first := addTask(t, e, "first")
	second := addTask(t, e, "second")

	list := e.List()
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
}

func TestEngine_ReserveOrEnqueue_Immediate(t *testing.T) {
	e := newTestEngine(t, 2, 10)
	task := addTask(t, e, "text")
	id := task.ID.String()

	ep, reserved, err := e.ReserveOrEnqueue(id)
	require.NoError(t, err)
	require.True(t, reserved)
	assert.Equal(t, 0, ep.ID)
	assert.NotEmpty(t, ep.InferenceURL)
	assert.NotEmpty(t, ep.TTSURL)

	got, _ := e.Get(id)
	assert.Equal(t, models.TaskPhaseReserving, got.Phase)
	assert.Equal(t, 0, got.GPU)
	require.NotNil(t, got.ReservedAt)
}

func TestEngine_ReserveOrEnqueue_QueuesWhenBusy(t *testing.T) {
	e := newTestEngine(t, 1, 10)
	a := addTask(t, e, "a")
	b := addTask(t, e, "b")

	_, reserved, err := e.ReserveOrEnqueue(a.ID.String())
	require.NoError(t, err)
	require.True(t, reserved)

	_, reserved, err = e.ReserveOrEnqueue(b.ID.String())
	require.NoError(t, err)
	assert.False(t, reserved)

	got, _ := e.Get(b.ID.String())
	assert.Equal(t, models.TaskPhaseQueued, got.Phase)
	require.NotNil(t, got.QueuedAt)

	pos, ok := e.QueuePosition(b.ID.String())
	require.True(t, ok)
	assert.Equal(t, 1, pos)
	assert.Equal(t, 1, e.QueueDepth())
}

// A free slot must not let a new arrival leapfrog earlier waiters. The
// dispatcher is deliberately not started here so the freed slot stays
// unclaimed.
func TestEngine_ReserveOrEnqueue_FIFOFairness(t *testing.T) {
	e := newTestEngine(t, 1, 10)
	a := addTask(t, e, "a")
	b := addTask(t, e, "b")
	c := addTask(t, e, "c")

	_, reserved, _ := e.ReserveOrEnqueue(a.ID.String())
	require.True(t, reserved)
	_, reserved, _ = e.ReserveOrEnqueue(b.ID.String())
	require.False(t, reserved)

	require.NoError(t, e.Complete(a.ID.String(), "/out/a.mp4"))

	_, reserved, err := e.ReserveOrEnqueue(c.ID.String())
	require.NoError(t, err)
	assert.False(t, reserved, "arrival must queue behind the existing waiter")

	posB, _ := e.QueuePosition(b.ID.String())
	posC, _ := e.QueuePosition(c.ID.String())
	assert.Equal(t, 1, posB)
	assert.Equal(t, 2, posC)
}

func TestEngine_DispatcherHandsSlotToQueueHead(t *testing.T) {
	e := newTestEngine(t, 1, 10)
	require.NoError(t, e.Start(context.Background()))
	defer e.Stop()

	a := addTask(t, e, "a")
	b := addTask(t, e, "b")
	c := addTask(t, e, "c")

	_, reserved, _ := e.ReserveOrEnqueue(a.ID.String())
	require.True(t, reserved)
	e.ReserveOrEnqueue(b.ID.String())
	e.ReserveOrEnqueue(c.ID.String())

	require.NoError(t, e.Complete(a.ID.String(), "/out/a.mp4"))
	assert.Equal(t, b.ID.String(), waitDispatch(t, e))

	got, _ := e.Get(b.ID.String())
	assert.Equal(t, models.TaskPhaseReserving, got.Phase)
	assert.Equal(t, 0, got.GPU)

	pos, ok := e.QueuePosition(c.ID.String())
	require.True(t, ok)
	assert.Equal(t, 1, pos)

	require.NoError(t, e.Fail(b.ID.String(), models.ErrorKindTts, "synth failed"))
	assert.Equal(t, c.ID.String(), waitDispatch(t, e))
}

func TestEngine_TerminalReleasesOnce(t *testing.T) {
	e := newTestEngine(t, 1, 10)
	task := addTask(t, e, "text")
	id := task.ID.String()

	_, reserved, _ := e.ReserveOrEnqueue(id)
	require.True(t, reserved)

	require.NoError(t, e.Complete(id, "/out/x.mp4"))

	got, _ := e.Get(id)
	assert.Equal(t, models.TaskPhaseCompleted, got.Phase)
	assert.Equal(t, "/out/x.mp4", got.OutputPath)
	assert.Equal(t, 100, got.Progress)
	assert.True(t, got.Released)

	// A competing terminal verdict is dropped, not applied.
	require.NoError(t, e.Fail(id, models.ErrorKindBackendFailed, "too late"))
	got, _ = e.Get(id)
	assert.Equal(t, models.TaskPhaseCompleted, got.Phase)
	assert.Empty(t, got.ErrorMessage)
}

func TestEngine_FailRemovesQueuedTask(t *testing.T) {
	e := newTestEngine(t, 1, 10)
	a := addTask(t, e, "a")
	b := addTask(t, e, "b")

	e.ReserveOrEnqueue(a.ID.String())
	e.ReserveOrEnqueue(b.ID.String())
	require.Equal(t, 1, e.QueueDepth())

	require.NoError(t, e.Fail(b.ID.String(), models.ErrorKindValidation, "bad input"))
	assert.Equal(t, 0, e.QueueDepth())
	_, ok := e.QueuePosition(b.ID.String())
	assert.False(t, ok)
}

func TestEngine_ReserveChunkGPUs_AllOrNone(t *testing.T) {
	e := newTestEngine(t, 2, 10)
	task := addTask(t, e, "long narration")
	id := task.ID.String()
	withChunks(t, e, task, 2)

	endpoints, err := e.ReserveChunkGPUs(id, time.Second)
	require.NoError(t, err)
	require.Len(t, endpoints, 2)
	assert.Equal(t, 0, endpoints[0].ID)
	assert.Equal(t, 1, endpoints[1].ID)

	got, _ := e.Get(id)
	assert.Equal(t, 0, got.Chunks[0].GPU)
	assert.Equal(t, 1, got.Chunks[1].GPU)

	// Terminal release frees every chunk binding.
	require.NoError(t, e.Complete(id, "/out/final.mp4"))
	next := addTask(t, e, "next up")
	_, reserved, err := e.ReserveOrEnqueue(next.ID.String())
	require.NoError(t, err)
	assert.True(t, reserved)
}

func TestEngine_ReserveChunkGPUs_WindowLapses(t *testing.T) {
	e := newTestEngine(t, 2, 10)
	blocker := addTask(t, e, "blocker")
	_, reserved, _ := e.ReserveOrEnqueue(blocker.ID.String())
	require.True(t, reserved)

	task := addTask(t, e, "chunked")
	withChunks(t, e, task, 2)

	start := time.Now()
	_, err := e.ReserveChunkGPUs(task.ID.String(), 50*time.Millisecond)
	require.ErrorIs(t, err, ErrReserveWindowLapsed)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	// No partial set may be held while waiting or after giving up.
	got, _ := e.Get(task.ID.String())
	assert.Equal(t, -1, got.Chunks[0].GPU)
	assert.Equal(t, -1, got.Chunks[1].GPU)
}

func TestEngine_ReserveChunkGPUs_WaitsForRelease(t *testing.T) {
	e := newTestEngine(t, 2, 10)
	blocker := addTask(t, e, "blocker")
	_, reserved, _ := e.ReserveOrEnqueue(blocker.ID.String())
	require.True(t, reserved)

	task := addTask(t, e, "chunked")
	withChunks(t, e, task, 2)

	go func() {
		time.Sleep(20 * time.Millisecond)
		e.Complete(blocker.ID.String(), "/out/blocker.mp4")
	}()

	endpoints, err := e.ReserveChunkGPUs(task.ID.String(), 2*time.Second)
	require.NoError(t, err)
	assert.Len(t, endpoints, 2)
}

func TestEngine_ReserveChunkGPUs_NoChunks(t *testing.T) {
	e := newTestEngine(t, 2, 10)
	task := addTask(t, e, "plain")

	_, err := e.ReserveChunkGPUs(task.ID.String(), time.Second)
	assert.ErrorIs(t, err, models.ErrInvalidChunkCount)
}

func TestEngine_Reset(t *testing.T) {
	e := newTestEngine(t, 2, 10)
	holder := addTask(t, e, "holding")
	queued := addTask(t, e, "waiting")
	done := addTask(t, e, "done")

	_, reserved, _ := e.ReserveOrEnqueue(holder.ID.String())
	require.True(t, reserved)
	_, reserved, _ = e.ReserveOrEnqueue(done.ID.String())
	require.True(t, reserved)

	// Queue while both slots are held, then finish one task. The
	// dispatcher is not running, so the waiter stays queued.
	_, reserved, _ = e.ReserveOrEnqueue(queued.ID.String())
	require.False(t, reserved)
	require.NoError(t, e.Complete(done.ID.String(), "/out/done.mp4"))

	summary := e.Reset()
	assert.Equal(t, 2, summary.TasksFailed)
	assert.Equal(t, 1, summary.QueueCleared)
	assert.Equal(t, []int{0}, summary.SlotsFreed)

	h, _ := e.Get(holder.ID.String())
	assert.Equal(t, models.TaskPhaseFailed, h.Phase)
	assert.Equal(t, models.ErrorKindAdminReset, h.ErrorKind)

	q, _ := e.Get(queued.ID.String())
	assert.Equal(t, models.TaskPhaseFailed, q.Phase)

	// Finished work is left alone.
	d, _ := e.Get(done.ID.String())
	assert.Equal(t, models.TaskPhaseCompleted, d.Phase)

	assert.Equal(t, 0, e.QueueDepth())
}

func TestEngine_EvictionSparesLiveTasks(t *testing.T) {
	e := newTestEngine(t, 1, 2)
	a := addTask(t, e, "a")
	b := addTask(t, e, "b")

	_, reserved, _ := e.ReserveOrEnqueue(a.ID.String())
	require.True(t, reserved)
	require.NoError(t, e.Complete(a.ID.String(), "/out/a.mp4"))

	// Third insert pushes the table over capacity; the completed task is
	// the only eviction candidate.
	c := addTask(t, e, "c")

	_, ok := e.Get(a.ID.String())
	assert.False(t, ok, "oldest terminal task should be evicted")
	_, ok = e.Get(b.ID.String())
	assert.True(t, ok)
	_, ok = e.Get(c.ID.String())
	assert.True(t, ok)
}

func TestEngine_EvictionNeverDropsLiveOverflow(t *testing.T) {
	e := newTestEngine(t, 1, 2)
	addTask(t, e, "a")
	addTask(t, e, "b")
	addTask(t, e, "c")

	// All three are live, so the table is allowed to exceed capacity.
	assert.Len(t, e.List(), 3)
}

func TestEngine_SweepTerminal(t *testing.T) {
	e := newTestEngine(t, 1, 10)
	old := addTask(t, e, "old")
	fresh := addTask(t, e, "fresh")
	live := addTask(t, e, "live")

	require.NoError(t, e.Complete(old.ID.String(), "/out/old.mp4"))
	require.NoError(t, e.Complete(fresh.ID.String(), "/out/fresh.mp4"))

	e.mu.Lock()
	past := time.Now().Add(-25 * time.Hour)
	e.tasks[old.ID.String()].CompletedAt = &past
	e.mu.Unlock()

	removed := e.SweepTerminal(24 * time.Hour)
	assert.Equal(t, 1, removed)

	_, ok := e.Get(old.ID.String())
	assert.False(t, ok)
	_, ok = e.Get(fresh.ID.String())
	assert.True(t, ok)
	_, ok = e.Get(live.ID.String())
	assert.True(t, ok)
}

func TestEngine_Transition(t *testing.T) {
	e := newTestEngine(t, 1, 10)
	task := addTask(t, e, "text")
	id := task.ID.String()

	require.NoError(t, e.Transition(id, models.TaskPhasePreprocessing))

	err := e.Transition(id, models.TaskPhaseAccepted)
	assert.ErrorIs(t, err, models.ErrInvalidPhaseTransition)

	assert.ErrorIs(t, e.Transition("missing", models.TaskPhaseTTS), ErrTaskNotFound)
}

func TestEngine_StartStop(t *testing.T) {
	e := newTestEngine(t, 1, 10)
	require.NoError(t, e.Start(context.Background()))
	assert.Error(t, e.Start(context.Background()))

	e.Stop()
	e.Stop() // idempotent
}

func TestEngine_StopUnblocksChunkWaiters(t *testing.T) {
	e := newTestEngine(t, 1, 10)
	blocker := addTask(t, e, "blocker")
	_, reserved, _ := e.ReserveOrEnqueue(blocker.ID.String())
	require.True(t, reserved)

	task := addTask(t, e, "chunked")
	withChunks(t, e, task, 1)

	require.NoError(t, e.Start(context.Background()))

	errCh := make(chan error, 1)
	go func() {
		_, err := e.ReserveChunkGPUs(task.ID.String(), time.Minute)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	e.Stop()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrStopped)
	case <-time.After(2 * time.Second):
		t.Fatal("chunk waiter not unblocked by Stop")
	}
}

func TestEngine_ConcurrentReserveNoDoubleBooking(t *testing.T) {
	const workers = 20
	e := newTestEngine(t, 4, workers)

	tasks := make([]*models.Task, workers)
	for i := range tasks {
		tasks[i] = addTask(t, e, "load")
	}

	var wg sync.WaitGroup
	reservedIDs := make(chan int, workers)
	for _, task := range tasks {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, reserved, err := e.ReserveOrEnqueue(id); err == nil && reserved {
				got, _ := e.Get(id)
				reservedIDs <- got.GPU
			}
		}(task.ID.String())
	}
	wg.Wait()
	close(reservedIDs)

	seen := make(map[int]bool)
	count := 0
	for gpuID := range reservedIDs {
		assert.False(t, seen[gpuID], "gpu %d booked twice", gpuID)
		seen[gpuID] = true
		count++
	}
	assert.LessOrEqual(t, count, 4)
	assert.Equal(t, workers-count, e.QueueDepth())
}
