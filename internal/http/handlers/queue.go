package handlers

import (
	"context"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/surajit20072003/heygemd/internal/engine"
	"github.com/surajit20072003/heygemd/internal/gpu"
)

// QueueHandler handles queue, GPU, and admin endpoints.
type QueueHandler struct {
	engine   *engine.Engine
	registry *gpu.Registry
	logger   *slog.Logger
}

// NewQueueHandler creates a queue handler.
func NewQueueHandler(eng *engine.Engine, registry *gpu.Registry, logger *slog.Logger) *QueueHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueHandler{
		engine:   eng,
		registry: registry,
		logger:   logger,
	}
}

// Register registers the queue routes with the API.
func (h *QueueHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getQueue",
		Method:      "GET",
		Path:        "/api/v1/queue",
		Summary:     "Queue snapshot",
		Description: "Returns the number of waiting tasks and the GPU slot states",
		Tags:        []string{"Queue"},
	}, h.GetQueue)

	huma.Register(api, huma.Operation{
		OperationID: "listGPUs",
		Method:      "GET",
		Path:        "/api/v1/gpus",
		Summary:     "GPU registry snapshot",
		Description: "Returns every GPU slot with its binding and the latest sampler readings",
		Tags:        []string{"Queue"},
	}, h.ListGPUs)

	huma.Register(api, huma.Operation{
		OperationID: "adminReset",
		Method:      "POST",
		Path:        "/api/v1/admin/reset",
		Summary:     "Reset the scheduler",
		Description: "Fails every live task, clears the wait queue, and frees all GPU slots. Idempotent.",
		Tags:        []string{"Admin"},
	}, h.Reset)
}

// GetQueueInput is the input for the queue snapshot.
type GetQueueInput struct{}

// GetQueueOutput is the output for the queue snapshot.
type GetQueueOutput struct {
	Body struct {
		Waiting int               `json:"waiting" doc:"Tasks waiting for a GPU"`
		GPUs    []GPUSlotResponse `json:"gpus"`
	}
}

// GetQueue returns the wait queue depth and the GPU slot states.
func (h *QueueHandler) GetQueue(ctx context.Context, input *GetQueueInput) (*GetQueueOutput, error) {
	resp := &GetQueueOutput{}
	resp.Body.Waiting = h.engine.QueueDepth()

	snapshot := h.registry.Snapshot()
	resp.Body.GPUs = make([]GPUSlotResponse, 0, len(snapshot))
	for _, s := range snapshot {
		resp.Body.GPUs = append(resp.Body.GPUs, GPUSlotFromStatus(s))
	}
	return resp, nil
}

// ListGPUsInput is the input for the GPU snapshot.
type ListGPUsInput struct{}

// ListGPUsOutput is the output for the GPU snapshot.
type ListGPUsOutput struct {
	Body struct {
		GPUs []GPUSlotResponse `json:"gpus"`
	}
}

// ListGPUs returns the registry snapshot.
func (h *QueueHandler) ListGPUs(ctx context.Context, input *ListGPUsInput) (*ListGPUsOutput, error) {
	snapshot := h.registry.Snapshot()

	resp := &ListGPUsOutput{}
	resp.Body.GPUs = make([]GPUSlotResponse, 0, len(snapshot))
	for _, s := range snapshot {
		resp.Body.GPUs = append(resp.Body.GPUs, GPUSlotFromStatus(s))
	}
	return resp, nil
}

// ResetInput is the input for the admin reset.
type ResetInput struct{}

// ResetOutput is the output for the admin reset.
type ResetOutput struct {
	Body struct {
		TasksFailed  int   `json:"tasks_failed"`
		QueueCleared int   `json:"queue_cleared"`
		SlotsFreed   []int `json:"slots_freed"`
	}
}

// Reset fails every live task and frees all GPU slots. Running a reset on
// an idle scheduler is a no-op that reports zero counts.
func (h *QueueHandler) Reset(ctx context.Context, input *ResetInput) (*ResetOutput, error) {
	summary := h.engine.Reset()

	h.logger.Warn("admin reset",
		slog.Int("tasks_failed", summary.TasksFailed),
		slog.Int("queue_cleared", summary.QueueCleared),
		slog.Int("slots_freed", len(summary.SlotsFreed)))

	resp := &ResetOutput{}
	resp.Body.TasksFailed = summary.TasksFailed
	resp.Body.QueueCleared = summary.QueueCleared
	resp.Body.SlotsFreed = summary.SlotsFreed
	if resp.Body.SlotsFreed == nil {
		resp.Body.SlotsFreed = []int{}
	}
	return resp, nil
}
