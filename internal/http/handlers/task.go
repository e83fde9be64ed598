package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/surajit20072003/heygemd/internal/avatar"
	"github.com/surajit20072003/heygemd/internal/engine"
	"github.com/surajit20072003/heygemd/internal/models"
)

// TaskLauncher starts the pipeline for an accepted task. Implemented by
// the pipeline driver.
type TaskLauncher interface {
	Launch(taskID string) error
}

// TaskHandler handles task intake, status, listing, and download.
type TaskHandler struct {
	engine        *engine.Engine
	launcher      TaskLauncher
	avatars       *avatar.Service
	queueCapacity int
	logger        *slog.Logger
}

// NewTaskHandler creates a task handler. queueCapacity bounds how many
// tasks may wait for a GPU before intake returns 503.
func NewTaskHandler(eng *engine.Engine, launcher TaskLauncher, avatars *avatar.Service, queueCapacity int, logger *slog.Logger) *TaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskHandler{
		engine:        eng,
		launcher:      launcher,
		avatars:       avatars,
		queueCapacity: queueCapacity,
		logger:        logger,
	}
}

// Register registers the task routes with the API.
func (h *TaskHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "createTask",
		Method:        "POST",
		Path:          "/api/v1/tasks",
		Summary:       "Submit a synthesis task",
		Description:   "Accepts a talking-head synthesis task and returns immediately; the pipeline runs asynchronously",
		Tags:          []string{"Tasks"},
		DefaultStatus: http.StatusAccepted,
	}, h.Create)

	huma.Register(api, huma.Operation{
		OperationID: "listTasks",
		Method:      "GET",
		Path:        "/api/v1/tasks",
		Summary:     "List tasks",
		Description: "Returns all known tasks, newest first",
		Tags:        []string{"Tasks"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getTask",
		Method:      "GET",
		Path:        "/api/v1/tasks/{id}",
		Summary:     "Get task status",
		Description: "Returns the current phase, progress, and timing of a task",
		Tags:        []string{"Tasks"},
	}, h.GetByID)
}

// RegisterDownload registers the finished-video download route on a chi
// router. This is a raw route because Huma does not stream files well.
func (h *TaskHandler) RegisterDownload(router interface {
	Get(pattern string, handlerFn http.HandlerFunc)
}) {
	router.Get("/api/v1/tasks/{id}/download", h.Download)
}

// CreateTaskRequest is the task intake body.
type CreateTaskRequest struct {
	Text               string `json:"text" doc:"Narration text to speak"`
	VideoPath          string `json:"video_path,omitempty" doc:"Host path of the reference face video"`
	ReferenceAudioPath string `json:"reference_audio_path,omitempty" doc:"Host path of the voice reference audio"`
	AvatarID           string `json:"avatar_id,omitempty" doc:"Avatar catalog id resolving video and audio"`
	Chunked            bool   `json:"chunked,omitempty" doc:"Split audio across all GPUs and assemble the results"`
	Chaofen            *int   `json:"chaofen,omitempty" doc:"Super-resolution toggle (0 or 1)"`
	Watermark          *int   `json:"watermark,omitempty" doc:"Watermark toggle (0 or 1)"`
	PN                 *int   `json:"pn,omitempty" doc:"Backend processing mode (>= 1)"`
}

// CreateTaskInput is the input for task intake.
type CreateTaskInput struct {
	Body CreateTaskRequest
}

// CreateTaskOutput is the output for task intake.
type CreateTaskOutput struct {
	Body TaskAcceptedResponse
}

// Create accepts a synthesis task. Media resolution order is explicit
// paths, then the avatar catalog, then configured defaults (applied by the
// pipeline). The response returns before any synthesis work starts.
func (h *TaskHandler) Create(ctx context.Context, input *CreateTaskInput) (*CreateTaskOutput, error) {
	if strings.TrimSpace(input.Body.Text) == "" {
		return nil, huma.Error400BadRequest("text is required")
	}

	if h.engine.QueueDepth() >= h.queueCapacity {
		return nil, huma.Error503ServiceUnavailable(
			fmt.Sprintf("queue full: %d tasks waiting", h.queueCapacity))
	}

	task := models.NewTask(input.Body.Text)
	task.VideoPath = input.Body.VideoPath
	task.ReferenceAudioPath = input.Body.ReferenceAudioPath
	task.Chunked = input.Body.Chunked

	if input.Body.AvatarID != "" {
		av, err := h.avatars.Resolve(ctx, input.Body.AvatarID)
		if err != nil {
			switch {
			case errors.Is(err, avatar.ErrInvalidID):
				return nil, huma.Error400BadRequest(err.Error())
			case errors.Is(err, models.ErrAvatarNotFound):
				return nil, huma.Error404NotFound(fmt.Sprintf("avatar %s not found", input.Body.AvatarID))
			default:
				return nil, huma.Error500InternalServerError("failed to resolve avatar", err)
			}
		}
		task.AvatarID = &av.ID
		if task.VideoPath == "" {
			task.VideoPath = av.VideoPath
		}
		if task.ReferenceAudioPath == "" {
			task.ReferenceAudioPath = av.AudioPath
		}
	}

	if input.Body.Chaofen != nil {
		if *input.Body.Chaofen != 0 && *input.Body.Chaofen != 1 {
			return nil, huma.Error400BadRequest("chaofen must be 0 or 1")
		}
		task.Options.Chaofen = *input.Body.Chaofen
	}
	if input.Body.Watermark != nil {
		if *input.Body.Watermark != 0 && *input.Body.Watermark != 1 {
			return nil, huma.Error400BadRequest("watermark must be 0 or 1")
		}
		task.Options.Watermark = *input.Body.Watermark
	}
	if input.Body.PN != nil {
		if *input.Body.PN < 1 {
			return nil, huma.Error400BadRequest("pn must be >= 1")
		}
		task.Options.PN = *input.Body.PN
	}

	if err := h.engine.Add(task); err != nil {
		return nil, huma.Error500InternalServerError("failed to register task", err)
	}
	if err := h.launcher.Launch(task.ID.String()); err != nil {
		return nil, huma.Error503ServiceUnavailable(err.Error())
	}

	h.logger.Info("task accepted",
		slog.String("task_id", task.ID.String()),
		slog.Bool("chunked", task.Chunked))

	return &CreateTaskOutput{
		Body: TaskAcceptedResponse{
			TaskID:    task.ID.String(),
			StatusURL: fmt.Sprintf("/api/v1/tasks/%s", task.ID),
		},
	}, nil
}

// ListTasksInput is the input for listing tasks.
type ListTasksInput struct{}

// ListTasksOutput is the output for listing tasks.
type ListTasksOutput struct {
	Body struct {
		Tasks []TaskResponse `json:"tasks"`
	}
}

// List returns all known tasks, newest first.
func (h *TaskHandler) List(ctx context.Context, input *ListTasksInput) (*ListTasksOutput, error) {
	tasks := h.engine.List()

	resp := &ListTasksOutput{}
	resp.Body.Tasks = make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		resp.Body.Tasks = append(resp.Body.Tasks, TaskFromModel(t, h.queuePosition(t)))
	}
	return resp, nil
}

// GetTaskInput is the input for getting task status.
type GetTaskInput struct {
	ID string `path:"id" doc:"Task ID (ULID)"`
}

// GetTaskOutput is the output for getting task status.
type GetTaskOutput struct {
	Body TaskResponse
}

// GetByID returns the status of one task.
func (h *TaskHandler) GetByID(ctx context.Context, input *GetTaskInput) (*GetTaskOutput, error) {
	if _, err := models.ParseULID(input.ID); err != nil {
		return nil, huma.Error400BadRequest("invalid task id", err)
	}

	t, ok := h.engine.Get(input.ID)
	if !ok {
		return nil, huma.Error404NotFound(fmt.Sprintf("task %s not found", input.ID))
	}

	return &GetTaskOutput{
		Body: TaskFromModel(t, h.queuePosition(t)),
	}, nil
}

// queuePosition returns the 1-based wait position for queued tasks, 0
// otherwise.
func (h *TaskHandler) queuePosition(t *models.Task) int {
	if t.Phase != models.TaskPhaseQueued {
		return 0
	}
	pos, ok := h.engine.QueuePosition(t.ID.String())
	if !ok {
		return 0
	}
	return pos
}

// Download streams the finished video. 404 until the task completes.
func (h *TaskHandler) Download(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	t, ok := h.engine.Get(id)
	if !ok {
		writeJSONError(w, fmt.Sprintf("task %s not found", id), http.StatusNotFound)
		return
	}
	if t.Phase != models.TaskPhaseCompleted || t.OutputPath == "" {
		writeJSONError(w, "output not available", http.StatusNotFound)
		return
	}

	file, err := os.Open(t.OutputPath)
	if err != nil {
		h.logger.Error("opening finished video",
			slog.String("task_id", id),
			slog.Any("error", err))
		writeJSONError(w, "output not available", http.StatusNotFound)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		writeJSONError(w, "failed to stat output", http.StatusInternalServerError)
		return
	}

	// Finished videos can outlast the server write timeout on slow links.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="%s"`, filepath.Base(t.OutputPath)))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", info.Size()))

	if _, err := io.Copy(w, file); err != nil {
		// Client may have disconnected mid-transfer.
		h.logger.Debug("download interrupted",
			slog.String("task_id", id),
			slog.Any("error", err))
	}
}

// writeJSONError writes an error response in JSON format for raw chi
// routes, matching the API's JSON error shape.
func writeJSONError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"title":%q,"status":%d}`, message, status)
}
