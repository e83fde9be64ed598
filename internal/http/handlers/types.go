// Package handlers provides HTTP API handlers for heygemd.
package handlers

import (
	"fmt"
	"time"

	"github.com/surajit20072003/heygemd/internal/gpu"
	"github.com/surajit20072003/heygemd/internal/models"
)

// TaskAcceptedResponse is returned on task intake.
type TaskAcceptedResponse struct {
	TaskID    string `json:"task_id" doc:"ULID of the accepted task"`
	StatusURL string `json:"status_url" doc:"URL to poll for task status"`
}

// TaskErrorInfo describes a terminal failure.
type TaskErrorInfo struct {
	Kind    string `json:"kind" doc:"Failure classification"`
	Message string `json:"message,omitempty"`
}

// ChunkResponse is one chunk of a chunked-parallel run.
type ChunkResponse struct {
	Index      int    `json:"index"`
	Code       string `json:"code"`
	GPU        int    `json:"gpu"`
	Completed  bool   `json:"completed"`
	OutputPath string `json:"output_path,omitempty"`
	Error      string `json:"error,omitempty"`
}

// TaskResponse is the task status representation.
type TaskResponse struct {
	ID            string          `json:"id"`
	Code          string          `json:"code"`
	Text          string          `json:"text"`
	Phase         string          `json:"phase"`
	ProgressPct   int             `json:"progress_pct"`
	GPUID         *int            `json:"gpu_id,omitempty" doc:"Bound GPU id, absent while unbound"`
	Chunked       bool            `json:"chunked"`
	TTSDegraded   bool            `json:"tts_degraded"`
	Timing        models.Timing   `json:"timing"`
	Error         *TaskErrorInfo  `json:"error,omitempty"`
	OutputURL     string          `json:"output_url,omitempty" doc:"Download URL, present once completed"`
	QueuePosition *int            `json:"queue_position,omitempty" doc:"1-based wait position while queued"`
	Chunks        []ChunkResponse `json:"chunks,omitempty"`
	AvatarID      string          `json:"avatar_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	QueuedAt      *time.Time      `json:"queued_at,omitempty"`
	SubmittedAt   *time.Time      `json:"submitted_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

// TaskFromModel converts a task snapshot to its API representation.
// queuePosition is the 1-based wait position, or 0 when the task is not
// queued.
func TaskFromModel(t *models.Task, queuePosition int) TaskResponse {
	resp := TaskResponse{
		ID:          t.ID.String(),
		Code:        t.Code,
		Text:        t.Text,
		Phase:       string(t.Phase),
		ProgressPct: t.Progress,
		Chunked:     t.Chunked,
		TTSDegraded: t.TTSDegraded,
		Timing:      t.TimingInfo(),
		CreatedAt:   t.CreatedAt,
		QueuedAt:    t.QueuedAt,
		SubmittedAt: t.SubmittedAt,
		CompletedAt: t.CompletedAt,
	}

	if t.GPU >= 0 {
		gpuID := t.GPU
		resp.GPUID = &gpuID
	}
	if t.AvatarID != nil {
		resp.AvatarID = t.AvatarID.String()
	}
	if t.ErrorKind != "" {
		resp.Error = &TaskErrorInfo{
			Kind:    string(t.ErrorKind),
			Message: t.ErrorMessage,
		}
	}
	if t.Phase == models.TaskPhaseCompleted && t.OutputPath != "" {
		resp.OutputURL = fmt.Sprintf("/api/v1/tasks/%s/download", t.ID)
	}
	if queuePosition > 0 {
		pos := queuePosition
		resp.QueuePosition = &pos
	}
	for _, c := range t.Chunks {
		resp.Chunks = append(resp.Chunks, ChunkResponse{
			Index:      c.Index,
			Code:       c.Code,
			GPU:        c.GPU,
			Completed:  c.Completed,
			OutputPath: c.OutputPath,
			Error:      c.Error,
		})
	}
	return resp
}

// GPUSlotResponse is one GPU slot in registry snapshots.
type GPUSlotResponse struct {
	ID             int    `json:"id"`
	Busy           bool   `json:"busy"`
	CurrentTask    string `json:"current_task,omitempty"`
	MemoryUsedMB   int    `json:"memory_used_mb"`
	UtilizationPct int    `json:"utilization_pct"`
	InferenceURL   string `json:"inference_url"`
	TTSURL         string `json:"tts_url"`
}

// GPUSlotFromStatus converts a registry slot snapshot.
func GPUSlotFromStatus(s gpu.SlotStatus) GPUSlotResponse {
	return GPUSlotResponse{
		ID:             s.ID,
		Busy:           s.Busy,
		CurrentTask:    s.CurrentTask,
		MemoryUsedMB:   s.MemoryUsedMB,
		UtilizationPct: s.UtilizationPct,
		InferenceURL:   s.InferenceURL,
		TTSURL:         s.TTSURL,
	}
}

// AvatarResponse is an avatar catalog entry.
type AvatarResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	VideoPath string    `json:"video_path"`
	AudioPath string    `json:"audio_path,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AvatarFromModel converts an avatar to its API representation.
func AvatarFromModel(a *models.Avatar) AvatarResponse {
	return AvatarResponse{
		ID:        a.ID.String(),
		Name:      a.Name,
		VideoPath: a.VideoPath,
		AudioPath: a.AudioPath,
		Notes:     a.Notes,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

// UploadResponse describes a stored upload.
type UploadResponse struct {
	Path     string `json:"path" doc:"Host path of the stored file, usable as video_path or reference_audio_path"`
	Filename string `json:"filename" doc:"Original client filename"`
	Size     int64  `json:"size" doc:"Stored size in bytes"`
}

// VersionResponse is the build info response.
type VersionResponse struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// CPUInfo holds CPU load information for the health response.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// ProcessMemoryInfo holds process-tree memory usage.
type ProcessMemoryInfo struct {
	MainProcessMB      float64 `json:"main_process_mb"`
	ChildProcessesMB   float64 `json:"child_processes_mb"`
	ChildProcessCount  int     `json:"child_process_count"`
	TotalProcessTreeMB float64 `json:"total_process_tree_mb"`
	PercentageOfSystem float64 `json:"percentage_of_system"`
}

// MemoryInfo holds system memory usage.
type MemoryInfo struct {
	TotalMemoryMB     float64           `json:"total_memory_mb"`
	UsedMemoryMB      float64           `json:"used_memory_mb"`
	FreeMemoryMB      float64           `json:"free_memory_mb"`
	AvailableMemoryMB float64           `json:"available_memory_mb"`
	SwapTotalMB       float64           `json:"swap_total_mb"`
	SwapUsedMB        float64           `json:"swap_used_mb"`
	ProcessMemory     ProcessMemoryInfo `json:"process_memory"`
}

// DatabaseHealth reports database connectivity for the health response.
type DatabaseHealth struct {
	Status             string  `json:"status"`
	ConnectionPoolSize int     `json:"connection_pool_size"`
	ActiveConnections  int     `json:"active_connections"`
	IdleConnections    int     `json:"idle_connections"`
	ResponseTimeMS     float64 `json:"response_time_ms"`
	ResponseTimeStatus string  `json:"response_time_status"`
}

// EngineHealth reports scheduler state for the health response.
type EngineHealth struct {
	Status   string `json:"status"`
	Tasks    int    `json:"tasks"`
	Waiting  int    `json:"waiting"`
	GPUsFree int    `json:"gpus_free"`
	GPUs     int    `json:"gpus"`
}

// CircuitBreakerStatus is one breaker snapshot in the health response.
type CircuitBreakerStatus struct {
	Name     string `json:"name"`
	State    string `json:"state"`
	Failures int    `json:"failures"`
}

// HealthComponents groups per-component health.
type HealthComponents struct {
	Database        DatabaseHealth         `json:"database"`
	Engine          EngineHealth           `json:"engine"`
	CircuitBreakers []CircuitBreakerStatus `json:"circuit_breakers,omitempty"`
}

// HealthResponse is the full health check response.
type HealthResponse struct {
	Status            string            `json:"status"`
	Timestamp         string            `json:"timestamp"`
	Version           string            `json:"version"`
	Uptime            string            `json:"uptime"`
	UptimeSeconds     float64           `json:"uptime_seconds"`
	HostUptimeSeconds int64             `json:"host_uptime_seconds,omitempty"`
	CPUInfo           CPUInfo           `json:"cpu_info"`
	Memory            MemoryInfo        `json:"memory"`
	Components        HealthComponents  `json:"components"`
	Checks            map[string]string `json:"checks,omitempty"`
}
