package models

import (
	"fmt"
	"strings"
	"time"
)

// TaskPhase represents the lifecycle phase of a synthesis task.
// Phases only move forward; terminal phases are completed, failed and timeout.
type TaskPhase string

const (
	// TaskPhaseAccepted indicates the task was accepted and not yet started.
	TaskPhaseAccepted TaskPhase = "accepted"
	// TaskPhasePreprocessing indicates reference audio extraction is running.
	TaskPhasePreprocessing TaskPhase = "preprocessing"
	// TaskPhaseReserving indicates the task is attempting to reserve a GPU.
	TaskPhaseReserving TaskPhase = "reserving"
	// TaskPhaseQueued indicates all GPUs were busy and the task waits in FIFO order.
	TaskPhaseQueued TaskPhase = "queued"
	// TaskPhaseTTS indicates voice synthesis is running on the reserved GPU's paired port.
	TaskPhaseTTS TaskPhase = "tts"
	// TaskPhaseSubmitting indicates artifacts are being staged and submitted to the backend.
	TaskPhaseSubmitting TaskPhase = "submitting"
	// TaskPhaseInference indicates the backend accepted the job.
	TaskPhaseInference TaskPhase = "inference"
	// TaskPhaseMonitoring indicates the monitor loop is polling the backend.
	TaskPhaseMonitoring TaskPhase = "monitoring"
	// TaskPhaseCompleted indicates the output video was published.
	TaskPhaseCompleted TaskPhase = "completed"
	// TaskPhaseFailed indicates the task ended with an error.
	TaskPhaseFailed TaskPhase = "failed"
	// TaskPhaseTimeout indicates the inference deadline was exceeded.
	TaskPhaseTimeout TaskPhase = "timeout"
)

// IsTerminal returns true for completed, failed and timeout phases.
func (p TaskPhase) IsTerminal() bool {
	return p == TaskPhaseCompleted || p == TaskPhaseFailed || p == TaskPhaseTimeout
}

// phaseOrder assigns each non-terminal phase a forward-only rank.
// Queued sits beside Reserving: a task bounces Reserving → Queued → Reserving
// exactly once per dispatch attempt, which is the only allowed "sideways" move.
var phaseOrder = map[TaskPhase]int{
	TaskPhaseAccepted:      0,
	TaskPhasePreprocessing: 1,
	TaskPhaseReserving:     2,
	TaskPhaseQueued:        2,
	TaskPhaseTTS:           3,
	TaskPhaseSubmitting:    4,
	TaskPhaseInference:     5,
	TaskPhaseMonitoring:    6,
}

// CanTransition reports whether moving from p to next respects the
// forward-only state machine. Terminal phases accept no further moves;
// any non-terminal phase may move to a terminal one.
func (p TaskPhase) CanTransition(next TaskPhase) bool {
	if p.IsTerminal() {
		return false
	}
	if next.IsTerminal() {
		return true
	}
	from, ok := phaseOrder[p]
	if !ok {
		return false
	}
	to, ok := phaseOrder[next]
	if !ok {
		return false
	}
	if p == TaskPhaseReserving && next == TaskPhaseQueued {
		return true
	}
	if p == TaskPhaseQueued && next == TaskPhaseReserving {
		return true
	}
	return to > from
}

// ErrorKind classifies terminal task failures. Kinds surface in the status
// API as strings; the backend message is carried alongside but never parsed.
type ErrorKind string

const (
	ErrorKindValidation     ErrorKind = "ValidationError"
	ErrorKindExtraction     ErrorKind = "ExtractionError"
	ErrorKindTts            ErrorKind = "TtsError"
	ErrorKindStaging        ErrorKind = "StagingError"
	ErrorKindSubmitRejected ErrorKind = "SubmitRejected"
	ErrorKindQueryTransient ErrorKind = "QueryTransient"
	ErrorKindBackendFailed  ErrorKind = "BackendFailed"
	ErrorKindOutputMissing  ErrorKind = "OutputMissing"
	ErrorKindOutputTooSmall ErrorKind = "OutputTooSmall"
	ErrorKindTimeout        ErrorKind = "Timeout"
	ErrorKindConcatFailure  ErrorKind = "ConcatFailure"
	ErrorKindAdminReset     ErrorKind = "AdminReset"
)

// BackendOptions carries the fixed per-submission knobs the inference
// backend understands.
type BackendOptions struct {
	// Chaofen toggles super-resolution (0 or 1).
	Chaofen int `json:"chaofen"`

	// Watermark toggles the backend watermark (0 or 1).
	Watermark int `json:"watermark"`

	// PN selects the backend's processing mode (>= 1).
	PN int `json:"pn"`
}

// DefaultBackendOptions returns the submission options used when the client
// supplies none.
func DefaultBackendOptions() BackendOptions {
	return BackendOptions{Chaofen: 1, Watermark: 0, PN: 1}
}

// Chunk is one time-sliced audio segment of a chunked-parallel run and the
// sub-task tracking it. Index order is concat order.
type Chunk struct {
	// Index is the 0-based chunk position.
	Index int `json:"index"`

	// Code is the backend sub-task code, "<parent code>_chunk<NN>" (1-based,
	// zero padded) so per-chunk outputs never alias.
	Code string `json:"code"`

	// AudioPath is the host path of the audio slice.
	AudioPath string `json:"audio_path"`

	// GPU is the GPU id this chunk is bound to (-1 until reserved).
	GPU int `json:"gpu"`

	// OutputPath is the host path of the chunk's finished video.
	OutputPath string `json:"output_path,omitempty"`

	// Completed is set when the chunk's monitor declared success.
	Completed bool `json:"completed"`

	// Error holds the failure reason when the chunk failed.
	Error string `json:"error,omitempty"`
}

// ChunkCode derives the backend code for chunk index i of a parent code.
func ChunkCode(parentCode string, index int) string {
	return fmt.Sprintf("%s_chunk%02d", parentCode, index+1)
}

// Task is one client request moving through the synthesis pipeline. The
// engine's table owns every Task; all mutation happens under the scheduler
// lock. Tasks are in-memory only and are not persisted across restarts.
type Task struct {
	// ID is the ULID task identity. Its millisecond timestamp plus 80 bits
	// of entropy keeps concurrent same-second submissions distinct.
	ID ULID `json:"id"`

	// Code is the backend job code derived from the id. It appears in
	// staged filenames and in the backend's result path, so it stays
	// lowercase and filesystem-safe.
	Code string `json:"code"`

	// Text is the raw narration text as accepted.
	Text string `json:"text"`

	// NormalizedText is Text after the spoken-math normalization pass.
	NormalizedText string `json:"-"`

	// VideoPath is the host path of the reference face video.
	VideoPath string `json:"video_path"`

	// ReferenceAudioPath is the host path of the voice reference audio,
	// supplied, extracted from the video, or the configured default.
	ReferenceAudioPath string `json:"reference_audio_path,omitempty"`

	// GeneratedAudioPath is the host path of the TTS output (or the
	// reference audio when TTS degraded).
	GeneratedAudioPath string `json:"generated_audio_path,omitempty"`

	// AvatarID references the avatar catalog entry that resolved the
	// video/audio pair, when one was used.
	AvatarID *ULID `json:"avatar_id,omitempty"`

	// Chunked selects the chunked-parallel pipeline.
	Chunked bool `json:"chunked"`

	// Options carries the backend submission knobs.
	Options BackendOptions `json:"options"`

	// GPU is the bound GPU id, -1 while unbound. Chunked tasks track
	// per-chunk bindings instead.
	GPU int `json:"gpu"`

	// Phase is the current lifecycle phase.
	Phase TaskPhase `json:"phase"`

	// Progress is the backend-reported progress percent (0-100).
	Progress int `json:"progress"`

	// TTSDegraded is set when TTS failed and the reference audio was
	// adopted as the generated audio.
	TTSDegraded bool `json:"tts_degraded"`

	CreatedAt   time.Time  `json:"created_at"`
	QueuedAt    *time.Time `json:"queued_at,omitempty"`
	ReservedAt  *time.Time `json:"reserved_at,omitempty"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// TTSDuration is the wall time of the synthesis call.
	TTSDuration time.Duration `json:"tts_duration"`

	// InferenceDuration is the wall time from submission to terminal.
	InferenceDuration time.Duration `json:"inference_duration"`

	// OutputPath is the published host path of the finished video.
	OutputPath string `json:"output_path,omitempty"`

	// ErrorKind and ErrorMessage describe the terminal failure, if any.
	ErrorKind    ErrorKind `json:"error_kind,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`

	// Chunks holds the sub-task records of a chunked run, in index order.
	Chunks []*Chunk `json:"chunks,omitempty"`

	// Released guards the release-once contract: set by the engine the
	// first time the task's reservation is returned to the registry.
	Released bool `json:"-"`
}

// NewTask creates a Task in the accepted phase with a fresh ULID identity.
func NewTask(text string) *Task {
	id := NewULID()
	return &Task{
		ID:        id,
		Code:      TaskCode(id),
		Text:      text,
		GPU:       -1,
		Phase:     TaskPhaseAccepted,
		Options:   DefaultBackendOptions(),
		CreatedAt: time.Now(),
	}
}

// TaskCode derives the backend job code for a task id.
func TaskCode(id ULID) string {
	return "task_" + strings.ToLower(id.String())
}

// Validate checks the accept-time requirements.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.Text) == "" {
		return ErrTextRequired
	}
	return nil
}

// IsTerminal returns true once the task reached a terminal phase.
func (t *Task) IsTerminal() bool {
	return t.Phase.IsTerminal()
}

// HasReservation returns true while the task (or any of its chunks) holds a
// GPU that has not been released.
func (t *Task) HasReservation() bool {
	if t.Released {
		return false
	}
	if t.GPU >= 0 {
		return true
	}
	for _, c := range t.Chunks {
		if c.GPU >= 0 {
			return true
		}
	}
	return false
}

// MarkQueued records FIFO entry.
func (t *Task) MarkQueued() {
	now := time.Now()
	t.Phase = TaskPhaseQueued
	t.QueuedAt = &now
}

// MarkReserved records the GPU binding.
func (t *Task) MarkReserved(gpuID int) {
	now := time.Now()
	t.GPU = gpuID
	t.ReservedAt = &now
}

// MarkSubmitted records backend acceptance; the inference clock starts here.
func (t *Task) MarkSubmitted() {
	now := time.Now()
	t.Phase = TaskPhaseInference
	t.SubmittedAt = &now
}

// MarkCompleted records the terminal success outcome.
func (t *Task) MarkCompleted(outputPath string) {
	now := time.Now()
	t.Phase = TaskPhaseCompleted
	t.Progress = 100
	t.OutputPath = outputPath
	t.CompletedAt = &now
	if t.SubmittedAt != nil {
		t.InferenceDuration = now.Sub(*t.SubmittedAt)
	}
}

// MarkFailed records a terminal failure with its kind.
func (t *Task) MarkFailed(kind ErrorKind, message string) {
	now := time.Now()
	t.Phase = TaskPhaseFailed
	t.ErrorKind = kind
	t.ErrorMessage = message
	t.CompletedAt = &now
	if t.SubmittedAt != nil {
		t.InferenceDuration = now.Sub(*t.SubmittedAt)
	}
}

// MarkTimeout records the deadline-exceeded terminal outcome.
func (t *Task) MarkTimeout(message string) {
	now := time.Now()
	t.Phase = TaskPhaseTimeout
	t.ErrorKind = ErrorKindTimeout
	t.ErrorMessage = message
	t.CompletedAt = &now
	if t.SubmittedAt != nil {
		t.InferenceDuration = now.Sub(*t.SubmittedAt)
	}
}

// Timing summarizes per-stage wall times in seconds for the status API.
type Timing struct {
	TTSSeconds       float64 `json:"tts_s,omitempty"`
	InferenceSeconds float64 `json:"inference_s,omitempty"`
	TotalSeconds     float64 `json:"total_s,omitempty"`
}

// TimingInfo computes the per-stage timing summary.
func (t *Task) TimingInfo() Timing {
	timing := Timing{
		TTSSeconds:       t.TTSDuration.Seconds(),
		InferenceSeconds: t.InferenceDuration.Seconds(),
	}
	if t.CompletedAt != nil {
		timing.TotalSeconds = t.CompletedAt.Sub(t.CreatedAt).Seconds()
	}
	return timing
}

// ChunksCompleted counts finished chunks.
func (t *Task) ChunksCompleted() int {
	n := 0
	for _, c := range t.Chunks {
		if c.Completed {
			n++
		}
	}
	return n
}

// Clone returns a copy safe to read outside the scheduler lock. Timestamp
// pointers are replaced wholesale on mutation, so sharing them is safe; the
// chunk records are mutated in place and are copied deep.
func (t *Task) Clone() *Task {
	c := *t
	if len(t.Chunks) > 0 {
		c.Chunks = make([]*Chunk, len(t.Chunks))
		for i, ch := range t.Chunks {
			cc := *ch
			c.Chunks[i] = &cc
		}
	}
	return &c
}
