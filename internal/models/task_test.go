package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTask(t *testing.T) {
	task := NewTask("Hello world.")

	assert.False(t, task.ID.IsZero())
	assert.Equal(t, TaskPhaseAccepted, task.Phase)
	assert.Equal(t, "Hello world.", task.Text)
	assert.Equal(t, -1, task.GPU)
	assert.Equal(t, DefaultBackendOptions(), task.Options)
	assert.Equal(t, TaskCode(task.ID), task.Code)
	assert.False(t, task.CreatedAt.IsZero())
}

func TestNewTask_UniqueIDs(t *testing.T) {
	// Same-millisecond submissions must still get distinct identities.
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		task := NewTask("text")
		require.False(t, seen[task.ID.String()], "duplicate task id")
		seen[task.ID.String()] = true
	}
}

func TestTaskCode_FilesystemSafe(t *testing.T) {
	task := NewTask("text")
	assert.Regexp(t, `^task_[0-9a-z]{26}$`, task.Code)
}

func TestChunkCode(t *testing.T) {
	assert.Equal(t, "task_abc_chunk01", ChunkCode("task_abc", 0))
	assert.Equal(t, "task_abc_chunk03", ChunkCode("task_abc", 2))
	assert.Equal(t, "task_abc_chunk10", ChunkCode("task_abc", 9))
}

func TestTask_Validate(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr error
	}{
		{name: "valid", text: "Hello world.", wantErr: nil},
		{name: "empty text", text: "", wantErr: ErrTextRequired},
		{name: "whitespace only", text: "   \t", wantErr: ErrTextRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := NewTask(tt.text)
			err := task.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTaskPhase_IsTerminal(t *testing.T) {
	assert.True(t, TaskPhaseCompleted.IsTerminal())
	assert.True(t, TaskPhaseFailed.IsTerminal())
	assert.True(t, TaskPhaseTimeout.IsTerminal())
	assert.False(t, TaskPhaseAccepted.IsTerminal())
	assert.False(t, TaskPhaseQueued.IsTerminal())
	assert.False(t, TaskPhaseMonitoring.IsTerminal())
}

func TestTaskPhase_CanTransition(t *testing.T) {
	tests := []struct {
		name string
		from TaskPhase
		to   TaskPhase
		want bool
	}{
		{"accepted to preprocessing", TaskPhaseAccepted, TaskPhasePreprocessing, true},
		{"preprocessing to reserving", TaskPhasePreprocessing, TaskPhaseReserving, true},
		{"reserving to tts", TaskPhaseReserving, TaskPhaseTTS, true},
		{"reserving to queued", TaskPhaseReserving, TaskPhaseQueued, true},
		{"queued to reserving", TaskPhaseQueued, TaskPhaseReserving, true},
		{"tts to submitting", TaskPhaseTTS, TaskPhaseSubmitting, true},
		{"submitting to inference", TaskPhaseSubmitting, TaskPhaseInference, true},
		{"inference to monitoring", TaskPhaseInference, TaskPhaseMonitoring, true},
		{"monitoring to completed", TaskPhaseMonitoring, TaskPhaseCompleted, true},
		{"any non-terminal to failed", TaskPhaseTTS, TaskPhaseFailed, true},
		{"any non-terminal to timeout", TaskPhaseMonitoring, TaskPhaseTimeout, true},
		{"no backwards move", TaskPhaseMonitoring, TaskPhaseTTS, false},
		{"no skip backwards", TaskPhaseInference, TaskPhaseReserving, false},
		{"terminal is final", TaskPhaseCompleted, TaskPhaseMonitoring, false},
		{"terminal to terminal rejected", TaskPhaseFailed, TaskPhaseCompleted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestTask_MarkCompleted(t *testing.T) {
	task := NewTask("text")
	task.MarkSubmitted()
	time.Sleep(5 * time.Millisecond)
	task.MarkCompleted("/data/outputs/output_x.mp4")

	assert.Equal(t, TaskPhaseCompleted, task.Phase)
	assert.Equal(t, 100, task.Progress)
	assert.Equal(t, "/data/outputs/output_x.mp4", task.OutputPath)
	require.NotNil(t, task.CompletedAt)
	assert.Greater(t, task.InferenceDuration, time.Duration(0))
}

func TestTask_MarkFailed(t *testing.T) {
	task := NewTask("text")
	task.MarkFailed(ErrorKindBackendFailed, "status 3 at 47%")

	assert.Equal(t, TaskPhaseFailed, task.Phase)
	assert.Equal(t, ErrorKindBackendFailed, task.ErrorKind)
	assert.Equal(t, "status 3 at 47%", task.ErrorMessage)
	require.NotNil(t, task.CompletedAt)
}

func TestTask_MarkTimeout(t *testing.T) {
	task := NewTask("text")
	task.MarkTimeout("inference exceeded 30m0s")

	assert.Equal(t, TaskPhaseTimeout, task.Phase)
	assert.Equal(t, ErrorKindTimeout, task.ErrorKind)
}

func TestTask_HasReservation(t *testing.T) {
	task := NewTask("text")
	assert.False(t, task.HasReservation())

	task.MarkReserved(0)
	assert.True(t, task.HasReservation())

	task.Released = true
	assert.False(t, task.HasReservation())
}

func TestTask_HasReservation_Chunked(t *testing.T) {
	task := NewTask("text")
	task.Chunked = true
	task.Chunks = []*Chunk{
		{Index: 0, GPU: -1},
		{Index: 1, GPU: 2},
	}
	assert.True(t, task.HasReservation())

	task.Chunks[1].GPU = -1
	assert.False(t, task.HasReservation())
}

func TestTask_TimingInfo(t *testing.T) {
	task := NewTask("text")
	task.TTSDuration = 3 * time.Second
	task.MarkSubmitted()
	task.MarkCompleted("/out.mp4")

	timing := task.TimingInfo()
	assert.InDelta(t, 3.0, timing.TTSSeconds, 0.001)
	assert.GreaterOrEqual(t, timing.TotalSeconds, 0.0)
}

func TestTask_ChunksCompleted(t *testing.T) {
	task := NewTask("text")
	task.Chunks = []*Chunk{
		{Index: 0, Completed: true},
		{Index: 1, Completed: false},
		{Index: 2, Completed: true},
	}
	assert.Equal(t, 2, task.ChunksCompleted())
}

func TestAvatar_TableName(t *testing.T) {
	assert.Equal(t, "avatars", Avatar{}.TableName())
}

func TestAvatar_Validate(t *testing.T) {
	tests := []struct {
		name    string
		avatar  Avatar
		wantErr error
	}{
		{
			name:    "valid",
			avatar:  Avatar{Name: "anchor", VideoPath: "/data/voices/anchor.mp4"},
			wantErr: nil,
		},
		{
			name:    "missing name",
			avatar:  Avatar{VideoPath: "/data/voices/anchor.mp4"},
			wantErr: ErrNameRequired,
		},
		{
			name:    "missing video path",
			avatar:  Avatar{Name: "anchor"},
			wantErr: ErrVideoPathRequired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.avatar.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
