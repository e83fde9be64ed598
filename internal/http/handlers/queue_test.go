package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surajit20072003/heygemd/internal/models"
)

func TestQueueHandler_GetQueue(t *testing.T) {
	eng, reg := newTestEngine(t, 2)
	handler := NewQueueHandler(eng, reg, nil)

	ctx := context.Background()

	resp, err := handler.GetQueue(ctx, &GetQueueInput{})
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Body.Waiting)
	require.Len(t, resp.Body.GPUs, 2)
	assert.False(t, resp.Body.GPUs[0].Busy)

	// Fill both slots and queue a third task.
	for _, text := range []string{"a", "b"} {
		task := models.NewTask(text)
		require.NoError(t, eng.Add(task))
		_, reserved, err := eng.ReserveOrEnqueue(task.ID.String())
		require.NoError(t, err)
		require.True(t, reserved)
	}
	waiter := models.NewTask("c")
	require.NoError(t, eng.Add(waiter))
	_, reserved, err := eng.ReserveOrEnqueue(waiter.ID.String())
	require.NoError(t, err)
	require.False(t, reserved)

	resp, err = handler.GetQueue(ctx, &GetQueueInput{})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Body.Waiting)
	assert.True(t, resp.Body.GPUs[0].Busy)
	assert.True(t, resp.Body.GPUs[1].Busy)
}

func TestQueueHandler_ListGPUs(t *testing.T) {
	eng, reg := newTestEngine(t, 2)
	handler := NewQueueHandler(eng, reg, nil)

	ctx := context.Background()

	task := models.NewTask("bind one")
	require.NoError(t, eng.Add(task))
	_, reserved, err := eng.ReserveOrEnqueue(task.ID.String())
	require.NoError(t, err)
	require.True(t, reserved)

	resp, err := handler.ListGPUs(ctx, &ListGPUsInput{})
	require.NoError(t, err)
	require.Len(t, resp.Body.GPUs, 2)

	assert.True(t, resp.Body.GPUs[0].Busy)
	assert.Equal(t, task.ID.String(), resp.Body.GPUs[0].CurrentTask)
	assert.False(t, resp.Body.GPUs[1].Busy)
	assert.Empty(t, resp.Body.GPUs[1].CurrentTask)
	assert.NotEmpty(t, resp.Body.GPUs[0].InferenceURL)
	assert.NotEmpty(t, resp.Body.GPUs[0].TTSURL)
}

func TestQueueHandler_Reset(t *testing.T) {
	eng, reg := newTestEngine(t, 1)
	handler := NewQueueHandler(eng, reg, nil)

	ctx := context.Background()

	t.Run("idle reset is a no-op", func(t *testing.T) {
		resp, err := handler.Reset(ctx, &ResetInput{})
		require.NoError(t, err)
		assert.Equal(t, 0, resp.Body.TasksFailed)
		assert.Equal(t, 0, resp.Body.QueueCleared)
		assert.Empty(t, resp.Body.SlotsFreed)
		assert.NotNil(t, resp.Body.SlotsFreed)
	})

	t.Run("live tasks fail and slots free", func(t *testing.T) {
		holder := models.NewTask("holds")
		waiter := models.NewTask("waits")
		require.NoError(t, eng.Add(holder))
		require.NoError(t, eng.Add(waiter))

		_, reserved, err := eng.ReserveOrEnqueue(holder.ID.String())
		require.NoError(t, err)
		require.True(t, reserved)
		_, reserved, err = eng.ReserveOrEnqueue(waiter.ID.String())
		require.NoError(t, err)
		require.False(t, reserved)

		resp, err := handler.Reset(ctx, &ResetInput{})
		require.NoError(t, err)
		assert.Equal(t, 2, resp.Body.TasksFailed)
		assert.Equal(t, 1, resp.Body.QueueCleared)
		assert.Equal(t, []int{0}, resp.Body.SlotsFreed)

		got, _ := eng.Get(holder.ID.String())
		assert.Equal(t, models.TaskPhaseFailed, got.Phase)
		assert.Equal(t, models.ErrorKindAdminReset, got.ErrorKind)
		assert.Equal(t, 1, reg.FreeCount())
	})
}
