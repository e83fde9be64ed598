package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surajit20072003/heygemd/internal/models"
)

func TestHub_PublishReachesSubscriber(t *testing.T) {
	h := NewHub(nil)
	sub := h.Subscribe(nil)
	defer h.Unsubscribe(sub.ID)

	h.Publish(Event{Type: EventTypeProgress, TaskID: "t1", Progress: 40})

	select {
	case ev := <-sub.Events:
		assert.Equal(t, "t1", ev.TaskID)
		assert.Equal(t, 40, ev.Progress)
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestHub_FilterByTaskID(t *testing.T) {
	h := NewHub(nil)
	sub := h.Subscribe(&Filter{TaskID: "wanted"})
	defer h.Unsubscribe(sub.ID)

	h.Publish(Event{Type: EventTypeProgress, TaskID: "other"})
	h.Publish(Event{Type: EventTypeProgress, TaskID: "wanted"})

	select {
	case ev := <-sub.Events:
		assert.Equal(t, "wanted", ev.TaskID)
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
	assert.Empty(t, sub.Events)
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	h := NewHub(nil)
	sub := h.Subscribe(nil)

	h.Unsubscribe(sub.ID)
	_, open := <-sub.Events
	assert.False(t, open)
	assert.Equal(t, 0, h.SubscriberCount())

	// Repeated unsubscribe is a no-op.
	h.Unsubscribe(sub.ID)
}

func TestHub_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	h := NewHub(nil)
	sub := h.Subscribe(nil)
	defer h.Unsubscribe(sub.ID)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer+10; i++ {
			h.Publish(Event{Type: EventTypeProgress, TaskID: "flood"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, sub.Events, subscriberBuffer)
}

func TestEventForTask(t *testing.T) {
	task := models.NewTask("hello")
	task.Progress = 55
	task.GPU = 1

	ev := EventForTask(task, "polling")
	assert.Equal(t, EventTypeProgress, ev.Type)
	assert.Equal(t, task.ID.String(), ev.TaskID)
	assert.Equal(t, 55, ev.Progress)
	assert.Equal(t, "polling", ev.Message)

	task.MarkCompleted("/out/x.mp4")
	ev = EventForTask(task, "")
	assert.Equal(t, EventTypeCompleted, ev.Type)

	task2 := models.NewTask("x")
	task2.MarkTimeout("deadline")
	require.Equal(t, EventTypeTimeout, EventForTask(task2, "").Type)
}
