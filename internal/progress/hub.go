// Package progress fans task lifecycle events out to SSE subscribers.
package progress

import (
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/surajit20072003/heygemd/internal/models"
)

// Event types carried on the stream.
const (
	EventTypeProgress  = "progress"
	EventTypeCompleted = "completed"
	EventTypeFailed    = "failed"
	EventTypeTimeout   = "timeout"
)

// subscriberBuffer sizes each subscriber's event channel. A subscriber that
// falls further behind than this loses events rather than stalling the
// pipeline.
const subscriberBuffer = 100

// Event is one task lifecycle update.
type Event struct {
	Type      string           `json:"type"`
	TaskID    string           `json:"task_id"`
	Phase     models.TaskPhase `json:"phase"`
	Progress  int              `json:"progress"`
	GPU       int              `json:"gpu,omitempty"`
	Message   string           `json:"message,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// EventForTask builds an Event from a task snapshot.
func EventForTask(t *models.Task, message string) Event {
	return Event{
		Type:      eventTypeForPhase(t.Phase),
		TaskID:    t.ID.String(),
		Phase:     t.Phase,
		Progress:  t.Progress,
		GPU:       t.GPU,
		Message:   message,
		Timestamp: time.Now(),
	}
}

func eventTypeForPhase(p models.TaskPhase) string {
	switch p {
	case models.TaskPhaseCompleted:
		return EventTypeCompleted
	case models.TaskPhaseFailed:
		return EventTypeFailed
	case models.TaskPhaseTimeout:
		return EventTypeTimeout
	default:
		return EventTypeProgress
	}
}

// Filter selects which events a subscriber receives. The zero filter
// matches everything.
type Filter struct {
	// TaskID limits the stream to one task when non-empty.
	TaskID string
}

// Matches reports whether the event passes the filter.
func (f *Filter) Matches(ev Event) bool {
	if f == nil {
		return true
	}
	return f.TaskID == "" || f.TaskID == ev.TaskID
}

// Subscriber is one attached event consumer.
type Subscriber struct {
	ID     string
	Filter *Filter
	Events chan Event
}

// Hub broadcasts task events to subscribers. Publishing never blocks: a
// full subscriber channel drops the event.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	logger      *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subscribers: make(map[string]*Subscriber),
		logger:      logger.With(slog.String("component", "progress")),
	}
}

// Subscribe attaches a new consumer.
func (h *Hub) Subscribe(filter *Filter) *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &Subscriber{
		ID:     ulid.Make().String(),
		Filter: filter,
		Events: make(chan Event, subscriberBuffer),
	}
	h.subscribers[sub.ID] = sub
	h.logger.Debug("subscriber added", slog.String("subscriber_id", sub.ID))
	return sub
}

// Unsubscribe detaches a consumer and closes its channel.
func (h *Hub) Unsubscribe(subscriberID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub, ok := h.subscribers[subscriberID]; ok {
		close(sub.Events)
		delete(h.subscribers, subscriberID)
		h.logger.Debug("subscriber removed", slog.String("subscriber_id", subscriberID))
	}
}

// SubscriberCount returns the number of attached consumers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Publish fans the event out to every matching subscriber.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscribers {
		if !sub.Filter.Matches(ev) {
			continue
		}
		select {
		case sub.Events <- ev:
		default:
			h.logger.Warn("subscriber event channel full, dropping event",
				slog.String("subscriber_id", sub.ID),
				slog.String("task_id", ev.TaskID))
		}
	}
}
