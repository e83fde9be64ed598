package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/surajit20072003/heygemd/internal/progress"
)

// EventsHandler streams task lifecycle events over SSE.
type EventsHandler struct {
	hub               *progress.Hub
	heartbeatInterval time.Duration
	logger            *slog.Logger
}

// NewEventsHandler creates an events handler over the progress hub.
func NewEventsHandler(hub *progress.Hub, logger *slog.Logger) *EventsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventsHandler{
		hub:               hub,
		heartbeatInterval: 30 * time.Second,
		logger:            logger,
	}
}

// SetHeartbeatInterval sets the SSE heartbeat interval (for testing).
func (h *EventsHandler) SetHeartbeatInterval(interval time.Duration) {
	h.heartbeatInterval = interval
}

// RegisterSSE registers the SSE endpoint on a chi router. SSE needs raw
// streaming that Huma does not support natively.
func (h *EventsHandler) RegisterSSE(router interface {
	Get(pattern string, handlerFn http.HandlerFunc)
}) {
	router.Get("/api/v1/events", h.HandleEvents)
}

// HandleEvents is the raw HTTP handler for the event stream. A task_id
// query parameter narrows the stream to one task; terminal events are
// always delivered for subscribed tasks.
func (h *EventsHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Cache-Control")
	w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	var filter *progress.Filter
	if taskID := r.URL.Query().Get("task_id"); taskID != "" {
		filter = &progress.Filter{TaskID: taskID}
	}

	sub := h.hub.Subscribe(filter)
	defer h.hub.Unsubscribe(sub.ID)

	// ResponseController gives reliable flushing plus an escape from the
	// server write timeout, which would otherwise sever the stream.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()

	// Initial comment establishes the connection and triggers onopen in
	// browsers.
	fmt.Fprintf(w, ":connected\n\n")
	if err := rc.Flush(); err != nil {
		h.logger.Error("failed to flush initial SSE connection", slog.Any("error", err))
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ":heartbeat %d\n\n", time.Now().Unix())
			if err := rc.Flush(); err != nil {
				h.logger.Debug("heartbeat flush failed, client likely disconnected",
					slog.Any("error", err))
				return
			}
		case event, ok := <-sub.Events:
			if !ok {
				return
			}
			if err := h.writeEvent(w, event); err != nil {
				h.logger.Error("failed to write SSE event",
					slog.String("event_type", event.Type),
					slog.String("task_id", event.TaskID),
					slog.Any("error", err))
				return
			}
			if err := rc.Flush(); err != nil {
				h.logger.Debug("event flush failed, client likely disconnected",
					slog.String("event_type", event.Type),
					slog.Any("error", err))
				return
			}
		}
	}
}

// writeEvent writes one progress event in SSE format.
func (h *EventsHandler) writeEvent(w http.ResponseWriter, event progress.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		fmt.Fprintf(w, "event: %s\ndata: {\"error\": \"marshal error\"}\n\n", event.Type)
		return err
	}

	// One write per message keeps event frames atomic.
	message := fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, data)
	n, err := w.Write([]byte(message))
	if err != nil {
		return err
	}
	if n < len(message) {
		return fmt.Errorf("short write: wrote %d of %d bytes", n, len(message))
	}
	return nil
}
