package handlers

import (
	"fmt"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lectern/internal/events"
)

// EventsHandler streams job events over Server-Sent Events
type EventsHandler struct {
	bus    *events.Bus
	logger arbor.ILogger
}

// NewEventsHandler creates a new EventsHandler
func NewEventsHandler(bus *events.Bus, logger arbor.ILogger) *EventsHandler {
	return &EventsHandler{
		bus:    bus,
		logger: logger,
	}
}

// StreamHandler handles GET /jobs/{id}/events. The first frame is a
// hello marker; every published job event follows as its own frame.
// The stream ends when the client disconnects.
func (h *EventsHandler) StreamHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "data: {\"type\":\"hello\",\"job_id\":%q}\n\n", jobID)
	flusher.Flush()

	ch, cancel := h.bus.Subscribe(jobID)
	defer cancel()

	h.logger.Debug().Str("job_id", jobID).Msg("SSE subscriber connected")

	for {
		select {
		case <-r.Context().Done():
			h.logger.Debug().Str("job_id", jobID).Msg("SSE subscriber disconnected")
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprint(w, evt.SSE())
			flusher.Flush()
		}
	}
}
