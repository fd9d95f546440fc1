package handler

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/memory-hub/internal/service"
	"github.com/capitalize-ai/memory-hub/pkg/logger"
	"github.com/capitalize-ai/memory-hub/pkg/metrics"
)

// DefaultHeartbeat is the SSE keep-alive interval.
const DefaultHeartbeat = 30 * time.Second

// HeartbeatEvent keeps idle SSE connections open.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// StateHandler exposes the conversation state.
type StateHandler struct {
	conv      *service.Conversation
	heartbeat time.Duration
	logger    *logger.Logger
}

// NewStateHandler creates a state handler. A zero heartbeat uses
// DefaultHeartbeat.
func NewStateHandler(conv *service.Conversation, heartbeat time.Duration, log *logger.Logger) *StateHandler {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &StateHandler{
		conv:      conv,
		heartbeat: heartbeat,
		logger:    log,
	}
}

// Get handles GET /api/v1/state
func (h *StateHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.conv.State())
}

// Stream handles GET /api/v1/state/stream. It sends a snapshot on connect
// and after every change.
func (h *StateHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	changes, unsubscribe := h.conv.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	if err := sendSSEEvent(w, flusher, "snapshot", h.conv.State()); err != nil {
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	done := r.Context().Done()
	for {
		select {
		case <-done:
			h.logger.Debug("SSE client disconnected")
			return

		case <-changes:
			if err := sendSSEEvent(w, flusher, "snapshot", h.conv.State()); err != nil {
				h.logger.Debug("SSE write failed", zap.Error(err))
				return
			}

		case <-heartbeat.C:
			if err := sendSSEEvent(w, flusher, "heartbeat", &HeartbeatEvent{Timestamp: time.Now()}); err != nil {
				return
			}
		}
	}
}
