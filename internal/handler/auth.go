package handler

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/capitalize-ai/memory-hub/internal/middleware"
	"github.com/capitalize-ai/memory-hub/internal/model"
	"github.com/capitalize-ai/memory-hub/internal/service"
	"github.com/capitalize-ai/memory-hub/pkg/logger"
)

// SignOuter ends the authenticated context.
type SignOuter interface {
	SignOut(reason string)
}

// AuthHandler handles auth endpoints.
type AuthHandler struct {
	conv    *service.Conversation
	session SignOuter
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(conv *service.Conversation, session SignOuter) *AuthHandler {
	return &AuthHandler{conv: conv, session: session}
}

// SignOut handles POST /api/v1/auth/signout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	h.conv.Cancel()
	h.session.SignOut("bridge sign-out")
	w.WriteHeader(http.StatusNoContent)
}

// ActivityResponse is a page of journal events.
type ActivityResponse struct {
	Events       []model.ConversationEvent `json:"events"`
	LastSequence uint64                    `json:"last_sequence"`
}

// ActivityHandler serves the activity journal.
type ActivityHandler struct {
	journal service.ActivityReader
	logger  *logger.Logger
}

// NewActivityHandler creates an activity handler.
func NewActivityHandler(journal service.ActivityReader, log *logger.Logger) *ActivityHandler {
	return &ActivityHandler{journal: journal, logger: log}
}

// List handles GET /api/v1/activity
// Supports ?session_id=, ?after_sequence=N and ?limit=N.
func (h *ActivityHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())
	if tenantID == "" {
		writeError(w, http.StatusUnauthorized, "not signed in")
		return
	}

	q := r.URL.Query()
	var afterSequence uint64
	if seq := q.Get("after_sequence"); seq != "" {
		if parsed, err := strconv.ParseUint(seq, 10, 64); err == nil {
			afterSequence = parsed
		}
	}
	limit := 50
	if l := q.Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	events, last, err := h.journal.Recent(r.Context(), tenantID, q.Get("session_id"), afterSequence, limit)
	if err != nil {
		h.logger.Warn("failed to read activity", zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to read activity")
		return
	}
	if events == nil {
		events = []model.ConversationEvent{}
	}

	writeJSON(w, http.StatusOK, ActivityResponse{Events: events, LastSequence: last})
}
