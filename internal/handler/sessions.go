// Package handler provides the HTTP handlers of the local bridge.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/memory-hub/internal/middleware"
	"github.com/capitalize-ai/memory-hub/internal/model"
	"github.com/capitalize-ai/memory-hub/internal/service"
	"github.com/capitalize-ai/memory-hub/pkg/logger"
)

// SessionListResponse is the body of GET /api/v1/sessions.
type SessionListResponse struct {
	Sessions []model.Session `json:"sessions"`
}

// SessionMessagesResponse is the body of GET /api/v1/sessions/{id}/messages.
type SessionMessagesResponse struct {
	SessionID string           `json:"session_id"`
	Messages  []model.ChatItem `json:"messages"`
}

// SessionHandler handles session directory endpoints.
type SessionHandler struct {
	conv   *service.Conversation
	logger *logger.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(conv *service.Conversation, log *logger.Logger) *SessionHandler {
	return &SessionHandler{
		conv:   conv,
		logger: log,
	}
}

// List handles GET /api/v1/sessions
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.conv.RefreshSessions(r.Context())
	if err != nil {
		h.logger.Warn("failed to list sessions", zap.Error(err))
		writeError(w, statusFor(err), "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []model.Session{}
	}

	writeJSON(w, http.StatusOK, SessionListResponse{Sessions: sessions})
}

// Open handles POST /api/v1/sessions/{id}/open
func (h *SessionHandler) Open(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionParam(w, r)
	if !ok {
		return
	}

	session, found := h.conv.Directory().Lookup(sessionID)
	if !found {
		session = model.Session{ID: sessionID}
	}

	if err := h.conv.OpenSession(r.Context(), session); err != nil {
		h.logger.Warn("failed to open session", zap.Error(err), zap.String("session_id", sessionID))
		writeError(w, statusFor(err), "failed to load session messages")
		return
	}

	writeJSON(w, http.StatusOK, h.conv.State())
}

// Delete handles DELETE /api/v1/sessions/{id}
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionParam(w, r)
	if !ok {
		return
	}

	if err := h.conv.DeleteSession(r.Context(), sessionID); err != nil {
		writeError(w, statusFor(err), "failed to delete session")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Messages handles GET /api/v1/sessions/{id}/messages
func (h *SessionHandler) Messages(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionParam(w, r)
	if !ok {
		return
	}

	items, err := h.conv.Directory().FetchMessages(r.Context(), sessionID)
	if err != nil {
		h.logger.Warn("failed to load history", zap.Error(err), zap.String("session_id", sessionID))
		writeError(w, statusFor(err), "failed to load session messages")
		return
	}
	if items == nil {
		items = []model.ChatItem{}
	}

	writeJSON(w, http.StatusOK, SessionMessagesResponse{
		SessionID: sessionID,
		Messages:  items,
	})
}

func sessionParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	sessionID := chi.URLParam(r, "id")
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return sessionID, true
}
