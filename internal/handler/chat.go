package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/memory-hub/internal/middleware"
	"github.com/capitalize-ai/memory-hub/internal/service"
	"github.com/capitalize-ai/memory-hub/pkg/logger"
)

// SendMessageRequest is the body of POST /api/v1/chat/messages.
type SendMessageRequest struct {
	Text string `json:"text"`
}

// SendMessageResponse acknowledges a started turn.
type SendMessageResponse struct {
	ClientReqID string `json:"client_req_id"`
	SessionID   string `json:"session_id,omitempty"`
}

// ChatHandler drives the active conversation.
type ChatHandler struct {
	conv    *service.Conversation
	baseCtx context.Context
	logger  *logger.Logger
}

// NewChatHandler creates a chat handler. Streams outlive their HTTP request
// and are cancelled with baseCtx.
func NewChatHandler(baseCtx context.Context, conv *service.Conversation, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		conv:    conv,
		baseCtx: baseCtx,
		logger:  log,
	}
}

// Send handles POST /api/v1/chat/messages
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateMessageContent(req.Text); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	done, err := h.conv.Start(h.baseCtx, req.Text)
	if errors.Is(err, service.ErrInFlight) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	snap := h.conv.State()
	clientReqID := snap.ClientReqID

	go func() {
		if err := <-done; err != nil {
			h.logger.Warn("bridge turn failed",
				zap.Error(err),
				zap.String("client_req_id", clientReqID),
			)
		}
	}()

	writeJSON(w, http.StatusAccepted, SendMessageResponse{
		ClientReqID: clientReqID,
		SessionID:   snap.SessionID,
	})
}

// New handles POST /api/v1/chat/new
func (h *ChatHandler) New(w http.ResponseWriter, r *http.Request) {
	h.conv.NewChat()
	writeJSON(w, http.StatusOK, h.conv.State())
}

// Cancel handles POST /api/v1/chat/cancel
func (h *ChatHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	cancelled := h.conv.Cancel()
	writeJSON(w, http.StatusOK, map[string]bool{
		"cancelled": cancelled,
	})
}
