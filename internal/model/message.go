package model

import (
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Variant is the display state of a message.
type Variant string

const (
	VariantNormal Variant = "normal"
	VariantTyping Variant = "typing"
	VariantError  Variant = "error"
)

// Message represents a message in the active conversation.
type Message struct {
	// ID is process-local and strictly increasing.
	ID      int64   `json:"id"`
	Role    Role    `json:"role"`
	Content string  `json:"content"`
	Variant Variant `json:"variant"`

	// RemoteID is the server id of a message loaded from history.
	RemoteID string `json:"remote_id,omitempty"`
}

// ChatItem is a persisted history entry after normalization.
type ChatItem struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id,omitempty"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// ChatRequest is the body of a streaming chat call.
type ChatRequest struct {
	TenantID     string  `json:"tenant_id"`
	UserID       string  `json:"user_id"`
	Message      string  `json:"message"`
	ResetContext bool    `json:"reset_context"`
	SessionID    *string `json:"session_id"`
	ClientReqID  string  `json:"client_req_id"`
}

// SavePartialRequest is the body of a partial-save call.
type SavePartialRequest struct {
	SessionID   string `json:"session_id"`
	Message     string `json:"message"`
	ClientReqID string `json:"client_req_id"`
	Reason      string `json:"reason"`
}

// Abort reasons sent with a partial save.
const (
	ReasonClientAbort = "client_abort"
	ReasonNavigate    = "navigate"
)
