package model

import (
	"time"
)

// Event is a decoded frame of the chat stream. The set of implementations is
// closed; consumers switch on the concrete type.
type Event interface {
	streamEvent()
}

// SessionEvent carries the session id assigned or confirmed by the server.
type SessionEvent struct {
	SessionID string
}

// LogEvent is an informational status line.
type LogEvent struct {
	Content string
}

// FirstTokenEvent is a marker kept for compatibility with older backends.
type FirstTokenEvent struct{}

// TokenEvent is an incremental piece of the assistant answer.
type TokenEvent struct {
	Content string
}

// FinalTokenEvent ends the stream. Content is the whole answer when the
// backend did not stream tokens.
type FinalTokenEvent struct {
	Content string
}

// ErrorEvent reports a stream-level failure.
type ErrorEvent struct {
	Content string
}

func (SessionEvent) streamEvent()    {}
func (LogEvent) streamEvent()        {}
func (FirstTokenEvent) streamEvent() {}
func (TokenEvent) streamEvent()      {}
func (FinalTokenEvent) streamEvent() {}
func (ErrorEvent) streamEvent()      {}

// EventType represents the type of conversation activity event.
type EventType string

const (
	EventTypeTurnCompleted  EventType = "turn_completed"
	EventTypeTurnFailed     EventType = "turn_failed"
	EventTypeTurnAborted    EventType = "turn_aborted"
	EventTypePartialSaved   EventType = "partial_saved"
	EventTypeSessionDeleted EventType = "session_deleted"
)

// ConversationEvent is an activity record published to the journal.
type ConversationEvent struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id"`
	UserID      string         `json:"user_id"`
	SessionID   string         `json:"session_id,omitempty"`
	ClientReqID string         `json:"client_req_id,omitempty"`
	Type        EventType      `json:"type"`
	Reason      string         `json:"reason,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}
