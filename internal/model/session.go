// Package model defines data structures for the Memory Hub client.
package model

import (
	"time"
)

const (
	// DefaultTopic is shown while the conversation is an unsaved new chat.
	DefaultTopic = "Memory Hub"
	// UntitledTopic is shown for sessions the server has not named.
	UntitledTopic = "Untitled"
	// NewChatTopic is used when a new chat's first prompt is empty.
	NewChatTopic = "New chat"
)

// Session represents a persisted conversation summary.
type Session struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// DisplayTopic returns the topic, falling back to UntitledTopic.
func (s Session) DisplayTopic() string {
	if s.Topic == "" {
		return UntitledTopic
	}
	return s.Topic
}

// HasCreatedAt reports whether the server supplied a creation time.
func (s Session) HasCreatedAt() bool {
	return !s.CreatedAt.IsZero()
}
