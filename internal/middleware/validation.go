package middleware

import (
	"errors"
	"strings"
	"unicode/utf8"
)

const (
	maxMessageBytes   = 100000
	maxSessionIDBytes = 128
)

// ValidateMessageContent validates a chat message.
func ValidateMessageContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return errors.New("text cannot be empty")
	}
	if len(content) > maxMessageBytes {
		return errors.New("text exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("text must be valid UTF-8")
	}
	return nil
}

// ValidateSessionID validates a server-assigned session id. Ids are opaque,
// so only emptiness, length and control characters are checked.
func ValidateSessionID(id string) error {
	if id == "" {
		return errors.New("session ID cannot be empty")
	}
	if len(id) > maxSessionIDBytes {
		return errors.New("session ID exceeds maximum length")
	}
	for _, r := range id {
		if r < 0x20 || r == 0x7f {
			return errors.New("invalid session ID format")
		}
	}
	return nil
}
