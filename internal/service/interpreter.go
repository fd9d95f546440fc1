package service

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/capitalize-ai/memory-hub/internal/model"
)

const (
	topicMaxRunes     = 60
	topicTruncateRune = 57
)

// applyLocked applies one stream event to the active request.
func (c *Conversation) applyLocked(req *request, evt model.Event) {
	switch e := evt.(type) {
	case model.SessionEvent:
		req.sessionID = e.SessionID
		c.sessionID = e.SessionID
		c.hasActiveNewChat = false

	case model.LogEvent:
		c.status = e.Content

	case model.FirstTokenEvent:

	case model.TokenEvent:
		if e.Content == "" {
			return
		}
		req.sawTokens = true
		if req.armed {
			req.accumulated += e.Content
		}
		if m := c.messageLocked(req.assistantID); m != nil {
			m.Content += e.Content
			if m.Variant == model.VariantTyping {
				m.Variant = model.VariantNormal
			}
		}

	case model.FinalTokenEvent:
		m := c.messageLocked(req.assistantID)
		if m != nil {
			if !req.sawTokens && e.Content != "" {
				m.Content += e.Content
			}
			if m.Variant == model.VariantTyping {
				m.Variant = model.VariantNormal
			}
		}
		req.completed = true
		req.armed = false
		req.accumulated = ""
		c.status = ""

	case model.ErrorEvent:
		if m := c.messageLocked(req.assistantID); m != nil {
			m.Variant = model.VariantError
		} else {
			c.appendLocked(model.RoleAssistant, StreamInterruptedMessage, model.VariantError)
		}
		req.armed = false
		req.accumulated = ""
		c.status = e.Content

	default:
		c.logger.Warn("unhandled stream event")
	}
}

// DeriveTopic names a session after its first prompt.
func DeriveTopic(prompt string) string {
	raw := strings.TrimSpace(prompt)
	if raw == "" {
		return model.NewChatTopic
	}
	if utf8.RuneCountInString(raw) <= topicMaxRunes {
		return raw
	}
	runes := []rune(raw)
	return strings.TrimRightFunc(string(runes[:topicTruncateRune]), unicode.IsSpace) + "…"
}

