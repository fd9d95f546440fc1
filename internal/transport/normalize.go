package transport

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/capitalize-ai/memory-hub/internal/model"
)

// flexString accepts a JSON string, number, bool or null.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0, bytes.Equal(data, []byte("null")):
		*f = ""
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
	default:
		*f = flexString(data)
	}
	return nil
}

func (f flexString) String() string {
	return string(f)
}

func firstNonEmpty(values ...flexString) string {
	for _, v := range values {
		if s := strings.TrimSpace(v.String()); s != "" {
			return s
		}
	}
	return ""
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// parseTime parses the timestamp shapes the backend emits. Unparseable or
// empty values yield the zero time, which sorts as earliest.
func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

type wireSession struct {
	ID        flexString  `json:"id"`
	SessionID flexString  `json:"session_id"`
	Topic     *flexString `json:"topic"`
	CreatedAt flexString  `json:"created_at"`
}

// NormalizeSessions maps a session listing to canonical sessions. Anything
// other than a JSON array is treated as an empty listing; entries without an
// id are skipped.
func NormalizeSessions(raw []byte) ([]model.Session, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return []model.Session{}, nil
	}

	var items []wireSession
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}

	sessions := make([]model.Session, 0, len(items))
	for _, item := range items {
		id := firstNonEmpty(item.SessionID, item.ID)
		if id == "" {
			continue
		}
		var topic string
		if item.Topic != nil {
			topic = strings.TrimSpace(item.Topic.String())
		}
		sessions = append(sessions, model.Session{
			ID:        id,
			Topic:     topic,
			CreatedAt: parseTime(item.CreatedAt.String()),
		})
	}
	return sessions, nil
}

type wireChatItem struct {
	ID           flexString  `json:"id"`
	CreatedAt    flexString  `json:"created_at"`
	CreatedAtAlt flexString  `json:"createdAt"`
	SessionID    flexString  `json:"session_id"`
	SessionIDAlt flexString  `json:"sessionId"`
	Text         *flexString `json:"text"`
	Content      *flexString `json:"content"`
	Owner        flexString  `json:"owner"`
	Role         flexString  `json:"role"`
}

// NormalizeChatHistory maps a history response, either an array or an object
// with a messages array, to canonical chat items in response order.
func NormalizeChatHistory(raw []byte) ([]model.ChatItem, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return []model.ChatItem{}, nil
	}

	var items []wireChatItem
	switch raw[0] {
	case '[':
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, err
		}
	case '{':
		var envelope struct {
			Messages json.RawMessage `json:"messages"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return nil, err
		}
		msgs := bytes.TrimSpace(envelope.Messages)
		if len(msgs) == 0 || msgs[0] != '[' {
			return []model.ChatItem{}, nil
		}
		if err := json.Unmarshal(msgs, &items); err != nil {
			return nil, err
		}
	default:
		return []model.ChatItem{}, nil
	}

	out := make([]model.ChatItem, 0, len(items))
	for _, item := range items {
		var text string
		switch {
		case item.Text != nil:
			text = item.Text.String()
		case item.Content != nil:
			text = item.Content.String()
		}

		role := model.RoleAssistant
		if strings.EqualFold(firstNonEmpty(item.Owner, item.Role), string(model.RoleUser)) {
			role = model.RoleUser
		}

		out = append(out, model.ChatItem{
			ID:        item.ID.String(),
			SessionID: firstNonEmpty(item.SessionID, item.SessionIDAlt),
			Role:      role,
			Text:      text,
			CreatedAt: parseTime(firstNonEmpty(item.CreatedAt, item.CreatedAtAlt)),
		})
	}
	return out, nil
}
