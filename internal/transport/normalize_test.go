package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/memory-hub/internal/model"
)

func TestNormalizeSessions(t *testing.T) {
	raw := []byte(`[
		{"session_id": 5, "topic": "Quarterly numbers", "created_at": "2024-01-02T10:00:00Z"},
		{"id": "abc", "topic": null, "created_at": "2024-01-03T09:30:00.123456"},
		{"id": 9, "session_id": "9b", "created_at": "garbage"},
		{"topic": "orphan"}
	]`)

	sessions, err := NormalizeSessions(raw)
	require.NoError(t, err)
	require.Len(t, sessions, 3)

	assert.Equal(t, "5", sessions[0].ID)
	assert.Equal(t, "Quarterly numbers", sessions[0].Topic)
	assert.Equal(t, time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC), sessions[0].CreatedAt)

	assert.Equal(t, "abc", sessions[1].ID)
	assert.Empty(t, sessions[1].Topic)
	assert.Equal(t, model.UntitledTopic, sessions[1].DisplayTopic())
	assert.Equal(t, 2024, sessions[1].CreatedAt.Year())

	assert.Equal(t, "9b", sessions[2].ID)
	assert.False(t, sessions[2].HasCreatedAt())
}

func TestNormalizeSessionsNonArray(t *testing.T) {
	sessions, err := NormalizeSessions([]byte(`{"detail":"nope"}`))
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestNormalizeChatHistoryShapes(t *testing.T) {
	array := []byte(`[
		{"id": 1, "created_at": "2024-01-01T00:00:01Z", "text": "hi", "owner": "USER", "session_id": 3},
		{"id": "2", "createdAt": "2024-01-01T00:00:02Z", "content": "hello", "role": "assistant", "sessionId": "3"},
		{"id": 3, "text": null, "content": "fallback", "owner": "system"}
	]`)
	envelope := []byte(`{"messages": [{"id": 1, "text": "hi", "owner": "user"}]}`)

	items, err := NormalizeChatHistory(array)
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, model.ChatItem{
		ID: "1", SessionID: "3", Role: model.RoleUser, Text: "hi",
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC),
	}, items[0])
	assert.Equal(t, "hello", items[1].Text)
	assert.Equal(t, "3", items[1].SessionID)
	assert.Equal(t, model.RoleAssistant, items[1].Role)
	assert.Equal(t, "fallback", items[2].Text)
	assert.Equal(t, model.RoleAssistant, items[2].Role)

	items, err = NormalizeChatHistory(envelope)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, model.RoleUser, items[0].Role)

	items, err = NormalizeChatHistory([]byte(`{"messages": "none"}`))
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestParseTime(t *testing.T) {
	assert.True(t, parseTime("").IsZero())
	assert.True(t, parseTime("yesterday").IsZero())
	assert.Equal(t, time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), parseTime("2024-01-03"))
	assert.Equal(t, time.Date(2024, 1, 3, 4, 5, 6, 0, time.UTC), parseTime("2024-01-03 04:05:06"))
}
