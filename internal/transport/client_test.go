package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/memory-hub/internal/auth"
	"github.com/capitalize-ai/memory-hub/internal/model"
	"github.com/capitalize-ai/memory-hub/pkg/logger"
)

var testIdentity = auth.Identity{TenantID: "acme", UserID: "alice", Token: "tok-123"}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", logger.NewNop())
}

func TestStreamChatRequestAndEvents(t *testing.T) {
	var got model.ChatRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, PathChatResponse, r.URL.Path)
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set(HeaderSessionID, "77")
		flusher := w.(http.Flusher)
		for _, frame := range []string{
			`{"type":"token","content":"Hi"}`,
			`{"type":"token","content":" there"}`,
			`{"type":"final_token"}`,
		} {
			fmt.Fprint(w, frame+Separator+"\n")
			flusher.Flush()
		}
	})

	var events []model.Event
	err := c.StreamChat(context.Background(), testIdentity, "", "Hello", "req-1", func(evt model.Event) {
		events = append(events, evt)
	})
	require.NoError(t, err)

	assert.Equal(t, "acme", got.TenantID)
	assert.Equal(t, "alice", got.UserID)
	assert.Equal(t, "Hello", got.Message)
	assert.Nil(t, got.SessionID)
	assert.False(t, got.ResetContext)
	assert.Equal(t, "req-1", got.ClientReqID)

	assert.Equal(t, []model.Event{
		model.SessionEvent{SessionID: "77"},
		model.TokenEvent{Content: "Hi"},
		model.TokenEvent{Content: " there"},
		model.FinalTokenEvent{},
	}, events)
}

func TestStreamChatSendsExistingSessionAsString(t *testing.T) {
	var raw map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		fmt.Fprint(w, `{"type":"final_token","content":"ok"}`)
	})

	require.NoError(t, c.StreamChat(context.Background(), testIdentity, "12", "hi", "req", func(model.Event) {}))
	assert.Equal(t, "12", raw["session_id"])
}

func TestStreamChatAuthError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"detail":"token expired"}`)
	})

	err := c.StreamChat(context.Background(), testIdentity, "", "hi", "req", func(model.Event) {
		t.Fatal("no events expected")
	})
	require.Error(t, err)
	assert.True(t, IsAuthError(err))
	assert.Equal(t, http.StatusUnauthorized, StatusCode(err))
	assert.Contains(t, err.Error(), "token expired")
}

func TestStreamChatServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})

	err := c.StreamChat(context.Background(), testIdentity, "", "hi", "req", func(model.Event) {})
	require.Error(t, err)
	assert.False(t, IsAuthError(err))
	assert.Equal(t, http.StatusServiceUnavailable, StatusCode(err))
}

func TestStreamChatAbortIsNotAnError(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"type":"token","content":"partial"}`+Separator)
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	var tokens []string
	err := c.StreamChat(ctx, testIdentity, "", "hi", "req", func(evt model.Event) {
		if tok, ok := evt.(model.TokenEvent); ok {
			tokens = append(tokens, tok.Content)
			cancel()
		}
	})

	assert.NoError(t, err)
	assert.Equal(t, []string{"partial"}, tokens)
}

func TestStreamChatNetworkError(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", logger.NewNop(), WithHTTPClient(&http.Client{Timeout: time.Second}))

	err := c.StreamChat(context.Background(), testIdentity, "", "hi", "req", func(model.Event) {})
	require.Error(t, err)
	assert.Zero(t, StatusCode(err))
}

func TestListSessions(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, PathSessions, r.URL.Path)
		assert.Equal(t, "acme", r.URL.Query().Get("tenant_id"))
		assert.Equal(t, "alice", r.URL.Query().Get("user_id"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"session_id":1,"topic":"One","created_at":"2024-01-01T00:00:00Z"},{"id":"2"}]`)
	})

	sessions, err := c.ListSessions(context.Background(), testIdentity)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "1", sessions[0].ID)
	assert.Equal(t, "2", sessions[1].ID)
}

func TestDeleteSession(t *testing.T) {
	called := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "s-9", r.URL.Query().Get("session_id"))
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.DeleteSession(context.Background(), testIdentity, "s-9"))
	assert.True(t, called)
}

func TestDeleteSessionForbidden(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	err := c.DeleteSession(context.Background(), testIdentity, "s-9")
	assert.True(t, IsAuthError(err))

	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, OpDeleteSession, httpErr.Op)
}

func TestSessionMessages(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathSessionChat, r.URL.Path)
		assert.Equal(t, "s-1", r.URL.Query().Get("session_id"))
		fmt.Fprint(w, `{"messages":[{"id":1,"text":"hi","owner":"user"}]}`)
	})

	items, err := c.SessionMessages(context.Background(), testIdentity, "s-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, model.RoleUser, items[0].Role)
}

func TestSavePartial(t *testing.T) {
	var got model.SavePartialRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathSavePartial, r.URL.Path)
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"ok":true}`)
	})

	err := c.SavePartial(context.Background(), testIdentity, model.SavePartialRequest{
		SessionID: "4", Message: "half", ClientReqID: "req-4", Reason: model.ReasonNavigate,
	})
	require.NoError(t, err)
	assert.Equal(t, model.SavePartialRequest{
		SessionID: "4", Message: "half", ClientReqID: "req-4", Reason: model.ReasonNavigate,
	}, got)
}
