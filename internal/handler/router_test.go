package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/memory-hub/internal/auth"
	"github.com/capitalize-ai/memory-hub/internal/model"
	"github.com/capitalize-ai/memory-hub/internal/service"
	"github.com/capitalize-ai/memory-hub/internal/transport"
	"github.com/capitalize-ai/memory-hub/pkg/logger"
)

// stubBackend answers every stream with a held token until released.
type stubBackend struct {
	mu       sync.Mutex
	sessions []model.Session
	history  map[string][]model.ChatItem
	release  chan struct{}
	deleted  []string
	listErr  error
}

func (b *stubBackend) StreamChat(ctx context.Context, _ auth.Identity, _, _, _ string, onEvent transport.EventHandler) error {
	onEvent(model.SessionEvent{SessionID: "s1"})
	onEvent(model.TokenEvent{Content: "hi"})
	select {
	case <-b.release:
		onEvent(model.FinalTokenEvent{})
	case <-ctx.Done():
	}
	return nil
}

func (b *stubBackend) SavePartial(context.Context, auth.Identity, model.SavePartialRequest) error {
	return nil
}

func (b *stubBackend) ListSessions(context.Context, auth.Identity) ([]model.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessions, b.listErr
}

func (b *stubBackend) DeleteSession(_ context.Context, _ auth.Identity, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, id)
	return nil
}

func (b *stubBackend) SessionMessages(_ context.Context, _ auth.Identity, id string) ([]model.ChatItem, error) {
	return b.history[id], nil
}

type testBridge struct {
	server  *httptest.Server
	conv    *service.Conversation
	session *auth.Session
	backend *stubBackend
}

func newTestBridge(t *testing.T, token string) *testBridge {
	t.Helper()
	log := logger.NewNop()

	session := auth.NewSession(auth.NewMemoryStore(auth.Credentials{}), log)
	require.NoError(t, session.SignIn(auth.Identity{TenantID: "acme", UserID: "alice", Token: "opaque"}))

	backend := &stubBackend{
		history: map[string][]model.ChatItem{},
		release: make(chan struct{}),
	}
	conv := service.NewConversation(backend, session, log)

	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(NewRouter(RouterConfig{
		BaseContext:  ctx,
		Conversation: conv,
		Auth:         session,
		Logger:       log,
		BridgeToken:  token,
		Heartbeat:    time.Hour,
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		conv.Wait()
	})

	return &testBridge{server: srv, conv: conv, session: session, backend: backend}
}

func (b *testBridge) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, b.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealthAndReady(t *testing.T) {
	b := newTestBridge(t, "")

	assert.Equal(t, http.StatusOK, b.do(t, http.MethodGet, "/health", "").StatusCode)
	assert.Equal(t, http.StatusOK, b.do(t, http.MethodGet, "/ready", "").StatusCode)

	b.session.SignOut("test")
	assert.Equal(t, http.StatusServiceUnavailable, b.do(t, http.MethodGet, "/ready", "").StatusCode)
}

func TestStateStartsAsNewChat(t *testing.T) {
	b := newTestBridge(t, "")

	resp := b.do(t, http.MethodGet, "/api/v1/state", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	snap := decode[service.Snapshot](t, resp)
	assert.True(t, snap.HasActiveNewChat)
	assert.Equal(t, model.DefaultTopic, snap.Topic)
}

func TestSendMessageLifecycle(t *testing.T) {
	b := newTestBridge(t, "")

	resp := b.do(t, http.MethodPost, "/api/v1/chat/messages", `{"text":"Hello"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	ack := decode[SendMessageResponse](t, resp)
	assert.NotEmpty(t, ack.ClientReqID)

	resp = b.do(t, http.MethodPost, "/api/v1/chat/messages", `{"text":"again"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = b.do(t, http.MethodPost, "/api/v1/chat/cancel", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]bool{"cancelled": true}, decode[map[string]bool](t, resp))

	snap := b.conv.State()
	assert.False(t, snap.Streaming)
	assert.Equal(t, "s1", snap.SessionID)
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "hi", snap.Messages[1].Content)
}

func TestSendMessageValidation(t *testing.T) {
	b := newTestBridge(t, "")

	assert.Equal(t, http.StatusBadRequest, b.do(t, http.MethodPost, "/api/v1/chat/messages", `{"text":"  "}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, b.do(t, http.MethodPost, "/api/v1/chat/messages", `not json`).StatusCode)
}

func TestSendMessageSignedOut(t *testing.T) {
	b := newTestBridge(t, "")
	b.session.SignOut("test")

	resp := b.do(t, http.MethodPost, "/api/v1/chat/messages", `{"text":"Hello"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestNewChat(t *testing.T) {
	b := newTestBridge(t, "")
	b.backend.history["7"] = []model.ChatItem{{ID: "m", Role: model.RoleUser, Text: "old"}}

	resp := b.do(t, http.MethodPost, "/api/v1/sessions/7/open", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap := decode[service.Snapshot](t, resp)
	assert.Equal(t, "7", snap.SessionID)
	require.Len(t, snap.Messages, 1)

	resp = b.do(t, http.MethodPost, "/api/v1/chat/new", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap = decode[service.Snapshot](t, resp)
	assert.Empty(t, snap.SessionID)
	assert.Empty(t, snap.Messages)
	assert.True(t, snap.HasActiveNewChat)
}

func TestSessionsListAndDelete(t *testing.T) {
	b := newTestBridge(t, "")
	b.backend.sessions = []model.Session{
		{ID: "1", Topic: "old", CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "2", Topic: "new", CreatedAt: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
	}

	resp := b.do(t, http.MethodGet, "/api/v1/sessions", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[SessionListResponse](t, resp)
	require.Len(t, list.Sessions, 2)
	assert.Equal(t, "2", list.Sessions[0].ID)

	resp = b.do(t, http.MethodDelete, "/api/v1/sessions/2", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []string{"2"}, b.backend.deleted)
	assert.Len(t, b.conv.State().Sessions, 1)
}

func TestSessionsListError(t *testing.T) {
	b := newTestBridge(t, "")
	b.backend.listErr = errors.New("down")

	resp := b.do(t, http.MethodGet, "/api/v1/sessions", "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestSessionMessages(t *testing.T) {
	b := newTestBridge(t, "")
	b.backend.history["3"] = []model.ChatItem{{ID: "a", Role: model.RoleAssistant, Text: "answer"}}

	resp := b.do(t, http.MethodGet, "/api/v1/sessions/3/messages", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[SessionMessagesResponse](t, resp)
	assert.Equal(t, "3", body.SessionID)
	require.Len(t, body.Messages, 1)
	assert.Equal(t, "answer", body.Messages[0].Text)

	assert.Empty(t, b.conv.State().SessionID, "reading history does not switch sessions")
}

func TestSignOut(t *testing.T) {
	b := newTestBridge(t, "")

	resp := b.do(t, http.MethodPost, "/api/v1/auth/signout", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, auth.StateSignedOut, b.session.State())
}

func TestBridgeTokenRequired(t *testing.T) {
	b := newTestBridge(t, "bridge-secret")

	assert.Equal(t, http.StatusUnauthorized, b.do(t, http.MethodGet, "/api/v1/state", "").StatusCode)
	assert.Equal(t, http.StatusOK, b.do(t, http.MethodGet, "/health", "").StatusCode)

	req, err := http.NewRequest(http.MethodGet, b.server.URL+"/api/v1/state", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer bridge-secret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStateStream(t *testing.T) {
	b := newTestBridge(t, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.server.URL+"/api/v1/state/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 64)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	waitFor := func(pred func(service.Snapshot) bool) {
		t.Helper()
		timeout := time.After(5 * time.Second)
		for {
			select {
			case line, ok := <-lines:
				require.True(t, ok, "stream closed")
				data, found := strings.CutPrefix(line, "data: ")
				if !found {
					continue
				}
				var snap service.Snapshot
				if json.Unmarshal([]byte(data), &snap) == nil && pred(snap) {
					return
				}
			case <-timeout:
				t.Fatal("timed out waiting for snapshot")
			}
		}
	}

	waitFor(func(s service.Snapshot) bool { return s.HasActiveNewChat })

	resp2 := b.do(t, http.MethodPost, "/api/v1/chat/messages", `{"text":"Hello"}`)
	require.Equal(t, http.StatusAccepted, resp2.StatusCode)

	waitFor(func(s service.Snapshot) bool { return s.SessionID == "s1" && s.Streaming })

	close(b.backend.release)
	waitFor(func(s service.Snapshot) bool { return !s.Streaming && len(s.Messages) == 2 })
}
