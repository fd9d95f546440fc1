// Package transport issues the HTTP calls the Memory Hub backend exposes and
// decodes its chat stream.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/memory-hub/internal/auth"
	"github.com/capitalize-ai/memory-hub/internal/model"
	"github.com/capitalize-ai/memory-hub/pkg/logger"
	"github.com/capitalize-ai/memory-hub/pkg/metrics"
	"github.com/capitalize-ai/memory-hub/pkg/tracing"
)

// Backend paths, relative to the configured base URL.
const (
	PathChatResponse = "/conversation/chat_response"
	PathSavePartial  = "/conversation/save_partial"
	PathSessions     = "/session/"
	PathSessionChat  = "/session/chat/"

	// HeaderSessionID optionally carries the session id of a chat stream.
	HeaderSessionID = "X-Session-Id"
)

// Operation names used for errors, spans and metrics.
const (
	OpStreamChat      = "stream_chat"
	OpSavePartial     = "save_partial"
	OpListSessions    = "list_sessions"
	OpDeleteSession   = "delete_session"
	OpSessionMessages = "session_messages"
)

// EventHandler receives decoded stream events in arrival order.
type EventHandler func(evt model.Event)

// Client is the Memory Hub backend client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logger.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a backend client. The default HTTP client has no timeout;
// streams may legitimately run for minutes.
func NewClient(baseURL string, log *logger.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{},
		logger:     log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StreamChat posts a user message and delivers the streamed answer to onEvent.
// An empty sessionID asks the server to create a session. When ctx is
// cancelled the stream stops and StreamChat returns nil.
func (c *Client) StreamChat(ctx context.Context, id auth.Identity, sessionID, text, clientReqID string, onEvent EventHandler) (err error) {
	ctx, span := tracing.Tracer().Start(ctx, "memhub.transport."+OpStreamChat, trace.WithAttributes(
		attribute.String("memhub.tenant_id", id.TenantID),
		attribute.String("memhub.session_id", sessionID),
		attribute.String("memhub.client_req_id", clientReqID),
	))
	start := time.Now()
	status := 0
	defer func() {
		c.finish(span, OpStreamChat, status, start, err)
	}()

	payload := model.ChatRequest{
		TenantID:     id.TenantID,
		UserID:       id.UserID,
		Message:      text,
		ResetContext: false,
		ClientReqID:  clientReqID,
	}
	if sessionID != "" {
		payload.SessionID = &sessionID
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+PathChatResponse, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+id.Token)

	c.logger.Debug("starting chat stream",
		zap.String("session_id", sessionID),
		zap.String("client_req_id", clientReqID),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to start chat stream: %w", err)
	}
	defer resp.Body.Close()
	status = resp.StatusCode

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPError{Op: OpStreamChat, Status: resp.StatusCode, Message: readErrorMessage(resp)}
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return &HTTPError{Op: OpStreamChat, Status: resp.StatusCode, Message: ErrMissingBody.Error()}
	}

	if sid := strings.TrimSpace(resp.Header.Get(HeaderSessionID)); sid != "" {
		onEvent(model.SessionEvent{SessionID: sid})
	}

	metrics.IncrementStreams()
	defer metrics.DecrementStreams()

	dec := NewDecoder(resp.Body, func(frame []byte, derr error) {
		metrics.RecordDroppedFrame()
		c.logger.Debug("dropping malformed stream frame",
			zap.Error(derr),
			zap.Int("bytes", len(frame)),
		)
	})

	frames := 0
	for {
		evt, rerr := dec.Next()
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			if ctx.Err() != nil {
				c.logger.Debug("chat stream aborted", zap.String("client_req_id", clientReqID))
				return nil
			}
			return fmt.Errorf("failed to read chat stream: %w", rerr)
		}
		if ctx.Err() != nil {
			return nil
		}

		frames++
		metrics.RecordFrame(EventName(evt))
		onEvent(evt)
	}

	span.SetAttributes(attribute.Int("memhub.frames", frames))
	return nil
}

// SavePartial persists a truncated assistant answer.
func (c *Client) SavePartial(ctx context.Context, id auth.Identity, req model.SavePartialRequest) error {
	return c.doJSON(ctx, OpSavePartial, id, http.MethodPost, PathSavePartial, nil, req, nil)
}

// ListSessions returns the normalized sessions of the identity's user, in
// response order.
func (c *Client) ListSessions(ctx context.Context, id auth.Identity) ([]model.Session, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, OpListSessions, id, http.MethodGet, PathSessions, scopeQuery(id, ""), nil, &raw); err != nil {
		return nil, err
	}

	sessions, err := NormalizeSessions(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode sessions: %w", err)
	}
	return sessions, nil
}

// DeleteSession deletes a session.
func (c *Client) DeleteSession(ctx context.Context, id auth.Identity, sessionID string) error {
	return c.doJSON(ctx, OpDeleteSession, id, http.MethodDelete, PathSessions, scopeQuery(id, sessionID), nil, nil)
}

// SessionMessages returns the normalized history of a session, in response order.
func (c *Client) SessionMessages(ctx context.Context, id auth.Identity, sessionID string) ([]model.ChatItem, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, OpSessionMessages, id, http.MethodGet, PathSessionChat, scopeQuery(id, sessionID), nil, &raw); err != nil {
		return nil, err
	}

	items, err := NormalizeChatHistory(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode chat history: %w", err)
	}
	return items, nil
}

func scopeQuery(id auth.Identity, sessionID string) url.Values {
	q := url.Values{}
	q.Set("tenant_id", id.TenantID)
	q.Set("user_id", id.UserID)
	if sessionID != "" {
		q.Set("session_id", sessionID)
	}
	return q
}

func (c *Client) doJSON(ctx context.Context, op string, id auth.Identity, method, path string, query url.Values, in, out any) (err error) {
	ctx, span := tracing.Tracer().Start(ctx, "memhub.transport."+op, trace.WithAttributes(
		attribute.String("memhub.tenant_id", id.TenantID),
		attribute.String("http.method", method),
	))
	start := time.Now()
	status := 0
	defer func() {
		c.finish(span, op, status, start, err)
	}()

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if id.Token != "" {
		req.Header.Set("Authorization", "Bearer "+id.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", strings.ReplaceAll(op, "_", " "), err)
	}
	defer resp.Body.Close()
	status = resp.StatusCode

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPError{Op: op, Status: resp.StatusCode, Message: readErrorMessage(resp)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}

func (c *Client) finish(span trace.Span, op string, status int, start time.Time, err error) {
	label := strconv.Itoa(status)
	if status == 0 {
		label = "error"
	}
	metrics.RecordBackendCall(op, label, time.Since(start).Seconds())

	span.SetAttributes(attribute.Int("http.status_code", status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// readErrorMessage extracts a human-readable message from an error response.
func readErrorMessage(resp *http.Response) string {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil || len(data) == 0 {
		return ""
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var payload struct {
			Error   string `json:"error"`
			Message string `json:"message"`
			Detail  any    `json:"detail"`
		}
		if json.Unmarshal(data, &payload) == nil {
			switch {
			case payload.Error != "":
				return payload.Error
			case payload.Message != "":
				return payload.Message
			case payload.Detail != nil:
				return fmt.Sprint(payload.Detail)
			}
		}
	}
	return strings.TrimSpace(string(data))
}
