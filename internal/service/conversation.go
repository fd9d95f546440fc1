// Package service holds the conversation state machine, the session
// directory and partial-save recovery.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/memory-hub/internal/auth"
	"github.com/capitalize-ai/memory-hub/internal/model"
	"github.com/capitalize-ai/memory-hub/internal/transport"
	"github.com/capitalize-ai/memory-hub/pkg/logger"
	"github.com/capitalize-ai/memory-hub/pkg/metrics"
)

// ErrInFlight is returned when a message is sent while a stream is running.
// Nothing is changed.
var ErrInFlight = errors.New("a response is already streaming")

// StreamInterruptedMessage is shown when a stream fails before any answer.
const StreamInterruptedMessage = "⚠️ Stream interrupted. Please try again."

const backgroundTimeout = 30 * time.Second

// Backend is the remote Memory Hub API.
type Backend interface {
	PartialSaver
	SessionStore
	StreamChat(ctx context.Context, id auth.Identity, sessionID, text, clientReqID string, onEvent transport.EventHandler) error
}

// Authenticator supplies the identity for backend calls.
type Authenticator interface {
	Identity() (auth.Identity, error)
	SignOut(reason string)
}

// Snapshot is a consistent copy of the conversation state.
type Snapshot struct {
	SessionID        string          `json:"session_id,omitempty"`
	Topic            string          `json:"topic"`
	HasActiveNewChat bool            `json:"has_active_new_chat"`
	Streaming        bool            `json:"streaming"`
	ClientReqID      string          `json:"client_req_id,omitempty"`
	Status           string          `json:"status,omitempty"`
	HistoryLoading   bool            `json:"history_loading"`
	Messages         []model.Message `json:"messages"`
	Sessions         []model.Session `json:"sessions"`
	SessionsLoading  bool            `json:"sessions_loading"`
	SessionsError    string          `json:"sessions_error,omitempty"`
}

// request is the in-flight descriptor of one send.
type request struct {
	clientReqID string
	cancel      context.CancelFunc
	epoch       uint64

	// sessionID follows session events so saves target the right session.
	sessionID   string
	newChat     bool
	prompt      string
	assistantID int64

	// accumulated mirrors the assistant text while armed is set.
	accumulated string
	armed       bool
	sawTokens   bool
	completed   bool
}

// Conversation is the single active conversation of a client.
type Conversation struct {
	backend  Backend
	auth     Authenticator
	dir      *Directory
	recovery *Recovery
	journal  Journal
	logger   *logger.Logger
	notifier *notifier
	bg       sync.WaitGroup

	mu               sync.Mutex
	messages         []model.Message
	nextID           int64
	sessionID        string
	topic            string
	hasActiveNewChat bool
	status           string
	historyLoading   bool
	active           *request

	// epoch changes on every reset so late history or adoption results
	// for an abandoned conversation are dropped.
	epoch         uint64
	reselectEpoch uint64
	reselectFor   string
}

// Option configures a Conversation.
type Option func(*Conversation)

// WithJournal publishes activity to j.
func WithJournal(j Journal) Option {
	return func(c *Conversation) {
		if j != nil {
			c.journal = j
		}
	}
}

// NewConversation creates a conversation in the new-chat state.
func NewConversation(backend Backend, authn Authenticator, log *logger.Logger, opts ...Option) *Conversation {
	c := &Conversation{
		backend:          backend,
		auth:             authn,
		recovery:         NewRecovery(backend, authn, log),
		journal:          nopJournal{},
		logger:           log,
		notifier:         newNotifier(),
		topic:            model.DefaultTopic,
		hasActiveNewChat: true,
	}
	c.dir = NewDirectory(backend, authn, log)
	c.dir.onChange = c.notifier.notify
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Directory returns the session directory.
func (c *Conversation) Directory() *Directory {
	return c.dir
}

// Send sends text and blocks until the answer stream ends. Cancelling ctx
// aborts the turn and is not an error.
func (c *Conversation) Send(ctx context.Context, text string) error {
	done, err := c.Start(ctx, text)
	if err != nil {
		if errors.Is(err, ErrInFlight) {
			return nil
		}
		return err
	}
	return <-done
}

// Start begins a turn and returns once the user message is recorded. The
// channel yields the turn's result. Blank text is a no-op; a running stream
// yields ErrInFlight.
func (c *Conversation) Start(ctx context.Context, text string) (<-chan error, error) {
	done := make(chan error, 1)

	text = strings.TrimSpace(text)
	if text == "" {
		done <- nil
		return done, nil
	}

	id, err := c.auth.Identity()
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	reqCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		cancel()
		return nil, ErrInFlight
	}
	req := &request{
		clientReqID: uuid.Must(uuid.NewV7()).String(),
		cancel:      cancel,
		epoch:       c.epoch,
		sessionID:   c.sessionID,
		newChat:     c.sessionID == "",
		prompt:      text,
		armed:       true,
	}
	c.appendLocked(model.RoleUser, text, model.VariantNormal)
	req.assistantID = c.appendLocked(model.RoleAssistant, "", model.VariantTyping)
	c.active = req
	c.status = ""
	c.mu.Unlock()
	c.notifier.notify()

	// The only abort listener for this request.
	listenerDone := make(chan struct{})
	stop := context.AfterFunc(reqCtx, func() {
		defer close(listenerDone)
		c.mu.Lock()
		a := c.abortLocked(req, model.ReasonClientAbort)
		c.mu.Unlock()
		if a != nil {
			c.afterAbort(a)
		}
	})

	log := c.logger.With(
		zap.String("client_req_id", req.clientReqID),
		zap.String("session_id", req.sessionID),
	)
	log.Debug("sending message", zap.Bool("new_chat", req.newChat))

	go func() {
		err := c.backend.StreamChat(reqCtx, id, req.sessionID, text, req.clientReqID, func(evt model.Event) {
			c.handleEvent(req, evt)
		})
		if !stop() {
			// Cancelled: the listener owns the teardown.
			<-listenerDone
		}
		adopt, result := c.finish(req, err)
		cancel()

		if adopt {
			c.adoptAfterNewChat(req)
		}
		if result != nil {
			log.Warn("chat stream failed", zap.Error(result))
		}
		done <- result
	}()

	return done, nil
}

// handleEvent applies evt when req is still the active request.
func (c *Conversation) handleEvent(req *request, evt model.Event) {
	c.mu.Lock()
	if c.active != req {
		c.mu.Unlock()
		return
	}
	c.applyLocked(req, evt)
	c.mu.Unlock()
	c.notifier.notify()
}

// finish tears down req after its stream returned. It reports whether the
// newest session should be adopted and the error to hand back to the caller.
func (c *Conversation) finish(req *request, streamErr error) (bool, error) {
	c.mu.Lock()
	if c.active != req {
		// Aborted or superseded; the abort path already cleaned up.
		c.mu.Unlock()
		return false, nil
	}
	c.active = nil

	var (
		result  error
		outcome string
		evtType model.EventType
	)
	switch {
	case streamErr != nil:
		c.failLocked(req)
		result = fmt.Errorf("failed to stream response: %w", streamErr)
		outcome, evtType = "failed", model.EventTypeTurnFailed
	case c.variantLocked(req.assistantID) == model.VariantError:
		outcome, evtType = "error_event", model.EventTypeTurnFailed
	default:
		c.settleLocked(req)
		outcome, evtType = "completed", model.EventTypeTurnCompleted
	}
	adopt := streamErr == nil && req.completed && req.newChat && req.epoch == c.epoch
	sessionID := req.sessionID
	c.mu.Unlock()
	c.notifier.notify()

	metrics.RecordStream(outcome)
	if streamErr != nil && transport.IsAuthError(streamErr) {
		metrics.RecordAuthFailure()
		c.auth.SignOut(streamErr.Error())
	}
	c.publish(evtType, sessionID, req.clientReqID, "", nil)
	return adopt, result
}

// abortLocked detaches req if it is active and returns the partial answer to
// save. It returns nil when req was not active.
func (c *Conversation) abortLocked(req *request, reason string) *abortResult {
	if req == nil || c.active != req {
		return nil
	}
	c.active = nil
	c.settleLocked(req)

	p := PartialRequest{
		SessionID:   req.sessionID,
		ClientReqID: req.clientReqID,
		Reason:      reason,
	}
	if req.armed {
		p.Text = req.accumulated
	}
	req.armed = false
	req.accumulated = ""
	return &abortResult{req: req, partial: p}
}

type abortResult struct {
	req     *request
	partial PartialRequest
}

// afterAbort cancels the aborted stream and saves its partial answer in the
// background. Call without holding the lock.
func (c *Conversation) afterAbort(a *abortResult) {
	a.req.cancel()
	c.notifier.notify()
	metrics.RecordStream("aborted")
	c.logger.Info("chat stream aborted",
		zap.String("client_req_id", a.partial.ClientReqID),
		zap.String("reason", a.partial.Reason),
	)

	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()

		c.publishSync(ctx, model.EventTypeTurnAborted, a.partial.SessionID, a.partial.ClientReqID, a.partial.Reason, nil)
		if c.recovery.Save(ctx, a.partial) {
			c.publishSync(ctx, model.EventTypePartialSaved, a.partial.SessionID, a.partial.ClientReqID, a.partial.Reason,
				map[string]any{"chars": len(strings.TrimSpace(a.partial.Text))})
		}
	}()
}

// Cancel aborts the in-flight stream, saving what was received. It reports
// whether a stream was running.
func (c *Conversation) Cancel() bool {
	c.mu.Lock()
	a := c.abortLocked(c.active, model.ReasonClientAbort)
	c.mu.Unlock()
	if a == nil {
		return false
	}
	c.afterAbort(a)
	return true
}

// NewChat starts an unsaved conversation. It is a no-op while one is already
// open.
func (c *Conversation) NewChat() {
	c.mu.Lock()
	if c.hasActiveNewChat && c.sessionID == "" {
		c.mu.Unlock()
		return
	}
	a := c.abortLocked(c.active, model.ReasonNavigate)
	c.hardResetLocked()
	c.mu.Unlock()

	if a != nil {
		c.afterAbort(a)
	}
	c.notifier.notify()
}

// OpenSession switches to s and loads its history. History that arrives
// after another switch is discarded.
func (c *Conversation) OpenSession(ctx context.Context, s model.Session) error {
	if s.ID == "" {
		return nil
	}

	c.mu.Lock()
	a := c.abortLocked(c.active, model.ReasonNavigate)
	c.epoch++
	epoch := c.epoch
	c.messages = nil
	c.sessionID = s.ID
	c.topic = s.DisplayTopic()
	c.hasActiveNewChat = false
	c.status = ""
	c.historyLoading = true
	c.mu.Unlock()

	if a != nil {
		c.afterAbort(a)
	}
	c.notifier.notify()

	items, err := c.dir.FetchMessages(ctx, s.ID)

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return nil
	}
	c.historyLoading = false
	if err != nil {
		c.status = "Unable to load messages."
		c.mu.Unlock()
		c.notifier.notify()
		return err
	}
	history := make([]model.Message, 0, len(items)+len(c.messages))
	for _, item := range items {
		c.nextID++
		history = append(history, model.Message{
			ID:       c.nextID,
			Role:     item.Role,
			Content:  item.Text,
			Variant:  model.VariantNormal,
			RemoteID: item.ID,
		})
	}
	// Keep anything sent while the history was loading.
	c.messages = append(history, c.messages...)
	c.mu.Unlock()
	c.notifier.notify()

	c.logger.Debug("session opened", zap.String("session_id", s.ID), zap.Int("messages", len(items)))
	return nil
}

// DeleteSession deletes a session. A stream into that session is aborted
// first; deleting the open session resets to a new chat. On failure the
// directory is unchanged.
func (c *Conversation) DeleteSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}

	c.mu.Lock()
	var a *abortResult
	if c.active != nil && c.active.sessionID == sessionID {
		a = c.abortLocked(c.active, model.ReasonNavigate)
	}
	c.mu.Unlock()
	if a != nil {
		c.afterAbort(a)
	}

	if err := c.dir.Delete(ctx, sessionID); err != nil {
		c.logger.Warn("failed to delete session", zap.Error(err), zap.String("session_id", sessionID))
		return err
	}

	c.mu.Lock()
	if c.sessionID == sessionID {
		a = c.abortLocked(c.active, model.ReasonNavigate)
		c.hardResetLocked()
	} else {
		a = nil
	}
	c.mu.Unlock()
	if a != nil {
		c.afterAbort(a)
	}
	c.notifier.notify()

	c.publish(model.EventTypeSessionDeleted, sessionID, "", "", nil)
	return nil
}

// RefreshSessions reloads the directory. When a reselect is pending the
// newest session becomes the active one.
func (c *Conversation) RefreshSessions(ctx context.Context) ([]model.Session, error) {
	sessions, pick, err := c.dir.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	if pick != nil {
		c.adoptNewest(*pick)
	}
	return sessions, nil
}

// adoptAfterNewChat turns a completed first turn into a named session.
func (c *Conversation) adoptAfterNewChat(req *request) {
	c.mu.Lock()
	c.reselectEpoch = req.epoch
	c.reselectFor = req.prompt
	c.mu.Unlock()
	c.dir.ArmReselect()

	ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
	defer cancel()
	if _, err := c.RefreshSessions(ctx); err != nil {
		c.logger.Warn("failed to refresh sessions after new chat", zap.Error(err))
	}
}

func (c *Conversation) adoptNewest(s model.Session) {
	c.mu.Lock()
	if c.reselectEpoch != c.epoch {
		c.mu.Unlock()
		return
	}
	topic := s.Topic
	if topic == "" {
		topic = DeriveTopic(c.reselectFor)
	}
	c.sessionID = s.ID
	c.topic = topic
	c.hasActiveNewChat = false
	if c.active != nil && c.active.sessionID == "" {
		c.active.sessionID = s.ID
	}
	c.mu.Unlock()

	c.dir.SetTopic(s.ID, topic)
	c.notifier.notify()
}

// State returns a snapshot of the conversation and the directory.
func (c *Conversation) State() Snapshot {
	sessions := c.dir.Sessions()
	loading, dirErr := c.dir.Status()

	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		SessionID:        c.sessionID,
		Topic:            c.topic,
		HasActiveNewChat: c.hasActiveNewChat,
		Streaming:        c.active != nil,
		Status:           c.status,
		HistoryLoading:   c.historyLoading,
		Messages:         append([]model.Message{}, c.messages...),
		Sessions:         sessions,
		SessionsLoading:  loading,
		SessionsError:    dirErr,
	}
	if snap.Sessions == nil {
		snap.Sessions = []model.Session{}
	}
	if c.active != nil {
		snap.ClientReqID = c.active.clientReqID
	}
	return snap
}

// Subscribe returns a channel signalled after state changes. Signals
// coalesce. The returned func unsubscribes.
func (c *Conversation) Subscribe() (<-chan struct{}, func()) {
	return c.notifier.subscribe()
}

// Wait blocks until background partial saves and journal writes finish.
func (c *Conversation) Wait() {
	c.bg.Wait()
}

func (c *Conversation) hardResetLocked() {
	c.epoch++
	c.messages = nil
	c.sessionID = ""
	c.topic = model.DefaultTopic
	c.hasActiveNewChat = true
	c.status = ""
	c.historyLoading = false
}

func (c *Conversation) appendLocked(role model.Role, content string, variant model.Variant) int64 {
	c.nextID++
	c.messages = append(c.messages, model.Message{
		ID:      c.nextID,
		Role:    role,
		Content: content,
		Variant: variant,
	})
	return c.nextID
}

func (c *Conversation) messageLocked(id int64) *model.Message {
	for i := range c.messages {
		if c.messages[i].ID == id {
			return &c.messages[i]
		}
	}
	return nil
}

func (c *Conversation) variantLocked(id int64) model.Variant {
	if m := c.messageLocked(id); m != nil {
		return m.Variant
	}
	return ""
}

// settleLocked turns a still-typing placeholder into a normal message.
func (c *Conversation) settleLocked(req *request) {
	if m := c.messageLocked(req.assistantID); m != nil && m.Variant == model.VariantTyping {
		m.Variant = model.VariantNormal
	}
}

// failLocked marks the placeholder as failed, or appends an error message
// when it is gone.
func (c *Conversation) failLocked(req *request) {
	req.armed = false
	req.accumulated = ""

	m := c.messageLocked(req.assistantID)
	if m == nil {
		c.appendLocked(model.RoleAssistant, StreamInterruptedMessage, model.VariantError)
		return
	}
	m.Variant = model.VariantError
	if m.Content == "" {
		m.Content = StreamInterruptedMessage
	}
}

func (c *Conversation) publish(evtType model.EventType, sessionID, clientReqID, reason string, meta map[string]any) {
	if _, ok := c.journal.(nopJournal); ok {
		return
	}
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()
		c.publishSync(ctx, evtType, sessionID, clientReqID, reason, meta)
	}()
}

func (c *Conversation) publishSync(ctx context.Context, evtType model.EventType, sessionID, clientReqID, reason string, meta map[string]any) {
	if _, ok := c.journal.(nopJournal); ok {
		return
	}
	id, err := c.auth.Identity()
	if err != nil {
		return
	}

	evt := &model.ConversationEvent{
		ID:          uuid.Must(uuid.NewV7()).String(),
		TenantID:    id.TenantID,
		UserID:      id.UserID,
		SessionID:   sessionID,
		ClientReqID: clientReqID,
		Type:        evtType,
		Reason:      reason,
		Metadata:    meta,
		CreatedAt:   time.Now().UTC(),
	}
	if err := c.journal.Publish(ctx, evt); err != nil {
		c.logger.Warn("failed to publish activity",
			zap.Error(err),
			zap.String("event_type", string(evtType)),
		)
	}
}
