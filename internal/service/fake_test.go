package service

import (
	"context"
	"sync"

	"github.com/capitalize-ai/memory-hub/internal/auth"
	"github.com/capitalize-ai/memory-hub/internal/model"
	"github.com/capitalize-ai/memory-hub/internal/transport"
)

type streamFunc func(ctx context.Context, sessionID, text string, emit transport.EventHandler) error

type fakeBackend struct {
	mu sync.Mutex

	stream      streamFunc
	streamCalls []string

	sessions []model.Session
	listErr  error
	history  map[string][]model.ChatItem
	histErr  error

	deleteErr error
	deleted   []string

	saveErr error
	saves   []model.SavePartialRequest
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{history: make(map[string][]model.ChatItem)}
}

func (f *fakeBackend) StreamChat(ctx context.Context, _ auth.Identity, sessionID, text, _ string, onEvent transport.EventHandler) error {
	f.mu.Lock()
	f.streamCalls = append(f.streamCalls, sessionID)
	fn := f.stream
	f.mu.Unlock()
	if fn == nil {
		onEvent(model.FinalTokenEvent{})
		return nil
	}
	return fn(ctx, sessionID, text, onEvent)
}

func (f *fakeBackend) SavePartial(_ context.Context, _ auth.Identity, req model.SavePartialRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves = append(f.saves, req)
	return f.saveErr
}

func (f *fakeBackend) ListSessions(context.Context, auth.Identity) ([]model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]model.Session(nil), f.sessions...), nil
}

func (f *fakeBackend) DeleteSession(_ context.Context, _ auth.Identity, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, sessionID)
	kept := f.sessions[:0]
	for _, s := range f.sessions {
		if s.ID != sessionID {
			kept = append(kept, s)
		}
	}
	f.sessions = kept
	return nil
}

func (f *fakeBackend) SessionMessages(_ context.Context, _ auth.Identity, sessionID string) ([]model.ChatItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.histErr != nil {
		return nil, f.histErr
	}
	return append([]model.ChatItem(nil), f.history[sessionID]...), nil
}

func (f *fakeBackend) savedRequests() []model.SavePartialRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.SavePartialRequest(nil), f.saves...)
}

type fakeAuth struct {
	mu       sync.Mutex
	id       auth.Identity
	err      error
	signOuts []string
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{id: auth.Identity{TenantID: "acme", UserID: "alice", Token: "tok"}}
}

func (a *fakeAuth) Identity() (auth.Identity, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return auth.Identity{}, a.err
	}
	return a.id, nil
}

func (a *fakeAuth) SignOut(reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.signOuts = append(a.signOuts, reason)
	a.err = auth.ErrSignedOut
}

func (a *fakeAuth) signedOut() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.signOuts) > 0
}

type fakeJournal struct {
	mu     sync.Mutex
	events []*model.ConversationEvent
}

func (j *fakeJournal) Publish(_ context.Context, evt *model.ConversationEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, evt)
	return nil
}

func (j *fakeJournal) types() []model.EventType {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]model.EventType, 0, len(j.events))
	for _, e := range j.events {
		out = append(out, e.Type)
	}
	return out
}

// emitAll returns a stream that emits events then ends.
func emitAll(events ...model.Event) streamFunc {
	return func(_ context.Context, _, _ string, emit transport.EventHandler) error {
		for _, e := range events {
			emit(e)
		}
		return nil
	}
}

// emitThenHold emits events, signals ready and blocks until the stream is
// cancelled. Events in late are emitted after cancellation.
func emitThenHold(ready chan<- struct{}, events []model.Event, late ...model.Event) streamFunc {
	return func(ctx context.Context, _, _ string, emit transport.EventHandler) error {
		for _, e := range events {
			emit(e)
		}
		close(ready)
		<-ctx.Done()
		for _, e := range late {
			emit(e)
		}
		return nil
	}
}
