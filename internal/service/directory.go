package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/capitalize-ai/memory-hub/internal/auth"
	"github.com/capitalize-ai/memory-hub/internal/model"
	"github.com/capitalize-ai/memory-hub/internal/transport"
	"github.com/capitalize-ai/memory-hub/pkg/logger"
	"github.com/capitalize-ai/memory-hub/pkg/metrics"
)

// SessionStore is the backend surface the directory uses.
type SessionStore interface {
	ListSessions(ctx context.Context, id auth.Identity) ([]model.Session, error)
	DeleteSession(ctx context.Context, id auth.Identity, sessionID string) error
	SessionMessages(ctx context.Context, id auth.Identity, sessionID string) ([]model.ChatItem, error)
}

// Directory holds the user's sessions, newest first.
type Directory struct {
	store    SessionStore
	auth     Authenticator
	logger   *logger.Logger
	onChange func()

	mu                sync.Mutex
	sessions          []model.Session
	loading           bool
	lastErr           string
	forceSelectNewest bool
}

// NewDirectory creates an empty session directory.
func NewDirectory(store SessionStore, authn Authenticator, log *logger.Logger) *Directory {
	return &Directory{
		store:    store,
		auth:     authn,
		logger:   log,
		onChange: func() {},
	}
}

// ArmReselect makes the next successful Fetch pick the newest session.
func (d *Directory) ArmReselect() {
	d.mu.Lock()
	d.forceSelectNewest = true
	d.mu.Unlock()
}

// Fetch reloads the session list. When reselect is armed and the list is not
// empty, the newest session is returned as pick and the flag is cleared.
func (d *Directory) Fetch(ctx context.Context) (sessions []model.Session, pick *model.Session, err error) {
	id, err := d.auth.Identity()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	d.mu.Lock()
	d.loading = true
	d.lastErr = ""
	d.mu.Unlock()
	d.onChange()

	raw, err := d.store.ListSessions(ctx, id)

	d.mu.Lock()
	d.loading = false
	if err != nil {
		d.sessions = nil
		d.lastErr = "Unable to load sessions."
		d.mu.Unlock()
		d.onChange()

		d.handleAuthError(err)
		d.logger.Warn("failed to list sessions", zap.Error(err))
		return nil, nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	sessions = SortSessionsNewestFirst(DedupeSessions(raw))
	d.sessions = sessions
	if d.forceSelectNewest && len(sessions) > 0 {
		newest := sessions[0]
		pick = &newest
		d.forceSelectNewest = false
	}
	out := append([]model.Session(nil), sessions...)
	d.mu.Unlock()
	d.onChange()

	return out, pick, nil
}

// FetchMessages loads a session's history, oldest first.
func (d *Directory) FetchMessages(ctx context.Context, sessionID string) ([]model.ChatItem, error) {
	id, err := d.auth.Identity()
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	items, err := d.store.SessionMessages(ctx, id, sessionID)
	if err != nil {
		d.handleAuthError(err)
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	return SortChatItemsOldestFirst(items), nil
}

// Delete deletes a session on the backend and, on success, drops it from the
// list. On failure the list is left untouched.
func (d *Directory) Delete(ctx context.Context, sessionID string) error {
	id, err := d.auth.Identity()
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	if err := d.store.DeleteSession(ctx, id, sessionID); err != nil {
		d.handleAuthError(err)
		return fmt.Errorf("failed to delete session: %w", err)
	}

	d.Remove(sessionID)
	return nil
}

// Remove drops a session from the local list.
func (d *Directory) Remove(sessionID string) bool {
	d.mu.Lock()
	removed := false
	kept := d.sessions[:0]
	for _, s := range d.sessions {
		if s.ID == sessionID {
			removed = true
			continue
		}
		kept = append(kept, s)
	}
	d.sessions = kept
	d.mu.Unlock()

	if removed {
		d.onChange()
	}
	return removed
}

// SetTopic renames a session locally.
func (d *Directory) SetTopic(sessionID, topic string) {
	d.mu.Lock()
	changed := false
	for i := range d.sessions {
		if d.sessions[i].ID == sessionID && d.sessions[i].Topic != topic {
			d.sessions[i].Topic = topic
			changed = true
		}
	}
	d.mu.Unlock()

	if changed {
		d.onChange()
	}
}

// Sessions returns a copy of the current list.
func (d *Directory) Sessions() []model.Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]model.Session(nil), d.sessions...)
}

// Lookup finds a session by id.
func (d *Directory) Lookup(sessionID string) (model.Session, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.sessions {
		if s.ID == sessionID {
			return s, true
		}
	}
	return model.Session{}, false
}

// Status returns the loading flag and the last error message.
func (d *Directory) Status() (loading bool, errMsg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loading, d.lastErr
}

func (d *Directory) handleAuthError(err error) {
	if transport.IsAuthError(err) {
		metrics.RecordAuthFailure()
		d.auth.SignOut(err.Error())
	}
}

// DedupeSessions keeps one entry per id. The last entry wins; it keeps the
// position where the id first appeared.
func DedupeSessions(in []model.Session) []model.Session {
	index := make(map[string]int, len(in))
	out := make([]model.Session, 0, len(in))
	for _, s := range in {
		if i, ok := index[s.ID]; ok {
			out[i] = s
			continue
		}
		index[s.ID] = len(out)
		out = append(out, s)
	}
	return out
}

// SortSessionsNewestFirst orders by creation time, newest first. Missing
// times sort last; ties keep their input order.
func SortSessionsNewestFirst(sessions []model.Session) []model.Session {
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions
}

// SortChatItemsOldestFirst orders history by creation time; ties keep their
// input order.
func SortChatItemsOldestFirst(items []model.ChatItem) []model.ChatItem {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items
}
