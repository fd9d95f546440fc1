// Package auth owns the client's authenticated context: stored credentials,
// the identity sent with every backend call, and sign-out.
package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/memory-hub/pkg/logger"
)

var (
	// ErrNotReady is returned before Init or SignIn succeeded.
	ErrNotReady = errors.New("auth context is not ready")
	// ErrSignedOut is returned after SignOut.
	ErrSignedOut = errors.New("signed out")
	// ErrNoCredentials is returned when no token is stored or configured.
	ErrNoCredentials = errors.New("no stored credentials; run `memhub login`")
	// ErrTokenExpired is returned when the token's exp claim has passed.
	ErrTokenExpired = errors.New("token expired")
)

// State is the lifecycle state of a Session.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateSignedOut
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateSignedOut:
		return "signed_out"
	default:
		return "uninitialized"
	}
}

// Identity is what backend calls are scoped and authorized with.
type Identity struct {
	TenantID  string
	UserID    string
	Token     string
	ExpiresAt time.Time
}

// Expired reports whether the identity carries an expiry in the past.
func (i Identity) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt)
}

// Session is the explicitly owned authentication context.
type Session struct {
	store  Store
	logger *logger.Logger
	now    func() time.Time

	mu        sync.RWMutex
	state     State
	identity  Identity
	listeners map[int]func(reason string)
	nextID    int
}

// NewSession creates an uninitialized session backed by store.
func NewSession(store Store, log *logger.Logger) *Session {
	return &Session{
		store:     store,
		logger:    log,
		now:       time.Now,
		listeners: make(map[int]func(reason string)),
	}
}

// Init loads stored credentials and moves the session to ready. Non-empty
// fields of overrides replace stored values.
func (s *Session) Init(overrides Identity) error {
	creds, err := s.store.Load()
	if err != nil {
		return err
	}

	id := Identity{
		TenantID: creds.TenantID,
		UserID:   creds.UserID,
		Token:    creds.Token,
	}
	if overrides.Token != "" {
		id.Token = overrides.Token
	}
	if overrides.TenantID != "" {
		id.TenantID = overrides.TenantID
	}
	if overrides.UserID != "" {
		id.UserID = overrides.UserID
	}

	if id.Token == "" {
		return ErrNoCredentials
	}

	id = fillFromClaims(id)
	if id.Expired(s.now()) {
		return ErrTokenExpired
	}

	s.mu.Lock()
	s.identity = id
	s.state = StateReady
	s.mu.Unlock()

	s.logger.Debug("auth context ready",
		zap.String("tenant_id", id.TenantID),
		zap.String("user_id", id.UserID),
	)
	return nil
}

// SignIn stores a new identity and moves the session to ready.
func (s *Session) SignIn(id Identity) error {
	if id.Token == "" {
		return ErrNoCredentials
	}
	id = fillFromClaims(id)
	if id.UserID == "" {
		return errors.New("user id is required when the token carries none")
	}

	if err := s.store.Save(Credentials{
		Token:    id.Token,
		TenantID: id.TenantID,
		UserID:   id.UserID,
		SavedAt:  s.now().UTC(),
	}); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	s.mu.Lock()
	s.identity = id
	s.state = StateReady
	s.mu.Unlock()
	return nil
}

// Identity returns the current identity. An expired token signs the session out.
func (s *Session) Identity() (Identity, error) {
	s.mu.RLock()
	state, id := s.state, s.identity
	s.mu.RUnlock()

	switch state {
	case StateReady:
	case StateSignedOut:
		return Identity{}, ErrSignedOut
	default:
		return Identity{}, ErrNotReady
	}

	if id.Expired(s.now()) {
		s.SignOut("token expired")
		return Identity{}, ErrTokenExpired
	}
	return id, nil
}

// Ready reports whether backend calls can be made.
func (s *Session) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateReady
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SignOut clears stored credentials and notifies listeners. Only the first
// call after a sign-in notifies.
func (s *Session) SignOut(reason string) {
	s.mu.Lock()
	if s.state == StateSignedOut {
		s.mu.Unlock()
		return
	}
	s.state = StateSignedOut
	s.identity = Identity{}
	listeners := make([]func(string), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	if err := s.store.Clear(); err != nil {
		s.logger.Warn("failed to clear credentials", zap.Error(err))
	}
	s.logger.Info("signed out", zap.String("reason", reason))

	for _, fn := range listeners {
		fn(reason)
	}
}

// OnSignOut registers fn to run after sign-out. The returned func unregisters it.
func (s *Session) OnSignOut(fn func(reason string)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func fillFromClaims(id Identity) Identity {
	claims, err := ParseClaims(id.Token)
	if err != nil {
		// Opaque tokens are allowed; identity must then come from config.
		return id
	}
	if id.TenantID == "" {
		id.TenantID = claims.Tenant()
	}
	if id.UserID == "" {
		id.UserID = claims.User()
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id
}
