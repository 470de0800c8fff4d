package lobby

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MarcoPoloResearchLab/lobby/internal/backend"
	"go.uber.org/zap"
)

// DefaultSessionTimeout bounds the startup session resolution.
const DefaultSessionTimeout = 10 * time.Second

// SessionStoreConfig wires the session store to its auth collaborator.
type SessionStoreConfig struct {
	Auth    backend.Auth
	Timeout time.Duration
	Logger  *zap.Logger
}

// SessionStore is the single source of truth for the current identity.
type SessionStore struct {
	auth    backend.Auth
	timeout time.Duration
	logger  *zap.Logger

	started atomic.Bool

	mu             sync.RWMutex
	identity       *backend.Identity
	resolving      bool
	err            error
	changeObserved bool
	unsubscribe    func()

	listenersMu  sync.Mutex
	listeners    map[int]func(*backend.Identity)
	nextListener int
}

type sessionResult struct {
	identity *backend.Identity
	err      error
}

// NewSessionStore constructs a store in the resolving state.
func NewSessionStore(cfg SessionStoreConfig) (*SessionStore, error) {
	if cfg.Auth == nil {
		return nil, errMissingAuth
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionStore{
		auth:      cfg.Auth,
		timeout:   timeout,
		logger:    logger,
		resolving: true,
		listeners: make(map[int]func(*backend.Identity)),
	}, nil
}

// Start subscribes to session changes and resolves the current session once.
// Only the first call performs resolution; later calls return the recorded error.
func (s *SessionStore) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return s.Err()
	}

	unsubscribe := s.auth.OnSessionChange(s.handleSessionChange)
	s.mu.Lock()
	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	resolveCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	results := make(chan sessionResult, 1)
	go func() {
		identity, err := s.auth.GetSession(resolveCtx)
		results <- sessionResult{identity: identity, err: err}
	}()

	select {
	case result := <-results:
		if result.err != nil {
			if errors.Is(resolveCtx.Err(), context.DeadlineExceeded) {
				s.finishResolution(nil, ErrSessionTimeout)
			} else {
				s.logger.Warn("session resolution failed", zap.Error(result.err))
				s.finishResolution(nil, fmt.Errorf("%w: %v", ErrSessionResolve, result.err))
			}
		} else {
			s.finishResolution(result.identity, nil)
		}
	case <-resolveCtx.Done():
		if errors.Is(resolveCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			s.logger.Warn("session resolution timed out", zap.Duration("timeout", s.timeout))
			s.finishResolution(nil, ErrSessionTimeout)
		} else {
			s.finishResolution(nil, fmt.Errorf("%w: %v", ErrSessionResolve, ctx.Err()))
		}
	}

	return s.Err()
}

// finishResolution applies the startup result unless a session change already superseded it.
func (s *SessionStore) finishResolution(identity *backend.Identity, err error) {
	s.mu.Lock()
	if s.changeObserved {
		s.resolving = false
		s.mu.Unlock()
		return
	}
	s.identity = cloneIdentity(identity)
	s.err = err
	s.resolving = false
	current := cloneIdentity(s.identity)
	s.mu.Unlock()

	s.notify(current)
}

func (s *SessionStore) handleSessionChange(identity *backend.Identity) {
	s.mu.Lock()
	s.changeObserved = true
	s.identity = cloneIdentity(identity)
	s.err = nil
	s.resolving = false
	current := cloneIdentity(s.identity)
	s.mu.Unlock()

	if current == nil {
		s.logger.Info("session ended")
	} else {
		s.logger.Info("session changed", zap.String("user_id", current.ID))
	}
	s.notify(current)
}

// Identity returns the current identity or nil.
func (s *SessionStore) Identity() *backend.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneIdentity(s.identity)
}

// Resolving reports whether startup resolution is still pending.
func (s *SessionStore) Resolving() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolving
}

// Err returns the last session or sign-in error.
func (s *SessionStore) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// SignIn asks the auth collaborator for a provider authorize URL.
func (s *SessionStore) SignIn(ctx context.Context, provider, nextPath string) (string, error) {
	s.mu.Lock()
	s.err = nil
	s.mu.Unlock()

	authorizeURL, err := s.auth.SignInWithOAuth(ctx, provider, backend.SafeNextPath(nextPath))
	if err == nil {
		return authorizeURL, nil
	}

	mapped := fmt.Errorf("%w: %v", ErrSignInFailed, err)
	if backend.IsKind(err, backend.KindProviderDisabled) {
		mapped = fmt.Errorf("%w: %s", ErrProviderNotEnabled, provider)
	}
	s.logger.Warn("sign-in failed", zap.String("provider", provider), zap.Error(err))
	s.mu.Lock()
	s.err = mapped
	s.mu.Unlock()
	return "", mapped
}

// SignOut ends the session locally even when the collaborator call fails.
func (s *SessionStore) SignOut(ctx context.Context) error {
	err := s.auth.SignOut(ctx)
	if err != nil {
		s.logger.Warn("sign-out failed", zap.Error(err))
	}
	s.handleSessionChange(nil)
	return err
}

// Subscribe registers a listener for identity transitions.
func (s *SessionStore) Subscribe(listener func(*backend.Identity)) func() {
	s.listenersMu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = listener
	s.listenersMu.Unlock()
	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

// Close detaches from the auth collaborator's change feed.
func (s *SessionStore) Close() {
	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

func (s *SessionStore) notify(identity *backend.Identity) {
	s.listenersMu.Lock()
	listeners := make([]func(*backend.Identity), 0, len(s.listeners))
	for _, listener := range s.listeners {
		listeners = append(listeners, listener)
	}
	s.listenersMu.Unlock()
	for _, listener := range listeners {
		listener(cloneIdentity(identity))
	}
}

func cloneIdentity(identity *backend.Identity) *backend.Identity {
	if identity == nil {
		return nil
	}
	identityCopy := *identity
	return &identityCopy
}
