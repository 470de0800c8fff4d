package lobby

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/lobby/internal/backend"
)

func TestSessionStoreResolvesExistingSession(t *testing.T) {
	auth := newFakeAuth(&backend.Identity{ID: "user-1", Email: "ada@example.com"})
	store, err := NewSessionStore(SessionStoreConfig{Auth: auth})
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}
	if !store.Resolving() {
		t.Fatalf("expected resolving before start")
	}

	if err := store.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if store.Resolving() {
		t.Fatalf("expected resolution to finish")
	}
	identity := store.Identity()
	if identity == nil || identity.ID != "user-1" {
		t.Fatalf("unexpected identity %+v", identity)
	}
}

func TestSessionStoreTimesOut(t *testing.T) {
	auth := newFakeAuth(&backend.Identity{ID: "user-1"})
	auth.block = make(chan struct{})
	defer close(auth.block)

	store, err := NewSessionStore(SessionStoreConfig{Auth: auth, Timeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}

	err = store.Start(context.Background())
	if !errors.Is(err, ErrSessionTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if store.Resolving() {
		t.Fatalf("expected resolving to clear after timeout")
	}
	if store.Identity() != nil {
		t.Fatalf("expected no identity after timeout")
	}
}

func TestSessionStoreStartsOnce(t *testing.T) {
	auth := newFakeAuth(nil)
	store, err := NewSessionStore(SessionStoreConfig{Auth: auth})
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}

	for attempt := 0; attempt < 3; attempt++ {
		if err := store.Start(context.Background()); err != nil {
			t.Fatalf("start %d: %v", attempt, err)
		}
	}
	if calls := auth.getSessionCalls(); calls != 1 {
		t.Fatalf("expected a single resolution, got %d", calls)
	}
}

func TestSessionStoreResolveFailure(t *testing.T) {
	auth := newFakeAuth(nil)
	auth.getErr = errBackendUnavailable
	store, err := NewSessionStore(SessionStoreConfig{Auth: auth})
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}

	err = store.Start(context.Background())
	if !errors.Is(err, ErrSessionResolve) {
		t.Fatalf("expected resolve error, got %v", err)
	}
	if !errors.Is(store.Err(), ErrSessionResolve) {
		t.Fatalf("expected recorded resolve error, got %v", store.Err())
	}
}

func TestSessionStoreChangeSupersedesLateResolution(t *testing.T) {
	auth := newFakeAuth(nil)
	auth.block = make(chan struct{})
	store, err := NewSessionStore(SessionStoreConfig{Auth: auth, Timeout: time.Second})
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- store.Start(context.Background()) }()
	waitFor(t, "session resolution to begin", func() bool { return auth.getSessionCalls() == 1 })

	auth.emit(&backend.Identity{ID: "user-2"})
	close(auth.block)
	if err := <-done; err != nil {
		t.Fatalf("start: %v", err)
	}

	identity := store.Identity()
	if identity == nil || identity.ID != "user-2" {
		t.Fatalf("expected pushed identity to win, got %+v", identity)
	}
}

func TestSessionStoreNotifiesListeners(t *testing.T) {
	auth := newFakeAuth(nil)
	store, err := NewSessionStore(SessionStoreConfig{Auth: auth})
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}
	var seen []string
	unsubscribe := store.Subscribe(func(identity *backend.Identity) {
		if identity == nil {
			seen = append(seen, "")
			return
		}
		seen = append(seen, identity.ID)
	})
	if err := store.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	auth.emit(&backend.Identity{ID: "user-3"})
	unsubscribe()
	auth.emit(nil)

	if len(seen) != 2 || seen[0] != "" || seen[1] != "user-3" {
		t.Fatalf("unexpected notifications %v", seen)
	}
}

func TestSessionStoreSignInMapsErrors(t *testing.T) {
	testCases := []struct {
		name    string
		err     error
		want    error
		wantURL bool
	}{
		{name: "success", wantURL: true},
		{
			name: "provider disabled",
			err:  backend.NewError(backend.KindProviderDisabled, "auth.sign_in", errors.New("github not configured")),
			want: ErrProviderNotEnabled,
		},
		{name: "other failure", err: errBackendUnavailable, want: ErrSignInFailed},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			auth := newFakeAuth(nil)
			auth.signInErr = testCase.err
			store, err := NewSessionStore(SessionStoreConfig{Auth: auth})
			if err != nil {
				t.Fatalf("new session store: %v", err)
			}

			authorizeURL, err := store.SignIn(context.Background(), "github", "//evil.example.com")
			if testCase.want != nil {
				if !errors.Is(err, testCase.want) {
					t.Fatalf("expected %v, got %v", testCase.want, err)
				}
				if !errors.Is(store.Err(), testCase.want) {
					t.Fatalf("expected recorded %v, got %v", testCase.want, store.Err())
				}
				return
			}
			if err != nil {
				t.Fatalf("sign in: %v", err)
			}
			if testCase.wantURL && authorizeURL == "" {
				t.Fatalf("expected an authorize url")
			}
			if auth.signInRedirect != backend.DefaultNextPath {
				t.Fatalf("expected unsafe next path to be replaced, got %q", auth.signInRedirect)
			}
		})
	}
}

func TestSessionStoreSignOutClearsIdentityEvenOnError(t *testing.T) {
	auth := newFakeAuth(&backend.Identity{ID: "user-1"})
	auth.signOutErr = errBackendUnavailable
	store, err := NewSessionStore(SessionStoreConfig{Auth: auth})
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}
	if err := store.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := store.SignOut(context.Background()); !errors.Is(err, errBackendUnavailable) {
		t.Fatalf("expected sign-out error to surface, got %v", err)
	}
	if store.Identity() != nil {
		t.Fatalf("expected identity to be cleared")
	}
}
