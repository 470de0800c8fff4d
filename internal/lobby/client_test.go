package lobby

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/lobby/internal/backend"
	"go.uber.org/zap/zaptest"
)

type clientHarness struct {
	auth   *fakeAuth
	store  *fakeStore
	feed   *fakeFeed
	client *Client
}

var seedTime = time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

func newClientHarness(t *testing.T, identity *backend.Identity, configure func(*fakeStore)) *clientHarness {
	t.Helper()
	harness := &clientHarness{
		auth:  newFakeAuth(identity),
		store: newFakeStore(),
		feed:  newFakeFeed(),
	}
	harness.store.channels = []backend.Channel{
		{ID: "general", Name: "General", SortOrder: intPointer(1), CreatedAt: seedTime},
		{ID: "random", Name: "Random", SortOrder: intPointer(2), CreatedAt: seedTime},
		{ID: "showcase", Name: "Showcase", SortOrder: intPointer(3), CreatedAt: seedTime},
	}
	harness.store.channelMessages["general"] = []backend.Message{
		channelRow("g1", "general", "bob", "welcome", seedTime.Add(time.Minute)),
	}
	harness.store.profiles["bob"] = backend.Profile{ID: "bob", DisplayName: "Bob"}
	harness.store.profiles["carol"] = backend.Profile{ID: "carol", DisplayName: "Carol"}
	harness.store.onInsert = func(row backend.Message) {
		table := backend.TableMessages
		if row.IsDirect() {
			table = backend.TableDirectMessages
		}
		harness.feed.emit(backend.InsertEvent{Table: table, Message: row})
	}
	if configure != nil {
		configure(harness.store)
	}

	client, err := New(Config{
		Auth:   harness.auth,
		Store:  harness.store,
		Feed:   harness.feed,
		Clock:  fixedClock,
		Logger: zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(client.Close)
	harness.client = client
	return harness
}

func (h *clientHarness) start(t *testing.T) {
	t.Helper()
	if err := h.client.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
}

func alice() *backend.Identity {
	return &backend.Identity{ID: "alice", Email: "alice@example.com"}
}

func TestClientBootstrapsSignedInSession(t *testing.T) {
	harness := newClientHarness(t, alice(), nil)
	harness.start(t)

	state := harness.client.State()
	if state.Identity == nil || state.Identity.ID != "alice" {
		t.Fatalf("unexpected identity %+v", state.Identity)
	}
	if state.Profile == nil || state.Profile.DisplayName != "alice" {
		t.Fatalf("expected a default profile, got %+v", state.Profile)
	}
	if ids := channelIDs(state.Channels); !sameIDs(ids, []string{"general", "random", "showcase"}) {
		t.Fatalf("unexpected channels %v", ids)
	}
	if state.ActiveRoom == nil || state.ActiveRoom.ID != "general" {
		t.Fatalf("expected the first channel to be selected, got %+v", state.ActiveRoom)
	}
	if len(state.Messages) != 1 || state.Messages[0].Author.DisplayName != "bob" {
		t.Fatalf("unexpected history %+v", state.Messages)
	}
	if !state.DirectMessagesAvailable || len(state.Peers) != 2 {
		t.Fatalf("expected direct messages with two peers, got %v %+v", state.DirectMessagesAvailable, state.Peers)
	}
	if harness.feed.active() != 1 {
		t.Fatalf("expected one live subscription, got %d", harness.feed.active())
	}
}

func TestClientSignedOutStartLeavesNoSubscription(t *testing.T) {
	harness := newClientHarness(t, nil, nil)
	harness.start(t)

	state := harness.client.State()
	if state.Identity != nil || state.Resolving || state.ActiveRoom != nil {
		t.Fatalf("unexpected signed-out state %+v", state)
	}
	if harness.feed.subscribeCount() != 0 {
		t.Fatalf("expected no subscription while signed out")
	}
	if err := harness.client.Send(context.Background(), "hello"); !errors.Is(err, ErrNotSignedIn) {
		t.Fatalf("expected not signed in, got %v", err)
	}
}

func TestClientSendEchoesThroughRealtime(t *testing.T) {
	harness := newClientHarness(t, alice(), nil)
	harness.start(t)

	if err := harness.client.Send(context.Background(), "  hi all  "); err != nil {
		t.Fatalf("send: %v", err)
	}

	messages := harness.client.Messages("general")
	if len(messages) != 2 {
		t.Fatalf("expected history plus echo, got %+v", messages)
	}
	last := messages[1]
	if last.Content != "hi all" || last.AuthorID != "alice" || last.Author.DisplayName != "alice" {
		t.Fatalf("unexpected echoed message %+v", last)
	}
}

func TestClientSendFailureIsRoomScoped(t *testing.T) {
	harness := newClientHarness(t, alice(), func(store *fakeStore) {
		store.insertErr = errBackendUnavailable
	})
	harness.start(t)

	if err := harness.client.Send(context.Background(), "hello"); !errors.Is(err, ErrSendFailed) {
		t.Fatalf("expected send failure, got %v", err)
	}
	state := harness.client.State()
	if state.SendErr != SendFailedMessage {
		t.Fatalf("expected room error, got %q", state.SendErr)
	}
	if len(state.Messages) != 1 {
		t.Fatalf("expected cache to be unchanged, got %d messages", len(state.Messages))
	}
	if harness.store.inserts() != 1 {
		t.Fatalf("expected no retry, got %d inserts", harness.store.inserts())
	}

	if err := harness.client.SelectRoom(context.Background(), "random"); err != nil {
		t.Fatalf("select room: %v", err)
	}
	if state := harness.client.State(); state.SendErr != "" {
		t.Fatalf("expected other rooms to carry no send error, got %q", state.SendErr)
	}
}

func TestClientDiscardsStaleHistory(t *testing.T) {
	gate := make(chan struct{})
	harness := newClientHarness(t, alice(), func(store *fakeStore) {
		store.historyGate["random"] = gate
		store.channelMessages["random"] = []backend.Message{channelRow("r1", "random", "bob", "slow", seedTime)}
		store.channelMessages["showcase"] = []backend.Message{channelRow("s1", "showcase", "carol", "fast", seedTime)}
	})
	harness.start(t)

	done := make(chan error, 1)
	go func() { done <- harness.client.SelectRoom(context.Background(), "random") }()
	waitFor(t, "random history request", func() bool { return harness.store.historyRequests("random") == 1 })

	if err := harness.client.SelectRoom(context.Background(), "showcase"); err != nil {
		t.Fatalf("select showcase: %v", err)
	}
	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("stale selection should resolve quietly, got %v", err)
	}

	state := harness.client.State()
	if state.ActiveRoom == nil || state.ActiveRoom.ID != "showcase" {
		t.Fatalf("expected showcase to stay active, got %+v", state.ActiveRoom)
	}
	if len(state.Messages) != 1 || state.Messages[0].ID != "s1" {
		t.Fatalf("expected showcase history, got %+v", state.Messages)
	}
	if messages := harness.client.Messages("random"); len(messages) != 0 {
		t.Fatalf("expected the stale history to be discarded, got %+v", messages)
	}
}

func TestClientHistoryFailureClearsRoom(t *testing.T) {
	harness := newClientHarness(t, alice(), func(store *fakeStore) {
		store.historyErr["random"] = errBackendUnavailable
	})
	harness.start(t)

	err := harness.client.SelectRoom(context.Background(), "random")
	if !errors.Is(err, ErrHistoryLoad) {
		t.Fatalf("expected history error, got %v", err)
	}
	state := harness.client.State()
	if state.HistoryErr == nil || len(state.Messages) != 0 || state.MessagesLoading {
		t.Fatalf("unexpected state after history failure %+v", state)
	}
}

func TestClientDirectMessagesStayInTheirConversation(t *testing.T) {
	harness := newClientHarness(t, alice(), nil)
	harness.start(t)

	if err := harness.client.SelectDirectRoom(context.Background(), "bob"); err != nil {
		t.Fatalf("select direct room: %v", err)
	}
	specs := harness.feed.lastSpecs
	if len(specs) != 2 || specs[1].ParticipantID != "alice" {
		t.Fatalf("expected a direct message feed for alice, got %+v", specs)
	}

	harness.feed.emit(backend.InsertEvent{
		Table:   backend.TableDirectMessages,
		Message: directRow("d1", "carol", "alice", "from carol", seedTime),
	})
	harness.feed.emit(backend.InsertEvent{
		Table:   backend.TableDirectMessages,
		Message: directRow("d2", "bob", "alice", "from bob", seedTime),
	})

	messages := harness.client.Messages(DirectRoomID("bob"))
	if len(messages) != 1 || messages[0].ID != "d2" || messages[0].Author.DisplayName != "Bob" {
		t.Fatalf("unexpected bob conversation %+v", messages)
	}
	if len(harness.client.Messages(DirectRoomID("carol"))) != 0 {
		t.Fatalf("expected carol's conversation to stay empty")
	}

	if err := harness.client.Send(context.Background(), "hey bob"); err != nil {
		t.Fatalf("send: %v", err)
	}
	messages = harness.client.Messages(DirectRoomID("bob"))
	if len(messages) != 2 || messages[1].Content != "hey bob" {
		t.Fatalf("expected own direct message via realtime, got %+v", messages)
	}
}

func TestClientWithoutDirectMessageSupport(t *testing.T) {
	harness := newClientHarness(t, alice(), func(store *fakeStore) {
		store.dmMissing = true
	})
	harness.start(t)

	state := harness.client.State()
	if state.DirectMessagesAvailable || len(state.Peers) != 0 {
		t.Fatalf("expected direct messages to be disabled, got %+v", state)
	}
	if len(harness.feed.lastSpecs) != 1 || harness.feed.lastSpecs[0].Table != backend.TableMessages {
		t.Fatalf("expected a channel-only subscription, got %+v", harness.feed.lastSpecs)
	}
	if err := harness.client.SelectDirectRoom(context.Background(), "bob"); !errors.Is(err, ErrDirectMessagesDisabled) {
		t.Fatalf("expected disabled error, got %v", err)
	}
	if err := harness.client.Send(context.Background(), "still works"); err != nil {
		t.Fatalf("channel send: %v", err)
	}
}

func TestClientProfileReadFailureBlocksSending(t *testing.T) {
	harness := newClientHarness(t, alice(), func(store *fakeStore) {
		store.getProfileErr = errBackendUnavailable
	})
	harness.start(t)

	state := harness.client.State()
	if !errors.Is(state.ProfileErr, ErrProfileRead) || state.Profile != nil {
		t.Fatalf("expected profile read error, got %+v", state)
	}
	if harness.store.upserts() != 0 {
		t.Fatalf("expected no profile creation after a read failure")
	}
	if err := harness.client.Send(context.Background(), "hello"); !errors.Is(err, ErrProfileMissing) {
		t.Fatalf("expected profile missing, got %v", err)
	}
}

func TestClientIdentityChangeResetsState(t *testing.T) {
	harness := newClientHarness(t, alice(), nil)
	harness.start(t)
	if len(harness.client.Messages("general")) == 0 {
		t.Fatalf("expected history before sign-out")
	}

	notifications := 0
	unsubscribe := harness.client.OnChange(func() { notifications++ })
	defer unsubscribe()

	if err := harness.client.SignOut(context.Background()); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	state := harness.client.State()
	if state.Identity != nil || state.Profile != nil || state.ActiveRoom != nil || len(state.Channels) != 0 {
		t.Fatalf("expected a cleared state, got %+v", state)
	}
	if len(harness.client.Messages("general")) != 0 {
		t.Fatalf("expected cache to be cleared")
	}
	if harness.feed.active() != 0 {
		t.Fatalf("expected subscription teardown on sign-out")
	}
	if notifications == 0 {
		t.Fatalf("expected change notifications")
	}

	harness.auth.emit(&backend.Identity{ID: "carol", Metadata: backend.IdentityMetadata{Name: "carol"}})
	state = harness.client.State()
	if state.Identity == nil || state.Identity.ID != "carol" || state.Profile == nil || state.Profile.DisplayName != "Carol" {
		t.Fatalf("expected carol's stored profile, got %+v", state)
	}
	if harness.feed.active() != 1 {
		t.Fatalf("expected a single subscription for the new identity, got %d", harness.feed.active())
	}
}

func TestClientSignInUsesSafeRedirect(t *testing.T) {
	harness := newClientHarness(t, nil, nil)
	harness.start(t)

	authorizeURL, err := harness.client.SignIn(context.Background(), "google", "https://evil.example.com")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if authorizeURL == "" || harness.auth.signInRedirect != backend.DefaultNextPath {
		t.Fatalf("unexpected sign-in result %q redirect %q", authorizeURL, harness.auth.signInRedirect)
	}
}

func TestClientHistoryReloadKeepsRealtimeInsertsFromTheGap(t *testing.T) {
	harness := newClientHarness(t, alice(), nil)
	harness.start(t)

	gate := make(chan struct{})
	harness.store.mu.Lock()
	harness.store.historyGate["general"] = gate
	harness.store.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- harness.client.SelectRoom(context.Background(), "general") }()
	waitFor(t, "general reload request", func() bool { return harness.store.historyRequests("general") == 2 })

	harness.feed.emit(backend.InsertEvent{
		Table:   backend.TableMessages,
		Message: channelRow("g2", "general", "carol", "during reload", seedTime.Add(2*time.Minute)),
	})
	if count := len(harness.client.Messages("general")); count != 2 {
		t.Fatalf("expected the insert to land while loading, got %d messages", count)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("reload: %v", err)
	}
	messages := harness.client.Messages("general")
	if len(messages) != 2 || messages[0].ID != "g1" || messages[1].ID != "g2" {
		t.Fatalf("expected history plus the realtime insert, got %+v", messages)
	}
}

func TestClientResubscriptionLoadsMissedDirectMessages(t *testing.T) {
	harness := newClientHarness(t, alice(), nil)
	harness.start(t)
	subscribes := harness.feed.subscribeCount()

	harness.store.mu.Lock()
	harness.store.directMessages = append(harness.store.directMessages,
		directRow("d-missed", "bob", "alice", "sent before the feed moved", seedTime))
	harness.store.mu.Unlock()

	if err := harness.client.SelectDirectRoom(context.Background(), "bob"); err != nil {
		t.Fatalf("select direct room: %v", err)
	}
	if harness.feed.subscribeCount() != subscribes+1 {
		t.Fatalf("expected the subscription to be replaced for the new peer")
	}
	messages := harness.client.Messages(DirectRoomID("bob"))
	if len(messages) != 1 || messages[0].ID != "d-missed" {
		t.Fatalf("expected the reload to recover the missed message, got %+v", messages)
	}
}

func TestClientRetriesFailedDirectMessageProbeOnSelection(t *testing.T) {
	harness := newClientHarness(t, alice(), func(store *fakeStore) {
		store.probeErr = errBackendUnavailable
	})
	harness.start(t)

	if state := harness.client.State(); state.DirectMessagesAvailable {
		t.Fatalf("expected direct messages to be unavailable after a failed probe")
	}
	harness.store.mu.Lock()
	harness.store.probeErr = nil
	harness.store.mu.Unlock()

	if err := harness.client.SelectDirectRoom(context.Background(), "bob"); err != nil {
		t.Fatalf("expected the retried probe to enable direct messages, got %v", err)
	}
	state := harness.client.State()
	if !state.DirectMessagesAvailable || len(state.Peers) != 2 {
		t.Fatalf("expected peers after the retry, got %v %+v", state.DirectMessagesAvailable, state.Peers)
	}
	if harness.store.probes() != 2 {
		t.Fatalf("expected two probes, got %d", harness.store.probes())
	}
}

func TestClientMissingDirectMessagesIsNotReprobed(t *testing.T) {
	harness := newClientHarness(t, alice(), func(store *fakeStore) {
		store.dmMissing = true
	})
	harness.start(t)

	if err := harness.client.SelectDirectRoom(context.Background(), "bob"); !errors.Is(err, ErrDirectMessagesDisabled) {
		t.Fatalf("expected disabled error, got %v", err)
	}
	if harness.store.probes() != 1 {
		t.Fatalf("expected the missing relation to be remembered, got %d probes", harness.store.probes())
	}
}
