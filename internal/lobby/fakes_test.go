package lobby

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/lobby/internal/backend"
)

var errBackendUnavailable = errors.New("backend unavailable")

type fakeAuth struct {
	mu             sync.Mutex
	identity       *backend.Identity
	getErr         error
	block          chan struct{}
	getCalls       int
	signOutErr     error
	signInErr      error
	signInProvider string
	signInRedirect string
	listeners      map[int]func(*backend.Identity)
	nextListener   int
}

func newFakeAuth(identity *backend.Identity) *fakeAuth {
	return &fakeAuth{identity: identity, listeners: make(map[int]func(*backend.Identity))}
}

func (a *fakeAuth) GetSession(ctx context.Context) (*backend.Identity, error) {
	a.mu.Lock()
	a.getCalls++
	block := a.block
	identity := a.identity
	err := a.getErr
	a.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return identity, nil
}

func (a *fakeAuth) OnSessionChange(listener func(*backend.Identity)) func() {
	a.mu.Lock()
	id := a.nextListener
	a.nextListener++
	a.listeners[id] = listener
	a.mu.Unlock()
	return func() {
		a.mu.Lock()
		delete(a.listeners, id)
		a.mu.Unlock()
	}
}

func (a *fakeAuth) SignOut(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.identity = nil
	return a.signOutErr
}

func (a *fakeAuth) SignInWithOAuth(_ context.Context, provider, redirectTarget string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.signInProvider = provider
	a.signInRedirect = redirectTarget
	if a.signInErr != nil {
		return "", a.signInErr
	}
	return "https://auth.example.com/authorize?provider=" + provider, nil
}

func (a *fakeAuth) emit(identity *backend.Identity) {
	a.mu.Lock()
	a.identity = identity
	listeners := make([]func(*backend.Identity), 0, len(a.listeners))
	for _, listener := range a.listeners {
		listeners = append(listeners, listener)
	}
	a.mu.Unlock()
	for _, listener := range listeners {
		listener(identity)
	}
}

func (a *fakeAuth) getSessionCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.getCalls
}

type fakeStore struct {
	mu sync.Mutex

	profiles      map[string]backend.Profile
	getProfileErr error
	upsertErr     error
	upsertCalls   int

	channels        []backend.Channel
	sortKeyMissing  bool
	listChannelsErr error
	channelOrders   []backend.ChannelOrder

	channelMessages map[string][]backend.Message
	directMessages  []backend.Message
	historyErr      map[string]error
	historyGate     map[string]chan struct{}
	historyCalls    map[string]int

	dmMissing  bool
	probeErr   error
	probeCalls int
	peerQuery  backend.ProfileQuery

	insertErr      error
	insertCalls    int
	channelInserts []backend.NewChannelMessage
	directInserts  []backend.NewDirectMessage
	onInsert       func(backend.Message)
	insertGate     chan struct{}
	nextID         int
	clock          time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		profiles:        make(map[string]backend.Profile),
		channelMessages: make(map[string][]backend.Message),
		historyErr:      make(map[string]error),
		historyGate:     make(map[string]chan struct{}),
		historyCalls:    make(map[string]int),
		clock:           time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (s *fakeStore) GetProfile(_ context.Context, id string) (backend.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getProfileErr != nil {
		return backend.Profile{}, s.getProfileErr
	}
	profile, ok := s.profiles[id]
	if !ok {
		return backend.Profile{}, backend.NewError(backend.KindNotFound, "fake.get_profile", nil)
	}
	return profile, nil
}

func (s *fakeStore) UpsertProfile(_ context.Context, profile backend.Profile) (backend.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertCalls++
	if s.upsertErr != nil {
		return backend.Profile{}, s.upsertErr
	}
	s.profiles[profile.ID] = profile
	return profile, nil
}

func (s *fakeStore) ListProfiles(_ context.Context, query backend.ProfileQuery) ([]backend.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peerQuery = query
	ids := make([]string, 0, len(s.profiles))
	for id := range s.profiles {
		if id != query.ExcludeID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	profiles := make([]backend.Profile, 0, len(ids))
	for _, id := range ids {
		profiles = append(profiles, s.profiles[id])
		if query.Limit > 0 && len(profiles) == query.Limit {
			break
		}
	}
	return profiles, nil
}

func (s *fakeStore) ListChannels(_ context.Context, order backend.ChannelOrder) ([]backend.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelOrders = append(s.channelOrders, order)
	if s.listChannelsErr != nil {
		return nil, s.listChannelsErr
	}
	if order == backend.OrderBySortKey && s.sortKeyMissing {
		return nil, backend.NewError(backend.KindColumnNotFound, "fake.list_channels", errors.New("no such column: sort_order"))
	}
	channels := append([]backend.Channel(nil), s.channels...)
	sort.SliceStable(channels, func(i, j int) bool {
		return channels[i].CreatedAt.Before(channels[j].CreatedAt)
	})
	return channels, nil
}

func (s *fakeStore) ListChannelMessages(ctx context.Context, channelID string) ([]backend.Message, error) {
	s.mu.Lock()
	s.historyCalls[channelID]++
	gate := s.historyGate[channelID]
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.historyErr[channelID]; err != nil {
		return nil, err
	}
	return append([]backend.Message(nil), s.channelMessages[channelID]...), nil
}

func (s *fakeStore) ListDirectMessages(_ context.Context, userID, peerID string) ([]backend.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var messages []backend.Message
	for _, message := range s.directMessages {
		if (message.SenderID == userID && message.RecipientID == peerID) ||
			(message.SenderID == peerID && message.RecipientID == userID) {
			messages = append(messages, message)
		}
	}
	return messages, nil
}

func (s *fakeStore) ProbeDirectMessages(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probeCalls++
	if s.dmMissing {
		return backend.NewError(backend.KindRelationNotFound, "fake.probe_direct_messages", errors.New("no such table: direct_messages"))
	}
	return s.probeErr
}

func (s *fakeStore) InsertChannelMessage(_ context.Context, message backend.NewChannelMessage) (backend.Message, error) {
	s.waitInsertGate()
	s.mu.Lock()
	s.insertCalls++
	if s.insertErr != nil {
		err := s.insertErr
		s.mu.Unlock()
		return backend.Message{}, err
	}
	s.channelInserts = append(s.channelInserts, message)
	row := s.newRowLocked()
	row.ChannelID = message.ChannelID
	row.SenderID = message.SenderID
	row.Content = message.Content
	s.channelMessages[message.ChannelID] = append(s.channelMessages[message.ChannelID], row)
	hook := s.onInsert
	s.mu.Unlock()
	if hook != nil {
		hook(row)
	}
	return row, nil
}

func (s *fakeStore) InsertDirectMessage(_ context.Context, message backend.NewDirectMessage) (backend.Message, error) {
	s.waitInsertGate()
	s.mu.Lock()
	s.insertCalls++
	if s.insertErr != nil {
		err := s.insertErr
		s.mu.Unlock()
		return backend.Message{}, err
	}
	s.directInserts = append(s.directInserts, message)
	row := s.newRowLocked()
	row.SenderID = message.SenderID
	row.RecipientID = message.RecipientID
	row.Content = message.Content
	s.directMessages = append(s.directMessages, row)
	hook := s.onInsert
	s.mu.Unlock()
	if hook != nil {
		hook(row)
	}
	return row, nil
}

func (s *fakeStore) waitInsertGate() {
	s.mu.Lock()
	gate := s.insertGate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
}

func (s *fakeStore) newRowLocked() backend.Message {
	s.nextID++
	s.clock = s.clock.Add(time.Second)
	return backend.Message{ID: fmt.Sprintf("row-%03d", s.nextID), CreatedAt: s.clock}
}

func (s *fakeStore) setInsertErr(err error) {
	s.mu.Lock()
	s.insertErr = err
	s.mu.Unlock()
}

func (s *fakeStore) probes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.probeCalls
}

func (s *fakeStore) inserts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertCalls
}

func (s *fakeStore) historyRequests(roomID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.historyCalls[roomID]
}

func (s *fakeStore) upserts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertCalls
}

type fakeFeed struct {
	mu            sync.Mutex
	subscriptions map[int]*fakeSubscription
	nextID        int
	subscribes    int
	lastSpecs     []backend.FeedSpec
	subscribeErr  error
	subscribeGate chan struct{}
}

type fakeSubscription struct {
	feed     *fakeFeed
	id       int
	specs    []backend.FeedSpec
	onInsert func(backend.InsertEvent)
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{subscriptions: make(map[int]*fakeSubscription)}
}

func (f *fakeFeed) Subscribe(_ context.Context, specs []backend.FeedSpec, onInsert func(backend.InsertEvent)) (backend.Subscription, error) {
	f.mu.Lock()
	f.subscribes++
	gate := f.subscribeGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	f.nextID++
	subscription := &fakeSubscription{feed: f, id: f.nextID, specs: specs, onInsert: onInsert}
	f.subscriptions[subscription.id] = subscription
	f.lastSpecs = specs
	return subscription, nil
}

func (s *fakeSubscription) Unsubscribe() error {
	s.feed.mu.Lock()
	delete(s.feed.subscriptions, s.id)
	s.feed.mu.Unlock()
	return nil
}

func (f *fakeFeed) emit(event backend.InsertEvent) {
	f.mu.Lock()
	targets := make([]*fakeSubscription, 0, len(f.subscriptions))
	for _, subscription := range f.subscriptions {
		targets = append(targets, subscription)
	}
	f.mu.Unlock()
	for _, subscription := range targets {
		subscription.onInsert(event)
	}
}

func (f *fakeFeed) active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscriptions)
}

func (f *fakeFeed) subscribeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes
}

func channelRow(id, channelID, senderID, content string, createdAt time.Time) backend.Message {
	return backend.Message{
		ID:        id,
		ChannelID: channelID,
		SenderID:  senderID,
		Content:   content,
		CreatedAt: createdAt,
		Author:    &backend.Author{DisplayName: senderID},
	}
}

func directRow(id, senderID, recipientID, content string, createdAt time.Time) backend.Message {
	return backend.Message{
		ID:          id,
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     content,
		CreatedAt:   createdAt,
	}
}

func intPointer(value int) *int {
	return &value
}

func waitFor(t *testing.T, description string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", description)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
