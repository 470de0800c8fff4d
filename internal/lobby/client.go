// Package lobby keeps a client-side, per-room message cache in sync with a
// chat backend: session tracking, profile resolution, room addressing,
// history loads, realtime reconciliation and serialized sends.
package lobby

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/lobby/internal/backend"
	"go.uber.org/zap"
)

// Config wires a Client to its backend collaborators.
type Config struct {
	Auth           backend.Auth
	Store          backend.Store
	Feed           backend.Feed
	SessionTimeout time.Duration
	PeerLimit      int
	OptimisticSend bool
	PendingWindow  time.Duration
	Clock          func() time.Time
	Logger         *zap.Logger
}

// State is a point-in-time view of everything a UI renders.
type State struct {
	Identity                *backend.Identity
	Resolving               bool
	SessionErr              error
	Profile                 *backend.Profile
	ProfileErr              error
	Channels                []backend.Channel
	Peers                   []backend.Profile
	DirectMessagesAvailable bool
	ActiveRoom              *Room
	Messages                []Message
	MessagesLoaded          bool
	MessagesLoading         bool
	HistoryErr              error
	Sending                 bool
	SendErr                 string
}

// Client composes the session store, profile resolver, room directory,
// message cache, realtime reconciler and send coordinator.
type Client struct {
	store  backend.Store
	logger *zap.Logger

	session    *SessionStore
	profiles   *ProfileResolver
	directory  *RoomDirectory
	cache      *MessageCache
	reconciler *Reconciler
	sender     *SendCoordinator

	ctx    context.Context
	cancel context.CancelFunc

	identityMu sync.Mutex

	mu            sync.Mutex
	identitySeen  bool
	identityID    string
	profile       *backend.Profile
	profileErr    error
	historyGen    uint64
	historyCancel context.CancelFunc

	listenersMu        sync.Mutex
	listeners          map[int]func()
	nextListener       int
	unsubscribeSession func()
}

// New constructs a Client; nothing touches the backend until Start.
func New(cfg Config) (*Client, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	session, err := NewSessionStore(SessionStoreConfig{
		Auth:    cfg.Auth,
		Timeout: cfg.SessionTimeout,
		Logger:  logger.Named("session"),
	})
	if err != nil {
		return nil, err
	}
	profiles, err := NewProfileResolver(ProfileResolverConfig{
		Store:  cfg.Store,
		Clock:  cfg.Clock,
		Logger: logger.Named("profiles"),
	})
	if err != nil {
		return nil, err
	}
	directory, err := NewRoomDirectory(RoomDirectoryConfig{
		Store:     cfg.Store,
		PeerLimit: cfg.PeerLimit,
		Logger:    logger.Named("directory"),
	})
	if err != nil {
		return nil, err
	}
	cache := NewMessageCache(cfg.PendingWindow)

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		store:     cfg.Store,
		logger:    logger,
		session:   session,
		profiles:  profiles,
		directory: directory,
		cache:     cache,
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[int]func()),
	}

	reconciler, err := NewReconciler(ReconcilerConfig{
		Feed:       cfg.Feed,
		Cache:      cache,
		Profiles:   profiles,
		ActiveRoom: directory.Active,
		OnChange:   client.notify,
		Logger:     logger.Named("realtime"),
	})
	if err != nil {
		cancel()
		return nil, err
	}
	sender, err := NewSendCoordinator(SendCoordinatorConfig{
		Store:      cfg.Store,
		Cache:      cache,
		Optimistic: cfg.OptimisticSend,
		Clock:      cfg.Clock,
		Logger:     logger.Named("sender"),
	})
	if err != nil {
		cancel()
		return nil, err
	}
	client.reconciler = reconciler
	client.sender = sender
	return client, nil
}

// Start resolves the session and, when signed in, bootstraps profile, rooms and realtime.
// It returns the session error; a signed-out start is not an error.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.unsubscribeSession == nil {
		c.unsubscribeSession = c.session.Subscribe(c.handleIdentity)
	}
	c.mu.Unlock()
	return c.session.Start(ctx)
}

// Close tears down the subscription and detaches from the session feed.
func (c *Client) Close() {
	c.mu.Lock()
	unsubscribe := c.unsubscribeSession
	c.unsubscribeSession = nil
	if c.historyCancel != nil {
		c.historyCancel()
	}
	c.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
	c.reconciler.Close()
	c.session.Close()
	c.cancel()
}

// SignIn returns the provider authorize URL for an OAuth sign-in.
func (c *Client) SignIn(ctx context.Context, provider, nextPath string) (string, error) {
	authorizeURL, err := c.session.SignIn(ctx, provider, nextPath)
	c.notify()
	return authorizeURL, err
}

// SignOut ends the session and clears every identity-bound piece of state.
func (c *Client) SignOut(ctx context.Context) error {
	return c.session.SignOut(ctx)
}

// OnChange registers a listener invoked after any state change.
func (c *Client) OnChange(listener func()) func() {
	c.listenersMu.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = listener
	c.listenersMu.Unlock()
	return func() {
		c.listenersMu.Lock()
		delete(c.listeners, id)
		c.listenersMu.Unlock()
	}
}

// SelectRoom activates a room by id and loads its history.
func (c *Client) SelectRoom(ctx context.Context, roomID string) error {
	if _, direct := PeerIDFromRoomID(roomID); direct {
		c.reprobeDirectMessages(ctx)
	}
	room, err := c.directory.SelectRoom(roomID)
	if err != nil {
		return err
	}
	return c.activate(ctx, room)
}

// SelectDirectRoom activates the direct room with peerID and loads its history.
func (c *Client) SelectDirectRoom(ctx context.Context, peerID string) error {
	c.reprobeDirectMessages(ctx)
	room, err := c.directory.SelectDirectRoom(peerID)
	if err != nil {
		return err
	}
	return c.activate(ctx, room)
}

// Send posts content to the active room. The message becomes visible when the
// realtime echo arrives, not when Send returns.
func (c *Client) Send(ctx context.Context, content string) error {
	c.mu.Lock()
	profile := c.profile
	c.mu.Unlock()

	var room *Room
	if active, ok := c.directory.Active(); ok {
		room = &active
	}
	request := SendRequest{
		Identity: c.session.Identity(),
		Profile:  profile,
		Room:     room,
		Content:  content,
	}

	err := c.sender.Send(ctx, request)
	c.notify()
	return err
}

// State assembles a snapshot for rendering.
func (c *Client) State() State {
	c.mu.Lock()
	state := State{
		Profile:    c.profile,
		ProfileErr: c.profileErr,
	}
	c.mu.Unlock()

	state.Identity = c.session.Identity()
	state.Resolving = c.session.Resolving()
	state.SessionErr = c.session.Err()
	state.Channels = c.directory.Channels()
	state.Peers = c.directory.Peers()
	state.DirectMessagesAvailable = c.directory.DirectMessagesAvailable()
	state.Sending = c.sender.Sending()

	if active, ok := c.directory.Active(); ok {
		state.ActiveRoom = &active
		state.Messages = c.cache.Messages(active.ID)
		roomState := c.cache.State(active.ID)
		state.MessagesLoaded = roomState.Loaded
		state.MessagesLoading = roomState.Loading
		state.HistoryErr = roomState.LoadErr
		state.SendErr = c.sender.Err(active.ID)
	}
	return state
}

// Messages returns the cached sequence for roomID.
func (c *Client) Messages(roomID string) []Message {
	return c.cache.Messages(roomID)
}

func (c *Client) handleIdentity(identity *backend.Identity) {
	c.identityMu.Lock()
	defer c.identityMu.Unlock()

	identityID := ""
	if identity != nil {
		identityID = identity.ID
	}

	c.mu.Lock()
	if c.identitySeen && identityID == c.identityID {
		c.mu.Unlock()
		c.notify()
		return
	}
	c.identitySeen = true
	c.identityID = identityID
	c.profile = nil
	c.profileErr = nil
	c.historyGen++
	if c.historyCancel != nil {
		c.historyCancel()
		c.historyCancel = nil
	}
	c.mu.Unlock()

	c.profiles.Reset()
	c.directory.Reset()
	c.cache.Reset()
	c.sender.Reset()

	ctx := c.ctx
	if identity == nil {
		c.syncRealtime(ctx)
		c.notify()
		return
	}

	profile, err := c.profiles.EnsureProfile(ctx, *identity)
	c.mu.Lock()
	if err != nil {
		c.profileErr = err
	} else {
		c.profile = &profile
	}
	c.mu.Unlock()

	channels := c.directory.LoadChannels(ctx)
	if c.directory.ProbeDirectMessages(ctx, identity.ID) {
		for _, peer := range c.directory.LoadPeers(ctx, identity.ID) {
			c.profiles.Remember(peer)
		}
	}
	c.syncRealtime(ctx)

	if _, ok := c.directory.Active(); !ok && len(channels) > 0 {
		if err := c.SelectRoom(ctx, channels[0].ID); err != nil {
			c.logger.Debug("initial room load failed", zap.Error(err))
		}
	}
	c.notify()
}

// activate loads history for room. A load superseded by a newer selection is discarded.
func (c *Client) activate(ctx context.Context, room Room) error {
	c.mu.Lock()
	if c.historyCancel != nil {
		c.historyCancel()
	}
	c.historyGen++
	generation := c.historyGen
	loadCtx, cancel := context.WithCancel(ctx)
	c.historyCancel = cancel
	identityID := c.identityID
	c.mu.Unlock()
	defer cancel()

	// Inserts missed while the subscription moved are covered by the fetch below.
	c.syncRealtime(ctx)
	c.cache.SetLoading(room.ID)
	c.notify()

	messages, err := c.fetchHistory(loadCtx, identityID, room)

	c.mu.Lock()
	if generation != c.historyGen {
		c.mu.Unlock()
		c.logger.Debug("discarding stale history", zap.String("room_id", room.ID))
		return nil
	}
	if err != nil {
		c.cache.Fail(room.ID, err)
		c.mu.Unlock()
		c.logger.Warn("history load failed", zap.String("room_id", room.ID), zap.Error(err))
		c.notify()
		return fmt.Errorf("%w: %v", ErrHistoryLoad, err)
	}
	c.cache.Replace(room.ID, messages)
	c.mu.Unlock()
	c.notify()
	return nil
}

// reprobeDirectMessages retries a probe that failed for a reason other than a
// missing relation. Settled outcomes are answered from the directory.
func (c *Client) reprobeDirectMessages(ctx context.Context) {
	if c.directory.DirectMessagesAvailable() {
		return
	}
	c.mu.Lock()
	identityID := c.identityID
	c.mu.Unlock()
	if identityID == "" {
		return
	}
	if !c.directory.ProbeDirectMessages(ctx, identityID) {
		return
	}
	for _, peer := range c.directory.LoadPeers(ctx, identityID) {
		c.profiles.Remember(peer)
	}
	c.notify()
}

func (c *Client) fetchHistory(ctx context.Context, identityID string, room Room) ([]Message, error) {
	var rows []backend.Message
	var err error
	if room.Kind == RoomKindDirect {
		rows, err = c.store.ListDirectMessages(ctx, identityID, room.PeerID())
	} else {
		rows, err = c.store.ListChannelMessages(ctx, room.ID)
	}
	if err != nil {
		return nil, err
	}
	messages := make([]Message, 0, len(rows))
	for _, row := range rows {
		author := backend.Author{DisplayName: AnonymousDisplayName}
		if row.Author != nil && row.Author.DisplayName != "" {
			author = *row.Author
		}
		messages = append(messages, Message{
			ID:        row.ID,
			RoomID:    room.ID,
			AuthorID:  row.SenderID,
			Content:   row.Content,
			CreatedAt: row.CreatedAt,
			Author:    author,
		})
	}
	return messages, nil
}

func (c *Client) syncRealtime(ctx context.Context) {
	c.mu.Lock()
	identityID := c.identityID
	c.mu.Unlock()

	key := SubscriptionKey{IdentityID: identityID}
	if identityID != "" {
		key.DirectMessages = c.directory.DirectMessagesAvailable()
		key.PeerID = c.directory.ActivePeerID()
	}
	if _, err := c.reconciler.Sync(ctx, key); err != nil {
		c.logger.Warn("realtime sync failed", zap.Error(err))
	}
}

func (c *Client) notify() {
	c.listenersMu.Lock()
	listeners := make([]func(), 0, len(c.listeners))
	for _, listener := range c.listeners {
		listeners = append(listeners, listener)
	}
	c.listenersMu.Unlock()
	for _, listener := range listeners {
		listener()
	}
}
