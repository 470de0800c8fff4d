package lobby

import (
	"context"
	"sync"

	"github.com/MarcoPoloResearchLab/lobby/internal/backend"
	"go.uber.org/zap"
)

// SubscriptionKey captures every input the live subscription's routing depends on.
type SubscriptionKey struct {
	IdentityID     string
	DirectMessages bool
	PeerID         string
}

// ReconcilerConfig wires the reconciler to the feed and the cache.
type ReconcilerConfig struct {
	Feed       backend.Feed
	Cache      *MessageCache
	Profiles   *ProfileResolver
	ActiveRoom func() (Room, bool)
	OnChange   func()
	Logger     *zap.Logger
}

// Reconciler owns the single live subscription and merges pushed inserts into the cache.
type Reconciler struct {
	feed       backend.Feed
	cache      *MessageCache
	profiles   *ProfileResolver
	activeRoom func() (Room, bool)
	onChange   func()
	logger     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	key          SubscriptionKey
	subscription backend.Subscription
	generation   uint64
}

// NewReconciler constructs a reconciler without a live subscription.
func NewReconciler(cfg ReconcilerConfig) (*Reconciler, error) {
	if cfg.Feed == nil {
		return nil, errMissingFeed
	}
	if cfg.Cache == nil {
		return nil, errMissingCache
	}
	if cfg.Profiles == nil {
		return nil, errMissingStore
	}
	activeRoom := cfg.ActiveRoom
	if activeRoom == nil {
		activeRoom = func() (Room, bool) { return Room{}, false }
	}
	onChange := cfg.OnChange
	if onChange == nil {
		onChange = func() {}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Reconciler{
		feed:       cfg.Feed,
		cache:      cfg.Cache,
		profiles:   cfg.Profiles,
		activeRoom: activeRoom,
		onChange:   onChange,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Sync makes the live subscription match key, tearing the old one down first.
// It reports whether the subscription was replaced. An empty identity leaves no subscription.
// The lock is released while the feed handshake runs; a Sync or Close that lands
// meanwhile supersedes it and the late handle is released.
func (r *Reconciler) Sync(ctx context.Context, key SubscriptionKey) (bool, error) {
	r.mu.Lock()
	if key == r.key && (r.subscription != nil || key.IdentityID == "") {
		r.mu.Unlock()
		return false, nil
	}

	r.teardownLocked()
	r.generation++
	r.key = key
	generation := r.generation
	r.mu.Unlock()
	if key.IdentityID == "" {
		return true, nil
	}

	specs := []backend.FeedSpec{{Table: backend.TableMessages}}
	if key.DirectMessages {
		specs = append(specs, backend.FeedSpec{Table: backend.TableDirectMessages, ParticipantID: key.IdentityID})
	}

	subscription, err := r.feed.Subscribe(ctx, specs, func(event backend.InsertEvent) {
		r.deliver(generation, key, event)
	})

	r.mu.Lock()
	if generation != r.generation {
		r.mu.Unlock()
		if subscription != nil {
			if unsubscribeErr := subscription.Unsubscribe(); unsubscribeErr != nil {
				r.logger.Warn("realtime unsubscribe failed", zap.Error(unsubscribeErr))
			}
		}
		r.logger.Debug("realtime subscription superseded", zap.String("user_id", key.IdentityID))
		return true, nil
	}
	defer r.mu.Unlock()
	if err != nil {
		r.key = SubscriptionKey{}
		r.logger.Warn("realtime subscribe failed", zap.String("user_id", key.IdentityID), zap.Error(err))
		return true, err
	}
	r.subscription = subscription
	r.logger.Debug("realtime subscribed",
		zap.String("user_id", key.IdentityID),
		zap.Bool("direct_messages", key.DirectMessages),
		zap.String("peer_id", key.PeerID))
	return true, nil
}

// Close tears down the live subscription and stops pending lookups.
func (r *Reconciler) Close() {
	r.mu.Lock()
	r.teardownLocked()
	r.generation++
	r.key = SubscriptionKey{}
	r.mu.Unlock()
	r.cancel()
}

func (r *Reconciler) teardownLocked() {
	if r.subscription == nil {
		return
	}
	if err := r.subscription.Unsubscribe(); err != nil {
		r.logger.Warn("realtime unsubscribe failed", zap.Error(err))
	}
	r.subscription = nil
}

// deliver drops events that arrive on a subscription that has since been replaced.
func (r *Reconciler) deliver(generation uint64, key SubscriptionKey, event backend.InsertEvent) {
	r.mu.Lock()
	current := r.generation == generation
	r.mu.Unlock()
	if !current {
		return
	}
	if r.apply(key, event) {
		r.onChange()
	}
}

// apply routes one insert into the cache and reports whether the cache changed.
func (r *Reconciler) apply(key SubscriptionKey, event backend.InsertEvent) bool {
	switch event.Table {
	case backend.TableMessages:
		return r.applyChannelMessage(event.Message)
	case backend.TableDirectMessages:
		return r.applyDirectMessage(key, event.Message)
	default:
		r.logger.Debug("ignoring insert for unknown table", zap.String("table", event.Table))
		return false
	}
}

func (r *Reconciler) applyChannelMessage(row backend.Message) bool {
	roomID := row.ChannelID
	if roomID == "" || row.ID == "" {
		return false
	}
	if !r.cache.Loaded(roomID) || r.cache.Has(roomID, row.ID) {
		return false
	}
	return r.cache.Append(roomID, r.toMessage(roomID, row))
}

func (r *Reconciler) applyDirectMessage(key SubscriptionKey, row backend.Message) bool {
	if !key.DirectMessages || row.ID == "" {
		return false
	}
	if row.SenderID != key.IdentityID && row.RecipientID != key.IdentityID {
		return false
	}
	counterpart := row.Counterpart(key.IdentityID)
	active, ok := r.activeRoom()
	if !ok || active.Kind != RoomKindDirect || active.PeerID() != counterpart {
		return false
	}
	roomID := DirectRoomID(counterpart)
	if r.cache.Has(roomID, row.ID) {
		return false
	}
	return r.cache.Append(roomID, r.toMessage(roomID, row))
}

func (r *Reconciler) toMessage(roomID string, row backend.Message) Message {
	var author backend.Author
	if row.Author != nil && row.Author.DisplayName != "" {
		author = *row.Author
	} else {
		author = r.profiles.Author(r.ctx, row.SenderID)
	}
	return Message{
		ID:        row.ID,
		RoomID:    roomID,
		AuthorID:  row.SenderID,
		Content:   row.Content,
		CreatedAt: row.CreatedAt,
		Author:    author,
	}
}
