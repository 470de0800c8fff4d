package lobby

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/lobby/internal/backend"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SendFailedMessage is the room-scoped error text shown after a rejected send.
const SendFailedMessage = "Failed to send message. Please try again."

// SendCoordinatorConfig wires the coordinator to storage.
// With Optimistic set the coordinator shows a local echo until the authoritative row arrives.
type SendCoordinatorConfig struct {
	Store      backend.Store
	Cache      *MessageCache
	Optimistic bool
	Clock      func() time.Time
	Logger     *zap.Logger
}

// SendRequest carries everything a send depends on.
type SendRequest struct {
	Identity *backend.Identity
	Profile  *backend.Profile
	Room     *Room
	Content  string
}

// SendCoordinator serializes outgoing messages; a send during another is ignored.
type SendCoordinator struct {
	store      backend.Store
	cache      *MessageCache
	optimistic bool
	clock      func() time.Time
	logger     *zap.Logger

	mu       sync.Mutex
	inFlight bool
	errs     map[string]string
}

// NewSendCoordinator constructs an idle coordinator.
func NewSendCoordinator(cfg SendCoordinatorConfig) (*SendCoordinator, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Optimistic && cfg.Cache == nil {
		return nil, errMissingCache
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SendCoordinator{
		store:      cfg.Store,
		cache:      cfg.Cache,
		optimistic: cfg.Optimistic,
		clock:      clock,
		logger:     logger,
		errs:       make(map[string]string),
	}, nil
}

// Send inserts one message into the active room.
// Failures set a room-scoped error and are never retried automatically.
func (s *SendCoordinator) Send(ctx context.Context, request SendRequest) error {
	if request.Identity == nil || request.Identity.ID == "" {
		return ErrNotSignedIn
	}
	if request.Profile == nil {
		return ErrProfileMissing
	}
	if request.Room == nil || request.Room.ID == "" {
		return ErrNoActiveRoom
	}
	content := strings.TrimSpace(request.Content)
	if content == "" {
		return ErrEmptyMessage
	}
	room := *request.Room
	if room.Kind == RoomKindDirect && room.PeerID() == "" {
		return ErrNoActiveRoom
	}

	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return ErrSendInFlight
	}
	s.inFlight = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	echoID := ""
	if s.optimistic {
		echoID = "local-" + uuid.NewString()
		s.cache.AppendPending(room.ID, Message{
			ID:        echoID,
			AuthorID:  request.Identity.ID,
			Content:   content,
			CreatedAt: s.clock().UTC(),
			Author:    snapshotOf(*request.Profile),
		})
	}

	row, err := s.insert(ctx, request.Identity.ID, room, content)
	if err != nil {
		if echoID != "" {
			s.cache.RemovePending(room.ID, echoID)
		}
		s.mu.Lock()
		s.errs[room.ID] = SendFailedMessage
		s.mu.Unlock()
		s.logger.Warn("message send failed",
			zap.String("room_id", room.ID),
			zap.String("user_id", request.Identity.ID),
			zap.Error(err))
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	s.mu.Lock()
	delete(s.errs, room.ID)
	s.mu.Unlock()

	if echoID != "" && row.ID != "" && s.cache.Loaded(room.ID) {
		s.cache.Append(room.ID, Message{
			ID:        row.ID,
			AuthorID:  request.Identity.ID,
			Content:   row.Content,
			CreatedAt: row.CreatedAt,
			Author:    snapshotOf(*request.Profile),
		})
	}
	return nil
}

func (s *SendCoordinator) insert(ctx context.Context, senderID string, room Room, content string) (backend.Message, error) {
	if room.Kind == RoomKindDirect {
		return s.store.InsertDirectMessage(ctx, backend.NewDirectMessage{
			SenderID:    senderID,
			RecipientID: room.PeerID(),
			Content:     content,
		})
	}
	return s.store.InsertChannelMessage(ctx, backend.NewChannelMessage{
		ChannelID: room.ID,
		SenderID:  senderID,
		Content:   content,
	})
}

// Sending reports whether a send is in flight.
func (s *SendCoordinator) Sending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Err returns the send error recorded for roomID, or "".
func (s *SendCoordinator) Err(roomID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errs[roomID]
}

// Reset clears recorded send errors.
func (s *SendCoordinator) Reset() {
	s.mu.Lock()
	s.errs = make(map[string]string)
	s.mu.Unlock()
}
