package lobby

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/MarcoPoloResearchLab/lobby/internal/backend"
	"go.uber.org/zap"
)

// DefaultPeerLimit bounds the direct-message candidate list.
const DefaultPeerLimit = 25

// RoomDirectoryConfig wires the directory to storage.
type RoomDirectoryConfig struct {
	Store     backend.Store
	PeerLimit int
	Logger    *zap.Logger
}

// RoomDirectory holds the addressable rooms for one identity and the active selection.
type RoomDirectory struct {
	store     backend.Store
	peerLimit int
	logger    *zap.Logger

	mu             sync.RWMutex
	channels       []backend.Channel
	channelsLoaded bool
	dmProbedFor    string
	dmAvailable    bool
	peers          []backend.Profile
	active         *Room
}

// NewRoomDirectory constructs an empty directory.
func NewRoomDirectory(cfg RoomDirectoryConfig) (*RoomDirectory, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	peerLimit := cfg.PeerLimit
	if peerLimit <= 0 {
		peerLimit = DefaultPeerLimit
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoomDirectory{
		store:     cfg.Store,
		peerLimit: peerLimit,
		logger:    logger,
	}, nil
}

// LoadChannels fetches the channel list once per session.
// A backend without the sort key is queried again ordered by creation time;
// any other failure yields an empty list and is retried on the next call.
func (d *RoomDirectory) LoadChannels(ctx context.Context) []backend.Channel {
	d.mu.RLock()
	if d.channelsLoaded {
		channels := append([]backend.Channel(nil), d.channels...)
		d.mu.RUnlock()
		return channels
	}
	d.mu.RUnlock()

	order := backend.OrderBySortKey
	channels, err := d.store.ListChannels(ctx, order)
	if backend.IsKind(err, backend.KindColumnNotFound) {
		d.logger.Info("channel sort key unavailable, ordering by creation time")
		order = backend.OrderByCreatedAt
		channels, err = d.store.ListChannels(ctx, order)
	}
	if err != nil {
		d.logger.Warn("channel load failed", zap.Error(err))
		return nil
	}

	channels = filterAddressable(channels, d.logger)
	sortChannels(channels, order)

	d.mu.Lock()
	d.channels = channels
	d.channelsLoaded = true
	d.mu.Unlock()
	return append([]backend.Channel(nil), channels...)
}

// ProbeDirectMessages checks direct-message availability once per identity.
// A missing relation disables the feature silently.
func (d *RoomDirectory) ProbeDirectMessages(ctx context.Context, identityID string) bool {
	d.mu.RLock()
	if identityID != "" && d.dmProbedFor == identityID {
		available := d.dmAvailable
		d.mu.RUnlock()
		return available
	}
	d.mu.RUnlock()

	err := d.store.ProbeDirectMessages(ctx)
	available := err == nil
	probed := true
	switch {
	case err == nil:
	case backend.IsKind(err, backend.KindRelationNotFound):
		d.logger.Info("direct messages not provisioned")
	default:
		d.logger.Warn("direct message probe failed", zap.Error(err))
		probed = false
	}

	d.mu.Lock()
	d.dmAvailable = available
	if probed {
		d.dmProbedFor = identityID
	}
	if !available {
		d.peers = nil
	}
	d.mu.Unlock()
	return available
}

// LoadPeers fetches direct-message candidates other than identityID.
func (d *RoomDirectory) LoadPeers(ctx context.Context, identityID string) []backend.Profile {
	if !d.DirectMessagesAvailable() {
		return nil
	}
	peers, err := d.store.ListProfiles(ctx, backend.ProfileQuery{ExcludeID: identityID, Limit: d.peerLimit})
	if err != nil {
		d.logger.Warn("direct message candidates load failed", zap.Error(err))
		return nil
	}
	filtered := make([]backend.Profile, 0, len(peers))
	for _, peer := range peers {
		if peer.ID == "" || peer.ID == identityID {
			continue
		}
		filtered = append(filtered, peer)
		if len(filtered) == d.peerLimit {
			break
		}
	}

	d.mu.Lock()
	d.peers = filtered
	d.mu.Unlock()
	return append([]backend.Profile(nil), filtered...)
}

// SelectRoom activates a channel or a direct room by id.
func (d *RoomDirectory) SelectRoom(roomID string) (Room, error) {
	if peerID, ok := PeerIDFromRoomID(roomID); ok {
		return d.SelectDirectRoom(peerID)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, channel := range d.channels {
		if channel.ID == roomID {
			room := channelRoom(channel)
			d.active = &room
			return room, nil
		}
	}
	return Room{}, ErrUnknownRoom
}

// SelectDirectRoom synthesizes and activates the direct room for a cached peer.
func (d *RoomDirectory) SelectDirectRoom(peerID string) (Room, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.dmAvailable {
		return Room{}, ErrDirectMessagesDisabled
	}
	for _, peer := range d.peers {
		if peer.ID == peerID {
			room := directRoom(peer)
			d.active = &room
			return room, nil
		}
	}
	return Room{}, ErrUnknownPeer
}

// Active returns the selected room.
func (d *RoomDirectory) Active() (Room, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.active == nil {
		return Room{}, false
	}
	return *d.active, true
}

// ActivePeerID returns the peer of the active direct room, or "".
func (d *RoomDirectory) ActivePeerID() string {
	room, ok := d.Active()
	if !ok {
		return ""
	}
	return room.PeerID()
}

// Channels returns the loaded channels.
func (d *RoomDirectory) Channels() []backend.Channel {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]backend.Channel(nil), d.channels...)
}

// Peers returns the loaded direct-message candidates.
func (d *RoomDirectory) Peers() []backend.Profile {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]backend.Profile(nil), d.peers...)
}

// DirectMessagesAvailable reports the last probe outcome.
func (d *RoomDirectory) DirectMessagesAvailable() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.dmAvailable
}

// Reset forgets everything loaded for the previous identity.
func (d *RoomDirectory) Reset() {
	d.mu.Lock()
	d.channels = nil
	d.channelsLoaded = false
	d.dmProbedFor = ""
	d.dmAvailable = false
	d.peers = nil
	d.active = nil
	d.mu.Unlock()
}

// filterAddressable drops channels whose ids would collide with direct room ids.
func filterAddressable(channels []backend.Channel, logger *zap.Logger) []backend.Channel {
	filtered := make([]backend.Channel, 0, len(channels))
	seen := make(map[string]struct{}, len(channels))
	for _, channel := range channels {
		if channel.ID == "" || strings.HasPrefix(channel.ID, directRoomPrefix) {
			logger.Warn("skipping channel with reserved id", zap.String("channel_id", channel.ID))
			continue
		}
		if _, duplicate := seen[channel.ID]; duplicate {
			continue
		}
		seen[channel.ID] = struct{}{}
		filtered = append(filtered, channel)
	}
	return filtered
}

func sortChannels(channels []backend.Channel, order backend.ChannelOrder) {
	sort.SliceStable(channels, func(i, j int) bool {
		left, right := channels[i], channels[j]
		if order == backend.OrderBySortKey {
			switch {
			case left.SortOrder != nil && right.SortOrder == nil:
				return true
			case left.SortOrder == nil && right.SortOrder != nil:
				return false
			case left.SortOrder != nil && right.SortOrder != nil && *left.SortOrder != *right.SortOrder:
				return *left.SortOrder < *right.SortOrder
			}
		}
		return left.CreatedAt.Before(right.CreatedAt)
	})
}
