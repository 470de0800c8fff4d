package lobby

import (
	"strings"

	"github.com/MarcoPoloResearchLab/lobby/internal/backend"
)

const directRoomPrefix = "dm:"

// RoomKind distinguishes channels from direct rooms.
type RoomKind int

const (
	// RoomKindChannel is a named, globally visible channel.
	RoomKindChannel RoomKind = iota
	// RoomKindDirect is a synthesized conversation with one peer.
	RoomKindDirect
)

func (k RoomKind) String() string {
	if k == RoomKindDirect {
		return "direct"
	}
	return "channel"
}

// Room is an addressable conversation target.
type Room struct {
	ID      string
	Kind    RoomKind
	Name    string
	Channel *backend.Channel
	Peer    *backend.Profile
}

// PeerID returns the direct-room counterpart, or "" for channels.
func (r Room) PeerID() string {
	if r.Kind != RoomKindDirect || r.Peer == nil {
		return ""
	}
	return r.Peer.ID
}

// DirectRoomID derives the room id for a conversation with peerID.
func DirectRoomID(peerID string) string {
	return directRoomPrefix + peerID
}

// PeerIDFromRoomID extracts the peer id from a direct room id.
func PeerIDFromRoomID(roomID string) (string, bool) {
	if !strings.HasPrefix(roomID, directRoomPrefix) {
		return "", false
	}
	peerID := strings.TrimPrefix(roomID, directRoomPrefix)
	return peerID, peerID != ""
}

func channelRoom(channel backend.Channel) Room {
	channelCopy := channel
	return Room{
		ID:      channel.ID,
		Kind:    RoomKindChannel,
		Name:    channel.Name,
		Channel: &channelCopy,
	}
}

func directRoom(peer backend.Profile) Room {
	peerCopy := peer
	return Room{
		ID:   DirectRoomID(peer.ID),
		Kind: RoomKindDirect,
		Name: peer.DisplayName,
		Peer: &peerCopy,
	}
}
