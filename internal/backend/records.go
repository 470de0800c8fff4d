package backend

import (
	"strings"
	"time"
)

const (
	// TableMessages names the channel message table.
	TableMessages = "messages"
	// TableDirectMessages names the direct message table.
	TableDirectMessages = "direct_messages"
)

// IdentityMetadata carries provider-supplied profile hints for a signed-in principal.
type IdentityMetadata struct {
	FullName  string `json:"full_name,omitempty"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Identity is the authenticated principal as known to the auth collaborator.
type Identity struct {
	ID       string           `json:"id"`
	Email    string           `json:"email,omitempty"`
	Metadata IdentityMetadata `json:"user_metadata"`
}

// Profile is the application-level display record for an identity.
type Profile struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Channel is a globally visible named room.
type Channel struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Emoji       string    `json:"emoji,omitempty"`
	SortOrder   *int      `json:"sort_order,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Author is the denormalized author snapshot attached to a message.
type Author struct {
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Message is a channel or direct message row.
// Channel messages carry ChannelID; direct messages carry RecipientID.
type Message struct {
	ID          string    `json:"id"`
	ChannelID   string    `json:"channel_id,omitempty"`
	SenderID    string    `json:"user_id"`
	RecipientID string    `json:"recipient_id,omitempty"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
	Author      *Author   `json:"author,omitempty"`
}

// IsDirect reports whether the message is addressed to a single recipient.
func (m Message) IsDirect() bool {
	return m.RecipientID != ""
}

// Counterpart returns the participant of a direct message that is not selfID.
func (m Message) Counterpart(selfID string) string {
	if m.SenderID == selfID {
		return m.RecipientID
	}
	return m.SenderID
}

// NewChannelMessage is the insert payload for a channel message.
type NewChannelMessage struct {
	ChannelID string `json:"channel_id"`
	SenderID  string `json:"user_id"`
	Content   string `json:"content"`
}

// NewDirectMessage is the insert payload for a direct message.
type NewDirectMessage struct {
	SenderID    string `json:"sender_id"`
	RecipientID string `json:"recipient_id"`
	Content     string `json:"content"`
}

// ChannelOrder selects the channel listing order.
type ChannelOrder string

const (
	// OrderBySortKey orders by sort_order (nulls last) then created_at.
	OrderBySortKey ChannelOrder = "sort_order"
	// OrderByCreatedAt orders by created_at only.
	OrderByCreatedAt ChannelOrder = "created_at"
)

// ParseChannelOrder maps a raw order value, defaulting to OrderByCreatedAt.
func ParseChannelOrder(raw string) ChannelOrder {
	if strings.EqualFold(strings.TrimSpace(raw), string(OrderBySortKey)) {
		return OrderBySortKey
	}
	return OrderByCreatedAt
}

// ProfileQuery bounds a profile listing.
type ProfileQuery struct {
	ExcludeID string
	Limit     int
}

// FeedSpec selects one class of insert events.
// ParticipantID restricts direct-message events to those sent or received by that identity.
type FeedSpec struct {
	Table         string `json:"table"`
	ParticipantID string `json:"participant_id,omitempty"`
}

// InsertEvent is a single pushed row insert.
type InsertEvent struct {
	Table   string  `json:"table"`
	Message Message `json:"record"`
}

const (
	// EnvelopeSubscribed acknowledges a realtime subscription.
	EnvelopeSubscribed = "subscribed"
	// EnvelopeInsert carries one InsertEvent.
	EnvelopeInsert = "insert"
)

// FeedEnvelope is the realtime wire frame.
type FeedEnvelope struct {
	Type   string   `json:"type"`
	Table  string   `json:"table,omitempty"`
	Record *Message `json:"record,omitempty"`
}
