// Package backend defines the records and collaborator contracts shared by the
// lobby core, the in-process backend and the remote client.
package backend

import "context"

// Auth owns the identity lifecycle.
type Auth interface {
	GetSession(ctx context.Context) (*Identity, error)
	// OnSessionChange registers a listener for sign-in and sign-out transitions.
	// A nil identity signals sign-out or session loss.
	OnSessionChange(listener func(*Identity)) (unsubscribe func())
	SignOut(ctx context.Context) error
	SignInWithOAuth(ctx context.Context, provider, redirectTarget string) (string, error)
}

// Store is structured record access for profiles, channels and messages.
type Store interface {
	GetProfile(ctx context.Context, id string) (Profile, error)
	UpsertProfile(ctx context.Context, profile Profile) (Profile, error)
	ListProfiles(ctx context.Context, query ProfileQuery) ([]Profile, error)
	ListChannels(ctx context.Context, order ChannelOrder) ([]Channel, error)
	ListChannelMessages(ctx context.Context, channelID string) ([]Message, error)
	ListDirectMessages(ctx context.Context, userID, peerID string) ([]Message, error)
	ProbeDirectMessages(ctx context.Context) error
	InsertChannelMessage(ctx context.Context, message NewChannelMessage) (Message, error)
	InsertDirectMessage(ctx context.Context, message NewDirectMessage) (Message, error)
}

// Feed pushes row inserts matching one or more specs.
// ctx bounds only the subscribe handshake; the subscription lives until Unsubscribe.
type Feed interface {
	Subscribe(ctx context.Context, specs []FeedSpec, onInsert func(InsertEvent)) (Subscription, error)
}

// Subscription is a live feed handle.
// Unsubscribe returns without waiting for a handler that is still running.
type Subscription interface {
	Unsubscribe() error
}
