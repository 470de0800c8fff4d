package chat

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/lobby/internal/backend"
	"github.com/MarcoPoloResearchLab/lobby/internal/profiles"
)

var errMissingServices = errors.New("chat: profile and chat services required")

// Store joins profile and chat storage into one backend.Store.
type Store struct {
	profiles *profiles.Service
	chat     *Service
}

var _ backend.Store = (*Store)(nil)

// NewStore composes the storage services.
func NewStore(profileService *profiles.Service, chatService *Service) (*Store, error) {
	if profileService == nil || chatService == nil {
		return nil, errMissingServices
	}
	return &Store{profiles: profileService, chat: chatService}, nil
}

func (s *Store) GetProfile(ctx context.Context, id string) (backend.Profile, error) {
	return s.profiles.Get(ctx, id)
}

func (s *Store) UpsertProfile(ctx context.Context, profile backend.Profile) (backend.Profile, error) {
	return s.profiles.Upsert(ctx, profile)
}

func (s *Store) ListProfiles(ctx context.Context, query backend.ProfileQuery) ([]backend.Profile, error) {
	return s.profiles.List(ctx, query)
}

func (s *Store) ListChannels(ctx context.Context, order backend.ChannelOrder) ([]backend.Channel, error) {
	return s.chat.ListChannels(ctx, order)
}

func (s *Store) ListChannelMessages(ctx context.Context, channelID string) ([]backend.Message, error) {
	return s.chat.ListChannelMessages(ctx, channelID)
}

func (s *Store) ListDirectMessages(ctx context.Context, userID, peerID string) ([]backend.Message, error) {
	return s.chat.ListDirectMessages(ctx, userID, peerID)
}

func (s *Store) ProbeDirectMessages(ctx context.Context) error {
	return s.chat.ProbeDirectMessages(ctx)
}

func (s *Store) InsertChannelMessage(ctx context.Context, message backend.NewChannelMessage) (backend.Message, error) {
	return s.chat.InsertChannelMessage(ctx, message)
}

func (s *Store) InsertDirectMessage(ctx context.Context, message backend.NewDirectMessage) (backend.Message, error) {
	return s.chat.InsertDirectMessage(ctx, message)
}
