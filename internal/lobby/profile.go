package lobby

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/lobby/internal/backend"
	"go.uber.org/zap"
)

const (
	// AnonymousDisplayName labels authors without a resolvable profile.
	AnonymousDisplayName = "Anonymous"
	// PlaceholderDisplayName is used when an identity carries no usable name or email.
	PlaceholderDisplayName = "Guest"
)

// ProfileResolverConfig wires the resolver to storage.
type ProfileResolverConfig struct {
	Store  backend.Store
	Clock  func() time.Time
	Logger *zap.Logger
}

// ProfileResolver reads or lazily creates display profiles and caches them.
type ProfileResolver struct {
	store  backend.Store
	clock  func() time.Time
	logger *zap.Logger

	mu       sync.RWMutex
	profiles map[string]backend.Profile
}

// NewProfileResolver constructs a resolver with an empty cache.
func NewProfileResolver(cfg ProfileResolverConfig) (*ProfileResolver, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProfileResolver{
		store:    cfg.Store,
		clock:    clock,
		logger:   logger,
		profiles: make(map[string]backend.Profile),
	}, nil
}

// EnsureProfile returns the identity's profile, creating a default one on first sight.
// Read failures never fall back to defaults.
func (r *ProfileResolver) EnsureProfile(ctx context.Context, identity backend.Identity) (backend.Profile, error) {
	if cached, ok := r.cached(identity.ID); ok {
		return cached, nil
	}

	existing, err := r.store.GetProfile(ctx, identity.ID)
	if err == nil {
		r.Remember(existing)
		return existing, nil
	}
	if !backend.IsKind(err, backend.KindNotFound) {
		r.logger.Warn("profile read failed", zap.String("user_id", identity.ID), zap.Error(err))
		return backend.Profile{}, fmt.Errorf("%w: %v", ErrProfileRead, err)
	}

	candidate := DefaultProfile(identity, r.clock().UTC())
	stored, err := r.store.UpsertProfile(ctx, candidate)
	if err != nil {
		r.logger.Warn("profile creation failed", zap.String("user_id", identity.ID), zap.Error(err))
		return backend.Profile{}, fmt.Errorf("%w: %v", ErrProfileCreate, err)
	}
	r.logger.Info("profile created", zap.String("user_id", stored.ID), zap.String("display_name", stored.DisplayName))
	r.Remember(stored)
	return stored, nil
}

// Author returns the display snapshot for userID, or the anonymous snapshot when unknown.
func (r *ProfileResolver) Author(ctx context.Context, userID string) backend.Author {
	if cached, ok := r.cached(userID); ok {
		return snapshotOf(cached)
	}
	profile, err := r.store.GetProfile(ctx, userID)
	if err != nil {
		if !backend.IsKind(err, backend.KindNotFound) {
			r.logger.Debug("author lookup failed", zap.String("user_id", userID), zap.Error(err))
		}
		return backend.Author{DisplayName: AnonymousDisplayName}
	}
	r.Remember(profile)
	return snapshotOf(profile)
}

// Remember caches a profile fetched elsewhere.
func (r *ProfileResolver) Remember(profile backend.Profile) {
	if profile.ID == "" {
		return
	}
	r.mu.Lock()
	r.profiles[profile.ID] = profile
	r.mu.Unlock()
}

// Reset drops every cached profile.
func (r *ProfileResolver) Reset() {
	r.mu.Lock()
	r.profiles = make(map[string]backend.Profile)
	r.mu.Unlock()
}

func (r *ProfileResolver) cached(userID string) (backend.Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	profile, ok := r.profiles[userID]
	return profile, ok
}

// DefaultProfile derives the profile inserted for a newly seen identity.
func DefaultProfile(identity backend.Identity, createdAt time.Time) backend.Profile {
	return backend.Profile{
		ID:          identity.ID,
		Email:       strings.TrimSpace(identity.Email),
		DisplayName: DefaultDisplayName(identity),
		AvatarURL:   strings.TrimSpace(identity.Metadata.AvatarURL),
		CreatedAt:   createdAt,
	}
}

// DefaultDisplayName prefers the full name, then the short name, then the email local part.
func DefaultDisplayName(identity backend.Identity) string {
	if fullName := strings.TrimSpace(identity.Metadata.FullName); fullName != "" {
		return fullName
	}
	if name := strings.TrimSpace(identity.Metadata.Name); name != "" {
		return name
	}
	email := strings.TrimSpace(identity.Email)
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	return PlaceholderDisplayName
}

func snapshotOf(profile backend.Profile) backend.Author {
	displayName := profile.DisplayName
	if displayName == "" {
		displayName = AnonymousDisplayName
	}
	return backend.Author{DisplayName: displayName, AvatarURL: profile.AvatarURL}
}
