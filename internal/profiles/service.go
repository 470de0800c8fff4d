package profiles

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/lobby/internal/backend"
	"github.com/MarcoPoloResearchLab/lobby/internal/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MaxListLimit caps ListProfiles regardless of the requested limit.
const MaxListLimit = 100

var (
	// ErrInvalidProfile indicates the profile did not carry a usable id or display name.
	ErrInvalidProfile = errors.New("profiles: invalid profile")
	errMissingDatabase = errors.New("profiles: database connection required")
)

const (
	opGet    = "profiles.get"
	opUpsert = "profiles.upsert"
	opList   = "profiles.list"
)

// ServiceConfig describes the dependencies required for profile storage.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service reads and writes profile rows.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
}

// NewService constructs the profile service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, now: clock, logger: logger}, nil
}

// Get returns the profile for id or a KindNotFound error.
func (s *Service) Get(ctx context.Context, id string) (backend.Profile, error) {
	id = normalize(id)
	if id == "" {
		return backend.Profile{}, backend.NewError(backend.KindNotFound, opGet, ErrInvalidProfile)
	}
	var profile Profile
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return backend.Profile{}, backend.NewError(backend.KindNotFound, opGet, err)
	}
	if err != nil {
		s.logger.Error("profile lookup failed", zap.String("operation", opGet), zap.String("user_id", id), zap.Error(err))
		return backend.Profile{}, backend.NewError(backend.KindGeneric, opGet, err)
	}
	return profile.record(), nil
}

// Upsert inserts the profile or, on an id conflict, refreshes its mutable fields.
func (s *Service) Upsert(ctx context.Context, input backend.Profile) (backend.Profile, error) {
	profile := Profile{
		ID:          normalize(input.ID),
		Email:       normalize(input.Email),
		DisplayName: normalize(input.DisplayName),
		AvatarURL:   normalize(input.AvatarURL),
		CreatedAt:   input.CreatedAt.UTC(),
		UpdatedAt:   s.now().UTC(),
	}
	if profile.ID == "" || profile.DisplayName == "" {
		return backend.Profile{}, backend.NewError(backend.KindInvalidRequest, opUpsert, ErrInvalidProfile)
	}
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = profile.UpdatedAt
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "display_name", "avatar_url", "updated_at"}),
	}).Create(&profile).Error
	if err != nil {
		s.logger.Error("profile upsert failed", zap.String("operation", opUpsert), zap.String("user_id", profile.ID), zap.Error(err))
		return backend.Profile{}, backend.NewError(backend.KindGeneric, opUpsert, err)
	}
	metrics.ProfilesUpserted.Inc()
	return s.Get(ctx, profile.ID)
}

// List returns profiles ordered by display name, skipping query.ExcludeID.
func (s *Service) List(ctx context.Context, query backend.ProfileQuery) ([]backend.Profile, error) {
	limit := query.Limit
	if limit <= 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}
	statement := s.db.WithContext(ctx).Model(&Profile{})
	if exclude := normalize(query.ExcludeID); exclude != "" {
		statement = statement.Where("id <> ?", exclude)
	}
	var rows []Profile
	if err := statement.Order("display_name ASC").Order("id ASC").Limit(limit).Find(&rows).Error; err != nil {
		s.logger.Error("profile list failed", zap.String("operation", opList), zap.Error(err))
		return nil, backend.NewError(backend.KindGeneric, opList, fmt.Errorf("query: %w", err))
	}
	profiles := make([]backend.Profile, 0, len(rows))
	for _, row := range rows {
		profiles = append(profiles, row.record())
	}
	return profiles, nil
}
