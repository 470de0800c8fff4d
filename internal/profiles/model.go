package profiles

import (
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/lobby/internal/backend"
)

// Profile is the persisted display record for an identity.
type Profile struct {
	ID          string    `gorm:"column:id;primaryKey;size:190;not null"`
	Email       string    `gorm:"column:email;size:320"`
	DisplayName string    `gorm:"column:display_name;size:320;not null;index"`
	AvatarURL   string    `gorm:"column:avatar_url;size:512"`
	CreatedAt   time.Time `gorm:"column:created_at;not null"`
	UpdatedAt   time.Time `gorm:"column:updated_at;not null"`
}

// TableName exposes the table backing profiles.
func (Profile) TableName() string {
	return "profiles"
}

func (p Profile) record() backend.Profile {
	return backend.Profile{
		ID:          p.ID,
		Email:       p.Email,
		DisplayName: p.DisplayName,
		AvatarURL:   p.AvatarURL,
		CreatedAt:   p.CreatedAt.UTC(),
	}
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
