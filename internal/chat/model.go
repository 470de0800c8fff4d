package chat

import (
	"time"

	"github.com/MarcoPoloResearchLab/lobby/internal/backend"
)

// MaxContentLength bounds a message body in bytes.
const MaxContentLength = 4000

// Channel models a channel row on schemas that carry the sort key.
type Channel struct {
	ID          string    `gorm:"column:id;primaryKey;size:190;not null"`
	Name        string    `gorm:"column:name;size:190;not null"`
	Description string    `gorm:"column:description;size:512;not null;default:''"`
	Emoji       string    `gorm:"column:emoji;size:32;not null;default:''"`
	SortOrder   *int      `gorm:"column:sort_order"`
	CreatedAt   time.Time `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Channel) TableName() string {
	return "channels"
}

// LegacyChannel models the channel table before the sort key was introduced.
type LegacyChannel struct {
	ID          string    `gorm:"column:id;primaryKey;size:190;not null"`
	Name        string    `gorm:"column:name;size:190;not null"`
	Description string    `gorm:"column:description;size:512;not null;default:''"`
	Emoji       string    `gorm:"column:emoji;size:32;not null;default:''"`
	CreatedAt   time.Time `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (LegacyChannel) TableName() string {
	return "channels"
}

// Message models a channel message row.
type Message struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null"`
	ChannelID string    `gorm:"column:channel_id;size:190;not null;index:idx_messages_channel_created,priority:1"`
	UserID    string    `gorm:"column:user_id;size:190;not null"`
	Content   string    `gorm:"column:content;type:text;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index:idx_messages_channel_created,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Message) TableName() string {
	return backend.TableMessages
}

// DirectMessage models a one-to-one message row.
type DirectMessage struct {
	ID          string    `gorm:"column:id;primaryKey;size:190;not null"`
	SenderID    string    `gorm:"column:sender_id;size:190;not null;index:idx_direct_pair_created,priority:1"`
	RecipientID string    `gorm:"column:recipient_id;size:190;not null;index:idx_direct_pair_created,priority:2"`
	Content     string    `gorm:"column:content;type:text;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;not null;index:idx_direct_pair_created,priority:3"`
}

// TableName provides the explicit table binding for GORM.
func (DirectMessage) TableName() string {
	return backend.TableDirectMessages
}

// messageRow is a message joined with its author's profile.
type messageRow struct {
	ID                string    `gorm:"column:id"`
	ChannelID         string    `gorm:"column:channel_id"`
	SenderID          string    `gorm:"column:sender_id"`
	RecipientID       string    `gorm:"column:recipient_id"`
	Content           string    `gorm:"column:content"`
	CreatedAt         time.Time `gorm:"column:created_at"`
	AuthorDisplayName *string   `gorm:"column:author_display_name"`
	AuthorAvatarURL   *string   `gorm:"column:author_avatar_url"`
}

func (r messageRow) record() backend.Message {
	message := backend.Message{
		ID:          r.ID,
		ChannelID:   r.ChannelID,
		SenderID:    r.SenderID,
		RecipientID: r.RecipientID,
		Content:     r.Content,
		CreatedAt:   r.CreatedAt.UTC(),
	}
	if r.AuthorDisplayName != nil && *r.AuthorDisplayName != "" {
		message.Author = &backend.Author{DisplayName: *r.AuthorDisplayName}
		if r.AuthorAvatarURL != nil {
			message.Author.AvatarURL = *r.AuthorAvatarURL
		}
	}
	return message
}

func (c Channel) record() backend.Channel {
	return backend.Channel{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		Emoji:       c.Emoji,
		SortOrder:   c.SortOrder,
		CreatedAt:   c.CreatedAt.UTC(),
	}
}

func (m Message) record() backend.Message {
	return backend.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		SenderID:  m.UserID,
		Content:   m.Content,
		CreatedAt: m.CreatedAt.UTC(),
	}
}

func (m DirectMessage) record() backend.Message {
	return backend.Message{
		ID:          m.ID,
		SenderID:    m.SenderID,
		RecipientID: m.RecipientID,
		Content:     m.Content,
		CreatedAt:   m.CreatedAt.UTC(),
	}
}
