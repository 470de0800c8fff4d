package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/lobby/internal/backend"
	"github.com/MarcoPoloResearchLab/lobby/internal/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var noOpLogger = zap.NewNop()

const (
	opServiceNew          = "chat.service.new"
	opListChannels        = "chat.list_channels"
	opListChannelMessages = "chat.list_channel_messages"
	opListDirectMessages  = "chat.list_direct_messages"
	opProbeDirectMessages = "chat.probe_direct_messages"
	opInsertChannel       = "chat.insert_channel_message"
	opInsertDirect        = "chat.insert_direct_message"
)

// Publisher receives every stored insert.
type Publisher interface {
	Publish(event backend.InsertEvent)
}

type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Publisher  Publisher
	Logger     *zap.Logger
}

// Service stores channels and messages and publishes inserts.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	publisher  Publisher
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		publisher:  cfg.Publisher,
		logger:     logger,
	}, nil
}

// ListChannels returns every channel in the requested order.
// Ordering by sort key fails with KindColumnNotFound on schemas without it.
func (s *Service) ListChannels(ctx context.Context, order backend.ChannelOrder) ([]backend.Channel, error) {
	statement := s.db.WithContext(ctx).Model(&Channel{})
	if order == backend.OrderBySortKey {
		statement = statement.Order("sort_order IS NULL").Order("sort_order ASC")
	}
	var rows []Channel
	if err := statement.Order("created_at ASC").Order("id ASC").Find(&rows).Error; err != nil {
		s.logError(opListChannels, "query_failed", err, zap.String("order", string(order)))
		return nil, newServiceError(opListChannels, "query_failed", err)
	}
	channels := make([]backend.Channel, 0, len(rows))
	for _, row := range rows {
		channels = append(channels, row.record())
	}
	return channels, nil
}

// ListChannelMessages returns a channel's messages oldest first with author snapshots.
func (s *Service) ListChannelMessages(ctx context.Context, channelID string) ([]backend.Message, error) {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return nil, newInvalidError(opListChannelMessages, "missing_channel_id", errMissingTarget)
	}
	var rows []messageRow
	err := s.db.WithContext(ctx).
		Table("messages AS m").
		Select("m.id AS id, m.channel_id AS channel_id, m.user_id AS sender_id, m.content AS content, m.created_at AS created_at, " +
			"p.display_name AS author_display_name, p.avatar_url AS author_avatar_url").
		Joins("LEFT JOIN profiles AS p ON p.id = m.user_id").
		Where("m.channel_id = ?", channelID).
		Order("m.created_at ASC").
		Order("m.id ASC").
		Scan(&rows).Error
	if err != nil {
		s.logError(opListChannelMessages, "query_failed", err, zap.String("channel_id", channelID))
		return nil, newServiceError(opListChannelMessages, "query_failed", err)
	}
	return records(rows), nil
}

// ListDirectMessages returns the conversation between userID and peerID oldest first.
func (s *Service) ListDirectMessages(ctx context.Context, userID, peerID string) ([]backend.Message, error) {
	userID = strings.TrimSpace(userID)
	peerID = strings.TrimSpace(peerID)
	if userID == "" || peerID == "" {
		return nil, newInvalidError(opListDirectMessages, "missing_participant", errMissingTarget)
	}
	var rows []messageRow
	err := s.db.WithContext(ctx).
		Table("direct_messages AS d").
		Select("d.id AS id, d.sender_id AS sender_id, d.recipient_id AS recipient_id, d.content AS content, d.created_at AS created_at, " +
			"p.display_name AS author_display_name, p.avatar_url AS author_avatar_url").
		Joins("LEFT JOIN profiles AS p ON p.id = d.sender_id").
		Where("(d.sender_id = ? AND d.recipient_id = ?) OR (d.sender_id = ? AND d.recipient_id = ?)", userID, peerID, peerID, userID).
		Order("d.created_at ASC").
		Order("d.id ASC").
		Scan(&rows).Error
	if err != nil {
		s.logError(opListDirectMessages, "query_failed", err, zap.String("user_id", userID), zap.String("peer_id", peerID))
		return nil, newServiceError(opListDirectMessages, "query_failed", err)
	}
	return records(rows), nil
}

// ProbeDirectMessages reports KindRelationNotFound when direct messages are not provisioned.
func (s *Service) ProbeDirectMessages(ctx context.Context) error {
	var ids []string
	err := s.db.WithContext(ctx).Table(backend.TableDirectMessages).Limit(1).Pluck("id", &ids).Error
	if err == nil {
		return nil
	}
	if Classify(err) == backend.KindRelationNotFound {
		return newServiceError(opProbeDirectMessages, "relation_missing", err)
	}
	s.logError(opProbeDirectMessages, "query_failed", err)
	return newServiceError(opProbeDirectMessages, "query_failed", err)
}

// InsertChannelMessage stores a message in an existing channel and publishes it.
func (s *Service) InsertChannelMessage(ctx context.Context, input backend.NewChannelMessage) (backend.Message, error) {
	senderID := strings.TrimSpace(input.SenderID)
	channelID := strings.TrimSpace(input.ChannelID)
	if senderID == "" {
		return backend.Message{}, newInvalidError(opInsertChannel, "missing_sender", errMissingSender)
	}
	if channelID == "" {
		return backend.Message{}, newInvalidError(opInsertChannel, "missing_channel_id", errMissingTarget)
	}
	content, err := validateContent(input.Content)
	if err != nil {
		return backend.Message{}, newInvalidError(opInsertChannel, "invalid_content", err)
	}

	var row Message
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var channelCount int64
		if err := tx.Model(&Channel{}).Where("id = ?", channelID).Count(&channelCount).Error; err != nil {
			s.logError(opInsertChannel, "channel_select_failed", err, zap.String("channel_id", channelID))
			return newServiceError(opInsertChannel, "channel_select_failed", err)
		}
		if channelCount == 0 {
			return newServiceError(opInsertChannel, "channel_not_found", gorm.ErrRecordNotFound)
		}
		id, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opInsertChannel, "id_generation_failed", err, zap.String("channel_id", channelID))
			return newServiceError(opInsertChannel, "id_generation_failed", err)
		}
		row = Message{
			ID:        id,
			ChannelID: channelID,
			UserID:    senderID,
			Content:   content,
			CreatedAt: s.clock().UTC(),
		}
		if err := tx.Create(&row).Error; err != nil {
			s.logError(opInsertChannel, "insert_failed", err, zap.String("channel_id", channelID), zap.String("user_id", senderID))
			return newServiceError(opInsertChannel, "insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return backend.Message{}, txErr
	}

	message := row.record()
	metrics.MessagesInserted.WithLabelValues(backend.TableMessages).Inc()
	s.publish(backend.TableMessages, message)
	return message, nil
}

// InsertDirectMessage stores a message for an existing recipient and publishes it.
func (s *Service) InsertDirectMessage(ctx context.Context, input backend.NewDirectMessage) (backend.Message, error) {
	senderID := strings.TrimSpace(input.SenderID)
	recipientID := strings.TrimSpace(input.RecipientID)
	if senderID == "" {
		return backend.Message{}, newInvalidError(opInsertDirect, "missing_sender", errMissingSender)
	}
	if recipientID == "" {
		return backend.Message{}, newInvalidError(opInsertDirect, "missing_recipient", errMissingTarget)
	}
	if recipientID == senderID {
		return backend.Message{}, newInvalidError(opInsertDirect, "self_message", errSelfMessage)
	}
	content, err := validateContent(input.Content)
	if err != nil {
		return backend.Message{}, newInvalidError(opInsertDirect, "invalid_content", err)
	}

	var row DirectMessage
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var recipientCount int64
		if err := tx.Table("profiles").Where("id = ?", recipientID).Count(&recipientCount).Error; err != nil {
			s.logError(opInsertDirect, "recipient_select_failed", err, zap.String("recipient_id", recipientID))
			return newServiceError(opInsertDirect, "recipient_select_failed", err)
		}
		if recipientCount == 0 {
			return newServiceError(opInsertDirect, "recipient_not_found", gorm.ErrRecordNotFound)
		}
		id, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opInsertDirect, "id_generation_failed", err)
			return newServiceError(opInsertDirect, "id_generation_failed", err)
		}
		row = DirectMessage{
			ID:          id,
			SenderID:    senderID,
			RecipientID: recipientID,
			Content:     content,
			CreatedAt:   s.clock().UTC(),
		}
		if err := tx.Create(&row).Error; err != nil {
			if Classify(err) != backend.KindRelationNotFound {
				s.logError(opInsertDirect, "insert_failed", err, zap.String("user_id", senderID), zap.String("recipient_id", recipientID))
			}
			return newServiceError(opInsertDirect, "insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return backend.Message{}, txErr
	}

	message := row.record()
	metrics.MessagesInserted.WithLabelValues(backend.TableDirectMessages).Inc()
	s.publish(backend.TableDirectMessages, message)
	return message, nil
}

func (s *Service) publish(table string, message backend.Message) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(backend.InsertEvent{Table: table, Message: message})
}

func validateContent(raw string) (string, error) {
	content := strings.TrimSpace(raw)
	if content == "" {
		return "", errEmptyContent
	}
	if len(content) > MaxContentLength {
		return "", errContentTooLong
	}
	return content, nil
}

func records(rows []messageRow) []backend.Message {
	messages := make([]backend.Message, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, row.record())
	}
	return messages
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("chat service error", attrs...)
}

// IsServiceCode reports whether err carries the given "<operation>.<reason>" code.
func IsServiceCode(err error, code string) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr) && serviceErr.Code() == code
}
