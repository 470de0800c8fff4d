package database

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/lobby/internal/chat"
	"github.com/MarcoPoloResearchLab/lobby/internal/profiles"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Features toggles optional parts of the schema.
// A disabled feature leaves its table or column absent so clients see the
// backend the way a partially provisioned deployment would present it.
type Features struct {
	DirectMessages   bool
	ChannelSortOrder bool
}

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, features Features, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := migrateSchema(db, features); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, features, logger); err != nil {
		return nil, err
	}

	logger.Info("database initialized",
		zap.String("path", path),
		zap.Bool("direct_messages", features.DirectMessages),
		zap.Bool("channel_sort_order", features.ChannelSortOrder),
	)

	return db, nil
}

func migrateSchema(db *gorm.DB, features Features) error {
	models := []interface{}{&profiles.Profile{}, &chat.Message{}, &migrationRecord{}}
	if features.ChannelSortOrder {
		models = append(models, &chat.Channel{})
	} else {
		models = append(models, &chat.LegacyChannel{})
	}
	if features.DirectMessages {
		models = append(models, &chat.DirectMessage{})
	}
	return db.AutoMigrate(models...)
}
