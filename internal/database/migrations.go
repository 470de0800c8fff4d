package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationSeedDefaultChannels = "2026-01-10_seed_default_channels"
	migrationBackfillSortOrder   = "2026-02-03_backfill_channel_sort_order"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

type defaultChannel struct {
	id          string
	name        string
	description string
	emoji       string
	sortOrder   int
}

var defaultChannels = []defaultChannel{
	{id: "general", name: "general", description: "Say hello to everyone", emoji: "💬", sortOrder: 1},
	{id: "random", name: "random", description: "Anything goes", emoji: "🎲", sortOrder: 2},
	{id: "showcase", name: "showcase", description: "Share what you built", emoji: "✨", sortOrder: 3},
}

func applyMigrations(db *gorm.DB, features Features, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationSeedDefaultChannels, apply: seedDefaultChannels},
	}
	// Recorded only once the column exists, so enabling the feature later still backfills.
	if features.ChannelSortOrder {
		migrations = append(migrations, migrationDefinition{name: migrationBackfillSortOrder, apply: backfillSortOrder})
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		logger.Info("database migration applied", zap.String("migration", migration.name))
	}
	return nil
}

func seedDefaultChannels(db *gorm.DB) error {
	base := time.Now().UTC()
	return db.Transaction(func(tx *gorm.DB) error {
		for index, channel := range defaultChannels {
			var count int64
			if err := tx.Table("channels").Where("id = ?", channel.id).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				continue
			}
			row := map[string]interface{}{
				"id":          channel.id,
				"name":        channel.name,
				"description": channel.description,
				"emoji":       channel.emoji,
				"created_at":  base.Add(time.Duration(index) * time.Millisecond),
			}
			if err := tx.Table("channels").Create(row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func backfillSortOrder(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		for _, channel := range defaultChannels {
			err := tx.Table("channels").
				Where("id = ? AND sort_order IS NULL", channel.id).
				Update("sort_order", channel.sortOrder).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}
