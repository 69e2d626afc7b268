package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillAttachmentColumns = "2026-08-30_backfill_attachment_columns"

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

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillAttachmentColumns, apply: backfillAttachmentColumns},
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
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillAttachmentColumns rewrites legacy NULL attachment columns to the
// empty JSON array so decoding never sees SQL NULL.
func backfillAttachmentColumns(db *gorm.DB) error {
	if err := db.Exec("UPDATE clients SET photos = '[]' WHERE photos IS NULL OR photos = ''").Error; err != nil {
		return err
	}
	return db.Exec("UPDATE purchases SET images = '[]' WHERE images IS NULL OR images = ''").Error
}
