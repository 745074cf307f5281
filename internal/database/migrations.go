package database

import (
	"errors"
	"time"

	"github.com/luminastream/studio/backend/internal/overlay"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillTextOverlayColor = "2026-07-14_backfill_text_overlay_color"

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
		{name: migrationBackfillTextOverlayColor, apply: backfillTextOverlayColor},
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

// Text overlays persisted before the color field existed carry an empty
// color; the entity contract stores the default explicitly.
func backfillTextOverlayColor(db *gorm.DB) error {
	return db.Model(&overlay.Overlay{}).
		Where("kind = ? AND color = ''", overlay.KindText).
		Update("color", overlay.DefaultTextColor).Error
}
