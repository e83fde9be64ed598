package migrations

import (
	"github.com/surajit20072003/heygemd/internal/models"
	"gorm.io/gorm"
)

// AllMigrations returns all registered migrations in order.
func AllMigrations() []Migration {
	return []Migration{
		migration001Schema(),
	}
}

// migration001Schema creates the avatar catalog tables.
func migration001Schema() Migration {
	return Migration{
		Version:     "001",
		Description: "Create avatar catalog tables",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(
				&models.Avatar{},
			)
		},
		Down: func(tx *gorm.DB) error {
			if tx.Migrator().HasTable("avatars") {
				return tx.Migrator().DropTable("avatars")
			}
			return nil
		},
	}
}
