package db

import (
	"fmt"

	"github.com/verdantqa/greenlight/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model for migration, in FK dependency order.
func AllModels() []interface{} {
	return []interface{}{
		&models.Organization{},
		&models.Member{},
		&models.Invitation{},
		&models.Project{},
		&models.TestCase{},
		&models.Cycle{},
		&models.CycleItem{},
		&models.ManualStep{},
		&models.Execution{},
		&models.Integration{},
		&models.UsageRecord{},
		&models.UsagePeriod{},
		&models.APIToken{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// Reset drops and recreates all tables. Development only.
func Reset(gdb *gorm.DB) error {
	if err := gdb.Migrator().DropTable(AllModels()...); err != nil {
		return fmt.Errorf("db: drop tables: %w", err)
	}
	return AutoMigrate(gdb)
}
