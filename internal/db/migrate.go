package db

import (
	"fmt"

	"github.com/storm-saas/storm/internal/models"
	"gorm.io/gorm"
)

// Migrate runs schema migrations for all entities.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	if errAutoMigrate := conn.AutoMigrate(
		&models.User{},
		&models.Subscription{},
		&models.Project{},
		&models.APIKey{},
		&models.UsageRecord{},
		&models.Notification{},
		&models.WebhookEvent{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}
	return nil
}
