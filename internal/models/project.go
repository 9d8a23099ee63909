package models

import (
	"time"

	"gorm.io/datatypes"
)

// Project groups API keys under a named workspace owned by one user.
type Project struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name        string `gorm:"type:text;not null"` // Project name.
	Description string `gorm:"type:text"`          // Optional description.

	OwnerID uint64 `gorm:"not null;index"` // Owning user ID.

	Active bool `gorm:"not null;default:true"` // Soft-delete flag.

	Settings datatypes.JSON `gorm:"type:jsonb"` // Free-form project settings.

	APIKeys []APIKey `gorm:"foreignKey:ProjectID"` // Keys scoped to this project.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
