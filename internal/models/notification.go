package models

import "time"

// Notification is a per-user message with read/unread state.
type Notification struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;index"` // Receiving user ID.

	Title   string `gorm:"type:text;not null"` // Short title.
	Message string `gorm:"type:text;not null"` // Message body.

	Kind string `gorm:"type:text;not null;default:'info'"` // info, warning, error or success.

	Read   bool       `gorm:"not null;default:false"` // Whether the user has read it.
	ReadAt *time.Time // When it was marked read.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
