package models

import "time"

// APIKey stores the hash of an issued key. The plaintext is returned once
// at creation and never persisted.
type APIKey struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name    string `gorm:"type:text;not null"`             // Human-readable key name.
	KeyHash string `gorm:"type:text;not null;uniqueIndex"` // SHA-256 hex of the plaintext key.

	UserID    uint64  `gorm:"not null;index"` // Owning user ID.
	ProjectID *uint64 `gorm:"index"`          // Optional owning project ID.

	Active bool `gorm:"not null;default:true"` // Soft-delete flag.

	UsageCount uint64 `gorm:"not null;default:0"`    // Requests served with this key.
	RateLimit  int    `gorm:"not null;default:1000"` // Requests per second, 0 disables the limit.

	LastUsed  *time.Time // Last authenticated use.
	ExpiresAt *time.Time // Optional expiry.
	RevokedAt *time.Time // Set when the key is revoked.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
