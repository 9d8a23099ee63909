package models

import "time"

// UserRole identifies the access level of a user account.
type UserRole string

// UserRole values.
const (
	// RoleAdmin grants access to administrative endpoints.
	RoleAdmin UserRole = "admin"
	// RoleUser is the default role for registered accounts.
	RoleUser UserRole = "user"
	// RolePremium marks paying accounts with premium features.
	RolePremium UserRole = "premium"
)

// User represents an end-user account stored in the database.
type User struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Email    string `gorm:"type:text;not null;uniqueIndex"` // Unique email address.
	Username string `gorm:"type:text;not null;uniqueIndex"` // Unique login name.
	FullName string `gorm:"type:text"`                      // Optional display name.
	Password string `gorm:"type:text;not null"`             // Hashed password.

	Role UserRole `gorm:"type:text;not null;default:'user'"` // Account role.

	Active   bool `gorm:"not null;default:true"`  // Whether the user can sign in.
	Verified bool `gorm:"not null;default:false"` // Email verification flag.

	AvatarURL string `gorm:"type:text"` // Relative URL of the stored avatar.

	TOTPSecret string `gorm:"type:text"` // TOTP secret for MFA, empty when disabled.

	Subscription *Subscription `gorm:"foreignKey:UserID"`  // Owned subscription, at most one.
	Projects     []Project     `gorm:"foreignKey:OwnerID"` // Owned projects.
	APIKeys      []APIKey      `gorm:"foreignKey:UserID"`  // Owned API keys.

	LastLogin *time.Time // Last successful login time.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool { return u != nil && u.Role == RoleAdmin }
