package models

import "time"

// UsageRecord is an immutable append-only record of one API call.
// Rows are never updated after creation.
type UsageRecord struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID   uint64  `gorm:"not null;index:idx_usage_user_ts,priority:1"` // Calling user ID.
	APIKeyID *uint64 `gorm:"index"`                                       // Key used for the call, if any.

	Endpoint   string `gorm:"type:text;not null"` // Request path.
	Method     string `gorm:"type:text;not null"` // HTTP method.
	StatusCode int    `gorm:"not null"`           // Response status code.

	LatencyMs float64 `gorm:"type:decimal(12,3)"` // Handler latency in milliseconds.

	Timestamp time.Time `gorm:"not null;index:idx_usage_user_ts,priority:2"` // Request arrival time.

	IPAddress string `gorm:"type:text"` // Client IP.
	UserAgent string `gorm:"type:text"` // Client user agent.
}

// TableName keeps the short table name used by the aggregate queries.
func (UsageRecord) TableName() string { return "usage_records" }
