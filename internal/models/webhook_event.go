package models

import (
	"time"

	"gorm.io/datatypes"
)

// WebhookEvent records a processed payment-processor event. The unique index
// on EventID makes webhook redelivery a no-op.
type WebhookEvent struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	EventID string `gorm:"type:text;not null;uniqueIndex"` // External event ID.
	Kind    string `gorm:"type:text;not null"`             // External event type.

	Payload datatypes.JSON `gorm:"type:jsonb"` // Raw event object for auditing.

	ProcessedAt time.Time `gorm:"not null;autoCreateTime"` // When the event was applied.
}
