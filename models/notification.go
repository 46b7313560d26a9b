package models

import (
	"time"

	"gorm.io/datatypes"
)

type QueueStatus string

const (
	QueueStatusPending   QueueStatus = "pending"
	QueueStatusClaimed   QueueStatus = "claimed"
	QueueStatusDelivered QueueStatus = "delivered"
	QueueStatusFailed    QueueStatus = "failed"
)

// Terminal reports whether s can be written by Complete.
func (s QueueStatus) Terminal() bool {
	return s == QueueStatusDelivered || s == QueueStatusFailed
}

// NotificationQueueItem is one unit of outbox work.
// Status only moves forward: pending → claimed → delivered|failed.
type NotificationQueueItem struct {
	ID              string         `gorm:"primaryKey;type:uuid" json:"id"`
	UserID          string         `gorm:"type:varchar(128);not null;index" json:"user_id"`
	Payload         datatypes.JSON `gorm:"type:jsonb;not null" json:"payload"`
	SubscriptionRef string         `gorm:"type:varchar(128)" json:"subscription_ref"`
	Status          QueueStatus    `gorm:"type:varchar(16);not null;default:'pending';index:idx_notification_queue_status_created,priority:1" json:"status"`
	Attempts        int            `gorm:"not null;default:0" json:"attempts"`
	Error           *string        `gorm:"type:text" json:"error,omitempty"`
	CreatedAt       time.Time      `gorm:"not null;index:idx_notification_queue_status_created,priority:2" json:"created_at"`
	ClaimedAt       *time.Time     `json:"claimed_at,omitempty"`
	ProcessedAt     *time.Time     `json:"processed_at,omitempty"`
}

func (NotificationQueueItem) TableName() string {
	return "notification_queue"
}
