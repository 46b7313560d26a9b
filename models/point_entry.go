package models

import (
	"time"

	"gorm.io/datatypes"
)

// PointEntry is one immutable credit in the participation ledger.
// (user_id, idempotency_key) is unique; Postgres treats NULL keys as distinct.
type PointEntry struct {
	ID             string         `gorm:"primaryKey;type:uuid" json:"id"`
	UserID         string         `gorm:"type:varchar(128);not null;index;uniqueIndex:idx_point_entries_user_idem,priority:1" json:"user_id"`
	Points         int64          `gorm:"not null;check:points >= 0" json:"points"`
	Action         string         `gorm:"type:varchar(64);not null;index" json:"action"`
	Source         string         `gorm:"type:varchar(32)" json:"source,omitempty"`
	Description    string         `gorm:"type:text" json:"description,omitempty"`
	Metadata       datatypes.JSON `gorm:"type:jsonb" json:"metadata,omitempty"`
	IdempotencyKey *string        `gorm:"type:varchar(128);uniqueIndex:idx_point_entries_user_idem,priority:2" json:"idempotency_key,omitempty"`
	TotalAfter     int64          `gorm:"not null;default:0" json:"total_after"` // user's total right after this credit
	CreatedAt      time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
}
