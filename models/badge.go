package models

import (
	"time"
)

type AwardKind string

const (
	AwardKindBadge AwardKind = "badge"
	AwardKindNFT   AwardKind = "nft"
)

// BadgeAward: awarded instance of a badge or NFT tier. Insert-once, never updated.
type BadgeAward struct {
	ID            string    `gorm:"primaryKey;type:uuid" json:"id"`
	UserID        string    `gorm:"type:varchar(128);not null;uniqueIndex:idx_badge_awards_user_badge,priority:1" json:"user_id"`
	BadgeID       string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_badge_awards_user_badge,priority:2" json:"badge_id"`
	Kind          AwardKind `gorm:"type:varchar(8);not null;default:'badge'" json:"kind"`
	Name          string    `gorm:"not null" json:"name"`
	Tier          string    `gorm:"type:varchar(16)" json:"tier,omitempty"`
	Threshold     int64     `json:"threshold"`
	EntryID       *string   `gorm:"type:uuid;index" json:"entry_id,omitempty"` // ledger entry whose credit crossed the threshold
	PointsAtAward int64     `json:"points_at_award"`
	EarnedAt      time.Time `gorm:"not null" json:"earned_at"`
}
