package models

import (
	"time"
)

type UserType string

const (
	UserTypeRecruit   UserType = "recruit"
	UserTypeVolunteer UserType = "volunteer"
	UserTypeAdmin     UserType = "admin"
)

// Valid reports whether t is one of the known audiences.
func (t UserType) Valid() bool {
	switch t {
	case UserTypeRecruit, UserTypeVolunteer, UserTypeAdmin:
		return true
	}
	return false
}

// UserTotal is the authoritative running total for a user (denormalized from point_entries)
type UserTotal struct {
	UserID   string   `gorm:"primaryKey;type:varchar(128)" json:"user_id"`
	UserType UserType `gorm:"type:varchar(16);not null;default:'recruit'" json:"user_type"`
	Total    int64    `gorm:"not null;default:0;check:total >= 0" json:"total"`

	ReconciledAt *time.Time `json:"reconciled_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}
