package repository

import (
	"context"
	"errors"
	"time"

	"participation-points/models"

	"gorm.io/gorm"
)

// totalsLockClass namespaces the per-user advisory locks taken by credit and reconcile.
const totalsLockClass = 7301

// incrementTotalSQL is one statement so concurrent increments for a user serialize on the row.
const incrementTotalSQL = `
INSERT INTO user_totals (user_id, user_type, total, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (user_id) DO UPDATE
SET total = user_totals.total + EXCLUDED.total,
    updated_at = EXCLUDED.updated_at
RETURNING total`

const replaceTotalSQL = `
INSERT INTO user_totals (user_id, user_type, total, reconciled_at, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (user_id) DO UPDATE
SET total = EXCLUDED.total,
    reconciled_at = EXCLUDED.reconciled_at,
    updated_at = EXCLUDED.updated_at`

// lockUser takes a transaction-scoped advisory lock for userID. It is released on commit or rollback.
func lockUser(tx *gorm.DB, userID string) error {
	return tx.Exec("SELECT pg_advisory_xact_lock(?, hashtext(?))", totalsLockClass, userID).Error
}

func (s *GormStore) GetTotal(ctx context.Context, userID string) (*models.UserTotal, error) {
	var t models.UserTotal
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *GormStore) ReconcileTotal(ctx context.Context, userID string, userType models.UserType) (int64, error) {
	var sum int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockUser(tx, userID); err != nil {
			return err
		}
		if err := tx.Model(&models.PointEntry{}).
			Select("COALESCE(SUM(points), 0)").
			Where("user_id = ?", userID).
			Scan(&sum).Error; err != nil {
			return err
		}
		now := time.Now().UTC()
		return tx.Exec(replaceTotalSQL, userID, userType, sum, now, now, now).Error
	})
	if err != nil {
		return 0, err
	}
	return sum, nil
}
