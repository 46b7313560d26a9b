package repository

import (
	"context"
	"errors"
	"time"

	"participation-points/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// errDuplicateEntry rolls back a credit whose ledger insert hit the idempotency key.
var errDuplicateEntry = errors.New("duplicate ledger entry")

func (s *GormStore) CreditEntry(ctx context.Context, entry *models.PointEntry, userType models.UserType) (bool, int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockUser(tx, entry.UserID); err != nil {
			return err
		}
		now := time.Now().UTC()
		if err := tx.Raw(incrementTotalSQL, entry.UserID, userType, entry.Points, now, now).Scan(&total).Error; err != nil {
			return err
		}
		entry.TotalAfter = total
		inserted, err := appendEntry(tx, entry)
		if err != nil {
			return err
		}
		if !inserted {
			return errDuplicateEntry
		}
		return nil
	})
	if errors.Is(err, errDuplicateEntry) {
		entry.TotalAfter = 0
		return false, 0, nil
	}
	if err != nil {
		return false, 0, err
	}
	return true, total, nil
}

func (s *GormStore) AppendEntry(ctx context.Context, entry *models.PointEntry) (bool, error) {
	return appendEntry(s.db.WithContext(ctx), entry)
}

func appendEntry(db *gorm.DB, entry *models.PointEntry) (bool, error) {
	res := db.
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "idempotency_key"}},
			DoNothing: true,
		}).
		Create(entry)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) FindEntryByIdempotencyKey(ctx context.Context, userID, key string) (*models.PointEntry, error) {
	var entry models.PointEntry
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND idempotency_key = ?", userID, key).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *GormStore) SumPoints(ctx context.Context, userID string) (int64, error) {
	var sum int64
	err := s.db.WithContext(ctx).
		Model(&models.PointEntry{}).
		Select("COALESCE(SUM(points), 0)").
		Where("user_id = ?", userID).
		Scan(&sum).Error
	return sum, err
}

func (s *GormStore) ListEntries(ctx context.Context, userID string, limit int) ([]models.PointEntry, error) {
	var entries []models.PointEntry
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

func (s *GormStore) ListLedgerUserIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&models.PointEntry{}).
		Distinct("user_id").
		Order("user_id").
		Pluck("user_id", &ids).Error
	return ids, err
}
