package repository

import (
	"context"

	"participation-points/models"

	"gorm.io/gorm/clause"
)

func (s *GormStore) UpsertSubscription(ctx context.Context, sub *models.PushSubscription) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "endpoint"}},
			DoUpdates: clause.AssignmentColumns([]string{"user_id", "p256dh", "auth", "user_agent", "updated_at"}),
		}).
		Create(sub).Error
}

func (s *GormStore) DeleteSubscription(ctx context.Context, endpoint string) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("endpoint = ?", endpoint).
		Delete(&models.PushSubscription{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) ListSubscriptions(ctx context.Context, userID string) ([]models.PushSubscription, error) {
	var subs []models.PushSubscription
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&subs).Error
	return subs, err
}
