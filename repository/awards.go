package repository

import (
	"context"

	"participation-points/models"

	"gorm.io/gorm/clause"
)

func (s *GormStore) InsertAwardIfAbsent(ctx context.Context, award *models.BadgeAward) (bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "badge_id"}},
			DoNothing: true,
		}).
		Create(award)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) ListAwards(ctx context.Context, userID string) ([]models.BadgeAward, error) {
	var awards []models.BadgeAward
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("threshold ASC, earned_at ASC").
		Find(&awards).Error
	return awards, err
}

func (s *GormStore) ListAwardsByEntry(ctx context.Context, userID, entryID string) ([]models.BadgeAward, error) {
	var awards []models.BadgeAward
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND entry_id = ?", userID, entryID).
		Order("threshold ASC").
		Find(&awards).Error
	return awards, err
}
