package repository

import (
	"context"
	"errors"
	"time"

	"participation-points/models"

	"gorm.io/gorm"
)

// claimPendingSQL flips a batch to claimed in one statement. SKIP LOCKED lets
// concurrent workers take disjoint batches without waiting on each other.
const claimPendingSQL = `
UPDATE notification_queue
SET status = ?, claimed_at = ?, attempts = attempts + 1
WHERE id IN (
	SELECT id FROM notification_queue
	WHERE status = ?
	ORDER BY created_at ASC
	LIMIT ?
	FOR UPDATE SKIP LOCKED
)
RETURNING *`

func (s *GormStore) EnqueueItem(ctx context.Context, item *models.NotificationQueueItem) error {
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *GormStore) ClaimPending(ctx context.Context, limit int) ([]models.NotificationQueueItem, error) {
	var items []models.NotificationQueueItem
	err := s.db.WithContext(ctx).
		Raw(claimPendingSQL, models.QueueStatusClaimed, time.Now().UTC(), models.QueueStatusPending, limit).
		Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *GormStore) CompleteItem(ctx context.Context, id string, status models.QueueStatus, errMsg *string) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.NotificationQueueItem{}).
		Where("id = ? AND status = ?", id, models.QueueStatusClaimed).
		Updates(map[string]interface{}{
			"status":       status,
			"error":        errMsg,
			"processed_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) RequeueItem(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.NotificationQueueItem{}).
		Where("id = ? AND status = ?", id, models.QueueStatusFailed).
		Updates(map[string]interface{}{
			"status":       models.QueueStatusPending,
			"error":        nil,
			"claimed_at":   nil,
			"processed_at": nil,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) GetItem(ctx context.Context, id string) (*models.NotificationQueueItem, error) {
	var item models.NotificationQueueItem
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *GormStore) CountByStatus(ctx context.Context) (map[models.QueueStatus]int64, error) {
	var rows []struct {
		Status models.QueueStatus
		Count  int64
	}
	err := s.db.WithContext(ctx).
		Model(&models.NotificationQueueItem{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := map[models.QueueStatus]int64{
		models.QueueStatusPending:   0,
		models.QueueStatusClaimed:   0,
		models.QueueStatusDelivered: 0,
		models.QueueStatusFailed:    0,
	}
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}
