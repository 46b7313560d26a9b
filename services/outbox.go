package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"participation-points/metrics"
	"participation-points/models"
	"participation-points/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const (
	DefaultClaimBatch = 50
	MaxClaimBatch     = 500
	maxErrorLength    = 1000
)

// NotificationPayload is the JSON document stored on a queue item and sent to the device.
type NotificationPayload struct {
	Title string                 `json:"title"`
	Body  string                 `json:"body"`
	Tag   string                 `json:"tag,omitempty"`
	URL   string                 `json:"url,omitempty"`
	Data  map[string]interface{} `json:"data,omitempty"`
}

type OutboxService struct {
	store  repository.OutboxStore
	logger *zap.Logger
}

func NewOutboxService(store repository.OutboxStore, logger *zap.Logger) *OutboxService {
	return &OutboxService{store: store, logger: logger.Named("outbox")}
}

// Enqueue stages a notification for later delivery and returns the item id.
func (s *OutboxService) Enqueue(ctx context.Context, userID string, payload NotificationPayload, subscriptionRef string) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	if subscriptionRef == "" {
		subscriptionRef = userID
	}
	item := &models.NotificationQueueItem{
		ID:              uuid.NewString(),
		UserID:          userID,
		Payload:         datatypes.JSON(raw),
		SubscriptionRef: subscriptionRef,
		Status:          models.QueueStatusPending,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.store.EnqueueItem(ctx, item); err != nil {
		return "", storageErr("outbox.enqueue", err)
	}
	metrics.OutboxEnqueuedTotal.Inc()
	s.logger.Debug("notification enqueued", zap.String("item_id", item.ID), zap.String("user_id", userID))
	return item.ID, nil
}

// Claim atomically takes up to batchSize pending items. batchSize <= 0 means DefaultClaimBatch.
func (s *OutboxService) Claim(ctx context.Context, batchSize int) ([]models.NotificationQueueItem, error) {
	if batchSize <= 0 {
		batchSize = DefaultClaimBatch
	}
	if batchSize > MaxClaimBatch {
		batchSize = MaxClaimBatch
	}
	items, err := s.store.ClaimPending(ctx, batchSize)
	if err != nil {
		return nil, storageErr("outbox.claim", err)
	}
	metrics.OutboxClaimedTotal.Add(float64(len(items)))
	return items, nil
}

// Complete records the outcome of a claimed item. Completing an item that is
// no longer claimed is a no-op.
func (s *OutboxService) Complete(ctx context.Context, itemID string, status models.QueueStatus, errMsg string) error {
	if !status.Terminal() {
		return ErrInvalidStatus
	}
	var msg *string
	if errMsg = strings.TrimSpace(errMsg); errMsg != "" {
		errMsg = truncateError(errMsg)
		msg = &errMsg
	}
	updated, err := s.store.CompleteItem(ctx, itemID, status, msg)
	if err != nil {
		return storageErr("outbox.complete", err)
	}
	if !updated {
		s.logger.Debug("complete ignored, item not claimed", zap.String("item_id", itemID))
	}
	return nil
}

// Requeue moves a failed item back to pending. Operator action only.
func (s *OutboxService) Requeue(ctx context.Context, itemID string) error {
	ok, err := s.store.RequeueItem(ctx, itemID)
	if err != nil {
		return storageErr("outbox.requeue", err)
	}
	if ok {
		s.logger.Info("queue item requeued", zap.String("item_id", itemID))
		return nil
	}
	if _, err := s.store.GetItem(ctx, itemID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return storageErr("outbox.get", err)
	}
	return ErrNotRequeueable
}

func (s *OutboxService) Stats(ctx context.Context) (map[models.QueueStatus]int64, error) {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return nil, storageErr("outbox.stats", err)
	}
	return counts, nil
}

// truncateError caps msg at maxErrorLength bytes without splitting a rune.
// NUL bytes are dropped since Postgres text columns reject them.
func truncateError(msg string) string {
	msg = strings.ReplaceAll(msg, "\x00", "")
	if len(msg) > maxErrorLength {
		msg = msg[:maxErrorLength]
	}
	return strings.ToValidUTF8(msg, "")
}
