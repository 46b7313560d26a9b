package repository

import (
	"context"
	"errors"

	"participation-points/models"
)

var ErrNotFound = errors.New("record not found")

// LedgerStore is the append-only point ledger.
type LedgerStore interface {
	// CreditEntry appends entry and adds its points to the user's total as one
	// unit, serialized per user with ReconcileTotal. entry.TotalAfter is set to
	// the new total. On an idempotency conflict nothing is written and inserted is false.
	CreditEntry(ctx context.Context, entry *models.PointEntry, userType models.UserType) (inserted bool, total int64, err error)
	// AppendEntry writes a ledger row without touching the total (imports and
	// backfills). Follow it with ReconcileTotal.
	AppendEntry(ctx context.Context, entry *models.PointEntry) (inserted bool, err error)
	FindEntryByIdempotencyKey(ctx context.Context, userID, key string) (*models.PointEntry, error)
	SumPoints(ctx context.Context, userID string) (int64, error)
	ListEntries(ctx context.Context, userID string, limit int) ([]models.PointEntry, error)
	ListLedgerUserIDs(ctx context.Context) ([]string, error)
}

// TotalStore holds the authoritative per-user total.
type TotalStore interface {
	GetTotal(ctx context.Context, userID string) (*models.UserTotal, error)
	// ReconcileTotal recomputes the total from the ledger and stores it, holding
	// the same per-user lock as CreditEntry so no concurrent credit is lost.
	ReconcileTotal(ctx context.Context, userID string, userType models.UserType) (int64, error)
}

// AwardStore records badge and NFT awards, at most one per (user, badge).
type AwardStore interface {
	// InsertAwardIfAbsent reports whether a new row was written.
	InsertAwardIfAbsent(ctx context.Context, award *models.BadgeAward) (bool, error)
	ListAwards(ctx context.Context, userID string) ([]models.BadgeAward, error)
	ListAwardsByEntry(ctx context.Context, userID, entryID string) ([]models.BadgeAward, error)
}

// OutboxStore is the durable notification queue.
type OutboxStore interface {
	EnqueueItem(ctx context.Context, item *models.NotificationQueueItem) error
	// ClaimPending moves up to limit pending items to claimed, oldest first.
	// Concurrent callers never receive the same item.
	ClaimPending(ctx context.Context, limit int) ([]models.NotificationQueueItem, error)
	// CompleteItem writes a terminal status if the item is still claimed; false otherwise.
	CompleteItem(ctx context.Context, id string, status models.QueueStatus, errMsg *string) (bool, error)
	// RequeueItem moves a failed item back to pending; false if it is not failed.
	RequeueItem(ctx context.Context, id string) (bool, error)
	GetItem(ctx context.Context, id string) (*models.NotificationQueueItem, error)
	CountByStatus(ctx context.Context) (map[models.QueueStatus]int64, error)
}

// SubscriptionStore keeps push endpoints, one row per endpoint.
type SubscriptionStore interface {
	UpsertSubscription(ctx context.Context, sub *models.PushSubscription) error
	DeleteSubscription(ctx context.Context, endpoint string) (bool, error)
	ListSubscriptions(ctx context.Context, userID string) ([]models.PushSubscription, error)
}

// Store is everything the service layer needs.
type Store interface {
	LedgerStore
	TotalStore
	AwardStore
	OutboxStore
	SubscriptionStore
}
