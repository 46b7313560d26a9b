package services

import (
	"context"
	"sync"
	"testing"

	"participation-points/models"
	"participation-points/repository"
	"participation-points/repository/memory"
	"participation-points/rewards"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// faultyStore injects failures into selected operations of the memory store.
type faultyStore struct {
	*memory.Store
	creditErr  error
	awardErr   error
	enqueueErr error
}

func (f *faultyStore) CreditEntry(ctx context.Context, e *models.PointEntry, userType models.UserType) (bool, int64, error) {
	if f.creditErr != nil {
		return false, 0, f.creditErr
	}
	return f.Store.CreditEntry(ctx, e, userType)
}

func (f *faultyStore) InsertAwardIfAbsent(ctx context.Context, a *models.BadgeAward) (bool, error) {
	if f.awardErr != nil {
		return false, f.awardErr
	}
	return f.Store.InsertAwardIfAbsent(ctx, a)
}

func (f *faultyStore) EnqueueItem(ctx context.Context, item *models.NotificationQueueItem) error {
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	return f.Store.EnqueueItem(ctx, item)
}

// mapCache records cache traffic for assertions.
type mapCache struct {
	mu          sync.Mutex
	values      map[string]int64
	invalidated []string
}

func newMapCache() *mapCache { return &mapCache{values: make(map[string]int64)} }

func (c *mapCache) Get(_ context.Context, userID string) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[userID]
	return v, ok
}

func (c *mapCache) Set(_ context.Context, userID string, total int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[userID] = total
}

func (c *mapCache) Invalidate(_ context.Context, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, userID)
	c.invalidated = append(c.invalidated, userID)
}

type harness struct {
	store        repository.Store
	outbox       *OutboxService
	achievements *AchievementService
	totals       *TotalService
	ledger       *LedgerService
}

func newHarness(t *testing.T, store repository.Store, cache TotalCache) *harness {
	t.Helper()
	catalog, err := rewards.Default()
	require.NoError(t, err)

	logger := zap.NewNop()
	outbox := NewOutboxService(store, logger)
	achievements := NewAchievementService(store, catalog, outbox, logger)
	totals := NewTotalService(store, store, achievements, cache, logger)
	return &harness{
		store:        store,
		outbox:       outbox,
		achievements: achievements,
		totals:       totals,
		ledger:       NewLedgerService(store, catalog, totals, achievements, logger),
	}
}

func (h *harness) award(t *testing.T, req AwardRequest) *AwardResult {
	t.Helper()
	res, err := h.ledger.Award(context.Background(), req)
	require.NoError(t, err)
	return res
}

func (h *harness) pending(t *testing.T) int64 {
	t.Helper()
	counts, err := h.outbox.Stats(context.Background())
	require.NoError(t, err)
	return counts[models.QueueStatusPending]
}
