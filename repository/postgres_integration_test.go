package repository

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"participation-points/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

// Runs against a real database only when TEST_POSTGRES_DSN is set.
func newPostgresStore(t *testing.T) *GormStore {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}
	db, err := Connect(dsn)
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	return NewGormStore(db)
}

func TestPostgresConcurrentCreditAndAward(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()
	userID := "it-" + uuid.NewString()

	var wg sync.WaitGroup
	var awarded int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := store.CreditEntry(ctx, &models.PointEntry{
				ID: uuid.NewString(), UserID: userID, Points: 50, Action: "admin_adjustment",
			}, models.UserTypeRecruit)
			assert.NoError(t, err)
			ok, err := store.InsertAwardIfAbsent(ctx, &models.BadgeAward{
				ID: uuid.NewString(), UserID: userID, BadgeID: "bronze-recruit",
				Kind: models.AwardKindBadge, Name: "Bronze Recruit", Threshold: 1000,
			})
			assert.NoError(t, err)
			if ok {
				atomic.AddInt32(&awarded, 1)
			}
		}()
	}
	wg.Wait()

	total, err := store.GetTotal(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), total.Total)
	assert.Equal(t, int32(1), awarded)
}

func TestPostgresReconcileDuringCredits(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()
	userID := "it-" + uuid.NewString()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				_, _, err := store.CreditEntry(ctx, &models.PointEntry{
					ID: uuid.NewString(), UserID: userID, Points: 5, Action: "daily_login",
				}, models.UserTypeRecruit)
				assert.NoError(t, err)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				_, err := store.ReconcileTotal(ctx, userID, models.UserTypeRecruit)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	sum, err := store.SumPoints(ctx, userID)
	require.NoError(t, err)
	total, err := store.GetTotal(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), sum)
	assert.Equal(t, sum, total.Total)
}

func TestPostgresIdempotentAppend(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()
	userID := "it-" + uuid.NewString()
	key := "retry"

	var wg sync.WaitGroup
	var inserted int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _, err := store.CreditEntry(ctx, &models.PointEntry{
				ID: uuid.NewString(), UserID: userID, Points: 10, Action: "chat_participation",
				Metadata: datatypes.JSON(`{}`), IdempotencyKey: &key,
			}, models.UserTypeRecruit)
			assert.NoError(t, err)
			if ok {
				atomic.AddInt32(&inserted, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), inserted)

	sum, err := store.SumPoints(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), sum)
	total, err := store.GetTotal(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), total.Total)
}

func TestPostgresClaimExactlyOnce(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()
	userID := "it-" + uuid.NewString()

	ids := make(map[string]bool)
	for i := 0; i < 30; i++ {
		item := &models.NotificationQueueItem{ID: uuid.NewString(), UserID: userID, Payload: datatypes.JSON(`{"title":"t"}`), Status: models.QueueStatusPending}
		require.NoError(t, store.EnqueueItem(ctx, item))
		ids[item.ID] = true
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				batch, err := store.ClaimPending(ctx, 5)
				if !assert.NoError(t, err) || len(batch) == 0 {
					return
				}
				mu.Lock()
				for _, it := range batch {
					seen[it.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	for id := range ids {
		assert.Equal(t, 1, seen[id], "item %s", id)
	}
}
