package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"participation-points/models"
	"participation-points/repository"
)

// Store is an in-memory implementation of repository.Store. It is safe for
// concurrent use and mirrors the Postgres constraints (idempotency key, one award
// per badge, claimed-only completion). Intended for tests and local development.
type Store struct {
	mu sync.RWMutex

	entries   []models.PointEntry
	entryKeys map[string]int // user_id + "\x00" + idempotency_key → index into entries

	totals map[string]models.UserTotal

	awards   []models.BadgeAward
	awardIdx map[string]struct{} // user_id + "\x00" + badge_id

	queue    []models.NotificationQueueItem // insertion order == created order
	queueIdx map[string]int

	subs map[string]models.PushSubscription // by endpoint
}

var _ repository.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		entryKeys: make(map[string]int),
		totals:    make(map[string]models.UserTotal),
		awardIdx:  make(map[string]struct{}),
		queueIdx:  make(map[string]int),
		subs:      make(map[string]models.PushSubscription),
	}
}

func pairKey(a, b string) string {
	return a + "\x00" + b
}

// ---- ledger ----

// CreditEntry holds the store mutex for the whole append+increment, which
// gives the same per-user ordering against ReconcileTotal as the Postgres advisory lock.
func (s *Store) CreditEntry(_ context.Context, entry *models.PointEntry, userType models.UserType) (bool, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.IdempotencyKey != nil {
		if _, exists := s.entryKeys[pairKey(entry.UserID, *entry.IdempotencyKey)]; exists {
			return false, 0, nil
		}
	}
	now := time.Now().UTC()
	t, ok := s.totals[entry.UserID]
	if !ok {
		t = models.UserTotal{UserID: entry.UserID, UserType: userType, CreatedAt: now}
	}
	t.Total += entry.Points
	t.UpdatedAt = now
	s.totals[entry.UserID] = t

	entry.TotalAfter = t.Total
	s.appendLocked(entry)
	return true, t.Total, nil
}

func (s *Store) AppendEntry(_ context.Context, entry *models.PointEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.IdempotencyKey != nil {
		if _, exists := s.entryKeys[pairKey(entry.UserID, *entry.IdempotencyKey)]; exists {
			return false, nil
		}
	}
	s.appendLocked(entry)
	return true, nil
}

func (s *Store) appendLocked(entry *models.PointEntry) {
	if entry.IdempotencyKey != nil {
		s.entryKeys[pairKey(entry.UserID, *entry.IdempotencyKey)] = len(s.entries)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.entries = append(s.entries, cloneEntry(*entry))
}

func (s *Store) FindEntryByIdempotencyKey(_ context.Context, userID, key string) (*models.PointEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.entryKeys[pairKey(userID, key)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	e := cloneEntry(s.entries[i])
	return &e, nil
}

func (s *Store) SumPoints(_ context.Context, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum int64
	for _, e := range s.entries {
		if e.UserID == userID {
			sum += e.Points
		}
	}
	return sum, nil
}

func (s *Store) ListEntries(_ context.Context, userID string, limit int) ([]models.PointEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.PointEntry
	for i := len(s.entries) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if s.entries[i].UserID == userID {
			out = append(out, cloneEntry(s.entries[i]))
		}
	}
	return out, nil
}

func (s *Store) ListLedgerUserIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	var ids []string
	for _, e := range s.entries {
		if _, ok := seen[e.UserID]; !ok {
			seen[e.UserID] = struct{}{}
			ids = append(ids, e.UserID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// ---- totals ----

func (s *Store) GetTotal(_ context.Context, userID string) (*models.UserTotal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.totals[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &t, nil
}

func (s *Store) ReconcileTotal(_ context.Context, userID string, userType models.UserType) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sum int64
	for _, e := range s.entries {
		if e.UserID == userID {
			sum += e.Points
		}
	}
	now := time.Now().UTC()
	t, ok := s.totals[userID]
	if !ok {
		t = models.UserTotal{UserID: userID, UserType: userType, CreatedAt: now}
	}
	t.Total = sum
	t.ReconciledAt = &now
	t.UpdatedAt = now
	s.totals[userID] = t
	return sum, nil
}

// ---- awards ----

func (s *Store) InsertAwardIfAbsent(_ context.Context, award *models.BadgeAward) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := pairKey(award.UserID, award.BadgeID)
	if _, exists := s.awardIdx[k]; exists {
		return false, nil
	}
	s.awardIdx[k] = struct{}{}
	s.awards = append(s.awards, *award)
	return true, nil
}

func (s *Store) ListAwards(_ context.Context, userID string) ([]models.BadgeAward, error) {
	return s.filterAwards(func(a models.BadgeAward) bool { return a.UserID == userID }), nil
}

func (s *Store) ListAwardsByEntry(_ context.Context, userID, entryID string) ([]models.BadgeAward, error) {
	return s.filterAwards(func(a models.BadgeAward) bool {
		return a.UserID == userID && a.EntryID != nil && *a.EntryID == entryID
	}), nil
}

func (s *Store) filterAwards(keep func(models.BadgeAward) bool) []models.BadgeAward {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.BadgeAward
	for _, a := range s.awards {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Threshold < out[j].Threshold })
	return out
}

// ---- outbox ----

func (s *Store) EnqueueItem(_ context.Context, item *models.NotificationQueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	if item.Status == "" {
		item.Status = models.QueueStatusPending
	}
	s.queueIdx[item.ID] = len(s.queue)
	s.queue = append(s.queue, *item)
	return nil
}

func (s *Store) ClaimPending(_ context.Context, limit int) ([]models.NotificationQueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var out []models.NotificationQueueItem
	for i := range s.queue {
		if len(out) >= limit {
			break
		}
		it := &s.queue[i]
		if it.Status != models.QueueStatusPending {
			continue
		}
		it.Status = models.QueueStatusClaimed
		it.ClaimedAt = &now
		it.Attempts++
		out = append(out, *it)
	}
	return out, nil
}

func (s *Store) CompleteItem(_ context.Context, id string, status models.QueueStatus, errMsg *string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.queueIdx[id]
	if !ok || s.queue[i].Status != models.QueueStatusClaimed {
		return false, nil
	}
	now := time.Now().UTC()
	s.queue[i].Status = status
	s.queue[i].Error = errMsg
	s.queue[i].ProcessedAt = &now
	return true, nil
}

func (s *Store) RequeueItem(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.queueIdx[id]
	if !ok || s.queue[i].Status != models.QueueStatusFailed {
		return false, nil
	}
	s.queue[i].Status = models.QueueStatusPending
	s.queue[i].Error = nil
	s.queue[i].ClaimedAt = nil
	s.queue[i].ProcessedAt = nil
	return true, nil
}

func (s *Store) GetItem(_ context.Context, id string) (*models.NotificationQueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.queueIdx[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	it := s.queue[i]
	return &it, nil
}

func (s *Store) CountByStatus(_ context.Context) (map[models.QueueStatus]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := map[models.QueueStatus]int64{
		models.QueueStatusPending:   0,
		models.QueueStatusClaimed:   0,
		models.QueueStatusDelivered: 0,
		models.QueueStatusFailed:    0,
	}
	for _, it := range s.queue {
		counts[it.Status]++
	}
	return counts, nil
}

// ---- subscriptions ----

func (s *Store) UpsertSubscription(_ context.Context, sub *models.PushSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := s.subs[sub.Endpoint]; ok {
		existing.UserID = sub.UserID
		existing.P256dh = sub.P256dh
		existing.Auth = sub.Auth
		existing.UserAgent = sub.UserAgent
		existing.UpdatedAt = now
		s.subs[sub.Endpoint] = existing
		return nil
	}
	cp := *sub
	cp.CreatedAt, cp.UpdatedAt = now, now
	s.subs[sub.Endpoint] = cp
	return nil
}

func (s *Store) DeleteSubscription(_ context.Context, endpoint string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subs[endpoint]; !ok {
		return false, nil
	}
	delete(s.subs, endpoint)
	return true, nil
}

func (s *Store) ListSubscriptions(_ context.Context, userID string) ([]models.PushSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.PushSubscription
	for _, sub := range s.subs {
		if sub.UserID == userID {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out, nil
}

func cloneEntry(e models.PointEntry) models.PointEntry {
	if e.Metadata != nil {
		e.Metadata = append([]byte(nil), e.Metadata...)
	}
	if e.IdempotencyKey != nil {
		k := *e.IdempotencyKey
		e.IdempotencyKey = &k
	}
	return e
}
