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
	"participation-points/rewards"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const (
	DefaultSource        = "api"
	DefaultHistoryLimit  = 50
	MaxHistoryLimit      = 500
	maxUserIDLength      = 128
	maxIdempotencyKeyLen = 128
	maxDescriptionLength = 500
	maxSourceLength      = 32
)

// AwardRequest is one "award points for action X" call.
type AwardRequest struct {
	UserID         string
	UserType       models.UserType
	Points         int64
	Action         string
	Description    string
	Metadata       map[string]interface{}
	IdempotencyKey string
	Source         string
}

// AwardResult reports what the ledger did. Accepted is false when the idempotency
// key matched an earlier entry; EntryID then names that entry.
type AwardResult struct {
	EntryID       string   `json:"entryId"`
	Accepted      bool     `json:"accepted"`
	Points        int64    `json:"points"`
	NewTotal      int64    `json:"newTotal"`
	BadgesAwarded []string `json:"badgesAwarded"`
}

// LedgerService is the single entry point for crediting points.
type LedgerService struct {
	ledger       repository.LedgerStore
	catalog      *rewards.Catalog
	totals       *TotalService
	achievements *AchievementService
	logger       *zap.Logger
}

func NewLedgerService(ledger repository.LedgerStore, catalog *rewards.Catalog, totals *TotalService, achievements *AchievementService, logger *zap.Logger) *LedgerService {
	return &LedgerService{
		ledger:       ledger,
		catalog:      catalog,
		totals:       totals,
		achievements: achievements,
		logger:       logger.Named("ledger"),
	}
}

func (s *LedgerService) Catalog() *rewards.Catalog { return s.catalog }

// Award credits a ledger entry to the user's total and evaluates thresholds.
//
// The ledger entry and the total change commit together: a failure there returns a
// StorageError and nothing is written. Evaluation and enqueue failures after it are
// logged and counted, and the award still succeeds.
func (s *LedgerService) Award(ctx context.Context, req AwardRequest) (*AwardResult, error) {
	req, err := s.normalize(req)
	if err != nil {
		metrics.PointsAwardsTotal.WithLabelValues("invalid", req.Source).Inc()
		return nil, err
	}

	points, action, err := s.catalog.Resolve(req.Action, req.Points)
	if err != nil {
		metrics.PointsAwardsTotal.WithLabelValues("invalid", req.Source).Inc()
		field := "points"
		if errors.Is(err, rewards.ErrUnknownAction) {
			field = "action"
		}
		return nil, &ValidationError{Field: field, Reason: err.Error(), Err: err}
	}
	if action.Kind == rewards.ActionFixed && req.Points != points {
		s.logger.Debug("fixed action credited at catalog value",
			zap.String("action", action.Tag), zap.Int64("requested", req.Points), zap.Int64("credited", points))
	}

	if req.IdempotencyKey != "" {
		existing, err := s.ledger.FindEntryByIdempotencyKey(ctx, req.UserID, req.IdempotencyKey)
		if err == nil {
			return s.duplicate(ctx, existing, req.Source)
		}
		if !errors.Is(err, repository.ErrNotFound) {
			metrics.PointsAwardsTotal.WithLabelValues("error", req.Source).Inc()
			return nil, storageErr("ledger.lookup", err)
		}
	}

	entry := &models.PointEntry{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		Points:      points,
		Action:      action.Tag,
		Source:      req.Source,
		Description: req.Description,
		CreatedAt:   time.Now().UTC(),
	}
	if len(req.Metadata) > 0 {
		raw, err := json.Marshal(req.Metadata)
		if err != nil {
			return nil, &ValidationError{Field: "metadata", Reason: "must be a JSON object", Err: err}
		}
		entry.Metadata = datatypes.JSON(raw)
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		entry.IdempotencyKey = &key
	}

	if req.UserType == "" {
		// callers usually omit it; keep whatever audience the user already has
		if req.UserType, err = s.totals.userType(ctx, req.UserID); err != nil {
			req.UserType = models.UserTypeRecruit
		}
	}

	inserted, newTotal, err := s.ledger.CreditEntry(ctx, entry, req.UserType)
	if err != nil {
		metrics.PointsAwardsTotal.WithLabelValues("error", req.Source).Inc()
		s.logger.Error("ledger credit failed", zap.String("user_id", req.UserID), zap.String("action", action.Tag), zap.Error(err))
		return nil, storageErr("ledger.credit", err)
	}
	if !inserted {
		// lost a race with a concurrent request carrying the same key
		existing, err := s.ledger.FindEntryByIdempotencyKey(ctx, req.UserID, req.IdempotencyKey)
		if err != nil {
			metrics.PointsAwardsTotal.WithLabelValues("error", req.Source).Inc()
			return nil, storageErr("ledger.lookup", err)
		}
		return s.duplicate(ctx, existing, req.Source)
	}
	s.totals.invalidate(ctx, req.UserID)
	oldTotal := newTotal - points

	metrics.PointsAwardsTotal.WithLabelValues("accepted", req.Source).Inc()
	metrics.PointsCreditedTotal.WithLabelValues(action.Tag).Add(float64(points))

	result := &AwardResult{EntryID: entry.ID, Accepted: true, Points: points, NewTotal: newTotal, BadgesAwarded: []string{}}

	created, err := s.achievements.Evaluate(ctx, Crossing{
		UserID:   req.UserID,
		UserType: req.UserType,
		EntryID:  entry.ID,
		OldTotal: oldTotal,
		NewTotal: newTotal,
	})
	if err != nil {
		metrics.DownstreamFailuresTotal.WithLabelValues("evaluate").Inc()
		s.logger.Error("achievement evaluation failed",
			zap.String("user_id", req.UserID), zap.String("entry_id", entry.ID), zap.Error(err))
	}
	for _, a := range created {
		result.BadgesAwarded = append(result.BadgesAwarded, a.BadgeID)
	}

	s.logger.Info("points awarded",
		zap.String("user_id", req.UserID),
		zap.String("action", action.Tag),
		zap.String("source", req.Source),
		zap.Int64("points", points),
		zap.Int64("total", newTotal),
		zap.Strings("badges", result.BadgesAwarded),
	)
	return result, nil
}

// Replay returns the recorded result for an idempotency key that was already
// credited, or nil when the key is new.
func (s *LedgerService) Replay(ctx context.Context, userID, key string) (*AwardResult, error) {
	userID, key = strings.TrimSpace(userID), strings.TrimSpace(key)
	if userID == "" || key == "" {
		return nil, nil
	}
	existing, err := s.ledger.FindEntryByIdempotencyKey(ctx, userID, key)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("ledger.lookup", err)
	}
	return s.duplicate(ctx, existing, DefaultSource)
}

// duplicate builds the response for a replayed idempotency key: the original entry,
// the total right after it, and the achievements that entry unlocked.
func (s *LedgerService) duplicate(ctx context.Context, entry *models.PointEntry, source string) (*AwardResult, error) {
	metrics.PointsAwardsTotal.WithLabelValues("duplicate", source).Inc()
	result := &AwardResult{
		EntryID:       entry.ID,
		Accepted:      false,
		Points:        entry.Points,
		NewTotal:      entry.TotalAfter,
		BadgesAwarded: []string{},
	}

	awards, err := s.achievements.awardsForEntry(ctx, entry.UserID, entry.ID)
	if err != nil {
		s.logger.Warn("duplicate award: badge lookup failed", zap.String("entry_id", entry.ID), zap.Error(err))
	}
	for _, a := range awards {
		result.BadgesAwarded = append(result.BadgesAwarded, a.BadgeID)
	}

	s.logger.Info("duplicate award ignored", zap.String("user_id", entry.UserID), zap.String("entry_id", entry.ID))
	return result, nil
}

func (s *LedgerService) normalize(req AwardRequest) (AwardRequest, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.Action = strings.TrimSpace(req.Action)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	req.Description = strings.TrimSpace(req.Description)
	req.Source = rewards.NormalizeTag(req.Source)
	if req.Source == "" {
		req.Source = DefaultSource
	}

	switch {
	case req.UserID == "":
		return req, invalid("userId", "is required")
	case len(req.UserID) > maxUserIDLength:
		return req, invalid("userId", "is too long")
	case req.Action == "":
		return req, invalid("action", "is required")
	case req.Points < 0:
		return req, invalid("points", "must be >= 0")
	case len(req.IdempotencyKey) > maxIdempotencyKeyLen:
		return req, invalid("idempotencyKey", "is too long")
	case len(req.Description) > maxDescriptionLength:
		return req, invalid("description", "is too long")
	case len(req.Source) > maxSourceLength:
		return req, invalid("source", "is too long")
	}

	if req.UserType != "" && !req.UserType.Valid() {
		return req, invalid("userType", "must be recruit, volunteer or admin")
	}
	return req, nil
}

// History lists a user's ledger entries, newest first.
func (s *LedgerService) History(ctx context.Context, userID string, limit int) ([]models.PointEntry, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, invalid("userId", "is required")
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	entries, err := s.ledger.ListEntries(ctx, userID, limit)
	if err != nil {
		return nil, storageErr("ledger.list", err)
	}
	return entries, nil
}
