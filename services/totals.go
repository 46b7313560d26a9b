package services

import (
	"context"
	"errors"

	"participation-points/metrics"
	"participation-points/models"
	"participation-points/repository"

	"go.uber.org/zap"
)

// TotalCache is an optional read-through cache in front of the total store.
type TotalCache interface {
	Get(ctx context.Context, userID string) (int64, bool)
	Set(ctx context.Context, userID string, total int64)
	Invalidate(ctx context.Context, userID string)
}

type noopCache struct{}

func (noopCache) Get(context.Context, string) (int64, bool) { return 0, false }
func (noopCache) Set(context.Context, string, int64)        {}
func (noopCache) Invalidate(context.Context, string)        {}

// TotalService is the single owner of per-user totals.
type TotalService struct {
	totals       repository.TotalStore
	ledger       repository.LedgerStore
	achievements *AchievementService
	cache        TotalCache
	logger       *zap.Logger
}

// NewTotalService wires the aggregator. cache may be nil.
func NewTotalService(totals repository.TotalStore, ledger repository.LedgerStore, achievements *AchievementService, cache TotalCache, logger *zap.Logger) *TotalService {
	if cache == nil {
		cache = noopCache{}
	}
	return &TotalService{
		totals:       totals,
		ledger:       ledger,
		achievements: achievements,
		cache:        cache,
		logger:       logger.Named("totals"),
	}
}

func (s *TotalService) invalidate(ctx context.Context, userID string) {
	s.cache.Invalidate(ctx, userID)
}

// GetTotal returns the user's total, 0 for users with no credits yet.
func (s *TotalService) GetTotal(ctx context.Context, userID string) (int64, error) {
	if total, ok := s.cache.Get(ctx, userID); ok {
		return total, nil
	}
	t, err := s.totals.GetTotal(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, storageErr("totals.get", err)
	}
	s.cache.Set(ctx, userID, t.Total)
	return t.Total, nil
}

func (s *TotalService) userType(ctx context.Context, userID string) (models.UserType, error) {
	t, err := s.totals.GetTotal(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return models.UserTypeRecruit, nil
	}
	if err != nil {
		return "", storageErr("totals.get", err)
	}
	return t.UserType, nil
}

// Reconcile recomputes the total from the ledger, overwrites the stored value and
// re-runs the evaluator over (0, total]. Awards already held are untouched. The
// store serializes it against concurrent credits for the same user.
func (s *TotalService) Reconcile(ctx context.Context, userID string) (int64, error) {
	userType, err := s.userType(ctx, userID)
	if err != nil {
		return 0, err
	}
	sum, err := s.totals.ReconcileTotal(ctx, userID, userType)
	if err != nil {
		return 0, storageErr("totals.reconcile", err)
	}
	// a credit may land right after the lock is released; drop rather than pin the value
	s.cache.Invalidate(ctx, userID)

	if s.achievements != nil {
		created, err := s.achievements.Evaluate(ctx, Crossing{UserID: userID, UserType: userType, OldTotal: 0, NewTotal: sum})
		if err != nil {
			metrics.DownstreamFailuresTotal.WithLabelValues("evaluate").Inc()
			s.logger.Error("reconcile evaluation failed", zap.String("user_id", userID), zap.Error(err))
		}
		if len(created) > 0 {
			s.logger.Info("reconcile awarded missing achievements", zap.String("user_id", userID), zap.Int("count", len(created)))
		}
	}
	return sum, nil
}

// ReconcileSummary is the outcome of a full sweep.
type ReconcileSummary struct {
	Users  int `json:"users"`
	Failed int `json:"failed"`
}

// ReconcileAll reconciles every user present in the ledger. One user's failure does not stop the sweep.
func (s *TotalService) ReconcileAll(ctx context.Context) (ReconcileSummary, error) {
	ids, err := s.ledger.ListLedgerUserIDs(ctx)
	if err != nil {
		return ReconcileSummary{}, storageErr("ledger.users", err)
	}
	var summary ReconcileSummary
	for _, id := range ids {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		summary.Users++
		if _, err := s.Reconcile(ctx, id); err != nil {
			summary.Failed++
			s.logger.Error("reconcile failed", zap.String("user_id", id), zap.Error(err))
		}
	}
	return summary, nil
}
