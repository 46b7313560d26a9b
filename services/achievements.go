package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"participation-points/metrics"
	"participation-points/models"
	"participation-points/repository"
	"participation-points/rewards"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Crossing describes one change of a user's total.
type Crossing struct {
	UserID   string
	UserType models.UserType
	EntryID  string // empty when re-evaluating from Reconcile
	OldTotal int64
	NewTotal int64
}

// AchievementService awards badges and NFT tiers when a total crosses their thresholds.
// Awards are insert-once, so evaluating the same crossing twice is harmless.
type AchievementService struct {
	awards  repository.AwardStore
	catalog *rewards.Catalog
	outbox  *OutboxService
	logger  *zap.Logger
}

func NewAchievementService(awards repository.AwardStore, catalog *rewards.Catalog, outbox *OutboxService, logger *zap.Logger) *AchievementService {
	return &AchievementService{
		awards:  awards,
		catalog: catalog,
		outbox:  outbox,
		logger:  logger.Named("achievements"),
	}
}

// Evaluate inserts every crossed milestone and enqueues one notification per new award.
// It returns the awards created by this call; storage failures for individual
// milestones are joined into err while the remaining milestones are still tried.
func (s *AchievementService) Evaluate(ctx context.Context, c Crossing) ([]models.BadgeAward, error) {
	milestones := s.catalog.Crossed(c.UserType, c.OldTotal, c.NewTotal)
	if len(milestones) == 0 {
		return nil, nil
	}

	var (
		created []models.BadgeAward
		errs    []error
	)
	for _, m := range milestones {
		award := models.BadgeAward{
			ID:            uuid.NewString(),
			UserID:        c.UserID,
			BadgeID:       m.ID,
			Kind:          m.Kind,
			Name:          m.Name,
			Tier:          m.Tier,
			Threshold:     m.Threshold.Threshold,
			PointsAtAward: c.NewTotal,
			EarnedAt:      time.Now().UTC(),
		}
		if c.EntryID != "" {
			entryID := c.EntryID
			award.EntryID = &entryID
		}

		inserted, err := s.awards.InsertAwardIfAbsent(ctx, &award)
		if err != nil {
			errs = append(errs, storageErr("awards.insert "+m.ID, err))
			continue
		}
		if !inserted {
			continue
		}

		created = append(created, award)
		metrics.AchievementsAwardedTotal.WithLabelValues(string(award.Kind)).Inc()
		s.logger.Info("achievement awarded",
			zap.String("user_id", c.UserID),
			zap.String("badge_id", award.BadgeID),
			zap.String("kind", string(award.Kind)),
			zap.Int64("points", c.NewTotal),
		)

		if _, err := s.outbox.Enqueue(ctx, c.UserID, s.payloadFor(award), c.UserID); err != nil {
			metrics.DownstreamFailuresTotal.WithLabelValues("enqueue").Inc()
			s.logger.Error("failed to enqueue award notification",
				zap.String("user_id", c.UserID), zap.String("badge_id", award.BadgeID), zap.Error(err))
		}
	}
	return created, errors.Join(errs...)
}

// ListAwards returns everything a user has earned, lowest threshold first.
func (s *AchievementService) ListAwards(ctx context.Context, userID string) ([]models.BadgeAward, error) {
	awards, err := s.awards.ListAwards(ctx, userID)
	if err != nil {
		return nil, storageErr("awards.list", err)
	}
	return awards, nil
}

func (s *AchievementService) awardsForEntry(ctx context.Context, userID, entryID string) ([]models.BadgeAward, error) {
	awards, err := s.awards.ListAwardsByEntry(ctx, userID, entryID)
	if err != nil {
		return nil, storageErr("awards.by_entry", err)
	}
	return awards, nil
}

func (s *AchievementService) payloadFor(a models.BadgeAward) NotificationPayload {
	data := map[string]interface{}{
		"badge_id":  a.BadgeID,
		"kind":      a.Kind,
		"tier":      a.Tier,
		"threshold": a.Threshold,
		"points":    a.PointsAtAward,
	}
	if a.Kind == models.AwardKindNFT {
		tier := tierName(a.Tier)
		return NotificationPayload{
			Title: fmt.Sprintf("💎 %s NFT tier unlocked", tier),
			Body:  fmt.Sprintf("You passed %d points and can now claim the %s NFT.", a.Threshold, tier),
			Tag:   a.BadgeID,
			Data:  data,
		}
	}
	return NotificationPayload{
		Title: "🏅 Badge earned: " + a.Name,
		Body:  fmt.Sprintf("You reached %d participation points. Keep it up!", a.Threshold),
		Tag:   a.BadgeID,
		Data:  data,
	}
}

// tierName renders "gold" as "Gold". Casers are stateful, so one is built per call.
func tierName(tier string) string {
	return cases.Title(language.English).String(tier)
}
