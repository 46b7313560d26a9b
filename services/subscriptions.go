package services

import (
	"context"
	"net/url"
	"strings"

	"participation-points/models"
	"participation-points/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SubscriptionRequest is a browser PushSubscription as posted by the client.
type SubscriptionRequest struct {
	UserID    string
	Endpoint  string
	P256dh    string
	Auth      string
	UserAgent string
}

type SubscriptionService struct {
	store  repository.SubscriptionStore
	logger *zap.Logger
}

func NewSubscriptionService(store repository.SubscriptionStore, logger *zap.Logger) *SubscriptionService {
	return &SubscriptionService{store: store, logger: logger.Named("subscriptions")}
}

// Register upserts by endpoint; re-subscribing from another account moves the endpoint.
func (s *SubscriptionService) Register(ctx context.Context, req SubscriptionRequest) error {
	req.UserID = strings.TrimSpace(req.UserID)
	req.Endpoint = strings.TrimSpace(req.Endpoint)
	switch {
	case req.UserID == "":
		return invalid("userId", "is required")
	case len(req.UserID) > maxUserIDLength:
		return invalid("userId", "is too long")
	case !validEndpoint(req.Endpoint):
		return invalid("endpoint", "must be an absolute http(s) URL")
	case req.P256dh == "" || req.Auth == "":
		return invalid("keys", "p256dh and auth are required")
	}

	sub := &models.PushSubscription{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Endpoint:  req.Endpoint,
		P256dh:    req.P256dh,
		Auth:      req.Auth,
		UserAgent: req.UserAgent,
	}
	if err := s.store.UpsertSubscription(ctx, sub); err != nil {
		return storageErr("subscriptions.upsert", err)
	}
	s.logger.Info("push subscription saved", zap.String("user_id", req.UserID), zap.String("host", hostOf(req.Endpoint)))
	return nil
}

// Unregister removes an endpoint. Removing an unknown endpoint returns ErrNotFound.
func (s *SubscriptionService) Unregister(ctx context.Context, endpoint string) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return invalid("endpoint", "is required")
	}
	ok, err := s.store.DeleteSubscription(ctx, endpoint)
	if err != nil {
		return storageErr("subscriptions.delete", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (s *SubscriptionService) ListForUser(ctx context.Context, userID string) ([]models.PushSubscription, error) {
	subs, err := s.store.ListSubscriptions(ctx, userID)
	if err != nil {
		return nil, storageErr("subscriptions.list", err)
	}
	return subs, nil
}

func validEndpoint(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "https" || u.Scheme == "http") && u.Host != ""
}

func hostOf(raw string) string {
	if u, err := url.Parse(raw); err == nil {
		return u.Host
	}
	return ""
}
