package workers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"participation-points/models"

	"go.uber.org/zap"
)

var ErrNoSubscription = errors.New("no push subscription for user")

// SubscriptionSource resolves where a user's notifications go.
type SubscriptionSource interface {
	ListForUser(ctx context.Context, userID string) ([]models.PushSubscription, error)
	Unregister(ctx context.Context, endpoint string) error
}

// DeliveryError is a failed POST to one push endpoint.
type DeliveryError struct {
	Endpoint   string
	StatusCode int
	Body       string
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("push endpoint %s returned HTTP %d: %s", e.Endpoint, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("push endpoint %s: %v", e.Endpoint, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Gone reports whether the push service says the subscription no longer exists.
func (e *DeliveryError) Gone() bool {
	return e.StatusCode == http.StatusNotFound || e.StatusCode == http.StatusGone
}

// PushSender POSTs the JSON payload to every endpoint the user registered.
// An item counts as delivered when at least one endpoint accepts it.
type PushSender struct {
	subs       SubscriptionSource
	httpClient *http.Client
	ttl        int
	logger     *zap.Logger
}

func NewPushSender(subs SubscriptionSource, client *http.Client, ttlSeconds int, logger *zap.Logger) *PushSender {
	return &PushSender{
		subs:       subs,
		httpClient: client,
		ttl:        ttlSeconds,
		logger:     logger.Named("push"),
	}
}

func (p *PushSender) Name() string { return "push" }

func (p *PushSender) Send(ctx context.Context, item models.NotificationQueueItem) error {
	ref := item.SubscriptionRef
	if ref == "" {
		ref = item.UserID
	}
	subs, err := p.subs.ListForUser(ctx, ref)
	if err != nil {
		return fmt.Errorf("failed to load subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return ErrNoSubscription
	}

	var errs []error
	delivered := 0
	for _, sub := range subs {
		err := p.post(ctx, sub.Endpoint, item.Payload)
		if err == nil {
			delivered++
			continue
		}
		errs = append(errs, err)

		var derr *DeliveryError
		if errors.As(err, &derr) && derr.Gone() {
			if uerr := p.subs.Unregister(context.WithoutCancel(ctx), sub.Endpoint); uerr != nil {
				p.logger.Warn("failed to drop expired subscription", zap.String("endpoint_host", derr.Endpoint), zap.Error(uerr))
			} else {
				p.logger.Info("dropped expired subscription", zap.String("user_id", sub.UserID), zap.String("endpoint_host", derr.Endpoint))
			}
		}
	}
	if delivered > 0 {
		return nil
	}
	return errors.Join(errs...)
}

func (p *PushSender) post(ctx context.Context, endpoint string, payload []byte) error {
	host := endpoint
	if u, err := url.Parse(endpoint); err == nil {
		host = u.Host
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return &DeliveryError{Endpoint: host, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("TTL", strconv.Itoa(p.ttl))
	req.Header.Set("Urgency", "normal")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return &DeliveryError{Endpoint: host, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &DeliveryError{Endpoint: host, StatusCode: resp.StatusCode, Body: cleanBody(body)}
}

// cleanBody makes a truncated response body safe to store: the 512 byte cut may
// land inside a rune, and Postgres text rejects NUL.
func cleanBody(body []byte) string {
	body = bytes.ReplaceAll(bytes.TrimSpace(body), []byte{0}, nil)
	return strings.ToValidUTF8(string(body), "")
}
