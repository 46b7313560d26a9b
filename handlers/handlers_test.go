package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"participation-points/middleware"
	"participation-points/models"
	"participation-points/repository/memory"
	"participation-points/rewards"
	"participation-points/services"
	"participation-points/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "cron-secret"

type testApp struct {
	app    *fiber.App
	store  *memory.Store
	outbox *services.OutboxService
	subs   *services.SubscriptionService
}

func newTestApp(t *testing.T, limiter *middleware.KeyedLimiter, pushClient *http.Client) *testApp {
	t.Helper()
	catalog, err := rewards.Default()
	require.NoError(t, err)

	logger := zap.NewNop()
	store := memory.New()
	outbox := services.NewOutboxService(store, logger)
	achievements := services.NewAchievementService(store, catalog, outbox, logger)
	totals := services.NewTotalService(store, store, achievements, nil, logger)
	ledger := services.NewLedgerService(store, catalog, totals, achievements, logger)
	subs := services.NewSubscriptionService(store, logger)
	if pushClient == nil {
		pushClient = http.DefaultClient
	}
	worker := workers.NewDeliveryWorker(outbox, workers.NewPushSender(subs, pushClient, 60, logger), 50, time.Second, logger)

	app := fiber.New()
	SetupPointsRoutes(app, PointsDeps{
		Ledger:       ledger,
		Totals:       totals,
		Achievements: achievements,
		AwardLimiter: limiter,
	})
	SetupNotificationRoutes(app, NotificationDeps{
		Worker:        worker,
		Outbox:        outbox,
		Subscriptions: subs,
		CronAuth:      middleware.BearerAuth(testSecret, logger),
	})
	return &testApp{app: app, store: store, outbox: outbox, subs: subs}
}

func (a *testApp) do(t *testing.T, method, path, body string, headers map[string]string) (int, map[string]interface{}) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func TestAwardEndpoint(t *testing.T) {
	a := newTestApp(t, nil, nil)

	code, body := a.do(t, "POST", "/points/award", `{"userId":"u1","points":990,"action":"admin_adjustment"}`, nil)
	require.Equal(t, fiber.StatusCreated, code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(990), body["newTotal"])

	code, body = a.do(t, "POST", "/points/award", `{"userId":"u1","points":15,"action":"practice_test"}`, nil)
	require.Equal(t, fiber.StatusCreated, code)
	assert.Equal(t, float64(1005), body["newTotal"])
	assert.Equal(t, []interface{}{"bronze-recruit"}, body["badgesAwarded"])
	assert.Equal(t, false, body["duplicate"])

	code, body = a.do(t, "GET", "/points/u1", "", nil)
	require.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, float64(1005), body["total"])

	code, body = a.do(t, "GET", "/points/u1/badges", "", nil)
	require.Equal(t, fiber.StatusOK, code)
	assert.Len(t, body["awards"], 1)

	code, body = a.do(t, "GET", "/points/u1/history?limit=1", "", nil)
	require.Equal(t, fiber.StatusOK, code)
	assert.Len(t, body["entries"], 1)
}

func TestAwardEndpointValidation(t *testing.T) {
	a := newTestApp(t, nil, nil)

	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"missing userId", `{"points":10,"action":"chat_participation"}`},
		{"missing points", `{"userId":"u1","action":"chat_participation"}`},
		{"missing action", `{"userId":"u1","points":10}`},
		{"unknown action", `{"userId":"u1","points":10,"action":"levitate"}`},
		{"negative points", `{"userId":"u1","points":-1,"action":"trivia_completion"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := a.do(t, "POST", "/points/award", tt.body, nil)
			assert.Equal(t, fiber.StatusBadRequest, code)
			assert.Equal(t, false, body["success"])
		})
	}

	sum, err := a.store.SumPoints(context.Background(), "u1")
	require.NoError(t, err)
	assert.Zero(t, sum)
}

func TestAwardEndpointIdempotencyHeader(t *testing.T) {
	a := newTestApp(t, nil, nil)
	hdr := map[string]string{HeaderIdempotencyKey: "evt-1"}

	code, first := a.do(t, "POST", "/points/award", `{"userId":"u1","points":10,"action":"chat_participation"}`, hdr)
	require.Equal(t, fiber.StatusCreated, code)
	code, second := a.do(t, "POST", "/points/award", `{"userId":"u1","points":10,"action":"chat_participation"}`, hdr)
	require.Equal(t, fiber.StatusOK, code)

	assert.Equal(t, first["entryId"], second["entryId"])
	assert.Equal(t, true, second["duplicate"])
	assert.Equal(t, float64(10), second["newTotal"])
}

func TestAwardEndpointRateLimited(t *testing.T) {
	a := newTestApp(t, middleware.NewKeyedLimiter(2), nil)

	code, _ := a.do(t, "POST", "/points/award", `{"userId":"u1","points":5,"action":"daily_login"}`, nil)
	require.Equal(t, fiber.StatusCreated, code)
	code, _ = a.do(t, "POST", "/points/award", `{"userId":"u1","points":5,"action":"daily_login"}`, nil)
	assert.Equal(t, fiber.StatusTooManyRequests, code)
	code, _ = a.do(t, "POST", "/points/award", `{"userId":"u2","points":5,"action":"daily_login"}`, nil)
	assert.Equal(t, fiber.StatusCreated, code)
}

func TestAwardReplayIsNotRateLimited(t *testing.T) {
	a := newTestApp(t, middleware.NewKeyedLimiter(2), nil)
	payload := `{"userId":"u1","points":5,"action":"daily_login","idempotencyKey":"login-2026-10-18"}`

	code, first := a.do(t, "POST", "/points/award", payload, nil)
	require.Equal(t, fiber.StatusCreated, code)

	code, again := a.do(t, "POST", "/points/award", payload, nil)
	require.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, true, again["duplicate"])
	assert.Equal(t, first["entryId"], again["entryId"])

	code, _ = a.do(t, "POST", "/points/award", `{"userId":"u1","points":5,"action":"daily_login","idempotencyKey":"fresh"}`, nil)
	assert.Equal(t, fiber.StatusTooManyRequests, code, "a new key still spends a token")
}

func TestAwardReplayReportsOriginalTotal(t *testing.T) {
	a := newTestApp(t, nil, nil)
	hdr := map[string]string{HeaderIdempotencyKey: "evt-7"}

	code, first := a.do(t, "POST", "/points/award", `{"userId":"u1","points":25,"action":"profile_completion"}`, hdr)
	require.Equal(t, fiber.StatusCreated, code)
	code, _ = a.do(t, "POST", "/points/award", `{"userId":"u1","points":50,"action":"event_attendance"}`, nil)
	require.Equal(t, fiber.StatusCreated, code)

	code, replay := a.do(t, "POST", "/points/award", `{"userId":"u1","points":25,"action":"profile_completion"}`, hdr)
	require.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, first["newTotal"], replay["newTotal"])
	assert.Equal(t, float64(25), replay["newTotal"])
}

func TestActionsEndpoint(t *testing.T) {
	a := newTestApp(t, nil, nil)
	code, body := a.do(t, "GET", "/points/actions", "", nil)
	require.Equal(t, fiber.StatusOK, code)
	assert.NotEmpty(t, body["version"])
	assert.NotEmpty(t, body["actions"])
}

func TestReconcileEndpoint(t *testing.T) {
	a := newTestApp(t, nil, nil)
	a.do(t, "POST", "/points/award", `{"userId":"u1","points":25,"action":"profile_completion"}`, nil)

	code, body := a.do(t, "POST", "/points/u1/reconcile", "", nil)
	require.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, float64(25), body["total"])
}

func TestProcessQueueRequiresSecret(t *testing.T) {
	a := newTestApp(t, nil, nil)

	code, _ := a.do(t, "POST", "/notifications/queue/process", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, code)
	code, _ = a.do(t, "POST", "/notifications/queue/process", "", map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, fiber.StatusUnauthorized, code)
}

func TestProcessQueueEndToEnd(t *testing.T) {
	push := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/down") {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer push.Close()

	a := newTestApp(t, nil, push.Client())
	auth := map[string]string{"Authorization": "Bearer " + testSecret}

	code, _ := a.do(t, "POST", "/notifications/subscriptions",
		`{"userId":"u1","endpoint":"`+push.URL+`/up","keys":{"p256dh":"k","auth":"a"}}`, nil)
	require.Equal(t, fiber.StatusOK, code)
	code, _ = a.do(t, "POST", "/notifications/subscriptions",
		`{"userId":"u2","endpoint":"`+push.URL+`/down","keys":{"p256dh":"k","auth":"a"}}`, nil)
	require.Equal(t, fiber.StatusOK, code)

	for _, u := range []string{"u1", "u2"} {
		a.do(t, "POST", "/points/award", `{"userId":"`+u+`","points":1000,"action":"admin_adjustment"}`, nil)
	}

	code, body := a.do(t, "POST", "/notifications/queue/process", "", auth)
	require.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, float64(2), body["processed"])
	assert.Equal(t, float64(1), body["successful"])
	assert.Equal(t, float64(1), body["failed"])

	code, stats := a.do(t, "GET", "/notifications/queue/stats", "", auth)
	require.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, float64(1), stats[string(models.QueueStatusFailed)])

	failed, err := a.outbox.Claim(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, failed, "failed items are not picked up again")
}

func TestRequeueEndpoint(t *testing.T) {
	a := newTestApp(t, nil, nil)
	auth := map[string]string{"Authorization": "Bearer " + testSecret}

	code, _ := a.do(t, "POST", "/notifications/queue/missing/requeue", "", auth)
	assert.Equal(t, fiber.StatusNotFound, code)

	id, err := a.outbox.Enqueue(context.Background(), "u1", services.NotificationPayload{Title: "t"}, "")
	require.NoError(t, err)
	code, _ = a.do(t, "POST", "/notifications/queue/"+id+"/requeue", "", auth)
	assert.Equal(t, fiber.StatusConflict, code, "pending items cannot be requeued")

	// no subscription for u1, so delivery fails
	code, _ = a.do(t, "POST", "/notifications/queue/process", "", auth)
	require.Equal(t, fiber.StatusOK, code)

	code, _ = a.do(t, "POST", "/notifications/queue/"+id+"/requeue", "", auth)
	assert.Equal(t, fiber.StatusOK, code)
	item, err := a.store.GetItem(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusPending, item.Status)
}

func TestSubscriptionEndpoints(t *testing.T) {
	a := newTestApp(t, nil, nil)

	code, body := a.do(t, "POST", "/notifications/subscriptions", `{"userId":"u1","endpoint":"not a url","keys":{"p256dh":"k","auth":"a"}}`, nil)
	assert.Equal(t, fiber.StatusBadRequest, code)
	assert.Equal(t, "endpoint", body["field"])

	sub := `{"userId":"u1","endpoint":"https://push.example.com/abc","keys":{"p256dh":"k","auth":"a"}}`
	code, _ = a.do(t, "POST", "/notifications/subscriptions", sub, nil)
	require.Equal(t, fiber.StatusOK, code)
	code, _ = a.do(t, "POST", "/notifications/subscriptions", strings.Replace(sub, `"k"`, `"k2"`, 1), nil)
	require.Equal(t, fiber.StatusOK, code)

	subs, err := a.subs.ListForUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "k2", subs[0].P256dh)

	code, _ = a.do(t, "DELETE", "/notifications/subscriptions", `{"endpoint":"https://push.example.com/abc"}`, nil)
	assert.Equal(t, fiber.StatusOK, code)
	code, _ = a.do(t, "DELETE", "/notifications/subscriptions", `{"endpoint":"https://push.example.com/abc"}`, nil)
	assert.Equal(t, fiber.StatusNotFound, code)
}
