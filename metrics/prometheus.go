package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds every collector exported on /metrics.
var Registry = prometheus.NewRegistry()

var HTTPRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests received",
	},
	[]string{"route", "status", "method"},
)

var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"route", "method"},
)

var HTTPRateLimitRejectionsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "http_rate_limit_rejections_total",
		Help: "Total number of award requests rejected due to rate limiting",
	},
)

var PointsAwardsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "points_awards_total",
		Help: "Award calls by outcome (accepted, duplicate, invalid, error)",
	},
	[]string{"outcome", "source"},
)

var PointsCreditedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "points_credited_total",
		Help: "Points appended to the ledger",
	},
	[]string{"action"},
)

var DownstreamFailuresTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "points_downstream_failures_total",
		Help: "Failures after the ledger commit that did not fail the award",
	},
	[]string{"stage"},
)

var AchievementsAwardedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "achievements_awarded_total",
		Help: "Badges and NFT tiers newly awarded",
	},
	[]string{"kind"},
)

var OutboxEnqueuedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "notification_outbox_enqueued_total",
		Help: "Notification queue items created",
	},
)

var OutboxClaimedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "notification_outbox_claimed_total",
		Help: "Notification queue items claimed by delivery workers",
	},
)

var NotificationsAttemptedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "notifications_attempted_total",
		Help: "Total number of notification deliveries attempted",
	},
	[]string{"transport", "status"},
)

var NotificationSendDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "notification_send_duration_seconds",
		Help:    "Time taken to deliver one queue item",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"transport"},
)

var KafkaPublishFailureTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "kafka_publish_failure_total",
		Help: "Total number of failed Kafka publishes",
	},
	[]string{"topic"},
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestsTotal,
		HTTPRequestDuration,
		HTTPRateLimitRejectionsTotal,
		PointsAwardsTotal,
		PointsCreditedTotal,
		DownstreamFailuresTotal,
		AchievementsAwardedTotal,
		OutboxEnqueuedTotal,
		OutboxClaimedTotal,
		NotificationsAttemptedTotal,
		NotificationSendDuration,
		KafkaPublishFailureTotal,
	)
}
