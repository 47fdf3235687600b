// README: Prometheus collectors for dispatch, presence, feed and HTTP; served from /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ridecore"

var (
	AcceptOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "order_accept_total", Help: "Accept attempts by outcome"},
		[]string{"outcome"},
	)
	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "order_transitions_total", Help: "Committed order status transitions"},
		[]string{"from", "to"},
	)
	HeartbeatFailures = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "heartbeat_failures_total", Help: "Failed driver heartbeat ticks"},
	)
	PresenceExpired = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "presence_expired_total", Help: "Online drivers flipped offline by TTL"},
	)
	FeedNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "feed_notifications_total", Help: "Change-feed notifications"},
		[]string{"topic", "direction"},
	)
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{Namespace: namespace, Name: "sessions_active", Help: "Live dispatch sessions"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)
