package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// WebSocket / session metrics
	WebSocketConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)

	BlocksActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blocks_active",
			Help: "Number of geolocation blocks with at least one subscriber",
		},
	)

	FramesHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frames_handled_total",
			Help: "Total number of inbound frames handled, by request category",
		},
		[]string{"category"},
	)

	// Domain metrics
	MessagesPosted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messages_posted_total",
			Help: "Total number of messages successfully posted",
		},
	)

	VotesApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "votes_applied_total",
			Help: "Total number of vote mutations applied",
		},
		[]string{"direction"},
	)

	NotificationsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_delivered_total",
			Help: "Total number of post notifications delivered to sessions",
		},
		[]string{"origin"},
	)

	NotificationsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notifications_suppressed_total",
			Help: "Total number of self-post notifications suppressed",
		},
	)

	// Database metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5},
		},
		[]string{"operation", "table"},
	)

	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_open",
			Help: "Number of open database connections",
		},
	)
)
