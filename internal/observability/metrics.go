package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors are registered on the default registry by promauto.
var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookings_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bookings_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	WorkflowOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookings_workflow_outcomes_total",
			Help: "Booking workflow runs by final state",
		},
		[]string{"state"},
	)

	GatewayDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bookings_gateway_request_seconds",
			Help:    "Duration of payment gateway calls",
			Buckets: prometheus.DefBuckets,
		},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bookings_outbox_lag_seconds",
			Help: "Age of the oldest message published in the last outbox batch",
		},
	)

	RabbitPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bookings_rabbit_publish_retries_total",
			Help: "Total rabbit publish retries",
		},
	)

	ConsumerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookings_consumer_failures_total",
			Help: "Deliveries dead-lettered after exhausting retries",
		},
		[]string{"queue"},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bookings_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)
