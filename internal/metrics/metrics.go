// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Billing
var (
	// BillWrites counts committed bill writes by operation.
	BillWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_bill_writes_total",
			Help: "Committed bill writes.",
		},
		[]string{"operation"},
	)

	BillWriteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "billing_bill_write_duration_seconds",
			Help:    "Latency of bill write transactions.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// RateMisses counts lookups that found no applicable rate.
	RateMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_rate_misses_total",
			Help: "Rate lookups that resolved to no row.",
		},
		[]string{"kind"},
	)

	SurchargeLines = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_surcharge_lines_total",
			Help: "Surcharge lines allocated.",
		},
		[]string{"mode"},
	)

	RenderedPages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "billing_rendered_pages_total",
			Help: "Bill pages rendered.",
		},
	)
)

// Events
var (
	EventsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billing_events_accepted_total",
		Help: "Bill events handed to the Kafka producer.",
	})
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billing_events_dropped_total",
		Help: "Bill events dropped because a queue was full.",
	})
	KafkaErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billing_kafka_produce_errors_total",
		Help: "Produce errors returned by Kafka.",
	})
	KafkaSuccesses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billing_kafka_produce_successes_total",
		Help: "Messages acknowledged by Kafka.",
	})
	RetriesAttempted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billing_event_retries_total",
		Help: "Messages re-sent by retry workers.",
	})
	DLQMessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billing_event_dlq_total",
		Help: "Messages sent to the dead-letter topic.",
	})
)

// HTTP
var (
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_http_requests_total",
			Help: "HTTP requests by route and status.",
		},
		[]string{"method", "route", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "billing_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)
