// Package metrics declares the Prometheus collectors shared across packages.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheRequests counts cache lookups by store and result (hit|miss|expired|error).
	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopkeep_cache_requests_total",
			Help: "Total number of local cache lookups",
		},
		[]string{"store", "result"},
	)

	// CacheWrites counts cache writes by store and result (ok|error).
	CacheWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopkeep_cache_writes_total",
			Help: "Total number of local cache writes",
		},
		[]string{"store", "result"},
	)

	// CacheResets counts storage resets by result (ok|error).
	CacheResets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopkeep_cache_resets_total",
			Help: "Total number of cache storage resets",
		},
		[]string{"result"},
	)

	// FallbackAttempts counts transport attempts by transport name and result (ok|failed).
	FallbackAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopkeep_fallback_attempts_total",
			Help: "Total number of transport attempts made by the fallback requester",
		},
		[]string{"transport", "result"},
	)

	// TransportLatency measures single transport attempts.
	TransportLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shopkeep_transport_latency_seconds",
			Help:    "Latency of single transport attempts",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"transport"},
	)

	// RetryOutcomes counts retried operations by outcome (success|terminal|exhausted|canceled).
	RetryOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopkeep_retry_outcomes_total",
			Help: "Total number of retried operations by final outcome",
		},
		[]string{"outcome"},
	)

	// MessagesSent counts messaging sends by status (sent|failed|rejected).
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopkeep_messages_total",
			Help: "Total number of notification sends by final status",
		},
		[]string{"status"},
	)
)
