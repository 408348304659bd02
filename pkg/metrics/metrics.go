// Package metrics declares the Prometheus collectors exported at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kabunote"

var (
	// CacheLookups counts typed cache reads by namespace and result (hit, miss, corrupt).
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_lookups_total",
		Help:      "Cache lookups by namespace and result.",
	}, []string{"namespace", "result"})

	// Admissions counts quota decisions. window is empty for allowed requests.
	Admissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "admission_decisions_total",
		Help:      "Quota admission decisions by outcome and denying window.",
	}, []string{"decision", "window"})

	// ProviderCalls counts explanation generations by source and outcome.
	ProviderCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_calls_total",
		Help:      "Explanation generations by source and outcome.",
	}, []string{"source", "outcome"})

	// TokensRecorded counts tokens charged to the ledger.
	TokensRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tokens_recorded_total",
		Help:      "Tokens recorded against the daily and minute quotas.",
	})

	// CleanupDeleted counts rows removed by cleanup runs, per table.
	CleanupDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cleanup_deleted_total",
		Help:      "Rows deleted by expiry cleanup.",
	}, []string{"table"})

	// PriceFetches counts price series loads by source (market, synthetic).
	PriceFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "price_fetches_total",
		Help:      "Price series produced on cache miss, by source.",
	}, []string{"source"})

	// HTTPRequests observes request latency by route and status.
	HTTPRequests = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by method, route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
