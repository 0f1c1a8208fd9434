// Package metrics exposes Prometheus collectors for the board crawler.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	itemsIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boardcrawler_items_ingested_total",
			Help: "Total number of board posts ingested, labeled by board.",
		},
		[]string{"board"},
	)

	itemsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boardcrawler_items_skipped_total",
			Help: "Total number of listing items skipped, labeled by board and reason.",
		},
		[]string{"board", "reason"},
	)

	pagesAdvancedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boardcrawler_pages_advanced_total",
			Help: "Total number of listing pages advanced, labeled by board.",
		},
		[]string{"board"},
	)

	recoveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boardcrawler_recoveries_total",
			Help: "Total number of recovery cycles entered, labeled by operation.",
		},
		[]string{"operation"},
	)

	sessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boardcrawler_sessions_total",
			Help: "Total number of crawl sessions, labeled by board and outcome.",
		},
		[]string{"board", "outcome"},
	)

	backoffSleepSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "boardcrawler_backoff_sleep_seconds",
			Help:    "Histogram of scheduled backoff sleeps, labeled by tier.",
			Buckets: []float64{1, 5, 15, 60, 180, 480, 720},
		},
		[]string{"tier"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveItemIngested increments the per-board ingestion counter.
func ObserveItemIngested(board string) {
	itemsIngestedTotal.WithLabelValues(board).Inc()
}

// ObserveItemSkipped increments the skip counter for the given reason.
func ObserveItemSkipped(board, reason string) {
	itemsSkippedTotal.WithLabelValues(board, reason).Inc()
}

// ObservePageAdvanced increments the page-advance counter.
func ObservePageAdvanced(board string) {
	pagesAdvancedTotal.WithLabelValues(board).Inc()
}

// ObserveRecovery increments the recovery counter for the given operation.
func ObserveRecovery(operation string) {
	recoveriesTotal.WithLabelValues(operation).Inc()
}

// ObserveSession increments the session counter for the given outcome.
func ObserveSession(board, outcome string) {
	sessionsTotal.WithLabelValues(board, outcome).Inc()
}

// ObserveBackoffSleep records a scheduled sleep duration for the tier.
func ObserveBackoffSleep(tier string, d time.Duration) {
	backoffSleepSeconds.WithLabelValues(tier).Observe(d.Seconds())
}
