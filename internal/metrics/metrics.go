// Package metrics exposes the engine's prometheus counters/gauges, grounded
// on the teacher's promauto-based metrics registration (auth-service's
// app/metrics/metrics.go).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncengine_pushes_total",
			Help: "Total number of push attempts, by outcome",
		},
		[]string{"outcome"},
	)

	pullsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncengine_pulls_total",
			Help: "Total number of pull rounds, by result",
		},
		[]string{"result"},
	)

	retriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "syncengine_retries_total",
			Help: "Total number of sync cycle retries scheduled after a failure",
		},
	)

	conflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "syncengine_conflicts_total",
			Help: "Total number of conflict rows captured from rejected push operations",
		},
	)

	fingerprintBumpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncengine_fingerprint_bumps_total",
			Help: "Total number of fingerprint map stamps issued, by table",
		},
		[]string{"table"},
	)

	outboxPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "syncengine_outbox_pending",
			Help: "Current number of pending or in-flight outbox commits",
		},
	)

	transportMode = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "syncengine_transport_mode",
			Help: "Current transport mode (1 = active) by mode label",
		},
		[]string{"mode"},
	)

	syncCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "syncengine_sync_cycle_duration_seconds",
			Help:    "Duration of one full push+pull sync cycle",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// RecordPush increments the push outcome counter.
func RecordPush(outcome string) {
	pushesTotal.WithLabelValues(outcome).Inc()
}

// RecordPull increments the pull result counter ("ok" or "error").
func RecordPull(result string) {
	pullsTotal.WithLabelValues(result).Inc()
}

// RecordRetry increments the retry counter.
func RecordRetry() {
	retriesTotal.Inc()
}

// RecordConflict increments the conflict counter.
func RecordConflict() {
	conflictsTotal.Inc()
}

// RecordFingerprintBump increments the per-table fingerprint bump counter.
func RecordFingerprintBump(table string) {
	fingerprintBumpsTotal.WithLabelValues(table).Inc()
}

// SetOutboxPending sets the current pending-outbox gauge.
func SetOutboxPending(n int) {
	outboxPending.Set(float64(n))
}

// SetTransportMode marks mode active and every other known mode inactive.
func SetTransportMode(mode string, others ...string) {
	transportMode.WithLabelValues(mode).Set(1)
	for _, m := range others {
		if m != mode {
			transportMode.WithLabelValues(m).Set(0)
		}
	}
}

// ObserveSyncCycle records one sync cycle's duration in seconds.
func ObserveSyncCycle(seconds float64) {
	syncCycleDuration.Observe(seconds)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
