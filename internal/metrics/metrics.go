// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Account syncs by platform and outcome (success, failure).
	AccountSyncs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tamarindo_account_syncs_total",
			Help: "Account sync attempts by platform and outcome",
		},
		[]string{"platform", "outcome"},
	)

	SyncErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tamarindo_sync_errors_total",
			Help: "Classified sync failures by platform and error code",
		},
		[]string{"platform", "code"},
	)

	RecordsUpserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tamarindo_metric_records_upserted_total",
			Help: "Daily metric records written to the cache",
		},
		[]string{"platform", "mode"},
	)

	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tamarindo_token_refreshes_total",
			Help: "Access token refreshes by platform and outcome",
		},
		[]string{"platform", "outcome"},
	)

	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tamarindo_retry_attempts_total",
			Help: "Retries scheduled by the retry engine",
		},
		[]string{"policy", "platform"},
	)

	HealingSweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tamarindo_healing_sweep_duration_seconds",
			Help:    "Duration of full healing sweeps",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
	)

	HealingLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tamarindo_healing_last_success_timestamp_seconds",
			Help: "Unix time of the last sweep that finished without errors",
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tamarindo_circuit_breaker_state",
			Help: "Circuit breaker state per platform (0=closed, 1=half-open, 2=open)",
		},
		[]string{"platform"},
	)

	DataSourcesNeedingReauth = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tamarindo_data_sources_needs_reauth_total",
			Help: "Data sources moved to NEEDS_REAUTH",
		},
		[]string{"platform"},
	)
)

// ObserveSweep records a finished healing sweep.
func ObserveSweep(d time.Duration, success bool) {
	HealingSweepDuration.Observe(d.Seconds())
	if success {
		HealingLastSuccess.SetToCurrentTime()
	}
}

// Outcome maps an error to the outcome label.
func Outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
