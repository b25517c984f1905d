package handlers

import (
	"net/http"

	"github.com/mhuici/tamarindo-reports-sub000/internal/healing"
)

// HealingHandler runs a full healing sweep for cron callers.
// Route: POST /api/cron/healing
func HealingHandler(job healing.Healer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := job.HealAll(r.Context())
		writeJSON(w, http.StatusOK, map[string]any{
			"success":             res.Success,
			"tenantsProcessed":    res.TenantsProcessed,
			"totalMetricsUpdated": res.TotalMetricsUpdated,
			"errorsCount":         res.ErrorsCount,
			"durationMs":          res.DurationMs,
		})
	}
}

// HealthHandler reports liveness.
func HealthHandler(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version})
	}
}
