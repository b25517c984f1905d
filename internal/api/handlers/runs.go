package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/mhuici/tamarindo-reports-sub000/internal/db"
	"github.com/mhuici/tamarindo-reports-sub000/internal/logging"
	"gorm.io/gorm"
)

// SyncRunsHandler lists a tenant's recent sync runs, newest first.
// Route: GET /api/tenants/{tenantID}/sync-runs?limit
func SyncRunsHandler(gdb *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		runs, err := db.ListSyncRuns(r.Context(), gdb, chi.URLParam(r, "tenantID"), limit)
		if err != nil {
			logging.Ctx(r.Context()).Error().Err(err).Msg("failed to list sync runs")
			writeError(w, http.StatusInternalServerError, "server_error", "failed to list sync runs")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
	}
}
