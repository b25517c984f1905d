package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mhuici/tamarindo-reports-sub000/internal/logging"
	"github.com/mhuici/tamarindo-reports-sub000/internal/metricstore"
	"github.com/mhuici/tamarindo-reports-sub000/internal/syncer"
)

type syncRequest struct {
	PlatformAccountID string `json:"platform_account_id"`
	Start             string `json:"start"`
	End               string `json:"end"`
}

// SyncHandler runs an on-demand sync of one data source.
// Route: POST /api/tenants/{tenantID}/data-sources/{id}/sync
//
// A run where every account needs re-authorization answers 401 with
// reconnect_required so the UI can offer to reconnect instead of retry.
func SyncHandler(orch *syncer.Orchestrator, now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body syncRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
			return
		}
		rng, err := parseRange(body.Start, body.End, now())
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		out, err := orch.SyncDataSource(r.Context(), syncer.Request{
			TenantID:     chi.URLParam(r, "tenantID"),
			DataSourceID: chi.URLParam(r, "id"),
			AccountID:    body.PlatformAccountID,
			Range:        rng,
		})
		switch {
		case metricstore.IsNotFound(err):
			writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		case err != nil:
			logging.Ctx(r.Context()).Error().Err(err).Msg("sync failed")
			writeError(w, http.StatusInternalServerError, "sync_error", "sync failed")
			return
		}

		if out.ReconnectRequired {
			msg := "The platform connection expired or was revoked. Reconnect the account to resume syncing."
			if len(out.Accounts) > 0 && out.Accounts[0].UserMessage != "" {
				msg = out.Accounts[0].UserMessage
			}
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"reconnect_required": true,
				"error":              msg,
				"result":             out,
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": !out.HasErrors(),
			"result":  out,
		})
	}
}
