package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/mhuici/tamarindo-reports-sub000/internal/logging"
	"github.com/mhuici/tamarindo-reports-sub000/internal/metricstore"
)

// ClientMetricsHandler returns the aggregate of a client's linked accounts.
// Route: GET /api/tenants/{tenantID}/clients/{clientID}/metrics?start&end&force
func ClientMetricsHandler(agg *metricstore.Aggregator, now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		rng, err := parseRange(q.Get("start"), q.Get("end"), now())
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		res, err := agg.GetMetricsForClient(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "clientID"), rng, parseBool(q.Get("force")))
		if err != nil {
			writeAggregateError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

type widgetsRequest struct {
	Start   string                   `json:"start"`
	End     string                   `json:"end"`
	Force   bool                     `json:"force"`
	Widgets []metricstore.WidgetSpec `json:"widgets" validate:"required,min=1,max=50,dive"`
}

// WidgetsHandler projects a client's aggregate into report widgets.
// Route: POST /api/tenants/{tenantID}/clients/{clientID}/widgets
func WidgetsHandler(agg *metricstore.Aggregator, validate *validator.Validate, now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body widgetsRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
			return
		}
		if err := validate.Struct(body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		rng, err := parseRange(body.Start, body.End, now())
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		res, err := agg.GetMetricsForClient(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "clientID"), rng, body.Force)
		if err != nil {
			writeAggregateError(w, r, err)
			return
		}
		widgets := make([]metricstore.WidgetData, 0, len(body.Widgets))
		for _, spec := range body.Widgets {
			wd, err := metricstore.TransformToWidgetData(res, spec)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_widget", err.Error())
				return
			}
			widgets = append(widgets, wd)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"widgets":    widgets,
			"syncErrors": res.SyncErrors,
		})
	}
}

func writeAggregateError(w http.ResponseWriter, r *http.Request, err error) {
	if metricstore.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	logging.Ctx(r.Context()).Error().Err(err).Msg("aggregation failed")
	writeError(w, http.StatusInternalServerError, "server_error", "failed to load metrics")
}
