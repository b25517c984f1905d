// Package api assembles the HTTP routes of the service.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/mhuici/tamarindo-reports-sub000/internal/api/handlers"
	"github.com/mhuici/tamarindo-reports-sub000/internal/api/middleware"
	"github.com/mhuici/tamarindo-reports-sub000/internal/auth/oauthflow"
	"github.com/mhuici/tamarindo-reports-sub000/internal/healing"
	"github.com/mhuici/tamarindo-reports-sub000/internal/metricstore"
	"github.com/mhuici/tamarindo-reports-sub000/internal/syncer"
	"github.com/mhuici/tamarindo-reports-sub000/internal/version"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// Deps are the collaborators behind the routes.
type Deps struct {
	DB           *gorm.DB
	OAuth        *oauthflow.Flow
	Orchestrator *syncer.Orchestrator
	Aggregator   *metricstore.Aggregator
	Healer       healing.Healer
	CronSecret   string
	// Now defaults to time.Now.
	Now func() time.Time
}

// NewRouter builds the router. Tenant routes sit behind whatever auth
// the deployment puts in front of the service; only the cron route
// checks a secret itself.
func NewRouter(d Deps) http.Handler {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	validate := validator.New(validator.WithRequiredStructEnabled())

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", handlers.HealthHandler(version.String()))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/oauth/{platform}/callback", d.OAuth.HandleCallback)

		r.Route("/tenants/{tenantID}", func(r chi.Router) {
			r.Get("/connect/{platform}", d.OAuth.HandleConnect)
			r.Post("/data-sources/{id}/sync", handlers.SyncHandler(d.Orchestrator, now))
			r.Get("/clients/{clientID}/metrics", handlers.ClientMetricsHandler(d.Aggregator, now))
			r.Post("/clients/{clientID}/widgets", handlers.WidgetsHandler(d.Aggregator, validate, now))
			r.Get("/sync-runs", handlers.SyncRunsHandler(d.DB))
		})

		r.With(middleware.CronSecret(d.CronSecret)).Post("/cron/healing", handlers.HealingHandler(d.Healer))
	})
	return r
}
