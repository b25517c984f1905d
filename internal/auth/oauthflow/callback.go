package oauthflow

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mhuici/tamarindo-reports-sub000/internal/db"
	"github.com/mhuici/tamarindo-reports-sub000/internal/db/models"
	"github.com/mhuici/tamarindo-reports-sub000/internal/logging"
	"github.com/mhuici/tamarindo-reports-sub000/internal/platform"
)

// Result is a completed connection.
type Result struct {
	DataSource *models.DataSource
	Accounts   []models.PlatformAccount
	// DiscoveryError is set when credentials were stored but listing
	// accounts failed; the connection can be retried later.
	DiscoveryError error
}

// Complete exchanges code, stores the credentials on the tenant's data
// source for the platform and discovers its accounts.
func (f *Flow) Complete(ctx context.Context, kind platform.Kind, code, state, redirectURI string) (*Result, error) {
	claims, err := f.states.Verify(state, kind)
	if err != nil {
		return nil, err
	}
	if code == "" {
		return nil, errors.New("missing authorization code")
	}
	conn, err := f.registry.Get(kind)
	if err != nil {
		return nil, err
	}
	bundle, err := conn.ExchangeCode(ctx, code, redirectURI)
	if err != nil {
		return nil, f.registry.Classify(err, kind)
	}
	ds, err := f.tokens.Connect(ctx, claims.TenantID, kind, "", bundle)
	if err != nil {
		return nil, fmt.Errorf("store connection: %w", err)
	}

	res := &Result{DataSource: ds}
	found, err := conn.ListAccounts(ctx, bundle.AccessToken)
	if err != nil {
		res.DiscoveryError = f.registry.Classify(err, kind)
		return res, nil
	}
	in := make([]models.PlatformAccount, 0, len(found))
	for _, a := range found {
		in = append(in, models.PlatformAccount{ExternalID: a.ExternalID, Name: a.Name, Currency: a.Currency, Timezone: a.Timezone})
	}
	if res.Accounts, err = db.UpsertPlatformAccounts(ctx, f.db, ds, in); err != nil {
		return nil, fmt.Errorf("store accounts: %w", err)
	}
	return res, nil
}

// HandleCallback finishes the flow started by HandleConnect.
// Route: GET /api/oauth/{platform}/callback
func (f *Flow) HandleCallback(w http.ResponseWriter, r *http.Request) {
	log := logging.Ctx(r.Context())
	kind, err := platform.ParseKind(chi.URLParam(r, "platform"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	q := r.URL.Query()
	if denied := q.Get("error"); denied != "" {
		http.Error(w, "authorization was not granted: "+denied, http.StatusBadRequest)
		return
	}

	res, err := f.Complete(r.Context(), kind, q.Get("code"), q.Get("state"), f.CallbackURL(r, kind))
	switch {
	case errors.Is(err, ErrInvalidState):
		http.Error(w, "Invalid state token", http.StatusBadRequest)
		return
	case err != nil:
		log.Error().Err(err).Str("platform", string(kind)).Msg("oauth callback failed")
		http.Error(w, fmt.Sprintf("Connection failed: %v", err), http.StatusBadGateway)
		return
	}

	status := http.StatusOK
	page := connectedPage{Platform: kind.DisplayName(), Accounts: len(res.Accounts)}
	if res.DiscoveryError != nil {
		log.Warn().Err(res.DiscoveryError).Str("data_source_id", res.DataSource.ID).Msg("account discovery failed")
		page.Warning = res.DiscoveryError.Error()
		status = http.StatusAccepted
	}
	log.Info().Str("tenant_id", res.DataSource.TenantID).Str("platform", string(kind)).
		Int("accounts", len(res.Accounts)).Msg("platform connected")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	connectedTmpl.Execute(w, page)
}

type connectedPage struct {
	Platform string
	Accounts int
	Warning  string
}

var connectedTmpl = template.Must(template.New("connected").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
	<meta charset="UTF-8">
	<title>Connected</title>
	<style>
		body { font-family: -apple-system, BlinkMacSystemFont, sans-serif; max-width: 600px; margin: 50px auto; padding: 20px; }
		.success { color: #16a34a; }
		.warning { color: #b45309; }
	</style>
</head>
<body>
	<h1 class="success">{{.Platform}} connected</h1>
	<p>{{.Accounts}} account(s) found.</p>
	{{if .Warning}}<p class="warning">Accounts could not be listed yet: {{.Warning}}</p>{{end}}
</body>
</html>`))
