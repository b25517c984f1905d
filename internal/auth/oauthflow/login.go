package oauthflow

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/mhuici/tamarindo-reports-sub000/internal/auth/token"
	"github.com/mhuici/tamarindo-reports-sub000/internal/logging"
	"github.com/mhuici/tamarindo-reports-sub000/internal/platform"
	"gorm.io/gorm"
)

// Flow handles the connect redirect and the provider callback.
type Flow struct {
	db        *gorm.DB
	registry  *platform.Registry
	tokens    *token.Manager
	states    *StateSigner
	publicURL string
}

// New builds a Flow. publicURL is the externally visible base of this
// service; when empty the callback URL is derived from each request.
func New(gdb *gorm.DB, registry *platform.Registry, tokens *token.Manager, states *StateSigner, publicURL string) *Flow {
	return &Flow{
		db:        gdb,
		registry:  registry,
		tokens:    tokens,
		states:    states,
		publicURL: strings.TrimRight(publicURL, "/"),
	}
}

// CallbackURL is the redirect URI registered with the provider for kind.
func (f *Flow) CallbackURL(r *http.Request, kind platform.Kind) string {
	base := f.publicURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			scheme = "https"
		}
		base = fmt.Sprintf("%s://%s", scheme, r.Host)
	}
	return fmt.Sprintf("%s/api/oauth/%s/callback", base, kind)
}

// HandleConnect redirects the browser to the provider's consent page.
// Routes: GET /api/tenants/{tenantID}/connect/{platform}
func (f *Flow) HandleConnect(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	kind, err := platform.ParseKind(chi.URLParam(r, "platform"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	conn, err := f.registry.Get(kind)
	if err != nil {
		http.Error(w, "platform is not configured", http.StatusNotFound)
		return
	}
	state, err := f.states.Sign(tenantID, kind)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("failed to sign oauth state")
		http.Error(w, "failed to start authorization", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, conn.AuthorizeURL(state, f.CallbackURL(r, kind)), http.StatusTemporaryRedirect)
}
