// Package platform defines the connector contract every advertising or
// analytics integration implements, plus the shared pieces they build on:
// date ranges, the canonical metric vocabulary, the platform catalog and
// the HTTP transport.
package platform

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mhuici/tamarindo-reports-sub000/internal/syncerr"
	"github.com/mhuici/tamarindo-reports-sub000/internal/vault"
)

// Kind identifies a platform.
type Kind string

const (
	GoogleAds Kind = "google_ads"
	MetaAds   Kind = "meta_ads"
	GA4       Kind = "ga4"
)

// Kinds lists the supported platforms.
var Kinds = []Kind{GoogleAds, MetaAds, GA4}

// ParseKind validates a platform name.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown platform %q", s)
}

// DisplayName is the human readable platform name.
func (k Kind) DisplayName() string {
	switch k {
	case GoogleAds:
		return "Google Ads"
	case MetaAds:
		return "Meta Ads"
	case GA4:
		return "Google Analytics"
	}
	return string(k)
}

// Account is an ad account or analytics property as the platform lists it.
type Account struct {
	ExternalID string
	Name       string
	Currency   string
	Timezone   string
}

// DailyDataPoint is one day of normalized metrics for one account.
type DailyDataPoint struct {
	Date    string             `json:"date"` // YYYY-MM-DD
	Metrics map[string]float64 `json:"metrics"`
}

// Connector is the capability set of one platform integration.
//
// Connectors return upstream failures unmodified, normally as
// *syncerr.APIError; classification happens downstream with the rules
// from ErrorRules.
type Connector interface {
	Kind() Kind
	// AuthorizeURL builds the consent URL. state is echoed back to the
	// callback and carries the tenant context.
	AuthorizeURL(state, redirectURI string) string
	ExchangeCode(ctx context.Context, code, redirectURI string) (vault.TokenBundle, error)
	// CanRefresh reports whether Refresh can renew bundle at now.
	CanRefresh(bundle vault.TokenBundle, now time.Time) bool
	Refresh(ctx context.Context, bundle vault.TokenBundle) (vault.TokenBundle, error)
	ListAccounts(ctx context.Context, accessToken string) ([]Account, error)
	FetchMetrics(ctx context.Context, accessToken, accountID string, r DateRange) ([]DailyDataPoint, error)
	ErrorRules() syncerr.Rules
}
