// Package googleads connects Google Ads customer accounts.
package googleads

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mhuici/tamarindo-reports-sub000/internal/platform"
	"github.com/mhuici/tamarindo-reports-sub000/internal/syncerr"
	"github.com/mhuici/tamarindo-reports-sub000/internal/vault"
	"golang.org/x/oauth2"
)

// ErrNoRefreshToken is returned by Refresh for bundles without one.
var ErrNoRefreshToken = errors.New("google ads: bundle has no refresh token")

const metricsQuery = `SELECT segments.date, metrics.impressions, metrics.clicks, metrics.cost_micros, ` +
	`metrics.conversions, metrics.conversions_value FROM customer ` +
	`WHERE segments.date BETWEEN '%s' AND '%s'`

const customerQuery = `SELECT customer.id, customer.descriptive_name, customer.currency_code, customer.time_zone FROM customer LIMIT 1`

// Connector talks to the Google Ads REST API.
type Connector struct {
	info      platform.Info
	transport *platform.Transport
	// LoginCustomerID is sent when accounts are reached through a manager.
	LoginCustomerID string
}

// New builds a connector. info.StaticHeaders must carry developer-token.
func New(info platform.Info, opts ...platform.TransportOption) *Connector {
	return &Connector{
		info:      info,
		transport: platform.NewTransport(info, Rules, opts...),
	}
}

func (c *Connector) Kind() platform.Kind { return platform.GoogleAds }

func (c *Connector) ErrorRules() syncerr.Rules { return Rules }

func (c *Connector) AuthorizeURL(state, redirectURI string) string {
	return platform.OAuthConfig(c.info, redirectURI).AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (c *Connector) ExchangeCode(ctx context.Context, code, redirectURI string) (vault.TokenBundle, error) {
	cfg := platform.OAuthConfig(c.info, redirectURI)
	tok, err := c.transport.OAuthToken(ctx, func(ctx context.Context) (*oauth2.Token, error) {
		return cfg.Exchange(ctx, code)
	})
	if err != nil {
		return vault.TokenBundle{}, err
	}
	return platform.BundleFromToken(tok, vault.TokenBundle{}), nil
}

// CanRefresh is true whenever a refresh token is held; Google refresh
// tokens outlive their access tokens.
func (c *Connector) CanRefresh(b vault.TokenBundle, _ time.Time) bool {
	return b.HasRefreshToken()
}

func (c *Connector) Refresh(ctx context.Context, b vault.TokenBundle) (vault.TokenBundle, error) {
	if !b.HasRefreshToken() {
		return vault.TokenBundle{}, ErrNoRefreshToken
	}
	cfg := platform.OAuthConfig(c.info, "")
	tok, err := c.transport.OAuthToken(ctx, func(ctx context.Context) (*oauth2.Token, error) {
		return cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: b.RefreshToken}).Token()
	})
	if err != nil {
		return vault.TokenBundle{}, err
	}
	return platform.BundleFromToken(tok, b), nil
}

type listAccessibleResponse struct {
	ResourceNames []string `json:"resourceNames"`
}

type customerRow struct {
	Customer struct {
		ID              string `json:"id"`
		DescriptiveName string `json:"descriptiveName"`
		CurrencyCode    string `json:"currencyCode"`
		TimeZone        string `json:"timeZone"`
	} `json:"customer"`
}

type searchResponse[T any] struct {
	Results       []T    `json:"results"`
	NextPageToken string `json:"nextPageToken"`
}

func (c *Connector) ListAccounts(ctx context.Context, accessToken string) ([]platform.Account, error) {
	var listed listAccessibleResponse
	err := c.transport.Do(ctx, platform.Request{
		URL:    c.url("customers:listAccessibleCustomers"),
		Bearer: accessToken,
	}, &listed)
	if err != nil {
		return nil, err
	}

	accounts := make([]platform.Account, 0, len(listed.ResourceNames))
	for _, rn := range listed.ResourceNames {
		id := strings.TrimPrefix(rn, "customers/")
		var res searchResponse[customerRow]
		if err := c.search(ctx, accessToken, id, customerQuery, "", &res); err != nil {
			return nil, err
		}
		acc := platform.Account{ExternalID: id, Name: id}
		if len(res.Results) > 0 {
			cust := res.Results[0].Customer
			if cust.DescriptiveName != "" {
				acc.Name = cust.DescriptiveName
			}
			acc.Currency = cust.CurrencyCode
			acc.Timezone = cust.TimeZone
		}
		accounts = append(accounts, acc)
	}
	return accounts, nil
}

type metricsRow struct {
	Segments struct {
		Date string `json:"date"`
	} `json:"segments"`
	Metrics struct {
		Impressions      platform.Number `json:"impressions"`
		Clicks           platform.Number `json:"clicks"`
		CostMicros       platform.Number `json:"costMicros"`
		Conversions      platform.Number `json:"conversions"`
		ConversionsValue platform.Number `json:"conversionsValue"`
	} `json:"metrics"`
}

var metricKeys = []string{
	platform.MetricImpressions, platform.MetricClicks, platform.MetricCost,
	platform.MetricConversions, platform.MetricConversionValue,
}

func (c *Connector) FetchMetrics(ctx context.Context, accessToken, accountID string, r platform.DateRange) ([]platform.DailyDataPoint, error) {
	customerID := NormalizeCustomerID(accountID)
	query := fmt.Sprintf(metricsQuery, r.StartDate(), r.EndDate())

	var points []platform.DailyDataPoint
	pageToken := ""
	for {
		var res searchResponse[metricsRow]
		if err := c.search(ctx, accessToken, customerID, query, pageToken, &res); err != nil {
			return nil, err
		}
		for _, row := range res.Results {
			points = append(points, platform.DailyDataPoint{
				Date: row.Segments.Date,
				Metrics: map[string]float64{
					platform.MetricImpressions:     row.Metrics.Impressions.Float(),
					platform.MetricClicks:          row.Metrics.Clicks.Float(),
					platform.MetricCost:            row.Metrics.CostMicros.Float() / 1e6,
					platform.MetricConversions:     row.Metrics.Conversions.Float(),
					platform.MetricConversionValue: row.Metrics.ConversionsValue.Float(),
				},
			})
		}
		if res.NextPageToken == "" {
			break
		}
		pageToken = res.NextPageToken
	}
	return platform.FillMissingDays(points, r, metricKeys...), nil
}

func (c *Connector) search(ctx context.Context, accessToken, customerID, query, pageToken string, out any) error {
	body := map[string]any{"query": query}
	if pageToken != "" {
		body["pageToken"] = pageToken
	}
	req := platform.Request{
		Method: http.MethodPost,
		URL:    c.url("customers/" + customerID + "/googleAds:search"),
		JSON:   body,
		Bearer: accessToken,
	}
	if c.LoginCustomerID != "" {
		req.Headers = map[string]string{"login-customer-id": NormalizeCustomerID(c.LoginCustomerID)}
	}
	return c.transport.Do(ctx, req, out)
}

func (c *Connector) url(path string) string {
	return fmt.Sprintf("%s/%s/%s", c.info.APIBaseURL, c.info.APIVersion, path)
}

// NormalizeCustomerID strips the dashes of the 123-456-7890 display form.
func NormalizeCustomerID(id string) string {
	return strings.ReplaceAll(strings.TrimSpace(id), "-", "")
}
