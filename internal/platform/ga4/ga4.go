// Package ga4 connects Google Analytics 4 properties. Properties are
// listed through the Admin API and reported on through the Data API.
package ga4

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mhuici/tamarindo-reports-sub000/internal/platform"
	"github.com/mhuici/tamarindo-reports-sub000/internal/syncerr"
	"github.com/mhuici/tamarindo-reports-sub000/internal/vault"
	"golang.org/x/oauth2"
)

var ErrNoRefreshToken = errors.New("ga4: bundle has no refresh token")

const reportPageSize = 10000

// reportMetrics are requested in this order; row values follow it.
var reportMetrics = []struct {
	api, canonical string
}{
	{"sessions", platform.MetricSessions},
	{"engagedSessions", platform.MetricEngagedSessions},
	{"conversions", platform.MetricConversions},
	{"totalRevenue", platform.MetricConversionValue},
	{"bounceRate", platform.MetricBounceRate},
}

type Connector struct {
	info      platform.Info
	transport *platform.Transport
}

func New(info platform.Info, opts ...platform.TransportOption) *Connector {
	return &Connector{info: info, transport: platform.NewTransport(info, Rules, opts...)}
}

func (c *Connector) Kind() platform.Kind { return platform.GA4 }

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

type accountSummariesResponse struct {
	AccountSummaries []struct {
		Account           string `json:"account"`
		DisplayName       string `json:"displayName"`
		PropertySummaries []struct {
			Property    string `json:"property"`
			DisplayName string `json:"displayName"`
		} `json:"propertySummaries"`
	} `json:"accountSummaries"`
	NextPageToken string `json:"nextPageToken"`
}

type property struct {
	DisplayName  string `json:"displayName"`
	CurrencyCode string `json:"currencyCode"`
	TimeZone     string `json:"timeZone"`
}

// ListAccounts returns every property visible to the user. Property
// details are best effort: a property that cannot be read keeps its
// summary name.
func (c *Connector) ListAccounts(ctx context.Context, accessToken string) ([]platform.Account, error) {
	var accounts []platform.Account
	pageToken := ""
	for {
		q := url.Values{"pageSize": {"200"}}
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		var res accountSummariesResponse
		err := c.transport.Do(ctx, platform.Request{
			URL:    c.adminURL("accountSummaries"),
			Query:  q,
			Bearer: accessToken,
		}, &res)
		if err != nil {
			return nil, err
		}
		for _, acc := range res.AccountSummaries {
			for _, p := range acc.PropertySummaries {
				id := PropertyID(p.Property)
				a := platform.Account{ExternalID: id, Name: p.DisplayName}
				var details property
				err := c.transport.Do(ctx, platform.Request{
					URL:    c.adminURL("properties/" + id),
					Bearer: accessToken,
				}, &details)
				if err == nil {
					a.Currency = details.CurrencyCode
					a.Timezone = details.TimeZone
					if a.Name == "" {
						a.Name = details.DisplayName
					}
				} else if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				if a.Name == "" {
					a.Name = id
				}
				accounts = append(accounts, a)
			}
		}
		if res.NextPageToken == "" {
			return accounts, nil
		}
		pageToken = res.NextPageToken
	}
}

type reportValue struct {
	Value string `json:"value"`
}

type runReportResponse struct {
	Rows []struct {
		DimensionValues []reportValue `json:"dimensionValues"`
		MetricValues    []reportValue `json:"metricValues"`
	} `json:"rows"`
	RowCount int `json:"rowCount"`
}

func (c *Connector) FetchMetrics(ctx context.Context, accessToken, accountID string, r platform.DateRange) ([]platform.DailyDataPoint, error) {
	metrics := make([]map[string]string, len(reportMetrics))
	keys := make([]string, len(reportMetrics))
	for i, m := range reportMetrics {
		metrics[i] = map[string]string{"name": m.api}
		keys[i] = m.canonical
	}

	var points []platform.DailyDataPoint
	for offset := 0; ; {
		body := map[string]any{
			"dateRanges":    []map[string]string{{"startDate": r.StartDate(), "endDate": r.EndDate()}},
			"dimensions":    []map[string]string{{"name": "date"}},
			"metrics":       metrics,
			"limit":         reportPageSize,
			"offset":        offset,
			"keepEmptyRows": true,
		}
		var res runReportResponse
		err := c.transport.Do(ctx, platform.Request{
			Method: http.MethodPost,
			URL:    c.dataURL("properties/" + PropertyID(accountID) + ":runReport"),
			JSON:   body,
			Bearer: accessToken,
		}, &res)
		if err != nil {
			return nil, err
		}
		for _, row := range res.Rows {
			if len(row.DimensionValues) == 0 {
				continue
			}
			day, err := time.Parse("20060102", row.DimensionValues[0].Value)
			if err != nil {
				return nil, fmt.Errorf("ga4: unexpected date %q: %w", row.DimensionValues[0].Value, err)
			}
			m := make(map[string]float64, len(keys))
			for i, k := range keys {
				m[k] = 0
				if i < len(row.MetricValues) {
					m[k], _ = strconv.ParseFloat(row.MetricValues[i].Value, 64)
				}
			}
			points = append(points, platform.DailyDataPoint{Date: day.Format(platform.DateLayout), Metrics: m})
		}
		offset += len(res.Rows)
		if len(res.Rows) == 0 || offset >= res.RowCount {
			break
		}
	}
	return platform.FillMissingDays(points, r, keys...), nil
}

func (c *Connector) adminURL(path string) string {
	return fmt.Sprintf("%s/%s/%s", c.info.AdminBaseURL, c.info.APIVersion, path)
}

func (c *Connector) dataURL(path string) string {
	return fmt.Sprintf("%s/%s/%s", c.info.APIBaseURL, c.info.APIVersion, path)
}

// PropertyID strips the properties/ resource prefix.
func PropertyID(s string) string {
	return strings.TrimPrefix(strings.TrimSpace(s), "properties/")
}
