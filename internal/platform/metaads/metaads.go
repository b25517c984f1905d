// Package metaads connects Meta (Facebook) ad accounts through the Graph
// API. Meta issues no refresh tokens: a long-lived user token is renewed by
// exchanging it for a new one while it is still valid.
package metaads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/mhuici/tamarindo-reports-sub000/internal/platform"
	"github.com/mhuici/tamarindo-reports-sub000/internal/syncerr"
	"github.com/mhuici/tamarindo-reports-sub000/internal/vault"
	"golang.org/x/oauth2"
)

// LongLivedTTL is assumed when the exchange response omits expires_in.
const LongLivedTTL = 60 * 24 * time.Hour

const (
	accountFields  = "account_id,name,currency,timezone_name"
	insightsFields = "impressions,clicks,spend,reach,frequency,actions,action_values"
	pageLimit      = "100"
)

// ErrTokenExpired is returned by Refresh once the long-lived token is past
// its expiry; only a new consent can recover.
var ErrTokenExpired = errors.New("meta ads: long-lived token expired")

// Connector talks to the Graph API.
type Connector struct {
	info              platform.Info
	transport         *platform.Transport
	conversionActions []string
	now               func() time.Time
}

func New(info platform.Info, opts ...platform.TransportOption) *Connector {
	return &Connector{
		info:              info,
		transport:         platform.NewTransport(info, Rules, opts...),
		conversionActions: info.ConversionActions,
		now:               time.Now,
	}
}

func (c *Connector) Kind() platform.Kind { return platform.MetaAds }

func (c *Connector) ErrorRules() syncerr.Rules { return Rules }

func (c *Connector) AuthorizeURL(state, redirectURI string) string {
	return platform.OAuthConfig(c.info, redirectURI).AuthCodeURL(state)
}

// ExchangeCode trades the code for a short-lived token and immediately
// upgrades it to a long-lived one.
func (c *Connector) ExchangeCode(ctx context.Context, code, redirectURI string) (vault.TokenBundle, error) {
	cfg := platform.OAuthConfig(c.info, redirectURI)
	tok, err := c.transport.OAuthToken(ctx, func(ctx context.Context) (*oauth2.Token, error) {
		return cfg.Exchange(ctx, code)
	})
	if err != nil {
		return vault.TokenBundle{}, err
	}
	b := platform.BundleFromToken(tok, vault.TokenBundle{Scope: strings.Join(c.info.Scopes, ",")})
	return c.exchangeLongLived(ctx, b)
}

// CanRefresh is true while the token has not expired yet.
func (c *Connector) CanRefresh(b vault.TokenBundle, now time.Time) bool {
	if b.AccessToken == "" {
		return false
	}
	return b.ExpiresAt == 0 || now.UnixMilli() < b.ExpiresAt
}

func (c *Connector) Refresh(ctx context.Context, b vault.TokenBundle) (vault.TokenBundle, error) {
	if !c.CanRefresh(b, c.now()) {
		return vault.TokenBundle{}, ErrTokenExpired
	}
	return c.exchangeLongLived(ctx, b)
}

type exchangeResponse struct {
	AccessToken string          `json:"access_token"`
	TokenType   string          `json:"token_type"`
	ExpiresIn   platform.Number `json:"expires_in"`
}

func (c *Connector) exchangeLongLived(ctx context.Context, b vault.TokenBundle) (vault.TokenBundle, error) {
	var res exchangeResponse
	err := c.transport.Do(ctx, platform.Request{
		URL: c.url("oauth/access_token"),
		Query: url.Values{
			"grant_type":        {"fb_exchange_token"},
			"client_id":         {c.info.ClientID},
			"client_secret":     {c.info.ClientSecret},
			"fb_exchange_token": {b.AccessToken},
		},
	}, &res)
	if err != nil {
		return vault.TokenBundle{}, err
	}
	if res.AccessToken == "" {
		return vault.TokenBundle{}, fmt.Errorf("meta ads: token exchange returned no access token")
	}

	ttl := time.Duration(res.ExpiresIn.Float()) * time.Second
	if ttl <= 0 {
		ttl = LongLivedTTL
	}
	return vault.TokenBundle{
		AccessToken: res.AccessToken,
		TokenType:   res.TokenType,
		Scope:       b.Scope,
		ExpiresAt:   c.now().Add(ttl).UnixMilli(),
	}, nil
}

type paging struct {
	Next string `json:"next"`
}

type adAccount struct {
	AccountID    string `json:"account_id"`
	Name         string `json:"name"`
	Currency     string `json:"currency"`
	TimezoneName string `json:"timezone_name"`
}

func (c *Connector) ListAccounts(ctx context.Context, accessToken string) ([]platform.Account, error) {
	req := platform.Request{
		URL:    c.url("me/adaccounts"),
		Query:  url.Values{"fields": {accountFields}, "limit": {pageLimit}},
		Bearer: accessToken,
	}
	var accounts []platform.Account
	err := c.paginate(ctx, req, func(raw json.RawMessage) error {
		var page []adAccount
		if err := json.Unmarshal(raw, &page); err != nil {
			return err
		}
		for _, a := range page {
			name := a.Name
			if name == "" {
				name = a.AccountID
			}
			accounts = append(accounts, platform.Account{
				ExternalID: a.AccountID,
				Name:       name,
				Currency:   a.Currency,
				Timezone:   a.TimezoneName,
			})
		}
		return nil
	})
	return accounts, err
}

type actionValue struct {
	ActionType string          `json:"action_type"`
	Value      platform.Number `json:"value"`
}

type insightRow struct {
	DateStart    string          `json:"date_start"`
	Impressions  platform.Number `json:"impressions"`
	Clicks       platform.Number `json:"clicks"`
	Spend        platform.Number `json:"spend"`
	Reach        platform.Number `json:"reach"`
	Frequency    platform.Number `json:"frequency"`
	Actions      []actionValue   `json:"actions"`
	ActionValues []actionValue   `json:"action_values"`
}

var metricKeys = []string{
	platform.MetricImpressions, platform.MetricClicks, platform.MetricCost,
	platform.MetricConversions, platform.MetricConversionValue,
	platform.MetricReach, platform.MetricFrequency,
}

func (c *Connector) FetchMetrics(ctx context.Context, accessToken, accountID string, r platform.DateRange) ([]platform.DailyDataPoint, error) {
	timeRange, _ := json.Marshal(map[string]string{"since": r.StartDate(), "until": r.EndDate()})
	req := platform.Request{
		URL: c.url(ActPath(accountID) + "/insights"),
		Query: url.Values{
			"fields":         {insightsFields},
			"level":          {"account"},
			"time_increment": {"1"},
			"time_range":     {string(timeRange)},
			"limit":          {pageLimit},
		},
		Bearer: accessToken,
	}

	var points []platform.DailyDataPoint
	err := c.paginate(ctx, req, func(raw json.RawMessage) error {
		var rows []insightRow
		if err := json.Unmarshal(raw, &rows); err != nil {
			return err
		}
		for _, row := range rows {
			points = append(points, platform.DailyDataPoint{
				Date: row.DateStart,
				Metrics: map[string]float64{
					platform.MetricImpressions:     row.Impressions.Float(),
					platform.MetricClicks:          row.Clicks.Float(),
					platform.MetricCost:            row.Spend.Float(),
					platform.MetricReach:           row.Reach.Float(),
					platform.MetricFrequency:       row.Frequency.Float(),
					platform.MetricConversions:     c.sumActions(row.Actions),
					platform.MetricConversionValue: c.sumActions(row.ActionValues),
				},
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return platform.FillMissingDays(points, r, metricKeys...), nil
}

// sumActions adds the values of the configured conversion action types.
// Pixel variants such as offsite_conversion.fb_pixel_purchase count too.
func (c *Connector) sumActions(actions []actionValue) float64 {
	var total float64
	for _, a := range actions {
		t := a.ActionType
		if i := strings.LastIndex(t, "fb_pixel_"); i >= 0 {
			t = t[i+len("fb_pixel_"):]
		}
		if slices.Contains(c.conversionActions, t) {
			total += a.Value.Float()
		}
	}
	return total
}

type pageEnvelope struct {
	Data   json.RawMessage `json:"data"`
	Paging paging          `json:"paging"`
}

// paginate follows paging.next cursors until exhausted.
func (c *Connector) paginate(ctx context.Context, req platform.Request, fn func(json.RawMessage) error) error {
	for {
		var page pageEnvelope
		if err := c.transport.Do(ctx, req, &page); err != nil {
			return err
		}
		if len(page.Data) > 0 {
			if err := fn(page.Data); err != nil {
				return fmt.Errorf("meta ads: decode page: %w", err)
			}
		}
		if page.Paging.Next == "" {
			return nil
		}
		req.URL, req.Query = page.Paging.Next, nil
	}
}

func (c *Connector) url(path string) string {
	return fmt.Sprintf("%s/%s/%s", c.info.APIBaseURL, c.info.APIVersion, path)
}

// ActPath returns the act_<id> node for an ad account id given with or
// without the prefix.
func ActPath(accountID string) string {
	return "act_" + strings.TrimPrefix(strings.TrimSpace(accountID), "act_")
}
