package testinfra

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mhuici/tamarindo-reports-sub000/internal/platform"
	"github.com/mhuici/tamarindo-reports-sub000/internal/syncerr"
	"github.com/mhuici/tamarindo-reports-sub000/internal/vault"
)

// FakeConnector is a scriptable platform.Connector. Unset funcs return
// empty results.
type FakeConnector struct {
	KindValue platform.Kind
	Rules     syncerr.Rules

	RefreshFunc  func(ctx context.Context, b vault.TokenBundle) (vault.TokenBundle, error)
	ExchangeFunc func(ctx context.Context, code string) (vault.TokenBundle, error)
	AccountsFunc func(ctx context.Context, accessToken string) ([]platform.Account, error)
	MetricsFunc  func(ctx context.Context, accessToken, accountID string, r platform.DateRange) ([]platform.DailyDataPoint, error)
	// CanRefreshFunc defaults to "has a refresh token".
	CanRefreshFunc func(b vault.TokenBundle, now time.Time) bool

	Refreshes    atomic.Int32
	MetricsCalls atomic.Int32

	mu        sync.Mutex
	lastToken string
}

var _ platform.Connector = (*FakeConnector)(nil)

func (f *FakeConnector) Kind() platform.Kind {
	if f.KindValue == "" {
		return platform.GoogleAds
	}
	return f.KindValue
}

func (f *FakeConnector) ErrorRules() syncerr.Rules { return f.Rules }

func (f *FakeConnector) AuthorizeURL(state, redirectURI string) string {
	return fmt.Sprintf("https://auth.example.test/authorize?state=%s&redirect_uri=%s", url.QueryEscape(state), url.QueryEscape(redirectURI))
}

func (f *FakeConnector) ExchangeCode(ctx context.Context, code, _ string) (vault.TokenBundle, error) {
	if f.ExchangeFunc != nil {
		return f.ExchangeFunc(ctx, code)
	}
	return vault.TokenBundle{AccessToken: "access-" + code, RefreshToken: "refresh-" + code}, nil
}

func (f *FakeConnector) CanRefresh(b vault.TokenBundle, now time.Time) bool {
	if f.CanRefreshFunc != nil {
		return f.CanRefreshFunc(b, now)
	}
	return b.HasRefreshToken()
}

func (f *FakeConnector) Refresh(ctx context.Context, b vault.TokenBundle) (vault.TokenBundle, error) {
	f.Refreshes.Add(1)
	if f.RefreshFunc != nil {
		return f.RefreshFunc(ctx, b)
	}
	b.AccessToken = "refreshed"
	b.ExpiresAt = time.Now().Add(time.Hour).UnixMilli()
	return b, nil
}

func (f *FakeConnector) ListAccounts(ctx context.Context, accessToken string) ([]platform.Account, error) {
	if f.AccountsFunc != nil {
		return f.AccountsFunc(ctx, accessToken)
	}
	return nil, nil
}

func (f *FakeConnector) FetchMetrics(ctx context.Context, accessToken, accountID string, r platform.DateRange) ([]platform.DailyDataPoint, error) {
	f.MetricsCalls.Add(1)
	f.mu.Lock()
	f.lastToken = accessToken
	f.mu.Unlock()
	if f.MetricsFunc != nil {
		return f.MetricsFunc(ctx, accessToken, accountID, r)
	}
	return nil, nil
}

// LastToken is the access token of the most recent FetchMetrics call.
func (f *FakeConnector) LastToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastToken
}

// ConstantMetrics returns one point per day of r with m.
func ConstantMetrics(m map[string]float64) func(context.Context, string, string, platform.DateRange) ([]platform.DailyDataPoint, error) {
	return func(_ context.Context, _, _ string, r platform.DateRange) ([]platform.DailyDataPoint, error) {
		out := make([]platform.DailyDataPoint, 0, r.Days())
		for _, d := range r.Dates() {
			cp := make(map[string]float64, len(m))
			for k, v := range m {
				cp[k] = v
			}
			out = append(out, platform.DailyDataPoint{Date: d, Metrics: cp})
		}
		return out, nil
	}
}
