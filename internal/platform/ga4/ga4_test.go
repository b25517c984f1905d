package ga4

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mhuici/tamarindo-reports-sub000/internal/platform"
	"github.com/mhuici/tamarindo-reports-sub000/internal/retry"
	"github.com/mhuici/tamarindo-reports-sub000/internal/syncerr"
)

func newTestConnector(t *testing.T, h http.Handler) *Connector {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	info := platform.Info{
		Kind:         platform.GA4,
		AuthURL:      srv.URL + "/auth",
		TokenURL:     srv.URL + "/token",
		APIBaseURL:   srv.URL + "/data",
		AdminBaseURL: srv.URL + "/admin",
		APIVersion:   "v1beta",
		Timeout:      2 * time.Second,
		ClientID:     "client",
		ClientSecret: "secret",
	}
	return New(info,
		platform.WithHTTPClient(srv.Client()),
		platform.WithRetryOptions(retry.Options{MaxRetries: 1, InitialDelay: time.Millisecond}),
	)
}

func TestListAccountsUsesPropertySummaries(t *testing.T) {
	c := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/admin/v1beta/accountSummaries":
			if r.URL.Query().Get("pageToken") == "" {
				w.Write([]byte(`{"accountSummaries":[{"account":"accounts/1","propertySummaries":[{"property":"properties/100","displayName":"Web"}]}],"nextPageToken":"n"}`))
				return
			}
			w.Write([]byte(`{"accountSummaries":[{"account":"accounts/2","propertySummaries":[{"property":"properties/200"}]}]}`))
		case "/admin/v1beta/properties/100":
			w.Write([]byte(`{"displayName":"Web","currencyCode":"USD","timeZone":"America/Chicago"}`))
		case "/admin/v1beta/properties/200":
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"error":{"code":403,"status":"PERMISSION_DENIED","message":"no access"}}`))
		default:
			http.NotFound(w, r)
		}
	}))

	accounts, err := c.ListAccounts(context.Background(), "tok")
	if err != nil {
		t.Fatalf("ListAccounts: %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("accounts = %+v", accounts)
	}
	if accounts[0].ExternalID != "100" || accounts[0].Currency != "USD" || accounts[0].Timezone != "America/Chicago" {
		t.Errorf("first = %+v", accounts[0])
	}
	if accounts[1].ExternalID != "200" || accounts[1].Name != "200" {
		t.Errorf("second = %+v", accounts[1])
	}
}

func TestFetchMetricsEmitsZeroDays(t *testing.T) {
	c := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/data/v1beta/properties/100:runReport" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body struct {
			DateRanges []map[string]string `json:"dateRanges"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if len(body.DateRanges) != 1 || body.DateRanges[0]["startDate"] != "2024-02-27" || body.DateRanges[0]["endDate"] != "2024-03-01" {
			t.Errorf("dateRanges = %v", body.DateRanges)
		}
		w.Write([]byte(`{"rows":[
			{"dimensionValues":[{"value":"20240229"}],"metricValues":[{"value":"120"},{"value":"80"},{"value":"4"},{"value":"199.9"},{"value":"0.33"}]},
			{"dimensionValues":[{"value":"20240227"}],"metricValues":[{"value":"10"},{"value":"5"},{"value":"0"},{"value":"0"},{"value":"0.5"}]}
		],"rowCount":2}`))
	}))

	r, _ := platform.NewDateRange("2024-02-27", "2024-03-01")
	points, err := c.FetchMetrics(context.Background(), "tok", "properties/100", r)
	if err != nil {
		t.Fatalf("FetchMetrics: %v", err)
	}
	if len(points) != 4 {
		t.Fatalf("points = %+v", points)
	}
	if points[0].Date != "2024-02-27" || points[0].Metrics[platform.MetricSessions] != 10 {
		t.Errorf("first = %+v", points[0])
	}
	if points[1].Date != "2024-02-28" || points[1].Metrics[platform.MetricSessions] != 0 {
		t.Errorf("zero day = %+v", points[1])
	}
	feb29 := points[2].Metrics
	if feb29[platform.MetricConversionValue] != 199.9 || feb29[platform.MetricEngagedSessions] != 80 || feb29[platform.MetricConversions] != 4 {
		t.Errorf("2024-02-29 = %v", feb29)
	}
	if _, ok := points[3].Metrics[platform.MetricBounceRate]; !ok {
		t.Errorf("zero day should carry every metric key: %v", points[3].Metrics)
	}
}

func TestErrorRules(t *testing.T) {
	c := syncerr.NewClassifier()
	c.Register(string(platform.GA4), Rules)
	tests := []struct {
		status int
		native string
		want   syncerr.Code
	}{
		{401, "UNAUTHENTICATED", syncerr.CodeTokenExpired},
		{403, "PERMISSION_DENIED", syncerr.CodePermissionDenied},
		{404, "NOT_FOUND", syncerr.CodeAccountNotFound},
		{429, "RESOURCE_EXHAUSTED", syncerr.CodeRateLimited},
		{500, "INTERNAL", syncerr.CodeAPIError},
	}
	for _, tt := range tests {
		e := &syncerr.APIError{Platform: "ga4", StatusCode: tt.status, NativeCode: tt.native}
		if got := c.Classify(e, "ga4").Code; got != tt.want {
			t.Errorf("%s: code = %s, want %s", tt.native, got, tt.want)
		}
	}
}
