package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mhuici/tamarindo-reports-sub000/internal/auth/oauthflow"
	"github.com/mhuici/tamarindo-reports-sub000/internal/auth/token"
	"github.com/mhuici/tamarindo-reports-sub000/internal/db/models"
	"github.com/mhuici/tamarindo-reports-sub000/internal/healing"
	"github.com/mhuici/tamarindo-reports-sub000/internal/metricstore"
	"github.com/mhuici/tamarindo-reports-sub000/internal/platform"
	"github.com/mhuici/tamarindo-reports-sub000/internal/syncer"
	"github.com/mhuici/tamarindo-reports-sub000/internal/syncerr"
	"github.com/mhuici/tamarindo-reports-sub000/internal/testinfra"
)

const cronSecret = "cron-test-secret"

var apiNow = time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	handler http.Handler
	conn    *testinfra.FakeConnector
	ds      *models.DataSource
	accs    []models.PlatformAccount
	client  *models.Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb := testinfra.OpenDB(t)
	v := testinfra.NewVault(t, gdb)
	conn := &testinfra.FakeConnector{KindValue: platform.GoogleAds}
	conn.MetricsFunc = testinfra.ConstantMetrics(map[string]float64{"impressions": 100, "clicks": 5, "cost": 2.5})
	reg := platform.NewRegistry(conn)
	mgr := token.NewManager(gdb, v, reg)
	clock := func() time.Time { return apiNow }
	agg := metricstore.NewAggregator(gdb, metricstore.NewGormCache(gdb), mgr, reg, metricstore.WithClock(clock))
	orch := syncer.New(gdb, agg)
	states, err := oauthflow.NewStateSigner(testinfra.TestSecret, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	ds := testinfra.SeedDataSource(t, gdb, v, "tenant-1", platform.GoogleAds, testinfra.FreshBundle())
	accs := testinfra.SeedAccounts(t, gdb, ds, "A", "B")
	client := testinfra.SeedClient(t, gdb, "tenant-1", accs...)

	h := NewRouter(Deps{
		DB:           gdb,
		OAuth:        oauthflow.New(gdb, reg, mgr, states, ""),
		Orchestrator: orch,
		Aggregator:   agg,
		Healer:       healing.NewJob(gdb, orch, healing.WithClock(clock)),
		CronSecret:   cronSecret,
		Now:          clock,
	})
	return &fixture{handler: h, conn: conn, ds: ds, accs: accs, client: client}
}

func (f *fixture) do(method, target, body string, header ...string) (*httptest.ResponseRecorder, map[string]any) {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	var out map[string]any
	json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)
	if rec, out := f.do(http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK || out["status"] != "ok" {
		t.Fatalf("healthz = %d %v", rec.Code, out)
	}
	rec, _ := f.do(http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Fatalf("metrics = %d", rec.Code)
	}
}

func TestSyncEndpoint(t *testing.T) {
	f := newFixture(t)
	path := "/api/tenants/tenant-1/data-sources/" + f.ds.ID + "/sync"

	rec, out := f.do(http.MethodPost, path, `{"start":"2024-05-01","end":"2024-05-03"}`)
	if rec.Code != http.StatusOK || out["success"] != true {
		t.Fatalf("sync = %d %v", rec.Code, out)
	}
	result := out["result"].(map[string]any)
	if result["metricsUpdated"].(float64) != 6 || result["accountsProcessed"].(float64) != 2 {
		t.Fatalf("result = %v", result)
	}

	rec, out = f.do(http.MethodPost, path, `{"platform_account_id":"`+f.accs[0].ID+`","start":"2024-05-01","end":"2024-05-01"}`)
	if rec.Code != http.StatusOK || out["result"].(map[string]any)["metricsUpdated"].(float64) != 1 {
		t.Fatalf("single account sync = %d %v", rec.Code, out)
	}
}

func TestSyncEndpointReconnectRequired(t *testing.T) {
	f := newFixture(t)
	f.conn.MetricsFunc = func(context.Context, string, string, platform.DateRange) ([]platform.DailyDataPoint, error) {
		return nil, &syncerr.APIError{Platform: "google_ads", StatusCode: 401, NativeCode: "UNAUTHENTICATED"}
	}

	rec, out := f.do(http.MethodPost, "/api/tenants/tenant-1/data-sources/"+f.ds.ID+"/sync", `{}`)
	if rec.Code != http.StatusUnauthorized || out["reconnect_required"] != true {
		t.Fatalf("sync = %d %v", rec.Code, out)
	}
	if msg, _ := out["error"].(string); !strings.Contains(msg, "Google Ads") {
		t.Fatalf("error = %q", msg)
	}
}

func TestSyncEndpointErrors(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"other tenant", "/api/tenants/tenant-2/data-sources/" + f.ds.ID + "/sync", `{}`, http.StatusNotFound},
		{"unknown data source", "/api/tenants/tenant-1/data-sources/nope/sync", `{}`, http.StatusNotFound},
		{"unknown account", "/api/tenants/tenant-1/data-sources/" + f.ds.ID + "/sync", `{"platform_account_id":"nope"}`, http.StatusNotFound},
		{"bad dates", "/api/tenants/tenant-1/data-sources/" + f.ds.ID + "/sync", `{"start":"2024-05-03","end":"2024-05-01"}`, http.StatusBadRequest},
		{"range too long", "/api/tenants/tenant-1/data-sources/" + f.ds.ID + "/sync", `{"start":"2020-01-01","end":"2024-05-01"}`, http.StatusBadRequest},
		{"bad json", "/api/tenants/tenant-1/data-sources/" + f.ds.ID + "/sync", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec, _ := f.do(http.MethodPost, tt.path, tt.body); rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestClientMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	base := "/api/tenants/tenant-1/clients/" + f.client.ID

	rec, out := f.do(http.MethodGet, base+"/metrics?start=2024-05-01&end=2024-05-02", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics = %d %s", rec.Code, rec.Body.String())
	}
	totals := out["totals"].(map[string]any)
	if totals["impressions"].(float64) != 400 || totals["ctr"].(float64) != 5 {
		t.Fatalf("totals = %v", totals)
	}

	if rec, _ := f.do(http.MethodGet, "/api/tenants/tenant-2/clients/"+f.client.ID+"/metrics", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("cross-tenant status = %d", rec.Code)
	}
	if rec, _ := f.do(http.MethodGet, base+"/metrics?start=1500-01-01&end=2000-01-01&force=true", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("oversized range status = %d", rec.Code)
	}
}

func TestWidgetsEndpoint(t *testing.T) {
	f := newFixture(t)
	path := "/api/tenants/tenant-1/clients/" + f.client.ID + "/widgets"

	rec, out := f.do(http.MethodPost, path, `{"start":"2024-05-01","end":"2024-05-02","widgets":[{"type":"metric","metric":"clicks"},{"type":"timeseries","metric":"cost"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("widgets = %d %s", rec.Code, rec.Body.String())
	}
	widgets := out["widgets"].([]any)
	if len(widgets) != 2 || widgets[0].(map[string]any)["value"].(float64) != 20 {
		t.Fatalf("widgets = %v", widgets)
	}

	for _, body := range []string{
		`{"widgets":[]}`,
		`{"widgets":[{"type":"pie"}]}`,
		`{"widgets":[{"type":"breakdown","metric":"cost","groupBy":"country"}]}`,
	} {
		if rec, _ := f.do(http.MethodPost, path, body); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d", body, rec.Code)
		}
	}
}

func TestHealingEndpoint(t *testing.T) {
	f := newFixture(t)

	if rec, _ := f.do(http.MethodPost, "/api/cron/healing", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("without secret = %d", rec.Code)
	}
	rec, out := f.do(http.MethodPost, "/api/cron/healing", "", "X-Cron-Secret", cronSecret)
	if rec.Code != http.StatusOK {
		t.Fatalf("healing = %d", rec.Code)
	}
	for _, key := range []string{"success", "tenantsProcessed", "totalMetricsUpdated", "errorsCount", "durationMs"} {
		if _, ok := out[key]; !ok {
			t.Fatalf("missing %q in %v", key, out)
		}
	}
	if out["success"] != true || out["tenantsProcessed"].(float64) != 1 || out["totalMetricsUpdated"].(float64) != 2*healing.DefaultDays {
		t.Fatalf("healing = %v", out)
	}

	rec, out = f.do(http.MethodGet, "/api/tenants/tenant-1/sync-runs", "")
	if rec.Code != http.StatusOK || len(out["runs"].([]any)) != 1 {
		t.Fatalf("sync runs = %d %v", rec.Code, out)
	}
}

func TestConnectRouteIsMounted(t *testing.T) {
	f := newFixture(t)
	rec, _ := f.do(http.MethodGet, "/api/tenants/tenant-1/connect/google_ads", "")
	if rec.Code != http.StatusTemporaryRedirect {
		t.Fatalf("connect = %d", rec.Code)
	}
}
