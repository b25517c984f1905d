package metricstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mhuici/tamarindo-reports-sub000/internal/db/models"
	"github.com/mhuici/tamarindo-reports-sub000/internal/platform"
	"github.com/mhuici/tamarindo-reports-sub000/internal/syncerr"
	"github.com/mhuici/tamarindo-reports-sub000/internal/testinfra"
	"gorm.io/gorm"
)

type staticTokens struct{ err error }

func (s staticTokens) GetValidAccessToken(context.Context, string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "tok", nil
}

type aggFixture struct {
	db    *gorm.DB
	cache *GormCache
	conn  *testinfra.FakeConnector
	agg   *Aggregator
	ds    *models.DataSource
	accs  []models.PlatformAccount
}

var aggNow = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

func newAggFixture(t *testing.T, externalIDs ...string) *aggFixture {
	t.Helper()
	gdb := testinfra.OpenDB(t)
	v := testinfra.NewVault(t, gdb)
	ds := testinfra.SeedDataSource(t, gdb, v, "tenant-1", platform.GoogleAds, testinfra.FreshBundle())
	accs := testinfra.SeedAccounts(t, gdb, ds, externalIDs...)
	conn := &testinfra.FakeConnector{KindValue: platform.GoogleAds}
	cache := NewGormCache(gdb)
	return &aggFixture{
		db:    gdb,
		cache: cache,
		conn:  conn,
		agg:   NewAggregator(gdb, cache, staticTokens{}, platform.NewRegistry(conn), WithClock(func() time.Time { return aggNow })),
		ds:    ds,
		accs:  accs,
	}
}

func TestSyncMetricsUpsertsAndStamps(t *testing.T) {
	f := newAggFixture(t, "111")
	f.conn.MetricsFunc = testinfra.ConstantMetrics(map[string]float64{"clicks": 5})
	r, _ := platform.NewDateRange("2024-03-01", "2024-03-03")

	n, err := f.agg.SyncMetrics(context.Background(), f.ds.ID, f.accs[0].ID, r)
	if err != nil {
		t.Fatalf("SyncMetrics: %v", err)
	}
	if n != 3 {
		t.Fatalf("written = %d, want 3", n)
	}
	// Re-running leaves exactly one row per day.
	if _, err := f.agg.SyncMetrics(context.Background(), f.ds.ID, f.accs[0].ID, r); err != nil {
		t.Fatal(err)
	}
	var count int64
	f.db.Model(&models.MetricRecord{}).Where("platform_account_id = ?", f.accs[0].ID).Count(&count)
	if count != 3 {
		t.Fatalf("rows = %d, want 3", count)
	}
	if f.conn.LastToken() != "tok" {
		t.Fatalf("token = %q", f.conn.LastToken())
	}
}

func TestSyncMetricsRecordsClassifiedFailure(t *testing.T) {
	f := newAggFixture(t, "111")
	f.conn.MetricsFunc = func(context.Context, string, string, platform.DateRange) ([]platform.DailyDataPoint, error) {
		return nil, &syncerr.APIError{Platform: "google_ads", StatusCode: 429, Message: "quota exhausted"}
	}
	r, _ := platform.NewDateRange("2024-03-01", "2024-03-01")

	_, err := f.agg.SyncMetrics(context.Background(), f.ds.ID, f.accs[0].ID, r)
	var cl *syncerr.Classified
	if !errors.As(err, &cl) || cl.Code != syncerr.CodeRateLimited {
		t.Fatalf("err = %v", err)
	}
	var acc models.PlatformAccount
	f.db.First(&acc, "id = ?", f.accs[0].ID)
	if acc.LastSyncError == "" || acc.LastSyncAt != nil {
		t.Fatalf("account = %+v", acc)
	}
}

func TestGetMetricsForClientAggregates(t *testing.T) {
	f := newAggFixture(t, "111", "222")
	client := testinfra.SeedClient(t, f.db, "tenant-1", f.accs...)
	ctx := context.Background()
	f.conn.MetricsFunc = func(_ context.Context, _, accountID string, r platform.DateRange) ([]platform.DailyDataPoint, error) {
		if accountID == "222" {
			return nil, &syncerr.APIError{Platform: "google_ads", StatusCode: 503}
		}
		return testinfra.ConstantMetrics(map[string]float64{
			"impressions": 100, "clicks": 10, "cost": 5, "conversions": 1, "conversionValue": 20,
		})(ctx, "", accountID, r)
	}
	// Stale cached data for the failing account is still aggregated.
	f.cache.Upsert(ctx, f.accs[1].ID, []platform.DailyDataPoint{
		day("2024-03-10", map[string]float64{"impressions": 900, "clicks": 90, "reach": 50}),
	})

	r, _ := platform.NewDateRange("2024-03-08", "2024-03-14")
	agg, err := f.agg.GetMetricsForClient(ctx, "tenant-1", client.ID, r, false)
	if err != nil {
		t.Fatalf("GetMetricsForClient: %v", err)
	}

	if agg.PreviousStart != "2024-03-01" || agg.PreviousEnd != "2024-03-07" {
		t.Fatalf("previous window = %s..%s", agg.PreviousStart, agg.PreviousEnd)
	}
	if len(agg.SyncErrors) != 1 || agg.SyncErrors[0].AccountID != f.accs[1].ID || agg.SyncErrors[0].Code != syncerr.CodeAPIError {
		t.Fatalf("sync errors = %+v", agg.SyncErrors)
	}
	if got := agg.Totals["impressions"]; got != 7*100+900 {
		t.Errorf("impressions = %v", got)
	}
	if got := agg.Totals["reach"]; got != 50 {
		t.Errorf("sparse metric reach = %v", got)
	}
	if got := agg.Totals["ctr"]; got != 10 {
		t.Errorf("ctr = %v, want recomputed 10", got)
	}
	if got := agg.PreviousTotals["clicks"]; got != 70 {
		t.Errorf("previous clicks = %v", got)
	}
	if len(agg.ByDate) != 7 || agg.ByDate[0].Date != "2024-03-08" || agg.ByDate[2].Metrics["clicks"] != 100 {
		t.Errorf("byDate = %+v", agg.ByDate)
	}
	if got := agg.BySource[platform.GoogleAds]["cost"]; got != 35 {
		t.Errorf("bySource cost = %v", got)
	}
}

func TestGetMetricsForClientRespectsTTL(t *testing.T) {
	f := newAggFixture(t, "111")
	client := testinfra.SeedClient(t, f.db, "tenant-1", f.accs...)
	f.conn.MetricsFunc = testinfra.ConstantMetrics(map[string]float64{"clicks": 1})
	r, _ := platform.NewDateRange("2024-03-08", "2024-03-14")
	ctx := context.Background()

	if _, err := f.agg.GetMetricsForClient(ctx, "tenant-1", client.ID, r, false); err != nil {
		t.Fatal(err)
	}
	if _, err := f.agg.GetMetricsForClient(ctx, "tenant-1", client.ID, r, false); err != nil {
		t.Fatal(err)
	}
	if n := f.conn.MetricsCalls.Load(); n != 1 {
		t.Fatalf("fetches = %d, want 1 within the TTL", n)
	}
	if _, err := f.agg.GetMetricsForClient(ctx, "tenant-1", client.ID, r, true); err != nil {
		t.Fatal(err)
	}
	if n := f.conn.MetricsCalls.Load(); n != 2 {
		t.Fatalf("fetches = %d, want 2 after forceSync", n)
	}
}

func TestGetMetricsForClientIsTenantScoped(t *testing.T) {
	f := newAggFixture(t, "111")
	client := testinfra.SeedClient(t, f.db, "tenant-1", f.accs...)
	r, _ := platform.NewDateRange("2024-03-08", "2024-03-14")
	_, err := f.agg.GetMetricsForClient(context.Background(), "tenant-2", client.ID, r, false)
	if !IsNotFound(err) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestPreviousWindowMatchesRangeLength(t *testing.T) {
	for _, days := range []int{1, 7, 28, 31, 90} {
		end := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
		r := platform.TrailingDays(end, days)
		prev := r.Previous()
		if prev.Days() != r.Days() {
			t.Errorf("%d days: previous has %d days", days, prev.Days())
		}
		if !prev.End.AddDate(0, 0, 1).Equal(r.Start) {
			t.Errorf("%d days: previous ends %s, range starts %s", days, prev.EndDate(), r.StartDate())
		}
	}
}
