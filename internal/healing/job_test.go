package healing

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mhuici/tamarindo-reports-sub000/internal/auth/token"
	"github.com/mhuici/tamarindo-reports-sub000/internal/db"
	"github.com/mhuici/tamarindo-reports-sub000/internal/db/models"
	"github.com/mhuici/tamarindo-reports-sub000/internal/metricstore"
	"github.com/mhuici/tamarindo-reports-sub000/internal/platform"
	"github.com/mhuici/tamarindo-reports-sub000/internal/syncer"
	"github.com/mhuici/tamarindo-reports-sub000/internal/syncerr"
	"github.com/mhuici/tamarindo-reports-sub000/internal/testinfra"
	"github.com/mhuici/tamarindo-reports-sub000/internal/vault"
	"gorm.io/gorm"
)

var healNow = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	db    *gorm.DB
	vault *vault.Vault
	meta  *testinfra.FakeConnector
	ads   *testinfra.FakeConnector
	cache *metricstore.GormCache
	job   *Job
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb := testinfra.OpenDB(t)
	v := testinfra.NewVault(t, gdb)
	meta := &testinfra.FakeConnector{KindValue: platform.MetaAds}
	ads := &testinfra.FakeConnector{KindValue: platform.GoogleAds}
	ok := testinfra.ConstantMetrics(map[string]float64{"clicks": 4, "conversions": 1})
	meta.MetricsFunc = ok
	ads.MetricsFunc = ok
	reg := platform.NewRegistry(meta, ads)
	cache := metricstore.NewGormCache(gdb)
	agg := metricstore.NewAggregator(gdb, cache, token.NewManager(gdb, v, reg), reg)
	orch := syncer.New(gdb, agg, syncer.WithConcurrency(2))
	return &fixture{
		db:    gdb,
		vault: v,
		meta:  meta,
		ads:   ads,
		cache: cache,
		job:   NewJob(gdb, orch, WithClock(func() time.Time { return healNow })),
	}
}

func (f *fixture) seed(t *testing.T, tenantID string, kind platform.Kind, externalIDs ...string) (*models.DataSource, []models.PlatformAccount) {
	t.Helper()
	ds := testinfra.SeedDataSource(t, f.db, f.vault, tenantID, kind, testinfra.FreshBundle())
	return ds, testinfra.SeedAccounts(t, f.db, ds, externalIDs...)
}

func TestWindowEndsToday(t *testing.T) {
	f := newFixture(t)
	w := f.job.Window()
	if w.StartDate() != "2024-05-04" || w.EndDate() != "2024-05-10" || w.Days() != DefaultDays {
		t.Fatalf("window = %s", w)
	}
}

func TestHealTenantIsolatesAccountFailures(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "tenant-1", platform.MetaAds, "A", "B")
	ok := f.meta.MetricsFunc
	f.meta.MetricsFunc = func(ctx context.Context, tok, accountID string, r platform.DateRange) ([]platform.DailyDataPoint, error) {
		if accountID == "B" {
			return nil, syncerr.New(syncerr.CodeRateLimited, "User request limit reached", nil)
		}
		return ok(ctx, tok, accountID, r)
	}

	res := f.job.HealTenant(context.Background(), "tenant-1")

	if res.Success {
		t.Fatal("expected failure with one account erroring")
	}
	if res.AccountsProcessed != 1 || res.MetricsUpdated != DefaultDays || res.DataSources != 1 {
		t.Fatalf("result = %+v", res)
	}
	if len(res.Errors) != 1 || !strings.HasPrefix(res.Errors[0], "account Account B: ") {
		t.Fatalf("errors = %v", res.Errors)
	}
}

func TestHealTenantStampsHealingSync(t *testing.T) {
	f := newFixture(t)
	ds, accs := f.seed(t, "tenant-1", platform.MetaAds, "A")

	res := f.job.HealTenant(context.Background(), "tenant-1")
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}

	acc, err := db.GetPlatformAccount(context.Background(), f.db, ds.ID, accs[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if acc.LastHealingSyncAt == nil || acc.LastSyncAt == nil {
		t.Fatalf("account stamps = %v / %v", acc.LastHealingSyncAt, acc.LastSyncAt)
	}
	runs, err := db.ListSyncRuns(context.Background(), f.db, "tenant-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Kind != models.SyncKindHealing || runs[0].RangeStart != "2024-05-04" {
		t.Fatalf("runs = %+v", runs)
	}
}

func TestHealingOverwritesRevisedValues(t *testing.T) {
	f := newFixture(t)
	_, accs := f.seed(t, "tenant-1", platform.MetaAds, "A")
	ctx := context.Background()

	if res := f.job.HealTenant(ctx, "tenant-1"); !res.Success {
		t.Fatalf("first run = %+v", res)
	}

	// Conversions for May 8 were attributed late.
	f.meta.MetricsFunc = func(_ context.Context, _, _ string, r platform.DateRange) ([]platform.DailyDataPoint, error) {
		var out []platform.DailyDataPoint
		for _, d := range r.Dates() {
			conv := 1.0
			if d == "2024-05-08" {
				conv = 9
			}
			out = append(out, platform.DailyDataPoint{Date: d, Metrics: map[string]float64{"clicks": 4, "conversions": conv}})
		}
		return out, nil
	}
	if res := f.job.HealTenant(ctx, "tenant-1"); !res.Success {
		t.Fatalf("second run = %+v", res)
	}

	day, _ := platform.NewDateRange("2024-05-08", "2024-05-08")
	recs, err := f.cache.Range(ctx, []string{accs[0].ID}, day)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Metrics["conversions"] != 9 {
		t.Fatalf("records = %+v", recs)
	}

	var count int64
	f.db.Model(&models.MetricRecord{}).Where("platform_account_id = ?", accs[0].ID).Count(&count)
	if count != int64(DefaultDays) {
		t.Fatalf("stored %d records, want %d", count, DefaultDays)
	}
}

func TestHealAllContinuesAcrossTenants(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "tenant-1", platform.MetaAds, "A", "B")
	f.seed(t, "tenant-1", platform.GoogleAds, "C")
	f.seed(t, "tenant-2", platform.GoogleAds, "D")
	f.meta.MetricsFunc = func(context.Context, string, string, platform.DateRange) ([]platform.DailyDataPoint, error) {
		return nil, &syncerr.APIError{Platform: "meta_ads", StatusCode: 500, Message: "Service temporarily unavailable"}
	}

	res := f.job.HealAll(context.Background())

	if res.Success || res.TenantsProcessed != 2 {
		t.Fatalf("sweep = %+v", res)
	}
	if res.ErrorsCount != 2 {
		t.Fatalf("errors = %d, want 2", res.ErrorsCount)
	}
	if res.TotalMetricsUpdated != 2*DefaultDays {
		t.Fatalf("metrics updated = %d", res.TotalMetricsUpdated)
	}
	if res.SweepID == "" || len(res.Tenants) != 2 || !res.Tenants[1].Success {
		t.Fatalf("tenants = %+v", res.Tenants)
	}

	sources, err := db.GetActiveDataSources(context.Background(), f.db, "tenant-1")
	if err != nil {
		t.Fatal(err)
	}
	for _, ds := range sources {
		if ds.Status == models.StatusSyncing {
			t.Fatalf("data source %s left SYNCING", ds.ID)
		}
	}
}

func TestHealAllSkipsDataSourcesNeedingReauth(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "tenant-1", platform.GoogleAds, "A")
	ds, _ := f.seed(t, "tenant-2", platform.MetaAds, "B")
	if err := db.MarkDataSourceNeedsReauth(context.Background(), f.db, ds.ID, "revoked"); err != nil {
		t.Fatal(err)
	}

	res := f.job.HealAll(context.Background())

	if !res.Success || res.TenantsProcessed != 1 {
		t.Fatalf("sweep = %+v", res)
	}
	if got := f.meta.MetricsCalls.Load(); got != 0 {
		t.Fatalf("meta fetched %d times", got)
	}
}

func TestHealAllStopsWhenCancelled(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "tenant-1", platform.GoogleAds, "A")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := f.job.HealAll(ctx)

	if res.Success || res.ErrorsCount == 0 {
		t.Fatalf("sweep = %+v", res)
	}
	if got := f.ads.MetricsCalls.Load(); got != 0 {
		t.Fatalf("fetched %d times after cancel", got)
	}
}
