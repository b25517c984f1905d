package metricstore

import (
	"context"
	"testing"
	"time"

	"github.com/mhuici/tamarindo-reports-sub000/internal/db/models"
	"github.com/mhuici/tamarindo-reports-sub000/internal/platform"
	"github.com/mhuici/tamarindo-reports-sub000/internal/testinfra"
)

func day(date string, m map[string]float64) platform.DailyDataPoint {
	return platform.DailyDataPoint{Date: date, Metrics: m}
}

func TestNeedsSync(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-30 * time.Minute)
	stale := now.Add(-61 * time.Minute)
	tests := []struct {
		name string
		last *time.Time
		want bool
	}{
		{"never synced", nil, true},
		{"fresh", &recent, false},
		{"stale", &stale, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NeedsSync(tt.last, now, time.Hour); got != tt.want {
				t.Fatalf("NeedsSync = %v, want %v", got, tt.want)
			}
		})
	}
}

func testCaches(t *testing.T) map[string]Cache {
	return map[string]Cache{
		"gorm":   NewGormCache(testinfra.OpenDB(t)),
		"memory": NewMemoryCache(),
	}
}

func TestUpsertOverwritesInsteadOfMerging(t *testing.T) {
	for name, cache := range testCaches(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			r, _ := platform.NewDateRange("2024-01-01", "2024-01-02")

			first := []platform.DailyDataPoint{
				day("2024-01-01", map[string]float64{"clicks": 10, "conversions": 1}),
				day("2024-01-02", map[string]float64{"clicks": 20}),
			}
			if _, err := cache.Upsert(ctx, "acc-1", first); err != nil {
				t.Fatalf("Upsert: %v", err)
			}
			revised := []platform.DailyDataPoint{
				day("2024-01-01", map[string]float64{"clicks": 11}),
			}
			if _, err := cache.Upsert(ctx, "acc-1", revised); err != nil {
				t.Fatalf("Upsert: %v", err)
			}

			recs, err := cache.Range(ctx, []string{"acc-1"}, r)
			if err != nil {
				t.Fatalf("Range: %v", err)
			}
			if len(recs) != 2 {
				t.Fatalf("records = %+v", recs)
			}
			if recs[0].Metrics["clicks"] != 11 {
				t.Errorf("clicks = %v, want 11", recs[0].Metrics["clicks"])
			}
			if _, ok := recs[0].Metrics["conversions"]; ok {
				t.Errorf("stale metric survived the overwrite: %v", recs[0].Metrics)
			}
			if recs[1].Metrics["clicks"] != 20 {
				t.Errorf("untouched day changed: %v", recs[1].Metrics)
			}
		})
	}
}

func TestUpsertDeduplicatesWithinBatch(t *testing.T) {
	for name, cache := range testCaches(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			n, err := cache.Upsert(ctx, "acc-1", []platform.DailyDataPoint{
				day("2024-01-01", map[string]float64{"clicks": 1}),
				day("2024-01-01", map[string]float64{"clicks": 2}),
			})
			if err != nil {
				t.Fatalf("Upsert: %v", err)
			}
			if n != 1 {
				t.Fatalf("written = %d, want 1", n)
			}
			r, _ := platform.NewDateRange("2024-01-01", "2024-01-01")
			recs, _ := cache.Range(ctx, []string{"acc-1"}, r)
			if len(recs) != 1 || recs[0].Metrics["clicks"] != 2 {
				t.Fatalf("records = %+v", recs)
			}
		})
	}
}

func TestRangeIsScopedToAccounts(t *testing.T) {
	for name, cache := range testCaches(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			cache.Upsert(ctx, "mine", []platform.DailyDataPoint{day("2024-01-01", map[string]float64{"clicks": 1})})
			cache.Upsert(ctx, "theirs", []platform.DailyDataPoint{day("2024-01-01", map[string]float64{"clicks": 100})})
			r, _ := platform.NewDateRange("2024-01-01", "2024-01-31")
			recs, err := cache.Range(ctx, []string{"mine"}, r)
			if err != nil {
				t.Fatal(err)
			}
			if len(recs) != 1 || recs[0].AccountID != "mine" {
				t.Fatalf("records = %+v", recs)
			}
		})
	}
}

func TestGormCacheStampSync(t *testing.T) {
	gdb := testinfra.OpenDB(t)
	v := testinfra.NewVault(t, gdb)
	ds := testinfra.SeedDataSource(t, gdb, v, "tenant-1", platform.GoogleAds, testinfra.FreshBundle())
	acc := testinfra.SeedAccounts(t, gdb, ds, "111")[0]
	cache := NewGormCache(gdb)
	ctx := context.Background()

	if err := cache.RecordSyncError(ctx, acc.ID, "boom"); err != nil {
		t.Fatal(err)
	}
	at := time.Now().Truncate(time.Second)
	if err := cache.StampSync(ctx, acc.ID, at, true); err != nil {
		t.Fatal(err)
	}

	var got models.PlatformAccount
	gdb.First(&got, "id = ?", acc.ID)
	if got.LastSyncError != "" {
		t.Errorf("sync error not cleared: %q", got.LastSyncError)
	}
	if got.LastSyncAt == nil || !got.LastSyncAt.Equal(at) || got.LastHealingSyncAt == nil {
		t.Errorf("timestamps = %v / %v", got.LastSyncAt, got.LastHealingSyncAt)
	}
	last, err := cache.LastSync(ctx, acc.ID)
	if err != nil || last == nil || !last.Equal(at) {
		t.Errorf("LastSync = %v, %v", last, err)
	}
}
