package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/mhuici/tamarindo-reports-sub000/internal/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := Migrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func seedDataSource(t *testing.T, db *gorm.DB, tenantID, platform string) *models.DataSource {
	t.Helper()
	ds := &models.DataSource{TenantID: tenantID, Platform: platform, Credentials: []byte("sealed")}
	if err := UpsertDataSource(context.Background(), db, ds); err != nil {
		t.Fatalf("upsert data source: %v", err)
	}
	return ds
}

func TestUpsertDataSourceKeepsIDPerTenantPlatform(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first := seedDataSource(t, db, "tenant-a", "meta_ads")
	if err := MarkDataSourceNeedsReauth(ctx, db, first.ID, "expired"); err != nil {
		t.Fatalf("mark: %v", err)
	}

	again := &models.DataSource{TenantID: "tenant-a", Platform: "meta_ads", Credentials: []byte("fresh")}
	if err := UpsertDataSource(ctx, db, again); err != nil {
		t.Fatalf("reconnect upsert: %v", err)
	}
	if again.ID != first.ID {
		t.Fatalf("reconnect created a new data source: %s != %s", again.ID, first.ID)
	}

	got, err := GetDataSource(ctx, db, "tenant-a", first.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.StatusActive || !got.IsActive || got.LastError != "" {
		t.Fatalf("reconnect did not reset status: %+v", got)
	}
	if string(got.Credentials) != "fresh" {
		t.Fatalf("credentials not replaced: %q", got.Credentials)
	}

	var count int64
	db.Model(&models.DataSource{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected 1 data source, got %d", count)
	}

	other := seedDataSource(t, db, "tenant-b", "meta_ads")
	if other.ID == first.ID {
		t.Fatal("different tenants must not share a data source")
	}
}

func TestGetDataSourceIsTenantScoped(t *testing.T) {
	db := newTestDB(t)
	ds := seedDataSource(t, db, "tenant-a", "ga4")

	if _, err := GetDataSource(context.Background(), db, "tenant-b", ds.ID); !errors.Is(err, ErrDataSourceNotFound) {
		t.Fatalf("expected ErrDataSourceNotFound, got %v", err)
	}
}

func TestUpsertPlatformAccountsByExternalID(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	ds := seedDataSource(t, db, "tenant-a", "google_ads")

	first, err := UpsertPlatformAccounts(ctx, db, ds, []models.PlatformAccount{
		{ExternalID: "111", Name: "Shop"},
		{ExternalID: "222", Name: "Brand"},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	second, err := UpsertPlatformAccounts(ctx, db, ds, []models.PlatformAccount{
		{ExternalID: "111", Name: "Shop (renamed)", Currency: "EUR"},
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if second[0].ID != first[0].ID {
		t.Fatal("rediscovered account got a new id")
	}

	accounts, err := ListPlatformAccounts(ctx, db, ds.ID, true)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(accounts))
	}
	for _, a := range accounts {
		if a.ExternalID == "111" && (a.Name != "Shop (renamed)" || a.Currency != "EUR") {
			t.Fatalf("account not updated: %+v", a)
		}
		if a.Platform != "google_ads" || a.TenantID != "tenant-a" {
			t.Fatalf("denormalized fields missing: %+v", a)
		}
	}
}

func TestGetLinkedPlatformAccounts(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	ds := seedDataSource(t, db, "tenant-a", "meta_ads")
	accounts, err := UpsertPlatformAccounts(ctx, db, ds, []models.PlatformAccount{
		{ExternalID: "1", Name: "A"},
		{ExternalID: "2", Name: "B"},
	})
	if err != nil {
		t.Fatalf("upsert accounts: %v", err)
	}
	db.Create(&models.Client{ID: "client-1", TenantID: "tenant-a", Name: "Acme"})
	db.Create(&models.Client{ID: "client-x", TenantID: "tenant-b", Name: "Other"})

	if err := LinkAccountToClient(ctx, db, "tenant-a", "client-1", accounts[0].ID); err != nil {
		t.Fatalf("link: %v", err)
	}
	// linking twice is a no-op
	if err := LinkAccountToClient(ctx, db, "tenant-a", "client-1", accounts[0].ID); err != nil {
		t.Fatalf("relink: %v", err)
	}
	if err := LinkAccountToClient(ctx, db, "tenant-b", "client-x", accounts[1].ID); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("cross-tenant link should fail, got %v", err)
	}

	linked, err := GetLinkedPlatformAccounts(ctx, db, "tenant-a", "client-1")
	if err != nil {
		t.Fatalf("linked: %v", err)
	}
	if len(linked) != 1 || linked[0].ID != accounts[0].ID {
		t.Fatalf("unexpected linked accounts: %+v", linked)
	}

	if _, err := GetLinkedPlatformAccounts(ctx, db, "tenant-b", "client-1"); !errors.Is(err, ErrClientNotFound) {
		t.Fatalf("expected ErrClientNotFound for foreign tenant, got %v", err)
	}
}

func TestFinishDataSourceSyncPreservesNeedsReauth(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	ds := seedDataSource(t, db, "tenant-a", "meta_ads")

	if err := BeginDataSourceSync(ctx, db, ds.ID); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := MarkDataSourceNeedsReauth(ctx, db, ds.ID, "token revoked"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := FinishDataSourceSync(ctx, db, ds.ID, "", time.Now()); err != nil {
		t.Fatalf("finish: %v", err)
	}
	got, _ := GetDataSource(ctx, db, "tenant-a", ds.ID)
	if got.Status != models.StatusNeedsReauth {
		t.Fatalf("status = %s, want NEEDS_REAUTH", got.Status)
	}
}

func TestFinishDataSourceSyncTerminalStates(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	ds := seedDataSource(t, db, "tenant-a", "ga4")

	BeginDataSourceSync(ctx, db, ds.ID)
	if err := FinishDataSourceSync(ctx, db, ds.ID, "account X: boom", time.Now()); err != nil {
		t.Fatalf("finish: %v", err)
	}
	got, _ := GetDataSource(ctx, db, "tenant-a", ds.ID)
	if got.Status != models.StatusError || got.LastError != "account X: boom" {
		t.Fatalf("unexpected: %+v", got)
	}

	BeginDataSourceSync(ctx, db, ds.ID)
	FinishDataSourceSync(ctx, db, ds.ID, "", time.Now())
	got, _ = GetDataSource(ctx, db, "tenant-a", ds.ID)
	if got.Status != models.StatusActive || got.LastError != "" || got.LastSyncAt == nil {
		t.Fatalf("unexpected: %+v", got)
	}
}

func TestOverlappingSyncsKeepEachOutcome(t *testing.T) {
	tests := []struct {
		name   string
		errors [2]string
	}{
		{"failure finishes last", [2]string{"", "account Y: rate limited"}},
		{"failure finishes first", [2]string{"account Y: rate limited", ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newTestDB(t)
			ctx := context.Background()
			ds := seedDataSource(t, db, "tenant-a", "google_ads")

			BeginDataSourceSync(ctx, db, ds.ID)
			BeginDataSourceSync(ctx, db, ds.ID)

			FinishDataSourceSync(ctx, db, ds.ID, tt.errors[0], time.Now())
			got, _ := GetDataSource(ctx, db, "tenant-a", ds.ID)
			if got.Status != models.StatusSyncing {
				t.Fatalf("status after first finish = %s, want SYNCING", got.Status)
			}

			FinishDataSourceSync(ctx, db, ds.ID, tt.errors[1], time.Now())
			got, _ = GetDataSource(ctx, db, "tenant-a", ds.ID)
			if got.Status != models.StatusError || got.LastError != "account Y: rate limited" {
				t.Fatalf("unexpected: status=%s last_error=%q", got.Status, got.LastError)
			}
			if got.LastSyncAt == nil {
				t.Fatal("the successful run did not stamp last_sync_at")
			}
			if got.ActiveSyncs != 0 {
				t.Fatalf("active syncs = %d", got.ActiveSyncs)
			}
		})
	}
}

func TestResetInterruptedSyncs(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	stuck := seedDataSource(t, db, "tenant-a", "google_ads")
	idle := seedDataSource(t, db, "tenant-a", "meta_ads")
	BeginDataSourceSync(ctx, db, stuck.ID)

	n, err := ResetInterruptedSyncs(ctx, db)
	if err != nil || n != 1 {
		t.Fatalf("ResetInterruptedSyncs = %d, %v", n, err)
	}
	got, _ := GetDataSource(ctx, db, "tenant-a", stuck.ID)
	if got.Status != models.StatusError || got.LastError != "sync interrupted by restart" || got.ActiveSyncs != 0 {
		t.Fatalf("stuck source = %+v", got)
	}
	if got, _ := GetDataSource(ctx, db, "tenant-a", idle.ID); got.Status != models.StatusActive {
		t.Fatalf("idle source status = %s", got.Status)
	}

	// A later run starts from a clean counter.
	BeginDataSourceSync(ctx, db, stuck.ID)
	FinishDataSourceSync(ctx, db, stuck.ID, "", time.Now())
	if got, _ := GetDataSource(ctx, db, "tenant-a", stuck.ID); got.Status != models.StatusActive {
		t.Fatalf("status after next run = %s", got.Status)
	}
}

func TestGetAllTenantsWithActiveDataSources(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	db.Create(&models.Tenant{ID: "tenant-a", Name: "Agency A"})
	seedDataSource(t, db, "tenant-a", "ga4")
	seedDataSource(t, db, "tenant-a", "meta_ads")
	disabled := seedDataSource(t, db, "tenant-c", "ga4")
	seedDataSource(t, db, "tenant-b", "google_ads")
	MarkDataSourceNeedsReauth(ctx, db, disabled.ID, "revoked")

	tenants, err := GetAllTenantsWithActiveDataSources(ctx, db)
	if err != nil {
		t.Fatalf("tenants: %v", err)
	}
	if len(tenants) != 2 {
		t.Fatalf("expected 2 tenants, got %+v", tenants)
	}
	if tenants[0].ID != "tenant-a" || tenants[0].Name != "Agency A" || tenants[1].ID != "tenant-b" {
		t.Fatalf("unexpected tenants: %+v", tenants)
	}
}

func TestRemovePlatformAccountCascades(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	ds := seedDataSource(t, db, "tenant-a", "ga4")
	accounts, _ := UpsertPlatformAccounts(ctx, db, ds, []models.PlatformAccount{{ExternalID: "p1"}})
	acc := accounts[0]
	db.Create(&models.MetricRecord{PlatformAccountID: acc.ID, Date: "2024-01-01"})
	db.Create(&models.ClientAccountLink{ClientID: "c", PlatformAccountID: acc.ID})

	if err := RemovePlatformAccount(ctx, db, "tenant-b", acc.ID); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("foreign tenant removal should fail, got %v", err)
	}
	if err := RemovePlatformAccount(ctx, db, "tenant-a", acc.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	var n int64
	db.Model(&models.MetricRecord{}).Count(&n)
	if n != 0 {
		t.Fatalf("metric records left behind: %d", n)
	}
	db.Model(&models.ClientAccountLink{}).Count(&n)
	if n != 0 {
		t.Fatalf("links left behind: %d", n)
	}
}

func TestEnsureCronSecret(t *testing.T) {
	db := newTestDB(t)

	generated, err := EnsureCronSecret(db, "")
	if err != nil || generated == "" {
		t.Fatalf("generate: %q %v", generated, err)
	}
	again, _ := EnsureCronSecret(db, "")
	if again != generated {
		t.Fatal("secret must be stable across restarts")
	}
	configured, _ := EnsureCronSecret(db, "from-env")
	if configured != "from-env" {
		t.Fatalf("configured secret ignored: %q", configured)
	}
	stored, _ := EnsureCronSecret(db, "")
	if stored != "from-env" {
		t.Fatalf("configured secret not persisted: %q", stored)
	}
}
