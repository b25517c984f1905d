package testinfra

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mhuici/tamarindo-reports-sub000/internal/db"
	"github.com/mhuici/tamarindo-reports-sub000/internal/db/models"
	"github.com/mhuici/tamarindo-reports-sub000/internal/platform"
	"github.com/mhuici/tamarindo-reports-sub000/internal/vault"
	"gorm.io/gorm"
)

// TestSecret is the encryption secret used by fixtures.
const TestSecret = "test-encryption-secret-0123456789"

// NewVault returns a vault over gdb keyed with TestSecret.
func NewVault(t testing.TB, gdb *gorm.DB) *vault.Vault {
	t.Helper()
	enc, err := vault.NewEncryptor(TestSecret)
	if err != nil {
		t.Fatalf("failed to create encryptor: %v", err)
	}
	return vault.New(gdb, enc)
}

// FreshBundle is a bundle valid for another hour.
func FreshBundle() vault.TokenBundle {
	return vault.TokenBundle{
		AccessToken:  "fresh-token",
		RefreshToken: "refresh-token",
		ExpiresAt:    time.Now().Add(time.Hour).UnixMilli(),
		TokenType:    "Bearer",
	}
}

// SeedDataSource stores an ACTIVE data source for tenantID holding bundle.
func SeedDataSource(t testing.TB, gdb *gorm.DB, v *vault.Vault, tenantID string, kind platform.Kind, bundle vault.TokenBundle) *models.DataSource {
	t.Helper()
	ctx := context.Background()
	if err := gdb.FirstOrCreate(&models.Tenant{ID: tenantID, Name: tenantID}).Error; err != nil {
		t.Fatalf("failed to seed tenant: %v", err)
	}
	sealed, err := v.Seal(bundle)
	if err != nil {
		t.Fatalf("failed to seal bundle: %v", err)
	}
	ds := &models.DataSource{TenantID: tenantID, Platform: string(kind), Credentials: sealed}
	if err := db.UpsertDataSource(ctx, gdb, ds); err != nil {
		t.Fatalf("failed to seed data source: %v", err)
	}
	return ds
}

// SeedAccounts stores accounts named after externalIDs under ds.
func SeedAccounts(t testing.TB, gdb *gorm.DB, ds *models.DataSource, externalIDs ...string) []models.PlatformAccount {
	t.Helper()
	in := make([]models.PlatformAccount, 0, len(externalIDs))
	for _, id := range externalIDs {
		in = append(in, models.PlatformAccount{ExternalID: id, Name: "Account " + id, Currency: "USD"})
	}
	stored, err := db.UpsertPlatformAccounts(context.Background(), gdb, ds, in)
	if err != nil {
		t.Fatalf("failed to seed accounts: %v", err)
	}
	return stored
}

// SeedClient creates a client of tenantID linked to accounts.
func SeedClient(t testing.TB, gdb *gorm.DB, tenantID string, accounts ...models.PlatformAccount) *models.Client {
	t.Helper()
	c := &models.Client{ID: uuid.New().String(), TenantID: tenantID, Name: "Client"}
	if err := gdb.Create(c).Error; err != nil {
		t.Fatalf("failed to seed client: %v", err)
	}
	for _, a := range accounts {
		if err := db.LinkAccountToClient(context.Background(), gdb, tenantID, c.ID, a.ID); err != nil {
			t.Fatalf("failed to link account: %v", err)
		}
	}
	return c
}
