package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mhuici/tamarindo-reports-sub000/internal/db/models"
	"gorm.io/gorm"
)

var (
	ErrDataSourceNotFound = errors.New("data source not found")
	ErrAccountNotFound    = errors.New("platform account not found")
	ErrClientNotFound     = errors.New("client not found")
)

// ===== Data sources =====

// GetDataSource loads a data source owned by tenantID.
func GetDataSource(ctx context.Context, db *gorm.DB, tenantID, id string) (*models.DataSource, error) {
	var ds models.DataSource
	err := db.WithContext(ctx).Where("id = ? AND tenant_id = ?", id, tenantID).First(&ds).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDataSourceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ds, nil
}

// GetDataSourceByID loads a data source by its id alone. Callers that act
// on behalf of a tenant use GetDataSource instead.
func GetDataSourceByID(ctx context.Context, db *gorm.DB, id string) (*models.DataSource, error) {
	var ds models.DataSource
	err := db.WithContext(ctx).Where("id = ?", id).First(&ds).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDataSourceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ds, nil
}

// GetActiveDataSources returns a tenant's data sources that are not
// soft-disabled.
func GetActiveDataSources(ctx context.Context, db *gorm.DB, tenantID string) ([]models.DataSource, error) {
	var sources []models.DataSource
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND is_active = ?", tenantID, true).
		Order("platform").
		Find(&sources).Error
	return sources, err
}

// ListActiveDataSources returns active data sources across all tenants.
func ListActiveDataSources(ctx context.Context, db *gorm.DB) ([]models.DataSource, error) {
	var sources []models.DataSource
	err := db.WithContext(ctx).
		Where("is_active = ? AND status <> ?", true, models.StatusNeedsReauth).
		Order("tenant_id, platform").
		Find(&sources).Error
	return sources, err
}

// GetAllTenantsWithActiveDataSources returns every tenant owning at least
// one active data source. Tenants without a tenants row are returned with
// only their id set.
func GetAllTenantsWithActiveDataSources(ctx context.Context, db *gorm.DB) ([]models.Tenant, error) {
	var ids []string
	err := db.WithContext(ctx).Model(&models.DataSource{}).
		Where("is_active = ?", true).
		Distinct().
		Order("tenant_id").
		Pluck("tenant_id", &ids).Error
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var known []models.Tenant
	if err := db.WithContext(ctx).Where("id IN ?", ids).Find(&known).Error; err != nil {
		return nil, err
	}
	byID := make(map[string]models.Tenant, len(known))
	for _, t := range known {
		byID[t.ID] = t
	}

	tenants := make([]models.Tenant, 0, len(ids))
	for _, id := range ids {
		if t, ok := byID[id]; ok {
			tenants = append(tenants, t)
			continue
		}
		tenants = append(tenants, models.Tenant{ID: id})
	}
	return tenants, nil
}

// UpsertDataSource stores the connection for (TenantID, Platform). An
// existing row keeps its id and is reactivated with the new credentials.
func UpsertDataSource(ctx context.Context, db *gorm.DB, ds *models.DataSource) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.DataSource
		err := tx.Where("tenant_id = ? AND platform = ?", ds.TenantID, ds.Platform).First(&existing).Error
		switch {
		case err == nil:
			ds.ID = existing.ID
			ds.CreatedAt = existing.CreatedAt
			ds.LastSyncAt = existing.LastSyncAt
			return tx.Model(&existing).Updates(map[string]any{
				"credentials":      ds.Credentials,
				"external_user_id": ds.ExternalUserID,
				"status":           models.StatusActive,
				"is_active":        true,
				"last_error":       "",
			}).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			if ds.ID == "" {
				ds.ID = uuid.New().String()
			}
			ds.Status = models.StatusActive
			ds.IsActive = true
			return tx.Create(ds).Error
		default:
			return err
		}
	})
}

// SetDataSourceStatus moves a data source to status and records lastError.
func SetDataSourceStatus(ctx context.Context, db *gorm.DB, id string, status models.DataSourceStatus, lastError string) error {
	return db.WithContext(ctx).Model(&models.DataSource{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "last_error": lastError}).Error
}

// MarkDataSourceNeedsReauth soft-disables a data source until the user
// reconnects it.
func MarkDataSourceNeedsReauth(ctx context.Context, db *gorm.DB, id, reason string) error {
	return db.WithContext(ctx).Model(&models.DataSource{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     models.StatusNeedsReauth,
			"is_active":  false,
			"last_error": reason,
		}).Error
}

// BeginDataSourceSync marks a data source as SYNCING and counts the run.
// The first of overlapping runs clears the previous error.
func BeginDataSourceSync(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Model(&models.DataSource{}).
		Where("id = ? AND status <> ?", id, models.StatusNeedsReauth).
		Updates(map[string]any{
			"status":       models.StatusSyncing,
			"active_syncs": gorm.Expr("active_syncs + 1"),
			"last_error":   gorm.Expr("CASE WHEN active_syncs = 0 THEN '' ELSE last_error END"),
		}).Error
}

// FinishDataSourceSync ends one run. While other runs are still in flight
// the data source stays SYNCING and only the error or last sync time of
// this run is recorded. The last run to finish moves it to ERROR when any
// of the overlapping runs failed, or to ACTIVE otherwise. A status changed
// by someone else during the run, such as NEEDS_REAUTH, is left alone.
func FinishDataSourceSync(ctx context.Context, db *gorm.DB, id, syncErr string, at time.Time) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ds models.DataSource
		if err := tx.Select("id", "status", "active_syncs", "last_error").Where("id = ?", id).First(&ds).Error; err != nil {
			return err
		}
		remaining := max(ds.ActiveSyncs-1, 0)
		updates := map[string]any{"active_syncs": remaining}
		if ds.Status == models.StatusSyncing {
			lastErr := ds.LastError
			if syncErr != "" {
				lastErr = syncErr
			} else {
				updates["last_sync_at"] = at
			}
			updates["last_error"] = lastErr
			if remaining == 0 {
				updates["status"] = models.StatusActive
				if lastErr != "" {
					updates["status"] = models.StatusError
				}
			}
		}
		return tx.Model(&models.DataSource{}).Where("id = ?", id).Updates(updates).Error
	})
}

// ResetInterruptedSyncs fails data sources left SYNCING by a process that
// died mid-run and clears stale run counters. It returns the number of
// data sources moved to ERROR.
func ResetInterruptedSyncs(ctx context.Context, db *gorm.DB) (int64, error) {
	res := db.WithContext(ctx).Model(&models.DataSource{}).
		Where("status = ?", models.StatusSyncing).
		Updates(map[string]any{
			"status":       models.StatusError,
			"last_error":   "sync interrupted by restart",
			"active_syncs": 0,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	err := db.WithContext(ctx).Model(&models.DataSource{}).
		Where("active_syncs <> 0").
		Update("active_syncs", 0).Error
	return res.RowsAffected, err
}

// ===== Platform accounts =====

// UpsertPlatformAccounts stores discovered accounts under ds, keyed by
// external id. Existing rows keep their ids; the returned slice carries
// the stored rows in input order.
func UpsertPlatformAccounts(ctx context.Context, db *gorm.DB, ds *models.DataSource, accounts []models.PlatformAccount) ([]models.PlatformAccount, error) {
	stored := make([]models.PlatformAccount, 0, len(accounts))
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, in := range accounts {
			if in.ExternalID == "" {
				return fmt.Errorf("account %q has no external id", in.Name)
			}
			var existing models.PlatformAccount
			err := tx.Where("data_source_id = ? AND external_id = ?", ds.ID, in.ExternalID).First(&existing).Error
			switch {
			case err == nil:
				if err := tx.Model(&existing).Updates(map[string]any{
					"name":      in.Name,
					"currency":  in.Currency,
					"timezone":  in.Timezone,
					"is_active": true,
				}).Error; err != nil {
					return err
				}
				existing.Name, existing.Currency, existing.Timezone, existing.IsActive = in.Name, in.Currency, in.Timezone, true
				stored = append(stored, existing)
			case errors.Is(err, gorm.ErrRecordNotFound):
				acc := models.PlatformAccount{
					ID:           uuid.New().String(),
					TenantID:     ds.TenantID,
					DataSourceID: ds.ID,
					ExternalID:   in.ExternalID,
					Platform:     ds.Platform,
					Name:         in.Name,
					Currency:     in.Currency,
					Timezone:     in.Timezone,
					IsActive:     true,
				}
				if err := tx.Create(&acc).Error; err != nil {
					return err
				}
				stored = append(stored, acc)
			default:
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// GetPlatformAccount loads an account that belongs to dataSourceID.
func GetPlatformAccount(ctx context.Context, db *gorm.DB, dataSourceID, accountID string) (*models.PlatformAccount, error) {
	var acc models.PlatformAccount
	err := db.WithContext(ctx).Where("id = ? AND data_source_id = ?", accountID, dataSourceID).First(&acc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

// ListPlatformAccounts returns the accounts of a data source ordered by name.
func ListPlatformAccounts(ctx context.Context, db *gorm.DB, dataSourceID string, activeOnly bool) ([]models.PlatformAccount, error) {
	q := db.WithContext(ctx).Where("data_source_id = ?", dataSourceID)
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var accounts []models.PlatformAccount
	err := q.Order("name, external_id").Find(&accounts).Error
	return accounts, err
}

// SetAccountSyncResult stamps an account after a sync attempt. A nil at
// leaves the sync timestamps unchanged.
func SetAccountSyncResult(ctx context.Context, db *gorm.DB, accountID string, at *time.Time, healing bool, syncErr string) error {
	updates := map[string]any{"last_sync_error": syncErr}
	if at != nil {
		updates["last_sync_at"] = *at
		if healing {
			updates["last_healing_sync_at"] = *at
		}
	}
	return db.WithContext(ctx).Model(&models.PlatformAccount{}).
		Where("id = ?", accountID).
		Updates(updates).Error
}

// RemovePlatformAccount deletes an account together with its cached
// metrics and client links.
func RemovePlatformAccount(ctx context.Context, db *gorm.DB, tenantID, accountID string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND tenant_id = ?", accountID, tenantID).Delete(&models.PlatformAccount{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrAccountNotFound
		}
		if err := tx.Where("platform_account_id = ?", accountID).Delete(&models.MetricRecord{}).Error; err != nil {
			return err
		}
		return tx.Where("platform_account_id = ?", accountID).Delete(&models.ClientAccountLink{}).Error
	})
}

// ===== Clients =====

// GetLinkedPlatformAccounts returns the accounts linked to a tenant's
// client. Accounts of other tenants are never returned.
func GetLinkedPlatformAccounts(ctx context.Context, db *gorm.DB, tenantID, clientID string) ([]models.PlatformAccount, error) {
	var client models.Client
	err := db.WithContext(ctx).Where("id = ? AND tenant_id = ?", clientID, tenantID).First(&client).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrClientNotFound
	}
	if err != nil {
		return nil, err
	}

	var accounts []models.PlatformAccount
	err = db.WithContext(ctx).
		Joins("JOIN client_account_links ON client_account_links.platform_account_id = platform_accounts.id").
		Where("client_account_links.client_id = ? AND platform_accounts.tenant_id = ?", clientID, tenantID).
		Order("platform_accounts.platform, platform_accounts.name").
		Find(&accounts).Error
	return accounts, err
}

// LinkAccountToClient attaches an account to a client of the same tenant.
func LinkAccountToClient(ctx context.Context, db *gorm.DB, tenantID, clientID, accountID string) error {
	var n int64
	if err := db.WithContext(ctx).Model(&models.Client{}).Where("id = ? AND tenant_id = ?", clientID, tenantID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrClientNotFound
	}
	if err := db.WithContext(ctx).Model(&models.PlatformAccount{}).Where("id = ? AND tenant_id = ?", accountID, tenantID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrAccountNotFound
	}
	link := models.ClientAccountLink{ClientID: clientID, PlatformAccountID: accountID}
	return db.WithContext(ctx).
		Where(models.ClientAccountLink{ClientID: clientID, PlatformAccountID: accountID}).
		FirstOrCreate(&link).Error
}

// ===== Sync runs =====

// RecordSyncRun persists a run summary.
func RecordSyncRun(ctx context.Context, db *gorm.DB, run *models.SyncRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	return db.WithContext(ctx).Create(run).Error
}

// ListSyncRuns returns a tenant's most recent runs first.
func ListSyncRuns(ctx context.Context, db *gorm.DB, tenantID string, limit int) ([]models.SyncRun, error) {
	if limit <= 0 {
		limit = 50
	}
	var runs []models.SyncRun
	err := db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}
