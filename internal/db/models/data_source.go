package models

import "time"

// DataSourceStatus is the lifecycle state of a platform connection.
type DataSourceStatus string

const (
	StatusActive      DataSourceStatus = "ACTIVE"
	StatusSyncing     DataSourceStatus = "SYNCING"
	StatusError       DataSourceStatus = "ERROR"
	StatusNeedsReauth DataSourceStatus = "NEEDS_REAUTH"
)

// DataSource is one tenant's authorized connection to one platform.
// Credentials hold the encrypted token bundle and never leave the vault
// in plaintext.
type DataSource struct {
	ID             string           `gorm:"primaryKey" json:"id"` // UUID
	TenantID       string           `gorm:"uniqueIndex:idx_tenant_platform;not null" json:"tenant_id"`
	Platform       string           `gorm:"uniqueIndex:idx_tenant_platform;not null" json:"platform"` // google_ads, meta_ads, ga4
	Status         DataSourceStatus `gorm:"index;default:'ACTIVE'" json:"status"`
	IsActive       bool             `gorm:"default:true" json:"is_active"`
	Credentials    []byte           `json:"-"`
	ExternalUserID string           `json:"external_user_id,omitempty"`
	LastSyncAt     *time.Time       `json:"last_sync_at,omitempty"`
	LastError      string           `json:"last_error,omitempty"`
	// ActiveSyncs counts runs in flight; the last one to finish decides
	// the terminal status.
	ActiveSyncs int       `gorm:"not null;default:0" json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
