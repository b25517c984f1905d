package models

import "time"

// PlatformAccount is an ad account or analytics property reachable through
// a DataSource. ExternalID is unique within its data source.
type PlatformAccount struct {
	ID                string     `gorm:"primaryKey" json:"id"` // UUID
	TenantID          string     `gorm:"index;not null" json:"tenant_id"`
	DataSourceID      string     `gorm:"uniqueIndex:idx_source_external;not null" json:"data_source_id"`
	ExternalID        string     `gorm:"uniqueIndex:idx_source_external;not null" json:"external_id"`
	Platform          string     `gorm:"index" json:"platform"`
	Name              string     `json:"name"`
	Currency          string     `json:"currency,omitempty"`
	Timezone          string     `json:"timezone,omitempty"`
	IsActive          bool       `gorm:"default:true" json:"is_active"`
	LastSyncAt        *time.Time `json:"last_sync_at,omitempty"`
	LastHealingSyncAt *time.Time `json:"last_healing_sync_at,omitempty"`
	LastSyncError     string     `json:"last_sync_error,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// DisplayName falls back to the external id for unnamed accounts.
func (a PlatformAccount) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.ExternalID
}
