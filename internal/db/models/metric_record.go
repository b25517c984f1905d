package models

import (
	"time"

	"gorm.io/datatypes"
)

// MetricRecord holds one account's metrics for one UTC calendar day.
// (PlatformAccountID, Date) is unique; a newer fetch replaces the map.
type MetricRecord struct {
	ID                uint                                   `gorm:"primaryKey" json:"-"`
	PlatformAccountID string                                 `gorm:"uniqueIndex:idx_account_date;not null" json:"platform_account_id"`
	Date              string                                 `gorm:"uniqueIndex:idx_account_date;type:text;not null" json:"date"` // YYYY-MM-DD
	Metrics           datatypes.JSONType[map[string]float64] `json:"metrics"`
	SyncedAt          time.Time                              `json:"synced_at"`
	CreatedAt         time.Time                              `json:"created_at"`
	UpdatedAt         time.Time                              `json:"updated_at"`
}
