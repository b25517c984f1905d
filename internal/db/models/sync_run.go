package models

// SyncRun kinds.
const (
	SyncKindOnDemand = "on_demand"
	SyncKindHealing  = "healing"
)

// SyncRun records one orchestrated sync of a data source.
type SyncRun struct {
	ID                string `gorm:"primaryKey" json:"id"`
	TenantID          string `gorm:"index" json:"tenant_id"`
	DataSourceID      string `gorm:"index" json:"data_source_id"`
	Platform          string `json:"platform"`
	Kind              string `gorm:"index" json:"kind"`
	StartedAt         int64  `gorm:"index" json:"started_at"` // unix millis
	Duration          int64  `json:"duration"`                // milliseconds
	RangeStart        string `json:"range_start"`
	RangeEnd          string `json:"range_end"`
	AccountsProcessed int    `json:"accounts_processed"`
	AccountsFailed    int    `json:"accounts_failed"`
	MetricsUpdated    int    `json:"metrics_updated"`
	ReconnectRequired bool   `json:"reconnect_required"`
	Errors            string `gorm:"type:text" json:"errors,omitempty"` // newline separated
}
