package models

import "time"

// Tenant is an agency workspace. Every other row is scoped to one.
type Tenant struct {
	ID        string    `gorm:"primaryKey" json:"id"` // UUID
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Client is an agency customer whose reports aggregate linked accounts.
type Client struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	TenantID  string    `gorm:"index;not null" json:"tenant_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ClientAccountLink attaches a platform account to a client's reports.
// The (ClientID, PlatformAccountID) pair is unique.
type ClientAccountLink struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	ClientID          string    `gorm:"uniqueIndex:idx_client_account;not null" json:"client_id"`
	PlatformAccountID string    `gorm:"uniqueIndex:idx_client_account;not null;index" json:"platform_account_id"`
	CreatedAt         time.Time `json:"created_at"`
}
