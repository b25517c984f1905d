// Package metricstore keeps the per-day metric cache and aggregates it for
// client reports.
package metricstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mhuici/tamarindo-reports-sub000/internal/db"
	"github.com/mhuici/tamarindo-reports-sub000/internal/db/models"
	"github.com/mhuici/tamarindo-reports-sub000/internal/platform"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Record is one cached (account, day) entry.
type Record struct {
	AccountID string
	Date      string
	Metrics   map[string]float64
}

// Cache is the date-partitioned metric store. Upsert replaces the stored
// map of a day outright; it never merges.
type Cache interface {
	Upsert(ctx context.Context, accountID string, points []platform.DailyDataPoint) (int, error)
	Range(ctx context.Context, accountIDs []string, r platform.DateRange) ([]Record, error)
	LastSync(ctx context.Context, accountID string) (*time.Time, error)
	// StampSync records a successful sync at and clears the sync error.
	StampSync(ctx context.Context, accountID string, at time.Time, healing bool) error
	// RecordSyncError annotates a failed sync without touching timestamps.
	RecordSyncError(ctx context.Context, accountID, msg string) error
}

// NeedsSync reports whether an account last synced at lastSyncAt is stale.
func NeedsSync(lastSyncAt *time.Time, now time.Time, ttl time.Duration) bool {
	return lastSyncAt == nil || now.Sub(*lastSyncAt) > ttl
}

// dedupe keeps the last point per day, in day order.
func dedupe(points []platform.DailyDataPoint) []platform.DailyDataPoint {
	byDate := make(map[string]platform.DailyDataPoint, len(points))
	for _, p := range points {
		if p.Date == "" {
			continue
		}
		byDate[p.Date] = p
	}
	out := make([]platform.DailyDataPoint, 0, len(byDate))
	for _, p := range byDate {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// GormCache stores records in the metric_records table.
type GormCache struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormCache(gdb *gorm.DB) *GormCache {
	return &GormCache{db: gdb, now: time.Now}
}

func (c *GormCache) Upsert(ctx context.Context, accountID string, points []platform.DailyDataPoint) (int, error) {
	points = dedupe(points)
	if len(points) == 0 {
		return 0, nil
	}
	now := c.now()
	records := make([]models.MetricRecord, 0, len(points))
	for _, p := range points {
		m := p.Metrics
		if m == nil {
			m = map[string]float64{}
		}
		records = append(records, models.MetricRecord{
			PlatformAccountID: accountID,
			Date:              p.Date,
			Metrics:           datatypes.NewJSONType(m),
			SyncedAt:          now,
		})
	}
	err := c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "platform_account_id"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{"metrics", "synced_at", "updated_at"}),
	}).Create(&records).Error
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

func (c *GormCache) Range(ctx context.Context, accountIDs []string, r platform.DateRange) ([]Record, error) {
	if len(accountIDs) == 0 {
		return nil, nil
	}
	var rows []models.MetricRecord
	err := c.db.WithContext(ctx).
		Where("platform_account_id IN ? AND date >= ? AND date <= ?", accountIDs, r.StartDate(), r.EndDate()).
		Order("date, platform_account_id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, Record{AccountID: row.PlatformAccountID, Date: row.Date, Metrics: row.Metrics.Data()})
	}
	return out, nil
}

func (c *GormCache) LastSync(ctx context.Context, accountID string) (*time.Time, error) {
	var acc models.PlatformAccount
	err := c.db.WithContext(ctx).Select("id", "last_sync_at").Where("id = ?", accountID).First(&acc).Error
	if err != nil {
		return nil, err
	}
	return acc.LastSyncAt, nil
}

func (c *GormCache) StampSync(ctx context.Context, accountID string, at time.Time, healing bool) error {
	return db.SetAccountSyncResult(ctx, c.db, accountID, &at, healing, "")
}

func (c *GormCache) RecordSyncError(ctx context.Context, accountID, msg string) error {
	return db.SetAccountSyncResult(ctx, c.db, accountID, nil, false, msg)
}

// MemoryCache is a process-local Cache for tools and tests.
type MemoryCache struct {
	mu       sync.RWMutex
	records  map[string]map[string]map[string]float64 // account -> date -> metrics
	lastSync map[string]time.Time
	errors   map[string]string
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		records:  make(map[string]map[string]map[string]float64),
		lastSync: make(map[string]time.Time),
		errors:   make(map[string]string),
	}
}

func (c *MemoryCache) Upsert(_ context.Context, accountID string, points []platform.DailyDataPoint) (int, error) {
	points = dedupe(points)
	c.mu.Lock()
	defer c.mu.Unlock()
	days, ok := c.records[accountID]
	if !ok {
		days = make(map[string]map[string]float64)
		c.records[accountID] = days
	}
	for _, p := range points {
		m := make(map[string]float64, len(p.Metrics))
		for k, v := range p.Metrics {
			m[k] = v
		}
		days[p.Date] = m
	}
	return len(points), nil
}

func (c *MemoryCache) Range(_ context.Context, accountIDs []string, r platform.DateRange) ([]Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Record
	for _, id := range accountIDs {
		for date, m := range c.records[id] {
			if r.Contains(date) {
				out = append(out, Record{AccountID: id, Date: date, Metrics: m})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].AccountID < out[j].AccountID
	})
	return out, nil
}

func (c *MemoryCache) LastSync(_ context.Context, accountID string) (*time.Time, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.lastSync[accountID]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (c *MemoryCache) StampSync(_ context.Context, accountID string, at time.Time, _ bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSync[accountID] = at
	delete(c.errors, accountID)
	return nil
}

func (c *MemoryCache) RecordSyncError(_ context.Context, accountID, msg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors[accountID] = msg
	return nil
}

// SyncError returns the recorded error of an account.
func (c *MemoryCache) SyncError(accountID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.errors[accountID]
}
