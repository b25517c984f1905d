package metricstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mhuici/tamarindo-reports-sub000/internal/db"
	"github.com/mhuici/tamarindo-reports-sub000/internal/db/models"
	"github.com/mhuici/tamarindo-reports-sub000/internal/logging"
	"github.com/mhuici/tamarindo-reports-sub000/internal/metrics"
	"github.com/mhuici/tamarindo-reports-sub000/internal/platform"
	"github.com/mhuici/tamarindo-reports-sub000/internal/syncerr"
	"gorm.io/gorm"
)

// DefaultTTL is how long cached metrics count as fresh for on-demand reads.
const DefaultTTL = time.Hour

// TokenSource hands out valid access tokens per data source.
type TokenSource interface {
	GetValidAccessToken(ctx context.Context, dataSourceID string) (string, error)
}

// Aggregator syncs accounts into the cache and aggregates cached days.
type Aggregator struct {
	db       *gorm.DB
	cache    Cache
	tokens   TokenSource
	registry *platform.Registry
	ttl      time.Duration
	now      func() time.Time
}

// Option customizes an Aggregator.
type Option func(*Aggregator)

func WithTTL(ttl time.Duration) Option {
	return func(a *Aggregator) {
		if ttl > 0 {
			a.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

func NewAggregator(gdb *gorm.DB, cache Cache, tokens TokenSource, registry *platform.Registry, opts ...Option) *Aggregator {
	a := &Aggregator{
		db:       gdb,
		cache:    cache,
		tokens:   tokens,
		registry: registry,
		ttl:      DefaultTTL,
		now:      time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// SyncMetrics fetches r for one account of a data source and upserts every
// returned day. It returns the number of days written.
func (a *Aggregator) SyncMetrics(ctx context.Context, dataSourceID, accountID string, r platform.DateRange) (int, error) {
	ds, err := db.GetDataSourceByID(ctx, a.db, dataSourceID)
	if err != nil {
		return 0, err
	}
	acc, err := db.GetPlatformAccount(ctx, a.db, dataSourceID, accountID)
	if err != nil {
		return 0, err
	}
	return a.SyncAccount(ctx, ds, acc, r, false)
}

// SyncAccount is SyncMetrics for already loaded rows. healing also stamps
// the account's healing timestamp. Failures come back as
// *syncerr.Classified and are recorded on the account.
func (a *Aggregator) SyncAccount(ctx context.Context, ds *models.DataSource, acc *models.PlatformAccount, r platform.DateRange, healing bool) (int, error) {
	kind := platform.Kind(ds.Platform)
	mode := models.SyncKindOnDemand
	if healing {
		mode = models.SyncKindHealing
	}
	log := logging.Ctx(ctx).With().
		Str("data_source_id", ds.ID).
		Str("account_id", acc.ID).
		Str("platform", ds.Platform).
		Str("range", r.String()).
		Str("mode", mode).
		Logger()

	n, err := a.syncAccount(ctx, ds, acc, r)
	metrics.AccountSyncs.WithLabelValues(ds.Platform, metrics.Outcome(err)).Inc()
	if err != nil {
		cl := a.registry.Classify(err, kind)
		metrics.SyncErrors.WithLabelValues(ds.Platform, string(cl.Code)).Inc()
		if ctx.Err() == nil {
			if rerr := a.cache.RecordSyncError(ctx, acc.ID, cl.Message); rerr != nil {
				log.Warn().Err(rerr).Msg("failed to record account sync error")
			}
		}
		log.Warn().Err(err).Str("code", string(cl.Code)).Str("action", string(cl.Action)).Msg("account sync failed")
		return 0, cl
	}

	metrics.RecordsUpserted.WithLabelValues(ds.Platform, mode).Add(float64(n))
	if err := a.cache.StampSync(ctx, acc.ID, a.now(), healing); err != nil {
		return n, fmt.Errorf("stamp account sync: %w", err)
	}
	log.Info().Int("records", n).Msg("account synced")
	return n, nil
}

func (a *Aggregator) syncAccount(ctx context.Context, ds *models.DataSource, acc *models.PlatformAccount, r platform.DateRange) (int, error) {
	if acc.DataSourceID != ds.ID {
		return 0, fmt.Errorf("account %s does not belong to data source %s", acc.ID, ds.ID)
	}
	conn, err := a.registry.Get(platform.Kind(ds.Platform))
	if err != nil {
		return 0, err
	}
	token, err := a.tokens.GetValidAccessToken(ctx, ds.ID)
	if err != nil {
		return 0, err
	}
	points, err := conn.FetchMetrics(ctx, token, acc.ExternalID, r)
	if err != nil {
		return 0, err
	}
	return a.cache.Upsert(ctx, acc.ID, points)
}

// SyncError describes an account that could not be refreshed.
type SyncError struct {
	AccountID   string         `json:"accountId"`
	AccountName string         `json:"accountName"`
	Platform    platform.Kind  `json:"platform"`
	Code        syncerr.Code   `json:"code"`
	Action      syncerr.Action `json:"action"`
	Message     string         `json:"message"`
}

// DatePoint is one day of the aggregated series.
type DatePoint struct {
	Date    string             `json:"date"`
	Metrics map[string]float64 `json:"metrics"`
}

// AccountSummary lists a linked account in the aggregate.
type AccountSummary struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Platform   platform.Kind `json:"platform"`
	Currency   string        `json:"currency,omitempty"`
	LastSyncAt *time.Time    `json:"lastSyncAt,omitempty"`
}

// Aggregated is a client's metrics over a range and the equal-length range
// before it.
type Aggregated struct {
	Start          string                               `json:"start"`
	End            string                               `json:"end"`
	PreviousStart  string                               `json:"previousStart"`
	PreviousEnd    string                               `json:"previousEnd"`
	Totals         map[string]float64                   `json:"totals"`
	PreviousTotals map[string]float64                   `json:"previousTotals"`
	ByDate         []DatePoint                          `json:"byDate"`
	BySource       map[platform.Kind]map[string]float64 `json:"bySource"`
	ByAccount      map[string]map[string]float64        `json:"byAccount"`
	Accounts       []AccountSummary                     `json:"accounts"`
	SyncErrors     []SyncError                          `json:"syncErrors,omitempty"`
}

// GetMetricsForClient syncs the client's linked accounts that are stale
// (or all of them when forceSync), then aggregates the cache. A failing
// account is reported in SyncErrors and its cached days are still used.
func (a *Aggregator) GetMetricsForClient(ctx context.Context, tenantID, clientID string, r platform.DateRange, forceSync bool) (*Aggregated, error) {
	accounts, err := db.GetLinkedPlatformAccounts(ctx, a.db, tenantID, clientID)
	if err != nil {
		return nil, err
	}

	prev := r.Previous()
	window := prev.Extend(r)
	now := a.now()
	sources := make(map[string]*models.DataSource)

	agg := &Aggregated{
		Start:         r.StartDate(),
		End:           r.EndDate(),
		PreviousStart: prev.StartDate(),
		PreviousEnd:   prev.EndDate(),
	}
	ids := make([]string, 0, len(accounts))
	kindOf := make(map[string]platform.Kind, len(accounts))

	for i := range accounts {
		acc := &accounts[i]
		ids = append(ids, acc.ID)
		kindOf[acc.ID] = platform.Kind(acc.Platform)

		if acc.IsActive && (forceSync || NeedsSync(acc.LastSyncAt, now, a.ttl)) {
			if err := a.syncLinked(ctx, tenantID, acc, window, sources); err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				agg.SyncErrors = append(agg.SyncErrors, syncErrorFor(acc, a.registry.Classify(err, platform.Kind(acc.Platform))))
			} else {
				t := a.now()
				acc.LastSyncAt = &t
			}
		}
		agg.Accounts = append(agg.Accounts, AccountSummary{
			ID:         acc.ID,
			Name:       acc.DisplayName(),
			Platform:   platform.Kind(acc.Platform),
			Currency:   acc.Currency,
			LastSyncAt: acc.LastSyncAt,
		})
	}

	records, err := a.cache.Range(ctx, ids, window)
	if err != nil {
		return nil, err
	}
	aggregate(agg, records, r, prev, kindOf)
	return agg, nil
}

func (a *Aggregator) syncLinked(ctx context.Context, tenantID string, acc *models.PlatformAccount, r platform.DateRange, sources map[string]*models.DataSource) error {
	ds, ok := sources[acc.DataSourceID]
	if !ok {
		var err error
		ds, err = db.GetDataSource(ctx, a.db, tenantID, acc.DataSourceID)
		if err != nil {
			return err
		}
		sources[acc.DataSourceID] = ds
	}
	_, err := a.SyncAccount(ctx, ds, acc, r, false)
	return err
}

func syncErrorFor(acc *models.PlatformAccount, cl *syncerr.Classified) SyncError {
	return SyncError{
		AccountID:   acc.ID,
		AccountName: acc.DisplayName(),
		Platform:    platform.Kind(acc.Platform),
		Code:        cl.Code,
		Action:      cl.Action,
		Message:     cl.Message,
	}
}

// aggregate sums records into agg. Ratio metrics are derived from the sums.
func aggregate(agg *Aggregated, records []Record, cur, prev platform.DateRange, kindOf map[string]platform.Kind) {
	totals := map[string]float64{}
	previous := map[string]float64{}
	byDate := make(map[string]map[string]float64, cur.Days())
	bySource := map[platform.Kind]map[string]float64{}
	byAccount := map[string]map[string]float64{}

	for _, rec := range records {
		switch {
		case cur.Contains(rec.Date):
			platform.SumInto(totals, rec.Metrics)
			day, ok := byDate[rec.Date]
			if !ok {
				day = map[string]float64{}
				byDate[rec.Date] = day
			}
			platform.SumInto(day, rec.Metrics)
			kind := kindOf[rec.AccountID]
			if bySource[kind] == nil {
				bySource[kind] = map[string]float64{}
			}
			platform.SumInto(bySource[kind], rec.Metrics)
			if byAccount[rec.AccountID] == nil {
				byAccount[rec.AccountID] = map[string]float64{}
			}
			platform.SumInto(byAccount[rec.AccountID], rec.Metrics)
		case prev.Contains(rec.Date):
			platform.SumInto(previous, rec.Metrics)
		}
	}

	agg.Totals = platform.Derive(totals)
	agg.PreviousTotals = platform.Derive(previous)
	agg.ByDate = make([]DatePoint, 0, cur.Days())
	for _, d := range cur.Dates() {
		agg.ByDate = append(agg.ByDate, DatePoint{Date: d, Metrics: platform.Derive(byDate[d])})
	}
	agg.BySource = make(map[platform.Kind]map[string]float64, len(bySource))
	for k, m := range bySource {
		agg.BySource[k] = platform.Derive(m)
	}
	agg.ByAccount = make(map[string]map[string]float64, len(byAccount))
	for id, m := range byAccount {
		agg.ByAccount[id] = platform.Derive(m)
	}
}

// IsNotFound reports whether err means the client or account is unknown
// to the tenant.
func IsNotFound(err error) bool {
	return errors.Is(err, db.ErrClientNotFound) ||
		errors.Is(err, db.ErrAccountNotFound) ||
		errors.Is(err, db.ErrDataSourceNotFound)
}
