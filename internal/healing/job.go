// Package healing re-fetches a trailing window of metrics for every
// active data source so that figures revised upstream after the first
// ingestion overwrite the cached ones.
package healing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mhuici/tamarindo-reports-sub000/internal/db"
	"github.com/mhuici/tamarindo-reports-sub000/internal/logging"
	"github.com/mhuici/tamarindo-reports-sub000/internal/metrics"
	"github.com/mhuici/tamarindo-reports-sub000/internal/platform"
	"github.com/mhuici/tamarindo-reports-sub000/internal/syncer"
	"gorm.io/gorm"
)

// DefaultDays is the trailing window re-verified by every sweep.
const DefaultDays = 7

// TenantResult summarizes the healing of one tenant.
type TenantResult struct {
	TenantID          string   `json:"tenantId"`
	DataSources       int      `json:"dataSources"`
	AccountsProcessed int      `json:"accountsProcessed"`
	MetricsUpdated    int      `json:"metricsUpdated"`
	Errors            []string `json:"errors"`
	Success           bool     `json:"success"`
}

// SweepResult summarizes a healing run over all tenants.
type SweepResult struct {
	SweepID             string         `json:"sweepId"`
	Success             bool           `json:"success"`
	TenantsProcessed    int            `json:"tenantsProcessed"`
	TotalMetricsUpdated int            `json:"totalMetricsUpdated"`
	ErrorsCount         int            `json:"errorsCount"`
	DurationMs          int64          `json:"durationMs"`
	Tenants             []TenantResult `json:"tenants,omitempty"`
}

type Job struct {
	db   *gorm.DB
	orch *syncer.Orchestrator
	days int
	now  func() time.Time
}

type Option func(*Job)

// WithDays sets the trailing window length.
func WithDays(n int) Option {
	return func(j *Job) {
		if n > 0 {
			j.days = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(j *Job) { j.now = now }
}

func NewJob(gdb *gorm.DB, orch *syncer.Orchestrator, opts ...Option) *Job {
	j := &Job{db: gdb, orch: orch, days: DefaultDays, now: time.Now}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Window returns the range the next sweep will re-fetch.
func (j *Job) Window() platform.DateRange {
	return platform.TrailingDays(j.now().UTC(), j.days)
}

// HealTenant re-syncs the window for every active data source of
// tenantID. A failing account or data source is recorded and the run
// moves on; corrections already written are kept.
func (j *Job) HealTenant(ctx context.Context, tenantID string) TenantResult {
	res := TenantResult{TenantID: tenantID, Errors: []string{}}
	log := logging.Ctx(ctx).With().Str("tenant_id", tenantID).Logger()

	sources, err := db.GetActiveDataSources(ctx, j.db, tenantID)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("list data sources: %v", err))
		return res
	}

	window := j.Window()
	for _, ds := range sources {
		if ctx.Err() != nil {
			res.Errors = append(res.Errors, "healing interrupted: "+ctx.Err().Error())
			break
		}
		res.DataSources++
		out, err := j.orch.SyncDataSource(ctx, syncer.Request{
			TenantID:     tenantID,
			DataSourceID: ds.ID,
			Range:        window,
			Healing:      true,
		})
		if err != nil {
			log.Warn().Err(err).Str("data_source_id", ds.ID).Msg("healing sync failed")
			res.Errors = append(res.Errors, fmt.Sprintf("data source %s: %v", ds.Platform, err))
			continue
		}
		res.AccountsProcessed += out.AccountsProcessed
		res.MetricsUpdated += out.MetricsUpdated
		res.Errors = append(res.Errors, out.Errors...)
	}

	res.Success = len(res.Errors) == 0
	log.Info().Int("data_sources", res.DataSources).Int("accounts_processed", res.AccountsProcessed).
		Int("metrics_updated", res.MetricsUpdated).Int("errors", len(res.Errors)).
		Str("window", window.String()).Msg("tenant healed")
	return res
}

// HealAll heals every tenant owning at least one active data source.
func (j *Job) HealAll(ctx context.Context) (res SweepResult) {
	started := j.now()
	res = SweepResult{SweepID: uuid.New().String()}
	ctx = logging.WithSweepID(ctx, res.SweepID)
	log := logging.Ctx(ctx)
	log.Info().Int("days", j.days).Msg("healing sweep started")

	defer func() {
		d := j.now().Sub(started)
		res.DurationMs = d.Milliseconds()
		metrics.ObserveSweep(d, res.Success)
	}()

	tenants, err := db.GetAllTenantsWithActiveDataSources(ctx, j.db)
	if err != nil {
		log.Error().Err(err).Msg("failed to list tenants")
		res.ErrorsCount = 1
		return res
	}

	for _, t := range tenants {
		if ctx.Err() != nil {
			log.Warn().Err(ctx.Err()).Msg("healing sweep interrupted")
			res.ErrorsCount++
			break
		}
		tr := j.HealTenant(ctx, t.ID)
		res.TenantsProcessed++
		res.TotalMetricsUpdated += tr.MetricsUpdated
		res.ErrorsCount += len(tr.Errors)
		res.Tenants = append(res.Tenants, tr)
	}

	res.Success = res.ErrorsCount == 0
	log.Info().Bool("success", res.Success).Int("tenants", res.TenantsProcessed).
		Int("metrics_updated", res.TotalMetricsUpdated).Int("errors", res.ErrorsCount).
		Msg("healing sweep finished")
	return res
}
