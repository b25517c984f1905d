// Package syncer runs multi-account syncs of one data source and decides
// the overall outcome.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mhuici/tamarindo-reports-sub000/internal/db"
	"github.com/mhuici/tamarindo-reports-sub000/internal/db/models"
	"github.com/mhuici/tamarindo-reports-sub000/internal/logging"
	"github.com/mhuici/tamarindo-reports-sub000/internal/metricstore"
	"github.com/mhuici/tamarindo-reports-sub000/internal/platform"
	"github.com/mhuici/tamarindo-reports-sub000/internal/syncerr"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Request selects what to sync. An empty AccountID syncs every active
// account of the data source.
type Request struct {
	TenantID     string
	DataSourceID string
	AccountID    string
	Range        platform.DateRange
	// Healing marks scheduled re-verification runs.
	Healing bool
}

// AccountResult is the outcome for one account.
type AccountResult struct {
	AccountID   string         `json:"accountId"`
	AccountName string         `json:"accountName"`
	Success     bool           `json:"success"`
	Records     int            `json:"records"`
	Error       string         `json:"error,omitempty"`
	ErrorCode   syncerr.Code   `json:"errorCode,omitempty"`
	Action      syncerr.Action `json:"action,omitempty"`
	// UserMessage is the call-to-action shown next to a failed account.
	UserMessage string `json:"userMessage,omitempty"`

	classified *syncerr.Classified
}

// Outcome summarizes a data source sync.
type Outcome struct {
	TenantID          string          `json:"tenantId"`
	DataSourceID      string          `json:"dataSourceId"`
	Platform          platform.Kind   `json:"platform"`
	Start             string          `json:"start"`
	End               string          `json:"end"`
	Accounts          []AccountResult `json:"accounts"`
	AccountsProcessed int             `json:"accountsProcessed"`
	AccountsFailed    int             `json:"accountsFailed"`
	MetricsUpdated    int             `json:"metricsUpdated"`
	// ReconnectRequired is set only when every account failed and every
	// failure calls for re-authorization.
	ReconnectRequired bool          `json:"reconnectRequired"`
	Errors            []string      `json:"errors,omitempty"`
	Duration          time.Duration `json:"-"`
	DurationMs        int64         `json:"durationMs"`
}

// HasErrors reports partial or total failure.
func (o *Outcome) HasErrors() bool { return len(o.Errors) > 0 }

// Orchestrator coordinates account syncs through the aggregator.
type Orchestrator struct {
	db          *gorm.DB
	agg         *metricstore.Aggregator
	concurrency int
	now         func() time.Time
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithConcurrency bounds how many accounts of one data source sync at
// once. Platform rate limiters still apply across all of them.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func New(gdb *gorm.DB, agg *metricstore.Aggregator, opts ...Option) *Orchestrator {
	o := &Orchestrator{db: gdb, agg: agg, concurrency: 1, now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SyncDataSource syncs the requested accounts of a tenant's data source.
// The data source is SYNCING while it runs and always ends ACTIVE or
// ERROR, even when ctx is cancelled midway; NEEDS_REAUTH set during the
// run is kept.
func (o *Orchestrator) SyncDataSource(ctx context.Context, req Request) (out *Outcome, err error) {
	ds, err := db.GetDataSource(ctx, o.db, req.TenantID, req.DataSourceID)
	if err != nil {
		return nil, err
	}
	started := o.now()
	out = &Outcome{
		TenantID:     ds.TenantID,
		DataSourceID: ds.ID,
		Platform:     platform.Kind(ds.Platform),
		Start:        req.Range.StartDate(),
		End:          req.Range.EndDate(),
	}
	log := logging.Ctx(ctx).With().Str("tenant_id", ds.TenantID).Str("data_source_id", ds.ID).
		Str("platform", ds.Platform).Str("range", req.Range.String()).Bool("healing", req.Healing).Logger()

	if ds.Status == models.StatusNeedsReauth {
		out.ReconnectRequired = true
		out.Errors = []string{"data source needs to be reconnected"}
		return out, nil
	}

	accounts, err := o.accounts(ctx, ds.ID, req.AccountID)
	if err != nil {
		return nil, err
	}

	if err := db.BeginDataSourceSync(ctx, o.db, ds.ID); err != nil {
		return nil, fmt.Errorf("mark data source syncing: %w", err)
	}
	defer func() {
		// Terminal status is written on a context that outlives ctx.
		finishCtx := context.WithoutCancel(ctx)
		syncErr := ""
		if r := recover(); r != nil {
			syncErr = fmt.Sprintf("sync aborted: %v", r)
			o.finish(finishCtx, ds.ID, syncErr)
			panic(r)
		}
		switch {
		case ctx.Err() != nil:
			syncErr = "sync interrupted: " + ctx.Err().Error()
		case out != nil && len(out.Accounts) > 0 && out.AccountsFailed == len(out.Accounts):
			syncErr = strings.Join(out.Errors, "; ")
		}
		o.finish(finishCtx, ds.ID, syncErr)
		if out != nil {
			out.Duration = o.now().Sub(started)
			out.DurationMs = out.Duration.Milliseconds()
			o.recordRun(finishCtx, req, out, started)
		}
	}()

	out.Accounts = o.run(ctx, ds, accounts, req)
	summarize(out)
	log.Info().Int("processed", out.AccountsProcessed).Int("failed", out.AccountsFailed).
		Int("metrics_updated", out.MetricsUpdated).Bool("reconnect_required", out.ReconnectRequired).
		Msg("data source sync finished")
	return out, nil
}

func (o *Orchestrator) accounts(ctx context.Context, dataSourceID, accountID string) ([]models.PlatformAccount, error) {
	if accountID == "" {
		return db.ListPlatformAccounts(ctx, o.db, dataSourceID, true)
	}
	acc, err := db.GetPlatformAccount(ctx, o.db, dataSourceID, accountID)
	if err != nil {
		return nil, err
	}
	return []models.PlatformAccount{*acc}, nil
}

// run syncs accounts with bounded concurrency. Each account's failure is
// isolated in its result.
func (o *Orchestrator) run(ctx context.Context, ds *models.DataSource, accounts []models.PlatformAccount, req Request) []AccountResult {
	results := make([]AccountResult, len(accounts))
	name := platform.Kind(ds.Platform).DisplayName()
	g := new(errgroup.Group)
	g.SetLimit(o.concurrency)
	for i := range accounts {
		acc := &accounts[i]
		results[i] = AccountResult{AccountID: acc.ID, AccountName: acc.DisplayName()}
		if ctx.Err() != nil {
			results[i].fail(syncerr.Classify(ctx.Err()), name)
			continue
		}
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					results[i].fail(syncerr.New(syncerr.CodeUnknown, fmt.Sprintf("panic: %v", r), nil), name)
				}
			}()
			if ctx.Err() != nil {
				results[i].fail(syncerr.Classify(ctx.Err()), name)
				return nil
			}
			n, err := o.agg.SyncAccount(ctx, ds, acc, req.Range, req.Healing)
			if err != nil {
				var cl *syncerr.Classified
				if !errors.As(err, &cl) {
					cl = syncerr.Classify(err)
				}
				results[i].fail(cl, name)
				return nil
			}
			results[i].Success = true
			results[i].Records = n
			return nil
		})
	}
	g.Wait()
	return results
}

func (r *AccountResult) fail(cl *syncerr.Classified, platformName string) {
	r.Success = false
	r.UserMessage = syncerr.UserMessage(cl, platformName)
	r.classified = cl
	r.Error = cl.Message
	r.ErrorCode = cl.Code
	r.Action = cl.Action
}

func summarize(out *Outcome) {
	reconnect := len(out.Accounts) > 0
	for _, r := range out.Accounts {
		if r.Success {
			out.AccountsProcessed++
			out.MetricsUpdated += r.Records
			reconnect = false
			continue
		}
		out.AccountsFailed++
		out.Errors = append(out.Errors, fmt.Sprintf("account %s: %s", r.AccountName, r.Error))
		if !syncerr.NeedsReconnection(r.classified) {
			reconnect = false
		}
	}
	out.ReconnectRequired = reconnect
}

func (o *Orchestrator) finish(ctx context.Context, id, syncErr string) {
	if err := db.FinishDataSourceSync(ctx, o.db, id, syncErr, o.now()); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("data_source_id", id).Msg("failed to finish data source sync")
	}
}

func (o *Orchestrator) recordRun(ctx context.Context, req Request, out *Outcome, started time.Time) {
	kind := models.SyncKindOnDemand
	if req.Healing {
		kind = models.SyncKindHealing
	}
	run := &models.SyncRun{
		TenantID:          out.TenantID,
		DataSourceID:      out.DataSourceID,
		Platform:          string(out.Platform),
		Kind:              kind,
		StartedAt:         started.UnixMilli(),
		Duration:          out.DurationMs,
		RangeStart:        out.Start,
		RangeEnd:          out.End,
		AccountsProcessed: out.AccountsProcessed,
		AccountsFailed:    out.AccountsFailed,
		MetricsUpdated:    out.MetricsUpdated,
		ReconnectRequired: out.ReconnectRequired,
		Errors:            strings.Join(out.Errors, "\n"),
	}
	if err := db.RecordSyncRun(ctx, o.db, run); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("failed to record sync run")
	}
}
