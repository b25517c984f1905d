// Package token keeps platform access tokens usable: it hands out cached
// tokens while they are fresh, refreshes them through the platform
// connector when they are about to expire, and parks data sources in
// NEEDS_REAUTH once only a new consent can help.
package token

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
	"github.com/mhuici/tamarindo-reports-sub000/internal/vault"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// DefaultRefreshBuffer is how long before expiry a token is renewed.
const DefaultRefreshBuffer = 5 * time.Minute

// DefaultRefreshTimeout bounds one shared refresh. The refresh is detached
// from the caller that started it so joined callers are not cancelled with it.
const DefaultRefreshTimeout = time.Minute

// ErrNeedsReauth matches every error returned for a data source that has
// to be reconnected by the user.
var ErrNeedsReauth = errors.New("data source needs to be reconnected")

// Manager handles token lifecycle for data sources.
type Manager struct {
	db       *gorm.DB
	vault    *vault.Vault
	registry *platform.Registry
	buffer   time.Duration
	timeout  time.Duration
	now      func() time.Time
	group    singleflight.Group
}

// Option customizes a Manager.
type Option func(*Manager)

// WithRefreshBuffer sets how early tokens are renewed.
func WithRefreshBuffer(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.buffer = d
		}
	}
}

// WithRefreshTimeout bounds a single refresh call.
func WithRefreshTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a token manager.
func NewManager(gdb *gorm.DB, v *vault.Vault, registry *platform.Registry, opts ...Option) *Manager {
	m := &Manager{
		db:       gdb,
		vault:    v,
		registry: registry,
		buffer:   DefaultRefreshBuffer,
		timeout:  DefaultRefreshTimeout,
		now:      time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// GetValidAccessToken returns an access token for the data source that is
// valid for at least the refresh buffer. Fresh tokens are returned without
// any network call. Concurrent callers for the same data source share one
// refresh.
func (m *Manager) GetValidAccessToken(ctx context.Context, dataSourceID string) (string, error) {
	ds, bundle, err := m.load(ctx, dataSourceID)
	if err != nil {
		return "", err
	}
	if !bundle.ExpiresWithin(m.now(), m.buffer) {
		return bundle.AccessToken, nil
	}

	return m.sharedRefresh(ctx, ds.ID, m.buffer)
}

// sharedRefresh runs at most one refresh per data source. The refresh
// itself runs on a detached context bounded by the refresh timeout; each
// caller only stops waiting when its own ctx ends.
func (m *Manager) sharedRefresh(ctx context.Context, dataSourceID string, buffer time.Duration) (string, error) {
	ch := m.group.DoChan(dataSourceID, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
		defer cancel()
		return m.refresh(rctx, dataSourceID, buffer)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Shared {
			logging.Ctx(ctx).Debug().Str("data_source_id", dataSourceID).Msg("joined in-flight token refresh")
		}
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// load reads and decrypts the bundle of a usable data source.
func (m *Manager) load(ctx context.Context, dataSourceID string) (*models.DataSource, vault.TokenBundle, error) {
	ds, err := db.GetDataSourceByID(ctx, m.db, dataSourceID)
	if err != nil {
		return nil, vault.TokenBundle{}, err
	}
	if ds.Status == models.StatusNeedsReauth {
		msg := ds.LastError
		if msg == "" {
			msg = "the connection has to be re-authorized"
		}
		return ds, vault.TokenBundle{}, reauthError(syncerr.CodeTokenExpired, msg, nil)
	}

	var bundle vault.TokenBundle
	if len(ds.Credentials) == 0 {
		err = vault.ErrNoCredentials
	} else {
		bundle, err = m.vault.Open(ds.Credentials)
	}
	if err != nil {
		cl := reauthError(syncerr.CodeTokenInvalid, "stored credentials could not be read", err)
		m.markNeedsReauth(ctx, ds, cl)
		return ds, vault.TokenBundle{}, cl
	}
	return ds, bundle, nil
}

// refresh runs under the singleflight key of the data source. It reloads
// the row first: a refresh that finished just before may already have
// stored a fresh token.
func (m *Manager) refresh(ctx context.Context, dataSourceID string, buffer time.Duration) (string, error) {
	ds, bundle, err := m.load(ctx, dataSourceID)
	if err != nil {
		return "", err
	}
	now := m.now()
	if !bundle.ExpiresWithin(now, buffer) {
		return bundle.AccessToken, nil
	}

	kind := platform.Kind(ds.Platform)
	conn, err := m.registry.Get(kind)
	if err != nil {
		return "", err
	}
	log := logging.Ctx(ctx).With().Str("data_source_id", ds.ID).Str("platform", ds.Platform).Logger()

	if !conn.CanRefresh(bundle, now) {
		cl := reauthError(syncerr.CodeTokenExpired, "access token expired and cannot be refreshed", nil)
		metrics.TokenRefreshes.WithLabelValues(ds.Platform, "unrefreshable").Inc()
		m.markNeedsReauth(ctx, ds, cl)
		return "", cl
	}

	fresh, err := conn.Refresh(ctx, bundle)
	metrics.TokenRefreshes.WithLabelValues(ds.Platform, metrics.Outcome(err)).Inc()
	if err != nil {
		cl := m.registry.Classify(err, kind)
		if syncerr.NeedsReconnection(cl) {
			reauth := reauthError(cl.Code, cl.Message, err)
			m.markNeedsReauth(ctx, ds, reauth)
			return "", reauth
		}
		log.Warn().Err(err).Str("code", string(cl.Code)).Msg("token refresh failed")
		return "", cl
	}

	if fresh.RefreshToken == "" {
		fresh.RefreshToken = bundle.RefreshToken
	}
	if err := m.vault.Put(ctx, ds.ID, fresh); err != nil {
		return "", fmt.Errorf("store refreshed token: %w", err)
	}
	if err := m.clearAuthError(ctx, ds.ID); err != nil {
		log.Warn().Err(err).Msg("failed to clear data source error after refresh")
	}
	log.Info().Time("expires_at", fresh.Expiry()).Msg("refreshed access token")
	return fresh.AccessToken, nil
}

// clearAuthError returns an ERROR data source to ACTIVE after a refresh.
func (m *Manager) clearAuthError(ctx context.Context, id string) error {
	return m.db.WithContext(ctx).Model(&models.DataSource{}).
		Where("id = ? AND status = ?", id, models.StatusError).
		Updates(map[string]any{"status": models.StatusActive, "last_error": ""}).Error
}

// MarkNeedsReauth parks a data source until the user reconnects it.
func (m *Manager) MarkNeedsReauth(ctx context.Context, dataSourceID, reason string) error {
	ds, err := db.GetDataSourceByID(ctx, m.db, dataSourceID)
	if err != nil {
		return err
	}
	return m.markNeedsReauth(ctx, ds, reauthError(syncerr.CodeTokenExpired, reason, nil))
}

func (m *Manager) markNeedsReauth(ctx context.Context, ds *models.DataSource, cl *syncerr.Classified) error {
	if ds.Status == models.StatusNeedsReauth {
		return nil
	}
	// The status has to land even when the caller is already gone.
	err := db.MarkDataSourceNeedsReauth(context.WithoutCancel(ctx), m.db, ds.ID, cl.Message)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("data_source_id", ds.ID).Msg("failed to mark data source NEEDS_REAUTH")
		return err
	}
	ds.Status = models.StatusNeedsReauth
	metrics.DataSourcesNeedingReauth.WithLabelValues(ds.Platform).Inc()
	logging.Ctx(ctx).Warn().Str("data_source_id", ds.ID).Str("platform", ds.Platform).
		Str("code", string(cl.Code)).Str("reason", cl.Message).Msg("data source needs re-authorization")
	return nil
}

// Connect stores a freshly authorized bundle for (tenantID, kind) and
// resets the data source to ACTIVE, creating it on first connection.
func (m *Manager) Connect(ctx context.Context, tenantID string, kind platform.Kind, externalUserID string, bundle vault.TokenBundle) (*models.DataSource, error) {
	sealed, err := m.vault.Seal(bundle)
	if err != nil {
		return nil, err
	}
	ds := &models.DataSource{
		TenantID:       tenantID,
		Platform:       string(kind),
		Credentials:    sealed,
		ExternalUserID: externalUserID,
	}
	if err := db.UpsertDataSource(ctx, m.db, ds); err != nil {
		return nil, err
	}
	logging.Ctx(ctx).Info().Str("tenant_id", tenantID).Str("platform", string(kind)).
		Str("data_source_id", ds.ID).Msg("data source connected")
	return ds, nil
}

// RefreshResult summarizes a proactive refresh pass.
type RefreshResult struct {
	Checked   int
	Refreshed int
	Failed    int
}

// RefreshExpiring renews the tokens of active data sources that expire
// within the given window. Failures are logged and counted; data sources
// that can no longer refresh move to NEEDS_REAUTH.
func (m *Manager) RefreshExpiring(ctx context.Context, within time.Duration) (RefreshResult, error) {
	var res RefreshResult
	sources, err := db.ListActiveDataSources(ctx, m.db)
	if err != nil {
		return res, err
	}
	threshold := max(within, m.buffer)
	for _, ds := range sources {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Checked++
		if len(ds.Credentials) == 0 {
			continue
		}
		bundle, err := m.vault.Open(ds.Credentials)
		if err == nil && !bundle.ExpiresWithin(m.now(), threshold) {
			continue
		}
		if _, err := m.sharedRefresh(ctx, ds.ID, threshold); err != nil {
			res.Failed++
			logging.Ctx(ctx).Warn().Err(err).Str("data_source_id", ds.ID).Msg("proactive token refresh failed")
			continue
		}
		res.Refreshed++
	}
	logging.Ctx(ctx).Info().Int("checked", res.Checked).Int("refreshed", res.Refreshed).
		Int("failed", res.Failed).Msg("token refresh pass finished")
	return res, nil
}

func reauthError(code syncerr.Code, msg string, cause error) *syncerr.Classified {
	cl := syncerr.New(code, msg, &reauthCause{cause: cause})
	cl.Action = syncerr.ActionReconnect
	cl.Retryable = false
	return cl
}

// reauthCause makes errors.Is(err, ErrNeedsReauth) hold while keeping the
// underlying failure reachable.
type reauthCause struct{ cause error }

func (e *reauthCause) Error() string {
	if e.cause == nil {
		return ErrNeedsReauth.Error()
	}
	return ErrNeedsReauth.Error() + ": " + e.cause.Error()
}

func (e *reauthCause) Is(target error) bool { return target == ErrNeedsReauth }

func (e *reauthCause) Unwrap() error { return e.cause }
