// Package app wires configuration into the running components.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mhuici/tamarindo-reports-sub000/internal/api"
	"github.com/mhuici/tamarindo-reports-sub000/internal/auth/oauthflow"
	"github.com/mhuici/tamarindo-reports-sub000/internal/auth/token"
	"github.com/mhuici/tamarindo-reports-sub000/internal/config"
	"github.com/mhuici/tamarindo-reports-sub000/internal/db"
	"github.com/mhuici/tamarindo-reports-sub000/internal/healing"
	"github.com/mhuici/tamarindo-reports-sub000/internal/logging"
	"github.com/mhuici/tamarindo-reports-sub000/internal/metricstore"
	"github.com/mhuici/tamarindo-reports-sub000/internal/platform"
	"github.com/mhuici/tamarindo-reports-sub000/internal/platform/ga4"
	"github.com/mhuici/tamarindo-reports-sub000/internal/platform/googleads"
	"github.com/mhuici/tamarindo-reports-sub000/internal/platform/metaads"
	"github.com/mhuici/tamarindo-reports-sub000/internal/syncer"
	"github.com/mhuici/tamarindo-reports-sub000/internal/vault"
	"gorm.io/gorm"
)

// App holds the wired components of one process.
type App struct {
	Config       *config.Config
	DB           *gorm.DB
	Registry     *platform.Registry
	Tokens       *token.Manager
	Aggregator   *metricstore.Aggregator
	Orchestrator *syncer.Orchestrator
	Healing      *healing.Job
	OAuth        *oauthflow.Flow
	CronSecret   string
}

// New opens the database and builds every component from cfg.
func New(cfg *config.Config) (*App, error) {
	gdb, err := db.InitDB(cfg.Database.Path, cfg.Database.LogSQL)
	if err != nil {
		return nil, err
	}
	return Wire(cfg, gdb)
}

// Wire builds the components on an open database.
func Wire(cfg *config.Config, gdb *gorm.DB) (*App, error) {
	enc, err := vault.NewEncryptor(cfg.Security.EncryptionSecret)
	if err != nil {
		return nil, err
	}
	catalog, err := platform.LoadCatalog(cfg.Platforms.CatalogFile)
	if err != nil {
		return nil, err
	}
	registry := platform.NewRegistry(Connectors(cfg, catalog)...)
	if len(registry.Kinds()) == 0 {
		logging.Warn().Msg("no platform has OAuth credentials configured")
	}

	states, err := oauthflow.NewStateSigner(cfg.Security.EncryptionSecret, cfg.Security.StateTTL)
	if err != nil {
		return nil, err
	}
	cronSecret, err := db.EnsureCronSecret(gdb, cfg.Security.CronSecret)
	if err != nil {
		return nil, fmt.Errorf("cron secret: %w", err)
	}

	tokens := token.NewManager(gdb, vault.New(gdb, enc), registry, token.WithRefreshBuffer(cfg.Sync.RefreshBuffer))
	agg := metricstore.NewAggregator(gdb, metricstore.NewGormCache(gdb), tokens, registry, metricstore.WithTTL(cfg.Sync.TTL))
	orch := syncer.New(gdb, agg, syncer.WithConcurrency(cfg.Sync.Concurrency))

	return &App{
		Config:       cfg,
		DB:           gdb,
		Registry:     registry,
		Tokens:       tokens,
		Aggregator:   agg,
		Orchestrator: orch,
		Healing:      healing.NewJob(gdb, orch, healing.WithDays(cfg.Sync.HealingDays)),
		OAuth:        oauthflow.New(gdb, registry, tokens, states, cfg.Server.PublicURL),
		CronSecret:   cronSecret,
	}, nil
}

// Connectors builds a connector for every enabled platform that has an
// OAuth client configured.
func Connectors(cfg *config.Config, catalog *platform.Catalog) []platform.Connector {
	creds := map[platform.Kind]config.PlatformCredential{
		platform.GoogleAds: cfg.Platforms.GoogleAds,
		platform.MetaAds:   cfg.Platforms.MetaAds,
		platform.GA4:       cfg.Platforms.GA4,
	}
	var out []platform.Connector
	for _, kind := range platform.Kinds {
		info, ok := catalog.Get(kind)
		cred := creds[kind]
		if !ok || !info.Enabled || !cred.Configured() {
			continue
		}
		info = info.WithCredentials(cred.ClientID, cred.ClientSecret)
		if t := cfg.Sync.RequestTimeout; t > 0 && (info.Timeout <= 0 || t < info.Timeout) {
			info.Timeout = t
		}

		switch kind {
		case platform.GoogleAds:
			if cred.DeveloperToken == "" {
				logging.Warn().Msg("google ads developer token is not set; skipping google ads")
				continue
			}
			if info.StaticHeaders == nil {
				info.StaticHeaders = map[string]string{}
			}
			info.StaticHeaders["developer-token"] = cred.DeveloperToken
			out = append(out, googleads.New(info))
		case platform.MetaAds:
			out = append(out, metaads.New(info))
		case platform.GA4:
			out = append(out, ga4.New(info))
		}
	}
	return out
}

// Router builds the HTTP handler.
func (a *App) Router() http.Handler {
	return api.NewRouter(api.Deps{
		DB:           a.DB,
		OAuth:        a.OAuth,
		Orchestrator: a.Orchestrator,
		Aggregator:   a.Aggregator,
		Healer:       a.Healing,
		CronSecret:   a.CronSecret,
	})
}

// HTTPServer builds the server for the configured address.
func (a *App) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              a.Config.Server.Addr(),
		Handler:           a.Router(),
		ReadHeaderTimeout: a.Config.Server.ReadHeaderTimeout,
	}
}

// Scheduler builds the background job runner.
func (a *App) Scheduler() *healing.Scheduler {
	return healing.NewScheduler(a.Healing, a.Tokens, healing.SchedulerConfig{
		HealingCron:     a.Config.Sync.HealingCron,
		RefreshInterval: a.Config.Sync.RefreshLoopInterval,
		RefreshWithin:   a.Config.Sync.RefreshLoopInterval + a.Config.Sync.RefreshBuffer,
	})
}

// RecoverInterruptedSyncs moves data sources a crashed process left in
// SYNCING to ERROR. Call it once at server start, before any sync runs.
func (a *App) RecoverInterruptedSyncs(ctx context.Context) error {
	n, err := db.ResetInterruptedSyncs(ctx, a.DB)
	if err != nil {
		return fmt.Errorf("reset interrupted syncs: %w", err)
	}
	if n > 0 {
		logging.Warn().Int64("data_sources", n).Msg("marked syncs interrupted by restart as failed")
	}
	return nil
}

// Close releases the database.
func (a *App) Close() error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
