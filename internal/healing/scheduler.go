package healing

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/mhuici/tamarindo-reports-sub000/internal/auth/token"
	"github.com/mhuici/tamarindo-reports-sub000/internal/logging"
)

// Healer runs a healing sweep.
type Healer interface {
	HealAll(ctx context.Context) SweepResult
}

// TokenRefresher renews access tokens that are about to expire.
type TokenRefresher interface {
	RefreshExpiring(ctx context.Context, within time.Duration) (token.RefreshResult, error)
}

// SchedulerConfig controls the background jobs.
type SchedulerConfig struct {
	// HealingCron is a five-field cron expression in UTC.
	HealingCron string
	// RefreshInterval is how often expiring tokens are renewed; zero
	// disables the refresh job.
	RefreshInterval time.Duration
	// RefreshWithin is how far ahead of expiry tokens are renewed.
	RefreshWithin time.Duration
}

// Scheduler runs healing sweeps and token refreshes on a schedule. It
// implements suture.Service; each job runs in singleton mode so a slow
// sweep is never overlapped by the next tick.
type Scheduler struct {
	healer Healer
	tokens TokenRefresher
	cfg    SchedulerConfig
}

func NewScheduler(healer Healer, tokens TokenRefresher, cfg SchedulerConfig) *Scheduler {
	if cfg.RefreshWithin <= 0 {
		cfg.RefreshWithin = 2 * cfg.RefreshInterval
	}
	return &Scheduler{healer: healer, tokens: tokens, cfg: cfg}
}

// Serve registers the jobs and runs them until ctx is cancelled. Jobs
// receive ctx, so a sweep in flight is interrupted on shutdown.
func (s *Scheduler) Serve(ctx context.Context) error {
	cron := gocron.NewScheduler(time.UTC)
	cron.SingletonModeAll()

	if _, err := s.register(ctx, cron); err != nil {
		return err
	}

	log := logging.Ctx(ctx)
	log.Info().Str("healing_cron", s.cfg.HealingCron).Dur("refresh_interval", s.cfg.RefreshInterval).
		Msg("starting scheduler")
	cron.StartAsync()

	<-ctx.Done()
	cron.Stop()
	log.Info().Msg("scheduler stopped")
	return ctx.Err()
}

func (s *Scheduler) register(ctx context.Context, cron *gocron.Scheduler) (int, error) {
	n := 0
	if s.healer != nil && s.cfg.HealingCron != "" {
		job, err := cron.Cron(s.cfg.HealingCron).Do(s.runHealing, ctx)
		if err != nil {
			return n, fmt.Errorf("schedule healing %q: %w", s.cfg.HealingCron, err)
		}
		job.Tag("healing")
		n++
	}
	if s.tokens != nil && s.cfg.RefreshInterval > 0 {
		job, err := cron.Every(s.cfg.RefreshInterval).Do(s.runRefresh, ctx)
		if err != nil {
			return n, fmt.Errorf("schedule token refresh: %w", err)
		}
		job.Tag("token-refresh")
		n++
	}
	return n, nil
}

func (s *Scheduler) runHealing(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	res := s.healer.HealAll(ctx)
	if !res.Success {
		logging.Ctx(ctx).Warn().Str("sweep_id", res.SweepID).Int("errors", res.ErrorsCount).
			Msg("scheduled healing finished with errors")
	}
}

func (s *Scheduler) runRefresh(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.tokens.RefreshExpiring(ctx, s.cfg.RefreshWithin); err != nil && ctx.Err() == nil {
		logging.Ctx(ctx).Error().Err(err).Msg("token refresh loop failed")
	}
}

func (s *Scheduler) String() string { return "healing-scheduler" }
