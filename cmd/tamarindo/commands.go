package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mhuici/tamarindo-reports-sub000/internal/api/handlers"
	"github.com/mhuici/tamarindo-reports-sub000/internal/app"
	"github.com/mhuici/tamarindo-reports-sub000/internal/config"
	"github.com/mhuici/tamarindo-reports-sub000/internal/db"
	"github.com/mhuici/tamarindo-reports-sub000/internal/logging"
	"github.com/mhuici/tamarindo-reports-sub000/internal/platform"
	"github.com/mhuici/tamarindo-reports-sub000/internal/supervisor"
	"github.com/mhuici/tamarindo-reports-sub000/internal/syncer"
	"github.com/mhuici/tamarindo-reports-sub000/internal/version"
	"github.com/urfave/cli/v3"
)

// setup loads configuration, initializes logging and wires the app.
func setup() (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	return app.New(cfg)
}

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "run the HTTP API, the healing schedule and the token refresh loop",
		Action: serveAction,
	}
}

func serveAction(ctx context.Context, _ *cli.Command) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.RecoverInterruptedSyncs(ctx); err != nil {
		return err
	}

	cfg := a.Config
	sup := supervisor.New("tamarindo", supervisor.Config{ShutdownTimeout: cfg.Server.ShutdownTimeout})
	sup.Add(supervisor.NewHTTPService(a.HTTPServer(), cfg.Server.ShutdownTimeout))
	sup.Add(a.Scheduler())

	logging.Info().
		Str("version", version.String()).
		Str("addr", cfg.Server.Addr()).
		Strs("platforms", kindNames(a.Registry.Kinds())).
		Msg("tamarindo starting")

	err = sup.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		logging.Info().Msg("shutdown complete")
		return nil
	}
	return err
}

func healCmd() *cli.Command {
	return &cli.Command{
		Name:  "heal",
		Usage: "re-sync the trailing window for every active data source once",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "tenant", Aliases: []string{"t"}, Usage: "heal a single tenant"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()

			if tenant := c.String("tenant"); tenant != "" {
				res := a.Healing.HealTenant(ctx, tenant)
				if err := printJSON(res); err != nil {
					return err
				}
				if !res.Success {
					return cli.Exit("healing finished with errors", 2)
				}
				return nil
			}
			res := a.Healing.HealAll(ctx)
			if err := printJSON(res); err != nil {
				return err
			}
			if !res.Success {
				return cli.Exit("healing finished with errors", 2)
			}
			return nil
		},
	}
}

func syncCmd() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "sync one data source for a date range",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "tenant", Aliases: []string{"t"}, Required: true},
			&cli.StringFlag{Name: "data-source", Aliases: []string{"d"}, Required: true},
			&cli.StringFlag{Name: "account", Aliases: []string{"a"}, Usage: "limit to one platform account id"},
			&cli.StringFlag{Name: "start", Usage: "first day, YYYY-MM-DD"},
			&cli.StringFlag{Name: "end", Usage: "last day, YYYY-MM-DD"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			r, err := cliRange(c.String("start"), c.String("end"), time.Now())
			if err != nil {
				return err
			}
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()

			out, err := a.Orchestrator.SyncDataSource(ctx, syncer.Request{
				TenantID:     c.String("tenant"),
				DataSourceID: c.String("data-source"),
				AccountID:    c.String("account"),
				Range:        r,
			})
			if err != nil {
				return err
			}
			if err := printJSON(out); err != nil {
				return err
			}
			if out.ReconnectRequired {
				return cli.Exit("the data source must be reconnected", 3)
			}
			if out.HasErrors() {
				return cli.Exit("sync finished with errors", 2)
			}
			return nil
		},
	}
}

func cronSecretCmd() *cli.Command {
	return &cli.Command{
		Name:  "cron-secret",
		Usage: "print the secret that authorizes the healing endpoint",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "regenerate", Usage: "replace the stored secret"},
		},
		Action: func(_ context.Context, c *cli.Command) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()

			secret := a.CronSecret
			if c.Bool("regenerate") {
				if a.Config.Security.CronSecret != "" {
					return cli.Exit("the cron secret is set in configuration", 1)
				}
				if secret, err = db.RegenerateCronSecret(a.DB); err != nil {
					return err
				}
			}
			fmt.Println(secret)
			return nil
		},
	}
}

// cliRange matches the API: no bounds means the default trailing window.
func cliRange(start, end string, now time.Time) (platform.DateRange, error) {
	if start == "" && end == "" {
		return platform.TrailingDays(now.UTC(), handlers.DefaultRangeDays), nil
	}
	return platform.NewDateRange(start, end)
}

func kindNames(kinds []platform.Kind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
