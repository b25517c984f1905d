package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mhuici/tamarindo-reports-sub000/internal/version"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := &cli.Command{
		Name:    "tamarindo",
		Usage:   "ad platform metrics sync and reporting service",
		Version: version.String(),
		Commands: []*cli.Command{
			serveCmd(),
			healCmd(),
			syncCmd(),
			cronSecretCmd(),
		},
		// Running without a subcommand starts the server.
		Action: serveAction,
	}
	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
