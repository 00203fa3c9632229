package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"harvestreport/internal/api"
	"harvestreport/internal/app"
	"harvestreport/internal/config"
)

var listenAddr string

// serveCmd runs the local HTTP API with the background syncer.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local HTTP API and background sync",
	Long: `Serves the draft, submission, queue and badge operations over HTTP on
the configured listen address. Pending reports are retried on the sync
interval and whenever a submission completes.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address (overrides server.listen)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := appConfig
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	addr := cfg.Server.Listen
	if listenAddr != "" {
		addr = listenAddr
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Boot(ctx, cfg, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	return api.Serve(ctx, addr, api.NewRouter(a))
}
