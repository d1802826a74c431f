package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dakling/katagollum/internal/config"
	"github.com/dakling/katagollum/internal/gamebuilder"
	"github.com/dakling/katagollum/internal/obslog"
	"github.com/dakling/katagollum/internal/web"
)

var serveOpts struct {
	addr string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP game backend",
	Long: `Serves the game REST API, the tool endpoints for remote turn clients,
the websocket event stream, and Prometheus metrics. Requires REDIS_URL for
game sessions; DATABASE_URL is optional and enables the Postgres archive.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveOpts.addr, "addr", "", `Listen address (default ":3001")`)
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := obslog.InitFromEnv(); err != nil {
		return err
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if serveOpts.addr != "" {
		cfg.Server.Addr = serveOpts.addr
	}

	deps, err := gamebuilder.New(cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	srv := web.NewServer(web.Config{Addr: cfg.Server.Addr}, web.Deps{
		Service:  deps.Service,
		Registry: deps.Registry,
		Model:    deps.Model,
		Catalog:  deps.Catalog,
		Store:    deps.Store,
		Archive:  deps.Archive,
		Renderer: deps.Renderer,
	}, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return srv.Run(ctx)
}
