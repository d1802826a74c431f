package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dakling/katagollum/internal/config"
	"github.com/dakling/katagollum/internal/gamebuilder"
	"github.com/dakling/katagollum/internal/mcp"
	"github.com/dakling/katagollum/internal/obslog"
)

var mcpOpts struct {
	transport string
	addr      string
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Expose the engine tools over the Model Context Protocol",
	RunE:  runMCP,
}

func init() {
	mcpCmd.Flags().StringVarP(&mcpOpts.transport, "transport", "t", "stdio", "Transport: stdio or http")
	mcpCmd.Flags().StringVar(&mcpOpts.addr, "addr", ":3002", "Listen address for the http transport")
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	// Over stdio the protocol owns stdout; logs must stay off it.
	if mcpOpts.transport == "stdio" && os.Getenv("LOG_TO_CONSOLE") == "" {
		os.Setenv("LOG_TO_CONSOLE", "false")
	}
	if err := obslog.InitFromEnv(); err != nil {
		return err
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	core, err := gamebuilder.NewCore(cfg, logger)
	if err != nil {
		return err
	}
	defer core.Close()

	srv := mcp.NewServer(core.Service, Version, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch mcpOpts.transport {
	case "stdio":
		return srv.Run(ctx)
	case "http":
		return runMCPHTTP(ctx, srv, logger)
	default:
		return fmt.Errorf("unsupported transport %q, want stdio or http", mcpOpts.transport)
	}
}

func runMCPHTTP(ctx context.Context, srv *mcp.Server, logger *zap.Logger) error {
	httpSrv := &http.Server{
		Addr:              mcpOpts.addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()
	logger.Info("mcp http server listening", zap.String("addr", mcpOpts.addr))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
