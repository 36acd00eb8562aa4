package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/JackSmack1971/personal-rag-copilot/internal/logging"
	"github.com/JackSmack1971/personal-rag-copilot/internal/mcp"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var (
		transport string
		logLevel  string
		noWatch   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio",
		Long: `Serve query, ingest and configuration tools over the Model Context Protocol.

stdout carries JSON-RPC only; logs go to ~/.ragcopilot/logs/server.log.
The settings file is watched and valid edits apply without a restart.

Example client configuration:
  {"mcpServers": {"ragcopilot": {"command": "ragcopilot", "args": ["serve"]}}}`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if root.debug {
				logLevel = "debug"
			}
			cleanup, err := logging.SetupMCPMode(logLevel)
			if err != nil {
				return fmt.Errorf("failed to setup logging: %w", err)
			}
			defer cleanup()
			return runServe(cmd.Context(), root, transport, !noWatch)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport (stdio)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "Do not reload the settings file on change")
	return cmd
}

func runServe(ctx context.Context, root *rootOptions, transport string, watch bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := root.openApp(ctx)
	if err != nil {
		slog.Error("Failed to start pipeline", slog.String("error", err.Error()))
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			slog.Warn("Failed to close pipeline", slog.String("error", err.Error()))
		}
	}()

	srv, err := mcp.NewServer(app, slog.Default())
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// The client closing stdin ends the session; stop the watcher too.
		defer stop()
		return srv.Serve(gctx, transport)
	})
	if watch {
		g.Go(func() error {
			if err := app.WatchSettings(gctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Warn("Settings watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
