// zen-server hosts the agent execution subsystem: the context lifecycle API
// and the per-thread WebSocket event stream.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"zen/internal/config"
	"zen/internal/di"
	"zen/internal/logging"
)

var configPath string

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "zen-server",
		Short: "Agent execution and event delivery server",
		Long: "zen-server runs the agent execution subsystem: per-user execution\n" +
			"contexts with tier quotas, agent runs with live progress events, and\n" +
			"strictly isolated WebSocket delivery per conversation thread.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	return cmd
}

func runServer() error {
	logger := logging.NewComponentLogger("Main")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	container, err := di.BuildContainer(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer func() {
		if err := container.Cleanup(); err != nil {
			logger.Warn("cleanup failed: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting zen-server on %s", cfg.Server.Addr)
	if err := container.Run(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
