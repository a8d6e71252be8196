package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"argus/internal/config"
	"argus/internal/logger"
	"argus/internal/pipeline"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the feed ingester, worker pools, and HTTP API",
		Long: `Run the whole Argus pipeline: the feed ingester, the decision worker
pool, the analysis worker pool, and the device HTTP API, all sharing one
store and running until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger.Init(cfg.Debug)
	log := logger.Get()

	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info().Msg("starting argus pipeline")
	if err := pipeline.Run(ctx, cfg); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	log.Info().Msg("argus pipeline stopped")
	return nil
}
