package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tychoscope/internal/config"
	"tychoscope/internal/feed"
)

func runReplay(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadReplay(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if cfg.In == "" {
		return fmt.Errorf("input file is required")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	defer logger.Sync()

	filters, err := cfg.Filters()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	source := feed.NewFileSource(cfg.In, filters, logger)

	logger.Info("replay start",
		zap.String("in", cfg.In),
		zap.Strings("exchanges", sortedNames(filters)),
	)

	if err := run(ctx, cfg.Config, source, logger); err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	if requests := source.Requests(); len(requests) > 0 {
		logger.Warn("recording needed fresh snapshots it could not provide", zap.Strings("exchanges", requests))
	}
	return nil
}
