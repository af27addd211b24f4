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

func runWatch(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
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

	source := feed.NewWSSource(feed.WSConfig{
		URL:       cfg.URL,
		AuthToken: cfg.AuthToken,
		Chain:     cfg.Chain,
		Exchanges: filters,
	}, logger)

	logger.Info("watch start",
		zap.String("url", cfg.URL),
		zap.String("chain", cfg.Chain),
		zap.Strings("exchanges", sortedNames(filters)),
		zap.Int("queue_size", cfg.QueueSize),
	)

	if err := run(ctx, cfg, source, logger); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	return nil
}
