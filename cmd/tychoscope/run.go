package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"tychoscope/internal/chain"
	"tychoscope/internal/config"
	"tychoscope/internal/dex"
	"tychoscope/internal/feed"
	"tychoscope/internal/monitor"
	"tychoscope/internal/state"
	"tychoscope/internal/storage"
	"tychoscope/internal/storage/postgres"
	"tychoscope/internal/storage/redis"
)

// run wires the store, reconciler, sinks and metadata around source and blocks until
// the feed ends.
func run(ctx context.Context, cfg config.Config, source feed.Source, logger *zap.Logger) error {
	probe, err := cfg.Probe()
	if err != nil {
		return err
	}

	sinks, err := openSinks(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		for _, sink := range sinks {
			if err := sink.Close(); err != nil {
				logger.Warn("close sink failed", zap.Error(err))
			}
		}
	}()

	var meta monitor.TokenMetaSource
	if cfg.RPCURL != "" {
		client, err := openChain(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer client.Close()
		meta = dex.NewTokenMetaResolver(client, logger)
	}

	store := state.NewStore()
	reconciler := state.NewReconciler(store, source, logger)
	runner := monitor.NewRunner(monitor.RunConfig{
		QueueSize: cfg.QueueSize,
		Probe: monitor.Probe{
			TokenIn:  probe.TokenIn,
			TokenOut: probe.TokenOut,
			Amount:   probe.Amount,
			FeeBps:   cfg.FeeBps,
		},
	}, source, reconciler, sinks, meta, logger)

	if err := runner.Run(ctx); err != nil {
		return err
	}
	logger.Info("feed finished", zap.Int("components", store.Len()))
	return nil
}

func openSinks(ctx context.Context, cfg config.Config, logger *zap.Logger) ([]storage.Sink, error) {
	var sinks []storage.Sink
	closeAll := func() {
		for _, sink := range sinks {
			_ = sink.Close()
		}
	}

	if cfg.Out != "" {
		sinks = append(sinks, storage.NewJsonlStorage(cfg.Out))
		logger.Info("report sink", zap.String("type", "jsonl"), zap.String("out", cfg.Out))
	}
	if cfg.PGDSN != "" {
		pg, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			closeAll()
			return nil, err
		}
		sinks = append(sinks, pg)
		logger.Info("report sink", zap.String("type", "postgres"), zap.String("dsn", redact(cfg.PGDSN)))
	}
	if cfg.RedisAddr != "" {
		pub, err := redis.New(ctx, cfg.RedisAddr, cfg.RedisChannel)
		if err != nil {
			closeAll()
			return nil, err
		}
		sinks = append(sinks, pub)
		logger.Info("report sink", zap.String("type", "redis"), zap.String("addr", cfg.RedisAddr), zap.String("channel", cfg.RedisChannel))
	}
	return sinks, nil
}

// openChain connects the metadata RPC and checks it serves the configured chain.
func openChain(ctx context.Context, cfg config.Config, logger *zap.Logger) (*chain.Client, error) {
	want, err := chain.ParseChain(cfg.Chain)
	if err != nil {
		return nil, err
	}
	client, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("connect rpc: %w", err)
	}
	id, err := client.GetChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("get chain id: %w", err)
	}
	if !id.IsUint64() || id.Uint64() != want.ID() {
		client.Close()
		return nil, fmt.Errorf("rpc serves chain id %s, expected %d for %s", id, want.ID(), want)
	}
	latest, err := client.LatestBlockNumber(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("get latest block: %w", err)
	}
	logger.Info("token metadata enabled",
		zap.String("chain", want.String()),
		zap.Uint64("chain_id", want.ID()),
		zap.Uint64("latest_block", latest),
	)
	return client, nil
}

func sortedNames(filters map[string]feed.Filter) []string {
	names := make([]string, 0, len(filters))
	for name := range filters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func redact(dsn string) string {
	if i := strings.Index(dsn, "@"); i >= 0 {
		return "***" + dsn[i:]
	}
	return dsn
}
