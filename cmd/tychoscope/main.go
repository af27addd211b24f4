package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"tychoscope/internal/config"
)

func main() {
	root := &cobra.Command{
		Use:          "tychoscope",
		Short:        "Tycho liquidity state monitor",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Subscribe to a Tycho feed and report pool state",
		RunE:  runWatch,
	}
	addCommonFlags(watchCmd.Flags())
	watchCmd.Flags().String("url", config.DefaultURL, "Tycho websocket endpoint")
	watchCmd.Flags().String("auth-token", "", "Tycho API token")
	root.AddCommand(watchCmd)

	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay recorded feed messages from JSONL",
		RunE:  runReplay,
	}
	addCommonFlags(replayCmd.Flags())
	replayCmd.Flags().String("in", "", "input feed messages JSONL")
	root.AddCommand(replayCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addCommonFlags(flags *pflag.FlagSet) {
	flags.String("chain", "ethereum", "chain (ethereum, base, unichain, arbitrum, zksync)")
	flags.StringSlice("exchange", []string{config.DefaultExchange}, "exchanges to track (comma-separated)")
	flags.StringSlice("component-id", nil, "component ids to track (comma-separated)")
	flags.Float64("min-tvl", 0, "minimum component tvl")
	flags.Float64("max-tvl", 0, "maximum component tvl")
	flags.Int("queue-size", 64, "bounded queue between feed and reconciler")
	flags.String("probe-amount", "1000000", "probe swap amount in raw token units, empty disables")
	flags.String("probe-token-in", config.DefaultProbeTokenIn, "probe swap input token")
	flags.String("probe-token-out", config.DefaultProbeTokenOut, "probe swap output token")
	flags.Uint64("fee-bps", 30, "fallback pool fee in basis points")
	flags.String("rpc", "", "optional RPC URL for token metadata")
	flags.String("out", "", "optional report output JSONL")
	flags.String("pg-dsn", "", "optional Postgres DSN for report rows")
	flags.String("redis-addr", "", "optional Redis address for report publishing")
	flags.String("redis-channel", "tychoscope:reports", "Redis channel for reports")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-file", "", "optional rotated log file")
}

func newLogger(level, file string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	if file == "" {
		return logger, nil
	}

	rotated := zapcore.AddSync(&lumberjack.Logger{
		Filename:   file,
		MaxSize:    100, // megabytes
		MaxBackups: 10,
		MaxAge:     14, // days
		Compress:   true,
	})
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(cfg.EncoderConfig), rotated, cfg.Level)
	return logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, fileCore)
	})), nil
}
