package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tychoscope/internal/feed"
	"tychoscope/internal/model"
	"tychoscope/internal/state"
	"tychoscope/internal/storage"
)

const defaultQueueSize = 64

// RunConfig holds runtime settings for the monitor.
type RunConfig struct {
	QueueSize int
	Probe     Probe
}

// Stats counts what a run processed.
type Stats struct {
	Messages        int
	TransportErrors int
	EmptyMessages   int
	Reports         int
	SinkErrors      int
}

// Runner feeds messages from a source through the reconciler and reports every result.
type Runner struct {
	cfg        RunConfig
	source     feed.Source
	reconciler *state.Reconciler
	sinks      []storage.Sink
	meta       TokenMetaSource
	logger     *zap.Logger
	now        func() time.Time

	mu    sync.Mutex
	stats Stats
}

// NewRunner builds a Runner with its dependencies. meta may be nil.
func NewRunner(cfg RunConfig, source feed.Source, reconciler *state.Reconciler, sinks []storage.Sink, meta TokenMetaSource, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	return &Runner{
		cfg:        cfg,
		source:     source,
		reconciler: reconciler,
		sinks:      sinks,
		meta:       meta,
		logger:     logger,
		now:        time.Now,
	}
}

// Run consumes the source until it ends or ctx is cancelled. The source and the consumer
// are joined by a bounded queue; a full queue blocks the source.
func (r *Runner) Run(ctx context.Context) error {
	if r.source == nil {
		return fmt.Errorf("feed source is nil")
	}
	if r.reconciler == nil {
		return fmt.Errorf("reconciler is nil")
	}

	queue := make(chan feed.Result, r.cfg.QueueSize)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(queue)
		if err := r.source.Run(gctx, queue); err != nil {
			return fmt.Errorf("feed source: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case res, ok := <-queue:
				if !ok {
					return nil
				}
				r.handle(gctx, res)
			}
		}
	})

	err := g.Wait()
	stats := r.Stats()
	r.logger.Info("monitor stopped",
		zap.Int("messages", stats.Messages),
		zap.Int("transport_errors", stats.TransportErrors),
		zap.Int("reports", stats.Reports),
		zap.Int("sink_errors", stats.SinkErrors),
	)
	return err
}

// Stats returns a copy of the run counters.
func (r *Runner) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *Runner) handle(ctx context.Context, res feed.Result) {
	if res.Err != nil {
		r.count(func(s *Stats) { s.TransportErrors++ })
		r.logger.Warn("feed transport error", zap.Error(res.Err))
		return
	}

	r.count(func(s *Stats) { s.Messages++ })
	for exchange, st := range res.Message.SyncStates {
		if st.Status != "" && st.Status != "ready" {
			r.logger.Warn("exchange not in sync", zap.String("exchange", exchange), zap.String("status", st.Status))
		}
	}
	summary, err := r.reconciler.Apply(ctx, res.Message)
	if err != nil {
		if errors.Is(err, state.ErrEmptyMessage) {
			r.count(func(s *Stats) { s.EmptyMessages++ })
			r.logger.Debug("empty feed message skipped")
			return
		}
		r.logger.Error("apply message failed", zap.Error(err))
		return
	}

	report := BuildReport(ctx, r.reconciler.Store(), summary, r.cfg.Probe, r.meta, r.now())
	r.logReport(report)
	r.emit(ctx, report)
}

func (r *Runner) logReport(report model.Report) {
	for _, ex := range report.Exchanges {
		fields := []zap.Field{
			zap.String("exchange", ex.Exchange),
			zap.Uint64("block", ex.Block),
			zap.Bool("is_snapshot", ex.IsSnapshot),
			zap.Bool("revert", ex.Revert),
			zap.Int("snapshot_states", ex.SnapshotStates),
			zap.Int("new", ex.NewComponents),
			zap.Int("deleted", ex.DeletedComponents),
			zap.Int("removed", ex.RemovedComponents),
			zap.Int("balance_updates", ex.BalanceUpdates),
			zap.Int("tvl_updates", ex.TVLUpdates),
			zap.Int("store_size", report.StoreSize),
		}
		if ex.AwaitingSnapshot {
			fields = append(fields, zap.Bool("awaiting_snapshot", true),
				zap.Bool("resnapshot_requested", ex.ResnapshotRequested),
				zap.Int("pending_components", ex.PendingComponents))
		}
		r.logger.Info("message applied", fields...)

		for _, msg := range ex.Errors {
			r.logger.Warn("reconcile problem", zap.String("exchange", ex.Exchange), zap.String("error", msg))
		}
		for _, c := range ex.Components {
			if c.Quote != nil {
				r.logger.Info("probe quote",
					zap.String("component", c.ID),
					zap.String("amount_in", c.Quote.AmountIn),
					zap.String("amount_out", c.Quote.AmountOut),
					zap.Uint64("fee_bps", c.Quote.FeeBps),
				)
				continue
			}
			r.logger.Debug("probe quote unavailable", zap.String("component", c.ID), zap.String("reason", c.QuoteUnavailable))
		}
	}
}

func (r *Runner) emit(ctx context.Context, report model.Report) {
	r.count(func(s *Stats) { s.Reports++ })
	for _, sink := range r.sinks {
		if err := sink.PutReport(ctx, report); err != nil {
			r.count(func(s *Stats) { s.SinkErrors++ })
			r.logger.Warn("report sink failed", zap.Error(err))
		}
	}
}

func (r *Runner) count(fn func(s *Stats)) {
	r.mu.Lock()
	fn(&r.stats)
	r.mu.Unlock()
}
