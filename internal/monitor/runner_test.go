package monitor

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"tychoscope/internal/feed"
	"tychoscope/internal/model"
	"tychoscope/internal/state"
	"tychoscope/internal/storage"
)

func TestRunnerPreservesOrderThroughBoundedQueue(t *testing.T) {
	results := []feed.Result{{Message: snapshot(1)}}
	for block := uint64(2); block <= 20; block++ {
		results = append(results, feed.Result{Message: balances(block, map[string]string{usdc: "0x0100", weth: "0x0200"})})
	}
	source := &sliceSource{results: results}
	sink := &recordingSink{}

	rec := state.NewReconciler(state.NewStore(), source, nil)
	runner := NewRunner(RunConfig{QueueSize: 1, Probe: testProbe}, source, rec, []storage.Sink{sink}, nil, nil)
	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	var want []uint64
	for block := uint64(1); block <= 20; block++ {
		want = append(want, block)
	}
	if got := sink.blocks(); !reflect.DeepEqual(got, want) {
		t.Fatalf("reports out of order: %v", got)
	}
	if stats := runner.Stats(); stats.Messages != 20 || stats.Reports != 20 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestRunnerSkipsTransportAndEmptyMessages(t *testing.T) {
	source := &sliceSource{results: []feed.Result{
		{Err: &feed.TransportError{Source: "test", Err: errors.New("boom")}},
		{Message: model.FeedMessage{}},
		{Message: snapshot(1)},
	}}
	sink := &recordingSink{}
	rec := state.NewReconciler(state.NewStore(), source, nil)
	runner := NewRunner(RunConfig{}, source, rec, []storage.Sink{sink}, nil, nil)
	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	stats := runner.Stats()
	if stats.TransportErrors != 1 || stats.EmptyMessages != 1 || stats.Reports != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if got := sink.blocks(); !reflect.DeepEqual(got, []uint64{1}) {
		t.Fatalf("unexpected reports: %v", got)
	}
}

func TestRunnerSinkFailureIsNotFatal(t *testing.T) {
	source := &sliceSource{results: []feed.Result{{Message: snapshot(1)}, {Message: snapshot(2)}}}
	failing := &recordingSink{err: errors.New("disk full")}
	healthy := &recordingSink{}
	rec := state.NewReconciler(state.NewStore(), source, nil)
	runner := NewRunner(RunConfig{}, source, rec, []storage.Sink{failing, healthy}, nil, nil)
	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if stats := runner.Stats(); stats.SinkErrors != 2 {
		t.Fatalf("expected 2 sink errors, got %+v", stats)
	}
	if got := healthy.blocks(); !reflect.DeepEqual(got, []uint64{1, 2}) {
		t.Fatalf("healthy sink should still receive reports: %v", got)
	}
}

func TestRunnerRevertRequestsSnapshotFromSource(t *testing.T) {
	revert := balances(3, map[string]string{usdc: "0x01"})
	ssm := revert.StateMsgs[exchange]
	ssm.Header.Revert = true
	revert.StateMsgs[exchange] = ssm

	source := &sliceSource{results: []feed.Result{
		{Message: snapshot(1)},
		{Message: revert},
		{Message: balances(4, map[string]string{usdc: "0x02"})},
	}}
	sink := &recordingSink{}
	rec := state.NewReconciler(state.NewStore(), source, nil)
	if err := NewRunner(RunConfig{}, source, rec, []storage.Sink{sink}, nil, nil).Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !reflect.DeepEqual(source.requests, []string{exchange}) {
		t.Fatalf("expected one snapshot request, got %v", source.requests)
	}
	last := sink.reports[len(sink.reports)-1].Exchanges[0]
	if !last.AwaitingSnapshot || last.PendingComponents != 1 {
		t.Fatalf("exchange should await a snapshot until one arrives: %+v", last)
	}
}

func TestRunnerReturnsSourceError(t *testing.T) {
	source := &sliceSource{err: errors.New("dial failed")}
	rec := state.NewReconciler(state.NewStore(), source, nil)
	err := NewRunner(RunConfig{}, source, rec, nil, nil, nil).Run(context.Background())
	if err == nil || !errors.Is(err, source.err) {
		t.Fatalf("expected source error, got %v", err)
	}
}

func TestRunnerRequiresDependencies(t *testing.T) {
	if err := NewRunner(RunConfig{}, nil, nil, nil, nil, nil).Run(context.Background()); err == nil {
		t.Fatalf("expected error for missing source")
	}
	if err := NewRunner(RunConfig{}, &sliceSource{}, nil, nil, nil, nil).Run(context.Background()); err == nil {
		t.Fatalf("expected error for missing reconciler")
	}
}
