package monitor

import (
	"context"
	"strings"
	"sync"

	"github.com/holiman/uint256"

	"tychoscope/internal/feed"
	"tychoscope/internal/model"
)

const (
	exchange = "uniswap_v2"
	poolID   = "0xb4e16d0168e52d35cacd2c6185b44281ec28c9dc"
	usdc     = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	weth     = "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"
)

var testProbe = Probe{TokenIn: usdc, TokenOut: weth, Amount: uint256.NewInt(1_000_000), FeeBps: 30}

func snapshot(block uint64) model.FeedMessage {
	return model.FeedMessage{StateMsgs: map[string]model.StateMessage{
		exchange: {
			Header: model.Header{Number: block},
			Snapshots: model.Snapshot{States: map[string]model.ComponentWithState{
				poolID: {Component: model.ProtocolComponent{
					ID:             poolID,
					ProtocolSystem: exchange,
					Chain:          "ethereum",
					Tokens:         []string{usdc, weth},
				}},
			}},
		},
	}}
}

func balances(block uint64, amounts map[string]string) model.FeedMessage {
	tokens := make(map[string]model.ComponentBalance, len(amounts))
	for token, amount := range amounts {
		tokens[token] = model.ComponentBalance{Token: token, Balance: amount, ComponentID: poolID}
	}
	return model.FeedMessage{StateMsgs: map[string]model.StateMessage{
		exchange: {
			Header: model.Header{Number: block},
			Deltas: &model.BlockChanges{
				ComponentBalances: map[string]map[string]model.ComponentBalance{poolID: tokens},
			},
		},
	}}
}

type staticMeta map[string]model.TokenMeta

func (m staticMeta) Lookup(_ context.Context, token string) (model.TokenMeta, bool) {
	tm, ok := m[strings.ToLower(token)]
	return tm, ok
}

type sliceSource struct {
	results []feed.Result
	err     error

	mu       sync.Mutex
	requests []string
}

func (s *sliceSource) Run(ctx context.Context, out chan<- feed.Result) error {
	for _, res := range s.results {
		select {
		case out <- res:
		case <-ctx.Done():
			return nil
		}
	}
	return s.err
}

func (s *sliceSource) RequestSnapshot(_ context.Context, exchange string) error {
	s.mu.Lock()
	s.requests = append(s.requests, exchange)
	s.mu.Unlock()
	return nil
}

type recordingSink struct {
	mu      sync.Mutex
	reports []model.Report
	err     error
}

func (s *recordingSink) PutReport(_ context.Context, report model.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.reports = append(s.reports, report)
	return nil
}

func (s *recordingSink) Close() error {
	return nil
}

func (s *recordingSink) blocks() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []uint64
	for _, r := range s.reports {
		for _, ex := range r.Exchanges {
			out = append(out, ex.Block)
		}
	}
	return out
}
