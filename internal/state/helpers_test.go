package state

import (
	"context"
	"fmt"

	"tychoscope/internal/model"
)

const (
	testExchange = "uniswap_v2"
	poolID       = "0xb4e16d0168e52d35cacd2c6185b44281ec28c9dc"
	usdc         = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	weth         = "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"
)

type recordingRequester struct {
	calls []string
	err   error
}

func (r *recordingRequester) RequestSnapshot(_ context.Context, exchange string) error {
	r.calls = append(r.calls, exchange)
	return r.err
}

func poolComponent(id string, attrs map[string]string) model.ProtocolComponent {
	return model.ProtocolComponent{
		ID:               id,
		ProtocolSystem:   testExchange,
		ProtocolTypeName: "uniswap_v2_pool",
		Chain:            "ethereum",
		Tokens:           []string{usdc, weth},
		StaticAttributes: attrs,
	}
}

func snapshotMessage(block uint64, components ...model.ProtocolComponent) model.FeedMessage {
	states := make(map[string]model.ComponentWithState, len(components))
	for _, c := range components {
		states[c.ID] = model.ComponentWithState{Component: c}
	}
	return model.FeedMessage{StateMsgs: map[string]model.StateMessage{
		testExchange: {
			Header:    model.Header{Number: block},
			Snapshots: model.Snapshot{States: states},
		},
	}}
}

func deltaMessage(block uint64, revert bool, deltas model.BlockChanges) model.FeedMessage {
	return model.FeedMessage{StateMsgs: map[string]model.StateMessage{
		testExchange: {
			Header: model.Header{Number: block, Revert: revert},
			Deltas: &deltas,
		},
	}}
}

func balance(token, hexAmount string, tx uint64) model.ComponentBalance {
	return model.ComponentBalance{
		Token:        token,
		Balance:      hexAmount,
		BalanceFloat: float64(tx),
		ModifyTx:     fmt.Sprintf("0x%064x", tx),
		ComponentID:  poolID,
	}
}

func balanceDelta(block uint64, tx uint64, amounts map[string]string) model.FeedMessage {
	tokens := make(map[string]model.ComponentBalance, len(amounts))
	for token, amount := range amounts {
		tokens[token] = balance(token, amount, tx)
	}
	return deltaMessage(block, false, model.BlockChanges{
		ComponentBalances: map[string]map[string]model.ComponentBalance{poolID: tokens},
	})
}
