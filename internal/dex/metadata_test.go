package dex

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"go.uber.org/zap"
)

type fakeCaller struct {
	responses map[string][]byte
	calls     int
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.calls++
	for selector, resp := range f.responses {
		if bytes.HasPrefix(msg.Data, []byte(selector)) {
			return resp, nil
		}
	}
	return nil, errors.New("execution reverted")
}

func newTokenCaller(t *testing.T, decimals uint8, symbol string) *fakeCaller {
	t.Helper()
	parsed, err := erc20ABIStringInstance()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	decimalsOut, err := parsed.Methods["decimals"].Outputs.Pack(decimals)
	if err != nil {
		t.Fatalf("pack decimals: %v", err)
	}
	symbolOut, err := parsed.Methods["symbol"].Outputs.Pack(symbol)
	if err != nil {
		t.Fatalf("pack symbol: %v", err)
	}
	return &fakeCaller{responses: map[string][]byte{
		string(parsed.Methods["decimals"].ID): decimalsOut,
		string(parsed.Methods["symbol"].ID):   symbolOut,
	}}
}

func TestTokenMetaResolverCachesLookups(t *testing.T) {
	caller := newTokenCaller(t, 6, "USDC")
	resolver := NewTokenMetaResolver(caller, zap.NewNop())

	token := "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	meta, ok := resolver.Lookup(context.Background(), token)
	if !ok {
		t.Fatalf("expected metadata")
	}
	if meta.Decimals != 6 || meta.Symbol != "USDC" {
		t.Fatalf("metadata mismatch: %+v", meta)
	}

	calls := caller.calls
	if _, ok := resolver.Lookup(context.Background(), token); !ok {
		t.Fatalf("expected cached metadata")
	}
	if caller.calls != calls {
		t.Fatalf("cached lookup should not call the chain")
	}
}

func TestTokenMetaResolverRemembersFailures(t *testing.T) {
	caller := &fakeCaller{responses: map[string][]byte{}}
	resolver := NewTokenMetaResolver(caller, zap.NewNop())

	token := "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"
	if _, ok := resolver.Lookup(context.Background(), token); ok {
		t.Fatalf("expected lookup failure")
	}
	calls := caller.calls
	if _, ok := resolver.Lookup(context.Background(), token); ok {
		t.Fatalf("expected lookup failure")
	}
	if caller.calls != calls {
		t.Fatalf("failed token should not be queried again")
	}
}

func TestTokenMetaResolverRetriesExpiredFailure(t *testing.T) {
	caller := &fakeCaller{responses: map[string][]byte{}}
	resolver := NewTokenMetaResolver(caller, zap.NewNop())
	now := time.Unix(1_700_000_000, 0)
	resolver.now = func() time.Time { return now }

	token := "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"
	if _, ok := resolver.Lookup(context.Background(), token); ok {
		t.Fatalf("expected lookup failure")
	}

	// the token recovers, but the failure is still remembered
	working := newTokenCaller(t, 18, "WETH")
	caller.responses = working.responses
	now = now.Add(failureTTL - time.Second)
	if _, ok := resolver.Lookup(context.Background(), token); ok {
		t.Fatalf("failure should be remembered within the ttl")
	}

	now = now.Add(time.Second)
	meta, ok := resolver.Lookup(context.Background(), token)
	if !ok || meta.Decimals != 18 || meta.Symbol != "WETH" {
		t.Fatalf("expired failure should be retried, got %+v %v", meta, ok)
	}
}

func TestTokenMetaResolverIgnoresCancelledLookup(t *testing.T) {
	caller := newTokenCaller(t, 6, "USDC")
	resolver := NewTokenMetaResolver(cancelAwareCaller{caller}, zap.NewNop())

	token := "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := resolver.Lookup(ctx, token); ok {
		t.Fatalf("cancelled lookup should fail")
	}

	meta, ok := resolver.Lookup(context.Background(), token)
	if !ok || meta.Decimals != 6 {
		t.Fatalf("cancelled lookup should not be remembered as a failure, got %+v %v", meta, ok)
	}
}

type cancelAwareCaller struct {
	*fakeCaller
}

func (c cancelAwareCaller) CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.fakeCaller.CallContract(ctx, msg, block)
}

func TestTokenMetaResolverRejectsInvalidAddress(t *testing.T) {
	resolver := NewTokenMetaResolver(&fakeCaller{}, nil)
	if _, ok := resolver.Lookup(context.Background(), "not-an-address"); ok {
		t.Fatalf("expected invalid address to be unknown")
	}
}
