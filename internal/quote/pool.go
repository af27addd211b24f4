package quote

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"tychoscope/internal/state"
)

// Reserves is the read side of the state store a pool quote needs.
type Reserves interface {
	Component(id string) (state.Component, bool)
	Balance(componentID, token string) (state.BalanceRecord, bool)
}

// PoolQuote is a quote evaluated against stored reserves.
type PoolQuote struct {
	ComponentID string
	TokenIn     string
	TokenOut    string
	AmountIn    *uint256.Int
	AmountOut   *uint256.Int
	ReserveIn   *uint256.Int
	ReserveOut  *uint256.Int
	FeeBps      uint64
}

// Pool quotes amountIn of tokenIn for tokenOut on one component. Missing components,
// tokens and balances fail with ErrUnavailable. The component's fee attribute wins over
// fallbackFeeBps.
func Pool(r Reserves, componentID, tokenIn, tokenOut string, amountIn *uint256.Int, fallbackFeeBps uint64) (PoolQuote, error) {
	tokenIn = strings.ToLower(tokenIn)
	tokenOut = strings.ToLower(tokenOut)

	component, ok := r.Component(componentID)
	if !ok {
		return PoolQuote{}, fmt.Errorf("%w: component %s not tracked", ErrUnavailable, componentID)
	}
	if tokenIn == tokenOut {
		return PoolQuote{}, fmt.Errorf("%w: token in equals token out", ErrUnavailable)
	}
	for _, token := range []string{tokenIn, tokenOut} {
		if !holds(component, token) {
			return PoolQuote{}, fmt.Errorf("%w: component %s does not hold %s", ErrUnavailable, componentID, token)
		}
	}

	in, ok := r.Balance(componentID, tokenIn)
	if !ok || in.Balance == nil {
		return PoolQuote{}, fmt.Errorf("%w: no balance for %s", ErrUnavailable, tokenIn)
	}
	out, ok := r.Balance(componentID, tokenOut)
	if !ok || out.Balance == nil {
		return PoolQuote{}, fmt.Errorf("%w: no balance for %s", ErrUnavailable, tokenOut)
	}

	fee, err := FeeBpsFromAttributes(component.ProtocolSystem, component.StaticAttributes, fallbackFeeBps)
	if err != nil {
		return PoolQuote{}, err
	}
	amountOut, err := ConstantProduct(amountIn, in.Balance, out.Balance, fee)
	if err != nil {
		return PoolQuote{}, err
	}

	return PoolQuote{
		ComponentID: componentID,
		TokenIn:     tokenIn,
		TokenOut:    tokenOut,
		AmountIn:    new(uint256.Int).Set(amountIn),
		AmountOut:   amountOut,
		ReserveIn:   in.Balance,
		ReserveOut:  out.Balance,
		FeeBps:      fee,
	}, nil
}

func holds(c state.Component, token string) bool {
	for _, t := range c.Tokens {
		if t == token {
			return true
		}
	}
	return false
}
