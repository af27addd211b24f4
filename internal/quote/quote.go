// Package quote evaluates constant-product AMM swaps over raw on-chain reserves.
//
// All arithmetic is unsigned 256-bit. Intermediate products that can exceed 256 bits
// fail with ErrOverflow instead of wrapping; the final multiply-divide uses a 512-bit
// intermediate so realistic reserves never overflow.
package quote

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// FeeDenominator is the basis-point scale of feeBps.
const FeeDenominator = 10_000

// FeeAttribute is the static attribute carrying a pool's fee.
const FeeAttribute = "fee"

// bpsFeeSystems lists the protocol systems whose fee attribute is in basis points.
// Concentrated liquidity systems such as uniswap_v3 store hundredths of a bip.
var bpsFeeSystems = map[string]bool{
	"uniswap_v2":     true,
	"sushiswap_v2":   true,
	"pancakeswap_v2": true,
}

var (
	ErrInvalidFee     = errors.New("invalid fee")
	ErrDivisionByZero = errors.New("division by zero")
	ErrOverflow       = errors.New("arithmetic overflow")
	ErrUnavailable    = errors.New("quote unavailable")
)

// ConstantProduct returns
//
//	floor(amountIn*(10000-feeBps)*reserveOut / (reserveIn*10000 + amountIn*(10000-feeBps)))
func ConstantProduct(amountIn, reserveIn, reserveOut *uint256.Int, feeBps uint64) (*uint256.Int, error) {
	if feeBps >= FeeDenominator {
		return nil, fmt.Errorf("%w: %d bps", ErrInvalidFee, feeBps)
	}
	if amountIn == nil || reserveIn == nil || reserveOut == nil {
		return nil, fmt.Errorf("%w: missing operand", ErrUnavailable)
	}
	if reserveIn.IsZero() {
		return nil, fmt.Errorf("%w: reserve in is zero", ErrDivisionByZero)
	}

	afterFee, overflow := new(uint256.Int).MulOverflow(amountIn, uint256.NewInt(FeeDenominator-feeBps))
	if overflow {
		return nil, fmt.Errorf("%w: amount in after fee", ErrOverflow)
	}
	scaledReserve, overflow := new(uint256.Int).MulOverflow(reserveIn, uint256.NewInt(FeeDenominator))
	if overflow {
		return nil, fmt.Errorf("%w: scaled reserve in", ErrOverflow)
	}
	denominator, overflow := new(uint256.Int).AddOverflow(scaledReserve, afterFee)
	if overflow {
		return nil, fmt.Errorf("%w: denominator", ErrOverflow)
	}
	if denominator.IsZero() {
		return nil, fmt.Errorf("%w: denominator is zero", ErrDivisionByZero)
	}

	out, overflow := new(uint256.Int).MulDivOverflow(afterFee, reserveOut, denominator)
	if overflow {
		return nil, fmt.Errorf("%w: amount out", ErrOverflow)
	}
	return out, nil
}

// FeeBpsFromAttributes reads the big-endian fee attribute of a basis-point protocol
// system. Other systems, and components without the attribute, get fallback.
func FeeBpsFromAttributes(protocolSystem string, attrs map[string][]byte, fallback uint64) (uint64, error) {
	raw, ok := attrs[FeeAttribute]
	if !ok || !bpsFeeSystems[protocolSystem] {
		return fallback, nil
	}
	if len(raw) > 8 {
		return 0, fmt.Errorf("%w: fee attribute is %d bytes", ErrInvalidFee, len(raw))
	}
	fee := new(uint256.Int).SetBytes(raw).Uint64()
	if fee >= FeeDenominator {
		return 0, fmt.Errorf("%w: %d bps", ErrInvalidFee, fee)
	}
	return fee, nil
}
