package quote

import (
	"errors"
	"math/big"
	"testing"

	"github.com/holiman/uint256"
)

func mustDec(t *testing.T, s string) *uint256.Int {
	t.Helper()
	v, err := uint256.FromDecimal(s)
	if err != nil {
		t.Fatalf("parse %s: %v", s, err)
	}
	return v
}

func TestConstantProductRegression(t *testing.T) {
	amountIn := uint256.NewInt(1_000_000)
	reserveIn := uint256.NewInt(500_000_000_000)
	reserveOut := mustDec(t, "300000000000000000000")

	got, err := ConstantProduct(amountIn, reserveIn, reserveOut, 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 1_000_000 * 9_970 = 9_970_000_000 after fee.
	// floor(9_970_000_000 * 300e18 / (500_000_000_000*10_000 + 9_970_000_000))
	if got.Dec() != "598198807191578" {
		t.Fatalf("amount out mismatch: %s", got.Dec())
	}
}

func TestConstantProductMatchesBigInt(t *testing.T) {
	amountIn := mustDec(t, "123456789012345678901234")
	reserveIn := mustDec(t, "98765432109876543210987654321")
	reserveOut := mustDec(t, "11111111111111111111111111111111111")

	got, err := ConstantProduct(amountIn, reserveIn, reserveOut, 25)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	afterFee := new(big.Int).Mul(amountIn.ToBig(), big.NewInt(FeeDenominator-25))
	num := new(big.Int).Mul(afterFee, reserveOut.ToBig())
	den := new(big.Int).Mul(reserveIn.ToBig(), big.NewInt(FeeDenominator))
	den.Add(den, afterFee)
	want := new(big.Int).Quo(num, den)

	if got.ToBig().Cmp(want) != 0 {
		t.Fatalf("amount out mismatch: %s != %s", got.Dec(), want.String())
	}
}

func TestConstantProductZeroAmount(t *testing.T) {
	got, err := ConstantProduct(uint256.NewInt(0), uint256.NewInt(1000), uint256.NewInt(1000), 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.IsZero() {
		t.Fatalf("expected zero, got %s", got.Dec())
	}
}

func TestConstantProductDivisionByZero(t *testing.T) {
	_, err := ConstantProduct(uint256.NewInt(1000), uint256.NewInt(0), uint256.NewInt(1000), 30)
	if !errors.Is(err, ErrDivisionByZero) {
		t.Fatalf("expected ErrDivisionByZero, got %v", err)
	}
	_, err = ConstantProduct(uint256.NewInt(0), uint256.NewInt(0), uint256.NewInt(1000), 0)
	if !errors.Is(err, ErrDivisionByZero) {
		t.Fatalf("expected ErrDivisionByZero for zero reserves, got %v", err)
	}
}

func TestConstantProductInvalidFee(t *testing.T) {
	for _, fee := range []uint64{FeeDenominator, FeeDenominator + 1, 1 << 40} {
		_, err := ConstantProduct(uint256.NewInt(1), uint256.NewInt(1), uint256.NewInt(1), fee)
		if !errors.Is(err, ErrInvalidFee) {
			t.Fatalf("expected ErrInvalidFee for %d, got %v", fee, err)
		}
	}
	if _, err := ConstantProduct(uint256.NewInt(1), uint256.NewInt(1), uint256.NewInt(1), FeeDenominator-1); err != nil {
		t.Fatalf("fee 9999 should be valid: %v", err)
	}
}

func TestConstantProductOverflow(t *testing.T) {
	max := new(uint256.Int).SetAllOne()

	_, err := ConstantProduct(max, uint256.NewInt(1000), uint256.NewInt(1000), 30)
	if !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow for amount in, got %v", err)
	}

	_, err = ConstantProduct(uint256.NewInt(1), max, uint256.NewInt(1000), 30)
	if !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow for reserve in, got %v", err)
	}
}

func TestConstantProductWideReserves(t *testing.T) {
	// 2^200 reserves: the numerator needs more than 256 bits.
	reserve := new(uint256.Int).Lsh(uint256.NewInt(1), 200)
	amountIn := new(uint256.Int).Lsh(uint256.NewInt(1), 190)

	got, err := ConstantProduct(amountIn, reserve, reserve, 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.IsZero() || got.Cmp(amountIn) >= 0 {
		t.Fatalf("unexpected amount out: %s", got.Dec())
	}
}

func TestConstantProductMonotonic(t *testing.T) {
	reserveIn := uint256.NewInt(5_000_000_000)
	reserveOut := mustDec(t, "2500000000000000000000")

	prev := uint256.NewInt(0)
	for _, in := range []uint64{0, 1, 2, 10, 999, 1_000, 1_001, 50_000, 1_000_000, 5_000_000_000, 1 << 50} {
		got, err := ConstantProduct(uint256.NewInt(in), reserveIn, reserveOut, 30)
		if err != nil {
			t.Fatalf("amount %d: %v", in, err)
		}
		if got.Lt(prev) {
			t.Fatalf("not monotonic at %d: %s < %s", in, got.Dec(), prev.Dec())
		}
		prev = got
	}
}

func TestConstantProductBelowSpotPrice(t *testing.T) {
	reserveIn := uint256.NewInt(1_000_000)
	reserveOut := uint256.NewInt(3_000_000)

	for _, fee := range []uint64{1, 5, 30, 100} {
		for _, in := range []uint64{1, 7, 1_000, 999_999} {
			amountIn := uint256.NewInt(in)
			out, err := ConstantProduct(amountIn, reserveIn, reserveOut, fee)
			if err != nil {
				t.Fatalf("fee %d amount %d: %v", fee, in, err)
			}
			// out/amountIn < reserveOut/reserveIn
			lhs := new(big.Int).Mul(out.ToBig(), reserveIn.ToBig())
			rhs := new(big.Int).Mul(amountIn.ToBig(), reserveOut.ToBig())
			if lhs.Cmp(rhs) >= 0 {
				t.Fatalf("rate at or above spot for fee %d amount %d: out=%s", fee, in, out.Dec())
			}
		}
	}
}

func TestFeeBpsFromAttributes(t *testing.T) {
	fee, err := FeeBpsFromAttributes("uniswap_v2", nil, 30)
	if err != nil || fee != 30 {
		t.Fatalf("expected fallback 30, got %d %v", fee, err)
	}

	fee, err = FeeBpsFromAttributes("sushiswap_v2", map[string][]byte{FeeAttribute: {0x19}}, 30)
	if err != nil || fee != 25 {
		t.Fatalf("expected 25, got %d %v", fee, err)
	}

	_, err = FeeBpsFromAttributes("uniswap_v2", map[string][]byte{FeeAttribute: {0x27, 0x10}}, 30)
	if !errors.Is(err, ErrInvalidFee) {
		t.Fatalf("expected ErrInvalidFee for 10000, got %v", err)
	}
}

func TestFeeBpsFromAttributesIgnoresPipFees(t *testing.T) {
	// 3000 hundredths of a bip is a 0.3% uniswap_v3 tier, not 30%
	pips := map[string][]byte{FeeAttribute: {0x0b, 0xb8}}
	for _, system := range []string{"uniswap_v3", "uniswap_v4", ""} {
		fee, err := FeeBpsFromAttributes(system, pips, 30)
		if err != nil || fee != 30 {
			t.Fatalf("%q: expected fallback 30, got %d %v", system, fee, err)
		}
	}
}
