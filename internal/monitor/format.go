package monitor

import (
	"math/big"

	"github.com/holiman/uint256"
)

func formatTokenAmount(value *uint256.Int, decimals uint8) string {
	if value == nil {
		return "0"
	}
	if decimals == 0 {
		return value.Dec()
	}
	denom := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	rat := new(big.Rat).SetFrac(value.ToBig(), denom)
	return rat.FloatString(int(decimals))
}
