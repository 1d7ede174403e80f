package chain

import (
	"fmt"
	"math"
	"math/big"
)

// Decimals of the reward token.
const Decimals = 18

var weiPerToken = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)

// ToWei scales a token amount to the smallest unit, truncating toward zero.
// Non-positive, NaN and infinite amounts scale to zero.
func ToWei(amount float64) *big.Int {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return new(big.Int)
	}
	scaled := new(big.Float).SetFloat64(amount * 1e18)
	out, _ := scaled.Int(nil)
	return out
}

func FormatUnits(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	r := new(big.Rat).SetInt(wei)
	r.Quo(r, new(big.Rat).SetInt(weiPerToken))
	f, _ := r.Float64()
	return fmt.Sprintf("%.6f", f)
}

// ToTokens is the lossy inverse of ToWei, used for metrics.
func ToTokens(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	r := new(big.Rat).SetFrac(wei, weiPerToken)
	f, _ := r.Float64()
	return f
}
