package math

import (
	"math/big"
	"sync"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int   // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

var (
	// Standard configs
	AmountConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000} // reserve + synthetic units
	PriceConfig  = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000} // reserve units per synthetic unit
	RatioConfig  = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000} // collateralization / margin ratios
)

// OneHundredPercent is 100% at ratio scale.
const OneHundredPercent = int64(1_000_000)

// MaxRatio is the ratio reported when the denominator is empty (no synthetic
// supply, or zero exposure). Large enough to clear any configured floor.
const MaxRatio = int64(1) << 62

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

// MultiplyInt128 performs a * b using int128 to prevent overflow
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

type RoundingMode int

const (
	RoundDown   RoundingMode = iota // Toward negative infinity (payout-safe)
	RoundUp                         // Toward positive infinity (requirement-safe)
	RoundHalfUp                     // Nearest, half away from zero
)

// DivideInt128 performs numerator / denominator with rounding.
// denominator must be positive.
func DivideInt128(numerator *big.Int, denominator int64, roundingMode RoundingMode) int64 {
	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()

	quotient.QuoRem(numerator, denom, remainder)

	result := quotient.Int64()
	rem := remainder.Int64()

	switch roundingMode {
	case RoundDown:
		if rem < 0 {
			result--
		}

	case RoundUp:
		if rem > 0 {
			result++
		}

	case RoundHalfUp:
		// An exact division never rounds, so a/1 == a for every a.
		if rem != 0 {
			abs := rem
			if abs < 0 {
				abs = -abs
			}
			if 2*abs >= denominator {
				if rem > 0 {
					result++
				} else {
					result--
				}
			}
		}
	}

	putInt128(quotient)
	putInt128(remainder)

	return result
}

// MulDiv computes a * b / denom with an int128 intermediate.
func MulDiv(a, b, denom int64, mode RoundingMode) int64 {
	num := MultiplyInt128(a, b)
	result := DivideInt128(num, denom, mode)
	putInt128(num)
	return result
}

// SyntheticFromCollateral converts reserve-asset units into synthetic units
// at the given rate. Rounds down so the protocol never over-issues.
func SyntheticFromCollateral(collateral, price int64) int64 {
	return MulDiv(collateral, PriceConfig.Scale, price, RoundDown)
}

// CollateralFromSynthetic converts synthetic units into reserve-asset units
// at the given rate. Rounds down so the protocol never over-pays.
func CollateralFromSynthetic(synthetic, price int64) int64 {
	return MulDiv(synthetic, price, PriceConfig.Scale, RoundDown)
}

// CollateralRatio returns collateralValue / mintedValue at ratio scale, where
// mintedValue is the reserve-asset value of the outstanding synthetic supply
// at the given rate. Returns MaxRatio when nothing is minted. The ratio is
// rounded down so a boundary state never clears a floor it does not strictly
// satisfy.
func CollateralRatio(collateralValue, totalMinted, price int64) int64 {
	if totalMinted == 0 {
		return MaxRatio
	}
	mintedValue := MulDiv(totalMinted, price, PriceConfig.Scale, RoundUp)
	if mintedValue == 0 {
		return MaxRatio
	}
	return MulDiv(collateralValue, RatioConfig.Scale, mintedValue, RoundDown)
}

// RequiredCollateral returns the minimum reserve-asset value that keeps the
// given synthetic supply at or above the given ratio floor. Rounds up on both
// steps so the floor check errs toward solvency.
func RequiredCollateral(totalMinted, price, ratio int64) int64 {
	mintedValue := MulDiv(totalMinted, price, PriceConfig.Scale, RoundUp)
	return MulDiv(mintedValue, ratio, RatioConfig.Scale, RoundUp)
}

// PositionPnL returns the signed price-driven profit or loss of a directional
// exposure opened at entryPrice and marked at currentPrice, in reserve-asset
// units. Hedger positions are long the reference rate. Rounds down so gains
// are never overstated.
func PositionPnL(exposure, entryPrice, currentPrice int64) int64 {
	if entryPrice == 0 {
		return 0
	}
	return MulDiv(exposure, currentPrice-entryPrice, entryPrice, RoundDown)
}

// MarginRatio returns equity / exposure at ratio scale. Non-positive equity
// reports a zero ratio; zero exposure reports MaxRatio.
func MarginRatio(equity, exposure int64) int64 {
	if exposure == 0 {
		return MaxRatio
	}
	if equity <= 0 {
		return 0
	}
	return MulDiv(equity, RatioConfig.Scale, exposure, RoundDown)
}
