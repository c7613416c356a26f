package math

import "testing"

// ============================================================
// Rounding
// ============================================================

func TestDivideInt128Rounding(t *testing.T) {
	tests := []struct {
		name  string
		num   int64
		denom int64
		mode  RoundingMode
		want  int64
	}{
		{"down truncates", 7, 2, RoundDown, 3},
		{"down negative toward -inf", -7, 2, RoundDown, -4},
		{"up rounds up", 7, 2, RoundUp, 4},
		{"up exact unchanged", 8, 2, RoundUp, 4},
		{"half-up below half", 10, 4, RoundHalfUp, 3},  // 2.5 -> 3
		{"half-up above half", 11, 4, RoundHalfUp, 3},  // 2.75 -> 3
		{"half-up under half", 9, 4, RoundHalfUp, 2},   // 2.25 -> 2
		{"half-up identity", 42, 1, RoundHalfUp, 42},   // exact division never rounds
		{"half-up negative", -10, 4, RoundHalfUp, -3},  // -2.5 -> -3
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			num := MultiplyInt128(tt.num, 1)
			got := DivideInt128(num, tt.denom, tt.mode)
			putInt128(num)
			if got != tt.want {
				t.Errorf("DivideInt128(%d, %d, %v) = %d, want %d",
					tt.num, tt.denom, tt.mode, got, tt.want)
			}
		})
	}
}

func TestMulDivOverflowSafe(t *testing.T) {
	// 9e18 * 1e6 overflows int64; int128 intermediate must not.
	a := int64(9_000_000_000_000_000_000)
	got := MulDiv(a, AmountConfig.Scale, AmountConfig.Scale, RoundDown)
	if got != a {
		t.Errorf("MulDiv(%d, scale, scale) = %d, want %d", a, got, a)
	}
}

// ============================================================
// Conversions
// ============================================================

func TestSyntheticFromCollateral(t *testing.T) {
	// 10_000 reserve units at rate 1.10 -> 9090.909090 synthetic (truncated).
	collateral := int64(10_000 * 1_000_000)
	price := int64(1_100_000)

	got := SyntheticFromCollateral(collateral, price)
	want := int64(9_090_909_090)
	if got != want {
		t.Errorf("SyntheticFromCollateral = %d, want %d", got, want)
	}
}

func TestMintRedeemRoundTripNeverExceedsInput(t *testing.T) {
	price := int64(1_100_000)
	inputs := []int64{
		1,
		999,
		1_000_000,
		10_000 * 1_000_000,
		123_456_789_123,
	}

	for _, collateralIn := range inputs {
		synthetic := SyntheticFromCollateral(collateralIn, price)
		collateralOut := CollateralFromSynthetic(synthetic, price)
		if collateralOut > collateralIn {
			t.Errorf("round trip of %d returned %d, exceeds input", collateralIn, collateralOut)
		}
	}
}

// ============================================================
// Ratios
// ============================================================

func TestCollateralRatio(t *testing.T) {
	// 1100 collateral backing 1000 synthetic at rate 1.0 -> 110%.
	got := CollateralRatio(1_100_000_000, 1_000_000_000, 1_000_000)
	if got != 1_100_000 {
		t.Errorf("CollateralRatio = %d, want 1100000", got)
	}

	// Empty ledger reports MaxRatio.
	if got := CollateralRatio(0, 0, 1_000_000); got != MaxRatio {
		t.Errorf("empty ledger ratio = %d, want MaxRatio", got)
	}
}

func TestRequiredCollateralRoundsUp(t *testing.T) {
	// 3 synthetic units at rate 1.0 and floor 110% needs ceil(3*1.1).
	got := RequiredCollateral(3, 1_000_000, 1_100_000)
	if got != 4 {
		t.Errorf("RequiredCollateral = %d, want 4", got)
	}
}

func TestMarginRatio(t *testing.T) {
	// equity 50, exposure 1000 -> 5%.
	if got := MarginRatio(50, 1000); got != 50_000 {
		t.Errorf("MarginRatio = %d, want 50000", got)
	}
	if got := MarginRatio(-10, 1000); got != 0 {
		t.Errorf("negative equity ratio = %d, want 0", got)
	}
	if got := MarginRatio(50, 0); got != MaxRatio {
		t.Errorf("zero exposure ratio = %d, want MaxRatio", got)
	}
}

func TestPositionPnL(t *testing.T) {
	// Exposure 1000 opened at 1.00, marked at 1.10 -> +100.
	got := PositionPnL(1_000_000_000, 1_000_000, 1_100_000)
	if got != 100_000_000 {
		t.Errorf("PositionPnL up = %d, want 100000000", got)
	}

	// Marked at 0.90 -> -100.
	got = PositionPnL(1_000_000_000, 1_000_000, 900_000)
	if got != -100_000_000 {
		t.Errorf("PositionPnL down = %d, want -100000000", got)
	}
}

// ============================================================
// Penalty split
// ============================================================

func TestSplitPenaltyConserves(t *testing.T) {
	penalties := []int64{1, 7, 100, 999_999, 123_456_789}
	fractions := []int64{0, 100_000, 333_333, 500_000, 1_000_000}

	for _, p := range penalties {
		for _, f := range fractions {
			split := SplitPenalty(p, f)
			if split.Liquidator+split.Protocol != p {
				t.Errorf("SplitPenalty(%d, %d): %d + %d != %d",
					p, f, split.Liquidator, split.Protocol, p)
			}
			if split.Liquidator < 0 || split.Protocol < 0 {
				t.Errorf("SplitPenalty(%d, %d): negative share", p, f)
			}
		}
	}
}

func TestSplitPenaltyResidualToProtocol(t *testing.T) {
	// 10 at one third: liquidator floor(3.33)=3, protocol 7.
	split := SplitPenalty(10, 333_333)
	if split.Liquidator != 3 || split.Protocol != 7 {
		t.Errorf("SplitPenalty(10, 1/3) = %+v, want liquidator 3 protocol 7", split)
	}
}

func TestComputeLiquidationPenalty(t *testing.T) {
	// 5% of 200 equity -> 10.
	if got := ComputeLiquidationPenalty(200, 50_000); got != 10 {
		t.Errorf("ComputeLiquidationPenalty = %d, want 10", got)
	}
	if got := ComputeLiquidationPenalty(-5, 50_000); got != 0 {
		t.Errorf("negative equity penalty = %d, want 0", got)
	}
}
