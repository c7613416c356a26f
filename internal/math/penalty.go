package math

// PenaltySplit is the deterministic division of a liquidation penalty between
// the liquidator and the protocol.
type PenaltySplit struct {
	Penalty    int64 // Total penalty charged against position equity
	Liquidator int64 // Incentive paid to the caller that triggered liquidation
	Protocol   int64 // Retained by the protocol, including the rounding residual
}

// ComputeLiquidationPenalty returns the penalty charged against a position's
// remaining equity, at the given penalty fraction (ratio scale). Negative or
// zero equity yields a zero penalty.
func ComputeLiquidationPenalty(equity, penaltyFraction int64) int64 {
	if equity <= 0 {
		return 0
	}
	return MulDiv(equity, penaltyFraction, RatioConfig.Scale, RoundDown)
}

// SplitPenalty divides a penalty between liquidator and protocol at the given
// liquidator fraction (ratio scale). The liquidator share rounds down and the
// residual always lands on the protocol side, so
// Liquidator + Protocol == Penalty exactly.
func SplitPenalty(penalty, liquidatorFraction int64) PenaltySplit {
	if penalty <= 0 {
		return PenaltySplit{}
	}

	liquidator := MulDiv(penalty, liquidatorFraction, RatioConfig.Scale, RoundDown)
	if liquidator > penalty {
		liquidator = penalty
	}

	return PenaltySplit{
		Penalty:    penalty,
		Liquidator: liquidator,
		Protocol:   penalty - liquidator,
	}
}
