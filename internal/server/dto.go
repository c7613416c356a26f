package server

import (
	"fmt"

	"github.com/shopspring/decimal"

	"PegVault/internal/errs"
	"PegVault/internal/math"
)

// Amounts cross the HTTP boundary as decimal strings and are converted to
// fixed-point at amount scale. Excess precision is rejected, not truncated:
// a client sending "1.0000001" is confused about the unit and should know.

type mintRequest struct {
	CollateralIn    decimal.Decimal `json:"collateral_in"`
	MinSyntheticOut decimal.Decimal `json:"min_synthetic_out"`
}

type mintResponse struct {
	SyntheticOut decimal.Decimal `json:"synthetic_out"`
	Sequence     int64           `json:"sequence"`
}

type redeemRequest struct {
	SyntheticIn      decimal.Decimal `json:"synthetic_in"`
	MinCollateralOut decimal.Decimal `json:"min_collateral_out"`
}

type redeemResponse struct {
	CollateralOut decimal.Decimal `json:"collateral_out"`
	Sequence      int64           `json:"sequence"`
}

type enterPositionRequest struct {
	Margin   decimal.Decimal `json:"margin"`
	Leverage int64           `json:"leverage"`
}

type enterPositionResponse struct {
	PositionID int64           `json:"position_id"`
	Margin     decimal.Decimal `json:"margin"`
	Exposure   decimal.Decimal `json:"exposure"`
	EntryPrice decimal.Decimal `json:"entry_price"`
}

type adjustMarginRequest struct {
	Action string          `json:"action"` // "add" or "remove"
	Amount decimal.Decimal `json:"amount"`
}

type exitPositionResponse struct {
	Payout decimal.Decimal `json:"payout"`
}

type liquidateResponse struct {
	LiquidatorReward decimal.Decimal `json:"liquidator_reward"`
}

type positionResponse struct {
	PositionID         int64           `json:"position_id"`
	Owner              string          `json:"owner"`
	Margin             decimal.Decimal `json:"margin"`
	Leverage           int64           `json:"leverage"`
	Exposure           decimal.Decimal `json:"exposure"`
	EntryPrice         decimal.Decimal `json:"entry_price"`
	Status             string          `json:"status"`
	OpenedAtTick       int64           `json:"opened_at_tick"`
	LastAdjustedAtTick int64           `json:"last_adjusted_at_tick"`
}

type statusResponse struct {
	Sequence        int64           `json:"sequence"`
	Tick            int64           `json:"tick"`
	Price           decimal.Decimal `json:"price"`
	PriceOK         bool            `json:"price_ok"`
	TotalMinted     decimal.Decimal `json:"total_minted"`
	TotalCollateral decimal.Decimal `json:"total_collateral"`
	HedgerDeposits  decimal.Decimal `json:"hedger_deposits"`
	CollateralRatio decimal.Decimal `json:"collateral_ratio"`
	TotalMargin     decimal.Decimal `json:"total_margin"`
	TotalExposure   decimal.Decimal `json:"total_exposure"`
	ActivePositions int             `json:"active_positions"`
	DevMode         bool            `json:"dev_mode"`
	Paused          bool            `json:"paused"`
}

type thresholdsRequest struct {
	MinMintRatio  decimal.Decimal `json:"min_mint_ratio"`
	CriticalRatio decimal.Decimal `json:"critical_ratio"`
}

type devModeRequest struct {
	Enabled bool `json:"enabled"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// toFixed converts a boundary decimal to fixed-point at amount scale.
func toFixed(d decimal.Decimal) (int64, error) {
	scaled := d.Shift(int32(math.AmountConfig.DecimalPrecision))
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("more than %d decimal places: %w",
			math.AmountConfig.DecimalPrecision, errs.ErrInvalidParameter)
	}
	if !scaled.BigInt().IsInt64() {
		return 0, fmt.Errorf("value %s out of range: %w", d, errs.ErrInvalidParameter)
	}
	return scaled.IntPart(), nil
}

// fromFixed converts fixed-point back to a boundary decimal.
func fromFixed(v int64) decimal.Decimal {
	return decimal.New(v, -int32(math.AmountConfig.DecimalPrecision))
}
