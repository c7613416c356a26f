package event

import "github.com/google/uuid"

// Minted is emitted when collateral is deposited and synthetic issued.
type Minted struct {
	Caller       uuid.UUID `json:"caller"`
	CollateralIn int64     `json:"collateral_in"`
	SyntheticOut int64     `json:"synthetic_out"`
}

// Redeemed is emitted when synthetic is burned for collateral.
type Redeemed struct {
	Caller        uuid.UUID `json:"caller"`
	SyntheticIn   int64     `json:"synthetic_in"`
	CollateralOut int64     `json:"collateral_out"`
}

// PositionOpened is emitted when a hedger enters a position.
type PositionOpened struct {
	PositionID int64     `json:"position_id"`
	Owner      uuid.UUID `json:"owner"`
	Margin     int64     `json:"margin"`
	Leverage   int64     `json:"leverage"`
	Exposure   int64     `json:"exposure"`
	EntryPrice int64     `json:"entry_price"`
}

// MarginAdjusted covers both MarginAdded and MarginRemoved.
type MarginAdjusted struct {
	PositionID int64     `json:"position_id"`
	Owner      uuid.UUID `json:"owner"`
	Amount     int64     `json:"amount"`
	NewMargin  int64     `json:"new_margin"`
}

// PositionClosed is emitted on a voluntary exit.
type PositionClosed struct {
	PositionID int64     `json:"position_id"`
	Owner      uuid.UUID `json:"owner"`
	Payout     int64     `json:"payout"`
}

// PositionLiquidated is emitted when a liquidation settles.
type PositionLiquidated struct {
	PositionID       int64     `json:"position_id"`
	Owner            uuid.UUID `json:"owner"`
	Liquidator       uuid.UUID `json:"liquidator"`
	LiquidatorReward int64     `json:"liquidator_reward"`
}

// ThresholdsUpdated is emitted when governance changes the ratio floors.
type ThresholdsUpdated struct {
	MinMintRatio  int64 `json:"min_mint_ratio"`
	CriticalRatio int64 `json:"critical_ratio"`
}

// DevModeSet is emitted when governance toggles dev mode.
type DevModeSet struct {
	Enabled bool `json:"enabled"`
}

// PriceUpdate is the inbound feed quote.
type PriceUpdate struct {
	Price    int64  `json:"price"`
	Sequence uint64 `json:"sequence"`
}
