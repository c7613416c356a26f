package book

import (
	"github.com/google/uuid"

	"PegVault/internal/math"
)

// PositionStatus tracks a position's lifecycle
type PositionStatus int32

const (
	PositionStatusActive PositionStatus = iota
	PositionStatusClosed
	PositionStatusLiquidated
)

func (s PositionStatus) String() string {
	switch s {
	case PositionStatusActive:
		return "Active"
	case PositionStatusClosed:
		return "Closed"
	case PositionStatusLiquidated:
		return "Liquidated"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates status transitions. Closed and Liquidated are
// terminal and reached exactly once.
func (s PositionStatus) CanTransitionTo(next PositionStatus) bool {
	validTransitions := map[PositionStatus][]PositionStatus{
		PositionStatusActive: {
			PositionStatusClosed,
			PositionStatusLiquidated,
		},
	}

	allowed, ok := validTransitions[s]
	if !ok {
		return false
	}

	for _, allowedStatus := range allowed {
		if next == allowedStatus {
			return true
		}
	}

	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s PositionStatus) IsTerminal() bool {
	return s == PositionStatusClosed || s == PositionStatusLiquidated
}

// Position is a hedger's leveraged directional exposure. IDs are assigned
// monotonically and never reused.
type Position struct {
	ID                 int64
	Owner              uuid.UUID
	Margin             int64 // Fixed-point: amount scale
	Leverage           int64 // Plain multiplier, [1, max]
	Exposure           int64 // Margin * leverage at open, fixed for the position's life
	EntryPrice         int64 // Fixed-point: price scale
	OpenedAtTick       int64
	LastAdjustedAtTick int64
	Status             PositionStatus
}

// PnL returns the price-driven profit or loss at the given rate.
func (p *Position) PnL(price int64) int64 {
	return math.PositionPnL(p.Exposure, p.EntryPrice, price)
}

// Equity returns margin plus PnL, floored at zero. Losses beyond margin are
// absorbed by the protocol, never collected from the hedger.
func (p *Position) Equity(price int64) int64 {
	equity := p.Margin + p.PnL(price)
	if equity < 0 {
		return 0
	}
	return equity
}

// MarginRatio returns equity over exposure at ratio scale.
func (p *Position) MarginRatio(price int64) int64 {
	return math.MarginRatio(p.Margin+p.PnL(price), p.Exposure)
}

// CanonicalBytes returns deterministic serialization for hashing
func (p *Position) CanonicalBytes() []byte {
	buf := make([]byte, 0, 80)

	buf = appendInt64LE(buf, p.ID)
	buf = append(buf, p.Owner[:]...)
	buf = appendInt64LE(buf, p.Margin)
	buf = appendInt64LE(buf, p.Leverage)
	buf = appendInt64LE(buf, p.Exposure)
	buf = appendInt64LE(buf, p.EntryPrice)
	buf = appendInt64LE(buf, p.OpenedAtTick)
	buf = appendInt64LE(buf, p.LastAdjustedAtTick)
	buf = append(buf, byte(p.Status))

	return buf
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}
