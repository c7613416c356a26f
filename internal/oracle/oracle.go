// Package oracle provides the exchange-rate gateway: the reserve-asset price
// of one synthetic unit, re-queried by every settlement operation.
package oracle

import "PegVault/internal/math"

// Gateway answers the current rate. ok=false means the quote is unusable
// (never set, flagged invalid, or stale); the last stored price is still
// returned so dev-mode callers can proceed against it.
type Gateway interface {
	GetPrice() (price int64, ok bool)
}

// Ticker supplies the logical tick. Small consumer-side interface to avoid
// depending on the engine.
type Ticker interface {
	Tick() int64
}

// FeedGateway is a quote store driven by an external price feed. Updates
// carry a producer sequence number; stale or duplicate sequences are silently
// ignored and gaps are tolerated. Quotes expire after maxAgeTicks.
type FeedGateway struct {
	ticker Ticker

	price        int64
	valid        bool
	lastSequence uint64
	updatedTick  int64
	maxAgeTicks  int64
}

// NewFeedGateway builds a gateway with no usable quote. maxAgeTicks <= 0
// disables the staleness window.
func NewFeedGateway(ticker Ticker, maxAgeTicks int64) *FeedGateway {
	return &FeedGateway{
		ticker:      ticker,
		maxAgeTicks: maxAgeTicks,
	}
}

// Update applies a feed quote. Returns true when the quote was accepted.
// Out-of-order and duplicate sequences are dropped; non-positive prices mark
// the quote invalid without touching the stored rate.
func (g *FeedGateway) Update(price int64, sequence uint64) bool {
	if sequence <= g.lastSequence && g.lastSequence != 0 {
		return false
	}
	g.lastSequence = sequence

	if price <= 0 {
		g.valid = false
		return false
	}

	g.price = price
	g.valid = true
	g.updatedTick = g.ticker.Tick()
	return true
}

// LastSequence returns the highest producer sequence seen.
func (g *FeedGateway) LastSequence() uint64 {
	return g.lastSequence
}

// Invalidate flags the current quote unusable until the next valid update.
func (g *FeedGateway) Invalidate() {
	g.valid = false
}

func (g *FeedGateway) GetPrice() (int64, bool) {
	if !g.valid || g.price <= 0 {
		return g.price, false
	}
	if g.maxAgeTicks > 0 && g.ticker.Tick()-g.updatedTick > g.maxAgeTicks {
		return g.price, false
	}
	return g.price, true
}

// StaticGateway serves a fixed rate. Test and bootstrap helper.
type StaticGateway struct {
	Price int64
	Valid bool
}

func NewStaticGateway(price int64) *StaticGateway {
	return &StaticGateway{Price: price, Valid: true}
}

func (g *StaticGateway) GetPrice() (int64, bool) {
	return g.Price, g.Valid && g.Price > 0
}

// ParPrice is the 1:1 rate at price scale.
const ParPrice = math.OneHundredPercent
