package feed

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"PegVault/internal/math"
)

// Quote is a parsed feed quote ready for the engine. Price is fixed-point at
// price scale; non-positive prices are passed through so the gateway can
// flag the quote invalid.
type Quote struct {
	Price    int64
	Sequence uint64
}

// quoteJSON is the wire format produced by the reference-rate feed. Prices
// arrive as decimal strings ("1.023450") and are truncated to price scale.
type quoteJSON struct {
	Price       decimal.Decimal `json:"price"`
	Sequence    uint64          `json:"sequence"`
	TimestampUs int64           `json:"timestamp_us"`
}

// ParseQuote converts feed JSON into a Quote. Malformed JSON and missing
// sequence numbers are errors; a non-positive price is not, the engine
// handles it as an invalidation signal.
func ParseQuote(data []byte) (Quote, error) {
	var j quoteJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return Quote{}, fmt.Errorf("parse quote: %w", err)
	}
	if j.Sequence == 0 {
		return Quote{}, fmt.Errorf("parse quote: missing sequence")
	}

	scaled := j.Price.Shift(int32(math.PriceConfig.DecimalPrecision))
	if !scaled.IsInteger() {
		scaled = scaled.Truncate(0)
	}
	if !scaled.BigInt().IsInt64() {
		return Quote{}, fmt.Errorf("parse quote: price %s out of range", j.Price)
	}

	return Quote{
		Price:    scaled.IntPart(),
		Sequence: j.Sequence,
	}, nil
}
