package oracle

import "testing"

type fakeTicker struct{ tick int64 }

func (f *fakeTicker) Tick() int64 { return f.tick }

func TestFeedGatewayNoQuote(t *testing.T) {
	g := NewFeedGateway(&fakeTicker{}, 0)
	if _, ok := g.GetPrice(); ok {
		t.Error("fresh gateway must have no usable quote")
	}
}

func TestFeedGatewaySequenceOrdering(t *testing.T) {
	g := NewFeedGateway(&fakeTicker{}, 0)

	if !g.Update(1_000_000, 10) {
		t.Fatal("first update rejected")
	}
	if g.Update(2_000_000, 10) {
		t.Error("duplicate sequence accepted")
	}
	if g.Update(2_000_000, 5) {
		t.Error("stale sequence accepted")
	}
	if price, _ := g.GetPrice(); price != 1_000_000 {
		t.Errorf("price = %d, want 1000000 (stale update applied)", price)
	}

	// Gaps are tolerated.
	if !g.Update(1_500_000, 100) {
		t.Error("gapped sequence rejected")
	}
	if price, _ := g.GetPrice(); price != 1_500_000 {
		t.Errorf("price = %d, want 1500000", price)
	}
}

func TestFeedGatewayInvalidQuote(t *testing.T) {
	g := NewFeedGateway(&fakeTicker{}, 0)
	g.Update(1_000_000, 1)

	if g.Update(0, 2) {
		t.Error("non-positive price accepted")
	}
	if _, ok := g.GetPrice(); ok {
		t.Error("invalid quote must disable the gateway")
	}

	g.Update(1_100_000, 3)
	if price, ok := g.GetPrice(); !ok || price != 1_100_000 {
		t.Errorf("recovery quote: got (%d, %v)", price, ok)
	}
}

func TestFeedGatewayStaleness(t *testing.T) {
	ticker := &fakeTicker{tick: 100}
	g := NewFeedGateway(ticker, 5)
	g.Update(1_000_000, 1)

	ticker.tick = 105
	if _, ok := g.GetPrice(); !ok {
		t.Error("quote within max age rejected")
	}

	ticker.tick = 106
	if _, ok := g.GetPrice(); ok {
		t.Error("quote past max age accepted")
	}
}

func TestStaticGateway(t *testing.T) {
	g := NewStaticGateway(1_100_000)
	if price, ok := g.GetPrice(); !ok || price != 1_100_000 {
		t.Errorf("got (%d, %v), want (1100000, true)", price, ok)
	}

	g.Valid = false
	if _, ok := g.GetPrice(); ok {
		t.Error("invalidated static gateway still serving")
	}
}
