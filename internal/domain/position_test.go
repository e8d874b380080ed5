package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPnLAt_MonotonicInPrice(t *testing.T) {
	yes := Position{Side: SideYes, Shares: 100, EntryPrice: 0.5}
	no := Position{Side: SideNo, Shares: 100, EntryPrice: 0.5}

	prevYes := yes.PnLAt(0.01)
	prevNo := no.PnLAt(0.01)
	for p := 0.02; p <= 0.99; p += 0.01 {
		y := yes.PnLAt(p)
		n := no.PnLAt(p)
		assert.Greater(t, y, prevYes, "yes pnl must increase at %.2f", p)
		assert.Less(t, n, prevNo, "no pnl must decrease at %.2f", p)
		prevYes, prevNo = y, n
	}
}

func TestSharesFor_UsesHeldPrice(t *testing.T) {
	assert.InDelta(t, 200.0, SharesFor(SideYes, 100, 0.5), 1e-9)
	// NO at yes=0.8 costs 0.2 per share
	assert.InDelta(t, 500.0, SharesFor(SideNo, 100, 0.8), 1e-9)
	assert.Equal(t, 0.0, SharesFor(SideNo, 100, 1.0))
}

func TestPosition_MarketValue(t *testing.T) {
	p := Position{Side: SideNo, Shares: 10, EntryPrice: 0.7, CurrentPrice: 0.6}
	assert.InDelta(t, 4.0, p.MarketValue(), 1e-9)
	assert.InDelta(t, 1.0, p.PnLAt(0.6), 1e-9)
}

func TestOrderBook_AskDepthAndSpread(t *testing.T) {
	ob := OrderBook{
		Bids: []BookEntry{{Price: 0.48, Size: 100}},
		Asks: []BookEntry{{Price: 0.52, Size: 100}, {Price: 0.55, Size: 200}},
	}
	assert.InDelta(t, 0.04, ob.Spread(), 1e-9)
	assert.InDelta(t, 0.50, ob.Midpoint(), 1e-9)
	assert.InDelta(t, 162.0, ob.AskDepthUSDC(), 1e-9)
	assert.False(t, ob.IsEmpty())
}
