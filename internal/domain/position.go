package domain

import "time"

// Side is the outcome held by a position.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// PositionStatus follows open -> closing -> closed. Closed is terminal.
type PositionStatus string

const (
	PositionOpen    PositionStatus = "open"
	PositionClosing PositionStatus = "closing"
	PositionClosed  PositionStatus = "closed"
)

// Position is an open (or archived) holding in one market.
// EntryPrice, CurrentPrice and StopLossPrice are YES-outcome prices
// regardless of Side.
type Position struct {
	ID                string
	MarketID          string
	TokenID           string
	Question          string
	Category          string
	EventID           string
	Side              Side
	SizeUSD           float64
	Shares            float64
	EntryPrice        float64
	EntryTime         time.Time
	CurrentPrice      float64
	UnrealisedPnL     float64
	RealisedPnL       float64
	Status            PositionStatus
	StopLossPrice     float64
	StopWidth         float64 // fraction of the held-token entry price (1-EntryPrice for NO), in [0.08, 0.35]
	TakeProfitPrice   float64
	HighWaterPnL      float64
	LowWaterPnL       float64
	TrailingActivated bool
	PartialExitTaken  bool
	EntryEdge         float64
	EntryConfidence   Confidence
	EndDate           time.Time
	NegRisk           bool
	UpdatedAt         time.Time
	ClosedAt          *time.Time
	RealisedAt        *time.Time // last exit that booked realised P&L
	ExitReason        ExitReason
	ExitPrice         float64
}

// HeldPrice converts a YES price into the price of the held outcome.
func HeldPrice(side Side, yesPrice float64) float64 {
	if side == SideNo {
		return 1 - yesPrice
	}
	return yesPrice
}

// SharesFor returns the shares bought with sizeUSD at a YES price.
func SharesFor(side Side, sizeUSD, yesPrice float64) float64 {
	held := HeldPrice(side, yesPrice)
	if held <= 0 {
		return 0
	}
	return sizeUSD / held
}

// PnLAt computes P&L for shares entered at entry and valued at current.
// Used for both unrealised and realised P&L.
func PnLAt(side Side, shares, entry, current float64) float64 {
	if side == SideNo {
		return shares * (entry - current)
	}
	return shares * (current - entry)
}

// PnLAt values the position at a YES price.
func (p Position) PnLAt(yesPrice float64) float64 {
	return PnLAt(p.Side, p.Shares, p.EntryPrice, yesPrice)
}

// PnLPct is unrealised P&L as a fraction of stake.
func (p Position) PnLPct() float64 {
	if p.SizeUSD <= 0 {
		return 0
	}
	return p.UnrealisedPnL / p.SizeUSD
}

// MarketValue is the current value of the held shares.
func (p Position) MarketValue() float64 {
	return p.Shares * HeldPrice(p.Side, p.CurrentPrice)
}

// IsOpen reports whether the position still carries risk.
func (p Position) IsOpen() bool {
	return p.Status == PositionOpen || p.Status == PositionClosing
}

// ExitReason explains why a position should be closed.
type ExitReason string

const (
	ExitKillSwitch     ExitReason = "kill_switch"
	ExitMarketResolved ExitReason = "market_resolved"
	ExitTrailingStop   ExitReason = "trailing_stop"
	ExitStopLoss       ExitReason = "stop_loss"
	ExitTakeProfit     ExitReason = "take_profit"
	ExitTime           ExitReason = "time_exit"
	ExitPartial        ExitReason = "partial_exit"
	ExitEdgeReversal   ExitReason = "edge_reversal"
)

// Urgency tells the scheduler how aggressively to route the exit.
type Urgency string

const (
	UrgencyImmediate Urgency = "immediate"
	UrgencySoon      Urgency = "soon"
	UrgencyOptional  Urgency = "optional"
)

// ExitSignal is transient: produced by the lifecycle manager, consumed by the
// scheduler in the same cycle.
type ExitSignal struct {
	MarketID      string
	Reason        ExitReason
	Urgency       Urgency
	ExitFraction  float64
	CurrentPnL    float64
	CurrentPnLPct float64
	Details       string
}

// PriceUpdate is the fresh data for one open position.
type PriceUpdate struct {
	MarketID          string
	YesPrice          float64
	ResolvedPrice     *float64 // set when the feed reports a resolution
	ModelProbability  *float64 // fresh forecast, YES terms
	HoursToResolution float64
	At                time.Time
}
