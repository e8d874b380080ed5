package domain

// CapReason names the bound that determined a stake.
type CapReason string

const (
	CapKelly       CapReason = "kelly"
	CapMaxStake    CapReason = "max_stake"
	CapMaxBankroll CapReason = "max_bankroll"
	CapDrawdown    CapReason = "drawdown"
	CapPortfolio   CapReason = "portfolio"
)

// SizingMultipliers is the breakdown of every factor applied to full Kelly.
type SizingMultipliers struct {
	Confidence float64
	BaseKelly  float64
	Drawdown   float64
	Timeline   float64
	Volatility float64
	Regime     float64
	Category   float64
}

// Product multiplies all factors together.
func (m SizingMultipliers) Product() float64 {
	return m.Confidence * m.BaseKelly * m.Drawdown * m.Timeline * m.Volatility * m.Regime * m.Category
}

// PositionSize is the output of the sizer.
// Invariant: 0 <= StakeUSD <= min(max_stake_per_market, max_bankroll_fraction*bankroll).
type PositionSize struct {
	StakeUSD          float64
	KellyFractionUsed float64 // fraction of bankroll after multipliers
	FullKellyFraction float64
	FullKellyStake    float64 // full Kelly fraction times bankroll
	CappedBy          CapReason
	Direction         Direction
	Price             float64 // cost basis of the held outcome
	TokenQuantity     float64
	Multipliers       SizingMultipliers
}

// IsZero reports whether nothing should be traded.
func (p PositionSize) IsZero() bool {
	return p.StakeUSD <= 0
}
