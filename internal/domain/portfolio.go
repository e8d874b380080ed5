package domain

// PortfolioRiskReport is recomputed from the open positions on every
// assessment. Positions remain the source of truth.
type PortfolioRiskReport struct {
	Bankroll                float64
	TotalExposure           float64
	TotalExposurePct        float64
	CategoryExposure        map[string]float64 // fraction of bankroll
	EventExposure           map[string]float64 // fraction of bankroll
	CategoryCounts          map[string]int
	LargestPositionFraction float64
	LargestPositionMarket   string
	Violations              []string
	IsHealthy               bool
}

// RebalanceSignal is advisory. It never blocks trading.
type RebalanceSignal struct {
	Scope     string // category | event | position
	Key       string
	Current   float64
	Limit     float64
	ExcessUSD float64
	Message   string
}
