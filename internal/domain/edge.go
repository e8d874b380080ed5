package domain

import "math"

// Direction is the trade the edge points to.
type Direction string

const (
	DirectionBuyYes Direction = "BUY_YES"
	DirectionBuyNo  Direction = "BUY_NO"
)

// Side returns the outcome held when trading in this direction.
func (d Direction) Side() Side {
	if d == DirectionBuyNo {
		return SideNo
	}
	return SideYes
}

// EdgeInput groups the inputs of CalculateEdge.
type EdgeInput struct {
	ImpliedProbability float64 // YES price
	ModelProbability   float64
	FeePct             float64
	GasCostUSD         float64
	StakeUSD           float64 // used to express gas as a fraction of stake
}

// EdgeResult is the cost-adjusted edge for one candidate in one cycle.
type EdgeResult struct {
	ImpliedProbability   float64
	ModelProbability     float64
	RawEdge              float64
	Direction            Direction
	TransactionCostPct   float64
	NetEdge              float64 // positive means favourable in Direction
	IsPositive           bool
	ExpectedValuePerUSD  float64
	BreakEvenProbability float64
}

// CostBasis is the price paid per share of the held outcome.
func (e EdgeResult) CostBasis() float64 {
	if e.Direction == DirectionBuyNo {
		return 1 - e.ImpliedProbability
	}
	return e.ImpliedProbability
}

// HeldProbability is the model probability of the held outcome.
func (e EdgeResult) HeldProbability() float64 {
	if e.Direction == DirectionBuyNo {
		return 1 - e.ModelProbability
	}
	return e.ModelProbability
}

// CalculateEdge converts implied and model probabilities into a directional
// edge net of single-leg costs. Positions are held to resolution, so there is
// no exit fee.
func CalculateEdge(in EdgeInput) EdgeResult {
	raw := in.ModelProbability - in.ImpliedProbability

	dir := DirectionBuyYes
	if raw < 0 {
		dir = DirectionBuyNo
	}

	cost := in.FeePct
	if in.StakeUSD > 0 {
		cost += in.GasCostUSD / in.StakeUSD
	}

	res := EdgeResult{
		ImpliedProbability: in.ImpliedProbability,
		ModelProbability:   in.ModelProbability,
		RawEdge:            raw,
		Direction:          dir,
		TransactionCostPct: cost,
		NetEdge:            math.Abs(raw) - cost,
	}
	res.IsPositive = res.NetEdge > 0

	if basis := res.CostBasis(); basis > 0 {
		res.ExpectedValuePerUSD = res.HeldProbability()/basis - 1 - cost
	}

	if dir == DirectionBuyYes {
		res.BreakEvenProbability = Clamp(in.ImpliedProbability+cost, 0, 1)
	} else {
		res.BreakEvenProbability = Clamp(in.ImpliedProbability-cost, 0, 1)
	}
	return res
}
