package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateEdge_BuyYesScenario(t *testing.T) {
	// implied=0.60, model=0.75, fee=2%
	e := CalculateEdge(EdgeInput{ImpliedProbability: 0.60, ModelProbability: 0.75, FeePct: 0.02})

	assert.InDelta(t, 0.15, e.RawEdge, 1e-9)
	assert.InDelta(t, 0.13, e.NetEdge, 1e-9)
	assert.Equal(t, DirectionBuyYes, e.Direction)
	assert.True(t, e.IsPositive)
	assert.InDelta(t, 0.60, e.CostBasis(), 1e-9)
	// 0.75/0.60 - 1 - 0.02
	assert.InDelta(t, 0.23, e.ExpectedValuePerUSD, 1e-9)
	assert.InDelta(t, 0.62, e.BreakEvenProbability, 1e-9)
}

func TestCalculateEdge_BuyNo(t *testing.T) {
	e := CalculateEdge(EdgeInput{ImpliedProbability: 0.70, ModelProbability: 0.50, FeePct: 0.01})

	assert.Equal(t, DirectionBuyNo, e.Direction)
	assert.InDelta(t, -0.20, e.RawEdge, 1e-9)
	assert.InDelta(t, 0.19, e.NetEdge, 1e-9)
	assert.InDelta(t, 0.30, e.CostBasis(), 1e-9)
	assert.InDelta(t, 0.50, e.HeldProbability(), 1e-9)
	assert.InDelta(t, 0.69, e.BreakEvenProbability, 1e-9)
}

func TestCalculateEdge_GasAsFractionOfStake(t *testing.T) {
	e := CalculateEdge(EdgeInput{
		ImpliedProbability: 0.40,
		ModelProbability:   0.45,
		FeePct:             0.02,
		GasCostUSD:         1,
		StakeUSD:           50,
	})
	assert.InDelta(t, 0.04, e.TransactionCostPct, 1e-9)
	assert.InDelta(t, 0.01, e.NetEdge, 1e-9)
	assert.True(t, e.IsPositive)
}

func TestCalculateEdge_ZeroStakeIgnoresGas(t *testing.T) {
	e := CalculateEdge(EdgeInput{ImpliedProbability: 0.5, ModelProbability: 0.5, FeePct: 0.02, GasCostUSD: 5})
	assert.InDelta(t, 0.02, e.TransactionCostPct, 1e-9)
	assert.False(t, e.IsPositive)
	assert.Equal(t, DirectionBuyYes, e.Direction)
}

func TestCalculateEdge_DirectionAndCostProperties(t *testing.T) {
	for implied := 0.05; implied < 0.96; implied += 0.05 {
		for model := 0.01; model < 1.0; model += 0.07 {
			e := CalculateEdge(EdgeInput{ImpliedProbability: implied, ModelProbability: model, FeePct: 0.02})
			raw := model - implied
			if raw >= 0 {
				assert.Equal(t, DirectionBuyYes, e.Direction)
			} else {
				assert.Equal(t, DirectionBuyNo, e.Direction)
			}
			assert.LessOrEqual(t, e.NetEdge, math.Abs(e.RawEdge)+1e-12)
		}
	}
}
