package lifecycle

import "github.com/alejandrodnm/polytrader/internal/domain"

// Stop widths are fractions of the held entry price.
const (
	MinStopWidth = 0.08
	MaxStopWidth = 0.35
)

// Take-profit only fires at the resolution extremes.
const (
	takeProfitYes = 0.99
	takeProfitNo  = 0.01
)

// EdgeMultiplier widens stops for larger entry edges. An edge equal to the
// reference gives 1.0; the result is bounded to [0.75, 1.5].
func EdgeMultiplier(entryEdge, referenceEdge float64) float64 {
	if referenceEdge <= 0 {
		return 1
	}
	return domain.Clamp(entryEdge/referenceEdge, 0.75, 1.5)
}

// StopWidth is base * confidence * edge multiplier, clamped to [8%, 35%].
func StopWidth(base float64, conf domain.Confidence, edgeMult float64) float64 {
	return domain.Clamp(base*conf.StopMultiplier()*edgeMult, MinStopWidth, MaxStopWidth)
}

// StopPrice converts a width into a YES-price threshold. For a NO position
// the held price 1-entry falls by width, so the YES threshold rises.
func StopPrice(side domain.Side, entryYes, width float64) float64 {
	if side == domain.SideNo {
		return 1 - (1-entryYes)*(1-width)
	}
	return entryYes * (1 - width)
}

func stopHit(p *domain.Position, yes float64) bool {
	if p.Side == domain.SideNo {
		return yes >= p.StopLossPrice
	}
	return yes <= p.StopLossPrice
}

func takeProfitHit(side domain.Side, yes float64) bool {
	if side == domain.SideNo {
		return yes <= takeProfitNo
	}
	return yes >= takeProfitYes
}
