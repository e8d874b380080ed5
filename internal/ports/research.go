package ports

import (
	"context"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

// Researcher collects evidence and produces a forecast for one market.
type Researcher interface {
	Research(ctx context.Context, market domain.MarketSnapshot) (domain.ResearchResult, error)
}

// ConvictionProvider reports smart-money positioning. Optional: the engine
// runs without one. ok is false when there is no signal for the market.
type ConvictionProvider interface {
	Conviction(ctx context.Context, marketID string) (sig domain.ConvictionSignal, ok bool, err error)
}
