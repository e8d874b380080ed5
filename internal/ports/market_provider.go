package ports

import (
	"context"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

// MarketProvider descubre los mercados candidatos de cada ciclo.
type MarketProvider interface {
	// FetchCandidates devuelve los mercados activos ya mapeados a snapshots.
	// Cada snapshot expone al menos un token con precio.
	FetchCandidates(ctx context.Context) ([]domain.MarketSnapshot, error)
}

// PriceFeed refresca los precios de las posiciones abiertas.
type PriceFeed interface {
	// FetchPrices devuelve un update por market id. Los mercados que no
	// aparecen en el resultado no se evalúan en este ciclo.
	FetchPrices(ctx context.Context, marketIDs []string) (map[string]domain.PriceUpdate, error)
}
