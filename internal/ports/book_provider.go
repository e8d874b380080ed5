package ports

import (
	"context"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

// BookProvider obtiene el orderbook del CLOB para un token.
type BookProvider interface {
	FetchOrderBook(ctx context.Context, tokenID string) (domain.OrderBook, error)
}
