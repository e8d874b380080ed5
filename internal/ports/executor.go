package ports

import (
	"context"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

// OrderExecutor places real orders on the Polymarket CLOB.
type OrderExecutor interface {
	// PlaceOrder signs and submits an order. Errors wrapping
	// domain.ErrOrderRejected are final and must not be retried.
	PlaceOrder(ctx context.Context, req domain.PlaceOrderRequest) (domain.PlacedOrder, error)

	// GetOrder returns the current state of a placed order, including the
	// cumulative matched size.
	GetOrder(ctx context.Context, exchangeOrderID string) (domain.ExchangeOrder, error)

	// CancelOrder cancels a resting order. Cancelling an order that already
	// filled or was cancelled is not an error.
	CancelOrder(ctx context.Context, exchangeOrderID string) error

	// GetBalance returns the available USDC.e balance in the CLOB.
	GetBalance(ctx context.Context) (float64, error)
}
