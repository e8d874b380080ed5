package ports

import (
	"context"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

// Alerter entrega alertas al operador.
type Alerter interface {
	Alert(ctx context.Context, a domain.Alert) error
}

// StatusPublisher publica el snapshot de estado para consumidores externos.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, s domain.SchedulerStatus) error
}
