package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

// PositionStore persiste el set de posiciones abiertas y el archivo de cerradas.
type PositionStore interface {
	// SavePositions reemplaza el set de posiciones abiertas.
	SavePositions(ctx context.Context, positions []domain.Position) error
	LoadOpenPositions(ctx context.Context) ([]domain.Position, error)
	// ArchivePosition mueve una posición cerrada al archivo. Nunca se borra.
	ArchivePosition(ctx context.Context, p domain.Position) error
	LoadClosedPositions(ctx context.Context, limit int) ([]domain.Position, error)
}

// TradeStore guarda una fila por orden enviada.
type TradeStore interface {
	SaveTrade(ctx context.Context, t domain.TradeRecord) error
	TradesByCycle(ctx context.Context, cycleID string) ([]domain.TradeRecord, error)
}

// FillStore es append-only.
type FillStore interface {
	SaveFill(ctx context.Context, f domain.FillRecord) error
	LoadFills(ctx context.Context, since time.Time) ([]domain.FillRecord, error)
}

// CycleStore guarda el resultado de cada ciclo.
type CycleStore interface {
	SaveCycle(ctx context.Context, c domain.CycleResult) error
	RecentCycles(ctx context.Context, limit int) ([]domain.CycleResult, error)
}

// DecisionStore es el log de decisiones por candidato, consultable por ciclo.
type DecisionStore interface {
	SaveDecision(ctx context.Context, d domain.DecisionRecord) error
	DecisionsByCycle(ctx context.Context, cycleID string) ([]domain.DecisionRecord, error)
}

// AuditStore guarda las entradas de auditoría selladas.
type AuditStore interface {
	SaveAudit(ctx context.Context, a domain.AuditEntry) error
	AuditByCycle(ctx context.Context, cycleID string) ([]domain.AuditEntry, error)
}

// DrawdownStore persiste el snapshot del drawdown controller (una sola fila).
type DrawdownStore interface {
	SaveDrawdown(ctx context.Context, s domain.DrawdownState) error
	// LoadDrawdown devuelve ok=false si todavía no hay snapshot.
	LoadDrawdown(ctx context.Context) (s domain.DrawdownState, ok bool, err error)
}

// StateStore agrupa todo el estado que el scheduler persiste entre ciclos.
type StateStore interface {
	PositionStore
	TradeStore
	FillStore
	CycleStore
	DecisionStore
	AuditStore
	DrawdownStore
	Close() error
}
