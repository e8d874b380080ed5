package execution

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

// ErrUnknownOrder is returned when recording a fill for an order that was
// never registered or is already closed out.
var ErrUnknownOrder = errors.New("unknown order")

// partialThreshold: fills below 99% of the ordered size count as partial.
const partialThreshold = 0.99

type pendingOrder struct {
	spec         domain.OrderSpec
	registeredAt time.Time
}

// FillTracker measures execution quality. It is informational only and
// never blocks trading.
type FillTracker struct {
	mu      sync.Mutex
	pending map[string]pendingOrder
	records []domain.FillRecord
	now     func() time.Time
}

// NewFillTracker creates an empty tracker.
func NewFillTracker() *FillTracker {
	return &FillTracker{
		pending: make(map[string]pendingOrder),
		now:     time.Now,
	}
}

// Register records the expected price and size before submission.
func (t *FillTracker) Register(spec domain.OrderSpec) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[spec.ID] = pendingOrder{spec: spec, registeredAt: t.now()}
}

// RecordFill closes out an order with the given fill.
func (t *FillTracker) RecordFill(orderID string, fillPrice, filledSize float64) (domain.FillRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	po, ok := t.pending[orderID]
	if !ok {
		return domain.FillRecord{}, fmt.Errorf("execution.RecordFill %s: %w", orderID, ErrUnknownOrder)
	}
	delete(t.pending, orderID)

	now := t.now()
	rec := domain.FillRecord{
		OrderID:       orderID,
		MarketID:      po.spec.MarketID,
		Strategy:      po.spec.Strategy,
		ExpectedPrice: po.spec.Price,
		FillPrice:     fillPrice,
		OrderedSize:   po.spec.Size,
		FilledSize:    filledSize,
		Slippage:      fillPrice - po.spec.Price,
		Partial:       po.spec.Size > 0 && filledSize < partialThreshold*po.spec.Size,
		Unfilled:      filledSize <= 0,
		TimeToFill:    now.Sub(po.registeredAt),
		RecordedAt:    now,
	}
	if po.spec.Price > 0 {
		rec.SlippageBps = rec.Slippage / po.spec.Price * 10_000
	}
	t.records = append(t.records, rec)
	return rec, nil
}

// RecordUnfilled closes out an order that expired with zero fill.
func (t *FillTracker) RecordUnfilled(orderID string) (domain.FillRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	po, ok := t.pending[orderID]
	if !ok {
		return domain.FillRecord{}, fmt.Errorf("execution.RecordUnfilled %s: %w", orderID, ErrUnknownOrder)
	}
	delete(t.pending, orderID)

	now := t.now()
	rec := domain.FillRecord{
		OrderID:       orderID,
		MarketID:      po.spec.MarketID,
		Strategy:      po.spec.Strategy,
		ExpectedPrice: po.spec.Price,
		OrderedSize:   po.spec.Size,
		Unfilled:      true,
		TimeToFill:    now.Sub(po.registeredAt),
		RecordedAt:    now,
	}
	t.records = append(t.records, rec)
	return rec, nil
}

// ExpireStale closes out, as unfilled, every pending order whose TTL has
// elapsed. Orders without a TTL never expire.
func (t *FillTracker) ExpireStale() []domain.FillRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var out []domain.FillRecord
	for id, po := range t.pending {
		if po.spec.TTL <= 0 || now.Sub(po.registeredAt) < po.spec.TTL {
			continue
		}
		delete(t.pending, id)
		rec := domain.FillRecord{
			OrderID:       id,
			MarketID:      po.spec.MarketID,
			Strategy:      po.spec.Strategy,
			ExpectedPrice: po.spec.Price,
			OrderedSize:   po.spec.Size,
			Unfilled:      true,
			TimeToFill:    now.Sub(po.registeredAt),
			RecordedAt:    now,
		}
		t.records = append(t.records, rec)
		out = append(out, rec)
	}
	return out
}

// Load seeds the tracker with persisted records.
func (t *FillTracker) Load(records []domain.FillRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = append(t.records, records...)
}

// Pending returns the number of registered orders without an outcome.
func (t *FillTracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Quality aggregates records newer than lookback. lookback <= 0 means all.
func (t *FillTracker) Quality(lookback time.Duration) domain.ExecutionQuality {
	t.mu.Lock()
	defer t.mu.Unlock()

	q := domain.ExecutionQuality{
		Lookback:   lookback,
		ByStrategy: make(map[domain.ExecutionStrategy]domain.StrategyQuality),
	}
	var cutoff time.Time
	if lookback > 0 {
		cutoff = t.now().Add(-lookback)
	}

	var slipSum float64
	var ttfSum time.Duration
	slipByStrategy := make(map[domain.ExecutionStrategy]float64)

	for _, r := range t.records {
		if !cutoff.IsZero() && r.RecordedAt.Before(cutoff) {
			continue
		}
		s := q.ByStrategy[r.Strategy]
		q.Orders++
		s.Orders++
		switch {
		case r.Unfilled:
			q.Unfilled++
			s.Unfilled++
		default:
			q.Filled++
			s.Filled++
			slipSum += r.SlippageBps
			slipByStrategy[r.Strategy] += r.SlippageBps
			ttfSum += r.TimeToFill
			if r.Partial {
				q.Partial++
				s.Partial++
			}
		}
		q.ByStrategy[r.Strategy] = s
	}

	if q.Orders > 0 {
		q.FillRate = float64(q.Filled) / float64(q.Orders)
	}
	if q.Filled > 0 {
		q.AvgSlippageBps = slipSum / float64(q.Filled)
		q.AvgTimeToFill = ttfSum / time.Duration(q.Filled)
	}
	for k, s := range q.ByStrategy {
		if s.Orders > 0 {
			s.FillRate = float64(s.Filled) / float64(s.Orders)
		}
		if s.Filled > 0 {
			s.AvgSlippageBps = slipByStrategy[k] / float64(s.Filled)
		}
		q.ByStrategy[k] = s
	}
	return q
}
