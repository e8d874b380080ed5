package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

type fakeMarkets struct {
	mu      sync.Mutex
	markets []domain.MarketSnapshot
	err     error
	calls   int
	panic   bool
}

func (f *fakeMarkets) FetchCandidates(context.Context) ([]domain.MarketSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.panic {
		panic("gamma exploded")
	}
	return f.markets, f.err
}

func (f *fakeMarkets) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePrices struct {
	updates map[string]domain.PriceUpdate
	err     error
}

func (f *fakePrices) FetchPrices(_ context.Context, ids []string) (map[string]domain.PriceUpdate, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]domain.PriceUpdate, len(ids))
	for _, id := range ids {
		if u, ok := f.updates[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

type fakeResearcher struct {
	results map[string]domain.ResearchResult
	fail    map[string]error
}

func (f *fakeResearcher) Research(_ context.Context, m domain.MarketSnapshot) (domain.ResearchResult, error) {
	if err, ok := f.fail[m.ID]; ok {
		return domain.ResearchResult{}, err
	}
	if r, ok := f.results[m.ID]; ok {
		return r, nil
	}
	return domain.ResearchResult{}, errors.New("no forecast")
}

type fakeConviction struct {
	sig domain.ConvictionSignal
	ok  bool
}

func (f fakeConviction) Conviction(context.Context, string) (domain.ConvictionSignal, bool, error) {
	return f.sig, f.ok, nil
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []domain.Alert
}

func (r *recordingAlerter) Alert(_ context.Context, a domain.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *recordingAlerter) byTitle(title string) []domain.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Alert
	for _, a := range r.alerts {
		if a.Title == title {
			out = append(out, a)
		}
	}
	return out
}

type recordingStatus struct {
	mu   sync.Mutex
	last domain.SchedulerStatus
	n    int
}

func (r *recordingStatus) PublishStatus(_ context.Context, s domain.SchedulerStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = s
	r.n++
	return nil
}

// memStore is an in-memory StateStore.
type memStore struct {
	mu        sync.Mutex
	open      []domain.Position
	closed    []domain.Position
	trades    []domain.TradeRecord
	fills     []domain.FillRecord
	cycles    []domain.CycleResult
	decisions []domain.DecisionRecord
	audits    []domain.AuditEntry
	drawdown  *domain.DrawdownState
}

func (s *memStore) SavePositions(_ context.Context, p []domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = append([]domain.Position(nil), p...)
	return nil
}

func (s *memStore) LoadOpenPositions(context.Context) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Position(nil), s.open...), nil
}

func (s *memStore) ArchivePosition(_ context.Context, p domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = append(s.closed, p)
	return nil
}

func (s *memStore) LoadClosedPositions(context.Context, int) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Position(nil), s.closed...), nil
}

func (s *memStore) SaveTrade(_ context.Context, t domain.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, t)
	return nil
}

func (s *memStore) TradesByCycle(_ context.Context, id string) ([]domain.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.TradeRecord
	for _, t := range s.trades {
		if t.CycleID == id {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memStore) SaveFill(_ context.Context, f domain.FillRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fills = append(s.fills, f)
	return nil
}

func (s *memStore) LoadFills(context.Context, time.Time) ([]domain.FillRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.FillRecord(nil), s.fills...), nil
}

func (s *memStore) SaveCycle(_ context.Context, c domain.CycleResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycles = append(s.cycles, c)
	return nil
}

func (s *memStore) RecentCycles(_ context.Context, limit int) ([]domain.CycleResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.CycleResult
	for i := len(s.cycles) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.cycles[i])
	}
	return out, nil
}

func (s *memStore) SaveDecision(_ context.Context, d domain.DecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, d)
	return nil
}

func (s *memStore) DecisionsByCycle(_ context.Context, id string) ([]domain.DecisionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.DecisionRecord
	for _, d := range s.decisions {
		if d.CycleID == id {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *memStore) SaveAudit(_ context.Context, a domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits = append(s.audits, a)
	return nil
}

func (s *memStore) AuditByCycle(_ context.Context, id string) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AuditEntry
	for _, a := range s.audits {
		if a.CycleID == id {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memStore) SaveDrawdown(_ context.Context, d domain.DrawdownState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drawdown = &d
	return nil
}

func (s *memStore) LoadDrawdown(context.Context) (domain.DrawdownState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drawdown == nil {
		return domain.DrawdownState{}, false, nil
	}
	return *s.drawdown, true, nil
}

func (s *memStore) Close() error { return nil }

// bookExecutor places orders that rest on the book until the test moves
// them through orders.
type bookExecutor struct {
	mu      sync.Mutex
	placed  []domain.PlaceOrderRequest
	orders  map[string]domain.ExchangeOrder
	cancels []string
}

func newBookExecutor() *bookExecutor {
	return &bookExecutor{orders: map[string]domain.ExchangeOrder{}}
}

func (b *bookExecutor) PlaceOrder(_ context.Context, req domain.PlaceOrderRequest) (domain.PlacedOrder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.placed = append(b.placed, req)
	id := fmt.Sprintf("ex-%d", len(b.placed))
	b.orders[id] = domain.ExchangeOrder{ExchangeOrderID: id, State: domain.ExchangeOrderLive, OriginalSize: req.Size, Price: req.Price}
	return domain.PlacedOrder{ExchangeOrderID: id, Status: "live"}, nil
}

func (b *bookExecutor) GetOrder(_ context.Context, id string) (domain.ExchangeOrder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[id]
	if !ok {
		return domain.ExchangeOrder{}, errors.New("order not found")
	}
	return o, nil
}

func (b *bookExecutor) CancelOrder(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancels = append(b.cancels, id)
	if o, ok := b.orders[id]; ok && o.State == domain.ExchangeOrderLive {
		o.State = domain.ExchangeOrderCancelled
		b.orders[id] = o
	}
	return nil
}

func (b *bookExecutor) GetBalance(context.Context) (float64, error) { return 1000, nil }

// match fills shares of a placed order; full=true marks it matched.
func (b *bookExecutor) match(id string, shares float64, full bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o := b.orders[id]
	o.MatchedSize = shares
	if full {
		o.State = domain.ExchangeOrderMatched
	}
	b.orders[id] = o
}

func (b *bookExecutor) cancel(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o := b.orders[id]
	o.State = domain.ExchangeOrderCancelled
	b.orders[id] = o
}

func (b *bookExecutor) placedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.placed)
}

type panickingConviction struct{}

func (panickingConviction) Conviction(context.Context, string) (domain.ConvictionSignal, bool, error) {
	panic("whale api exploded")
}

// panickingAlerter panics on one alert title and records the rest.
type panickingAlerter struct {
	*recordingAlerter
	title string
}

func (p panickingAlerter) Alert(ctx context.Context, a domain.Alert) error {
	if a.Title == p.title {
		panic("webhook exploded")
	}
	return p.recordingAlerter.Alert(ctx, a)
}
