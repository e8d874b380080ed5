// Package lifecycle owns the open position set and decides when positions
// should be exited.
package lifecycle

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

var (
	// ErrUnknownPosition is returned for operations on a market with no open position.
	ErrUnknownPosition = errors.New("unknown position")
	// ErrPositionExists is returned by Open when the market already has a position.
	ErrPositionExists = errors.New("position already open")
)

// Config holds the exit policy.
type Config struct {
	StopLossPct           float64 // base width before multipliers
	ReferenceEdge         float64 // entry edge that maps to an edge multiplier of 1.0
	TrailingActivation    float64 // fraction of stake; 0 disables trailing
	TrailingDistance      float64 // fraction of stake
	TimeExitHours         float64 // 0 disables
	PartialExitThreshold  float64 // live edge below this fraction of entry edge
	PartialExitFraction   float64
	EdgeReversalTolerance float64
}

// DefaultConfig returns the default exit policy.
func DefaultConfig() Config {
	return Config{
		StopLossPct:           0.20,
		ReferenceEdge:         0.10,
		TrailingActivation:    0.30,
		TrailingDistance:      0.15,
		PartialExitThreshold:  0.50,
		PartialExitFraction:   0.50,
		EdgeReversalTolerance: 0.05,
	}
}

// OpenRequest describes a filled entry.
type OpenRequest struct {
	Market     domain.MarketSnapshot
	Side       domain.Side
	Shares     float64
	FillPrice  float64 // price paid for the held token
	Edge       float64 // net edge at entry
	Confidence domain.Confidence
}

// realisedRetention bounds the realised P&L ledger kept for RealisedSince.
const realisedRetention = 7 * 24 * time.Hour

type realisedEvent struct {
	at  time.Time
	pnl float64
}

// Manager is the position state machine. It is owned by the scheduler
// goroutine and is not safe for concurrent use; readers get copies through
// Snapshot.
type Manager struct {
	cfg       Config
	positions map[string]*domain.Position // keyed by market id
	closed    []domain.Position
	realised  []realisedEvent // ordered by time
	now       func() time.Time
}

// New creates an empty Manager.
func New(cfg Config) *Manager {
	return &Manager{
		cfg:       cfg,
		positions: make(map[string]*domain.Position),
		now:       time.Now,
	}
}

// Open records a new position from a filled entry.
func (m *Manager) Open(req OpenRequest) (domain.Position, error) {
	if _, ok := m.positions[req.Market.ID]; ok {
		return domain.Position{}, fmt.Errorf("lifecycle.Open %s: %w", req.Market.ID, ErrPositionExists)
	}
	if req.Shares <= 0 || req.FillPrice <= 0 || req.FillPrice >= 1 {
		return domain.Position{}, fmt.Errorf("lifecycle.Open %s: invalid fill %.4f x %.4f", req.Market.ID, req.Shares, req.FillPrice)
	}

	now := m.now()
	entryYes := domain.HeldPrice(req.Side, req.FillPrice) // symmetric: converts held back to YES
	width := StopWidth(m.cfg.StopLossPct, req.Confidence, EdgeMultiplier(req.Edge, m.cfg.ReferenceEdge))
	tp := takeProfitYes
	if req.Side == domain.SideNo {
		tp = takeProfitNo
	}

	p := &domain.Position{
		ID:              uuid.NewString(),
		MarketID:        req.Market.ID,
		TokenID:         req.Market.TokenFor(req.Side).TokenID,
		Question:        req.Market.Question,
		Category:        req.Market.Category,
		EventID:         req.Market.EventID,
		Side:            req.Side,
		SizeUSD:         req.Shares * req.FillPrice,
		Shares:          req.Shares,
		EntryPrice:      entryYes,
		EntryTime:       now,
		CurrentPrice:    entryYes,
		Status:          domain.PositionOpen,
		StopWidth:       width,
		StopLossPrice:   StopPrice(req.Side, entryYes, width),
		TakeProfitPrice: tp,
		EntryEdge:       req.Edge,
		EntryConfidence: req.Confidence,
		EndDate:         req.Market.EndDate,
		NegRisk:         req.Market.NegRisk,
		UpdatedAt:       now,
	}
	m.positions[p.MarketID] = p

	slog.Info("lifecycle: position opened",
		"market", domain.TruncateQuestion(p.Question, p.MarketID, 50),
		"side", p.Side,
		"size", fmt.Sprintf("$%.2f", p.SizeUSD),
		"entry", fmt.Sprintf("%.3f", p.EntryPrice),
		"stop", fmt.Sprintf("%.3f", p.StopLossPrice),
		"width", fmt.Sprintf("%.1f%%", width*100),
	)
	return *p, nil
}

// AddFill grows an open position with a later fill of its entry order. The
// entry becomes the share-weighted average and the stop keeps its width.
func (m *Manager) AddFill(marketID string, shares, fillPrice float64) (domain.Position, error) {
	p, ok := m.positions[marketID]
	if !ok {
		return domain.Position{}, fmt.Errorf("lifecycle.AddFill %s: %w", marketID, ErrUnknownPosition)
	}
	if p.Status != domain.PositionOpen {
		return domain.Position{}, fmt.Errorf("lifecycle.AddFill %s: status is %s", marketID, p.Status)
	}
	if shares <= 0 || fillPrice <= 0 || fillPrice >= 1 {
		return domain.Position{}, fmt.Errorf("lifecycle.AddFill %s: invalid fill %.4f x %.4f", marketID, shares, fillPrice)
	}

	held := domain.HeldPrice(p.Side, p.EntryPrice)
	total := p.Shares + shares
	avgHeld := (p.Shares*held + shares*fillPrice) / total
	p.Shares = total
	p.SizeUSD += shares * fillPrice
	p.EntryPrice = domain.HeldPrice(p.Side, avgHeld)
	p.StopLossPrice = StopPrice(p.Side, p.EntryPrice, p.StopWidth)
	m.mark(p, p.CurrentPrice, m.now())

	slog.Info("lifecycle: position increased",
		"market", p.MarketID,
		"shares", fmt.Sprintf("%.2f", shares),
		"size", fmt.Sprintf("$%.2f", p.SizeUSD),
		"entry", fmt.Sprintf("%.3f", p.EntryPrice))
	return *p, nil
}

// Refresh applies price updates to open positions.
func (m *Manager) Refresh(updates map[string]domain.PriceUpdate) {
	for id, u := range updates {
		p, ok := m.positions[id]
		if !ok {
			continue
		}
		price := u.YesPrice
		if u.ResolvedPrice != nil {
			price = *u.ResolvedPrice
		}
		if price <= 0 && u.ResolvedPrice == nil {
			continue
		}
		m.mark(p, price, u.At)
	}
}

func (m *Manager) mark(p *domain.Position, yes float64, at time.Time) {
	if at.IsZero() {
		at = m.now()
	}
	p.CurrentPrice = yes
	p.UnrealisedPnL = p.PnLAt(yes)
	p.HighWaterPnL = max(p.HighWaterPnL, p.UnrealisedPnL)
	p.LowWaterPnL = min(p.LowWaterPnL, p.UnrealisedPnL)
	if !p.TrailingActivated && m.cfg.TrailingActivation > 0 && p.HighWaterPnL >= m.cfg.TrailingActivation*p.SizeUSD {
		p.TrailingActivated = true
	}
	p.UpdatedAt = at
}

// Evaluate refreshes prices and returns at most one exit signal per open
// position, ordered by market id. killSwitch forces an exit for every open
// position, with or without a price update.
func (m *Manager) Evaluate(killSwitch bool, updates map[string]domain.PriceUpdate) []domain.ExitSignal {
	m.Refresh(updates)

	var out []domain.ExitSignal
	for _, id := range m.openIDs() {
		p := m.positions[id]
		if p.Status != domain.PositionOpen {
			continue
		}
		u, hasUpdate := updates[id]
		if sig, ok := m.evaluate(p, killSwitch, u, hasUpdate); ok {
			out = append(out, sig)
		}
	}
	return out
}

func (m *Manager) evaluate(p *domain.Position, killSwitch bool, u domain.PriceUpdate, hasUpdate bool) (domain.ExitSignal, bool) {
	signal := func(reason domain.ExitReason, urgency domain.Urgency, frac float64, details string) (domain.ExitSignal, bool) {
		return domain.ExitSignal{
			MarketID:      p.MarketID,
			Reason:        reason,
			Urgency:       urgency,
			ExitFraction:  frac,
			CurrentPnL:    p.UnrealisedPnL,
			CurrentPnLPct: p.PnLPct(),
			Details:       details,
		}, true
	}

	if killSwitch {
		return signal(domain.ExitKillSwitch, domain.UrgencyImmediate, 1, "kill switch engaged")
	}
	if !hasUpdate {
		return domain.ExitSignal{}, false
	}
	if u.ResolvedPrice != nil {
		return signal(domain.ExitMarketResolved, domain.UrgencyImmediate, 1,
			fmt.Sprintf("market resolved at %.2f", *u.ResolvedPrice))
	}

	cur := p.CurrentPrice
	if p.TrailingActivated {
		pullback := p.HighWaterPnL - p.UnrealisedPnL
		if pullback > m.cfg.TrailingDistance*p.SizeUSD {
			return signal(domain.ExitTrailingStop, domain.UrgencySoon, 1,
				fmt.Sprintf("pnl $%.2f pulled back $%.2f from peak $%.2f", p.UnrealisedPnL, pullback, p.HighWaterPnL))
		}
	}
	if stopHit(p, cur) {
		return signal(domain.ExitStopLoss, domain.UrgencyImmediate, 1,
			fmt.Sprintf("price %.3f crossed stop %.3f", cur, p.StopLossPrice))
	}
	if takeProfitHit(p.Side, cur) {
		return signal(domain.ExitTakeProfit, domain.UrgencyImmediate, 1, "market resolved/at 100%")
	}
	if m.cfg.TimeExitHours > 0 && u.HoursToResolution > 0 && u.HoursToResolution < m.cfg.TimeExitHours {
		return signal(domain.ExitTime, domain.UrgencySoon, 1,
			fmt.Sprintf("%.1fh to resolution < %.1fh", u.HoursToResolution, m.cfg.TimeExitHours))
	}
	if u.ModelProbability == nil {
		return domain.ExitSignal{}, false
	}

	liveEdge := domain.HeldPrice(p.Side, *u.ModelProbability) - domain.HeldPrice(p.Side, cur)
	if !p.PartialExitTaken && p.EntryEdge > 0 && liveEdge >= 0 &&
		liveEdge < m.cfg.PartialExitThreshold*p.EntryEdge && p.UnrealisedPnL > 0 &&
		m.cfg.PartialExitFraction > 0 && m.cfg.PartialExitFraction < 1 {
		return signal(domain.ExitPartial, domain.UrgencyOptional, m.cfg.PartialExitFraction,
			fmt.Sprintf("live edge %.4f < %.0f%% of entry edge %.4f", liveEdge, m.cfg.PartialExitThreshold*100, p.EntryEdge))
	}
	if liveEdge < -m.cfg.EdgeReversalTolerance {
		return signal(domain.ExitEdgeReversal, domain.UrgencySoon, 1,
			fmt.Sprintf("live edge %.4f against held side", liveEdge))
	}
	return domain.ExitSignal{}, false
}

// MarkClosing moves an open position to closing while its exit order is in
// flight.
func (m *Manager) MarkClosing(marketID string) error {
	p, ok := m.positions[marketID]
	if !ok {
		return fmt.Errorf("lifecycle.MarkClosing %s: %w", marketID, ErrUnknownPosition)
	}
	if p.Status != domain.PositionOpen {
		return fmt.Errorf("lifecycle.MarkClosing %s: status is %s", marketID, p.Status)
	}
	p.Status = domain.PositionClosing
	p.UpdatedAt = m.now()
	return nil
}

// RevertClosing puts a closing position back to open after a failed exit.
func (m *Manager) RevertClosing(marketID string) error {
	p, ok := m.positions[marketID]
	if !ok {
		return fmt.Errorf("lifecycle.RevertClosing %s: %w", marketID, ErrUnknownPosition)
	}
	if p.Status == domain.PositionClosing {
		p.Status = domain.PositionOpen
		p.UpdatedAt = m.now()
	}
	return nil
}

// ApplyExit books an executed exit. fraction < 1 reduces the position and
// keeps it open; otherwise the position is closed and archived. exitYes is
// the YES-equivalent exit price.
func (m *Manager) ApplyExit(marketID string, fraction, exitYes float64, reason domain.ExitReason) (domain.Position, error) {
	p, ok := m.positions[marketID]
	if !ok {
		return domain.Position{}, fmt.Errorf("lifecycle.ApplyExit %s: %w", marketID, ErrUnknownPosition)
	}
	now := m.now()

	if fraction > 0 && fraction < 1 {
		sold := p.Shares * fraction
		realised := domain.PnLAt(p.Side, sold, p.EntryPrice, exitYes)
		m.book(p, realised, now)
		p.Shares -= sold
		p.SizeUSD *= 1 - fraction
		if reason == domain.ExitPartial {
			p.PartialExitTaken = true
		}
		p.Status = domain.PositionOpen
		m.mark(p, exitYes, now)
		// High-water is measured on the remaining stake.
		p.HighWaterPnL = p.UnrealisedPnL
		slog.Info("lifecycle: partial exit",
			"market", p.MarketID, "reason", reason,
			"sold", fmt.Sprintf("%.2f", sold),
			"realised", fmt.Sprintf("$%.2f", realised))
		return *p, nil
	}

	m.book(p, domain.PnLAt(p.Side, p.Shares, p.EntryPrice, exitYes), now)
	p.CurrentPrice = exitYes
	p.UnrealisedPnL = 0
	p.Status = domain.PositionClosed
	p.ExitReason = reason
	p.ExitPrice = exitYes
	p.ClosedAt = &now
	p.UpdatedAt = now

	closed := *p
	m.closed = append(m.closed, closed)
	delete(m.positions, marketID)

	slog.Info("lifecycle: position closed",
		"market", domain.TruncateQuestion(closed.Question, closed.MarketID, 50),
		"reason", reason,
		"exit", fmt.Sprintf("%.3f", exitYes),
		"realised", fmt.Sprintf("$%.2f", closed.RealisedPnL))
	return closed, nil
}

// book adds realised P&L to the position and to the dated ledger.
func (m *Manager) book(p *domain.Position, pnl float64, at time.Time) {
	p.RealisedPnL += pnl
	t := at
	p.RealisedAt = &t
	m.realised = append(m.realised, realisedEvent{at: at, pnl: pnl})

	cutoff := at.Add(-realisedRetention)
	i := 0
	for i < len(m.realised) && m.realised[i].at.Before(cutoff) {
		i++
	}
	m.realised = m.realised[i:]
}

// Has reports whether the market has an open or closing position.
func (m *Manager) Has(marketID string) bool {
	_, ok := m.positions[marketID]
	return ok
}

// Get returns a copy of the position for the market.
func (m *Manager) Get(marketID string) (domain.Position, bool) {
	p, ok := m.positions[marketID]
	if !ok {
		return domain.Position{}, false
	}
	return *p, true
}

// OpenCount is the number of open or closing positions.
func (m *Manager) OpenCount() int {
	return len(m.positions)
}

// MarketIDs of every open or closing position, sorted.
func (m *Manager) MarketIDs() []string {
	return m.openIDs()
}

// Snapshot returns copies of the open positions ordered by market id.
func (m *Manager) Snapshot() []domain.Position {
	ids := m.openIDs()
	out := make([]domain.Position, 0, len(ids))
	for _, id := range ids {
		out = append(out, *m.positions[id])
	}
	return out
}

// Closed returns copies of the archived positions in close order.
func (m *Manager) Closed() []domain.Position {
	out := make([]domain.Position, len(m.closed))
	copy(out, m.closed)
	return out
}

// Restore replaces the in-memory state with persisted positions.
func (m *Manager) Restore(open, closed []domain.Position) {
	m.positions = make(map[string]*domain.Position, len(open))
	for _, p := range open {
		if p.Status == domain.PositionClosed {
			continue
		}
		// An exit that was in flight at shutdown is re-evaluated.
		if p.Status == domain.PositionClosing {
			p.Status = domain.PositionOpen
		}
		m.positions[p.MarketID] = &p
	}
	m.closed = append([]domain.Position(nil), closed...)

	// Persisted positions carry one realisation time each, so a restored
	// position books all of its realised P&L at its last exit.
	m.realised = nil
	for _, p := range m.closed {
		if p.ClosedAt != nil {
			m.realised = append(m.realised, realisedEvent{at: *p.ClosedAt, pnl: p.RealisedPnL})
		}
	}
	for _, p := range m.positions {
		if p.RealisedAt != nil && p.RealisedPnL != 0 {
			m.realised = append(m.realised, realisedEvent{at: *p.RealisedAt, pnl: p.RealisedPnL})
		}
	}
	sort.Slice(m.realised, func(i, j int) bool { return m.realised[i].at.Before(m.realised[j].at) })
}

// RealisedSince sums realised P&L booked at or after t, each exit at its own
// time. Only the last week is kept.
func (m *Manager) RealisedSince(t time.Time) float64 {
	var sum float64
	for _, e := range m.realised {
		if !e.at.Before(t) {
			sum += e.pnl
		}
	}
	return sum
}

// TotalRealised is all realised P&L, open partials included.
func (m *Manager) TotalRealised() float64 {
	var sum float64
	for _, p := range m.closed {
		sum += p.RealisedPnL
	}
	for _, p := range m.positions {
		sum += p.RealisedPnL
	}
	return sum
}

// Unrealised is the mark-to-market P&L of open positions.
func (m *Manager) Unrealised() float64 {
	var sum float64
	for _, p := range m.positions {
		sum += p.UnrealisedPnL
	}
	return sum
}

// Exposure is the stake currently at risk.
func (m *Manager) Exposure() float64 {
	var sum float64
	for _, p := range m.positions {
		sum += p.SizeUSD
	}
	return sum
}

func (m *Manager) openIDs() []string {
	ids := make([]string, 0, len(m.positions))
	for id := range m.positions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
