package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alejandrodnm/polytrader/internal/application/lifecycle"
	"github.com/alejandrodnm/polytrader/internal/domain"
)

// pendingEntry is an entry that is not fully settled: some of its orders
// rest on the book, or its hidden iceberg slice waits for the visible one.
// The market counts as held and its unfilled stake as exposure until the
// entry settles.
type pendingEntry struct {
	market     domain.MarketSnapshot
	side       domain.Side
	edge       float64
	confidence domain.Confidence

	resting   []restingOrder
	hidden    []domain.OrderSpec
	visibleID string // resting order whose full fill releases hidden
}

type restingOrder struct {
	spec       domain.OrderSpec
	exchangeID string
	filled     float64 // shares already booked
	cost       float64
	placedAt   time.Time
}

func (p *pendingEntry) active() bool {
	return len(p.resting) > 0 || len(p.hidden) > 0
}

// reserved is the stake committed to the book but not yet filled.
func (p *pendingEntry) reserved() float64 {
	var sum float64
	for _, r := range p.resting {
		if r.spec.Size > 0 {
			sum += r.spec.StakeUSD * max(0, 1-r.filled/r.spec.Size)
		}
	}
	for _, h := range p.hidden {
		sum += h.StakeUSD
	}
	return sum
}

// held reports whether the market has a position or a pending entry.
func (e *Engine) held(marketID string) bool {
	_, pending := e.entries[marketID]
	return pending || e.deps.Lifecycle.Has(marketID)
}

// heldCount is the number of markets with capital at risk or on the book.
func (e *Engine) heldCount() int {
	n := e.deps.Lifecycle.OpenCount()
	for id := range e.entries {
		if !e.deps.Lifecycle.Has(id) {
			n++
		}
	}
	return n
}

// committed returns the open positions with the unfilled stake of pending
// entries added, so exposure limits see orders resting on the book.
func (e *Engine) committed() []domain.Position {
	positions := e.deps.Lifecycle.Snapshot()
	byMarket := make(map[string]int, len(positions))
	for i, p := range positions {
		byMarket[p.MarketID] = i
	}
	for _, id := range e.pendingIDs() {
		pe := e.entries[id]
		reserved := pe.reserved()
		if reserved <= 0 {
			continue
		}
		if i, ok := byMarket[id]; ok {
			positions[i].SizeUSD += reserved
			continue
		}
		positions = append(positions, domain.Position{
			MarketID: id,
			Question: pe.market.Question,
			Category: pe.market.Category,
			EventID:  pe.market.EventID,
			Side:     pe.side,
			SizeUSD:  reserved,
			Status:   domain.PositionOpen,
		})
	}
	return positions
}

func (e *Engine) pendingIDs() []string {
	ids := make([]string, 0, len(e.entries))
	for id := range e.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// submitEntry routes the entry orders in sequence. TWAP slices wait for their
// delay; a hidden iceberg slice is only sent once the visible slice filled
// completely, is held while the visible slice rests, and is dropped
// otherwise. It returns the best status seen.
func (e *Engine) submitEntry(ctx context.Context, res *domain.CycleResult, pe *pendingEntry, orders []domain.OrderSpec) domain.OrderStatus {
	var (
		status         domain.OrderStatus
		start          = e.now()
		visibleFull    = true
		visibleResting bool
	)
	for _, o := range orders {
		if o.Hidden {
			switch {
			case visibleResting:
				pe.hidden = append(pe.hidden, o)
				continue
			case !visibleFull:
				slog.Info("engine: iceberg remainder dropped, visible slice not filled",
					"market", o.MarketID, "order", o.ID, "stake", fmt.Sprintf("$%.2f", o.StakeUSD))
				continue
			}
		}
		if wait := o.Delay - e.now().Sub(start); wait > 0 && !e.deps.Router.DryRun() {
			if err := e.sleep(ctx, wait); err != nil {
				break
			}
		}

		r, rests := e.routeEntry(ctx, res, pe, o)
		if !o.Hidden {
			visibleResting = rests
			visibleFull = r.HasFill() && r.FillSize >= partialThreshold*o.Size
			if rests {
				pe.visibleID = o.ID
			}
		}

		// Best status wins: a single filled child marks the entry filled.
		if rank(r.Status) > rank(status) {
			status = r.Status
		}
		if r.Status == domain.OrderRejected {
			break
		}
	}
	return status
}

// routeEntry submits one entry order and books what filled. It reports
// whether the order is left resting on the book.
func (e *Engine) routeEntry(ctx context.Context, res *domain.CycleResult, pe *pendingEntry, o domain.OrderSpec) (domain.OrderResult, bool) {
	e.deps.Fills.Register(o)
	r := e.deps.Router.Submit(ctx, o)
	e.saveTrade(ctx, res, o, r)

	live := !e.deps.Router.DryRun() && !o.DryRun && o.Type == domain.OrderLimit && r.ExchangeOrderID != ""
	rests := live && (r.Status == domain.OrderSubmitted ||
		(r.Status == domain.OrderFilled && r.FillSize < partialThreshold*o.Size))

	switch {
	case rests:
		ro := restingOrder{spec: o, exchangeID: r.ExchangeOrderID, placedAt: e.now()}
		if r.FillSize > 0 {
			ro.filled, ro.cost = r.FillSize, r.FillSize*r.FillPrice
			e.bookEntryFill(ctx, res, pe, r.FillSize, r.FillPrice, r.Status)
		}
		pe.resting = append(pe.resting, ro)
		slog.Info("engine: entry order resting",
			"market", o.MarketID, "order", o.ID, "exchangeID", r.ExchangeOrderID,
			"filled", fmt.Sprintf("%.2f/%.2f", r.FillSize, o.Size))
	case r.HasFill():
		if rec, err := e.deps.Fills.RecordFill(o.ID, r.FillPrice, r.FillSize); err == nil {
			e.saveFill(ctx, rec)
		}
		e.bookEntryFill(ctx, res, pe, r.FillSize, r.FillPrice, r.Status)
	case r.Status == domain.OrderFailed || r.Status == domain.OrderRejected:
		if rec, err := e.deps.Fills.RecordUnfilled(o.ID); err == nil {
			e.saveFill(ctx, rec)
		}
	}
	return r, rests
}

// bookEntryFill opens the position on the first fill and grows it after.
func (e *Engine) bookEntryFill(ctx context.Context, res *domain.CycleResult, pe *pendingEntry, shares, price float64, status domain.OrderStatus) {
	lc := e.deps.Lifecycle
	if lc.Has(pe.market.ID) {
		if _, err := lc.AddFill(pe.market.ID, shares, price); err != nil {
			slog.Error("engine: add entry fill failed", "market", pe.market.ID, "err", err)
		}
		return
	}

	pos, err := lc.Open(lifecycle.OpenRequest{
		Market:     pe.market,
		Side:       pe.side,
		Shares:     shares,
		FillPrice:  price,
		Edge:       pe.edge,
		Confidence: pe.confidence,
	})
	if err != nil {
		slog.Error("engine: open position failed", "market", pe.market.ID, "err", err)
		return
	}
	res.TradesExecuted++
	e.alert(ctx, domain.AlertInfo, "Trade executed", domain.TruncateQuestion(pe.market.Question, pe.market.ID, 80), map[string]string{
		"side":   string(pos.Side),
		"stake":  fmt.Sprintf("$%.2f", pos.SizeUSD),
		"entry":  fmt.Sprintf("%.3f", pos.EntryPrice),
		"edge":   fmt.Sprintf("%.4f", pe.edge),
		"status": string(status),
	})
}

// reconcileEntries polls every resting entry order, books new fills, releases
// or drops held iceberg slices and cancels orders past their TTL. cancelAll
// cancels everything still resting.
func (e *Engine) reconcileEntries(ctx context.Context, res *domain.CycleResult, cancelAll bool) {
	for _, id := range e.pendingIDs() {
		e.reconcileEntry(ctx, res, id, cancelAll)
	}
}

func (e *Engine) reconcileEntry(ctx context.Context, res *domain.CycleResult, marketID string, cancelAll bool) {
	pe, ok := e.entries[marketID]
	if !ok {
		return
	}

	var still []restingOrder
	release := false
	for _, ro := range pe.resting {
		o, err := e.deps.Router.Poll(ctx, ro.exchangeID)
		if err != nil {
			slog.Warn("engine: poll entry order failed", "market", marketID, "exchangeID", ro.exchangeID, "err", err)
			still = append(still, ro)
			continue
		}
		e.applyMatched(ctx, res, pe, &ro, o)

		expired := ro.spec.TTL > 0 && e.now().Sub(ro.placedAt) >= ro.spec.TTL
		if !o.Done() && (expired || cancelAll) {
			if err := e.deps.Router.Cancel(ctx, ro.exchangeID); err != nil {
				slog.Warn("engine: cancel entry order failed", "market", marketID, "exchangeID", ro.exchangeID, "err", err)
				still = append(still, ro)
				continue
			}
			// Fills can land between the poll and the cancel.
			if final, err := e.deps.Router.Poll(ctx, ro.exchangeID); err == nil {
				e.applyMatched(ctx, res, pe, &ro, final)
			}
			o.State = domain.ExchangeOrderCancelled
		}
		if !o.Done() {
			still = append(still, ro)
			continue
		}

		e.settleResting(ctx, ro)
		if ro.spec.ID == pe.visibleID {
			pe.visibleID = ""
			release = ro.filled >= partialThreshold*ro.spec.Size && !cancelAll
		}
	}
	pe.resting = still

	if pe.visibleID == "" && len(pe.hidden) > 0 {
		hidden := pe.hidden
		pe.hidden = nil
		if release {
			for _, h := range hidden {
				if r, _ := e.routeEntry(ctx, res, pe, h); r.Status == domain.OrderRejected {
					break
				}
			}
		} else {
			slog.Info("engine: iceberg remainder dropped, visible slice not filled", "market", marketID)
		}
	}

	if !pe.active() {
		delete(e.entries, marketID)
	}
}

// applyMatched books the part of a resting order matched since the last poll.
func (e *Engine) applyMatched(ctx context.Context, res *domain.CycleResult, pe *pendingEntry, ro *restingOrder, o domain.ExchangeOrder) {
	delta := o.MatchedSize - ro.filled
	if delta <= 1e-9 {
		return
	}
	price := o.Price
	if price <= 0 {
		price = ro.spec.Price
	}
	ro.filled = o.MatchedSize
	ro.cost += delta * price
	e.bookEntryFill(ctx, res, pe, delta, price, domain.OrderFilled)
}

// settleResting closes out a finished resting order in the fill tracker.
func (e *Engine) settleResting(ctx context.Context, ro restingOrder) {
	var (
		rec domain.FillRecord
		err error
	)
	if ro.filled > 0 {
		rec, err = e.deps.Fills.RecordFill(ro.spec.ID, ro.cost/ro.filled, ro.filled)
	} else {
		rec, err = e.deps.Fills.RecordUnfilled(ro.spec.ID)
	}
	if err == nil {
		e.saveFill(ctx, rec)
	}
	slog.Info("engine: entry order settled",
		"market", ro.spec.MarketID, "order", ro.spec.ID,
		"filled", fmt.Sprintf("%.2f/%.2f", ro.filled, ro.spec.Size))
}

// abandonEntry cancels whatever the market still has on the book, booking
// fills that landed first.
func (e *Engine) abandonEntry(ctx context.Context, res *domain.CycleResult, marketID string) {
	if _, ok := e.entries[marketID]; ok {
		e.reconcileEntry(ctx, res, marketID, true)
	}
}
