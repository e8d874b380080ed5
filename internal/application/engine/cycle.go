package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/polytrader/internal/application/execution"
	"github.com/alejandrodnm/polytrader/internal/application/risk"
	"github.com/alejandrodnm/polytrader/internal/application/sizing"
	"github.com/alejandrodnm/polytrader/internal/domain"
)

// RunOnce runs a single cycle and returns its result. It never panics and
// never returns early on the caller's cancellation: the cycle runs to the end
// of its exit pass.
func (e *Engine) RunOnce(ctx context.Context) domain.CycleResult {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	ctx = context.WithoutCancel(ctx)
	res := e.safeCycle(ctx)
	e.finish(ctx, &res)
	return res
}

// safeCycle converts a panic into an error cycle.
func (e *Engine) safeCycle(ctx context.Context) (res domain.CycleResult) {
	res = domain.CycleResult{ID: uuid.NewString(), StartedAt: e.now(), Status: domain.CycleRunning}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("engine: cycle panic", "cycle", res.ID, "panic", r, "stack", string(debug.Stack()))
			res.Errors = append(res.Errors, fmt.Sprintf("cycle %v: %v", errPanic, r))
			res.Status = domain.CycleError
		}
	}()
	e.runCycle(ctx, &res)
	return res
}

func (e *Engine) runCycle(ctx context.Context, res *domain.CycleResult) {
	dd := e.deps.Drawdown
	wasKilled := dd.State().IsKilled
	state := dd.Update(e.equity())
	if state.IsKilled && !wasKilled {
		e.alert(ctx, domain.AlertCritical, "Kill switch engaged",
			fmt.Sprintf("drawdown %.1f%%: %s", state.DrawdownPct*100, state.KilledReason),
			map[string]string{"equity": fmt.Sprintf("$%.2f", state.CurrentEquity), "peak": fmt.Sprintf("$%.2f", state.PeakEquity)})
	}

	killed := e.cfg.KillSwitch || state.IsKilled
	e.reconcileEntries(ctx, res, killed)
	for _, rec := range e.deps.Fills.ExpireStale() {
		e.saveFill(ctx, rec)
	}

	if killed {
		if !e.halted {
			slog.Warn("engine: kill switch active, monitoring only",
				"config", e.cfg.KillSwitch, "drawdown", state.IsKilled)
		}
		e.halted = true
	} else {
		e.halted = false
		e.candidatePass(ctx, res)
	}

	e.exitPass(ctx, res, killed)

	after := dd.Update(e.equity())
	res.Equity = after.CurrentEquity
	res.DrawdownPct = after.DrawdownPct
	if after.IsKilled && !state.IsKilled {
		e.alert(ctx, domain.AlertCritical, "Kill switch engaged",
			fmt.Sprintf("drawdown %.1f%% after exits: %s", after.DrawdownPct*100, after.KilledReason), nil)
	}

	switch {
	case len(res.Errors) > 0:
		res.Status = domain.CycleError
	case killed:
		res.Status = domain.CycleHalted
	default:
		res.Status = domain.CycleCompleted
	}
}

// candidatePass discovers markets and drains them one at a time, so each
// candidate sees the fills of the previous ones.
func (e *Engine) candidatePass(ctx context.Context, res *domain.CycleResult) {
	markets, err := e.deps.Markets.FetchCandidates(ctx)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("fetch candidates: %v", err))
		slog.Error("engine: fetch candidates failed", "err", err)
		return
	}
	res.Scanned = len(markets)

	queue := make(chan domain.MarketSnapshot, len(markets))
	queued := 0
	for _, m := range markets {
		if !m.Active || m.Closed || !m.HasPricedToken() || e.held(m.ID) {
			continue
		}
		if e.cfg.MaxCandidates > 0 && queued >= e.cfg.MaxCandidates {
			break
		}
		queue <- m
		queued++
	}
	close(queue)

	for m := range queue {
		e.safeCandidate(ctx, res, m)
	}
}

// safeCandidate isolates one candidate: a panic skips it, not the cycle.
func (e *Engine) safeCandidate(ctx context.Context, res *domain.CycleResult, m domain.MarketSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("engine: candidate panic", "market", m.ID, "panic", r, "stack", string(debug.Stack()))
			res.Skipped++
			e.saveDecision(ctx, domain.DecisionRecord{
				CycleID:    res.ID,
				MarketID:   m.ID,
				Question:   m.Question,
				Decision:   domain.DecisionNoTrade,
				SkipReason: fmt.Sprintf("candidate %v: %v", errPanic, r),
				CreatedAt:  e.now(),
			})
		}
	}()
	e.processCandidate(ctx, res, m)
}

// processCandidate runs the decision pipeline for one market.
func (e *Engine) processCandidate(ctx context.Context, res *domain.CycleResult, m domain.MarketSnapshot) {
	now := e.now()
	rec := domain.DecisionRecord{
		CycleID:     res.ID,
		MarketID:    m.ID,
		Question:    m.Question,
		Decision:    domain.DecisionNoTrade,
		ImpliedProb: m.ImpliedProbability(),
		CreatedAt:   now,
	}

	g, err := e.gather(ctx, m)
	if err != nil {
		res.Skipped++
		rec.SkipReason = err.Error()
		slog.Warn("engine: candidate skipped", "market", m.ID, "err", err)
		e.saveDecision(ctx, rec)
		return
	}
	res.Researched++

	model := g.research.Forecast.ClampedProbability()
	if g.hasSignal {
		model = applyConviction(model, g.conviction, e.cfg.MaxConvictionBoost)
	}
	conf := g.research.Forecast.Confidence

	bankroll := e.equity()
	edge := domain.CalculateEdge(domain.EdgeInput{
		ImpliedProbability: rec.ImpliedProb,
		ModelProbability:   model,
		FeePct:             e.cfg.FeePct,
		GasCostUSD:         e.cfg.GasCostUSD,
		StakeUSD:           e.deps.Sizer.HardCap(bankroll),
	})
	if edge.IsPositive {
		res.EdgesFound++
	}
	rec.ModelProb = model
	rec.NetEdge = edge.NetEdge
	rec.Direction = edge.Direction
	rec.Confidence = conf

	portfolioOK, portfolioMsg := e.deps.Exposure.CanAddPosition(e.committed(), bankroll, m.Category, m.EventID, 0)
	canTrade, canTradeMsg := e.deps.Drawdown.CanTrade()
	ddState := e.deps.Drawdown.State()

	check := e.deps.Gate.Evaluate(risk.GateInput{
		Edge:          edge,
		Market:        m,
		Evidence:      g.research.Evidence,
		Confidence:    conf,
		Drawdown:      ddState,
		CanTrade:      canTrade,
		CanTradeMsg:   canTradeMsg,
		PortfolioOK:   portfolioOK,
		PortfolioMsg:  portfolioMsg,
		OpenPositions: e.heldCount(),
		DailyPnL:      e.deps.Lifecycle.RealisedSince(startOfDay(now)),
		Now:           now,
	})
	rec.Violations = check.ViolationCodes()

	audit := domain.AuditEntry{
		ID:                 uuid.NewString(),
		CycleID:            res.ID,
		MarketID:           m.ID,
		Question:           m.Question,
		CreatedAt:          now,
		ModelProbability:   model,
		ImpliedProbability: rec.ImpliedProb,
		RawEdge:            edge.RawEdge,
		NetEdge:            edge.NetEdge,
		Direction:          edge.Direction,
		Confidence:         conf,
		Decision:           domain.DecisionNoTrade,
		Violations:         rec.Violations,
		EvidenceScore:      g.research.Evidence.QualityScore,
		EvidenceSources:    g.research.Evidence.SourceCount,
		EvidenceSummary:    g.research.Summary,
	}

	if !check.Allowed {
		e.record(ctx, res, rec, audit)
		return
	}

	size := e.deps.Sizer.Size(sizing.Input{
		Edge:               edge,
		Confidence:         conf,
		Bankroll:           bankroll,
		DrawdownMultiplier: e.deps.Drawdown.KellyMultiplier(),
		TimelineMultiplier: g.research.Forecast.TimelineMultiplier,
		Volatility:         m.Volatility,
		Category:           m.Category,
		PortfolioOK:        portfolioOK,
		PortfolioReason:    portfolioMsg,
	})
	rec.StakeUSD, rec.CappedBy = size.StakeUSD, size.CappedBy
	audit.StakeUSD, audit.CappedBy = size.StakeUSD, size.CappedBy
	if size.IsZero() {
		rec.SkipReason = fmt.Sprintf("zero stake (%s)", size.CappedBy)
		e.record(ctx, res, rec, audit)
		return
	}

	side := edge.Direction.Side()
	orders := e.deps.Builder.BuildEntry(execution.EntryRequest{Market: m, Size: size, DepthUSD: g.depth(side)})

	// The exposure gate is re-checked with the actual stake right before
	// submission.
	if ok, reason := e.deps.Exposure.CanAddPosition(e.committed(), bankroll, m.Category, m.EventID, size.StakeUSD); !ok {
		rec.SkipReason = "portfolio recheck: " + reason
		rec.Violations = append(rec.Violations, domain.ViolationPortfolio)
		audit.Violations = rec.Violations
		e.record(ctx, res, rec, audit)
		return
	}

	res.TradesAttempted++
	pe := &pendingEntry{market: m, side: side, edge: edge.NetEdge, confidence: conf}
	status := e.submitEntry(ctx, res, pe, orders)
	rec.OrderStatus, audit.OrderStatus = status, status
	if pe.active() {
		e.entries[m.ID] = pe
	}

	if e.deps.Lifecycle.Has(m.ID) || pe.active() {
		rec.Decision, audit.Decision = domain.DecisionTrade, domain.DecisionTrade
	} else {
		rec.SkipReason = fmt.Sprintf("no fill (%s)", status)
	}
	e.record(ctx, res, rec, audit)
}

func rank(s domain.OrderStatus) int {
	switch s {
	case domain.OrderFilled, domain.OrderSimulated:
		return 4
	case domain.OrderSubmitted:
		return 3
	case domain.OrderFailed:
		return 2
	case domain.OrderRejected:
		return 1
	}
	return 0
}

// exitPass refreshes open positions and routes the exits the lifecycle
// manager asks for.
func (e *Engine) exitPass(ctx context.Context, res *domain.CycleResult, killSwitch bool) {
	lc := e.deps.Lifecycle
	ids := lc.MarketIDs()
	if len(ids) == 0 {
		return
	}

	updates, err := e.deps.Prices.FetchPrices(ctx, ids)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("fetch prices: %v", err))
		slog.Error("engine: price refresh failed", "positions", len(ids), "err", err)
		updates = nil
	}

	for _, sig := range lc.Evaluate(killSwitch, updates) {
		e.executeExit(ctx, res, sig, updates[sig.MarketID])
	}
}

func (e *Engine) executeExit(ctx context.Context, res *domain.CycleResult, sig domain.ExitSignal, u domain.PriceUpdate) {
	lc := e.deps.Lifecycle
	// Entry orders still on the book are cancelled before the position is
	// sold, and their last fills are included in the exit.
	e.abandonEntry(ctx, res, sig.MarketID)
	pos, ok := lc.Get(sig.MarketID)
	if !ok {
		return
	}
	slog.Info("engine: exit signal",
		"market", domain.TruncateQuestion(pos.Question, pos.MarketID, 50),
		"reason", sig.Reason,
		"urgency", sig.Urgency,
		"fraction", sig.ExitFraction,
		"pnl", fmt.Sprintf("$%.2f", sig.CurrentPnL),
		"details", sig.Details,
	)

	// Resolved markets settle at the resolution price; there is no book to
	// sell into.
	if sig.Reason == domain.ExitMarketResolved && u.ResolvedPrice != nil {
		e.bookExit(ctx, res, sig, 1, *u.ResolvedPrice)
		return
	}

	if err := lc.MarkClosing(sig.MarketID); err != nil {
		slog.Warn("engine: cannot close position", "market", sig.MarketID, "err", err)
		return
	}
	order := e.deps.Builder.BuildExit(pos, sig, pos.CurrentPrice)
	e.deps.Fills.Register(order)
	r := e.deps.Router.Submit(ctx, order)
	e.saveTrade(ctx, res, order, r)

	if !r.HasFill() {
		if rec, err := e.deps.Fills.RecordUnfilled(order.ID); err == nil {
			e.saveFill(ctx, rec)
		}
		if err := lc.RevertClosing(sig.MarketID); err != nil {
			slog.Error("engine: revert closing failed", "market", sig.MarketID, "err", err)
		}
		slog.Warn("engine: exit not filled, will retry next cycle", "market", sig.MarketID, "status", r.Status, "err", r.Error)
		return
	}
	if rec, err := e.deps.Fills.RecordFill(order.ID, r.FillPrice, r.FillSize); err == nil {
		e.saveFill(ctx, rec)
	}

	frac := 1.0
	if pos.Shares > 0 {
		frac = r.FillSize / pos.Shares
	}
	if frac >= partialThreshold {
		frac = 1
	}
	// Fills are on the held token; the lifecycle books YES prices.
	e.bookExit(ctx, res, sig, frac, domain.HeldPrice(pos.Side, r.FillPrice))
}

func (e *Engine) bookExit(ctx context.Context, res *domain.CycleResult, sig domain.ExitSignal, frac, exitYes float64) {
	p, err := e.deps.Lifecycle.ApplyExit(sig.MarketID, frac, exitYes, sig.Reason)
	if err != nil {
		slog.Error("engine: apply exit failed", "market", sig.MarketID, "err", err)
		return
	}
	res.ExitsExecuted++
	if p.Status == domain.PositionClosed {
		if err := e.deps.Store.ArchivePosition(ctx, p); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("archive position %s: %v", p.MarketID, err))
		}
	}

	level := domain.AlertInfo
	if sig.Reason == domain.ExitStopLoss || sig.Reason == domain.ExitKillSwitch {
		level = domain.AlertWarning
	}
	e.alert(ctx, level, "Position exit", domain.TruncateQuestion(p.Question, p.MarketID, 80), map[string]string{
		"reason":   string(sig.Reason),
		"fraction": fmt.Sprintf("%.2f", frac),
		"exit":     fmt.Sprintf("%.3f", exitYes),
		"realised": fmt.Sprintf("$%.2f", p.RealisedPnL),
	})
}

// finish persists the cycle, updates history and status, and raises alerts.
func (e *Engine) finish(ctx context.Context, res *domain.CycleResult) {
	store := e.deps.Store
	if err := store.SavePositions(ctx, e.deps.Lifecycle.Snapshot()); err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("save positions: %v", err))
	}
	if err := store.SaveDrawdown(ctx, e.deps.Drawdown.State()); err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("save drawdown: %v", err))
	}
	if len(res.Errors) > 0 {
		res.Status = domain.CycleError
	}
	res.FinishedAt = e.now()
	if err := store.SaveCycle(ctx, *res); err != nil {
		slog.Error("engine: save cycle failed", "cycle", res.ID, "err", err)
	}

	e.cycleCount++
	if res.Status == domain.CycleError {
		e.consecutiveFailures++
	} else {
		e.consecutiveFailures = 0
	}

	if m := e.deps.Metrics; m != nil {
		m.ObserveCycle(*res)
		m.SetPortfolio(res.Equity, res.DrawdownPct, e.deps.Lifecycle.OpenCount())
	}

	e.statusMu.Lock()
	e.history.push(*res)
	e.statusMu.Unlock()
	e.publishStatus(ctx, res)

	slog.Info("engine: cycle complete",
		"cycle", res.ID,
		"status", res.Status,
		"scanned", res.Scanned,
		"researched", res.Researched,
		"edges", res.EdgesFound,
		"trades", fmt.Sprintf("%d/%d", res.TradesExecuted, res.TradesAttempted),
		"exits", res.ExitsExecuted,
		"skipped", res.Skipped,
		"equity", fmt.Sprintf("$%.2f", res.Equity),
		"drawdown", fmt.Sprintf("%.1f%%", res.DrawdownPct*100),
		"duration", res.Duration().Round(time.Millisecond),
	)

	if res.Status == domain.CycleError && e.consecutiveFailures == e.cfg.AlertAfterFailures {
		e.alert(ctx, domain.AlertCritical, "Repeated cycle failures",
			fmt.Sprintf("%d consecutive failed cycles", e.consecutiveFailures),
			map[string]string{"last_error": lastError(res.Errors)})
	}
	e.alert(ctx, domain.AlertInfo, "Cycle summary",
		fmt.Sprintf("%s: %d scanned, %d trades, %d exits", res.Status, res.Scanned, res.TradesExecuted, res.ExitsExecuted),
		map[string]string{
			"equity":   fmt.Sprintf("$%.2f", res.Equity),
			"drawdown": fmt.Sprintf("%.1f%%", res.DrawdownPct*100),
		})
}

// publishStatus refreshes the status snapshot. last is nil outside cycles.
func (e *Engine) publishStatus(ctx context.Context, last *domain.CycleResult) {
	positions := e.deps.Lifecycle.Snapshot()

	e.statusMu.Lock()
	e.status.CycleCount = e.cycleCount
	e.status.ConsecutiveFailures = e.consecutiveFailures
	e.status.Drawdown = e.deps.Drawdown.State()
	e.status.OpenPositions = len(positions)
	e.status.Equity = e.equity()
	e.status.UpdatedAt = e.now()
	if last != nil {
		lc := *last
		e.status.LastCycle = &lc
	} else if hist := e.history.list(); len(hist) > 0 {
		lc := hist[len(hist)-1]
		e.status.LastCycle = &lc
	}
	e.positions = positions
	snapshot := e.status
	e.statusMu.Unlock()

	if e.deps.Status != nil {
		if err := e.deps.Status.PublishStatus(ctx, snapshot); err != nil {
			slog.Warn("engine: publish status failed", "err", err)
		}
	}
}

func (e *Engine) record(ctx context.Context, res *domain.CycleResult, rec domain.DecisionRecord, audit domain.AuditEntry) {
	if rec.Decision == domain.DecisionNoTrade {
		res.Skipped++
	}
	if m := e.deps.Metrics; m != nil {
		reason := "trade"
		if len(rec.Violations) > 0 {
			reason = rec.Violations[0]
		} else if rec.SkipReason != "" {
			reason = "skipped"
		}
		m.ObserveDecision(rec.Decision, reason)
	}
	slog.Debug("engine: decision",
		"market", rec.MarketID,
		"decision", rec.Decision,
		"edge", fmt.Sprintf("%.4f", rec.NetEdge),
		"violations", rec.Violations,
		"stake", fmt.Sprintf("$%.2f", rec.StakeUSD),
	)
	e.saveDecision(ctx, rec)
	if err := e.deps.Store.SaveAudit(ctx, audit.Seal()); err != nil {
		slog.Error("engine: save audit failed", "market", rec.MarketID, "err", err)
	}
}

func (e *Engine) saveDecision(ctx context.Context, rec domain.DecisionRecord) {
	if err := e.deps.Store.SaveDecision(ctx, rec); err != nil {
		slog.Error("engine: save decision failed", "market", rec.MarketID, "err", err)
	}
}

func (e *Engine) saveTrade(ctx context.Context, res *domain.CycleResult, o domain.OrderSpec, r domain.OrderResult) {
	if err := e.deps.Store.SaveTrade(ctx, domain.NewTradeRecord(res.ID, o, r)); err != nil {
		slog.Error("engine: save trade failed", "order", o.ID, "err", err)
	}
}

func (e *Engine) saveFill(ctx context.Context, rec domain.FillRecord) {
	if err := e.deps.Store.SaveFill(ctx, rec); err != nil {
		slog.Error("engine: save fill failed", "order", rec.OrderID, "err", err)
	}
}

// partialThreshold: exit fills at or above 99% of the position close it.
const partialThreshold = 0.99

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func lastError(errs []string) string {
	if len(errs) == 0 {
		return ""
	}
	return errs[len(errs)-1]
}
