// Package engine is the cycle scheduler: it drives discovery, the decision
// pipeline and the exit pass, and owns all cross-cycle trading state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alejandrodnm/polytrader/internal/application/execution"
	"github.com/alejandrodnm/polytrader/internal/application/lifecycle"
	"github.com/alejandrodnm/polytrader/internal/application/risk"
	"github.com/alejandrodnm/polytrader/internal/application/sizing"
	"github.com/alejandrodnm/polytrader/internal/domain"
	"github.com/alejandrodnm/polytrader/internal/ports"
)

const (
	defaultHistorySize        = 50
	defaultAlertAfterFailures = 3
	defaultResearchTimeout    = 60 * time.Second
	defaultCycleInterval      = 15 * time.Minute
	restoreClosedLimit        = 1000
	restoreFillsWindow        = 7 * 24 * time.Hour
)

// Config holds scheduler settings.
type Config struct {
	Bankroll           float64
	DryRun             bool
	KillSwitch         bool
	CycleInterval      time.Duration
	CronSpec           string // overrides CycleInterval when set
	HistorySize        int
	AlertAfterFailures int
	MaxCandidates      int // 0 = no limit
	FeePct             float64
	GasCostUSD         float64
	MaxConvictionBoost float64
	ResearchTimeout    time.Duration
}

// CycleMetrics receives per-cycle observations. Optional.
type CycleMetrics interface {
	ObserveCycle(c domain.CycleResult)
	ObserveDecision(d domain.Decision, reason string)
	SetPortfolio(equity, drawdownPct float64, openPositions int)
}

// Deps are the collaborators and components the engine drives. Books,
// Conviction, Alerter, Status and Metrics are optional.
type Deps struct {
	Markets    ports.MarketProvider
	Prices     ports.PriceFeed
	Books      ports.BookProvider
	Researcher ports.Researcher
	Conviction ports.ConvictionProvider
	Store      ports.StateStore
	Alerter    ports.Alerter
	Status     ports.StatusPublisher
	Metrics    CycleMetrics

	Gate      *risk.Gate
	Drawdown  *risk.DrawdownController
	Exposure  *risk.ExposureManager
	Sizer     *sizing.Sizer
	Builder   *execution.Builder
	Router    *execution.Router
	Fills     *execution.FillTracker
	Lifecycle *lifecycle.Manager
}

func (d Deps) validate() error {
	var missing []string
	check := func(ok bool, name string) {
		if !ok {
			missing = append(missing, name)
		}
	}
	check(d.Markets != nil, "Markets")
	check(d.Prices != nil, "Prices")
	check(d.Researcher != nil, "Researcher")
	check(d.Store != nil, "Store")
	check(d.Gate != nil, "Gate")
	check(d.Drawdown != nil, "Drawdown")
	check(d.Exposure != nil, "Exposure")
	check(d.Sizer != nil, "Sizer")
	check(d.Builder != nil, "Builder")
	check(d.Router != nil, "Router")
	check(d.Fills != nil, "Fills")
	check(d.Lifecycle != nil, "Lifecycle")
	if len(missing) > 0 {
		return fmt.Errorf("missing dependencies: %v", missing)
	}
	return nil
}

// ControlResult is returned by Start and Stop. Repeated calls are no-ops
// with Changed=false.
type ControlResult struct {
	Changed bool
	Message string
}

// Engine schedules and runs trading cycles. Cycles never overlap: cycleMu
// serializes them and is the only writer of trading state. Status readers
// use the snapshot guarded by statusMu.
type Engine struct {
	cfg  Config
	deps Deps

	schedule cron.Schedule
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error

	cycleMu             sync.Mutex
	consecutiveFailures int
	cycleCount          int
	halted              bool
	entries             map[string]*pendingEntry // by market id

	statusMu  sync.RWMutex
	status    domain.SchedulerStatus
	history   *ring
	positions []domain.Position

	ctlMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New validates the dependencies and creates a stopped Engine.
func New(cfg Config, deps Deps) (*Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("engine.New: %w", err)
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}
	if cfg.AlertAfterFailures <= 0 {
		cfg.AlertAfterFailures = defaultAlertAfterFailures
	}
	if cfg.ResearchTimeout <= 0 {
		cfg.ResearchTimeout = defaultResearchTimeout
	}
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = defaultCycleInterval
	}

	sched, err := parseSchedule(cfg.CronSpec, cfg.CycleInterval)
	if err != nil {
		return nil, fmt.Errorf("engine.New: %w", err)
	}

	e := &Engine{
		cfg:      cfg,
		deps:     deps,
		schedule: sched,
		now:      time.Now,
		sleep:    sleepCtx,
		history:  newRing(cfg.HistorySize),
		entries:  make(map[string]*pendingEntry),
	}
	e.status = domain.SchedulerStatus{
		Bankroll: cfg.Bankroll,
		Equity:   cfg.Bankroll,
		DryRun:   cfg.DryRun || deps.Router.DryRun(),
		Drawdown: deps.Drawdown.State(),
	}
	return e, nil
}

// Restore loads the latest persisted snapshot: open and archived positions,
// drawdown state, cycle history and recent fills.
func (e *Engine) Restore(ctx context.Context) error {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	store := e.deps.Store
	open, err := store.LoadOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("engine.Restore: open positions: %w", err)
	}
	closed, err := store.LoadClosedPositions(ctx, restoreClosedLimit)
	if err != nil {
		return fmt.Errorf("engine.Restore: closed positions: %w", err)
	}
	e.deps.Lifecycle.Restore(open, closed)

	dd, ok, err := store.LoadDrawdown(ctx)
	if err != nil {
		return fmt.Errorf("engine.Restore: drawdown: %w", err)
	}
	if ok {
		e.deps.Drawdown.Restore(dd)
	}

	cycles, err := store.RecentCycles(ctx, e.cfg.HistorySize)
	if err != nil {
		return fmt.Errorf("engine.Restore: cycles: %w", err)
	}
	fills, err := store.LoadFills(ctx, e.now().Add(-restoreFillsWindow))
	if err != nil {
		return fmt.Errorf("engine.Restore: fills: %w", err)
	}
	e.deps.Fills.Load(fills)

	e.statusMu.Lock()
	// RecentCycles is newest first.
	for i := len(cycles) - 1; i >= 0; i-- {
		e.history.push(cycles[i])
	}
	e.statusMu.Unlock()
	e.cycleCount = len(cycles)

	e.publishStatus(ctx, nil)
	slog.Info("engine: state restored",
		"open", len(open),
		"closed", len(closed),
		"cycles", len(cycles),
		"equity", fmt.Sprintf("$%.2f", e.equity()),
		"killed", e.deps.Drawdown.State().IsKilled,
	)
	return nil
}

// Start launches the scheduling loop. The first cycle runs immediately.
func (e *Engine) Start(ctx context.Context) ControlResult {
	e.ctlMu.Lock()
	defer e.ctlMu.Unlock()
	if e.running {
		return ControlResult{Message: "scheduler already running"}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.running = true
	e.setRunning(true)

	go e.loop(loopCtx, e.done)
	slog.Info("engine: scheduler started", "schedule", e.describeSchedule())
	return ControlResult{Changed: true, Message: "scheduler started"}
}

// Stop asks the loop to exit and waits for the in-flight cycle, exit pass
// included, to finish.
func (e *Engine) Stop() ControlResult {
	e.ctlMu.Lock()
	defer e.ctlMu.Unlock()
	if !e.running {
		return ControlResult{Message: "scheduler not running"}
	}
	e.cancel()
	<-e.done
	e.running = false
	e.setRunning(false)
	slog.Info("engine: scheduler stopped")
	return ControlResult{Changed: true, Message: "scheduler stopped"}
}

// Status returns the last known-good snapshot.
func (e *Engine) Status() domain.SchedulerStatus {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	s := e.status
	if s.LastCycle != nil {
		lc := *s.LastCycle
		s.LastCycle = &lc
	}
	return s
}

// History returns completed cycles, oldest first.
func (e *Engine) History() []domain.CycleResult {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	return e.history.list()
}

// Positions returns the open positions as of the last cycle.
func (e *Engine) Positions() []domain.Position {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	return append([]domain.Position(nil), e.positions...)
}

// ExecutionQuality reports fill quality over the lookback window.
func (e *Engine) ExecutionQuality(lookback time.Duration) domain.ExecutionQuality {
	return e.deps.Fills.Quality(lookback)
}

// ResetKill clears a drawdown kill after operator review. It fails while the
// drawdown at current equity is still at or above the kill threshold.
func (e *Engine) ResetKill(ctx context.Context) error {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	if err := e.deps.Drawdown.Reset(e.equity()); err != nil {
		return fmt.Errorf("engine.ResetKill: %w", err)
	}
	if err := e.deps.Store.SaveDrawdown(ctx, e.deps.Drawdown.State()); err != nil {
		return fmt.Errorf("engine.ResetKill: save drawdown: %w", err)
	}
	e.alert(ctx, domain.AlertWarning, "Kill switch reset", "drawdown kill cleared by operator", nil)
	e.publishStatus(ctx, nil)
	return nil
}

func (e *Engine) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		e.RunOnce(ctx)

		next := e.schedule.Next(e.now())
		wait := time.Until(next)
		slog.Debug("engine: next cycle", "at", next.Format(time.RFC3339), "in", wait.Round(time.Second))
		if err := e.sleep(ctx, wait); err != nil {
			return
		}
	}
}

func (e *Engine) setRunning(v bool) {
	e.statusMu.Lock()
	e.status.Running = v
	e.statusMu.Unlock()
}

func (e *Engine) describeSchedule() string {
	if e.cfg.CronSpec != "" {
		return "cron " + e.cfg.CronSpec
	}
	return "every " + e.cfg.CycleInterval.String()
}

// equity is bankroll plus realised and unrealised P&L.
func (e *Engine) equity() float64 {
	lc := e.deps.Lifecycle
	return e.cfg.Bankroll + lc.TotalRealised() + lc.Unrealised()
}

func (e *Engine) alert(ctx context.Context, level domain.AlertLevel, title, msg string, fields map[string]string) {
	if e.deps.Alerter == nil {
		return
	}
	a := domain.Alert{Level: level, Title: title, Message: msg, Fields: fields, At: e.now()}
	if err := e.deps.Alerter.Alert(ctx, a); err != nil {
		slog.Warn("engine: alert delivery failed", "title", title, "err", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var errPanic = errors.New("panic")
