// Package risk holds the policy side of the trading core: the risk gate, the
// drawdown controller and the portfolio exposure manager.
package risk

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

// GateConfig holds every threshold the gate checks against.
type GateConfig struct {
	KillSwitch            bool
	MinEdge               float64
	MaxDailyLoss          float64 // USD, positive number
	MaxOpenPositions      int
	MinLiquidity          float64 // USD
	MaxSpread             float64
	MinEvidenceQuality    float64
	MinConfidence         domain.Confidence
	MinImpliedProbability float64 // floor on the held-side price
	AllowedMarketTypes    []string
	DeniedMarketTypes     []string
	EndgameWarningHours   float64
}

// DefaultGateConfig returns the default thresholds.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		MinEdge:               0.04,
		MaxDailyLoss:          100,
		MaxOpenPositions:      20,
		MinLiquidity:          500,
		MaxSpread:             0.10,
		MinEvidenceQuality:    0.4,
		MinConfidence:         domain.ConfidenceMedium,
		MinImpliedProbability: 0.05,
		EndgameWarningHours:   48,
	}
}

// GateInput is one candidate's view of the world as of the start of its
// evaluation.
type GateInput struct {
	Edge          domain.EdgeResult
	Market        domain.MarketSnapshot
	Evidence      domain.EvidenceQuality
	Confidence    domain.Confidence
	Drawdown      domain.DrawdownState
	CanTrade      bool   // from DrawdownController.CanTrade
	CanTradeMsg   string // reason when CanTrade is false
	PortfolioOK   bool
	PortfolioMsg  string
	OpenPositions int
	DailyPnL      float64
	// MinEdgeOverride lowers or raises the edge bar for this call only.
	MinEdgeOverride *float64
	Now             time.Time
}

// Gate evaluates the fixed battery of checks. It never short-circuits so the
// report always lists every failed check.
type Gate struct {
	cfg GateConfig
}

// NewGate creates a Gate.
func NewGate(cfg GateConfig) *Gate {
	return &Gate{cfg: cfg}
}

// Config returns the gate thresholds.
func (g *Gate) Config() GateConfig {
	return g.cfg
}

type evaluation struct {
	res    domain.RiskCheckResult
	market string
}

func (e *evaluation) pass(name string) {
	e.res.Checks = append(e.res.Checks, domain.CheckOutcome{Name: name, Passed: true})
}

func (e *evaluation) fail(code, detail string) {
	e.res.Violations = append(e.res.Violations, domain.Violation{Code: code, Detail: detail})
	e.res.Checks = append(e.res.Checks, domain.CheckOutcome{Name: code, Detail: detail})
	slog.Debug("risk: check failed", "market", e.market, "check", code, "detail", detail)
}

func (e *evaluation) warn(code, detail string) {
	e.res.Warnings = append(e.res.Warnings, code)
	e.res.Checks = append(e.res.Checks, domain.CheckOutcome{Name: code, Passed: true, Warning: true, Detail: detail})
}

func (e *evaluation) check(ok bool, code, detail string) {
	if ok {
		e.pass(code)
		return
	}
	e.fail(code, detail)
}

// Evaluate runs every check in order and returns the decision.
func (g *Gate) Evaluate(in GateInput) domain.RiskCheckResult {
	ev := &evaluation{market: in.Market.ID}
	ev.res.DrawdownHeat = in.Drawdown.HeatLevel
	ev.res.PortfolioGateReason = in.PortfolioMsg
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	ev.check(!g.cfg.KillSwitch, domain.ViolationKillSwitch, "manual kill switch engaged")

	ddOK := in.CanTrade && !in.Drawdown.IsKilled
	ddMsg := in.CanTradeMsg
	if ddMsg == "" && !ddOK {
		ddMsg = fmt.Sprintf("drawdown %.1f%% heat %d", in.Drawdown.DrawdownPct*100, in.Drawdown.HeatLevel)
	}
	ev.check(ddOK, domain.ViolationDrawdown, ddMsg)

	minEdge := g.cfg.MinEdge
	if in.MinEdgeOverride != nil {
		minEdge = *in.MinEdgeOverride
	}
	ev.check(in.Edge.NetEdge >= minEdge, domain.ViolationMinEdge,
		fmt.Sprintf("net edge %.4f < %.4f", in.Edge.NetEdge, minEdge))

	ev.check(g.cfg.MaxDailyLoss <= 0 || in.DailyPnL > -g.cfg.MaxDailyLoss, domain.ViolationMaxDailyLoss,
		fmt.Sprintf("daily pnl $%.2f <= -$%.2f", in.DailyPnL, g.cfg.MaxDailyLoss))

	ev.check(g.cfg.MaxOpenPositions <= 0 || in.OpenPositions < g.cfg.MaxOpenPositions, domain.ViolationMaxOpenPositions,
		fmt.Sprintf("%d open positions >= %d", in.OpenPositions, g.cfg.MaxOpenPositions))

	ev.check(in.Market.Liquidity >= g.cfg.MinLiquidity, domain.ViolationMinLiquidity,
		fmt.Sprintf("liquidity $%.2f < $%.2f", in.Market.Liquidity, g.cfg.MinLiquidity))

	ev.check(g.cfg.MaxSpread <= 0 || in.Market.Spread <= g.cfg.MaxSpread, domain.ViolationMaxSpread,
		fmt.Sprintf("spread %.4f > %.4f", in.Market.Spread, g.cfg.MaxSpread))

	ev.check(in.Evidence.QualityScore >= g.cfg.MinEvidenceQuality, domain.ViolationEvidenceQuality,
		fmt.Sprintf("evidence quality %.2f < %.2f", in.Evidence.QualityScore, g.cfg.MinEvidenceQuality))

	ev.check(in.Confidence.Rank() >= g.cfg.MinConfidence.Rank(), domain.ViolationMinConfidence,
		fmt.Sprintf("confidence %s < %s", in.Confidence, g.cfg.MinConfidence))

	held := in.Edge.CostBasis()
	ev.check(held >= g.cfg.MinImpliedProbability, domain.ViolationMinImplied,
		fmt.Sprintf("held price %.4f < floor %.4f", held, g.cfg.MinImpliedProbability))

	ev.check(in.Edge.IsPositive, domain.ViolationNegativeEdge,
		fmt.Sprintf("net edge %.4f does not cover costs %.4f", in.Edge.NetEdge, in.Edge.TransactionCostPct))

	ok, msg := g.marketTypeAllowed(in.Market.MarketType)
	ev.check(ok, domain.ViolationMarketType, msg)

	if in.Market.HasResolutionSource() {
		ev.pass(domain.WarningNoResolutionSource)
	} else {
		ev.warn(domain.WarningNoResolutionSource, "market has no clear resolution source")
	}

	ev.check(in.PortfolioOK, domain.ViolationPortfolio, in.PortfolioMsg)

	if h := in.Market.HoursToResolution(now); g.cfg.EndgameWarningHours > 0 && h > 0 && h < g.cfg.EndgameWarningHours {
		ev.warn(domain.WarningEndgame, fmt.Sprintf("resolves in %.0fh", h))
	} else {
		ev.pass(domain.WarningEndgame)
	}

	ev.res.Allowed = len(ev.res.Violations) == 0
	ev.res.Decision = domain.DecisionNoTrade
	if ev.res.Allowed {
		ev.res.Decision = domain.DecisionTrade
	}
	return ev.res
}

func (g *Gate) marketTypeAllowed(mt string) (bool, string) {
	mt = strings.ToLower(strings.TrimSpace(mt))
	if slices.ContainsFunc(g.cfg.DeniedMarketTypes, func(s string) bool { return strings.EqualFold(s, mt) }) {
		return false, fmt.Sprintf("market type %q denied", mt)
	}
	if len(g.cfg.AllowedMarketTypes) == 0 {
		return true, ""
	}
	if slices.ContainsFunc(g.cfg.AllowedMarketTypes, func(s string) bool { return strings.EqualFold(s, mt) }) {
		return true, ""
	}
	return false, fmt.Sprintf("market type %q not in allow list", mt)
}
