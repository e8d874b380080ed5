package domain

// Decision is the outcome of the risk gate for one candidate.
type Decision string

const (
	DecisionTrade   Decision = "TRADE"
	DecisionNoTrade Decision = "NO_TRADE"
)

// Violation codes, in the order the gate evaluates them.
const (
	ViolationKillSwitch       = "kill_switch"
	ViolationDrawdown         = "drawdown"
	ViolationMinEdge          = "min_edge"
	ViolationMaxDailyLoss     = "max_daily_loss"
	ViolationMaxOpenPositions = "max_open_positions"
	ViolationMinLiquidity     = "min_liquidity"
	ViolationMaxSpread        = "max_spread"
	ViolationEvidenceQuality  = "evidence_quality"
	ViolationMinConfidence    = "min_confidence"
	ViolationMinImplied       = "min_implied_probability"
	ViolationNegativeEdge     = "negative_edge"
	ViolationMarketType       = "market_type"
	ViolationPortfolio        = "portfolio"
)

// Warning codes never block a trade.
const (
	WarningNoResolutionSource = "no_resolution_source"
	WarningEndgame            = "endgame"
)

// Violation is one failed check.
type Violation struct {
	Code   string
	Detail string
}

// CheckOutcome records every check the gate ran, passed or not.
type CheckOutcome struct {
	Name    string
	Passed  bool
	Warning bool
	Detail  string
}

// RiskCheckResult is produced by the risk gate and never mutated afterwards.
type RiskCheckResult struct {
	Allowed             bool
	Decision            Decision
	Violations          []Violation
	Warnings            []string
	Checks              []CheckOutcome
	DrawdownHeat        int
	PortfolioGateReason string
}

// ViolationCodes returns the codes in evaluation order.
func (r RiskCheckResult) ViolationCodes() []string {
	codes := make([]string, len(r.Violations))
	for i, v := range r.Violations {
		codes[i] = v.Code
	}
	return codes
}

// HasViolation reports whether code is among the violations.
func (r RiskCheckResult) HasViolation(code string) bool {
	for _, v := range r.Violations {
		if v.Code == code {
			return true
		}
	}
	return false
}
