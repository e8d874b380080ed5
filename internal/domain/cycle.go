package domain

import "time"

// CycleStatus is the outcome of one scheduler cycle.
type CycleStatus string

const (
	CycleRunning   CycleStatus = "running"
	CycleCompleted CycleStatus = "completed"
	CycleHalted    CycleStatus = "halted" // kill switch: monitoring only
	CycleError     CycleStatus = "error"
)

// CycleResult is appended to history once per cycle.
type CycleResult struct {
	ID              string
	StartedAt       time.Time
	FinishedAt      time.Time
	Scanned         int
	Researched      int
	EdgesFound      int
	TradesAttempted int
	TradesExecuted  int
	ExitsExecuted   int
	Skipped         int
	Errors          []string
	Status          CycleStatus
	Equity          float64
	DrawdownPct     float64
}

// Duration of the cycle.
func (c CycleResult) Duration() time.Duration {
	if c.FinishedAt.IsZero() {
		return 0
	}
	return c.FinishedAt.Sub(c.StartedAt)
}

// DecisionRecord is the append-only decision log entry for one evaluated
// market in one cycle.
type DecisionRecord struct {
	CycleID     string
	MarketID    string
	Question    string
	Decision    Decision
	SkipReason  string
	ImpliedProb float64
	ModelProb   float64
	NetEdge     float64
	Direction   Direction
	Confidence  Confidence
	Violations  []string
	StakeUSD    float64
	CappedBy    CapReason
	OrderStatus OrderStatus
	CreatedAt   time.Time
}
