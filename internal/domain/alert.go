package domain

import "time"

// AlertLevel is the severity of an operator alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "info"
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
)

// Alert is emitted on state transitions: cycle summaries, kill switch, trades.
type Alert struct {
	Level   AlertLevel
	Title   string
	Message string
	Fields  map[string]string
	At      time.Time
}

// SchedulerStatus is the operational status snapshot.
type SchedulerStatus struct {
	Running             bool
	CycleCount          int
	ConsecutiveFailures int
	LastCycle           *CycleResult
	Drawdown            DrawdownState
	OpenPositions       int
	Bankroll            float64
	Equity              float64
	DryRun              bool
	UpdatedAt           time.Time
}
