package domain

import "time"

// DrawdownState is owned by the drawdown controller and changes once per
// equity observation.
type DrawdownState struct {
	PeakEquity      float64
	CurrentEquity   float64
	DrawdownPct     float64
	HeatLevel       int // 0..3
	KellyMultiplier float64
	IsKilled        bool
	KilledReason    string
	KilledAt        *time.Time
	UpdatedAt       time.Time
}
