package risk

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

// ErrStillInDrawdown is returned by Reset when current equity has not
// recovered above the kill threshold.
var ErrStillInDrawdown = errors.New("drawdown still at or above kill threshold")

// DrawdownConfig holds the heat thresholds (fractions of peak equity) and the
// Kelly multiplier of each level.
type DrawdownConfig struct {
	WarningPct  float64
	CriticalPct float64
	MaxPct      float64
	KillPct     float64

	WarningMultiplier  float64
	CriticalMultiplier float64
	MaxMultiplier      float64
}

// DefaultDrawdownConfig returns the conservative defaults.
func DefaultDrawdownConfig() DrawdownConfig {
	return DrawdownConfig{
		WarningPct:         0.10,
		CriticalPct:        0.15,
		MaxPct:             0.20,
		KillPct:            0.25,
		WarningMultiplier:  0.75,
		CriticalMultiplier: 0.50,
		MaxMultiplier:      0.25,
	}
}

// Validate checks that thresholds ascend and multipliers descend.
func (c DrawdownConfig) Validate() error {
	if !(0 < c.WarningPct && c.WarningPct < c.CriticalPct && c.CriticalPct < c.MaxPct && c.MaxPct <= c.KillPct && c.KillPct < 1) {
		return fmt.Errorf("risk.DrawdownConfig: thresholds must ascend in (0,1): %.2f/%.2f/%.2f/%.2f",
			c.WarningPct, c.CriticalPct, c.MaxPct, c.KillPct)
	}
	if !(1 >= c.WarningMultiplier && c.WarningMultiplier >= c.CriticalMultiplier && c.CriticalMultiplier >= c.MaxMultiplier && c.MaxMultiplier >= 0) {
		return fmt.Errorf("risk.DrawdownConfig: multipliers must descend in [0,1]")
	}
	return nil
}

// DrawdownController tracks the equity high-water mark and owns the kill
// switch. It is the single authority for halting new risk. Only the
// scheduler calls it, so it carries no lock.
type DrawdownController struct {
	cfg   DrawdownConfig
	state domain.DrawdownState
	now   func() time.Time
}

// NewDrawdownController starts at heat 0 with the given initial equity.
func NewDrawdownController(cfg DrawdownConfig, initialEquity float64) *DrawdownController {
	dc := &DrawdownController{cfg: cfg, now: time.Now}
	dc.state = domain.DrawdownState{
		PeakEquity:      initialEquity,
		CurrentEquity:   initialEquity,
		KellyMultiplier: 1,
		UpdatedAt:       dc.now(),
	}
	return dc
}

// Restore replaces the state with a persisted snapshot and recomputes the
// derived fields against the current config.
func (dc *DrawdownController) Restore(s domain.DrawdownState) {
	dc.state = s
	dc.recompute()
}

// State returns a copy of the current state.
func (dc *DrawdownController) State() domain.DrawdownState {
	return dc.state
}

// Update records an equity observation.
func (dc *DrawdownController) Update(equity float64) domain.DrawdownState {
	dc.state.CurrentEquity = equity
	if equity > dc.state.PeakEquity {
		dc.state.PeakEquity = equity
	}
	dc.state.UpdatedAt = dc.now()

	wasKilled := dc.state.IsKilled
	dc.recompute()
	if dc.state.IsKilled && !wasKilled {
		slog.Error("drawdown: kill switch engaged",
			"drawdown", fmt.Sprintf("%.1f%%", dc.state.DrawdownPct*100),
			"peak", fmt.Sprintf("$%.2f", dc.state.PeakEquity),
			"equity", fmt.Sprintf("$%.2f", equity),
		)
	}
	return dc.state
}

func (dc *DrawdownController) recompute() {
	s := &dc.state
	s.DrawdownPct = 0
	if s.PeakEquity > 0 {
		s.DrawdownPct = max(0, (s.PeakEquity-s.CurrentEquity)/s.PeakEquity)
	}

	switch dd := s.DrawdownPct; {
	case dd >= dc.cfg.MaxPct:
		s.HeatLevel, s.KellyMultiplier = 3, dc.cfg.MaxMultiplier
	case dd >= dc.cfg.CriticalPct:
		s.HeatLevel, s.KellyMultiplier = 2, dc.cfg.CriticalMultiplier
	case dd >= dc.cfg.WarningPct:
		s.HeatLevel, s.KellyMultiplier = 1, dc.cfg.WarningMultiplier
	default:
		s.HeatLevel, s.KellyMultiplier = 0, 1
	}

	if !s.IsKilled && s.DrawdownPct >= dc.cfg.KillPct {
		now := dc.now()
		s.IsKilled = true
		s.KilledAt = &now
		s.KilledReason = fmt.Sprintf("drawdown %.1f%% >= kill threshold %.1f%%", s.DrawdownPct*100, dc.cfg.KillPct*100)
	}
	if s.IsKilled {
		s.KellyMultiplier = 0
	}
}

// Kill engages the kill switch manually.
func (dc *DrawdownController) Kill(reason string) {
	if dc.state.IsKilled {
		return
	}
	now := dc.now()
	dc.state.IsKilled = true
	dc.state.KilledAt = &now
	dc.state.KilledReason = reason
	dc.state.KellyMultiplier = 0
	slog.Error("drawdown: kill switch engaged manually", "reason", reason)
}

// Reset clears the kill switch after re-validating the drawdown at the given
// equity. The peak is kept; the operator accepts the current drawdown.
func (dc *DrawdownController) Reset(currentEquity float64) error {
	dc.state.CurrentEquity = currentEquity
	if currentEquity > dc.state.PeakEquity {
		dc.state.PeakEquity = currentEquity
	}
	dd := 0.0
	if dc.state.PeakEquity > 0 {
		dd = (dc.state.PeakEquity - currentEquity) / dc.state.PeakEquity
	}
	if dd >= dc.cfg.KillPct {
		return fmt.Errorf("risk.Reset: %w (%.1f%%)", ErrStillInDrawdown, dd*100)
	}

	dc.state.IsKilled = false
	dc.state.KilledAt = nil
	dc.state.KilledReason = ""
	dc.state.UpdatedAt = dc.now()
	dc.recompute()
	slog.Warn("drawdown: kill switch reset", "drawdown", fmt.Sprintf("%.1f%%", dd*100))
	return nil
}

// KellyMultiplier is 0 when killed.
func (dc *DrawdownController) KellyMultiplier() float64 {
	return dc.state.KellyMultiplier
}

// CanTrade returns false when killed or at/above the max threshold.
func (dc *DrawdownController) CanTrade() (bool, string) {
	if dc.state.IsKilled {
		return false, "kill switch engaged: " + dc.state.KilledReason
	}
	if dc.state.DrawdownPct >= dc.cfg.MaxPct {
		return false, fmt.Sprintf("drawdown %.1f%% >= max %.1f%%", dc.state.DrawdownPct*100, dc.cfg.MaxPct*100)
	}
	return true, ""
}
