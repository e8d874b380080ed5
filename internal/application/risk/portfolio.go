package risk

import (
	"fmt"
	"sort"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

// PortfolioConfig expresses every limit as a fraction of bankroll, except the
// same-category count used as a correlation proxy.
type PortfolioConfig struct {
	MaxTotalExposure       float64
	MaxCategoryExposure    float64
	MaxEventExposure       float64
	MaxSinglePosition      float64
	MaxCorrelatedPositions int
}

// DefaultPortfolioConfig returns the default limits.
func DefaultPortfolioConfig() PortfolioConfig {
	return PortfolioConfig{
		MaxTotalExposure:       0.80,
		MaxCategoryExposure:    0.35,
		MaxEventExposure:       0.25,
		MaxSinglePosition:      0.10,
		MaxCorrelatedPositions: 4,
	}
}

// ExposureManager computes concentration from a snapshot of positions. It
// keeps no state of its own: callers re-assess after every fill.
type ExposureManager struct {
	cfg PortfolioConfig
}

// NewExposureManager creates an ExposureManager.
func NewExposureManager(cfg PortfolioConfig) *ExposureManager {
	return &ExposureManager{cfg: cfg}
}

// Assess builds the risk report for the open positions.
func (m *ExposureManager) Assess(positions []domain.Position, bankroll float64) domain.PortfolioRiskReport {
	rep := domain.PortfolioRiskReport{
		Bankroll:         bankroll,
		CategoryExposure: make(map[string]float64),
		EventExposure:    make(map[string]float64),
		CategoryCounts:   make(map[string]int),
		IsHealthy:        true,
	}

	var largest float64
	for _, p := range positions {
		if !p.IsOpen() {
			continue
		}
		rep.TotalExposure += p.SizeUSD
		rep.CategoryExposure[categoryKey(p.Category)] += p.SizeUSD
		rep.CategoryCounts[categoryKey(p.Category)]++
		if p.EventID != "" {
			rep.EventExposure[p.EventID] += p.SizeUSD
		}
		if p.SizeUSD > largest {
			largest = p.SizeUSD
			rep.LargestPositionMarket = p.MarketID
		}
	}

	if bankroll <= 0 {
		if rep.TotalExposure > 0 {
			rep.Violations = append(rep.Violations, "bankroll is zero with open exposure")
			rep.IsHealthy = false
		}
		return rep
	}

	rep.TotalExposurePct = rep.TotalExposure / bankroll
	rep.LargestPositionFraction = largest / bankroll
	for k, v := range rep.CategoryExposure {
		rep.CategoryExposure[k] = v / bankroll
	}
	for k, v := range rep.EventExposure {
		rep.EventExposure[k] = v / bankroll
	}

	if rep.TotalExposurePct > m.cfg.MaxTotalExposure {
		rep.Violations = append(rep.Violations,
			fmt.Sprintf("total exposure %.1f%% > %.1f%%", rep.TotalExposurePct*100, m.cfg.MaxTotalExposure*100))
	}
	for _, k := range sortedKeys(rep.CategoryExposure) {
		if v := rep.CategoryExposure[k]; v > m.cfg.MaxCategoryExposure {
			rep.Violations = append(rep.Violations,
				fmt.Sprintf("category %s %.1f%% > %.1f%%", k, v*100, m.cfg.MaxCategoryExposure*100))
		}
	}
	for _, k := range sortedKeys(rep.EventExposure) {
		if v := rep.EventExposure[k]; v > m.cfg.MaxEventExposure {
			rep.Violations = append(rep.Violations,
				fmt.Sprintf("event %s %.1f%% > %.1f%%", k, v*100, m.cfg.MaxEventExposure*100))
		}
	}
	if rep.LargestPositionFraction > m.cfg.MaxSinglePosition {
		rep.Violations = append(rep.Violations,
			fmt.Sprintf("position %s %.1f%% > %.1f%%", rep.LargestPositionMarket, rep.LargestPositionFraction*100, m.cfg.MaxSinglePosition*100))
	}
	rep.IsHealthy = len(rep.Violations) == 0
	return rep
}

// CanAddPosition checks whether adding size to category/event would breach a
// limit. It does not mutate anything.
func (m *ExposureManager) CanAddPosition(positions []domain.Position, bankroll float64, category, event string, size float64) (bool, string) {
	if bankroll <= 0 {
		return false, "no bankroll"
	}
	rep := m.Assess(positions, bankroll)
	cat := categoryKey(category)
	frac := size / bankroll

	if total := rep.TotalExposurePct + frac; total > m.cfg.MaxTotalExposure {
		return false, fmt.Sprintf("total exposure would be %.1f%% (max %.1f%%)", total*100, m.cfg.MaxTotalExposure*100)
	}
	if c := rep.CategoryExposure[cat] + frac; c > m.cfg.MaxCategoryExposure {
		return false, fmt.Sprintf("category %s would be %.1f%% (max %.1f%%)", cat, c*100, m.cfg.MaxCategoryExposure*100)
	}
	if event != "" {
		if e := rep.EventExposure[event] + frac; e > m.cfg.MaxEventExposure {
			return false, fmt.Sprintf("event %s would be %.1f%% (max %.1f%%)", event, e*100, m.cfg.MaxEventExposure*100)
		}
	}
	if frac > m.cfg.MaxSinglePosition {
		return false, fmt.Sprintf("position would be %.1f%% of bankroll (max %.1f%%)", frac*100, m.cfg.MaxSinglePosition*100)
	}
	if m.cfg.MaxCorrelatedPositions > 0 && rep.CategoryCounts[cat] >= m.cfg.MaxCorrelatedPositions {
		return false, fmt.Sprintf("%d positions already open in %s (max %d)", rep.CategoryCounts[cat], cat, m.cfg.MaxCorrelatedPositions)
	}
	return true, ""
}

// CheckRebalance reports existing overweight categories, events and
// positions. The signals are advisory.
func (m *ExposureManager) CheckRebalance(positions []domain.Position, bankroll float64) []domain.RebalanceSignal {
	if bankroll <= 0 {
		return nil
	}
	rep := m.Assess(positions, bankroll)
	var out []domain.RebalanceSignal

	for _, k := range sortedKeys(rep.CategoryExposure) {
		if v := rep.CategoryExposure[k]; v > m.cfg.MaxCategoryExposure {
			out = append(out, domain.RebalanceSignal{
				Scope: "category", Key: k, Current: v, Limit: m.cfg.MaxCategoryExposure,
				ExcessUSD: (v - m.cfg.MaxCategoryExposure) * bankroll,
				Message:   fmt.Sprintf("category %s overweight by $%.2f", k, (v-m.cfg.MaxCategoryExposure)*bankroll),
			})
		}
	}
	for _, k := range sortedKeys(rep.EventExposure) {
		if v := rep.EventExposure[k]; v > m.cfg.MaxEventExposure {
			out = append(out, domain.RebalanceSignal{
				Scope: "event", Key: k, Current: v, Limit: m.cfg.MaxEventExposure,
				ExcessUSD: (v - m.cfg.MaxEventExposure) * bankroll,
				Message:   fmt.Sprintf("event %s overweight by $%.2f", k, (v-m.cfg.MaxEventExposure)*bankroll),
			})
		}
	}
	for _, p := range positions {
		if !p.IsOpen() {
			continue
		}
		if f := p.SizeUSD / bankroll; f > m.cfg.MaxSinglePosition {
			out = append(out, domain.RebalanceSignal{
				Scope: "position", Key: p.MarketID, Current: f, Limit: m.cfg.MaxSinglePosition,
				ExcessUSD: (f - m.cfg.MaxSinglePosition) * bankroll,
				Message:   fmt.Sprintf("position %s overweight by $%.2f", p.MarketID, (f-m.cfg.MaxSinglePosition)*bankroll),
			})
		}
	}
	return out
}

func categoryKey(c string) string {
	if c == "" {
		return "uncategorized"
	}
	return c
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
