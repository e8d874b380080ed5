// Package sizing turns an edge into a stake with fractional Kelly.
package sizing

import (
	"log/slog"
	"math"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

const minCost = 0.01

// Config holds the sizing policy.
type Config struct {
	KellyFraction       float64 // base fraction of full Kelly, e.g. 0.25
	MaxStakePerMarket   float64 // USD
	MaxBankrollFraction float64 // e.g. 0.05
	CategoryMultipliers map[string]float64
	RegimeMultiplier    float64 // global market-regime de-rate, 0 = 1.0

	// Volatility de-rate: 1.0 up to VolatilityStart, linear down to
	// VolatilityFloor at VolatilityFull.
	VolatilityStart float64
	VolatilityFull  float64
	VolatilityFloor float64
}

// DefaultConfig returns the default sizing policy.
func DefaultConfig() Config {
	return Config{
		KellyFraction:       0.25,
		MaxStakePerMarket:   100,
		MaxBankrollFraction: 0.05,
		RegimeMultiplier:    1,
		VolatilityStart:     0.10,
		VolatilityFull:      0.15,
		VolatilityFloor:     0.5,
	}
}

// Input is everything the sizer needs for one candidate.
type Input struct {
	Edge               domain.EdgeResult
	Confidence         domain.Confidence
	Bankroll           float64
	DrawdownMultiplier float64
	TimelineMultiplier float64 // 0 = not provided
	Volatility         float64
	Category           string
	PortfolioOK        bool
	PortfolioReason    string
}

// Sizer computes position sizes. It holds no mutable state.
type Sizer struct {
	cfg Config
}

// New creates a Sizer.
func New(cfg Config) *Sizer {
	return &Sizer{cfg: cfg}
}

// HardCap is the largest stake any candidate may receive for this bankroll.
func (s *Sizer) HardCap(bankroll float64) float64 {
	return max(0, min(s.cfg.MaxStakePerMarket, s.cfg.MaxBankrollFraction*bankroll))
}

// Size returns the stake for the candidate.
// Invariant: 0 <= StakeUSD <= HardCap(bankroll).
func (s *Sizer) Size(in Input) domain.PositionSize {
	cost := max(in.Edge.CostBasis(), minCost)
	out := domain.PositionSize{
		Direction: in.Edge.Direction,
		Price:     cost,
	}

	if !in.PortfolioOK {
		out.CappedBy = domain.CapPortfolio
		slog.Debug("sizing: portfolio gate closed", "reason", in.PortfolioReason)
		return out
	}

	p := in.Edge.HeldProbability()
	b := 1/cost - 1
	full := 0.0
	if b > 0 {
		full = max(0, (p*b-(1-p))/b)
	}
	out.FullKellyFraction = full
	out.FullKellyStake = full * max(in.Bankroll, 0)

	mult := domain.SizingMultipliers{
		Confidence: in.Confidence.SizingMultiplier(),
		BaseKelly:  s.cfg.KellyFraction,
		Drawdown:   in.DrawdownMultiplier,
		Timeline:   orOne(in.TimelineMultiplier),
		Volatility: s.volatilityMultiplier(in.Volatility),
		Regime:     orOne(s.cfg.RegimeMultiplier),
		Category:   s.categoryMultiplier(in.Category),
	}
	out.Multipliers = mult

	if in.DrawdownMultiplier <= 0 {
		out.CappedBy = domain.CapDrawdown
		return out
	}
	if in.Bankroll <= 0 || full <= 0 {
		out.CappedBy = domain.CapKelly
		return out
	}

	out.KellyFractionUsed = full * mult.Product()
	kellyStake := out.KellyFractionUsed * in.Bankroll
	maxStake := s.cfg.MaxStakePerMarket
	maxBankroll := s.cfg.MaxBankrollFraction * in.Bankroll

	stake, capped := kellyStake, domain.CapKelly
	if maxStake < stake {
		stake, capped = maxStake, domain.CapMaxStake
	}
	if maxBankroll < stake {
		stake, capped = maxBankroll, domain.CapMaxBankroll
	}
	// Round down to cents, tolerating float noise, without leaving the cap.
	stake = max(0, min(math.Floor(stake*100+1e-6)/100, s.HardCap(in.Bankroll)))

	out.StakeUSD = stake
	out.CappedBy = capped
	out.TokenQuantity = stake / cost
	return out
}

func (s *Sizer) volatilityMultiplier(vol float64) float64 {
	start, full, floor := s.cfg.VolatilityStart, s.cfg.VolatilityFull, s.cfg.VolatilityFloor
	if vol <= start || full <= start {
		return 1
	}
	if vol >= full {
		return floor
	}
	return 1 - (vol-start)/(full-start)*(1-floor)
}

func (s *Sizer) categoryMultiplier(category string) float64 {
	if m, ok := s.cfg.CategoryMultipliers[category]; ok && m >= 0 {
		return m
	}
	return 1
}

func orOne(v float64) float64 {
	if v <= 0 {
		return 1
	}
	return v
}
