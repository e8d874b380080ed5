package domain

import (
	"fmt"
	"strings"
)

// Confidence is the ordinal confidence level attached to a forecast.
type Confidence string

const (
	ConfidenceLow    Confidence = "LOW"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceHigh   Confidence = "HIGH"
)

// ParseConfidence accepts any casing. Unknown values are an error.
func ParseConfidence(s string) (Confidence, error) {
	switch Confidence(strings.ToUpper(strings.TrimSpace(s))) {
	case ConfidenceLow:
		return ConfidenceLow, nil
	case ConfidenceMedium:
		return ConfidenceMedium, nil
	case ConfidenceHigh:
		return ConfidenceHigh, nil
	}
	return "", fmt.Errorf("domain.ParseConfidence: unknown level %q", s)
}

// Rank orders confidence levels: LOW < MEDIUM < HIGH. Unknown levels rank 0.
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceLow:
		return 1
	case ConfidenceMedium:
		return 2
	case ConfidenceHigh:
		return 3
	}
	return 0
}

// SizingMultiplier scales the Kelly fraction by confidence.
func (c Confidence) SizingMultiplier() float64 {
	switch c {
	case ConfidenceHigh:
		return 1.0
	case ConfidenceMedium:
		return 0.75
	case ConfidenceLow:
		return 0.5
	}
	return 0
}

// StopMultiplier widens the stop-loss for higher confidence entries.
func (c Confidence) StopMultiplier() float64 {
	switch c {
	case ConfidenceHigh:
		return 1.25
	case ConfidenceMedium:
		return 1.0
	}
	return 0.8
}

// EvidenceQuality summarises the research collected for one market.
type EvidenceQuality struct {
	QualityScore       float64 // [0,1]
	SourceCount        int
	ContradictionCount int
}

// ForecastResult is the model's view of a market.
type ForecastResult struct {
	ModelProbability float64 // [0.01, 0.99]
	Confidence       Confidence
	// TimelineMultiplier comes from resolution-proximity logic upstream.
	// 0 means not provided.
	TimelineMultiplier float64
	Reasoning          string
}

// ClampedProbability keeps the model probability inside [0.01, 0.99].
func (f ForecastResult) ClampedProbability() float64 {
	return Clamp(f.ModelProbability, 0.01, 0.99)
}

// ResearchResult is what the research/forecast collaborator returns per market.
type ResearchResult struct {
	Evidence EvidenceQuality
	Forecast ForecastResult
	Summary  string
}

// ConvictionSignal aggregates whale positioning on a market.
type ConvictionSignal struct {
	MarketID  string
	Direction Side    // side the whales hold
	Strength  float64 // [0,1]
	Wallets   int
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
