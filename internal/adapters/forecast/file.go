// Package forecast is a ports.Researcher backed by an operator-maintained
// YAML file of probabilities. The file is re-read when its modification
// time changes, so forecasts can be edited while the bot runs.
package forecast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alejandrodnm/polytrader/internal/domain"
	"github.com/alejandrodnm/polytrader/internal/ports"
)

// ErrNoForecast is returned for markets the file has no usable entry for.
var ErrNoForecast = errors.New("forecast: no forecast for market")

var _ ports.Researcher = (*FileResearcher)(nil)

// Entry is one market forecast. Market matches the condition id or the slug.
type Entry struct {
	Market             string    `yaml:"market"`
	Probability        float64   `yaml:"probability"`
	Confidence         string    `yaml:"confidence"`
	EvidenceScore      float64   `yaml:"evidence_score"`
	Sources            int       `yaml:"sources"`
	Contradictions     int       `yaml:"contradictions"`
	TimelineMultiplier float64   `yaml:"timeline_multiplier"`
	Reasoning          string    `yaml:"reasoning"`
	Summary            string    `yaml:"summary"`
	Expires            time.Time `yaml:"expires"`
}

type fileFormat struct {
	Forecasts []Entry `yaml:"forecasts"`
}

// FileResearcher serves forecasts from a YAML file.
type FileResearcher struct {
	path string
	now  func() time.Time

	mu      sync.Mutex
	modTime time.Time
	entries map[string]Entry
}

// NewFileResearcher loads path once and fails if it cannot be parsed.
func NewFileResearcher(path string) (*FileResearcher, error) {
	r := &FileResearcher{path: path, now: time.Now}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Research returns the file's forecast for the market.
func (r *FileResearcher) Research(ctx context.Context, m domain.MarketSnapshot) (domain.ResearchResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.ResearchResult{}, err
	}

	r.mu.Lock()
	if err := r.reloadIfChangedLocked(); err != nil {
		// keep serving the last good file
		slog.Warn("forecast: reload failed", "path", r.path, "err", err)
	}
	e, ok := r.entries[strings.ToLower(m.ID)]
	if !ok && m.Slug != "" {
		e, ok = r.entries[strings.ToLower(m.Slug)]
	}
	r.mu.Unlock()

	if !ok {
		return domain.ResearchResult{}, fmt.Errorf("%w %s", ErrNoForecast, m.ID)
	}
	if !e.Expires.IsZero() && !r.now().Before(e.Expires) {
		return domain.ResearchResult{}, fmt.Errorf("%w %s: expired at %s", ErrNoForecast, m.ID, e.Expires.Format(time.RFC3339))
	}

	conf, err := domain.ParseConfidence(e.Confidence)
	if err != nil {
		return domain.ResearchResult{}, fmt.Errorf("forecast.Research %s: %w", m.ID, err)
	}

	return domain.ResearchResult{
		Evidence: domain.EvidenceQuality{
			QualityScore:       domain.Clamp(e.EvidenceScore, 0, 1),
			SourceCount:        e.Sources,
			ContradictionCount: e.Contradictions,
		},
		Forecast: domain.ForecastResult{
			ModelProbability:   e.Probability,
			Confidence:         conf,
			TimelineMultiplier: e.TimelineMultiplier,
			Reasoning:          e.Reasoning,
		},
		Summary: e.Summary,
	}, nil
}

// Len returns the number of loaded forecasts.
func (r *FileResearcher) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *FileResearcher) reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reloadIfChangedLocked()
}

func (r *FileResearcher) reloadIfChangedLocked() error {
	info, err := os.Stat(r.path)
	if err != nil {
		return fmt.Errorf("forecast: stat %q: %w", r.path, err)
	}
	if r.entries != nil && info.ModTime().Equal(r.modTime) {
		return nil
	}

	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("forecast: read %q: %w", r.path, err)
	}
	entries, err := parse(data)
	if err != nil {
		return fmt.Errorf("forecast: parse %q: %w", r.path, err)
	}

	r.entries = entries
	r.modTime = info.ModTime()
	slog.Debug("forecast: loaded", "path", r.path, "forecasts", len(entries))
	return nil
}

func parse(data []byte) (map[string]Entry, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}

	out := make(map[string]Entry, len(f.Forecasts))
	for i, e := range f.Forecasts {
		key := strings.ToLower(strings.TrimSpace(e.Market))
		if key == "" {
			return nil, fmt.Errorf("forecasts[%d]: market is required", i)
		}
		if e.Probability <= 0 || e.Probability >= 1 {
			return nil, fmt.Errorf("forecasts[%d] %s: probability %.4f must be in (0,1)", i, e.Market, e.Probability)
		}
		if e.Confidence == "" {
			e.Confidence = string(domain.ConfidenceMedium)
		}
		if _, err := domain.ParseConfidence(e.Confidence); err != nil {
			return nil, fmt.Errorf("forecasts[%d] %s: %w", i, e.Market, err)
		}
		if _, dup := out[key]; dup {
			return nil, fmt.Errorf("forecasts[%d]: duplicate market %s", i, e.Market)
		}
		out[key] = e
	}
	return out, nil
}
