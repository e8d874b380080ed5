// Package metrics exposes trader observations as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alejandrodnm/polytrader/internal/application/engine"
	"github.com/alejandrodnm/polytrader/internal/application/execution"
	"github.com/alejandrodnm/polytrader/internal/domain"
)

const namespace = "polytrader"

var (
	_ execution.Metrics   = (*Metrics)(nil)
	_ engine.CycleMetrics = (*Metrics)(nil)
)

// Metrics holds the trader's collectors.
type Metrics struct {
	registry *prometheus.Registry

	// Execution
	OrderAttempts    *prometheus.CounterVec
	AttemptDuration  *prometheus.HistogramVec
	OrderResults     *prometheus.CounterVec
	SlippageBreaches *prometheus.CounterVec

	// Cycles
	CyclesTotal    *prometheus.CounterVec
	CycleDuration  prometheus.Histogram
	CycleCounts    *prometheus.CounterVec
	Decisions      *prometheus.CounterVec
	LastCycleStart prometheus.Gauge

	// Portfolio
	Equity        prometheus.Gauge
	DrawdownPct   prometheus.Gauge
	OpenPositions prometheus.Gauge
}

// New registers every collector on a fresh registry, together with the Go
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		OrderAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "order_attempts_total",
			Help:      "Order submission attempts by strategy and outcome",
		}, []string{"strategy", "outcome"}),
		AttemptDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "order_attempt_duration_seconds",
			Help:      "Latency of a single submission attempt",
			Buckets:   prometheus.DefBuckets,
		}, []string{"strategy"}),
		OrderResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "order_results_total",
			Help:      "Final order results by status",
		}, []string{"status"}),
		SlippageBreaches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "slippage_breaches_total",
			Help:      "Fills worse than the limit price beyond tolerance",
		}, []string{"strategy"}),

		CyclesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "cycles_total",
			Help:      "Completed cycles by final status",
		}, []string{"status"}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of a trading cycle",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		CycleCounts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "cycle_items_total",
			Help:      "Per-cycle counters summed over cycles",
		}, []string{"kind"}),
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "decisions_total",
			Help:      "Candidate decisions by outcome and skip reason",
		}, []string{"decision", "reason"}),
		LastCycleStart: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "last_cycle_start_timestamp_seconds",
			Help:      "Unix time the last cycle started",
		}),

		Equity: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "portfolio",
			Name:      "equity_usd",
			Help:      "Current equity in USD",
		}),
		DrawdownPct: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "portfolio",
			Name:      "drawdown_ratio",
			Help:      "Drawdown from peak equity as a fraction",
		}),
		OpenPositions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "portfolio",
			Name:      "open_positions",
			Help:      "Number of open positions",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveAttempt(strategy domain.ExecutionStrategy, outcome string, d time.Duration) {
	m.OrderAttempts.WithLabelValues(string(strategy), outcome).Inc()
	m.AttemptDuration.WithLabelValues(string(strategy)).Observe(d.Seconds())
}

func (m *Metrics) ObserveResult(status domain.OrderStatus) {
	m.OrderResults.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) ObserveSlippageBreach(strategy domain.ExecutionStrategy) {
	m.SlippageBreaches.WithLabelValues(string(strategy)).Inc()
}

func (m *Metrics) ObserveCycle(c domain.CycleResult) {
	m.CyclesTotal.WithLabelValues(string(c.Status)).Inc()
	if d := c.Duration(); d > 0 {
		m.CycleDuration.Observe(d.Seconds())
	}
	if !c.StartedAt.IsZero() {
		m.LastCycleStart.Set(float64(c.StartedAt.Unix()))
	}
	m.CycleCounts.WithLabelValues("scanned").Add(float64(c.Scanned))
	m.CycleCounts.WithLabelValues("researched").Add(float64(c.Researched))
	m.CycleCounts.WithLabelValues("edges").Add(float64(c.EdgesFound))
	m.CycleCounts.WithLabelValues("trades_attempted").Add(float64(c.TradesAttempted))
	m.CycleCounts.WithLabelValues("trades_executed").Add(float64(c.TradesExecuted))
	m.CycleCounts.WithLabelValues("exits").Add(float64(c.ExitsExecuted))
	m.CycleCounts.WithLabelValues("skipped").Add(float64(c.Skipped))
}

func (m *Metrics) ObserveDecision(d domain.Decision, reason string) {
	m.Decisions.WithLabelValues(string(d), reason).Inc()
}

func (m *Metrics) SetPortfolio(equity, drawdownPct float64, openPositions int) {
	m.Equity.Set(equity)
	m.DrawdownPct.Set(drawdownPct)
	m.OpenPositions.Set(float64(openPositions))
}
