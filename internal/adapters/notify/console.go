package notify

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

// ReportInput agrupa lo que imprime -report.
type ReportInput struct {
	Status    domain.SchedulerStatus
	Positions []domain.Position
	Cycles    []domain.CycleResult
	Quality   domain.ExecutionQuality
}

// Console imprime reportes del trader en formato tabla.
type Console struct {
	out io.Writer
	now func() time.Time
}

// NewConsole crea un Console que escribe a stdout.
func NewConsole() *Console {
	return NewConsoleWriter(os.Stdout)
}

// NewConsoleWriter crea un Console sobre un writer arbitrario (tests).
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w, now: time.Now}
}

// PrintReport imprime estado, posiciones, ciclos recientes y calidad de fills.
func (c *Console) PrintReport(in ReportInput) {
	c.printStatus(in.Status)
	c.printPositions(in.Positions)
	c.printCycles(in.Cycles)
	c.printQuality(in.Quality)
}

// PrintCycle imprime el resumen de un ciclo en una línea (modo -once).
func (c *Console) PrintCycle(r domain.CycleResult) {
	fmt.Fprintf(c.out, "[%s] cycle %s %s: scanned=%d researched=%d edges=%d trades=%d/%d exits=%d skipped=%d equity=$%.2f dd=%.1f%% (%s)\n",
		r.StartedAt.Format("15:04:05"), shortID(r.ID), r.Status,
		r.Scanned, r.Researched, r.EdgesFound, r.TradesExecuted, r.TradesAttempted,
		r.ExitsExecuted, r.Skipped, r.Equity, r.DrawdownPct*100,
		r.Duration().Truncate(time.Millisecond))
	for _, e := range r.Errors {
		fmt.Fprintf(c.out, "  ! %s\n", e)
	}
}

func (c *Console) printStatus(s domain.SchedulerStatus) {
	mode := "LIVE"
	if s.DryRun {
		mode = "DRY-RUN"
	}
	fmt.Fprintf(c.out, "\n=== TRADER STATUS (%s) ===\n", mode)
	fmt.Fprintf(c.out, "  Running:      %v | Cycles: %d | Consecutive failures: %d\n",
		s.Running, s.CycleCount, s.ConsecutiveFailures)
	fmt.Fprintf(c.out, "  Bankroll:     $%.2f | Equity: $%.2f | Open positions: %d\n",
		s.Bankroll, s.Equity, s.OpenPositions)

	dd := s.Drawdown
	fmt.Fprintf(c.out, "  Drawdown:     %.1f%% (peak $%.2f) | heat %d | kelly x%.2f\n",
		dd.DrawdownPct*100, dd.PeakEquity, dd.HeatLevel, dd.KellyMultiplier)
	if dd.IsKilled {
		at := "-"
		if dd.KilledAt != nil {
			at = dd.KilledAt.Format(time.RFC3339)
		}
		fmt.Fprintf(c.out, "  KILL SWITCH:  %s (since %s)\n", dd.KilledReason, at)
	}
	if s.LastCycle != nil {
		fmt.Fprintf(c.out, "  Last cycle:   %s %s at %s\n",
			shortID(s.LastCycle.ID), s.LastCycle.Status, s.LastCycle.StartedAt.Format(time.RFC3339))
	}
}

func (c *Console) printPositions(positions []domain.Position) {
	fmt.Fprintf(c.out, "\n── OPEN POSITIONS (%d) ──\n", len(positions))
	if len(positions) == 0 {
		fmt.Fprintln(c.out, "  (none)")
		return
	}

	now := c.now()
	table := tablewriter.NewWriter(c.out)
	table.Header("Market", "Side", "Size$", "Entry", "Now", "Stop", "TP", "PnL", "PnL%", "Age", "Status")

	var totalSize, totalPnL float64
	for _, p := range positions {
		totalSize += p.SizeUSD
		totalPnL += p.UnrealisedPnL
		table.Append(
			domain.TruncateQuestion(p.Question, p.MarketID, 35),
			string(p.Side),
			fmt.Sprintf("$%.2f", p.SizeUSD),
			fmt.Sprintf("%.3f", p.EntryPrice),
			fmt.Sprintf("%.3f", p.CurrentPrice),
			fmt.Sprintf("%.3f", p.StopLossPrice),
			fmt.Sprintf("%.3f", p.TakeProfitPrice),
			fmt.Sprintf("$%+.2f", p.UnrealisedPnL),
			fmt.Sprintf("%+.1f%%", p.PnLPct()*100),
			ageLabel(now.Sub(p.EntryTime)),
			string(p.Status),
		)
	}
	table.Render()
	fmt.Fprintf(c.out, "  Exposure: $%.2f | Unrealised: $%+.2f\n", totalSize, totalPnL)
}

func (c *Console) printCycles(cycles []domain.CycleResult) {
	fmt.Fprintf(c.out, "\n── RECENT CYCLES (%d) ──\n", len(cycles))
	if len(cycles) == 0 {
		fmt.Fprintln(c.out, "  (none)")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Started", "ID", "Status", "Scan", "Res", "Edges", "Trades", "Exits", "Skip", "Equity", "DD%", "Took")
	for _, r := range cycles {
		table.Append(
			r.StartedAt.Format("01-02 15:04"),
			shortID(r.ID),
			string(r.Status),
			fmt.Sprintf("%d", r.Scanned),
			fmt.Sprintf("%d", r.Researched),
			fmt.Sprintf("%d", r.EdgesFound),
			fmt.Sprintf("%d/%d", r.TradesExecuted, r.TradesAttempted),
			fmt.Sprintf("%d", r.ExitsExecuted),
			fmt.Sprintf("%d", r.Skipped),
			fmt.Sprintf("$%.2f", r.Equity),
			fmt.Sprintf("%.1f", r.DrawdownPct*100),
			r.Duration().Truncate(time.Second).String(),
		)
	}
	table.Render()
}

func (c *Console) printQuality(q domain.ExecutionQuality) {
	fmt.Fprintf(c.out, "\n── FILL QUALITY (last %s) ──\n", ageLabel(q.Lookback))
	if q.Orders == 0 {
		fmt.Fprintln(c.out, "  (no orders)")
		return
	}
	fmt.Fprintf(c.out, "  Orders: %d | Filled: %d | Partial: %d | Unfilled: %d\n",
		q.Orders, q.Filled, q.Partial, q.Unfilled)
	fmt.Fprintf(c.out, "  Fill rate: %.0f%% | Avg slippage: %.1f bps | Avg time to fill: %s\n",
		q.FillRate*100, q.AvgSlippageBps, q.AvgTimeToFill.Truncate(time.Millisecond))

	if len(q.ByStrategy) == 0 {
		return
	}
	strategies := make([]string, 0, len(q.ByStrategy))
	for s := range q.ByStrategy {
		strategies = append(strategies, string(s))
	}
	sort.Strings(strategies)

	table := tablewriter.NewWriter(c.out)
	table.Header("Strategy", "Orders", "Filled", "Partial", "Unfilled", "Fill%", "Slip bps")
	for _, s := range strategies {
		sq := q.ByStrategy[domain.ExecutionStrategy(s)]
		table.Append(
			s,
			fmt.Sprintf("%d", sq.Orders),
			fmt.Sprintf("%d", sq.Filled),
			fmt.Sprintf("%d", sq.Partial),
			fmt.Sprintf("%d", sq.Unfilled),
			fmt.Sprintf("%.0f", sq.FillRate*100),
			fmt.Sprintf("%.1f", sq.AvgSlippageBps),
		)
	}
	table.Render()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func ageLabel(d time.Duration) string {
	switch {
	case d <= 0:
		return "-"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%.1fh", d.Hours())
	default:
		return fmt.Sprintf("%.1fd", d.Hours()/24)
	}
}
