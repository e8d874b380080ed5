package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

var t0 = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func market(id string) domain.MarketSnapshot {
	return domain.MarketSnapshot{
		ID:       id,
		Question: "Question " + id,
		Category: "politics",
		Tokens: [2]domain.Token{
			{TokenID: id + "-yes", Outcome: "Yes", Price: 0.5},
			{TokenID: id + "-no", Outcome: "No", Price: 0.5},
		},
	}
}

func newManager(cfg Config) *Manager {
	m := New(cfg)
	m.now = func() time.Time { return t0 }
	return m
}

func openYes(t *testing.T, m *Manager, id string, entry float64) domain.Position {
	t.Helper()
	p, err := m.Open(OpenRequest{Market: market(id), Side: domain.SideYes, Shares: 100 / entry, FillPrice: entry, Edge: 0.10, Confidence: domain.ConfidenceMedium})
	require.NoError(t, err)
	return p
}

func price(id string, yes float64) map[string]domain.PriceUpdate {
	return map[string]domain.PriceUpdate{id: {MarketID: id, YesPrice: yes, At: t0}}
}

func ptr(v float64) *float64 { return &v }

func TestStopWidth_AlwaysClamped(t *testing.T) {
	for _, base := range []float64{0, 0.01, 0.1, 0.2, 0.5, 2} {
		for _, conf := range []domain.Confidence{domain.ConfidenceLow, domain.ConfidenceMedium, domain.ConfidenceHigh} {
			for _, edge := range []float64{0, 0.02, 0.1, 0.5} {
				w := StopWidth(base, conf, EdgeMultiplier(edge, 0.10))
				assert.GreaterOrEqual(t, w, MinStopWidth)
				assert.LessOrEqual(t, w, MaxStopWidth)

				for _, entry := range []float64{0.05, 0.3, 0.5, 0.9} {
					yes := StopPrice(domain.SideYes, entry, w)
					assert.InDelta(t, w, (entry-yes)/entry, 1e-9)
					no := StopPrice(domain.SideNo, entry, w)
					held := 1 - entry
					assert.InDelta(t, w, (held-(1-no))/held, 1e-9)
				}
			}
		}
	}
}

func TestStopWidth_WiderForConfidenceAndEdge(t *testing.T) {
	low := StopWidth(0.2, domain.ConfidenceLow, 1)
	high := StopWidth(0.2, domain.ConfidenceHigh, 1)
	assert.Greater(t, high, low)
	assert.Greater(t, StopWidth(0.2, domain.ConfidenceMedium, EdgeMultiplier(0.15, 0.10)),
		StopWidth(0.2, domain.ConfidenceMedium, EdgeMultiplier(0.05, 0.10)))
}

func TestOpen_NoPositionStoresYesTerms(t *testing.T) {
	m := newManager(DefaultConfig())
	p, err := m.Open(OpenRequest{Market: market("m1"), Side: domain.SideNo, Shares: 100, FillPrice: 0.40, Edge: 0.10, Confidence: domain.ConfidenceMedium})
	require.NoError(t, err)
	assert.Equal(t, "m1-no", p.TokenID)
	assert.InDelta(t, 0.60, p.EntryPrice, 1e-9)
	assert.InDelta(t, 40, p.SizeUSD, 1e-9)
	assert.Greater(t, p.StopLossPrice, p.EntryPrice, "NO stop sits above the YES entry")
	assert.Equal(t, 0.01, p.TakeProfitPrice)

	_, err = m.Open(OpenRequest{Market: market("m1"), Side: domain.SideYes, Shares: 1, FillPrice: 0.5})
	assert.ErrorIs(t, err, ErrPositionExists)
}

func TestEvaluate_TakeProfitAtResolutionExtreme(t *testing.T) {
	m := newManager(DefaultConfig())
	openYes(t, m, "m1", 0.50)

	sigs := m.Evaluate(false, price("m1", 0.99))
	require.Len(t, sigs, 1)
	assert.Equal(t, domain.ExitTakeProfit, sigs[0].Reason)
	assert.Equal(t, "market resolved/at 100%", sigs[0].Details)
	assert.Equal(t, 1.0, sigs[0].ExitFraction)
}

func TestEvaluate_NoTakeProfitAtIntermediateGain(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TrailingActivation = 0
	m := newManager(cfg)
	openYes(t, m, "m1", 0.50)
	assert.Empty(t, m.Evaluate(false, price("m1", 0.80)))
}

func TestEvaluate_NoTakeProfitMirrorsYes(t *testing.T) {
	m := newManager(DefaultConfig())
	_, err := m.Open(OpenRequest{Market: market("m1"), Side: domain.SideNo, Shares: 100, FillPrice: 0.5, Edge: 0.1, Confidence: domain.ConfidenceMedium})
	require.NoError(t, err)

	sigs := m.Evaluate(false, price("m1", 0.01))
	require.Len(t, sigs, 1)
	assert.Equal(t, domain.ExitTakeProfit, sigs[0].Reason)
}

func TestEvaluate_KillSwitchExitsEverything(t *testing.T) {
	m := newManager(DefaultConfig())
	openYes(t, m, "a", 0.50)
	openYes(t, m, "b", 0.40)
	openYes(t, m, "c", 0.30)

	sigs := m.Evaluate(true, nil)
	require.Len(t, sigs, 3)
	for i, id := range []string{"a", "b", "c"} {
		assert.Equal(t, id, sigs[i].MarketID)
		assert.Equal(t, domain.ExitKillSwitch, sigs[i].Reason)
		assert.Equal(t, domain.UrgencyImmediate, sigs[i].Urgency)
	}
}

func TestEvaluate_ResolutionBeatsStopLoss(t *testing.T) {
	m := newManager(DefaultConfig())
	openYes(t, m, "m1", 0.50)
	u := map[string]domain.PriceUpdate{"m1": {MarketID: "m1", YesPrice: 0.10, ResolvedPrice: ptr(0)}}

	sigs := m.Evaluate(false, u)
	require.Len(t, sigs, 1)
	assert.Equal(t, domain.ExitMarketResolved, sigs[0].Reason)
}

func TestEvaluate_StopLoss(t *testing.T) {
	m := newManager(DefaultConfig())
	p := openYes(t, m, "m1", 0.50)

	assert.Empty(t, m.Evaluate(false, price("m1", p.StopLossPrice+0.01)))
	sigs := m.Evaluate(false, price("m1", p.StopLossPrice))
	require.Len(t, sigs, 1)
	assert.Equal(t, domain.ExitStopLoss, sigs[0].Reason)
	assert.Less(t, sigs[0].CurrentPnL, 0.0)
}

func TestEvaluate_TrailingStopNeedsActivation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TrailingActivation = 0.30 // $30 on a $100 stake
	cfg.TrailingDistance = 0.10   // $10 pullback
	m := newManager(cfg)
	openYes(t, m, "m1", 0.50) // 200 shares

	// +$20 then back to +$4: pulled back $16 but never activated.
	assert.Empty(t, m.Evaluate(false, price("m1", 0.60)))
	assert.Empty(t, m.Evaluate(false, price("m1", 0.52)))
	p, _ := m.Get("m1")
	assert.False(t, p.TrailingActivated)

	// +$40 activates, +$36 is within distance, +$28 fires.
	assert.Empty(t, m.Evaluate(false, price("m1", 0.70)))
	assert.Empty(t, m.Evaluate(false, price("m1", 0.68)))
	sigs := m.Evaluate(false, price("m1", 0.64))
	require.Len(t, sigs, 1)
	assert.Equal(t, domain.ExitTrailingStop, sigs[0].Reason)
}

func TestEvaluate_TrailingSuppressesStopLoss(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TrailingActivation = 0.30
	cfg.TrailingDistance = 0.10
	m := newManager(cfg)
	p := openYes(t, m, "m1", 0.50)

	m.Evaluate(false, price("m1", 0.80))
	sigs := m.Evaluate(false, price("m1", p.StopLossPrice-0.01))
	require.Len(t, sigs, 1)
	assert.Equal(t, domain.ExitTrailingStop, sigs[0].Reason)
}

func TestEvaluate_TimeExit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TimeExitHours = 6
	m := newManager(cfg)
	openYes(t, m, "m1", 0.50)

	u := map[string]domain.PriceUpdate{"m1": {MarketID: "m1", YesPrice: 0.5, HoursToResolution: 3}}
	sigs := m.Evaluate(false, u)
	require.Len(t, sigs, 1)
	assert.Equal(t, domain.ExitTime, sigs[0].Reason)
}

func TestEvaluate_PartialExitOnceThenEdgeReversal(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TrailingActivation = 0
	m := newManager(cfg)
	openYes(t, m, "m1", 0.50) // entry edge 0.10

	// Profitable, live edge 0.62-0.60 = 0.02 < 0.05.
	u := map[string]domain.PriceUpdate{"m1": {MarketID: "m1", YesPrice: 0.60, ModelProbability: ptr(0.62)}}
	sigs := m.Evaluate(false, u)
	require.Len(t, sigs, 1)
	assert.Equal(t, domain.ExitPartial, sigs[0].Reason)
	assert.Equal(t, 0.5, sigs[0].ExitFraction)

	after, err := m.ApplyExit("m1", 0.5, 0.60, domain.ExitPartial)
	require.NoError(t, err)
	assert.True(t, after.PartialExitTaken)
	assert.InDelta(t, 100, after.Shares, 1e-9)
	assert.InDelta(t, 50, after.SizeUSD, 1e-9)
	assert.InDelta(t, 10, after.RealisedPnL, 1e-9)

	assert.Empty(t, m.Evaluate(false, u), "partial exit fires at most once")

	// Model now 0.50 vs price 0.60: live edge -0.10.
	u["m1"] = domain.PriceUpdate{MarketID: "m1", YesPrice: 0.60, ModelProbability: ptr(0.50)}
	sigs = m.Evaluate(false, u)
	require.Len(t, sigs, 1)
	assert.Equal(t, domain.ExitEdgeReversal, sigs[0].Reason)
}

func TestEvaluate_NoPartialWhenLosing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TrailingActivation = 0
	m := newManager(cfg)
	openYes(t, m, "m1", 0.50)
	u := map[string]domain.PriceUpdate{"m1": {MarketID: "m1", YesPrice: 0.48, ModelProbability: ptr(0.49)}}
	assert.Empty(t, m.Evaluate(false, u))
}

func TestApplyExit_FullCloseArchives(t *testing.T) {
	m := newManager(DefaultConfig())
	_, err := m.Open(OpenRequest{Market: market("m1"), Side: domain.SideNo, Shares: 100, FillPrice: 0.40, Edge: 0.1, Confidence: domain.ConfidenceHigh})
	require.NoError(t, err)

	closed, err := m.ApplyExit("m1", 1, 0.45, domain.ExitEdgeReversal)
	require.NoError(t, err)
	// NO entered at YES 0.60, exited at YES 0.45: 100 * (0.60 - 0.45)
	assert.InDelta(t, 15, closed.RealisedPnL, 1e-9)
	assert.Equal(t, domain.PositionClosed, closed.Status)
	require.NotNil(t, closed.ClosedAt)
	assert.False(t, m.Has("m1"))
	require.Len(t, m.Closed(), 1)
	assert.InDelta(t, 15, m.TotalRealised(), 1e-9)
	assert.InDelta(t, 15, m.RealisedSince(t0), 1e-9)
	assert.Zero(t, m.RealisedSince(t0.Add(time.Hour)))

	_, err = m.ApplyExit("m1", 1, 0.45, domain.ExitEdgeReversal)
	assert.ErrorIs(t, err, ErrUnknownPosition)
}

func TestClosingTransitions(t *testing.T) {
	m := newManager(DefaultConfig())
	openYes(t, m, "m1", 0.50)

	require.NoError(t, m.MarkClosing("m1"))
	assert.Error(t, m.MarkClosing("m1"))
	assert.Empty(t, m.Evaluate(true, nil), "closing positions are not signalled twice")

	require.NoError(t, m.RevertClosing("m1"))
	assert.Len(t, m.Evaluate(true, nil), 1)
	assert.ErrorIs(t, m.MarkClosing("zz"), ErrUnknownPosition)
}

func TestRestore(t *testing.T) {
	m := newManager(DefaultConfig())
	openYes(t, m, "a", 0.5)
	openYes(t, m, "b", 0.5)
	require.NoError(t, m.MarkClosing("b"))
	snap := m.Snapshot()

	other := newManager(DefaultConfig())
	other.Restore(snap, nil)
	assert.Equal(t, 2, other.OpenCount())
	b, ok := other.Get("b")
	require.True(t, ok)
	assert.Equal(t, domain.PositionOpen, b.Status, "in-flight exits are retried after restart")

	// Snapshot copies do not alias internal state.
	snap[0].SizeUSD = 999
	a, _ := m.Get("a")
	assert.InDelta(t, 100, a.SizeUSD, 1e-9)
}

func TestRealisedSince_PartialLossStaysOnItsDay(t *testing.T) {
	m := newManager(DefaultConfig())
	openYes(t, m, "m1", 0.50)

	day1 := t0
	_, err := m.ApplyExit("m1", 0.5, 0.40, domain.ExitPartial)
	require.NoError(t, err)
	// 100 of 200 shares sold 0.10 below entry.
	assert.InDelta(t, -10, m.RealisedSince(day1.Truncate(24*time.Hour)), 1e-9)

	day5 := t0.Add(4 * 24 * time.Hour)
	m.now = func() time.Time { return day5 }
	m.Refresh(map[string]domain.PriceUpdate{"m1": {MarketID: "m1", YesPrice: 0.45, At: day5}})

	p, _ := m.Get("m1")
	assert.Equal(t, day5, p.UpdatedAt)
	require.NotNil(t, p.RealisedAt)
	assert.Equal(t, day1, *p.RealisedAt)
	assert.Zero(t, m.RealisedSince(day5.Truncate(24*time.Hour)), "old partial loss does not count today")
	assert.InDelta(t, -10, m.RealisedSince(day1.Truncate(24*time.Hour)), 1e-9)

	// Restored state keeps the loss on the day it was booked.
	other := newManager(DefaultConfig())
	other.Restore(m.Snapshot(), m.Closed())
	assert.Zero(t, other.RealisedSince(day5.Truncate(24*time.Hour)))
	assert.InDelta(t, -10, other.RealisedSince(day1.Truncate(24*time.Hour)), 1e-9)

	// Closing on day 5 counts only the closing leg on day 5.
	_, err = m.ApplyExit("m1", 1, 0.55, domain.ExitEdgeReversal)
	require.NoError(t, err)
	assert.InDelta(t, 5, m.RealisedSince(day5.Truncate(24*time.Hour)), 1e-9)
	assert.InDelta(t, -5, m.TotalRealised(), 1e-9)
}

func TestAddFill_AveragesEntry(t *testing.T) {
	m := newManager(DefaultConfig())
	_, err := m.Open(OpenRequest{Market: market("y"), Side: domain.SideYes, Shares: 100, FillPrice: 0.40, Edge: 0.1, Confidence: domain.ConfidenceMedium})
	require.NoError(t, err)

	p, err := m.AddFill("y", 50, 0.46)
	require.NoError(t, err)
	assert.InDelta(t, 150, p.Shares, 1e-9)
	assert.InDelta(t, 63, p.SizeUSD, 1e-9)
	assert.InDelta(t, 0.42, p.EntryPrice, 1e-9)
	assert.InDelta(t, StopPrice(domain.SideYes, 0.42, p.StopWidth), p.StopLossPrice, 1e-9)

	_, err = m.Open(OpenRequest{Market: market("n"), Side: domain.SideNo, Shares: 100, FillPrice: 0.40, Edge: 0.1, Confidence: domain.ConfidenceMedium})
	require.NoError(t, err)
	p, err = m.AddFill("n", 100, 0.50)
	require.NoError(t, err)
	// Held average 0.45, stored in YES terms.
	assert.InDelta(t, 0.55, p.EntryPrice, 1e-9)
	assert.InDelta(t, 90, p.SizeUSD, 1e-9)

	require.NoError(t, m.MarkClosing("n"))
	_, err = m.AddFill("n", 10, 0.5)
	assert.Error(t, err)
	_, err = m.AddFill("zz", 10, 0.5)
	assert.ErrorIs(t, err, ErrUnknownPosition)
}
