package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polytrader/internal/adapters/storage"
	"github.com/alejandrodnm/polytrader/internal/domain"
)

func newStore(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

var t0 = time.Date(2026, 4, 2, 10, 30, 0, 123456789, time.UTC)

func makePosition(id string, side domain.Side) domain.Position {
	return domain.Position{
		ID:                id,
		MarketID:          "0x" + id,
		TokenID:           "tok-" + id,
		Question:          "Will X happen?",
		Category:          "politics",
		EventID:           "ev1",
		Side:              side,
		SizeUSD:           40,
		Shares:            100,
		EntryPrice:        0.40,
		EntryTime:         t0,
		CurrentPrice:      0.45,
		UnrealisedPnL:     5,
		Status:            domain.PositionOpen,
		StopLossPrice:     0.32,
		StopWidth:         0.2,
		TakeProfitPrice:   0.60,
		HighWaterPnL:      6,
		LowWaterPnL:       -1,
		TrailingActivated: true,
		EntryEdge:         0.07,
		EntryConfidence:   domain.ConfidenceHigh,
		EndDate:           t0.Add(30 * 24 * time.Hour),
		NegRisk:           true,
		UpdatedAt:         t0.Add(time.Minute),
	}
}

func TestSQLiteStorage_PositionsRoundTrip(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()

	positions := []domain.Position{makePosition("b", domain.SideNo), makePosition("a", domain.SideYes)}
	require.NoError(t, db.SavePositions(ctx, positions))

	got, err := db.LoadOpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// mismo entry_time → desempata por id
	assert.Equal(t, positions[1], got[0])
	assert.Equal(t, positions[0], got[1])
}

func TestSQLiteStorage_SavePositionsReplacesSet(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()

	require.NoError(t, db.SavePositions(ctx, []domain.Position{makePosition("a", domain.SideYes), makePosition("b", domain.SideYes)}))
	require.NoError(t, db.SavePositions(ctx, []domain.Position{makePosition("c", domain.SideNo)}))

	got, err := db.LoadOpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c", got[0].ID)

	require.NoError(t, db.SavePositions(ctx, nil))
	got, err = db.LoadOpenPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLiteStorage_ArchiveIsAppendOnly(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()

	for i, id := range []string{"old", "new"} {
		p := makePosition(id, domain.SideYes)
		closed := t0.Add(time.Duration(i+1) * time.Hour)
		p.Status = domain.PositionClosed
		p.ClosedAt = &closed
		p.RealisedAt = &closed
		p.ExitReason = domain.ExitTakeProfit
		p.ExitPrice = 0.6
		p.RealisedPnL = 20
		require.NoError(t, db.ArchivePosition(ctx, p))
	}

	all, err := db.LoadClosedPositions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "new", all[0].ID)
	assert.Equal(t, domain.ExitTakeProfit, all[0].ExitReason)
	require.NotNil(t, all[0].ClosedAt)
	assert.True(t, all[0].ClosedAt.Equal(t0.Add(2*time.Hour)))
	require.NotNil(t, all[0].RealisedAt)
	assert.True(t, all[0].RealisedAt.Equal(t0.Add(2*time.Hour)))
	assert.InDelta(t, 20, all[0].RealisedPnL, 1e-9)

	last, err := db.LoadClosedPositions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, "new", last[0].ID)
}

func TestSQLiteStorage_DrawdownRoundTrip(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()

	_, ok, err := db.LoadDrawdown(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	killedAt := t0
	want := domain.DrawdownState{
		PeakEquity:      1000,
		CurrentEquity:   780,
		DrawdownPct:     0.22,
		HeatLevel:       3,
		KellyMultiplier: 0,
		IsKilled:        true,
		KilledReason:    "drawdown 22.0% >= 20.0%",
		KilledAt:        &killedAt,
		UpdatedAt:       t0,
	}
	require.NoError(t, db.SaveDrawdown(ctx, want))

	want.CurrentEquity = 800
	require.NoError(t, db.SaveDrawdown(ctx, want))

	got, ok, err := db.LoadDrawdown(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestSQLiteStorage_TradesAndFills(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()

	tr := domain.TradeRecord{
		OrderID:   "o1",
		CycleID:   "c1",
		MarketID:  "0xm",
		TokenID:   "tok",
		Side:      domain.OrderBuy,
		Strategy:  domain.StrategySimple,
		Price:     0.41,
		Size:      100,
		StakeUSD:  41,
		Status:    domain.OrderSubmitted,
		Attempts:  1,
		CreatedAt: t0,
	}
	require.NoError(t, db.SaveTrade(ctx, tr))

	// el mismo order_id reemplaza la fila
	tr.Status = domain.OrderFilled
	tr.FillPrice = 0.41
	tr.FillSize = 100
	require.NoError(t, db.SaveTrade(ctx, tr))
	require.NoError(t, db.SaveTrade(ctx, domain.TradeRecord{OrderID: "o2", CycleID: "other", CreatedAt: t0}))

	trades, err := db.TradesByCycle(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, tr, trades[0])

	fills := []domain.FillRecord{
		{OrderID: "o0", MarketID: "0xm", RecordedAt: t0.Add(-48 * time.Hour)},
		{OrderID: "o1", MarketID: "0xm", Strategy: domain.StrategySimple, ExpectedPrice: 0.41, FillPrice: 0.42,
			OrderedSize: 100, FilledSize: 60, Slippage: 0.01, SlippageBps: 243.9, Partial: true,
			TimeToFill: 3 * time.Second, RecordedAt: t0},
	}
	for _, f := range fills {
		require.NoError(t, db.SaveFill(ctx, f))
	}

	got, err := db.LoadFills(ctx, t0.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, fills[1], got[0])
}

func TestSQLiteStorage_CyclesNewestFirst(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()

	for i, id := range []string{"c1", "c2", "c3"} {
		start := t0.Add(time.Duration(i) * time.Hour)
		require.NoError(t, db.SaveCycle(ctx, domain.CycleResult{
			ID:         id,
			StartedAt:  start,
			FinishedAt: start.Add(time.Minute),
			Scanned:    10 * (i + 1),
			Status:     domain.CycleCompleted,
			Equity:     1000,
		}))
	}
	require.NoError(t, db.SaveCycle(ctx, domain.CycleResult{
		ID:        "c3",
		StartedAt: t0.Add(2 * time.Hour),
		Status:    domain.CycleError,
		Errors:    []string{"price feed: timeout"},
	}))

	cycles, err := db.RecentCycles(ctx, 2)
	require.NoError(t, err)
	require.Len(t, cycles, 2)
	assert.Equal(t, "c3", cycles[0].ID)
	assert.Equal(t, domain.CycleError, cycles[0].Status)
	assert.Equal(t, []string{"price feed: timeout"}, cycles[0].Errors)
	assert.True(t, cycles[0].FinishedAt.IsZero())
	assert.Equal(t, "c2", cycles[1].ID)
	assert.Nil(t, cycles[1].Errors)
	assert.Equal(t, time.Minute, cycles[1].Duration())
}

func TestSQLiteStorage_DecisionsAndAudit(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()

	d := domain.DecisionRecord{
		CycleID:     "c1",
		MarketID:    "0xm",
		Question:    "Will X happen?",
		Decision:    domain.DecisionNoTrade,
		SkipReason:  "risk gate",
		ImpliedProb: 0.40,
		ModelProb:   0.42,
		NetEdge:     0.01,
		Direction:   domain.DirectionBuyYes,
		Confidence:  domain.ConfidenceMedium,
		Violations:  []string{"min_edge", "max_daily_loss"},
		CreatedAt:   t0,
	}
	require.NoError(t, db.SaveDecision(ctx, d))

	decisions, err := db.DecisionsByCycle(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, d, decisions[0])

	a := domain.AuditEntry{
		ID:                 "a1",
		CycleID:            "c1",
		MarketID:           "0xm",
		CreatedAt:          t0,
		ModelProbability:   0.42,
		ImpliedProbability: 0.40,
		RawEdge:            0.02,
		NetEdge:            0.01,
		Direction:          domain.DirectionBuyYes,
		Confidence:         domain.ConfidenceMedium,
		Decision:           domain.DecisionNoTrade,
		Violations:         []string{"min_edge"},
		EvidenceScore:      0.8,
		EvidenceSources:    3,
		EvidenceSummary:    "polls tighten",
	}.Seal()
	require.NoError(t, db.SaveAudit(ctx, a))

	audits, err := db.AuditByCycle(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, audits, 1)
	assert.Equal(t, a, audits[0])
	assert.True(t, audits[0].Verify())

	none, err := db.AuditByCycle(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}
