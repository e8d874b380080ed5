package notify_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polytrader/internal/adapters/notify"
	"github.com/alejandrodnm/polytrader/internal/domain"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func TestConsole_PrintReport(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf)

	last := domain.CycleResult{ID: "cycle-123456789", StartedAt: t0, FinishedAt: t0.Add(2 * time.Second), Status: domain.CycleCompleted}
	c.PrintReport(notify.ReportInput{
		Status: domain.SchedulerStatus{
			CycleCount: 4,
			LastCycle:  &last,
			Bankroll:   1000,
			Equity:     950,
			DryRun:     true,
			Drawdown:   domain.DrawdownState{PeakEquity: 1000, DrawdownPct: 0.05, KellyMultiplier: 1},
		},
		Positions: []domain.Position{{
			MarketID:     "0xabc",
			Question:     "Will the Fed cut rates in June?",
			Side:         domain.SideYes,
			SizeUSD:      40,
			EntryPrice:   0.40,
			CurrentPrice: 0.45,
			EntryTime:    t0,
			Status:       domain.PositionOpen,
		}},
		Cycles: []domain.CycleResult{last},
		Quality: domain.ExecutionQuality{
			Lookback: 7 * 24 * time.Hour,
			Orders:   2,
			Filled:   1,
			FillRate: 0.5,
			ByStrategy: map[domain.ExecutionStrategy]domain.StrategyQuality{
				domain.StrategySimple: {Orders: 2, Filled: 1, FillRate: 0.5},
			},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "DRY-RUN")
	assert.Contains(t, out, "Will the Fed cut rates in June?")
	assert.Contains(t, out, "$40.00")
	assert.Contains(t, out, "cycle-12")
	assert.Contains(t, out, "Fill rate: 50%")
	assert.Contains(t, out, "simple")
	assert.NotContains(t, out, "KILL SWITCH")
}

func TestConsole_PrintReport_Empty(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf)

	killedAt := t0
	c.PrintReport(notify.ReportInput{
		Status: domain.SchedulerStatus{
			Drawdown: domain.DrawdownState{IsKilled: true, KilledReason: "drawdown 21.0% >= 20.0%", KilledAt: &killedAt},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "LIVE")
	assert.Contains(t, out, "KILL SWITCH:  drawdown 21.0% >= 20.0%")
	assert.Contains(t, out, "(none)")
	assert.Contains(t, out, "(no orders)")
}

func TestConsole_PrintCycle(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf)

	c.PrintCycle(domain.CycleResult{
		ID:              "abc",
		StartedAt:       t0,
		FinishedAt:      t0.Add(1500 * time.Millisecond),
		Status:          domain.CycleError,
		Scanned:         12,
		TradesAttempted: 2,
		TradesExecuted:  1,
		Equity:          1012.5,
		Errors:          []string{"price feed: timeout"},
	})

	out := buf.String()
	assert.Contains(t, out, "cycle abc error")
	assert.Contains(t, out, "scanned=12")
	assert.Contains(t, out, "trades=1/2")
	assert.Contains(t, out, "equity=$1012.50")
	assert.Contains(t, out, "! price feed: timeout")
}

func TestLogAlerter_WritesFields(t *testing.T) {
	var buf bytes.Buffer
	a := notify.NewLogAlerter(slog.New(slog.NewTextHandler(&buf, nil)))

	err := a.Alert(context.Background(), domain.Alert{
		Level:   domain.AlertCritical,
		Title:   "kill switch",
		Message: "drawdown breached",
		Fields:  map[string]string{"equity": "$780.00"},
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "level=ERROR")
	assert.Contains(t, out, `msg="alert: kill switch"`)
	assert.Contains(t, out, "equity=$780.00")
}

func TestDiscordAlerter_PostsEmbed(t *testing.T) {
	var got map[string][]map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := notify.NewDiscordAlerter(srv.URL, domain.AlertInfo)
	err := d.Alert(context.Background(), domain.Alert{
		Level:   domain.AlertWarning,
		Title:   "cycle failed",
		Message: "3 consecutive failures",
		Fields:  map[string]string{"cycle": "c1"},
		At:      t0,
	})
	require.NoError(t, err)

	require.Len(t, got["embeds"], 1)
	embed := got["embeds"][0]
	assert.Equal(t, "cycle failed", embed["title"])
	assert.Equal(t, float64(0xf1c40f), embed["color"])
	assert.Equal(t, "2026-05-01T09:00:00Z", embed["timestamp"])
}

func TestDiscordAlerter_FiltersAndErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	d := notify.NewDiscordAlerter(srv.URL, domain.AlertWarning)
	require.NoError(t, d.Alert(context.Background(), domain.Alert{Level: domain.AlertInfo, Title: "cycle ok"}))
	assert.Equal(t, 0, calls)

	err := d.Alert(context.Background(), domain.Alert{Level: domain.AlertCritical, Title: "kill"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Equal(t, 1, calls)

	// sin URL no hace nada
	require.NoError(t, notify.NewDiscordAlerter("", "").Alert(context.Background(), domain.Alert{Title: "x"}))
}

type failingAlerter struct{ n int }

func (f *failingAlerter) Alert(context.Context, domain.Alert) error {
	f.n++
	return errors.New("down")
}

func TestMulti_DeliversToAll(t *testing.T) {
	first, second := &failingAlerter{}, &failingAlerter{}
	m := notify.Multi{first, nil, second}

	err := m.Alert(context.Background(), domain.Alert{Title: "x"})
	require.Error(t, err)
	assert.Equal(t, 1, first.n)
	assert.Equal(t, 1, second.n)
}
