package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

type fakeExecutor struct {
	mu       sync.Mutex
	calls    []domain.PlaceOrderRequest
	failures int   // first N calls fail
	err      error // error returned on failure
	placed   domain.PlacedOrder
	orders   map[string]domain.ExchangeOrder
	cancels  []string
}

func (f *fakeExecutor) PlaceOrder(_ context.Context, req domain.PlaceOrderRequest) (domain.PlacedOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if len(f.calls) <= f.failures {
		return domain.PlacedOrder{}, f.err
	}
	return f.placed, nil
}

func (f *fakeExecutor) GetOrder(_ context.Context, id string) (domain.ExchangeOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return domain.ExchangeOrder{}, errors.New("order not found")
	}
	return o, nil
}

func (f *fakeExecutor) CancelOrder(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, id)
	return nil
}

func (f *fakeExecutor) GetBalance(context.Context) (float64, error) { return 1000, nil }

type countingMetrics struct {
	attempts map[string]int
	results  map[domain.OrderStatus]int
	breaches int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{attempts: map[string]int{}, results: map[domain.OrderStatus]int{}}
}

func (m *countingMetrics) ObserveAttempt(_ domain.ExecutionStrategy, outcome string, _ time.Duration) {
	m.attempts[outcome]++
}
func (m *countingMetrics) ObserveResult(s domain.OrderStatus)             { m.results[s]++ }
func (m *countingMetrics) ObserveSlippageBreach(domain.ExecutionStrategy) { m.breaches++ }

func liveRouter(exec *fakeExecutor, metrics Metrics) (*Router, *[]time.Duration) {
	cfg := DefaultRouterConfig()
	cfg.DryRun = false
	cfg.MaxRetries = 3
	cfg.RetryBackoff = 100 * time.Millisecond
	r := NewRouter(cfg, exec, metrics)
	var slept []time.Duration
	r.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return r, &slept
}

func limitOrder() domain.OrderSpec {
	return domain.OrderSpec{
		ID: "o1", MarketID: "m1", TokenID: "yes-tok",
		Side: domain.OrderBuy, Type: domain.OrderLimit,
		Price: 0.612, Size: 50, StakeUSD: 30.6,
		SlippageTolerance: 0.02, TTL: time.Minute, Strategy: domain.StrategySimple,
	}
}

func TestRouter_DryRunNeverCallsExecutor(t *testing.T) {
	exec := &fakeExecutor{}
	metrics := newCountingMetrics()
	r := NewRouter(DefaultRouterConfig(), exec, metrics)

	res := r.Submit(context.Background(), limitOrder())
	assert.Equal(t, domain.OrderSimulated, res.Status)
	assert.Equal(t, 0.612, res.FillPrice)
	assert.Equal(t, 50.0, res.FillSize)
	assert.Zero(t, res.Attempts)
	assert.Empty(t, exec.calls)
	assert.Equal(t, 1, metrics.results[domain.OrderSimulated])
}

func TestRouter_DryRunSkipsValidation(t *testing.T) {
	r := NewRouter(RouterConfig{DryRun: true}, nil, nil)
	spec := limitOrder()
	spec.Price = 1.0
	spec.Size = 5

	res := r.Submit(context.Background(), spec)
	assert.Equal(t, domain.OrderSimulated, res.Status)
	assert.Empty(t, res.Error)
	assert.Equal(t, 5.0, res.FillSize)
}

func TestRouter_PollAndCancel(t *testing.T) {
	exec := &fakeExecutor{orders: map[string]domain.ExchangeOrder{
		"ex-1": {ExchangeOrderID: "ex-1", State: domain.ExchangeOrderLive, OriginalSize: 50, MatchedSize: 10},
	}}
	r, _ := liveRouter(exec, nil)

	o, err := r.Poll(context.Background(), "ex-1")
	require.NoError(t, err)
	assert.Equal(t, 10.0, o.MatchedSize)
	assert.False(t, o.Done())

	_, err = r.Poll(context.Background(), "missing")
	assert.Error(t, err)

	require.NoError(t, r.Cancel(context.Background(), "ex-1"))
	assert.Equal(t, []string{"ex-1"}, exec.cancels)

	dry := NewRouter(RouterConfig{DryRun: true}, nil, nil)
	_, err = dry.Poll(context.Background(), "ex-1")
	assert.Error(t, err)
	assert.Error(t, dry.Cancel(context.Background(), "ex-1"))
}

func TestRouter_PerOrderDryRun(t *testing.T) {
	exec := &fakeExecutor{}
	r, _ := liveRouter(exec, nil)
	spec := limitOrder()
	spec.DryRun = true
	res := r.Submit(context.Background(), spec)
	assert.Equal(t, domain.OrderSimulated, res.Status)
	assert.Empty(t, exec.calls)
}

func TestRouter_FailsAfterExactlyMaxRetries(t *testing.T) {
	exec := &fakeExecutor{failures: 5, err: errors.New("connection reset")}
	metrics := newCountingMetrics()
	r, slept := liveRouter(exec, metrics)

	var res domain.OrderResult
	require.NotPanics(t, func() { res = r.Submit(context.Background(), limitOrder()) })

	assert.Equal(t, domain.OrderFailed, res.Status)
	assert.Equal(t, 3, res.Attempts)
	assert.Len(t, exec.calls, 3)
	assert.Contains(t, res.Error, "connection reset")
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, *slept)
	assert.Equal(t, 3, metrics.attempts[AttemptError])
	assert.Equal(t, 1, metrics.results[domain.OrderFailed])
}

func TestRouter_RecoversAfterTransientFailure(t *testing.T) {
	exec := &fakeExecutor{
		failures: 1,
		err:      errors.New("503"),
		placed:   domain.PlacedOrder{ExchangeOrderID: "x1", FilledSize: 50, FillPrice: 0.61},
	}
	metrics := newCountingMetrics()
	r, _ := liveRouter(exec, metrics)

	res := r.Submit(context.Background(), limitOrder())
	assert.Equal(t, domain.OrderFilled, res.Status)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, "x1", res.ExchangeOrderID)
	assert.Equal(t, 0.61, res.FillPrice)
	assert.Equal(t, 1, metrics.attempts[AttemptError])
	assert.Equal(t, 1, metrics.attempts[AttemptSuccess])
}

func TestRouter_RejectionIsNotRetried(t *testing.T) {
	exec := &fakeExecutor{failures: 5, err: fmt.Errorf("clob 400: %w", domain.ErrOrderRejected)}
	r, slept := liveRouter(exec, nil)

	res := r.Submit(context.Background(), limitOrder())
	assert.Equal(t, domain.OrderRejected, res.Status)
	assert.Equal(t, 1, res.Attempts)
	assert.Len(t, exec.calls, 1)
	assert.Empty(t, *slept)
}

func TestRouter_SubmittedWithoutFill(t *testing.T) {
	exec := &fakeExecutor{placed: domain.PlacedOrder{ExchangeOrderID: "x2", Status: "live"}}
	r, _ := liveRouter(exec, nil)
	res := r.Submit(context.Background(), limitOrder())
	assert.Equal(t, domain.OrderSubmitted, res.Status)
	assert.False(t, res.HasFill())
	require.Len(t, exec.calls, 1)
	assert.Equal(t, "GTC", exec.calls[0].TimeInForce)
	assert.False(t, exec.calls[0].Expiration.IsZero())
}

func TestRouter_MarketOrderGetsAggressivePrice(t *testing.T) {
	exec := &fakeExecutor{placed: domain.PlacedOrder{ExchangeOrderID: "x3", FilledSize: 10}}
	r, _ := liveRouter(exec, nil)

	buy := limitOrder()
	buy.Type = domain.OrderMarket
	buy.Price = 0.60
	r.Submit(context.Background(), buy)

	sell := buy
	sell.ID = "o2"
	sell.Side = domain.OrderSell
	r.Submit(context.Background(), sell)

	require.Len(t, exec.calls, 2)
	assert.InDelta(t, 0.612, exec.calls[0].Price, 1e-9)
	assert.InDelta(t, 0.588, exec.calls[1].Price, 1e-9)
	assert.Equal(t, "FOK", exec.calls[0].TimeInForce)
}

func TestAggressivePrice_Bounds(t *testing.T) {
	assert.Equal(t, 0.99, AggressivePrice(domain.OrderBuy, 0.98, 0.05))
	assert.Equal(t, 0.01, AggressivePrice(domain.OrderSell, 0.01, 0.5))
}

func TestRouter_ValidationRejects(t *testing.T) {
	exec := &fakeExecutor{}
	r, _ := liveRouter(exec, nil)

	for name, mutate := range map[string]func(*domain.OrderSpec){
		"zero price": func(o *domain.OrderSpec) { o.Price = 0 },
		"price one":  func(o *domain.OrderSpec) { o.Price = 1 },
		"zero size":  func(o *domain.OrderSpec) { o.Size = 0 },
		"no token":   func(o *domain.OrderSpec) { o.TokenID = "" },
	} {
		t.Run(name, func(t *testing.T) {
			spec := limitOrder()
			mutate(&spec)
			res := r.Submit(context.Background(), spec)
			assert.Equal(t, domain.OrderRejected, res.Status)
			assert.NotEmpty(t, res.Error)
		})
	}
	assert.Empty(t, exec.calls)
}

func TestRouter_CancelledContextStopsRetrying(t *testing.T) {
	exec := &fakeExecutor{failures: 5, err: errors.New("timeout")}
	r, _ := liveRouter(exec, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := r.Submit(ctx, limitOrder())
	assert.Equal(t, domain.OrderFailed, res.Status)
	assert.Equal(t, 1, res.Attempts)
	assert.Contains(t, res.Error, "context canceled")
}

func TestRouter_SlippageBreachRecorded(t *testing.T) {
	exec := &fakeExecutor{placed: domain.PlacedOrder{ExchangeOrderID: "x4", FilledSize: 50, FillPrice: 0.70}}
	metrics := newCountingMetrics()
	r, _ := liveRouter(exec, metrics)

	res := r.Submit(context.Background(), limitOrder())
	assert.Equal(t, domain.OrderFilled, res.Status)
	assert.Equal(t, 1, metrics.breaches)
}
