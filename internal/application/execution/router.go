package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/polytrader/internal/domain"
	"github.com/alejandrodnm/polytrader/internal/ports"
)

// Attempt outcomes reported to Metrics.
const (
	AttemptSuccess  = "success"
	AttemptError    = "error"
	AttemptRejected = "rejected"
)

// Metrics receives one call per submission attempt and one per final result.
type Metrics interface {
	ObserveAttempt(strategy domain.ExecutionStrategy, outcome string, d time.Duration)
	ObserveResult(status domain.OrderStatus)
	ObserveSlippageBreach(strategy domain.ExecutionStrategy)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) ObserveAttempt(domain.ExecutionStrategy, string, time.Duration) {}
func (NopMetrics) ObserveResult(domain.OrderStatus)                               {}
func (NopMetrics) ObserveSlippageBreach(domain.ExecutionStrategy)                 {}

// RouterConfig controls submission.
type RouterConfig struct {
	DryRun         bool
	MaxRetries     int           // total attempts
	RetryBackoff   time.Duration // sleep before attempt n+1 is backoff*2^(n-1)
	AttemptTimeout time.Duration
}

// DefaultRouterConfig returns the default submission policy.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		DryRun:         true,
		MaxRetries:     3,
		RetryBackoff:   time.Second,
		AttemptTimeout: 10 * time.Second,
	}
}

var errNoExecutor = errors.New("no executor configured")

// Router is the single entry point for order submission. Submit never
// returns an error: every outcome is an OrderResult.
type Router struct {
	cfg      RouterConfig
	executor ports.OrderExecutor // nil is allowed in dry-run
	metrics  Metrics
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewRouter creates a Router. metrics may be nil.
func NewRouter(cfg RouterConfig, executor ports.OrderExecutor, metrics Metrics) *Router {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Router{
		cfg:      cfg,
		executor: executor,
		metrics:  metrics,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// DryRun reports whether the router is globally in dry-run mode.
func (r *Router) DryRun() bool {
	return r.cfg.DryRun || r.executor == nil
}

// Submit routes one order. Dry-run orders are always simulated.
func (r *Router) Submit(ctx context.Context, spec domain.OrderSpec) domain.OrderResult {
	res := domain.OrderResult{OrderID: spec.ID, MarketID: spec.MarketID}

	if spec.DryRun || r.DryRun() {
		res.Status = domain.OrderSimulated
		res.FillPrice = spec.Price
		res.FillSize = spec.Size
		res.Timestamp = r.now()
		slog.Info("router: [DRY RUN] order simulated",
			"order", spec.ID,
			"market", spec.MarketID,
			"side", spec.Side,
			"strategy", spec.Strategy,
			"price", fmt.Sprintf("%.3f", spec.Price),
			"stake", fmt.Sprintf("$%.2f", spec.StakeUSD),
		)
		r.metrics.ObserveResult(res.Status)
		return res
	}

	// Only live orders are validated: a simulation always simulates.
	if err := validate(spec); err != nil {
		res.Status = domain.OrderRejected
		res.Error = err.Error()
		res.Timestamp = r.now()
		slog.Warn("router: order rejected", "order", spec.ID, "market", spec.MarketID, "err", err)
		r.metrics.ObserveResult(res.Status)
		return res
	}

	req := r.request(spec)
	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxRetries; attempt++ {
		res.Attempts = attempt
		placed, err := r.attempt(ctx, spec, req)
		if err == nil {
			r.fillResult(&res, spec, req, placed)
			r.metrics.ObserveResult(res.Status)
			return res
		}
		lastErr = err
		if errors.Is(err, domain.ErrOrderRejected) {
			res.Status = domain.OrderRejected
			break
		}
		slog.Warn("router: submission failed",
			"order", spec.ID, "attempt", attempt, "max", r.cfg.MaxRetries, "err", err)
		if attempt == r.cfg.MaxRetries {
			break
		}
		wait := r.cfg.RetryBackoff * time.Duration(1<<(attempt-1))
		if err := r.sleep(ctx, wait); err != nil {
			lastErr = fmt.Errorf("%w (after: %v)", err, lastErr)
			break
		}
	}

	if res.Status == "" {
		res.Status = domain.OrderFailed
	}
	res.Error = lastErr.Error()
	res.Timestamp = r.now()
	slog.Error("router: order not placed",
		"order", spec.ID, "market", spec.MarketID, "status", res.Status, "attempts", res.Attempts, "err", lastErr)
	r.metrics.ObserveResult(res.Status)
	return res
}

// Poll returns the exchange state of a resting order.
func (r *Router) Poll(ctx context.Context, exchangeOrderID string) (domain.ExchangeOrder, error) {
	if r.executor == nil {
		return domain.ExchangeOrder{}, errNoExecutor
	}
	ctx, cancel := r.attemptContext(ctx)
	defer cancel()
	o, err := r.executor.GetOrder(ctx, exchangeOrderID)
	if err != nil {
		return domain.ExchangeOrder{}, fmt.Errorf("execution.Poll %s: %w", exchangeOrderID, err)
	}
	return o, nil
}

// Cancel cancels a resting order.
func (r *Router) Cancel(ctx context.Context, exchangeOrderID string) error {
	if r.executor == nil {
		return errNoExecutor
	}
	ctx, cancel := r.attemptContext(ctx)
	defer cancel()
	if err := r.executor.CancelOrder(ctx, exchangeOrderID); err != nil {
		return fmt.Errorf("execution.Cancel %s: %w", exchangeOrderID, err)
	}
	slog.Info("router: order cancelled", "exchangeID", exchangeOrderID)
	return nil
}

func (r *Router) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.AttemptTimeout > 0 {
		return context.WithTimeout(ctx, r.cfg.AttemptTimeout)
	}
	return context.WithCancel(ctx)
}

func (r *Router) attempt(ctx context.Context, spec domain.OrderSpec, req domain.PlaceOrderRequest) (domain.PlacedOrder, error) {
	actx, cancel := r.attemptContext(ctx)
	defer cancel()
	start := r.now()
	placed, err := r.executor.PlaceOrder(actx, req)
	outcome := AttemptSuccess
	switch {
	case errors.Is(err, domain.ErrOrderRejected):
		outcome = AttemptRejected
	case err != nil:
		outcome = AttemptError
	}
	r.metrics.ObserveAttempt(spec.Strategy, outcome, r.now().Sub(start))
	return placed, err
}

func (r *Router) request(spec domain.OrderSpec) domain.PlaceOrderRequest {
	req := domain.PlaceOrderRequest{
		ClientOrderID: spec.ID,
		TokenID:       spec.TokenID,
		Side:          spec.Side,
		Price:         spec.Price,
		Size:          spec.Size,
		TimeInForce:   "GTC",
		NegRisk:       spec.NegRisk,
	}
	if spec.Type == domain.OrderMarket {
		req.Price = AggressivePrice(spec.Side, spec.Price, spec.SlippageTolerance)
		req.TimeInForce = "FOK"
	} else if spec.TTL > 0 {
		req.Expiration = r.now().Add(spec.TTL)
	}
	return req
}

func (r *Router) fillResult(res *domain.OrderResult, spec domain.OrderSpec, req domain.PlaceOrderRequest, placed domain.PlacedOrder) {
	res.ExchangeOrderID = placed.ExchangeOrderID
	res.Timestamp = r.now()
	res.Status = domain.OrderSubmitted
	if placed.FilledSize > 0 {
		res.Status = domain.OrderFilled
		res.FillSize = placed.FilledSize
		res.FillPrice = placed.FillPrice
		if res.FillPrice <= 0 {
			res.FillPrice = req.Price
		}
	}

	if res.FillPrice > 0 && slippageBreached(spec.Side, req.Price, res.FillPrice, spec.SlippageTolerance) {
		slog.Warn("router: fill outside slippage tolerance",
			"order", spec.ID,
			"limit", fmt.Sprintf("%.3f", req.Price),
			"fill", fmt.Sprintf("%.3f", res.FillPrice),
			"tolerance", spec.SlippageTolerance,
		)
		r.metrics.ObserveSlippageBreach(spec.Strategy)
	}

	slog.Info("router: order placed",
		"order", spec.ID,
		"exchangeID", placed.ExchangeOrderID,
		"status", res.Status,
		"attempts", res.Attempts,
		"price", fmt.Sprintf("%.3f", req.Price),
		"stake", fmt.Sprintf("$%.2f", spec.StakeUSD),
	)
}

// AggressivePrice crosses the spread by the slippage tolerance: BUY pays up
// to p*(1+tol) capped at 0.99, SELL accepts down to p*(1-tol) floored at 0.01.
func AggressivePrice(side domain.OrderSide, price, tol float64) float64 {
	return padPrice(side, price, tol)
}

func slippageBreached(side domain.OrderSide, limit, fill, tol float64) bool {
	if limit <= 0 {
		return false
	}
	if side == domain.OrderBuy {
		return fill > limit*(1+tol)
	}
	return fill < limit*(1-tol)
}

func validate(spec domain.OrderSpec) error {
	switch {
	case spec.TokenID == "":
		return errors.New("missing token id")
	case spec.Price <= 0 || spec.Price >= 1:
		return fmt.Errorf("price %.4f outside (0,1)", spec.Price)
	case spec.Size <= 0:
		return fmt.Errorf("size %.4f must be positive", spec.Size)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
