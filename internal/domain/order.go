package domain

import (
	"errors"
	"time"
)

// ErrOrderRejected is returned (wrapped) by executors when the exchange refuses
// an order and retrying would not help.
var ErrOrderRejected = errors.New("order rejected")

// OrderSide is BUY or SELL on the held token.
type OrderSide string

const (
	OrderBuy  OrderSide = "BUY"
	OrderSell OrderSide = "SELL"
)

// OrderType is the pricing mode of an order.
type OrderType string

const (
	OrderLimit  OrderType = "limit"
	OrderMarket OrderType = "market"
)

// ExecutionStrategy selects how a position is split into orders.
type ExecutionStrategy string

const (
	StrategySimple  ExecutionStrategy = "simple"
	StrategyIceberg ExecutionStrategy = "iceberg"
	StrategyTWAP    ExecutionStrategy = "twap"
)

// OrderSpec is one order to submit. Split strategies produce several specs
// linked by ParentID whose sizes and stakes sum to the parent position.
type OrderSpec struct {
	ID                string
	ParentID          string
	ChildIndex        int
	ChildCount        int
	MarketID          string
	TokenID           string
	Side              OrderSide
	Type              OrderType
	Price             float64
	Size              float64 // shares
	StakeUSD          float64
	TTL               time.Duration
	Delay             time.Duration // offset from the first child for TWAP slices
	Hidden            bool          // iceberg remainder
	SlippageTolerance float64
	DryRun            bool
	Strategy          ExecutionStrategy
	NegRisk           bool
}

// OrderStatus is the terminal state of a submission sequence.
type OrderStatus string

const (
	OrderSimulated OrderStatus = "simulated"
	OrderSubmitted OrderStatus = "submitted"
	OrderFilled    OrderStatus = "filled"
	OrderFailed    OrderStatus = "failed"
	OrderRejected  OrderStatus = "rejected"
)

// OrderResult is one per OrderSpec. Retries share the order ID.
type OrderResult struct {
	OrderID         string
	ExchangeOrderID string
	MarketID        string
	Status          OrderStatus
	FillPrice       float64
	FillSize        float64
	Attempts        int
	Error           string
	Timestamp       time.Time
}

// HasFill reports whether the result carries shares, real or simulated.
func (r OrderResult) HasFill() bool {
	return (r.Status == OrderFilled || r.Status == OrderSimulated) && r.FillSize > 0
}

// PlaceOrderRequest is what the router hands to an executor.
type PlaceOrderRequest struct {
	ClientOrderID string
	TokenID       string
	Side          OrderSide
	Price         float64
	Size          float64 // shares
	TimeInForce   string  // GTC | FOK
	Expiration    time.Time
	NegRisk       bool
}

// PlacedOrder is the executor's acknowledgement.
type PlacedOrder struct {
	ExchangeOrderID string
	Status          string
	FilledSize      float64 // shares
	FillPrice       float64
}

// FillRecord is appended once per terminal order outcome.
type FillRecord struct {
	OrderID       string
	MarketID      string
	Strategy      ExecutionStrategy
	ExpectedPrice float64
	FillPrice     float64
	OrderedSize   float64
	FilledSize    float64
	Slippage      float64
	SlippageBps   float64
	Partial       bool
	Unfilled      bool
	TimeToFill    time.Duration
	RecordedAt    time.Time
}

// StrategyQuality aggregates fills for one execution strategy.
type StrategyQuality struct {
	Orders         int
	Filled         int
	Partial        int
	Unfilled       int
	FillRate       float64
	AvgSlippageBps float64
}

// ExecutionQuality is the trailing-window summary returned by the fill tracker.
type ExecutionQuality struct {
	Lookback       time.Duration
	Orders         int
	Filled         int
	Partial        int
	Unfilled       int
	FillRate       float64
	AvgSlippageBps float64
	AvgTimeToFill  time.Duration
	ByStrategy     map[ExecutionStrategy]StrategyQuality
}

// TradeRecord is one row per submitted order, simulated or live.
type TradeRecord struct {
	OrderID         string
	ParentID        string
	CycleID         string
	MarketID        string
	TokenID         string
	Side            OrderSide
	Strategy        ExecutionStrategy
	Price           float64
	Size            float64
	StakeUSD        float64
	Status          OrderStatus
	ExchangeOrderID string
	FillPrice       float64
	FillSize        float64
	Attempts        int
	Error           string
	CreatedAt       time.Time
}

// NewTradeRecord joins an order with its result.
func NewTradeRecord(cycleID string, spec OrderSpec, res OrderResult) TradeRecord {
	return TradeRecord{
		OrderID:         spec.ID,
		ParentID:        spec.ParentID,
		CycleID:         cycleID,
		MarketID:        spec.MarketID,
		TokenID:         spec.TokenID,
		Side:            spec.Side,
		Strategy:        spec.Strategy,
		Price:           spec.Price,
		Size:            spec.Size,
		StakeUSD:        spec.StakeUSD,
		Status:          res.Status,
		ExchangeOrderID: res.ExchangeOrderID,
		FillPrice:       res.FillPrice,
		FillSize:        res.FillSize,
		Attempts:        res.Attempts,
		Error:           res.Error,
		CreatedAt:       res.Timestamp,
	}
}

// ExchangeOrderState is the exchange-side state of a resting order.
type ExchangeOrderState string

const (
	ExchangeOrderLive      ExchangeOrderState = "live"
	ExchangeOrderMatched   ExchangeOrderState = "matched"
	ExchangeOrderCancelled ExchangeOrderState = "cancelled"
)

// ExchangeOrder is the exchange's view of an order placed earlier.
// MatchedSize is cumulative, in shares.
type ExchangeOrder struct {
	ExchangeOrderID string
	State           ExchangeOrderState
	OriginalSize    float64
	MatchedSize     float64
	Price           float64
}

// Done reports whether the order can no longer fill.
func (o ExchangeOrder) Done() bool {
	return o.State != ExchangeOrderLive
}
