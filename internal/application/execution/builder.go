// Package execution turns position sizes into orders, routes them to the
// exchange and tracks how well they fill.
package execution

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

const (
	minPrice      = 0.01
	maxPrice      = 0.99
	priceDecimals = 3
	stakeDecimals = 2
	shareDecimals = 4
)

// BuilderConfig selects and shapes the execution strategy.
type BuilderConfig struct {
	SimpleMaxStake         float64 // USD; stakes up to this go as one order
	IcebergVisibleFraction float64
	TWAPDepthFraction      float64 // TWAP when stake > fraction of visible depth
	TWAPSlices             int
	TWAPInterval           time.Duration
	SlippageTolerance      float64
	OrderTTL               time.Duration
}

// DefaultBuilderConfig returns the default strategy thresholds.
func DefaultBuilderConfig() BuilderConfig {
	return BuilderConfig{
		SimpleMaxStake:         50,
		IcebergVisibleFraction: 0.20,
		TWAPDepthFraction:      0.50,
		TWAPSlices:             4,
		TWAPInterval:           2 * time.Minute,
		SlippageTolerance:      0.02,
		OrderTTL:               10 * time.Minute,
	}
}

// EntryRequest is the input of BuildEntry.
type EntryRequest struct {
	Market   domain.MarketSnapshot
	Size     domain.PositionSize
	DepthUSD float64 // visible ask depth of the held token; 0 = unknown
}

// Builder produces OrderSpecs. It never talks to the exchange.
type Builder struct {
	cfg   BuilderConfig
	newID func() string
}

// NewBuilder creates a Builder.
func NewBuilder(cfg BuilderConfig) *Builder {
	if cfg.TWAPSlices < 2 {
		cfg.TWAPSlices = 2
	}
	if cfg.IcebergVisibleFraction <= 0 || cfg.IcebergVisibleFraction >= 1 {
		cfg.IcebergVisibleFraction = 0.20
	}
	return &Builder{cfg: cfg, newID: func() string { return uuid.NewString() }}
}

// SelectStrategy picks the execution strategy for a stake.
func (b *Builder) SelectStrategy(stake, depthUSD float64) domain.ExecutionStrategy {
	if depthUSD > 0 && b.cfg.TWAPDepthFraction > 0 && stake > b.cfg.TWAPDepthFraction*depthUSD {
		return domain.StrategyTWAP
	}
	if stake <= b.cfg.SimpleMaxStake {
		return domain.StrategySimple
	}
	return domain.StrategyIceberg
}

// BuildEntry splits a position into BUY orders on the held token. All
// children share a parent id and their sizes and stakes sum to the parent.
func (b *Builder) BuildEntry(req EntryRequest) []domain.OrderSpec {
	if req.Size.IsZero() {
		return nil
	}
	token := req.Market.TokenFor(req.Size.Direction.Side())
	strategy := b.SelectStrategy(req.Size.StakeUSD, req.DepthUSD)
	limit := padPrice(domain.OrderBuy, req.Size.Price, b.cfg.SlippageTolerance)

	stake := decimal.NewFromFloat(req.Size.StakeUSD).Round(stakeDecimals)
	shares := stake.Div(decimal.NewFromFloat(limit)).Round(shareDecimals)

	base := domain.OrderSpec{
		ParentID:          b.newID(),
		MarketID:          req.Market.ID,
		TokenID:           token.TokenID,
		Side:              domain.OrderBuy,
		Type:              domain.OrderLimit,
		Price:             limit,
		TTL:               b.cfg.OrderTTL,
		SlippageTolerance: b.cfg.SlippageTolerance,
		Strategy:          strategy,
		NegRisk:           req.Market.NegRisk,
	}

	switch strategy {
	case domain.StrategyTWAP:
		return b.twap(base, req.Size.Price, stake, shares)
	case domain.StrategyIceberg:
		return b.iceberg(base, stake, shares)
	default:
		o := base
		o.ID = b.newID()
		o.ChildCount = 1
		o.StakeUSD = stake.InexactFloat64()
		o.Size = shares.InexactFloat64()
		return []domain.OrderSpec{o}
	}
}

func (b *Builder) iceberg(base domain.OrderSpec, stake, shares decimal.Decimal) []domain.OrderSpec {
	frac := decimal.NewFromFloat(b.cfg.IcebergVisibleFraction)
	visStake := stake.Mul(frac).Round(stakeDecimals)
	visShares := shares.Mul(frac).Round(shareDecimals)

	visible := base
	visible.ID = b.newID()
	visible.ChildIndex = 0
	visible.ChildCount = 2
	visible.StakeUSD = visStake.InexactFloat64()
	visible.Size = visShares.InexactFloat64()

	hidden := base
	hidden.ID = b.newID()
	hidden.ChildIndex = 1
	hidden.ChildCount = 2
	hidden.Hidden = true
	hidden.StakeUSD = stake.Sub(visStake).InexactFloat64()
	hidden.Size = shares.Sub(visShares).InexactFloat64()

	return []domain.OrderSpec{visible, hidden}
}

// twap splits into N equal slices. Slice i uses tolerance tol*(N-i)/N so
// later slices are priced more patiently.
func (b *Builder) twap(base domain.OrderSpec, price float64, stake, shares decimal.Decimal) []domain.OrderSpec {
	n := b.cfg.TWAPSlices
	dn := decimal.NewFromInt(int64(n))
	sliceStake := stake.Div(dn).RoundDown(stakeDecimals)
	sliceShares := shares.Div(dn).RoundDown(shareDecimals)

	out := make([]domain.OrderSpec, 0, n)
	usedStake, usedShares := decimal.Zero, decimal.Zero
	for i := range n {
		o := base
		o.ID = b.newID()
		o.ChildIndex = i
		o.ChildCount = n
		o.Delay = time.Duration(i) * b.cfg.TWAPInterval
		o.SlippageTolerance = b.cfg.SlippageTolerance * float64(n-i) / float64(n)
		o.Price = padPrice(domain.OrderBuy, price, o.SlippageTolerance)

		st, sh := sliceStake, sliceShares
		if i == n-1 {
			st, sh = stake.Sub(usedStake), shares.Sub(usedShares)
		}
		usedStake = usedStake.Add(st)
		usedShares = usedShares.Add(sh)
		o.StakeUSD = st.InexactFloat64()
		o.Size = sh.InexactFloat64()
		out = append(out, o)
	}
	return out
}

// BuildExit creates a SELL market order for ExitFraction of the position's
// shares. yesPrice is the latest YES price; the order is priced on the held
// token.
func (b *Builder) BuildExit(pos domain.Position, sig domain.ExitSignal, yesPrice float64) domain.OrderSpec {
	frac := sig.ExitFraction
	if frac <= 0 || frac > 1 {
		frac = 1
	}
	shares := decimal.NewFromFloat(pos.Shares)
	if frac < 1 {
		shares = shares.Mul(decimal.NewFromFloat(frac)).Round(shareDecimals)
	}
	price := roundPrice(domain.HeldPrice(pos.Side, yesPrice))

	tol := b.cfg.SlippageTolerance
	if sig.Urgency == domain.UrgencyImmediate {
		tol *= 2
	}

	return domain.OrderSpec{
		ID:                b.newID(),
		ParentID:          pos.ID,
		ChildCount:        1,
		MarketID:          pos.MarketID,
		TokenID:           pos.TokenID,
		Side:              domain.OrderSell,
		Type:              domain.OrderMarket,
		Price:             price,
		Size:              shares.InexactFloat64(),
		StakeUSD:          shares.Mul(decimal.NewFromFloat(price)).Round(stakeDecimals).InexactFloat64(),
		TTL:               b.cfg.OrderTTL,
		SlippageTolerance: tol,
		Strategy:          domain.StrategySimple,
		NegRisk:           pos.NegRisk,
	}
}

// padPrice applies slippage tolerance in the unfavourable direction.
func padPrice(side domain.OrderSide, price, tol float64) float64 {
	p := decimal.NewFromFloat(price)
	t := decimal.NewFromFloat(tol)
	if side == domain.OrderBuy {
		p = p.Mul(decimal.NewFromInt(1).Add(t))
	} else {
		p = p.Mul(decimal.NewFromInt(1).Sub(t))
	}
	return roundPrice(p.InexactFloat64())
}

func roundPrice(p float64) float64 {
	r := decimal.NewFromFloat(p).Round(priceDecimals).InexactFloat64()
	return domain.Clamp(r, minPrice, maxPrice)
}
