package polymarket

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

const (
	tradesPath    = "/trades"
	tradesPerPage = 500
)

// ConvictionConfig define qué cuenta como trade de ballena.
type ConvictionConfig struct {
	MinTradeUSD float64       // notional mínimo de un trade
	MinTotalUSD float64       // flujo mínimo para emitir señal
	Lookback    time.Duration // ventana de trades considerada
	MinWallets  int
	MaxStrength float64 // techo de la fuerza, (0,1]
}

// DefaultConvictionConfig devuelve los umbrales por defecto.
func DefaultConvictionConfig() ConvictionConfig {
	return ConvictionConfig{
		MinTradeUSD: 1000,
		MinTotalUSD: 5000,
		Lookback:    24 * time.Hour,
		MinWallets:  2,
		MaxStrength: 1,
	}
}

// Conviction agrega los trades grandes recientes de la Data API en una
// señal de dirección. Implementa ports.ConvictionProvider.
type Conviction struct {
	c   *Client
	cfg ConvictionConfig
}

// NewConviction crea el provider sobre un Client existente.
func NewConviction(c *Client, cfg ConvictionConfig) *Conviction {
	if cfg.MaxStrength <= 0 || cfg.MaxStrength > 1 {
		cfg.MaxStrength = 1
	}
	return &Conviction{c: c, cfg: cfg}
}

// Conviction devuelve ok=false si el flujo de ballenas no supera los mínimos.
func (w *Conviction) Conviction(ctx context.Context, marketID string) (domain.ConvictionSignal, bool, error) {
	q := url.Values{}
	q.Set("market", marketID)
	q.Set("limit", strconv.Itoa(tradesPerPage))
	q.Set("filterType", "CASH")
	q.Set("filterAmount", strconv.FormatFloat(w.cfg.MinTradeUSD, 'f', 0, 64))

	var trades []dataTrade
	if err := w.c.get(ctx, endpointData, w.c.dataBase+tradesPath+"?"+q.Encode(), &trades); err != nil {
		return domain.ConvictionSignal{}, false, fmt.Errorf("data-api.Conviction %s: %w", marketID, err)
	}

	sig, ok := aggregateConviction(marketID, trades, w.cfg, w.c.now())
	if ok {
		slog.Debug("conviction signal",
			"market", marketID,
			"direction", sig.Direction,
			"strength", fmt.Sprintf("%.2f", sig.Strength),
			"wallets", sig.Wallets,
		)
	}
	return sig, ok, nil
}

// aggregateConviction suma el notional por lado. Comprar YES o vender NO
// cuenta a favor de YES; lo contrario, a favor de NO.
func aggregateConviction(marketID string, trades []dataTrade, cfg ConvictionConfig, now time.Time) (domain.ConvictionSignal, bool) {
	var yesUSD, noUSD float64
	wallets := make(map[string]struct{})
	cutoff := now.Add(-cfg.Lookback)

	for _, t := range trades {
		if cfg.Lookback > 0 && parseTradeTimestamp(t.Timestamp).Before(cutoff) {
			continue
		}
		price, _ := t.Price.Float64()
		size, _ := t.Size.Float64()
		notional := price * size
		if notional < cfg.MinTradeUSD {
			continue
		}

		buy := strings.EqualFold(t.Side, "BUY")
		yes := strings.EqualFold(t.Outcome, "yes")
		if buy == yes {
			yesUSD += notional
		} else {
			noUSD += notional
		}
		if t.ProxyWallet != "" {
			wallets[strings.ToLower(t.ProxyWallet)] = struct{}{}
		}
	}

	total := yesUSD + noUSD
	if total < cfg.MinTotalUSD || len(wallets) < cfg.MinWallets {
		return domain.ConvictionSignal{}, false
	}

	dir := domain.SideYes
	if noUSD > yesUSD {
		dir = domain.SideNo
	}
	return domain.ConvictionSignal{
		MarketID:  marketID,
		Direction: dir,
		Strength:  math.Min(math.Abs(yesUSD-noUSD)/total, cfg.MaxStrength),
		Wallets:   len(wallets),
	}, true
}
