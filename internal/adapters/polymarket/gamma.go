package polymarket

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

const (
	gammaMarketsPath  = "/markets"
	gammaConditionMax = 20
)

// FetchCandidates pagina GET /markets de Gamma (activos, no cerrados, por
// volumen) y devuelve los mercados binarios con al menos un token con precio.
func (c *Client) FetchCandidates(ctx context.Context) ([]domain.MarketSnapshot, error) {
	cfg := c.discovery
	now := c.now()
	var out []domain.MarketSnapshot
	skipped := 0

	for page := range cfg.MaxPages {
		q := url.Values{}
		q.Set("active", "true")
		q.Set("closed", "false")
		q.Set("order", "volume24hr")
		q.Set("ascending", "false")
		q.Set("limit", strconv.Itoa(cfg.PageSize))
		q.Set("offset", strconv.Itoa(page*cfg.PageSize))

		var resp []gammaMarket
		if err := c.getGamma(ctx, gammaMarketsPath+"?"+q.Encode(), &resp); err != nil {
			return nil, fmt.Errorf("gamma.FetchCandidates: page %d: %w", page, err)
		}

		for _, gm := range resp {
			m, ok := mapGammaMarket(gm, now)
			if !ok || !m.HasPricedToken() || m.Volume24h < cfg.MinVolume24h {
				skipped++
				continue
			}
			out = append(out, m)
		}

		slog.Debug("fetched gamma markets page",
			"page", page,
			"count", len(resp),
			"total", len(out),
		)
		if len(resp) < cfg.PageSize {
			break
		}
	}

	slog.Info("gamma: candidates fetched", "total", len(out), "skipped", skipped)
	return out, nil
}

// FetchPrices consulta Gamma por condition_id en batches y devuelve un
// update por mercado encontrado. Un batch fallido se salta: esos mercados
// no se evalúan este ciclo.
func (c *Client) FetchPrices(ctx context.Context, marketIDs []string) (map[string]domain.PriceUpdate, error) {
	result := make(map[string]domain.PriceUpdate, len(marketIDs))
	if len(marketIDs) == 0 {
		return result, nil
	}
	now := c.now()

	var failed int
	var lastErr error
	batches := splitBatches(marketIDs, gammaConditionMax)
	for i, batch := range batches {
		q := url.Values{}
		q.Set("condition_ids", strings.Join(batch, ","))
		q.Set("limit", strconv.Itoa(len(batch)))

		var resp []gammaMarket
		if err := c.getGamma(ctx, gammaMarketsPath+"?"+q.Encode(), &resp); err != nil {
			failed++
			lastErr = err
			slog.Warn("gamma price batch failed, skipping", "batch", i, "markets", len(batch), "err", err)
			continue
		}
		for _, gm := range resp {
			m, ok := mapGammaMarket(gm, now)
			if !ok {
				continue
			}
			result[m.ID] = mapPriceUpdate(m, now)
		}
	}

	if failed == len(batches) {
		return nil, fmt.Errorf("gamma.FetchPrices: all %d batches failed: %w", failed, lastErr)
	}
	return result, nil
}
