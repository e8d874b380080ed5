package polymarket

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

// resolvedEpsilon: un mercado cerrado con el YES a esta distancia de 0 o 1
// se considera resuelto.
const resolvedEpsilon = 0.01

// mapGammaMarket convierte un mercado de Gamma a snapshot. Devuelve false si
// no es binario o le faltan tokens.
func mapGammaMarket(gm gammaMarket, now time.Time) (domain.MarketSnapshot, bool) {
	outcomes := parseJSONList(gm.Outcomes)
	prices := parseJSONList(gm.OutcomePrices)
	tokenIDs := parseJSONList(gm.ClobTokenIDs)
	if len(outcomes) != 2 || len(tokenIDs) != 2 {
		return domain.MarketSnapshot{}, false
	}

	m := domain.MarketSnapshot{
		ID:               gm.ConditionID,
		Question:         gm.Question,
		Slug:             gm.Slug,
		Category:         strings.ToLower(strings.TrimSpace(gm.Category)),
		MarketType:       "binary",
		ResolutionSource: gm.ResolutionSource,
		NegRisk:          gm.NegRisk,
		Active:           gm.Active,
		Closed:           gm.Closed,
		EndDate:          parseEndDate(gm.EndDateISO, gm.EndDate),
		FetchedAt:        now,
	}
	if len(gm.Events) > 0 {
		m.EventID = gm.Events[0].ID
	}
	for i := range 2 {
		m.Tokens[i] = domain.Token{TokenID: tokenIDs[i], Outcome: outcomes[i]}
		if i < len(prices) {
			m.Tokens[i].Price, _ = strconv.ParseFloat(prices[i], 64)
		}
	}
	if v, err := gm.Volume24h.Float64(); err == nil {
		m.Volume24h = v
	}
	if v, err := gm.Liquidity.Float64(); err == nil {
		m.Liquidity = v
	}
	if v, err := gm.Spread.Float64(); err == nil {
		m.Spread = v
	}
	if v, err := gm.OneDayChange.Float64(); err == nil {
		m.Volatility = math.Abs(v)
	}
	return m, true
}

// mapPriceUpdate arma el update de precio para una posición abierta.
func mapPriceUpdate(m domain.MarketSnapshot, now time.Time) domain.PriceUpdate {
	yes := m.ImpliedProbability()
	u := domain.PriceUpdate{
		MarketID:          m.ID,
		YesPrice:          yes,
		HoursToResolution: m.HoursToResolution(now),
		At:                now,
	}
	if m.Closed {
		switch {
		case yes >= 1-resolvedEpsilon:
			one := 1.0
			u.ResolvedPrice = &one
		case yes <= resolvedEpsilon:
			zero := 0.0
			u.ResolvedPrice = &zero
		}
	}
	return u
}

// parseJSONList decodifica los arrays serializados como string de Gamma.
func parseJSONList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

// parseEndDate prueba los formatos que usa Polymarket.
func parseEndDate(values ...string) time.Time {
	for _, v := range values {
		if v == "" {
			continue
		}
		for _, layout := range []string{
			time.RFC3339,
			"2006-01-02T15:04:05.000Z",
			"2006-01-02T15:04:05Z",
			"2006-01-02",
		} {
			if t, err := time.Parse(layout, v); err == nil {
				return t.UTC()
			}
		}
	}
	return time.Time{}
}

// mapOrderBooks convierte la respuesta batch de /books a un map tokenID→OrderBook.
func mapOrderBooks(raw []orderBookResponse) map[string]domain.OrderBook {
	result := make(map[string]domain.OrderBook, len(raw))
	for _, r := range raw {
		result[r.AssetID] = domain.OrderBook{
			TokenID: r.AssetID,
			Bids:    mapBookEntries(r.Bids, false),
			Asks:    mapBookEntries(r.Asks, true),
		}
	}
	return result
}

// mapBookEntries convierte entries raw a domain.BookEntry y los ordena.
// ascending=true → menor a mayor (asks), ascending=false → mayor a menor (bids).
func mapBookEntries(raw []bookEntryRaw, ascending bool) []domain.BookEntry {
	entries := make([]domain.BookEntry, 0, len(raw))
	for _, r := range raw {
		price, _ := strconv.ParseFloat(r.Price, 64)
		size, _ := strconv.ParseFloat(r.Size, 64)
		if price <= 0 || size <= 0 {
			continue
		}
		entries = append(entries, domain.BookEntry{Price: price, Size: size})
	}

	sort.Slice(entries, func(i, j int) bool {
		if ascending {
			return entries[i].Price < entries[j].Price
		}
		return entries[i].Price > entries[j].Price
	})
	return entries
}

// parseTradeTimestamp acepta unix en segundos o milisegundos, o ISO.
func parseTradeTimestamp(n json.Number) time.Time {
	s := n.String()
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		if sec > 1e12 {
			return time.UnixMilli(sec).UTC()
		}
		return time.Unix(sec, 0).UTC()
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
