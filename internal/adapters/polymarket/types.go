package polymarket

import "encoding/json"

// DTOs raw de la API de Polymarket. Solo se usan dentro de este paquete.
// La conversión a domain entities se hace en mapping.go.

// --- Gamma API ---

// gammaMarket es un mercado de GET /markets.
// Gamma devuelve números como strings JSON y las listas de outcomes como
// arrays JSON serializados dentro de un string.
type gammaMarket struct {
	ConditionID      string       `json:"conditionId"`
	Question         string       `json:"question"`
	Slug             string       `json:"slug"`
	Category         string       `json:"category"`
	EndDateISO       string       `json:"endDateIso"`
	EndDate          string       `json:"endDate"`
	Outcomes         string       `json:"outcomes"`      // "[\"Yes\",\"No\"]"
	OutcomePrices    string       `json:"outcomePrices"` // "[\"0.4\",\"0.6\"]"
	ClobTokenIDs     string       `json:"clobTokenIds"`  // "[\"123\",\"456\"]"
	Volume24h        json.Number  `json:"volume24hr"`
	Liquidity        json.Number  `json:"liquidityNum"`
	Spread           json.Number  `json:"spread"`
	OneDayChange     json.Number  `json:"oneDayPriceChange"`
	ResolutionSource string       `json:"resolutionSource"`
	NegRisk          bool         `json:"negRisk"`
	Active           bool         `json:"active"`
	Closed           bool         `json:"closed"`
	Events           []gammaEvent `json:"events"`
}

type gammaEvent struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
}

// --- CLOB API ---

// orderBookRequest es el body del POST /books batch.
type orderBookRequest struct {
	TokenID string `json:"token_id"`
}

// orderBookResponse es la respuesta de un item en POST /books.
type orderBookResponse struct {
	AssetID string         `json:"asset_id"`
	Bids    []bookEntryRaw `json:"bids"`
	Asks    []bookEntryRaw `json:"asks"`
}

// bookEntryRaw es un nivel de precio raw de la API (strings para mayor precisión).
type bookEntryRaw struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// --- Data API ---

// dataTrade es un trade público de GET /trades.
type dataTrade struct {
	ProxyWallet string      `json:"proxyWallet"`
	ConditionID string      `json:"conditionId"`
	Asset       string      `json:"asset"`
	Side        string      `json:"side"`    // BUY | SELL
	Outcome     string      `json:"outcome"` // Yes | No
	Price       json.Number `json:"price"`
	Size        json.Number `json:"size"`
	Timestamp   json.Number `json:"timestamp"`
}
