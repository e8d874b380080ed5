package domain

import (
	"strings"
	"time"
)

// MarketSnapshot representa un mercado binario tal como lo devuelve discovery.
// Es inmutable por fetch: los componentes del core nunca lo modifican.
type MarketSnapshot struct {
	ID               string // condition_id en Polymarket
	Question         string
	Slug             string
	Category         string // politics | sports | crypto | ...
	EventID          string // agrupa mercados del mismo evento
	MarketType       string // binary | scalar | ...
	Tokens           [2]Token
	Volume24h        float64 // USDC
	Liquidity        float64 // USDC disponible en el book
	Spread           float64 // best ask - best bid del token YES
	Volatility       float64 // volatilidad realizada (fracción), 0 = desconocida
	EndDate          time.Time
	ResolutionSource string
	NegRisk          bool
	Active           bool
	Closed           bool
	FetchedAt        time.Time
}

// Token es uno de los dos lados del mercado (YES/NO).
type Token struct {
	TokenID string
	Outcome string  // "Yes" | "No"
	Price   float64 // último precio del CLOB
}

// HoursToResolution devuelve las horas hasta que el mercado se resuelve.
// Devuelve 0 si EndDate no está definido o ya pasó.
func (m MarketSnapshot) HoursToResolution(now time.Time) float64 {
	if m.EndDate.IsZero() {
		return 0
	}
	h := m.EndDate.Sub(now).Hours()
	if h < 0 {
		return 0
	}
	return h
}

// YesToken devuelve el token YES del mercado.
func (m MarketSnapshot) YesToken() Token {
	for _, t := range m.Tokens {
		if strings.EqualFold(t.Outcome, "yes") {
			return t
		}
	}
	return m.Tokens[0]
}

// NoToken devuelve el token NO del mercado.
func (m MarketSnapshot) NoToken() Token {
	for _, t := range m.Tokens {
		if strings.EqualFold(t.Outcome, "no") {
			return t
		}
	}
	return m.Tokens[1]
}

// ImpliedProbability es el precio del token YES.
func (m MarketSnapshot) ImpliedProbability() float64 {
	return m.YesToken().Price
}

// HasPricedToken indica si al menos un outcome tiene precio válido.
func (m MarketSnapshot) HasPricedToken() bool {
	for _, t := range m.Tokens {
		if t.TokenID != "" && t.Price > 0 && t.Price < 1 {
			return true
		}
	}
	return false
}

// HasResolutionSource indica si el mercado declara una fuente de resolución.
func (m MarketSnapshot) HasResolutionSource() bool {
	return strings.TrimSpace(m.ResolutionSource) != ""
}

// TokenFor devuelve el token que corresponde al lado comprado.
func (m MarketSnapshot) TokenFor(side Side) Token {
	if side == SideNo {
		return m.NoToken()
	}
	return m.YesToken()
}

// TruncateQuestion devuelve la pregunta truncada a maxLen caracteres.
// Si la pregunta está vacía usa el ID como fallback.
func TruncateQuestion(question, id string, maxLen int) string {
	q := question
	if q == "" {
		if len(id) > 20 {
			q = id[:20] + "..."
		} else {
			q = id
		}
	}
	if len(q) > maxLen {
		q = q[:maxLen-3] + "..."
	}
	return q
}
