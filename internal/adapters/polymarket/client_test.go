package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polytrader/internal/ratelimit"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	c, err := NewClient(cfg, ratelimit.NewRegistry(ratelimit.Limit{}))
	require.NoError(t, err)
	c.retryWait = time.Millisecond
	c.now = func() time.Time { return fixedNow }
	return c
}

const gammaMarketsJSON = `[
  {
    "conditionId": "0xaaa",
    "question": "Will it rain in Madrid?",
    "slug": "rain-madrid",
    "category": " Weather ",
    "endDateIso": "2026-03-11",
    "outcomes": "[\"Yes\",\"No\"]",
    "outcomePrices": "[\"0.40\",\"0.60\"]",
    "clobTokenIds": "[\"tok_yes\",\"tok_no\"]",
    "volume24hr": 25000,
    "liquidityNum": 8000,
    "spread": 0.02,
    "oneDayPriceChange": -0.05,
    "resolutionSource": "aemet.es",
    "active": true,
    "closed": false,
    "events": [{"id": "ev1", "slug": "madrid-weather"}]
  },
  {
    "conditionId": "0xbbb",
    "question": "Three way market",
    "outcomes": "[\"A\",\"B\",\"C\"]",
    "outcomePrices": "[\"0.3\",\"0.3\",\"0.4\"]",
    "clobTokenIds": "[\"a\",\"b\",\"c\"]",
    "volume24hr": 99999,
    "active": true
  },
  {
    "conditionId": "0xccc",
    "question": "Thin market",
    "outcomes": "[\"Yes\",\"No\"]",
    "outcomePrices": "[\"0.5\",\"0.5\"]",
    "clobTokenIds": "[\"t1\",\"t2\"]",
    "volume24hr": 10,
    "active": true
  }
]`

func TestFetchCandidates_MapsAndFilters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/markets", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("active"))
		assert.Equal(t, "false", r.URL.Query().Get("closed"))
		assert.Equal(t, "volume24hr", r.URL.Query().Get("order"))
		w.Write([]byte(gammaMarketsJSON))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{GammaBases: []string{srv.URL}, MinVolume24h: 1000})
	markets, err := c.FetchCandidates(context.Background())
	require.NoError(t, err)
	require.Len(t, markets, 1)

	m := markets[0]
	assert.Equal(t, "0xaaa", m.ID)
	assert.Equal(t, "weather", m.Category)
	assert.Equal(t, "binary", m.MarketType)
	assert.Equal(t, "ev1", m.EventID)
	assert.Equal(t, "tok_yes", m.YesToken().TokenID)
	assert.InDelta(t, 0.40, m.ImpliedProbability(), 1e-9)
	assert.InDelta(t, 25000, m.Volume24h, 1e-9)
	assert.InDelta(t, 8000, m.Liquidity, 1e-9)
	assert.InDelta(t, 0.05, m.Volatility, 1e-9)
	assert.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), m.EndDate)
	assert.InDelta(t, 228, m.HoursToResolution(fixedNow), 1e-9)
}

func TestFetchCandidates_Paginates(t *testing.T) {
	var offsets []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offsets = append(offsets, r.URL.Query().Get("offset"))
		if r.URL.Query().Get("offset") == "0" {
			// página llena → se pide la siguiente
			w.Write([]byte(`[{"conditionId":"x"},{"conditionId":"y"}]`))
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{GammaBases: []string{srv.URL}, PageSize: 2, MaxPages: 5})
	_, err := c.FetchCandidates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "2"}, offsets)
}

func TestFetchPrices_ResolvesClosedMarkets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "0xopen,0xdone", r.URL.Query().Get("condition_ids"))
		w.Write([]byte(`[
		  {"conditionId":"0xopen","outcomes":"[\"Yes\",\"No\"]","outcomePrices":"[\"0.55\",\"0.45\"]","clobTokenIds":"[\"a\",\"b\"]","active":true},
		  {"conditionId":"0xdone","outcomes":"[\"Yes\",\"No\"]","outcomePrices":"[\"0.001\",\"0.999\"]","clobTokenIds":"[\"c\",\"d\"]","closed":true}
		]`))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{GammaBases: []string{srv.URL}})
	updates, err := c.FetchPrices(context.Background(), []string{"0xopen", "0xdone"})
	require.NoError(t, err)
	require.Len(t, updates, 2)

	assert.InDelta(t, 0.55, updates["0xopen"].YesPrice, 1e-9)
	assert.Nil(t, updates["0xopen"].ResolvedPrice)

	require.NotNil(t, updates["0xdone"].ResolvedPrice)
	assert.Equal(t, 0.0, *updates["0xdone"].ResolvedPrice)
}

func TestFetchPrices_AllBatchesFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(t, Config{GammaBases: []string{srv.URL}})
	_, err := c.FetchPrices(context.Background(), []string{"0x1"})
	require.Error(t, err)
	assert.True(t, IsClientError(err))
}

func TestFetchPrices_Empty(t *testing.T) {
	c := newTestClient(t, Config{GammaBases: []string{"http://unused.invalid"}})
	updates, err := c.FetchPrices(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, updates)
}

func TestGamma_FailsOverToHealthyReplica(t *testing.T) {
	var primaryHits atomic.Int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primaryHits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer primary.Close()
	secondary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer secondary.Close()

	c := newTestClient(t, Config{GammaBases: []string{primary.URL, secondary.URL}, MaxPages: 1})
	_, err := c.FetchCandidates(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(3), primaryHits.Load())
	health := c.GammaHealth()
	require.Len(t, health, 2)
	assert.False(t, health[0].Healthy)
	assert.True(t, health[1].Healthy)
}

func TestDoWithRetry_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`[{"asset_id":"tok","bids":[],"asks":[]}]`))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{CLOBBase: srv.URL})
	_, err := c.FetchOrderBook(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())
}

func TestDoWithRetry_ClientErrorIsFinal(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`not found`))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{CLOBBase: srv.URL})
	_, err := c.FetchOrderBook(context.Background(), "tok")
	require.Error(t, err)
	assert.True(t, IsClientError(err))
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchOrderBook_SortsLevels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/books", r.URL.Path)
		w.Write([]byte(`[{
		  "asset_id": "tok",
		  "bids": [{"price":"0.40","size":"100"},{"price":"0.42","size":"50"},{"price":"0.41","size":"0"}],
		  "asks": [{"price":"0.47","size":"80"},{"price":"0.45","size":"20"}]
		}]`))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{CLOBBase: srv.URL})
	book, err := c.FetchOrderBook(context.Background(), "tok")
	require.NoError(t, err)

	require.Len(t, book.Bids, 2)
	assert.InDelta(t, 0.42, book.Bids[0].Price, 1e-9)
	require.Len(t, book.Asks, 2)
	assert.InDelta(t, 0.45, book.Asks[0].Price, 1e-9)
}

func TestFetchOrderBook_Missing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{CLOBBase: srv.URL})
	_, err := c.FetchOrderBook(context.Background(), "tok")
	require.Error(t, err)
}

func TestFetchOrderBooks_SplitsBatches(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		var body []orderBookRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.LessOrEqual(t, len(body), batchSize)
		resp := make([]orderBookResponse, len(body))
		for i, b := range body {
			resp[i] = orderBookResponse{AssetID: b.TokenID}
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	ids := make([]string, 45)
	for i := range ids {
		ids[i] = fmt.Sprintf("tok%02d", i)
	}

	c := newTestClient(t, Config{CLOBBase: srv.URL})
	books, err := c.FetchOrderBooks(context.Background(), ids)
	require.NoError(t, err)
	assert.Len(t, books, 45)
	assert.Equal(t, int32(3), requests.Load())
}

func TestSplitBatches(t *testing.T) {
	assert.Empty(t, splitBatches(nil, 20))
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}}, splitBatches([]string{"a", "b", "c"}, 2))
}

func TestParseEndDate(t *testing.T) {
	want := time.Date(2026, 5, 1, 18, 30, 0, 0, time.UTC)
	assert.Equal(t, want, parseEndDate("", "2026-05-01T18:30:00Z"))
	assert.Equal(t, want, parseEndDate("2026-05-01T18:30:00.000Z"))
	assert.True(t, parseEndDate("garbage").IsZero())
}

func TestParseTradeTimestamp(t *testing.T) {
	want := time.Unix(1767225600, 0).UTC()
	assert.Equal(t, want, parseTradeTimestamp(json.Number("1767225600")))
	assert.Equal(t, want, parseTradeTimestamp(json.Number("1767225600000")))
	assert.True(t, parseTradeTimestamp(json.Number("")).IsZero())
}
