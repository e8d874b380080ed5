package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/alejandrodnm/polytrader/internal/ratelimit"
)

const (
	defaultCLOBBase  = "https://clob.polymarket.com"
	defaultGammaBase = "https://gamma-api.polymarket.com"
	defaultDataBase  = "https://data-api.polymarket.com"

	// Claves del registry de rate limits.
	endpointCLOB  = "clob"
	endpointBooks = "clob/books"
	endpointData  = "data"
	gammaPoolName = "gamma"

	// Rate limits al 60% de los límites reales documentados.
	// CLOB /books: 500/10s → 300/10s → 30/s
	booksRatePerSec = 30
	// Gamma /markets: 300/10s → 180/10s → 18/s
	gammaRatePerSec = 18
	// CLOB general: 9000/10s → 5400/10s → 540/s
	generalRatePerSec = 540
	// Data API: 200/10s → 120/10s → 12/s
	dataRatePerSec = 12

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// StatusError es una respuesta 4xx definitiva (no se reintenta).
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("client error %d: %s", e.Code, e.Body)
}

// IsClientError indica si err envuelve una respuesta 4xx.
func IsClientError(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}

// Config agrupa los endpoints del adapter. Los vacíos usan producción.
type Config struct {
	CLOBBase   string
	GammaBases []string // en orden de prioridad; failover entre ellos
	DataBase   string
	Timeout    time.Duration

	// Discovery
	PageSize     int // mercados por página de Gamma
	MaxPages     int
	MinVolume24h float64
}

// Client es el HTTP client de Polymarket con rate limiting y retries.
// Los limiters viven en el Registry inyectado; Gamma pasa por un Pool con
// failover entre réplicas.
type Client struct {
	http      *http.Client
	clobBase  string
	dataBase  string
	limits    *ratelimit.Registry
	gamma     *ratelimit.Pool
	retryWait time.Duration
	discovery Config
	now       func() time.Time
}

// NewClient registra los limits de cada endpoint en reg y crea el Client.
func NewClient(cfg Config, reg *ratelimit.Registry) (*Client, error) {
	if cfg.CLOBBase == "" {
		cfg.CLOBBase = defaultCLOBBase
	}
	if cfg.DataBase == "" {
		cfg.DataBase = defaultDataBase
	}
	if len(cfg.GammaBases) == 0 {
		cfg.GammaBases = []string{defaultGammaBase}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 5
	}

	reg.Register(endpointCLOB, ratelimit.Limit{RatePerSec: generalRatePerSec, Burst: 50})
	reg.Register(endpointBooks, ratelimit.Limit{RatePerSec: booksRatePerSec, Burst: 5})
	reg.Register(endpointData, ratelimit.Limit{RatePerSec: dataRatePerSec, Burst: 5})

	eps := make([]ratelimit.Endpoint, len(cfg.GammaBases))
	for i, u := range cfg.GammaBases {
		eps[i] = ratelimit.Endpoint{
			Name:  fmt.Sprintf("gamma-%d", i),
			URL:   u,
			Limit: ratelimit.Limit{RatePerSec: gammaRatePerSec, Burst: 10},
		}
	}
	pool, err := ratelimit.NewPool(gammaPoolName, reg, eps, ratelimit.PoolConfig{})
	if err != nil {
		return nil, fmt.Errorf("polymarket.NewClient: %w", err)
	}

	return &Client{
		http:      &http.Client{Timeout: cfg.Timeout},
		clobBase:  cfg.CLOBBase,
		dataBase:  cfg.DataBase,
		limits:    reg,
		gamma:     pool,
		retryWait: baseRetryWait,
		discovery: cfg,
		now:       time.Now,
	}, nil
}

// GammaHealth expone la salud de las réplicas de Gamma.
func (c *Client) GammaHealth() []ratelimit.EndpointHealth {
	return c.gamma.Health()
}

// get hace un GET con rate limiting y retries contra un endpoint fijo.
func (c *Client) get(ctx context.Context, endpoint, url string, out any) error {
	wait := func(ctx context.Context) error { return c.limits.Wait(ctx, endpoint) }
	return c.doWithRetry(ctx, wait, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return c.http.Do(req)
	}, out)
}

// post hace un POST JSON con rate limiting y retries.
func (c *Client) post(ctx context.Context, endpoint, url string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	wait := func(ctx context.Context) error { return c.limits.Wait(ctx, endpoint) }
	return c.doWithRetry(ctx, wait, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		return c.http.Do(req)
	}, out)
}

// getGamma hace un GET a Gamma eligiendo réplica del pool. Un fallo de red
// o un 5xx marca la réplica y reintenta en la siguiente sana.
func (c *Client) getGamma(ctx context.Context, pathAndQuery string, out any) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		ep, err := c.gamma.Acquire(ctx)
		if err != nil {
			return err
		}
		noWait := func(context.Context) error { return nil }
		err = c.doOnce(ctx, noWait, func() (*http.Response, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.URL+pathAndQuery, nil)
			if err != nil {
				return nil, err
			}
			req.Header.Set("Accept", "application/json")
			return c.http.Do(req)
		}, out)
		if err == nil {
			c.gamma.ReportSuccess(ep.Name)
			return nil
		}
		if IsClientError(err) {
			return err
		}
		c.gamma.ReportFailure(ep.Name, err)
		lastErr = err
		slog.Debug("gamma request failed", "endpoint", ep.Name, "attempt", attempt+1, "err", err)
		if attempt < maxRetries {
			c.sleep(ctx, attempt)
		}
	}
	return fmt.Errorf("gamma exhausted %d retries: %w", maxRetries, lastErr)
}

// errRetryable marca errores transitorios dentro de doOnce.
var errRetryable = errors.New("retryable")

// doWithRetry ejecuta la función con backoff exponencial.
func (c *Client) doWithRetry(ctx context.Context, wait func(context.Context) error, fn func() (*http.Response, error), out any) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := c.doOnce(ctx, wait, fn, out)
		if err == nil || !errors.Is(err, errRetryable) {
			return err
		}
		lastErr = err
		if attempt < maxRetries {
			c.sleep(ctx, attempt)
		}
	}
	return fmt.Errorf("request failed after %d retries: %w", maxRetries, lastErr)
}

// doOnce hace un único intento. 429, 5xx y errores de red son retryable;
// el resto de 4xx devuelve *StatusError.
func (c *Client) doOnce(ctx context.Context, wait func(context.Context) error, fn func() (*http.Response, error), out any) error {
	if err := wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	resp, err := fn()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", errRetryable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		slog.Warn("rate limited by API", "url", resp.Request.URL.Path)
		return fmt.Errorf("%w: status 429", errRetryable)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: server error %d", errRetryable, resp.StatusCode)
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// sleep espera con backoff exponencial, respetando el contexto.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * c.retryWait
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
