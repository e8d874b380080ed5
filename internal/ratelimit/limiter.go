// Package ratelimit provides the per-endpoint token buckets shared by every
// outbound call, and a multi-endpoint pool with health-based failover.
//
// The registry is the only structure in the trading core touched by more than
// one goroutine, so it is the only one guarded by a mutex.
package ratelimit

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/time/rate"
)

// Limit configures a token bucket.
type Limit struct {
	RatePerSec float64
	Burst      int
}

func (l Limit) limiter() *rate.Limiter {
	burst := l.Burst
	if burst <= 0 {
		burst = 1
	}
	if l.RatePerSec <= 0 {
		return rate.NewLimiter(rate.Inf, burst)
	}
	return rate.NewLimiter(rate.Limit(l.RatePerSec), burst)
}

// Registry holds one limiter per endpoint. It is constructed explicitly and
// injected; there is no package-level instance.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	fallback Limit
}

// NewRegistry creates a registry. Endpoints never registered get fallback.
func NewRegistry(fallback Limit) *Registry {
	return &Registry{
		limiters: make(map[string]*rate.Limiter),
		fallback: fallback,
	}
}

// Register sets (or replaces) the limit for an endpoint.
func (r *Registry) Register(endpoint string, l Limit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiters[endpoint] = l.limiter()
}

// Limiter returns the endpoint's limiter, creating it with the fallback limit.
func (r *Registry) Limiter(endpoint string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	lim, ok := r.limiters[endpoint]
	if !ok {
		lim = r.fallback.limiter()
		r.limiters[endpoint] = lim
	}
	return lim
}

// Wait blocks until the endpoint has a token or ctx is done.
func (r *Registry) Wait(ctx context.Context, endpoint string) error {
	if err := r.Limiter(endpoint).Wait(ctx); err != nil {
		return fmt.Errorf("ratelimit.Wait %s: %w", endpoint, err)
	}
	return nil
}

// Allow consumes a token if one is available right now.
func (r *Registry) Allow(endpoint string) bool {
	return r.Limiter(endpoint).Allow()
}

// Endpoints lists registered endpoints, sorted.
func (r *Registry) Endpoints() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.limiters))
	for k := range r.limiters {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
