package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultFailureThreshold = 3
	defaultCooldown         = 30 * time.Second
)

// ErrEmptyPool is returned when a pool is built without endpoints.
var ErrEmptyPool = errors.New("ratelimit: pool has no endpoints")

// Endpoint is one member of a pool, in priority order.
type Endpoint struct {
	Name  string
	URL   string
	Limit Limit
}

// PoolConfig controls when a member is considered unhealthy.
type PoolConfig struct {
	FailureThreshold int           // consecutive failures before cooldown
	Cooldown         time.Duration // time an unhealthy member is skipped
}

// EndpointHealth is a read-only view of a member.
type EndpointHealth struct {
	Name                string
	Healthy             bool
	ConsecutiveFailures int
	UnhealthyUntil      time.Time
	LastError           string
}

type member struct {
	ep             Endpoint
	failures       int
	unhealthyUntil time.Time
	lastErr        string
}

// Pool distributes calls over several endpoints of the same service. It
// prefers the first healthy member and fails over down the list.
type Pool struct {
	name    string
	reg     *Registry
	cfg     PoolConfig
	now     func() time.Time
	mu      sync.Mutex
	members []*member
}

// NewPool registers each endpoint's limiter in reg under "<pool>/<endpoint>".
func NewPool(name string, reg *Registry, endpoints []Endpoint, cfg PoolConfig) (*Pool, error) {
	if len(endpoints) == 0 {
		return nil, ErrEmptyPool
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}

	p := &Pool{name: name, reg: reg, cfg: cfg, now: time.Now}
	for i, ep := range endpoints {
		if ep.Name == "" {
			ep.Name = fmt.Sprintf("%d", i)
		}
		reg.Register(p.key(ep.Name), ep.Limit)
		p.members = append(p.members, &member{ep: ep})
	}
	return p, nil
}

func (p *Pool) key(endpoint string) string {
	return p.name + "/" + endpoint
}

// Acquire picks an endpoint and waits for its rate limit. When every member
// is cooling down it returns the one that recovers first.
func (p *Pool) Acquire(ctx context.Context) (Endpoint, error) {
	ep := p.pick()
	if err := p.reg.Wait(ctx, p.key(ep.Name)); err != nil {
		return Endpoint{}, fmt.Errorf("ratelimit.Pool.Acquire %s: %w", p.name, err)
	}
	return ep, nil
}

func (p *Pool) pick() Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	var soonest *member
	for _, m := range p.members {
		if !now.Before(m.unhealthyUntil) {
			return m.ep
		}
		if soonest == nil || m.unhealthyUntil.Before(soonest.unhealthyUntil) {
			soonest = m
		}
	}
	slog.Warn("ratelimit: no healthy endpoint, using soonest to recover",
		"pool", p.name, "endpoint", soonest.ep.Name)
	return soonest.ep
}

// ReportSuccess resets the member's failure count.
func (p *Pool) ReportSuccess(endpoint string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if m := p.find(endpoint); m != nil {
		m.failures = 0
		m.unhealthyUntil = time.Time{}
		m.lastErr = ""
	}
}

// ReportFailure counts a failure; reaching the threshold starts a cooldown.
func (p *Pool) ReportFailure(endpoint string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m := p.find(endpoint)
	if m == nil {
		return
	}
	m.failures++
	if err != nil {
		m.lastErr = err.Error()
	}
	if m.failures >= p.cfg.FailureThreshold {
		m.unhealthyUntil = p.now().Add(p.cfg.Cooldown)
		slog.Warn("ratelimit: endpoint marked unhealthy",
			"pool", p.name,
			"endpoint", m.ep.Name,
			"failures", m.failures,
			"until", m.unhealthyUntil.Format("15:04:05"),
		)
	}
}

func (p *Pool) find(endpoint string) *member {
	for _, m := range p.members {
		if m.ep.Name == endpoint {
			return m
		}
	}
	return nil
}

// Health returns a snapshot of every member.
func (p *Pool) Health() []EndpointHealth {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	out := make([]EndpointHealth, len(p.members))
	for i, m := range p.members {
		out[i] = EndpointHealth{
			Name:                m.ep.Name,
			Healthy:             !now.Before(m.unhealthyUntil),
			ConsecutiveFailures: m.failures,
			UnhealthyUntil:      m.unhealthyUntil,
			LastError:           m.lastErr,
		}
	}
	return out
}
