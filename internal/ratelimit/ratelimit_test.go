package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_OneLimiterPerEndpoint(t *testing.T) {
	reg := NewRegistry(Limit{RatePerSec: 1, Burst: 1})

	a := reg.Limiter("clob")
	b := reg.Limiter("clob")
	assert.Same(t, a, b)

	assert.True(t, reg.Allow("gamma"))
	assert.False(t, reg.Allow("gamma"), "burst of 1 must be exhausted")
	assert.Equal(t, []string{"clob", "gamma"}, reg.Endpoints())
}

func TestRegistry_RegisterOverridesFallback(t *testing.T) {
	reg := NewRegistry(Limit{RatePerSec: 1, Burst: 1})
	reg.Register("books", Limit{RatePerSec: 100, Burst: 5})

	for i := 0; i < 5; i++ {
		assert.True(t, reg.Allow("books"))
	}
}

func TestRegistry_WaitRespectsContext(t *testing.T) {
	reg := NewRegistry(Limit{RatePerSec: 0.001, Burst: 1})
	require.True(t, reg.Allow("slow"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, reg.Wait(ctx, "slow"))
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry(Limit{})
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = reg.Wait(context.Background(), "shared")
		}()
	}
	wg.Wait()
	assert.Equal(t, []string{"shared"}, reg.Endpoints())
}

func newTestPool(t *testing.T, now *time.Time) *Pool {
	t.Helper()
	p, err := NewPool("clob", NewRegistry(Limit{}), []Endpoint{
		{Name: "primary", URL: "https://a"},
		{Name: "backup", URL: "https://b"},
	}, PoolConfig{FailureThreshold: 2, Cooldown: time.Minute})
	require.NoError(t, err)
	p.now = func() time.Time { return *now }
	return p
}

func TestPool_FailoverAfterThreshold(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := newTestPool(t, &now)
	ctx := context.Background()

	ep, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, "primary", ep.Name)

	p.ReportFailure("primary", errors.New("timeout"))
	ep, _ = p.Acquire(ctx)
	assert.Equal(t, "primary", ep.Name, "one failure stays under threshold")

	p.ReportFailure("primary", errors.New("timeout"))
	ep, _ = p.Acquire(ctx)
	assert.Equal(t, "backup", ep.Name)

	health := p.Health()
	assert.False(t, health[0].Healthy)
	assert.Equal(t, "timeout", health[0].LastError)

	// cooldown expires
	now = now.Add(2 * time.Minute)
	ep, _ = p.Acquire(ctx)
	assert.Equal(t, "primary", ep.Name)
}

func TestPool_SuccessResetsFailures(t *testing.T) {
	now := time.Now()
	p := newTestPool(t, &now)

	p.ReportFailure("primary", nil)
	p.ReportSuccess("primary")
	p.ReportFailure("primary", nil)

	ep, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "primary", ep.Name)
}

func TestPool_AllUnhealthyPicksSoonestRecovery(t *testing.T) {
	now := time.Now()
	p := newTestPool(t, &now)

	p.ReportFailure("backup", nil)
	p.ReportFailure("backup", nil)
	now = now.Add(10 * time.Second)
	p.ReportFailure("primary", nil)
	p.ReportFailure("primary", nil)

	ep, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "backup", ep.Name)
}

func TestNewPool_Empty(t *testing.T) {
	_, err := NewPool("x", NewRegistry(Limit{}), nil, PoolConfig{})
	assert.ErrorIs(t, err, ErrEmptyPool)
}
