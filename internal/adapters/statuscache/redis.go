// Package statuscache publishes the scheduler status snapshot to Redis so
// dashboards and other processes can read it without touching the store.
package statuscache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alejandrodnm/polytrader/internal/domain"
	"github.com/alejandrodnm/polytrader/internal/ports"
)

const (
	DefaultKey     = "polytrader:status"
	DefaultChannel = "polytrader:status:updates"
	DefaultTTL     = time.Hour
)

var _ ports.StatusPublisher = (*RedisPublisher)(nil)

// Snapshot is the JSON document stored under the status key.
type Snapshot struct {
	Running             bool      `json:"running"`
	DryRun              bool      `json:"dry_run"`
	CycleCount          int       `json:"cycle_count"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	OpenPositions       int       `json:"open_positions"`
	Bankroll            float64   `json:"bankroll"`
	Equity              float64   `json:"equity"`
	PeakEquity          float64   `json:"peak_equity"`
	DrawdownPct         float64   `json:"drawdown_pct"`
	HeatLevel           int       `json:"heat_level"`
	Killed              bool      `json:"killed"`
	KilledReason        string    `json:"killed_reason,omitempty"`
	LastCycleID         string    `json:"last_cycle_id,omitempty"`
	LastCycleStatus     string    `json:"last_cycle_status,omitempty"`
	LastCycleAt         time.Time `json:"last_cycle_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// NewSnapshot flattens a SchedulerStatus.
func NewSnapshot(s domain.SchedulerStatus) Snapshot {
	snap := Snapshot{
		Running:             s.Running,
		DryRun:              s.DryRun,
		CycleCount:          s.CycleCount,
		ConsecutiveFailures: s.ConsecutiveFailures,
		OpenPositions:       s.OpenPositions,
		Bankroll:            s.Bankroll,
		Equity:              s.Equity,
		PeakEquity:          s.Drawdown.PeakEquity,
		DrawdownPct:         s.Drawdown.DrawdownPct,
		HeatLevel:           s.Drawdown.HeatLevel,
		Killed:              s.Drawdown.IsKilled,
		KilledReason:        s.Drawdown.KilledReason,
		UpdatedAt:           s.UpdatedAt.UTC(),
	}
	if c := s.LastCycle; c != nil {
		snap.LastCycleID = c.ID
		snap.LastCycleStatus = string(c.Status)
		snap.LastCycleAt = c.StartedAt.UTC()
	}
	return snap
}

// Options configures the publisher. Zero values take the defaults.
type Options struct {
	Key     string
	Channel string
	TTL     time.Duration
}

// RedisPublisher writes the latest snapshot under Key and announces it on
// Channel.
type RedisPublisher struct {
	client *redis.Client
	opts   Options
}

// NewRedisPublisher creates a publisher for the given Redis address.
func NewRedisPublisher(addr, password string, db int, opts Options) *RedisPublisher {
	return NewRedisPublisherClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}), opts)
}

// NewRedisPublisherClient wraps an existing client.
func NewRedisPublisherClient(client *redis.Client, opts Options) *RedisPublisher {
	if opts.Key == "" {
		opts.Key = DefaultKey
	}
	if opts.Channel == "" {
		opts.Channel = DefaultChannel
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	return &RedisPublisher{client: client, opts: opts}
}

// Ping checks the connection.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("statuscache.Ping: %w", err)
	}
	return nil
}

// PublishStatus stores the snapshot and publishes it in one pipeline.
func (p *RedisPublisher) PublishStatus(ctx context.Context, s domain.SchedulerStatus) error {
	data, err := json.Marshal(NewSnapshot(s))
	if err != nil {
		return fmt.Errorf("statuscache.PublishStatus: marshal: %w", err)
	}

	pipe := p.client.TxPipeline()
	pipe.Set(ctx, p.opts.Key, data, p.opts.TTL)
	pipe.Publish(ctx, p.opts.Channel, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("statuscache.PublishStatus: %w", err)
	}
	return nil
}

// Latest reads the stored snapshot. ok is false when none exists or it expired.
func (p *RedisPublisher) Latest(ctx context.Context) (Snapshot, bool, error) {
	b, err := p.client.Get(ctx, p.opts.Key).Bytes()
	if err == redis.Nil {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("statuscache.Latest: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("statuscache.Latest: decode: %w", err)
	}
	return snap, true, nil
}

// Close closes the Redis client.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
