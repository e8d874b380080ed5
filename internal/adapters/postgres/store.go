package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alejandrodnm/polytrader/internal/domain"
	"github.com/alejandrodnm/polytrader/internal/ports"
)

// ErrDuplicateKey is returned when an append-only row is written twice.
var ErrDuplicateKey = errors.New("postgres: duplicate key")

// Store implements ports.StateStore.
type Store struct {
	pool *Pool
}

// Compile-time interface check.
var _ ports.StateStore = (*Store)(nil)

// NewStore creates a Store. Call Pool.Migrate first.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

const positionColumns = `id, market_id, token_id, question, category, event_id, side,
	size_usd, shares, entry_price, entry_time, current_price, unrealised_pnl,
	realised_pnl, status, stop_loss_price, stop_width, take_profit_price,
	high_water_pnl, low_water_pnl, trailing_activated, partial_exit_taken,
	entry_edge, entry_confidence, end_date, neg_risk, updated_at, closed_at,
	exit_reason, exit_price, realised_at`

const positionValues = `$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
	$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31`

func positionArgs(p domain.Position) []any {
	return []any{
		p.ID, p.MarketID, p.TokenID, p.Question, p.Category, p.EventID, string(p.Side),
		p.SizeUSD, p.Shares, p.EntryPrice, p.EntryTime, p.CurrentPrice, p.UnrealisedPnL,
		p.RealisedPnL, string(p.Status), p.StopLossPrice, p.StopWidth, p.TakeProfitPrice,
		p.HighWaterPnL, p.LowWaterPnL, p.TrailingActivated, p.PartialExitTaken,
		p.EntryEdge, string(p.EntryConfidence), nullable(p.EndDate), p.NegRisk,
		nullable(p.UpdatedAt), p.ClosedAt, string(p.ExitReason), p.ExitPrice,
		p.RealisedAt,
	}
}

func scanPosition(row pgx.Row) (domain.Position, error) {
	var (
		p                              domain.Position
		side, status, conf, exitReason string
		endDate, updatedAt, closedAt   *time.Time
		realisedAt                     *time.Time
	)
	err := row.Scan(
		&p.ID, &p.MarketID, &p.TokenID, &p.Question, &p.Category, &p.EventID, &side,
		&p.SizeUSD, &p.Shares, &p.EntryPrice, &p.EntryTime, &p.CurrentPrice, &p.UnrealisedPnL,
		&p.RealisedPnL, &status, &p.StopLossPrice, &p.StopWidth, &p.TakeProfitPrice,
		&p.HighWaterPnL, &p.LowWaterPnL, &p.TrailingActivated, &p.PartialExitTaken,
		&p.EntryEdge, &conf, &endDate, &p.NegRisk, &updatedAt, &closedAt,
		&exitReason, &p.ExitPrice, &realisedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Side = domain.Side(side)
	p.Status = domain.PositionStatus(status)
	p.EntryConfidence = domain.Confidence(conf)
	p.ExitReason = domain.ExitReason(exitReason)
	p.EntryTime = p.EntryTime.UTC()
	p.EndDate = deref(endDate)
	p.UpdatedAt = deref(updatedAt)
	if closedAt != nil {
		t := closedAt.UTC()
		p.ClosedAt = &t
	}
	if realisedAt != nil {
		t := realisedAt.UTC()
		p.RealisedAt = &t
	}
	return p, nil
}

// SavePositions replaces the open set atomically.
func (s *Store) SavePositions(ctx context.Context, positions []domain.Position) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM positions`); err != nil {
		return fmt.Errorf("clear positions: %w", err)
	}

	if len(positions) > 0 {
		batch := &pgx.Batch{}
		for _, p := range positions {
			batch.Queue(`INSERT INTO positions (`+positionColumns+`) VALUES (`+positionValues+`)`, positionArgs(p)...)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert positions: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// LoadOpenPositions returns the open set ordered by entry time.
func (s *Store) LoadOpenPositions(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+positionColumns+` FROM positions ORDER BY entry_time, id`)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ArchivePosition appends a closed position to the archive.
func (s *Store) ArchivePosition(ctx context.Context, p domain.Position) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO closed_positions (`+positionColumns+`) VALUES (`+positionValues+`)`,
		positionArgs(p)...)
	if err != nil {
		return fmt.Errorf("archive position %s: %w", p.ID, err)
	}
	return nil
}

// LoadClosedPositions returns the newest archived positions first. A limit
// of zero or less returns the whole archive.
func (s *Store) LoadClosedPositions(ctx context.Context, limit int) ([]domain.Position, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM closed_positions
		 ORDER BY closed_at DESC NULLS LAST, archived_seq DESC LIMIT $1`, lim)
	if err != nil {
		return nil, fmt.Errorf("query closed positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan closed position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SaveTrade upserts by order id so retries overwrite the previous row.
func (s *Store) SaveTrade(ctx context.Context, t domain.TradeRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trades (
			order_id, parent_id, cycle_id, market_id, token_id, side, strategy,
			price, size, stake_usd, status, exchange_order_id, fill_price, fill_size,
			attempts, error, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (order_id) DO UPDATE SET
			status            = EXCLUDED.status,
			exchange_order_id = EXCLUDED.exchange_order_id,
			fill_price        = EXCLUDED.fill_price,
			fill_size         = EXCLUDED.fill_size,
			attempts          = EXCLUDED.attempts,
			error             = EXCLUDED.error`,
		t.OrderID, t.ParentID, t.CycleID, t.MarketID, t.TokenID, string(t.Side), string(t.Strategy),
		t.Price, t.Size, t.StakeUSD, string(t.Status), t.ExchangeOrderID, t.FillPrice, t.FillSize,
		t.Attempts, t.Error, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save trade %s: %w", t.OrderID, err)
	}
	return nil
}

// TradesByCycle returns the cycle's orders in creation order.
func (s *Store) TradesByCycle(ctx context.Context, cycleID string) ([]domain.TradeRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT order_id, parent_id, cycle_id, market_id, token_id, side, strategy,
		       price, size, stake_usd, status, exchange_order_id, fill_price, fill_size,
		       attempts, error, created_at
		FROM trades WHERE cycle_id = $1 ORDER BY created_at, order_id`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeRecord
	for rows.Next() {
		var (
			t                      domain.TradeRecord
			side, strategy, status string
		)
		if err := rows.Scan(
			&t.OrderID, &t.ParentID, &t.CycleID, &t.MarketID, &t.TokenID, &side, &strategy,
			&t.Price, &t.Size, &t.StakeUSD, &status, &t.ExchangeOrderID, &t.FillPrice, &t.FillSize,
			&t.Attempts, &t.Error, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Side = domain.OrderSide(side)
		t.Strategy = domain.ExecutionStrategy(strategy)
		t.Status = domain.OrderStatus(status)
		t.CreatedAt = t.CreatedAt.UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

// SaveFill appends a fill record.
func (s *Store) SaveFill(ctx context.Context, f domain.FillRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO fills (
			order_id, market_id, strategy, expected_price, fill_price, ordered_size,
			filled_size, slippage, slippage_bps, partial, unfilled, time_to_fill, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		f.OrderID, f.MarketID, string(f.Strategy), f.ExpectedPrice, f.FillPrice, f.OrderedSize,
		f.FilledSize, f.Slippage, f.SlippageBps, f.Partial, f.Unfilled, int64(f.TimeToFill), f.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("save fill %s: %w", f.OrderID, err)
	}
	return nil
}

// LoadFills returns fills recorded at or after since, oldest first.
func (s *Store) LoadFills(ctx context.Context, since time.Time) ([]domain.FillRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT order_id, market_id, strategy, expected_price, fill_price, ordered_size,
		       filled_size, slippage, slippage_bps, partial, unfilled, time_to_fill, recorded_at
		FROM fills WHERE recorded_at >= $1 ORDER BY recorded_at, id`, since)
	if err != nil {
		return nil, fmt.Errorf("query fills: %w", err)
	}
	defer rows.Close()

	var out []domain.FillRecord
	for rows.Next() {
		var (
			f        domain.FillRecord
			strategy string
			ttf      int64
		)
		if err := rows.Scan(
			&f.OrderID, &f.MarketID, &strategy, &f.ExpectedPrice, &f.FillPrice, &f.OrderedSize,
			&f.FilledSize, &f.Slippage, &f.SlippageBps, &f.Partial, &f.Unfilled, &ttf, &f.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("scan fill: %w", err)
		}
		f.Strategy = domain.ExecutionStrategy(strategy)
		f.TimeToFill = time.Duration(ttf)
		f.RecordedAt = f.RecordedAt.UTC()
		out = append(out, f)
	}
	return out, rows.Err()
}

// SaveCycle upserts the cycle result.
func (s *Store) SaveCycle(ctx context.Context, c domain.CycleResult) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO cycles (
			id, started_at, finished_at, scanned, researched, edges_found,
			trades_attempted, trades_executed, exits_executed, skipped, errors,
			status, equity, drawdown_pct
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			finished_at      = EXCLUDED.finished_at,
			scanned          = EXCLUDED.scanned,
			researched       = EXCLUDED.researched,
			edges_found      = EXCLUDED.edges_found,
			trades_attempted = EXCLUDED.trades_attempted,
			trades_executed  = EXCLUDED.trades_executed,
			exits_executed   = EXCLUDED.exits_executed,
			skipped          = EXCLUDED.skipped,
			errors           = EXCLUDED.errors,
			status           = EXCLUDED.status,
			equity           = EXCLUDED.equity,
			drawdown_pct     = EXCLUDED.drawdown_pct`,
		c.ID, c.StartedAt, nullable(c.FinishedAt), c.Scanned, c.Researched, c.EdgesFound,
		c.TradesAttempted, c.TradesExecuted, c.ExitsExecuted, c.Skipped, textArray(c.Errors),
		string(c.Status), c.Equity, c.DrawdownPct,
	)
	if err != nil {
		return fmt.Errorf("save cycle %s: %w", c.ID, err)
	}
	return nil
}

// RecentCycles returns the newest cycles first.
func (s *Store) RecentCycles(ctx context.Context, limit int) ([]domain.CycleResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, started_at, finished_at, scanned, researched, edges_found,
		       trades_attempted, trades_executed, exits_executed, skipped, errors,
		       status, equity, drawdown_pct
		FROM cycles ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query cycles: %w", err)
	}
	defer rows.Close()

	var out []domain.CycleResult
	for rows.Next() {
		var (
			c        domain.CycleResult
			finished *time.Time
			errs     []string
			status   string
		)
		if err := rows.Scan(
			&c.ID, &c.StartedAt, &finished, &c.Scanned, &c.Researched, &c.EdgesFound,
			&c.TradesAttempted, &c.TradesExecuted, &c.ExitsExecuted, &c.Skipped, &errs,
			&status, &c.Equity, &c.DrawdownPct,
		); err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		c.StartedAt = c.StartedAt.UTC()
		c.FinishedAt = deref(finished)
		c.Errors = listOrNil(errs)
		c.Status = domain.CycleStatus(status)
		out = append(out, c)
	}
	return out, rows.Err()
}

// SaveDecision appends to the decision log.
func (s *Store) SaveDecision(ctx context.Context, d domain.DecisionRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO decisions (
			cycle_id, market_id, question, decision, skip_reason, implied_prob,
			model_prob, net_edge, direction, confidence, violations, stake_usd,
			capped_by, order_status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		d.CycleID, d.MarketID, d.Question, string(d.Decision), d.SkipReason, d.ImpliedProb,
		d.ModelProb, d.NetEdge, string(d.Direction), string(d.Confidence), textArray(d.Violations), d.StakeUSD,
		string(d.CappedBy), string(d.OrderStatus), d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save decision %s: %w", d.MarketID, err)
	}
	return nil
}

// DecisionsByCycle returns the cycle's decisions in insertion order.
func (s *Store) DecisionsByCycle(ctx context.Context, cycleID string) ([]domain.DecisionRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT cycle_id, market_id, question, decision, skip_reason, implied_prob,
		       model_prob, net_edge, direction, confidence, violations, stake_usd,
		       capped_by, order_status, created_at
		FROM decisions WHERE cycle_id = $1 ORDER BY id`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []domain.DecisionRecord
	for rows.Next() {
		var (
			d                         domain.DecisionRecord
			decision, direction, conf string
			cappedBy, orderStatus     string
			violations                []string
		)
		if err := rows.Scan(
			&d.CycleID, &d.MarketID, &d.Question, &decision, &d.SkipReason, &d.ImpliedProb,
			&d.ModelProb, &d.NetEdge, &direction, &conf, &violations, &d.StakeUSD,
			&cappedBy, &orderStatus, &d.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		d.Decision = domain.Decision(decision)
		d.Direction = domain.Direction(direction)
		d.Confidence = domain.Confidence(conf)
		d.Violations = listOrNil(violations)
		d.CappedBy = domain.CapReason(cappedBy)
		d.OrderStatus = domain.OrderStatus(orderStatus)
		d.CreatedAt = d.CreatedAt.UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}

// SaveAudit inserts a sealed entry. Returns ErrDuplicateKey if the id exists.
func (s *Store) SaveAudit(ctx context.Context, a domain.AuditEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit (
			id, cycle_id, market_id, question, created_at, model_probability,
			implied_probability, raw_edge, net_edge, direction, confidence, decision,
			violations, stake_usd, capped_by, evidence_score, evidence_sources,
			evidence_summary, order_status, checksum
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		a.ID, a.CycleID, a.MarketID, a.Question, a.CreatedAt, a.ModelProbability,
		a.ImpliedProbability, a.RawEdge, a.NetEdge, string(a.Direction), string(a.Confidence), string(a.Decision),
		textArray(a.Violations), a.StakeUSD, string(a.CappedBy), a.EvidenceScore, a.EvidenceSources,
		a.EvidenceSummary, string(a.OrderStatus), a.Checksum,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("save audit %s: %w", a.ID, ErrDuplicateKey)
		}
		return fmt.Errorf("save audit %s: %w", a.ID, err)
	}
	return nil
}

// AuditByCycle returns the cycle's audit entries.
func (s *Store) AuditByCycle(ctx context.Context, cycleID string) ([]domain.AuditEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, cycle_id, market_id, question, created_at, model_probability,
		       implied_probability, raw_edge, net_edge, direction, confidence, decision,
		       violations, stake_usd, capped_by, evidence_score, evidence_sources,
		       evidence_summary, order_status, checksum
		FROM audit WHERE cycle_id = $1 ORDER BY created_at, id`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			a                         domain.AuditEntry
			direction, conf, decision string
			cappedBy, orderStatus     string
			violations                []string
		)
		if err := rows.Scan(
			&a.ID, &a.CycleID, &a.MarketID, &a.Question, &a.CreatedAt, &a.ModelProbability,
			&a.ImpliedProbability, &a.RawEdge, &a.NetEdge, &direction, &conf, &decision,
			&violations, &a.StakeUSD, &cappedBy, &a.EvidenceScore, &a.EvidenceSources,
			&a.EvidenceSummary, &orderStatus, &a.Checksum,
		); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		a.CreatedAt = a.CreatedAt.UTC()
		a.Direction = domain.Direction(direction)
		a.Confidence = domain.Confidence(conf)
		a.Decision = domain.Decision(decision)
		a.Violations = listOrNil(violations)
		a.CappedBy = domain.CapReason(cappedBy)
		a.OrderStatus = domain.OrderStatus(orderStatus)
		out = append(out, a)
	}
	return out, rows.Err()
}

// SaveDrawdown upserts the single drawdown row.
func (s *Store) SaveDrawdown(ctx context.Context, d domain.DrawdownState) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO drawdown (
			id, peak_equity, current_equity, drawdown_pct, heat_level, kelly_multiplier,
			is_killed, killed_reason, killed_at, updated_at
		) VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			peak_equity      = EXCLUDED.peak_equity,
			current_equity   = EXCLUDED.current_equity,
			drawdown_pct     = EXCLUDED.drawdown_pct,
			heat_level       = EXCLUDED.heat_level,
			kelly_multiplier = EXCLUDED.kelly_multiplier,
			is_killed        = EXCLUDED.is_killed,
			killed_reason    = EXCLUDED.killed_reason,
			killed_at        = EXCLUDED.killed_at,
			updated_at       = EXCLUDED.updated_at`,
		d.PeakEquity, d.CurrentEquity, d.DrawdownPct, d.HeatLevel, d.KellyMultiplier,
		d.IsKilled, d.KilledReason, d.KilledAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save drawdown: %w", err)
	}
	return nil
}

// LoadDrawdown returns ok=false when no snapshot exists yet.
func (s *Store) LoadDrawdown(ctx context.Context) (domain.DrawdownState, bool, error) {
	var (
		d        domain.DrawdownState
		killedAt *time.Time
	)
	err := s.pool.QueryRow(ctx, `
		SELECT peak_equity, current_equity, drawdown_pct, heat_level, kelly_multiplier,
		       is_killed, killed_reason, killed_at, updated_at
		FROM drawdown WHERE id = 1`,
	).Scan(&d.PeakEquity, &d.CurrentEquity, &d.DrawdownPct, &d.HeatLevel, &d.KellyMultiplier,
		&d.IsKilled, &d.KilledReason, &killedAt, &d.UpdatedAt)
	if isNotFoundError(err) {
		return domain.DrawdownState{}, false, nil
	}
	if err != nil {
		return domain.DrawdownState{}, false, fmt.Errorf("load drawdown: %w", err)
	}
	if killedAt != nil {
		t := killedAt.UTC()
		d.KilledAt = &t
	}
	d.UpdatedAt = d.UpdatedAt.UTC()
	return d, true, nil
}

// nullable maps the zero time to SQL NULL.
func nullable(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

// textArray keeps TEXT[] NOT NULL columns non-null.
func textArray(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func listOrNil(v []string) []string {
	if len(v) == 0 {
		return nil
	}
	return v
}
