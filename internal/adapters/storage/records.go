package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

// SaveTrade inserta una fila por orden. Un reintento con el mismo order_id
// sobreescribe la fila previa.
func (s *SQLiteStorage) SaveTrade(ctx context.Context, t domain.TradeRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO trades (order_id, parent_id, cycle_id, market_id, token_id,
		                               side, strategy, price, size, stake_usd, status,
		                               exchange_order_id, fill_price, fill_size, attempts,
		                               error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.OrderID, t.ParentID, t.CycleID, t.MarketID, t.TokenID,
		string(t.Side), string(t.Strategy), t.Price, t.Size, t.StakeUSD, string(t.Status),
		t.ExchangeOrderID, t.FillPrice, t.FillSize, t.Attempts,
		t.Error, formatTime(t.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveTrade %s: %w", t.OrderID, err)
	}
	return nil
}

// TradesByCycle devuelve las órdenes del ciclo en orden de creación.
func (s *SQLiteStorage) TradesByCycle(ctx context.Context, cycleID string) ([]domain.TradeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, parent_id, cycle_id, market_id, token_id, side, strategy,
		       price, size, stake_usd, status, exchange_order_id, fill_price,
		       fill_size, attempts, error, created_at
		FROM trades WHERE cycle_id = ? ORDER BY created_at, rowid`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("storage.TradesByCycle: query: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeRecord
	for rows.Next() {
		var (
			t                      domain.TradeRecord
			side, strategy, status string
			createdAt              sql.NullString
		)
		if err := rows.Scan(
			&t.OrderID, &t.ParentID, &t.CycleID, &t.MarketID, &t.TokenID, &side, &strategy,
			&t.Price, &t.Size, &t.StakeUSD, &status, &t.ExchangeOrderID, &t.FillPrice,
			&t.FillSize, &t.Attempts, &t.Error, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("storage.TradesByCycle: scan: %w", err)
		}
		t.Side = domain.OrderSide(side)
		t.Strategy = domain.ExecutionStrategy(strategy)
		t.Status = domain.OrderStatus(status)
		t.CreatedAt = parseTime(createdAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

// SaveFill agrega un registro de fill.
func (s *SQLiteStorage) SaveFill(ctx context.Context, f domain.FillRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fills (order_id, market_id, strategy, expected_price, fill_price,
		                   ordered_size, filled_size, slippage, slippage_bps, partial,
		                   unfilled, time_to_fill, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.OrderID, f.MarketID, string(f.Strategy), f.ExpectedPrice, f.FillPrice,
		f.OrderedSize, f.FilledSize, f.Slippage, f.SlippageBps, boolInt(f.Partial),
		boolInt(f.Unfilled), int64(f.TimeToFill), formatTime(f.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveFill %s: %w", f.OrderID, err)
	}
	return nil
}

// LoadFills devuelve los fills registrados desde since, del más viejo al más nuevo.
func (s *SQLiteStorage) LoadFills(ctx context.Context, since time.Time) ([]domain.FillRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, market_id, strategy, expected_price, fill_price, ordered_size,
		       filled_size, slippage, slippage_bps, partial, unfilled, time_to_fill,
		       recorded_at
		FROM fills WHERE recorded_at >= ? ORDER BY recorded_at, id`, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("storage.LoadFills: query: %w", err)
	}
	defer rows.Close()

	var out []domain.FillRecord
	for rows.Next() {
		var (
			f                 domain.FillRecord
			strategy          string
			partial, unfilled int
			ttf               int64
			recordedAt        sql.NullString
		)
		if err := rows.Scan(
			&f.OrderID, &f.MarketID, &strategy, &f.ExpectedPrice, &f.FillPrice, &f.OrderedSize,
			&f.FilledSize, &f.Slippage, &f.SlippageBps, &partial, &unfilled, &ttf,
			&recordedAt,
		); err != nil {
			return nil, fmt.Errorf("storage.LoadFills: scan: %w", err)
		}
		f.Strategy = domain.ExecutionStrategy(strategy)
		f.Partial = partial == 1
		f.Unfilled = unfilled == 1
		f.TimeToFill = time.Duration(ttf)
		f.RecordedAt = parseTime(recordedAt)
		out = append(out, f)
	}
	return out, rows.Err()
}

// SaveCycle hace upsert del resultado del ciclo.
func (s *SQLiteStorage) SaveCycle(ctx context.Context, c domain.CycleResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO cycles (id, started_at, finished_at, scanned, researched,
		                               edges_found, trades_attempted, trades_executed,
		                               exits_executed, skipped, errors, status, equity,
		                               drawdown_pct)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, formatTime(c.StartedAt), nullTime(c.FinishedAt), c.Scanned, c.Researched,
		c.EdgesFound, c.TradesAttempted, c.TradesExecuted,
		c.ExitsExecuted, c.Skipped, encodeList(c.Errors), string(c.Status), c.Equity,
		c.DrawdownPct,
	)
	if err != nil {
		return fmt.Errorf("storage.SaveCycle %s: %w", c.ID, err)
	}
	return nil
}

// RecentCycles devuelve los últimos limit ciclos, más recientes primero.
func (s *SQLiteStorage) RecentCycles(ctx context.Context, limit int) ([]domain.CycleResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, scanned, researched, edges_found,
		       trades_attempted, trades_executed, exits_executed, skipped, errors,
		       status, equity, drawdown_pct
		FROM cycles ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.RecentCycles: query: %w", err)
	}
	defer rows.Close()

	var out []domain.CycleResult
	for rows.Next() {
		var (
			c                 domain.CycleResult
			started, finished sql.NullString
			errs              sql.NullString
			status            string
		)
		if err := rows.Scan(
			&c.ID, &started, &finished, &c.Scanned, &c.Researched, &c.EdgesFound,
			&c.TradesAttempted, &c.TradesExecuted, &c.ExitsExecuted, &c.Skipped, &errs,
			&status, &c.Equity, &c.DrawdownPct,
		); err != nil {
			return nil, fmt.Errorf("storage.RecentCycles: scan: %w", err)
		}
		c.StartedAt = parseTime(started)
		c.FinishedAt = parseTime(finished)
		c.Errors = decodeList(errs)
		c.Status = domain.CycleStatus(status)
		out = append(out, c)
	}
	return out, rows.Err()
}

// SaveDecision agrega una entrada al log de decisiones.
func (s *SQLiteStorage) SaveDecision(ctx context.Context, d domain.DecisionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decisions (cycle_id, market_id, question, decision, skip_reason,
		                       implied_prob, model_prob, net_edge, direction, confidence,
		                       violations, stake_usd, capped_by, order_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.CycleID, d.MarketID, d.Question, string(d.Decision), d.SkipReason,
		d.ImpliedProb, d.ModelProb, d.NetEdge, string(d.Direction), string(d.Confidence),
		encodeList(d.Violations), d.StakeUSD, string(d.CappedBy), string(d.OrderStatus),
		formatTime(d.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveDecision %s: %w", d.MarketID, err)
	}
	return nil
}

// DecisionsByCycle devuelve las decisiones del ciclo en orden de registro.
func (s *SQLiteStorage) DecisionsByCycle(ctx context.Context, cycleID string) ([]domain.DecisionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cycle_id, market_id, question, decision, skip_reason, implied_prob,
		       model_prob, net_edge, direction, confidence, violations, stake_usd,
		       capped_by, order_status, created_at
		FROM decisions WHERE cycle_id = ? ORDER BY id`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("storage.DecisionsByCycle: query: %w", err)
	}
	defer rows.Close()

	var out []domain.DecisionRecord
	for rows.Next() {
		var (
			d                         domain.DecisionRecord
			decision, direction, conf string
			cappedBy, orderStatus     string
			violations, createdAt     sql.NullString
		)
		if err := rows.Scan(
			&d.CycleID, &d.MarketID, &d.Question, &decision, &d.SkipReason, &d.ImpliedProb,
			&d.ModelProb, &d.NetEdge, &direction, &conf, &violations, &d.StakeUSD,
			&cappedBy, &orderStatus, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("storage.DecisionsByCycle: scan: %w", err)
		}
		d.Decision = domain.Decision(decision)
		d.Direction = domain.Direction(direction)
		d.Confidence = domain.Confidence(conf)
		d.Violations = decodeList(violations)
		d.CappedBy = domain.CapReason(cappedBy)
		d.OrderStatus = domain.OrderStatus(orderStatus)
		d.CreatedAt = parseTime(createdAt)
		out = append(out, d)
	}
	return out, rows.Err()
}

// SaveAudit guarda una entrada sellada. El checksum se persiste tal cual
// para poder verificarlo al leer.
func (s *SQLiteStorage) SaveAudit(ctx context.Context, a domain.AuditEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit (id, cycle_id, market_id, question, created_at,
		                   model_probability, implied_probability, raw_edge, net_edge,
		                   direction, confidence, decision, violations, stake_usd,
		                   capped_by, evidence_score, evidence_sources, evidence_summary,
		                   order_status, checksum)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.CycleID, a.MarketID, a.Question, formatTime(a.CreatedAt),
		a.ModelProbability, a.ImpliedProbability, a.RawEdge, a.NetEdge,
		string(a.Direction), string(a.Confidence), string(a.Decision), encodeList(a.Violations), a.StakeUSD,
		string(a.CappedBy), a.EvidenceScore, a.EvidenceSources, a.EvidenceSummary,
		string(a.OrderStatus), a.Checksum,
	)
	if err != nil {
		return fmt.Errorf("storage.SaveAudit %s: %w", a.ID, err)
	}
	return nil
}

// AuditByCycle devuelve las entradas de auditoría del ciclo.
func (s *SQLiteStorage) AuditByCycle(ctx context.Context, cycleID string) ([]domain.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, cycle_id, market_id, question, created_at, model_probability,
		       implied_probability, raw_edge, net_edge, direction, confidence, decision,
		       violations, stake_usd, capped_by, evidence_score, evidence_sources,
		       evidence_summary, order_status, checksum
		FROM audit WHERE cycle_id = ? ORDER BY created_at, rowid`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("storage.AuditByCycle: query: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			a                         domain.AuditEntry
			direction, conf, decision string
			cappedBy, orderStatus     string
			createdAt, violations     sql.NullString
		)
		if err := rows.Scan(
			&a.ID, &a.CycleID, &a.MarketID, &a.Question, &createdAt, &a.ModelProbability,
			&a.ImpliedProbability, &a.RawEdge, &a.NetEdge, &direction, &conf, &decision,
			&violations, &a.StakeUSD, &cappedBy, &a.EvidenceScore, &a.EvidenceSources,
			&a.EvidenceSummary, &orderStatus, &a.Checksum,
		); err != nil {
			return nil, fmt.Errorf("storage.AuditByCycle: scan: %w", err)
		}
		a.CreatedAt = parseTime(createdAt)
		a.Direction = domain.Direction(direction)
		a.Confidence = domain.Confidence(conf)
		a.Decision = domain.Decision(decision)
		a.Violations = decodeList(violations)
		a.CappedBy = domain.CapReason(cappedBy)
		a.OrderStatus = domain.OrderStatus(orderStatus)
		out = append(out, a)
	}
	return out, rows.Err()
}

// SaveDrawdown hace upsert de la fila única del drawdown controller.
func (s *SQLiteStorage) SaveDrawdown(ctx context.Context, d domain.DrawdownState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO drawdown (id, peak_equity, current_equity, drawdown_pct, heat_level,
		                      kelly_multiplier, is_killed, killed_reason, killed_at, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			peak_equity      = excluded.peak_equity,
			current_equity   = excluded.current_equity,
			drawdown_pct     = excluded.drawdown_pct,
			heat_level       = excluded.heat_level,
			kelly_multiplier = excluded.kelly_multiplier,
			is_killed        = excluded.is_killed,
			killed_reason    = excluded.killed_reason,
			killed_at        = excluded.killed_at,
			updated_at       = excluded.updated_at`,
		d.PeakEquity, d.CurrentEquity, d.DrawdownPct, d.HeatLevel,
		d.KellyMultiplier, boolInt(d.IsKilled), d.KilledReason, nullTimePtr(d.KilledAt),
		formatTime(d.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveDrawdown: %w", err)
	}
	return nil
}

// LoadDrawdown devuelve ok=false si todavía no hay snapshot.
func (s *SQLiteStorage) LoadDrawdown(ctx context.Context) (domain.DrawdownState, bool, error) {
	var (
		d                   domain.DrawdownState
		killed              int
		killedAt, updatedAt sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT peak_equity, current_equity, drawdown_pct, heat_level, kelly_multiplier,
		       is_killed, killed_reason, killed_at, updated_at
		FROM drawdown WHERE id = 1`,
	).Scan(&d.PeakEquity, &d.CurrentEquity, &d.DrawdownPct, &d.HeatLevel, &d.KellyMultiplier,
		&killed, &d.KilledReason, &killedAt, &updatedAt)
	if err == sql.ErrNoRows {
		return domain.DrawdownState{}, false, nil
	}
	if err != nil {
		return domain.DrawdownState{}, false, fmt.Errorf("storage.LoadDrawdown: %w", err)
	}
	d.IsKilled = killed == 1
	d.KilledAt = parseTimePtr(killedAt)
	d.UpdatedAt = parseTime(updatedAt)
	return d, true, nil
}
