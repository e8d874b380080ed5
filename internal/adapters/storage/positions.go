package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

const positionColumns = `id, market_id, token_id, question, category, event_id, side,
	size_usd, shares, entry_price, entry_time, current_price, unrealised_pnl,
	realised_pnl, status, stop_loss_price, stop_width, take_profit_price,
	high_water_pnl, low_water_pnl, trailing_activated, partial_exit_taken,
	entry_edge, entry_confidence, end_date, neg_risk, updated_at, closed_at,
	exit_reason, exit_price, realised_at`

const positionPlaceholders = `?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
	?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?`

func positionArgs(p domain.Position) []any {
	return []any{
		p.ID, p.MarketID, p.TokenID, p.Question, p.Category, p.EventID, string(p.Side),
		p.SizeUSD, p.Shares, p.EntryPrice, formatTime(p.EntryTime), p.CurrentPrice, p.UnrealisedPnL,
		p.RealisedPnL, string(p.Status), p.StopLossPrice, p.StopWidth, p.TakeProfitPrice,
		p.HighWaterPnL, p.LowWaterPnL, boolInt(p.TrailingActivated), boolInt(p.PartialExitTaken),
		p.EntryEdge, string(p.EntryConfidence), nullTime(p.EndDate), boolInt(p.NegRisk),
		nullTime(p.UpdatedAt), nullTimePtr(p.ClosedAt), string(p.ExitReason), p.ExitPrice,
		nullTimePtr(p.RealisedAt),
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(r rowScanner) (domain.Position, error) {
	var (
		p                              domain.Position
		side, status, conf, exitReason string
		entryTime                      sql.NullString
		endDate, updatedAt, closedAt   sql.NullString
		realisedAt                     sql.NullString
		trailing, partial, negRisk     int
	)
	err := r.Scan(
		&p.ID, &p.MarketID, &p.TokenID, &p.Question, &p.Category, &p.EventID, &side,
		&p.SizeUSD, &p.Shares, &p.EntryPrice, &entryTime, &p.CurrentPrice, &p.UnrealisedPnL,
		&p.RealisedPnL, &status, &p.StopLossPrice, &p.StopWidth, &p.TakeProfitPrice,
		&p.HighWaterPnL, &p.LowWaterPnL, &trailing, &partial,
		&p.EntryEdge, &conf, &endDate, &negRisk, &updatedAt, &closedAt,
		&exitReason, &p.ExitPrice, &realisedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Side = domain.Side(side)
	p.Status = domain.PositionStatus(status)
	p.EntryConfidence = domain.Confidence(conf)
	p.ExitReason = domain.ExitReason(exitReason)
	p.EntryTime = parseTime(entryTime)
	p.EndDate = parseTime(endDate)
	p.UpdatedAt = parseTime(updatedAt)
	p.ClosedAt = parseTimePtr(closedAt)
	p.RealisedAt = parseTimePtr(realisedAt)
	p.TrailingActivated = trailing == 1
	p.PartialExitTaken = partial == 1
	p.NegRisk = negRisk == 1
	return p, nil
}

// SavePositions reemplaza el set de posiciones abiertas en una sola tx.
func (s *SQLiteStorage) SavePositions(ctx context.Context, positions []domain.Position) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SavePositions: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM positions`); err != nil {
		return fmt.Errorf("storage.SavePositions: clear: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO positions (`+positionColumns+`) VALUES (`+positionPlaceholders+`)`)
	if err != nil {
		return fmt.Errorf("storage.SavePositions: prepare: %w", err)
	}
	defer stmt.Close()

	for _, p := range positions {
		if _, err := stmt.ExecContext(ctx, positionArgs(p)...); err != nil {
			return fmt.Errorf("storage.SavePositions: insert %s: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.SavePositions: commit: %w", err)
	}
	return nil
}

// LoadOpenPositions devuelve el set abierto ordenado por fecha de entrada.
func (s *SQLiteStorage) LoadOpenPositions(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+positionColumns+` FROM positions ORDER BY entry_time, id`)
	if err != nil {
		return nil, fmt.Errorf("storage.LoadOpenPositions: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.LoadOpenPositions: scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ArchivePosition agrega una posición cerrada al archivo.
func (s *SQLiteStorage) ArchivePosition(ctx context.Context, p domain.Position) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO closed_positions (`+positionColumns+`) VALUES (`+positionPlaceholders+`)`,
		positionArgs(p)...,
	); err != nil {
		return fmt.Errorf("storage.ArchivePosition %s: %w", p.ID, err)
	}
	return nil
}

// LoadClosedPositions devuelve las últimas cerradas, más recientes primero.
// limit <= 0 devuelve todo el archivo.
func (s *SQLiteStorage) LoadClosedPositions(ctx context.Context, limit int) ([]domain.Position, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+positionColumns+` FROM closed_positions ORDER BY closed_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage.LoadClosedPositions: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.LoadClosedPositions: scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
