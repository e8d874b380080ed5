package storage

// sqlite.go: estado persistente del trader.
//
// Estrategia:
//   - `positions`: el set abierto. SavePositions lo reemplaza entero en una tx.
//   - `closed_positions`: archivo append-only, nunca se borra.
//   - `trades`, `fills`, `decisions`, `audit`: append-only, indexados por ciclo.
//   - `cycles`: una fila por ciclo. Prune al arrancar (> 90d).
//   - `drawdown`: una sola fila (id = 1), UPSERT.

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS positions (
    id                 TEXT PRIMARY KEY,
    market_id          TEXT NOT NULL,
    token_id           TEXT NOT NULL,
    question           TEXT,
    category           TEXT,
    event_id           TEXT,
    side               TEXT NOT NULL,
    size_usd           REAL NOT NULL DEFAULT 0,
    shares             REAL NOT NULL DEFAULT 0,
    entry_price        REAL NOT NULL DEFAULT 0,
    entry_time         DATETIME NOT NULL,
    current_price      REAL NOT NULL DEFAULT 0,
    unrealised_pnl     REAL NOT NULL DEFAULT 0,
    realised_pnl       REAL NOT NULL DEFAULT 0,
    status             TEXT NOT NULL,
    stop_loss_price    REAL NOT NULL DEFAULT 0,
    stop_width         REAL NOT NULL DEFAULT 0,
    take_profit_price  REAL NOT NULL DEFAULT 0,
    high_water_pnl     REAL NOT NULL DEFAULT 0,
    low_water_pnl      REAL NOT NULL DEFAULT 0,
    trailing_activated INTEGER NOT NULL DEFAULT 0,
    partial_exit_taken INTEGER NOT NULL DEFAULT 0,
    entry_edge         REAL NOT NULL DEFAULT 0,
    entry_confidence   TEXT,
    end_date           DATETIME,
    neg_risk           INTEGER NOT NULL DEFAULT 0,
    updated_at         DATETIME,
    closed_at          DATETIME,
    exit_reason        TEXT,
    exit_price         REAL NOT NULL DEFAULT 0,
    realised_at        DATETIME
);

CREATE TABLE IF NOT EXISTS closed_positions AS SELECT * FROM positions WHERE 0;

CREATE TABLE IF NOT EXISTS trades (
    order_id          TEXT PRIMARY KEY,
    parent_id         TEXT,
    cycle_id          TEXT NOT NULL,
    market_id         TEXT NOT NULL,
    token_id          TEXT NOT NULL,
    side              TEXT NOT NULL,
    strategy          TEXT,
    price             REAL NOT NULL,
    size              REAL NOT NULL,
    stake_usd         REAL NOT NULL,
    status            TEXT NOT NULL,
    exchange_order_id TEXT,
    fill_price        REAL NOT NULL DEFAULT 0,
    fill_size         REAL NOT NULL DEFAULT 0,
    attempts          INTEGER NOT NULL DEFAULT 0,
    error             TEXT,
    created_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS fills (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    order_id       TEXT NOT NULL,
    market_id      TEXT NOT NULL,
    strategy       TEXT,
    expected_price REAL NOT NULL,
    fill_price     REAL NOT NULL,
    ordered_size   REAL NOT NULL,
    filled_size    REAL NOT NULL,
    slippage       REAL NOT NULL DEFAULT 0,
    slippage_bps   REAL NOT NULL DEFAULT 0,
    partial        INTEGER NOT NULL DEFAULT 0,
    unfilled       INTEGER NOT NULL DEFAULT 0,
    time_to_fill   INTEGER NOT NULL DEFAULT 0,
    recorded_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS cycles (
    id               TEXT PRIMARY KEY,
    started_at       DATETIME NOT NULL,
    finished_at      DATETIME,
    scanned          INTEGER NOT NULL DEFAULT 0,
    researched       INTEGER NOT NULL DEFAULT 0,
    edges_found      INTEGER NOT NULL DEFAULT 0,
    trades_attempted INTEGER NOT NULL DEFAULT 0,
    trades_executed  INTEGER NOT NULL DEFAULT 0,
    exits_executed   INTEGER NOT NULL DEFAULT 0,
    skipped          INTEGER NOT NULL DEFAULT 0,
    errors           TEXT,
    status           TEXT NOT NULL,
    equity           REAL NOT NULL DEFAULT 0,
    drawdown_pct     REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS decisions (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    cycle_id     TEXT NOT NULL,
    market_id    TEXT NOT NULL,
    question     TEXT,
    decision     TEXT NOT NULL,
    skip_reason  TEXT,
    implied_prob REAL NOT NULL DEFAULT 0,
    model_prob   REAL NOT NULL DEFAULT 0,
    net_edge     REAL NOT NULL DEFAULT 0,
    direction    TEXT,
    confidence   TEXT,
    violations   TEXT,
    stake_usd    REAL NOT NULL DEFAULT 0,
    capped_by    TEXT,
    order_status TEXT,
    created_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS audit (
    id                  TEXT PRIMARY KEY,
    cycle_id            TEXT NOT NULL,
    market_id           TEXT NOT NULL,
    question            TEXT,
    created_at          DATETIME NOT NULL,
    model_probability   REAL NOT NULL,
    implied_probability REAL NOT NULL,
    raw_edge            REAL NOT NULL,
    net_edge            REAL NOT NULL,
    direction           TEXT,
    confidence          TEXT,
    decision            TEXT NOT NULL,
    violations          TEXT,
    stake_usd           REAL NOT NULL DEFAULT 0,
    capped_by           TEXT,
    evidence_score      REAL NOT NULL DEFAULT 0,
    evidence_sources    INTEGER NOT NULL DEFAULT 0,
    evidence_summary    TEXT,
    order_status        TEXT,
    checksum            TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS drawdown (
    id               INTEGER PRIMARY KEY CHECK (id = 1),
    peak_equity      REAL NOT NULL,
    current_equity   REAL NOT NULL,
    drawdown_pct     REAL NOT NULL,
    heat_level       INTEGER NOT NULL,
    kelly_multiplier REAL NOT NULL,
    is_killed        INTEGER NOT NULL DEFAULT 0,
    killed_reason    TEXT,
    killed_at        DATETIME,
    updated_at       DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_closed_market    ON closed_positions(market_id);
CREATE INDEX IF NOT EXISTS idx_trades_cycle     ON trades(cycle_id);
CREATE INDEX IF NOT EXISTS idx_fills_at         ON fills(recorded_at);
CREATE INDEX IF NOT EXISTS idx_cycles_at        ON cycles(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_decisions_cycle  ON decisions(cycle_id);
CREATE INDEX IF NOT EXISTS idx_audit_cycle      ON audit(cycle_id);
`

// retentionCycles: los resúmenes de ciclo viejos se podan al arrancar. Los
// decisions, audit y el archivo de posiciones no se tocan nunca.
const retentionCycles = 90 * 24 * time.Hour

// SQLiteStorage implementa ports.StateStore usando SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada y aplica
// el schema. ":memory:" sirve para tests.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}

	s := &SQLiteStorage{db: db}
	s.pruneOld(context.Background())
	return s, nil
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) pruneOld(ctx context.Context) {
	cutoff := formatTime(time.Now().Add(-retentionCycles))
	s.db.ExecContext(ctx, `DELETE FROM cycles WHERE started_at < ?`, cutoff)
}

// --- helpers internos ---

// timeLayout es RFC3339 con nanosegundos de ancho fijo: el orden
// lexicográfico de las columnas DATETIME coincide con el cronológico.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := formatTime(t)
	return &s
}

func nullTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	return nullTime(*t)
}

func parseTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func parseTimePtr(s sql.NullString) *time.Time {
	t := parseTime(s)
	if t.IsZero() {
		return nil
	}
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// encodeList serializa listas cortas (violations, errors) como JSON.
func encodeList(v []string) string {
	if len(v) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func decodeList(s sql.NullString) []string {
	if !s.Valid || s.String == "" || s.String == "[]" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s.String), &out); err != nil {
		return nil
	}
	return out
}
