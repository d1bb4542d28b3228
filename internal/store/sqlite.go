package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"tradesim/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ RunStore = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id              TEXT PRIMARY KEY,
    created_at      TEXT     NOT NULL,
    kind            TEXT     NOT NULL,
    strategy        TEXT     NOT NULL,
    symbols         TEXT     NOT NULL,
    config          TEXT     NOT NULL,
    initial_capital REAL     NOT NULL,
    final_equity    REAL     NOT NULL,
    metrics         TEXT     NOT NULL
);

CREATE TABLE IF NOT EXISTS run_trades (
    run_id           TEXT    NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    seq              INTEGER NOT NULL,
    symbol           TEXT    NOT NULL,
    side             TEXT    NOT NULL,
    entry_ts         INTEGER NOT NULL,
    exit_ts          INTEGER NOT NULL,
    entry_price      REAL    NOT NULL,
    exit_price       REAL    NOT NULL,
    quantity         REAL    NOT NULL,
    entry_commission REAL    NOT NULL,
    exit_commission  REAL    NOT NULL,
    dividend_income  REAL    NOT NULL,
    pnl              REAL    NOT NULL,
    return_pct       REAL    NOT NULL,
    entry_reason     TEXT    NOT NULL,
    exit_reason      TEXT    NOT NULL,
    PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS run_signals (
    run_id    TEXT    NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    seq       INTEGER NOT NULL,
    symbol    TEXT    NOT NULL,
    ts        INTEGER NOT NULL,
    direction TEXT    NOT NULL,
    price     REAL    NOT NULL,
    strength  REAL    NOT NULL,
    reason    TEXT    NOT NULL,
    executed  INTEGER NOT NULL,
    PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS run_equity (
    run_id   TEXT    NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    ts       INTEGER NOT NULL,
    equity   REAL    NOT NULL,
    drawdown REAL    NOT NULL,
    PRIMARY KEY (run_id, ts)
);

CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at DESC);
`

// timeLayout sorts lexicographically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements RunStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %q: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // single writer

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// RunStore implementation
// ---------------------------------------------------------------------------

// SaveRun inserts run and its ledger in one transaction. A missing ID is
// generated.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *Run) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	cfg, err := json.Marshal(run.Config)
	if err != nil {
		return "", fmt.Errorf("encoding config: %w", err)
	}
	m, err := json.Marshal(run.Metrics)
	if err != nil {
		return "", fmt.Errorf("encoding metrics: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, created_at, kind, strategy, symbols, config, initial_capital, final_equity, metrics)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.CreatedAt.UTC().Format(timeLayout), run.Kind, run.Strategy, strings.Join(run.Symbols, ","),
		string(cfg), run.InitialCapital, run.FinalEquity, string(m),
	); err != nil {
		return "", fmt.Errorf("inserting run: %w", err)
	}

	for i, t := range run.Trades {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_trades (run_id, seq, symbol, side, entry_ts, exit_ts, entry_price, exit_price, quantity,
			 entry_commission, exit_commission, dividend_income, pnl, return_pct, entry_reason, exit_reason)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, i, t.Symbol, string(t.Side), t.EntryTimestamp, t.ExitTimestamp, t.EntryPrice, t.ExitPrice,
			t.Quantity, t.EntryCommission, t.ExitCommission, t.DividendIncome, t.PnL, t.ReturnPct,
			t.EntrySignal.Reason, t.ExitSignal.Reason,
		); err != nil {
			return "", fmt.Errorf("inserting trade %d: %w", i, err)
		}
	}

	for i, r := range run.Signals {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_signals (run_id, seq, symbol, ts, direction, price, strength, reason, executed)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, i, r.Symbol, r.Signal.Timestamp, string(r.Signal.Direction), r.Signal.Price,
			r.Signal.Strength, r.Signal.Reason, r.Executed,
		); err != nil {
			return "", fmt.Errorf("inserting signal %d: %w", i, err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO run_equity (run_id, ts, equity, drawdown) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("preparing equity insert: %w", err)
	}
	defer stmt.Close()
	for _, p := range run.Equity {
		if _, err := stmt.ExecContext(ctx, run.ID, p.Timestamp, p.Equity, p.Drawdown); err != nil {
			return "", fmt.Errorf("inserting equity point: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing run: %w", err)
	}
	return run.ID, nil
}

// ListRuns returns the most recent runs, newest first, up to limit.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, kind, strategy, symbols, config, initial_capital, final_equity, metrics
		 FROM runs ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r                               Run
			created, symbols, cfg, mMetrics string
		)
		if err := rows.Scan(&r.ID, &created, &r.Kind, &r.Strategy, &symbols, &cfg,
			&r.InitialCapital, &r.FinalEquity, &mMetrics); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		if r.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return nil, fmt.Errorf("parsing created_at of run %s: %w", r.ID, err)
		}
		if symbols != "" {
			r.Symbols = strings.Split(symbols, ",")
		}
		r.Config = json.RawMessage(cfg)
		if err := json.Unmarshal([]byte(mMetrics), &r.Metrics); err != nil {
			return nil, fmt.Errorf("decoding metrics of run %s: %w", r.ID, err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RunTrades returns the trades of run id in ledger order.
func (s *SQLiteStore) RunTrades(ctx context.Context, id string) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT symbol, side, entry_ts, exit_ts, entry_price, exit_price, quantity, entry_commission,
		        exit_commission, dividend_income, pnl, return_pct, entry_reason, exit_reason
		 FROM run_trades WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("querying trades of run %s: %w", id, err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var (
			t    domain.Trade
			side string
		)
		if err := rows.Scan(&t.Symbol, &side, &t.EntryTimestamp, &t.ExitTimestamp, &t.EntryPrice, &t.ExitPrice,
			&t.Quantity, &t.EntryCommission, &t.ExitCommission, &t.DividendIncome, &t.PnL, &t.ReturnPct,
			&t.EntrySignal.Reason, &t.ExitSignal.Reason); err != nil {
			return nil, fmt.Errorf("scanning trade: %w", err)
		}
		t.Side = domain.PositionSide(side)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// RunEquity returns the equity curve of run id.
func (s *SQLiteStore) RunEquity(ctx context.Context, id string) ([]domain.EquityPoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, equity, drawdown FROM run_equity WHERE run_id = ? ORDER BY ts`, id)
	if err != nil {
		return nil, fmt.Errorf("querying equity of run %s: %w", id, err)
	}
	defer rows.Close()

	var points []domain.EquityPoint
	for rows.Next() {
		var p domain.EquityPoint
		if err := rows.Scan(&p.Timestamp, &p.Equity, &p.Drawdown); err != nil {
			return nil, fmt.Errorf("scanning equity point: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}
