package store

import (
	"context"
	"database/sql"
	"time"

	"replaylab/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ ResultStore = (*SQLiteStore)(nil)

// SQLiteStore implements ResultStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	created_at TEXT NOT NULL,
	strategy   TEXT NOT NULL,
	config     TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS windows (
	run_id           TEXT NOT NULL REFERENCES runs(id),
	idx              INTEGER NOT NULL,
	params           TEXT NOT NULL,
	is_expectancy    REAL NOT NULL,
	is_net_pnl       REAL NOT NULL,
	oos_expectancy   REAL NOT NULL,
	oos_net_pnl      REAL NOT NULL,
	oos_max_drawdown REAL NOT NULL,
	oos_trades       INTEGER NOT NULL,
	PRIMARY KEY (run_id, idx)
);
CREATE TABLE IF NOT EXISTS trades (
	run_id      TEXT NOT NULL,
	window_idx  INTEGER NOT NULL,
	symbol      TEXT NOT NULL,
	entry_ts    TEXT NOT NULL,
	exit_ts     TEXT NOT NULL,
	qty         REAL NOT NULL,
	entry_price REAL NOT NULL,
	exit_price  REAL NOT NULL,
	fees        REAL NOT NULL,
	pnl         REAL NOT NULL
);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and ensures
// the schema exists.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveRun inserts the run header.
func (s *SQLiteStore) SaveRun(ctx context.Context, run RunRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, created_at, strategy, config) VALUES (?, ?, ?, ?)`,
		run.ID, run.CreatedAt.UTC().Format(time.RFC3339), run.Strategy, run.Config)
	return err
}

// SaveWindow inserts one window outcome.
func (s *SQLiteStore) SaveWindow(ctx context.Context, w WindowRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO windows
		 (run_id, idx, params, is_expectancy, is_net_pnl, oos_expectancy, oos_net_pnl, oos_max_drawdown, oos_trades)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.RunID, w.Index, w.Params,
		w.ISExpectancy, w.ISNetPnL,
		w.OOSExpectancy, w.OOSNetPnL, w.OOSMaxDrawdown, w.OOSTrades)
	return err
}

// SaveTrades inserts the out-of-sample trades for one window.
func (s *SQLiteStore) SaveTrades(ctx context.Context, runID string, windowIdx int, trades []domain.TradeRecord) error {
	if len(trades) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO trades
		 (run_id, window_idx, symbol, entry_ts, exit_ts, qty, entry_price, exit_price, fees, pnl)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, t := range trades {
		if _, err := stmt.ExecContext(ctx,
			runID, windowIdx, t.Symbol,
			t.EntryTime.UTC().Format(time.RFC3339), t.ExitTime.UTC().Format(time.RFC3339),
			t.Qty, t.EntryPrice, t.ExitPrice, t.Fees, t.PnL); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// ListWindows returns a run's window records ordered by index.
func (s *SQLiteStore) ListWindows(ctx context.Context, runID string) ([]WindowRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, idx, params, is_expectancy, is_net_pnl, oos_expectancy, oos_net_pnl, oos_max_drawdown, oos_trades
		 FROM windows WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WindowRecord
	for rows.Next() {
		var w WindowRecord
		if err := rows.Scan(&w.RunID, &w.Index, &w.Params,
			&w.ISExpectancy, &w.ISNetPnL,
			&w.OOSExpectancy, &w.OOSNetPnL, &w.OOSMaxDrawdown, &w.OOSTrades); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
