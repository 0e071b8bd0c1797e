package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	confidence INTEGER NOT NULL,
	reasoning TEXT NOT NULL,
	order_id TEXT NOT NULL DEFAULT '',
	quantity REAL NOT NULL DEFAULT 0,
	avg_price REAL NOT NULL DEFAULT 0,
	quote_usd REAL NOT NULL DEFAULT 0,
	executed INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_trades_ts ON trades(ts);

CREATE TABLE IF NOT EXISTS recommendations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts TEXT NOT NULL,
	symbol TEXT NOT NULL,
	action TEXT NOT NULL,
	amount_usd REAL NOT NULL DEFAULT 0,
	reasoning TEXT NOT NULL,
	status TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_recommendations_ts ON recommendations(ts);
`

// SQLite implements Recorder on a local database file with WAL enabled.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("recorder dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) RecordTrade(ctx context.Context, row TradeRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (ts, symbol, side, confidence, reasoning, order_id,
			quantity, avg_price, quote_usd, executed, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.TS.UTC().Format(time.RFC3339), row.Symbol, row.Side, row.Confidence,
		row.Reasoning, row.OrderID, row.Quantity, row.AvgPrice, row.QuoteUSD,
		boolToInt(row.Executed), row.Error)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

func (s *SQLite) RecordRecommendation(ctx context.Context, row RecommendationRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recommendations (ts, symbol, action, amount_usd, reasoning, status, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		row.TS.UTC().Format(time.RFC3339), row.Symbol, row.Action,
		row.AmountUSD, row.Reasoning, row.Status, row.Reason)
	if err != nil {
		return fmt.Errorf("insert recommendation: %w", err)
	}
	return nil
}

// TradesByDate returns all trades stamped on a UTC date (YYYY-MM-DD),
// oldest first.
func (s *SQLite) TradesByDate(ctx context.Context, date string) ([]TradeRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, symbol, side, confidence, reasoning, order_id,
			quantity, avg_price, quote_usd, executed, error
		FROM trades WHERE ts >= ? AND ts < ? ORDER BY id`,
		date+"T00:00:00Z", date+"T23:59:59.999Z")
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []TradeRow
	for rows.Next() {
		var r TradeRow
		var ts string
		var executed int
		if err := rows.Scan(&r.ID, &ts, &r.Symbol, &r.Side, &r.Confidence,
			&r.Reasoning, &r.OrderID, &r.Quantity, &r.AvgPrice, &r.QuoteUSD,
			&executed, &r.Error); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		r.TS, _ = time.Parse(time.RFC3339, ts)
		r.Executed = executed != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecentRecommendations returns the newest rows first, up to limit.
func (s *SQLite) RecentRecommendations(ctx context.Context, limit int) ([]RecommendationRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, symbol, action, amount_usd, reasoning, status, reason
		FROM recommendations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recommendations: %w", err)
	}
	defer rows.Close()

	var out []RecommendationRow
	for rows.Next() {
		var r RecommendationRow
		var ts string
		if err := rows.Scan(&r.ID, &ts, &r.Symbol, &r.Action, &r.AmountUSD,
			&r.Reasoning, &r.Status, &r.Reason); err != nil {
			return nil, fmt.Errorf("scan recommendation: %w", err)
		}
		r.TS, _ = time.Parse(time.RFC3339, ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLite) Close() error { return s.db.Close() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
