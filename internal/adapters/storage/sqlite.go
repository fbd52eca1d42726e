package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alejandrodnm/perpbot/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS paper_trades (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id  TEXT NOT NULL,
    order_id    TEXT NOT NULL,
    instrument  TEXT NOT NULL,
    side        TEXT NOT NULL,
    price       REAL NOT NULL,
    quantity    REAL NOT NULL,
    fee         REAL NOT NULL DEFAULT 0,
    executed_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS funding_events (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id   TEXT NOT NULL,
    instrument   TEXT NOT NULL,
    funding_rate REAL NOT NULL,
    payment      REAL NOT NULL,
    settled_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS equity_snapshots (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    equity     REAL NOT NULL,
    taken_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS risk_profile_journal (
    id                 INTEGER PRIMARY KEY AUTOINCREMENT,
    operator           TEXT NOT NULL,
    profile            TEXT NOT NULL,
    max_drawdown_pct   REAL NOT NULL,
    order_size_cap     REAL NOT NULL,
    daily_loss_limit   REAL NOT NULL,
    max_strategies     INTEGER NOT NULL,
    applied_at         DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_instrument ON paper_trades(instrument, executed_at);
CREATE INDEX IF NOT EXISTS idx_trades_session    ON paper_trades(session_id);
CREATE INDEX IF NOT EXISTS idx_funding_instr     ON funding_events(instrument, settled_at);
CREATE INDEX IF NOT EXISTS idx_equity_session    ON equity_snapshots(session_id, taken_at);
`

// Retention: a long-running deployment accumulates trades and snapshots
// continuously; prune on start keeps the file bounded.
const (
	retentionTrades = 90 * 24 * time.Hour
	retentionEquity = 30 * 24 * time.Hour
)

// SQLiteStorage implements ports.TradeStorage on SQLite (pure Go, no CGo).
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens (or creates) the database at path, applies the
// schema and prunes old rows.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}

	s := &SQLiteStorage{db: db}
	s.pruneOld(context.Background())
	return s, nil
}

// RecordTrade appends one fill.
func (s *SQLiteStorage) RecordTrade(ctx context.Context, sessionID string, fill domain.Fill) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO paper_trades (session_id, order_id, instrument, side, price, quantity, fee, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, fill.OrderID, fill.Instrument, string(fill.Side),
		fill.Price, fill.Quantity, fill.Fee, fill.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage.RecordTrade: %w", err)
	}
	return nil
}

// RecordSettlement appends one funding settlement.
func (s *SQLiteStorage) RecordSettlement(ctx context.Context, sessionID string, rec domain.FundingRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO funding_events (session_id, instrument, funding_rate, payment, settled_at)
		 VALUES (?, ?, ?, ?, ?)`,
		sessionID, rec.Instrument, rec.FundingRate, rec.Payment, rec.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage.RecordSettlement: %w", err)
	}
	return nil
}

// RecordEquity appends one equity snapshot.
func (s *SQLiteStorage) RecordEquity(ctx context.Context, sessionID string, at time.Time, equity float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO equity_snapshots (session_id, equity, taken_at) VALUES (?, ?, ?)`,
		sessionID, equity, at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage.RecordEquity: %w", err)
	}
	return nil
}

// TradesBetween returns the fills for an instrument in the time range,
// oldest first.
func (s *SQLiteStorage) TradesBetween(ctx context.Context, instrument string, from, to time.Time) ([]domain.Fill, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, instrument, side, price, quantity, fee, executed_at
		FROM paper_trades
		WHERE instrument = ? AND executed_at BETWEEN ? AND ?
		ORDER BY executed_at ASC
	`, instrument, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("storage.TradesBetween: query: %w", err)
	}
	defer rows.Close()

	var fills []domain.Fill
	for rows.Next() {
		var f domain.Fill
		var side string
		if err := rows.Scan(&f.OrderID, &f.Instrument, &side, &f.Price, &f.Quantity, &f.Fee, &f.Timestamp); err != nil {
			return nil, fmt.Errorf("storage.TradesBetween: scan row: %w", err)
		}
		f.Side = domain.Side(side)
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// SettlementsBetween returns funding events for an instrument in the time
// range, oldest first.
func (s *SQLiteStorage) SettlementsBetween(ctx context.Context, instrument string, from, to time.Time) ([]domain.FundingRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT instrument, funding_rate, payment, settled_at
		FROM funding_events
		WHERE instrument = ? AND settled_at BETWEEN ? AND ?
		ORDER BY settled_at ASC
	`, instrument, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("storage.SettlementsBetween: query: %w", err)
	}
	defer rows.Close()

	var recs []domain.FundingRecord
	for rows.Next() {
		var r domain.FundingRecord
		if err := rows.Scan(&r.Instrument, &r.FundingRate, &r.Payment, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("storage.SettlementsBetween: scan row: %w", err)
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// JournalProfileChange records who applied which risk profile, with the
// effective (already clamped) limits.
func (s *SQLiteStorage) JournalProfileChange(ctx context.Context, operator, profile string, limits domain.RiskLimits) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO risk_profile_journal
			(operator, profile, max_drawdown_pct, order_size_cap, daily_loss_limit, max_strategies, applied_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		operator, profile, limits.MaxDrawdownPct, limits.SingleOrderSizeCap,
		limits.DailyLossLimit, limits.MaxConcurrentStrategies, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage.JournalProfileChange: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// pruneOld removes aged rows to keep the database light.
func (s *SQLiteStorage) pruneOld(ctx context.Context) {
	cutoffTrades := time.Now().UTC().Add(-retentionTrades)
	cutoffEquity := time.Now().UTC().Add(-retentionEquity)
	s.db.ExecContext(ctx, `DELETE FROM paper_trades WHERE executed_at < ?`, cutoffTrades)
	s.db.ExecContext(ctx, `DELETE FROM funding_events WHERE settled_at < ?`, cutoffTrades)
	s.db.ExecContext(ctx, `DELETE FROM equity_snapshots WHERE taken_at < ?`, cutoffEquity)
}
