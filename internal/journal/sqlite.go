package journal

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"fx-session-lab/internal/domain"
)

// SQLite persists the journal to a local SQLite database.
type SQLite struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenSQLite opens (or creates) the journal database and runs migrations.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode so status reads do not block the tick writer.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	j := &SQLite{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return j, nil
}

func (j *SQLite) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ticks (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp    INTEGER NOT NULL,
			strategy_id  TEXT NOT NULL,
			signal       TEXT,
			action       TEXT,
			session      TEXT,
			trades_today INTEGER,
			error        TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ticks_ts ON ticks(timestamp)`,

		`CREATE TABLE IF NOT EXISTS orders (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp       INTEGER NOT NULL,
			strategy_id     TEXT NOT NULL,
			entry_date      TEXT NOT NULL,
			session         TEXT NOT NULL,
			direction       TEXT NOT NULL,
			units           INTEGER NOT NULL,
			entry_price     REAL NOT NULL,
			take_profit     REAL NOT NULL,
			stop_loss       REAL,
			broker_trade_id TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_strategy_date ON orders(strategy_id, entry_date)`,

		`CREATE TABLE IF NOT EXISTS closes (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp       INTEGER NOT NULL,
			strategy_id     TEXT NOT NULL,
			broker_trade_id TEXT,
			reason          TEXT NOT NULL,
			price           REAL,
			pips            REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_closes_ts ON closes(timestamp)`,
	}

	for _, s := range stmts {
		if _, err := j.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

// RecordTick appends one tick row.
func (j *SQLite) RecordTick(ctx context.Context, entry *TickEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.ExecContext(ctx, `INSERT INTO ticks
		(timestamp, strategy_id, signal, action, session, trades_today, error)
		VALUES (?,?,?,?,?,?,?)`,
		entry.Time.Unix(), entry.StrategyID, string(entry.Signal), entry.Action,
		string(entry.Session), entry.TradesToday, entry.Error,
	)
	return err
}

// RecordOrder appends one accepted-order row.
func (j *SQLite) RecordOrder(ctx context.Context, entry *OrderEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var stopLoss any
	if entry.StopLoss != nil {
		stopLoss = *entry.StopLoss
	}

	_, err := j.db.ExecContext(ctx, `INSERT INTO orders
		(timestamp, strategy_id, entry_date, session, direction, units,
		 entry_price, take_profit, stop_loss, broker_trade_id)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		entry.Time.Unix(), entry.StrategyID, dayKey(entry.EntryDate),
		string(entry.Session), string(entry.Direction), entry.Units,
		entry.EntryPrice, entry.TakeProfit, stopLoss, entry.BrokerTradeID,
	)
	return err
}

// RecordClose appends one close row.
func (j *SQLite) RecordClose(ctx context.Context, entry *CloseEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.ExecContext(ctx, `INSERT INTO closes
		(timestamp, strategy_id, broker_trade_id, reason, price, pips)
		VALUES (?,?,?,?,?,?)`,
		entry.Time.Unix(), entry.StrategyID, entry.BrokerTradeID,
		entry.Reason, entry.Price, entry.Pips,
	)
	return err
}

// TradesOpenedOn counts orders recorded for a strategy on the given day.
func (j *SQLite) TradesOpenedOn(ctx context.Context, strategyID string, date time.Time) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var count int
	err := j.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orders WHERE strategy_id = ? AND entry_date = ?`,
		strategyID, dayKey(date),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return count, nil
}

// Close closes the underlying database.
func (j *SQLite) Close() error {
	return j.db.Close()
}

func dayKey(t time.Time) string {
	return domain.Day(t).Format("2006-01-02")
}

var _ Journal = (*SQLite)(nil)
