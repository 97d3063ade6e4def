package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"fx-session-lab/internal/domain"
	"fx-session-lab/internal/storage"
)

// TradeStore implements storage.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *Pool
}

// NewTradeStore creates a new TradeStore.
func NewTradeStore(pool *Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeStore = (*TradeStore)(nil)

const insertTradeQuery = `
	INSERT INTO trades (
		trade_id, instrument, strategy_id, entry_date, session,
		direction, entry_price, exit_price, exit_reason, pips
	) VALUES (
		$1, $2, $3, $4, $5,
		$6, $7, $8, $9, $10
	)
`

const selectTradeColumns = `
	trade_id, instrument, strategy_id, entry_date, session,
	direction, entry_price, exit_price, exit_reason, pips
`

// Insert adds a new trade. Returns ErrDuplicateKey if trade_id exists.
func (s *TradeStore) Insert(ctx context.Context, t *domain.Trade) error {
	_, err := s.pool.Exec(ctx, insertTradeQuery,
		t.TradeID, t.Instrument, t.StrategyID, domain.Day(t.EntryDate), t.Session,
		t.Direction, t.EntryPrice, t.ExitPrice, t.ExitReason, t.Pips,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// InsertBulk adds multiple trades atomically. Fails entire batch on any duplicate.
func (s *TradeStore) InsertBulk(ctx context.Context, trades []*domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, t := range trades {
		_, err := tx.Exec(ctx, insertTradeQuery,
			t.TradeID, t.Instrument, t.StrategyID, domain.Day(t.EntryDate), t.Session,
			t.Direction, t.EntryPrice, t.ExitPrice, t.ExitReason, t.Pips,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert trade in bulk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetByID retrieves a trade by its ID. Returns ErrNotFound if not exists.
func (s *TradeStore) GetByID(ctx context.Context, tradeID string) (*domain.Trade, error) {
	query := `SELECT` + selectTradeColumns + `FROM trades WHERE trade_id = $1`

	row := s.pool.QueryRow(ctx, query, tradeID)
	t, err := scanTrade(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get trade by id: %w", err)
	}
	return t, nil
}

// GetByStrategy retrieves all trades for a strategy, ordered by entry_date ASC.
func (s *TradeStore) GetByStrategy(ctx context.Context, strategyID string) ([]*domain.Trade, error) {
	query := `
		SELECT` + selectTradeColumns + `
		FROM trades
		WHERE strategy_id = $1
		ORDER BY entry_date ASC, session ASC, trade_id ASC
	`

	rows, err := s.pool.Query(ctx, query, strategyID)
	if err != nil {
		return nil, fmt.Errorf("get trades by strategy: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// GetByDate retrieves a strategy's trades entered on the given day.
func (s *TradeStore) GetByDate(ctx context.Context, strategyID string, date time.Time) ([]*domain.Trade, error) {
	query := `
		SELECT` + selectTradeColumns + `
		FROM trades
		WHERE strategy_id = $1 AND entry_date = $2
		ORDER BY session ASC, trade_id ASC
	`

	rows, err := s.pool.Query(ctx, query, strategyID, domain.Day(date))
	if err != nil {
		return nil, fmt.Errorf("get trades by date: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// scanTrade scans a single row into a Trade.
func scanTrade(row pgx.Row) (*domain.Trade, error) {
	var t domain.Trade
	var entryDate time.Time

	err := row.Scan(
		&t.TradeID, &t.Instrument, &t.StrategyID, &entryDate, &t.Session,
		&t.Direction, &t.EntryPrice, &t.ExitPrice, &t.ExitReason, &t.Pips,
	)
	if err != nil {
		return nil, err
	}

	t.EntryDate = domain.Day(entryDate)
	return &t, nil
}

// scanTrades scans multiple rows into a slice of Trade.
func scanTrades(rows pgx.Rows) ([]*domain.Trade, error) {
	var trades []*domain.Trade

	for rows.Next() {
		var t domain.Trade
		var entryDate time.Time

		err := rows.Scan(
			&t.TradeID, &t.Instrument, &t.StrategyID, &entryDate, &t.Session,
			&t.Direction, &t.EntryPrice, &t.ExitPrice, &t.ExitReason, &t.Pips,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}

		t.EntryDate = domain.Day(entryDate)
		trades = append(trades, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade rows: %w", err)
	}

	return trades, nil
}
