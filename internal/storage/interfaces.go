package storage

import (
	"context"
	"time"

	"fx-session-lab/internal/domain"
)

// TradeStore provides access to closed-trade storage.
type TradeStore interface {
	// Insert adds a new trade. Returns ErrDuplicateKey if trade_id exists.
	Insert(ctx context.Context, t *domain.Trade) error

	// InsertBulk adds multiple trades atomically. Fails entire batch on any duplicate.
	InsertBulk(ctx context.Context, trades []*domain.Trade) error

	// GetByID retrieves a trade by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, tradeID string) (*domain.Trade, error)

	// GetByStrategy retrieves all trades for a strategy, ordered by entry_date ASC.
	GetByStrategy(ctx context.Context, strategyID string) ([]*domain.Trade, error)

	// GetByDate retrieves a strategy's trades entered on the given day.
	GetByDate(ctx context.Context, strategyID string, date time.Time) ([]*domain.Trade, error)
}

// EquityStore provides access to equity curve storage.
type EquityStore interface {
	// InsertBulk adds multiple points. Fails entire batch on duplicate (strategy_id, date).
	InsertBulk(ctx context.Context, points []*domain.EquityPoint) error

	// GetCurve retrieves all points for a strategy, ordered by date ASC.
	GetCurve(ctx context.Context, strategyID string) ([]*domain.EquityPoint, error)
}

// CandleStore provides access to daily candle storage.
type CandleStore interface {
	// InsertBulk adds multiple candles. Fails entire batch on duplicate (instrument, date).
	InsertBulk(ctx context.Context, instrument string, candles []*domain.Candle) error

	// GetByInstrument retrieves all candles for an instrument, ordered by date ASC.
	GetByInstrument(ctx context.Context, instrument string) ([]*domain.Candle, error)

	// GetByDateRange retrieves candles for an instrument within [start, end] (inclusive).
	GetByDateRange(ctx context.Context, instrument string, start, end time.Time) ([]*domain.Candle, error)
}
