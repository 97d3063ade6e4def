package journal

import (
	"context"
	"time"

	"fx-session-lab/internal/domain"
)

// TickEntry records one decision tick of the live engine.
type TickEntry struct {
	Time        time.Time
	StrategyID  string
	Signal      domain.Signal
	Action      string
	Session     domain.Session
	TradesToday int
	Error       string
}

// OrderEntry records an accepted market order.
type OrderEntry struct {
	Time          time.Time
	StrategyID    string
	EntryDate     time.Time
	Session       domain.Session
	Direction     domain.Direction
	Units         int
	EntryPrice    float64
	TakeProfit    float64
	StopLoss      *float64
	BrokerTradeID string
}

// CloseEntry records a position close.
type CloseEntry struct {
	Time          time.Time
	StrategyID    string
	BrokerTradeID string
	Reason        string
	Price         float64
	Pips          float64
}

// Journal persists live-engine activity. Its only read path,
// TradesOpenedOn, seeds the daily trade counter after a restart.
type Journal interface {
	RecordTick(ctx context.Context, entry *TickEntry) error
	RecordOrder(ctx context.Context, entry *OrderEntry) error
	RecordClose(ctx context.Context, entry *CloseEntry) error
	TradesOpenedOn(ctx context.Context, strategyID string, date time.Time) (int, error)
	Close() error
}

// Noop is a no-op journal used when no journal path is configured.
type Noop struct{}

// NewNoop creates a no-op journal.
func NewNoop() *Noop { return &Noop{} }

func (n *Noop) RecordTick(_ context.Context, _ *TickEntry) error   { return nil }
func (n *Noop) RecordOrder(_ context.Context, _ *OrderEntry) error { return nil }
func (n *Noop) RecordClose(_ context.Context, _ *CloseEntry) error { return nil }
func (n *Noop) TradesOpenedOn(_ context.Context, _ string, _ time.Time) (int, error) {
	return 0, nil
}
func (n *Noop) Close() error { return nil }

var _ Journal = (*Noop)(nil)
