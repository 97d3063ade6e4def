// Package broker defines the trading-side client interface the live engine
// drives. internal/broker/oanda implements it against the OANDA v20 REST
// API; internal/broker/stub implements it for tests.
package broker

import (
	"context"
	"time"

	"fx-session-lab/internal/domain"
)

// Client is the broker surface the engine depends on.
type Client interface {
	// FetchDailyCandles retrieves the most recent complete daily candles
	// for an instrument, oldest first. Incomplete (in-progress) candles
	// are never returned.
	FetchDailyCandles(ctx context.Context, instrument string, count int) ([]domain.Candle, error)

	// GetCurrentPrice retrieves the current bid/ask quote.
	GetCurrentPrice(ctx context.Context, instrument string) (*Price, error)

	// GetOpenPositions retrieves the open broker-side trades for an
	// instrument, one entry per broker trade ID.
	GetOpenPositions(ctx context.Context, instrument string) ([]Position, error)

	// PlaceMarketOrder submits a market order with the exit levels
	// attached on fill. A broker rejection is returned as *RejectedError
	// and is never retried.
	PlaceMarketOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)

	// ClosePosition closes the open position on an instrument. Closing
	// with nothing open is a rejection.
	ClosePosition(ctx context.Context, instrument string) (*CloseResult, error)

	// AccountSummary retrieves the account status surface.
	AccountSummary(ctx context.Context) (*AccountSummary, error)
}

// Price is a point-in-time bid/ask quote.
type Price struct {
	Instrument string
	Bid        float64
	Ask        float64
	Time       time.Time
}

// Mid returns the bid/ask midpoint, the price decisions are made against.
func (p *Price) Mid() float64 {
	return (p.Bid + p.Ask) / 2
}

// Position is one open broker-side trade.
type Position struct {
	BrokerTradeID string
	Instrument    string
	Direction     domain.Direction
	Units         int
	EntryPrice    float64
	UnrealizedPL  float64
	OpenedAt      time.Time
}

// OrderRequest describes a market order. TakeProfit is required; StopLoss
// is nil in EOD-exit mode and no stop is attached.
type OrderRequest struct {
	Instrument string
	Direction  domain.Direction
	Units      int
	TakeProfit float64
	StopLoss   *float64
}

// OrderResult is a confirmed fill.
type OrderResult struct {
	BrokerTradeID string
	Instrument    string
	Units         int
	Price         float64
	Time          time.Time
}

// CloseResult is a confirmed position close.
type CloseResult struct {
	BrokerTradeIDs []string
	Price          float64
	RealizedPL     float64
	Time           time.Time
}

// AccountSummary is the broker account status surface.
type AccountSummary struct {
	AccountID      string
	Currency       string
	Balance        float64
	NAV            float64
	UnrealizedPL   float64
	OpenTradeCount int
}
