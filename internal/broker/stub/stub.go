// Package stub implements broker.Client for tests. It keeps scripted
// candles, a current quote, and an in-memory position book that orders and
// closes mutate, so multi-tick engine tests see the same position between
// ticks that a real broker would report.
package stub

import (
	"context"
	"strconv"

	"fx-session-lab/internal/broker"
	"fx-session-lab/internal/domain"
)

// Client implements broker.Client for testing.
type Client struct {
	Candles   []domain.Candle
	Price     *broker.Price
	Positions []broker.Position
	Summary   *broker.AccountSummary

	// Recorded calls.
	Orders []broker.OrderRequest
	Closes []string

	// Injected failures, returned as-is when set.
	FetchErr     error
	PriceErr     error
	PositionsErr error
	PlaceErr     error
	CloseErr     error
	SummaryErr   error

	nextTradeID int
}

var _ broker.Client = (*Client)(nil)

// New creates an empty stub client.
func New() *Client {
	return &Client{}
}

// FetchDailyCandles returns the last count scripted candles.
func (c *Client) FetchDailyCandles(_ context.Context, _ string, count int) ([]domain.Candle, error) {
	if c.FetchErr != nil {
		return nil, c.FetchErr
	}
	candles := c.Candles
	if count < len(candles) {
		candles = candles[len(candles)-count:]
	}
	out := make([]domain.Candle, len(candles))
	copy(out, candles)
	return out, nil
}

// GetCurrentPrice returns the scripted quote.
func (c *Client) GetCurrentPrice(_ context.Context, instrument string) (*broker.Price, error) {
	if c.PriceErr != nil {
		return nil, c.PriceErr
	}
	if c.Price == nil {
		return nil, &broker.CommunicationError{Op: "pricing", Err: context.DeadlineExceeded}
	}
	p := *c.Price
	p.Instrument = instrument
	return &p, nil
}

// GetOpenPositions returns the position book entries for an instrument.
func (c *Client) GetOpenPositions(_ context.Context, instrument string) ([]broker.Position, error) {
	if c.PositionsErr != nil {
		return nil, c.PositionsErr
	}
	var out []broker.Position
	for _, p := range c.Positions {
		if p.Instrument == instrument {
			out = append(out, p)
		}
	}
	return out, nil
}

// PlaceMarketOrder records the order and books a position at the current
// quote's mid price.
func (c *Client) PlaceMarketOrder(_ context.Context, req broker.OrderRequest) (*broker.OrderResult, error) {
	if c.PlaceErr != nil {
		return nil, c.PlaceErr
	}

	c.Orders = append(c.Orders, req)

	var entry float64
	if c.Price != nil {
		entry = c.Price.Mid()
	}

	c.nextTradeID++
	id := "stub-" + strconv.Itoa(c.nextTradeID)

	pos := broker.Position{
		BrokerTradeID: id,
		Instrument:    req.Instrument,
		Direction:     req.Direction,
		Units:         req.Units,
		EntryPrice:    entry,
	}
	if c.Price != nil {
		pos.OpenedAt = c.Price.Time
	}
	c.Positions = append(c.Positions, pos)

	result := &broker.OrderResult{
		BrokerTradeID: id,
		Instrument:    req.Instrument,
		Units:         req.Units,
		Price:         entry,
	}
	if c.Price != nil {
		result.Time = c.Price.Time
	}
	return result, nil
}

// ClosePosition removes the instrument's positions from the book.
func (c *Client) ClosePosition(_ context.Context, instrument string) (*broker.CloseResult, error) {
	if c.CloseErr != nil {
		return nil, c.CloseErr
	}

	c.Closes = append(c.Closes, instrument)

	result := &broker.CloseResult{}
	var kept []broker.Position
	for _, p := range c.Positions {
		if p.Instrument != instrument {
			kept = append(kept, p)
			continue
		}
		result.BrokerTradeIDs = append(result.BrokerTradeIDs, p.BrokerTradeID)
	}

	if len(result.BrokerTradeIDs) == 0 {
		return nil, &broker.RejectedError{Op: "close position", Reason: "no open position on " + instrument}
	}

	c.Positions = kept
	if c.Price != nil {
		result.Price = c.Price.Mid()
		result.Time = c.Price.Time
	}
	return result, nil
}

// AccountSummary returns the scripted summary, or a minimal one when none
// is set.
func (c *Client) AccountSummary(_ context.Context) (*broker.AccountSummary, error) {
	if c.SummaryErr != nil {
		return nil, c.SummaryErr
	}
	if c.Summary == nil {
		return &broker.AccountSummary{AccountID: "stub", Currency: "USD", OpenTradeCount: len(c.Positions)}, nil
	}
	s := *c.Summary
	s.OpenTradeCount = len(c.Positions)
	return &s, nil
}

// AddPosition books a position the stub did not originate, as when a prior
// run's order is still open broker-side.
func (c *Client) AddPosition(p broker.Position) {
	c.Positions = append(c.Positions, p)
}

// RemovePosition drops a position by broker trade ID, simulating a
// broker-side close such as a TP fill.
func (c *Client) RemovePosition(brokerTradeID string) {
	var kept []broker.Position
	for _, p := range c.Positions {
		if p.BrokerTradeID != brokerTradeID {
			kept = append(kept, p)
		}
	}
	c.Positions = kept
}
