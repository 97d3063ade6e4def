package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"fx-session-lab/internal/broker"
	"fx-session-lab/internal/broker/stub"
	"fx-session-lab/internal/domain"
	"fx-session-lab/internal/journal"
	"fx-session-lab/internal/pricefeed"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

// at builds a March 2024 UTC timestamp.
func at(day, hour, minute int) time.Time {
	return time.Date(2024, 3, day, hour, minute, 0, 0, time.UTC)
}

// risingCandles ends well above its own SMA, so Latest yields Long.
func risingCandles(n int) []domain.Candle {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	candles := make([]domain.Candle, n)
	for i := range candles {
		price := 1.08 + float64(i)*0.0005
		candles[i] = domain.Candle{
			Date:  start.AddDate(0, 0, i),
			Open:  price,
			High:  price + 0.0010,
			Low:   price - 0.0010,
			Close: price + 0.0005,
		}
	}
	return candles
}

// fallingCandles ends well below its own SMA, so Latest yields Short.
func fallingCandles(n int) []domain.Candle {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	candles := make([]domain.Candle, n)
	for i := range candles {
		price := 1.10 - float64(i)*0.0005
		candles[i] = domain.Candle{
			Date:  start.AddDate(0, 0, i),
			Open:  price,
			High:  price + 0.0010,
			Low:   price - 0.0010,
			Close: price - 0.0005,
		}
	}
	return candles
}

func quoteAt(bid, ask float64, t time.Time) *broker.Price {
	return &broker.Price{Instrument: "EUR_USD", Bid: bid, Ask: ask, Time: t}
}

func closeTo(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func newTestEngine(t *testing.T, b *stub.Client, clk *fakeClock, mutate func(*Options)) *Engine {
	t.Helper()
	opts := Options{
		Instrument: "EUR_USD",
		Params:     domain.DefaultParams(),
		Broker:     b,
		Logger:     discardLogger(),
		Clock:      clk.Now,
	}
	if mutate != nil {
		mutate(&opts)
	}
	e, err := New(opts)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return e
}

type seededJournal struct {
	journal.Noop
	count int
	err   error
}

func (j *seededJournal) TradesOpenedOn(context.Context, string, time.Time) (int, error) {
	if j.err != nil {
		return 0, j.err
	}
	return j.count, nil
}

type capturingJournal struct {
	journal.Noop
	ticks  []*journal.TickEntry
	orders []*journal.OrderEntry
	closes []*journal.CloseEntry
}

func (j *capturingJournal) RecordTick(_ context.Context, e *journal.TickEntry) error {
	j.ticks = append(j.ticks, e)
	return nil
}

func (j *capturingJournal) RecordOrder(_ context.Context, e *journal.OrderEntry) error {
	j.orders = append(j.orders, e)
	return nil
}

func (j *capturingJournal) RecordClose(_ context.Context, e *journal.CloseEntry) error {
	j.closes = append(j.closes, e)
	return nil
}

type countingJournal struct {
	journal.Noop
	ticks atomic.Int32
}

func (j *countingJournal) RecordTick(context.Context, *journal.TickEntry) error {
	j.ticks.Add(1)
	return nil
}

type scriptedQuotes struct {
	quote pricefeed.Quote
	fresh bool
}

func (s *scriptedQuotes) Fresh(string, time.Duration) (pricefeed.Quote, bool) {
	return s.quote, s.fresh
}

func TestEngine_OpensLongInsideWindow(t *testing.T) {
	b := stub.New()
	b.Candles = risingCandles(30)
	clk := &fakeClock{t: at(26, 22, 30)}
	b.Price = quoteAt(1.0930, 1.0932, clk.t)
	e := newTestEngine(t, b, clk, nil)

	report, err := e.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error: %v", err)
	}
	if report.Action != domain.ActionOpened {
		t.Fatalf("Action = %s, want %s", report.Action, domain.ActionOpened)
	}
	if report.Signal != domain.SignalLong {
		t.Fatalf("Signal = %s, want %s", report.Signal, domain.SignalLong)
	}
	if report.Session != domain.SessionDaily {
		t.Fatalf("Session = %s, want %s", report.Session, domain.SessionDaily)
	}
	if report.TradesToday != 1 {
		t.Fatalf("TradesToday = %d, want 1", report.TradesToday)
	}

	if len(b.Orders) != 1 {
		t.Fatalf("placed %d orders, want 1", len(b.Orders))
	}
	order := b.Orders[0]
	if order.Direction != domain.DirectionLong {
		t.Fatalf("order direction = %s, want %s", order.Direction, domain.DirectionLong)
	}
	if order.Units != 1 {
		t.Fatalf("order units = %d, want 1", order.Units)
	}
	if !closeTo(order.TakeProfit, 1.0941) {
		t.Fatalf("order take profit = %v, want 1.0941", order.TakeProfit)
	}
	if order.StopLoss != nil {
		t.Fatalf("order stop loss = %v, want none", *order.StopLoss)
	}

	pos := report.Position
	if pos == nil {
		t.Fatal("report.Position = nil, want the opened position")
	}
	if !closeTo(pos.EntryPrice, 1.0931) {
		t.Fatalf("entry price = %v, want 1.0931", pos.EntryPrice)
	}
	if !pos.FlattenAt.Equal(at(27, 22, 0)) {
		t.Fatalf("FlattenAt = %v, want %v", pos.FlattenAt, at(27, 22, 0))
	}
}

func TestEngine_OpensShortOnShortSignal(t *testing.T) {
	b := stub.New()
	b.Candles = fallingCandles(30)
	clk := &fakeClock{t: at(26, 22, 30)}
	b.Price = quoteAt(1.0930, 1.0932, clk.t)
	e := newTestEngine(t, b, clk, nil)

	report, err := e.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error: %v", err)
	}
	if report.Action != domain.ActionOpened {
		t.Fatalf("Action = %s, want %s", report.Action, domain.ActionOpened)
	}
	if len(b.Orders) != 1 || b.Orders[0].Direction != domain.DirectionShort {
		t.Fatalf("orders = %+v, want one short order", b.Orders)
	}
	if !closeTo(b.Orders[0].TakeProfit, 1.0921) {
		t.Fatalf("order take profit = %v, want 1.0921", b.Orders[0].TakeProfit)
	}
}

func TestEngine_OutsideWindowDoesNothing(t *testing.T) {
	b := stub.New()
	b.Candles = risingCandles(30)
	clk := &fakeClock{t: at(26, 12, 0)}
	b.Price = quoteAt(1.0930, 1.0932, clk.t)
	e := newTestEngine(t, b, clk, nil)

	report, err := e.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error: %v", err)
	}
	if report.Action != domain.ActionNone {
		t.Fatalf("Action = %s, want %s", report.Action, domain.ActionNone)
	}
	if len(b.Orders) != 0 {
		t.Fatalf("placed %d orders outside the window, want 0", len(b.Orders))
	}
}

func TestEngine_InsufficientHistoryStaysFlat(t *testing.T) {
	b := stub.New()
	b.Candles = risingCandles(10)
	clk := &fakeClock{t: at(26, 22, 30)}
	b.Price = quoteAt(1.0930, 1.0932, clk.t)
	e := newTestEngine(t, b, clk, nil)

	report, err := e.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error: %v", err)
	}
	if report.Err != "" {
		t.Fatalf("report.Err = %q, want empty: short history is not a failure", report.Err)
	}
	if report.Signal != domain.SignalFlat {
		t.Fatalf("Signal = %s, want %s", report.Signal, domain.SignalFlat)
	}
	if len(b.Orders) != 0 {
		t.Fatalf("placed %d orders on a flat signal, want 0", len(b.Orders))
	}
}

func TestEngine_OpenPositionSkipsEntry(t *testing.T) {
	b := stub.New()
	b.Candles = risingCandles(30)
	clk := &fakeClock{t: at(26, 22, 30)}
	b.Price = quoteAt(1.0930, 1.0932, clk.t)
	e := newTestEngine(t, b, clk, nil)

	if _, err := e.RunOnce(context.Background()); err != nil {
		t.Fatalf("first RunOnce() error: %v", err)
	}

	clk.t = at(26, 22, 31)
	report, err := e.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second RunOnce() error: %v", err)
	}
	if report.Action != domain.ActionSkipped {
		t.Fatalf("Action = %s, want %s", report.Action, domain.ActionSkipped)
	}
	if len(b.Orders) != 1 {
		t.Fatalf("placed %d orders, want 1: no stacking onto an open position", len(b.Orders))
	}
	if e.CurrentPosition() == nil {
		t.Fatal("CurrentPosition() = nil, want the open position")
	}
}

func TestEngine_TakeProfitCloses(t *testing.T) {
	b := stub.New()
	b.Candles = risingCandles(30)
	clk := &fakeClock{t: at(26, 22, 30)}
	b.Price = quoteAt(1.0930, 1.0932, clk.t)
	e := newTestEngine(t, b, clk, nil)

	if _, err := e.RunOnce(context.Background()); err != nil {
		t.Fatalf("first RunOnce() error: %v", err)
	}

	clk.t = at(26, 22, 35)
	b.Price = quoteAt(1.0941, 1.0943, clk.t)
	report, err := e.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second RunOnce() error: %v", err)
	}
	if report.Action != domain.ActionClosed {
		t.Fatalf("Action = %s, want %s", report.Action, domain.ActionClosed)
	}
	if e.CurrentPosition() != nil {
		t.Fatalf("CurrentPosition() = %+v, want nil", e.CurrentPosition())
	}
	if len(b.Closes) != 1 {
		t.Fatalf("close calls = %d, want 1", len(b.Closes))
	}
	if len(b.Orders) != 1 {
		t.Fatalf("placed %d orders, want 1: the daily cap blocks a reopen", len(b.Orders))
	}
	if report.TradesToday != 1 {
		t.Fatalf("TradesToday = %d, want 1", report.TradesToday)
	}
}

func TestEngine_StopLossCloses(t *testing.T) {
	b := stub.New()
	b.Candles = risingCandles(30)
	clk := &fakeClock{t: at(26, 22, 30)}
	b.Price = quoteAt(1.0930, 1.0932, clk.t)
	jrnl := &capturingJournal{}
	e := newTestEngine(t, b, clk, func(o *Options) {
		sl := 10.0
		o.Params.StopLossPips = &sl
		o.Journal = jrnl
	})

	if _, err := e.RunOnce(context.Background()); err != nil {
		t.Fatalf("first RunOnce() error: %v", err)
	}
	if len(b.Orders) != 1 || b.Orders[0].StopLoss == nil {
		t.Fatalf("orders = %+v, want one order with a stop loss", b.Orders)
	}
	if !closeTo(*b.Orders[0].StopLoss, 1.0921) {
		t.Fatalf("order stop loss = %v, want 1.0921", *b.Orders[0].StopLoss)
	}

	clk.t = at(26, 22, 40)
	b.Price = quoteAt(1.0919, 1.0921, clk.t)
	report, err := e.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second RunOnce() error: %v", err)
	}
	if report.Action != domain.ActionClosed {
		t.Fatalf("Action = %s, want %s", report.Action, domain.ActionClosed)
	}
	if len(jrnl.closes) != 1 || jrnl.closes[0].Reason != domain.ExitReasonStopLoss {
		t.Fatalf("journaled closes = %+v, want one stop-loss close", jrnl.closes)
	}
}

func TestEngine_FlattenAtDayBoundary(t *testing.T) {
	b := stub.New()
	b.Candles = risingCandles(30)
	clk := &fakeClock{t: at(26, 22, 30)}
	b.Price = quoteAt(1.0930, 1.0932, clk.t)
	jrnl := &capturingJournal{}
	e := newTestEngine(t, b, clk, func(o *Options) { o.Journal = jrnl })

	if _, err := e.RunOnce(context.Background()); err != nil {
		t.Fatalf("first RunOnce() error: %v", err)
	}

	// Next day's boundary, with too little history for a new signal so the
	// flatten stands alone.
	b.Candles = risingCandles(10)
	clk.t = at(27, 22, 0)
	report, err := e.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second RunOnce() error: %v", err)
	}
	if report.Action != domain.ActionClosed {
		t.Fatalf("Action = %s, want %s", report.Action, domain.ActionClosed)
	}
	if e.CurrentPosition() != nil {
		t.Fatalf("CurrentPosition() = %+v, want nil", e.CurrentPosition())
	}
	if len(jrnl.closes) != 1 || jrnl.closes[0].Reason != domain.ExitReasonEndOfDay {
		t.Fatalf("journaled closes = %+v, want one end-of-day close", jrnl.closes)
	}
	if report.TradesToday != 0 {
		t.Fatalf("TradesToday = %d, want 0: closing is not an entry", report.TradesToday)
	}
}

func TestEngine_FlattenThenReenters(t *testing.T) {
	b := stub.New()
	b.Candles = risingCandles(30)
	clk := &fakeClock{t: at(26, 22, 30)}
	b.Price = quoteAt(1.0930, 1.0932, clk.t)
	e := newTestEngine(t, b, clk, nil)

	if _, err := e.RunOnce(context.Background()); err != nil {
		t.Fatalf("first RunOnce() error: %v", err)
	}

	clk.t = at(27, 22, 0)
	b.Price = quoteAt(1.0930, 1.0932, clk.t)
	report, err := e.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second RunOnce() error: %v", err)
	}
	if report.Action != domain.ActionOpened {
		t.Fatalf("Action = %s, want %s: flatten then reenter in one tick", report.Action, domain.ActionOpened)
	}
	if len(b.Closes) != 1 {
		t.Fatalf("close calls = %d, want 1", len(b.Closes))
	}
	if len(b.Orders) != 2 {
		t.Fatalf("placed %d orders, want 2", len(b.Orders))
	}
	pos := e.CurrentPosition()
	if pos == nil || pos.BrokerTradeID != "stub-2" {
		t.Fatalf("CurrentPosition() = %+v, want trade stub-2", pos)
	}
	if !pos.FlattenAt.Equal(at(28, 22, 0)) {
		t.Fatalf("FlattenAt = %v, want %v", pos.FlattenAt, at(28, 22, 0))
	}
	if report.TradesToday != 1 {
		t.Fatalf("TradesToday = %d, want 1", report.TradesToday)
	}
}

func TestEngine_AdoptsUnknownPosition(t *testing.T) {
	b := stub.New()
	b.Candles = risingCandles(10)
	clk := &fakeClock{t: at(26, 22, 30)}
	b.Price = quoteAt(1.0904, 1.0906, clk.t)
	b.AddPosition(broker.Position{
		BrokerTradeID: "ext-1",
		Instrument:    "EUR_USD",
		Direction:     domain.DirectionLong,
		Units:         1,
		EntryPrice:    1.0900,
		OpenedAt:      at(26, 22, 10),
	})
	e := newTestEngine(t, b, clk, nil)

	report, err := e.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error: %v", err)
	}
	if report.Action != domain.ActionReconciled {
		t.Fatalf("Action = %s, want %s", report.Action, domain.ActionReconciled)
	}
	pos := e.CurrentPosition()
	if pos == nil || pos.BrokerTradeID != "ext-1" {
		t.Fatalf("CurrentPosition() = %+v, want adopted trade ext-1", pos)
	}
	if !closeTo(pos.TakeProfit, 1.0910) {
		t.Fatalf("adopted take profit = %v, want 1.0910", pos.TakeProfit)
	}
	if !pos.FlattenAt.Equal(at(27, 22, 0)) {
		t.Fatalf("FlattenAt = %v, want %v", pos.FlattenAt, at(27, 22, 0))
	}
	if report.TradesToday != 1 {
		t.Fatalf("TradesToday = %d, want 1: a same-day adoption consumes the cap", report.TradesToday)
	}
}

func TestEngine_AdoptedStalePositionFlattens(t *testing.T) {
	b := stub.New()
	b.Candles = risingCandles(10)
	clk := &fakeClock{t: at(26, 12, 0)}
	b.Price = quoteAt(1.0904, 1.0906, clk.t)
	b.AddPosition(broker.Position{
		BrokerTradeID: "ext-1",
		Instrument:    "EUR_USD",
		Direction:     domain.DirectionLong,
		Units:         1,
		EntryPrice:    1.0900,
		OpenedAt:      at(25, 22, 30),
	})
	e := newTestEngine(t, b, clk, nil)

	report, err := e.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("first RunOnce() error: %v", err)
	}
	if report.Action != domain.ActionReconciled {
		t.Fatalf("Action = %s, want %s", report.Action, domain.ActionReconciled)
	}
	if report.TradesToday != 0 {
		t.Fatalf("TradesToday = %d, want 0: yesterday's position is not today's trade", report.TradesToday)
	}

	clk.t = at(26, 22, 0)
	report, err = e.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second RunOnce() error: %v", err)
	}
	if report.Action != domain.ActionClosed {
		t.Fatalf("Action = %s, want %s", report.Action, domain.ActionClosed)
	}
	if e.CurrentPosition() != nil {
		t.Fatalf("CurrentPosition() = %+v, want nil", e.CurrentPosition())
	}
}

func TestEngine_ReconcilesExternalClose(t *testing.T) {
	b := stub.New()
	b.Candles = risingCandles(30)
	clk := &fakeClock{t: at(26, 22, 30)}
	b.Price = quoteAt(1.0930, 1.0932, clk.t)
	jrnl := &capturingJournal{}
	e := newTestEngine(t, b, clk, func(o *Options) { o.Journal = jrnl })

	if _, err := e.RunOnce(context.Background()); err != nil {
		t.Fatalf("first RunOnce() error: %v", err)
	}

	// The attached take profit fills broker-side between ticks.
	b.RemovePosition("stub-1")
	clk.t = at(26, 22, 35)
	report, err := e.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second RunOnce() error: %v", err)
	}
	if report.Action != domain.ActionReconciled {
		t.Fatalf("Action = %s, want %s", report.Action, domain.ActionReconciled)
	}
	if e.CurrentPosition() != nil {
		t.Fatalf("CurrentPosition() = %+v, want nil", e.CurrentPosition())
	}
	if len(b.Orders) != 1 {
		t.Fatalf("placed %d orders, want 1: the reconciled trade still counts toward the cap", len(b.Orders))
	}
	if len(jrnl.closes) != 1 {
		t.Fatalf("journaled %d closes, want 1", len(jrnl.closes))
	}
	closed := jrnl.closes[0]
	if closed.Reason != domain.ExitReasonTakeProfit {
		t.Fatalf("close reason = %s, want %s", closed.Reason, domain.ExitReasonTakeProfit)
	}
	if !closeTo(closed.Price, 1.0941) {
		t.Fatalf("close price = %v, want the take profit level 1.0941", closed.Price)
	}
	if !closeTo(closed.Pips, 8.0) {
		t.Fatalf("close pips = %v, want 8.0 net of cost", closed.Pips)
	}
}

func TestEngine_TwoBrokerPositionsHalt(t *testing.T) {
	b := stub.New()
	b.Candles = risingCandles(30)
	clk := &fakeClock{t: at(26, 22, 30)}
	b.Price = quoteAt(1.0930, 1.0932, clk.t)
	for _, id := range []string{"ext-1", "ext-2"} {
		b.AddPosition(broker.Position{
			BrokerTradeID: id,
			Instrument:    "EUR_USD",
			Direction:     domain.DirectionLong,
			Units:         1,
			EntryPrice:    1.0900,
			OpenedAt:      at(26, 22, 10),
		})
	}
	e := newTestEngine(t, b, clk, nil)

	report, err := e.RunOnce(context.Background())
	if err == nil {
		t.Fatal("RunOnce() error = nil, want an invariant violation")
	}
	var violation *InvariantViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("error = %v, want InvariantViolationError", err)
	}
	if report.Err == "" {
		t.Fatal("report.Err is empty, want the violation recorded")
	}
	if len(b.Orders) != 0 {
		t.Fatalf("placed %d orders after a violation, want 0", len(b.Orders))
	}
}

func TestEngine_MismatchedTradeHalts(t *testing.T) {
	b := stub.New()
	b.Candles = risingCandles(30)
	clk := &fakeClock{t: at(26, 22, 30)}
	b.Price = quoteAt(1.0930, 1.0932, clk.t)
	e := newTestEngine(t, b, clk, nil)

	if _, err := e.RunOnce(context.Background()); err != nil {
		t.Fatalf("first RunOnce() error: %v", err)
	}

	b.RemovePosition("stub-1")
	b.AddPosition(broker.Position{
		BrokerTradeID: "ext-9",
		Instrument:    "EUR_USD",
		Direction:     domain.DirectionShort,
		Units:         1,
		EntryPrice:    1.0935,
		OpenedAt:      at(26, 22, 32),
	})

	clk.t = at(26, 22, 35)
	_, err := e.RunOnce(context.Background())
	var violation *InvariantViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("error = %v, want InvariantViolationError", err)
	}
}

func TestEngine_BrokerOutageSkipsTick(t *testing.T) {
	b := stub.New()
	b.Candles = risingCandles(30)
	clk := &fakeClock{t: at(26, 22, 30)}
	b.Price = quoteAt(1.0930, 1.0932, clk.t)
	b.PositionsErr = &broker.CommunicationError{Op: "open trades", Err: errors.New("connection refused")}
	e := newTestEngine(t, b, clk, nil)

	report, err := e.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error: %v, want nil: outages are recovered", err)
	}
	if !strings.Contains(report.Err, "reconcile") {
		t.Fatalf("report.Err = %q, want a reconcile failure", report.Err)
	}
	if report.Action != domain.ActionNone {
		t.Fatalf("Action = %s, want %s", report.Action, domain.ActionNone)
	}
	if len(b.Orders) != 0 {
		t.Fatalf("placed %d orders during an outage, want 0", len(b.Orders))
	}

	// The next tick proceeds once the broker is back.
	b.PositionsErr = nil
	clk.t = at(26, 22, 31)
	report, err = e.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second RunOnce() error: %v", err)
	}
	if report.Action != domain.ActionOpened {
		t.Fatalf("Action = %s, want %s", report.Action, domain.ActionOpened)
	}
}

func TestEngine_RejectedOrderDoesNotCount(t *testing.T) {
	b := stub.New()
	b.Candles = risingCandles(30)
	clk := &fakeClock{t: at(26, 22, 30)}
	b.Price = quoteAt(1.0930, 1.0932, clk.t)
	b.PlaceErr = &broker.RejectedError{Op: "market order", Reason: "MARKET_HALTED"}
	e := newTestEngine(t, b, clk, nil)

	report, err := e.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error: %v, want nil: rejections are recovered", err)
	}
	if !strings.Contains(report.Err, "market order") {
		t.Fatalf("report.Err = %q, want the rejected order", report.Err)
	}
	if report.TradesToday != 0 {
		t.Fatalf("TradesToday = %d, want 0: rejections never consume the cap", report.TradesToday)
	}
	if e.CurrentPosition() != nil {
		t.Fatalf("CurrentPosition() = %+v, want nil", e.CurrentPosition())
	}

	b.PlaceErr = nil
	clk.t = at(26, 22, 31)
	report, err = e.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second RunOnce() error: %v", err)
	}
	if report.Action != domain.ActionOpened {
		t.Fatalf("Action = %s, want %s after the rejection cleared", report.Action, domain.ActionOpened)
	}
	if report.TradesToday != 1 {
		t.Fatalf("TradesToday = %d, want 1", report.TradesToday)
	}
}

func TestEngine_CloseFailureKeepsPosition(t *testing.T) {
	b := stub.New()
	b.Candles = risingCandles(30)
	clk := &fakeClock{t: at(26, 22, 30)}
	b.Price = quoteAt(1.0930, 1.0932, clk.t)
	e := newTestEngine(t, b, clk, nil)

	if _, err := e.RunOnce(context.Background()); err != nil {
		t.Fatalf("first RunOnce() error: %v", err)
	}

	b.CloseErr = &broker.CommunicationError{Op: "close position", Err: errors.New("gateway timeout")}
	clk.t = at(26, 22, 35)
	b.Price = quoteAt(1.0941, 1.0943, clk.t)
	report, err := e.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second RunOnce() error: %v", err)
	}
	if !strings.Contains(report.Err, "close position") {
		t.Fatalf("report.Err = %q, want a close failure", report.Err)
	}
	if e.CurrentPosition() == nil {
		t.Fatal("CurrentPosition() = nil, want the position kept after a failed close")
	}

	b.CloseErr = nil
	clk.t = at(26, 22, 36)
	report, err = e.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("third RunOnce() error: %v", err)
	}
	if report.Action != domain.ActionClosed {
		t.Fatalf("Action = %s, want %s on retry", report.Action, domain.ActionClosed)
	}
	if e.CurrentPosition() != nil {
		t.Fatalf("CurrentPosition() = %+v, want nil", e.CurrentPosition())
	}
}

func TestEngine_RestoresDailyCountFromJournal(t *testing.T) {
	b := stub.New()
	b.Candles = risingCandles(30)
	clk := &fakeClock{t: at(26, 22, 30)}
	b.Price = quoteAt(1.0930, 1.0932, clk.t)
	e := newTestEngine(t, b, clk, func(o *Options) {
		o.Journal = &seededJournal{count: 1}
	})

	report, err := e.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error: %v", err)
	}
	if report.Action != domain.ActionSkipped {
		t.Fatalf("Action = %s, want %s: the journaled trade fills the cap", report.Action, domain.ActionSkipped)
	}
	if report.TradesToday != 1 {
		t.Fatalf("TradesToday = %d, want 1", report.TradesToday)
	}
	if len(b.Orders) != 0 {
		t.Fatalf("placed %d orders, want 0", len(b.Orders))
	}
}

func TestEngine_JournalSeedFailureBlocksTrading(t *testing.T) {
	b := stub.New()
	b.Candles = risingCandles(30)
	clk := &fakeClock{t: at(26, 22, 30)}
	b.Price = quoteAt(1.0930, 1.0932, clk.t)
	jrnl := &seededJournal{err: errors.New("disk unavailable")}
	e := newTestEngine(t, b, clk, func(o *Options) { o.Journal = jrnl })

	report, err := e.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error: %v", err)
	}
	if !strings.Contains(report.Err, "restore daily counter") {
		t.Fatalf("report.Err = %q, want a restore failure", report.Err)
	}
	if len(b.Orders) != 0 {
		t.Fatalf("placed %d orders before the counter was restored, want 0", len(b.Orders))
	}

	jrnl.err = nil
	clk.t = at(26, 22, 31)
	report, err = e.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second RunOnce() error: %v", err)
	}
	if report.Action != domain.ActionOpened {
		t.Fatalf("Action = %s, want %s once the journal recovered", report.Action, domain.ActionOpened)
	}
}

func TestEngine_JournalsOrdersAndCloses(t *testing.T) {
	b := stub.New()
	b.Candles = risingCandles(30)
	clk := &fakeClock{t: at(26, 22, 30)}
	b.Price = quoteAt(1.0930, 1.0932, clk.t)
	jrnl := &capturingJournal{}
	e := newTestEngine(t, b, clk, func(o *Options) { o.Journal = jrnl })

	if _, err := e.RunOnce(context.Background()); err != nil {
		t.Fatalf("first RunOnce() error: %v", err)
	}
	clk.t = at(26, 22, 35)
	b.Price = quoteAt(1.0941, 1.0943, clk.t)
	if _, err := e.RunOnce(context.Background()); err != nil {
		t.Fatalf("second RunOnce() error: %v", err)
	}

	if len(jrnl.orders) != 1 {
		t.Fatalf("journaled %d orders, want 1", len(jrnl.orders))
	}
	order := jrnl.orders[0]
	if order.StrategyID != "SMA20_TP10_SLEOD_SINGLE" {
		t.Fatalf("order strategy = %q, want SMA20_TP10_SLEOD_SINGLE", order.StrategyID)
	}
	if order.BrokerTradeID != "stub-1" {
		t.Fatalf("order trade id = %q, want stub-1", order.BrokerTradeID)
	}
	if order.Session != domain.SessionDaily || order.Direction != domain.DirectionLong {
		t.Fatalf("order = %+v, want a Daily long", order)
	}
	if !closeTo(order.EntryPrice, 1.0931) || !closeTo(order.TakeProfit, 1.0941) {
		t.Fatalf("order levels = entry %v tp %v, want 1.0931 and 1.0941", order.EntryPrice, order.TakeProfit)
	}

	if len(jrnl.closes) != 1 {
		t.Fatalf("journaled %d closes, want 1", len(jrnl.closes))
	}
	closed := jrnl.closes[0]
	if closed.Reason != domain.ExitReasonTakeProfit {
		t.Fatalf("close reason = %s, want %s", closed.Reason, domain.ExitReasonTakeProfit)
	}
	if !closeTo(closed.Pips, 9.0) {
		t.Fatalf("close pips = %v, want 9.0: 11 gross minus 2 cost", closed.Pips)
	}

	if len(jrnl.ticks) != 2 {
		t.Fatalf("journaled %d ticks, want 2", len(jrnl.ticks))
	}
	if jrnl.ticks[0].Action != domain.ActionOpened || jrnl.ticks[1].Action != domain.ActionClosed {
		t.Fatalf("tick actions = %s, %s; want OPENED then CLOSED", jrnl.ticks[0].Action, jrnl.ticks[1].Action)
	}
}

func TestEngine_PrefersFreshStreamQuote(t *testing.T) {
	b := stub.New()
	b.Candles = risingCandles(30)
	clk := &fakeClock{t: at(26, 22, 30)}
	b.Price = quoteAt(1.0930, 1.0932, clk.t)
	quotes := &scriptedQuotes{}
	e := newTestEngine(t, b, clk, func(o *Options) { o.Quotes = quotes })

	if _, err := e.RunOnce(context.Background()); err != nil {
		t.Fatalf("first RunOnce() error: %v", err)
	}

	// REST pricing still sits below the take profit; only the stream has
	// the crossing quote.
	clk.t = at(26, 22, 35)
	quotes.fresh = true
	quotes.quote = pricefeed.Quote{
		Instrument: "EUR_USD",
		Bid:        1.0943,
		Ask:        1.0945,
		Time:       clk.t,
		ReceivedAt: clk.t,
	}
	report, err := e.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second RunOnce() error: %v", err)
	}
	if report.Action != domain.ActionClosed {
		t.Fatalf("Action = %s, want %s from the stream quote", report.Action, domain.ActionClosed)
	}
}

func TestEngine_Status(t *testing.T) {
	b := stub.New()
	clk := &fakeClock{t: at(26, 14, 0)}
	b.Summary = &broker.AccountSummary{
		AccountID:      "001-011-0000001-001",
		Currency:       "USD",
		Balance:        9876.5,
		NAV:            9880.1,
		UnrealizedPL:   3.6,
		OpenTradeCount: 1,
	}
	e := newTestEngine(t, b, clk, nil)

	snap, err := e.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if snap.AccountID != "001-011-0000001-001" {
		t.Fatalf("AccountID = %q", snap.AccountID)
	}
	if snap.Balance != 9876.5 || snap.UnrealizedPL != 3.6 || snap.OpenCount != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if !snap.Time.Equal(clk.t) {
		t.Fatalf("Time = %v, want %v", snap.Time, clk.t)
	}

	b.SummaryErr = &broker.CommunicationError{Op: "account summary", Err: errors.New("timeout")}
	if _, err := e.Status(context.Background()); err == nil {
		t.Fatal("Status() error = nil, want the broker failure")
	}
}

func TestEngine_CloseAll(t *testing.T) {
	b := stub.New()
	b.Candles = risingCandles(30)
	clk := &fakeClock{t: at(26, 22, 30)}
	b.Price = quoteAt(1.0930, 1.0932, clk.t)
	jrnl := &capturingJournal{}
	e := newTestEngine(t, b, clk, func(o *Options) { o.Journal = jrnl })

	// Nothing open yet.
	result, err := e.CloseAll(context.Background())
	if err != nil {
		t.Fatalf("CloseAll() error: %v", err)
	}
	if len(result.BrokerTradeIDs) != 0 || len(b.Closes) != 0 {
		t.Fatalf("CloseAll() on an empty book closed %v", result.BrokerTradeIDs)
	}

	if _, err := e.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error: %v", err)
	}
	result, err = e.CloseAll(context.Background())
	if err != nil {
		t.Fatalf("CloseAll() error: %v", err)
	}
	if len(result.BrokerTradeIDs) != 1 {
		t.Fatalf("closed %v, want one trade", result.BrokerTradeIDs)
	}
	if e.CurrentPosition() != nil {
		t.Fatalf("CurrentPosition() = %+v, want nil", e.CurrentPosition())
	}
	if len(jrnl.closes) != 1 || jrnl.closes[0].Reason != "MANUAL" {
		t.Fatalf("journaled closes = %+v, want one manual close", jrnl.closes)
	}
}

func TestEngine_CloseAllUntrackedPosition(t *testing.T) {
	b := stub.New()
	clk := &fakeClock{t: at(26, 14, 0)}
	b.Price = quoteAt(1.0930, 1.0932, clk.t)
	b.AddPosition(broker.Position{
		BrokerTradeID: "ext-1",
		Instrument:    "EUR_USD",
		Direction:     domain.DirectionShort,
		Units:         1,
		EntryPrice:    1.0950,
		OpenedAt:      at(26, 13, 30),
	})
	e := newTestEngine(t, b, clk, nil)

	result, err := e.CloseAll(context.Background())
	if err != nil {
		t.Fatalf("CloseAll() error: %v", err)
	}
	if len(result.BrokerTradeIDs) != 1 || result.BrokerTradeIDs[0] != "ext-1" {
		t.Fatalf("closed %v, want ext-1", result.BrokerTradeIDs)
	}
	if len(b.Positions) != 0 {
		t.Fatalf("broker still holds %d positions", len(b.Positions))
	}
}

func TestEngine_RunContinuousTicksAndStops(t *testing.T) {
	b := stub.New()
	b.Candles = risingCandles(30)
	clk := &fakeClock{t: at(26, 12, 0)}
	b.Price = quoteAt(1.0930, 1.0932, clk.t)
	jrnl := &countingJournal{}
	e := newTestEngine(t, b, clk, func(o *Options) { o.Journal = jrnl })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- e.RunContinuous(ctx, 10*time.Millisecond)
	}()

	deadline := time.After(2 * time.Second)
	for jrnl.ticks.Load() < 3 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for ticks")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunContinuous() error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunContinuous did not stop after cancel")
	}
}

func TestEngine_RunContinuousHaltsOnInvariant(t *testing.T) {
	b := stub.New()
	clk := &fakeClock{t: at(26, 12, 0)}
	b.Price = quoteAt(1.0930, 1.0932, clk.t)
	for _, id := range []string{"ext-1", "ext-2"} {
		b.AddPosition(broker.Position{
			BrokerTradeID: id,
			Instrument:    "EUR_USD",
			Direction:     domain.DirectionLong,
			Units:         1,
			EntryPrice:    1.0900,
			OpenedAt:      at(26, 11, 0),
		})
	}
	e := newTestEngine(t, b, clk, nil)

	done := make(chan error, 1)
	go func() {
		done <- e.RunContinuous(context.Background(), 10*time.Millisecond)
	}()

	select {
	case err := <-done:
		var violation *InvariantViolationError
		if !errors.As(err, &violation) {
			t.Fatalf("RunContinuous() error = %v, want InvariantViolationError", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunContinuous did not halt on the violation")
	}
}
