// Package engine runs the live trading loop: every tick it reconciles
// broker-side positions against its tracker, checks exits against the
// current price, and evaluates one entry decision inside the active
// session window. All trading rules live in the decision package; the
// engine owns sequencing, broker I/O, journaling, and state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"fx-session-lab/internal/broker"
	"fx-session-lab/internal/decision"
	"fx-session-lab/internal/domain"
	"fx-session-lab/internal/journal"
	"fx-session-lab/internal/market"
	"fx-session-lab/internal/observability"
	"fx-session-lab/internal/pricefeed"
	"fx-session-lab/internal/session"
	"fx-session-lab/internal/signal"
)

// DefaultInterval is the tick interval of the continuous loop.
const DefaultInterval = 60 * time.Second

// candleHistoryPad is how many candles beyond the SMA period each signal
// fetch requests, covering the odd missing trading day.
const candleHistoryPad = 5

// QuoteSource supplies cached streaming quotes. *pricefeed.Feed implements
// it; a nil source makes the engine quote over REST on every tick.
type QuoteSource interface {
	Fresh(instrument string, maxAge time.Duration) (pricefeed.Quote, bool)
}

// Options configures an Engine. Broker and Instrument are required;
// everything else has a working default.
type Options struct {
	Instrument  string
	Params      domain.StrategyParams
	Broker      broker.Client
	Journal     journal.Journal // nil journals nothing
	Quotes      QuoteSource     // nil falls back to REST pricing
	QuoteMaxAge time.Duration
	Logger      *slog.Logger
	Clock       func() time.Time
}

// Engine is the live trading loop. All entry points serialize through one
// mutex, so a tick, a status read, and a close-all never interleave.
type Engine struct {
	mu sync.Mutex

	instrument  string
	params      domain.StrategyParams
	strategyID  string
	broker      broker.Client
	journal     journal.Journal
	quotes      QuoteSource
	quoteMaxAge time.Duration
	logger      *slog.Logger
	now         func() time.Time

	gen      *signal.Generator
	tracker  *Tracker
	restored bool
}

// New creates an Engine. It validates the strategy parameters up front so
// the loop never runs with a broken configuration.
func New(opts Options) (*Engine, error) {
	if opts.Broker == nil {
		return nil, errors.New("engine: broker client is required")
	}
	if opts.Instrument == "" {
		return nil, errors.New("engine: instrument is required")
	}
	if err := opts.Params.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	gen, err := signal.NewGenerator(opts.Params.SMAPeriod)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	jrnl := opts.Journal
	if jrnl == nil {
		jrnl = journal.NewNoop()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	maxAge := opts.QuoteMaxAge
	if maxAge <= 0 {
		maxAge = pricefeed.DefaultMaxAge
	}

	return &Engine{
		instrument:  opts.Instrument,
		params:      opts.Params,
		strategyID:  opts.Params.StrategyID(),
		broker:      opts.Broker,
		journal:     jrnl,
		quotes:      opts.Quotes,
		quoteMaxAge: maxAge,
		logger:      logger,
		now:         clock,
		gen:         gen,
		tracker:     NewTracker(),
	}, nil
}

// RunOnce executes a single tick. The returned error is non-nil only for
// invariant violations; broker communication failures are recovered,
// reported in the ExecutionReport, and skip the rest of the tick.
func (e *Engine) RunOnce(ctx context.Context) (*domain.ExecutionReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	report, err := e.tick(ctx)
	if err != nil && report.Err == "" {
		report.Err = err.Error()
	}
	if e.tracker.State() == StateOpen || e.tracker.State() == StateClosing {
		pos := *e.tracker.Position()
		report.Position = &pos
	}
	report.TradesToday = e.tracker.TradesOn(report.Time)
	e.finishTick(ctx, report)
	return report, err
}

// RunContinuous ticks once immediately, then on the given interval until
// ctx is canceled or a tick reports an invariant violation. Overlapping
// ticks are skipped, never queued, and shutdown waits for an in-flight
// tick to finish.
func (e *Engine) RunContinuous(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}

	fatal := make(chan error, 1)
	runTick := func() {
		if _, err := e.RunOnce(ctx); err != nil {
			select {
			case fatal <- err:
			default:
			}
		}
	}

	e.logger.Info("live loop starting",
		"instrument", e.instrument,
		"strategy", e.strategyID,
		"interval", interval.String())
	runTick()

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{e.logger})))
	if _, err := c.AddFunc("@every "+interval.String(), runTick); err != nil {
		return fmt.Errorf("schedule ticks: %w", err)
	}
	c.Start()

	var runErr error
	select {
	case <-ctx.Done():
		e.logger.Info("live loop stopping")
	case runErr = <-fatal:
		e.logger.Error("live loop halting", "error", runErr)
	}

	// Stop returns a context that is done once in-flight jobs finish.
	<-c.Stop().Done()
	return runErr
}

// Status reads the broker account and combines it with the engine clock.
func (e *Engine) Status(ctx context.Context) (*domain.AccountSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	summary, err := e.broker.AccountSummary(ctx)
	observability.RecordBrokerCall("account_summary", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, err
	}

	return &domain.AccountSnapshot{
		AccountID:    summary.AccountID,
		Balance:      summary.Balance,
		UnrealizedPL: summary.UnrealizedPL,
		OpenCount:    summary.OpenTradeCount,
		Time:         e.now().UTC(),
	}, nil
}

// StrategyID returns the identifier derived from the engine's parameters.
func (e *Engine) StrategyID() string {
	return e.strategyID
}

// CurrentPosition returns a copy of the tracked open position, or nil.
func (e *Engine) CurrentPosition() *domain.OpenPosition {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.tracker.State() != StateOpen && e.tracker.State() != StateClosing {
		return nil
	}
	pos := *e.tracker.Position()
	return &pos
}

// CloseAll flattens the instrument at the broker regardless of tracker
// state, adopting nothing and reconciling whatever it finds.
func (e *Engine) CloseAll(ctx context.Context) (*broker.CloseResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now().UTC()

	start := time.Now()
	positions, err := e.broker.GetOpenPositions(ctx, e.instrument)
	observability.RecordBrokerCall("open_positions", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, err
	}

	if len(positions) == 0 {
		if e.tracker.State() == StateOpen {
			if err := e.tracker.ReconcileClosed(); err != nil {
				return nil, err
			}
			e.logger.Info("tracked position already closed broker-side")
		}
		return &broker.CloseResult{Time: now}, nil
	}

	tracked := e.tracker.State() == StateOpen
	if tracked {
		if err := e.tracker.BeginClose(); err != nil {
			return nil, err
		}
	}

	start = time.Now()
	result, err := e.broker.ClosePosition(ctx, e.instrument)
	observability.RecordBrokerCall("close_position", time.Since(start).Seconds(), err)
	if err != nil {
		if tracked {
			if abortErr := e.tracker.AbortClose(); abortErr != nil {
				return nil, abortErr
			}
		}
		return nil, err
	}

	if tracked {
		pos := e.tracker.Position()
		if err := e.tracker.ConfirmClose(); err != nil {
			return nil, err
		}
		e.recordClose(ctx, now, pos, "MANUAL", result.Price)
	}

	e.logger.Info("closed all positions",
		"instrument", e.instrument,
		"trades", result.BrokerTradeIDs,
		"price", result.Price,
		"realized_pl", result.RealizedPL)
	return result, nil
}

// tick runs one pass of the reconcile, exit, entry sequence. Recovered
// failures set report.Err and return a nil error; a non-nil error is an
// invariant violation.
func (e *Engine) tick(ctx context.Context) (*domain.ExecutionReport, error) {
	now := e.now().UTC()
	report := &domain.ExecutionReport{
		Time:   now,
		Signal: domain.SignalFlat,
		Action: domain.ActionNone,
	}

	e.tracker.RollDate(now)

	// Seed the daily counter from the journal once per process so a
	// restart cannot exceed the cap. Until the seed succeeds the engine
	// refuses to trade.
	if !e.restored {
		count, err := e.journal.TradesOpenedOn(ctx, e.strategyID, now)
		if err != nil {
			report.Err = fmt.Sprintf("restore daily counter: %v", err)
			return report, nil
		}
		e.tracker.SeedCount(now, count)
		e.restored = true
		if count > 0 {
			e.logger.Info("restored daily trade counter",
				"date", domain.Day(now).Format("2006-01-02"),
				"count", count)
		}
	}

	skip, err := e.reconcile(ctx, now, report)
	if err != nil {
		return report, err
	}
	if skip {
		return report, nil
	}

	if e.tracker.State() == StateOpen {
		pos := e.tracker.Position()
		price, err := e.currentPrice(ctx)
		if err != nil {
			report.Err = fmt.Sprintf("current price: %v", err)
			return report, nil
		}

		exit := decision.DecideExit(decision.ExitContext{
			Direction:  pos.Direction,
			EntryPrice: pos.EntryPrice,
			TakeProfit: pos.TakeProfit,
			StopLoss:   pos.StopLoss,
			Price:      price,
			Now:        now,
			FlattenAt:  pos.FlattenAt,
		})
		if exit.Close {
			if err := e.closeTracked(ctx, now, pos, exit.Reason, report); err != nil {
				return report, err
			}
			if report.Err != "" {
				// Close failed; leave entries for the next tick.
				return report, nil
			}
		}
	}

	desc, active := session.Active(now, e.params.Mode)
	if !active {
		return report, nil
	}
	report.Session = desc.Session

	sig, err := e.latestSignal(ctx)
	if err != nil {
		var insufficient *signal.InsufficientDataError
		if !errors.As(err, &insufficient) {
			report.Err = fmt.Sprintf("signal: %v", err)
			return report, nil
		}
		e.logger.Debug("not enough history for a signal",
			"have", insufficient.Have,
			"need", insufficient.Need)
		sig = domain.SignalFlat
	}
	report.Signal = sig

	var openDir domain.Direction
	hasOpen := e.tracker.State() == StateOpen
	if hasOpen {
		openDir = e.tracker.Position().Direction
	}

	dec := decision.DecideEntry(decision.EntryContext{
		Signal:              sig,
		HasOpenPosition:     hasOpen,
		OpenDirection:       openDir,
		TradesToday:         e.tracker.TradesOn(now),
		MaxDailyTrades:      e.params.Mode.MaxDailyTrades(),
		RetainSameDirection: e.params.RetainSameDirection,
	})

	switch dec.Action {
	case decision.EntryOpen:
		if err := e.openPosition(ctx, now, desc, dec.Direction, report); err != nil {
			return report, err
		}
	case decision.EntryRetain:
		report.Action = domain.ActionRetained
		e.logger.Info("retaining open position",
			"direction", dec.Direction,
			"session", desc.Session)
	case decision.EntrySkip:
		if sig != domain.SignalFlat && report.Action == domain.ActionNone {
			report.Action = domain.ActionSkipped
		}
		e.logger.Debug("entry skipped", "reason", dec.Reason, "session", desc.Session)
	}

	return report, nil
}

// reconcile aligns the tracker with broker-side state before any decision
// runs. It adopts unknown positions, frees the slot for positions the
// broker no longer holds, and halts on anything it cannot explain.
func (e *Engine) reconcile(ctx context.Context, now time.Time, report *domain.ExecutionReport) (skip bool, err error) {
	start := time.Now()
	positions, err := e.broker.GetOpenPositions(ctx, e.instrument)
	observability.RecordBrokerCall("open_positions", time.Since(start).Seconds(), err)
	if err != nil {
		report.Err = fmt.Sprintf("reconcile: %v", err)
		e.logger.Warn("skipping tick, open positions unavailable", "error", err)
		return true, nil
	}

	if len(positions) > 1 {
		return false, &InvariantViolationError{
			Reason: fmt.Sprintf("%d simultaneous broker positions on %s", len(positions), e.instrument),
		}
	}

	switch e.tracker.State() {
	case StateOpen:
		pos := e.tracker.Position()
		if len(positions) == 0 {
			// The attached take profit filled between ticks.
			if err := e.tracker.ReconcileClosed(); err != nil {
				return false, err
			}
			report.Action = domain.ActionReconciled
			e.logger.Info("position closed broker-side",
				"broker_trade_id", pos.BrokerTradeID,
				"take_profit", pos.TakeProfit)
			e.recordClose(ctx, now, pos, domain.ExitReasonTakeProfit, pos.TakeProfit)
			return false, nil
		}
		if positions[0].BrokerTradeID != pos.BrokerTradeID {
			return false, &InvariantViolationError{
				Reason: fmt.Sprintf("broker holds trade %s, tracker holds %s",
					positions[0].BrokerTradeID, pos.BrokerTradeID),
			}
		}
	case StateIdle:
		if len(positions) == 1 {
			adopted := e.adoptedPosition(positions[0], now)
			if err := e.tracker.Adopt(adopted); err != nil {
				return false, err
			}
			report.Action = domain.ActionReconciled
			e.logger.Warn("adopted unknown broker position",
				"broker_trade_id", adopted.BrokerTradeID,
				"direction", adopted.Direction,
				"entry_price", adopted.EntryPrice,
				"opened_at", adopted.OpenedAt)
		}
	default:
		return false, &InvariantViolationError{
			Reason: fmt.Sprintf("tick started in state %s", e.tracker.State()),
		}
	}

	return false, nil
}

// adoptedPosition rebuilds engine-side position state for a broker trade
// the engine did not open, e.g. one placed before a restart. Exit levels
// are derived from the entry price the same way a fresh order would get
// them, and the flatten boundary is the next one from now.
func (e *Engine) adoptedPosition(p broker.Position, now time.Time) *domain.OpenPosition {
	pos := &domain.OpenPosition{
		BrokerTradeID: p.BrokerTradeID,
		Instrument:    p.Instrument,
		Direction:     p.Direction,
		Session:       e.sessionAt(p.OpenedAt),
		EntryPrice:    p.EntryPrice,
		Units:         p.Units,
		TakeProfit:    market.TakeProfitLevel(p.EntryPrice, p.Direction, e.params.TakeProfitPips),
		OpenedAt:      p.OpenedAt,
		FlattenAt:     session.NextFlatten(now),
	}
	if e.params.StopLossPips != nil {
		sl := market.StopLossLevel(p.EntryPrice, p.Direction, *e.params.StopLossPips)
		pos.StopLoss = &sl
	}
	return pos
}

// sessionAt maps an open time onto a session label, falling back to the
// mode's first window for trades opened outside any window.
func (e *Engine) sessionAt(t time.Time) domain.Session {
	if desc, ok := session.Active(t, e.params.Mode); ok {
		return desc.Session
	}
	return session.ForMode(e.params.Mode)[0].Session
}

// closeTracked submits a close for the tracked position. Broker failures
// are recovered: the position returns to StateOpen and the next tick
// retries the exit.
func (e *Engine) closeTracked(ctx context.Context, now time.Time, pos *domain.OpenPosition, reason string, report *domain.ExecutionReport) error {
	if err := e.tracker.BeginClose(); err != nil {
		return err
	}

	start := time.Now()
	result, err := e.broker.ClosePosition(ctx, e.instrument)
	observability.RecordBrokerCall("close_position", time.Since(start).Seconds(), err)
	if err != nil {
		if abortErr := e.tracker.AbortClose(); abortErr != nil {
			return abortErr
		}
		report.Err = fmt.Sprintf("close position: %v", err)
		e.logger.Warn("close order failed", "reason", reason, "error", err)
		return nil
	}

	if err := e.tracker.ConfirmClose(); err != nil {
		return err
	}

	report.Action = domain.ActionClosed
	e.logger.Info("position closed",
		"broker_trade_id", pos.BrokerTradeID,
		"reason", reason,
		"price", result.Price,
		"realized_pl", result.RealizedPL)
	e.recordClose(ctx, now, pos, reason, result.Price)
	return nil
}

// openPosition quotes, places a market order with its attached levels, and
// confirms the fill into the tracker. Rejections and transport failures
// release the slot without counting a trade.
func (e *Engine) openPosition(ctx context.Context, now time.Time, desc session.Descriptor, dir domain.Direction, report *domain.ExecutionReport) error {
	price, err := e.currentPrice(ctx)
	if err != nil {
		report.Err = fmt.Sprintf("current price: %v", err)
		return nil
	}

	tp := market.TakeProfitLevel(price, dir, e.params.TakeProfitPips)
	var sl *float64
	if e.params.StopLossPips != nil {
		level := market.StopLossLevel(price, dir, *e.params.StopLossPips)
		sl = &level
	}

	if err := e.tracker.BeginEntry(); err != nil {
		return err
	}

	start := time.Now()
	result, err := e.broker.PlaceMarketOrder(ctx, broker.OrderRequest{
		Instrument: e.instrument,
		Direction:  dir,
		Units:      e.params.PositionUnits,
		TakeProfit: tp,
		StopLoss:   sl,
	})
	observability.RecordBrokerCall("market_order", time.Since(start).Seconds(), err)
	if err != nil {
		if abortErr := e.tracker.AbortEntry(); abortErr != nil {
			return abortErr
		}
		var rejected *broker.RejectedError
		if errors.As(err, &rejected) {
			observability.RecordOrderRejected()
			e.logger.Warn("order rejected", "direction", dir, "reason", rejected.Reason)
		} else {
			e.logger.Warn("order failed", "direction", dir, "error", err)
		}
		report.Err = fmt.Sprintf("market order: %v", err)
		return nil
	}

	pos := &domain.OpenPosition{
		BrokerTradeID: result.BrokerTradeID,
		Instrument:    e.instrument,
		Direction:     dir,
		Session:       desc.Session,
		EntryPrice:    result.Price,
		Units:         result.Units,
		TakeProfit:    tp,
		StopLoss:      sl,
		OpenedAt:      now,
		FlattenAt:     session.NextFlatten(now),
	}
	if err := e.tracker.ConfirmOpen(pos); err != nil {
		return err
	}

	observability.RecordOrderPlaced()
	report.Action = domain.ActionOpened
	e.logger.Info("position opened",
		"broker_trade_id", result.BrokerTradeID,
		"direction", dir,
		"session", desc.Session,
		"entry_price", result.Price,
		"take_profit", tp)

	order := &journal.OrderEntry{
		Time:          now,
		StrategyID:    e.strategyID,
		EntryDate:     now,
		Session:       desc.Session,
		Direction:     dir,
		Units:         result.Units,
		EntryPrice:    result.Price,
		TakeProfit:    tp,
		StopLoss:      sl,
		BrokerTradeID: result.BrokerTradeID,
	}
	if err := e.journal.RecordOrder(ctx, order); err != nil {
		e.logger.Warn("journal order failed", "error", err)
	}
	return nil
}

// latestSignal fetches recent daily candles and derives tomorrow's signal
// from the last complete one.
func (e *Engine) latestSignal(ctx context.Context) (domain.Signal, error) {
	start := time.Now()
	candles, err := e.broker.FetchDailyCandles(ctx, e.instrument, e.params.SMAPeriod+candleHistoryPad)
	observability.RecordBrokerCall("candles", time.Since(start).Seconds(), err)
	if err != nil {
		return domain.SignalFlat, err
	}
	return e.gen.Latest(candles)
}

// currentPrice prefers a fresh streaming quote and falls back to REST
// pricing.
func (e *Engine) currentPrice(ctx context.Context) (float64, error) {
	if e.quotes != nil {
		if q, ok := e.quotes.Fresh(e.instrument, e.quoteMaxAge); ok {
			return q.Mid(), nil
		}
	}

	start := time.Now()
	price, err := e.broker.GetCurrentPrice(ctx, e.instrument)
	observability.RecordBrokerCall("pricing", time.Since(start).Seconds(), err)
	if err != nil {
		return 0, err
	}
	return price.Mid(), nil
}

// recordClose journals a close with its net pip result.
func (e *Engine) recordClose(ctx context.Context, now time.Time, pos *domain.OpenPosition, reason string, price float64) {
	pips := market.SignedPips(pos.EntryPrice, price, pos.Direction) - e.params.CostPerTradePips
	entry := &journal.CloseEntry{
		Time:          now,
		StrategyID:    e.strategyID,
		BrokerTradeID: pos.BrokerTradeID,
		Reason:        reason,
		Price:         price,
		Pips:          pips,
	}
	if err := e.journal.RecordClose(ctx, entry); err != nil {
		e.logger.Warn("journal close failed", "error", err)
	}
	observability.RecordPositionClosed(reason)
}

// finishTick journals the tick and updates metrics. It runs exactly once
// per RunOnce, after the tick settled.
func (e *Engine) finishTick(ctx context.Context, report *domain.ExecutionReport) {
	entry := &journal.TickEntry{
		Time:        report.Time,
		StrategyID:  e.strategyID,
		Signal:      report.Signal,
		Action:      report.Action,
		Session:     report.Session,
		TradesToday: report.TradesToday,
		Error:       report.Err,
	}
	if err := e.journal.RecordTick(ctx, entry); err != nil {
		e.logger.Warn("journal tick failed", "error", err)
	}

	observability.RecordTick(report.Action)
	if report.Err != "" {
		observability.RecordTickError()
		e.logger.Warn("tick finished with error", "action", report.Action, "error", report.Err)
	} else {
		observability.MarkTickSuccess(report.Time)
		e.logger.Debug("tick finished",
			"action", report.Action,
			"signal", report.Signal.String(),
			"trades_today", report.TradesToday)
	}
	observability.UpdatePositionState(e.tracker.State() == StateOpen, e.tracker.TradesOn(report.Time))
}

// cronLogger adapts slog to the cron scheduler's logger so skipped
// overlapping ticks surface in the engine log.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Info(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}
