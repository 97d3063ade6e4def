package simulation

import (
	"context"
	"fmt"
	"time"

	"fx-session-lab/internal/decision"
	"fx-session-lab/internal/domain"
	"fx-session-lab/internal/idhash"
	"fx-session-lab/internal/logging"
	"fx-session-lab/internal/market"
	"fx-session-lab/internal/session"
	"fx-session-lab/internal/signal"
	"fx-session-lab/internal/storage"
)

var simLog = logging.New("simulate")

// Runner replays a daily candle history through the strategy rules.
type Runner struct {
	tradeStore  storage.TradeStore
	equityStore storage.EquityStore
}

// RunnerOptions contains configuration for creating a Runner. Both stores
// are optional; a nil store disables persistence of that output.
type RunnerOptions struct {
	TradeStore  storage.TradeStore
	EquityStore storage.EquityStore
}

// NewRunner creates a simulation runner.
func NewRunner(opts RunnerOptions) *Runner {
	return &Runner{
		tradeStore:  opts.TradeStore,
		equityStore: opts.EquityStore,
	}
}

// Result holds one simulation's complete output.
type Result struct {
	StrategyID            string
	Trades                []*domain.Trade
	Equity                []*domain.EquityPoint
	SameDirectionRetained int
}

// openLot is a position held during one simulated day.
type openLot struct {
	session    domain.Session
	direction  domain.Direction
	entryPrice float64
}

// Run executes a simulation over the candle series.
// Steps per candle day, sessions in chronological order:
//  1. Decide entry eligibility (signal, daily cap, open-position slot)
//  2. Open at the session's execution price, or retain the open position
//  3. Resolve attached levels against the day's range right away
//  4. Close anything still open at the day's close
//  5. Append the day's equity point (every day, traded or not)
//
// Identical inputs always produce identical results: signals use only
// prior closes, and nothing here reads the wall clock.
func (r *Runner) Run(ctx context.Context, instrument string, candles []domain.Candle, params domain.StrategyParams) (*Result, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := market.ValidateSeries(candles); err != nil {
		return nil, err
	}

	gen, err := signal.NewGenerator(params.SMAPeriod)
	if err != nil {
		return nil, err
	}
	signals := gen.Series(candles)

	strategyID := params.StrategyID()
	sessions := session.ForMode(params.Mode)
	maxDaily := params.Mode.MaxDailyTrades()

	result := &Result{
		StrategyID: strategyID,
		Trades:     make([]*domain.Trade, 0),
		Equity:     make([]*domain.EquityPoint, 0, len(candles)),
	}

	equity := params.InitialEquity
	peak := equity

	for i, c := range candles {
		day := domain.Day(c.Date)
		tradesToday := 0
		dayPips := 0.0
		var lot *openLot

		for _, sess := range sessions {
			entryCtx := decision.EntryContext{
				Signal:              signals[i],
				HasOpenPosition:     lot != nil,
				TradesToday:         tradesToday,
				MaxDailyTrades:      maxDaily,
				RetainSameDirection: params.RetainSameDirection,
			}
			if lot != nil {
				entryCtx.OpenDirection = lot.direction
			}

			switch d := decision.DecideEntry(entryCtx); d.Action {
			case decision.EntryOpen:
				lot = &openLot{
					session:    sess.Session,
					direction:  d.Direction,
					entryPrice: session.ExecutionPrice(sess.Session, c),
				}
				tradesToday++
				simLog.Debug("opened",
					"date", day.Format("2006-01-02"),
					"session", sess.Session,
					"direction", d.Direction,
					"entry", lot.entryPrice)
			case decision.EntryRetain:
				result.SameDirectionRetained++
				simLog.Debug("retained",
					"date", day.Format("2006-01-02"),
					"session", sess.Session,
					"direction", lot.direction)
			}

			if lot == nil {
				continue
			}

			// A resolved position frees the slot before the next session.
			exitPrice, reason, hit := decision.CheckLevels(lot.entryPrice, lot.direction, params.TakeProfitPips, params.StopLossPips, c)
			if hit {
				t := closedTrade(instrument, strategyID, day, lot, exitPrice, reason, params.CostPerTradePips)
				result.Trades = append(result.Trades, t)
				dayPips += t.Pips
				lot = nil
				simLog.Debug("closed",
					"date", day.Format("2006-01-02"),
					"reason", reason,
					"exit", exitPrice,
					"pips", t.Pips)
			}
		}

		// No position survives past the day boundary.
		if lot != nil {
			t := closedTrade(instrument, strategyID, day, lot, c.Close, domain.ExitReasonEndOfDay, params.CostPerTradePips)
			result.Trades = append(result.Trades, t)
			dayPips += t.Pips
			lot = nil
		}

		equity += dayPips * params.PipValue
		if equity > peak {
			peak = equity
		}
		result.Equity = append(result.Equity, &domain.EquityPoint{
			StrategyID: strategyID,
			Date:       day,
			Equity:     equity,
			PeakEquity: peak,
			Drawdown:   peak - equity,
		})
	}

	if err := r.persist(ctx, result); err != nil {
		return nil, err
	}

	return result, nil
}

// closedTrade materializes a finished round trip.
func closedTrade(instrument, strategyID string, day time.Time, lot *openLot, exitPrice float64, reason string, costPips float64) *domain.Trade {
	return &domain.Trade{
		TradeID:    idhash.ComputeTradeID(instrument, strategyID, lot.session, day),
		Instrument: instrument,
		StrategyID: strategyID,
		EntryDate:  day,
		Session:    lot.session,
		Direction:  lot.direction,
		EntryPrice: lot.entryPrice,
		ExitPrice:  exitPrice,
		ExitReason: reason,
		Pips:       market.SignedPips(lot.entryPrice, exitPrice, lot.direction) - costPips,
	}
}

// persist writes the simulation output through the configured stores.
func (r *Runner) persist(ctx context.Context, result *Result) error {
	if r.tradeStore != nil && len(result.Trades) > 0 {
		if err := r.tradeStore.InsertBulk(ctx, result.Trades); err != nil {
			return fmt.Errorf("persist trades: %w", err)
		}
	}
	if r.equityStore != nil && len(result.Equity) > 0 {
		if err := r.equityStore.InsertBulk(ctx, result.Equity); err != nil {
			return fmt.Errorf("persist equity curve: %w", err)
		}
	}
	return nil
}
