package domain

import (
	"errors"
	"fmt"
	"strconv"
)

// SessionMode selects which entry windows a trading day has.
type SessionMode string

const (
	ModeSingle SessionMode = "SINGLE"
	ModeDual   SessionMode = "DUAL"
)

// String returns the string representation of SessionMode.
func (m SessionMode) String() string {
	return string(m)
}

// IsValid checks if the mode is a valid value.
func (m SessionMode) IsValid() bool {
	return m == ModeSingle || m == ModeDual
}

// MaxDailyTrades returns the open-cap for the mode: one entry per day in
// single mode, two in dual mode.
func (m SessionMode) MaxDailyTrades() int {
	if m == ModeDual {
		return 2
	}
	return 1
}

// Parameter validation errors
var (
	ErrInvalidSMAPeriod     = errors.New("sma_period must be at least 1")
	ErrInvalidTakeProfit    = errors.New("take_profit_pips must be positive")
	ErrInvalidStopLoss      = errors.New("stop_loss_pips must be positive when set")
	ErrInvalidCost          = errors.New("cost_per_trade_pips must not be negative")
	ErrInvalidPipValue      = errors.New("pip_value must be positive")
	ErrInvalidInitialEquity = errors.New("initial_equity must be positive")
	ErrInvalidPositionUnits = errors.New("position_units must be positive")
	ErrInvalidSessionMode   = errors.New("session mode must be SINGLE or DUAL")
)

// StrategyParams holds every knob the decision core, simulator, and live
// engine share. A nil StopLossPips selects EOD-exit mode: no stop level is
// computed, attached, or checked anywhere.
type StrategyParams struct {
	SMAPeriod           int
	TakeProfitPips      float64
	StopLossPips        *float64 // nil disables the stop loss
	CostPerTradePips    float64
	PipValue            float64 // equity change per pip per unit
	InitialEquity       float64
	Mode                SessionMode
	RetainSameDirection bool // dual mode: keep an open position on a matching later signal
	PositionUnits       int  // live order size
}

// DefaultParams returns the stock EUR/USD configuration.
func DefaultParams() StrategyParams {
	return StrategyParams{
		SMAPeriod:        20,
		TakeProfitPips:   10.0,
		StopLossPips:     nil,
		CostPerTradePips: 2.0,
		PipValue:         10.0,
		InitialEquity:    10000.0,
		Mode:             ModeSingle,
		PositionUnits:    1,
	}
}

// Validate checks every parameter and returns the first violation.
func (p StrategyParams) Validate() error {
	if p.SMAPeriod < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidSMAPeriod, p.SMAPeriod)
	}
	if p.TakeProfitPips <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidTakeProfit, p.TakeProfitPips)
	}
	if p.StopLossPips != nil && *p.StopLossPips <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidStopLoss, *p.StopLossPips)
	}
	if p.CostPerTradePips < 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidCost, p.CostPerTradePips)
	}
	if p.PipValue <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidPipValue, p.PipValue)
	}
	if p.InitialEquity <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidInitialEquity, p.InitialEquity)
	}
	if p.PositionUnits < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidPositionUnits, p.PositionUnits)
	}
	if !p.Mode.IsValid() {
		return fmt.Errorf("%w: got %q", ErrInvalidSessionMode, p.Mode)
	}
	return nil
}

// StrategyID derives the identifier all trades and equity points of one
// parameter set share, e.g. "SMA20_TP10_SLEOD_SINGLE".
func (p StrategyParams) StrategyID() string {
	sl := "EOD"
	if p.StopLossPips != nil {
		sl = formatPips(*p.StopLossPips)
	}
	id := fmt.Sprintf("SMA%d_TP%s_SL%s_%s", p.SMAPeriod, formatPips(p.TakeProfitPips), sl, p.Mode)
	if p.RetainSameDirection {
		id += "_RET"
	}
	return id
}

func formatPips(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
