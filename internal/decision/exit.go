package decision

import (
	"time"

	"fx-session-lab/internal/domain"
	"fx-session-lab/internal/market"
)

// ExitContext is everything a live exit decision depends on.
type ExitContext struct {
	Direction  domain.Direction
	EntryPrice float64
	TakeProfit float64  // absolute level
	StopLoss   *float64 // absolute level, nil in EOD-exit mode
	Price      float64  // current mid
	Now        time.Time
	FlattenAt  time.Time
}

// ExitDecision is the result of one exit evaluation.
type ExitDecision struct {
	Close  bool
	Reason string
}

// DecideExit checks whether an open position must close right now. The
// stop loss is checked before the take profit, and the daily flatten
// boundary last.
func DecideExit(ctx ExitContext) ExitDecision {
	sign := ctx.Direction.Sign()

	if ctx.StopLoss != nil && sign*(ctx.Price-*ctx.StopLoss) <= 0 {
		return ExitDecision{Close: true, Reason: domain.ExitReasonStopLoss}
	}
	if sign*(ctx.Price-ctx.TakeProfit) >= 0 {
		return ExitDecision{Close: true, Reason: domain.ExitReasonTakeProfit}
	}
	if !ctx.Now.Before(ctx.FlattenAt) {
		return ExitDecision{Close: true, Reason: domain.ExitReasonEndOfDay}
	}
	return ExitDecision{}
}

// CheckLevels resolves a position's attached levels against a day candle
// using its full high/low range. A daily candle gives no intrabar
// ordering, so when both levels fall inside the range the stop loss wins.
func CheckLevels(entry float64, dir domain.Direction, tpPips float64, slPips *float64, c domain.Candle) (exitPrice float64, reason string, hit bool) {
	if slPips != nil {
		sl := market.StopLossLevel(entry, dir, *slPips)
		if sl >= c.Low && sl <= c.High {
			return sl, domain.ExitReasonStopLoss, true
		}
	}
	tp := market.TakeProfitLevel(entry, dir, tpPips)
	if tp >= c.Low && tp <= c.High {
		return tp, domain.ExitReasonTakeProfit, true
	}
	return 0, "", false
}

// ResolveDayExit resolves a position against the rest of its entry day:
// an attached level if the candle range reached one, otherwise the day's
// close.
func ResolveDayExit(entry float64, dir domain.Direction, tpPips float64, slPips *float64, c domain.Candle) (exitPrice float64, reason string) {
	if price, reason, hit := CheckLevels(entry, dir, tpPips, slPips, c); hit {
		return price, reason
	}
	return c.Close, domain.ExitReasonEndOfDay
}
