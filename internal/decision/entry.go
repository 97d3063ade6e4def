// Package decision holds the pure entry and exit rules. Functions here
// take explicit state and touch no clocks, brokers, or stores, so the live
// engine and the simulator run the exact same logic.
package decision

import (
	"fx-session-lab/internal/domain"
)

// EntryAction is the outcome of an entry evaluation.
type EntryAction string

const (
	EntryOpen   EntryAction = "OPEN"
	EntryRetain EntryAction = "RETAIN"
	EntrySkip   EntryAction = "SKIP"
)

// EntryContext is everything an entry decision depends on.
type EntryContext struct {
	Signal              domain.Signal
	HasOpenPosition     bool
	OpenDirection       domain.Direction // valid only when HasOpenPosition
	TradesToday         int
	MaxDailyTrades      int
	RetainSameDirection bool
}

// EntryDecision is the result of one entry evaluation.
type EntryDecision struct {
	Action    EntryAction
	Direction domain.Direction // set for OPEN and RETAIN
	Reason    string
}

// DecideEntry evaluates an entry opportunity. Checks run in a fixed order:
// a flat signal skips, an open position retains or skips, a reached daily
// cap skips, and only then does a new position open.
func DecideEntry(ctx EntryContext) EntryDecision {
	dir, ok := ctx.Signal.Direction()
	if !ok {
		return EntryDecision{Action: EntrySkip, Reason: "flat signal"}
	}

	if ctx.HasOpenPosition {
		if ctx.RetainSameDirection && dir == ctx.OpenDirection {
			return EntryDecision{
				Action:    EntryRetain,
				Direction: ctx.OpenDirection,
				Reason:    "signal matches open position",
			}
		}
		return EntryDecision{Action: EntrySkip, Reason: "position already open"}
	}

	if ctx.TradesToday >= ctx.MaxDailyTrades {
		return EntryDecision{Action: EntrySkip, Reason: "daily trade cap reached"}
	}

	return EntryDecision{Action: EntryOpen, Direction: dir, Reason: "signal " + ctx.Signal.String()}
}
