package engine

import (
	"fmt"
	"time"

	"fx-session-lab/internal/domain"
)

// State is a slot state of the position tracker.
type State string

const (
	StateIdle         State = "IDLE"
	StatePendingEntry State = "PENDING_ENTRY"
	StateOpen         State = "OPEN"
	StateClosing      State = "CLOSING"
)

// Tracker owns the single open-position slot and the daily trade counter.
// It is an explicit handle: every Engine carries its own, nothing here is
// package-global. The Tracker does no locking itself; the Engine serializes
// all access through its mutex.
//
// Transitions follow the order life cycle. BeginEntry claims the slot
// before the order goes out, ConfirmOpen or AbortEntry settles it, and the
// close side mirrors that with BeginClose, ConfirmClose, and AbortClose.
// Adopt and ReconcileClosed absorb broker-side changes the engine did not
// make itself. Any transition out of order is an invariant violation.
type Tracker struct {
	state    State
	position *domain.OpenPosition

	counterDay  time.Time
	tradesToday int
}

// NewTracker creates a Tracker with an empty slot.
func NewTracker() *Tracker {
	return &Tracker{state: StateIdle}
}

// State returns the current slot state.
func (t *Tracker) State() State { return t.state }

// Position returns the tracked position. It is nil unless the slot is in
// StateOpen or StateClosing.
func (t *Tracker) Position() *domain.OpenPosition { return t.position }

// TradesOn returns the number of positions opened on the given UTC day.
func (t *Tracker) TradesOn(day time.Time) int {
	if !domain.SameDay(day, t.counterDay) {
		return 0
	}
	return t.tradesToday
}

// SeedCount restores the daily counter from persisted state, used once per
// process so a restart cannot exceed the daily cap. Seeding never lowers a
// count already accumulated in memory.
func (t *Tracker) SeedCount(day time.Time, count int) {
	if domain.SameDay(day, t.counterDay) {
		if count > t.tradesToday {
			t.tradesToday = count
		}
		return
	}
	t.counterDay = domain.Day(day)
	t.tradesToday = count
}

// RollDate resets the counter when now has crossed into a new UTC day.
// Within a day the counter only ever grows.
func (t *Tracker) RollDate(now time.Time) {
	if domain.SameDay(now, t.counterDay) {
		return
	}
	t.counterDay = domain.Day(now)
	t.tradesToday = 0
}

// BeginEntry claims the slot for an order about to be placed.
func (t *Tracker) BeginEntry() error {
	if t.state != StateIdle {
		return t.illegal("begin entry")
	}
	t.state = StatePendingEntry
	return nil
}

// ConfirmOpen records a confirmed fill and counts it toward the day the
// position was opened.
func (t *Tracker) ConfirmOpen(pos *domain.OpenPosition) error {
	if t.state != StatePendingEntry {
		return t.illegal("confirm open")
	}
	if pos == nil {
		return &InvariantViolationError{Reason: "confirm open without a position"}
	}
	t.state = StateOpen
	t.position = pos
	t.opened(pos.OpenedAt)
	return nil
}

// AbortEntry releases the slot after a failed or rejected order. The
// counter is untouched: only confirmed fills count.
func (t *Tracker) AbortEntry() error {
	if t.state != StatePendingEntry {
		return t.illegal("abort entry")
	}
	t.state = StateIdle
	return nil
}

// Adopt places a broker-side position the tracker did not open into the
// slot. It counts toward the day the position was opened, so adopting a
// stale position does not inflate today's cap.
func (t *Tracker) Adopt(pos *domain.OpenPosition) error {
	if t.state != StateIdle {
		return t.illegal("adopt")
	}
	if pos == nil {
		return &InvariantViolationError{Reason: "adopt without a position"}
	}
	t.state = StateOpen
	t.position = pos
	t.opened(pos.OpenedAt)
	return nil
}

// BeginClose marks the open position as closing.
func (t *Tracker) BeginClose() error {
	if t.state != StateOpen {
		return t.illegal("begin close")
	}
	t.state = StateClosing
	return nil
}

// ConfirmClose frees the slot after a confirmed close.
func (t *Tracker) ConfirmClose() error {
	if t.state != StateClosing {
		return t.illegal("confirm close")
	}
	t.state = StateIdle
	t.position = nil
	return nil
}

// AbortClose returns the position to StateOpen after a failed close order.
func (t *Tracker) AbortClose() error {
	if t.state != StateClosing {
		return t.illegal("abort close")
	}
	t.state = StateOpen
	return nil
}

// ReconcileClosed frees the slot for a position the broker no longer
// holds, e.g. a take profit that filled broker-side between ticks.
func (t *Tracker) ReconcileClosed() error {
	if t.state != StateOpen {
		return t.illegal("reconcile closed")
	}
	t.state = StateIdle
	t.position = nil
	return nil
}

func (t *Tracker) opened(at time.Time) {
	day := domain.Day(at)
	if !domain.SameDay(day, t.counterDay) {
		t.counterDay = day
		t.tradesToday = 0
	}
	t.tradesToday++
}

func (t *Tracker) illegal(op string) error {
	return &InvariantViolationError{Reason: fmt.Sprintf("%s in state %s", op, t.state)}
}
