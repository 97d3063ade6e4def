package domain

import "time"

// Trade represents one completed round trip. Trades open and close within a
// single calendar day; the simulator and the live engine both produce this
// shape so metrics and storage treat them identically.
type Trade struct {
	TradeID    string // deterministic hash
	Instrument string // e.g. "EUR_USD"
	StrategyID string // parameter-derived identifier

	EntryDate  time.Time // calendar day of entry, midnight UTC
	Session    Session   // session that opened the trade
	Direction  Direction
	EntryPrice float64
	ExitPrice  float64 // actual exit level: TP price, SL price, or daily close
	ExitReason string  // reason code
	Pips       float64 // signed result in pips, net of cost
}

// Exit reason codes
const (
	ExitReasonTakeProfit = "TAKE_PROFIT"
	ExitReasonStopLoss   = "STOP_LOSS"
	ExitReasonEndOfDay   = "END_OF_DAY"
)

// Session identifies the entry window of a trade.
type Session string

const (
	SessionDaily Session = "DAILY"
	SessionEUR   Session = "EUR"
	SessionUS    Session = "US"
)

// String returns the string representation of Session.
func (s Session) String() string {
	return string(s)
}

// IsValid checks if the session is a valid value.
func (s Session) IsValid() bool {
	return s == SessionDaily || s == SessionEUR || s == SessionUS
}

// Won reports whether the trade finished with a positive net result.
func (t *Trade) Won() bool {
	return t.Pips > 0
}
