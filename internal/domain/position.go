package domain

import "time"

// OpenPosition is a broker-side position as the engine tracks it between
// ticks. BrokerTradeID is the broker's identifier, not the local TradeID.
type OpenPosition struct {
	BrokerTradeID string
	Instrument    string
	Direction     Direction
	Session       Session
	EntryPrice    float64
	Units         int
	TakeProfit    float64
	StopLoss      *float64 // nil in EOD-exit mode
	OpenedAt      time.Time
	FlattenAt     time.Time // next 22:00 UTC boundary after entry
}

// AccountSnapshot is a point-in-time view of the broker account.
type AccountSnapshot struct {
	AccountID    string
	Balance      float64
	UnrealizedPL float64
	OpenCount    int
	Time         time.Time
}

// ExecutionReport summarizes one engine tick for logs and the status
// command.
type ExecutionReport struct {
	Time        time.Time
	Signal      Signal
	Action      string
	Session     Session
	Position    *OpenPosition
	TradesToday int
	Err         string
}

// Tick actions recorded in execution reports.
const (
	ActionNone       = "NONE"
	ActionOpened     = "OPENED"
	ActionRetained   = "RETAINED"
	ActionClosed     = "CLOSED"
	ActionReconciled = "RECONCILED"
	ActionSkipped    = "SKIPPED"
)
