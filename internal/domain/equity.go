package domain

import "time"

// EquityPoint is one day on the equity curve. The curve carries one point
// per candle date, flat days included, so drawdown and day-count based
// statistics see the full calendar.
type EquityPoint struct {
	StrategyID string    // parameter-derived identifier
	Date       time.Time // calendar day, midnight UTC
	Equity     float64
	PeakEquity float64
	Drawdown   float64 // peak_equity - equity, always >= 0
}
