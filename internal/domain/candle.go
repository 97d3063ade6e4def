package domain

import "time"

// Candle represents one daily OHLC bar.
// Date is the bar's calendar day at midnight UTC; the bar itself spans the
// 22:00 UTC session boundary convention used by daily FX feeds.
type Candle struct {
	Date  time.Time // calendar day, midnight UTC
	Open  float64
	High  float64
	Low   float64
	Close float64
}

// Day normalizes a timestamp to its calendar day at midnight UTC.
func Day(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// SameDay reports whether two timestamps fall on the same UTC calendar day.
func SameDay(a, b time.Time) bool {
	return Day(a).Equal(Day(b))
}
