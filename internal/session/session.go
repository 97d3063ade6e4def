// Package session defines the entry windows of a trading day and the
// execution price each window fills at.
package session

import (
	"time"

	"fx-session-lab/internal/domain"
)

// usOpenFraction approximates where inside the daily bar the US window
// opens: a fixed fraction of the open-to-close move.
const usOpenFraction = 0.3

// FlattenHour is the UTC hour of the daily boundary at which any open
// position is closed.
const FlattenHour = 22

// Descriptor is one entry window. Hours are UTC; StartHour is inclusive,
// EndHour exclusive.
type Descriptor struct {
	Session   domain.Session
	StartHour int
	EndHour   int
}

// Contains reports whether t falls inside the window on any day.
func (d Descriptor) Contains(t time.Time) bool {
	h := t.UTC().Hour()
	return h >= d.StartHour && h < d.EndHour
}

// Window returns the concrete start and end of the window on the given day.
func (d Descriptor) Window(day time.Time) (start, end time.Time) {
	day = domain.Day(day)
	start = day.Add(time.Duration(d.StartHour) * time.Hour)
	end = day.Add(time.Duration(d.EndHour) * time.Hour)
	return start, end
}

var (
	singleSessions = []Descriptor{
		{Session: domain.SessionDaily, StartHour: 22, EndHour: 23},
	}
	dualSessions = []Descriptor{
		{Session: domain.SessionEUR, StartHour: 8, EndHour: 9},
		{Session: domain.SessionUS, StartHour: 13, EndHour: 14},
	}
)

// ForMode returns the entry windows of a trading day in chronological
// order: the single Daily window, or the EUR and US windows.
func ForMode(mode domain.SessionMode) []Descriptor {
	if mode == domain.ModeDual {
		return dualSessions
	}
	return singleSessions
}

// Active returns the window containing t, if any.
func Active(t time.Time, mode domain.SessionMode) (Descriptor, bool) {
	for _, d := range ForMode(mode) {
		if d.Contains(t) {
			return d, true
		}
	}
	return Descriptor{}, false
}

// ExecutionPrice returns the fill price a session entry gets from the
// day's candle. The Daily and EUR windows fill at the open; the US window
// opens mid-bar and fills at a fixed fraction into the open-to-close move.
func ExecutionPrice(s domain.Session, c domain.Candle) float64 {
	if s == domain.SessionUS {
		return c.Open + usOpenFraction*(c.Close-c.Open)
	}
	return c.Open
}

// NextFlatten returns the first daily boundary strictly after t, i.e. the
// time at which a position opened at t must be flat.
func NextFlatten(t time.Time) time.Time {
	t = t.UTC()
	boundary := time.Date(t.Year(), t.Month(), t.Day(), FlattenHour, 0, 0, 0, time.UTC)
	if !boundary.After(t) {
		boundary = boundary.AddDate(0, 0, 1)
	}
	return boundary
}
