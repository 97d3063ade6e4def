package domain

// Signal is the per-day directional trading signal.
type Signal string

const (
	SignalLong  Signal = "LONG"
	SignalShort Signal = "SHORT"
	SignalFlat  Signal = "FLAT"
)

// String returns the string representation of Signal.
func (s Signal) String() string {
	return string(s)
}

// IsValid checks if the signal is a valid value.
func (s Signal) IsValid() bool {
	return s == SignalLong || s == SignalShort || s == SignalFlat
}

// Direction returns the trade direction implied by the signal.
// The second return is false for SignalFlat, which implies no trade.
func (s Signal) Direction() (Direction, bool) {
	switch s {
	case SignalLong:
		return DirectionLong, true
	case SignalShort:
		return DirectionShort, true
	default:
		return "", false
	}
}

// Direction is the side of an open trade.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// String returns the string representation of Direction.
func (d Direction) String() string {
	return string(d)
}

// IsValid checks if the direction is a valid value.
func (d Direction) IsValid() bool {
	return d == DirectionLong || d == DirectionShort
}

// Sign returns +1 for long and -1 for short, the multiplier that turns a
// price difference (exit - entry) into a signed profit.
func (d Direction) Sign() float64 {
	if d == DirectionShort {
		return -1
	}
	return 1
}
