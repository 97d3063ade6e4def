package signal

import (
	"fmt"

	"fx-session-lab/internal/domain"
)

// InsufficientDataError is returned by Latest when fewer candles than the
// SMA period are available.
type InsufficientDataError struct {
	Have int
	Need int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient candle history: have %d, need %d", e.Have, e.Need)
}

// Generator turns completed daily candles into signals. The signal for a
// day is computed from strictly earlier candles only: yesterday's close
// compared against the SMA of the last period closes ending yesterday.
type Generator struct {
	period int
}

// NewGenerator creates a Generator with the given SMA period.
func NewGenerator(period int) (*Generator, error) {
	if period < 1 {
		return nil, fmt.Errorf("%w: got %d", domain.ErrInvalidSMAPeriod, period)
	}
	return &Generator{period: period}, nil
}

// Period returns the SMA lookback.
func (g *Generator) Period() int {
	return g.period
}

// Compare maps a close/SMA pair to a signal. Equality yields Flat.
func Compare(close, sma float64) domain.Signal {
	switch {
	case close > sma:
		return domain.SignalLong
	case close < sma:
		return domain.SignalShort
	default:
		return domain.SignalFlat
	}
}

// Series returns one signal per candle. Element i is the signal in force
// on candles[i].Date, derived from candles[:i]; days with fewer than
// period prior closes are Flat.
func (g *Generator) Series(candles []domain.Candle) []domain.Signal {
	out := make([]domain.Signal, len(candles))
	sma := NewSMA(g.period)
	for i, c := range candles {
		if i > 0 && sma.Ready() {
			mean, _ := sma.Value()
			out[i] = Compare(candles[i-1].Close, mean)
		} else {
			out[i] = domain.SignalFlat
		}
		sma.Add(c.Close)
	}
	return out
}

// Latest returns the signal for the day following the last candle, i.e.
// the decision input for a live tick after history has been fetched.
func (g *Generator) Latest(candles []domain.Candle) (domain.Signal, error) {
	if len(candles) < g.period {
		return domain.SignalFlat, &InsufficientDataError{Have: len(candles), Need: g.period}
	}
	sma := NewSMA(g.period)
	for _, c := range candles[len(candles)-g.period:] {
		sma.Add(c.Close)
	}
	mean, _ := sma.Value()
	return Compare(candles[len(candles)-1].Close, mean), nil
}
