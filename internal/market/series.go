package market

import (
	"errors"
	"fmt"

	"fx-session-lab/internal/domain"
)

// Series validation errors
var (
	ErrEmptySeries   = errors.New("candle series is empty")
	ErrMalformedRow  = errors.New("malformed candle row")
	ErrInvalidCandle = errors.New("invalid candle")
	ErrOutOfOrder    = errors.New("candles out of order")
)

// ValidateSeries checks that candles form a usable daily series: at least
// one candle, strictly ascending unique dates, positive prices, and
// high/low bracketing open and close.
func ValidateSeries(candles []domain.Candle) error {
	if len(candles) == 0 {
		return ErrEmptySeries
	}
	for i, c := range candles {
		if err := validateCandle(c); err != nil {
			return fmt.Errorf("candle %d (%s): %w", i, c.Date.Format("2006-01-02"), err)
		}
		if i > 0 && !candles[i-1].Date.Before(c.Date) {
			return fmt.Errorf("%w: candle %d (%s) does not follow %s", ErrOutOfOrder,
				i, c.Date.Format("2006-01-02"), candles[i-1].Date.Format("2006-01-02"))
		}
	}
	return nil
}

func validateCandle(c domain.Candle) error {
	if c.Date.IsZero() {
		return fmt.Errorf("%w: zero date", ErrInvalidCandle)
	}
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return fmt.Errorf("%w: non-positive price", ErrInvalidCandle)
	}
	if c.High < c.Low {
		return fmt.Errorf("%w: high %v below low %v", ErrInvalidCandle, c.High, c.Low)
	}
	if c.Open > c.High || c.Open < c.Low {
		return fmt.Errorf("%w: open %v outside range [%v, %v]", ErrInvalidCandle, c.Open, c.Low, c.High)
	}
	if c.Close > c.High || c.Close < c.Low {
		return fmt.Errorf("%w: close %v outside range [%v, %v]", ErrInvalidCandle, c.Close, c.Low, c.High)
	}
	return nil
}
