// Package market holds price arithmetic and candle ingestion for a single
// FX instrument quoted with a fixed pip size.
package market

import (
	"math"

	"fx-session-lab/internal/domain"
)

const (
	// PipSize is the price increment of one pip for EUR/USD.
	PipSize = 0.0001

	// PricePrecision is the number of decimal places broker order levels
	// are rounded to.
	PricePrecision = 5
)

// PriceToPips converts a price difference to pips.
func PriceToPips(delta float64) float64 {
	return delta / PipSize
}

// PipsToPrice converts pips to a price difference.
func PipsToPrice(pips float64) float64 {
	return pips * PipSize
}

// RoundPrice rounds a price to broker precision.
func RoundPrice(p float64) float64 {
	pow := math.Pow10(PricePrecision)
	return math.Round(p*pow) / pow
}

// SignedPips returns the favorable move in pips from entry to exit for the
// given direction: positive when the position gained, negative when it lost.
func SignedPips(entry, exit float64, dir domain.Direction) float64 {
	return PriceToPips(exit-entry) * dir.Sign()
}

// TakeProfitLevel returns the absolute price at which a position taken at
// entry reaches tp pips of profit.
func TakeProfitLevel(entry float64, dir domain.Direction, tp float64) float64 {
	return RoundPrice(entry + dir.Sign()*PipsToPrice(tp))
}

// StopLossLevel returns the absolute price at which a position taken at
// entry reaches sl pips of loss.
func StopLossLevel(entry float64, dir domain.Direction, sl float64) float64 {
	return RoundPrice(entry - dir.Sign()*PipsToPrice(sl))
}
