package metrics

import (
	"math"
	"sort"

	"fx-session-lab/internal/domain"
)

// tradingDaysPerYear is the conventional FX trading day count used for
// annualization.
const tradingDaysPerYear = 252

// Summary holds the performance statistics of one strategy run. All pip
// figures are net of transaction cost. A Summary computed from zero trades
// is all zeros, never NaN or infinite.
type Summary struct {
	StrategyID string

	// Counts
	TotalTrades int
	LongTrades  int
	ShortTrades int
	Wins        int
	Losses      int
	WinRate     float64 // percent

	// Pips
	TotalPips       float64
	AvgPipsPerTrade float64
	AvgPipsPerDay   float64
	AvgWinPips      float64
	AvgLossPips     float64
	GrossWinPips    float64
	GrossLossPips   float64 // zero or negative

	// ProfitFactor is gross win pips over absolute gross loss pips. With
	// no losing pips the ratio has no meaning; ProfitFactorUndefined is
	// set and the value stays zero.
	ProfitFactor          float64
	ProfitFactorUndefined bool

	// Equity
	FinalEquity     float64
	MaxDrawdown     float64 // account currency
	MaxDrawdownPips float64
	MaxDrawdownPct  float64 // percent of initial equity

	SharpeRatio      float64
	SharpeAnnualized float64

	MaxConsecutiveLosses int
}

// Compute calculates all statistics from a trade list and equity curve.
// Trades are re-sorted by entry date, session, trade id before the
// order-dependent metrics so input order never changes the result.
func Compute(trades []*domain.Trade, curve []*domain.EquityPoint, params domain.StrategyParams) Summary {
	s := Summary{StrategyID: params.StrategyID()}

	s.FinalEquity = params.InitialEquity
	if len(curve) > 0 {
		s.FinalEquity = curve[len(curve)-1].Equity
	}

	// Drawdown comes from the equity curve alone, so it is defined even
	// when no trade ever opened.
	s.MaxDrawdown = maxDrawdown(curve, params.InitialEquity)
	s.MaxDrawdownPips = s.MaxDrawdown / params.PipValue
	s.MaxDrawdownPct = s.MaxDrawdown / params.InitialEquity * 100

	n := len(trades)
	if n == 0 {
		return s
	}

	sorted := make([]*domain.Trade, n)
	copy(sorted, trades)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].EntryDate.Equal(sorted[j].EntryDate) {
			return sorted[i].EntryDate.Before(sorted[j].EntryDate)
		}
		if sorted[i].Session != sorted[j].Session {
			return sorted[i].Session < sorted[j].Session
		}
		return sorted[i].TradeID < sorted[j].TradeID
	})

	pips := make([]float64, n)
	var grossWin, grossLoss float64
	for i, t := range sorted {
		pips[i] = t.Pips
		s.TotalPips += t.Pips

		if t.Direction == domain.DirectionLong {
			s.LongTrades++
		} else {
			s.ShortTrades++
		}

		if t.Won() {
			s.Wins++
			grossWin += t.Pips
			s.AvgWinPips += t.Pips
		} else {
			s.Losses++
			grossLoss += t.Pips
			s.AvgLossPips += t.Pips
		}
	}

	s.TotalTrades = n
	s.WinRate = float64(s.Wins) / float64(n) * 100
	s.AvgPipsPerTrade = s.TotalPips / float64(n)
	if len(curve) > 0 {
		s.AvgPipsPerDay = s.TotalPips / float64(len(curve))
	}
	if s.Wins > 0 {
		s.AvgWinPips /= float64(s.Wins)
	}
	if s.Losses > 0 {
		s.AvgLossPips /= float64(s.Losses)
	}
	s.GrossWinPips = grossWin
	s.GrossLossPips = grossLoss

	if grossLoss != 0 {
		s.ProfitFactor = math.Abs(grossWin / grossLoss)
	} else {
		s.ProfitFactorUndefined = true
	}

	s.SharpeRatio = sharpe(pips, s.AvgPipsPerTrade)
	if len(curve) > 0 {
		s.SharpeAnnualized = s.SharpeRatio * math.Sqrt(tradingDaysPerYear/float64(len(curve)))
	}

	s.MaxConsecutiveLosses = maxConsecutiveLosses(pips)
	return s
}

// maxDrawdown is the worst peak-to-trough drop of the equity curve, in
// account currency. The peak starts at initial equity.
func maxDrawdown(curve []*domain.EquityPoint, initialEquity float64) float64 {
	peak := initialEquity
	worst := 0.0
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if dd := peak - p.Equity; dd > worst {
			worst = dd
		}
	}
	return worst
}

// sharpe is mean over sample standard deviation scaled by sqrt(n). Fewer
// than two trades, or zero variance, yields zero.
func sharpe(pips []float64, mean float64) float64 {
	n := len(pips)
	if n < 2 {
		return 0
	}
	sumSq := 0.0
	for _, p := range pips {
		diff := p - mean
		sumSq += diff * diff
	}
	std := math.Sqrt(sumSq / float64(n-1))
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(float64(n))
}

// maxConsecutiveLosses finds the longest streak of non-positive trades.
func maxConsecutiveLosses(pips []float64) int {
	maxStreak := 0
	current := 0
	for _, p := range pips {
		if p <= 0 {
			current++
			if current > maxStreak {
				maxStreak = current
			}
		} else {
			current = 0
		}
	}
	return maxStreak
}
