package reporting

import (
	"context"
	"fmt"
	"sort"
	"time"

	"fx-session-lab/internal/domain"
	"fx-session-lab/internal/metrics"
	"fx-session-lab/internal/storage"
)

// Generator produces reports from stored trades and equity curves.
type Generator struct {
	tradeStore storage.TradeStore
	aggregator *metrics.Aggregator
	now        func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator.
func NewGenerator(tradeStore storage.TradeStore, equityStore storage.EquityStore) *Generator {
	return &Generator{
		tradeStore: tradeStore,
		aggregator: metrics.NewAggregator(tradeStore, equityStore),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate produces a complete report over the given strategy parameter
// sets. Strategies with no recorded trades still get a metrics row; they
// are simply absent from the comparison tables.
func (g *Generator) Generate(ctx context.Context, paramSets []domain.StrategyParams) (*Report, error) {
	var (
		metricRows    []StrategyMetricRow
		sessionRows   []SessionComparisonRow
		directionRows []DirectionComparisonRow
		allTrades     []*domain.Trade
		instrument    string
	)

	strategySet := make(map[string]struct{})

	for _, params := range paramSets {
		strategyID := params.StrategyID()
		strategySet[strategyID] = struct{}{}

		summary, err := g.aggregator.SummaryFor(ctx, params)
		if err != nil {
			return nil, err
		}
		metricRows = append(metricRows, metricRow(summary))

		trades, err := g.tradeStore.GetByStrategy(ctx, strategyID)
		if err != nil {
			return nil, fmt.Errorf("failed to load trades for %s: %w", strategyID, err)
		}
		if len(trades) == 0 {
			continue
		}
		if instrument == "" {
			instrument = trades[0].Instrument
		}

		allTrades = append(allTrades, trades...)
		sessionRows = append(sessionRows, generateSessionComparison(strategyID, trades)...)
		directionRows = append(directionRows, generateDirectionComparison(strategyID, trades))
	}

	// Sort all row groups by strategy_id so output never depends on
	// paramSets order.
	sort.Slice(metricRows, func(i, j int) bool {
		return metricRows[i].StrategyID < metricRows[j].StrategyID
	})
	sort.Slice(sessionRows, func(i, j int) bool {
		if sessionRows[i].StrategyID != sessionRows[j].StrategyID {
			return sessionRows[i].StrategyID < sessionRows[j].StrategyID
		}
		return sessionRows[i].Session < sessionRows[j].Session
	})
	sort.Slice(directionRows, func(i, j int) bool {
		return directionRows[i].StrategyID < directionRows[j].StrategyID
	})

	return &Report{
		GeneratedAt:         g.now(),
		Instrument:          instrument,
		StrategyCount:       len(strategySet),
		DataSummary:         generateDataSummary(allTrades),
		StrategyMetrics:     metricRows,
		SessionComparison:   sessionRows,
		DirectionComparison: directionRows,
	}, nil
}

// generateDataSummary computes the trade population summary.
func generateDataSummary(trades []*domain.Trade) DataSummary {
	ds := DataSummary{TotalTrades: len(trades)}
	if len(trades) == 0 {
		return ds
	}

	days := make(map[time.Time]struct{})
	ds.DateRangeStart = trades[0].EntryDate
	ds.DateRangeEnd = trades[0].EntryDate
	for _, t := range trades {
		days[domain.Day(t.EntryDate)] = struct{}{}
		if t.EntryDate.Before(ds.DateRangeStart) {
			ds.DateRangeStart = t.EntryDate
		}
		if t.EntryDate.After(ds.DateRangeEnd) {
			ds.DateRangeEnd = t.EntryDate
		}
	}
	ds.TradingDays = len(days)
	return ds
}

// generateSessionComparison breaks one strategy's trades down by entry
// session. Sessions with no trades produce no row.
func generateSessionComparison(strategyID string, trades []*domain.Trade) []SessionComparisonRow {
	bySession := make(map[domain.Session][]*domain.Trade)
	for _, t := range trades {
		bySession[t.Session] = append(bySession[t.Session], t)
	}

	var rows []SessionComparisonRow
	for _, session := range []domain.Session{domain.SessionDaily, domain.SessionEUR, domain.SessionUS} {
		group := bySession[session]
		if len(group) == 0 {
			continue
		}

		row := SessionComparisonRow{
			StrategyID: strategyID,
			Session:    session.String(),
			Trades:     len(group),
		}
		for _, t := range group {
			row.TotalPips += t.Pips
			if t.Won() {
				row.Wins++
			}
		}
		row.WinRate = float64(row.Wins) / float64(len(group)) * 100
		row.AvgPips = row.TotalPips / float64(len(group))

		rows = append(rows, row)
	}
	return rows
}

// generateDirectionComparison aggregates long and short sides of one
// strategy's trades.
func generateDirectionComparison(strategyID string, trades []*domain.Trade) DirectionComparisonRow {
	row := DirectionComparisonRow{StrategyID: strategyID}

	var longWins, shortWins int
	for _, t := range trades {
		if t.Direction == domain.DirectionLong {
			row.LongTrades++
			row.LongPips += t.Pips
			if t.Won() {
				longWins++
			}
		} else {
			row.ShortTrades++
			row.ShortPips += t.Pips
			if t.Won() {
				shortWins++
			}
		}
	}

	if row.LongTrades > 0 {
		row.LongWinRate = float64(longWins) / float64(row.LongTrades) * 100
	}
	if row.ShortTrades > 0 {
		row.ShortWinRate = float64(shortWins) / float64(row.ShortTrades) * 100
	}
	return row
}

// metricRow flattens a computed summary into a report row.
func metricRow(s *metrics.Summary) StrategyMetricRow {
	return StrategyMetricRow{
		StrategyID:            s.StrategyID,
		TotalTrades:           s.TotalTrades,
		Wins:                  s.Wins,
		Losses:                s.Losses,
		WinRate:               s.WinRate,
		TotalPips:             s.TotalPips,
		AvgPipsPerTrade:       s.AvgPipsPerTrade,
		ProfitFactor:          s.ProfitFactor,
		ProfitFactorUndefined: s.ProfitFactorUndefined,
		FinalEquity:           s.FinalEquity,
		MaxDrawdownPips:       s.MaxDrawdownPips,
		SharpeAnnualized:      s.SharpeAnnualized,
		MaxConsecutiveLosses:  s.MaxConsecutiveLosses,
	}
}
