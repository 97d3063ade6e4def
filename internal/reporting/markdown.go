package reporting

import (
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString("# Performance Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	if r.Instrument != "" {
		sb.WriteString(fmt.Sprintf("Instrument: %s\n\n", r.Instrument))
	}
	sb.WriteString(fmt.Sprintf("Strategies: %d | Trades: %d\n\n", r.StrategyCount, r.DataSummary.TotalTrades))

	// Data Summary
	sb.WriteString("## Data Summary\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Total Trades | %d |\n", r.DataSummary.TotalTrades))
	sb.WriteString(fmt.Sprintf("| Trading Days | %d |\n", r.DataSummary.TradingDays))
	if !r.DataSummary.DateRangeStart.IsZero() {
		sb.WriteString(fmt.Sprintf("| First Entry | %s |\n", r.DataSummary.DateRangeStart.Format(dateLayout)))
		sb.WriteString(fmt.Sprintf("| Last Entry | %s |\n", r.DataSummary.DateRangeEnd.Format(dateLayout)))
	}
	sb.WriteString("\n")

	// Strategy Metrics
	sb.WriteString("## Strategy Metrics\n\n")
	if len(r.StrategyMetrics) > 0 {
		sb.WriteString("| Strategy | Trades | Wins | Losses | WinRate% | Pips | Avg Pips | PF | Equity | MaxDD Pips | Sharpe | MaxLoss |\n")
		sb.WriteString("|----------|--------|------|--------|----------|------|----------|----|--------|------------|--------|--------|\n")
		for _, m := range r.StrategyMetrics {
			sb.WriteString(fmt.Sprintf("| %s | %d | %d | %d | %.2f | %.1f | %.2f | %s | %.2f | %.1f | %.2f | %d |\n",
				m.StrategyID, m.TotalTrades, m.Wins, m.Losses, m.WinRate,
				m.TotalPips, m.AvgPipsPerTrade, profitFactorCell(m),
				m.FinalEquity, m.MaxDrawdownPips, m.SharpeAnnualized,
				m.MaxConsecutiveLosses))
		}
	} else {
		sb.WriteString("No strategy metrics available.\n")
	}
	sb.WriteString("\n")

	// Session Comparison
	sb.WriteString("## Session Comparison\n\n")
	if len(r.SessionComparison) > 0 {
		sb.WriteString("| Strategy | Session | Trades | Wins | WinRate% | Pips | Avg Pips |\n")
		sb.WriteString("|----------|---------|--------|------|----------|------|----------|\n")
		for _, s := range r.SessionComparison {
			sb.WriteString(fmt.Sprintf("| %s | %s | %d | %d | %.2f | %.1f | %.2f |\n",
				s.StrategyID, s.Session, s.Trades, s.Wins,
				s.WinRate, s.TotalPips, s.AvgPips))
		}
	} else {
		sb.WriteString("No session comparison available.\n")
	}
	sb.WriteString("\n")

	// Direction Comparison
	sb.WriteString("## Long vs Short Comparison\n\n")
	if len(r.DirectionComparison) > 0 {
		sb.WriteString("| Strategy | Long Trades | Short Trades | Long WinRate% | Short WinRate% | Long Pips | Short Pips |\n")
		sb.WriteString("|----------|-------------|--------------|---------------|----------------|-----------|------------|\n")
		for _, d := range r.DirectionComparison {
			sb.WriteString(fmt.Sprintf("| %s | %d | %d | %.2f | %.2f | %.1f | %.1f |\n",
				d.StrategyID, d.LongTrades, d.ShortTrades,
				d.LongWinRate, d.ShortWinRate, d.LongPips, d.ShortPips))
		}
	} else {
		sb.WriteString("No direction comparison available.\n")
	}
	sb.WriteString("\n")

	return sb.String()
}

// profitFactorCell formats the profit factor, using n/a when the strategy
// has no losing pips.
func profitFactorCell(m StrategyMetricRow) string {
	if m.ProfitFactorUndefined {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", m.ProfitFactor)
}
