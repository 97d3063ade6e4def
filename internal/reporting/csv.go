package reporting

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"fx-session-lab/internal/domain"
)

// RenderCSV renders strategy metric rows as CSV string.
func RenderCSV(metrics []StrategyMetricRow) string {
	var sb strings.Builder

	// Header
	sb.WriteString("strategy_id,total_trades,wins,losses,win_rate,total_pips,avg_pips_per_trade,")
	sb.WriteString("profit_factor,final_equity,max_drawdown_pips,sharpe_annualized,max_consecutive_losses\n")

	// Rows
	for _, m := range metrics {
		profitFactor := ""
		if !m.ProfitFactorUndefined {
			profitFactor = fmt.Sprintf("%.6f", m.ProfitFactor)
		}
		sb.WriteString(fmt.Sprintf("%s,%d,%d,%d,%.6f,%.4f,%.6f,%s,%.2f,%.4f,%.6f,%d\n",
			m.StrategyID,
			m.TotalTrades,
			m.Wins,
			m.Losses,
			m.WinRate,
			m.TotalPips,
			m.AvgPipsPerTrade,
			profitFactor,
			m.FinalEquity,
			m.MaxDrawdownPips,
			m.SharpeAnnualized,
			m.MaxConsecutiveLosses,
		))
	}

	return sb.String()
}

var tradesHeader = []string{
	"trade_id", "instrument", "strategy_id", "entry_date", "session",
	"direction", "entry_price", "exit_price", "exit_reason", "pips",
}

// RenderTradesCSV renders closed trades as CSV string. The format round
// trips through ReadTradesCSV, which is how exported backtest runs reach
// the report command without a database.
func RenderTradesCSV(trades []*domain.Trade) string {
	var sb strings.Builder

	sb.WriteString(strings.Join(tradesHeader, ","))
	sb.WriteString("\n")

	for _, t := range trades {
		sb.WriteString(fmt.Sprintf("%s,%s,%s,%s,%s,%s,%.5f,%.5f,%s,%.4f\n",
			t.TradeID,
			t.Instrument,
			t.StrategyID,
			t.EntryDate.Format(dateLayout),
			t.Session,
			t.Direction,
			t.EntryPrice,
			t.ExitPrice,
			t.ExitReason,
			t.Pips,
		))
	}

	return sb.String()
}

// ReadTradesCSV parses a trades CSV produced by RenderTradesCSV. Any
// malformed row fails the whole read.
func ReadTradesCSV(r io.Reader) ([]*domain.Trade, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if err := checkTradesHeader(header); err != nil {
		return nil, err
	}

	var trades []*domain.Trade
	line := 1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		t, err := parseTradeRow(row)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		trades = append(trades, t)
	}
	return trades, nil
}

func checkTradesHeader(header []string) error {
	if len(header) != len(tradesHeader) {
		return fmt.Errorf("expected columns %v, got %v", tradesHeader, header)
	}
	for i, col := range header {
		if !strings.EqualFold(strings.TrimSpace(col), tradesHeader[i]) {
			return fmt.Errorf("expected column %q at position %d, got %q", tradesHeader[i], i, col)
		}
	}
	return nil
}

func parseTradeRow(row []string) (*domain.Trade, error) {
	if len(row) != len(tradesHeader) {
		return nil, fmt.Errorf("expected %d fields, got %d", len(tradesHeader), len(row))
	}

	entryDate, err := time.ParseInLocation(dateLayout, row[3], time.UTC)
	if err != nil {
		return nil, fmt.Errorf("invalid entry_date %q: %w", row[3], err)
	}

	session := domain.Session(row[4])
	if !session.IsValid() {
		return nil, fmt.Errorf("invalid session %q", row[4])
	}
	direction := domain.Direction(row[5])
	if !direction.IsValid() {
		return nil, fmt.Errorf("invalid direction %q", row[5])
	}

	entryPrice, err := strconv.ParseFloat(row[6], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid entry_price %q: %w", row[6], err)
	}
	exitPrice, err := strconv.ParseFloat(row[7], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid exit_price %q: %w", row[7], err)
	}
	pips, err := strconv.ParseFloat(row[9], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid pips %q: %w", row[9], err)
	}

	return &domain.Trade{
		TradeID:    row[0],
		Instrument: row[1],
		StrategyID: row[2],
		EntryDate:  entryDate,
		Session:    session,
		Direction:  direction,
		EntryPrice: entryPrice,
		ExitPrice:  exitPrice,
		ExitReason: row[8],
		Pips:       pips,
	}, nil
}
