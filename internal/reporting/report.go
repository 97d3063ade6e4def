package reporting

import "time"

// Report represents the performance report structure.
type Report struct {
	// Metadata
	GeneratedAt   time.Time
	Instrument    string
	StrategyCount int

	// Data Summary
	DataSummary DataSummary

	// Strategy Metrics (sorted by strategy_id)
	StrategyMetrics []StrategyMetricRow

	// Comparisons
	SessionComparison   []SessionComparisonRow   // per entry session
	DirectionComparison []DirectionComparisonRow // long vs short
}

// DataSummary describes the trade population behind the report.
type DataSummary struct {
	TotalTrades    int
	TradingDays    int // distinct entry days across all strategies
	DateRangeStart time.Time
	DateRangeEnd   time.Time
}

// StrategyMetricRow represents one row in the strategy metrics table.
type StrategyMetricRow struct {
	StrategyID            string
	TotalTrades           int
	Wins                  int
	Losses                int
	WinRate               float64 // percent
	TotalPips             float64
	AvgPipsPerTrade       float64
	ProfitFactor          float64
	ProfitFactorUndefined bool // no losing pips, ratio has no meaning
	FinalEquity           float64
	MaxDrawdownPips       float64
	SharpeAnnualized      float64
	MaxConsecutiveLosses  int
}

// SessionComparisonRow breaks one strategy's trades down by entry session.
type SessionComparisonRow struct {
	StrategyID string
	Session    string // DAILY, EUR or US
	Trades     int
	Wins       int
	WinRate    float64 // percent
	TotalPips  float64
	AvgPips    float64
}

// DirectionComparisonRow compares long against short performance.
type DirectionComparisonRow struct {
	StrategyID   string
	LongTrades   int
	ShortTrades  int
	LongWinRate  float64 // percent
	ShortWinRate float64 // percent
	LongPips     float64
	ShortPips    float64
}
