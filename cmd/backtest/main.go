package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"fx-session-lab/internal/domain"
	"fx-session-lab/internal/market"
	"fx-session-lab/internal/metrics"
	"fx-session-lab/internal/observability"
	"fx-session-lab/internal/reporting"
	"fx-session-lab/internal/simulation"
	"fx-session-lab/internal/storage"
	chstore "fx-session-lab/internal/storage/clickhouse"
	"fx-session-lab/internal/storage/migrations"
	pgstore "fx-session-lab/internal/storage/postgres"
)

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Daily candle CSV file: Date,Open,High,Low,Close (required)")
	instrument := flag.String("instrument", "EUR_USD", "Instrument the candles belong to")

	// Strategy parameters
	smaPeriod := flag.Int("sma-period", 20, "SMA lookback in days")
	takeProfit := flag.Float64("take-profit", 10.0, "Take-profit distance in pips")
	stopLoss := flag.Float64("stop-loss", 0, "Stop-loss distance in pips (0 = end-of-day exit only)")
	cost := flag.Float64("cost", 2.0, "Round-trip cost per trade in pips")
	pipValue := flag.Float64("pip-value", 10.0, "Equity change per pip per unit")
	initialEquity := flag.Float64("initial-equity", 10000.0, "Starting equity")
	mode := flag.String("mode", "single", "Session mode: single or dual")
	retain := flag.Bool("retain", false, "Dual mode: retain an open position on a matching later signal")

	// Storage
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string (trades)")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string (equity curve)")
	persistResult := flag.Bool("persist", false, "Persist trades and equity curve to storage")

	// Output
	outputJSON := flag.Bool("json", false, "Output as JSON")
	exportTrades := flag.String("export-trades", "", "Write the closed trades as CSV to this path")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stderr, "[backtest] ", log.LstdFlags)

	// Validate required flags
	if *csvPath == "" {
		logger.Fatal("--csv is required")
	}

	params := domain.StrategyParams{
		SMAPeriod:           *smaPeriod,
		TakeProfitPips:      *takeProfit,
		CostPerTradePips:    *cost,
		PipValue:            *pipValue,
		InitialEquity:       *initialEquity,
		Mode:                domain.SessionMode(strings.ToUpper(*mode)),
		RetainSameDirection: *retain,
		PositionUnits:       1,
	}
	if *stopLoss > 0 {
		params.StopLossPips = stopLoss
	}
	if err := params.Validate(); err != nil {
		logger.Fatalf("invalid parameters: %v", err)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	// Load candles
	candles, err := market.LoadCandlesCSV(*csvPath)
	if err != nil {
		logger.Fatalf("load candles: %v", err)
	}

	// Create stores when persisting
	var tradeStore storage.TradeStore
	var equityStore storage.EquityStore
	if *persistResult {
		if *postgresDSN == "" {
			logger.Fatal("--postgres-dsn is required with --persist (trades)")
		}
		if *clickhouseDSN == "" {
			logger.Fatal("--clickhouse-dsn is required with --persist (equity curve)")
		}

		pool, err := pgstore.NewPool(ctx, *postgresDSN)
		if err != nil {
			logger.Fatalf("connect to postgres: %v", err)
		}
		defer pool.Close()
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			logger.Fatalf("postgres migrations: %v", err)
		}
		tradeStore = pgstore.NewTradeStore(pool)

		conn, err := migrations.RunClickhouseMigrations(ctx, *clickhouseDSN)
		if err != nil {
			logger.Fatalf("connect to clickhouse: %v", err)
		}
		defer conn.Close()
		equityStore = chstore.NewEquityStore(conn)
	}

	runner := simulation.NewRunner(simulation.RunnerOptions{
		TradeStore:  tradeStore,
		EquityStore: equityStore,
	})

	// Run simulation
	logger.Printf("Running backtest: instrument=%s strategy=%s candles=%d",
		*instrument, params.StrategyID(), len(candles))

	result, err := runner.Run(ctx, *instrument, candles, params)
	if err != nil {
		observability.RecordSimulation("error", 0)
		logger.Fatalf("backtest failed: %v", err)
	}
	observability.RecordSimulation("success", len(result.Trades))

	summary := metrics.Compute(result.Trades, result.Equity, params)

	// Export trades
	if *exportTrades != "" {
		csv := reporting.RenderTradesCSV(result.Trades)
		if err := os.WriteFile(*exportTrades, []byte(csv), 0o644); err != nil {
			logger.Fatalf("export trades: %v", err)
		}
		logger.Printf("Exported %d trades to %s", len(result.Trades), *exportTrades)
	}

	// Output result
	if *outputJSON {
		output, _ := json.MarshalIndent(summary, "", "  ")
		fmt.Println(string(output))
	} else {
		printSummary(&summary, result)
	}
}

// printSummary outputs a human-readable run summary.
func printSummary(s *metrics.Summary, r *simulation.Result) {
	fmt.Println()
	fmt.Println("=== Backtest Result ===")
	fmt.Printf("Strategy:           %s\n", s.StrategyID)
	fmt.Println()

	fmt.Println("Trades:")
	fmt.Printf("  Total:            %d (%d long / %d short)\n", s.TotalTrades, s.LongTrades, s.ShortTrades)
	fmt.Printf("  Wins / Losses:    %d / %d\n", s.Wins, s.Losses)
	fmt.Printf("  Win Rate:         %.2f%%\n", s.WinRate)
	if r.SameDirectionRetained > 0 {
		fmt.Printf("  Retained:         %d\n", r.SameDirectionRetained)
	}
	fmt.Println()

	fmt.Println("Pips:")
	fmt.Printf("  Total:            %.1f\n", s.TotalPips)
	fmt.Printf("  Avg per Trade:    %.2f\n", s.AvgPipsPerTrade)
	fmt.Printf("  Avg per Day:      %.2f\n", s.AvgPipsPerDay)
	fmt.Printf("  Avg Win / Loss:   %.2f / %.2f\n", s.AvgWinPips, s.AvgLossPips)
	fmt.Println()

	fmt.Println("Result:")
	if s.ProfitFactorUndefined {
		fmt.Printf("  Profit Factor:    undefined (no losing trades)\n")
	} else {
		fmt.Printf("  Profit Factor:    %.2f\n", s.ProfitFactor)
	}
	fmt.Printf("  Final Equity:     %.2f\n", s.FinalEquity)
	fmt.Printf("  Max Drawdown:     %.2f (%.1f pips, %.2f%%)\n", s.MaxDrawdown, s.MaxDrawdownPips, s.MaxDrawdownPct)
	fmt.Printf("  Sharpe (ann.):    %.2f\n", s.SharpeAnnualized)
	fmt.Printf("  Max Consec. Loss: %d\n", s.MaxConsecutiveLosses)
}
