package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"fx-session-lab/internal/domain"
	"fx-session-lab/internal/reporting"
	"fx-session-lab/internal/storage"
	chstore "fx-session-lab/internal/storage/clickhouse"
	"fx-session-lab/internal/storage/memory"
	pgstore "fx-session-lab/internal/storage/postgres"
)

func main() {
	// Parse flags
	outputDir := flag.String("output-dir", "reports", "Output directory for generated files")
	tradesCSV := flag.String("trades", "", "Trades CSV exported by the backtest command (instead of a database)")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string (trades)")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string (equity curves)")

	// Strategy parameters identifying the runs to report on
	smaPeriod := flag.Int("sma-period", 20, "SMA lookback in days")
	takeProfit := flag.Float64("take-profit", 10.0, "Take-profit distance in pips")
	stopLoss := flag.Float64("stop-loss", 0, "Stop-loss distance in pips (0 = end-of-day exit only)")
	cost := flag.Float64("cost", 2.0, "Round-trip cost per trade in pips")
	pipValue := flag.Float64("pip-value", 10.0, "Equity change per pip per unit")
	initialEquity := flag.Float64("initial-equity", 10000.0, "Starting equity")
	mode := flag.String("mode", "single", "Session mode: single or dual")
	retain := flag.Bool("retain", false, "Dual mode: retain an open position on a matching later signal")
	compare := flag.Bool("compare", false, "Report the single, dual, and dual-with-retention variants side by side")

	flag.Parse()

	ctx := context.Background()

	// Validate flags
	if *tradesCSV == "" && (*postgresDSN == "" || *clickhouseDSN == "") {
		fmt.Fprintln(os.Stderr, "Error: --postgres-dsn and --clickhouse-dsn are required when not reading a trades file")
		fmt.Fprintln(os.Stderr, "Use --trades to report on an exported backtest CSV instead")
		os.Exit(1)
	}

	base := domain.StrategyParams{
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
		base.StopLossPips = stopLoss
	}
	if err := base.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid parameters: %v\n", err)
		os.Exit(1)
	}
	paramSets := buildParamSets(base, *compare)

	// Create stores based on mode
	var (
		tradeStore  storage.TradeStore
		equityStore storage.EquityStore
	)

	if *tradesCSV != "" {
		var err error
		tradeStore, equityStore, err = loadTradesFile(ctx, *tradesCSV, paramSets)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading trades file: %v\n", err)
			os.Exit(1)
		}
	} else {
		pool, err := pgstore.NewPool(ctx, *postgresDSN)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error connecting to postgres: %v\n", err)
			os.Exit(1)
		}
		defer pool.Close()

		conn, err := chstore.NewConn(ctx, *clickhouseDSN)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error connecting to clickhouse: %v\n", err)
			os.Exit(1)
		}
		defer conn.Close()

		tradeStore = pgstore.NewTradeStore(pool)
		equityStore = chstore.NewEquityStore(conn)
	}

	// Generate the report
	generator := reporting.NewGenerator(tradeStore, equityStore)
	report, err := generator.Generate(ctx, paramSets)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating report: %v\n", err)
		os.Exit(1)
	}

	// Write output files
	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output dir: %v\n", err)
		os.Exit(1)
	}

	mdPath := filepath.Join(*outputDir, "REPORT.md")
	if err := os.WriteFile(mdPath, []byte(reporting.RenderMarkdown(report)), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing markdown: %v\n", err)
		os.Exit(1)
	}

	csvPath := filepath.Join(*outputDir, "STRATEGY_METRICS.csv")
	if err := os.WriteFile(csvPath, []byte(reporting.RenderCSV(report.StrategyMetrics)), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing csv: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Report generated successfully:")
	fmt.Printf("  - %s\n", mdPath)
	fmt.Printf("  - %s\n", csvPath)
}

// buildParamSets expands the base parameters into the variant grid when
// comparing, or returns just the base set.
func buildParamSets(base domain.StrategyParams, compare bool) []domain.StrategyParams {
	if !compare {
		return []domain.StrategyParams{base}
	}

	single := base
	single.Mode = domain.ModeSingle
	single.RetainSameDirection = false

	dual := base
	dual.Mode = domain.ModeDual
	dual.RetainSameDirection = false

	dualRetain := dual
	dualRetain.RetainSameDirection = true

	return []domain.StrategyParams{single, dual, dualRetain}
}

// loadTradesFile reads an exported trades CSV into memory stores and
// rebuilds a day-level equity curve per strategy from the trade pips. The
// rebuilt curve only covers traded days; the database path carries the
// simulator's full calendar curve.
func loadTradesFile(ctx context.Context, path string, paramSets []domain.StrategyParams) (storage.TradeStore, storage.EquityStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	trades, err := reporting.ReadTradesCSV(f)
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", path, err)
	}

	tradeStore := memory.NewTradeStore()
	if err := tradeStore.InsertBulk(ctx, trades); err != nil {
		return nil, nil, fmt.Errorf("load trades: %w", err)
	}

	equityStore := memory.NewEquityStore()
	for _, params := range paramSets {
		curve := rebuildEquity(trades, params)
		if err := equityStore.InsertBulk(ctx, curve); err != nil {
			return nil, nil, fmt.Errorf("rebuild equity curve: %w", err)
		}
	}

	// Surface strategy ids present in the file so a flag mismatch is
	// visible instead of producing silent all-zero rows.
	found := make(map[string]struct{})
	for _, t := range trades {
		found[t.StrategyID] = struct{}{}
	}
	wanted := make(map[string]struct{}, len(paramSets))
	for _, p := range paramSets {
		wanted[p.StrategyID()] = struct{}{}
	}
	var unmatched []string
	for id := range found {
		if _, ok := wanted[id]; !ok {
			unmatched = append(unmatched, id)
		}
	}
	if len(unmatched) > 0 {
		sort.Strings(unmatched)
		fmt.Fprintf(os.Stderr, "Warning: trades file also contains strategies not in this report: %s\n",
			strings.Join(unmatched, ", "))
	}

	return tradeStore, equityStore, nil
}

// rebuildEquity folds one strategy's trade pips into a per-day equity
// curve with a running peak.
func rebuildEquity(trades []*domain.Trade, params domain.StrategyParams) []*domain.EquityPoint {
	strategyID := params.StrategyID()

	pipsByDay := make(map[time.Time]float64)
	for _, t := range trades {
		if t.StrategyID != strategyID {
			continue
		}
		pipsByDay[domain.Day(t.EntryDate)] += t.Pips
	}
	if len(pipsByDay) == 0 {
		return nil
	}

	days := make([]time.Time, 0, len(pipsByDay))
	for day := range pipsByDay {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	equity := params.InitialEquity
	peak := params.InitialEquity
	curve := make([]*domain.EquityPoint, 0, len(days))
	for _, day := range days {
		equity += pipsByDay[day] * params.PipValue
		if equity > peak {
			peak = equity
		}
		curve = append(curve, &domain.EquityPoint{
			StrategyID: strategyID,
			Date:       day,
			Equity:     equity,
			PeakEquity: peak,
			Drawdown:   peak - equity,
		})
	}
	return curve
}
