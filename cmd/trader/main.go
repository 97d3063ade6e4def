package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fx-session-lab/internal/broker/oanda"
	"fx-session-lab/internal/config"
	"fx-session-lab/internal/domain"
	"fx-session-lab/internal/engine"
	"fx-session-lab/internal/journal"
	"fx-session-lab/internal/logging"
	"fx-session-lab/internal/observability"
	"fx-session-lab/internal/pricefeed"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "config.yaml", "Path to YAML config file")
	once := flag.Bool("once", false, "Run a single tick and exit")
	status := flag.Bool("status", false, "Print the account snapshot and exit")
	closeAll := flag.Bool("close-all", false, "Close any open position and exit")
	interval := flag.Duration("interval", 0, "Tick interval for continuous mode (default from config)")
	outputJSON := flag.Bool("json", false, "Output as JSON")
	flag.Parse()

	modes := 0
	for _, m := range []bool{*once, *status, *closeAll} {
		if m {
			modes++
		}
	}
	if modes > 1 {
		fmt.Fprintln(os.Stderr, "Error: --once, --status and --close-all are mutually exclusive")
		os.Exit(1)
	}

	// Load config and set up logging
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format)

	params, err := cfg.Params()
	if err != nil {
		logger.Error("invalid strategy parameters", "error", err)
		os.Exit(1)
	}
	if err := cfg.RequireBroker(); err != nil {
		logger.Error("missing broker credentials", "error", err)
		os.Exit(1)
	}

	// Handle shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Broker client
	var brokerOpts []oanda.Option
	if cfg.LiveTrading() {
		brokerOpts = append(brokerOpts, oanda.WithLiveTrading())
		logger.Warn("live trading enabled", "account", cfg.OANDA.AccountID)
	}
	client := oanda.New(cfg.OANDA.AccountID, cfg.OANDA.Token, brokerOpts...)

	opts := engine.Options{
		Instrument:  cfg.Instrument,
		Params:      params,
		Broker:      client,
		QuoteMaxAge: cfg.QuoteMaxAge(),
		Logger:      logger,
	}

	// Local journal (optional)
	if cfg.Engine.JournalPath != "" {
		jrnl, err := journal.OpenSQLite(cfg.Engine.JournalPath)
		if err != nil {
			logger.Error("failed to open journal", "path", cfg.Engine.JournalPath, "error", err)
			os.Exit(1)
		}
		defer jrnl.Close()
		opts.Journal = jrnl
	}

	continuous := modes == 0

	// Streaming quotes cut REST round trips between polls. The stream is
	// best effort; the engine prices over REST whenever it is absent.
	if continuous && cfg.OANDA.StreamURL != "" {
		feed, err := pricefeed.New(ctx, cfg.OANDA.StreamURL, []string{cfg.Instrument}, nil)
		if err != nil {
			logger.Warn("price stream unavailable, falling back to REST quotes", "error", err)
		} else {
			defer feed.Close()
			opts.Quotes = feed
		}
	}

	eng, err := engine.New(opts)
	if err != nil {
		logger.Error("failed to build engine", "error", err)
		os.Exit(1)
	}

	switch {
	case *status:
		runStatus(ctx, eng, *outputJSON)
	case *closeAll:
		runCloseAll(ctx, eng, logger)
	case *once:
		runOnce(ctx, eng, logger, *outputJSON)
	default:
		runContinuous(ctx, eng, cfg, logger, *interval)
	}
}

func runStatus(ctx context.Context, eng *engine.Engine, asJSON bool) {
	snap, err := eng.Status(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error fetching status: %v\n", err)
		os.Exit(1)
	}

	if asJSON {
		out, _ := json.MarshalIndent(snap, "", "  ")
		fmt.Println(string(out))
		return
	}

	fmt.Println("=== Account Status ===")
	fmt.Printf("Account:        %s\n", snap.AccountID)
	fmt.Printf("Balance:        %.2f\n", snap.Balance)
	fmt.Printf("Unrealized PL:  %.2f\n", snap.UnrealizedPL)
	fmt.Printf("Open Positions: %d\n", snap.OpenCount)
	fmt.Printf("As Of:          %s\n", snap.Time.Format(time.RFC3339))
}

func runCloseAll(ctx context.Context, eng *engine.Engine, logger *slog.Logger) {
	result, err := eng.CloseAll(ctx)
	if err != nil {
		logger.Error("close-all failed", "error", err)
		os.Exit(1)
	}

	if len(result.BrokerTradeIDs) == 0 {
		fmt.Println("No open positions.")
		return
	}
	fmt.Printf("Closed %d trade(s) at %.5f, realized PL %.2f\n",
		len(result.BrokerTradeIDs), result.Price, result.RealizedPL)
}

func runOnce(ctx context.Context, eng *engine.Engine, logger *slog.Logger, asJSON bool) {
	report, err := eng.RunOnce(ctx)
	if err != nil {
		logger.Error("tick failed", "error", err)
		os.Exit(1)
	}

	if asJSON {
		out, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(out))
		return
	}
	printReport(report)
}

func runContinuous(ctx context.Context, eng *engine.Engine, cfg *config.Config, logger *slog.Logger, interval time.Duration) {
	if interval <= 0 {
		interval = cfg.Interval()
	}

	// Metrics endpoint (optional)
	if cfg.Engine.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.Handler())
		srv := &http.Server{Addr: cfg.Engine.MetricsAddr, Handler: mux}
		go func() {
			logger.Info("metrics endpoint listening", "addr", cfg.Engine.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("starting trading loop",
		"instrument", cfg.Instrument,
		"strategy", eng.StrategyID(),
		"interval", interval.String())

	if err := eng.RunContinuous(ctx, interval); err != nil {
		logger.Error("trading loop halted", "error", err)
		os.Exit(1)
	}
	logger.Info("trading loop stopped")
}

func printReport(r *domain.ExecutionReport) {
	fmt.Println("=== Tick Report ===")
	fmt.Printf("Time:         %s\n", r.Time.Format(time.RFC3339))
	fmt.Printf("Signal:       %s\n", r.Signal)
	fmt.Printf("Action:       %s\n", r.Action)
	if r.Session != "" {
		fmt.Printf("Session:      %s\n", r.Session)
	}
	fmt.Printf("Trades Today: %d\n", r.TradesToday)

	if r.Position != nil {
		fmt.Println()
		fmt.Println("Open Position:")
		fmt.Printf("  Direction:    %s\n", r.Position.Direction)
		fmt.Printf("  Entry:        %.5f\n", r.Position.EntryPrice)
		fmt.Printf("  Take Profit:  %.5f\n", r.Position.TakeProfit)
		if r.Position.StopLoss != nil {
			fmt.Printf("  Stop Loss:    %.5f\n", *r.Position.StopLoss)
		}
		fmt.Printf("  Flatten At:   %s\n", r.Position.FlattenAt.Format(time.RFC3339))
	}

	if r.Err != "" {
		fmt.Printf("Error:        %s\n", r.Err)
	}
}
