// Command ingest downloads daily candles from the OANDA REST API and writes
// them as the CSV artifact the backtester consumes. With --persist it also
// loads the series into ClickHouse so reports can run against stored data.
//
// Broker credentials come from OANDA_API_TOKEN and OANDA_ACCOUNT_ID (or the
// config file for the account id).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"fx-session-lab/internal/broker/oanda"
	"fx-session-lab/internal/config"
	"fx-session-lab/internal/domain"
	"fx-session-lab/internal/market"
	chstore "fx-session-lab/internal/storage/clickhouse"
	"fx-session-lab/internal/storage/migrations"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to YAML config file")
	instrument := flag.String("instrument", "", "Instrument to fetch (default: instrument from config)")
	count := flag.Int("count", 365, "Number of daily candles to fetch (max 5000)")
	out := flag.String("out", "data/eur_usd_daily.csv", "Output CSV path")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse DSN (default: CLICKHOUSE_DSN)")
	persist := flag.Bool("persist", false, "Also insert the candles into ClickHouse")

	flag.Parse()

	logger := log.New(os.Stdout, "[ingest] ", log.LstdFlags|log.Lshortfile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Config error: %v", err)
	}
	if err := cfg.RequireBroker(); err != nil {
		logger.Fatalf("Config error: %v", err)
	}
	if *instrument == "" {
		*instrument = cfg.Instrument
	}
	if *count < 1 {
		logger.Fatalf("--count must be positive, got %d", *count)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, aborting", sig)
		cancel()
	}()

	var opts []oanda.Option
	if cfg.LiveTrading() {
		logger.Println("Using LIVE OANDA environment")
		opts = append(opts, oanda.WithLiveTrading())
	}
	client := oanda.New(cfg.OANDA.AccountID, cfg.OANDA.Token, opts...)

	logger.Printf("Fetching %d daily candles for %s", *count, *instrument)

	candles, err := client.FetchDailyCandles(ctx, *instrument, *count)
	if err != nil {
		logger.Fatalf("Fetch error: %v", err)
	}
	if len(candles) == 0 {
		logger.Fatal("Broker returned no complete candles")
	}

	logger.Printf("Fetched %d candles: %s to %s", len(candles),
		candles[0].Date.Format("2006-01-02"),
		candles[len(candles)-1].Date.Format("2006-01-02"))

	if dir := filepath.Dir(*out); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Fatalf("Create output directory: %v", err)
		}
	}
	if err := market.SaveCandlesCSV(*out, candles); err != nil {
		logger.Fatalf("Write CSV: %v", err)
	}
	logger.Printf("Wrote %s", *out)

	if *persist {
		dsn := *clickhouseDSN
		if dsn == "" {
			dsn = cfg.Storage.ClickHouseDSN
		}
		if dsn == "" {
			logger.Fatal("--persist requires --clickhouse-dsn or CLICKHOUSE_DSN")
		}
		if err := persistCandles(ctx, dsn, *instrument, candles); err != nil {
			logger.Fatalf("ClickHouse error: %v", err)
		}
		logger.Printf("Inserted %d candles into ClickHouse", len(candles))
	}

	logger.Println("Done")
}

func persistCandles(ctx context.Context, dsn, instrument string, candles []domain.Candle) error {
	conn, err := migrations.RunClickhouseMigrations(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()

	rows := make([]*domain.Candle, len(candles))
	for i := range candles {
		rows[i] = &candles[i]
	}
	return chstore.NewCandleStore(conn).InsertBulk(ctx, instrument, rows)
}
