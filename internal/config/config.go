// Package config loads application configuration from a YAML file, with
// environment overrides for credentials and connection strings. The OANDA
// API token is deliberately not a YAML field; it only ever comes from the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"fx-session-lab/internal/domain"
)

// ErrInvalid wraps every validation failure so callers can test for
// configuration problems with errors.Is.
var ErrInvalid = errors.New("invalid configuration")

// Config holds all application configuration.
type Config struct {
	Instrument string `yaml:"instrument"`

	Strategy struct {
		SMAPeriod           int      `yaml:"sma_period"`
		TakeProfitPips      float64  `yaml:"take_profit_pips"`
		StopLossPips        *float64 `yaml:"stop_loss_pips"` // omit for EOD-exit mode
		CostPerTradePips    float64  `yaml:"cost_per_trade_pips"`
		PipValue            float64  `yaml:"pip_value"`
		InitialEquity       float64  `yaml:"initial_equity"`
		SessionMode         string   `yaml:"session_mode"`
		RetainSameDirection bool     `yaml:"retain_same_direction"`
		PositionUnits       int      `yaml:"position_units"`
	} `yaml:"strategy"`

	OANDA struct {
		AccountID   string `yaml:"account_id"`
		Token       string `yaml:"-"`
		Environment string `yaml:"environment"` // practice or live
		StreamURL   string `yaml:"stream_url"`  // optional websocket price stream
	} `yaml:"oanda"`

	Engine struct {
		Interval    string `yaml:"interval"`
		QuoteMaxAge string `yaml:"quote_max_age"`
		JournalPath string `yaml:"journal_path"` // empty disables journaling
		MetricsAddr string `yaml:"metrics_addr"` // empty disables the metrics endpoint
	} `yaml:"engine"`

	Storage struct {
		PostgresDSN   string `yaml:"postgres_dsn"`
		ClickHouseDSN string `yaml:"clickhouse_dsn"`
	} `yaml:"storage"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Load reads config from a YAML file, then applies environment variable
// overrides and defaults. A missing file is not an error; everything has a
// usable default except broker credentials.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	// Environment variable overrides
	if v := os.Getenv("OANDA_API_TOKEN"); v != "" {
		cfg.OANDA.Token = v
	}
	if v := os.Getenv("OANDA_ACCOUNT_ID"); v != "" {
		cfg.OANDA.AccountID = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
	}
	if v := os.Getenv("CLICKHOUSE_DSN"); v != "" {
		cfg.Storage.ClickHouseDSN = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	// Defaults
	if cfg.Instrument == "" {
		cfg.Instrument = "EUR_USD"
	}
	if cfg.Strategy.SMAPeriod == 0 {
		cfg.Strategy.SMAPeriod = 20
	}
	if cfg.Strategy.TakeProfitPips == 0 {
		cfg.Strategy.TakeProfitPips = 10.0
	}
	if cfg.Strategy.CostPerTradePips == 0 {
		cfg.Strategy.CostPerTradePips = 2.0
	}
	if cfg.Strategy.PipValue == 0 {
		cfg.Strategy.PipValue = 10.0
	}
	if cfg.Strategy.InitialEquity == 0 {
		cfg.Strategy.InitialEquity = 10000.0
	}
	if cfg.Strategy.SessionMode == "" {
		cfg.Strategy.SessionMode = string(domain.ModeSingle)
	}
	if cfg.Strategy.PositionUnits == 0 {
		cfg.Strategy.PositionUnits = 1
	}
	if cfg.OANDA.Environment == "" {
		cfg.OANDA.Environment = "practice"
	}
	if cfg.Engine.Interval == "" {
		cfg.Engine.Interval = "60s"
	}
	if cfg.Engine.QuoteMaxAge == "" {
		cfg.Engine.QuoteMaxAge = "15s"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	return cfg, nil
}

// Validate checks everything except broker credentials, which only the
// live engine needs; see RequireBroker.
func (c *Config) Validate() error {
	if c.Instrument == "" {
		return fmt.Errorf("%w: instrument is required", ErrInvalid)
	}
	if _, err := c.Params(); err != nil {
		return fmt.Errorf("%w: strategy: %v", ErrInvalid, err)
	}
	if c.OANDA.Environment != "practice" && c.OANDA.Environment != "live" {
		return fmt.Errorf("%w: oanda.environment must be practice or live, got %q", ErrInvalid, c.OANDA.Environment)
	}
	if d, err := time.ParseDuration(c.Engine.Interval); err != nil || d <= 0 {
		return fmt.Errorf("%w: engine.interval %q is not a positive duration", ErrInvalid, c.Engine.Interval)
	}
	if d, err := time.ParseDuration(c.Engine.QuoteMaxAge); err != nil || d <= 0 {
		return fmt.Errorf("%w: engine.quote_max_age %q is not a positive duration", ErrInvalid, c.Engine.QuoteMaxAge)
	}
	return nil
}

// RequireBroker checks the credentials the live engine needs.
func (c *Config) RequireBroker() error {
	if c.OANDA.AccountID == "" {
		return fmt.Errorf("%w: oanda.account_id is required (set OANDA_ACCOUNT_ID)", ErrInvalid)
	}
	if c.OANDA.Token == "" {
		return fmt.Errorf("%w: OANDA_API_TOKEN is not set", ErrInvalid)
	}
	return nil
}

// Params maps the strategy section onto domain parameters.
func (c *Config) Params() (domain.StrategyParams, error) {
	p := domain.StrategyParams{
		SMAPeriod:           c.Strategy.SMAPeriod,
		TakeProfitPips:      c.Strategy.TakeProfitPips,
		StopLossPips:        c.Strategy.StopLossPips,
		CostPerTradePips:    c.Strategy.CostPerTradePips,
		PipValue:            c.Strategy.PipValue,
		InitialEquity:       c.Strategy.InitialEquity,
		Mode:                domain.SessionMode(strings.ToUpper(c.Strategy.SessionMode)),
		RetainSameDirection: c.Strategy.RetainSameDirection,
		PositionUnits:       c.Strategy.PositionUnits,
	}
	if err := p.Validate(); err != nil {
		return domain.StrategyParams{}, err
	}
	return p, nil
}

// Interval returns the tick interval of the live loop.
func (c *Config) Interval() time.Duration {
	d, err := time.ParseDuration(c.Engine.Interval)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

// QuoteMaxAge returns how old a streamed quote may be before the engine
// falls back to REST pricing.
func (c *Config) QuoteMaxAge() time.Duration {
	d, err := time.ParseDuration(c.Engine.QuoteMaxAge)
	if err != nil || d <= 0 {
		return 15 * time.Second
	}
	return d
}

// LiveTrading reports whether the live OANDA environment is selected.
func (c *Config) LiveTrading() bool {
	return c.OANDA.Environment == "live"
}
