// Package config loads and validates the YAML configuration describing a
// backtest run, and derives the canonical section set that feeds the
// configuration hash.
package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quantfall/backcast/internal/execution"
	"github.com/quantfall/backcast/internal/rules"
)

// BacktestConfig is the full description of one backtest run.
type BacktestConfig struct {
	Strategy StrategySection `yaml:"strategy"`

	Tickers   []string `yaml:"tickers"`
	StartDate string   `yaml:"start_date"` // YYYY-MM-DD, UTC
	EndDate   string   `yaml:"end_date"`

	StepFrequency string `yaml:"step_frequency"` // auto | daily | hourly | minute | explicit

	CapitalPerTrade     float64 `yaml:"capital_per_trade"`
	InitialAccountValue float64 `yaml:"initial_account_value"`
	TradePercentage     float64 `yaml:"trade_percentage"`
	RiskFreeRate        float64 `yaml:"risk_free_rate"`

	Execution   execution.Config   `yaml:"execution"`
	WalkForward *WalkForwardConfig `yaml:"walk_forward,omitempty"`

	Filters         []rules.FilterConfig         `yaml:"filters,omitempty"`
	PositionManager *rules.PositionManagerConfig `yaml:"position_manager,omitempty"`

	Parallel    int    `yaml:"max_processes"` // 0 selects max(1, CPU-2)
	UseParallel bool   `yaml:"parallel"`
	BacktestID  string `yaml:"backtest_id"`

	Database string       `yaml:"database"`
	Redis    RedisSection `yaml:"redis"`
	Ohlcv    OhlcvSection `yaml:"ohlcv"`
}

// StrategySection names the strategy and carries its opaque parameters.
type StrategySection struct {
	Name   string         `yaml:"name"`
	Params map[string]any `yaml:"params"`
}

// WalkForwardConfig participates in the hash even though the core replays a
// single window; the optimizer driving walk-forward splits lives upstream.
type WalkForwardConfig struct {
	TrainDays int `yaml:"train_days" json:"train_days"`
	TestDays  int `yaml:"test_days" json:"test_days"`
	Folds     int `yaml:"folds" json:"folds"`
}

// RedisSection configures the shared cache and queue backend.
type RedisSection struct {
	Addr              string `yaml:"addr"`
	DB                int    `yaml:"db"`
	DefaultTTLSeconds int    `yaml:"default_ttl_seconds"`
	CacheMaxBytes     int64  `yaml:"cache_max_bytes"`
}

// OhlcvSection configures the OHLCV database.
type OhlcvSection struct {
	DSN string `yaml:"dsn"`
}

// Load reads and validates a backtest configuration, applying environment
// overrides for the shared backends.
func Load(path string) (*BacktestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg BacktestConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// ApplyEnvOverrides applies REDIS_ADDR and PG_DSN when set.
func (c *BacktestConfig) ApplyEnvOverrides() {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
	}
	if dsn := os.Getenv("PG_DSN"); dsn != "" {
		c.Ohlcv.DSN = dsn
	}
}

// Validate surfaces configuration errors before any work is dispatched.
func (c *BacktestConfig) Validate() error {
	if c.Strategy.Name == "" {
		return fmt.Errorf("strategy.name is required")
	}
	if len(c.Tickers) == 0 {
		return fmt.Errorf("at least one ticker is required")
	}
	if _, err := c.Range(); err != nil {
		return err
	}
	if c.CapitalPerTrade <= 0 && (c.InitialAccountValue <= 0 || c.TradePercentage <= 0) {
		return fmt.Errorf("either capital_per_trade or initial_account_value with trade_percentage must be set")
	}
	if c.TradePercentage < 0 || c.TradePercentage > 1 {
		return fmt.Errorf("trade_percentage must be in [0,1]")
	}
	return nil
}

// Range parses the configured date range as UTC day boundaries.
func (c *BacktestConfig) Range() (struct{ Start, End time.Time }, error) {
	var r struct{ Start, End time.Time }
	start, err := time.ParseInLocation("2006-01-02", c.StartDate, time.UTC)
	if err != nil {
		return r, fmt.Errorf("invalid start_date %q: %w", c.StartDate, err)
	}
	end, err := time.ParseInLocation("2006-01-02", c.EndDate, time.UTC)
	if err != nil {
		return r, fmt.Errorf("invalid end_date %q: %w", c.EndDate, err)
	}
	if end.Before(start) {
		return r, fmt.Errorf("end_date %s before start_date %s", c.EndDate, c.StartDate)
	}
	r.Start, r.End = start, end
	return r, nil
}

// MaxProcesses resolves the worker pool size.
func (c *BacktestConfig) MaxProcesses() int {
	if c.Parallel > 0 {
		return c.Parallel
	}
	n := runtime.NumCPU() - 2
	if n < 1 {
		n = 1
	}
	return n
}

// HashSections builds the canonical configuration set that identifies a
// logically equivalent backtest. Tickers, dates, and database are excluded;
// absent optional sections are omitted entirely, never set to nil.
func (c *BacktestConfig) HashSections() map[string]any {
	sections := map[string]any{
		"strategy_name":     c.Strategy.Name,
		"strategy_params":   c.Strategy.Params,
		"execution":         c.Execution,
		"step_frequency":    c.StepFrequency,
		"capital_per_trade": c.CapitalPerTrade,
		"risk_free_rate":    c.RiskFreeRate,
	}
	if c.WalkForward != nil {
		sections["walk_forward"] = c.WalkForward
	}
	if c.PositionManager != nil {
		sections["position_manager"] = c.PositionManager
	}
	if c.Filters != nil {
		sections["filters"] = c.Filters
	}
	return sections
}

// ResultsDatabase resolves the destination database name from the
// environment: prod selects "backtest", anything else "backtest-dev". An
// explicit database in the config wins.
func (c *BacktestConfig) ResultsDatabase() string {
	if c.Database != "" {
		return c.Database
	}
	return DatabaseFromEnv()
}

// DatabaseFromEnv maps INFLUXDB3_ENVIRONMENT to a results database name.
func DatabaseFromEnv() string {
	if os.Getenv("INFLUXDB3_ENVIRONMENT") == "prod" {
		return "backtest"
	}
	return "backtest-dev"
}

// CacheTTL returns the configured cache TTL.
func (c *BacktestConfig) CacheTTL() time.Duration {
	if c.Redis.DefaultTTLSeconds > 0 {
		return time.Duration(c.Redis.DefaultTTLSeconds) * time.Second
	}
	return 0
}
