package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for a backtest run.
type Config struct {
	Storage  Storage        `yaml:"storage"`
	Vendor   VendorConfig   `yaml:"vendor"`
	Logging  Logging        `yaml:"logging"`
	Backtest BacktestConfig `yaml:"backtest"`
	Sweep    SweepConfig    `yaml:"sweep"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// VendorConfig selects and configures the securities data vendor.
type VendorConfig struct {
	Name            string       `yaml:"name"`
	Alpaca          AlpacaConfig `yaml:"alpaca"`
	RetryAttempts   int          `yaml:"retry_attempts"`
	RateLimitPerMin int          `yaml:"rate_limit_per_min"`
}

// AlpacaConfig holds credentials and endpoint for the Alpaca market-data API.
type AlpacaConfig struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// BacktestConfig holds the run parameters for a single backtest.
type BacktestConfig struct {
	Symbol    string `yaml:"symbol"`
	Interval  string `yaml:"interval"`
	StartDate string `yaml:"start_date"` // YYYY-MM-DD
	EndDate   string `yaml:"end_date"`   // YYYY-MM-DD

	InitialCash float64        `yaml:"initial_cash"`
	Strategy    StrategyConfig `yaml:"strategy"`
	CostModel   CostConfig     `yaml:"cost_model"`
	AllowShort  bool           `yaml:"allow_short"`

	// AnnualizationFactor overrides the factor derived from the bar
	// interval when non-zero (e.g. 252 for daily bars).
	AnnualizationFactor float64 `yaml:"annualization_factor"`
}

// StrategyConfig names a registered strategy and carries its parameters.
type StrategyConfig struct {
	Name   string             `yaml:"name"`
	Params map[string]float64 `yaml:"params"`
}

// CostConfig configures the simulated execution cost model.
type CostConfig struct {
	CommissionPerShare float64 `yaml:"commission_per_share"`
	CommissionPct      float64 `yaml:"commission_pct"`
	SlippageBps        float64 `yaml:"slippage_bps"`
}

// SweepConfig configures an optional parameter sweep over the SMA crossover
// grid. Each (short, long) pair with short < long becomes one isolated run.
type SweepConfig struct {
	ShortPeriods []int `yaml:"short_periods"`
	LongPeriods  []int `yaml:"long_periods"`
	MaxWorkers   int   `yaml:"max_workers"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, and then applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Vendor.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Vendor.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Vendor.Alpaca.DataURL = v
	}

	// Standard Alpaca env vars (highest priority — canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Vendor.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Vendor.Alpaca.APISecret = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Vendor.RetryAttempts == 0 {
		cfg.Vendor.RetryAttempts = 3
	}
	if cfg.Vendor.RateLimitPerMin == 0 {
		cfg.Vendor.RateLimitPerMin = 200
	}
	if cfg.Backtest.Interval == "" {
		cfg.Backtest.Interval = "1d"
	}
	if cfg.Sweep.MaxWorkers == 0 {
		cfg.Sweep.MaxWorkers = 4
	}
}

func (cfg *Config) validate() error {
	if cfg.Backtest.Symbol == "" {
		return fmt.Errorf("config: backtest.symbol is required")
	}
	if cfg.Backtest.InitialCash <= 0 {
		return fmt.Errorf("config: backtest.initial_cash must be positive, got %g", cfg.Backtest.InitialCash)
	}
	if cfg.Backtest.Strategy.Name == "" {
		return fmt.Errorf("config: backtest.strategy.name is required")
	}
	return nil
}
