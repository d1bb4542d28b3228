// Package config loads the application configuration from YAML, an optional
// .env file and the process environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"tradesim/internal/engine"
	"tradesim/internal/strategy"
	"tradesim/internal/util"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for tradesim.
type Config struct {
	Storage   Storage                 `yaml:"storage"`
	Logging   Logging                 `yaml:"logging"`
	Data      Data                    `yaml:"data"`
	Backtest  engine.Config           `yaml:"backtest"`
	Portfolio engine.PortfolioOptions `yaml:"portfolio"`
	Strategy  Strategy                `yaml:"strategy"`
	Benchmark Benchmark               `yaml:"benchmark"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Data configures market-data gathering.
type Data struct {
	Provider        string `yaml:"provider"` // "yahoo" or "alpaca"
	Interval        string `yaml:"interval"`
	StartDate       string `yaml:"start_date"`
	MaxWorkers      int    `yaml:"max_workers"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
	MaxAttempts     int    `yaml:"max_attempts"`
	Alpaca          Alpaca `yaml:"alpaca"`
}

// Alpaca holds credentials and endpoints for the Alpaca market-data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"`
}

// Strategy names a registered strategy and its parameters.
type Strategy struct {
	Name   string          `yaml:"name"`
	Params strategy.Params `yaml:"params"`
}

// Benchmark names the symbol a single-symbol run is compared against.
type Benchmark struct {
	Symbol string `yaml:"symbol"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Storage: Storage{
			DataDir:    "data",
			SQLitePath: "data/tradesim.db",
		},
		Logging: Logging{Level: "info", Format: "text"},
		Data: Data{
			Provider:        "yahoo",
			Interval:        "1d",
			StartDate:       "2015-01-01",
			MaxWorkers:      4,
			RateLimitPerMin: 120,
			MaxAttempts:     3,
		},
		Backtest:  engine.DefaultConfig(),
		Portfolio: engine.DefaultPortfolioOptions(),
		Strategy:  Strategy{Name: "sma_cross"},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads an optional .env file, then the YAML configuration file at path
// (if path is non-empty) over the defaults, and finally applies environment
// variable overrides.
func Load(path string) (*Config, error) {
	// A missing .env is normal.
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// Validate checks the sections the engine does not validate itself.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Data.Provider) {
	case "yahoo", "alpaca":
	default:
		return fmt.Errorf("data.provider: unknown provider %q", c.Data.Provider)
	}
	if _, err := util.BarsPerYear(c.Data.Interval); err != nil {
		return fmt.Errorf("data.interval: %w", err)
	}
	if _, err := c.StartDate(); err != nil {
		return fmt.Errorf("data.start_date: %w", err)
	}
	if c.Strategy.Name == "" {
		return fmt.Errorf("strategy.name is required")
	}
	return c.Backtest.Validate()
}

// StartDate parses Data.StartDate.
func (c *Config) StartDate() (time.Time, error) {
	return time.Parse(time.DateOnly, c.Data.StartDate)
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
	if v := os.Getenv("TRADESIM_PROVIDER"); v != "" {
		cfg.Data.Provider = v
	}
	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Data.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Data.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Data.Alpaca.DataURL = v
	}

	// Standard Alpaca env vars (highest priority, canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Data.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Data.Alpaca.APISecret = v
	}
}
