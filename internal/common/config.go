// Package common provides shared utilities for Keel
package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for Keel
type Config struct {
	Environment  string        `toml:"environment"`
	BaseCurrency string        `toml:"base_currency"` // Currency all flows and NAV are reported in (default "USD")
	Engine       EngineConfig  `toml:"engine"`
	Clients      ClientsConfig `toml:"clients"`
	Logging      LoggingConfig `toml:"logging"`
}

// EngineConfig holds thresholds for the replay and return engine.
type EngineConfig struct {
	// SyntheticSensitivityUSD is the synthetic dollar-impact threshold above
	// which headline metrics switch to the observed-only track.
	SyntheticSensitivityUSD float64 `toml:"synthetic_sensitivity_usd"`
	// MinCoveragePct is the observed-coverage floor below which results are
	// marked unreliable. Exactly at the floor is still reliable.
	MinCoveragePct float64 `toml:"min_coverage_pct"`
	// MaxSyntheticShare is the synthetic market-value share above which
	// results are marked unreliable.
	MaxSyntheticShare float64 `toml:"max_synthetic_share"`
	// ExtremeMonthPct is the sanity bound used by tests and diagnostics for
	// month-over-month returns attributable to synthetic openings.
	ExtremeMonthPct float64 `toml:"extreme_month_pct"`
	// AmountTolerance is the relative tolerance used when matching amounts
	// across sources (duplicate detection and income overlap).
	AmountTolerance float64 `toml:"amount_tolerance"`
}

// ClientsConfig holds API client configurations
type ClientsConfig struct {
	MarketData MarketDataConfig `toml:"marketdata"`
}

// MarketDataConfig holds the EOD price service configuration
type MarketDataConfig struct {
	BaseURL   string `toml:"base_url"`
	APIKey    string `toml:"api_key"`
	RateLimit int    `toml:"rate_limit"`
	Timeout   string `toml:"timeout"`
	Retries   int    `toml:"retries"`
}

// GetTimeout parses and returns the timeout duration
func (c *MarketDataConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment:  "development",
		BaseCurrency: "USD",
		Engine: EngineConfig{
			SyntheticSensitivityUSD: 5000,
			MinCoveragePct:          50,
			MaxSyntheticShare:       0.5,
			ExtremeMonthPct:         300,
			AmountTolerance:         0.005,
		},
		Clients: ClientsConfig{
			MarketData: MarketDataConfig{
				BaseURL:   "https://eodhd.com/api",
				RateLimit: 10,
				Timeout:   "30s",
				Retries:   3,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier)
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue // Skip missing files
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("KEEL_ENV"); env != "" {
		config.Environment = env
	}
	if cur := os.Getenv("KEEL_BASE_CURRENCY"); cur != "" {
		config.BaseCurrency = cur
	}
	if key := os.Getenv("KEEL_MARKETDATA_API_KEY"); key != "" {
		config.Clients.MarketData.APIKey = key
	}
	if url := os.Getenv("KEEL_MARKETDATA_BASE_URL"); url != "" {
		config.Clients.MarketData.BaseURL = url
	}
	if level := os.Getenv("KEEL_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if v := os.Getenv("KEEL_SENSITIVITY_USD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			config.Engine.SyntheticSensitivityUSD = f
		}
	}
}
