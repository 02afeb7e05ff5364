package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the mismartera engine.
type Config struct {
	Storage Storage `yaml:"storage"`
	Server  Server  `yaml:"server"`
	Alpaca  Alpaca  `yaml:"alpaca"`
	Logging Logging `yaml:"logging"`
	Session Session `yaml:"session"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds the snapshot API listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Alpaca holds credentials and endpoints for the Alpaca market-data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
	StreamURL string `yaml:"stream_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Session is the session definition: mode, exchange group, and the data
// configuration driving provisioning.
type Session struct {
	Mode          string          `yaml:"mode"` // "backtest" or "live"
	ExchangeGroup string          `yaml:"exchange_group"`
	Backtest      *BacktestConfig `yaml:"backtest_config,omitempty"`
	Data          SessionData     `yaml:"session_data_config"`
}

// BacktestConfig bounds the simulated window. SpeedMultiplier zero means
// data-driven (no delay); greater than zero sleeps 60/multiplier seconds per
// virtual minute.
type BacktestConfig struct {
	StartDate       string  `yaml:"start_date"`
	EndDate         string  `yaml:"end_date"`
	SpeedMultiplier float64 `yaml:"speed_multiplier"`
}

// SessionData lists the symbols, streams, historical window, streaming
// behaviour, and indicators for the session.
type SessionData struct {
	Symbols    []string          `yaml:"symbols"`
	Streams    []string          `yaml:"streams"`
	Historical *HistoricalConfig `yaml:"historical,omitempty"`
	Streaming  StreamingConfig   `yaml:"streaming"`
	Indicators IndicatorsConfig  `yaml:"indicators"`
}

// HistoricalConfig enables trailing historical context.
type HistoricalConfig struct {
	Enabled      bool     `yaml:"enabled"`
	TrailingDays int      `yaml:"trailing_days"`
	Intervals    []string `yaml:"intervals"`
}

// StreamingConfig tunes lag gating.
type StreamingConfig struct {
	CatchupThresholdSeconds int `yaml:"catchup_threshold_seconds"`
	CatchupCheckInterval    int `yaml:"catchup_check_interval"`
}

// IndicatorsConfig splits indicators into live session updates and
// historical context computed at session start.
type IndicatorsConfig struct {
	Session    []IndicatorSpec `yaml:"session"`
	Historical []IndicatorSpec `yaml:"historical"`
}

// IndicatorSpec is one indicator request.
type IndicatorSpec struct {
	Name     string             `yaml:"name"`
	Period   int                `yaml:"period"`
	Interval string             `yaml:"interval"`
	Unit     string             `yaml:"unit,omitempty"` // "days" or "weeks", historical only
	Params   map[string]float64 `yaml:"params,omitempty"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides, and fills defaults.
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

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects structurally invalid configurations. Interval strings are
// validated later by the analyzer so its hourly hint surfaces verbatim.
func (c *Config) Validate() error {
	switch c.Session.Mode {
	case "backtest":
		if c.Session.Backtest == nil {
			return fmt.Errorf("config: backtest mode requires backtest_config")
		}
	case "live":
	default:
		return fmt.Errorf("config: unknown session mode %q", c.Session.Mode)
	}
	if len(c.Session.Data.Streams) == 0 {
		return fmt.Errorf("config: session_data_config.streams is empty")
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Session.ExchangeGroup == "" {
		cfg.Session.ExchangeGroup = "US_EQUITY"
	}
	if cfg.Session.Data.Streaming.CatchupThresholdSeconds == 0 {
		cfg.Session.Data.Streaming.CatchupThresholdSeconds = 60
	}
	if cfg.Session.Data.Streaming.CatchupCheckInterval == 0 {
		cfg.Session.Data.Streaming.CatchupCheckInterval = 10
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
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

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}
	if v := os.Getenv("ALPACA_STREAM_URL"); v != "" {
		cfg.Alpaca.StreamURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars (highest priority — canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
