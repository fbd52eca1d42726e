package config

import (
	"fmt"
	"os"
	"time"

	"github.com/alejandrodnm/perpbot/internal/domain"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full perpbot configuration.
type Config struct {
	Paper    PaperConfig                  `yaml:"paper"`
	Risk     RiskConfig                   `yaml:"risk"`
	Exchange ExchangeConfig               `yaml:"exchange"`
	Storage  StorageConfig                `yaml:"storage"`
	Log      LogConfig                    `yaml:"log"`
	Metrics  MetricsConfig                `yaml:"metrics"`
	Profiles map[string]domain.RiskLimits `yaml:"risk_profiles"`
}

// PaperConfig controls the paper trading session.
type PaperConfig struct {
	Instruments     []string `yaml:"instruments"`
	QuoteAsset      string   `yaml:"quote_asset"`
	InitialBalance  float64  `yaml:"initial_balance"`
	PollSeconds     int      `yaml:"poll_seconds"`
	SlippagePct     float64  `yaml:"slippage_pct"`
	FeeRate         float64  `yaml:"fee_rate"`
	FundingHistory  int      `yaml:"funding_history"`
	StrategyDir     string   `yaml:"strategy_dir"`
	Strategy        string   `yaml:"strategy"` // definition file relative to strategy_dir, empty = none
}

// RiskConfig selects the active risk profile.
type RiskConfig struct {
	Profile  string `yaml:"profile"`
	Operator string `yaml:"operator"` // identity journaled with profile changes
}

// ExchangeConfig holds the connector endpoints.
type ExchangeConfig struct {
	RESTBase string `yaml:"rest_base"`
	WSBase   string `yaml:"ws_base"`
	UseWS    bool   `yaml:"use_ws"`
}

// StorageConfig controls where session data is persisted.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // SQLite file path, or ":memory:"
}

// LogConfig controls logging format and level.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables the /metrics listener
}

// Load reads the YAML config and the .env file if present. Env values
// override YAML for the matching keys.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// PollInterval returns the price poll interval as a time.Duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Paper.PollSeconds) * time.Second
}

// Profile resolves the named risk profile, already clamped to the hard
// ceilings. An unknown name is an error: risk configuration is never
// guessed.
func (c *Config) Profile(name string) (domain.RiskLimits, error) {
	limits, ok := c.Profiles[name]
	if !ok {
		return domain.RiskLimits{}, fmt.Errorf("config.Profile: unknown risk profile %q", name)
	}
	return limits.Clamp(), nil
}

// applyEnvOverrides overrides values from environment variables when set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("RISK_PROFILE"); v != "" {
		cfg.Risk.Profile = v
	}
	if v := os.Getenv("STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
}

// setDefaults ensures required values have sensible defaults.
func setDefaults(cfg *Config) {
	if len(cfg.Paper.Instruments) == 0 {
		cfg.Paper.Instruments = []string{"BTCUSDT"}
	}
	if cfg.Paper.QuoteAsset == "" {
		cfg.Paper.QuoteAsset = "USDT"
	}
	if cfg.Paper.InitialBalance <= 0 {
		cfg.Paper.InitialBalance = 10_000
	}
	if cfg.Paper.PollSeconds <= 0 {
		cfg.Paper.PollSeconds = 5
	}
	if cfg.Paper.FeeRate <= 0 {
		cfg.Paper.FeeRate = 0.0004 // taker fee default
	}
	if cfg.Paper.FundingHistory <= 0 {
		cfg.Paper.FundingHistory = 500
	}
	if cfg.Paper.StrategyDir == "" {
		cfg.Paper.StrategyDir = "strategies"
	}
	if cfg.Risk.Profile == "" {
		cfg.Risk.Profile = "default"
	}
	if cfg.Risk.Operator == "" {
		cfg.Risk.Operator = "local"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "perpbot.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Profiles == nil {
		cfg.Profiles = map[string]domain.RiskLimits{}
	}
	if _, ok := cfg.Profiles["default"]; !ok {
		cfg.Profiles["default"] = domain.RiskLimits{
			MaxDrawdownPct:          0.08,
			SingleOrderSizeCap:      1_000,
			DailyLossLimit:          500,
			MaxConcurrentStrategies: 3,
		}
	}
}
