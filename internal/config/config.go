// Package config defines all configuration for the trading runtime.
// Config is loaded from a YAML file with sensitive fields overridable via
// POLY_* environment variables, and with ${VAR} / ${VAR:default} references
// inside the YAML itself substituted before parsing.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure. It is read once at startup and is immutable afterward — every
// component receives it (or the sub-section it needs) by value at
// construction rather than reaching for an ambient singleton.
type Config struct {
	Mode     string         `mapstructure:"mode"` // "paper" or "live"
	Wallet   WalletConfig   `mapstructure:"wallet"`
	API      APIConfig      `mapstructure:"api"`
	Liveness LivenessConfig `mapstructure:"liveness"`
	Paper    PaperConfig    `mapstructure:"paper"`
	Harness  HarnessConfig  `mapstructure:"harness"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Risk     RiskConfig     `mapstructure:"risk"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Markets  []string       `mapstructure:"markets"` // URL, slug, or id references resolved at Load
}

// IsPaper reports whether the runtime should simulate fills locally.
func (c *Config) IsPaper() bool { return c.Mode != "live" }

// WalletConfig holds the Ethereum wallet used for signing orders.
type WalletConfig struct {
	PrivateKey    string `mapstructure:"private_key"`
	SignatureType int    `mapstructure:"signature_type"`
	FunderAddress string `mapstructure:"funder_address"`
	ChainID       int    `mapstructure:"chain_id"`
}

// APIConfig holds venue endpoints and optional pre-derived L2 credentials.
type APIConfig struct {
	RESTURL     string `mapstructure:"rest_url"`
	GammaURL    string `mapstructure:"gamma_url"`
	MarketWSURL string `mapstructure:"market_ws_url"`
	UserWSURL   string `mapstructure:"user_ws_url"`
	ApiKey      string `mapstructure:"api_key"`
	ApiSecret   string `mapstructure:"api_secret"`
	Passphrase  string `mapstructure:"api_passphrase"`
}

// LivenessConfig tunes the multiplexer's keepalive and reconnect behavior.
type LivenessConfig struct {
	PingIntervalSec    int  `mapstructure:"ping_interval_sec"`
	ReconnectDelaySec  int  `mapstructure:"reconnect_delay_sec"`
	// AutoReconnect is loaded and defaulted here, but the multiplexer does
	// not read it: both channels always reconnect after a transport error.
	AutoReconnect      bool `mapstructure:"auto_reconnect"`
}

// PaperConfig tunes paper-mode fill simulation.
type PaperConfig struct {
	StartingBalance float64 `mapstructure:"starting_balance"`
	Slippage        float64 `mapstructure:"slippage"`
	FillDelay       time.Duration `mapstructure:"fill_delay"`
}

// HarnessConfig tunes the strategy harness's heartbeat cadence.
type HarnessConfig struct {
	HeartbeatIntervalSec int `mapstructure:"heartbeat_interval_sec"`
}

// StorageConfig selects and configures the storage port implementation.
// When DatabaseURL is empty the runtime entrypoint (cmd/runtime) falls back
// to the file-backed memory port in CSVDir (useful for tests and for running
// without a configured database).
type StorageConfig struct {
	DatabaseURL string `mapstructure:"database_url"`
	CSVDir      string `mapstructure:"csv_dir"`
}

// RiskConfig sets optional exposure/kill-switch limits consulted by the
// ExecutionEngine's exposure guard. Any field left at zero disables that
// particular check.
type RiskConfig struct {
	MaxMarketExposure float64 `mapstructure:"max_market_exposure"`
	MaxTotalExposure  float64 `mapstructure:"max_total_exposure"`
	MaxDailyLoss      float64 `mapstructure:"max_daily_loss"`
}

// LoggingConfig selects the slog handler and level.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "text"
}

// envVarPattern matches ${VAR} or ${VAR:default} references anywhere in the
// raw config bytes, resolved before the YAML is handed to viper.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

func substituteEnvVars(raw []byte) []byte {
	return envVarPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		parts := envVarPattern.FindSubmatch(match)
		name := string(parts[1])
		def := string(parts[2])
		if v, ok := os.LookupEnv(name); ok {
			return []byte(v)
		}
		return []byte(def)
	})
}

// Load reads config from a YAML file, substitutes ${VAR}/${VAR:default}
// references, and applies POLY_*-prefixed environment overrides on top.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	raw = substituteEnvVars(raw)

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("POLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadConfig(strings.NewReader(string(raw))); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	if !v.IsSet("liveness.auto_reconnect") {
		cfg.Liveness.AutoReconnect = true
	}

	// Secrets get an explicit env override pass on top of viper's
	// AutomaticEnv binding, matching the teacher's belt-and-braces pattern:
	// POLY_PRIVATE_KEY, POLY_API_KEY, POLY_API_SECRET, POLY_API_PASSPHRASE.
	if key := os.Getenv("POLY_PRIVATE_KEY"); key != "" {
		cfg.Wallet.PrivateKey = key
	}
	if key := os.Getenv("POLY_API_KEY"); key != "" {
		cfg.API.ApiKey = key
	}
	if secret := os.Getenv("POLY_API_SECRET"); secret != "" {
		cfg.API.ApiSecret = secret
	}
	if pass := os.Getenv("POLY_API_PASSPHRASE"); pass != "" {
		cfg.API.Passphrase = pass
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Mode == "" {
		cfg.Mode = "paper"
	}
	if cfg.Liveness.PingIntervalSec == 0 {
		cfg.Liveness.PingIntervalSec = 5
	}
	if cfg.Liveness.ReconnectDelaySec == 0 {
		cfg.Liveness.ReconnectDelaySec = 5
	}
	if cfg.Paper.StartingBalance == 0 {
		cfg.Paper.StartingBalance = 10000
	}
	if cfg.Paper.Slippage == 0 {
		cfg.Paper.Slippage = 0.001
	}
	if cfg.Harness.HeartbeatIntervalSec == 0 {
		cfg.Harness.HeartbeatIntervalSec = 30
	}
}

// Validate checks required fields and value ranges. It is the only error
// kind treated as fatal at startup per the runtime's error taxonomy.
func (c *Config) Validate() error {
	if c.Mode != "paper" && c.Mode != "live" {
		return fmt.Errorf("mode must be 'paper' or 'live', got %q", c.Mode)
	}
	if c.API.RESTURL == "" {
		return fmt.Errorf("api.rest_url is required")
	}
	if c.API.MarketWSURL == "" {
		return fmt.Errorf("api.market_ws_url is required")
	}
	if c.Mode == "live" {
		if c.Wallet.PrivateKey == "" {
			return fmt.Errorf("wallet.private_key is required in live mode (set POLY_PRIVATE_KEY)")
		}
		if c.Wallet.ChainID == 0 {
			return fmt.Errorf("wallet.chain_id is required in live mode")
		}
		switch c.Wallet.SignatureType {
		case 0, 1, 2:
		default:
			return fmt.Errorf("wallet.signature_type must be one of: 0 (EOA), 1 (PROXY), 2 (GNOSIS_SAFE)")
		}
	}
	if c.Paper.StartingBalance <= 0 {
		return fmt.Errorf("paper.starting_balance must be > 0")
	}
	return nil
}
