// Package config loads the autopilot's TOML configuration file and layers
// environment variables over compiled-in defaults.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Chain holds the RPC endpoint and settlement contract address.
type Chain struct {
	RPCUrl              string `mapstructure:"rpc_url"`
	SettlementContract  string `mapstructure:"settlement_contract"`
	ChainID             int64  `mapstructure:"chain_id"`
}

// Database holds the Postgres DSN every persistence package connects with.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Driver describes one configured solver driver endpoint.
type Driver struct {
	Name    string `mapstructure:"name"`
	BaseURL string `mapstructure:"base_url"`
}

// Competition tunes the runner's per-driver timeout and ban policy.
type Competition struct {
	DriverTimeout time.Duration `mapstructure:"driver_timeout"`
	BanThreshold  int           `mapstructure:"ban_threshold"`
	BanWindow     time.Duration `mapstructure:"ban_window"`
}

// RunLoop tunes the leader-gated tick loop's cadence.
type RunLoop struct {
	TickInterval     time.Duration `mapstructure:"tick_interval"`
	LeaderLockKey    string        `mapstructure:"leader_lock_key"`
	QuoteValidityAge time.Duration `mapstructure:"quote_validity_age"`
}

// BannedUsers is a configured address denylist checked during
// solvable-order cache refresh.
type BannedUsers struct {
	Addresses []string `mapstructure:"addresses"`
}

// TrustedTokens is a refreshable set of tokens the settlement contract is
// willing to internalize; it affects solver strategy hints only, never
// correctness.
type TrustedTokens struct {
	Addresses []string `mapstructure:"addresses"`
}

// Observability configures the internal debug HTTP endpoint.
type Observability struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// Metrics configures the always-on Prometheus scrape endpoint, separate
// from the dev-only debug endpoint Observability configures.
type Metrics struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// Config is the autopilot's full process configuration, loaded from TOML
// with environment variable overrides.
type Config struct {
	Chain         Chain         `mapstructure:"chain"`
	Database      Database      `mapstructure:"database"`
	Drivers       []Driver      `mapstructure:"drivers"`
	Competition   Competition   `mapstructure:"competition"`
	RunLoop       RunLoop       `mapstructure:"run_loop"`
	BannedUsers   BannedUsers   `mapstructure:"banned_users"`
	TrustedTokens TrustedTokens `mapstructure:"trusted_tokens"`
	Observability Observability `mapstructure:"observability"`
	Metrics       Metrics       `mapstructure:"metrics"`
	WalCachePath  string        `mapstructure:"walcache_path"`
}

// Default returns the compiled-in defaults every TOML value overrides.
func Default() Config {
	return Config{
		Competition: Competition{
			DriverTimeout: 15 * time.Second,
			BanThreshold:  3,
			BanWindow:     time.Hour,
		},
		RunLoop: RunLoop{
			TickInterval:     2 * time.Second,
			LeaderLockKey:    "autopilot",
			QuoteValidityAge: 5 * time.Minute,
		},
		Observability: Observability{ListenAddr: ":9090"},
		Metrics:       Metrics{ListenAddr: ":9100"},
		WalCachePath:  "./data/walcache",
	}
}

// Load reads configPath as TOML over the compiled-in defaults, optionally
// layering an adjacent .env file for local secrets (DB DSN, driver URLs)
// and then environment variables: ENV > .env file > TOML > defaults.
func Load(configPath, envPath string) (Config, error) {
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg := Default()

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", configPath, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal %s: %w", configPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: invalid: %w", err)
	}
	return cfg, nil
}

// Validate checks the handful of fields the process cannot start without.
func (c Config) Validate() error {
	if c.Chain.RPCUrl == "" {
		return fmt.Errorf("chain.rpc_url is required")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if len(c.Drivers) == 0 {
		return fmt.Errorf("at least one driver must be configured")
	}
	return nil
}
