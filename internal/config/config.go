// Package config provides configuration management for the sandbox engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Config holds all sandbox configuration. Every tunable is an explicit
// typed field; nothing is looked up by string key at call sites.
type Config struct {
	Sandbox  SandboxConfig  `mapstructure:"sandbox"`
	Leverage LeverageConfig `mapstructure:"leverage"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Database DatabaseConfig `mapstructure:"database"`
	Kite     KiteConfig     `mapstructure:"kite"`
}

// SandboxConfig holds capital and reconciliation settings.
type SandboxConfig struct {
	StartingCapital    float64 `mapstructure:"starting_capital"`
	ReconcileTolerance float64 `mapstructure:"reconcile_tolerance"`
	ReconcileAutoFix   bool    `mapstructure:"reconcile_auto_fix"`
	ResetDay           string  `mapstructure:"reset_day"`  // weekday name, empty disables auto-reset
	ResetTime          string  `mapstructure:"reset_time"` // HH:MM
}

// LeverageConfig holds leverage multipliers by instrument class.
// Margin is order value divided by the multiplier.
type LeverageConfig struct {
	EquityMIS  float64 `mapstructure:"equity_mis"`
	EquityCNC  float64 `mapstructure:"equity_cnc"`
	Futures    float64 `mapstructure:"futures"`
	OptionBuy  float64 `mapstructure:"option_buy"`
	OptionSell float64 `mapstructure:"option_sell"`
}

// EngineConfig holds matching engine settings.
type EngineConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	FillBatchSize  int           `mapstructure:"fill_batch_size"`
	FillBatchDelay time.Duration `mapstructure:"fill_batch_delay"`
	QuoteTimeout   time.Duration `mapstructure:"quote_timeout"`
}

// ScheduleConfig holds wall-clock trigger settings. All times are in the
// Asia/Kolkata zone.
type ScheduleConfig struct {
	SquareOffTimes  map[string]string `mapstructure:"square_off_times"` // venue -> HH:MM
	SessionBoundary string            `mapstructure:"session_boundary"` // HH:MM
	SettlementTime  string            `mapstructure:"settlement_time"`  // HH:MM
	SnapshotTime    string            `mapstructure:"snapshot_time"`    // HH:MM
	MTMInterval     time.Duration     `mapstructure:"mtm_interval"`
}

// DatabaseConfig holds persistence settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// KiteConfig holds quote provider credentials.
type KiteConfig struct {
	APIKey      string `mapstructure:"api_key"`
	AccessToken string `mapstructure:"access_token"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/openalgo-sandbox"
	}
	return filepath.Join(home, ".config", "openalgo-sandbox")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("sandbox.starting_capital", 10000000.0) // 1 crore
	v.SetDefault("sandbox.reconcile_tolerance", 0.05)
	v.SetDefault("sandbox.reconcile_auto_fix", true)
	v.SetDefault("sandbox.reset_day", "Sunday")
	v.SetDefault("sandbox.reset_time", "00:00")

	v.SetDefault("leverage.equity_mis", 5.0)
	v.SetDefault("leverage.equity_cnc", 1.0)
	v.SetDefault("leverage.futures", 10.0)
	v.SetDefault("leverage.option_buy", 1.0)
	v.SetDefault("leverage.option_sell", 1.0)

	v.SetDefault("engine.poll_interval", 5*time.Second)
	v.SetDefault("engine.fill_batch_size", 10)
	v.SetDefault("engine.fill_batch_delay", 100*time.Millisecond)
	v.SetDefault("engine.quote_timeout", 3*time.Second)

	v.SetDefault("schedule.square_off_times", map[string]string{
		"NSE": "15:15",
		"BSE": "15:15",
		"NFO": "15:25",
		"CDS": "16:45",
		"MCX": "23:30",
	})
	v.SetDefault("schedule.session_boundary", "03:00")
	v.SetDefault("schedule.settlement_time", "08:00")
	v.SetDefault("schedule.snapshot_time", "16:00")
	v.SetDefault("schedule.mtm_interval", 30*time.Second)

	v.SetDefault("database.path", filepath.Join(DefaultConfigDir(), "sandbox.db"))
}

// Load loads configuration from the specified directory. A missing config
// file is not an error; defaults apply.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := viper.New()
	v.SetConfigName("sandbox")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("loading sandbox.toml: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KITE_API_KEY"); v != "" {
		cfg.Kite.APIKey = v
	}
	if v := os.Getenv("KITE_ACCESS_TOKEN"); v != "" {
		cfg.Kite.AccessToken = v
	}
	if v := os.Getenv("SANDBOX_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Sandbox.StartingCapital <= 0 {
		return fmt.Errorf("starting_capital must be positive")
	}
	for name, mult := range map[string]float64{
		"equity_mis":  c.Leverage.EquityMIS,
		"equity_cnc":  c.Leverage.EquityCNC,
		"futures":     c.Leverage.Futures,
		"option_buy":  c.Leverage.OptionBuy,
		"option_sell": c.Leverage.OptionSell,
	} {
		if mult < 1 {
			return fmt.Errorf("leverage.%s must be at least 1", name)
		}
	}
	if c.Engine.PollInterval <= 0 {
		return fmt.Errorf("engine.poll_interval must be positive")
	}
	if c.Engine.FillBatchSize <= 0 {
		return fmt.Errorf("engine.fill_batch_size must be positive")
	}
	if c.Sandbox.ResetDay != "" {
		if _, err := ParseWeekday(c.Sandbox.ResetDay); err != nil {
			return err
		}
	}
	for venue, hhmm := range c.Schedule.SquareOffTimes {
		if _, _, err := ParseClock(hhmm); err != nil {
			return fmt.Errorf("square_off_times.%s: %w", venue, err)
		}
	}
	return nil
}

// ParseClock parses an HH:MM wall-clock string.
func ParseClock(s string) (hour, minute int, err error) {
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	return hour, minute, nil
}

// ParseWeekday parses a weekday name.
func ParseWeekday(s string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if s == d.String() {
			return d, nil
		}
	}
	return 0, fmt.Errorf("invalid weekday %q", s)
}

// Store serves the current configuration and refreshes it from disk on a
// bounded interval, so leverage and cutoff changes take effect without a
// restart.
type Store struct {
	dir      string
	interval time.Duration

	mu       sync.RWMutex
	current  *Config
	loadedAt time.Time
}

// NewStore creates a config store around a loaded configuration.
func NewStore(dir string, cfg *Config, refreshInterval time.Duration) *Store {
	return &Store{
		dir:      dir,
		interval: refreshInterval,
		current:  cfg,
		loadedAt: time.Now(),
	}
}

// Current returns the active configuration, reloading it from disk if the
// refresh interval has elapsed. A failed reload keeps the previous config.
func (s *Store) Current() *Config {
	s.mu.RLock()
	cfg, loadedAt := s.current, s.loadedAt
	s.mu.RUnlock()

	if s.interval <= 0 || time.Since(loadedAt) < s.interval {
		return cfg
	}

	fresh, err := Load(s.dir)
	if err != nil {
		return cfg
	}

	s.mu.Lock()
	s.current = fresh
	s.loadedAt = time.Now()
	s.mu.Unlock()
	return fresh
}
