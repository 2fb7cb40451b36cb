package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	// Global settings
	Format  string `mapstructure:"format" yaml:"format"`
	Level   string `mapstructure:"level" yaml:"level"`
	Quiet   bool   `mapstructure:"quiet" yaml:"quiet"`
	Verbose bool   `mapstructure:"verbose" yaml:"verbose"`

	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Session SessionConfig `mapstructure:"session" yaml:"session"`
	Ledger  LedgerConfig  `mapstructure:"ledger" yaml:"ledger"`
	Logs    LogsConfig    `mapstructure:"logs" yaml:"logs"`
}

// ServerConfig locates the backend
type ServerConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// SessionConfig tunes the session client timers
type SessionConfig struct {
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay"`
	KeepAliveInterval time.Duration `mapstructure:"keepalive_interval" yaml:"keepalive_interval"`
	WatchdogInterval  time.Duration `mapstructure:"watchdog_interval" yaml:"watchdog_interval"`
	// StateDir holds remembered session ids; empty means ~/.bsync/sessions
	StateDir string `mapstructure:"state_dir" yaml:"state_dir"`
}

// LedgerConfig tunes the undo ledger
type LedgerConfig struct {
	DebounceWindow time.Duration `mapstructure:"debounce_window" yaml:"debounce_window"`
}

// LogsConfig sizes the diagnostic log book
type LogsConfig struct {
	Capacity int `mapstructure:"capacity" yaml:"capacity"`
}

// Default returns a Config with default values
func Default() *Config {
	return &Config{
		Format:  "ndjson",
		Level:   "info",
		Quiet:   false,
		Verbose: false,
		Server: ServerConfig{
			URL: "http://localhost:4005",
		},
		Session: SessionConfig{
			ReconnectDelay:    1000 * time.Millisecond,
			KeepAliveInterval: 20 * time.Second,
			WatchdogInterval:  150 * time.Millisecond,
		},
		Ledger: LedgerConfig{
			DebounceWindow: 1000 * time.Millisecond,
		},
		Logs: LogsConfig{
			Capacity: 100,
		},
	}
}

// Load loads configuration from files and environment
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigType("yaml")

	// Config paths, lowest precedence first
	v.AddConfigPath("/etc/bsync/")
	if configDir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(configDir, "bsync"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
	}
	v.AddConfigPath(".")

	// Environment variables
	v.SetEnvPrefix("BSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.BindEnv("format", "BSYNC_FORMAT")
	v.BindEnv("level", "BSYNC_LEVEL")
	v.BindEnv("quiet", "BSYNC_QUIET")
	v.BindEnv("verbose", "BSYNC_VERBOSE")
	v.BindEnv("server.url", "BSYNC_SERVER_URL", "BSYNC_SERVER")

	cfg := Default()
	setDefaults(v, cfg)

	// bsync.yaml first, then .bsyncrc (missing files are fine)
	for _, name := range []string{"bsync", ".bsyncrc"} {
		v.SetConfigName(name)
		err := v.ReadInConfig()
		if err == nil {
			break
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("format", cfg.Format)
	v.SetDefault("level", cfg.Level)
	v.SetDefault("quiet", cfg.Quiet)
	v.SetDefault("verbose", cfg.Verbose)
	v.SetDefault("server.url", cfg.Server.URL)
	v.SetDefault("session.reconnect_delay", cfg.Session.ReconnectDelay)
	v.SetDefault("session.keepalive_interval", cfg.Session.KeepAliveInterval)
	v.SetDefault("session.watchdog_interval", cfg.Session.WatchdogInterval)
	v.SetDefault("session.state_dir", cfg.Session.StateDir)
	v.SetDefault("ledger.debounce_window", cfg.Ledger.DebounceWindow)
	v.SetDefault("logs.capacity", cfg.Logs.Capacity)
}

// LoadFromFile loads configuration from a specific file
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ConfigFile returns the path to the config file that would be loaded
func ConfigFile() string {
	v := viper.New()

	v.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
	}
	v.AddConfigPath(".")

	for _, name := range []string{"bsync", ".bsyncrc"} {
		v.SetConfigName(name)
		if err := v.ReadInConfig(); err == nil {
			return v.ConfigFileUsed()
		}
	}

	return ""
}
