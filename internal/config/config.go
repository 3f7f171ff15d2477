// Package config provides Viper-based configuration loading for the lab server.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// ShutdownTimeout bounds draining requests and the final lab save.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// LabConfig holds the economy tuning of the pack lab.
type LabConfig struct {
	// ContentDir holds rarities.yaml and catalog.yaml.
	ContentDir string `mapstructure:"content_dir"`
	// OpenCost is the coin price of one pack.
	OpenCost int `mapstructure:"open_cost"`
	// StartingCoins and StartingDust are the balances of a fresh or reset lab.
	StartingCoins int `mapstructure:"starting_coins"`
	StartingDust  int `mapstructure:"starting_dust"`
	// HistoryCapacity bounds the recent pulls list.
	HistoryCapacity int `mapstructure:"history_capacity"`
	// AllowGrant exposes the coin grant endpoint. Development only.
	AllowGrant bool `mapstructure:"allow_grant"`
	// WatchContent revalidates ContentDir on every edit and logs the outcome.
	WatchContent bool `mapstructure:"watch_content"`
}

// StorageConfig selects and configures the persistence adapter.
type StorageConfig struct {
	// Driver is one of "memory", "file", "sqlite", "postgres".
	Driver string `mapstructure:"driver"`
	// Path is the file or SQLite database path.
	Path string `mapstructure:"path"`
	// DSN is the PostgreSQL connection string.
	DSN string `mapstructure:"dsn"`
	// Profile keys the saved document in shared databases.
	Profile string `mapstructure:"profile"`
	// SaveTimeout bounds one Save call.
	SaveTimeout time.Duration `mapstructure:"save_timeout"`
	// RetryInitial is the first backoff interval after a failed save.
	RetryInitial time.Duration `mapstructure:"retry_initial"`
	// RetryMax caps a single backoff interval.
	RetryMax time.Duration `mapstructure:"retry_max"`
	// RetryMaxElapsed bounds one retry burst; the next failed save starts another.
	RetryMaxElapsed time.Duration `mapstructure:"retry_max_elapsed"`
}

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Lab     LabConfig     `mapstructure:"lab"`
	Storage StorageConfig `mapstructure:"storage"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if strings.TrimSpace(c.Server.Addr) == "" {
		errs = append(errs, "server.addr must not be empty")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "server.shutdown_timeout must be positive")
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLab(c.Lab); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateStorage(c.Storage); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

func validateLab(l LabConfig) error {
	var errs []string
	if l.ContentDir == "" {
		errs = append(errs, "lab.content_dir must not be empty")
	}
	if l.OpenCost < 0 {
		errs = append(errs, fmt.Sprintf("lab.open_cost must be >= 0, got %d", l.OpenCost))
	}
	if l.StartingCoins < 0 {
		errs = append(errs, fmt.Sprintf("lab.starting_coins must be >= 0, got %d", l.StartingCoins))
	}
	if l.StartingDust < 0 {
		errs = append(errs, fmt.Sprintf("lab.starting_dust must be >= 0, got %d", l.StartingDust))
	}
	if l.HistoryCapacity < 1 {
		errs = append(errs, fmt.Sprintf("lab.history_capacity must be >= 1, got %d", l.HistoryCapacity))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateStorage(s StorageConfig) error {
	var errs []string
	switch s.Driver {
	case "memory":
	case "file", "sqlite":
		if s.Path == "" {
			errs = append(errs, fmt.Sprintf("storage.path is required for driver %q", s.Driver))
		}
	case "postgres":
		if s.DSN == "" {
			errs = append(errs, "storage.dsn is required for driver \"postgres\"")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.driver must be one of [memory, file, sqlite, postgres], got %q", s.Driver))
	}
	if s.Profile == "" {
		errs = append(errs, "storage.profile must not be empty")
	}
	if s.SaveTimeout <= 0 {
		errs = append(errs, "storage.save_timeout must be positive")
	}
	if s.RetryInitial <= 0 {
		errs = append(errs, "storage.retry_initial must be positive")
	}
	if s.RetryMax < s.RetryInitial {
		errs = append(errs, "storage.retry_max must not be less than storage.retry_initial")
	}
	if s.RetryMaxElapsed <= 0 {
		errs = append(errs, "storage.retry_max_elapsed must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result. An empty path uses defaults and environment only.
//
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()

	// Environment variable overrides with GLAB_ prefix
	v.SetEnvPrefix("GLAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}
	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("lab.content_dir", "content")
	v.SetDefault("lab.open_cost", 100)
	v.SetDefault("lab.starting_coins", 1000)
	v.SetDefault("lab.starting_dust", 0)
	v.SetDefault("lab.history_capacity", 20)
	v.SetDefault("lab.allow_grant", false)
	v.SetDefault("lab.watch_content", false)

	v.SetDefault("storage.driver", "file")
	v.SetDefault("storage.path", "data/lab.json")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.profile", "local")
	v.SetDefault("storage.save_timeout", "5s")
	v.SetDefault("storage.retry_initial", "500ms")
	v.SetDefault("storage.retry_max", "30s")
	v.SetDefault("storage.retry_max_elapsed", "10m")
}
