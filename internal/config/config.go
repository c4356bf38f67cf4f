package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/bamsammich/commdev/internal/comm"
)

// Config represents the optional commdev configuration file.
type Config struct {
	Channel   ChannelConfig   `toml:"channel"`
	Log       LogConfig       `toml:"log"`
	Endpoints []comm.Endpoint `toml:"endpoint"`
}

// ChannelConfig holds channel tuning defaults. Unset fields are nil.
type ChannelConfig struct {
	PollInterval *string `toml:"poll_interval"`
	DrainTimeout *string `toml:"drain_timeout"`
	WriteRate    *string `toml:"write_rate"`
}

// LogConfig holds logging defaults.
type LogConfig struct {
	Level *string `toml:"level"`
}

// Path returns the resolved path to the config file.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "commdev", "config.toml")
}

// Load reads the config file from the XDG path. Returns a zero Config
// (no error) if the file does not exist. Config is always optional.
func Load() (Config, error) {
	path := Path()
	if path == "" {
		return Config{}, nil
	}
	cfg, err := LoadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Config{}, nil
	}
	return cfg, err
}

// LoadFile reads and validates the config file at path.
func LoadFile(path string) (Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field formats and endpoint entries.
func (c Config) Validate() error {
	if _, err := c.Channel.PollIntervalValue(); err != nil {
		return err
	}
	if _, err := c.Channel.DrainTimeoutValue(); err != nil {
		return err
	}
	if _, err := c.Channel.WriteRateValue(); err != nil {
		return err
	}
	if _, err := c.Log.LevelValue(); err != nil {
		return err
	}
	for i, ep := range c.Endpoints {
		if ep.CommDev == "" {
			return fmt.Errorf("endpoint %d (%q): commdev is required", i, ep.Host)
		}
	}
	return nil
}

// PollIntervalValue parses poll_interval. Zero means unset.
func (c ChannelConfig) PollIntervalValue() (time.Duration, error) {
	return parseDuration("poll_interval", c.PollInterval)
}

// DrainTimeoutValue parses drain_timeout. Zero means unset.
func (c ChannelConfig) DrainTimeoutValue() (time.Duration, error) {
	return parseDuration("drain_timeout", c.DrainTimeout)
}

// WriteRateValue parses write_rate in bytes per second. Zero means unlimited.
func (c ChannelConfig) WriteRateValue() (int64, error) {
	if c.WriteRate == nil {
		return 0, nil
	}
	n, err := ParseSize(*c.WriteRate)
	if err != nil {
		return 0, fmt.Errorf("write_rate: %w", err)
	}
	return n, nil
}

// LevelValue parses level (debug, info, warn, error). Unset means info.
func (c LogConfig) LevelValue() (slog.Level, error) {
	if c.Level == nil {
		return slog.LevelInfo, nil
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(*c.Level)); err != nil {
		return 0, fmt.Errorf("level: %w", err)
	}
	return lvl, nil
}

// Endpoint returns the configured endpoint with the given host name.
func (c Config) Endpoint(host string) (comm.Endpoint, bool) {
	for _, ep := range c.Endpoints {
		if ep.Host == host {
			return ep, true
		}
	}
	return comm.Endpoint{}, false
}

func parseDuration(name string, s *string) (time.Duration, error) {
	if s == nil {
		return 0, nil
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: negative duration %s", name, d)
	}
	return d, nil
}
