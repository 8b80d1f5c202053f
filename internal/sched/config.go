package sched

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	yaml "github.com/goccy/go-yaml"
)

// Time base names accepted in Config.TimeBase.
const (
	TimeBasePolling   = "polling"
	TimeBaseInterrupt = "interrupt"
)

// DefaultCapacity is the task table size used when none is configured.
const DefaultCapacity = 25

// Config mirrors config.yml
type Config struct {
	TicksInMilliSec uint32 `yaml:"ticks_in_ms"`  // 1 (by default)
	Capacity        int    `yaml:"capacity"`     // 25 (by default)
	TimeBase        string `yaml:"time_base"`    // "polling" or "interrupt"
	InitialTime     Time   `yaml:"initial_time"` // interrupt time base only
	TickMS          int    `yaml:"tick_ms"`      // host tick interrupt period

	LogLevel      string `yaml:"log_level"`
	LogFormat     string `yaml:"log_format"`       // "console" or "json"
	LogRatePerSec int    `yaml:"log_rate_per_sec"` // dispatch log lines per second
	CSVPath       string `yaml:"csv_path"`
}

// DefaultConfig is used for every key the config file leaves out.
func DefaultConfig() Config {
	return Config{
		TicksInMilliSec: 1,
		Capacity:        DefaultCapacity,
		TimeBase:        TimeBasePolling,
		TickMS:          1,
		LogLevel:        "info",
		LogFormat:       "console",
		LogRatePerSec:   20,
	}
}

// Load reads YAML and overrides defaults; empty path or a missing file means
// defaults only.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	// sanity clamps
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.TickMS <= 0 {
		cfg.TickMS = 1
	}
	if cfg.LogRatePerSec <= 0 {
		cfg.LogRatePerSec = 20
	}

	return cfg, cfg.Validate()
}

// Validate reports the first setting the scheduler cannot start with.
func (c Config) Validate() error {
	if c.TicksInMilliSec == 0 {
		return fmt.Errorf("%w: ticks_in_ms must be positive", ErrInvalidConfig)
	}
	if c.Capacity <= 0 {
		return fmt.Errorf("%w: capacity must be positive", ErrInvalidConfig)
	}
	switch c.TimeBase {
	case TimeBasePolling, TimeBaseInterrupt:
	default:
		return fmt.Errorf("%w: unknown time_base %q", ErrInvalidConfig, c.TimeBase)
	}
	return nil
}

// Marshal renders the config back to YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
