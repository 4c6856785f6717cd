// Package config loads and validates the orchestrator configuration from a
// YAML file with sensible defaults for a local development setup.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/microcell/microcell/pkg/store"
	"github.com/microcell/microcell/pkg/stores"
	"github.com/microcell/microcell/pkg/telemetry"
)

// Ticks configures every engine cadence, in milliseconds.
type Ticks struct {
	GoalMs  int `yaml:"goal_ms" validate:"gte=10"`
	PlanMs  int `yaml:"plan_ms" validate:"gte=10"`
	AutoMs  int `yaml:"auto_ms" validate:"gte=10"`
	SOPMs   int `yaml:"sop_ms" validate:"gte=10"`
	TimerMs int `yaml:"timer_ms" validate:"gte=10"`
}

// Planner holds the search knobs.
type Planner struct {
	MaxDepth int `yaml:"max_depth" validate:"gt=0,lte=100"`
}

// Events configures the optional SQLite diagnostics store.
type Events struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Config is the full orchestrator configuration.
type Config struct {
	// SPID names this orchestrator instance; every runner variable is
	// prefixed with it.
	SPID string `yaml:"sp_id" validate:"required"`

	// Backend selects the shared state backend: "redis" or "memory".
	Backend string `yaml:"backend" validate:"oneof=redis memory"`

	Redis     store.RedisConfig       `yaml:"redis"`
	Ticks     Ticks                   `yaml:"ticks"`
	Planner   Planner                 `yaml:"planner"`
	NumTimers int                     `yaml:"num_timers" validate:"gte=0,lte=64"`
	Logging   telemetry.LoggingConfig `yaml:"logging"`
	Metrics   telemetry.MetricsConfig `yaml:"metrics"`
	Events    Events                  `yaml:"events"`
}

// Default returns the local development configuration.
func Default() Config {
	return Config{
		SPID:      "microcell",
		Backend:   "redis",
		Redis:     store.DefaultRedisConfig(),
		Ticks:     Ticks{GoalMs: 250, PlanMs: 100, AutoMs: 100, SOPMs: 100, TimerMs: 100},
		Planner:   Planner{MaxDepth: 30},
		NumTimers: 3,
		Logging:   telemetry.DefaultLoggingConfig(),
		Metrics:   telemetry.DefaultMetricsConfig(),
		Events:    Events{Enabled: false, Path: "microcell-events.db"},
	}
}

// Load reads path (optional; empty keeps defaults), applies the file over
// the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration invariants.
func (c Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Backend == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("invalid config: redis backend requires redis.addr")
	}
	if c.Events.Enabled && c.Events.Path == "" {
		return fmt.Errorf("invalid config: events store requires a path")
	}
	return nil
}

// TickPeriod converts a millisecond knob to a duration.
func TickPeriod(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }

// EventsConfig adapts the events section for the stores package.
func (c Config) EventsConfig() stores.Config { return stores.Config{Path: c.Events.Path} }
