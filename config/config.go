package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the engine's full configuration.
type Config struct {
	// Log configures the structured logger.
	Log LogConfig `yaml:"log" env:"LOG"`
	// State selects and configures the shared state backend.
	State StateConfig `yaml:"state" env:"STATE"`
	// Resources declares ledger capacities available to tasks.
	Resources ResourcesConfig `yaml:"resources" env:"-"`
	// Breaker sets the defaults applied to named circuits.
	Breaker BreakerConfig `yaml:"breaker" env:"BREAKER"`
	// Metrics configures the Prometheus collector.
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format is json or console.
	Format string `yaml:"format" env:"FORMAT"`
	// OutputPaths lists zap sinks, e.g. stdout or file paths.
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// EnableCaller annotates entries with the call site.
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
}

// StateConfig selects the state store backend.
type StateConfig struct {
	// Backend is one of memory, sqlite, redis.
	Backend string `yaml:"backend" env:"BACKEND"`
	// Path is the sqlite database file. Empty uses the per-user
	// default under $HOME/.taskforge.
	Path string `yaml:"path" env:"PATH"`
	// Redis configures the redis backend.
	Redis RedisConfig `yaml:"redis" env:"REDIS"`
}

// RedisConfig configures the redis state backend.
type RedisConfig struct {
	Addr      string `yaml:"addr" env:"ADDR"`
	Password  string `yaml:"password" env:"PASSWORD"`
	DB        int    `yaml:"db" env:"DB"`
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	PoolSize  int    `yaml:"pool_size" env:"POOL_SIZE"`
}

// ResourcesConfig declares ledger capacities.
type ResourcesConfig struct {
	// Wait makes allocations block for capacity instead of failing
	// fast.
	Wait bool `yaml:"wait"`
	// Pools lists capacity per resource kind.
	Pools []ResourcePool `yaml:"pools"`
}

// ResourcePool is one declared capacity.
type ResourcePool struct {
	Kind     string `yaml:"kind"`
	Capacity int64  `yaml:"capacity"`
}

// BreakerConfig sets circuit breaker defaults.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens a
	// circuit.
	FailureThreshold int `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	// Cooldown is how long an open circuit rejects calls before
	// admitting a trial.
	Cooldown time.Duration `yaml:"cooldown" env:"COOLDOWN"`
}

// MetricsConfig configures the Prometheus collector.
type MetricsConfig struct {
	// Enabled registers the engine's metric families.
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Namespace prefixes every metric name.
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// DefaultConfig returns the configuration used when nothing overrides
// it.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:       "info",
			Format:      "json",
			OutputPaths: []string{"stdout"},
		},
		State: StateConfig{
			Backend: "memory",
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "taskforge:state:",
				PoolSize:  10,
			},
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			Cooldown:         30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "taskforge",
		},
	}
}

// Validate rejects configurations the engine cannot honor.
func (c *Config) Validate() error {
	var errs []string

	switch c.State.Backend {
	case "memory", "sqlite", "redis":
	default:
		errs = append(errs, fmt.Sprintf("unknown state backend %q", c.State.Backend))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("unknown log level %q", c.Log.Level))
	}
	if c.Breaker.FailureThreshold < 1 {
		errs = append(errs, "breaker failure_threshold must be at least 1")
	}
	if c.Breaker.Cooldown <= 0 {
		errs = append(errs, "breaker cooldown must be positive")
	}
	for _, p := range c.Resources.Pools {
		if p.Kind == "" {
			errs = append(errs, "resource pool with empty kind")
		}
		if p.Capacity <= 0 {
			errs = append(errs, fmt.Sprintf("resource pool %q capacity must be positive", p.Kind))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
