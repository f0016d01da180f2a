package config

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/taskforge/taskforge/internal/metrics"
	"github.com/taskforge/taskforge/resource"
	"github.com/taskforge/taskforge/state"
)

// NewLogger builds a zap logger from the log configuration.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	if len(cfg.OutputPaths) > 0 {
		zcfg.OutputPaths = cfg.OutputPaths
	}
	zcfg.DisableCaller = !cfg.EnableCaller

	return zcfg.Build()
}

// NewStore opens the configured state backend.
func NewStore(cfg StateConfig, logger *zap.Logger) (state.Store, error) {
	switch cfg.Backend {
	case "memory":
		return state.NewMemoryStore(), nil
	case "sqlite":
		return state.NewSQLiteStore(cfg.Path, logger)
	case "redis":
		return state.NewRedisStore(state.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			PoolSize:  cfg.Redis.PoolSize,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.Backend)
	}
}

// NewLedger builds a resource ledger with the configured capacities.
// Returns nil when no pools are declared.
func NewLedger(cfg ResourcesConfig, logger *zap.Logger) *resource.Ledger {
	if len(cfg.Pools) == 0 {
		return nil
	}
	ledger := resource.NewLedger(resource.LedgerConfig{Wait: cfg.Wait}, logger)
	for _, p := range cfg.Pools {
		ledger.Register(p.Kind, p.Capacity)
	}
	return ledger
}

// NewCollector builds the metrics collector. Returns nil (every method
// of which is a no-op) when metrics are disabled.
func NewCollector(cfg MetricsConfig, reg prometheus.Registerer) *metrics.Collector {
	if !cfg.Enabled {
		return nil
	}
	return metrics.NewCollector(cfg.Namespace, reg)
}
