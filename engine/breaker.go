package engine

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taskforge/taskforge/internal/metrics"
	"github.com/taskforge/taskforge/types"
)

// CircuitState is the breaker state machine position.
type CircuitState int

const (
	// CircuitClosed passes calls through and counts failures.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls until the cooldown elapses.
	CircuitOpen
	// CircuitHalfOpen admits exactly one trial call.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the consecutive failure count that opens
	// the circuit.
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold"`
	// Cooldown is how long the circuit stays open before admitting a
	// half-open trial.
	Cooldown time.Duration `yaml:"cooldown" json:"cooldown"`
}

// DefaultBreakerConfig returns the default breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	}
}

// Breaker guards one named external operation. Closed counts
// consecutive failures and opens at the threshold; Open rejects
// immediately with CircuitOpenError until the cooldown elapses;
// HalfOpen lets exactly one trial through — success closes the
// circuit, failure re-opens it and restarts the cooldown.
type Breaker struct {
	name     string
	cfg      BreakerConfig
	logger   *zap.Logger
	mc       *metrics.Collector
	now      func() time.Time
	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time
	trial    bool // a half-open trial call is in flight
}

// NewBreaker creates a closed breaker for the named operation.
func NewBreaker(name string, cfg BreakerConfig, logger *zap.Logger, mc *metrics.Collector) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultBreakerConfig().Cooldown
	}
	return &Breaker{
		name:   name,
		cfg:    cfg,
		logger: logger.With(zap.String("circuit", name)),
		mc:     mc,
		now:    time.Now,
		state:  CircuitClosed,
	}
}

// Allow reports whether a call may proceed. When the circuit is open
// (or a half-open trial is already in flight) it returns
// CircuitOpenError without the wrapped operation being invoked.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		return nil

	case CircuitOpen:
		elapsed := b.now().Sub(b.openedAt)
		if elapsed >= b.cfg.Cooldown {
			b.transition(CircuitHalfOpen, "cooldown elapsed")
			b.trial = true
			return nil
		}
		return &types.CircuitOpenError{
			Name:       b.name,
			Failures:   b.failures,
			RetryAfter: b.cfg.Cooldown - elapsed,
		}

	case CircuitHalfOpen:
		if !b.trial {
			b.trial = true
			return nil
		}
		return &types.CircuitOpenError{
			Name:     b.name,
			Failures: b.failures,
		}

	default:
		return &types.CircuitOpenError{Name: b.name, Failures: b.failures}
	}
}

// RecordSuccess feeds a successful call back into the state machine.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		b.failures = 0
	case CircuitHalfOpen:
		b.trial = false
		b.failures = 0
		b.transition(CircuitClosed, "trial call succeeded")
	}
}

// RecordFailure feeds a failed call back into the state machine.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++

	switch b.state {
	case CircuitClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.openedAt = b.now()
			b.transition(CircuitOpen, "failure threshold reached")
		}
	case CircuitHalfOpen:
		b.trial = false
		b.openedAt = b.now()
		b.transition(CircuitOpen, "trial call failed")
	}
}

// State returns the current circuit state.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset forces the breaker back to closed with cleared counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != CircuitClosed {
		b.transition(CircuitClosed, "manual reset")
	}
	b.failures = 0
	b.trial = false
}

// transition must be called with b.mu held.
func (b *Breaker) transition(to CircuitState, reason string) {
	from := b.state
	b.state = to
	b.logger.Info("circuit state change",
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.String("reason", reason),
		zap.Int("failures", b.failures))
	b.mc.ObserveBreakerTransition(b.name, to.String())
}

// BreakerRegistry manages the breakers of all named operations in a
// workflow, creating them on first use with a shared configuration.
type BreakerRegistry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	cfg      BreakerConfig
	logger   *zap.Logger
	mc       *metrics.Collector
}

// NewBreakerRegistry creates an empty registry.
func NewBreakerRegistry(cfg BreakerConfig, logger *zap.Logger, mc *metrics.Collector) *BreakerRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BreakerRegistry{
		breakers: make(map[string]*Breaker),
		cfg:      cfg,
		logger:   logger,
		mc:       mc,
	}
}

// GetOrCreate returns the breaker for name, creating it if absent.
func (r *BreakerRegistry) GetOrCreate(name string) *Breaker {
	r.mu.RLock()
	if b, ok := r.breakers[name]; ok {
		r.mu.RUnlock()
		return b
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := NewBreaker(name, r.cfg, r.logger, r.mc)
	r.breakers[name] = b
	return b
}

// States returns every breaker's current state keyed by name.
func (r *BreakerRegistry) States() map[string]CircuitState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	states := make(map[string]CircuitState, len(r.breakers))
	for name, b := range r.breakers {
		states[name] = b.State()
	}
	return states
}
