// Package resource tracks named resource allocations (cpu, memory,
// disk, or custom kinds) so concurrently running tasks cannot
// oversubscribe declared capacity.
package resource

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/taskforge/taskforge/types"
)

// Well-known resource kinds. Any other string is a valid custom kind.
const (
	KindCPU    = "cpu"
	KindMemory = "memory"
	KindDisk   = "disk"
)

// LedgerConfig configures allocation behavior.
type LedgerConfig struct {
	// Wait makes Allocate block until capacity frees up instead of
	// failing fast. Queuing of work belongs to the scheduler's
	// concurrency limiter, so fail-fast is the default.
	Wait bool `yaml:"wait" json:"wait"`
}

// Ledger tracks capacity and current allocation per resource kind.
// Safe for concurrent use.
type Ledger struct {
	mu     sync.Mutex
	cond   *sync.Cond
	pools  map[string]*pool
	cfg    LedgerConfig
	logger *zap.Logger
}

type pool struct {
	capacity  int64
	allocated int64
}

// NewLedger creates an empty ledger. Capacities are declared with
// Register before any allocation.
func NewLedger(cfg LedgerConfig, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Ledger{
		pools:  make(map[string]*pool),
		cfg:    cfg,
		logger: logger.With(zap.String("component", "resource_ledger")),
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Register declares (or replaces) the total capacity for a kind.
func (l *Ledger) Register(kind string, capacity int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.pools[kind]
	if !ok {
		p = &pool{}
		l.pools[kind] = p
	}
	p.capacity = capacity
	l.cond.Broadcast()
}

// Allocation is the handle returned by Allocate. It must be released
// exactly once; a second Release is a contract violation.
type Allocation struct {
	ledger   *Ledger
	kind     string
	amount   int64
	released bool
	mu       sync.Mutex
}

// Kind returns the allocated resource kind.
func (a *Allocation) Kind() string { return a.kind }

// Amount returns the allocated quantity.
func (a *Allocation) Amount() int64 { return a.amount }

// Release returns the quantity to the ledger. The first call succeeds;
// every later call returns DoubleReleaseError so leak bugs surface
// early instead of silently corrupting accounting.
func (a *Allocation) Release() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		return &types.DoubleReleaseError{Kind: a.kind}
	}
	a.released = true
	a.ledger.release(a.kind, a.amount)
	return nil
}

// Allocate reserves amount units of kind. With the default fail-fast
// policy, insufficient capacity yields ResourceExhaustedError
// immediately; in wait mode the call blocks until capacity frees up or
// ctx is cancelled. Allocating an unregistered kind is an error.
func (l *Ledger) Allocate(ctx context.Context, kind string, amount int64) (*Allocation, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("allocation amount must be positive, got %d", amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.pools[kind]
	if !ok {
		return nil, fmt.Errorf("unknown resource kind %q", kind)
	}

	for p.capacity-p.allocated < amount {
		if !l.cfg.Wait {
			return nil, &types.ResourceExhaustedError{
				Kind:      kind,
				Requested: amount,
				Available: p.capacity - p.allocated,
			}
		}
		if amount > p.capacity {
			// Never satisfiable, do not wait forever.
			return nil, &types.ResourceExhaustedError{
				Kind:      kind,
				Requested: amount,
				Available: p.capacity,
			}
		}
		if err := l.wait(ctx); err != nil {
			return nil, err
		}
	}

	p.allocated += amount
	l.logger.Debug("resource allocated",
		zap.String("kind", kind),
		zap.Int64("amount", amount),
		zap.Int64("in_use", p.allocated),
		zap.Int64("capacity", p.capacity))

	return &Allocation{ledger: l, kind: kind, amount: amount}, nil
}

// wait blocks on the condition variable until a release broadcasts or
// ctx is done. Must be called with l.mu held.
func (l *Ledger) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			// Taking the lock orders this broadcast after the caller's
			// Wait has parked and released the mutex, so cancellation
			// can never slip into the gap and leave the waiter asleep.
			l.mu.Lock()
			l.cond.Broadcast()
			l.mu.Unlock()
		case <-done:
		}
	}()
	l.cond.Wait()
	close(done)
	return ctx.Err()
}

func (l *Ledger) release(kind string, amount int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.pools[kind]; ok {
		p.allocated -= amount
		if p.allocated < 0 {
			p.allocated = 0
		}
	}
	l.cond.Broadcast()
}

// InUse returns the currently allocated amount for kind.
func (l *Ledger) InUse(kind string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.pools[kind]; ok {
		return p.allocated
	}
	return 0
}

// Capacity returns the registered capacity for kind.
func (l *Ledger) Capacity(kind string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.pools[kind]; ok {
		return p.capacity
	}
	return 0
}

// Kinds lists registered resource kinds in sorted order.
func (l *Ledger) Kinds() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	kinds := make([]string, 0, len(l.pools))
	for kind := range l.pools {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}
