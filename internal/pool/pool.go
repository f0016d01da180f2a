// Package pool provides a bounded goroutine pool backing the fan-out
// helper exposed to async tasks.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	// ErrPoolClosed is returned for submissions after Close.
	ErrPoolClosed = errors.New("pool is closed")
)

// Job is a unit of sub-task work executed by a pool worker.
type Job func(ctx context.Context) error

type jobWrapper struct {
	job    Job
	ctx    context.Context
	result chan error
}

// Config sizes the pool.
type Config struct {
	// Workers is the maximum number of concurrent pool goroutines.
	Workers int `yaml:"workers" json:"workers"`
	// QueueSize bounds pending submissions.
	QueueSize int `yaml:"queue_size" json:"queue_size"`
}

// DefaultConfig returns sensible defaults for async fan-out.
func DefaultConfig() Config {
	return Config{Workers: 8, QueueSize: 64}
}

// Pool runs jobs on a bounded set of worker goroutines. Workers are
// spawned lazily up to the configured maximum.
type Pool struct {
	workers     int
	queue       chan jobWrapper
	workerCount atomic.Int32
	closed      atomic.Bool
	wg          sync.WaitGroup

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// New creates a pool. Non-positive values fall back to defaults.
func New(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	return &Pool{
		workers: cfg.Workers,
		queue:   make(chan jobWrapper, cfg.QueueSize),
	}
}

// Run submits a job and blocks until it completes or ctx is done.
func (p *Pool) Run(ctx context.Context, job Job) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	p.submitted.Add(1)

	wrapper := jobWrapper{job: job, ctx: ctx, result: make(chan error, 1)}

	select {
	case p.queue <- wrapper:
		p.ensureWorker()
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-wrapper.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) ensureWorker() {
	for {
		current := p.workerCount.Load()
		if current >= int32(p.workers) {
			return
		}
		if p.workerCount.CompareAndSwap(current, current+1) {
			p.wg.Add(1)
			go p.worker()
			return
		}
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	defer p.workerCount.Add(-1)

	for wrapper := range p.queue {
		err := p.execute(wrapper)
		wrapper.result <- err
		close(wrapper.result)
		if err != nil {
			p.failed.Add(1)
		} else {
			p.completed.Add(1)
		}
	}
}

func (p *Pool) execute(wrapper jobWrapper) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pool job panicked: %v", r)
		}
	}()
	if e := wrapper.ctx.Err(); e != nil {
		return e
	}
	return wrapper.job(wrapper.ctx)
}

// Stats reports pool counters.
type Stats struct {
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Workers   int32 `json:"workers"`
}

// Stats returns a snapshot of pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Workers:   p.workerCount.Load(),
	}
}

// Close drains the queue and waits for workers to exit.
func (p *Pool) Close() {
	if p.closed.Swap(true) {
		return
	}
	close(p.queue)
	p.wg.Wait()
}
