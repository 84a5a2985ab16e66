// Package workerpool provides a bounded-concurrency task runner used to cap
// the number of simultaneous aggregator queries a trace walk or pipeline
// round issues against remote hosts.
package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Task is one unit of work submitted to the pool. Execute receives a
// context derived from the caller's context and should respect
// cancellation.
type Task struct {
	ID      string
	Execute func(ctx context.Context) error
}

// Config controls pool sizing.
type Config struct {
	MaxWorkers int
}

// DefaultConfig returns the spec-recommended default of 8 concurrent host
// queries.
func DefaultConfig() Config {
	return Config{MaxWorkers: 8}
}

// Pool runs submitted tasks with bounded concurrency via a semaphore.
type Pool struct {
	config Config
	logger *logrus.Logger

	sem chan struct{}
	wg  sync.WaitGroup

	submitted int64
	completed int64
	failed    int64
}

// New creates a pool with the given config. A zero MaxWorkers falls back
// to DefaultConfig's cap.
func New(config Config, logger *logrus.Logger) *Pool {
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = DefaultConfig().MaxWorkers
	}
	return &Pool{
		config: config,
		logger: logger,
		sem:    make(chan struct{}, config.MaxWorkers),
	}
}

// Run executes task.Execute once a worker slot is free, blocking the
// caller until either the slot is acquired or ctx is cancelled.
func (p *Pool) Run(ctx context.Context, task Task) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.sem }()

	atomic.AddInt64(&p.submitted, 1)
	start := time.Now()
	err := task.Execute(ctx)
	duration := time.Since(start)

	fields := logrus.Fields{
		"component": "workerpool",
		"task_id":   task.ID,
		"duration":  duration,
	}
	if err != nil {
		atomic.AddInt64(&p.failed, 1)
		if p.logger != nil {
			p.logger.WithFields(fields).WithError(err).Debug("task failed")
		}
	} else {
		atomic.AddInt64(&p.completed, 1)
		if p.logger != nil {
			p.logger.WithFields(fields).Debug("task completed")
		}
	}
	return err
}

// Go runs task.Execute in a new goroutine, subject to the same bounded
// concurrency as Run. onDone receives the task's error (nil on success)
// and may be nil.
func (p *Pool) Go(ctx context.Context, task Task, onDone func(error)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		err := p.Run(ctx, task)
		if onDone != nil {
			onDone(err)
		}
	}()
}

// Wait blocks until all goroutines started via Go have returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Stats reports pool counters, useful for debug logging.
type Stats struct {
	MaxWorkers int
	Submitted  int64
	Completed  int64
	Failed     int64
}

func (p *Pool) Stats() Stats {
	return Stats{
		MaxWorkers: p.config.MaxWorkers,
		Submitted:  atomic.LoadInt64(&p.submitted),
		Completed:  atomic.LoadInt64(&p.completed),
		Failed:     atomic.LoadInt64(&p.failed),
	}
}
