package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"media-relay/internal/domain"
)

var (
	// ErrShutdownTimeout is returned when workers don't stop within timeout.
	ErrShutdownTimeout = errors.New("worker: pool shutdown timed out")
	// ErrQueueFull is returned by Dispatch when no queue slot is free.
	ErrQueueFull = errors.New("worker: job queue is full")
	// ErrPoolStopped is returned by Dispatch after Stop.
	ErrPoolStopped = errors.New("worker: pool is stopped")
)

// Handler processes one job.
type Handler func(ctx context.Context, job domain.Job) error

// Config holds worker pool configuration.
type Config struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
}

// Pool runs jobs on a fixed number of goroutines fed by a bounded queue.
type Pool struct {
	workers    int
	jobTimeout time.Duration
	handler    Handler
	logger     *slog.Logger
	queue      chan domain.Job

	mu      sync.RWMutex
	started bool
	stopped bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewPool creates a new worker pool. Call Start before dispatching.
func NewPool(cfg Config, handler Handler, logger *slog.Logger) (*Pool, error) {
	if handler == nil {
		return nil, errors.New("worker: handler must not be nil")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 32
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		workers:    cfg.Workers,
		jobTimeout: cfg.JobTimeout,
		handler:    handler,
		logger:     logger,
		queue:      make(chan domain.Job, cfg.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start launches all workers. Calling it more than once has no effect.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true
	p.logger.Info("starting worker pool", "workers", p.workers, "queue_size", cap(p.queue))

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Dispatch queues job without waiting for a worker.
func (p *Pool) Dispatch(_ context.Context, job domain.Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}
	select {
	case p.queue <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending is the number of queued jobs not yet picked up by a worker.
func (p *Pool) Pending() int {
	return len(p.queue)
}

// Stop refuses new jobs and waits for queued and running jobs to finish. When
// timeout elapses first, running jobs are cancelled and ErrShutdownTimeout is returned.
func (p *Pool) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()

	p.logger.Info("stopping worker pool", "pending", len(p.queue))

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.logger.Info("worker pool stopped gracefully")
		return nil
	case <-time.After(timeout):
		p.cancel()
		return ErrShutdownTimeout
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	logger := p.logger.With("worker_id", id)
	logger.Debug("worker started")

	for job := range p.queue {
		p.run(logger, job)
	}
	logger.Debug("worker stopping")
}

func (p *Pool) run(logger *slog.Logger, job domain.Job) {
	ctx := p.ctx
	if p.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.jobTimeout)
		defer cancel()
	}

	logger = logger.With("job_id", job.ID)
	start := time.Now()
	if err := runSafely(ctx, p.handler, job); err != nil {
		var panicErr *PanicError
		if errors.As(err, &panicErr) {
			logger.Error("job panicked", "err", err, "stack", string(panicErr.Stack))
			return
		}
		logger.Error("job failed", "err", err, "duration", time.Since(start))
		return
	}
	logger.Info("job completed", "duration", time.Since(start))
}

// runSafely converts a panic in handler into an error.
func runSafely(ctx context.Context, handler Handler, job domain.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return handler(ctx, job)
}

// PanicError reports a handler panic.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("worker: job panicked: %v", e.Value)
}
