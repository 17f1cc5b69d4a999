package async

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/platinummonkey/tenantguard/pkg/observability"
)

// ErrPoolClosed is returned by Submit after Shutdown
var ErrPoolClosed = errors.New("worker pool shut down")

// ErrPoolFull is returned by TrySubmit when the queue has no room
var ErrPoolFull = errors.New("worker pool queue is full")

// Task is one unit of work. The context carries the per-task timeout.
type Task func(ctx context.Context) error

// WorkerPool runs tasks on a fixed set of goroutines. Task errors and
// panics are logged and never stop a worker.
type WorkerPool struct {
	taskName string
	timeout  time.Duration
	logger   *observability.Logger

	mu     sync.RWMutex
	closed bool
	work   chan Task

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWorkerPool starts workers goroutines reading from a queue of
// queueSize tasks.
//
//	pool := async.NewWorkerPool(ctx, 4, 64, "alert delivery", 30*time.Second, logger)
//	defer pool.Shutdown(5 * time.Second)
func NewWorkerPool(ctx context.Context, workers, queueSize int, taskName string, timeout time.Duration, logger *observability.Logger) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	ctx, cancel := context.WithCancel(ctx)

	p := &WorkerPool{
		taskName: taskName,
		timeout:  timeout,
		logger:   logger.WithField("pool", taskName),
		work:     make(chan Task, queueSize),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.worker(id)
		}(i)
	}
	go func() {
		wg.Wait()
		close(p.done)
	}()
	return p
}

// Submit queues a task, blocking while the queue is full
func (p *WorkerPool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.work <- task:
		return nil
	case <-p.ctx.Done():
		return ErrPoolClosed
	}
}

// TrySubmit queues a task without blocking
func (p *WorkerPool) TrySubmit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.work <- task:
		return nil
	default:
		return ErrPoolFull
	}
}

// Shutdown stops accepting tasks and waits up to timeout for queued tasks
// to drain. Tasks still running after the timeout see a cancelled context.
func (p *WorkerPool) Shutdown(timeout time.Duration) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.done
		return nil
	}
	p.closed = true
	close(p.work)
	p.mu.Unlock()

	select {
	case <-p.done:
		p.cancel()
		return nil
	case <-time.After(timeout):
		p.cancel()
		return fmt.Errorf("%s pool shutdown timed out after %v", p.taskName, timeout)
	}
}

func (p *WorkerPool) worker(id int) {
	for task := range p.work {
		p.run(id, task)
	}
}

func (p *WorkerPool) run(id int, task Task) {
	ctx := p.ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	defer observability.RecoverPanic(p.logger.WithField("worker", id), p.taskName)

	if err := task(ctx); err != nil {
		p.logger.WithError(err).WithField("worker", id).Warn("Task failed")
	}
}
