package service

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// dispatcher runs fire-and-forget side effects detached from the request
// that produced them.
type dispatcher interface {
	Enqueue(name string, fn func(context.Context)) bool
	Close()
}

const (
	defaultQueueSize   = 256
	defaultWorkers     = 4
	defaultTaskTimeout = 5 * time.Second
)

type queuedTask struct {
	name string
	fn   func(context.Context)
}

// taskQueue is a bounded queue of background tasks drained by a fixed pool
// of workers. When the queue is full new tasks are dropped and logged rather
// than spawning unbounded goroutines; dropped tasks are click-count noise
// the reconciliation sweep tolerates.
type taskQueue struct {
	tasks   chan queuedTask
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup

	// mu guards closed so Enqueue never races a Close into a send on a
	// closed channel. Late tasks during shutdown are dropped, not panics.
	mu     sync.RWMutex
	closed bool
}

func newTaskQueue(size, workers int, timeout time.Duration, logger *slog.Logger) *taskQueue {
	q := &taskQueue{
		tasks:   make(chan queuedTask, size),
		timeout: timeout,
		logger:  logger,
	}

	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}

	return q
}

func (q *taskQueue) worker() {
	defer q.wg.Done()

	for task := range q.tasks {
		// Tasks run on a detached context so an already-finished request
		// cannot cancel them.
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		task.fn(ctx)
		cancel()
	}
}

// Enqueue submits a task without blocking. It reports whether the task was
// accepted; tasks submitted after Close are dropped.
func (q *taskQueue) Enqueue(name string, fn func(context.Context)) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.logger.Warn("task queue closed, dropping task", slog.String("task", name))
		return false
	}

	select {
	case q.tasks <- queuedTask{name: name, fn: fn}:
		return true
	default:
		q.logger.Warn("task queue full, dropping task", slog.String("task", name))
		return false
	}
}

// Close stops accepting tasks and waits for queued ones to finish. It is safe
// to call more than once.
func (q *taskQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	q.wg.Wait()
}
