package core

import (
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// WorkerPool runs tasks on a fixed number of goroutines fed by a bounded
// queue. Submit never blocks.
type WorkerPool struct {
	name   string
	tasks  chan func()
	wg     sync.WaitGroup
	mu     sync.RWMutex // guards closed against concurrent Submit
	closed bool
	logger *slog.Logger

	completed atomic.Uint64
	panics    atomic.Uint64
}

// NewWorkerPool starts workers goroutines with a queue of queue tasks.
func NewWorkerPool(name string, workers, queue int, logger *slog.Logger) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if queue < 0 {
		queue = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &WorkerPool{
		name:   name,
		tasks:  make(chan func(), queue),
		logger: logger.With("component", "worker_pool", "pool", name),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.run()
	}
	return p
}

// Submit queues task. It returns ErrPoolFull when the queue is full and
// ErrPoolClosed after Close.
func (p *WorkerPool) Submit(task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.tasks <- task:
		return nil
	default:
		return ErrPoolFull
	}
}

// Close stops accepting tasks and waits for queued ones to finish.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
}

// Pending returns the number of queued tasks.
func (p *WorkerPool) Pending() int {
	return len(p.tasks)
}

// Completed returns the number of tasks that ran, panicking or not.
func (p *WorkerPool) Completed() uint64 {
	return p.completed.Load()
}

// Panics returns the number of tasks that panicked.
func (p *WorkerPool) Panics() uint64 {
	return p.panics.Load()
}

func (p *WorkerPool) run() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.exec(task)
	}
}

func (p *WorkerPool) exec(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.logger.Error("task panic",
				"panic", r,
				"stack", string(debug.Stack()))
		}
		p.completed.Add(1)
	}()
	task()
}
