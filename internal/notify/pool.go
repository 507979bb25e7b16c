package notify

import (
	"context"
	"sync"

	"racereg/internal/logging"
)

const (
	DefaultWorkers = 4
	queueSize      = 100
)

type Task struct {
	RegistrationID string
	Source         string
}

// WorkerPool runs confirmation sends off the request path.
type WorkerPool struct {
	tasks      chan Task
	wg         sync.WaitGroup
	maxWorkers int
	handle     func(ctx context.Context, t Task) error
	ctx        context.Context
	cancel     context.CancelFunc
	closed     bool
	mu         sync.Mutex
}

func NewWorkerPool(ctx context.Context, maxWorkers int, handle func(ctx context.Context, t Task) error) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = DefaultWorkers
	}
	ctx, cancel := context.WithCancel(ctx)
	return &WorkerPool{
		tasks:      make(chan Task, queueSize),
		maxWorkers: maxWorkers,
		handle:     handle,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (wp *WorkerPool) Start() {
	for i := 0; i < wp.maxWorkers; i++ {
		go wp.worker()
	}
}

// Stop refuses new tasks, lets queued ones finish and then cancels the pool context.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if wp.closed {
		wp.mu.Unlock()
		return
	}
	close(wp.tasks)
	wp.closed = true
	wp.mu.Unlock()

	wp.wg.Wait()
	wp.cancel()
}

// AddTask queues t and reports whether it was accepted.
func (wp *WorkerPool) AddTask(t Task) bool {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.closed {
		return false
	}

	wp.wg.Add(1)
	select {
	case wp.tasks <- t:
		return true
	case <-wp.ctx.Done():
		wp.wg.Done()
		return false
	}
}

func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

func (wp *WorkerPool) worker() {
	for t := range wp.tasks {
		if err := wp.handle(wp.ctx, t); err != nil {
			logging.Logg.Error("Notification task failed",
				"registration_id", t.RegistrationID, "source", t.Source, "error", err)
		}
		wp.wg.Done()
	}
}
