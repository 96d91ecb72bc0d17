// File: internal/infra/worker/pool.go
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/rs/zerolog"

	"telegram-referral-bot/internal/infra/metrics"
)

var (
	ErrQueueFull   = errors.New("worker queue full")
	ErrPoolStopped = errors.New("worker pool stopped")
	errNilTask     = errors.New("nil task")
)

// Task is a unit of work executed by the pool. Returned errors are logged.
type Task func(ctx context.Context) error

// Pool runs submitted tasks on a fixed number of goroutines. A panicking
// task is recovered and logged; the worker keeps running.
type Pool struct {
	name string
	log  *zerolog.Logger

	wg       sync.WaitGroup
	jobs     chan Task
	quit     chan struct{}
	stopOnce sync.Once
	n        int
}

func NewPool(name string, workers, queue int, logger *zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if queue <= 0 {
		queue = workers * 4
	}
	l := logger.With().Str("component", "WorkerPool").Str("pool", name).Logger()
	return &Pool{
		name: name,
		log:  &l,
		jobs: make(chan Task, queue),
		quit: make(chan struct{}),
		n:    workers,
	}
}

func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.n; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-p.quit:
					return
				case task := <-p.jobs:
					p.run(ctx, id, task)
				}
			}
		}(i)
	}
}

func (p *Pool) run(ctx context.Context, id int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			metrics.IncJob(p.name, "panic")
			p.log.Error().Int("worker", id).Interface("panic", r).Msg("task panicked")
		}
	}()
	if err := task(ctx); err != nil {
		metrics.IncJob(p.name, "error")
		p.log.Warn().Err(err).Int("worker", id).Msg("task error")
		return
	}
	metrics.IncJob(p.name, "ok")
}

// Stop signals workers to exit and waits for in-flight tasks.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.quit) })
	p.wg.Wait()
}

// Submit enqueues without blocking; a saturated queue drops the task.
func (p *Pool) Submit(task Task) error {
	if task == nil {
		return errNilTask
	}
	select {
	case <-p.quit:
		return ErrPoolStopped
	default:
	}
	select {
	case p.jobs <- task:
		return nil
	default:
		metrics.IncJob(p.name, "dropped")
		return ErrQueueFull
	}
}

// SubmitWait enqueues, blocking until there is room, the pool stops or ctx ends.
func (p *Pool) SubmitWait(ctx context.Context, task Task) error {
	if task == nil {
		return errNilTask
	}
	select {
	case p.jobs <- task:
		return nil
	case <-p.quit:
		return ErrPoolStopped
	case <-ctx.Done():
		return fmt.Errorf("submit: %w", ctx.Err())
	}
}
