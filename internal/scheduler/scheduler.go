// Package scheduler runs post-commit background work (C7): cache
// invalidation, event publication, and optional async AML analysis.
// Tasks are queued after a request's response body is computed and run
// concurrently with the next request pipeline, each isolated so one
// task's failure or timeout never affects its siblings.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Default per-task deadlines. A task outliving its deadline is logged
// and dropped, never retried.
const (
	CacheOpTimeout      = 2 * time.Second
	EventPublishTimeout = 5 * time.Second
)

type task struct {
	name     string
	timeout  time.Duration
	fn       func(ctx context.Context) error
}

// Scheduler is a fixed worker pool draining a buffered task queue.
type Scheduler struct {
	tasks     chan task
	log       zerolog.Logger
	wg        sync.WaitGroup
	stop      chan struct{}
	closeOnce sync.Once
}

// New starts a Scheduler with the given number of workers and queue depth.
func New(workers, queueDepth int, log zerolog.Logger) *Scheduler {
	if workers <= 0 {
		workers = 8
	}
	if queueDepth <= 0 {
		queueDepth = 1024
	}
	s := &Scheduler{
		tasks: make(chan task, queueDepth),
		log:   log,
		stop:  make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.run()
	}
	return s
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	for {
		select {
		case t := <-s.tasks:
			s.execute(t)
		case <-s.stop:
			return
		}
	}
}

func (s *Scheduler) execute(t task) {
	timeout := t.timeout
	if timeout <= 0 {
		timeout = CacheOpTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- nil
			}
		}()
		done <- t.fn(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			s.log.Warn().Err(err).Str("task", t.name).Msg("scheduler: task failed")
		}
	case <-ctx.Done():
		s.log.Warn().Str("task", t.name).Msg("scheduler: task timed out, dropped")
	}
}

// Submit enqueues a task with the default cache-op timeout. Event
// publication tasks should call SubmitWithTimeout explicitly.
func (s *Scheduler) Submit(name string, fn func(ctx context.Context) error) {
	s.SubmitWithTimeout(name, CacheOpTimeout, fn)
}

// SubmitWithTimeout enqueues a task with an explicit per-task deadline.
// A full queue drops the task rather than blocking the caller.
func (s *Scheduler) SubmitWithTimeout(name string, timeout time.Duration, fn func(ctx context.Context) error) {
	select {
	case s.tasks <- task{name: name, timeout: timeout, fn: fn}:
	default:
		s.log.Warn().Str("task", name).Msg("scheduler: queue full, task dropped")
	}
}

// Stop signals the workers to exit and waits for each to finish the
// task it is running. Tasks still in the queue are not run, and tasks
// submitted after Stop are queued but never run.
func (s *Scheduler) Stop() {
	s.closeOnce.Do(func() {
		close(s.stop)
	})
	s.wg.Wait()
}
