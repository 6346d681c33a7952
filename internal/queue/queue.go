// Package queue serializes pipeline runs per project key. Tasks sharing a
// key run strictly in enqueue order; tasks for different keys run
// concurrently and independently.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Task is a unit of serialized work. It receives a per-task cancellation
// context and must check it at safe points.
type Task func(ctx context.Context) error

// ErrCancelled marks a task outcome caused by explicit cancellation. It is
// logged as a normal outcome, never as a failure.
var ErrCancelled = errors.New("queue: task cancelled")

type job struct {
	task   Task
	ctx    context.Context
	cancel context.CancelFunc
}

type worker struct {
	backlog []*job
	current *job
}

// Queue runs one worker loop per active key. A worker drains its backlog
// and exits when empty, so the key map never grows over the process
// lifetime beyond the set of currently busy keys.
type Queue struct {
	mu      sync.Mutex
	workers map[string]*worker
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// New creates an empty queue.
func New(logger *slog.Logger) *Queue {
	return &Queue{
		workers: make(map[string]*worker),
		logger:  logger,
	}
}

// Enqueue appends task to the chain for key. A failure of a previously
// enqueued task never blocks this one.
func (q *Queue) Enqueue(key string, task Task) {
	j := &job{task: task}
	j.ctx, j.cancel = context.WithCancel(context.Background())

	q.mu.Lock()
	defer q.mu.Unlock()
	if w, ok := q.workers[key]; ok {
		w.backlog = append(w.backlog, j)
		return
	}
	w := &worker{backlog: []*job{j}}
	q.workers[key] = w
	q.wg.Add(1)
	go q.run(key, w)
}

// Cancel cancels the task currently running for key, if any. Queued tasks
// behind it keep their own cancellation contexts and are unaffected.
func (q *Queue) Cancel(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	w, ok := q.workers[key]
	if !ok || w.current == nil {
		return false
	}
	w.current.cancel()
	return true
}

// Len reports how many keys currently have a worker (busy or backlogged).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.workers)
}

// Wait blocks until every worker has drained. Intended for tests and
// shutdown; tasks detached by cancellation may still be finishing.
func (q *Queue) Wait() {
	q.wg.Wait()
}

func (q *Queue) run(key string, w *worker) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if len(w.backlog) == 0 {
			w.current = nil
			delete(q.workers, key)
			q.mu.Unlock()
			return
		}
		j := w.backlog[0]
		w.backlog = w.backlog[1:]
		w.current = j
		q.mu.Unlock()

		q.execute(key, j)
	}
}

// execute runs one job. When the job is cancelled mid-flight the worker
// moves on immediately so a fresh run for the same key can start without
// waiting for the cancelled run's cleanup.
func (q *Queue) execute(key string, j *job) {
	done := make(chan error, 1)
	go func() {
		done <- j.task(j.ctx)
	}()

	select {
	case err := <-done:
		j.cancel()
		q.settle(key, err)
	case <-j.ctx.Done():
		q.logger.Info("task cancelled, releasing key", "key", key)
		go func() {
			q.settle(key, <-done)
		}()
	}
}

func (q *Queue) settle(key string, err error) {
	switch {
	case err == nil:
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		q.logger.Info("task ended by cancellation", "key", key)
	default:
		// Swallowed so the next task for this key is unaffected.
		q.logger.Error("task failed", "key", key, "error", err)
	}
}
