package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTasksForSameKeyRunInOrder(t *testing.T) {
	q := New(testLogger())

	var mu sync.Mutex
	var order []int
	var running int32

	for i := 0; i < 5; i++ {
		i := i
		q.Enqueue("project-1", func(ctx context.Context) error {
			if atomic.AddInt32(&running, 1) != 1 {
				t.Error("two tasks for the same key overlapped")
			}
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			atomic.AddInt32(&running, -1)
			return nil
		})
	}

	q.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 5 {
		t.Fatalf("expected 5 completed tasks, got %d", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("tasks ran out of order: %v", order)
		}
	}
}

func TestTasksForDifferentKeysRunConcurrently(t *testing.T) {
	q := New(testLogger())

	gate := make(chan struct{})
	var reached sync.WaitGroup
	reached.Add(2)

	for _, key := range []string{"a", "b"} {
		q.Enqueue(key, func(ctx context.Context) error {
			reached.Done()
			<-gate
			return nil
		})
	}

	waited := make(chan struct{})
	go func() {
		reached.Wait()
		close(waited)
	}()

	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("tasks for distinct keys did not run concurrently")
	}
	close(gate)
	q.Wait()
}

func TestPriorFailureDoesNotBlockNextTask(t *testing.T) {
	q := New(testLogger())

	ran := make(chan struct{})
	q.Enqueue("project-1", func(ctx context.Context) error {
		return errors.New("boom")
	})
	q.Enqueue("project-1", func(ctx context.Context) error {
		close(ran)
		return nil
	})

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("task after a failed task never ran")
	}
	q.Wait()
}

func TestCancelOnlyAffectsCurrentTask(t *testing.T) {
	q := New(testLogger())

	started := make(chan struct{})
	released := make(chan struct{})
	bRan := make(chan struct{})

	q.Enqueue("project-1", func(ctx context.Context) error {
		close(started)
		select {
		case <-ctx.Done():
			<-released
			return ErrCancelled
		case <-time.After(5 * time.Second):
			return errors.New("was not cancelled")
		}
	})
	q.Enqueue("project-1", func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			t.Error("queued task inherited cancellation from prior task")
		default:
		}
		close(bRan)
		return nil
	})

	<-started
	if !q.Cancel("project-1") {
		t.Fatal("expected Cancel to find a running task")
	}

	// B must start even though A is still blocked in cleanup.
	select {
	case <-bRan:
	case <-time.After(2 * time.Second):
		t.Fatal("next task did not start after cancellation")
	}
	close(released)
	q.Wait()
}

func TestCancelWithoutRunningTask(t *testing.T) {
	q := New(testLogger())
	if q.Cancel("missing") {
		t.Fatal("expected Cancel to report no running task")
	}
}

func TestWorkerMapIsGarbageCollected(t *testing.T) {
	q := New(testLogger())

	for i := 0; i < 3; i++ {
		q.Enqueue("project-1", func(ctx context.Context) error { return nil })
	}
	q.Enqueue("project-2", func(ctx context.Context) error { return nil })

	q.Wait()

	if n := q.Len(); n != 0 {
		t.Fatalf("expected worker map to be empty after drain, got %d entries", n)
	}
}
