package engine

import (
	"sync"
	"sync/atomic"
)

// Task states. A task is claimed exactly once, either by the loop (run) or
// by its submitter giving up (cancelled).
const (
	taskQueued int32 = iota
	taskRunning
	taskCancelled
)

// task is one unit of work for the Run loop.
type task struct {
	name string
	run  func()
	// abandon, if set, runs instead of run when the loop stops first.
	abandon func()
	state   *atomic.Int32
}

// claim marks the task as running. Returns false if the submitter already
// gave up on it.
func (t task) claim() bool {
	if t.state == nil {
		return true
	}
	return t.state.CompareAndSwap(taskQueued, taskRunning)
}

// taskQueue is a thread-safe FIFO queue for loop tasks.
//
// The queue is unbounded so that remote completions and change-stream pumps
// never block on a busy loop.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop (prevents goroutine hangs on context cancellation).
type taskQueue struct {
	mu     sync.Mutex
	tasks  []task
	closed bool
	signal chan struct{} // Signals task availability (buffered, size 1)
}

// newTaskQueue creates an empty task queue.
func newTaskQueue() *taskQueue {
	return &taskQueue{
		tasks:  make([]task, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a task to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *taskQueue) Enqueue(t task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.tasks = append(q.tasks, t)

	// Signal availability (non-blocking - buffer of 1 coalesces multiple signals)
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns (task{}, false) if queue is empty.
func (q *taskQueue) TryDequeue() (task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return task{}, false
	}

	t := q.tasks[0]

	// Nil out the slot so the closure can be collected.
	q.tasks[0] = task{}

	if len(q.tasks) == 1 {
		q.tasks = q.tasks[:0]
	} else {
		q.tasks = q.tasks[1:]
	}

	return t, true
}

// Wait returns a channel that signals when tasks may be available.
// Use with select for context-aware waiting:
//
//	select {
//	case <-ctx.Done():
//	    return ctx.Err()
//	case <-q.Wait():
//	    // Try TryDequeue
//	}
func (q *taskQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *taskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Close signals that no more tasks will be enqueued and returns the tasks
// still waiting. Wakes any blocked waiters by closing the signal channel.
func (q *taskQueue) Close() []task {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	q.closed = true
	close(q.signal) // Wakes all waiters

	rest := q.tasks
	q.tasks = nil
	return rest
}

// Closed reports whether Close has been called.
func (q *taskQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
