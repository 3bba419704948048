package engine

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func named(name string) task { return task{name: name, run: func() {}} }

func TestTaskQueue_FIFO(t *testing.T) {
	q := newTaskQueue()
	for _, n := range []string{"A", "B", "C"} {
		require.True(t, q.Enqueue(named(n)))
	}

	for _, want := range []string{"A", "B", "C"} {
		got, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, got.name)
	}
	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestTaskQueue_CloseReturnsRest(t *testing.T) {
	q := newTaskQueue()
	q.Enqueue(named("1"))
	q.Enqueue(named("2"))

	rest := q.Close()
	require.Len(t, rest, 2)
	assert.Equal(t, "1", rest[0].name)
	assert.True(t, q.Closed())
	assert.Equal(t, 0, q.Len())
	assert.False(t, q.Enqueue(named("late")), "enqueue after close should return false")
	assert.Nil(t, q.Close(), "second close returns nothing")

	// The signal buffered by the enqueues is still readable after close.
	<-q.Wait()
	select {
	case _, open := <-q.Wait():
		assert.False(t, open, "wait channel closes with the queue")
	default:
		t.Fatal("wait channel should be closed")
	}
}

func TestTaskQueue_SignalCoalesces(t *testing.T) {
	q := newTaskQueue()
	q.Enqueue(named("1"))
	q.Enqueue(named("2"))

	<-q.Wait()
	select {
	case <-q.Wait():
		t.Fatal("two enqueues should leave one signal")
	default:
	}
	assert.Equal(t, 2, q.Len())
}

func TestTask_ClaimOnce(t *testing.T) {
	state := new(atomic.Int32)
	tk := task{name: "x", state: state}
	assert.True(t, tk.claim())
	assert.False(t, tk.claim())

	cancelled := new(atomic.Int32)
	cancelled.Store(taskCancelled)
	assert.False(t, task{state: cancelled}.claim())
	assert.True(t, named("stateless").claim())
}

func TestTaskQueue_ThreadSafe(t *testing.T) {
	q := newTaskQueue()

	const producers = 10
	const tasksPerProducer = 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < tasksPerProducer; i++ {
				q.Enqueue(named("t"))
			}
		}()
	}

	received := 0
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		for received < producers*tasksPerProducer {
			if _, ok := q.TryDequeue(); ok {
				received++
				continue
			}
			<-q.Wait()
		}
	}()

	wg.Wait()
	select {
	case <-consumerDone:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer timeout")
	}
	assert.Equal(t, producers*tasksPerProducer, received)
}
