package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/todosync/internal/collection"
)

func TestOpClock_StartsAfterNoOp(t *testing.T) {
	c := NewOpClock()
	assert.Equal(t, collection.NoOp, c.Current())
	assert.Equal(t, collection.OpID(1), c.Next())
	assert.Equal(t, collection.OpID(2), c.Next())
	assert.Equal(t, collection.OpID(2), c.Current())
}

func TestOpClock_ThreadSafe(t *testing.T) {
	c := NewOpClock()
	const goroutines = 50
	const callsPerGoroutine = 100

	var wg sync.WaitGroup
	ids := make(chan collection.OpID, goroutines*callsPerGoroutine)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < callsPerGoroutine; j++ {
				ids <- c.Next()
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[collection.OpID]bool)
	for id := range ids {
		assert.False(t, seen[id], "op id %d issued twice", id)
		seen[id] = true
	}
	assert.Len(t, seen, goroutines*callsPerGoroutine)
}
