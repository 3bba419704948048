package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeClock_StepsOnEveryCall(t *testing.T) {
	c := NewFakeClock(Epoch, time.Second)
	assert.Equal(t, Epoch, c.Now())
	assert.Equal(t, Epoch.Add(time.Second), c.Now())
	assert.Equal(t, Epoch.Add(2*time.Second), c.Peek())
}

func TestFakeClock_ZeroStepFreezes(t *testing.T) {
	c := NewFakeClock(Epoch, 0)
	assert.Equal(t, c.Now(), c.Now())

	c.Advance(time.Minute)
	assert.Equal(t, Epoch.Add(time.Minute), c.Now())

	later := Epoch.Add(time.Hour)
	c.Set(later)
	assert.Equal(t, later, c.Peek())
}

func TestFakeClock_ThreadSafe(t *testing.T) {
	c := NewFakeClock(Epoch, time.Millisecond)
	const goroutines = 50

	var wg sync.WaitGroup
	seen := make(chan time.Time, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- c.Now()
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[time.Time]bool)
	for ts := range seen {
		assert.False(t, unique[ts], "instant %s returned twice", ts)
		unique[ts] = true
	}
	assert.Len(t, unique, goroutines)
}

func TestIDSequence(t *testing.T) {
	next := IDSequence("t")
	assert.Equal(t, "t1", next())
	assert.Equal(t, "t2", next())

	other := IDSequence("c")
	assert.Equal(t, "c1", other(), "sequences are independent")
}
