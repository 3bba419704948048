package engine

import (
	"sync/atomic"
	"time"

	"github.com/roach88/todosync/internal/collection"
)

// OpClock issues operation ids. Ids are strictly increasing and never zero,
// so they can tag journal steps (collection.NoOp is reserved for folds).
//
// Thread-safety: OpClock is safe for concurrent use, although only the Run
// loop calls Next.
type OpClock struct {
	seq atomic.Int64
}

// NewOpClock creates a clock whose first id is 1.
func NewOpClock() *OpClock {
	return &OpClock{}
}

// Next returns the next operation id.
func (c *OpClock) Next() collection.OpID {
	return collection.OpID(c.seq.Add(1))
}

// Current returns the last id issued, or zero.
func (c *OpClock) Current() collection.OpID {
	return collection.OpID(c.seq.Load())
}

// NowFunc supplies wall-clock timestamps for optimistic records.
// Ordering never depends on it beyond created_at.
type NowFunc func() time.Time

func utcNow() time.Time { return time.Now().UTC() }
