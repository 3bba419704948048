package testutil

import (
	"fmt"
	"sync"
)

// IDSequence returns a generator yielding prefix1, prefix2, and so on.
// Suitable for remote.WithIDGenerator.
//
// Thread-safety: the returned function is safe for concurrent use.
func IDSequence(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s%d", prefix, n)
	}
}
