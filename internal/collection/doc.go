// Package collection holds the in-memory state of one entity kind and the
// rules that reconcile it with the remote store.
//
// A Collection is an ordered View (newest first) plus a journal of the steps
// applied since the last moment no mutation was in flight. Optimistic edits,
// confirmations and change-stream folds are all journaled steps, tagged with
// the operation that produced them (OpID zero for change-stream folds).
//
// Rolling back an operation marks its steps dead and rebuilds the view from
// the journal base by replaying the remaining live steps. When nothing else
// happened while the operation was in flight this is exactly the snapshot
// taken before its optimistic edit; when other steps interleaved they are
// preserved.
//
// Collections are not safe for concurrent use. The engine confines each one
// to its single event loop goroutine.
package collection
