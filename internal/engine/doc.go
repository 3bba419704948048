// Package engine implements the todosync synchronization engine.
//
// An Engine keeps the todos, categories and todo-category links of one owner
// in memory and reconciles them with a remote.Client. Mutations are applied
// optimistically, confirmed or rolled back when the remote store answers,
// and change-stream events are folded into the same state.
//
// ARCHITECTURE:
//
// Single-Writer Loop:
// Every state change runs as a task on one goroutine (Engine.Run). This
// ensures:
//   - No locks around the collections
//   - A mutation is visible to any read made after the call returns
//   - Completions and change events are applied in the order they arrive
//
// Task Flow:
//  1. A handle call (Todos.Create, Categories.Delete, ...) enqueues a task
//  2. The loop applies the optimistic step, journals it and publishes
//  3. The remote request runs on its own goroutine
//  4. Its completion re-enters the loop and confirms or rolls back the op
//  5. Subscription pumps enqueue change events as fold tasks
//
// Reads never touch loop state: they use the immutable Snapshot published
// after each task.
package engine
