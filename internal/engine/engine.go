package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/todosync/internal/collection"
	"github.com/roach88/todosync/internal/model"
	"github.com/roach88/todosync/internal/query"
	"github.com/roach88/todosync/internal/remote"
)

// Engine is the single-writer sync engine of one session.
//
// All collection state is owned by the Run loop goroutine. Public methods
// enqueue tasks and wait until the loop has applied them; reads come from the
// last published Snapshot.
//
// Thread-safety model:
//   - mutation, load and filter calls: safe from any goroutine, block until
//     the loop has applied the optimistic step
//   - Run(): must be called from exactly one goroutine, once
//   - Snapshot(), Watch() and the read accessors: safe from any goroutine
type Engine struct {
	client  remote.Client
	owner   string
	logger  *slog.Logger
	tokens  TokenGenerator
	now     NowFunc
	ops     *OpClock
	metrics *Metrics
	onBreak func(error)

	queue    *taskQueue
	running  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	stopped  chan struct{}

	// Loop-owned state. Only tasks touch these.
	runCtx     context.Context
	todos      *kindState[model.Todo]
	categories *kindState[model.Category]
	assocs     *kindState[model.Association]
	index      *categoryIndex
	filter     Filter
	version    uint64

	inflight sync.WaitGroup
	pumps    sync.WaitGroup

	snap atomic.Pointer[Snapshot]

	watchMu  sync.Mutex
	watchers map[chan struct{}]struct{}
	watchEnd bool

	todosHandle      *Todos
	categoriesHandle *Categories
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithLogger sets the engine logger. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithTokens sets the generator behind pending identities.
// Default: UUIDv7Generator.
func WithTokens(g TokenGenerator) EngineOption {
	return func(e *Engine) { e.tokens = g }
}

// WithNow sets the clock stamping optimistic records. Default: time.Now in UTC.
func WithNow(now NowFunc) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithMetrics sets the collectors the engine reports to. Default: an
// unregistered set.
func WithMetrics(m *Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithInvariantChecks verifies the snapshot invariants after every loop
// task and reports violations to fn. Meant for tests.
func WithInvariantChecks(fn func(error)) EngineOption {
	return func(e *Engine) { e.onBreak = fn }
}

// New creates an engine for owner on top of client. Run must be called for
// the engine to make progress.
func New(client remote.Client, owner string, opts ...EngineOption) (*Engine, error) {
	if owner == "" {
		return nil, ErrNotAuthenticated
	}
	if client == nil {
		return nil, errors.New("engine: nil remote client")
	}

	e := &Engine{
		client:   client,
		owner:    owner,
		logger:   slog.Default(),
		tokens:   UUIDv7Generator{},
		now:      utcNow,
		ops:      NewOpClock(),
		queue:    newTaskQueue(),
		stopCh:   make(chan struct{}),
		stopped:  make(chan struct{}),
		filter:   AllTodos(),
		watchers: make(map[chan struct{}]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(nil)
	}

	e.todos = newKindState(model.TableTodos, model.TodoFromRow, model.DecodeTodoChange)
	e.categories = newKindState(model.TableCategories, model.CategoryFromRow, model.DecodeCategoryChange)
	e.assocs = newKindState(model.TableTodoCategories, model.AssociationFromRow, model.DecodeAssociationChange,
		collection.StrictPlaceholders())
	e.assocs.st = e.todos.st
	e.index = newCategoryIndex(e.assocs.coll)
	e.todosHandle = &Todos{e: e}
	e.categoriesHandle = &Categories{e: e}

	e.snap.Store(&Snapshot{Filter: e.filter})
	return e, nil
}

// Owner returns the session owner.
func (e *Engine) Owner() string { return e.owner }

// Todos returns the todo handle.
func (e *Engine) Todos() *Todos { return e.todosHandle }

// Categories returns the category handle.
func (e *Engine) Categories() *Categories { return e.categoriesHandle }

// Snapshot returns the last published state.
func (e *Engine) Snapshot() *Snapshot { return e.snap.Load() }

// Filter returns the active category filter.
func (e *Engine) Filter() Filter { return e.Snapshot().Filter }

// Done is closed once Run has returned and every in-flight request settled.
func (e *Engine) Done() <-chan struct{} { return e.stopped }

// Run starts the single-writer loop and the change-stream subscriptions.
// Blocks until ctx is cancelled or Stop() is called.
//
// On return every subscription is closed, in-flight remote requests are
// cancelled and their ops resolve with ErrStopped.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrStopped
	}
	ctx, cancel := context.WithCancel(ctx)
	e.runCtx = ctx
	e.logger.Info("engine starting", "owner", e.owner)

	subs := e.subscribe(ctx)
	defer func() {
		cancel()
		for _, t := range e.queue.Close() {
			if t.abandon != nil {
				t.abandon()
			}
		}
		for _, sub := range subs {
			_ = sub.Close()
		}
		e.pumps.Wait()
		e.inflight.Wait()
		close(e.stopped)
		e.closeWatchers()
	}()

	for {
		// Try non-blocking dequeue first
		t, ok := e.queue.TryDequeue()
		if ok {
			e.runTask(t)
			continue
		}

		// No task ready - wait for signal, stop or context cancellation
		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			return ctx.Err()

		case <-e.stopCh:
			e.logger.Info("engine stopping: stop requested")
			return nil

		case <-e.queue.Wait():
		}
	}
}

// Stop asks Run to return once the queued tasks are done.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

func (e *Engine) runTask(t task) {
	if !t.claim() {
		return
	}
	t.run()
	if e.onBreak != nil {
		if err := e.Snapshot().Check(); err != nil {
			e.logger.Error("invariant violated", "task", t.name, "error", err)
			e.onBreak(fmt.Errorf("after %s: %w", t.name, err))
		}
	}
}

// submit runs fn on the loop and waits for it. If ctx ends or the engine
// stops before the loop picks the task up, the task is cancelled.
func (e *Engine) submit(ctx context.Context, name string, fn func() error) error {
	state := new(atomic.Int32)
	done := make(chan struct{})
	var err error
	t := task{name: name, state: state, run: func() {
		err = fn()
		close(done)
	}}
	if !e.queue.Enqueue(t) {
		return ErrStopped
	}

	select {
	case <-done:
		return err
	case <-ctx.Done():
		if state.CompareAndSwap(taskQueued, taskCancelled) {
			return ctx.Err()
		}
	case <-e.stopCh:
		if state.CompareAndSwap(taskQueued, taskCancelled) {
			return ErrStopped
		}
	case <-e.stopped:
		if state.CompareAndSwap(taskQueued, taskCancelled) {
			return ErrStopped
		}
	}
	// The loop claimed the task first; it runs to completion.
	<-done
	return err
}

// dispatch runs call on its own goroutine and posts complete back to the
// loop. If the loop is gone by then, abandon runs instead.
func (e *Engine) dispatch(name string, call func(context.Context) error, complete func(error), abandon func(error)) {
	ctx := e.runCtx
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		err := call(ctx)
		t := task{
			name:    name,
			run:     func() { complete(err) },
			abandon: func() { abandon(err) },
		}
		if !e.queue.Enqueue(t) {
			abandon(err)
		}
	}()
}

// Sync waits until every task queued before the call has run.
func (e *Engine) Sync(ctx context.Context) error {
	return e.submit(ctx, "sync", func() error { return nil })
}

// SetFilter changes the category filter and republishes.
func (e *Engine) SetFilter(ctx context.Context, f Filter) error {
	return e.submit(ctx, "filter.set", func() error {
		if e.filter == f {
			return nil
		}
		e.filter = f
		e.logger.Debug("filter changed", "filter", f.String())
		e.publish()
		return nil
	})
}

// Apply folds one change event and waits for it. Events for unknown ids are
// discarded; malformed events return an error and change nothing.
func (e *Engine) Apply(ctx context.Context, rc model.RowChange) error {
	return e.submit(ctx, "fold", func() error { return e.foldRow(rc) })
}

// Load fetches todos, their associations and categories for the owner and
// replaces local state. Failures are joined; each kind keeps its own
// LastError.
func (e *Engine) Load(ctx context.Context) error {
	return errors.Join(e.Todos().Load(ctx), e.Categories().Load(ctx))
}

// subscribe opens the change streams of the three tables. A failed
// subscription is logged and recorded; the engine keeps running without it.
func (e *Engine) subscribe(ctx context.Context) []remote.Subscription {
	var subs []remote.Subscription
	for _, table := range []string{model.TableTodos, model.TableCategories, model.TableTodoCategories} {
		sub, err := e.client.Subscribe(ctx, remote.SubscribeOptions{
			Table:  table,
			Filter: query.OwnerFilter(e.owner),
		})
		if err != nil {
			e.logger.Error("subscribe failed", "table", table, "owner", e.owner, "error", err)
			ferr := &FetchError{Table: table, Err: err}
			if table == model.TableCategories {
				e.categories.st.lastErr = ferr
			} else {
				e.todos.st.lastErr = ferr
			}
			continue
		}
		subs = append(subs, sub)
		e.pumps.Add(1)
		go e.pump(table, sub)
	}
	e.publish()
	return subs
}

// pump forwards one subscription's events to the loop.
func (e *Engine) pump(table string, sub remote.Subscription) {
	defer e.pumps.Done()
	for rc := range sub.Events() {
		if rc.Table == "" {
			rc.Table = table
		}
		if !e.queue.Enqueue(task{name: "fold", run: func() { _ = e.foldRow(rc) }}) {
			return
		}
	}
	e.logger.Debug("subscription ended", "table", table)
}

// foldRow decodes rc and folds it into the matching collection.
func (e *Engine) foldRow(rc model.RowChange) error {
	var err error
	switch rc.Table {
	case model.TableTodos:
		err = foldRow(e, e.todos, rc, nil)
	case model.TableCategories:
		err = foldRow(e, e.categories, rc, e.afterCategoryFold)
	case model.TableTodoCategories:
		err = foldRow(e, e.assocs, rc, e.afterAssociationFold)
	default:
		err = fmt.Errorf("fold: unknown table %q", rc.Table)
		e.metrics.Discarded.WithLabelValues(rc.Table, reasonMalformed).Inc()
		e.logger.Warn("dropping change event", "table", rc.Table, "error", err)
	}
	e.publish()
	return err
}

func (e *Engine) afterCategoryFold(ch model.Change[model.Category]) {
	if ch.Kind == model.ChangeDelete {
		e.clearFilterFor(ch.Record.ID)
	}
}

func (e *Engine) afterAssociationFold(ch model.Change[model.Association]) {
	e.index.refresh(ch.Record.TodoID)
}

// clearFilterFor resets the filter if it selects the category id and
// reports whether it did.
func (e *Engine) clearFilterFor(id model.Identity) bool {
	if e.filter.Mode() == FilterCategory && id.IsConfirmed() && e.filter.CategoryID() == id.Value() {
		e.logger.Info("filtered category deleted, showing all todos", "id", id.String())
		e.filter = AllTodos()
		return true
	}
	return false
}

// restoreFilter puts back a filter cleared by a delete that was rolled
// back, unless the filter changed since or the category is gone.
func (e *Engine) restoreFilter(prev Filter) {
	if e.filter != AllTodos() || !e.categories.coll.Contains(model.Confirmed(prev.CategoryID())) {
		return
	}
	e.logger.Info("category delete rolled back, restoring filter", "filter", prev.String())
	e.filter = prev
}

// publish builds a new snapshot from loop state and notifies watchers.
// Called only from the loop.
func (e *Engine) publish() {
	e.version++
	todos := e.todos.coll.Records()
	views := make([]TodoView, len(todos))
	for i, t := range todos {
		views[i] = TodoView{Todo: t, Categories: e.index.categories(t.ID)}
	}
	s := &Snapshot{
		Version:          e.version,
		Todos:            views,
		Categories:       e.categories.coll.Records(),
		Associations:     e.assocs.coll.Records(),
		Filter:           e.filter,
		TodosStatus:      e.todos.st.snapshot(),
		CategoriesStatus: e.categories.st.snapshot(),
	}
	s.visible = e.filter.Apply(views)
	e.snap.Store(s)
	e.notify()
}

// Watch returns a channel signalled after every publish. Signals coalesce:
// a slow reader sees one pending signal, then reads the latest Snapshot.
// The channel is closed when the engine stops. Call cancel to stop watching.
func (e *Engine) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	e.watchMu.Lock()
	defer e.watchMu.Unlock()
	if e.watchEnd {
		close(ch)
		return ch, func() {}
	}
	e.watchers[ch] = struct{}{}
	return ch, func() {
		e.watchMu.Lock()
		delete(e.watchers, ch)
		e.watchMu.Unlock()
	}
}

func (e *Engine) notify() {
	e.watchMu.Lock()
	defer e.watchMu.Unlock()
	for ch := range e.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (e *Engine) closeWatchers() {
	e.watchMu.Lock()
	defer e.watchMu.Unlock()
	e.watchEnd = true
	for ch := range e.watchers {
		close(ch)
	}
	e.watchers = make(map[chan struct{}]struct{})
}
