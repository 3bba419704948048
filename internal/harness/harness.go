package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/roach88/todosync/internal/engine"
	"github.com/roach88/todosync/internal/model"
	"github.com/roach88/todosync/internal/remote"
	"github.com/roach88/todosync/internal/testutil"
)

// Timeouts of a scenario run.
const (
	// RunTimeout bounds a whole scenario.
	RunTimeout = 10 * time.Second
	// SettleTimeout bounds every retrying comparison.
	SettleTimeout = 2 * time.Second
)

// Harness executes one scenario against a fresh in-memory store.
//
// Remote ids come from a sequence (id1, id2, ...), pending tokens from
// another (tok-1, tok-2, ...), and both the engine and the store read one
// fake clock that advances a second per reading.
type Harness struct {
	scenario *Scenario
	store    *remote.MemoryStore
	engine   *engine.Engine
	clock    *testutil.FakeClock
	gates    *gates
	refs     map[string]*ref
	held     map[string]*heldStep
	// order lists held steps by the time they were issued.
	order  []string
	logger *slog.Logger
}

// ref is a named record of the flow.
type ref struct {
	id model.Identity
}

// heldStep is a request waiting on a release step.
type heldStep struct {
	gate *gate
	wait waitFunc
}

// waitFunc waits for an op and returns the identity of its result.
type waitFunc func(ctx context.Context) (model.Identity, error)

type identified interface {
	Identity() model.Identity
}

func waiter[T identified](op *engine.Op[T]) waitFunc {
	return func(ctx context.Context) (model.Identity, error) {
		rec, err := op.Wait(ctx)
		if err != nil {
			return model.Identity{}, err
		}
		return rec.Identity(), nil
	}
}

// Option configures a Harness.
type Option func(*Harness)

// WithLogger sets the engine logger. Runs are silent by default.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) { h.logger = l }
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory store for isolation.
//
// Execution flow:
//  1. Seed the store and load it into a new engine
//  2. Run the flow steps in order, recording one trace event per step
//  3. Release requests still held
//  4. Wait until the local state matches the store, then evaluate Final
//
// Returns an error only if the run could not be set up. Expectation
// failures are reported in Result.Errors.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), RunTimeout)
	defer cancel()

	owner := scenario.Owner
	if owner == "" {
		owner = DefaultOwner
	}
	clock := testutil.NewFakeClock(testutil.Epoch, time.Second)
	h := &Harness{
		scenario: scenario,
		clock:    clock,
		gates:    &gates{},
		refs:     make(map[string]*ref),
		held:     make(map[string]*heldStep),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.store = remote.NewMemoryStore(
		remote.WithIDGenerator(testutil.IDSequence("id")),
		remote.WithClock(clock.Now),
		remote.WithInterceptor(h.gates.intercept),
	)
	defer h.store.Close()

	if err := h.seed(owner); err != nil {
		return nil, fmt.Errorf("seed: %w", err)
	}

	result := NewResult()
	var violations []string
	eng, err := engine.New(h.store, owner,
		engine.WithLogger(h.logger),
		engine.WithTokens(engine.NewSequenceGenerator("tok")),
		engine.WithNow(clock.Now),
		engine.WithInvariantChecks(func(err error) {
			violations = append(violations, err.Error())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	h.engine = eng

	runCtx, stopRun := context.WithCancel(ctx)
	go func() { _ = eng.Run(runCtx) }()
	defer func() {
		stopRun()
		<-eng.Done()
	}()
	if err := h.awaitSubscriptions(ctx); err != nil {
		return nil, err
	}
	if err := eng.Load(ctx); err != nil {
		return nil, fmt.Errorf("initial load: %w", err)
	}

	for i, step := range scenario.Flow {
		id, err := h.do(ctx, step)
		result.AddTrace(step.Do, id, err)
		if msg := outcomeMismatch(step.Expect, err); msg != "" {
			result.AddError(fmt.Sprintf("flow[%d] %s: %s", i, step.Do, msg))
		}
	}

	for _, name := range h.order {
		hs, ok := h.held[name]
		if !ok {
			continue
		}
		delete(h.held, name)
		select {
		case <-hs.gate.taken:
			h.gates.open(hs.gate, "")
		default:
		}
		if _, err := hs.wait(ctx); err != nil {
			result.AddError(fmt.Sprintf("held step %s: %v", name, err))
		}
	}

	if err := h.converge(ctx); err != nil {
		result.AddError(err.Error())
	}
	result.Final = eng.Snapshot()
	if err := result.Final.Check(); err != nil {
		result.AddError(fmt.Sprintf("final state: %v", err))
	}
	if scenario.Final != nil {
		for _, msg := range compare(scenario.Final, result.Final) {
			result.AddError("final: " + msg)
		}
	}
	// The loop has exited once Done is closed, so violations is stable.
	stopRun()
	<-eng.Done()
	for _, v := range violations {
		result.AddError("invariant: " + v)
	}
	return result, nil
}

func (h *Harness) awaitSubscriptions(ctx context.Context) error {
	for h.store.Subscribers() < 3 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("subscriptions never opened: %w", ctx.Err())
		case <-time.After(time.Millisecond):
		}
	}
	return nil
}

func (h *Harness) seed(owner string) error {
	for _, td := range h.scenario.Seed.Todos {
		now := h.clock.Now()
		if err := h.store.Seed(model.TableTodos, model.Row{
			model.ColID:         td.ID,
			model.ColOwner:      owner,
			model.ColTitle:      td.Title,
			model.ColIsComplete: td.Done,
			model.ColCreatedAt:  now,
			model.ColUpdatedAt:  now,
		}); err != nil {
			return err
		}
	}
	for _, c := range h.scenario.Seed.Categories {
		now := h.clock.Now()
		if err := h.store.Seed(model.TableCategories, model.Row{
			model.ColID:        c.ID,
			model.ColOwner:     owner,
			model.ColTitle:     c.Title,
			model.ColCreatedAt: now,
			model.ColUpdatedAt: now,
		}); err != nil {
			return err
		}
	}
	for _, l := range h.scenario.Seed.Links {
		if err := h.store.Seed(model.TableTodoCategories, model.Row{
			model.ColOwner:      owner,
			model.ColTodoID:     l.Todo,
			model.ColCategoryID: l.Category,
			model.ColCreatedAt:  h.clock.Now(),
		}); err != nil {
			return err
		}
	}
	return nil
}

// do runs one step and returns the identity it produced or targeted.
func (h *Harness) do(ctx context.Context, step Step) (string, error) {
	switch step.Do {
	case "release":
		return h.release(ctx, step)
	case "filter.set":
		return "", h.setFilter(ctx, step)
	case "event":
		return "", h.event(ctx, step)
	case "load":
		return "", h.engine.Load(ctx)
	case "check":
		return "", h.check(ctx, step.Check)
	}

	req, _ := remoteRequest(step.Do)
	var gt *gate
	if step.Hold || step.Fail != "" {
		gt = h.gates.add(req, step.Hold, step.Fail)
	}
	target, wait, err := h.mutate(ctx, step)
	if err != nil {
		if gt != nil {
			h.gates.drop(gt)
		}
		return target.String(), err
	}
	h.name(step.As, target)

	if step.Hold {
		done := make(chan struct{})
		go func() {
			_, _ = wait(ctx)
			close(done)
		}()
		select {
		case <-gt.taken:
		case <-done:
			// resolved without a request
			h.gates.drop(gt)
		case <-ctx.Done():
			return target.String(), ctx.Err()
		}
		h.held[step.As] = &heldStep{gate: gt, wait: wait}
		h.order = append(h.order, step.As)
		return target.String(), nil
	}

	id, err := wait(ctx)
	if gt != nil {
		h.gates.drop(gt)
	}
	if err != nil {
		return target.String(), err
	}
	if id.IsConfirmed() {
		target = id
		h.name(step.As, id)
	}
	return target.String(), nil
}

func (h *Harness) release(ctx context.Context, step Step) (string, error) {
	name, _ := step.Args["step"].(string)
	hs, ok := h.held[name]
	if !ok {
		return "", fmt.Errorf("no held step %q", name)
	}
	delete(h.held, name)
	msg, _ := step.Args["fail"].(string)
	select {
	case <-hs.gate.taken:
		h.gates.open(hs.gate, msg)
	default:
		// the op resolved without sending a request
	}
	id, err := hs.wait(ctx)
	if err != nil {
		return h.refs[name].id.String(), err
	}
	if id.IsConfirmed() {
		h.name(name, id)
	}
	return h.refs[name].id.String(), nil
}

func (h *Harness) name(as string, id model.Identity) {
	if as == "" || id.IsZero() {
		return
	}
	h.refs[as] = &ref{id: id}
}

// mutate issues the engine call of a remote step.
func (h *Harness) mutate(ctx context.Context, step Step) (model.Identity, waitFunc, error) {
	todos, categories := h.engine.Todos(), h.engine.Categories()
	switch step.Do {
	case "todo.create":
		title, err := h.stringArg(step, "title")
		if err != nil {
			return model.Identity{}, nil, err
		}
		op, err := todos.Create(ctx, model.TodoFields{Title: title})
		if err != nil {
			return model.Identity{}, nil, err
		}
		return op.Record().ID, waiter(op), nil

	case "todo.edit", "todo.toggle", "todo.delete":
		id, err := h.identityArg(step, "todo")
		if err != nil {
			return model.Identity{}, nil, err
		}
		var op *engine.Op[model.Todo]
		switch step.Do {
		case "todo.edit":
			var title string
			if title, err = h.stringArg(step, "title"); err != nil {
				return id, nil, err
			}
			op, err = todos.Edit(ctx, id, title)
		case "todo.toggle":
			op, err = todos.Toggle(ctx, id)
		default:
			op, err = todos.Delete(ctx, id)
		}
		if err != nil {
			return id, nil, err
		}
		return id, waiter(op), nil

	case "todo.tag", "todo.untag":
		todoID, err := h.identityArg(step, "todo")
		if err != nil {
			return model.Identity{}, nil, err
		}
		categoryID, err := h.identityArg(step, "category")
		if err != nil {
			return model.Identity{}, nil, err
		}
		var op *engine.Op[model.Association]
		if step.Do == "todo.tag" {
			op, err = todos.Associate(ctx, todoID, categoryID)
		} else {
			op, err = todos.Disassociate(ctx, todoID, categoryID)
		}
		if err != nil {
			return model.Identity{}, nil, err
		}
		return op.Record().ID, waiter(op), nil

	case "category.create":
		title, err := h.stringArg(step, "title")
		if err != nil {
			return model.Identity{}, nil, err
		}
		op, err := categories.Create(ctx, model.CategoryFields{Title: title})
		if err != nil {
			return model.Identity{}, nil, err
		}
		return op.Record().ID, waiter(op), nil

	case "category.edit", "category.delete":
		id, err := h.identityArg(step, "category")
		if err != nil {
			return model.Identity{}, nil, err
		}
		var op *engine.Op[model.Category]
		if step.Do == "category.edit" {
			var title string
			if title, err = h.stringArg(step, "title"); err != nil {
				return id, nil, err
			}
			op, err = categories.Edit(ctx, id, title)
		} else {
			op, err = categories.Delete(ctx, id)
		}
		if err != nil {
			return id, nil, err
		}
		return id, waiter(op), nil
	}
	return model.Identity{}, nil, fmt.Errorf("unknown action %q", step.Do)
}

func (h *Harness) setFilter(ctx context.Context, step Step) error {
	raw, _ := step.Args["filter"].(string)
	switch raw {
	case "", "all":
		return h.engine.SetFilter(ctx, engine.AllTodos())
	case engine.UncategorizedSentinel:
		return h.engine.SetFilter(ctx, engine.Uncategorized())
	}
	id, err := h.identityArg(step, "filter")
	if err != nil {
		return err
	}
	return h.engine.SetFilter(ctx, engine.InCategory(id.Value()))
}

func (h *Harness) event(ctx context.Context, step Step) error {
	table, _ := step.Args["table"].(string)
	kind, err := model.ParseChangeKind(fmt.Sprint(step.Args["type"]))
	if err != nil {
		return err
	}
	record, _ := step.Args["record"].(map[string]any)
	row := make(model.Row, len(record)+3)
	for k, v := range record {
		row[k] = h.resolve(v)
	}
	if kind != model.ChangeDelete {
		if _, ok := row[model.ColOwner]; !ok {
			row[model.ColOwner] = h.engine.Owner()
		}
		if _, ok := row[model.ColCreatedAt]; !ok {
			row[model.ColCreatedAt] = h.clock.Now()
		}
	}
	return h.engine.Apply(ctx, model.RowChange{Table: table, Kind: kind, Row: row})
}

// resolve replaces "@name" strings with the current id of the named record.
func (h *Harness) resolve(v any) any {
	s, ok := v.(string)
	if !ok || !strings.HasPrefix(s, "@") {
		return v
	}
	if r, ok := h.refs[s[1:]]; ok {
		if r.id.IsConfirmed() {
			return r.id.Value()
		}
		return r.id.String()
	}
	return s
}

func (h *Harness) stringArg(step Step, key string) (string, error) {
	v, ok := step.Args[key]
	if !ok {
		return "", fmt.Errorf("%s: missing argument %s", step.Do, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s: argument %s must be a string, got %T", step.Do, key, v)
	}
	return s, nil
}

func (h *Harness) identityArg(step Step, key string) (model.Identity, error) {
	s, err := h.stringArg(step, key)
	if err != nil {
		return model.Identity{}, err
	}
	if name, ok := strings.CutPrefix(s, "@"); ok {
		r, ok := h.refs[name]
		if !ok {
			return model.Identity{}, fmt.Errorf("%s: %s names no record", step.Do, s)
		}
		return r.id, nil
	}
	return model.ParseIdentity(s)
}

// check compares c with the engine state until it matches or SettleTimeout
// passes.
func (h *Harness) check(ctx context.Context, c *Check) error {
	var diffs []string
	deadline := time.Now().Add(SettleTimeout)
	for {
		if err := h.engine.Sync(ctx); err != nil {
			return err
		}
		if diffs = compare(c, h.engine.Snapshot()); len(diffs) == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.New(strings.Join(diffs, "; "))
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// converge waits until the local state equals the store contents.
func (h *Harness) converge(ctx context.Context) error {
	deadline := time.Now().Add(SettleTimeout)
	for {
		if err := h.engine.Sync(ctx); err != nil {
			return err
		}
		want, err := storeState(h.store)
		if err != nil {
			return err
		}
		got := localState(h.engine.Snapshot())
		if slices.Equal(got, want) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("local state never converged with the store\nlocal:  %v\nremote: %v", got, want)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// outcomeMismatch describes how err differs from the expected outcome.
func outcomeMismatch(expect *Expect, err error) string {
	want := ""
	if expect != nil {
		want = expect.Error
	}
	switch {
	case want == "" && err != nil:
		return fmt.Sprintf("unexpected error: %v", err)
	case want != "" && err == nil:
		return fmt.Sprintf("expected error containing %q, got success", want)
	case want != "" && !strings.Contains(err.Error(), want):
		return fmt.Sprintf("expected error containing %q, got %v", want, err)
	}
	return ""
}

func storeState(store *remote.MemoryStore) ([]string, error) {
	var out []string
	for _, row := range store.Rows(model.TableTodos) {
		td, err := model.TodoFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, fmt.Sprintf("todo %s %q %t", td.ID, td.Title, td.IsComplete))
	}
	for _, row := range store.Rows(model.TableCategories) {
		c, err := model.CategoryFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, fmt.Sprintf("category %s %q", c.ID, c.Title))
	}
	for _, row := range store.Rows(model.TableTodoCategories) {
		a, err := model.AssociationFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, "link "+a.Key())
	}
	slices.Sort(out)
	return out, nil
}

func localState(s *engine.Snapshot) []string {
	var out []string
	for _, td := range s.Todos {
		out = append(out, fmt.Sprintf("todo %s %q %t", td.ID, td.Title, td.IsComplete))
	}
	for _, c := range s.Categories {
		out = append(out, fmt.Sprintf("category %s %q", c.ID, c.Title))
	}
	for _, a := range s.Associations {
		out = append(out, "link "+a.Key())
	}
	slices.Sort(out)
	return out
}
