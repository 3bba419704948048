package remote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/todosync/internal/model"
	"github.com/roach88/todosync/internal/query"
)

func init() {
	Register("memory", func(ctx context.Context, dsn string) (Client, error) {
		return NewMemoryStore(), nil
	})
}

// MemoryStore is an in-process Client. It enforces the same keys, owner
// scoping and cascades as the SQL stores and publishes every committed
// write to its subscribers.
//
// Tests drive interleavings with an Interceptor, which can hold or fail
// individual requests, and with Emit, which injects change events that did
// not originate from a write.
type MemoryStore struct {
	mu        sync.Mutex
	tables    map[string]map[string]model.Row // table -> key -> row
	order     map[string][]string             // insertion order, for stable scans
	hub       *Hub
	newID     func() string
	now       func() time.Time
	intercept Interceptor
	closed    bool
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithIDGenerator sets the id generator for inserted todos and categories.
func WithIDGenerator(fn func() string) MemoryOption {
	return func(m *MemoryStore) { m.newID = fn }
}

// WithClock sets the clock used for server-assigned timestamps.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) { m.now = now }
}

// WithInterceptor installs an interceptor at construction.
func WithInterceptor(fn Interceptor) MemoryOption {
	return func(m *MemoryStore) { m.intercept = fn }
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		tables: map[string]map[string]model.Row{
			model.TableTodos:          {},
			model.TableCategories:     {},
			model.TableTodoCategories: {},
		},
		order: map[string][]string{},
		hub:   NewHub(),
		newID: func() string { return uuid.Must(uuid.NewV7()).String() },
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Intercept replaces the interceptor. Nil removes it.
func (m *MemoryStore) Intercept(fn Interceptor) {
	m.mu.Lock()
	m.intercept = fn
	m.mu.Unlock()
}

// Seed stores rows without publishing changes. Todo and category rows must
// carry their id.
func (m *MemoryStore) Seed(table string, rows ...model.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range rows {
		key, err := rowKey(table, row)
		if err != nil {
			return fmt.Errorf("seed %s: %w", table, err)
		}
		m.put(table, key, normalizeRow(row))
	}
	return nil
}

// Emit publishes changes as if another client had committed them. The
// store's tables are not modified.
func (m *MemoryStore) Emit(changes ...model.RowChange) {
	m.hub.Publish(changes...)
}

// Rows returns a copy of every row in table, in insertion order.
func (m *MemoryStore) Rows(table string) []model.Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Row
	for _, key := range m.order[table] {
		if row, ok := m.tables[table][key]; ok {
			out = append(out, row.Clone())
		}
	}
	return out
}

// Subscribers returns the number of open subscriptions.
func (m *MemoryStore) Subscribers() int { return m.hub.Subscribers() }

func (m *MemoryStore) before(ctx context.Context, req Request) error {
	m.mu.Lock()
	closed, fn := m.closed, m.intercept
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if req.Op != OpQuery && req.Owner == "" {
		return ErrUnauthorized
	}
	if fn != nil {
		if err := fn(ctx, req); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// Query implements Client.
func (m *MemoryStore) Query(ctx context.Context, q query.Select) ([]model.Row, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if err := m.before(ctx, Request{Op: OpQuery, Table: q.From}); err != nil {
		return nil, err
	}

	m.mu.Lock()
	var rows []model.Row
	for _, key := range m.order[q.From] {
		row, ok := m.tables[q.From][key]
		if ok && q.Matches(row) {
			rows = append(rows, project(row, q.Columns))
		}
	}
	m.mu.Unlock()

	q.SortRows(rows)
	return rows, nil
}

// Insert implements Client.
func (m *MemoryStore) Insert(ctx context.Context, table string, row model.Row) (model.Row, error) {
	if _, err := query.Columns(table); err != nil {
		return nil, err
	}
	owner, _ := row.String(model.ColOwner)
	if err := m.before(ctx, Request{Op: OpInsert, Table: table, Owner: owner, Row: row.Clone()}); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	stored := normalizeRow(row)
	now := m.now().UTC()
	if _, ok := stored[model.ColCreatedAt]; !ok {
		stored[model.ColCreatedAt] = now
	}

	switch table {
	case model.TableTodoCategories:
		todoID, categoryID, err := pairOf(stored)
		if err != nil {
			m.mu.Unlock()
			return nil, err
		}
		if !m.ownedLocked(model.TableTodos, todoID, owner) || !m.ownedLocked(model.TableCategories, categoryID, owner) {
			m.mu.Unlock()
			return nil, fmt.Errorf("insert %s %s: referenced row: %w", table, model.AssociationKey(todoID, categoryID), ErrNotFound)
		}
		key := model.AssociationKey(todoID, categoryID)
		if _, exists := m.tables[table][key]; exists {
			m.mu.Unlock()
			return nil, fmt.Errorf("insert %s %s: %w", table, key, ErrConflict)
		}
		m.put(table, key, stored)
	default:
		if _, ok := stored[model.ColID]; !ok {
			stored[model.ColID] = m.newID()
		}
		if _, ok := stored[model.ColUpdatedAt]; !ok {
			stored[model.ColUpdatedAt] = stored[model.ColCreatedAt]
		}
		if table == model.TableTodos {
			if _, ok := stored[model.ColIsComplete]; !ok {
				stored[model.ColIsComplete] = false
			}
		}
		id, _ := stored.String(model.ColID)
		if _, exists := m.tables[table][id]; exists {
			m.mu.Unlock()
			return nil, fmt.Errorf("insert %s %s: %w", table, id, ErrConflict)
		}
		m.put(table, id, stored)
	}
	out := stored.Clone()
	m.hub.Publish(model.RowChange{Table: table, Kind: model.ChangeInsert, Row: stored.Clone()})
	m.mu.Unlock()
	return out, nil
}

// Update implements Client.
func (m *MemoryStore) Update(ctx context.Context, table, owner, id string, patch model.Row) (model.Row, error) {
	if table == model.TableTodoCategories {
		return nil, fmt.Errorf("table %s does not support update", table)
	}
	cols, err := query.Columns(table)
	if err != nil {
		return nil, err
	}
	for col := range patch {
		if col == model.ColID || col == model.ColOwner || !contains(cols, col) {
			return nil, fmt.Errorf("update %s: column %q not writable", table, col)
		}
	}
	if err := m.before(ctx, Request{Op: OpUpdate, Table: table, Owner: owner, ID: id, Row: patch.Clone()}); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if !m.ownedLocked(table, id, owner) {
		m.mu.Unlock()
		return nil, fmt.Errorf("update %s %s: %w", table, id, ErrNotFound)
	}
	stored := m.tables[table][id].Clone()
	for col, v := range normalizeRow(patch) {
		stored[col] = v
	}
	if _, ok := patch[model.ColUpdatedAt]; !ok {
		stored[model.ColUpdatedAt] = m.now().UTC()
	}
	m.tables[table][id] = stored
	out := stored.Clone()
	m.hub.Publish(model.RowChange{Table: table, Kind: model.ChangeUpdate, Row: stored.Clone()})
	m.mu.Unlock()
	return out, nil
}

// Delete implements Client.
func (m *MemoryStore) Delete(ctx context.Context, table, owner string, key model.Row) error {
	k, err := rowKey(table, key)
	if err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	if err := m.before(ctx, Request{Op: OpDelete, Table: table, Owner: owner, ID: k, Row: key.Clone()}); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if !m.ownedLocked(table, k, owner) {
		return nil
	}

	var changes []model.RowChange
	switch table {
	case model.TableTodos, model.TableCategories:
		col := model.ColTodoID
		if table == model.TableCategories {
			col = model.ColCategoryID
		}
		for _, ak := range m.order[model.TableTodoCategories] {
			assoc, ok := m.tables[model.TableTodoCategories][ak]
			if !ok || assoc[col] != k {
				continue
			}
			m.drop(model.TableTodoCategories, ak)
			changes = append(changes, deleteChange(model.TableTodoCategories, assoc))
		}
	}
	row := m.tables[table][k]
	m.drop(table, k)
	changes = append(changes, deleteChange(table, row))
	m.hub.Publish(changes...)
	return nil
}

// Subscribe implements Client.
func (m *MemoryStore) Subscribe(ctx context.Context, opts SubscribeOptions) (Subscription, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	return m.hub.Subscribe(opts)
}

// Close implements Client. Open subscriptions are closed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()
	m.hub.Close()
	return nil
}

func (m *MemoryStore) put(table, key string, row model.Row) {
	if _, exists := m.tables[table][key]; !exists {
		m.order[table] = append(m.order[table], key)
	}
	m.tables[table][key] = row
}

func (m *MemoryStore) drop(table, key string) {
	delete(m.tables[table], key)
	keys := m.order[table]
	for i, k := range keys {
		if k == key {
			m.order[table] = append(keys[:i:i], keys[i+1:]...)
			break
		}
	}
}

func (m *MemoryStore) ownedLocked(table, key, owner string) bool {
	row, ok := m.tables[table][key]
	return ok && row[model.ColOwner] == owner
}

// deleteChange carries the key columns and owner of a deleted row, which
// is what owner-filtered subscriptions need to route it.
func deleteChange(table string, row model.Row) model.RowChange {
	out := model.Row{model.ColOwner: row[model.ColOwner]}
	for _, k := range query.KeyColumns(table) {
		out[k] = row[k]
	}
	return model.RowChange{Table: table, Kind: model.ChangeDelete, Row: out}
}

func rowKey(table string, row model.Row) (string, error) {
	if _, err := query.Columns(table); err != nil {
		return "", err
	}
	if table == model.TableTodoCategories {
		todoID, categoryID, err := pairOf(row)
		if err != nil {
			return "", err
		}
		return model.AssociationKey(todoID, categoryID), nil
	}
	return row.String(model.ColID)
}

func pairOf(row model.Row) (string, string, error) {
	todoID, err := row.String(model.ColTodoID)
	if err != nil {
		return "", "", err
	}
	categoryID, err := row.String(model.ColCategoryID)
	if err != nil {
		return "", "", err
	}
	return todoID, categoryID, nil
}

// normalizeRow clones row, converting timestamps to UTC time.Time.
func normalizeRow(row model.Row) model.Row {
	out := row.Clone()
	for _, col := range []string{model.ColCreatedAt, model.ColUpdatedAt} {
		if _, ok := out[col]; !ok {
			continue
		}
		if t, err := out.Time(col); err == nil {
			out[col] = t
		}
	}
	return out
}

func project(row model.Row, cols []string) model.Row {
	out := make(model.Row, len(cols))
	for _, c := range cols {
		if v, ok := row[c]; ok {
			out[c] = v
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
