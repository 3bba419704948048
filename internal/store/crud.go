package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/roach88/todosync/internal/model"
	"github.com/roach88/todosync/internal/query"
	"github.com/roach88/todosync/internal/remote"
)

// Query implements remote.Client.
func (s *Store) Query(ctx context.Context, q query.Select) ([]model.Row, error) {
	if s.closed.Load() {
		return nil, remote.ErrClosed
	}
	stmt, args, err := s.compiler.Select(q)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.From, translateErr(err))
	}
	defer rows.Close()
	out, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.From, err)
	}
	return out, nil
}

// Insert implements remote.Client. Missing ids and timestamps are
// assigned by the store.
func (s *Store) Insert(ctx context.Context, table string, row model.Row) (model.Row, error) {
	if s.closed.Load() {
		return nil, remote.ErrClosed
	}
	if _, err := query.Columns(table); err != nil {
		return nil, err
	}
	owner, _ := row.String(model.ColOwner)
	if owner == "" {
		return nil, remote.ErrUnauthorized
	}
	stored := s.withDefaults(table, normalize(row.Clone()))

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", table, translateErr(err))
	}
	defer tx.Rollback()

	if table == model.TableTodoCategories {
		todoID, _ := stored.String(model.ColTodoID)
		categoryID, _ := stored.String(model.ColCategoryID)
		for _, ref := range []struct{ table, id string }{
			{model.TableTodos, todoID},
			{model.TableCategories, categoryID},
		} {
			ok, err := s.owned(ctx, tx, ref.table, ref.id, owner)
			if err != nil {
				return nil, fmt.Errorf("insert %s: %w", table, err)
			}
			if !ok {
				return nil, fmt.Errorf("insert %s: %s %s: %w", table, ref.table, ref.id, remote.ErrNotFound)
			}
		}
	}

	stmt, args, err := s.compiler.Insert(table, stored)
	if err != nil {
		return nil, err
	}
	out, err := queryOne(ctx, tx, stmt, args)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", table, err)
	}
	if out == nil {
		return nil, fmt.Errorf("insert %s: no row returned", table)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("insert %s: %w", table, translateErr(err))
	}

	s.publishLocal(model.RowChange{Table: table, Kind: model.ChangeInsert, Row: out.Clone()})
	return out, nil
}

// Update implements remote.Client.
func (s *Store) Update(ctx context.Context, table, owner, id string, patch model.Row) (model.Row, error) {
	if s.closed.Load() {
		return nil, remote.ErrClosed
	}
	if owner == "" {
		return nil, remote.ErrUnauthorized
	}
	stored := normalize(patch.Clone())
	if _, ok := stored[model.ColUpdatedAt]; !ok {
		stored[model.ColUpdatedAt] = s.now().UTC()
	}
	stmt, args, err := s.compiler.Update(table, owner, id, stored)
	if err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	out, err := queryOne(ctx, s.db, stmt, args)
	if err != nil {
		return nil, fmt.Errorf("update %s %s: %w", table, id, err)
	}
	if out == nil {
		return nil, fmt.Errorf("update %s %s: %w", table, id, remote.ErrNotFound)
	}

	s.publishLocal(model.RowChange{Table: table, Kind: model.ChangeUpdate, Row: out.Clone()})
	return out, nil
}

// Delete implements remote.Client. On SQLite the cascaded association
// deletes are collected before the parent row goes, so subscribers see
// them; on Postgres the row triggers announce them.
func (s *Store) Delete(ctx context.Context, table, owner string, key model.Row) error {
	if s.closed.Load() {
		return remote.ErrClosed
	}
	if owner == "" {
		return remote.ErrUnauthorized
	}
	stmt, args, err := s.compiler.Delete(table, owner, key)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete %s: %w", table, translateErr(err))
	}
	defer tx.Rollback()

	var cascaded []model.Row
	if s.dialect == query.SQLite && table != model.TableTodoCategories {
		cascaded, err = s.dependents(ctx, tx, table, owner, key)
		if err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}

	res, err := tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("delete %s: %w", table, translateErr(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete %s: %w", table, translateErr(err))
	}
	if n == 0 {
		return nil
	}

	changes := make([]model.RowChange, 0, len(cascaded)+1)
	for _, row := range cascaded {
		changes = append(changes, deleteChange(model.TableTodoCategories, owner, row))
	}
	changes = append(changes, deleteChange(table, owner, key))
	s.publishLocal(changes...)
	return nil
}

// Subscribe implements remote.Client.
func (s *Store) Subscribe(ctx context.Context, opts remote.SubscribeOptions) (remote.Subscription, error) {
	if s.closed.Load() {
		return nil, remote.ErrClosed
	}
	return s.hub.Subscribe(opts)
}

// publishLocal announces committed changes on SQLite. Postgres changes
// arrive through the listener instead.
func (s *Store) publishLocal(changes ...model.RowChange) {
	if s.dialect != query.SQLite {
		return
	}
	s.hub.Publish(changes...)
}

func (s *Store) withDefaults(table string, row model.Row) model.Row {
	now := s.now().UTC()
	if _, ok := row[model.ColCreatedAt]; !ok {
		row[model.ColCreatedAt] = now
	}
	if table == model.TableTodoCategories {
		return row
	}
	if _, ok := row[model.ColID]; !ok {
		row[model.ColID] = s.newID()
	}
	if _, ok := row[model.ColUpdatedAt]; !ok {
		row[model.ColUpdatedAt] = row[model.ColCreatedAt]
	}
	if table == model.TableTodos {
		if _, ok := row[model.ColIsComplete]; !ok {
			row[model.ColIsComplete] = false
		}
	}
	return row
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// owned reports whether table has a row id owned by owner.
func (s *Store) owned(ctx context.Context, q querier, table, id, owner string) (bool, error) {
	stmt, args, err := s.compiler.Select(query.Select{
		From:    table,
		Columns: []string{model.ColID},
		Filter: query.And{Predicates: []query.Predicate{
			query.Equals{Column: model.ColID, Value: id},
			query.Equals{Column: model.ColOwner, Value: owner},
		}},
	})
	if err != nil {
		return false, err
	}
	row, err := queryOne(ctx, q, stmt, args)
	return row != nil, err
}

// dependents returns the associations that deleting the addressed todo or
// category will cascade to.
func (s *Store) dependents(ctx context.Context, q querier, table, owner string, key model.Row) ([]model.Row, error) {
	id, err := key.String(model.ColID)
	if err != nil {
		return nil, err
	}
	col := model.ColTodoID
	if table == model.TableCategories {
		col = model.ColCategoryID
	}
	sel := query.ForOwner(model.TableTodoCategories, owner)
	sel.Filter = query.And{Predicates: []query.Predicate{
		sel.Filter,
		query.Equals{Column: col, Value: id},
	}}
	stmt, args, err := s.compiler.Select(sel)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()
	return scanRows(rows)
}

func deleteChange(table, owner string, key model.Row) model.RowChange {
	row := model.Row{model.ColOwner: owner}
	for _, k := range query.KeyColumns(table) {
		row[k] = key[k]
	}
	return model.RowChange{Table: table, Kind: model.ChangeDelete, Row: row}
}

// queryOne runs a statement returning at most one row. A nil row with a
// nil error means no row matched.
func queryOne(ctx context.Context, q querier, stmt string, args []any) (model.Row, error) {
	rows, err := q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()
	out, err := scanRows(rows)
	if err != nil {
		return nil, translateErr(err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func scanRows(rows *sql.Rows) ([]model.Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []model.Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(model.Row, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, normalize(row))
	}
	return out, rows.Err()
}

// normalize converts driver values to the model's column types: strings,
// bools and UTC time.Time.
func normalize(row model.Row) model.Row {
	for col, v := range row {
		if b, ok := v.([]byte); ok {
			row[col] = string(b)
		}
	}
	for _, col := range []string{model.ColCreatedAt, model.ColUpdatedAt} {
		if _, ok := row[col]; !ok {
			continue
		}
		if t, err := row.Time(col); err == nil {
			row[col] = t
		}
	}
	if _, ok := row[model.ColIsComplete]; ok {
		if b, err := row.Bool(model.ColIsComplete); err == nil {
			row[model.ColIsComplete] = b
		}
	}
	return row
}

// translateErr maps driver constraint errors to remote sentinels.
func translateErr(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.ExtendedCode {
		case sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique:
			return fmt.Errorf("%w: %v", remote.ErrConflict, err)
		case sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%w: %v", remote.ErrNotFound, err)
		}
	}
	var pe *pq.Error
	if errors.As(err, &pe) {
		switch pe.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %v", remote.ErrConflict, err)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: %v", remote.ErrNotFound, err)
		}
	}
	if errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %v", remote.ErrClosed, err)
	}
	return err
}
