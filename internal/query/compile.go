package query

import (
	"fmt"
	"sort"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/roach88/todosync/internal/model"
)

// Dialect selects the SQL placeholder style.
type Dialect int

const (
	// SQLite uses ? placeholders.
	SQLite Dialect = iota
	// Postgres uses $n placeholders.
	Postgres
)

// String returns the dialect name.
func (d Dialect) String() string {
	switch d {
	case SQLite:
		return "sqlite"
	case Postgres:
		return "postgres"
	default:
		return fmt.Sprintf("Dialect(%d)", int(d))
	}
}

// Compiler turns queries and row writes into parameterized SQL.
type Compiler struct {
	dialect Dialect
	sb      sq.StatementBuilderType
}

// NewCompiler creates a compiler for the dialect.
func NewCompiler(d Dialect) *Compiler {
	var format sq.PlaceholderFormat = sq.Question
	if d == Postgres {
		format = sq.Dollar
	}
	return &Compiler{
		dialect: d,
		sb:      sq.StatementBuilder.PlaceholderFormat(format),
	}
}

// Dialect returns the compiler's dialect.
func (c *Compiler) Dialect() Dialect { return c.dialect }

// Select compiles q. The ORDER BY always ends with the table's key columns.
func (c *Compiler) Select(q Select) (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	b := c.sb.Select(q.Columns...).From(q.From)
	if q.Filter != nil {
		b = b.Where(compilePredicate(q.Filter))
	}
	for _, o := range q.stableOrder() {
		if o.Desc {
			b = b.OrderBy(o.Column + " DESC")
		} else {
			b = b.OrderBy(o.Column + " ASC")
		}
	}
	return b.ToSql()
}

func compilePredicate(p Predicate) sq.Sqlizer {
	switch pred := p.(type) {
	case Equals:
		return sq.Eq{pred.Column: pred.Value}
	case And:
		conj := make(sq.And, 0, len(pred.Predicates))
		for _, sub := range pred.Predicates {
			conj = append(conj, compilePredicate(sub))
		}
		return conj
	default:
		// Validate rejects anything else before we get here.
		panic(fmt.Sprintf("unsupported predicate %T", p))
	}
}

// Insert compiles an insert of row into table, returning every column.
// Columns not belonging to the table are rejected.
func (c *Compiler) Insert(table string, row model.Row) (string, []any, error) {
	cols, err := Columns(table)
	if err != nil {
		return "", nil, err
	}
	names, err := rowColumns(table, cols, row)
	if err != nil {
		return "", nil, err
	}
	values := make([]any, len(names))
	for i, n := range names {
		values[i] = row[n]
	}
	return c.sb.Insert(table).
		Columns(names...).
		Values(values...).
		Suffix("RETURNING " + strings.Join(cols, ", ")).
		ToSql()
}

// Update compiles an owner-scoped update of one row by id, returning every
// column. Associations have no mutable columns and cannot be updated.
func (c *Compiler) Update(table, owner, id string, patch model.Row) (string, []any, error) {
	if table == model.TableTodoCategories {
		return "", nil, fmt.Errorf("table %s does not support update", table)
	}
	cols, err := Columns(table)
	if err != nil {
		return "", nil, err
	}
	if len(patch) == 0 {
		return "", nil, fmt.Errorf("update %s %s: empty patch", table, id)
	}
	names, err := rowColumns(table, cols, patch)
	if err != nil {
		return "", nil, err
	}
	b := c.sb.Update(table)
	for _, n := range names {
		if n == model.ColID || n == model.ColOwner {
			return "", nil, fmt.Errorf("update %s: column %s is immutable", table, n)
		}
		b = b.Set(n, patch[n])
	}
	return b.Where(sq.Eq{model.ColID: id, model.ColOwner: owner}).
		Suffix("RETURNING " + strings.Join(cols, ", ")).
		ToSql()
}

// Delete compiles an owner-scoped delete addressed by key, which must hold
// exactly the table's key columns.
func (c *Compiler) Delete(table, owner string, key model.Row) (string, []any, error) {
	if _, err := Columns(table); err != nil {
		return "", nil, err
	}
	where, err := keyPredicate(table, key)
	if err != nil {
		return "", nil, err
	}
	where[model.ColOwner] = owner
	return c.sb.Delete(table).Where(where).ToSql()
}

func keyPredicate(table string, key model.Row) (sq.Eq, error) {
	keys := KeyColumns(table)
	if len(key) != len(keys) {
		return nil, fmt.Errorf("delete %s: key must be %v", table, keys)
	}
	where := sq.Eq{}
	for _, k := range keys {
		v, err := key.String(k)
		if err != nil {
			return nil, fmt.Errorf("delete %s: %w", table, err)
		}
		where[k] = v
	}
	return where, nil
}

// rowColumns returns the row's column names in sorted order, rejecting
// unknown ones.
func rowColumns(table string, allowed []string, row model.Row) ([]string, error) {
	names := make([]string, 0, len(row))
	for n := range row {
		ok := false
		for _, a := range allowed {
			if a == n {
				ok = true
				break
			}
		}
		if !ok {
			return nil, fmt.Errorf("table %s has no column %q", table, n)
		}
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}
