package query

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/roach88/todosync/internal/model"
)

// validIdentifier matches safe SQL identifiers (table and column names).
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Predicate is a filter condition. Sealed: only Equals and And implement it.
type Predicate interface {
	predicateNode()
	// Matches evaluates the predicate against a row in memory.
	Matches(row model.Row) bool
}

// Equals matches rows whose Column equals Value.
// Value must be a string, bool or int64.
type Equals struct {
	Column string
	Value  any
}

func (Equals) predicateNode() {}

// Matches implements Predicate.
func (e Equals) Matches(row model.Row) bool {
	return valuesEqual(row[e.Column], e.Value)
}

// And matches rows satisfying every predicate.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Matches implements Predicate.
func (a And) Matches(row model.Row) bool {
	for _, p := range a.Predicates {
		if !p.Matches(row) {
			return false
		}
	}
	return true
}

// Order is one ORDER BY term.
type Order struct {
	Column string
	Desc   bool
}

// Select reads rows from one table.
type Select struct {
	From    string
	Filter  Predicate // nil = all rows
	Columns []string
	OrderBy []Order
}

// columns per table, in a fixed order.
var tableColumns = map[string][]string{
	model.TableTodos: {
		model.ColID, model.ColOwner, model.ColTitle, model.ColIsComplete,
		model.ColCreatedAt, model.ColUpdatedAt,
	},
	model.TableCategories: {
		model.ColID, model.ColOwner, model.ColTitle,
		model.ColCreatedAt, model.ColUpdatedAt,
	},
	model.TableTodoCategories: {
		model.ColTodoID, model.ColCategoryID, model.ColOwner, model.ColCreatedAt,
	},
}

// Columns returns the column list of a known table.
func Columns(table string) ([]string, error) {
	cols, ok := tableColumns[table]
	if !ok {
		return nil, fmt.Errorf("unknown table %q", table)
	}
	return append([]string(nil), cols...), nil
}

// KeyColumns returns the columns that address one row of table.
func KeyColumns(table string) []string {
	if table == model.TableTodoCategories {
		return []string{model.ColTodoID, model.ColCategoryID}
	}
	return []string{model.ColID}
}

// ForOwner returns the query fetching every row of table owned by owner,
// newest first.
func ForOwner(table, owner string) Select {
	cols, _ := Columns(table)
	return Select{
		From:    table,
		Filter:  Equals{Column: model.ColOwner, Value: owner},
		Columns: cols,
		OrderBy: []Order{{Column: model.ColCreatedAt, Desc: true}},
	}
}

// Validate checks identifiers and value types.
func (q Select) Validate() error {
	if _, ok := tableColumns[q.From]; !ok {
		return fmt.Errorf("unknown table %q", q.From)
	}
	if len(q.Columns) == 0 {
		return fmt.Errorf("select from %s: explicit columns required", q.From)
	}
	for _, c := range q.Columns {
		if !validIdentifier.MatchString(c) {
			return fmt.Errorf("invalid column %q", c)
		}
	}
	for _, o := range q.OrderBy {
		if !validIdentifier.MatchString(o.Column) {
			return fmt.Errorf("invalid order column %q", o.Column)
		}
	}
	if q.Filter != nil {
		return validatePredicate(q.Filter)
	}
	return nil
}

func validatePredicate(p Predicate) error {
	switch pred := p.(type) {
	case Equals:
		if !validIdentifier.MatchString(pred.Column) {
			return fmt.Errorf("invalid filter column %q", pred.Column)
		}
		switch pred.Value.(type) {
		case string, bool, int64:
			return nil
		default:
			return fmt.Errorf("filter %s: unsupported value type %T", pred.Column, pred.Value)
		}
	case And:
		for _, sub := range pred.Predicates {
			if err := validatePredicate(sub); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported predicate %T", p)
	}
}

// Matches reports whether row passes the filter.
func (q Select) Matches(row model.Row) bool {
	return q.Filter == nil || q.Filter.Matches(row)
}

// SortRows orders rows by q.OrderBy with the key columns as final
// tiebreakers, matching the compiled SQL.
func (q Select) SortRows(rows []model.Row) {
	order := q.stableOrder()
	sort.SliceStable(rows, func(i, j int) bool {
		for _, o := range order {
			c := compareValues(rows[i][o.Column], rows[j][o.Column])
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// stableOrder appends key columns not already ordered on.
func (q Select) stableOrder() []Order {
	order := append([]Order(nil), q.OrderBy...)
	for _, k := range KeyColumns(q.From) {
		seen := false
		for _, o := range order {
			if o.Column == k {
				seen = true
				break
			}
		}
		if !seen {
			order = append(order, Order{Column: k})
		}
	}
	return order
}

func valuesEqual(a, b any) bool {
	return compareValues(a, b) == 0 && a != nil && b != nil
}

// compareValues orders two column values of the same kind. Timestamps may
// be time.Time or RFC 3339 strings.
func compareValues(a, b any) int {
	switch av := a.(type) {
	case time.Time:
		if bt, ok := asTime(b); ok {
			return av.Compare(bt)
		}
	case string:
		if bs, ok := b.(string); ok {
			return strings.Compare(av, bs)
		}
		if bt, ok := b.(time.Time); ok {
			if at, ok := asTime(av); ok {
				return at.Compare(bt)
			}
		}
	case bool:
		if bb, ok := b.(bool); ok {
			switch {
			case av == bb:
				return 0
			case !av:
				return -1
			default:
				return 1
			}
		}
	case int64:
		if bi, ok := b.(int64); ok {
			switch {
			case av < bi:
				return -1
			case av > bi:
				return 1
			default:
				return 0
			}
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := model.Row{"t": t}.Time("t")
		return parsed, err == nil
	}
	return time.Time{}, false
}
