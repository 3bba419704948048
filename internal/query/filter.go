package query

import (
	"fmt"
	"strings"
)

// ParseFilter parses a change-stream filter in PostgREST form, such as
// "user_id=eq.u1". Several conditions may be joined with "&". An empty
// string yields a nil predicate (no filter).
func ParseFilter(s string) (Predicate, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, "&")
	preds := make([]Predicate, 0, len(parts))
	for _, part := range parts {
		col, rest, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("filter %q: expected column=op.value", part)
		}
		op, value, ok := strings.Cut(rest, ".")
		if !ok {
			return nil, fmt.Errorf("filter %q: expected op.value", part)
		}
		if op != "eq" {
			return nil, fmt.Errorf("filter %q: unsupported operator %q", part, op)
		}
		if !validIdentifier.MatchString(col) {
			return nil, fmt.Errorf("filter %q: invalid column", part)
		}
		preds = append(preds, Equals{Column: col, Value: value})
	}
	if len(preds) == 1 {
		return preds[0], nil
	}
	return And{Predicates: preds}, nil
}

// OwnerFilter returns the change-stream filter restricting rows to owner.
func OwnerFilter(owner string) string {
	return "user_id=eq." + owner
}

// FormatFilter renders p in the form ParseFilter accepts. Values are
// rendered with fmt, so non-string values come back as strings.
func FormatFilter(p Predicate) string {
	switch pred := p.(type) {
	case nil:
		return ""
	case Equals:
		return fmt.Sprintf("%s=eq.%v", pred.Column, pred.Value)
	case And:
		parts := make([]string, 0, len(pred.Predicates))
		for _, sub := range pred.Predicates {
			if s := FormatFilter(sub); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "&")
	default:
		return ""
	}
}
