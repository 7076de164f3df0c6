// Package backend provides the table-style client for the hosted data
// backend. The sync engine treats rows as opaque dictionaries keyed by the
// backend's documented field names; only the handful of filters the app
// needs (eq, gt) are modeled.
package backend

import (
	"context"
	"time"
)

// Row is one backend record. Values arrive JSON-decoded, so numbers are
// float64 and nested objects are maps.
type Row map[string]interface{}

// String returns the named field as a string, or "" when absent.
func (r Row) String(key string) string {
	s, _ := r[key].(string)
	return s
}

// Int returns the named field as an int, or 0 when absent.
func (r Row) Int(key string) int {
	switch v := r[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return 0
}

// Bool returns the named field as a bool, or false when absent.
func (r Row) Bool(key string) bool {
	b, _ := r[key].(bool)
	return b
}

// Strings returns the named field as a string list, or nil when absent.
func (r Row) Strings(key string) []string {
	raw, ok := r[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// FilterOp is a filter predicate operator.
type FilterOp string

const (
	OpEq FilterOp = "eq"
	OpGt FilterOp = "gt"
)

// Filter restricts a query to rows matching column <op> value.
type Filter struct {
	Column string
	Op     FilterOp
	Value  interface{}
}

// Eq builds an equality filter.
func Eq(column string, value interface{}) Filter {
	return Filter{Column: column, Op: OpEq, Value: value}
}

// Gt builds a greater-than filter.
func Gt(column string, value interface{}) Filter {
	return Filter{Column: column, Op: OpGt, Value: value}
}

// Query describes a Select call.
type Query struct {
	Table   string
	Filters []Filter
	// OrderBy column; ascending. Empty means backend default order.
	OrderBy string
	Limit   int
	// Timeout overrides the client default for this call. Interactive read
	// paths use a short timeout so a dead network cannot stall the UI.
	Timeout time.Duration
}

// Client is the table-style read/write surface the sync engine consumes.
// Implementations must return errors carrying the error codes from the
// errors package so callers can classify failures for retry.
type Client interface {
	// Select returns matching rows.
	Select(ctx context.Context, q Query) ([]Row, error)

	// Insert creates a row and returns the created representation.
	Insert(ctx context.Context, table string, row Row) (Row, error)

	// Update patches all rows matching the filters and returns how many
	// rows changed.
	Update(ctx context.Context, table string, filters []Filter, changes Row) (int, error)

	// Delete removes all rows matching the filters.
	Delete(ctx context.Context, table string, filters []Filter) error
}
