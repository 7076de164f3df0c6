package backend

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryClient is an in-memory Client used for offline development and
// tests. It honors the same filter semantics as the HTTP client.
type MemoryClient struct {
	mu     sync.Mutex
	tables map[string][]Row

	// failAll, when set, makes every call return the error.
	failAll error
	// failTables overrides failAll per table.
	failTables map[string]error
}

// NewMemoryClient creates an empty MemoryClient.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		tables:     make(map[string][]Row),
		failTables: make(map[string]error),
	}
}

// Seed replaces a table's contents.
func (m *MemoryClient) Seed(table string, rows []Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := make([]Row, 0, len(rows))
	for _, r := range rows {
		copied = append(copied, copyRow(r))
	}
	m.tables[table] = copied
}

// FailWith makes every subsequent call fail with err. Pass nil to clear.
func (m *MemoryClient) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAll = err
}

// FailTable makes calls touching table fail with err. Pass nil to clear.
func (m *MemoryClient) FailTable(table string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failTables, table)
		return
	}
	m.failTables[table] = err
}

// Rows returns a copy of a table's contents, for assertions.
func (m *MemoryClient) Rows(table string) []Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Row, 0, len(m.tables[table]))
	for _, r := range m.tables[table] {
		out = append(out, copyRow(r))
	}
	return out
}

// Select returns matching rows.
func (m *MemoryClient) Select(ctx context.Context, q Query) ([]Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failureFor(q.Table); err != nil {
		return nil, err
	}

	var out []Row
	for _, row := range m.tables[q.Table] {
		if matches(row, q.Filters) {
			out = append(out, copyRow(row))
		}
	}

	if q.OrderBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			return compareValues(out[i][q.OrderBy], out[j][q.OrderBy]) < 0
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Insert appends a row.
func (m *MemoryClient) Insert(ctx context.Context, table string, row Row) (Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failureFor(table); err != nil {
		return nil, err
	}

	m.tables[table] = append(m.tables[table], copyRow(row))
	return copyRow(row), nil
}

// Update patches matching rows.
func (m *MemoryClient) Update(ctx context.Context, table string, filters []Filter, changes Row) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failureFor(table); err != nil {
		return 0, err
	}

	count := 0
	for _, row := range m.tables[table] {
		if matches(row, filters) {
			for k, v := range changes {
				row[k] = v
			}
			count++
		}
	}
	return count, nil
}

// Delete removes matching rows.
func (m *MemoryClient) Delete(ctx context.Context, table string, filters []Filter) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failureFor(table); err != nil {
		return err
	}

	kept := m.tables[table][:0]
	for _, row := range m.tables[table] {
		if !matches(row, filters) {
			kept = append(kept, row)
		}
	}
	m.tables[table] = kept
	return nil
}

func (m *MemoryClient) failureFor(table string) error {
	if err, ok := m.failTables[table]; ok {
		return err
	}
	return m.failAll
}

func matches(row Row, filters []Filter) bool {
	for _, f := range filters {
		switch f.Op {
		case OpEq:
			if fmt.Sprintf("%v", row[f.Column]) != fmt.Sprintf("%v", f.Value) {
				return false
			}
		case OpGt:
			if compareValues(row[f.Column], f.Value) <= 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func compareValues(a, b interface{}) int {
	af, aNum := toFloat(a)
	bf, bNum := toFloat(b)
	if aNum && bNum {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	}

	as := fmt.Sprintf("%v", a)
	bs := fmt.Sprintf("%v", b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	}
	return 0
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func copyRow(r Row) Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
