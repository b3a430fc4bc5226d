// Package table is an in-memory columnar table engine that evaluates every
// verb of the query model.
//
// Tables are immutable. Filter and orderby produce index views over the
// same column storage; Reify materializes a view into fresh columns.
package table

import (
	"fmt"
	"slices"

	"github.com/leapstack-labs/leapframe/pkg/expr"
	"github.com/leapstack-labs/leapframe/pkg/query"
)

// Table is an immutable columnar table.
type Table struct {
	names []string
	data  map[string][]any
	nrows int

	// view is the ordered list of visible physical rows; nil means every
	// row in physical order.
	view []int

	groups *grouping
	order  *ordering
	params query.Object
	rng    *Random
}

var (
	_ query.Table = (*Table)(nil)
	_ expr.Source = (*Table)(nil)
)

// grouping assigns every physical row to a group.
type grouping struct {
	names []string
	// ids holds the group id per physical row.
	ids []int
	// keys holds the key values per group.
	keys [][]any
}

func (g *grouping) size() int { return len(g.keys) }

// ordering records the sort key values per physical row so window
// functions can find peers.
type ordering struct {
	values [][]any
	desc   []bool
}

func (o *ordering) peers(a, b int) bool {
	for _, col := range o.values {
		if !expr.Equal(col[a], col[b]) {
			return false
		}
	}
	return true
}

// New builds a table from named columns. Columns must have equal lengths.
// Values are normalized to float64, string, bool, nil, []any and
// map[string]any.
func New(names []string, columns [][]any) (*Table, error) {
	if len(names) != len(columns) {
		return nil, fmt.Errorf("got %d column names for %d columns", len(names), len(columns))
	}
	t := &Table{names: make([]string, 0, len(names)), data: make(map[string][]any, len(names))}
	for i, name := range names {
		if _, dup := t.data[name]; dup {
			return nil, fmt.Errorf("duplicate column %q", name)
		}
		if i > 0 && len(columns[i]) != t.nrows {
			return nil, fmt.Errorf("column %q has %d rows, expected %d", name, len(columns[i]), t.nrows)
		}
		t.nrows = len(columns[i])
		col := make([]any, len(columns[i]))
		for r, v := range columns[i] {
			col[r] = normalizeValue(v)
		}
		t.names = append(t.names, name)
		t.data[name] = col
	}
	return t, nil
}

// Empty returns a table with no columns and no rows.
func Empty() *Table {
	return &Table{data: map[string][]any{}}
}

// FromColumns builds a table from an ordered column mapping.
func FromColumns(cols query.Object) (*Table, error) {
	names := make([]string, len(cols))
	columns := make([][]any, len(cols))
	for i, e := range cols {
		names[i] = e.Key
		list, ok := e.Value.([]any)
		if !ok {
			return nil, fmt.Errorf("column %q must be a list, got %T", e.Key, e.Value)
		}
		columns[i] = list
	}
	return New(names, columns)
}

// FromRows builds a table from row objects. Column order follows first
// appearance; rows missing a column get nil.
func FromRows(rows []any) (*Table, error) {
	var names []string
	index := map[string]int{}
	var columns [][]any
	for r, item := range rows {
		obj, ok := item.(query.Object)
		if !ok {
			if m, isMap := item.(map[string]any); isMap {
				obj = query.ObjectFromMap(m)
			} else {
				return nil, fmt.Errorf("row %d must be an object, got %T", r, item)
			}
		}
		for _, e := range obj {
			c, seen := index[e.Key]
			if !seen {
				c = len(names)
				index[e.Key] = c
				names = append(names, e.Key)
				columns = append(columns, make([]any, r, len(rows)))
			}
			for len(columns[c]) < r {
				columns[c] = append(columns[c], nil)
			}
			columns[c] = append(columns[c], e.Value)
		}
		for c := range columns {
			if len(columns[c]) < r+1 {
				columns[c] = append(columns[c], nil)
			}
		}
	}
	return New(names, columns)
}

// FromJSON parses a column-oriented JSON document ({"col": [...]}) or a
// JSON array of row objects.
func FromJSON(data []byte) (*Table, error) {
	v, err := query.DecodeJSON(data)
	if err != nil {
		return nil, fmt.Errorf("decode table json: %w", err)
	}
	switch x := v.(type) {
	case query.Object:
		return FromColumns(x)
	case []any:
		return FromRows(x)
	default:
		return nil, fmt.Errorf("table json must be an object or array, got %T", v)
	}
}

// ColumnNames returns the column names in order.
func (t *Table) ColumnNames() []string {
	return slices.Clone(t.names)
}

// Column returns the physical values of a column.
func (t *Table) Column(name string) ([]any, bool) {
	col, ok := t.data[name]
	return col, ok
}

// NumRows returns the number of visible rows.
func (t *Table) NumRows() int {
	if t.view != nil {
		return len(t.view)
	}
	return t.nrows
}

// NumCols returns the number of columns.
func (t *Table) NumCols() int { return len(t.names) }

// IsGrouped reports whether the table is grouped.
func (t *Table) IsGrouped() bool { return t.groups != nil }

// GroupNames returns the grouping key names.
func (t *Table) GroupNames() []string {
	if t.groups == nil {
		return nil
	}
	return slices.Clone(t.groups.names)
}

// IsOrdered reports whether the table carries a sort order.
func (t *Table) IsOrdered() bool { return t.order != nil }

// Values returns the visible values of a column in view order.
func (t *Table) Values(name string) ([]any, bool) {
	col, ok := t.data[name]
	if !ok {
		return nil, false
	}
	out := make([]any, t.NumRows())
	for i, r := range t.rows() {
		out[i] = col[r]
	}
	return out, true
}

// Columns returns the visible data as an ordered column mapping.
func (t *Table) Columns() query.Object {
	out := make(query.Object, len(t.names))
	for i, name := range t.names {
		vals, _ := t.Values(name)
		out[i] = query.Entry{Key: name, Value: vals}
	}
	return out
}

// Rows returns the visible rows as objects.
func (t *Table) Rows() []query.Object {
	out := make([]query.Object, t.NumRows())
	for i, r := range t.rows() {
		row := make(query.Object, len(t.names))
		for c, name := range t.names {
			row[c] = query.Entry{Key: name, Value: t.data[name][r]}
		}
		out[i] = row
	}
	return out
}

// WithRandom returns a table whose sample verb draws from rng.
func (t *Table) WithRandom(rng *Random) *Table {
	out := t.clone()
	out.rng = rng
	return out
}

// Params returns a table whose expressions see values as parameters.
func (t *Table) Params(values query.Object) query.Table {
	out := t.clone()
	out.params = values
	return out
}

// rows returns the visible physical rows in order.
func (t *Table) rows() []int {
	if t.view != nil {
		return t.view
	}
	rows := make([]int, t.nrows)
	for i := range rows {
		rows[i] = i
	}
	return rows
}

func (t *Table) clone() *Table {
	out := *t
	return &out
}

// derived returns an ungrouped, unordered table over new columns that
// inherits the parameters and random source.
func (t *Table) derived(names []string, data map[string][]any, nrows int) *Table {
	return &Table{names: names, data: data, nrows: nrows, params: t.params, rng: t.rng}
}

// withColumns returns a copy sharing the view and groups with replaced
// column storage.
func (t *Table) withColumns(names []string, data map[string][]any) *Table {
	out := t.clone()
	out.names = names
	out.data = data
	return out
}

// partitions splits the visible rows into evaluation groups in view
// order, marking sort peers when the table is ordered.
func (t *Table) partitions() []expr.Group {
	rows := t.rows()
	var parts []expr.Group
	if t.groups == nil {
		parts = []expr.Group{{Rows: rows}}
	} else {
		parts = make([]expr.Group, t.groups.size())
		for _, r := range rows {
			id := t.groups.ids[r]
			parts[id].Rows = append(parts[id].Rows, r)
		}
	}
	if t.order != nil {
		for p := range parts {
			peers := make([]int, len(parts[p].Rows))
			for i := 1; i < len(peers); i++ {
				peers[i] = peers[i-1]
				if !t.order.peers(parts[p].Rows[i-1], parts[p].Rows[i]) {
					peers[i]++
				}
			}
			parts[p].Peers = peers
		}
	}
	return parts
}

// Reify materializes the visible rows into new column storage, keeping
// groups and order.
func (t *Table) Reify() (query.Table, error) {
	return t.reify(), nil
}

func (t *Table) reify() *Table {
	if t.view == nil {
		return t
	}
	rows := t.view
	data := make(map[string][]any, len(t.names))
	for _, name := range t.names {
		data[name] = pick(t.data[name], rows)
	}
	out := t.clone()
	out.data = data
	out.nrows = len(rows)
	out.view = nil
	if t.groups != nil {
		ids := make([]int, len(rows))
		for i, r := range rows {
			ids[i] = t.groups.ids[r]
		}
		out.groups = &grouping{names: t.groups.names, ids: ids, keys: t.groups.keys}
	}
	if t.order != nil {
		values := make([][]any, len(t.order.values))
		for k, col := range t.order.values {
			values[k] = pick(col, rows)
		}
		out.order = &ordering{values: values, desc: t.order.desc}
	}
	return out
}

func pick(col []any, rows []int) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = col[r]
	}
	return out
}

// Ungroup removes the grouping.
func (t *Table) Ungroup() (query.Table, error) {
	out := t.clone()
	out.groups = nil
	return out, nil
}

// Unorder removes the sort order. The rows keep their current positions.
func (t *Table) Unorder() (query.Table, error) {
	out := t.clone()
	out.order = nil
	return out, nil
}

func (t *Table) String() string {
	s := fmt.Sprintf("Table: %d cols x %d rows", len(t.names), t.NumRows())
	if t.groups != nil {
		s += fmt.Sprintf(" (%d groups)", t.groups.size())
	}
	if t.order != nil {
		s += " [ordered]"
	}
	return s
}
