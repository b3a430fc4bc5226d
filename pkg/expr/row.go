package expr

import (
	"fmt"

	"go.starlark.net/starlark"
)

// Source exposes table columns to expressions.
type Source interface {
	// Column returns the physical values of a column.
	Column(name string) ([]any, bool)
	// ColumnNames returns the column names in order.
	ColumnNames() []string
}

// Row is the Starlark value bound to a row variable. Columns are reachable
// as attributes (d.price) and by key (d["unit price"]). A row with a
// negative index is a missing row: every column reads as None.
type Row struct {
	src Source
	idx int
}

var (
	_ starlark.HasAttrs = (*Row)(nil)
	_ starlark.Mapping  = (*Row)(nil)
)

// NewRow binds physical row idx of src.
func NewRow(src Source, idx int) *Row {
	return &Row{src: src, idx: idx}
}

// Index returns the physical row index.
func (r *Row) Index() int { return r.idx }

func (r *Row) String() string        { return fmt.Sprintf("row(%d)", r.idx) }
func (r *Row) Type() string          { return "row" }
func (r *Row) Freeze()               {}
func (r *Row) Truth() starlark.Bool  { return r.idx >= 0 }
func (r *Row) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: row") }

// Attr returns the value of column name.
func (r *Row) Attr(name string) (starlark.Value, error) {
	col, ok := r.src.Column(name)
	if !ok {
		return nil, nil
	}
	if r.idx < 0 || r.idx >= len(col) {
		return starlark.None, nil
	}
	return GoToStarlark(col[r.idx])
}

// AttrNames returns the column names.
func (r *Row) AttrNames() []string {
	return r.src.ColumnNames()
}

// Get looks up a column by string key.
func (r *Row) Get(k starlark.Value) (starlark.Value, bool, error) {
	name, ok := k.(starlark.String)
	if !ok {
		return nil, false, fmt.Errorf("row key must be a string, got %s", k.Type())
	}
	v, err := r.Attr(string(name))
	if err != nil {
		return nil, false, err
	}
	if v == nil {
		return nil, false, nil
	}
	return v, true, nil
}
