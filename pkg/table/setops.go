package table

import "github.com/leapstack-labs/leapframe/pkg/query"

func asTables(others []query.Table) ([]*Table, error) {
	out := make([]*Table, len(others))
	for i, o := range others {
		tt, err := asTable(o)
		if err != nil {
			return nil, err
		}
		out[i] = tt
	}
	return out, nil
}

// Concat appends the rows of others. The output has the columns of t;
// columns missing from another table are filled with nil.
func (t *Table) Concat(others []query.Table) (query.Table, error) {
	tables, err := asTables(others)
	if err != nil {
		return nil, err
	}
	return t.concat(tables), nil
}

func (t *Table) concat(tables []*Table) *Table {
	data := make(map[string][]any, len(t.names))
	nrows := 0
	for _, src := range append([]*Table{t}, tables...) {
		rows := src.rows()
		for _, name := range t.names {
			col, ok := src.data[name]
			for _, r := range rows {
				var v any
				if ok {
					v = col[r]
				}
				data[name] = append(data[name], v)
			}
		}
		nrows += len(rows)
	}
	for _, name := range t.names {
		if data[name] == nil {
			data[name] = []any{}
		}
	}
	return t.derived(t.names, data, nrows)
}

// Union concatenates others and removes duplicate rows.
func (t *Table) Union(others []query.Table) (query.Table, error) {
	tables, err := asTables(others)
	if err != nil {
		return nil, err
	}
	return t.concat(tables).distinct(nil), nil
}

// Intersect keeps the distinct rows of t present in every other table.
func (t *Table) Intersect(others []query.Table) (query.Table, error) {
	tables, err := asTables(others)
	if err != nil {
		return nil, err
	}
	sets := make([]map[string]bool, len(tables))
	for i, o := range tables {
		sets[i] = o.rowSet(t.names)
	}
	return t.distinct(func(key string) bool {
		for _, set := range sets {
			if !set[key] {
				return false
			}
		}
		return true
	}), nil
}

// Except keeps the distinct rows of t absent from every other table.
func (t *Table) Except(others []query.Table) (query.Table, error) {
	tables, err := asTables(others)
	if err != nil {
		return nil, err
	}
	sets := make([]map[string]bool, len(tables))
	for i, o := range tables {
		sets[i] = o.rowSet(t.names)
	}
	return t.distinct(func(key string) bool {
		for _, set := range sets {
			if set[key] {
				return false
			}
		}
		return true
	}), nil
}

// rowKeyAt hashes the named columns of physical row r.
func (t *Table) rowKeyAt(names []string, r int) string {
	vals := make([]any, len(names))
	for k, name := range names {
		if col, ok := t.data[name]; ok {
			vals[k] = col[r]
		}
	}
	return rowKey(vals)
}

func (t *Table) rowSet(names []string) map[string]bool {
	set := map[string]bool{}
	for _, r := range t.rows() {
		set[t.rowKeyAt(names, r)] = true
	}
	return set
}

// distinct keeps the first occurrence of every row whose key passes keep.
func (t *Table) distinct(keep func(key string) bool) *Table {
	seen := map[string]bool{}
	view := make([]int, 0, t.NumRows())
	for _, r := range t.rows() {
		key := t.rowKeyAt(t.names, r)
		if seen[key] || (keep != nil && !keep(key)) {
			continue
		}
		seen[key] = true
		view = append(view, r)
	}
	out := t.clone()
	out.view = view
	out.groups = nil
	out.order = nil
	return out.reify()
}
