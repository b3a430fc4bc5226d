package table

import (
	"fmt"
	"maps"
	"slices"
	"sort"

	"github.com/leapstack-labs/leapframe/pkg/expr"
	"github.com/leapstack-labs/leapframe/pkg/query"
)

// Count counts rows per group into a column named by the as option
// (default "count").
func (t *Table) Count(options any) (query.Table, error) {
	opts := countOptions{As: "count"}
	if err := decodeOptions(options, &opts); err != nil {
		return nil, err
	}
	return t.Rollup(query.Object{{Key: opts.As, Value: query.Op("count")}})
}

// Dedupe keeps the first row for each distinct key combination. With no
// keys every column is compared. The result is ungrouped.
func (t *Table) Dedupe(keys []any) (query.Table, error) {
	if len(keys) == 0 {
		keys = make([]any, len(t.names))
		for i, name := range t.names {
			keys[i] = name
		}
	}
	grouped, err := t.groupby(keys)
	if err != nil {
		return nil, err
	}
	seen := make([]bool, grouped.groups.size())
	view := make([]int, 0, grouped.groups.size())
	for _, r := range grouped.rows() {
		if id := grouped.groups.ids[r]; !seen[id] {
			seen[id] = true
			view = append(view, r)
		}
	}
	out := t.clone()
	out.view = view
	out.groups = nil
	return out.reify(), nil
}

// Derive computes new columns. Entries are evaluated in order and later
// entries see the columns derived before them.
func (t *Table) Derive(values any) (query.Table, error) {
	obj, ok := values.(query.Object)
	if !ok {
		return nil, fmt.Errorf("derive values must be an object, got %T", values)
	}
	items, err := compileObject(obj, false)
	if err != nil {
		return nil, err
	}
	s, err := t.session("derive")
	if err != nil {
		return nil, err
	}
	defer s.close()

	out := t
	for _, n := range items {
		col, err := out.evalColumn(s, n)
		if err != nil {
			return nil, fmt.Errorf("derive %s: %w", n.name, err)
		}
		out = out.setColumn(n.name, col)
	}
	return out, nil
}

// setColumn returns a table with column name added or replaced.
func (t *Table) setColumn(name string, col []any) *Table {
	data := maps.Clone(t.data)
	names := t.names
	if _, exists := data[name]; !exists {
		names = append(slices.Clone(t.names), name)
	}
	data[name] = col
	return t.withColumns(names, data)
}

// Filter keeps the visible rows for which criteria is truthy.
func (t *Table) Filter(criteria any) (query.Table, error) {
	n, err := compileExpr(criteria, false)
	if err != nil {
		return nil, err
	}
	s, err := t.session("filter")
	if err != nil {
		return nil, err
	}
	defer s.close()

	col, err := t.evalColumn(s, n)
	if err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}
	view := make([]int, 0, t.NumRows())
	for _, r := range t.rows() {
		if expr.Truth(col[r]) {
			view = append(view, r)
		}
	}
	out := t.clone()
	out.view = view
	return out, nil
}

// Groupby groups the visible rows by key values. Group ids follow first
// appearance.
func (t *Table) Groupby(keys []any) (query.Table, error) {
	return t.groupby(keys)
}

func (t *Table) groupby(keys []any) (*Table, error) {
	items, err := t.compileKeys(keys)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		out := t.clone()
		out.groups = nil
		return out, nil
	}

	s, err := t.session("groupby")
	if err != nil {
		return nil, err
	}
	defer s.close()

	flat := t.clone()
	flat.groups = nil
	cols := make([][]any, len(items))
	g := &grouping{names: make([]string, len(items)), ids: make([]int, t.nrows)}
	for k, n := range items {
		if cols[k], err = flat.evalColumn(s, n); err != nil {
			return nil, fmt.Errorf("groupby %s: %w", n.name, err)
		}
		g.names[k] = n.name
	}

	index := map[string]int{}
	for _, r := range t.rows() {
		key := make([]any, len(cols))
		for k := range cols {
			key[k] = cols[k][r]
		}
		hash := rowKey(key)
		id, ok := index[hash]
		if !ok {
			id = len(g.keys)
			index[hash] = id
			g.keys = append(g.keys, key)
		}
		g.ids[r] = id
	}
	out := t.clone()
	out.groups = g
	return out, nil
}

// rowKey renders a value tuple as a map key.
func rowKey(values []any) string {
	parts := make([]any, len(values))
	for i, v := range values {
		parts[i] = expr.HashKey(v)
	}
	return fmt.Sprintf("%#v", parts)
}

// Orderby sorts the visible rows. Sorting is stable; groups are kept.
func (t *Table) Orderby(keys []any) (query.Table, error) {
	items, err := t.compileKeys(keys)
	if err != nil {
		return nil, err
	}
	s, err := t.session("orderby")
	if err != nil {
		return nil, err
	}
	defer s.close()

	flat := t.clone()
	flat.groups = nil
	ord := &ordering{values: make([][]any, len(items)), desc: make([]bool, len(items))}
	for k, n := range items {
		if ord.values[k], err = flat.evalColumn(s, n); err != nil {
			return nil, fmt.Errorf("orderby %s: %w", n.name, err)
		}
		ord.desc[k] = n.desc
	}

	view := slices.Clone(t.rows())
	sort.SliceStable(view, func(i, j int) bool {
		a, b := view[i], view[j]
		for k, col := range ord.values {
			c := expr.Compare(col[a], col[b])
			if ord.desc[k] {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		return false
	})
	out := t.clone()
	out.view = view
	out.order = ord
	return out, nil
}

// Rollup aggregates each group into one row: the group keys followed by
// the aggregate values. An ungrouped table rolls up into a single row.
func (t *Table) Rollup(values any) (query.Table, error) {
	items, err := t.compileValues(values)
	if err != nil {
		return nil, err
	}
	s, err := t.session("rollup")
	if err != nil {
		return nil, err
	}
	defer s.close()

	parts := t.partitions()
	keep := make([]int, 0, len(parts))
	for i, g := range parts {
		if t.groups == nil || len(g.Rows) > 0 {
			keep = append(keep, i)
		}
	}

	var names []string
	data := map[string][]any{}
	if t.groups != nil {
		for k, name := range t.groups.names {
			col := make([]any, len(keep))
			for i, id := range keep {
				col[i] = t.groups.keys[id][k]
			}
			names = append(names, name)
			data[name] = col
		}
	}
	for _, n := range items {
		col := make([]any, len(keep))
		for i, id := range keep {
			v, err := n.prog.EvalAggregate(s.ctx, t, parts[id])
			if err != nil {
				return nil, fmt.Errorf("rollup %s: %w", n.name, err)
			}
			col[i] = v
		}
		if _, exists := data[n.name]; !exists {
			names = append(names, n.name)
		}
		data[n.name] = col
	}
	return t.derived(names, data, len(keep)), nil
}

// Sample draws size rows per group, with or without replacement, using
// optional weights. Size is a number or an aggregate expression.
func (t *Table) Sample(size any, options any) (query.Table, error) {
	var opts sampleOptions
	if err := decodeOptions(options, &opts); err != nil {
		return nil, err
	}
	s, err := t.session("sample")
	if err != nil {
		return nil, err
	}
	defer s.close()

	rng := t.rng
	if rng == nil {
		rng = NewRandom()
	}

	var sizeProg *named
	if _, isNum := size.(float64); !isNum {
		if sizeProg, err = compileExpr(size, false); err != nil {
			return nil, fmt.Errorf("sample size: %w", err)
		}
	}
	var weights []any
	if opts.Weight != nil {
		w, err := t.compileKey(opts.Weight)
		if err != nil {
			return nil, fmt.Errorf("sample weight: %w", err)
		}
		if weights, err = t.evalColumn(s, w[0]); err != nil {
			return nil, fmt.Errorf("sample weight: %w", err)
		}
	}

	var view []int
	for _, g := range t.partitions() {
		var k int
		if sizeProg != nil {
			v, err := sizeProg.prog.EvalAggregate(s.ctx, t, g)
			if err != nil {
				return nil, fmt.Errorf("sample size: %w", err)
			}
			f, ok := v.(float64)
			if !ok {
				return nil, fmt.Errorf("sample size must be a number, got %T", v)
			}
			k = int(f)
		} else {
			k = int(size.(float64))
		}
		picked := sampleRows(rng, g.Rows, k, opts.Replace, weights)
		if opts.Shuffle != nil && !*opts.Shuffle {
			sort.Ints(picked)
		}
		view = append(view, picked...)
	}

	out := t.clone()
	out.view = view
	if view == nil {
		out.view = []int{}
	}
	out.order = nil
	return out.reify(), nil
}

func sampleRows(rng *Random, rows []int, k int, replace bool, weights []any) []int {
	n := len(rows)
	if n == 0 || k <= 0 {
		return nil
	}
	if !replace {
		k = min(k, n)
	}
	out := make([]int, 0, k)

	if weights == nil {
		if replace {
			for range k {
				out = append(out, rows[rng.IntN(n)])
			}
			return out
		}
		pool := slices.Clone(rows)
		for i := range k {
			j := i + rng.IntN(n-i)
			pool[i], pool[j] = pool[j], pool[i]
			out = append(out, pool[i])
		}
		return out
	}

	w := make([]float64, n)
	for i, r := range rows {
		if f, ok := weights[r].(float64); ok && f > 0 {
			w[i] = f
		}
	}
	for range k {
		total := 0.0
		for _, f := range w {
			total += f
		}
		if total <= 0 {
			break
		}
		u := rng.Float64() * total
		i := 0
		for ; i < n-1; i++ {
			u -= w[i]
			if u < 0 {
				break
			}
		}
		out = append(out, rows[i])
		if !replace {
			w[i] = 0
		}
	}
	return out
}

// Select picks, reorders and renames columns. A mapping renames each key
// column to its value.
func (t *Table) Select(columns []any) (query.Table, error) {
	type selected struct{ from, to string }
	var picks []selected
	add := func(from, to string) {
		for i := range picks {
			if picks[i].to == to {
				picks[i].from = from
				return
			}
		}
		picks = append(picks, selected{from, to})
	}

	for _, item := range columns {
		if obj, ok := item.(query.Object); ok {
			for _, e := range obj {
				if _, exists := t.data[e.Key]; !exists {
					return nil, &UnknownColumnError{Name: e.Key}
				}
				to, ok := e.Value.(string)
				if !ok {
					return nil, fmt.Errorf("select rename of %q must be a name, got %T", e.Key, e.Value)
				}
				add(e.Key, to)
			}
			continue
		}
		names, err := t.selectNames([]any{item})
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			add(name, name)
		}
	}

	names := make([]string, len(picks))
	data := make(map[string][]any, len(picks))
	for i, p := range picks {
		names[i] = p.to
		data[p.to] = t.data[p.from]
	}
	return t.withColumns(names, data), nil
}

// selectNames resolves column names, indices and selections.
func (t *Table) selectNames(items []any) ([]string, error) {
	var out []string
	for _, item := range items {
		switch x := item.(type) {
		case string:
			if _, ok := t.data[x]; !ok {
				return nil, &UnknownColumnError{Name: x}
			}
			out = append(out, x)
		case float64:
			name, err := t.columnAt(x)
			if err != nil {
				return nil, err
			}
			out = append(out, name)
		case query.Field:
			names, err := t.selectNames([]any{x.Name})
			if err != nil {
				return nil, err
			}
			out = append(out, names...)
		case query.All:
			out = append(out, t.names...)
		case query.Not:
			excluded, err := t.selectNames(x.Items)
			if err != nil {
				return nil, err
			}
			for _, name := range t.names {
				if !slices.Contains(excluded, name) {
					out = append(out, name)
				}
			}
		case query.Range:
			lo, err := t.columnIndex(x.From)
			if err != nil {
				return nil, err
			}
			hi, err := t.columnIndex(x.To)
			if err != nil {
				return nil, err
			}
			if lo > hi {
				lo, hi = hi, lo
			}
			out = append(out, t.names[lo:hi+1]...)
		case []any:
			names, err := t.selectNames(x)
			if err != nil {
				return nil, err
			}
			out = append(out, names...)
		default:
			return nil, fmt.Errorf("invalid column selection %T", item)
		}
	}
	return out, nil
}

func (t *Table) columnIndex(v any) (int, error) {
	switch x := v.(type) {
	case float64:
		if _, err := t.columnAt(x); err != nil {
			return 0, err
		}
		return int(x), nil
	case string:
		if i := slices.Index(t.names, x); i >= 0 {
			return i, nil
		}
		return 0, &UnknownColumnError{Name: x}
	case query.Field:
		return t.columnIndex(x.Name)
	default:
		return 0, fmt.Errorf("invalid range bound %T", v)
	}
}
