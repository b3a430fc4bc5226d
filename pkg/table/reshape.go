package table

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/leapstack-labs/leapframe/pkg/expr"
	"github.com/leapstack-labs/leapframe/pkg/query"
)

// Fold turns the selected columns into key/value row pairs. The other
// columns are repeated for every pair.
func (t *Table) Fold(values any, options any) (query.Table, error) {
	opts := foldOptions{As: []string{"key", "value"}}
	if err := decodeOptions(options, &opts); err != nil {
		return nil, err
	}
	if len(opts.As) != 2 {
		return nil, fmt.Errorf("fold as option needs two names, got %d", len(opts.As))
	}
	items, err := t.compileValues(values)
	if err != nil {
		return nil, err
	}
	s, err := t.session("fold")
	if err != nil {
		return nil, err
	}
	defer s.close()

	folded := map[string]bool{}
	cols := make([][]any, len(items))
	for k, n := range items {
		if cols[k], err = t.evalColumn(s, n); err != nil {
			return nil, fmt.Errorf("fold %s: %w", n.name, err)
		}
		folded[n.name] = true
	}

	var names []string
	for _, name := range t.names {
		if !folded[name] {
			names = append(names, name)
		}
	}
	keyName, valueName := opts.As[0], opts.As[1]
	data := make(map[string][]any, len(names)+2)
	for _, name := range names {
		data[name] = nil
	}
	var keys, vals []any
	for _, r := range t.rows() {
		for k, n := range items {
			for _, name := range names {
				data[name] = append(data[name], t.data[name][r])
			}
			keys = append(keys, n.name)
			vals = append(vals, cols[k][r])
		}
	}
	data[keyName] = keys
	data[valueName] = vals
	names = append(names, keyName, valueName)
	return t.derived(names, data, len(keys)), nil
}

// Pivot spreads key values into new columns holding aggregated values,
// one output row per group.
func (t *Table) Pivot(keys, values, options any) (query.Table, error) {
	opts := pivotOptions{KeySeparator: "_", ValueSeparator: "_"}
	if err := decodeOptions(options, &opts); err != nil {
		return nil, err
	}
	keyItems, err := t.compileValues(keys)
	if err != nil {
		return nil, err
	}
	valueItems, err := t.compileValues(anyOfColumns(values))
	if err != nil {
		return nil, err
	}
	s, err := t.session("pivot")
	if err != nil {
		return nil, err
	}
	defer s.close()

	flat := t.clone()
	flat.groups = nil
	keyCols := make([][]any, len(keyItems))
	for k, n := range keyItems {
		if keyCols[k], err = flat.evalColumn(s, n); err != nil {
			return nil, fmt.Errorf("pivot key %s: %w", n.name, err)
		}
	}
	keyOf := func(r int) string {
		parts := make([]string, len(keyCols))
		for k, col := range keyCols {
			parts[k] = keyString(col[r])
		}
		return strings.Join(parts, opts.KeySeparator)
	}

	var combos []string
	seen := map[string]bool{}
	for _, r := range t.rows() {
		if k := keyOf(r); !seen[k] {
			seen[k] = true
			combos = append(combos, k)
		}
	}
	if opts.Sort == nil || *opts.Sort {
		sortKeys(combos)
	}
	if opts.Limit > 0 && len(combos) > opts.Limit {
		combos = combos[:opts.Limit]
	}

	parts := t.partitions()
	var outNames []string
	data := map[string][]any{}
	var groupIDs []int
	for id, g := range parts {
		if t.groups == nil || len(g.Rows) > 0 {
			groupIDs = append(groupIDs, id)
		}
	}
	if t.groups != nil {
		for k, name := range t.groups.names {
			col := make([]any, len(groupIDs))
			for i, id := range groupIDs {
				col[i] = t.groups.keys[id][k]
			}
			outNames = append(outNames, name)
			data[name] = col
		}
	}

	for _, n := range valueItems {
		for _, combo := range combos {
			name := combo
			if len(valueItems) > 1 {
				name = n.name + opts.ValueSeparator + combo
			}
			col := make([]any, len(groupIDs))
			for i, id := range groupIDs {
				var sub expr.Group
				for _, r := range parts[id].Rows {
					if keyOf(r) == combo {
						sub.Rows = append(sub.Rows, r)
					}
				}
				if len(sub.Rows) == 0 {
					continue
				}
				v, err := n.prog.EvalAggregate(s.ctx, t, sub)
				if err != nil {
					return nil, fmt.Errorf("pivot value %s: %w", n.name, err)
				}
				col[i] = v
			}
			if _, exists := data[name]; !exists {
				outNames = append(outNames, name)
			}
			data[name] = col
		}
	}
	return t.derived(outNames, data, len(groupIDs)), nil
}

// anyOfColumns rewrites bare column names in a pivot value list into
// op.any aggregates over that column.
func anyOfColumns(values any) any {
	list, ok := values.([]any)
	if !ok {
		if s, isName := values.(string); isName {
			list = []any{s}
		} else {
			return values
		}
	}
	out := query.Object{}
	var rest []any
	for _, v := range list {
		switch x := v.(type) {
		case string:
			out = append(out, query.Entry{Key: x, Value: query.Op("any", x)})
		case query.Field:
			out = append(out, query.Entry{Key: x.Name, Value: query.Op("any", x)})
		case query.Object:
			out = append(out, x...)
		default:
			rest = append(rest, x)
		}
	}
	if len(rest) > 0 {
		return append([]any{out}, rest...)
	}
	return out
}

// sortKeys orders pivot key names numerically when every name is a
// number, otherwise lexically.
func sortKeys(keys []string) {
	nums := make(map[string]float64, len(keys))
	for _, k := range keys {
		f, err := strconv.ParseFloat(k, 64)
		if err != nil {
			sort.Strings(keys)
			return
		}
		nums[k] = f
	}
	sort.SliceStable(keys, func(i, j int) bool { return nums[keys[i]] < nums[keys[j]] })
}

// Spread expands array values into one column per element, named by the
// as option or by the source name with a 1-based suffix.
func (t *Table) Spread(values, options any) (query.Table, error) {
	var opts spreadOptions
	if err := decodeOptions(options, &opts); err != nil {
		return nil, err
	}
	items, err := t.compileValues(values)
	if err != nil {
		return nil, err
	}
	if len(opts.As) > 0 && len(items) > 1 {
		return nil, fmt.Errorf("spread as option applies to a single value, got %d", len(items))
	}
	s, err := t.session("spread")
	if err != nil {
		return nil, err
	}
	defer s.close()

	out := t
	for _, n := range items {
		col, err := t.evalColumn(s, n)
		if err != nil {
			return nil, fmt.Errorf("spread %s: %w", n.name, err)
		}
		width := 0
		for _, r := range t.rows() {
			if list, ok := col[r].([]any); ok {
				width = max(width, len(list))
			}
		}
		if len(opts.As) > 0 {
			width = len(opts.As)
		}
		if opts.Limit > 0 {
			width = min(width, opts.Limit)
		}
		if opts.Drop {
			out = out.dropColumn(n.name)
		}
		for i := range width {
			name := n.name + strconv.Itoa(i+1)
			if len(opts.As) > 0 {
				name = opts.As[i]
			}
			part := make([]any, t.nrows)
			for _, r := range t.rows() {
				if list, ok := col[r].([]any); ok && i < len(list) {
					part[r] = list[i]
				}
			}
			out = out.setColumn(name, part)
		}
	}
	return out, nil
}

func (t *Table) dropColumn(name string) *Table {
	if _, ok := t.data[name]; !ok {
		return t
	}
	data := maps.Clone(t.data)
	delete(data, name)
	names := slices.DeleteFunc(slices.Clone(t.names), func(n string) bool { return n == name })
	return t.withColumns(names, data)
}

// Unroll expands array values into one row per element. Several values
// unroll in parallel; shorter arrays pad with nil.
func (t *Table) Unroll(values, options any) (query.Table, error) {
	var opts unrollOptions
	if err := decodeOptions(options, &opts); err != nil {
		return nil, err
	}
	items, err := t.compileValues(values)
	if err != nil {
		return nil, err
	}
	var drop []string
	if opts.Drop != nil {
		if drop, err = t.selectNames(toList(opts.Drop)); err != nil {
			return nil, fmt.Errorf("unroll drop: %w", err)
		}
	}
	indexName := ""
	switch x := opts.Index.(type) {
	case bool:
		if x {
			indexName = "index"
		}
	case string:
		indexName = x
	}

	s, err := t.session("unroll")
	if err != nil {
		return nil, err
	}
	defer s.close()

	unrolled := make(map[string][]any, len(items))
	for _, n := range items {
		col, err := t.evalColumn(s, n)
		if err != nil {
			return nil, fmt.Errorf("unroll %s: %w", n.name, err)
		}
		unrolled[n.name] = col
	}

	var names []string
	for _, name := range t.names {
		if !slices.Contains(drop, name) {
			names = append(names, name)
		}
	}
	for _, n := range items {
		if !slices.Contains(names, n.name) {
			names = append(names, n.name)
		}
	}
	if indexName != "" {
		names = append(names, indexName)
	}

	data := make(map[string][]any, len(names))
	nrows := 0
	for _, r := range t.rows() {
		width := 0
		for _, n := range items {
			if list, ok := unrolled[n.name][r].([]any); ok {
				width = max(width, len(list))
			} else {
				width = max(width, 1)
			}
		}
		if opts.Limit > 0 {
			width = min(width, opts.Limit)
		}
		for j := range width {
			for _, name := range names {
				var v any
				switch col, isItem := unrolled[name]; {
				case isItem:
					if list, ok := col[r].([]any); ok {
						if j < len(list) {
							v = list[j]
						}
					} else if j == 0 {
						v = col[r]
					}
				case name == indexName:
					v = float64(j)
				default:
					v = t.data[name][r]
				}
				data[name] = append(data[name], v)
			}
			nrows++
		}
	}
	for _, name := range names {
		if data[name] == nil {
			data[name] = []any{}
		}
	}
	return t.derived(names, data, nrows), nil
}

func toList(v any) []any {
	if list, ok := v.([]any); ok {
		return list
	}
	return []any{v}
}
