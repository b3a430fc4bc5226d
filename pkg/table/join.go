package table

import (
	"fmt"
	"slices"

	"go.starlark.net/starlark"

	"github.com/leapstack-labs/leapframe/pkg/expr"
	"github.com/leapstack-labs/leapframe/pkg/query"
)

// pair is one output row of a two-table verb. A negative index is a
// missing row on that side.
type pair struct{ l, r int }

// matcher finds right rows matching a left row.
type matcher struct {
	// shared lists key columns that have the same name on both sides.
	shared []string
	match  func(l int) ([]int, error)
}

func asTable(other query.Table) (*Table, error) {
	tt, ok := other.(*Table)
	if !ok {
		return nil, fmt.Errorf("unsupported table type %T", other)
	}
	return tt, nil
}

// keyProgram compiles a single-table join key.
func keyProgram(t *Table, key any) (*expr.Program, string, error) {
	switch k := key.(type) {
	case query.Field:
		if _, ok := t.data[k.Name]; !ok {
			return nil, "", &UnknownColumnError{Name: k.Name}
		}
		prog, err := expr.ColumnProgram(k.Name)
		return prog, k.Name, err
	case string:
		return keyProgram(t, query.Field{Name: k})
	case float64:
		name, err := t.columnAt(k)
		if err != nil {
			return nil, "", err
		}
		return keyProgram(t, query.Field{Name: name})
	case query.Expr:
		prog, err := expr.Compile(k.Source, expr.Options{})
		return prog, "", err
	default:
		return nil, "", fmt.Errorf("invalid join key %T", key)
	}
}

func (s *session) rowValue(prog *expr.Program, rows ...starlark.Value) (any, error) {
	v, err := prog.Call(s.ctx.Thread, s.ctx.Params, rows...)
	if err != nil {
		return nil, err
	}
	return expr.ToGo(v)
}

// keyTuples evaluates key programs for every visible row of t.
func (s *session) keyTuples(t *Table, progs []*expr.Program) (map[int]string, error) {
	out := make(map[int]string, t.NumRows())
	for _, r := range t.rows() {
		vals := make([]any, len(progs))
		row := expr.NewRow(t, r)
		for k, p := range progs {
			v, err := s.rowValue(p, row)
			if err != nil {
				return nil, err
			}
			vals[k] = v
		}
		out[r] = rowKey(vals)
	}
	return out, nil
}

// newMatcher interprets join criteria: nil compares all shared column
// names, a one-element list names shared keys, a two-element list gives
// left and right keys, and anything else is a two-table predicate.
func (t *Table) newMatcher(s *session, other *Table, on any) (*matcher, error) {
	var leftKeys, rightKeys []any
	switch x := on.(type) {
	case nil:
		for _, name := range t.names {
			if _, ok := other.data[name]; ok {
				leftKeys = append(leftKeys, name)
			}
		}
		rightKeys = leftKeys
	case []any:
		switch len(x) {
		case 1:
			leftKeys = toList(x[0])
			rightKeys = leftKeys
		case 2:
			leftKeys, rightKeys = toList(x[0]), toList(x[1])
		default:
			return nil, fmt.Errorf("join keys must have one or two key lists, got %d", len(x))
		}
	case string:
		_, inLeft := t.data[x]
		_, inRight := other.data[x]
		if inLeft && inRight {
			leftKeys, rightKeys = []any{x}, []any{x}
			break
		}
		return t.predicateMatcher(s, other, query.Expr{Source: x})
	default:
		return t.predicateMatcher(s, other, on)
	}
	if len(leftKeys) != len(rightKeys) {
		return nil, fmt.Errorf("join has %d left keys and %d right keys", len(leftKeys), len(rightKeys))
	}

	m := &matcher{}
	lp := make([]*expr.Program, len(leftKeys))
	rp := make([]*expr.Program, len(rightKeys))
	for i := range leftKeys {
		var ln, rn string
		var err error
		if lp[i], ln, err = keyProgram(t, leftKeys[i]); err != nil {
			return nil, fmt.Errorf("left key: %w", err)
		}
		if rp[i], rn, err = keyProgram(other, rightKeys[i]); err != nil {
			return nil, fmt.Errorf("right key: %w", err)
		}
		if ln != "" && ln == rn {
			m.shared = append(m.shared, ln)
		}
	}
	lk, err := s.keyTuples(t, lp)
	if err != nil {
		return nil, err
	}
	rk, err := s.keyTuples(other, rp)
	if err != nil {
		return nil, err
	}
	index := map[string][]int{}
	for _, r := range other.rows() {
		index[rk[r]] = append(index[rk[r]], r)
	}
	m.match = func(l int) ([]int, error) { return index[lk[l]], nil }
	return m, nil
}

func (t *Table) predicateMatcher(s *session, other *Table, on any) (*matcher, error) {
	n, err := compileExpr(on, true)
	if err != nil {
		return nil, fmt.Errorf("join predicate: %w", err)
	}
	rightRows := other.rows()
	return &matcher{match: func(l int) ([]int, error) {
		var out []int
		left := expr.NewRow(t, l)
		for _, r := range rightRows {
			v, err := s.rowValue(n.prog, left, expr.NewRow(other, r))
			if err != nil {
				return nil, err
			}
			if expr.Truth(v) {
				out = append(out, r)
			}
		}
		return out, nil
	}}, nil
}

// output is one computed output column of a two-table verb.
type output struct {
	name string
	side int // 0 left, 1 right, 2 both
	eval func(p pair) (any, error)
}

// joinOutputs resolves the output columns of join and cross.
func (t *Table) joinOutputs(s *session, other *Table, values any, shared []string) ([]output, error) {
	var outs []output
	switch x := values.(type) {
	case nil:
		for _, name := range t.names {
			if slices.Contains(shared, name) {
				outs = append(outs, sharedOutput(t, other, name))
				continue
			}
			outs = append(outs, columnOutput(t, name, 0))
		}
		for _, name := range other.names {
			if slices.Contains(shared, name) {
				continue
			}
			outs = append(outs, columnOutput(other, name, 1))
		}
	case query.Object:
		items, err := compileObject(x, true)
		if err != nil {
			return nil, err
		}
		for _, n := range items {
			outs = append(outs, s.pairOutput(t, other, n))
		}
	case []any:
		for side, sel := range x {
			if side > 1 {
				obj, ok := sel.(query.Object)
				if !ok {
					return nil, fmt.Errorf("join values entry %d must be an object, got %T", side, sel)
				}
				items, err := compileObject(obj, true)
				if err != nil {
					return nil, err
				}
				for _, n := range items {
					outs = append(outs, s.pairOutput(t, other, n))
				}
				continue
			}
			src := t
			if side == 1 {
				src = other
			}
			sideOuts, err := s.sideOutputs(src, toList(sel), side)
			if err != nil {
				return nil, err
			}
			outs = append(outs, sideOuts...)
		}
	default:
		return nil, fmt.Errorf("invalid join values %T", values)
	}
	return outs, nil
}

func columnOutput(src *Table, name string, side int) output {
	col := src.data[name]
	return output{name: name, side: side, eval: func(p pair) (any, error) {
		r := p.l
		if side == 1 {
			r = p.r
		}
		if r < 0 {
			return nil, nil
		}
		return col[r], nil
	}}
}

// sharedOutput reads a shared key column from whichever side is present.
func sharedOutput(left, right *Table, name string) output {
	lc, rc := left.data[name], right.data[name]
	return output{name: name, side: 2, eval: func(p pair) (any, error) {
		switch {
		case p.l >= 0:
			return lc[p.l], nil
		case p.r >= 0:
			return rc[p.r], nil
		}
		return nil, nil
	}}
}

// sideOutputs resolves a selection list against one input table. Names and
// selections copy columns; mappings evaluate single-table expressions.
func (s *session) sideOutputs(src *Table, items []any, side int) ([]output, error) {
	var outs []output
	for _, item := range items {
		obj, ok := item.(query.Object)
		if !ok {
			names, err := src.selectNames([]any{item})
			if err != nil {
				return nil, err
			}
			for _, name := range names {
				outs = append(outs, columnOutput(src, name, side))
			}
			continue
		}
		named, err := compileObject(obj, false)
		if err != nil {
			return nil, err
		}
		for _, n := range named {
			prog := n.prog
			outs = append(outs, output{name: n.name, side: side, eval: func(p pair) (any, error) {
				r := p.l
				if side == 1 {
					r = p.r
				}
				return s.rowValue(prog, expr.NewRow(src, r))
			}})
		}
	}
	return outs, nil
}

func (s *session) pairOutput(left, right *Table, n *named) output {
	prog := n.prog
	return output{name: n.name, side: 2, eval: func(p pair) (any, error) {
		return s.rowValue(prog, expr.NewRow(left, p.l), expr.NewRow(right, p.r))
	}}
}

// materialize evaluates outputs over pairs, suffixing colliding names.
func (t *Table) materialize(outs []output, pairs []pair, suffix []string) (*Table, error) {
	if len(suffix) != 2 {
		suffix = []string{"_1", "_2"}
	}
	counts := map[string]int{}
	for _, o := range outs {
		counts[o.name]++
	}
	names := make([]string, 0, len(outs))
	data := make(map[string][]any, len(outs))
	for _, o := range outs {
		name := o.name
		if counts[name] > 1 && o.side < 2 {
			name += suffix[o.side]
		}
		col := make([]any, len(pairs))
		for i, p := range pairs {
			v, err := o.eval(p)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", o.name, err)
			}
			col[i] = v
		}
		if _, exists := data[name]; !exists {
			names = append(names, name)
		}
		data[name] = col
	}
	return t.derived(names, data, len(pairs)), nil
}

// Join combines rows of t and other that satisfy the join criteria.
// The left and right options keep unmatched rows from either side.
func (t *Table) Join(other query.Table, on, values, options any) (query.Table, error) {
	var opts joinOptions
	if err := decodeOptions(options, &opts); err != nil {
		return nil, err
	}
	right, err := asTable(other)
	if err != nil {
		return nil, err
	}
	s, err := t.session("join")
	if err != nil {
		return nil, err
	}
	defer s.close()

	m, err := t.newMatcher(s, right, on)
	if err != nil {
		return nil, err
	}
	var pairs []pair
	matched := map[int]bool{}
	for _, l := range t.rows() {
		rs, err := m.match(l)
		if err != nil {
			return nil, fmt.Errorf("join: %w", err)
		}
		for _, r := range rs {
			pairs = append(pairs, pair{l, r})
			matched[r] = true
		}
		if len(rs) == 0 && opts.Left {
			pairs = append(pairs, pair{l, -1})
		}
	}
	if opts.Right {
		for _, r := range right.rows() {
			if !matched[r] {
				pairs = append(pairs, pair{-1, r})
			}
		}
	}

	outs, err := t.joinOutputs(s, right, values, m.shared)
	if err != nil {
		return nil, err
	}
	return t.materialize(outs, pairs, opts.Suffix)
}

// Cross produces every pairing of t and other rows.
func (t *Table) Cross(other query.Table, values, options any) (query.Table, error) {
	var opts joinOptions
	if err := decodeOptions(options, &opts); err != nil {
		return nil, err
	}
	right, err := asTable(other)
	if err != nil {
		return nil, err
	}
	s, err := t.session("cross")
	if err != nil {
		return nil, err
	}
	defer s.close()

	var pairs []pair
	for _, l := range t.rows() {
		for _, r := range right.rows() {
			pairs = append(pairs, pair{l, r})
		}
	}
	outs, err := t.joinOutputs(s, right, values, nil)
	if err != nil {
		return nil, err
	}
	return t.materialize(outs, pairs, opts.Suffix)
}

// Lookup adds values from the first matching row of other. Rows without a
// match get nil.
func (t *Table) Lookup(other query.Table, on, values any) (query.Table, error) {
	right, err := asTable(other)
	if err != nil {
		return nil, err
	}
	s, err := t.session("lookup")
	if err != nil {
		return nil, err
	}
	defer s.close()

	m, err := t.newMatcher(s, right, on)
	if err != nil {
		return nil, err
	}
	var outs []output
	if values == nil {
		for _, name := range right.names {
			if !slices.Contains(m.shared, name) {
				outs = append(outs, columnOutput(right, name, 1))
			}
		}
	} else {
		if outs, err = s.sideOutputs(right, toList(values), 1); err != nil {
			return nil, err
		}
	}

	out := t
	cols := make([][]any, len(outs))
	for k := range outs {
		cols[k] = make([]any, t.nrows)
	}
	for _, l := range t.rows() {
		rs, err := m.match(l)
		if err != nil {
			return nil, fmt.Errorf("lookup: %w", err)
		}
		p := pair{l, -1}
		if len(rs) > 0 {
			p.r = rs[0]
		}
		for k, o := range outs {
			if cols[k][l], err = o.eval(p); err != nil {
				return nil, fmt.Errorf("lookup %s: %w", o.name, err)
			}
		}
	}
	for k, o := range outs {
		out = out.setColumn(o.name, cols[k])
	}
	return out, nil
}

// Semijoin keeps the rows of t with at least one match in other.
func (t *Table) Semijoin(other query.Table, on any) (query.Table, error) {
	return t.semijoin(other, on, true)
}

// Antijoin keeps the rows of t without a match in other.
func (t *Table) Antijoin(other query.Table, on any) (query.Table, error) {
	return t.semijoin(other, on, false)
}

func (t *Table) semijoin(other query.Table, on any, keep bool) (query.Table, error) {
	right, err := asTable(other)
	if err != nil {
		return nil, err
	}
	s, err := t.session("semijoin")
	if err != nil {
		return nil, err
	}
	defer s.close()

	m, err := t.newMatcher(s, right, on)
	if err != nil {
		return nil, err
	}
	view := make([]int, 0, t.NumRows())
	for _, l := range t.rows() {
		rs, err := m.match(l)
		if err != nil {
			return nil, err
		}
		if (len(rs) > 0) == keep {
			view = append(view, l)
		}
	}
	out := t.clone()
	out.view = view
	return out, nil
}
