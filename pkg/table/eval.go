package table

import (
	"fmt"
	"strconv"

	"github.com/leapstack-labs/leapframe/pkg/expr"
	"github.com/leapstack-labs/leapframe/pkg/query"
)

// named is an output name bound to a compiled program.
type named struct {
	name  string
	prog  *expr.Program
	frame *expr.Frame
	desc  bool
}

// session holds the evaluation context for one verb.
type session struct {
	ctx  *expr.Context
	pool *expr.ThreadPool
}

func (t *Table) session(name string) (*session, error) {
	params, err := expr.NewParams(paramMap(t.params))
	if err != nil {
		return nil, err
	}
	var rnd expr.RandomSource
	if t.rng != nil {
		rnd = t.rng
	}
	pool := expr.DefaultPool()
	return &session{
		ctx:  &expr.Context{Thread: pool.Get(name, rnd), Params: params},
		pool: pool,
	}, nil
}

func (s *session) close() {
	s.pool.Put(s.ctx.Thread)
}

func paramMap(params query.Object) map[string]any {
	m := make(map[string]any, len(params))
	for _, e := range params {
		m[e.Key] = normalizeValue(e.Value)
	}
	return m
}

func rowVar(table int) string {
	if table == 1 {
		return expr.RightName
	}
	return expr.LeftName
}

// compileExpr compiles an expression value: source text, a function
// marked expression, a field reference, a rolling window or a literal.
func compileExpr(v any, join bool) (*named, error) {
	opts := expr.Options{Join: join}
	switch x := v.(type) {
	case string:
		prog, err := expr.Compile(x, opts)
		if err != nil {
			return nil, err
		}
		return &named{name: x, prog: prog}, nil
	case query.Expr:
		prog, err := expr.Compile(x.Source, opts)
		if err != nil {
			return nil, err
		}
		return &named{name: x.Source, prog: prog}, nil
	case query.Field:
		prog, err := compileField(x, join)
		if err != nil {
			return nil, err
		}
		return &named{name: x.Name, prog: prog}, nil
	case query.Window:
		inner, err := compileExpr(x.Of, join)
		if err != nil {
			return nil, err
		}
		inner.frame = &expr.Frame{Lo: bound(x.Frame[0]), Hi: bound(x.Frame[1]), Peers: x.Peers}
		return inner, nil
	case query.Descending:
		inner, err := compileExpr(x.Of, join)
		if err != nil {
			return nil, err
		}
		inner.desc = true
		return inner, nil
	case float64, bool, nil:
		src := "None"
		switch lit := x.(type) {
		case float64:
			src = strconv.FormatFloat(lit, 'g', -1, 64)
		case bool:
			src = "False"
			if lit {
				src = "True"
			}
		}
		prog, err := expr.Compile(src, opts)
		if err != nil {
			return nil, err
		}
		return &named{name: src, prog: prog}, nil
	default:
		return nil, fmt.Errorf("invalid expression value %T", v)
	}
}

func compileField(f query.Field, join bool) (*expr.Program, error) {
	if !join {
		return expr.ColumnProgram(f.Name)
	}
	return expr.Compile(fmt.Sprintf("%s[%q]", rowVar(f.Table), f.Name), expr.Options{Join: true})
}

func bound(v any) *int {
	f, ok := v.(float64)
	if !ok {
		return nil
	}
	n := int(f)
	return &n
}

// compileKey compiles a list item where strings and numbers name columns.
func (t *Table) compileKey(v any) ([]*named, error) {
	switch x := v.(type) {
	case string:
		if _, ok := t.data[x]; !ok {
			return nil, &UnknownColumnError{Name: x}
		}
		prog, err := expr.ColumnProgram(x)
		if err != nil {
			return nil, err
		}
		return []*named{{name: x, prog: prog}}, nil
	case float64:
		name, err := t.columnAt(x)
		if err != nil {
			return nil, err
		}
		return t.compileKey(name)
	case query.Field:
		return t.compileKey(x.Name)
	case query.All, query.Not, query.Range:
		names, err := t.selectNames([]any{x})
		if err != nil {
			return nil, err
		}
		out := make([]*named, 0, len(names))
		for _, name := range names {
			keys, err := t.compileKey(name)
			if err != nil {
				return nil, err
			}
			out = append(out, keys...)
		}
		return out, nil
	case query.Descending:
		inner, err := t.compileKey(x.Of)
		if err != nil {
			return nil, err
		}
		for _, n := range inner {
			n.desc = true
		}
		return inner, nil
	case query.Object:
		return compileObject(x, false)
	default:
		n, err := compileExpr(v, false)
		if err != nil {
			return nil, err
		}
		return []*named{n}, nil
	}
}

// compileKeys compiles every list item with compileKey.
func (t *Table) compileKeys(items []any) ([]*named, error) {
	var out []*named
	for _, item := range items {
		keys, err := t.compileKey(item)
		if err != nil {
			return nil, err
		}
		out = append(out, keys...)
	}
	return out, nil
}

// compileObject compiles a name→expression mapping in order.
func compileObject(obj query.Object, join bool) ([]*named, error) {
	out := make([]*named, 0, len(obj))
	for _, e := range obj {
		n, err := compileExpr(e.Value, join)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Key, err)
		}
		n.name = e.Key
		out = append(out, n)
	}
	return out, nil
}

// compileValues compiles an expression mapping given as an Object or as a
// list of column names and mappings.
func (t *Table) compileValues(v any) ([]*named, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case query.Object:
		return compileObject(x, false)
	case []any:
		return t.compileKeys(x)
	default:
		return t.compileKey(x)
	}
}

func (t *Table) columnAt(index float64) (string, error) {
	i := int(index)
	if float64(i) != index || i < 0 || i >= len(t.names) {
		return "", fmt.Errorf("column index %v out of range", index)
	}
	return t.names[i], nil
}

// evalColumn evaluates n at every visible row and returns a physical-length
// column; hidden rows hold nil.
func (t *Table) evalColumn(s *session, n *named) ([]any, error) {
	col := make([]any, t.nrows)
	for _, g := range t.partitions() {
		frame := n.frame
		vals, err := n.prog.Eval(s.ctx, t, g, frame)
		if err != nil {
			return nil, err
		}
		for i, r := range g.Rows {
			col[r] = vals[i]
		}
	}
	return col, nil
}

// aggregate evaluates n once per group, in group order.
func (t *Table) aggregate(s *session, n *named) ([]any, error) {
	parts := t.partitions()
	out := make([]any, len(parts))
	for i, g := range parts {
		v, err := n.prog.EvalAggregate(s.ctx, t, g)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
