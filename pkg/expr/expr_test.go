package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"
)

type testSource struct {
	names []string
	cols  map[string][]any
}

func (s *testSource) Column(name string) ([]any, bool) {
	c, ok := s.cols[name]
	return c, ok
}

func (s *testSource) ColumnNames() []string { return s.names }

func newSource(cols ...any) *testSource {
	s := &testSource{cols: map[string][]any{}}
	for i := 0; i+1 < len(cols); i += 2 {
		name := cols[i].(string)
		s.names = append(s.names, name)
		s.cols[name] = cols[i+1].([]any)
	}
	return s
}

func allRows(n int) Group {
	g := Group{Rows: make([]int, n)}
	for i := range g.Rows {
		g.Rows[i] = i
	}
	return g
}

func newContext(t *testing.T, params map[string]any) *Context {
	t.Helper()
	p, err := NewParams(params)
	require.NoError(t, err)
	return &Context{Thread: &starlark.Thread{Name: t.Name()}, Params: p}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		opts   Options
		rows   []string
		params string
	}{
		{"bare body", "d.x + 1", Options{}, []string{"d"}, "params"},
		{"bare join body", "a.x == b.y", Options{Join: true}, []string{"a", "b"}, "params"},
		{"lambda", "lambda row: row.x", Options{}, []string{"row"}, "__params"},
		{"lambda with params", "lambda row, $: row.x", Options{}, nil, ""},
		{"lambda params", "lambda r, p: r.x > p.min", Options{}, []string{"r"}, "p"},
		{"padded join lambda", "lambda l: l.x", Options{Join: true}, []string{"l", "__row1"}, "__params"},
		{"arrow", "d => d.x + 1", Options{}, []string{"d"}, "__params"},
		{"arrow tuple params", "(r, p) => r.x > p.min", Options{}, []string{"r"}, "p"},
		{"arrow join", "(a, b) => a.k == b.k", Options{Join: true}, []string{"a", "b"}, "__params"},
		{"arrow no params", "() => 1", Options{}, []string{"__row0"}, "__params"},
		{"arrow bad param", "$ => $.x", Options{}, nil, ""},
		{"arrow in string literal", `d.s == "=>"`, Options{}, []string{"d"}, "params"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Parse(tt.src, tt.opts)
			if tt.rows == nil {
				require.Error(t, err)
				var pe *ParseError
				assert.ErrorAs(t, err, &pe)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.rows, p.Rows)
			assert.Equal(t, tt.params, p.Params)
		})
	}
}

func TestParseTooManyParameters(t *testing.T) {
	_, err := Parse("lambda a, b, c: a.x", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many lambda parameters")
}

func TestParseAST(t *testing.T) {
	t.Run("binary over columns", func(t *testing.T) {
		n, err := ParseAST("d.foo + params.k", Options{})
		require.NoError(t, err)
		assert.Equal(t, Node{
			"type":     "BinaryExpression",
			"operator": "+",
			"left":     Node{"type": "Column", "name": "foo"},
			"right":    Node{"type": "Parameter", "name": "k"},
		}, n)
	})

	t.Run("join columns carry table", func(t *testing.T) {
		n, err := ParseAST("a.k == b.k", Options{Join: true})
		require.NoError(t, err)
		assert.Equal(t, "===", n["operator"])
		assert.Equal(t, Node{"type": "Column", "name": "k", "table": 1}, n["left"])
		assert.Equal(t, Node{"type": "Column", "name": "k", "table": 2}, n["right"])
	})

	t.Run("function call", func(t *testing.T) {
		n, err := ParseAST(`op.sum(d["unit price"])`, Options{})
		require.NoError(t, err)
		assert.Equal(t, "CallExpression", n["type"])
		assert.Equal(t, Node{"type": "Function", "name": "sum"}, n["callee"])
		assert.Equal(t, []any{Node{"type": "Column", "name": "unit price"}}, n["arguments"])
	})

	t.Run("logical and literals", func(t *testing.T) {
		n, err := ParseAST("d.x > 2 and not d.flag", Options{})
		require.NoError(t, err)
		assert.Equal(t, "LogicalExpression", n["type"])
		assert.Equal(t, "&&", n["operator"])
		left := n["left"].(Node)
		assert.Equal(t, Node{"type": "Literal", "value": 2.0, "raw": "2"}, left["right"])
	})

	t.Run("uncalled namespace", func(t *testing.T) {
		_, err := ParseAST("op.sum", Options{})
		require.Error(t, err)
	})
}

func TestCompileRowExpression(t *testing.T) {
	src := newSource("x", []any{1.0, 2.0, 3.0}, "s", []any{"a", "b", "c"})
	ctx := newContext(t, map[string]any{"k": 10.0})

	tests := []struct {
		name string
		src  string
		want []any
	}{
		{"arithmetic", "d.x * 2 + params.k", []any{12.0, 14.0, 16.0}},
		{"index syntax", `d["x"] - 1`, []any{0.0, 1.0, 2.0}},
		{"string function", "op.upper(d.s)", []any{"A", "B", "C"}},
		{"conditional", `"big" if d.x > 1 else "small"`, []any{"small", "big", "big"}},
		{"lambda", "lambda r, p: r.x + p.k", []any{11.0, 12.0, 13.0}},
		{"arrow", "(r, p) => r.x + p.k", []any{11.0, 12.0, 13.0}},
		{"math", "op.round(op.sqrt(d.x) * 10) + op.pow(d.x, 2)", []any{11.0, 18.0, 26.0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog, err := Compile(tt.src, Options{})
			require.NoError(t, err)
			got, err := prog.Eval(ctx, src, allRows(3), nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompileColumn(t *testing.T) {
	prog, err := Compile("d.price", Options{})
	require.NoError(t, err)
	assert.Equal(t, "price", prog.Column)

	prog, err = Compile("d.price + 1", Options{})
	require.NoError(t, err)
	assert.Empty(t, prog.Column)
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"syntax", "d.x +"},
		{"nested aggregate", "op.sum(op.mean(d.x))"},
		{"unknown identifier", "foo + 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.src, Options{})
			require.Error(t, err)
			var pe *ParseError
			assert.ErrorAs(t, err, &pe)
		})
	}

	_, err := Compile("op.sum(op.mean(d.x))", Options{})
	assert.ErrorIs(t, err, ErrNestedAggregate)
}

func TestEvalAggregate(t *testing.T) {
	src := newSource("x", []any{1.0, 2.0, 3.0, nil}, "y", []any{4.0, 5.0, 6.0, 7.0})
	ctx := newContext(t, nil)

	tests := []struct {
		src  string
		want any
	}{
		{"op.sum(d.x)", 6.0},
		{"op.sum(d.y)", 22.0},
		{"op.count()", 4.0},
		{"op.count(d.x)", 3.0},
		{"op.valid(d.x)", 3.0},
		{"op.invalid(d.x)", 1.0},
		{"op.mean(d.x)", 2.0},
		{"op.median(d.y)", 5.5},
		{"op.min(d.x)", 1.0},
		{"op.max(d.y)", 7.0},
		{"op.product(d.x)", 6.0},
		{"op.variance(d.x)", 1.0},
		{"op.stdev(d.x)", 1.0},
		{"op.quantile(d.y, 0.5)", 5.5},
		{"op.any(d.x)", 1.0},
		{"op.distinct(d.x)", 4.0},
		{"op.array_agg(d.x)", []any{1.0, 2.0, 3.0, nil}},
		{"op.sum(d.x) / op.count()", 1.5},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			prog, err := Compile(tt.src, Options{})
			require.NoError(t, err)
			assert.True(t, prog.HasAggregates())
			got, err := prog.EvalAggregate(ctx, src, allRows(4))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAggregateEmpty(t *testing.T) {
	for _, name := range []string{"mean", "median", "min", "max", "mode", "variance", "stdev", "any"} {
		v, err := Aggregate(name, 0, [][]any{{}})
		require.NoError(t, err, name)
		assert.Nil(t, v, name)
	}
	v, err := Aggregate("sum", 0, [][]any{{}})
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)

	_, err = Aggregate("nope", 0, nil)
	assert.Error(t, err)
}

func TestRollingFrames(t *testing.T) {
	src := newSource("x", []any{0.0, 1.0, 2.0, 3.0})
	ctx := newContext(t, nil)

	one := 1
	zero := 0
	tests := []struct {
		name  string
		src   string
		frame *Frame
		want  []any
	}{
		{"cumulative sum", "op.sum(d.x)", DefaultFrame(), []any{0.0, 1.0, 3.0, 6.0}},
		{"forward product", "op.product(d.x)", &Frame{Lo: &zero, Hi: &one}, []any{0.0, 2.0, 6.0, 3.0}},
		{"unbounded", "op.sum(d.x)", &Frame{}, []any{6.0, 6.0, 6.0, 6.0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog, err := Compile(tt.src, Options{})
			require.NoError(t, err)
			got, err := prog.Eval(ctx, src, allRows(4), tt.frame)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFramePeers(t *testing.T) {
	g := Group{Rows: []int{0, 1, 2, 3}, Peers: []int{0, 0, 1, 1}}
	f := &Frame{Hi: new(int), Peers: true}
	lo, hi := f.Range(g, 0)
	assert.Equal(t, 0, lo)
	assert.Equal(t, 1, hi)
	lo, hi = f.Range(g, 2)
	assert.Equal(t, 0, lo)
	assert.Equal(t, 3, hi)
}

func TestWindowFunctions(t *testing.T) {
	src := newSource("x", []any{10.0, 20.0, 20.0, 30.0})
	ctx := newContext(t, nil)
	g := Group{Rows: []int{0, 1, 2, 3}, Peers: []int{0, 1, 1, 2}}

	tests := []struct {
		src  string
		want []any
	}{
		{"op.row_number()", []any{1.0, 2.0, 3.0, 4.0}},
		{"op.rank()", []any{1.0, 2.0, 2.0, 4.0}},
		{"op.dense_rank()", []any{1.0, 2.0, 2.0, 3.0}},
		{"op.percent_rank()", []any{0.0, 1.0 / 3, 1.0 / 3, 1.0}},
		{"op.cume_dist()", []any{0.25, 0.75, 0.75, 1.0}},
		{"op.lag(d.x)", []any{nil, 10.0, 20.0, 20.0}},
		{"op.lead(d.x, 2, 0)", []any{20.0, 30.0, 0.0, 0.0}},
		{"op.first_value(d.x)", []any{10.0, 10.0, 10.0, 10.0}},
		{"op.last_value(d.x)", []any{30.0, 30.0, 30.0, 30.0}},
		{"op.nth_value(d.x, 2)", []any{20.0, 20.0, 20.0, 20.0}},
		{"op.ntile(2)", []any{1.0, 1.0, 2.0, 2.0}},
		{"d.x - op.lag(d.x, 1, d.x)", []any{0.0, 10.0, 0.0, 10.0}},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			prog, err := Compile(tt.src, Options{})
			require.NoError(t, err)
			assert.True(t, prog.HasWindows())
			got, err := prog.Eval(ctx, src, g, nil)
			require.NoError(t, err)
			assert.InDeltaSlice(t, toFloats(tt.want), toFloats(got), 1e-9)
			for i := range tt.want {
				if tt.want[i] == nil {
					assert.Nil(t, got[i])
				}
			}
		})
	}
}

func toFloats(vs []any) []float64 {
	out := make([]float64, len(vs))
	for i, v := range vs {
		f, _ := toFloat(v)
		out[i] = f
	}
	return out
}

func TestJoinPredicate(t *testing.T) {
	left := newSource("k", []any{"A", "B"})
	right := newSource("k", []any{"B", "A"})
	prog, err := Compile("a.k == b.k", Options{Join: true})
	require.NoError(t, err)

	thread := &starlark.Thread{}
	v, err := prog.Call(thread, nil, NewRow(left, 0), NewRow(right, 1))
	require.NoError(t, err)
	assert.Equal(t, starlark.True, v)

	v, err = prog.Call(thread, nil, NewRow(left, 0), NewRow(right, 0))
	require.NoError(t, err)
	assert.Equal(t, starlark.False, v)

	agg, err := Compile("op.sum(a.k)", Options{Join: true})
	require.NoError(t, err)
	_, err = agg.Call(thread, nil, NewRow(left, 0), NewRow(right, 0))
	assert.Error(t, err)
}

func TestMissingRow(t *testing.T) {
	src := newSource("x", []any{1.0})
	prog, err := Compile("b.x", Options{Join: true})
	require.NoError(t, err)
	v, err := prog.Call(&starlark.Thread{}, nil, NewRow(src, 0), NewRow(src, -1))
	require.NoError(t, err)
	assert.Equal(t, starlark.None, v)
}

func TestRandomUsesThreadSource(t *testing.T) {
	pool := NewThreadPool(1)
	thread := pool.Get("random", fixedRandom(0.25))
	defer pool.Put(thread)

	prog, err := Compile("op.random()", Options{})
	require.NoError(t, err)
	v, err := prog.Call(thread, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, starlark.Float(0.25), v)
}

type fixedRandom float64

func (f fixedRandom) Float64() float64 { return float64(f) }

func TestCompare(t *testing.T) {
	assert.Equal(t, -1, Compare(1.0, 2.0))
	assert.Equal(t, 1, Compare("b", "a"))
	assert.Equal(t, -1, Compare(1.0, "a"))
	assert.Equal(t, 1, Compare(nil, 1.0))
	assert.Equal(t, 0, Compare(nil, nil))
	assert.True(t, Equal(1.0, 1))
	assert.False(t, Equal("1", 1.0))
}
