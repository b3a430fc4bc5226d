package expr

import (
	"errors"
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Program is a compiled expression. Aggregate and window calls are lifted
// out of the body and computed by the caller's group context; the body
// receives their values as extra arguments.
type Program struct {
	Source     string
	fn         *starlark.Function
	rows       int
	Aggregates []*Call
	Windows    []*Call
	// Column is set when the body is a plain column reference.
	Column string
}

// Call is an aggregate or window function call lifted out of a program.
type Call struct {
	Name string
	Args []*Program
}

var predeclared = starlark.StringDict{
	opNamespace:   opModule,
	mathNamespace: opModule,
}

// ErrNestedAggregate reports an aggregate or window call inside the
// argument of another one.
var ErrNestedAggregate = errors.New("aggregate and window functions cannot be nested")

// Compile parses and compiles src.
func Compile(src string, opts Options) (*Program, error) {
	p, err := Parse(src, opts)
	if err != nil {
		return nil, err
	}
	prog, err := compileParsed(p, p.Body, true)
	if err != nil {
		return nil, &ParseError{Source: src, Err: err}
	}
	return prog, nil
}

// ColumnProgram compiles a plain column reference.
func ColumnProgram(name string) (*Program, error) {
	return Compile(fmt.Sprintf("d[%q]", name), Options{})
}

func compileParsed(p *Parsed, body syntax.Expr, lift bool) (*Program, error) {
	prog := &Program{Source: p.Source, rows: len(p.Rows)}
	if name, ok := p.columnName(body); ok {
		prog.Column = name
	}

	var err error
	body, err = prog.lift(p, body, lift)
	if err != nil {
		return nil, err
	}

	start, _ := body.Span()
	params := make([]syntax.Expr, 0, len(p.Rows)+1+len(prog.Aggregates)+len(prog.Windows))
	for _, r := range p.Rows {
		params = append(params, &syntax.Ident{NamePos: start, Name: r})
	}
	params = append(params, &syntax.Ident{NamePos: start, Name: p.Params})
	for i := range prog.Aggregates {
		params = append(params, &syntax.Ident{NamePos: start, Name: aggName(i)})
	}
	for i := range prog.Windows {
		params = append(params, &syntax.Ident{NamePos: start, Name: winName(i)})
	}
	lambda := &syntax.LambdaExpr{Lambda: start, Params: params, Body: body}

	thread := &starlark.Thread{Name: "compile"}
	v, err := starlark.EvalExprOptions(fileOptions, thread, lambda, predeclared)
	if err != nil {
		return nil, err
	}
	fn, ok := v.(*starlark.Function)
	if !ok {
		return nil, fmt.Errorf("expression compiled to %s, not a function", v.Type())
	}
	prog.fn = fn
	return prog, nil
}

func aggName(i int) string { return fmt.Sprintf("__agg%d", i) }
func winName(i int) string { return fmt.Sprintf("__win%d", i) }

// columnName reports whether body is a plain reference to a column of the
// first row.
func (p *Parsed) columnName(body syntax.Expr) (string, bool) {
	switch x := body.(type) {
	case *syntax.ParenExpr:
		return p.columnName(x.X)
	case *syntax.DotExpr:
		if id, ok := x.X.(*syntax.Ident); ok && p.rowIndex(id.Name) == 0 {
			return x.Name.Name, true
		}
	case *syntax.IndexExpr:
		if id, ok := x.X.(*syntax.Ident); ok && p.rowIndex(id.Name) == 0 {
			if lit, isLit := x.Y.(*syntax.Literal); isLit && lit.Token == syntax.STRING {
				return lit.Value.(string), true
			}
		}
	}
	return "", false
}

// lift replaces aggregate and window calls with placeholder identifiers
// and compiles their arguments as separate row programs.
func (prog *Program) lift(p *Parsed, e syntax.Expr, allowed bool) (syntax.Expr, error) {
	var err error
	switch x := e.(type) {
	case *syntax.CallExpr:
		if name, ok := libraryCall(x); ok && (IsAggregate(name) || IsWindow(name)) {
			if !allowed {
				return nil, ErrNestedAggregate
			}
			call := &Call{Name: name}
			for _, arg := range x.Args {
				if _, isKw := arg.(*syntax.BinaryExpr); isKw && arg.(*syntax.BinaryExpr).Op == syntax.EQ {
					return nil, fmt.Errorf("keyword arguments are not supported in %s()", name)
				}
				argProg, err := compileParsed(p, arg, false)
				if err != nil {
					return nil, err
				}
				call.Args = append(call.Args, argProg)
			}
			start, _ := x.Span()
			var id string
			if IsAggregate(name) {
				id = aggName(len(prog.Aggregates))
				prog.Aggregates = append(prog.Aggregates, call)
			} else {
				id = winName(len(prog.Windows))
				prog.Windows = append(prog.Windows, call)
			}
			return &syntax.Ident{NamePos: start, Name: id}, nil
		}
		if x.Fn, err = prog.lift(p, x.Fn, allowed); err != nil {
			return nil, err
		}
		for i := range x.Args {
			if x.Args[i], err = prog.lift(p, x.Args[i], allowed); err != nil {
				return nil, err
			}
		}
	case *syntax.BinaryExpr:
		if x.X, err = prog.lift(p, x.X, allowed); err != nil {
			return nil, err
		}
		if x.Y, err = prog.lift(p, x.Y, allowed); err != nil {
			return nil, err
		}
	case *syntax.UnaryExpr:
		if x.X != nil {
			if x.X, err = prog.lift(p, x.X, allowed); err != nil {
				return nil, err
			}
		}
	case *syntax.ParenExpr:
		if x.X, err = prog.lift(p, x.X, allowed); err != nil {
			return nil, err
		}
	case *syntax.CondExpr:
		if x.Cond, err = prog.lift(p, x.Cond, allowed); err != nil {
			return nil, err
		}
		if x.True, err = prog.lift(p, x.True, allowed); err != nil {
			return nil, err
		}
		if x.False, err = prog.lift(p, x.False, allowed); err != nil {
			return nil, err
		}
	case *syntax.DotExpr:
		if x.X, err = prog.lift(p, x.X, allowed); err != nil {
			return nil, err
		}
	case *syntax.IndexExpr:
		if x.X, err = prog.lift(p, x.X, allowed); err != nil {
			return nil, err
		}
		if x.Y, err = prog.lift(p, x.Y, allowed); err != nil {
			return nil, err
		}
	case *syntax.ListExpr:
		for i := range x.List {
			if x.List[i], err = prog.lift(p, x.List[i], allowed); err != nil {
				return nil, err
			}
		}
	case *syntax.TupleExpr:
		for i := range x.List {
			if x.List[i], err = prog.lift(p, x.List[i], allowed); err != nil {
				return nil, err
			}
		}
	case *syntax.DictExpr:
		for _, item := range x.List {
			entry := item.(*syntax.DictEntry)
			if entry.Key, err = prog.lift(p, entry.Key, allowed); err != nil {
				return nil, err
			}
			if entry.Value, err = prog.lift(p, entry.Value, allowed); err != nil {
				return nil, err
			}
		}
	case *syntax.Ident, *syntax.Literal:
	default:
		return nil, fmt.Errorf("unsupported expression %T", e)
	}
	return e, nil
}

func libraryCall(x *syntax.CallExpr) (string, bool) {
	dot, ok := x.Fn.(*syntax.DotExpr)
	if !ok {
		return "", false
	}
	id, ok := dot.X.(*syntax.Ident)
	if !ok || !isNamespace(id.Name) {
		return "", false
	}
	return dot.Name.Name, true
}

// HasAggregates reports whether the program uses aggregate functions.
func (prog *Program) HasAggregates() bool { return len(prog.Aggregates) > 0 }

// HasWindows reports whether the program uses window functions.
func (prog *Program) HasWindows() bool { return len(prog.Windows) > 0 }

// Call evaluates the program for a single row tuple. Programs with
// aggregate or window calls cannot be evaluated this way.
func (prog *Program) Call(thread *starlark.Thread, params starlark.Value, rows ...starlark.Value) (starlark.Value, error) {
	if prog.HasAggregates() || prog.HasWindows() {
		return nil, fmt.Errorf("%s: aggregate and window functions are not supported here", prog.Source)
	}
	return prog.call(thread, rows, params, nil, nil)
}

func (prog *Program) call(thread *starlark.Thread, rows []starlark.Value, params starlark.Value, aggs, wins []starlark.Value) (starlark.Value, error) {
	args := make(starlark.Tuple, 0, prog.rows+1+len(aggs)+len(wins))
	for i := 0; i < prog.rows; i++ {
		if i < len(rows) && rows[i] != nil {
			args = append(args, rows[i])
		} else {
			args = append(args, starlark.None)
		}
	}
	if params == nil {
		params = starlark.None
	}
	args = append(args, params)
	args = append(args, aggs...)
	args = append(args, wins...)
	return starlark.Call(thread, prog.fn, args, nil)
}
