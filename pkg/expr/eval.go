package expr

import (
	"fmt"

	"go.starlark.net/starlark"
)

// Context carries the evaluation state shared by every program of a verb.
type Context struct {
	Thread *starlark.Thread
	Params starlark.Value
}

// Eval evaluates the program at every position of group g. Aggregates are
// computed over the whole group, or over the sliding frame at each
// position when frame is non-nil.
func (prog *Program) Eval(ctx *Context, src Source, g Group, frame *Frame) ([]any, error) {
	n := len(g.Rows)
	rows := make([]starlark.Value, n)
	for i, idx := range g.Rows {
		rows[i] = NewRow(src, idx)
	}

	aggs, err := prog.aggregateValues(ctx, rows, g, frame)
	if err != nil {
		return nil, err
	}
	wins := make([][]starlark.Value, len(prog.Windows))
	for k, call := range prog.Windows {
		args, err := call.evalArgs(ctx, rows)
		if err != nil {
			return nil, err
		}
		values, err := windowValues(call.Name, args, g, frame)
		if err != nil {
			return nil, err
		}
		if wins[k], err = toStarlarkAll(values); err != nil {
			return nil, err
		}
	}

	out := make([]any, n)
	aggArgs := make([]starlark.Value, len(aggs))
	winArgs := make([]starlark.Value, len(wins))
	for i := range rows {
		for k := range aggs {
			aggArgs[k] = aggs[k][i]
		}
		for k := range wins {
			winArgs[k] = wins[k][i]
		}
		v, err := prog.call(ctx.Thread, rows[i:i+1], ctx.Params, aggArgs, winArgs)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", prog.Source, err)
		}
		if out[i], err = ToGo(v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// EvalAggregate evaluates an aggregate program once for group g. The body
// sees no current row.
func (prog *Program) EvalAggregate(ctx *Context, src Source, g Group) (any, error) {
	if prog.HasWindows() {
		return nil, fmt.Errorf("%s: window functions are not supported in aggregates", prog.Source)
	}
	rows := make([]starlark.Value, len(g.Rows))
	for i, idx := range g.Rows {
		rows[i] = NewRow(src, idx)
	}
	aggArgs := make([]starlark.Value, len(prog.Aggregates))
	for k, call := range prog.Aggregates {
		args, err := call.evalArgs(ctx, rows)
		if err != nil {
			return nil, err
		}
		v, err := Aggregate(call.Name, len(rows), args)
		if err != nil {
			return nil, err
		}
		if aggArgs[k], err = GoToStarlark(v); err != nil {
			return nil, err
		}
	}
	v, err := prog.call(ctx.Thread, nil, ctx.Params, aggArgs, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", prog.Source, err)
	}
	return ToGo(v)
}

// aggregateValues returns, per aggregate call, the value at each position.
func (prog *Program) aggregateValues(ctx *Context, rows []starlark.Value, g Group, frame *Frame) ([][]starlark.Value, error) {
	n := len(rows)
	out := make([][]starlark.Value, len(prog.Aggregates))
	for k, call := range prog.Aggregates {
		args, err := call.evalArgs(ctx, rows)
		if err != nil {
			return nil, err
		}
		out[k] = make([]starlark.Value, n)
		if frame == nil {
			v, err := Aggregate(call.Name, n, args)
			if err != nil {
				return nil, err
			}
			sv, err := GoToStarlark(v)
			if err != nil {
				return nil, err
			}
			for i := range out[k] {
				out[k][i] = sv
			}
			continue
		}
		for i := range out[k] {
			lo, hi := frame.Range(g, i)
			size := max(hi-lo+1, 0)
			window := make([][]any, len(args))
			for a := range args {
				if size > 0 {
					window[a] = args[a][lo : hi+1]
				}
			}
			v, err := Aggregate(call.Name, size, window)
			if err != nil {
				return nil, err
			}
			if out[k][i], err = GoToStarlark(v); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// evalArgs evaluates each argument program at every row.
func (c *Call) evalArgs(ctx *Context, rows []starlark.Value) ([][]any, error) {
	args := make([][]any, len(c.Args))
	for a, argProg := range c.Args {
		values := make([]any, len(rows))
		for i := range rows {
			v, err := argProg.call(ctx.Thread, rows[i:i+1], ctx.Params, nil, nil)
			if err != nil {
				return nil, fmt.Errorf("op.%s argument %d: %w", c.Name, a+1, err)
			}
			if values[i], err = ToGo(v); err != nil {
				return nil, err
			}
		}
		args[a] = values
	}
	return args, nil
}

func toStarlarkAll(values []any) ([]starlark.Value, error) {
	out := make([]starlark.Value, len(values))
	for i, v := range values {
		sv, err := GoToStarlark(v)
		if err != nil {
			return nil, err
		}
		out[i] = sv
	}
	return out, nil
}
