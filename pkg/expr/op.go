package expr

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"
)

// aggregateFuncs are evaluated over all rows of a group or window frame.
var aggregateFuncs = map[string]bool{
	"count": true, "distinct": true, "valid": true, "invalid": true,
	"sum": true, "product": true, "mean": true, "average": true,
	"median": true, "quantile": true, "mode": true, "min": true, "max": true,
	"any": true, "variance": true, "stdev": true, "array_agg": true,
}

// windowFuncs are evaluated per row over an ordered group.
var windowFuncs = map[string]bool{
	"row_number": true, "rank": true, "dense_rank": true,
	"percent_rank": true, "cume_dist": true, "ntile": true,
	"lag": true, "lead": true,
	"first_value": true, "last_value": true, "nth_value": true,
}

// IsAggregate reports whether name is an aggregate function.
func IsAggregate(name string) bool { return aggregateFuncs[name] }

// IsWindow reports whether name is a window function.
func IsWindow(name string) bool { return windowFuncs[name] }

var opModule = newOpModule()

func newOpModule() *starlarkstruct.Module {
	members := starlark.StringDict{
		"abs":         unaryMath("abs", math.Abs),
		"ceil":        unaryMath("ceil", math.Ceil),
		"floor":       unaryMath("floor", math.Floor),
		"sqrt":        unaryMath("sqrt", math.Sqrt),
		"exp":         unaryMath("exp", math.Exp),
		"log":         unaryMath("log", math.Log),
		"log10":       unaryMath("log10", math.Log10),
		"sign":        unaryMath("sign", sign),
		"trunc":       unaryMath("trunc", math.Trunc),
		"round":       starlark.NewBuiltin("round", opRound),
		"pow":         starlark.NewBuiltin("pow", opPow),
		"least":       starlark.NewBuiltin("least", extremum(-1)),
		"greatest":    starlark.NewBuiltin("greatest", extremum(1)),
		"lower":       stringFunc("lower", strings.ToLower),
		"upper":       stringFunc("upper", strings.ToUpper),
		"trim":        stringFunc("trim", strings.TrimSpace),
		"length":      starlark.NewBuiltin("length", opLength),
		"split":       starlark.NewBuiltin("split", opSplit),
		"join":        starlark.NewBuiltin("join", opJoin),
		"includes":    starlark.NewBuiltin("includes", opIncludes),
		"startswith":  starlark.NewBuiltin("startswith", stringPredicate(strings.HasPrefix)),
		"endswith":    starlark.NewBuiltin("endswith", stringPredicate(strings.HasSuffix)),
		"replace":     starlark.NewBuiltin("replace", opReplace),
		"substring":   starlark.NewBuiltin("substring", opSubstring),
		"equal":       starlark.NewBuiltin("equal", opEqual),
		"is_valid":    starlark.NewBuiltin("is_valid", opIsValid),
		"is_nan":      starlark.NewBuiltin("is_nan", opIsNaN),
		"parse_float": starlark.NewBuiltin("parse_float", opParseFloat),
		"parse_int":   starlark.NewBuiltin("parse_int", opParseInt),
		"random":      starlark.NewBuiltin("random", opRandom),
	}
	for name := range aggregateFuncs {
		members[name] = misplaced(name, "aggregate")
	}
	for name := range windowFuncs {
		members[name] = misplaced(name, "window")
	}
	return &starlarkstruct.Module{Name: opNamespace, Members: members}
}

func misplaced(name, kind string) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(_ *starlark.Thread, _ *starlark.Builtin, _ starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
		return nil, fmt.Errorf("op.%s is a %s function and cannot be used in this position", name, kind)
	})
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return x
	}
}

func unaryMath(name string, f func(float64) float64) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var x starlark.Value
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
			return nil, err
		}
		if x == starlark.None {
			return starlark.None, nil
		}
		v, ok := starlark.AsFloat(x)
		if !ok {
			return nil, fmt.Errorf("%s: got %s, want number", b.Name(), x.Type())
		}
		return starlark.Float(f(v)), nil
	})
}

func opRound(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	digits := 0
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x, &digits); err != nil {
		return nil, err
	}
	if x == starlark.None {
		return starlark.None, nil
	}
	v, ok := starlark.AsFloat(x)
	if !ok {
		return nil, fmt.Errorf("round: got %s, want number", x.Type())
	}
	scale := math.Pow(10, float64(digits))
	return starlark.Float(math.Round(v*scale) / scale), nil
}

func opPow(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x, y starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &x, &y); err != nil {
		return nil, err
	}
	base, ok := starlark.AsFloat(x)
	if !ok {
		return nil, fmt.Errorf("pow: got %s, want number", x.Type())
	}
	exp, ok := starlark.AsFloat(y)
	if !ok {
		return nil, fmt.Errorf("pow: got %s, want number", y.Type())
	}
	return starlark.Float(math.Pow(base, exp)), nil
}

// extremum returns least (dir -1) or greatest (dir 1) of its arguments,
// ignoring None.
func extremum(dir int) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
		var best starlark.Value = starlark.None
		for _, a := range args {
			if a == starlark.None {
				continue
			}
			if best == starlark.None {
				best = a
				continue
			}
			op := syntax.LT
			if dir > 0 {
				op = syntax.GT
			}
			better, err := starlark.Compare(op, a, best)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", b.Name(), err)
			}
			if better {
				best = a
			}
		}
		return best, nil
	}
}

func stringFunc(name string, f func(string) string) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var x starlark.Value
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
			return nil, err
		}
		if x == starlark.None {
			return starlark.None, nil
		}
		s, ok := starlark.AsString(x)
		if !ok {
			s = x.String()
		}
		return starlark.String(f(s)), nil
	})
}

func stringPredicate(f func(s, affix string) bool) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var s, affix string
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &s, &affix); err != nil {
			return nil, err
		}
		return starlark.Bool(f(s, affix)), nil
	}
}

func opLength(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
		return nil, err
	}
	if x == starlark.None {
		return starlark.None, nil
	}
	if s, ok := x.(starlark.String); ok {
		return starlark.MakeInt(len([]rune(string(s)))), nil
	}
	if n := starlark.Len(x); n >= 0 {
		return starlark.MakeInt(n), nil
	}
	return nil, fmt.Errorf("length: unsupported type %s", x.Type())
}

func opSplit(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	var sep string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &x, &sep); err != nil {
		return nil, err
	}
	if x == starlark.None {
		return starlark.None, nil
	}
	s, ok := starlark.AsString(x)
	if !ok {
		return nil, fmt.Errorf("split: expected string, got %s", x.Type())
	}
	parts := strings.Split(s, sep)
	out := make([]starlark.Value, len(parts))
	for i, p := range parts {
		out[i] = starlark.String(p)
	}
	return starlark.NewList(out), nil
}

func opJoin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var list starlark.Iterable
	sep := ","
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &list, &sep); err != nil {
		return nil, err
	}
	var parts []string
	iter := list.Iterate()
	defer iter.Done()
	var item starlark.Value
	for iter.Next(&item) {
		if s, ok := starlark.AsString(item); ok {
			parts = append(parts, s)
		} else {
			parts = append(parts, item.String())
		}
	}
	return starlark.String(strings.Join(parts, sep)), nil
}

func opIncludes(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var seq, x starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &seq, &x); err != nil {
		return nil, err
	}
	if seq == starlark.None {
		return starlark.False, nil
	}
	if s, ok := seq.(starlark.String); ok {
		sub, isStr := starlark.AsString(x)
		return starlark.Bool(isStr && strings.Contains(string(s), sub)), nil
	}
	iterable, ok := seq.(starlark.Iterable)
	if !ok {
		return nil, fmt.Errorf("includes: unsupported type %s", seq.Type())
	}
	iter := iterable.Iterate()
	defer iter.Done()
	var item starlark.Value
	for iter.Next(&item) {
		eq, err := starlark.Equal(item, x)
		if err != nil {
			return nil, err
		}
		if eq {
			return starlark.True, nil
		}
	}
	return starlark.False, nil
}

func opReplace(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var s, old, repl string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 3, &s, &old, &repl); err != nil {
		return nil, err
	}
	return starlark.String(strings.ReplaceAll(s, old, repl)), nil
}

func opSubstring(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var s string
	start, end := 0, -1
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &s, &start, &end); err != nil {
		return nil, err
	}
	runes := []rune(s)
	if end < 0 || end > len(runes) {
		end = len(runes)
	}
	if start < 0 {
		start = 0
	}
	if start > end {
		return starlark.String(""), nil
	}
	return starlark.String(string(runes[start:end])), nil
}

func opEqual(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x, y starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &x, &y); err != nil {
		return nil, err
	}
	eq, err := starlark.Equal(x, y)
	if err != nil {
		return nil, err
	}
	return starlark.Bool(eq), nil
}

func opIsValid(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
		return nil, err
	}
	if x == starlark.None {
		return starlark.False, nil
	}
	if f, ok := x.(starlark.Float); ok && math.IsNaN(float64(f)) {
		return starlark.False, nil
	}
	return starlark.True, nil
}

func opIsNaN(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
		return nil, err
	}
	f, ok := x.(starlark.Float)
	return starlark.Bool(ok && math.IsNaN(float64(f))), nil
}

func opParseFloat(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var s string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &s); err != nil {
		return nil, err
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return starlark.Float(math.NaN()), nil
	}
	return starlark.Float(f), nil
}

func opParseInt(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var s string
	base := 10
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &s, &base); err != nil {
		return nil, err
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), base, 64)
	if err != nil {
		return starlark.Float(math.NaN()), nil
	}
	return starlark.MakeInt64(n), nil
}

func opRandom(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	if rnd, ok := thread.Local(randomKey).(RandomSource); ok && rnd != nil {
		return starlark.Float(rnd.Float64()), nil
	}
	return starlark.Float(rand.Float64()), nil
}
