package query

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Field references a column by name. Table is the zero-based input table
// position for two-table verbs; it is zero for single-table use.
type Field struct {
	Name  string
	Table int
}

// Expr is a table expression given as source text. Unlike a bare string,
// an Expr always serializes with its function marker so the receiving side
// treats it as a callable rather than a column name.
type Expr struct {
	Source string
}

// Descending marks a column reference or expression as sorted in
// descending order.
type Descending struct {
	Of any
}

// Window wraps an expression in a rolling window. A nil frame bound is
// unbounded; Peers extends the frame to rows with equal sort values.
type Window struct {
	Of    any
	Frame [2]any
	Peers bool
}

// All selects every column.
type All struct{}

// Not selects every column except the listed ones.
type Not struct {
	Items []any
}

// Range selects the columns between two names or indices, inclusive.
type Range struct {
	From any
	To   any
}

// Col returns a column reference by name.
func Col(name string) Field {
	return Field{Name: name}
}

// Func returns a function-marked expression.
func Func(source string) Expr {
	return Expr{Source: source}
}

// Desc marks a sort key descending. Bare strings are treated as column names.
func Desc(v any) Descending {
	if s, ok := v.(string); ok {
		return Descending{Of: Field{Name: s}}
	}
	return Descending{Of: Normalize(v)}
}

// Rolling wraps an expression in a window frame. Frame bounds are numbers or
// nil for unbounded; the zero frame means [nil, 0] (cumulative).
func Rolling(v any, frame []any, peers bool) Window {
	w := Window{Of: Normalize(v), Frame: [2]any{nil, 0.0}, Peers: peers}
	if len(frame) == 2 {
		w.Frame = [2]any{Normalize(frame[0]), Normalize(frame[1])}
	}
	return w
}

// Op builds an expression calling a function from the op library.
// String arguments are column names; other arguments are literals.
func Op(name string, args ...any) Expr {
	parts := make([]string, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case string:
			parts[i] = "d[" + strconv.Quote(v) + "]"
		case Field:
			parts[i] = "d[" + strconv.Quote(v.Name) + "]"
		case Expr:
			parts[i] = v.Source
		default:
			parts[i] = literal(Normalize(v))
		}
	}
	return Expr{Source: "op." + name + "(" + strings.Join(parts, ", ") + ")"}
}

func literal(v any) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case bool:
		if x {
			return "True"
		}
		return "False"
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

// Normalize converts Go values to the canonical parameter representation:
// numbers become float64, maps become Object (keys sorted), string slices
// become []any.
func Normalize(v any) any {
	switch x := v.(type) {
	case int:
		return float64(x)
	case int8:
		return float64(x)
	case int16:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case uint:
		return float64(x)
	case uint8:
		return float64(x)
	case uint16:
		return float64(x)
	case uint32:
		return float64(x)
	case uint64:
		return float64(x)
	case float32:
		return float64(x)
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out
	case []int:
		out := make([]any, len(x))
		for i, n := range x {
			out[i] = float64(n)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = Normalize(item)
		}
		return out
	case map[string]any:
		return Normalize(ObjectFromMap(x))
	case map[string]string:
		m := make(map[string]any, len(x))
		for k, s := range x {
			m[k] = s
		}
		return ObjectFromMap(m)
	case Object:
		out := make(Object, len(x))
		for i, e := range x {
			out[i] = Entry{Key: e.Key, Value: Normalize(e.Value)}
		}
		return out
	case Descending:
		return Descending{Of: Normalize(x.Of)}
	case Window:
		return Window{Of: Normalize(x.Of), Frame: [2]any{Normalize(x.Frame[0]), Normalize(x.Frame[1])}, Peers: x.Peers}
	case Not:
		return Not{Items: Normalize(x.Items).([]any)}
	case Range:
		return Range{From: Normalize(x.From), To: Normalize(x.To)}
	default:
		return v
	}
}

// toArray wraps non-list values in a single-element list.
func toArray(v any) []any {
	switch x := v.(type) {
	case nil:
		return []any{}
	case []any:
		return x
	default:
		return []any{x}
	}
}

// toPlain converts a parameter value to its JSON-compatible object form.
func toPlain(v any) (any, error) {
	switch x := v.(type) {
	case nil, string, bool, float64:
		return x, nil
	case Field, Expr, Descending, Window:
		return wrapped(x)
	case All:
		return Object{{Key: "all", Value: []any{}}}, nil
	case Not:
		items, err := toPlain(x.Items)
		if err != nil {
			return nil, err
		}
		return Object{{Key: "not", Value: items}}, nil
	case Range:
		from, err := toPlain(x.From)
		if err != nil {
			return nil, err
		}
		to, err := toPlain(x.To)
		if err != nil {
			return nil, err
		}
		return Object{{Key: "range", Value: []any{from, to}}}, nil
	case *Query:
		return x.ToObject()
	case *Builder:
		return x.ToObject()
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			p, err := toPlain(item)
			if err != nil {
				return nil, err
			}
			out[i] = p
		}
		return out, nil
	case Object:
		out := make(Object, len(x))
		for i, e := range x {
			p, err := toPlain(e.Value)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", e.Key, err)
			}
			out[i] = Entry{Key: e.Key, Value: p}
		}
		return out, nil
	default:
		if n := Normalize(v); reflect.TypeOf(n) != reflect.TypeOf(v) {
			return toPlain(n)
		}
		return nil, fmt.Errorf("unsupported parameter value %T", v)
	}
}

func wrapped(v any) (Object, error) {
	switch x := v.(type) {
	case Field:
		obj := Object{{Key: "expr", Value: x.Name}, {Key: "field", Value: true}}
		if x.Table != 0 {
			obj = append(obj, Entry{Key: "index", Value: float64(x.Table)})
		}
		return obj, nil
	case Expr:
		return Object{{Key: "expr", Value: x.Source}, {Key: "func", Value: true}}, nil
	case string:
		return Object{{Key: "expr", Value: x}}, nil
	case Window:
		obj, err := wrapped(x.Of)
		if err != nil {
			return nil, err
		}
		window := Object{
			{Key: "frame", Value: []any{x.Frame[0], x.Frame[1]}},
			{Key: "peers", Value: x.Peers},
		}
		return obj.Set("window", window), nil
	case Descending:
		obj, err := wrapped(x.Of)
		if err != nil {
			return nil, err
		}
		return obj.Set("desc", true), nil
	default:
		return nil, fmt.Errorf("cannot wrap value of type %T", v)
	}
}

// fromPlain rebuilds a parameter value from its object form.
func fromPlain(v any) (any, error) {
	switch x := v.(type) {
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			p, err := fromPlain(item)
			if err != nil {
				return nil, err
			}
			out[i] = p
		}
		return out, nil
	case map[string]any:
		return fromPlain(ObjectFromMap(x))
	case Object:
		return fromObjectValue(x)
	default:
		return Normalize(v), nil
	}
}

func fromObjectValue(obj Object) (any, error) {
	if all, ok := obj.Get("all"); ok {
		if _, isList := all.([]any); isList {
			return All{}, nil
		}
	}
	if r, ok := obj.Get("range"); ok {
		if bounds, isList := r.([]any); isList {
			if len(bounds) != 2 {
				return nil, &MalformedVerbError{Reason: "range selection needs two bounds"}
			}
			from, err := fromPlain(bounds[0])
			if err != nil {
				return nil, err
			}
			to, err := fromPlain(bounds[1])
			if err != nil {
				return nil, err
			}
			return Range{From: from, To: to}, nil
		}
	}
	if n, ok := obj.Get("not"); ok {
		if items, isList := n.([]any); isList {
			list, err := fromPlain(items)
			if err != nil {
				return nil, err
			}
			return Not{Items: list.([]any)}, nil
		}
	}
	if verbs, ok := obj.Get("verbs"); ok {
		if _, isList := verbs.([]any); isList {
			return FromObject(obj)
		}
	}
	if expr, ok := obj.Get("expr"); ok && expr != nil {
		return fromExprObject(obj, expr)
	}

	out := make(Object, len(obj))
	for i, e := range obj {
		p, err := fromPlain(e.Value)
		if err != nil {
			return nil, err
		}
		out[i] = Entry{Key: e.Key, Value: p}
	}
	return out, nil
}

func fromExprObject(obj Object, expr any) (any, error) {
	var out any
	base := expr

	if isTrue(obj, "field") {
		name, ok := expr.(string)
		if !ok {
			return nil, &MalformedVerbError{Reason: fmt.Sprintf("field name must be a string, got %T", expr)}
		}
		f := Field{Name: name}
		if idx, ok := obj.Get("index"); ok {
			if n, isNum := idx.(float64); isNum {
				f.Table = int(n)
			}
		}
		base, out = f, f
	} else if isTrue(obj, "func") {
		src, ok := expr.(string)
		if !ok {
			return nil, &MalformedVerbError{Reason: fmt.Sprintf("expression source must be a string, got %T", expr)}
		}
		base, out = Expr{Source: src}, Expr{Source: src}
	}

	if w, ok := obj.Get("window"); ok {
		if spec, isObj := w.(Object); isObj {
			win := Window{Of: base, Frame: [2]any{nil, 0.0}}
			if frame, ok := spec.Get("frame"); ok {
				bounds, isList := frame.([]any)
				if !isList || len(bounds) != 2 {
					return nil, &MalformedVerbError{Reason: "window frame must have two bounds"}
				}
				win.Frame = [2]any{bounds[0], bounds[1]}
			}
			if peers, ok := spec.Get("peers"); ok {
				win.Peers = peers == true
			}
			base, out = win, win
		}
	}

	if isTrue(obj, "desc") {
		out = Descending{Of: base}
	}

	if out == nil {
		m := make(Object, len(obj))
		for i, e := range obj {
			p, err := fromPlain(e.Value)
			if err != nil {
				return nil, err
			}
			m[i] = Entry{Key: e.Key, Value: p}
		}
		return m, nil
	}
	return out, nil
}

func isTrue(obj Object, key string) bool {
	v, ok := obj.Get(key)
	return ok && v == true
}
