package query

import (
	"fmt"
	"strconv"

	"github.com/leapstack-labs/leapframe/pkg/expr"
)

// AST node type names produced by the translator.
const (
	NodeColumn      = "Column"
	NodeDescending  = "Descending"
	NodeWindow      = "Window"
	NodeExpressions = "Expressions"
	NodeSelection   = "Selection"
	NodeQuery       = "Query"
)

// ToAST translates the query to a JSON-compatible syntax tree.
func (q *Query) ToAST() (Object, error) {
	verbs := make([]any, len(q.verbs))
	for i, v := range q.verbs {
		node, err := VerbToAST(v)
		if err != nil {
			return nil, err
		}
		verbs[i] = node
	}
	out := Object{{Key: "type", Value: NodeQuery}, {Key: "verbs", Value: verbs}}
	if q.params != nil {
		out = append(out, Entry{Key: "params", Value: q.params})
	}
	if q.table != "" {
		out = append(out, Entry{Key: "table", Value: q.table})
	}
	return out, nil
}

// VerbToAST translates a verb's parameters to AST form. Unset parameters
// are omitted.
func VerbToAST(v Verb) (Object, error) {
	obj := Object{{Key: "verb", Value: string(v.Kind())}}
	for _, p := range v.Params() {
		if p.Value == nil {
			continue
		}
		node, err := paramAST(p.Value, p.Shape, p.Options)
		if err != nil {
			return nil, &MalformedVerbError{Kind: string(v.Kind()), Param: p.Name, Reason: err.Error()}
		}
		obj = append(obj, Entry{Key: p.Name, Value: node})
	}
	return obj, nil
}

func paramAST(value any, shape Shape, options map[string]Shape) (any, error) {
	switch shape {
	case ShapeTableRef:
		return astTableRef(value)
	case ShapeTableRefList:
		refs := toArray(value)
		out := make([]any, len(refs))
		for i, ref := range refs {
			node, err := astTableRef(ref)
			if err != nil {
				return nil, err
			}
			out[i] = node
		}
		return out, nil
	case ShapeOptions:
		return astOptions(value, options)
	case ShapeExpr:
		return astExpr(value)
	case ShapeExprList, ShapeOrderbyKeys:
		return astExprList(value)
	case ShapeExprNumber:
		if n, ok := value.(float64); ok {
			return n, nil
		}
		return astExprObject(value, false)
	case ShapeExprObject:
		return astExprObject(value, false)
	case ShapeJoinKeys:
		if list, ok := value.([]any); ok {
			out := make([]any, len(list))
			for i, keys := range list {
				node, err := astExprList(keys)
				if err != nil {
					return nil, err
				}
				out[i] = node
			}
			return out, nil
		}
		return astExprObject(value, true)
	case ShapeJoinValues:
		if list, ok := value.([]any); ok {
			out := make([]any, len(list))
			for i, vals := range list {
				var (
					node any
					err  error
				)
				if i < 2 {
					node, err = astExprList(vals)
				} else {
					node, err = astExprObject(vals, true)
				}
				if err != nil {
					return nil, err
				}
				out[i] = node
			}
			return out, nil
		}
		return astExprObject(value, true)
	case ShapeColumn:
		return astColumns(value)
	default:
		return nil, fmt.Errorf("unknown parameter shape %d", shape)
	}
}

func astOptions(value any, types map[string]Shape) (any, error) {
	obj, ok := value.(Object)
	if !ok {
		return toPlain(value)
	}
	out := make(Object, 0, len(obj))
	for _, e := range obj {
		var (
			node any
			err  error
		)
		if shape, typed := types[e.Key]; typed && e.Value != nil {
			node, err = paramAST(e.Value, shape, nil)
		} else {
			node, err = toPlain(e.Value)
		}
		if err != nil {
			return nil, fmt.Errorf("option %q: %w", e.Key, err)
		}
		out = append(out, Entry{Key: e.Key, Value: node})
	}
	return out, nil
}

func astColumn(name string) Object {
	return Object{{Key: "type", Value: NodeColumn}, {Key: "name", Value: name}}
}

func astColumnIndex(index float64) Object {
	return Object{{Key: "type", Value: NodeColumn}, {Key: "index", Value: index}}
}

func astParse(source string, join bool) (any, error) {
	node, err := expr.ParseAST(source, expr.Options{Join: join})
	if err != nil {
		return nil, err
	}
	return node, nil
}

func astExpr(value any) (any, error) {
	switch v := value.(type) {
	case All, Not, Range:
		return astSelection(v)
	case float64:
		return astColumnIndex(v), nil
	case string:
		return astColumn(v), nil
	case Field:
		return astColumn(v.Name), nil
	default:
		return astExprObject(v, false)
	}
}

func astExprList(value any) ([]any, error) {
	items := toArray(value)
	out := make([]any, len(items))
	for i, item := range items {
		node, err := astExpr(item)
		if err != nil {
			return nil, err
		}
		out[i] = node
	}
	return out, nil
}

func astExprObject(value any, join bool) (any, error) {
	switch v := value.(type) {
	case string:
		return astParse(v, join)
	case Expr:
		return astParse(v.Source, join)
	case Field:
		return astColumn(v.Name), nil
	case Descending:
		inner, err := astExprObject(v.Of, join)
		if err != nil {
			return nil, err
		}
		return Object{{Key: "type", Value: NodeDescending}, {Key: "expr", Value: inner}}, nil
	case Window:
		inner, err := astExprObject(v.Of, join)
		if err != nil {
			return nil, err
		}
		return Object{
			{Key: "type", Value: NodeWindow},
			{Key: "frame", Value: []any{v.Frame[0], v.Frame[1]}},
			{Key: "peers", Value: v.Peers},
			{Key: "expr", Value: inner},
		}, nil
	case Object:
		values := make(Object, len(v))
		for i, e := range v {
			node, err := astExprObject(e.Value, join)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", e.Key, err)
			}
			values[i] = Entry{Key: e.Key, Value: node}
		}
		return Object{{Key: "type", Value: NodeExpressions}, {Key: "values", Value: values}}, nil
	case float64:
		return Object{{Key: "type", Value: "Literal"}, {Key: "value", Value: v}, {Key: "raw", Value: strconv.FormatFloat(v, 'g', -1, 64)}}, nil
	case bool:
		return Object{{Key: "type", Value: "Literal"}, {Key: "value", Value: v}, {Key: "raw", Value: strconv.FormatBool(v)}}, nil
	default:
		return nil, fmt.Errorf("invalid expression input %T", value)
	}
}

func astSelection(value any) (any, error) {
	sel := Object{{Key: "type", Value: NodeSelection}}
	switch v := value.(type) {
	case All:
		return sel.Set("operator", "all"), nil
	case Not:
		args, err := astExprList(v.Items)
		if err != nil {
			return nil, err
		}
		return sel.Set("operator", "not").Set("arguments", args), nil
	case Range:
		args, err := astExprList([]any{v.From, v.To})
		if err != nil {
			return nil, err
		}
		return sel.Set("operator", "range").Set("arguments", args), nil
	default:
		return nil, fmt.Errorf("invalid selection %T", value)
	}
}

// astColumns renders a column list. Rename mappings expand in place to
// column nodes annotated with their output name.
func astColumns(value any) ([]any, error) {
	var out []any
	for _, item := range toArray(value) {
		obj, ok := item.(Object)
		if !ok {
			node, err := astExpr(item)
			if err != nil {
				return nil, err
			}
			out = append(out, node)
			continue
		}
		for _, e := range obj {
			as, isName := e.Value.(string)
			if !isName {
				return nil, fmt.Errorf("rename of %q must be a column name, got %T", e.Key, e.Value)
			}
			out = append(out, astColumn(e.Key).Set("as", as))
		}
	}
	if out == nil {
		out = []any{}
	}
	return out, nil
}

func astTableRef(value any) (any, error) {
	switch v := value.(type) {
	case *Query:
		return v.ToAST()
	case *Builder:
		return v.ToAST()
	default:
		return v, nil
	}
}
