package query

import "fmt"

// flatten expands one level of list arguments, matching variadic verb calls
// such as Groupby("a", []string{"b", "c"}).
func flatten(args []any) []any {
	out := make([]any, 0, len(args))
	for _, a := range args {
		switch x := Normalize(a).(type) {
		case []any:
			out = append(out, x...)
		default:
			out = append(out, x)
		}
	}
	return out
}

// orderbyKeys resolves sort keys: strings become column references,
// mappings contribute their values, numbers and expressions pass through.
func orderbyKeys(keys []any) ([]any, error) {
	list := make([]any, 0, len(keys))
	for _, param := range keys {
		switch p := Normalize(param).(type) {
		case Object:
			for _, e := range p {
				list = append(list, e.Value)
			}
		case string:
			list = append(list, Field{Name: p})
		case float64, Field, Expr, Window:
			list = append(list, p)
		case Descending:
			if s, ok := p.Of.(string); ok {
				list = append(list, Descending{Of: Field{Name: s}})
			} else {
				list = append(list, p)
			}
		default:
			return nil, fmt.Errorf("invalid orderby field: %v", param)
		}
	}
	return list, nil
}

// joinKeys normalizes join criteria. A list holds per-table key lists where
// strings become column references bound to that table position; anything
// else is a predicate expression and passes through.
func joinKeys(keys any) (any, error) {
	list, ok := keys.([]any)
	if !ok {
		return keys, nil
	}
	out := make([]any, len(list))
	for i, item := range list {
		parsed, err := parseJoinKeys(item, i)
		if err != nil {
			return nil, err
		}
		out[i] = parsed
	}
	return out, nil
}

func parseJoinKeys(keys any, index int) ([]any, error) {
	var list []any
	for _, param := range toArray(keys) {
		switch p := param.(type) {
		case float64, Expr, Field:
			list = append(list, p)
		case string:
			list = append(list, Field{Name: p, Table: index})
		default:
			return nil, fmt.Errorf("invalid key value: %v", param)
		}
	}
	if list == nil {
		list = []any{}
	}
	return list, nil
}

// joinValues wraps the left and right value selections of a list form in
// lists; a trailing entry and non-list forms pass through.
func joinValues(values any) any {
	list, ok := values.([]any)
	if !ok {
		return values
	}
	out := make([]any, len(list))
	for i, v := range list {
		if i < 2 {
			out[i] = toArray(v)
		} else {
			out[i] = v
		}
	}
	return out
}
