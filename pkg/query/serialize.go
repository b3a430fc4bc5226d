package query

import (
	"fmt"
)

// VerbToObject serializes a verb to its plain-object form. Every declared
// parameter key is present, with nil for unset values.
func VerbToObject(v Verb) (Object, error) {
	obj := Object{{Key: "verb", Value: string(v.Kind())}}
	for _, p := range v.Params() {
		val, err := toPlain(p.Value)
		if err != nil {
			return nil, &MalformedVerbError{Kind: string(v.Kind()), Param: p.Name, Reason: err.Error()}
		}
		obj = append(obj, Entry{Key: p.Name, Value: val})
	}
	return obj, nil
}

// VerbFromObject reconstructs a verb from its plain-object form.
func VerbFromObject(value any) (Verb, error) {
	obj, ok := asObject(value)
	if !ok {
		return nil, &MalformedVerbError{Reason: fmt.Sprintf("verb must be an object, got %T", value)}
	}
	raw, _ := obj.Get("verb")
	name, _ := raw.(string)
	kind := Kind(name)

	r := &reader{kind: name, obj: obj}
	var (
		verb Verb
		err  error
	)
	switch kind {
	case KindReify:
		verb = NewReify()
	case KindCount:
		verb = &Count{Options: r.value("options")}
	case KindDedupe:
		keys := r.list("keys")
		if keys == nil {
			keys = []any{}
		}
		verb = &Dedupe{Keys: keys}
	case KindDerive:
		verb = &Derive{Values: r.value("values")}
	case KindFilter:
		verb = &Filter{Criteria: r.value("criteria")}
	case KindGroupby:
		verb = &Groupby{Keys: r.list("keys")}
	case KindOrderby:
		var keys []any
		if keys, err = orderbyKeys(r.list("keys")); err == nil {
			verb = &Orderby{Keys: keys}
		}
	case KindRollup:
		verb = &Rollup{Values: r.value("values")}
	case KindSample:
		verb = &Sample{Size: r.value("size"), Options: r.value("options")}
	case KindSelect:
		verb = &Select{Columns: r.list("columns")}
	case KindUngroup:
		verb = NewUngroup()
	case KindUnorder:
		verb = NewUnorder()
	case KindFold:
		verb = &Fold{Values: r.value("values"), Options: r.value("options")}
	case KindPivot:
		verb = &Pivot{Keys: r.value("keys"), Values: r.value("values"), Options: r.value("options")}
	case KindSpread:
		verb = &Spread{Values: r.value("values"), Options: r.value("options")}
	case KindUnroll:
		verb = &Unroll{Values: r.value("values"), Options: r.value("options")}
	case KindLookup:
		verb, err = NewLookup(r.table("table"), r.value("on"), r.value("values"))
	case KindJoin:
		verb, err = NewJoin(r.table("table"), r.value("on"), r.value("values"), r.value("options"))
	case KindCross:
		verb = NewCross(r.table("table"), r.value("values"), r.value("options"))
	case KindSemijoin:
		verb, err = NewSemijoin(r.table("table"), r.value("on"))
	case KindAntijoin:
		verb, err = NewAntijoin(r.table("table"), r.value("on"))
	case KindConcat:
		verb = &Concat{Tables: r.tables("tables")}
	case KindUnion:
		verb = &Union{Tables: r.tables("tables")}
	case KindIntersect:
		verb = &Intersect{Tables: r.tables("tables")}
	case KindExcept:
		verb = &Except{Tables: r.tables("tables")}
	default:
		return nil, &MalformedVerbError{Kind: name, Reason: fmt.Sprintf("unknown verb %q", name)}
	}

	if r.err != nil {
		return nil, r.err
	}
	if err != nil {
		return nil, &MalformedVerbError{Kind: name, Reason: err.Error()}
	}
	return verb, nil
}

// reader pulls parameters out of a verb object, keeping the first error.
type reader struct {
	kind string
	obj  Object
	err  error
}

func (r *reader) fail(param, reason string) {
	if r.err == nil {
		r.err = &MalformedVerbError{Kind: r.kind, Param: param, Reason: reason}
	}
}

func (r *reader) value(name string) any {
	raw, _ := r.obj.Get(name)
	v, err := fromPlain(raw)
	if err != nil {
		r.fail(name, err.Error())
		return nil
	}
	return v
}

func (r *reader) list(name string) []any {
	v := r.value(name)
	switch x := v.(type) {
	case nil:
		return nil
	case []any:
		return x
	default:
		return []any{x}
	}
}

func (r *reader) table(name string) any {
	v := r.value(name)
	switch v.(type) {
	case nil, string, *Query:
		return v
	default:
		r.fail(name, fmt.Sprintf("table reference must be a name or query, got %T", v))
		return nil
	}
}

func (r *reader) tables(name string) []any {
	raw := r.value(name)
	list, ok := raw.([]any)
	if !ok {
		if raw != nil {
			r.fail(name, fmt.Sprintf("expected a list of table references, got %T", raw))
		}
		return []any{}
	}
	for _, ref := range list {
		switch ref.(type) {
		case string, *Query:
		default:
			r.fail(name, fmt.Sprintf("table reference must be a name or query, got %T", ref))
		}
	}
	return list
}

func asObject(v any) (Object, bool) {
	switch x := v.(type) {
	case Object:
		return x, true
	case map[string]any:
		return ObjectFromMap(x), true
	default:
		return nil, false
	}
}
