// Package query provides deferred, serializable table queries: a closed set
// of verbs, the queries that sequence them, an immutable builder, and
// translation to plain objects and to an expression AST.
package query

import (
	"encoding/json"
	"fmt"
)

// Query is an ordered list of verbs plus an optional parameter bag.
// A query may name the catalog table it starts from.
type Query struct {
	verbs  []Verb
	params Object
	table  string
}

// New creates a query from verbs and parameters.
func New(verbs []Verb, params Object) *Query {
	return &Query{verbs: append([]Verb(nil), verbs...), params: params}
}

// WithTable returns a copy of q that starts from the named table.
func (q *Query) WithTable(name string) *Query {
	out := *q
	out.table = name
	return &out
}

// TableName returns the source table name, if any.
func (q *Query) TableName() string {
	return q.table
}

// Len returns the number of verbs.
func (q *Query) Len() int {
	return len(q.verbs)
}

// Verbs returns a copy of the verb list.
func (q *Query) Verbs() []Verb {
	return append([]Verb(nil), q.verbs...)
}

// Params returns the parameter bag, or nil.
func (q *Query) Params() Object {
	return q.params
}

// Evaluate applies the verbs left to right. When parameters are set they
// are bound to the table before every verb.
func (q *Query) Evaluate(t Table, r Resolver) (Table, error) {
	if t == nil {
		return nil, fmt.Errorf("no input table")
	}
	for i, v := range q.verbs {
		if q.params != nil {
			t = t.Params(q.params)
		}
		next, err := v.Evaluate(t, r)
		if err != nil {
			return nil, fmt.Errorf("verb %d (%s): %w", i, v.Kind(), err)
		}
		t = next
	}
	return t, nil
}

// ToObject serializes the query as {verbs, params?, table?}.
func (q *Query) ToObject() (Object, error) {
	verbs := make([]any, len(q.verbs))
	for i, v := range q.verbs {
		obj, err := VerbToObject(v)
		if err != nil {
			return nil, err
		}
		verbs[i] = obj
	}
	out := Object{{Key: "verbs", Value: verbs}}
	if q.params != nil {
		out = append(out, Entry{Key: "params", Value: q.params})
	}
	if q.table != "" {
		out = append(out, Entry{Key: "table", Value: q.table})
	}
	return out, nil
}

// MarshalJSON encodes the plain-object form.
func (q *Query) MarshalJSON() ([]byte, error) {
	obj, err := q.ToObject()
	if err != nil {
		return nil, err
	}
	return json.Marshal(obj)
}

// UnmarshalJSON decodes the plain-object form.
func (q *Query) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*q = *parsed
	return nil
}

// Parse decodes a JSON-encoded query.
func Parse(data []byte) (*Query, error) {
	v, err := DecodeJSON(data)
	if err != nil {
		return nil, fmt.Errorf("decode query: %w", err)
	}
	return FromObject(v)
}

// FromObject reconstructs a query from its plain-object form.
func FromObject(value any) (*Query, error) {
	obj, ok := asObject(value)
	if !ok {
		return nil, &MalformedVerbError{Reason: fmt.Sprintf("query must be an object, got %T", value)}
	}
	raw, _ := obj.Get("verbs")
	list, ok := raw.([]any)
	if !ok {
		return nil, &MalformedVerbError{Reason: "query verbs must be a list"}
	}

	q := &Query{verbs: make([]Verb, 0, len(list))}
	for _, item := range list {
		v, err := VerbFromObject(item)
		if err != nil {
			return nil, err
		}
		q.verbs = append(q.verbs, v)
	}

	if p, ok := obj.Get("params"); ok && p != nil {
		params, isObj := asObject(p)
		if !isObj {
			return nil, &MalformedVerbError{Reason: fmt.Sprintf("query params must be an object, got %T", p)}
		}
		q.params = params
	}
	if t, ok := obj.Get("table"); ok && t != nil {
		name, isStr := t.(string)
		if !isStr {
			return nil, &MalformedVerbError{Reason: fmt.Sprintf("query table must be a name, got %T", t)}
		}
		q.table = name
	}
	return q, nil
}
