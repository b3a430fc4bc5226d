package query

import "fmt"

// Builder accumulates verbs without touching data. Builders are immutable:
// every verb method returns a new builder and earlier builders stay valid,
// so a builder can be embedded as a nested table reference.
//
// Argument errors (for example an invalid orderby key) are deferred and
// reported by Query, ToObject and ToAST.
type Builder struct {
	source string
	verbs  []Verb
	params Object
	err    error
}

// NewBuilder returns an empty builder over the named source table.
// The name may be empty.
func NewBuilder(source string) *Builder {
	return &Builder{source: source}
}

// TableName returns the source table name.
func (b *Builder) TableName() string {
	return b.source
}

// Len returns the number of verbs.
func (b *Builder) Len() int {
	return len(b.verbs)
}

// Err returns the first deferred argument error.
func (b *Builder) Err() error {
	return b.err
}

// String describes the builder.
func (b *Builder) String() string {
	s := fmt.Sprintf("Builder: %d verbs", len(b.verbs))
	if b.source != "" {
		s += fmt.Sprintf(" on %q", b.source)
	}
	return s
}

// Append returns a new builder with v appended.
func (b *Builder) Append(v Verb) *Builder {
	verbs := make([]Verb, len(b.verbs), len(b.verbs)+1)
	copy(verbs, b.verbs)
	return &Builder{
		source: b.source,
		verbs:  append(verbs, v),
		params: b.params,
		err:    b.err,
	}
}

func (b *Builder) appendErr(v Verb, err error) *Builder {
	if err == nil {
		return b.Append(v)
	}
	out := *b
	if out.err == nil {
		out.err = err
	}
	return &out
}

// Params returns the current parameter bag.
func (b *Builder) Params() Object {
	return b.params
}

// WithParams returns a new builder with values merged into the parameter
// bag; same-named keys are replaced.
func (b *Builder) WithParams(values any) *Builder {
	obj, ok := asObject(Normalize(values))
	out := *b
	if !ok {
		if out.err == nil {
			out.err = fmt.Errorf("params must be an object, got %T", values)
		}
		return &out
	}
	out.params = b.params.Merge(obj)
	return &out
}

// Query returns an immutable query snapshot.
func (b *Builder) Query() (*Query, error) {
	if b.err != nil {
		return nil, b.err
	}
	q := New(b.verbs, b.params)
	q.table = b.source
	return q, nil
}

// ToObject serializes the built query.
func (b *Builder) ToObject() (Object, error) {
	q, err := b.Query()
	if err != nil {
		return nil, err
	}
	return q.ToObject()
}

// ToAST translates the built query to its AST form.
func (b *Builder) ToAST() (Object, error) {
	q, err := b.Query()
	if err != nil {
		return nil, err
	}
	return q.ToAST()
}

// MarshalJSON encodes the built query.
func (b *Builder) MarshalJSON() ([]byte, error) {
	q, err := b.Query()
	if err != nil {
		return nil, err
	}
	return q.MarshalJSON()
}

// Reify appends a reify verb.
func (b *Builder) Reify() *Builder { return b.Append(NewReify()) }

// Count appends a count verb.
func (b *Builder) Count(options any) *Builder { return b.Append(NewCount(options)) }

// Dedupe appends a dedupe verb.
func (b *Builder) Dedupe(keys ...any) *Builder { return b.Append(NewDedupe(keys...)) }

// Derive appends a derive verb.
func (b *Builder) Derive(values any) *Builder { return b.Append(NewDerive(values)) }

// Filter appends a filter verb.
func (b *Builder) Filter(criteria any) *Builder { return b.Append(NewFilter(criteria)) }

// Groupby appends a groupby verb.
func (b *Builder) Groupby(keys ...any) *Builder { return b.Append(NewGroupby(keys...)) }

// Orderby appends an orderby verb.
func (b *Builder) Orderby(keys ...any) *Builder {
	v, err := NewOrderby(keys...)
	return b.appendErr(v, err)
}

// Rollup appends a rollup verb.
func (b *Builder) Rollup(values any) *Builder { return b.Append(NewRollup(values)) }

// Sample appends a sample verb.
func (b *Builder) Sample(size, options any) *Builder { return b.Append(NewSample(size, options)) }

// Select appends a select verb.
func (b *Builder) Select(columns ...any) *Builder { return b.Append(NewSelect(columns...)) }

// Ungroup appends an ungroup verb.
func (b *Builder) Ungroup() *Builder { return b.Append(NewUngroup()) }

// Unorder appends an unorder verb.
func (b *Builder) Unorder() *Builder { return b.Append(NewUnorder()) }

// Fold appends a fold verb.
func (b *Builder) Fold(values, options any) *Builder { return b.Append(NewFold(values, options)) }

// Pivot appends a pivot verb.
func (b *Builder) Pivot(keys, values, options any) *Builder {
	return b.Append(NewPivot(keys, values, options))
}

// Spread appends a spread verb.
func (b *Builder) Spread(values, options any) *Builder { return b.Append(NewSpread(values, options)) }

// Unroll appends an unroll verb.
func (b *Builder) Unroll(values, options any) *Builder { return b.Append(NewUnroll(values, options)) }

// Lookup appends a lookup verb.
func (b *Builder) Lookup(table, on, values any) *Builder {
	v, err := NewLookup(table, on, values)
	return b.appendErr(v, err)
}

// Join appends a join verb.
func (b *Builder) Join(table, on, values, options any) *Builder {
	v, err := NewJoin(table, on, values, options)
	return b.appendErr(v, err)
}

// JoinLeft appends a left outer join.
func (b *Builder) JoinLeft(table, on, values, options any) *Builder {
	return b.Join(table, on, values, joinOptions(options, true, false))
}

// JoinRight appends a right outer join.
func (b *Builder) JoinRight(table, on, values, options any) *Builder {
	return b.Join(table, on, values, joinOptions(options, false, true))
}

// JoinFull appends a full outer join.
func (b *Builder) JoinFull(table, on, values, options any) *Builder {
	return b.Join(table, on, values, joinOptions(options, true, true))
}

func joinOptions(options any, left, right bool) Object {
	obj, _ := asObject(Normalize(options))
	return obj.Merge(Object{{Key: "left", Value: left}, {Key: "right", Value: right}})
}

// Cross appends a cross verb.
func (b *Builder) Cross(table, values, options any) *Builder {
	return b.Append(NewCross(table, values, options))
}

// Semijoin appends a semijoin verb.
func (b *Builder) Semijoin(table, on any) *Builder {
	v, err := NewSemijoin(table, on)
	return b.appendErr(v, err)
}

// Antijoin appends an antijoin verb.
func (b *Builder) Antijoin(table, on any) *Builder {
	v, err := NewAntijoin(table, on)
	return b.appendErr(v, err)
}

// Concat appends a concat verb.
func (b *Builder) Concat(tables ...any) *Builder { return b.Append(NewConcat(tables...)) }

// Union appends a union verb.
func (b *Builder) Union(tables ...any) *Builder { return b.Append(NewUnion(tables...)) }

// Intersect appends an intersect verb.
func (b *Builder) Intersect(tables ...any) *Builder { return b.Append(NewIntersect(tables...)) }

// Except appends an except verb.
func (b *Builder) Except(tables ...any) *Builder { return b.Append(NewExcept(tables...)) }
