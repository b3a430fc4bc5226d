package client

import (
	"context"

	"github.com/leapstack-labs/leapframe/pkg/query"
	"github.com/leapstack-labs/leapframe/pkg/table"
)

// WorkerQuery is a query builder bound to a client. Verb methods return
// new queries; Fetch runs the query on the worker.
type WorkerQuery struct {
	b      *query.Builder
	client *Client
}

// From returns an empty query over a worker table.
func (c *Client) From(name string) *WorkerQuery {
	return &WorkerQuery{b: query.NewBuilder(name), client: c}
}

// Builder returns the underlying builder.
func (q *WorkerQuery) Builder() *query.Builder { return q.b }

// TableName returns the source table name.
func (q *WorkerQuery) TableName() string { return q.b.TableName() }

// MarshalJSON encodes the built query.
func (q *WorkerQuery) MarshalJSON() ([]byte, error) { return q.b.MarshalJSON() }

// Then applies fn to the builder, for verbs without a wrapper here.
func (q *WorkerQuery) Then(fn func(*query.Builder) *query.Builder) *WorkerQuery {
	return q.with(fn(q.b))
}

// Fetch runs the query on the worker and returns the result.
func (q *WorkerQuery) Fetch(ctx context.Context, opts FetchOptions) (*table.Table, error) {
	return q.client.Query(ctx, q.b, opts)
}

// Store runs the query on the worker and keeps the result as table as.
func (q *WorkerQuery) Store(ctx context.Context, as string) (*WorkerQuery, error) {
	return q.client.QueryAs(ctx, q.b, as)
}

func (q *WorkerQuery) with(b *query.Builder) *WorkerQuery {
	return &WorkerQuery{b: b, client: q.client}
}

// WithParams merges values into the query parameters.
func (q *WorkerQuery) WithParams(values any) *WorkerQuery { return q.with(q.b.WithParams(values)) }

// Reify materializes filtered and ordered rows.
func (q *WorkerQuery) Reify() *WorkerQuery { return q.with(q.b.Reify()) }

// Count counts rows, per group when grouped.
func (q *WorkerQuery) Count(options any) *WorkerQuery { return q.with(q.b.Count(options)) }

// Dedupe keeps the first row for each distinct key, or each distinct row
// when no keys are given.
func (q *WorkerQuery) Dedupe(keys ...any) *WorkerQuery { return q.with(q.b.Dedupe(keys...)) }

// Derive adds or replaces columns computed from expressions.
func (q *WorkerQuery) Derive(values any) *WorkerQuery { return q.with(q.b.Derive(values)) }

// Filter keeps the rows matching criteria.
func (q *WorkerQuery) Filter(criteria any) *WorkerQuery { return q.with(q.b.Filter(criteria)) }

// Groupby groups rows by keys.
func (q *WorkerQuery) Groupby(keys ...any) *WorkerQuery { return q.with(q.b.Groupby(keys...)) }

// Orderby sorts rows by keys. Wrap a key with query.Desc to reverse it.
func (q *WorkerQuery) Orderby(keys ...any) *WorkerQuery { return q.with(q.b.Orderby(keys...)) }

// Rollup aggregates each group into one row.
func (q *WorkerQuery) Rollup(values any) *WorkerQuery { return q.with(q.b.Rollup(values)) }

// Sample draws size rows at random.
func (q *WorkerQuery) Sample(size, options any) *WorkerQuery {
	return q.with(q.b.Sample(size, options))
}

// Select picks, renames or reorders columns.
func (q *WorkerQuery) Select(columns ...any) *WorkerQuery { return q.with(q.b.Select(columns...)) }

// Ungroup removes grouping.
func (q *WorkerQuery) Ungroup() *WorkerQuery { return q.with(q.b.Ungroup()) }

// Unorder removes ordering.
func (q *WorkerQuery) Unorder() *WorkerQuery { return q.with(q.b.Unorder()) }

// Fold turns columns into key/value rows.
func (q *WorkerQuery) Fold(values, options any) *WorkerQuery {
	return q.with(q.b.Fold(values, options))
}

// Pivot spreads key values into columns.
func (q *WorkerQuery) Pivot(keys, values, options any) *WorkerQuery {
	return q.with(q.b.Pivot(keys, values, options))
}

// Spread expands array values into columns.
func (q *WorkerQuery) Spread(values, options any) *WorkerQuery {
	return q.with(q.b.Spread(values, options))
}

// Unroll expands array values into rows.
func (q *WorkerQuery) Unroll(values, options any) *WorkerQuery {
	return q.with(q.b.Unroll(values, options))
}

// Lookup adds values from the first matching row of other. Other may be
// a table name, a builder or another WorkerQuery, as in every
// multi-table verb below.
func (q *WorkerQuery) Lookup(other, on, values any) *WorkerQuery {
	return q.with(q.b.Lookup(ref(other), on, values))
}

// Join joins other on keys or a predicate.
func (q *WorkerQuery) Join(other, on, values, options any) *WorkerQuery {
	return q.with(q.b.Join(ref(other), on, values, options))
}

// Cross pairs every row with every row of other.
func (q *WorkerQuery) Cross(other, values, options any) *WorkerQuery {
	return q.with(q.b.Cross(ref(other), values, options))
}

// Semijoin keeps rows with a match in other.
func (q *WorkerQuery) Semijoin(other, on any) *WorkerQuery {
	return q.with(q.b.Semijoin(ref(other), on))
}

// Antijoin keeps rows without a match in other.
func (q *WorkerQuery) Antijoin(other, on any) *WorkerQuery {
	return q.with(q.b.Antijoin(ref(other), on))
}

// Concat appends the rows of others.
func (q *WorkerQuery) Concat(others ...any) *WorkerQuery { return q.with(q.b.Concat(refs(others)...)) }

// Union appends the rows of others and removes duplicates.
func (q *WorkerQuery) Union(others ...any) *WorkerQuery { return q.with(q.b.Union(refs(others)...)) }

// Intersect keeps rows present in every other table.
func (q *WorkerQuery) Intersect(others ...any) *WorkerQuery {
	return q.with(q.b.Intersect(refs(others)...))
}

// Except keeps rows present in no other table.
func (q *WorkerQuery) Except(others ...any) *WorkerQuery { return q.with(q.b.Except(refs(others)...)) }

// ref unwraps worker queries used as table references.
func ref(v any) any {
	if wq, ok := v.(*WorkerQuery); ok {
		return wq.b
	}
	return v
}

func refs(vs []any) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = ref(v)
	}
	return out
}
