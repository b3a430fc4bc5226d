package query

// Table is the storage engine contract a query evaluates against.
// Every operation returns a new table and leaves the receiver unchanged.
type Table interface {
	// Params returns a table whose expressions see values as parameters.
	Params(values Object) Table

	Reify() (Table, error)
	Count(options any) (Table, error)
	Dedupe(keys []any) (Table, error)
	Derive(values any) (Table, error)
	Filter(criteria any) (Table, error)
	Groupby(keys []any) (Table, error)
	Orderby(keys []any) (Table, error)
	Rollup(values any) (Table, error)
	Sample(size any, options any) (Table, error)
	Select(columns []any) (Table, error)
	Ungroup() (Table, error)
	Unorder() (Table, error)

	Fold(values any, options any) (Table, error)
	Pivot(keys, values, options any) (Table, error)
	Spread(values, options any) (Table, error)
	Unroll(values, options any) (Table, error)

	Lookup(other Table, on, values any) (Table, error)
	Join(other Table, on, values, options any) (Table, error)
	Cross(other Table, values, options any) (Table, error)
	Semijoin(other Table, on any) (Table, error)
	Antijoin(other Table, on any) (Table, error)

	Concat(others []Table) (Table, error)
	Union(others []Table) (Table, error)
	Intersect(others []Table) (Table, error)
	Except(others []Table) (Table, error)

	// ToJSON encodes the table as a column-oriented JSON document.
	ToJSON(options JSONOptions) ([]byte, error)
}

// JSONOptions limits the rows and columns written by Table.ToJSON.
type JSONOptions struct {
	Limit   int      `json:"limit,omitempty" mapstructure:"limit"`
	Offset  int      `json:"offset,omitempty" mapstructure:"offset"`
	Columns []string `json:"columns,omitempty" mapstructure:"columns"`
}
