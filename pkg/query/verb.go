package query

import (
	"errors"
	"fmt"
)

// Kind names a verb. The set is closed.
type Kind string

// Verb kinds.
const (
	KindReify     Kind = "reify"
	KindCount     Kind = "count"
	KindDedupe    Kind = "dedupe"
	KindDerive    Kind = "derive"
	KindFilter    Kind = "filter"
	KindGroupby   Kind = "groupby"
	KindOrderby   Kind = "orderby"
	KindRollup    Kind = "rollup"
	KindSample    Kind = "sample"
	KindSelect    Kind = "select"
	KindUngroup   Kind = "ungroup"
	KindUnorder   Kind = "unorder"
	KindFold      Kind = "fold"
	KindPivot     Kind = "pivot"
	KindSpread    Kind = "spread"
	KindUnroll    Kind = "unroll"
	KindLookup    Kind = "lookup"
	KindJoin      Kind = "join"
	KindCross     Kind = "cross"
	KindSemijoin  Kind = "semijoin"
	KindAntijoin  Kind = "antijoin"
	KindConcat    Kind = "concat"
	KindUnion     Kind = "union"
	KindIntersect Kind = "intersect"
	KindExcept    Kind = "except"
)

// Kinds lists every verb kind.
var Kinds = []Kind{
	KindReify, KindCount, KindDedupe, KindDerive, KindFilter, KindGroupby,
	KindOrderby, KindRollup, KindSample, KindSelect, KindUngroup, KindUnorder,
	KindFold, KindPivot, KindSpread, KindUnroll, KindLookup, KindJoin,
	KindCross, KindSemijoin, KindAntijoin, KindConcat, KindUnion,
	KindIntersect, KindExcept,
}

// Shape tags the parameter type of a verb parameter. It drives AST translation.
type Shape int

// Parameter shapes.
const (
	ShapeExpr Shape = iota
	ShapeExprList
	ShapeExprNumber
	ShapeExprObject
	ShapeJoinKeys
	ShapeJoinValues
	ShapeOrderbyKeys
	ShapeColumn
	ShapeOptions
	ShapeTableRef
	ShapeTableRefList
)

// Param is one declared verb parameter with its current value.
type Param struct {
	Name  string
	Shape Shape
	Value any
	// Options types individual keys of an options parameter.
	Options map[string]Shape
}

// Resolver looks up a table reference: a catalog name or a nested query.
type Resolver func(ref any) (Table, error)

// Verb is a single deferred table operation.
type Verb interface {
	// Kind returns the verb discriminator.
	Kind() Kind
	// Params returns the declared parameters in schema order.
	Params() []Param
	// Evaluate applies the verb to t, resolving table references with r.
	Evaluate(t Table, r Resolver) (Table, error)
}

func resolveTable(r Resolver, ref any) (Table, error) {
	if r == nil {
		return nil, errors.New("no table resolver available")
	}
	if ref == nil {
		return nil, errors.New("missing table reference")
	}
	return r(ref)
}

func resolveTables(r Resolver, refs []any) ([]Table, error) {
	tables := make([]Table, len(refs))
	for i, ref := range refs {
		t, err := resolveTable(r, ref)
		if err != nil {
			return nil, fmt.Errorf("table %d: %w", i, err)
		}
		tables[i] = t
	}
	return tables, nil
}

// Reify materializes filtered or ordered views.
type Reify struct{}

// NewReify creates a reify verb.
func NewReify() *Reify { return &Reify{} }

func (v *Reify) Kind() Kind      { return KindReify }
func (v *Reify) Params() []Param { return nil }
func (v *Reify) Evaluate(t Table, _ Resolver) (Table, error) {
	return t.Reify()
}

// Count counts rows per group.
type Count struct {
	Options any
}

// NewCount creates a count verb.
func NewCount(options any) *Count { return &Count{Options: Normalize(options)} }

func (v *Count) Kind() Kind { return KindCount }
func (v *Count) Params() []Param {
	return []Param{{Name: "options", Shape: ShapeOptions, Value: v.Options}}
}
func (v *Count) Evaluate(t Table, _ Resolver) (Table, error) {
	return t.Count(v.Options)
}

// Dedupe removes duplicate rows by key.
type Dedupe struct {
	Keys []any
}

// NewDedupe creates a dedupe verb. No keys means all columns.
func NewDedupe(keys ...any) *Dedupe { return &Dedupe{Keys: flatten(keys)} }

func (v *Dedupe) Kind() Kind { return KindDedupe }
func (v *Dedupe) Params() []Param {
	return []Param{{Name: "keys", Shape: ShapeExprList, Value: v.Keys}}
}
func (v *Dedupe) Evaluate(t Table, _ Resolver) (Table, error) {
	return t.Dedupe(v.Keys)
}

// Derive computes new columns.
type Derive struct {
	Values any
}

// NewDerive creates a derive verb.
func NewDerive(values any) *Derive { return &Derive{Values: Normalize(values)} }

func (v *Derive) Kind() Kind { return KindDerive }
func (v *Derive) Params() []Param {
	return []Param{{Name: "values", Shape: ShapeExprObject, Value: v.Values}}
}
func (v *Derive) Evaluate(t Table, _ Resolver) (Table, error) {
	return t.Derive(v.Values)
}

// Filter keeps rows matching a predicate.
type Filter struct {
	Criteria any
}

// NewFilter creates a filter verb.
func NewFilter(criteria any) *Filter { return &Filter{Criteria: Normalize(criteria)} }

func (v *Filter) Kind() Kind { return KindFilter }
func (v *Filter) Params() []Param {
	return []Param{{Name: "criteria", Shape: ShapeExprObject, Value: v.Criteria}}
}
func (v *Filter) Evaluate(t Table, _ Resolver) (Table, error) {
	return t.Filter(v.Criteria)
}

// Groupby groups rows by keys.
type Groupby struct {
	Keys []any
}

// NewGroupby creates a groupby verb.
func NewGroupby(keys ...any) *Groupby { return &Groupby{Keys: flatten(keys)} }

func (v *Groupby) Kind() Kind { return KindGroupby }
func (v *Groupby) Params() []Param {
	return []Param{{Name: "keys", Shape: ShapeExprList, Value: v.Keys}}
}
func (v *Groupby) Evaluate(t Table, _ Resolver) (Table, error) {
	return t.Groupby(v.Keys)
}

// Orderby sorts rows.
type Orderby struct {
	Keys []any
}

// NewOrderby creates an orderby verb.
func NewOrderby(keys ...any) (*Orderby, error) {
	list, err := orderbyKeys(flatten(keys))
	if err != nil {
		return nil, err
	}
	return &Orderby{Keys: list}, nil
}

func (v *Orderby) Kind() Kind { return KindOrderby }
func (v *Orderby) Params() []Param {
	return []Param{{Name: "keys", Shape: ShapeOrderbyKeys, Value: v.Keys}}
}
func (v *Orderby) Evaluate(t Table, _ Resolver) (Table, error) {
	return t.Orderby(v.Keys)
}

// Rollup aggregates each group into one row.
type Rollup struct {
	Values any
}

// NewRollup creates a rollup verb.
func NewRollup(values any) *Rollup { return &Rollup{Values: Normalize(values)} }

func (v *Rollup) Kind() Kind { return KindRollup }
func (v *Rollup) Params() []Param {
	return []Param{{Name: "values", Shape: ShapeExprObject, Value: v.Values}}
}
func (v *Rollup) Evaluate(t Table, _ Resolver) (Table, error) {
	return t.Rollup(v.Values)
}

// Sample draws a random sample of rows.
type Sample struct {
	Size    any
	Options any
}

// NewSample creates a sample verb. Size is a number or an expression.
func NewSample(size any, options any) *Sample {
	return &Sample{Size: Normalize(size), Options: Normalize(options)}
}

func (v *Sample) Kind() Kind { return KindSample }
func (v *Sample) Params() []Param {
	return []Param{
		{Name: "size", Shape: ShapeExprNumber, Value: v.Size},
		{Name: "options", Shape: ShapeOptions, Value: v.Options, Options: map[string]Shape{"weight": ShapeExpr}},
	}
}
func (v *Sample) Evaluate(t Table, _ Resolver) (Table, error) {
	return t.Sample(v.Size, v.Options)
}

// Select picks and renames columns.
type Select struct {
	Columns []any
}

// NewSelect creates a select verb.
func NewSelect(columns ...any) *Select { return &Select{Columns: flatten(columns)} }

func (v *Select) Kind() Kind { return KindSelect }
func (v *Select) Params() []Param {
	return []Param{{Name: "columns", Shape: ShapeColumn, Value: v.Columns}}
}
func (v *Select) Evaluate(t Table, _ Resolver) (Table, error) {
	return t.Select(v.Columns)
}

// Ungroup removes grouping.
type Ungroup struct{}

// NewUngroup creates an ungroup verb.
func NewUngroup() *Ungroup { return &Ungroup{} }

func (v *Ungroup) Kind() Kind      { return KindUngroup }
func (v *Ungroup) Params() []Param { return nil }
func (v *Ungroup) Evaluate(t Table, _ Resolver) (Table, error) {
	return t.Ungroup()
}

// Unorder removes ordering.
type Unorder struct{}

// NewUnorder creates an unorder verb.
func NewUnorder() *Unorder { return &Unorder{} }

func (v *Unorder) Kind() Kind      { return KindUnorder }
func (v *Unorder) Params() []Param { return nil }
func (v *Unorder) Evaluate(t Table, _ Resolver) (Table, error) {
	return t.Unorder()
}

// Fold collapses columns into key/value rows.
type Fold struct {
	Values  any
	Options any
}

// NewFold creates a fold verb.
func NewFold(values any, options any) *Fold {
	return &Fold{Values: Normalize(values), Options: Normalize(options)}
}

func (v *Fold) Kind() Kind { return KindFold }
func (v *Fold) Params() []Param {
	return []Param{
		{Name: "values", Shape: ShapeExprList, Value: v.Values},
		{Name: "options", Shape: ShapeOptions, Value: v.Options},
	}
}
func (v *Fold) Evaluate(t Table, _ Resolver) (Table, error) {
	return t.Fold(v.Values, v.Options)
}

// Pivot spreads key/value pairs into columns.
type Pivot struct {
	Keys    any
	Values  any
	Options any
}

// NewPivot creates a pivot verb.
func NewPivot(keys, values, options any) *Pivot {
	return &Pivot{Keys: Normalize(keys), Values: Normalize(values), Options: Normalize(options)}
}

func (v *Pivot) Kind() Kind { return KindPivot }
func (v *Pivot) Params() []Param {
	return []Param{
		{Name: "keys", Shape: ShapeExprList, Value: v.Keys},
		{Name: "values", Shape: ShapeExprList, Value: v.Values},
		{Name: "options", Shape: ShapeOptions, Value: v.Options},
	}
}
func (v *Pivot) Evaluate(t Table, _ Resolver) (Table, error) {
	return t.Pivot(v.Keys, v.Values, v.Options)
}

// Spread expands array values into separate columns.
type Spread struct {
	Values  any
	Options any
}

// NewSpread creates a spread verb.
func NewSpread(values, options any) *Spread {
	return &Spread{Values: Normalize(values), Options: Normalize(options)}
}

func (v *Spread) Kind() Kind { return KindSpread }
func (v *Spread) Params() []Param {
	return []Param{
		{Name: "values", Shape: ShapeExprList, Value: v.Values},
		{Name: "options", Shape: ShapeOptions, Value: v.Options},
	}
}
func (v *Spread) Evaluate(t Table, _ Resolver) (Table, error) {
	return t.Spread(v.Values, v.Options)
}

// Unroll expands array values into separate rows.
type Unroll struct {
	Values  any
	Options any
}

// NewUnroll creates an unroll verb.
func NewUnroll(values, options any) *Unroll {
	return &Unroll{Values: Normalize(values), Options: Normalize(options)}
}

func (v *Unroll) Kind() Kind { return KindUnroll }
func (v *Unroll) Params() []Param {
	return []Param{
		{Name: "values", Shape: ShapeExprList, Value: v.Values},
		{Name: "options", Shape: ShapeOptions, Value: v.Options, Options: map[string]Shape{"drop": ShapeExprList}},
	}
}
func (v *Unroll) Evaluate(t Table, _ Resolver) (Table, error) {
	return t.Unroll(v.Values, v.Options)
}

// Lookup adds values from a secondary table by key.
type Lookup struct {
	Table  any
	On     any
	Values any
}

// NewLookup creates a lookup verb.
func NewLookup(table, on, values any) (*Lookup, error) {
	keys, err := joinKeys(Normalize(on))
	if err != nil {
		return nil, err
	}
	return &Lookup{Table: table, On: keys, Values: Normalize(values)}, nil
}

func (v *Lookup) Kind() Kind { return KindLookup }
func (v *Lookup) Params() []Param {
	return []Param{
		{Name: "table", Shape: ShapeTableRef, Value: v.Table},
		{Name: "on", Shape: ShapeJoinKeys, Value: v.On},
		{Name: "values", Shape: ShapeExprList, Value: v.Values},
	}
}
func (v *Lookup) Evaluate(t Table, r Resolver) (Table, error) {
	other, err := resolveTable(r, v.Table)
	if err != nil {
		return nil, err
	}
	return t.Lookup(other, v.On, v.Values)
}

// Join combines rows of two tables.
type Join struct {
	Table   any
	On      any
	Values  any
	Options any
}

// NewJoin creates a join verb.
func NewJoin(table, on, values, options any) (*Join, error) {
	keys, err := joinKeys(Normalize(on))
	if err != nil {
		return nil, err
	}
	return &Join{Table: table, On: keys, Values: joinValues(Normalize(values)), Options: Normalize(options)}, nil
}

func (v *Join) Kind() Kind { return KindJoin }
func (v *Join) Params() []Param {
	return []Param{
		{Name: "table", Shape: ShapeTableRef, Value: v.Table},
		{Name: "on", Shape: ShapeJoinKeys, Value: v.On},
		{Name: "values", Shape: ShapeJoinValues, Value: v.Values},
		{Name: "options", Shape: ShapeOptions, Value: v.Options},
	}
}
func (v *Join) Evaluate(t Table, r Resolver) (Table, error) {
	other, err := resolveTable(r, v.Table)
	if err != nil {
		return nil, err
	}
	return t.Join(other, v.On, v.Values, v.Options)
}

// Cross produces the cartesian product of two tables.
type Cross struct {
	Table   any
	Values  any
	Options any
}

// NewCross creates a cross verb.
func NewCross(table, values, options any) *Cross {
	return &Cross{Table: table, Values: joinValues(Normalize(values)), Options: Normalize(options)}
}

func (v *Cross) Kind() Kind { return KindCross }
func (v *Cross) Params() []Param {
	return []Param{
		{Name: "table", Shape: ShapeTableRef, Value: v.Table},
		{Name: "values", Shape: ShapeJoinValues, Value: v.Values},
		{Name: "options", Shape: ShapeOptions, Value: v.Options},
	}
}
func (v *Cross) Evaluate(t Table, r Resolver) (Table, error) {
	other, err := resolveTable(r, v.Table)
	if err != nil {
		return nil, err
	}
	return t.Cross(other, v.Values, v.Options)
}

// Semijoin keeps rows with a match in another table.
type Semijoin struct {
	Table any
	On    any
}

// NewSemijoin creates a semijoin verb.
func NewSemijoin(table, on any) (*Semijoin, error) {
	keys, err := joinKeys(Normalize(on))
	if err != nil {
		return nil, err
	}
	return &Semijoin{Table: table, On: keys}, nil
}

func (v *Semijoin) Kind() Kind { return KindSemijoin }
func (v *Semijoin) Params() []Param {
	return []Param{
		{Name: "table", Shape: ShapeTableRef, Value: v.Table},
		{Name: "on", Shape: ShapeJoinKeys, Value: v.On},
	}
}
func (v *Semijoin) Evaluate(t Table, r Resolver) (Table, error) {
	other, err := resolveTable(r, v.Table)
	if err != nil {
		return nil, err
	}
	return t.Semijoin(other, v.On)
}

// Antijoin keeps rows without a match in another table.
type Antijoin struct {
	Table any
	On    any
}

// NewAntijoin creates an antijoin verb.
func NewAntijoin(table, on any) (*Antijoin, error) {
	keys, err := joinKeys(Normalize(on))
	if err != nil {
		return nil, err
	}
	return &Antijoin{Table: table, On: keys}, nil
}

func (v *Antijoin) Kind() Kind { return KindAntijoin }
func (v *Antijoin) Params() []Param {
	return []Param{
		{Name: "table", Shape: ShapeTableRef, Value: v.Table},
		{Name: "on", Shape: ShapeJoinKeys, Value: v.On},
	}
}
func (v *Antijoin) Evaluate(t Table, r Resolver) (Table, error) {
	other, err := resolveTable(r, v.Table)
	if err != nil {
		return nil, err
	}
	return t.Antijoin(other, v.On)
}

// Concat appends the rows of other tables.
type Concat struct {
	Tables []any
}

// NewConcat creates a concat verb.
func NewConcat(tables ...any) *Concat { return &Concat{Tables: flatten(tables)} }

func (v *Concat) Kind() Kind { return KindConcat }
func (v *Concat) Params() []Param {
	return []Param{{Name: "tables", Shape: ShapeTableRefList, Value: v.Tables}}
}
func (v *Concat) Evaluate(t Table, r Resolver) (Table, error) {
	others, err := resolveTables(r, v.Tables)
	if err != nil {
		return nil, err
	}
	return t.Concat(others)
}

// Union appends the rows of other tables, dropping duplicates.
type Union struct {
	Tables []any
}

// NewUnion creates a union verb.
func NewUnion(tables ...any) *Union { return &Union{Tables: flatten(tables)} }

func (v *Union) Kind() Kind { return KindUnion }
func (v *Union) Params() []Param {
	return []Param{{Name: "tables", Shape: ShapeTableRefList, Value: v.Tables}}
}
func (v *Union) Evaluate(t Table, r Resolver) (Table, error) {
	others, err := resolveTables(r, v.Tables)
	if err != nil {
		return nil, err
	}
	return t.Union(others)
}

// Intersect keeps rows present in every other table.
type Intersect struct {
	Tables []any
}

// NewIntersect creates an intersect verb.
func NewIntersect(tables ...any) *Intersect { return &Intersect{Tables: flatten(tables)} }

func (v *Intersect) Kind() Kind { return KindIntersect }
func (v *Intersect) Params() []Param {
	return []Param{{Name: "tables", Shape: ShapeTableRefList, Value: v.Tables}}
}
func (v *Intersect) Evaluate(t Table, r Resolver) (Table, error) {
	others, err := resolveTables(r, v.Tables)
	if err != nil {
		return nil, err
	}
	return t.Intersect(others)
}

// Except keeps rows absent from every other table.
type Except struct {
	Tables []any
}

// NewExcept creates an except verb.
func NewExcept(tables ...any) *Except { return &Except{Tables: flatten(tables)} }

func (v *Except) Kind() Kind { return KindExcept }
func (v *Except) Params() []Param {
	return []Param{{Name: "tables", Shape: ShapeTableRefList, Value: v.Tables}}
}
func (v *Except) Evaluate(t Table, r Resolver) (Table, error) {
	others, err := resolveTables(r, v.Tables)
	if err != nil {
		return nil, err
	}
	return t.Except(others)
}
