package table

import (
	"bytes"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/leapstack-labs/leapframe/pkg/query"
)

// arrowType infers the Arrow type of a column. Mixed or nested values are
// written as JSON text.
func arrowType(col []any, rows []int) arrow.DataType {
	var typ arrow.DataType
	for _, r := range rows {
		var next arrow.DataType
		switch col[r].(type) {
		case nil:
			continue
		case float64:
			next = arrow.PrimitiveTypes.Float64
		case bool:
			next = arrow.FixedWidthTypes.Boolean
		default:
			return arrow.BinaryTypes.String
		}
		if typ != nil && !arrow.TypeEqual(typ, next) {
			return arrow.BinaryTypes.String
		}
		typ = next
	}
	if typ == nil {
		return arrow.Null
	}
	return typ
}

// ToArrow encodes the table as an Arrow IPC stream holding one record
// batch.
func (t *Table) ToArrow(opts query.JSONOptions) ([]byte, error) {
	names, rows, err := t.window(opts)
	if err != nil {
		return nil, err
	}
	fields := make([]arrow.Field, len(names))
	for i, name := range names {
		fields[i] = arrow.Field{Name: name, Type: arrowType(t.data[name], rows), Nullable: true}
	}
	schema := arrow.NewSchema(fields, nil)

	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()
	for i, name := range names {
		col := t.data[name]
		switch fb := b.Field(i).(type) {
		case *array.Float64Builder:
			for _, r := range rows {
				if v, ok := col[r].(float64); ok {
					fb.Append(v)
				} else {
					fb.AppendNull()
				}
			}
		case *array.BooleanBuilder:
			for _, r := range rows {
				if v, ok := col[r].(bool); ok {
					fb.Append(v)
				} else {
					fb.AppendNull()
				}
			}
		case *array.StringBuilder:
			for _, r := range rows {
				switch v := col[r].(type) {
				case nil:
					fb.AppendNull()
				case string:
					fb.Append(v)
				default:
					fb.Append(keyString(v))
				}
			}
		case *array.NullBuilder:
			fb.AppendNulls(len(rows))
		default:
			return nil, fmt.Errorf("column %s: unsupported builder %T", name, fb)
		}
	}
	rec := b.NewRecord()
	defer rec.Release()

	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(schema), ipc.WithAllocator(memory.DefaultAllocator))
	if err := w.Write(rec); err != nil {
		return nil, fmt.Errorf("write arrow record: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close arrow writer: %w", err)
	}
	return buf.Bytes(), nil
}

// arrowFileMagic starts an Arrow IPC file (as opposed to a stream).
var arrowFileMagic = []byte("ARROW1")

// FromArrow decodes an Arrow IPC stream or file. Record batches are
// concatenated.
func FromArrow(data []byte) (*Table, error) {
	if bytes.HasPrefix(data, arrowFileMagic) {
		return fromArrowFile(data)
	}
	r, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(memory.DefaultAllocator))
	if err != nil {
		return nil, fmt.Errorf("read arrow stream: %w", err)
	}
	defer r.Release()

	b := newArrowBuilder(r.Schema())
	for r.Next() {
		if err := b.add(r.Record()); err != nil {
			return nil, err
		}
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("read arrow stream: %w", err)
	}
	return b.table()
}

func fromArrowFile(data []byte) (*Table, error) {
	r, err := ipc.NewFileReader(bytes.NewReader(data), ipc.WithAllocator(memory.DefaultAllocator))
	if err != nil {
		return nil, fmt.Errorf("read arrow file: %w", err)
	}
	defer r.Close()

	b := newArrowBuilder(r.Schema())
	for i := range r.NumRecords() {
		rec, err := r.Record(i)
		if err != nil {
			return nil, fmt.Errorf("read arrow file record %d: %w", i, err)
		}
		if err := b.add(rec); err != nil {
			return nil, err
		}
	}
	return b.table()
}

// arrowBuilder accumulates record batches into table columns.
type arrowBuilder struct {
	names   []string
	columns [][]any
}

func newArrowBuilder(schema *arrow.Schema) *arrowBuilder {
	names := make([]string, schema.NumFields())
	for i, f := range schema.Fields() {
		names[i] = f.Name
	}
	return &arrowBuilder{names: names, columns: make([][]any, len(names))}
}

func (b *arrowBuilder) add(rec arrow.Record) error {
	for i := range b.names {
		vals, err := arrowValues(rec.Column(i))
		if err != nil {
			return fmt.Errorf("column %s: %w", b.names[i], err)
		}
		b.columns[i] = append(b.columns[i], vals...)
	}
	return nil
}

func (b *arrowBuilder) table() (*Table, error) {
	for i := range b.columns {
		if b.columns[i] == nil {
			b.columns[i] = []any{}
		}
	}
	return New(b.names, b.columns)
}

// arrowValues converts an Arrow array to table values. Integers widen to
// float64 and timestamps become RFC 3339 strings.
func arrowValues(a arrow.Array) ([]any, error) {
	n := a.Len()
	out := make([]any, n)
	get := func(f func(i int) any) []any {
		for i := range n {
			if a.IsNull(i) {
				continue
			}
			out[i] = f(i)
		}
		return out
	}
	switch x := a.(type) {
	case *array.Null:
		return out, nil
	case *array.Float64:
		return get(func(i int) any { return x.Value(i) }), nil
	case *array.Float32:
		return get(func(i int) any { return float64(x.Value(i)) }), nil
	case *array.Int8:
		return get(func(i int) any { return float64(x.Value(i)) }), nil
	case *array.Int16:
		return get(func(i int) any { return float64(x.Value(i)) }), nil
	case *array.Int32:
		return get(func(i int) any { return float64(x.Value(i)) }), nil
	case *array.Int64:
		return get(func(i int) any { return float64(x.Value(i)) }), nil
	case *array.Uint8:
		return get(func(i int) any { return float64(x.Value(i)) }), nil
	case *array.Uint16:
		return get(func(i int) any { return float64(x.Value(i)) }), nil
	case *array.Uint32:
		return get(func(i int) any { return float64(x.Value(i)) }), nil
	case *array.Uint64:
		return get(func(i int) any { return float64(x.Value(i)) }), nil
	case *array.Boolean:
		return get(func(i int) any { return x.Value(i) }), nil
	case *array.String:
		return get(func(i int) any { return x.Value(i) }), nil
	case *array.LargeString:
		return get(func(i int) any { return x.Value(i) }), nil
	case *array.Timestamp:
		unit := x.DataType().(*arrow.TimestampType).Unit
		return get(func(i int) any { return x.Value(i).ToTime(unit).UTC().Format(time.RFC3339Nano) }), nil
	case *array.Date32:
		return get(func(i int) any { return x.Value(i).ToTime().Format(time.DateOnly) }), nil
	case *array.Date64:
		return get(func(i int) any { return x.Value(i).ToTime().Format(time.DateOnly) }), nil
	default:
		return nil, fmt.Errorf("unsupported arrow type %s", a.DataType())
	}
}
