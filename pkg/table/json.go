package table

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/leapstack-labs/leapframe/pkg/query"
)

// window resolves the columns and visible rows selected by opts.
func (t *Table) window(opts query.JSONOptions) ([]string, []int, error) {
	names := t.names
	if len(opts.Columns) > 0 {
		for _, name := range opts.Columns {
			if _, ok := t.data[name]; !ok {
				return nil, nil, &UnknownColumnError{Name: name}
			}
		}
		names = opts.Columns
	}
	rows := t.rows()
	if opts.Offset > 0 {
		rows = rows[min(opts.Offset, len(rows)):]
	}
	if opts.Limit > 0 && opts.Limit < len(rows) {
		rows = rows[:opts.Limit]
	}
	return names, rows, nil
}

// ToJSON encodes the table as {"column": [values...]} with columns in
// table order. Non-finite numbers are written as null.
func (t *Table) ToJSON(opts query.JSONOptions) ([]byte, error) {
	names, rows, err := t.window(opts)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		col := t.data[name]
		vals := make([]any, len(rows))
		for k, r := range rows {
			vals[k] = jsonValue(col[r])
		}
		data, err := json.Marshal(vals)
		if err != nil {
			return nil, fmt.Errorf("encode column %s: %w", name, err)
		}
		buf.Write(data)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
