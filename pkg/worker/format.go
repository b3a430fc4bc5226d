package worker

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/leapstack-labs/leapframe/pkg/query"
	"github.com/leapstack-labs/leapframe/pkg/table"
)

// EncodeTable renders t in a transfer format. JSON is returned inline;
// Arrow is returned as an attachment.
func EncodeTable(t *table.Table, format string, opts query.JSONOptions) (DataResult, [][]byte, error) {
	switch format {
	case "", FormatJSON:
		data, err := t.ToJSON(opts)
		if err != nil {
			return DataResult{}, nil, err
		}
		return DataResult{Type: ResultData, Format: FormatJSON, Data: data}, nil, nil
	case FormatArrow:
		data, err := t.ToArrow(opts)
		if err != nil {
			return DataResult{}, nil, err
		}
		idx := 0
		return DataResult{Type: ResultData, Format: FormatArrow, Buffer: &idx}, [][]byte{data}, nil
	default:
		return DataResult{}, nil, &UnsupportedFormatError{Format: format}
	}
}

// DecodeResult rebuilds a table from a data result and its attachments.
func DecodeResult(res DataResult, attachments [][]byte) (*table.Table, error) {
	switch res.Format {
	case "", FormatJSON:
		return table.FromJSON(res.Data)
	case FormatArrow:
		idx := 0
		if res.Buffer != nil {
			idx = *res.Buffer
		}
		if idx < 0 || idx >= len(attachments) {
			return nil, fmt.Errorf("arrow buffer %d missing from response", idx)
		}
		return table.FromArrow(attachments[idx])
	default:
		return nil, &UnsupportedFormatError{Format: res.Format}
	}
}

// DecodeTable builds a table from add input. With no format the input is
// sniffed: an attachment is Arrow, a JSON string holds JSON text, an array
// holds row objects and an object holds columns.
func DecodeTable(format string, data json.RawMessage, attachments [][]byte) (*table.Table, error) {
	if format == "" {
		format = sniff(data, attachments)
	}
	switch format {
	case FormatArrow:
		if len(attachments) == 0 {
			return nil, errors.New("arrow input requires an attachment")
		}
		return table.FromArrow(attachments[0])
	case FormatJSON:
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			// Accept the document itself in place of its text.
			return table.FromJSON(data)
		}
		return table.FromJSON([]byte(text))
	case FormatRows, FormatColumns:
		v, err := query.DecodeJSON(data)
		if err != nil {
			return nil, fmt.Errorf("decode %s input: %w", format, err)
		}
		if format == FormatRows {
			rows, ok := v.([]any)
			if !ok {
				return nil, fmt.Errorf("rows input must be an array, got %T", v)
			}
			return table.FromRows(rows)
		}
		cols, ok := v.(query.Object)
		if !ok {
			return nil, fmt.Errorf("columns input must be an object, got %T", v)
		}
		return table.FromColumns(cols)
	default:
		return nil, &UnsupportedFormatError{Format: format}
	}
}

func sniff(data json.RawMessage, attachments [][]byte) string {
	if len(attachments) > 0 {
		return FormatArrow
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return FormatColumns
	}
	switch trimmed[0] {
	case '"':
		return FormatJSON
	case '[':
		return FormatRows
	default:
		return FormatColumns
	}
}
