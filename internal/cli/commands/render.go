package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	prettytable "github.com/jedib0t/go-pretty/v6/table"
	"golang.org/x/term"

	"github.com/leapstack-labs/leapframe/pkg/query"
	"github.com/leapstack-labs/leapframe/pkg/table"
)

// Output modes.
const (
	OutputAuto  = "auto"
	OutputTable = "table"
	OutputJSON  = "json"
)

// resolveOutput turns auto into table on a terminal and json otherwise.
func resolveOutput(mode string, w io.Writer) string {
	if mode != OutputAuto && mode != "" {
		return mode
	}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return OutputTable
	}
	return OutputJSON
}

func renderTable(w io.Writer, t *table.Table, mode string) error {
	switch resolveOutput(mode, w) {
	case OutputJSON:
		data, err := t.ToJSON(query.JSONOptions{})
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := json.Indent(&buf, data, "", "  "); err != nil {
			return err
		}
		buf.WriteByte('\n')
		_, err = buf.WriteTo(w)
		return err
	case OutputTable:
		return renderPretty(w, t)
	default:
		return fmt.Errorf("unknown output mode %q", mode)
	}
}

func renderPretty(w io.Writer, t *table.Table) error {
	names := t.ColumnNames()
	rows := t.Rows()
	if len(rows) == 0 {
		_, _ = fmt.Fprintln(w, "(0 rows)")
		return nil
	}

	tw := prettytable.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(prettytable.StyleLight)

	header := make(prettytable.Row, len(names))
	for i, name := range names {
		header[i] = name
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		out := make(prettytable.Row, len(names))
		for i, name := range names {
			v, _ := row.Get(name)
			out[i] = formatValue(v)
		}
		tw.AppendRow(out)
	}

	tw.Render()
	_, _ = fmt.Fprintf(w, "(%d rows)\n", len(rows))
	return nil
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case []any, query.Object:
		data, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprintf("%v", x)
		}
		return string(data)
	default:
		return fmt.Sprintf("%v", v)
	}
}
