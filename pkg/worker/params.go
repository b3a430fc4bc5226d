package worker

import (
	"encoding/json"

	"github.com/leapstack-labs/leapframe/pkg/query"
)

// Table transfer formats.
const (
	FormatJSON  = "json"
	FormatArrow = "arrow"
)

// Input formats accepted by add in addition to the transfer formats.
const (
	FormatRows    = "rows"
	FormatColumns = "columns"
)

// AddParams are the parameters of the add method. Data is omitted when
// the table travels as an Arrow attachment.
type AddParams struct {
	Name   string          `json:"name"`
	Append bool            `json:"append,omitempty"`
	Format string          `json:"format,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// DropParams are the parameters of the drop method.
type DropParams struct {
	Name string `json:"name"`
}

// FetchParams are the parameters of the fetch method.
type FetchParams struct {
	Name    string            `json:"name"`
	Format  string            `json:"format,omitempty"`
	Options query.JSONOptions `json:"options,omitempty"`
}

// LoadParams are the parameters of the load method.
type LoadParams struct {
	Name    string         `json:"name"`
	Append  bool           `json:"append,omitempty"`
	URL     string         `json:"url"`
	Format  string         `json:"format"`
	Options map[string]any `json:"options,omitempty"`
}

// QueryParams are the parameters of the query method. The query runs
// against its own source table, or Name when it has none. With As the
// result is stored in the catalog instead of being returned.
type QueryParams struct {
	Query   json.RawMessage   `json:"query"`
	Name    string            `json:"name,omitempty"`
	As      string            `json:"as,omitempty"`
	Format  string            `json:"format,omitempty"`
	Options query.JSONOptions `json:"options,omitempty"`
}

// SeedParams are the parameters of the seed method. Any number is a valid
// seed. A nil seed reseeds from the clock.
type SeedParams struct {
	Seed *float64 `json:"seed"`
}

// Result payload types.
const (
	ResultTable = "table"
	ResultData  = "data"
	ResultList  = "list"
	ResultSeed  = "seed"
)

// TableResult reports a stored table.
type TableResult struct {
	Type  string `json:"type"`
	Table string `json:"table"`
}

// DropResult reports a dropped table.
type DropResult struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Drop bool   `json:"drop"`
}

// DataResult carries table data. JSON data is inline; Arrow data is the
// attachment at index Buffer.
type DataResult struct {
	Type   string          `json:"type"`
	Format string          `json:"format"`
	Data   json.RawMessage `json:"data,omitempty"`
	Buffer *int            `json:"buffer,omitempty"`
}

// ListResult lists the catalog.
type ListResult struct {
	Type string   `json:"type"`
	List []string `json:"list"`
}

// SeedResult echoes the seed.
type SeedResult struct {
	Type string  `json:"type"`
	Seed *float64 `json:"seed"`
}
