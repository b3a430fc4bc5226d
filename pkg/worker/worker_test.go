package worker

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapframe/internal/testutil"
	"github.com/leapstack-labs/leapframe/pkg/catalog"
	"github.com/leapstack-labs/leapframe/pkg/query"
	"github.com/leapstack-labs/leapframe/pkg/table"
	"github.com/leapstack-labs/leapframe/pkg/wire"
)

func newServer(t *testing.T) *Server {
	t.Helper()
	logger := testutil.NewTestLogger(t)
	s := NewServer(Config{DB: catalog.New(logger), Logger: logger})
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func request(t *testing.T, id uint64, method wire.Method, params any) wire.Request {
	t.Helper()
	raw, err := wire.NewRaw(params)
	require.NoError(t, err)
	return wire.Request{ID: id, Method: method, Params: raw}
}

// call handles a request and requires a RESULT reply decoded into out.
func call(t *testing.T, s *Server, method wire.Method, params, out any, attachments ...[]byte) [][]byte {
	t.Helper()
	resp, buffers := s.Handle(context.Background(), request(t, 1, method, params), attachments)
	require.Equal(t, wire.StatusResult, resp.Status, resp.Error)
	assert.Equal(t, wire.RequestRef{ID: 1, Method: method}, resp.Request)
	if out != nil {
		require.NoError(t, resp.Result.Decode(out))
	}
	return buffers
}

func callError(t *testing.T, s *Server, method wire.Method, params any) string {
	t.Helper()
	resp, _ := s.Handle(context.Background(), request(t, 7, method, params), nil)
	require.Equal(t, wire.StatusError, resp.Status)
	assert.EqualValues(t, 7, resp.Request.ID)
	return resp.Error
}

func column(t *testing.T, tbl *table.Table, name string) []any {
	t.Helper()
	col, ok := tbl.Column(name)
	require.True(t, ok, "missing column %s", name)
	return col
}

func addXY(t *testing.T, s *Server) {
	t.Helper()
	var res TableResult
	call(t, s, wire.MethodAdd, map[string]any{
		"name": "test",
		"data": map[string]any{"x": []int{1, 2, 3}, "y": []int{4, 5, 6}},
	}, &res)
	assert.Equal(t, TableResult{Type: ResultTable, Table: "test"}, res)
}

func fetched(t *testing.T, res DataResult, buffers [][]byte) *table.Table {
	t.Helper()
	tbl, err := DecodeResult(res, buffers)
	require.NoError(t, err)
	return tbl
}

func TestAddFetchQueryList(t *testing.T) {
	s := newServer(t)
	addXY(t, s)

	var data DataResult
	call(t, s, wire.MethodFetch, FetchParams{Name: "test"}, &data)
	assert.Equal(t, ResultData, data.Type)
	tbl := fetched(t, data, nil)
	assert.Equal(t, []any{1.0, 2.0, 3.0}, column(t, tbl, "x"))
	assert.Equal(t, []any{4.0, 5.0, 6.0}, column(t, tbl, "y"))

	q := query.NewBuilder("test").Rollup(map[string]any{
		"sx": "d => op.sum(d.x)",
		"sy": "d => op.sum(d.y)",
	})
	raw, err := json.Marshal(q)
	require.NoError(t, err)
	call(t, s, wire.MethodQuery, QueryParams{Query: raw}, &data)
	tbl = fetched(t, data, nil)
	assert.Equal(t, []any{6.0}, column(t, tbl, "sx"))
	assert.Equal(t, []any{15.0}, column(t, tbl, "sy"))

	var list ListResult
	call(t, s, wire.MethodList, nil, &list)
	assert.Equal(t, ListResult{Type: ResultList, List: []string{"test"}}, list)
}

func TestRollupExpressionForms(t *testing.T) {
	s := newServer(t)
	addXY(t, s)

	for _, src := range []string{"op.sum(d.x)", "lambda d: op.sum(d.x)", "d => op.sum(d.x)", "(d) => op.sum(d.x)"} {
		t.Run(src, func(t *testing.T) {
			raw, err := json.Marshal(query.NewBuilder("test").Rollup(map[string]any{"sx": src}))
			require.NoError(t, err)
			var data DataResult
			call(t, s, wire.MethodQuery, QueryParams{Query: raw}, &data)
			assert.Equal(t, []any{6.0}, column(t, fetched(t, data, nil), "sx"))
		})
	}
}

func TestQueryNameFallbackAndStore(t *testing.T) {
	s := newServer(t)
	addXY(t, s)

	raw, err := json.Marshal(query.NewBuilder("").Filter("d => d.x > 1"))
	require.NoError(t, err)

	msg := callError(t, s, wire.MethodQuery, QueryParams{Query: raw})
	assert.Contains(t, msg, "requires a table name")

	var res TableResult
	call(t, s, wire.MethodQuery, QueryParams{Query: raw, Name: "test", As: "big"}, &res)
	assert.Equal(t, "big", res.Table)

	var data DataResult
	call(t, s, wire.MethodFetch, FetchParams{Name: "big"}, &data)
	assert.Equal(t, []any{2.0, 3.0}, column(t, fetched(t, data, nil), "x"))
}

func TestAddFormats(t *testing.T) {
	src, err := table.New([]string{"a"}, [][]any{{"u", "v"}})
	require.NoError(t, err)
	arrowData, err := src.ToArrow(query.JSONOptions{})
	require.NoError(t, err)

	tests := []struct {
		name        string
		params      AddParams
		attachments [][]byte
	}{
		{name: "rows", params: AddParams{Data: json.RawMessage(`[{"a":"u"},{"a":"v"}]`)}},
		{name: "columns", params: AddParams{Data: json.RawMessage(`{"a":["u","v"]}`)}},
		{name: "json text", params: AddParams{Data: json.RawMessage(`"{\"a\":[\"u\",\"v\"]}"`)}},
		{name: "explicit json", params: AddParams{Format: FormatJSON, Data: json.RawMessage(`{"a":["u","v"]}`)}},
		{name: "arrow attachment", attachments: [][]byte{arrowData}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newServer(t)
			p := tt.params
			p.Name = "t"
			call(t, s, wire.MethodAdd, p, nil, tt.attachments...)
			got, err := s.DB().Get("t")
			require.NoError(t, err)
			assert.Equal(t, []any{"u", "v"}, column(t, got, "a"))
		})
	}
}

func TestAddErrors(t *testing.T) {
	s := newServer(t)
	addXY(t, s)

	assert.Equal(t, `table already exists: "test"`, callError(t, s, wire.MethodAdd, AddParams{
		Name: "test",
		Data: json.RawMessage(`{"x":[1]}`),
	}))
	assert.Contains(t, callError(t, s, wire.MethodAdd, AddParams{Name: "t", Format: "xml"}), `unsupported file format: "xml"`)
	assert.Contains(t, callError(t, s, wire.MethodAdd, AddParams{Data: json.RawMessage(`{}`)}), "requires a table name")
}

func TestAppend(t *testing.T) {
	s := newServer(t)
	addXY(t, s)
	call(t, s, wire.MethodAdd, AddParams{Name: "test", Append: true, Data: json.RawMessage(`{"x":[7]}`)}, nil)

	got, err := s.DB().Get("test")
	require.NoError(t, err)
	assert.Equal(t, []any{1.0, 2.0, 3.0, 7.0}, column(t, got, "x"))
	assert.Equal(t, []any{4.0, 5.0, 6.0, nil}, column(t, got, "y"))
}

func TestDropAndSeed(t *testing.T) {
	s := newServer(t)
	addXY(t, s)

	var drop DropResult
	call(t, s, wire.MethodDrop, DropParams{Name: "test"}, &drop)
	assert.Equal(t, DropResult{Type: ResultTable, Name: "test", Drop: true}, drop)
	call(t, s, wire.MethodDrop, DropParams{Name: "test"}, &drop)
	assert.False(t, drop.Drop)

	for _, seed := range []float64{42, 0.5, -7} {
		var res SeedResult
		call(t, s, wire.MethodSeed, SeedParams{Seed: &seed}, &res)
		require.NotNil(t, res.Seed)
		assert.Equal(t, seed, *res.Seed)
	}
	var res SeedResult
	call(t, s, wire.MethodSeed, SeedParams{}, &res)
	assert.Nil(t, res.Seed)
}

func TestRandomSeed(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	assert.Nil(t, randomSeed(nil))
	assert.Equal(t, uint64(42), *randomSeed(f(42)))
	assert.Equal(t, uint64(0), *randomSeed(f(0)))
	assert.Equal(t, math.Float64bits(0.5), *randomSeed(f(0.5)))
	assert.Equal(t, math.Float64bits(-7), *randomSeed(f(-7)))
	assert.NotEqual(t, *randomSeed(f(0.25)), *randomSeed(f(0.5)))
}

func TestListEmpty(t *testing.T) {
	s := newServer(t)
	resp, _ := s.Handle(context.Background(), request(t, 1, wire.MethodList, nil), nil)
	require.Equal(t, wire.StatusResult, resp.Status, resp.Error)
	assert.JSONEq(t, `{"type":"list","list":[]}`, string(resp.Result))

	addXY(t, s)
	call(t, s, wire.MethodDrop, DropParams{Name: "test"}, nil)
	resp, _ = s.Handle(context.Background(), request(t, 2, wire.MethodList, nil), nil)
	assert.JSONEq(t, `{"type":"list","list":[]}`, string(resp.Result))
}

func TestFetchArrow(t *testing.T) {
	s := newServer(t)
	addXY(t, s)

	var data DataResult
	buffers := call(t, s, wire.MethodFetch, FetchParams{
		Name:    "test",
		Format:  FormatArrow,
		Options: query.JSONOptions{Limit: 2, Columns: []string{"y"}},
	}, &data)
	require.Len(t, buffers, 1)
	require.NotNil(t, data.Buffer)
	assert.Equal(t, 0, *data.Buffer)
	assert.Empty(t, data.Data)

	tbl := fetched(t, data, buffers)
	assert.Equal(t, []string{"y"}, tbl.ColumnNames())
	assert.Equal(t, []any{4.0, 5.0}, column(t, tbl, "y"))
}

func TestUnknownMethodAndTable(t *testing.T) {
	s := newServer(t)
	assert.Equal(t, "unknown method: frobnicate", callError(t, s, "frobnicate", nil))
	assert.Equal(t, `unknown table: "nope"`, callError(t, s, wire.MethodFetch, FetchParams{Name: "nope"}))
	assert.Contains(t, callError(t, s, wire.MethodQuery, QueryParams{Query: json.RawMessage(`{"verbs": 3}`)}), "verbs must be a list")
}

func TestMalformedParams(t *testing.T) {
	s := newServer(t)
	resp, _ := s.Handle(context.Background(), wire.Request{ID: 3, Method: wire.MethodAdd, Params: wire.Raw(`[1,2]`)}, nil)
	assert.Equal(t, wire.StatusError, resp.Status)
	assert.Contains(t, resp.Error, "invalid add params")
}

func TestLoadCSV(t *testing.T) {
	path := testutil.WriteFile(t, t.TempDir(), "data.csv", "k;v\na;1\nb;2\n")

	s := newServer(t)
	var res TableResult
	call(t, s, wire.MethodLoad, LoadParams{
		Name:    "csv",
		URL:     path,
		Format:  FormatCSV,
		Options: map[string]any{"delimiter": ";"},
	}, &res)
	assert.Equal(t, "csv", res.Table)

	got, err := s.DB().Get("csv")
	require.NoError(t, err)
	assert.Equal(t, []string{"k", "v"}, got.ColumnNames())
	assert.Equal(t, []any{"a", "b"}, column(t, got, "k"))
	assert.Len(t, column(t, got, "v"), 2)
}

func TestLoadArrowFile(t *testing.T) {
	src, err := table.New([]string{"n"}, [][]any{{1.0, 2.0}})
	require.NoError(t, err)
	data, err := src.ToArrow(query.JSONOptions{})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "data.arrow")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	s := newServer(t)
	call(t, s, wire.MethodLoad, LoadParams{Name: "a", URL: path, Format: FormatArrow}, nil)
	got, err := s.DB().Get("a")
	require.NoError(t, err)
	assert.Equal(t, []any{1.0, 2.0}, column(t, got, "n"))

	assert.Contains(t, callError(t, s, wire.MethodLoad, LoadParams{Name: "b", URL: path, Format: "xlsx"}), "unsupported file format")
}

func TestScanSQL(t *testing.T) {
	no := false
	tests := []struct {
		format string
		opts   LoadOptions
		want   string
	}{
		{FormatCSV, LoadOptions{}, "SELECT * FROM read_csv_auto('/d/it''s.csv', header=true)"},
		{FormatCSV, LoadOptions{Delimiter: "\t", Header: &no}, "SELECT * FROM read_csv_auto('/d/it''s.csv', delim='\t', header=false)"},
		{FormatJSON, LoadOptions{}, "SELECT * FROM read_json_auto('/d/it''s.csv')"},
		{FormatParquet, LoadOptions{}, "SELECT * FROM read_parquet('/d/it''s.csv')"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			assert.Equal(t, tt.want, scanSQL(tt.format, "/d/it's.csv", tt.opts))
		})
	}
}

func TestServeOverPipe(t *testing.T) {
	for _, codec := range []wire.Codec{wire.JSON, wire.MsgPack} {
		t.Run(codec.Name(), func(t *testing.T) {
			logger := testutil.NewTestLogger(t)
			s := NewServer(Config{Codec: codec, Logger: logger})
			clientEnd, serverEnd := wire.Pipe()

			ctx := testutil.Context(t, 10*time.Second)
			done := make(chan error, 1)
			go func() { done <- s.Serve(ctx, serverEnd) }()

			// Undecodable frames are dropped without a reply. A malformed
			// request with a readable id is answered with an error.
			require.NoError(t, clientEnd.Send(ctx, wire.Frame{Payload: []byte{0xc1, 0xff}}))
			bad, err := codec.Marshal(map[string]any{"id": 3, "method": 7})
			require.NoError(t, err)
			require.NoError(t, clientEnd.Send(ctx, wire.Frame{Payload: bad}))

			for id, method := range []wire.Method{wire.MethodList, "bogus"} {
				f, err := wire.EncodeRequest(codec, wire.Request{ID: uint64(id + 1), Method: method})
				require.NoError(t, err)
				require.NoError(t, clientEnd.Send(ctx, f))
			}

			f, err := clientEnd.Recv(ctx)
			require.NoError(t, err)
			resp, err := wire.DecodeResponse(codec, f)
			require.NoError(t, err)
			assert.Equal(t, wire.StatusError, resp.Status)
			assert.EqualValues(t, 3, resp.Request.ID)
			assert.Contains(t, resp.Error, "malformed request")

			f, err = clientEnd.Recv(ctx)
			require.NoError(t, err)
			resp, err = wire.DecodeResponse(codec, f)
			require.NoError(t, err)
			assert.Equal(t, wire.StatusResult, resp.Status)
			assert.EqualValues(t, 1, resp.Request.ID)

			f, err = clientEnd.Recv(ctx)
			require.NoError(t, err)
			resp, err = wire.DecodeResponse(codec, f)
			require.NoError(t, err)
			assert.Equal(t, wire.StatusError, resp.Status)
			assert.EqualValues(t, 2, resp.Request.ID)

			require.NoError(t, clientEnd.Close())
			assert.NoError(t, <-done)
		})
	}
}

func TestHandlerPanicBecomesError(t *testing.T) {
	// A server without a database panics on any catalog access.
	s := &Server{logger: testutil.NewTestLogger(t)}
	resp, buffers := s.Handle(context.Background(), wire.Request{ID: 9, Method: wire.MethodList}, nil)
	assert.Equal(t, wire.StatusError, resp.Status)
	assert.Contains(t, resp.Error, "internal error")
	assert.Nil(t, buffers)
}
