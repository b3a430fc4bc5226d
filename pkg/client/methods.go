package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/leapstack-labs/leapframe/pkg/query"
	"github.com/leapstack-labs/leapframe/pkg/table"
	"github.com/leapstack-labs/leapframe/pkg/wire"
	"github.com/leapstack-labs/leapframe/pkg/worker"
)

// List returns the worker's table names.
func (c *Client) List(ctx context.Context) ([]string, error) {
	var res worker.ListResult
	if _, err := c.Call(ctx, wire.MethodList, nil, &res); err != nil {
		return nil, err
	}
	return res.List, nil
}

// Seed reseeds the worker's random source. Nil seeds from the clock.
func (c *Client) Seed(ctx context.Context, seed *float64) (*float64, error) {
	var res worker.SeedResult
	if _, err := c.Call(ctx, wire.MethodSeed, worker.SeedParams{Seed: seed}, &res); err != nil {
		return nil, err
	}
	return res.Seed, nil
}

// Drop removes a table and reports whether it existed.
func (c *Client) Drop(ctx context.Context, name string) (bool, error) {
	var res worker.DropResult
	if _, err := c.Call(ctx, wire.MethodDrop, worker.DropParams{Name: name}, &res); err != nil {
		return false, err
	}
	return res.Drop, nil
}

// Table returns a query over the named worker table. When data is not nil
// it is first added under name. A *table.Table travels in format (json or
// arrow); other data is sent as is and decoded by the worker per format.
func (c *Client) Table(ctx context.Context, name string, data any, format string) (*WorkerQuery, error) {
	if data == nil {
		return c.From(name), nil
	}
	params := worker.AddParams{Name: name, Format: format}
	var attachments [][]byte
	switch d := data.(type) {
	case *table.Table:
		res, buffers, err := worker.EncodeTable(d, format, query.JSONOptions{})
		if err != nil {
			return nil, err
		}
		params.Data, attachments = res.Data, buffers
		params.Format = res.Format
		if res.Format == worker.FormatJSON {
			params.Format = worker.FormatColumns
		}
	case []byte:
		params.Data = d
	default:
		raw, err := json.Marshal(d)
		if err != nil {
			return nil, fmt.Errorf("encode table data: %w", err)
		}
		params.Data = raw
	}
	var res worker.TableResult
	if _, err := c.Call(ctx, wire.MethodAdd, params, &res, attachments...); err != nil {
		return nil, err
	}
	return c.From(res.Table), nil
}

// LoadOptions configure Load.
type LoadOptions struct {
	Format  string
	Options map[string]any
	Append  bool
}

// Load has the worker read a file into a table.
func (c *Client) Load(ctx context.Context, name, url string, opts LoadOptions) (*WorkerQuery, error) {
	format := opts.Format
	if format == "" {
		format = worker.FormatCSV
	}
	params := worker.LoadParams{Name: name, URL: url, Format: format, Options: opts.Options, Append: opts.Append}
	var res worker.TableResult
	if _, err := c.Call(ctx, wire.MethodLoad, params, &res); err != nil {
		return nil, err
	}
	return c.From(res.Table), nil
}

// FetchOptions select the format and window of returned data.
type FetchOptions struct {
	Format string
	query.JSONOptions
}

func (c *Client) data(ctx context.Context, method wire.Method, params any) (*table.Table, error) {
	var res worker.DataResult
	call, err := c.Call(ctx, method, params, &res)
	if err != nil {
		return nil, err
	}
	if res.Type != worker.ResultData {
		return nil, fmt.Errorf("%s returned %q result, want data", method, res.Type)
	}
	return worker.DecodeResult(res, call.Attachments)
}

func encodeQuery(q json.Marshaler) (json.RawMessage, error) {
	if q == nil {
		return nil, errors.New("nil query")
	}
	raw, err := q.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}
	return raw, nil
}

// Query evaluates q on the worker and returns the result. q is a
// *query.Query or *query.Builder.
func (c *Client) Query(ctx context.Context, q json.Marshaler, opts FetchOptions) (*table.Table, error) {
	raw, err := encodeQuery(q)
	if err != nil {
		return nil, err
	}
	return c.data(ctx, wire.MethodQuery, worker.QueryParams{Query: raw, Format: opts.Format, Options: opts.JSONOptions})
}

// QueryAs evaluates q on the worker and stores the result as a new table.
func (c *Client) QueryAs(ctx context.Context, q json.Marshaler, as string) (*WorkerQuery, error) {
	raw, err := encodeQuery(q)
	if err != nil {
		return nil, err
	}
	var res worker.TableResult
	if _, err := c.Call(ctx, wire.MethodQuery, worker.QueryParams{Query: raw, As: as}, &res); err != nil {
		return nil, err
	}
	return c.From(res.Table), nil
}

// Fetch returns the data of a worker table.
func (c *Client) Fetch(ctx context.Context, name string, opts FetchOptions) (*table.Table, error) {
	return c.data(ctx, wire.MethodFetch, worker.FetchParams{Name: name, Format: opts.Format, Options: opts.JSONOptions})
}
