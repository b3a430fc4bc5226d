package worker

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/leapstack-labs/leapframe/pkg/query"
	"github.com/leapstack-labs/leapframe/pkg/table"
	"github.com/leapstack-labs/leapframe/pkg/wire"
)

func requireName(method, name string) error {
	if name == "" {
		return fmt.Errorf("%s requires a table name", method)
	}
	return nil
}

func (s *Server) store(name string, t *table.Table, appendRows bool) (TableResult, error) {
	var err error
	if appendRows {
		err = s.db.Append(name, t)
	} else {
		err = s.db.Add(name, t)
	}
	if err != nil {
		return TableResult{}, err
	}
	return TableResult{Type: ResultTable, Table: name}, nil
}

func (s *Server) add(params wire.Raw, attachments [][]byte) (any, [][]byte, error) {
	var p AddParams
	if err := params.Decode(&p); err != nil {
		return nil, nil, fmt.Errorf("invalid add params: %w", err)
	}
	if err := requireName("add", p.Name); err != nil {
		return nil, nil, err
	}
	t, err := DecodeTable(p.Format, p.Data, attachments)
	if err != nil {
		return nil, nil, err
	}
	res, err := s.store(p.Name, t, p.Append)
	return res, nil, err
}

func (s *Server) drop(params wire.Raw) (any, [][]byte, error) {
	var p DropParams
	if err := params.Decode(&p); err != nil {
		return nil, nil, fmt.Errorf("invalid drop params: %w", err)
	}
	return DropResult{Type: ResultTable, Name: p.Name, Drop: s.db.Drop(p.Name)}, nil, nil
}

func (s *Server) fetch(params wire.Raw) (any, [][]byte, error) {
	var p FetchParams
	if err := params.Decode(&p); err != nil {
		return nil, nil, fmt.Errorf("invalid fetch params: %w", err)
	}
	t, err := s.db.Get(p.Name)
	if err != nil {
		return nil, nil, err
	}
	return EncodeTable(t, p.Format, p.Options)
}

func (s *Server) load(ctx context.Context, params wire.Raw) (any, [][]byte, error) {
	var p LoadParams
	if err := params.Decode(&p); err != nil {
		return nil, nil, fmt.Errorf("invalid load params: %w", err)
	}
	if err := requireName("load", p.Name); err != nil {
		return nil, nil, err
	}
	t, err := s.loader.Load(ctx, p.Format, p.URL, p.Options)
	if err != nil {
		return nil, nil, err
	}
	res, err := s.store(p.Name, t, p.Append)
	return res, nil, err
}

func (s *Server) query(params wire.Raw) (any, [][]byte, error) {
	var p QueryParams
	if err := params.Decode(&p); err != nil {
		return nil, nil, fmt.Errorf("invalid query params: %w", err)
	}
	if len(p.Query) == 0 {
		return nil, nil, errors.New("query requires a query")
	}
	q, err := query.Parse(p.Query)
	if err != nil {
		return nil, nil, err
	}
	name := q.TableName()
	if name == "" {
		name = p.Name
	}
	if err := requireName("query", name); err != nil {
		return nil, nil, err
	}
	t, err := s.db.Query(name, q)
	if err != nil {
		return nil, nil, err
	}
	if p.As != "" {
		res, err := s.store(p.As, t, false)
		return res, nil, err
	}
	return EncodeTable(t, p.Format, p.Options)
}

func (s *Server) seed(params wire.Raw) (any, [][]byte, error) {
	var p SeedParams
	if err := params.Decode(&p); err != nil {
		return nil, nil, fmt.Errorf("invalid seed params: %w", err)
	}
	s.db.Seed(randomSeed(p.Seed))
	return SeedResult{Type: ResultSeed, Seed: p.Seed}, nil, nil
}

// randomSeed maps a seed number onto the 64-bit source state. Whole
// non-negative numbers map to themselves, other numbers to their bits.
func randomSeed(seed *float64) *uint64 {
	if seed == nil {
		return nil
	}
	f := *seed
	var s uint64
	if f >= 0 && f == math.Trunc(f) && f < math.MaxUint64 {
		s = uint64(f)
	} else {
		s = math.Float64bits(f)
	}
	return &s
}
