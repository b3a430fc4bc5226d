// Package worker serves a catalog over a wire connection. Requests are
// handled strictly one at a time in arrival order.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/leapframe/pkg/catalog"
	"github.com/leapstack-labs/leapframe/pkg/wire"
)

// Server answers requests against a database.
type Server struct {
	db     *catalog.Database
	codec  wire.Codec
	loader *Loader
	logger *slog.Logger
}

// Config holds configuration for a worker server.
type Config struct {
	// DB is the catalog to serve. A new empty one is created when nil.
	DB *catalog.Database
	// Codec encodes envelopes. Defaults to JSON.
	Codec wire.Codec
	// Loader reads files for the load method. Defaults to a DuckDB loader.
	Loader *Loader
	Logger *slog.Logger
}

// NewServer creates a worker server.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	db := cfg.DB
	if db == nil {
		db = catalog.New(logger)
	}
	codec := cfg.Codec
	if codec == nil {
		codec = wire.JSON
	}
	loader := cfg.Loader
	if loader == nil {
		loader = NewLoader(logger)
	}
	return &Server{db: db, codec: codec, loader: loader, logger: logger}
}

// DB returns the served database.
func (s *Server) DB() *catalog.Database { return s.db }

// Close releases the loader.
func (s *Server) Close() error {
	return s.loader.Close()
}

// Serve reads requests from conn until it closes or ctx is cancelled.
// A closed connection is a clean shutdown.
func (s *Server) Serve(ctx context.Context, conn wire.Conn) error {
	eg, egctx := errgroup.WithContext(ctx)
	frames := make(chan wire.Frame, 16)

	eg.Go(func() error {
		defer close(frames)
		for {
			f, err := conn.Recv(egctx)
			if err != nil {
				return err
			}
			select {
			case frames <- f:
			case <-egctx.Done():
				return egctx.Err()
			}
		}
	})

	eg.Go(func() error {
		for f := range frames {
			var (
				resp        wire.Response
				attachments [][]byte
			)
			req, err := wire.DecodeRequest(s.codec, f)
			if err != nil {
				ref, ok := wire.PeekRequest(s.codec, f)
				if !ok {
					s.logger.Warn("dropping undecodable frame", "error", err, "bytes", len(f.Payload))
					continue
				}
				s.logger.Warn("malformed request", "id", ref.ID, "error", err)
				req, resp = ref, wire.Fail(ref, fmt.Sprintf("malformed request: %v", err))
			} else {
				resp, attachments = s.Handle(egctx, req, f.Attachments)
			}
			out, err := wire.EncodeResponse(s.codec, resp, attachments...)
			if err != nil {
				s.logger.Error("failed to encode response", "id", req.ID, "error", err)
				out, err = wire.EncodeResponse(s.codec, wire.Fail(req, err.Error()))
				if err != nil {
					return err
				}
			}
			if err := conn.Send(egctx, out); err != nil {
				return err
			}
		}
		return nil
	})

	err := eg.Wait()
	if errors.Is(err, wire.ErrClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Handle runs one request. Failures, panics included, become ERROR
// responses.
func (s *Server) Handle(ctx context.Context, req wire.Request, attachments [][]byte) (resp wire.Response, out [][]byte) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panicked", "id", req.ID, "method", req.Method, "panic", r, "stack", string(debug.Stack()))
			resp, out = wire.Fail(req, fmt.Sprintf("internal error: %v", r)), nil
		}
		s.logger.Debug("request handled",
			"id", req.ID,
			"method", req.Method,
			"status", resp.Status,
			"duration", time.Since(start),
		)
	}()

	result, out, err := s.dispatch(ctx, req, attachments)
	if err != nil {
		s.logger.Warn("request failed", "id", req.ID, "method", req.Method, "error", err)
		return wire.Fail(req, err.Error()), nil
	}
	resp, err = wire.Reply(req, result)
	if err != nil {
		return wire.Fail(req, err.Error()), nil
	}
	return resp, out
}

func (s *Server) dispatch(ctx context.Context, req wire.Request, attachments [][]byte) (any, [][]byte, error) {
	switch req.Method {
	case wire.MethodAdd:
		return s.add(req.Params, attachments)
	case wire.MethodDrop:
		return s.drop(req.Params)
	case wire.MethodFetch:
		return s.fetch(req.Params)
	case wire.MethodList:
		return ListResult{Type: ResultList, List: s.db.List()}, nil, nil
	case wire.MethodLoad:
		return s.load(ctx, req.Params)
	case wire.MethodQuery:
		return s.query(req.Params)
	case wire.MethodSeed:
		return s.seed(req.Params)
	default:
		return nil, nil, &UnknownMethodError{Method: string(req.Method)}
	}
}
