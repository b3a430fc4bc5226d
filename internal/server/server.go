// Package server exposes a worker over HTTP. Each WebSocket connection
// gets its own worker session sharing one catalog.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/leapframe/pkg/catalog"
	"github.com/leapstack-labs/leapframe/pkg/wire"
	"github.com/leapstack-labs/leapframe/pkg/worker"
)

// Server is the HTTP front end for workers.
type Server struct {
	addr   string
	worker *worker.Server
	logger *slog.Logger
}

// Config holds configuration for the HTTP server.
type Config struct {
	Addr   string
	DB     *catalog.Database
	Codec  wire.Codec
	Logger *slog.Logger
}

// New creates a server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		addr:   cfg.Addr,
		worker: worker.NewServer(worker.Config{DB: cfg.DB, Codec: cfg.Codec, Logger: logger}),
		logger: logger,
	}
}

// Handler returns the router: /ws speaks the worker protocol and
// /healthz reports the catalog.
func (s *Server) Handler() http.Handler {
	r := chi.NewMux()
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
	)
	r.Get("/healthz", s.healthz)
	r.Handle("/ws", wire.WebSocketHandler(s.session, s.logger))
	return r
}

func (s *Server) session(ctx context.Context, conn wire.Conn) {
	s.logger.Debug("worker session opened")
	// Hijacked connections outlive http.Server.Shutdown unless closed here.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	if err := s.worker.Serve(ctx, conn); err != nil {
		s.logger.Warn("worker session ended", "error", err)
		return
	}
	s.logger.Debug("worker session closed")
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"tables": s.worker.DB().List(),
	})
}

// Serve listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener is Serve on an existing listener.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	s.logger.Info("starting worker server", "addr", ln.Addr().String())
	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug("shutting down worker server...")
		return srv.Shutdown(shutdownCtx)
	})

	err := eg.Wait()
	if cerr := s.worker.Close(); err == nil {
		err = cerr
	}
	return err
}
