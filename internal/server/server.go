// Package server exposes the importer over HTTP: trigger, progress stream,
// collection read-back, credential capture, health and metrics.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/Sternrassler/bookmark-importer/pkg/notify"
	"github.com/Sternrassler/bookmark-importer/pkg/pagination"
	"github.com/Sternrassler/bookmark-importer/pkg/store"
	"github.com/rs/zerolog"
)

// Importer is the run surface the server triggers.
type Importer interface {
	StartAsync(ctx context.Context, done func(pagination.RunResult, error)) error
	Running() bool
	State() pagination.State
}

// Capturer persists credentials extracted from request headers.
type Capturer interface {
	Capture(ctx context.Context, headers http.Header) (bool, error)
}

// Options configures a Server. Capturer is optional.
type Options struct {
	Importer Importer
	Store    store.Store
	Broker   *notify.Broker
	Capturer Capturer
	Logger   zerolog.Logger

	// RunContext parents every triggered run; runs outlive the trigger request.
	RunContext context.Context

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration
}

type Server struct {
	opts Options
	mux  *http.ServeMux
}

// New creates a server and registers its routes.
func New(opts Options) *Server {
	if opts.Importer == nil || opts.Store == nil || opts.Broker == nil {
		panic("importer, store and broker are required")
	}
	if opts.RunContext == nil {
		opts.RunContext = context.Background()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}

	s := &Server{opts: opts, mux: http.NewServeMux()}
	s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
// Request contexts derive from ctx so open event streams end on shutdown.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			s.opts.Logger.Warn().Err(err).Msg("Server shutdown incomplete")
		}
	}()

	s.opts.Logger.Info().Str("addr", addr).Msg("HTTP server listening")
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.opts.Logger.Info().Msg("HTTP server stopped")
	return nil
}
