package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ami4go/ICAPP/internal/flow"
	"github.com/ami4go/ICAPP/internal/store"
)

// Server configuration defaults
const (
	// DefaultAddr is the default listen address for the HTTP API.
	DefaultAddr = ":5000"
	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultReadHeaderTimeout bounds reading request headers.
	DefaultReadHeaderTimeout = 10 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option defines a functional option for configuring the API server.
type Option func(*Opts)

// WithAddr sets the server listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server exposes the coordinator and the history archive over HTTP.
type Server struct {
	coord   *flow.Coordinator
	history store.Store
	addr    string
}

// NewServer creates a new API server.
func NewServer(coord *flow.Coordinator, history store.Store, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	slog.Debug("Server.NewServer: server created", "addr", cfg.Addr)
	return &Server{coord: coord, history: history, addr: cfg.Addr}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.healthHandler)
	mux.HandleFunc("/api/start", s.startHandler)
	mux.HandleFunc("/api/message", s.messageHandler)
	mux.HandleFunc("/api/state", s.stateHandler)
	mux.HandleFunc("/api/end", s.endHandler)
	mux.HandleFunc("/api/history", s.historyHandler)
	mux.HandleFunc("/api/history/delete", s.historyDeleteHandler)
	return mux
}

// Run listens on the configured address until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		slog.Error("Server.Run: failed to listen", "addr", s.addr, "error", err)
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve handles requests on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Serve: API server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		slog.Error("Server.Serve: server failed", "error", err)
		return err
	case <-ctx.Done():
		slog.Info("Server.Serve: shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server.Serve: graceful shutdown failed", "error", err)
			return fmt.Errorf("failed to shut down API server: %w", err)
		}
		slog.Info("Server.Serve: API server stopped")
		return nil
	}
}
