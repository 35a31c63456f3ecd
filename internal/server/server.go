// Package server exposes an Engine over HTTP. Each client opens a session,
// drives its transactions through the session's endpoints and closes it when
// done.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sanonone/txcache/pkg/engine"
)

// Options configures a Server.
type Options struct {
	HTTPAddr   string
	AuthToken  string        // empty disables authentication
	SessionTTL time.Duration // idle sessions older than this are aborted; 0 disables
}

// Server holds the HTTP interface and the sessions opened through it.
type Server struct {
	engine   *engine.Engine
	sessions *SessionRegistry

	httpServer *http.Server
	authToken  string

	sweepCtx    context.Context
	stopSweeper context.CancelFunc
}

// NewServer builds the HTTP server on top of an open Engine. The Engine stays
// owned by the caller.
func NewServer(eng *engine.Engine, opts Options) *Server {
	s := &Server{
		engine:    eng,
		sessions:  NewSessionRegistry(eng, opts.SessionTTL),
		authToken: opts.AuthToken,
	}
	s.sweepCtx, s.stopSweeper = context.WithCancel(context.Background())

	mux := http.NewServeMux()
	s.registerHTTPHandlers(mux)

	// Chain: Recovery -> Logging -> Auth -> Mux
	var handler http.Handler = mux
	handler = s.authMiddleware(handler)
	handler = s.LoggingMiddleware(handler)
	handler = s.RecoveryMiddleware(handler)

	rootMux := http.NewServeMux()
	rootMux.HandleFunc("GET /healthz", s.handleHealthz)
	rootMux.Handle("GET /metrics", promhttp.Handler())
	rootMux.Handle("/", handler)

	s.httpServer = &http.Server{
		Addr:              opts.HTTPAddr,
		Handler:           rootMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Sessions returns the session registry.
func (s *Server) Sessions() *SessionRegistry {
	return s.sessions
}

// Run starts the session sweeper and serves HTTP until Shutdown is called.
func (s *Server) Run() error {
	go s.sessions.RunSweeper(s.sweepCtx, sweepInterval(s.sessions.ttl))

	slog.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server startup failed: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP server and aborts every open session. It does not
// close the Engine.
func (s *Server) Shutdown() {
	slog.Info("Starting graceful shutdown of HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	s.stopSweeper()
	s.sessions.Close()
}

func sweepInterval(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 0
	}
	if interval := ttl / 4; interval > time.Second {
		return interval
	}
	return time.Second
}
