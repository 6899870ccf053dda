package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Config configures Server.
type Config struct {
	Addr            string
	Version         string
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
	// Metrics, when set, is served on /metrics.
	Metrics http.Handler
}

// Server serves the API, the health probes and metrics on one listener and
// shuts them down together.
type Server struct {
	Health   *HealthServer
	Shutdown *ShutdownHandler

	http   *http.Server
	logger *slog.Logger
}

// New creates a server for matcher. The server is not ready until Serve runs.
func New(matcher Matcher, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	health := NewHealthServer(&HealthConfig{Version: cfg.Version})
	mux := http.NewServeMux()
	health.Register(mux)
	NewAPI(matcher, logger).Register(mux)
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	s := &Server{
		Health:   health,
		Shutdown: NewShutdownHandler(&ShutdownConfig{Timeout: cfg.ShutdownTimeout, Logger: logger}),
		http: &http.Server{
			Addr:              cfg.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
	s.Shutdown.RegisterHook("readiness", 5, func(ctx context.Context) error {
		health.SetReady(false)
		return nil
	})
	s.Shutdown.Add(HTTPServerShutdownHook("http", s.http.Shutdown))
	return s
}

// Handler exposes the routed mux, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Serve listens on the configured address and blocks until shutdown hooks
// have completed. ctx cancellation triggers shutdown as a signal would.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.http.Addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener is Serve on an existing listener.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	s.Shutdown.Start()
	go func() {
		select {
		case <-ctx.Done():
			s.Shutdown.Shutdown()
		case <-s.Shutdown.ShutdownCh():
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.Serve(ln)
	}()
	s.Health.SetReady(true)
	s.logger.Info("server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			s.Shutdown.Shutdown()
			s.Shutdown.Wait()
			return fmt.Errorf("serving http: %w", err)
		}
	case <-s.Shutdown.ShutdownCh():
	}
	s.Shutdown.Wait()
	return nil
}
