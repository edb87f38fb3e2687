package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/louisbranch/codecollab/internal/platform/timeouts"
)

// Config defines the HTTP process settings for the collab transport boundary.
type Config struct {
	HTTPAddr          string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server hosts the collab HTTP/WebSocket process.
//
// Admission, room state and generation are injected through Deps so the
// transport layer owns only connection lifecycles.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	handler         *handler
	logger          zerolog.Logger
}

// NewServer builds a server from cfg and deps.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	httpAddr := strings.TrimSpace(cfg.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = timeouts.Shutdown
	}

	h := newHandler(deps)
	return &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: cfg.ShutdownTimeout,
		httpServer: &http.Server{
			Addr:              httpAddr,
			Handler:           h.routes(),
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		},
		handler: h,
		logger:  h.logger,
	}, nil
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully and
// closes open WebSocket connections.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("collab server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	s.logger.Info().Str("addr", s.httpAddr).Msg("collab server listening")
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		// Hijacked connections are not tracked by http.Server.Shutdown.
		s.handler.shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		s.handler.shutdown()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close releases connection resources without waiting for a graceful
// shutdown.
func (s *Server) Close() {
	if s == nil {
		return
	}
	s.handler.shutdown()
	if err := s.httpServer.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("close http server")
	}
}
