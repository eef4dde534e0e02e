package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/haulfs/haulfs/internal/logger"
)

// Server wraps an http.Server with graceful start/stop, grounded on
// pkg/api/server.go's shutdownOnce pattern.
type Server struct {
	server       *http.Server
	addr         string
	shutdownOnce sync.Once
}

// NewServer builds a Server serving deps on addr. The drain timeout used
// once ctx is cancelled is the shutdownTimeout passed to Start.
func NewServer(addr string, deps Deps) *Server {
	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: NewRouter(deps),
		},
		addr: addr,
	}
}

// Start listens and blocks until ctx is cancelled or the server fails,
// gracefully draining in-flight requests within shutdownTimeout.
func (s *Server) Start(ctx context.Context, shutdownTimeout time.Duration) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("API server listening", "addr", s.addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("API server shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("api server failed: %w", err)
	}
}

// Stop gracefully shuts down the server. Safe to call multiple times.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		logger.Debug("API server shutdown initiated")
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("api server shutdown error: %w", err)
			logger.Error("API server shutdown error", "error", err)
		} else {
			logger.Info("API server stopped gracefully")
		}
	})
	return shutdownErr
}
