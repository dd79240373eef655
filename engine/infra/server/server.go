package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/toolbridge/toolbridge/pkg/logger"
)

const (
	httpReadTimeout       = 15 * time.Second
	httpWriteTimeout      = 30 * time.Second
	httpIdleTimeout       = 60 * time.Second
	serverShutdownTimeout = 10 * time.Second
)

// Server wraps the HTTP listener around the assembled engine.
type Server struct {
	httpServer *http.Server
	log        logger.Logger
}

func New(deps *Deps, log logger.Logger) *Server {
	router := NewRouter(deps, log)
	return &Server{
		httpServer: &http.Server{
			Addr:         deps.Config.Server.Addr(),
			Handler:      router,
			ReadTimeout:  httpReadTimeout,
			WriteTimeout: httpWriteTimeout,
			IdleTimeout:  httpIdleTimeout,
		},
		log: log,
	}
}

// Start serves until the context is cancelled, then drains in-flight
// requests.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	s.log.Info("http server stopped")
	return nil
}
