package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/killunetwork/gacha/internal/config"
)

// HTTPService wraps an http.Server in the Service interface.
type HTTPService struct {
	srv             *http.Server
	shutdownTimeout time.Duration
}

// NewHTTPService creates a lifecycle service serving handler per cfg.
func NewHTTPService(cfg config.HTTPConfig, handler http.Handler) *HTTPService {
	return &HTTPService{
		srv: &http.Server{
			Addr:         cfg.Addr(),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		shutdownTimeout: cfg.ShutdownTimeout,
	}
}

// Start listens and serves until Stop is called.
func (s *HTTPService) Start(_ context.Context) error {
	if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop drains in-flight requests and closes the listener.
func (s *HTTPService) Stop(ctx context.Context) error {
	if s.shutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.shutdownTimeout)
		defer cancel()
	}
	return s.srv.Shutdown(ctx)
}
