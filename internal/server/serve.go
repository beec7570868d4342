package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"crypto-settlement-go/internal/models"

	"go.uber.org/zap"
)

// ListenAndServe runs the API until ctx is cancelled, then drains in-flight
// requests for up to 10 seconds.
func (s *Server) ListenAndServe(ctx context.Context, cfg models.ServerConfig) error {
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		zap.L().Info("HTTP server listening", zap.String("addr", cfg.Addr))
		errChan <- srv.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	zap.L().Info("Shutting down HTTP server")
	return srv.Shutdown(shutdownCtx)
}
