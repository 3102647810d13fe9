package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/kilianp07/fleetcast/config"
	"github.com/kilianp07/fleetcast/core/logger"
)

// Serve runs an HTTP server on cfg.Addr until ctx is done, then shuts it
// down gracefully.
func Serve(ctx context.Context, cfg config.APIConfig, h http.Handler, log logger.Logger) error {
	log = logger.OrNop(log)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorf("api server shutdown: %v", err)
		}
		cancel()
	}()
	log.Infof("serving api on %s", cfg.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
