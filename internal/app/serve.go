package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Serve runs the HTTP server until ctx is cancelled, then shuts it down
// within the configured shutdown timeout and waits for running pipelines.
func (a *App) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Config.Server.Addr)
	if err != nil {
		return errors.Join(err, a.Close(ctx))
	}
	return a.ServeListener(ctx, ln)
}

// ServeListener is Serve on an existing listener.
func (a *App) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: a.Config.Server.ReadTimeout,
		// no WriteTimeout: SSE and WebSocket streams are long-lived
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("Research API listening", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		return errors.Join(err, a.Close(context.Background()))
	case <-ctx.Done():
	}

	a.Logger.Info("Research API shutting down...")
	timeout := a.Config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// open streams end when their request context is cancelled
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error("Research API forced to shutdown", zap.Error(err))
		_ = srv.Close()
	}
	err := a.Close(shutdownCtx)
	a.Logger.Info("Research API stopped")
	return err
}
