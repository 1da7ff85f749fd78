package service

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// Start serves handler on host:port in the background. The returned context
// is cancelled once the server has stopped, either because it failed or
// because ctx was cancelled and the server shut down gracefully.
func Start(ctx context.Context, host, port string, handler http.Handler, log *logrus.Logger) (context.Context, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, port))
	if err != nil {
		return ctx, err
	}
	log.Infof("Service started at %s", ln.Addr())
	return startService(ctx, ln, handler, log), nil
}

func startService(ctx context.Context, ln net.Listener, handler http.Handler, log *logrus.Logger) context.Context {
	done, cancel := context.WithCancel(context.Background())

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		defer cancel()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("server stopped")
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
		case <-done.Done():
			return
		}
		shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("graceful shutdown failed")
		}
		log.Info("Service stopped")
	}()

	return done
}
