// Package server hosts the switchboard over HTTP: a health probe, the
// effective configuration and the WebSocket endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/tsarna/switchboard/pkg/switchboard/config"
	"go.uber.org/zap"
)

// Server serves the HTTP routes and owns the WebSocket Listener.
type Server struct {
	config   *config.Config
	listener *Listener
	logger   *zap.Logger

	httpServer *http.Server
}

// New creates a Server for cfg. A nil logger disables logging.
func New(cfg *config.Config, listener *Listener, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		config:   cfg,
		listener: listener,
		logger:   logger,
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Gateway.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routes. Only the configured path upgrades to
// WebSocket; unknown paths get 404.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.health)
	mux.HandleFunc("/config", s.effectiveConfig)
	mux.HandleFunc(s.config.Gateway.Path, s.listener.ServeWebsocket)
	mux.HandleFunc("/", http.NotFound)

	return loggingMiddleware(s.logger, mux)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"config": s.config.Name(),
	})
}

func (s *Server) effectiveConfig(w http.ResponseWriter, r *http.Request) {
	data, err := s.config.Map()
	if err != nil {
		s.logger.Error("Failed to encode config", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully within shutdownTimeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Gateway listening",
			zap.String("addr", ln.Addr().String()),
			zap.String("path", s.config.Gateway.Path),
			zap.String("config", s.config.Name()),
		)
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// ListenAndServe listens on the configured address and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, shutdownTimeout time.Duration) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln, shutdownTimeout)
}

// Shutdown closes WebSocket sessions first, since http.Server.Shutdown does
// not track hijacked connections, then the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down gateway")

	wsErr := s.listener.Shutdown(ctx)
	httpErr := s.httpServer.Shutdown(ctx)
	return errors.Join(wsErr, httpErr)
}
