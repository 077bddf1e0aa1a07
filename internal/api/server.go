package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"skirmish/internal/logger"
)

// ServerConfig configures the public API server.
type ServerConfig struct {
	Router RouterConfig
	// Hub serves /ws when set.
	Hub *WebSocketHub
}

// Server is the HTTP API server with WebSocket support.
// It combines the HTTP router with the WebSocket hub for real-time frames.
type Server struct {
	router      *chi.Mux
	wsHub       *WebSocketHub
	rateLimiter *IPRateLimiter
	httpServer  *http.Server
}

// NewServer creates the API server.
//
// Background workers do not start until Start is called, so tests can
// construct the server and use Router() with httptest.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{wsHub: cfg.Hub}

	s.rateLimiter = cfg.Router.RateLimiter
	if s.rateLimiter == nil {
		rlCfg := DefaultRateLimitConfig
		if cfg.Router.RateLimitConfig != nil {
			rlCfg = *cfg.Router.RateLimitConfig
		}
		s.rateLimiter = NewIPRateLimiter(rlCfg)
		cfg.Router.RateLimiter = s.rateLimiter
	}

	s.router = NewRouter(cfg.Router)
	if s.wsHub != nil {
		s.router.Get("/ws", s.wsHub.HandleWebSocket)
	}
	return s
}

// Start runs the hub and serves HTTP on addr until Shutdown. It returns nil
// after a clean shutdown.
func (s *Server) Start(addr string) error {
	if s.wsHub != nil {
		go s.wsHub.Run()
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	logger.Component("api").WithField("addr", addr).Info("API server starting")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Router returns the HTTP handler for use with httptest.
func (s *Server) Router() http.Handler {
	return s.router
}

// Shutdown stops accepting requests, waits for in-flight ones and stops
// background workers.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	if s.wsHub != nil {
		s.wsHub.Stop()
	}
	s.rateLimiter.Stop()
	return err
}
