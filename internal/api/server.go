package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"nearautopilot/internal/config"
	"nearautopilot/internal/store"
	"nearautopilot/internal/telemetry"
)

// Server runs the optional HTTP introspection surface.
type Server struct {
	hub    *Hub
	server *http.Server
	logger *slog.Logger
}

// NewServer wires /healthz, /metrics, and /events, and subscribes the hub to
// bus so every emitted telemetry.Event is broadcast to connected websocket
// clients. It returns nil if cfg.Addr is blank — the surface is disabled.
func NewServer(cfg config.HTTPConfig, st store.Store, bus *telemetry.Bus, agentID string, logger *slog.Logger) *Server {
	if cfg.Addr == "" {
		return nil
	}

	hub := NewHub(logger)
	handlers := NewHandlers(st, bus, hub, agentID, cfg, logger)

	bus.Subscribe(hub.Broadcast)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handlers.HandleHealth)
	mux.HandleFunc("/metrics", handlers.HandleMetrics)
	mux.HandleFunc("/events", handlers.HandleEvents)

	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		hub:    hub,
		server: httpServer,
		logger: logger.With("component", "api-server"),
	}
}

// Start blocks serving HTTP until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("introspection surface starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	s.logger.Info("stopping introspection surface")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
