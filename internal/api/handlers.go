package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"nearautopilot/internal/config"
	"nearautopilot/internal/store"
	"nearautopilot/internal/telemetry"
)

const healthCheckKey = "near_autopilot_healthcheck"

// HealthReport is the /healthz response body: whether the state store
// round-trips a throwaway key, plus a peek at the last few tick-lifecycle
// events from the telemetry bus.
type HealthReport struct {
	Status       string            `json:"status"` // "ok" or "degraded"
	AgentID      string            `json:"agentId"`
	StoreOK      bool              `json:"storeOk"`
	StoreError   string            `json:"storeError,omitempty"`
	RecentEvents []telemetry.Event `json:"recentEvents"`
}

// Handlers holds the introspection surface's HTTP handler dependencies.
type Handlers struct {
	store   store.Store
	bus     *telemetry.Bus
	hub     *Hub
	agentID string
	http    config.HTTPConfig
	logger  *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(st store.Store, bus *telemetry.Bus, hub *Hub, agentID string, httpCfg config.HTTPConfig, logger *slog.Logger) *Handlers {
	return &Handlers{store: st, bus: bus, hub: hub, agentID: agentID, http: httpCfg, logger: logger.With("component", "api-handlers")}
}

// HandleHealth reports whether the state store is reachable and writable,
// via a throwaway key round-trip, plus a peek at recent tick telemetry.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	report := HealthReport{Status: "ok", AgentID: h.agentID, StoreOK: true}

	if err := h.store.Set(healthCheckKey, "1"); err != nil {
		report.StoreOK = false
		report.StoreError = err.Error()
		report.Status = "degraded"
	} else if _, _, err := h.store.Get(healthCheckKey); err != nil {
		report.StoreOK = false
		report.StoreError = err.Error()
		report.Status = "degraded"
	}

	if h.bus != nil {
		report.RecentEvents = h.bus.Recent(5)
	}

	w.Header().Set("Content-Type", "application/json")
	if report.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(report); err != nil {
		h.logger.Error("failed to encode health report", "error", err)
	}
}

// HandleMetrics serves the telemetry bus's Prometheus-style text exposition.
func (h *Handlers) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.Write([]byte(h.bus.Exposition()))
}

// HandleEvents upgrades the connection to a websocket and streams telemetry
// events as they're emitted, after replaying a short backlog so a client
// connecting mid-run isn't starting from nothing.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(req *http.Request) bool {
			return isOriginAllowed(req.Header.Get("Origin"), h.http)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	h.hub.ServeConn(conn, h.bus.Recent(20))
}

// isOriginAllowed gates browser connections to /events. The introspection
// surface fronts an agent holding live marketplace credentials, so the
// policy is loopback-only by default: requests without an Origin header
// (curl, wscat, other agents) pass, browser pages pass only from
// localhost, and anything else must be listed in http.allowedOrigins
// verbatim. There is deliberately no same-host fallback — binding the
// surface to a routable address must not implicitly trust pages served
// from that address.
func isOriginAllowed(origin string, cfg config.HTTPConfig) bool {
	if origin == "" {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}

	if len(cfg.AllowedOrigins) > 0 {
		normalized := strings.ToLower(u.Scheme + "://" + u.Host)
		for _, allowed := range cfg.AllowedOrigins {
			if normalized == strings.ToLower(strings.TrimSuffix(allowed, "/")) {
				return true
			}
		}
		return false
	}

	host := strings.ToLower(u.Hostname())
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
