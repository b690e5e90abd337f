package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

const readyTimeout = 2 * time.Second

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	db      Pinger
	hub     *Hub
	version string
}

// NewHealthHandler creates a new health handler. db and hub may be nil.
func NewHealthHandler(db Pinger, hub *Hub, version string) *HealthHandler {
	return &HealthHandler{db: db, hub: hub, version: version}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	Version     string `json:"version,omitempty"`
	Connections *int   `json:"connections,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Health returns the health status
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := h.status("ok")
	resp.Version = h.version
	if h.hub != nil {
		n := h.hub.Connections()
		resp.Connections = &n
	}
	writeHealth(w, http.StatusOK, resp)
}

// Ready fails while the database is unreachable
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			resp := h.status("unavailable")
			resp.Error = "database unreachable"
			writeHealth(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeHealth(w, http.StatusOK, h.status("ready"))
}

// Live returns the liveness status
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, h.status("alive"))
}

func (h *HealthHandler) status(s string) HealthResponse {
	return HealthResponse{
		Status:    s,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

func writeHealth(w http.ResponseWriter, status int, resp HealthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
