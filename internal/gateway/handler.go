package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// StatsProvider exposes registry counters for the status endpoint.
type StatsProvider interface {
	SessionCount() int
	ParticipantCount() int
}

// Handler serves the WebSocket upgrade and operational endpoints.
type Handler struct {
	connectionManager *ConnectionManager
	stats             StatsProvider
}

// NewHandler creates the gateway HTTP handler.
func NewHandler(cm *ConnectionManager, stats StatsProvider) *Handler {
	return &Handler{
		connectionManager: cm,
		stats:             stats,
	}
}

// HandleRaceConnection upgrades the request to a WebSocket. The client
// joins a session with its first frame.
func (h *Handler) HandleRaceConnection(w http.ResponseWriter, r *http.Request) {
	if err := h.connectionManager.UpgradeConnection(w, r); err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		http.Error(w, "failed to upgrade connection", http.StatusInternalServerError)
		return
	}
}

// HandleStatus reports server liveness plus session and participant counts.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"status":              "ok",
		"active_sessions":     h.stats.SessionCount(),
		"active_participants": h.stats.ParticipantCount(),
	})
}

// HandleConnectionStats returns statistics about active connections.
func (h *Handler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	totalConnections, activeSessions := h.connectionManager.GetConnectionStats()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]int{
		"total_connections": totalConnections,
		"active_sessions":   activeSessions,
	})
}

// RegisterRoutes registers gateway routes with an HTTP mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/race", h.HandleRaceConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
	mux.HandleFunc("/status", h.HandleStatus)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}
