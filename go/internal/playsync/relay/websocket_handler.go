package relay

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles WebSocket upgrade requests from agents
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	rooms             *Rooms
	counters          *CounterMetrics
}

// NewWebSocketHandler creates a new WebSocket handler. counters may be nil.
func NewWebSocketHandler(cm *ConnectionManager, rooms *Rooms, counters *CounterMetrics) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		rooms:             rooms,
		counters:          counters,
	}
}

// HandleConnection upgrades an agent connection. An optional room query
// parameter joins the room right away.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")

	if err := h.connectionManager.UpgradeConnection(w, r, roomID); err != nil {
		// the upgrader has already written an error response
		log.Error().
			Err(err).
			Str("remote_addr", r.RemoteAddr).
			Msg("failed to upgrade WebSocket connection")
		return
	}
}

// StatsResponse is served on /ws/stats
type StatsResponse struct {
	TotalConnections int              `json:"total_connections"`
	TotalMembers     int              `json:"total_members"`
	ActiveRooms      int              `json:"active_rooms"`
	Rooms            map[string]int   `json:"rooms"`
	Counters         *CounterSnapshot `json:"counters,omitempty"`
}

// HandleConnectionStats returns statistics about active connections and rooms
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	stats := h.rooms.Stats()
	resp := StatsResponse{
		TotalConnections: h.connectionManager.ConnectionCount(),
		TotalMembers:     stats.TotalMembers,
		ActiveRooms:      stats.ActiveRooms,
		Rooms:            stats.Rooms,
	}
	if h.counters != nil {
		snap := h.counters.Snapshot()
		resp.Counters = &snap
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("failed to encode stats response")
	}
}

// HandleHealth reports liveness
func (h *WebSocketHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
	mux.HandleFunc("/health", h.HandleHealth)
}
