package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/collerty/game-box-sub000/go/internal/session"
	"github.com/collerty/game-box-sub000/go/internal/store"
)

// WebSocketHandler exposes the session WebSocket and room REST endpoints.
type WebSocketHandler struct {
	cm    *ConnectionManager
	rooms *RoomManager
}

// NewWebSocketHandler creates the HTTP handler layer.
func NewWebSocketHandler(cm *ConnectionManager, rooms *RoomManager) *WebSocketHandler {
	return &WebSocketHandler{cm: cm, rooms: rooms}
}

// RegisterRoutes registers the gateway routes on the mux.
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/session", h.HandleSessionConnection)
	mux.HandleFunc("/api/rooms", h.HandleCreateRoom)
	mux.HandleFunc("/ws/stats", h.HandleStats)
	log.Info().Msg("session gateway routes registered")
}

// HandleSessionConnection upgrades /ws/session?room=<id>&player=<uid>&game=<type>.
func (h *WebSocketHandler) HandleSessionConnection(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")
	playerID := r.URL.Query().Get("player")
	gameType := session.GameType(r.URL.Query().Get("game"))
	if roomID == "" || playerID == "" || gameType == "" {
		http.Error(w, "room, player and game are required", http.StatusBadRequest)
		return
	}

	// The connection is registered before the session client attaches so
	// the first view event has somewhere to land.
	conn, err := h.cm.UpgradeConnection(w, r, playerID, roomID)
	if err != nil {
		return
	}

	onCommand, onClose, err := h.rooms.Attach(context.WithoutCancel(r.Context()), conn, gameType)
	if err != nil {
		log.Warn().
			Err(err).
			Str("room_id", roomID).
			Str("player_id", playerID).
			Msg("attach failed, closing connection")
		conn.Conn.Close()
		return
	}
	conn.SetHandlers(onCommand, onClose)
}

// HandleCreateRoom handles POST /api/rooms.
func (h *WebSocketHandler) HandleCreateRoom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	roomID, err := h.rooms.CreateRoom(r.Context(), req)
	if err != nil {
		if errors.Is(err, store.ErrRoomExists) {
			http.Error(w, "room already exists", http.StatusConflict)
			return
		}
		log.Error().Err(err).Msg("room creation failed")
		http.Error(w, "room creation failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"roomId": roomID})
}

// HandleStats handles GET /ws/stats.
func (h *WebSocketHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats := h.cm.GetConnectionStats()
	stats["session_clients"] = h.rooms.Stats()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}
