package gateway

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/collerty/game-box-sub000/go/internal/engine"
	"github.com/collerty/game-box-sub000/go/internal/session"
	"github.com/collerty/game-box-sub000/go/internal/store"
)

// Service is the session gateway: WebSocket fan-out of view projections
// plus the room REST surface.
type Service struct {
	connectionManager *ConnectionManager
	roomManager       *RoomManager
	wsHandler         *WebSocketHandler
}

// Config holds configuration for the gateway service.
type Config struct {
	ConnectionConfig ConnectionConfig
}

// DefaultConfig returns default gateway configuration.
func DefaultConfig() Config {
	return Config{ConnectionConfig: DefaultConnectionConfig()}
}

// NewService wires the gateway over a store and game registry.
func NewService(config Config, st store.Store, games map[session.GameType]engine.Game) *Service {
	cm := NewConnectionManager(config.ConnectionConfig)
	rooms := NewRoomManager(st, games, cm)
	return &Service{
		connectionManager: cm,
		roomManager:       rooms,
		wsHandler:         NewWebSocketHandler(cm, rooms),
	}
}

// Start runs the gateway until the context is cancelled.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting session gateway service")
	s.connectionManager.Start(ctx)
	return nil
}

// RegisterRoutes registers the WebSocket and REST routes.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
}

// GetStats returns statistics about the gateway service.
func (s *Service) GetStats() map[string]interface{} {
	stats := s.connectionManager.GetConnectionStats()
	stats["service"] = "session_gateway"
	stats["session_clients"] = s.roomManager.Stats()
	return stats
}
