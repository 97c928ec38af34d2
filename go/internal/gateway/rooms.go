package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/collerty/game-box-sub000/go/internal/client"
	"github.com/collerty/game-box-sub000/go/internal/engine"
	"github.com/collerty/game-box-sub000/go/internal/session"
	"github.com/collerty/game-box-sub000/go/internal/store"
	"github.com/collerty/game-box-sub000/go/internal/view"
)

// RoomManager owns one SessionClient per attached WebSocket connection and
// routes inbound commands to it. The engine itself never sees the
// transport.
type RoomManager struct {
	store store.Store
	games map[session.GameType]engine.Game
	cm    *ConnectionManager

	mu      sync.Mutex
	clients map[string]*attachedClient // keyed by connection ID
}

type attachedClient struct {
	client *client.SessionClient
	cancel context.CancelFunc
}

// NewRoomManager creates a room manager over the given store and game
// registry.
func NewRoomManager(st store.Store, games map[session.GameType]engine.Game, cm *ConnectionManager) *RoomManager {
	return &RoomManager{
		store:   st,
		games:   games,
		cm:      cm,
		clients: make(map[string]*attachedClient),
	}
}

// CreateRoomRequest seeds a new session document. Room establishment is the
// one lifecycle step outside the sync engine: after this, the document is
// only ever transitioned.
type CreateRoomRequest struct {
	RoomID   string           `json:"roomId,omitempty"`
	GameType session.GameType `json:"gameType"`
	Players  []session.Player `json:"players"`
	GameData map[string]any   `json:"gameData,omitempty"`
}

// CreateRoom writes a fresh LOBBY document for the requested game.
func (rm *RoomManager) CreateRoom(ctx context.Context, req CreateRoomRequest) (string, error) {
	if _, ok := rm.games[req.GameType]; !ok {
		return "", fmt.Errorf("unknown game type %q", req.GameType)
	}
	if len(req.Players) == 0 {
		return "", fmt.Errorf("room needs at least one player")
	}
	roomID := req.RoomID
	if roomID == "" {
		roomID = uuid.New().String()
	}

	doc := session.Encode(session.SessionState{
		RoomID:   roomID,
		GameType: req.GameType,
		Players:  req.Players,
		Phase:    session.PhaseLobby,
		GameData: req.GameData,
	})
	if err := rm.store.Create(ctx, roomID, doc); err != nil {
		return "", err
	}
	log.Info().
		Str("room_id", roomID).
		Str("game_type", string(req.GameType)).
		Int("players", len(req.Players)).
		Msg("room created")
	return roomID, nil
}

// Attach builds a SessionClient for one connection and starts its loop.
// The returned command handler is what the connection manager feeds inbound
// messages into.
func (rm *RoomManager) Attach(ctx context.Context, conn *Connection, gameType session.GameType) (func(ClientCommand), func(), error) {
	game, ok := rm.games[gameType]
	if !ok {
		return nil, nil, fmt.Errorf("unknown game type %q", gameType)
	}

	clientCtx, cancel := context.WithCancel(ctx)
	sc := client.New(rm.store, game, conn.RoomID, conn.PlayerID,
		client.WithViewHandler(func(v view.View) {
			rm.cm.BroadcastToPlayer(conn.RoomID, conn.PlayerID, &SessionEvent{
				Type:      EventTypeView,
				RoomID:    conn.RoomID,
				Timestamp: time.Now(),
				View:      &v,
			})
		}),
		client.WithEndedHandler(func() {
			rm.cm.BroadcastToPlayer(conn.RoomID, conn.PlayerID, &SessionEvent{
				Type:      EventTypeEnded,
				RoomID:    conn.RoomID,
				Timestamp: time.Now(),
			})
		}),
	)

	rm.mu.Lock()
	rm.clients[conn.ID] = &attachedClient{client: sc, cancel: cancel}
	rm.mu.Unlock()

	go func() {
		if err := sc.Run(clientCtx); err != nil {
			log.Error().
				Err(err).
				Str("room_id", conn.RoomID).
				Str("player_id", conn.PlayerID).
				Msg("session client stopped")
			rm.cm.BroadcastToPlayer(conn.RoomID, conn.PlayerID, &SessionEvent{
				Type:      EventTypeError,
				RoomID:    conn.RoomID,
				Timestamp: time.Now(),
				Message:   "session unavailable",
			})
		}
	}()

	onCommand := func(cmd ClientCommand) {
		rm.dispatch(clientCtx, sc, conn, cmd)
	}
	onClose := func() {
		rm.detach(conn.ID)
	}
	return onCommand, onClose, nil
}

func (rm *RoomManager) detach(connID string) {
	rm.mu.Lock()
	ac, ok := rm.clients[connID]
	if ok {
		delete(rm.clients, connID)
	}
	rm.mu.Unlock()
	if ok {
		ac.cancel()
	}
}

func (rm *RoomManager) dispatch(ctx context.Context, sc *client.SessionClient, conn *Connection, cmd ClientCommand) {
	var err error
	switch cmd.Type {
	case CommandStartGame:
		err = sc.StartGame(ctx)
	case CommandSubmitIntent:
		var data map[string]any
		if len(cmd.Data) > 0 {
			if jsonErr := json.Unmarshal(cmd.Data, &data); jsonErr != nil {
				log.Debug().
					Err(jsonErr).
					Str("connection_id", conn.ID).
					Msg("undecodable intent payload, dropping")
				return
			}
		}
		err = sc.SubmitIntent(ctx, data, cmd.Correct)
	case CommandSetReady:
		err = sc.SetReady(ctx)
	case CommandVoteRematch:
		err = sc.VoteRematch(ctx)
	case CommandLeave:
		err = sc.Leave(ctx)
		rm.detach(conn.ID)
	default:
		log.Debug().
			Str("connection_id", conn.ID).
			Str("command", string(cmd.Type)).
			Msg("unknown command, ignoring")
		return
	}
	if err != nil {
		// Transient by taxonomy: the client's local state stays reverted
		// and the next reactive tick retries. Nothing fatal reaches the UI.
		log.Warn().
			Err(err).
			Str("connection_id", conn.ID).
			Str("command", string(cmd.Type)).
			Msg("command failed")
	}
}

// Stats reports how many session clients are attached.
func (rm *RoomManager) Stats() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.clients)
}
