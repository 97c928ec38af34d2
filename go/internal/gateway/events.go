package gateway

import (
	"encoding/json"
	"time"

	"github.com/collerty/game-box-sub000/go/internal/view"
)

// EventType identifies a message pushed to a WebSocket client.
type EventType string

const (
	EventTypeView  EventType = "view"
	EventTypeEnded EventType = "session_ended"
	EventTypeError EventType = "error"
)

// SessionEvent is the outbound WebSocket message envelope.
type SessionEvent struct {
	Type      EventType  `json:"type"`
	RoomID    string     `json:"roomId"`
	Timestamp time.Time  `json:"timestamp"`
	View      *view.View `json:"view,omitempty"`
	Message   string     `json:"message,omitempty"`
}

// CommandType identifies an inbound client command.
type CommandType string

const (
	CommandStartGame    CommandType = "start_game"
	CommandSubmitIntent CommandType = "submit_intent"
	CommandSetReady     CommandType = "set_ready"
	CommandVoteRematch  CommandType = "vote_rematch"
	CommandLeave        CommandType = "leave"
)

// ClientCommand is the inbound WebSocket message envelope. Data and Correct
// ride through to the engine as the opaque intent payload.
type ClientCommand struct {
	Type    CommandType     `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	Correct *bool           `json:"correct,omitempty"`
}
