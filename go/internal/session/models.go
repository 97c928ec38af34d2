package session

import (
	"time"
)

// GameType identifies which mini-game a session document belongs to.
type GameType string

const (
	GameGrid  GameType = "grid"
	GameQuiz  GameType = "quiz"
	GameAtlas GameType = "atlas"
)

// Phase is a named state in a game's phase machine. Each game defines its
// own closed set; Lobby and Finished are shared by every game.
type Phase string

const (
	PhaseLobby    Phase = "LOBBY"
	PhaseFinished Phase = "FINISHED"
)

// Player is one seated participant. Order in SessionState.Players is
// significant: players[0] is the tie-break authority and the default host.
type Player struct {
	UID         string `json:"uid"`
	DisplayName string `json:"displayName"`
	Symbol      string `json:"symbol,omitempty"`
	Team        string `json:"team,omitempty"`
	TotalScore  int    `json:"totalScore"`
}

// Intent is a player's submitted move/guess/answer for the current round.
// Data is opaque to the engine; SubmittedAt is the server-assigned write
// timestamp and is the only ordering source for tie-breaks.
type Intent struct {
	PlayerID    string         `json:"playerId"`
	SubmittedAt time.Time      `json:"submittedAt"`
	Correct     *bool          `json:"correct,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

// RoundScore is one player's score for a single round.
type RoundScore struct {
	Points    int            `json:"points"`
	TimedOut  bool           `json:"timedOut"`
	Breakdown map[string]int `json:"breakdown,omitempty"`
}

// RoundResult is computed once per round by a game resolver.
type RoundResult struct {
	WinnerID   string                `json:"winnerId,omitempty"`
	Randomized bool                  `json:"randomized"`
	Scores     map[string]RoundScore `json:"scores,omitempty"`
	Data       map[string]any        `json:"data,omitempty"`
}

// SessionState is the single source of truth for one game instance. It is
// only ever mutated through partial Fields updates against the store; local
// copies are read-only snapshots.
type SessionState struct {
	RoomID         string
	GameType       GameType
	HostID         string
	Players        []Player
	Phase          Phase
	PhaseStartedAt time.Time
	RoundIndex     int
	TurnID         string
	PendingIntents map[string]Intent
	Readiness      map[string]bool
	RoundResult    *RoundResult
	WinnerID       string
	RematchVotes   map[string]bool
	GameData       map[string]any
}

// Seated reports whether uid currently holds a seat.
func (s *SessionState) Seated(uid string) bool {
	for _, p := range s.Players {
		if p.UID == uid {
			return true
		}
	}
	return false
}

// PlayerIDs returns the seated player UIDs in seat order.
func (s *SessionState) PlayerIDs() []string {
	ids := make([]string, len(s.Players))
	for i, p := range s.Players {
		ids[i] = p.UID
	}
	return ids
}

// Host returns the authoritative resolver for this session: the explicit
// host if the document names one, otherwise players[0].
func (s *SessionState) Host() string {
	if s.HostID != "" {
		return s.HostID
	}
	if len(s.Players) > 0 {
		return s.Players[0].UID
	}
	return ""
}

// AllReady reports whether every currently-seated player has flipped their
// readiness flag. A player who left is never silently treated as ready, and
// an empty seat list never satisfies the barrier.
func (s *SessionState) AllReady() bool {
	if len(s.Players) == 0 {
		return false
	}
	for _, p := range s.Players {
		if !s.Readiness[p.UID] {
			return false
		}
	}
	return true
}

// AllVotedRematch reports whether every seated player voted for a rematch.
func (s *SessionState) AllVotedRematch() bool {
	if len(s.Players) == 0 {
		return false
	}
	for _, p := range s.Players {
		if !s.RematchVotes[p.UID] {
			return false
		}
	}
	return true
}

// Finished reports whether the session reached its terminal phase.
func (s *SessionState) Finished() bool {
	return s.Phase == PhaseFinished
}
