package grid

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collerty/game-box-sub000/go/internal/engine"
	"github.com/collerty/game-box-sub000/go/internal/session"
)

func twoPlayerState(phase session.Phase, turn string) *session.SessionState {
	return &session.SessionState{
		RoomID:   "room-1",
		GameType: session.GameGrid,
		Players: []session.Player{
			{UID: "alice", DisplayName: "Alice"},
			{UID: "bob", DisplayName: "Bob"},
		},
		Phase:          phase,
		PhaseStartedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		TurnID:         turn,
		GameData: map[string]any{
			"size":  float64(boardSize),
			"board": map[string]any{},
		},
	}
}

func moveIntent(uid string, row, col int) session.Intent {
	return session.Intent{
		PlayerID: uid,
		Data:     map[string]any{"row": float64(row), "col": float64(col)},
	}
}

func TestStart(t *testing.T) {
	g := New()
	s := twoPlayerState(session.PhaseLobby, "")
	fields := g.Start(s)

	assert.Equal(t, string(PhaseMove1), fields[session.FieldPhase])
	assert.Equal(t, "alice", fields[session.FieldTurnID])
	assert.True(t, session.IsServerTimestamp(fields[session.FieldPhaseStartedAt]))
	assert.Equal(t, 0, fields[session.FieldRoundIndex])
	assert.True(t, session.IsDeleteField(fields[session.FieldPendingIntents]))
	assert.True(t, session.IsDeleteField(fields[session.FieldWinnerID]))
}

func TestResolveMovePassesTurn(t *testing.T) {
	g := New()
	s := twoPlayerState(PhaseMove1, "alice")
	s.PendingIntents = map[string]session.Intent{"alice": moveIntent("alice", 3, 4)}

	fields, err := g.Resolve(s, time.Now(), rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	assert.Equal(t, string(PhaseMove2), fields[session.FieldPhase])
	assert.Equal(t, "bob", fields[session.FieldTurnID])
	assert.Equal(t, "X", fields["gameData.board.3,4"])
	assert.True(t, session.IsServerTimestamp(fields[session.FieldPhaseStartedAt]))
}

func TestResolveMoveSecondMoveEntersCheckWin(t *testing.T) {
	g := New()
	s := twoPlayerState(PhaseMove2, "bob")
	s.PendingIntents = map[string]session.Intent{"bob": moveIntent("bob", 0, 0)}

	fields, err := g.Resolve(s, time.Now(), rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	assert.Equal(t, string(PhaseCheckWin), fields[session.FieldPhase])
	assert.Equal(t, "O", fields["gameData.board.0,0"])
	assert.NotContains(t, fields, session.FieldTurnID)
}

func TestResolveMoveTimeoutForfeitsPlacement(t *testing.T) {
	g := New()
	s := twoPlayerState(PhaseMove1, "alice")

	fields, err := g.Resolve(s, time.Now(), rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	assert.Equal(t, string(PhaseMove2), fields[session.FieldPhase])
	assert.Equal(t, "bob", fields[session.FieldTurnID])
	for key := range fields {
		assert.NotContains(t, key, "gameData.board.")
	}
}

func TestResolveMoveInstantWin(t *testing.T) {
	g := New()
	s := twoPlayerState(PhaseMove1, "alice")
	s.GameData["board"] = map[string]any{
		"5,5": "X",
		"5,6": "X",
		"5,7": "X",
	}
	s.PendingIntents = map[string]session.Intent{"alice": moveIntent("alice", 5, 8)}

	fields, err := g.Resolve(s, time.Now(), rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	// The win commits in the same write as the placement; no CHECK_WIN hop.
	assert.Equal(t, string(session.PhaseFinished), fields[session.FieldPhase])
	assert.Equal(t, "alice", fields[session.FieldWinnerID])
	assert.Equal(t, "X", fields["gameData.board.5,8"])
	assert.True(t, session.IsDeleteField(fields[session.FieldPendingIntents]))
}

func TestResolveMoveIgnoresOccupiedCell(t *testing.T) {
	g := New()
	s := twoPlayerState(PhaseMove1, "alice")
	s.GameData["board"] = map[string]any{"3,3": "O"}
	s.PendingIntents = map[string]session.Intent{"alice": moveIntent("alice", 3, 3)}

	fields, err := g.Resolve(s, time.Now(), rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	assert.Equal(t, string(PhaseMove2), fields[session.FieldPhase])
	assert.NotContains(t, fields, "gameData.board.3,3")
}

func TestResolveCheckWinStartsNextRound(t *testing.T) {
	g := New()
	s := twoPlayerState(PhaseCheckWin, "")
	s.RoundIndex = 0
	s.GameData["board"] = map[string]any{"0,0": "X", "9,9": "O"}

	fields, err := g.Resolve(s, time.Now(), rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	assert.Equal(t, string(PhaseMove1), fields[session.FieldPhase])
	assert.Equal(t, 1, fields[session.FieldRoundIndex])
	// Round openers alternate with the round index.
	assert.Equal(t, "bob", fields[session.FieldTurnID])
	assert.True(t, session.IsDeleteField(fields[session.FieldPendingIntents]))
}

func TestResolveCheckWinFullBoardRandomizes(t *testing.T) {
	g := New()
	s := twoPlayerState(PhaseCheckWin, "")
	s.GameData["size"] = float64(2)
	s.GameData["board"] = map[string]any{
		"0,0": "X", "0,1": "O",
		"1,0": "O", "1,1": "X",
	}

	fields, err := g.Resolve(s, time.Now(), rand.New(rand.NewSource(7)))
	require.NoError(t, err)

	assert.Equal(t, string(session.PhaseFinished), fields[session.FieldPhase])
	winner := fields[session.FieldWinnerID]
	assert.Contains(t, []any{"alice", "bob"}, winner)

	rr, err := session.Decode(map[string]any{
		"phase":       fields[session.FieldPhase],
		"winnerId":    winner,
		"roundResult": fields[session.FieldRoundResult],
	})
	require.NoError(t, err)
	require.NotNil(t, rr.RoundResult)
	assert.True(t, rr.RoundResult.Randomized)
}

func TestResolveCheckWinFullBoardWithoutPlayers(t *testing.T) {
	g := New()
	s := twoPlayerState(PhaseCheckWin, "")
	s.Players = nil
	s.GameData["size"] = float64(2)
	s.GameData["board"] = map[string]any{
		"0,0": "X", "0,1": "O",
		"1,0": "O", "1,1": "X",
	}

	_, err := g.Resolve(s, time.Now(), rand.New(rand.NewSource(7)))
	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrMalformedDocument)
}

func TestResetReturnsToLobby(t *testing.T) {
	g := New()
	s := twoPlayerState(session.PhaseFinished, "")
	s.WinnerID = "alice"
	s.RematchVotes = map[string]bool{"alice": true, "bob": true}

	fields := g.Reset(s)
	assert.Equal(t, string(session.PhaseLobby), fields[session.FieldPhase])
	assert.Equal(t, 0, fields[session.FieldRoundIndex])
	assert.True(t, session.IsDeleteField(fields[session.FieldWinnerID]))
	assert.True(t, session.IsDeleteField(fields[session.FieldRematchVotes]))
	assert.True(t, session.IsDeleteField(fields[session.FieldTurnID]))
}

func TestValidateIntent(t *testing.T) {
	g := New()
	tests := []struct {
		name    string
		mutate  func(*session.SessionState)
		player  string
		intent  session.Intent
		wantErr bool
	}{
		{
			name:   "legal move",
			player: "alice",
			intent: moveIntent("alice", 2, 2),
		},
		{
			name:    "not your turn",
			player:  "bob",
			intent:  moveIntent("bob", 2, 2),
			wantErr: true,
		},
		{
			name:    "wrong phase",
			mutate:  func(s *session.SessionState) { s.Phase = PhaseCheckWin },
			player:  "alice",
			intent:  moveIntent("alice", 2, 2),
			wantErr: true,
		},
		{
			name: "duplicate submission",
			mutate: func(s *session.SessionState) {
				s.PendingIntents = map[string]session.Intent{"alice": moveIntent("alice", 1, 1)}
			},
			player:  "alice",
			intent:  moveIntent("alice", 2, 2),
			wantErr: true,
		},
		{
			name:    "out of bounds",
			player:  "alice",
			intent:  moveIntent("alice", 10, 0),
			wantErr: true,
		},
		{
			name:    "negative coordinates",
			player:  "alice",
			intent:  moveIntent("alice", -1, 0),
			wantErr: true,
		},
		{
			name: "occupied cell",
			mutate: func(s *session.SessionState) {
				s.GameData["board"] = map[string]any{"2,2": "O"}
			},
			player:  "alice",
			intent:  moveIntent("alice", 2, 2),
			wantErr: true,
		},
		{
			name:    "missing coordinates",
			player:  "alice",
			intent:  session.Intent{PlayerID: "alice", Data: map[string]any{"row": float64(1)}},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := twoPlayerState(PhaseMove1, "alice")
			if tt.mutate != nil {
				tt.mutate(s)
			}
			err := g.ValidateIntent(s, tt.player, tt.intent)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, engine.ErrIllegalIntent)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSpec(t *testing.T) {
	g := New()

	spec, ok := g.Spec(PhaseMove1)
	require.True(t, ok)
	assert.Equal(t, moveWindow, spec.Window)

	spec, ok = g.Spec(PhaseCheckWin)
	require.True(t, ok)
	assert.Zero(t, spec.Window)
	assert.False(t, spec.Rendezvous)

	_, ok = g.Spec(session.PhaseLobby)
	assert.False(t, ok)
	_, ok = g.Spec(session.PhaseFinished)
	assert.False(t, ok)
}
