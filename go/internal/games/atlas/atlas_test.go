package atlas

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collerty/game-box-sub000/go/internal/engine"
	"github.com/collerty/game-box-sub000/go/internal/session"
)

func atlasState(phase session.Phase) *session.SessionState {
	return &session.SessionState{
		RoomID:   "room-1",
		GameType: session.GameAtlas,
		Players: []session.Player{
			{UID: "alice", DisplayName: "Alice", TotalScore: 100},
			{UID: "bob", DisplayName: "Bob", TotalScore: 250},
		},
		Phase:          phase,
		PhaseStartedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		GameData: map[string]any{
			"rounds": []any{
				map[string]any{"lat": 48.8566, "lng": 2.3522, "year": float64(1970)},
				map[string]any{"lat": 35.6762, "lng": 139.6503, "year": float64(1995)},
			},
		},
	}
}

func guess(uid string, lat, lng, year float64) session.Intent {
	return session.Intent{
		PlayerID: uid,
		Data:     map[string]any{"lat": lat, "lng": lng, "year": year},
	}
}

func TestResolveGuessingScoresEveryPlayer(t *testing.T) {
	g := New()
	s := atlasState(PhaseGuessing)
	s.PendingIntents = map[string]session.Intent{
		"alice": guess("alice", 48.8566, 2.3522, 1970), // spot on
	}

	fields, err := g.Resolve(s, time.Now(), rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	assert.Equal(t, string(PhaseMapReveal), fields[session.FieldPhase])

	raw, ok := fields[session.FieldRoundResult].(map[string]any)
	require.True(t, ok)
	scores, ok := raw["scores"].(map[string]any)
	require.True(t, ok)

	aliceScore := scores["alice"].(map[string]any)
	assert.Equal(t, 2*MaxSubScore, aliceScore["points"])
	assert.Equal(t, false, aliceScore["timedOut"])

	// A player with no guess still gets an entry, zero points, flagged.
	bobScore := scores["bob"].(map[string]any)
	assert.Equal(t, 0, bobScore["points"])
	assert.Equal(t, true, bobScore["timedOut"])
}

func TestResolveGuessingUpdatesTotals(t *testing.T) {
	g := New()
	s := atlasState(PhaseGuessing)
	s.PendingIntents = map[string]session.Intent{
		"alice": guess("alice", 48.8566, 2.3522, 1970),
		"bob":   guess("bob", -33.8688, 151.2093, 1870), // other side of the world, century off
	}

	fields, err := g.Resolve(s, time.Now(), rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	players, ok := fields[session.FieldPlayers].([]any)
	require.True(t, ok)
	require.Len(t, players, 2)

	alice := players[0].(map[string]any)
	assert.Equal(t, "alice", alice["uid"])
	assert.Equal(t, 100+2*MaxSubScore, alice["totalScore"])

	bob := players[1].(map[string]any)
	assert.Equal(t, "bob", bob["uid"])
	assert.Equal(t, 250, bob["totalScore"])
}

func TestRendezvousPhasesAdvanceInOrder(t *testing.T) {
	g := New()
	rng := rand.New(rand.NewSource(1))

	fields, err := g.Resolve(atlasState(PhaseMapReveal), time.Now(), rng)
	require.NoError(t, err)
	assert.Equal(t, string(PhaseResults), fields[session.FieldPhase])
	assert.True(t, session.IsDeleteField(fields[session.FieldReadiness]))

	fields, err = g.Resolve(atlasState(PhaseResults), time.Now(), rng)
	require.NoError(t, err)
	assert.Equal(t, string(PhaseLeaderboard), fields[session.FieldPhase])
}

func TestResolveLeaderboardStartsNextRound(t *testing.T) {
	g := New()
	s := atlasState(PhaseLeaderboard)
	s.RoundIndex = 0 // two rounds configured, one played

	fields, err := g.Resolve(s, time.Now(), rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	assert.Equal(t, string(PhaseGuessing), fields[session.FieldPhase])
	assert.Equal(t, 1, fields[session.FieldRoundIndex])
	assert.True(t, session.IsDeleteField(fields[session.FieldPendingIntents]))
}

func TestResolveLeaderboardFinishesAfterLastRound(t *testing.T) {
	g := New()
	s := atlasState(PhaseLeaderboard)
	s.RoundIndex = 1 // final configured round

	fields, err := g.Resolve(s, time.Now(), rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	assert.Equal(t, string(session.PhaseFinished), fields[session.FieldPhase])
	assert.Equal(t, "bob", fields[session.FieldWinnerID]) // highest total
}

func TestResolveLeaderboardFinalTieGoesToSeatOrder(t *testing.T) {
	g := New()
	s := atlasState(PhaseLeaderboard)
	s.RoundIndex = 1
	s.Players[0].TotalScore = 250
	s.Players[1].TotalScore = 250

	fields, err := g.Resolve(s, time.Now(), rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, "alice", fields[session.FieldWinnerID])
}

func TestRoundCount(t *testing.T) {
	assert.Equal(t, 2, roundCount(map[string]any{"rounds": []any{1, 2}}))
	assert.Equal(t, 7, roundCount(map[string]any{"totalRounds": float64(7)}))
	assert.Equal(t, defaultRoundCount, roundCount(map[string]any{}))
}

func TestRoundTargetOutOfRange(t *testing.T) {
	s := atlasState(PhaseGuessing)
	_, err := roundTarget(s.GameData, 5)
	assert.Error(t, err)
	_, err = roundTarget(map[string]any{}, 0)
	assert.Error(t, err)
}

func TestValidateIntent(t *testing.T) {
	g := New()
	s := atlasState(PhaseGuessing)

	assert.NoError(t, g.ValidateIntent(s, "alice", guess("alice", 10, 20, 1980)))

	// Guesses only land during GUESSING.
	err := g.ValidateIntent(atlasState(PhaseResults), "alice", guess("alice", 10, 20, 1980))
	assert.ErrorIs(t, err, engine.ErrIllegalIntent)

	// Seat required.
	err = g.ValidateIntent(s, "mallory", guess("mallory", 10, 20, 1980))
	assert.ErrorIs(t, err, engine.ErrIllegalIntent)

	// One guess per round.
	s.PendingIntents = map[string]session.Intent{"alice": guess("alice", 0, 0, 2000)}
	err = g.ValidateIntent(s, "alice", guess("alice", 10, 20, 1980))
	assert.ErrorIs(t, err, engine.ErrIllegalIntent)

	// All three fields are required.
	err = g.ValidateIntent(s, "bob", session.Intent{PlayerID: "bob", Data: map[string]any{"lat": 1.0, "lng": 2.0}})
	assert.ErrorIs(t, err, engine.ErrIllegalIntent)
}

func TestResetClearsTotals(t *testing.T) {
	g := New()
	s := atlasState(session.PhaseFinished)
	s.WinnerID = "bob"

	fields := g.Reset(s)
	assert.Equal(t, string(session.PhaseLobby), fields[session.FieldPhase])

	players, ok := fields[session.FieldPlayers].([]any)
	require.True(t, ok)
	for _, raw := range players {
		p := raw.(map[string]any)
		assert.Equal(t, 0, p["totalScore"])
	}
	// Seat order survives the reset.
	assert.Equal(t, "alice", players[0].(map[string]any)["uid"])
	assert.Equal(t, "bob", players[1].(map[string]any)["uid"])
}
