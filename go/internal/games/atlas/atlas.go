// Package atlas implements the map and year guessing game: players guess
// where and when a picture was taken, closeness earns points, highest total
// after the final round wins.
package atlas

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/collerty/game-box-sub000/go/internal/engine"
	"github.com/collerty/game-box-sub000/go/internal/session"
)

// Atlas phases.
const (
	PhaseGuessing    session.Phase = "GUESSING"
	PhaseMapReveal   session.Phase = "MAP_REVEAL"
	PhaseResults     session.Phase = "RESULTS"
	PhaseLeaderboard session.Phase = "LEADERBOARD"
)

const (
	guessWindow       = 30 * time.Second
	revealBackstop    = 20 * time.Second
	defaultRoundCount = 5
)

// Target is one round's ground truth, supplied in gameData at room
// creation. The engine treats the surrounding content (image URLs, hints)
// as opaque and reads only the fields it scores against.
type Target struct {
	Lat  float64
	Lng  float64
	Year int
}

// Game implements engine.Game for the atlas guessing game.
type Game struct{}

// New creates the atlas game.
func New() *Game { return &Game{} }

func (g *Game) Type() session.GameType { return session.GameAtlas }

func (g *Game) Spec(p session.Phase) (engine.PhaseSpec, bool) {
	switch p {
	case PhaseGuessing:
		return engine.PhaseSpec{Window: guessWindow}, true
	case PhaseMapReveal, PhaseResults, PhaseLeaderboard:
		return engine.PhaseSpec{Rendezvous: true, Backstop: revealBackstop}, true
	default:
		return engine.PhaseSpec{}, false
	}
}

func (g *Game) ExpectedSubmitters(s *session.SessionState) []string {
	return s.PlayerIDs()
}

func (g *Game) Start(s *session.SessionState) session.Fields {
	fields := session.Fields{
		session.FieldPhase:          string(PhaseGuessing),
		session.FieldPhaseStartedAt: session.ServerTimestamp,
		session.FieldRoundIndex:     0,
		session.FieldWinnerID:       session.DeleteField,
		session.FieldRematchVotes:   session.DeleteField,
	}
	for k, v := range engine.ClearedRoundFields() {
		fields[k] = v
	}
	return fields
}

func (g *Game) Resolve(s *session.SessionState, now time.Time, rng *rand.Rand) (session.Fields, error) {
	switch s.Phase {
	case PhaseGuessing:
		return g.resolveGuessing(s)
	case PhaseMapReveal:
		return rendezvousAdvance(PhaseResults), nil
	case PhaseResults:
		return rendezvousAdvance(PhaseLeaderboard), nil
	case PhaseLeaderboard:
		return g.resolveLeaderboard(s)
	default:
		return nil, fmt.Errorf("atlas: no resolution for phase %s", s.Phase)
	}
}

// resolveGuessing scores the round. Every seated player gets an entry: a
// submitted guess is scored per sub-objective, a missing one scores zero
// on all of them with timedOut set, which the UI shows differently from a
// bad-but-honest guess.
func (g *Game) resolveGuessing(s *session.SessionState) (session.Fields, error) {
	target, err := roundTarget(s.GameData, s.RoundIndex)
	if err != nil {
		return nil, fmt.Errorf("atlas: %w", err)
	}

	scores := make(map[string]session.RoundScore, len(s.Players))
	totals := make(map[string]int, len(s.Players))
	for _, p := range s.Players {
		intent, ok := s.PendingIntents[p.UID]
		if !ok {
			scores[p.UID] = session.RoundScore{TimedOut: true}
			totals[p.UID] = p.TotalScore
			continue
		}
		sc := scoreGuess(intent, target)
		scores[p.UID] = sc
		totals[p.UID] = p.TotalScore + sc.Points
	}

	roundWinner := ""
	best := -1
	for _, p := range s.Players {
		if sc := scores[p.UID]; sc.Points > best {
			best = sc.Points
			roundWinner = p.UID
		}
	}

	players := make([]any, len(s.Players))
	for i, p := range s.Players {
		p.TotalScore = totals[p.UID]
		players[i] = map[string]any{
			"uid":         p.UID,
			"displayName": p.DisplayName,
			"totalScore":  p.TotalScore,
		}
	}

	return session.Fields{
		session.FieldPhase:          string(PhaseMapReveal),
		session.FieldPhaseStartedAt: session.ServerTimestamp,
		session.FieldReadiness:      session.DeleteField,
		session.FieldPlayers:        players,
		session.FieldRoundResult: session.EncodeRoundResult(session.RoundResult{
			WinnerID: roundWinner,
			Scores:   scores,
		}),
	}, nil
}

func (g *Game) resolveLeaderboard(s *session.SessionState) (session.Fields, error) {
	if s.RoundIndex+1 >= roundCount(s.GameData) {
		winner := ""
		best := math.MinInt
		for _, p := range s.Players {
			if p.TotalScore > best {
				best = p.TotalScore
				winner = p.UID
			}
		}
		fields := session.Fields{
			session.FieldPhase:          string(session.PhaseFinished),
			session.FieldPhaseStartedAt: session.ServerTimestamp,
			session.FieldWinnerID:       winner,
			session.FieldReadiness:      session.DeleteField,
			session.FieldPendingIntents: session.DeleteField,
		}
		return fields, nil
	}

	fields := session.Fields{
		session.FieldPhase:          string(PhaseGuessing),
		session.FieldPhaseStartedAt: session.ServerTimestamp,
		session.FieldRoundIndex:     s.RoundIndex + 1,
	}
	for k, v := range engine.ClearedRoundFields() {
		fields[k] = v
	}
	return fields, nil
}

func (g *Game) Reset(s *session.SessionState) session.Fields {
	players := make([]any, len(s.Players))
	for i, p := range s.Players {
		players[i] = map[string]any{
			"uid":         p.UID,
			"displayName": p.DisplayName,
			"totalScore":  0,
		}
	}
	fields := session.Fields{
		session.FieldPhase:          string(session.PhaseLobby),
		session.FieldPhaseStartedAt: session.ServerTimestamp,
		session.FieldRoundIndex:     0,
		session.FieldWinnerID:       session.DeleteField,
		session.FieldRematchVotes:   session.DeleteField,
		session.FieldPlayers:        players,
	}
	for k, v := range engine.ClearedRoundFields() {
		fields[k] = v
	}
	return fields
}

func (g *Game) ValidateIntent(s *session.SessionState, playerID string, in session.Intent) error {
	if s.Phase != PhaseGuessing {
		return fmt.Errorf("%w: phase %s accepts no guesses", engine.ErrIllegalIntent, s.Phase)
	}
	if !s.Seated(playerID) {
		return fmt.Errorf("%w: %s is not seated", engine.ErrIllegalIntent, playerID)
	}
	if _, ok := s.PendingIntents[playerID]; ok {
		return fmt.Errorf("%w: already guessed this round", engine.ErrIllegalIntent)
	}
	for _, key := range []string{"lat", "lng", "year"} {
		if _, err := floatField(in.Data, key); err != nil {
			return fmt.Errorf("%w: %v", engine.ErrIllegalIntent, err)
		}
	}
	return nil
}

func rendezvousAdvance(next session.Phase) session.Fields {
	return session.Fields{
		session.FieldPhase:          string(next),
		session.FieldPhaseStartedAt: session.ServerTimestamp,
		session.FieldReadiness:      session.DeleteField,
	}
}

func scoreGuess(in session.Intent, target Target) session.RoundScore {
	lat, latErr := floatField(in.Data, "lat")
	lng, lngErr := floatField(in.Data, "lng")
	year, yearErr := floatField(in.Data, "year")
	if latErr != nil || lngErr != nil || yearErr != nil {
		return session.RoundScore{TimedOut: false}
	}

	distance := HaversineKm(lat, lng, target.Lat, target.Lng)
	yearsOff := math.Abs(year - float64(target.Year))

	breakdown := map[string]int{
		"distance": SubScore(distance, DistanceThreshold, MaxSubScore),
		"year":     SubScore(yearsOff, YearThreshold, MaxSubScore),
	}
	total := 0
	for _, v := range breakdown {
		total += v
	}
	return session.RoundScore{Points: total, Breakdown: breakdown}
}

func roundCount(data map[string]any) int {
	if raw, ok := data["totalRounds"]; ok {
		if n, err := floatField(map[string]any{"totalRounds": raw}, "totalRounds"); err == nil && n > 0 {
			return int(n)
		}
	}
	if raw, ok := data["rounds"]; ok {
		if list, ok := raw.([]any); ok && len(list) > 0 {
			return len(list)
		}
	}
	return defaultRoundCount
}

func roundTarget(data map[string]any, round int) (Target, error) {
	raw, ok := data["rounds"]
	if !ok {
		return Target{}, fmt.Errorf("gameData has no rounds")
	}
	list, ok := raw.([]any)
	if !ok {
		return Target{}, fmt.Errorf("rounds is %T, want list", raw)
	}
	if round < 0 || round >= len(list) {
		return Target{}, fmt.Errorf("round %d out of range (%d rounds)", round, len(list))
	}
	m, ok := list[round].(map[string]any)
	if !ok {
		return Target{}, fmt.Errorf("rounds[%d] is %T, want map", round, list[round])
	}
	lat, err := floatField(m, "lat")
	if err != nil {
		return Target{}, err
	}
	lng, err := floatField(m, "lng")
	if err != nil {
		return Target{}, err
	}
	year, err := floatField(m, "year")
	if err != nil {
		return Target{}, err
	}
	return Target{Lat: lat, Lng: lng, Year: int(year)}, nil
}

func floatField(m map[string]any, key string) (float64, error) {
	raw, ok := m[key]
	if !ok {
		return 0, fmt.Errorf("missing %s", key)
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("%s is %T, want number", key, raw)
	}
}
