// Package quiz implements the trivia and tic-tac-toe hybrid: a timed
// question decides who places the next symbol on a 3x3 board.
package quiz

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/collerty/game-box-sub000/go/internal/engine"
	"github.com/collerty/game-box-sub000/go/internal/games/board"
	"github.com/collerty/game-box-sub000/go/internal/session"
)

// Quiz phases. One round is question, move, win check, reveal.
const (
	PhaseQuestion session.Phase = "QUESTION"
	PhaseMove     session.Phase = "MOVE"
	PhaseCheckWin session.Phase = "CHECK_WIN"
	PhaseReveal   session.Phase = "REVEAL"
)

const (
	boardSize      = 3
	winTarget      = 3
	questionWindow = 10 * time.Second
	moveWindow     = 10 * time.Second
	revealBackstop = 15 * time.Second
)

var defaultSymbols = []string{"X", "O"}

// Game implements engine.Game for the quiz hybrid. Question content lives
// outside the engine; the client supplies each answer's correctness flag in
// its intent.
type Game struct{}

// New creates the quiz game.
func New() *Game { return &Game{} }

func (g *Game) Type() session.GameType { return session.GameQuiz }

func (g *Game) Spec(p session.Phase) (engine.PhaseSpec, bool) {
	switch p {
	case PhaseQuestion:
		return engine.PhaseSpec{Window: questionWindow}, true
	case PhaseMove:
		return engine.PhaseSpec{Window: moveWindow}, true
	case PhaseCheckWin:
		return engine.PhaseSpec{}, true
	case PhaseReveal:
		return engine.PhaseSpec{Rendezvous: true, Backstop: revealBackstop}, true
	default:
		return engine.PhaseSpec{}, false
	}
}

func (g *Game) ExpectedSubmitters(s *session.SessionState) []string {
	if s.Phase == PhaseMove {
		if s.TurnID == "" {
			return nil
		}
		return []string{s.TurnID}
	}
	return s.PlayerIDs()
}

func (g *Game) Start(s *session.SessionState) session.Fields {
	fields := session.Fields{
		session.FieldPhase:          string(PhaseQuestion),
		session.FieldPhaseStartedAt: session.ServerTimestamp,
		session.FieldRoundIndex:     0,
		session.FieldTurnID:         session.DeleteField,
		session.FieldWinnerID:       session.DeleteField,
		session.FieldRematchVotes:   session.DeleteField,
		session.FieldGameData: map[string]any{
			"size":  boardSize,
			"board": map[string]any{},
		},
	}
	for k, v := range engine.ClearedRoundFields() {
		fields[k] = v
	}
	return fields
}

func (g *Game) Resolve(s *session.SessionState, now time.Time, rng *rand.Rand) (session.Fields, error) {
	switch s.Phase {
	case PhaseQuestion:
		return g.resolveQuestion(s, rng)
	case PhaseMove:
		return g.resolveMove(s)
	case PhaseCheckWin:
		return g.resolveCheckWin(s)
	case PhaseReveal:
		return g.resolveReveal(s)
	default:
		return nil, fmt.Errorf("quiz: no resolution for phase %s", s.Phase)
	}
}

// resolveQuestion breaks the tie among the round's answers and hands the
// move to the winner. Answer intents are cleared so the move window starts
// fresh.
func (g *Game) resolveQuestion(s *session.SessionState, rng *rand.Rand) (session.Fields, error) {
	outcome := TieBreak(s.PendingIntents, s.PlayerIDs(), rng)
	if outcome.WinnerID == "" {
		return nil, fmt.Errorf("quiz: no players to break tie among")
	}
	return session.Fields{
		session.FieldPhase:          string(PhaseMove),
		session.FieldPhaseStartedAt: session.ServerTimestamp,
		session.FieldTurnID:         outcome.WinnerID,
		session.FieldPendingIntents: session.DeleteField,
		session.FieldRoundResult: session.EncodeRoundResult(session.RoundResult{
			WinnerID:   outcome.WinnerID,
			Randomized: outcome.Randomized,
		}),
	}, nil
}

// resolveMove applies the toss winner's placement. As in the grid battle
// the win check runs synchronously with the placement and a win commits
// FINISHED directly. Letting the move window lapse forfeits the placement.
func (g *Game) resolveMove(s *session.SessionState) (session.Fields, error) {
	b, err := board.FromGameData(s.GameData, boardSize)
	if err != nil {
		return nil, fmt.Errorf("quiz: %w", err)
	}

	fields := session.Fields{
		session.FieldPhaseStartedAt: session.ServerTimestamp,
	}

	intent, submitted := s.PendingIntents[s.TurnID]
	if submitted {
		cell, err := cellFromIntent(intent)
		if err == nil && b.InBounds(cell) && !b.Occupied(cell) {
			symbol := symbolFor(s, s.TurnID)
			fields["gameData.board."+cell.Key()] = symbol
			fields["gameData.lastMove"] = map[string]any{
				"row":      cell.Row,
				"col":      cell.Col,
				"symbol":   symbol,
				"playerId": s.TurnID,
			}
			if b.WinningPlacement(cell, symbol, winTarget) {
				fields[session.FieldPhase] = string(session.PhaseFinished)
				fields[session.FieldWinnerID] = s.TurnID
				fields[session.FieldPendingIntents] = session.DeleteField
				return fields, nil
			}
		}
	}

	fields[session.FieldPhase] = string(PhaseCheckWin)
	return fields, nil
}

func (g *Game) resolveCheckWin(s *session.SessionState) (session.Fields, error) {
	b, err := board.FromGameData(s.GameData, boardSize)
	if err != nil {
		return nil, fmt.Errorf("quiz: %w", err)
	}

	fields := session.Fields{
		session.FieldPhase:          string(PhaseReveal),
		session.FieldPhaseStartedAt: session.ServerTimestamp,
		session.FieldReadiness:      session.DeleteField,
	}
	if b.Full() {
		// Drawn board: wipe it and keep playing. The toss decides who
		// opens the fresh board, so no coin flip is needed here.
		fields["gameData.board"] = map[string]any{}
		fields["gameData.lastMove"] = session.DeleteField
	}
	return fields, nil
}

func (g *Game) resolveReveal(s *session.SessionState) (session.Fields, error) {
	next := s.RoundIndex + 1
	fields := session.Fields{
		session.FieldPhase:          string(PhaseQuestion),
		session.FieldPhaseStartedAt: session.ServerTimestamp,
		session.FieldRoundIndex:     next,
		session.FieldTurnID:         session.DeleteField,
	}
	for k, v := range engine.ClearedRoundFields() {
		fields[k] = v
	}
	return fields, nil
}

func (g *Game) Reset(s *session.SessionState) session.Fields {
	fields := session.Fields{
		session.FieldPhase:          string(session.PhaseLobby),
		session.FieldPhaseStartedAt: session.ServerTimestamp,
		session.FieldRoundIndex:     0,
		session.FieldTurnID:         session.DeleteField,
		session.FieldWinnerID:       session.DeleteField,
		session.FieldRematchVotes:   session.DeleteField,
		session.FieldGameData: map[string]any{
			"size":  boardSize,
			"board": map[string]any{},
		},
	}
	for k, v := range engine.ClearedRoundFields() {
		fields[k] = v
	}
	return fields
}

func (g *Game) ValidateIntent(s *session.SessionState, playerID string, in session.Intent) error {
	switch s.Phase {
	case PhaseQuestion:
		if !s.Seated(playerID) {
			return fmt.Errorf("%w: %s is not seated", engine.ErrIllegalIntent, playerID)
		}
		if _, ok := s.PendingIntents[playerID]; ok {
			return fmt.Errorf("%w: already answered", engine.ErrIllegalIntent)
		}
		if in.Correct == nil {
			return fmt.Errorf("%w: answer without correctness flag", engine.ErrIllegalIntent)
		}
		return nil
	case PhaseMove:
		if playerID != s.TurnID {
			return fmt.Errorf("%w: not %s's move", engine.ErrIllegalIntent, playerID)
		}
		if _, ok := s.PendingIntents[playerID]; ok {
			return fmt.Errorf("%w: already moved", engine.ErrIllegalIntent)
		}
		b, err := board.FromGameData(s.GameData, boardSize)
		if err != nil {
			return fmt.Errorf("%w: %v", engine.ErrIllegalIntent, err)
		}
		cell, err := cellFromIntent(in)
		if err != nil {
			return fmt.Errorf("%w: %v", engine.ErrIllegalIntent, err)
		}
		if !b.InBounds(cell) {
			return fmt.Errorf("%w: cell %s out of bounds", engine.ErrIllegalIntent, cell.Key())
		}
		if b.Occupied(cell) {
			return fmt.Errorf("%w: cell %s occupied", engine.ErrIllegalIntent, cell.Key())
		}
		return nil
	default:
		return fmt.Errorf("%w: phase %s accepts no intents", engine.ErrIllegalIntent, s.Phase)
	}
}

func cellFromIntent(in session.Intent) (board.Cell, error) {
	row, err := intentNumber(in, "row")
	if err != nil {
		return board.Cell{}, err
	}
	col, err := intentNumber(in, "col")
	if err != nil {
		return board.Cell{}, err
	}
	return board.Cell{Row: row, Col: col}, nil
}

func intentNumber(in session.Intent, key string) (int, error) {
	raw, ok := in.Data[key]
	if !ok {
		return 0, fmt.Errorf("move intent missing %s", key)
	}
	switch v := raw.(type) {
	case int:
		return v, nil
	case float64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("move intent %s is %T, want number", key, raw)
	}
}

func symbolFor(s *session.SessionState, uid string) string {
	for i, p := range s.Players {
		if p.UID == uid {
			if p.Symbol != "" {
				return p.Symbol
			}
			return defaultSymbols[i%len(defaultSymbols)]
		}
	}
	return defaultSymbols[0]
}
