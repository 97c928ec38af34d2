// Package grid implements the grid battle: two players alternate placing
// their symbol on a shared board, first run of four wins.
package grid

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/collerty/game-box-sub000/go/internal/engine"
	"github.com/collerty/game-box-sub000/go/internal/games/board"
	"github.com/collerty/game-box-sub000/go/internal/session"
)

// Grid battle phases. One round is both players moving once.
const (
	PhaseMove1    session.Phase = "MOVE_1"
	PhaseMove2    session.Phase = "MOVE_2"
	PhaseCheckWin session.Phase = "CHECK_WIN"
)

const (
	boardSize  = 10
	winTarget  = 4
	moveWindow = 15 * time.Second
)

var defaultSymbols = []string{"X", "O"}

// Game implements engine.Game for the grid battle.
type Game struct{}

// New creates the grid battle game.
func New() *Game { return &Game{} }

func (g *Game) Type() session.GameType { return session.GameGrid }

func (g *Game) Spec(p session.Phase) (engine.PhaseSpec, bool) {
	switch p {
	case PhaseMove1, PhaseMove2:
		return engine.PhaseSpec{Window: moveWindow}, true
	case PhaseCheckWin:
		return engine.PhaseSpec{}, true
	default:
		return engine.PhaseSpec{}, false
	}
}

func (g *Game) ExpectedSubmitters(s *session.SessionState) []string {
	if s.TurnID == "" {
		return nil
	}
	return []string{s.TurnID}
}

func (g *Game) Start(s *session.SessionState) session.Fields {
	fields := session.Fields{
		session.FieldPhase:          string(PhaseMove1),
		session.FieldPhaseStartedAt: session.ServerTimestamp,
		session.FieldRoundIndex:     0,
		session.FieldGameData: map[string]any{
			"size":  boardSize,
			"board": map[string]any{},
		},
		session.FieldWinnerID:     session.DeleteField,
		session.FieldRematchVotes: session.DeleteField,
	}
	for k, v := range engine.ClearedRoundFields() {
		fields[k] = v
	}
	if len(s.Players) > 0 {
		fields[session.FieldTurnID] = s.Players[0].UID
	}
	return fields
}

func (g *Game) Resolve(s *session.SessionState, now time.Time, rng *rand.Rand) (session.Fields, error) {
	switch s.Phase {
	case PhaseMove1, PhaseMove2:
		return g.resolveMove(s)
	case PhaseCheckWin:
		return g.resolveCheckWin(s, rng)
	default:
		return nil, fmt.Errorf("grid: no resolution for phase %s", s.Phase)
	}
}

// resolveMove applies the turn player's placement. The win check runs
// synchronously with the placement, before any further transition: a
// detected win commits FINISHED directly and bypasses the normal
// CHECK_WIN path, so an instant win can never race the next scheduled
// transition. A player who let the window lapse forfeits the placement and
// the turn passes.
func (g *Game) resolveMove(s *session.SessionState) (session.Fields, error) {
	b, err := board.FromGameData(s.GameData, boardSize)
	if err != nil {
		return nil, fmt.Errorf("grid: %w", err)
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
				fields[session.FieldRoundResult] = session.EncodeRoundResult(session.RoundResult{
					WinnerID: s.TurnID,
				})
				fields[session.FieldPendingIntents] = session.DeleteField
				return fields, nil
			}
		}
	}

	if s.Phase == PhaseMove1 {
		fields[session.FieldPhase] = string(PhaseMove2)
		fields[session.FieldTurnID] = otherPlayer(s, s.TurnID)
	} else {
		fields[session.FieldPhase] = string(PhaseCheckWin)
	}
	return fields, nil
}

func (g *Game) resolveCheckWin(s *session.SessionState, rng *rand.Rand) (session.Fields, error) {
	b, err := board.FromGameData(s.GameData, boardSize)
	if err != nil {
		return nil, fmt.Errorf("grid: %w", err)
	}

	// Re-verify the last placement. Wins are committed synchronously at
	// placement time, so a hit here only happens for documents written by
	// older clients.
	if cell, symbol, playerID, ok := lastMove(s.GameData); ok && b.WinningPlacement(cell, symbol, winTarget) {
		fields := session.Fields{
			session.FieldPhase:          string(session.PhaseFinished),
			session.FieldPhaseStartedAt: session.ServerTimestamp,
			session.FieldWinnerID:       playerID,
			session.FieldRoundResult:    session.EncodeRoundResult(session.RoundResult{WinnerID: playerID}),
			session.FieldPendingIntents: session.DeleteField,
		}
		return fields, nil
	}

	if b.Full() {
		// No legal placement remains. The outcome is not skill-based and is
		// disclosed as such.
		ids := s.PlayerIDs()
		if len(ids) == 0 {
			return nil, fmt.Errorf("grid: %w: full board with no seated players", session.ErrMalformedDocument)
		}
		winner := ids[rng.Intn(len(ids))]
		return session.Fields{
			session.FieldPhase:          string(session.PhaseFinished),
			session.FieldPhaseStartedAt: session.ServerTimestamp,
			session.FieldWinnerID:       winner,
			session.FieldRoundResult: session.EncodeRoundResult(session.RoundResult{
				WinnerID:   winner,
				Randomized: true,
			}),
			session.FieldPendingIntents: session.DeleteField,
		}, nil
	}

	next := s.RoundIndex + 1
	fields := session.Fields{
		session.FieldPhase:          string(PhaseMove1),
		session.FieldPhaseStartedAt: session.ServerTimestamp,
		session.FieldRoundIndex:     next,
	}
	for k, v := range engine.ClearedRoundFields() {
		fields[k] = v
	}
	if len(s.Players) > 0 {
		fields[session.FieldTurnID] = s.Players[next%len(s.Players)].UID
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
	if s.Phase != PhaseMove1 && s.Phase != PhaseMove2 {
		return fmt.Errorf("%w: phase %s accepts no moves", engine.ErrIllegalIntent, s.Phase)
	}
	if playerID != s.TurnID {
		return fmt.Errorf("%w: not %s's turn", engine.ErrIllegalIntent, playerID)
	}
	if _, ok := s.PendingIntents[playerID]; ok {
		return fmt.Errorf("%w: already moved this round", engine.ErrIllegalIntent)
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

func otherPlayer(s *session.SessionState, uid string) string {
	for _, p := range s.Players {
		if p.UID != uid {
			return p.UID
		}
	}
	return uid
}

func lastMove(data map[string]any) (board.Cell, string, string, bool) {
	raw, ok := data["lastMove"]
	if !ok {
		return board.Cell{}, "", "", false
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return board.Cell{}, "", "", false
	}
	row, rok := numberField(m, "row")
	col, cok := numberField(m, "col")
	symbol, sok := m["symbol"].(string)
	playerID, pok := m["playerId"].(string)
	if !rok || !cok || !sok || !pok {
		return board.Cell{}, "", "", false
	}
	return board.Cell{Row: row, Col: col}, symbol, playerID, true
}

func numberField(m map[string]any, key string) (int, bool) {
	switch v := m[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
