package main

import (
	"github.com/collerty/game-box-sub000/go/internal/engine"
	"github.com/collerty/game-box-sub000/go/internal/games/atlas"
	"github.com/collerty/game-box-sub000/go/internal/games/grid"
	"github.com/collerty/game-box-sub000/go/internal/games/quiz"
	"github.com/collerty/game-box-sub000/go/internal/session"
)

// setupGames builds the registry of playable games, keyed by the gameType
// stored on each session document.
func setupGames() map[session.GameType]engine.Game {
	return map[session.GameType]engine.Game{
		session.GameGrid:  grid.New(),
		session.GameQuiz:  quiz.New(),
		session.GameAtlas: atlas.New(),
	}
}
