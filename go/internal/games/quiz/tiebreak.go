package quiz

import (
	"math/rand"
	"sort"

	"github.com/collerty/game-box-sub000/go/internal/session"
)

// Outcome is the result of breaking a quiz question: who earned the next
// move, and whether the choice was skill-based.
type Outcome struct {
	WinnerID   string
	Randomized bool
}

// TieBreak picks the winner of a timed question. The earliest
// server-timestamped correct answer wins outright; timestamps tie on the
// seat order of seated, never on map iteration or arrival order. With no
// correct answer the winner is drawn uniformly at random among submitters,
// or among all seated players if nobody answered, and the outcome is
// flagged Randomized so the UI can disclose it.
func TieBreak(intents map[string]session.Intent, seated []string, rng *rand.Rand) Outcome {
	seatIndex := make(map[string]int, len(seated))
	for i, uid := range seated {
		seatIndex[uid] = i
	}
	// A submitter missing from the seat list sorts behind every seated
	// player rather than inheriting seat 0.
	seat := func(uid string) int {
		if i, ok := seatIndex[uid]; ok {
			return i
		}
		return len(seated)
	}

	var winner string
	for uid, in := range intents {
		if in.Correct == nil || !*in.Correct {
			continue
		}
		if winner == "" {
			winner = uid
			continue
		}
		best := intents[winner]
		switch {
		case in.SubmittedAt.Before(best.SubmittedAt):
			winner = uid
		case in.SubmittedAt.Equal(best.SubmittedAt) && seat(uid) < seat(winner):
			winner = uid
		}
	}
	if winner != "" {
		return Outcome{WinnerID: winner}
	}

	pool := make([]string, 0, len(intents))
	for uid := range intents {
		pool = append(pool, uid)
	}
	if len(pool) == 0 {
		pool = append(pool, seated...)
	}
	sort.Strings(pool)
	if len(pool) == 0 {
		return Outcome{}
	}
	return Outcome{
		WinnerID:   pool[rng.Intn(len(pool))],
		Randomized: true,
	}
}
