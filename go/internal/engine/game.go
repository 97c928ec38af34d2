// Package engine holds the generic phase machine shared by every
// mini-game: a Game describes its phases and resolution rules, and the
// Coordinator drives host-authoritative transitions against the store.
package engine

import (
	"errors"
	"math/rand"
	"time"

	"github.com/collerty/game-box-sub000/go/internal/session"
)

// ErrIllegalIntent marks a submission that must be silently dropped: out of
// turn, duplicate, after the window closed, or targeting an occupied cell.
// It never crosses the client API as a user-visible failure.
var ErrIllegalIntent = errors.New("illegal intent")

// PhaseSpec describes how one phase closes.
//
// A timed phase (Window > 0) closes when every expected submitter has an
// intent recorded or the deadline phaseStartedAt+Window passes. A
// rendezvous phase closes when every seated player is ready or the Backstop
// elapses. A phase with neither (zero spec) resolves immediately on entry.
type PhaseSpec struct {
	Window     time.Duration
	Rendezvous bool
	Backstop   time.Duration
}

// Game parameterizes the generic engine for one mini-game. Implementations
// are pure: they read a snapshot and return the partial field update that
// advances it, leaving all store interaction to the Coordinator.
type Game interface {
	Type() session.GameType

	// Spec returns the closing rule for a phase, false for phases the
	// coordinator does not drive (LOBBY, FINISHED, unknown).
	Spec(p session.Phase) (PhaseSpec, bool)

	// ExpectedSubmitters lists the players whose intents close the current
	// phase early. For free-for-all windows this is every seated player;
	// for turn phases it is just the player on turn.
	ExpectedSubmitters(s *session.SessionState) []string

	// Start returns the fields that take a LOBBY document into the first
	// playing phase.
	Start(s *session.SessionState) session.Fields

	// Resolve computes the outcome of the current (closed) phase and the
	// transition to the next one. rng backs randomized tie-break fallbacks
	// only; all ordering decisions use server timestamps from the intents.
	Resolve(s *session.SessionState, now time.Time, rng *rand.Rand) (session.Fields, error)

	// Reset returns the full-state rematch reset back to LOBBY. Player
	// order and membership are preserved; everything else is cleared.
	Reset(s *session.SessionState) session.Fields

	// ValidateIntent checks a submission against the snapshot it was made
	// on. A non-nil error (wrapping ErrIllegalIntent) means drop it.
	ValidateIntent(s *session.SessionState, playerID string, in session.Intent) error
}

// WindowClosed reports whether the current phase's submission window is
// closed under the game's spec. Phases without a spec never close.
func WindowClosed(g Game, s *session.SessionState, now time.Time) bool {
	spec, ok := g.Spec(s.Phase)
	if !ok {
		return false
	}
	if spec.Rendezvous {
		if s.AllReady() {
			return true
		}
		return deadlinePassed(s.PhaseStartedAt, spec.Backstop, now)
	}
	if spec.Window <= 0 {
		return true
	}
	expected := g.ExpectedSubmitters(s)
	if len(expected) > 0 {
		all := true
		for _, uid := range expected {
			if _, ok := s.PendingIntents[uid]; !ok {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return deadlinePassed(s.PhaseStartedAt, spec.Window, now)
}

// PhaseDeadline returns the wall-clock instant at which the current phase
// closes on time alone, or false for phases that do not time out.
func PhaseDeadline(g Game, s *session.SessionState) (time.Time, bool) {
	spec, ok := g.Spec(s.Phase)
	if !ok || s.PhaseStartedAt.IsZero() {
		return time.Time{}, false
	}
	if spec.Rendezvous {
		if spec.Backstop <= 0 {
			return time.Time{}, false
		}
		return s.PhaseStartedAt.Add(spec.Backstop), true
	}
	if spec.Window <= 0 {
		return time.Time{}, false
	}
	return s.PhaseStartedAt.Add(spec.Window), true
}

func deadlinePassed(startedAt time.Time, d time.Duration, now time.Time) bool {
	if startedAt.IsZero() || d <= 0 {
		return false
	}
	return !now.Before(startedAt.Add(d))
}

// ClearedRoundFields returns the field deletes shared by every round entry:
// pendingIntents, readiness and roundResult wiped in the same write that
// moves the phase.
func ClearedRoundFields() session.Fields {
	return session.Fields{
		session.FieldPendingIntents: session.DeleteField,
		session.FieldReadiness:      session.DeleteField,
		session.FieldRoundResult:    session.DeleteField,
	}
}
