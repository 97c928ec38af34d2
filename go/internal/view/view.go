// Package view derives UI-relevant flags from the latest session snapshot
// and local wall clock. Every client, host or not, projects its view this
// way; nothing here mutates game state.
package view

import (
	"math"
	"time"

	"github.com/collerty/game-box-sub000/go/internal/engine"
	"github.com/collerty/game-box-sub000/go/internal/session"
)

// stallGrace is the second-layer, user-facing escape hatch: how long past
// the phase's own deadline/backstop the UI waits before offering manual
// retry/leave. The coordinator's backstop should have fired well before
// this; if it has not, the host is likely gone.
const stallGrace = 12 * time.Second

// View is the read-only projection one client renders from.
type View struct {
	Phase           session.Phase
	RoundIndex      int
	MyTurn          bool
	Submitted       bool
	Ready           bool
	SecondsLeft     int
	GameOver        bool
	WinnerID        string
	IWon            bool
	IsHost          bool
	WaitingOnOthers bool
	Stalled         bool
}

// Project computes the view for selfUID at the local instant now. The
// countdown is recomputed from the server-stamped phaseStartedAt on every
// call, so a client that was suspended and resumes late converges to the
// correct remaining time instead of drifting.
func Project(g engine.Game, s *session.SessionState, selfUID string, now time.Time) View {
	v := View{
		Phase:      s.Phase,
		RoundIndex: s.RoundIndex,
		MyTurn:     s.TurnID != "" && s.TurnID == selfUID,
		Ready:      s.Readiness[selfUID],
		GameOver:   s.Finished(),
		WinnerID:   s.WinnerID,
		IsHost:     s.Host() == selfUID,
	}
	v.IWon = v.GameOver && s.WinnerID == selfUID
	_, v.Submitted = s.PendingIntents[selfUID]

	deadline, timed := engine.PhaseDeadline(g, s)
	if timed {
		left := deadline.Sub(now)
		if left < 0 {
			left = 0
		}
		v.SecondsLeft = int(math.Ceil(left.Seconds()))
	}

	spec, ok := g.Spec(s.Phase)
	if ok {
		switch {
		case spec.Rendezvous:
			v.WaitingOnOthers = v.Ready && !s.AllReady()
		case spec.Window > 0:
			v.WaitingOnOthers = v.Submitted && !engine.WindowClosed(g, s, now)
		}
		switch {
		case timed && now.After(deadline.Add(stallGrace)):
			v.Stalled = true
		case !timed && !spec.Rendezvous && spec.Window <= 0 &&
			!s.PhaseStartedAt.IsZero() && now.After(s.PhaseStartedAt.Add(stallGrace)):
			// A windowless resolution phase should be gone within one host
			// round-trip; lingering here means the resolver never ran.
			v.Stalled = true
		}
	}
	return v
}
