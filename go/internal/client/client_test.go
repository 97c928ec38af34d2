package client

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collerty/game-box-sub000/go/internal/games/grid"
	"github.com/collerty/game-box-sub000/go/internal/session"
	"github.com/collerty/game-box-sub000/go/internal/store"
	"github.com/collerty/game-box-sub000/go/internal/view"
)

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	client *SessionClient
	views  chan view.View
	ended  chan struct{}
}

func startClient(t *testing.T, st store.Store, clock clockwork.Clock, roomID, uid string, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		views: make(chan view.View, 64),
		ended: make(chan struct{}, 1),
	}
	h.client = New(st, grid.New(), roomID, uid,
		append([]Option{
			WithClock(clock),
			WithViewHandler(func(v view.View) { h.views <- v }),
			WithEndedHandler(func() { h.ended <- struct{}{} }),
		}, opts...)...,
	)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		if err := h.client.Run(ctx); err != nil {
			t.Errorf("client %s: %v", uid, err)
		}
	}()
	return h
}

func (h *harness) waitView(t *testing.T, cond func(view.View) bool) view.View {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case v := <-h.views:
			if cond(v) {
				return v
			}
		case <-deadline:
			t.Fatal("timed out waiting for view")
			return view.View{}
		}
	}
}

func (h *harness) waitEnded(t *testing.T) {
	t.Helper()
	select {
	case <-h.ended:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for session end")
	}
}

func seedRoom(t *testing.T, st store.Store, phase session.Phase) {
	t.Helper()
	s := session.SessionState{
		RoomID:   "room-1",
		GameType: session.GameGrid,
		Players: []session.Player{
			{UID: "alice", DisplayName: "Alice"},
			{UID: "bob", DisplayName: "Bob"},
		},
		Phase: phase,
		GameData: map[string]any{
			"size":  10,
			"board": map[string]any{},
		},
	}
	if phase == session.PhaseFinished {
		s.WinnerID = "alice"
	}
	require.NoError(t, st.Create(context.Background(), "room-1", session.Encode(s)))
}

func seedMoveRoom(t *testing.T, st store.Store) {
	t.Helper()
	s := session.SessionState{
		RoomID:   "room-1",
		GameType: session.GameGrid,
		Players: []session.Player{
			{UID: "alice", DisplayName: "Alice"},
			{UID: "bob", DisplayName: "Bob"},
		},
		Phase:          grid.PhaseMove1,
		PhaseStartedAt: testStart,
		TurnID:         "alice",
		GameData: map[string]any{
			"size":  10,
			"board": map[string]any{},
		},
	}
	require.NoError(t, st.Create(context.Background(), "room-1", session.Encode(s)))
}

// TestGridRoundFlow drives a full round over the real store: host starts the
// game, both players place once, the host's coordinator advances through the
// win check into round two.
func TestGridRoundFlow(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testStart)
	st := store.NewMemoryStore(clock)
	seedRoom(t, st, session.PhaseLobby)
	ctx := context.Background()

	alice := startClient(t, st, clock, "room-1", "alice")
	bob := startClient(t, st, clock, "room-1", "bob")

	v := alice.waitView(t, func(v view.View) bool { return v.Phase == session.PhaseLobby })
	assert.True(t, v.IsHost)
	v = bob.waitView(t, func(v view.View) bool { return v.Phase == session.PhaseLobby })
	assert.False(t, v.IsHost)

	// Only the host can start.
	require.NoError(t, bob.client.StartGame(ctx))
	require.NoError(t, alice.client.StartGame(ctx))

	v = alice.waitView(t, func(v view.View) bool { return v.Phase == grid.PhaseMove1 })
	assert.True(t, v.MyTurn)
	bob.waitView(t, func(v view.View) bool { return v.Phase == grid.PhaseMove1 && !v.MyTurn })

	// Out-of-turn submission is silently dropped.
	require.NoError(t, bob.client.SubmitIntent(ctx, map[string]any{"row": 0, "col": 0}, nil))

	// The turn player's placement closes the window; the host coordinator
	// resolves it and passes the turn without any clock movement.
	require.NoError(t, alice.client.SubmitIntent(ctx, map[string]any{"row": 5, "col": 5}, nil))
	bob.waitView(t, func(v view.View) bool { return v.Phase == grid.PhaseMove2 && v.MyTurn })

	require.NoError(t, bob.client.SubmitIntent(ctx, map[string]any{"row": 9, "col": 9}, nil))

	// CHECK_WIN resolves instantly into the next round with the opener
	// alternated.
	alice.waitView(t, func(v view.View) bool {
		return v.Phase == grid.PhaseMove1 && v.RoundIndex == 1 && !v.MyTurn
	})
	bob.waitView(t, func(v view.View) bool {
		return v.Phase == grid.PhaseMove1 && v.RoundIndex == 1 && v.MyTurn
	})
}

func TestStartGameIgnoredForNonHost(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testStart)
	st := store.NewMemoryStore(clock)
	seedRoom(t, st, session.PhaseLobby)
	ctx := context.Background()

	bob := startClient(t, st, clock, "room-1", "bob")
	bob.waitView(t, func(v view.View) bool { return v.Phase == session.PhaseLobby })

	require.NoError(t, bob.client.StartGame(ctx))

	snap, ok := bob.client.Snapshot()
	require.True(t, ok)
	assert.Equal(t, int64(1), snap.Rev, "non-host start must not write")
}

func TestRematchResetReturnsToLobby(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testStart)
	st := store.NewMemoryStore(clock)
	seedRoom(t, st, session.PhaseFinished)
	ctx := context.Background()

	alice := startClient(t, st, clock, "room-1", "alice")
	bob := startClient(t, st, clock, "room-1", "bob")

	v := alice.waitView(t, func(v view.View) bool { return v.GameOver })
	assert.True(t, v.IWon)
	bob.waitView(t, func(v view.View) bool { return v.GameOver && !v.IWon })

	require.NoError(t, bob.client.VoteRematch(ctx))
	require.NoError(t, alice.client.VoteRematch(ctx))

	// Once the last vote lands the host coordinator resets the session.
	alice.waitView(t, func(v view.View) bool { return v.Phase == session.PhaseLobby })
	bob.waitView(t, func(v view.View) bool { return v.Phase == session.PhaseLobby && !v.GameOver })
}

func TestVoteRematchOnlyWhenFinished(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testStart)
	st := store.NewMemoryStore(clock)
	seedRoom(t, st, session.PhaseLobby)
	ctx := context.Background()

	bob := startClient(t, st, clock, "room-1", "bob")
	bob.waitView(t, func(v view.View) bool { return v.Phase == session.PhaseLobby })

	require.NoError(t, bob.client.VoteRematch(ctx))
	snap, ok := bob.client.Snapshot()
	require.True(t, ok)
	assert.Equal(t, int64(1), snap.Rev, "vote outside FINISHED must not write")
}

func TestHostLeaveEndsSessionForEveryone(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testStart)
	st := store.NewMemoryStore(clock)
	seedRoom(t, st, session.PhaseLobby)
	ctx := context.Background()

	alice := startClient(t, st, clock, "room-1", "alice")
	bob := startClient(t, st, clock, "room-1", "bob")
	alice.waitView(t, func(v view.View) bool { return v.Phase == session.PhaseLobby })
	bob.waitView(t, func(v view.View) bool { return v.Phase == session.PhaseLobby })

	require.NoError(t, alice.client.Leave(ctx))

	alice.waitEnded(t)
	bob.waitEnded(t)
}

func TestNonHostLeaveKeepsRoomAlive(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testStart)
	st := store.NewMemoryStore(clock)
	seedRoom(t, st, session.PhaseLobby)
	ctx := context.Background()

	alice := startClient(t, st, clock, "room-1", "alice")
	bob := startClient(t, st, clock, "room-1", "bob")
	alice.waitView(t, func(v view.View) bool { return v.Phase == session.PhaseLobby })
	bob.waitView(t, func(v view.View) bool { return v.Phase == session.PhaseLobby })

	require.NoError(t, bob.client.Leave(ctx))

	// The document survives and the host sees nothing terminal.
	select {
	case <-alice.ended:
		t.Fatal("host session ended by non-host leave")
	case <-time.After(100 * time.Millisecond):
	}
}

// TestAutoSubmitLandsBeforeDeadline pins the timeout path for the local
// selection: the view ticker here is exactly aligned with the phase start,
// the worst case for the margin, and the selection must still be written on
// a tick strictly before the 15s deadline so the placement is applied
// instead of forfeited.
func TestAutoSubmitLandsBeforeDeadline(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testStart)
	st := store.NewMemoryStore(clock)
	seedMoveRoom(t, st)

	alice := startClient(t, st, clock, "room-1", "alice",
		WithSelection(func() (map[string]any, *bool, bool) {
			return map[string]any{"row": 5, "col": 5}, nil, true
		}))

	v := alice.waitView(t, func(v view.View) bool { return v.Phase == grid.PhaseMove1 })
	assert.True(t, v.MyTurn)

	// One view per tick keeps the loop in lockstep with the clock.
	for i := 0; i < 14; i++ {
		clock.Advance(time.Second)
		alice.waitView(t, func(view.View) bool { return true })
	}

	// The auto-submitted intent closed the window; the host coordinator
	// applies the placement and passes the turn.
	alice.waitView(t, func(v view.View) bool { return v.Phase == grid.PhaseMove2 && !v.MyTurn })

	snap, ok := alice.client.Snapshot()
	require.True(t, ok)
	b, _ := snap.State.GameData["board"].(map[string]any)
	assert.Equal(t, "X", b["5,5"], "auto-submitted placement must be applied, not forfeited")
}

func TestSubmitIntentReportsSilentDrop(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testStart)
	st := store.NewMemoryStore(clock)
	seedMoveRoom(t, st)
	ctx := context.Background()

	bob := startClient(t, st, clock, "room-1", "bob")
	bob.waitView(t, func(v view.View) bool { return v.Phase == grid.PhaseMove1 })

	// Out of turn: silently dropped and reported as not written.
	written, err := bob.client.submitIntent(ctx, map[string]any{"row": 0, "col": 0}, nil)
	require.NoError(t, err)
	assert.False(t, written)

	snap, ok := bob.client.Snapshot()
	require.True(t, ok)
	assert.Equal(t, int64(1), snap.Rev, "dropped intent must not write")
}
