package store

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collerty/game-box-sub000/go/internal/session"
)

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func seedDoc(roomID string) map[string]any {
	return session.Encode(session.SessionState{
		RoomID:   roomID,
		GameType: session.GameGrid,
		Players:  []session.Player{{UID: "alice", DisplayName: "Alice"}},
		Phase:    session.PhaseLobby,
	})
}

func TestCreateRejectsDuplicates(t *testing.T) {
	st := NewMemoryStore(clockwork.NewFakeClockAt(testStart))
	ctx := context.Background()

	require.NoError(t, st.Create(ctx, "room-1", seedDoc("room-1")))
	err := st.Create(ctx, "room-1", seedDoc("room-1"))
	assert.ErrorIs(t, err, ErrRoomExists)
}

func TestSubscribeDeliversCurrentState(t *testing.T) {
	st := NewMemoryStore(clockwork.NewFakeClockAt(testStart))
	ctx := context.Background()
	require.NoError(t, st.Create(ctx, "room-1", seedDoc("room-1")))

	snaps, err := st.Subscribe(ctx, "room-1")
	require.NoError(t, err)

	snap := <-snaps
	assert.Equal(t, "room-1", snap.State.RoomID)
	assert.Equal(t, session.PhaseLobby, snap.State.Phase)
	assert.Equal(t, int64(1), snap.Rev)
}

func TestSubscribeUnknownRoom(t *testing.T) {
	st := NewMemoryStore(clockwork.NewFakeClockAt(testStart))
	_, err := st.Subscribe(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrRoomDeleted)
}

func TestUpdateFansOutToSubscribers(t *testing.T) {
	st := NewMemoryStore(clockwork.NewFakeClockAt(testStart))
	ctx := context.Background()
	require.NoError(t, st.Create(ctx, "room-1", seedDoc("room-1")))

	a, err := st.Subscribe(ctx, "room-1")
	require.NoError(t, err)
	b, err := st.Subscribe(ctx, "room-1")
	require.NoError(t, err)
	<-a
	<-b

	require.NoError(t, st.Update(ctx, "room-1", session.Fields{
		"turnId": "alice",
	}))

	for _, ch := range []<-chan Snapshot{a, b} {
		snap := <-ch
		assert.Equal(t, "alice", snap.State.TurnID)
		assert.Equal(t, int64(2), snap.Rev)
	}
}

func TestUpdateStampsServerTimestamps(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testStart)
	st := NewMemoryStore(clock)
	ctx := context.Background()
	require.NoError(t, st.Create(ctx, "room-1", seedDoc("room-1")))

	clock.Advance(42 * time.Second)
	require.NoError(t, st.Update(ctx, "room-1", session.Fields{
		"phaseStartedAt": session.ServerTimestamp,
	}))

	snaps, err := st.Subscribe(ctx, "room-1")
	require.NoError(t, err)
	snap := <-snaps
	assert.True(t, snap.State.PhaseStartedAt.Equal(testStart.Add(42*time.Second)))
}

func TestUpdateIfRev(t *testing.T) {
	st := NewMemoryStore(clockwork.NewFakeClockAt(testStart))
	ctx := context.Background()
	require.NoError(t, st.Create(ctx, "room-1", seedDoc("room-1")))

	require.NoError(t, st.UpdateIfRev(ctx, "room-1", 1, session.Fields{"turnId": "alice"}))

	// The same guarded write a second time is stale: the first bumped the
	// revision.
	err := st.UpdateIfRev(ctx, "room-1", 1, session.Fields{"turnId": "bob"})
	assert.ErrorIs(t, err, ErrStaleRevision)

	snaps, err := st.Subscribe(ctx, "room-1")
	require.NoError(t, err)
	snap := <-snaps
	assert.Equal(t, "alice", snap.State.TurnID)
	assert.Equal(t, int64(2), snap.Rev)
}

func TestUpdateUnknownRoom(t *testing.T) {
	st := NewMemoryStore(clockwork.NewFakeClockAt(testStart))
	err := st.Update(context.Background(), "nope", session.Fields{"turnId": "x"})
	assert.ErrorIs(t, err, ErrRoomDeleted)
}

func TestDeleteClosesSubscriptions(t *testing.T) {
	st := NewMemoryStore(clockwork.NewFakeClockAt(testStart))
	ctx := context.Background()
	require.NoError(t, st.Create(ctx, "room-1", seedDoc("room-1")))

	snaps, err := st.Subscribe(ctx, "room-1")
	require.NoError(t, err)
	<-snaps

	require.NoError(t, st.Delete(ctx, "room-1"))

	_, ok := <-snaps
	assert.False(t, ok, "channel should close on room deletion")

	// Deleting again is a no-op.
	assert.NoError(t, st.Delete(ctx, "room-1"))
}

func TestSubscriberContextCancelUnsubscribes(t *testing.T) {
	st := NewMemoryStore(clockwork.NewFakeClockAt(testStart))
	ctx := context.Background()
	require.NoError(t, st.Create(ctx, "room-1", seedDoc("room-1")))

	subCtx, cancel := context.WithCancel(ctx)
	snaps, err := st.Subscribe(subCtx, "room-1")
	require.NoError(t, err)
	<-snaps

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-snaps:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestSnapshotsAreIsolatedCopies(t *testing.T) {
	st := NewMemoryStore(clockwork.NewFakeClockAt(testStart))
	ctx := context.Background()

	doc := seedDoc("room-1")
	require.NoError(t, st.Create(ctx, "room-1", doc))

	// Mutating the caller's document after Create must not leak into the
	// stored copy.
	doc["phase"] = "CORRUPTED"

	snaps, err := st.Subscribe(ctx, "room-1")
	require.NoError(t, err)
	snap := <-snaps
	assert.Equal(t, session.PhaseLobby, snap.State.Phase)
}

func TestIsTransient(t *testing.T) {
	err := &TransientError{Op: "update", Err: assert.AnError}
	assert.True(t, IsTransient(err))
	assert.False(t, IsTransient(assert.AnError))
	assert.False(t, IsTransient(nil))
}
