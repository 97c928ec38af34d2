// Package client hosts the per-room session client: one long-lived
// SessionClient per joined room, constructed at session join and torn down
// at session leave. It owns the subscribe loop, packages user intents into
// store updates, and runs the host coordinator when this client is the
// recognized host.
package client

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/collerty/game-box-sub000/go/internal/engine"
	"github.com/collerty/game-box-sub000/go/internal/session"
	"github.com/collerty/game-box-sub000/go/internal/store"
	"github.com/collerty/game-box-sub000/go/internal/view"
)

// autoSubmitMargin is how far before the submission deadline the client
// force-writes its current local selection, so a best-effort intent lands
// before the host's deadline write can race it. The margin must be wider
// than the one-second reactive tick: a ticker aligned with the phase start
// otherwise produces no eligible tick strictly before the deadline.
const autoSubmitMargin = 1500 * time.Millisecond

// SelectionFn returns the player's current (uncommitted) UI selection for
// auto-submission on timeout. ok is false when there is nothing to submit.
type SelectionFn func() (data map[string]any, correct *bool, ok bool)

// SessionClient is one client's handle on a live session.
type SessionClient struct {
	store   store.Store
	game    engine.Game
	roomID  string
	selfUID string
	clock   clockwork.Clock

	onView    func(view.View)
	onEnded   func()
	selection SelectionFn

	mu     sync.Mutex
	latest *store.Snapshot
}

// Option configures a SessionClient.
type Option func(*SessionClient)

// WithClock substitutes the clock, for tests.
func WithClock(clock clockwork.Clock) Option {
	return func(c *SessionClient) { c.clock = clock }
}

// WithViewHandler registers the callback invoked with a fresh view
// projection after every observed snapshot and countdown tick. Callbacks
// are serialized on the client's loop.
func WithViewHandler(fn func(view.View)) Option {
	return func(c *SessionClient) { c.onView = fn }
}

// WithEndedHandler registers the callback for the terminal "session ended"
// signal (room document deleted).
func WithEndedHandler(fn func()) Option {
	return func(c *SessionClient) { c.onEnded = fn }
}

// WithSelection registers the local-selection source for deadline
// auto-submission.
func WithSelection(fn SelectionFn) Option {
	return func(c *SessionClient) { c.selection = fn }
}

// New creates a session client for one room.
func New(st store.Store, game engine.Game, roomID, selfUID string, opts ...Option) *SessionClient {
	c := &SessionClient{
		store:   st,
		game:    game,
		roomID:  roomID,
		selfUID: selfUID,
		clock:   clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run drives the client until the context is cancelled or the room is
// deleted. Snapshot callbacks and timer ticks are serialized on this one
// goroutine so a handler never observes a half-read state.
func (c *SessionClient) Run(ctx context.Context) error {
	snaps, err := c.store.Subscribe(ctx, c.roomID)
	if err != nil {
		if errors.Is(err, store.ErrRoomDeleted) {
			c.ended()
			return nil
		}
		return err
	}

	coordCtx, stopCoord := context.WithCancel(ctx)
	defer stopCoord()
	var coordOnce sync.Once

	ticker := c.clock.NewTicker(time.Second)
	defer ticker.Stop()

	log.Info().Str("room_id", c.roomID).Str("player_id", c.selfUID).Msg("session client started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-snaps:
			if !ok {
				log.Info().Str("room_id", c.roomID).Msg("session ended")
				c.ended()
				return nil
			}
			c.mu.Lock()
			c.latest = &snap
			c.mu.Unlock()

			// The host designation is stable for the whole session, so the
			// coordinator is started at most once, on the first snapshot
			// that names this client host.
			if snap.State.Host() == c.selfUID {
				coordOnce.Do(func() {
					coord := engine.NewCoordinator(c.store, c.game, c.roomID, c.selfUID,
						engine.WithClock(c.clock),
						engine.WithRand(rand.New(rand.NewSource(c.clock.Now().UnixNano()))))
					go func() {
						if err := coord.Run(coordCtx); err != nil {
							log.Error().Err(err).Str("room_id", c.roomID).Msg("coordinator stopped")
						}
					}()
				})
			}

			c.emitView(&snap.State)
		case <-ticker.Chan():
			c.mu.Lock()
			snap := c.latest
			c.mu.Unlock()
			if snap == nil {
				continue
			}
			c.maybeAutoSubmit(ctx, &snap.State)
			c.emitView(&snap.State)
		}
	}
}

// Snapshot returns the most recently observed snapshot, if any.
func (c *SessionClient) Snapshot() (store.Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latest == nil {
		return store.Snapshot{}, false
	}
	return *c.latest, true
}

// SubmitIntent validates the submission against the latest snapshot and
// writes it under this player's own pendingIntents entry. Illegal intents
// (out of turn, duplicate, window closed) are dropped silently: the method
// returns nil and nothing is written. Only store failures surface, and only
// so the caller can leave its optimistic UI state reverted.
func (c *SessionClient) SubmitIntent(ctx context.Context, data map[string]any, correct *bool) error {
	_, err := c.submitIntent(ctx, data, correct)
	return err
}

// submitIntent reports whether the intent was actually written; a silent
// drop is (false, nil).
func (c *SessionClient) submitIntent(ctx context.Context, data map[string]any, correct *bool) (bool, error) {
	c.mu.Lock()
	snap := c.latest
	c.mu.Unlock()
	if snap == nil {
		return false, nil
	}

	in := session.Intent{
		PlayerID: c.selfUID,
		Correct:  correct,
		Data:     data,
	}
	if err := c.game.ValidateIntent(&snap.State, c.selfUID, in); err != nil {
		log.Debug().Err(err).Str("room_id", c.roomID).Str("player_id", c.selfUID).Msg("intent dropped")
		return false, nil
	}
	if engine.WindowClosed(c.game, &snap.State, c.clock.Now()) {
		log.Debug().Str("room_id", c.roomID).Str("player_id", c.selfUID).Msg("window closed, intent dropped")
		return false, nil
	}

	err := c.store.Update(ctx, c.roomID, session.Fields{
		session.FieldPendingIntents + "." + c.selfUID: session.EncodeIntent(in),
	})
	if err != nil {
		return false, c.classify("submit_intent", err)
	}
	return true, nil
}

// SetReady flips this player's readiness flag for the current rendezvous.
func (c *SessionClient) SetReady(ctx context.Context) error {
	err := c.store.Update(ctx, c.roomID, session.Fields{
		session.FieldReadiness + "." + c.selfUID: true,
	})
	return c.classify("set_ready", err)
}

// VoteRematch records this player's rematch vote.
func (c *SessionClient) VoteRematch(ctx context.Context) error {
	c.mu.Lock()
	snap := c.latest
	c.mu.Unlock()
	if snap == nil || !snap.State.Finished() {
		return nil
	}
	err := c.store.Update(ctx, c.roomID, session.Fields{
		session.FieldRematchVotes + "." + c.selfUID: true,
	})
	return c.classify("vote_rematch", err)
}

// StartGame takes a LOBBY document into the first playing phase. Host only;
// calls from other clients are dropped.
func (c *SessionClient) StartGame(ctx context.Context) error {
	c.mu.Lock()
	snap := c.latest
	c.mu.Unlock()
	if snap == nil {
		return nil
	}
	s := &snap.State
	if s.Host() != c.selfUID || (s.Phase != session.PhaseLobby && s.Phase != "") {
		return nil
	}
	err := c.store.UpdateIfRev(ctx, c.roomID, snap.Rev, c.game.Start(s))
	if errors.Is(err, store.ErrStaleRevision) {
		return nil
	}
	return c.classify("start_game", err)
}

// Leave tears the client down. The host deletes the room document, which is
// every other subscriber's terminal "session ended" signal; a non-host
// leaving writes nothing.
func (c *SessionClient) Leave(ctx context.Context) error {
	c.mu.Lock()
	snap := c.latest
	c.mu.Unlock()
	if snap != nil && snap.State.Host() == c.selfUID {
		if err := c.store.Delete(ctx, c.roomID); err != nil && !errors.Is(err, store.ErrRoomDeleted) {
			return c.classify("leave", err)
		}
	}
	return nil
}

// maybeAutoSubmit writes the current local selection as a best-effort
// intent just before the window deadline, so a suspended or indecisive
// player still lands a submission before the host resolves the timeout.
func (c *SessionClient) maybeAutoSubmit(ctx context.Context, s *session.SessionState) {
	if c.selection == nil {
		return
	}
	if _, submitted := s.PendingIntents[c.selfUID]; submitted {
		return
	}
	spec, ok := c.game.Spec(s.Phase)
	if !ok || spec.Rendezvous || spec.Window <= 0 {
		return
	}
	deadline, ok := engine.PhaseDeadline(c.game, s)
	if !ok {
		return
	}
	// The window closes at the deadline inclusive, so a write at the
	// deadline itself is guaranteed to be dropped; the eligible range ends
	// strictly before it.
	now := c.clock.Now()
	if now.Before(deadline.Add(-autoSubmitMargin)) || !now.Before(deadline) {
		return
	}
	data, correct, ok := c.selection()
	if !ok {
		return
	}
	written, err := c.submitIntent(ctx, data, correct)
	switch {
	case err != nil:
		log.Warn().Err(err).Str("room_id", c.roomID).Msg("auto-submit failed")
	case !written:
		log.Debug().Str("room_id", c.roomID).Str("player_id", c.selfUID).Msg("auto-submit dropped")
	default:
		log.Debug().Str("room_id", c.roomID).Str("player_id", c.selfUID).Msg("auto-submitted local selection")
	}
}

func (c *SessionClient) emitView(s *session.SessionState) {
	if c.onView == nil {
		return
	}
	c.onView(view.Project(c.game, s, c.selfUID, c.clock.Now()))
}

func (c *SessionClient) ended() {
	if c.onEnded != nil {
		c.onEnded()
	}
}

// classify converts store failures per the error taxonomy: room deletion is
// terminal and handled by the subscribe loop, everything else is transient
// and left for the next reactive tick to retry.
func (c *SessionClient) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrRoomDeleted) {
		return err
	}
	if store.IsTransient(err) {
		log.Warn().Err(err).Str("room_id", c.roomID).Str("op", op).Msg("store write failed, leaving state unchanged")
		return err
	}
	log.Warn().Err(err).Str("room_id", c.roomID).Str("op", op).Msg("store write failed")
	return &store.TransientError{Op: op, Err: err}
}
