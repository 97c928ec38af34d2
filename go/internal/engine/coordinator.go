package engine

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/collerty/game-box-sub000/go/internal/session"
	"github.com/collerty/game-box-sub000/go/internal/store"
)

const transientRetryDelay = time.Second

// Coordinator runs on the client recognized as host and turns submitted
// intents into phase advancement. It is a reactive loop: every observed
// snapshot (including ones caused by its own writes) re-evaluates the rule
// set from scratch, and every write is guarded by the revision of the
// snapshot that triggered it, so redundant evaluation is always safe.
type Coordinator struct {
	store  store.Store
	game   Game
	roomID string
	selfID string
	clock  clockwork.Clock
	rng    *rand.Rand
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithClock substitutes the clock, for tests.
func WithClock(clock clockwork.Clock) CoordinatorOption {
	return func(c *Coordinator) { c.clock = clock }
}

// WithRand substitutes the tie-break randomness source, for tests.
func WithRand(rng *rand.Rand) CoordinatorOption {
	return func(c *Coordinator) { c.rng = rng }
}

// NewCoordinator creates a coordinator for one room.
func NewCoordinator(st store.Store, game Game, roomID, selfID string, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:  st,
		game:   game,
		roomID: roomID,
		selfID: selfID,
		clock:  clockwork.NewRealClock(),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run subscribes to the room and evaluates the transition rules until the
// context is cancelled or the room document is deleted. Room deletion is a
// clean exit, not an error.
func (c *Coordinator) Run(ctx context.Context) error {
	snaps, err := c.store.Subscribe(ctx, c.roomID)
	if err != nil {
		if errors.Is(err, store.ErrRoomDeleted) {
			return nil
		}
		return err
	}

	log.Info().Str("room_id", c.roomID).Str("host_id", c.selfID).Msg("coordinator started")

	timer := c.clock.NewTimer(time.Hour)
	stopAndDrainTimer(timer)
	defer timer.Stop()

	var latest *store.Snapshot
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("room_id", c.roomID).Msg("coordinator shutting down")
			return nil
		case snap, ok := <-snaps:
			if !ok {
				log.Info().Str("room_id", c.roomID).Msg("room deleted, coordinator exiting")
				return nil
			}
			latest = &snap
			c.Evaluate(ctx, snap)
		case <-timer.Chan():
			if latest != nil {
				c.Evaluate(ctx, *latest)
			}
		}
		c.armTimer(timer, latest)
	}
}

// Evaluate runs the coordinator rule set against one snapshot. Exported so
// tests can drive single steps without the subscription loop.
func (c *Coordinator) Evaluate(ctx context.Context, snap store.Snapshot) {
	s := &snap.State
	if s.Host() != c.selfID {
		return
	}
	now := c.clock.Now()

	if s.Finished() {
		if s.AllVotedRematch() {
			c.apply(ctx, snap, c.game.Reset(s), "rematch_reset")
		}
		return
	}
	if s.Phase == "" || s.Phase == session.PhaseLobby {
		return
	}

	if _, ok := c.game.Spec(s.Phase); !ok {
		log.Warn().Str("room_id", c.roomID).Str("phase", string(s.Phase)).Msg("phase has no spec, ignoring")
		return
	}
	if !WindowClosed(c.game, s, now) {
		return
	}

	fields, err := c.game.Resolve(s, now, c.rng)
	if err != nil {
		log.Error().Err(err).Str("room_id", c.roomID).Str("phase", string(s.Phase)).Msg("resolver failed")
		return
	}
	if len(fields) == 0 {
		return
	}
	c.apply(ctx, snap, fields, "resolve_"+string(s.Phase))
}

// apply issues a guarded write. A stale revision means another observer (or
// an earlier run of this one) already advanced the document: the write is
// abandoned, never blindly retried.
func (c *Coordinator) apply(ctx context.Context, snap store.Snapshot, fields session.Fields, rule string) {
	if len(fields) == 0 {
		return
	}
	err := c.store.UpdateIfRev(ctx, c.roomID, snap.Rev, fields)
	switch {
	case err == nil:
		log.Info().
			Str("room_id", c.roomID).
			Str("rule", rule).
			Int64("rev", snap.Rev).
			Msg("transition applied")
	case errors.Is(err, store.ErrStaleRevision):
		log.Debug().
			Str("room_id", c.roomID).
			Str("rule", rule).
			Int64("rev", snap.Rev).
			Msg("already resolved, skipping")
	case errors.Is(err, store.ErrRoomDeleted):
		log.Debug().Str("room_id", c.roomID).Str("rule", rule).Msg("room gone, skipping")
	default:
		log.Warn().
			Err(err).
			Str("room_id", c.roomID).
			Str("rule", rule).
			Msg("transition write failed, will retry on next tick")
	}
}

// armTimer points the wake-up timer at the next phase deadline so a closed
// window is noticed even when no new snapshot arrives.
func (c *Coordinator) armTimer(timer clockwork.Timer, latest *store.Snapshot) {
	stopAndDrainTimer(timer)
	if latest == nil {
		return
	}
	deadline, ok := PhaseDeadline(c.game, &latest.State)
	if !ok {
		if latest.State.Finished() || latest.State.Phase == session.PhaseLobby {
			return
		}
		// Windowless resolution phase or transient write failure: poll soon.
		timer.Reset(transientRetryDelay)
		return
	}
	wait := deadline.Sub(c.clock.Now())
	if wait < 0 {
		wait = transientRetryDelay
	}
	timer.Reset(wait)
}

// stopAndDrainTimer safely stops a timer and drains its channel so a stale
// fire cannot wake a later wait.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
