// Package store defines the shared session store client: the only
// network-facing boundary of the sync engine. Clients coordinate purely by
// writing partial field updates into a room's session document and watching
// the merged document fan back out.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/collerty/game-box-sub000/go/internal/session"
)

// ErrRoomDeleted is the terminal signal for a room whose document no longer
// exists. It is distinct from transient failures: callers surface it as
// "session ended" and never retry.
var ErrRoomDeleted = errors.New("room document deleted")

// ErrStaleRevision means a guarded update lost the race: the document moved
// past the expected revision before the write applied. Callers abandon the
// write and re-evaluate against the next snapshot, never retry blindly.
var ErrStaleRevision = errors.New("stale revision")

// TransientError wraps a network or backend failure that the next reactive
// tick is expected to retry. It is never surfaced to the player as fatal.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient store failure during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a recoverable store failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Snapshot is one observed version of a session document. Rev increases
// monotonically per room and ServerTime is the store's clock at the write
// that produced this version; both come from the server, never the client.
type Snapshot struct {
	State      session.SessionState
	Rev        int64
	ServerTime time.Time
}

// Store is the capability over the shared document store.
//
// Subscribe delivers snapshots at-least-once and in revision order,
// starting with the current document, and closes the channel (without an
// error value) when the room document is deleted. A subscriber always
// observes its own prior writes in its next snapshot.
//
// Update performs a field-level merge; nothing outside the submitted paths
// is touched, and everything in one call lands together. UpdateIfRev
// additionally fails with ErrStaleRevision unless the document is still at
// the given revision, which is the engine's only concurrency guard.
type Store interface {
	Create(ctx context.Context, roomID string, doc map[string]any) error
	Subscribe(ctx context.Context, roomID string) (<-chan Snapshot, error)
	Update(ctx context.Context, roomID string, fields session.Fields) error
	UpdateIfRev(ctx context.Context, roomID string, rev int64, fields session.Fields) error
	Delete(ctx context.Context, roomID string) error
}

// ErrRoomExists is returned by Create when the room document already exists.
var ErrRoomExists = errors.New("room already exists")
