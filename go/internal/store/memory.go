package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/collerty/game-box-sub000/go/internal/session"
)

const subscriberBuffer = 256

// MemoryStore is an in-process Store backend. It implements the full
// contract (revision ordering, at-least-once fan-out, field merge, server
// timestamps) and backs local development and every engine test.
type MemoryStore struct {
	clock clockwork.Clock

	mu    sync.Mutex
	rooms map[string]*memoryRoom
}

type memoryRoom struct {
	doc  map[string]any
	rev  int64
	subs map[int]chan Snapshot
	next int
}

// NewMemoryStore creates a memory-backed store using the given clock for
// server timestamps.
func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	return &MemoryStore{
		clock: clock,
		rooms: make(map[string]*memoryRoom),
	}
}

func (m *MemoryStore) Create(ctx context.Context, roomID string, doc map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[roomID]; ok {
		return ErrRoomExists
	}
	r := &memoryRoom{
		doc:  deepCopy(doc),
		rev:  1,
		subs: make(map[int]chan Snapshot),
	}
	m.rooms[roomID] = r
	return nil
}

func (m *MemoryStore) Subscribe(ctx context.Context, roomID string) (<-chan Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return nil, ErrRoomDeleted
	}

	ch := make(chan Snapshot, subscriberBuffer)
	id := r.next
	r.next++
	r.subs[id] = ch

	// Deliver the current document first so late joiners converge.
	snap, err := m.snapshotLocked(roomID, r)
	if err != nil {
		delete(r.subs, id)
		return nil, err
	}
	ch <- snap

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		if r, ok := m.rooms[roomID]; ok {
			if sub, ok := r.subs[id]; ok {
				delete(r.subs, id)
				close(sub)
			}
		}
	}()

	return ch, nil
}

func (m *MemoryStore) Update(ctx context.Context, roomID string, fields session.Fields) error {
	return m.update(roomID, -1, fields)
}

func (m *MemoryStore) UpdateIfRev(ctx context.Context, roomID string, rev int64, fields session.Fields) error {
	return m.update(roomID, rev, fields)
}

func (m *MemoryStore) update(roomID string, expectRev int64, fields session.Fields) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return ErrRoomDeleted
	}
	if expectRev >= 0 && r.rev != expectRev {
		return fmt.Errorf("%w: have %d, expected %d", ErrStaleRevision, r.rev, expectRev)
	}

	session.ApplyFields(r.doc, fields, m.clock.Now())
	r.rev++

	snap, err := m.snapshotLocked(roomID, r)
	if err != nil {
		return err
	}
	for id, sub := range r.subs {
		select {
		case sub <- snap:
		default:
			log.Warn().Str("room_id", roomID).Int("subscriber", id).Msg("subscriber buffer full, dropping snapshot")
		}
	}
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return nil
	}
	delete(m.rooms, roomID)
	for _, sub := range r.subs {
		close(sub)
	}
	return nil
}

func (m *MemoryStore) snapshotLocked(roomID string, r *memoryRoom) (Snapshot, error) {
	state, err := session.Decode(deepCopy(r.doc))
	if err != nil {
		return Snapshot{}, fmt.Errorf("room %s: %w", roomID, err)
	}
	return Snapshot{
		State:      state,
		Rev:        r.rev,
		ServerTime: m.clock.Now(),
	}, nil
}

func deepCopy(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopy(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = copyValue(item)
		}
		return out
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}
