// Package natskv backs the session store with a NATS JetStream KeyValue
// bucket: one key per room, KV watch as the subscribe stream, and KV
// compare-and-swap updates as the guarded write.
package natskv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/collerty/game-box-sub000/go/internal/session"
	"github.com/collerty/game-box-sub000/go/internal/store"
)

const mergeRetries = 5

// Config holds configuration for the KV-backed store.
type Config struct {
	URL           string
	Bucket        string
	MaxReconnects int
}

// DefaultConfig returns the default KV store configuration.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Bucket:        "GAME_SESSIONS",
		MaxReconnects: -1,
	}
}

// Store implements store.Store on a JetStream KeyValue bucket.
type Store struct {
	nc    *nats.Conn
	kv    jetstream.KeyValue
	clock clockwork.Clock
}

// New connects to NATS and binds (creating if needed) the session bucket.
func New(ctx context.Context, cfg Config, clock clockwork.Clock) (*Store, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	kv, err := js.KeyValue(ctx, cfg.Bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      cfg.Bucket,
			Description: "game session documents",
		})
	}
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("bind session bucket: %w", err)
	}

	return &Store{nc: nc, kv: kv, clock: clock}, nil
}

// Close tears down the NATS connection.
func (s *Store) Close() {
	if s.nc != nil {
		s.nc.Close()
	}
}

func (s *Store) Create(ctx context.Context, roomID string, doc map[string]any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode room document: %w", err)
	}
	_, err = s.kv.Create(ctx, roomID, data)
	if errors.Is(err, jetstream.ErrKeyExists) {
		return store.ErrRoomExists
	}
	if err != nil {
		return &store.TransientError{Op: "create", Err: err}
	}
	return nil
}

func (s *Store) Subscribe(ctx context.Context, roomID string) (<-chan store.Snapshot, error) {
	entry, err := s.kv.Get(ctx, roomID)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, store.ErrRoomDeleted
	}
	if err != nil {
		return nil, &store.TransientError{Op: "subscribe", Err: err}
	}

	watcher, err := s.kv.Watch(ctx, roomID)
	if err != nil {
		return nil, &store.TransientError{Op: "subscribe", Err: err}
	}

	ch := make(chan store.Snapshot, 64)
	go func() {
		defer close(ch)
		defer watcher.Stop()

		lastRev := int64(0)
		if snap, ok := s.decodeEntry(roomID, entry); ok {
			lastRev = snap.Rev
			select {
			case ch <- snap:
			case <-ctx.Done():
				return
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-watcher.Updates():
				if !ok {
					return
				}
				if e == nil {
					// End of initial replay marker.
					continue
				}
				switch e.Operation() {
				case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
					return
				}
				snap, ok := s.decodeEntry(roomID, e)
				if !ok || snap.Rev <= lastRev {
					continue
				}
				lastRev = snap.Rev
				select {
				case ch <- snap:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}

func (s *Store) Update(ctx context.Context, roomID string, fields session.Fields) error {
	var lastErr error
	for attempt := 0; attempt < mergeRetries; attempt++ {
		entry, err := s.kv.Get(ctx, roomID)
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return store.ErrRoomDeleted
		}
		if err != nil {
			return &store.TransientError{Op: "update", Err: err}
		}
		if err := s.writeMerged(ctx, roomID, entry, fields); err != nil {
			if errors.Is(err, store.ErrStaleRevision) {
				lastErr = err
				continue
			}
			return err
		}
		return nil
	}
	return &store.TransientError{Op: "update", Err: fmt.Errorf("merge contention after %d attempts: %w", mergeRetries, lastErr)}
}

func (s *Store) UpdateIfRev(ctx context.Context, roomID string, rev int64, fields session.Fields) error {
	entry, err := s.kv.Get(ctx, roomID)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return store.ErrRoomDeleted
	}
	if err != nil {
		return &store.TransientError{Op: "update_if_rev", Err: err}
	}
	if int64(entry.Revision()) != rev {
		return fmt.Errorf("%w: have %d, expected %d", store.ErrStaleRevision, entry.Revision(), rev)
	}
	return s.writeMerged(ctx, roomID, entry, fields)
}

// writeMerged applies the field merge to the entry's document and writes it
// back with the entry's revision as the CAS token. A lost race surfaces as
// ErrStaleRevision.
func (s *Store) writeMerged(ctx context.Context, roomID string, entry jetstream.KeyValueEntry, fields session.Fields) error {
	var doc map[string]any
	if err := json.Unmarshal(entry.Value(), &doc); err != nil {
		return fmt.Errorf("room %s: %w: %v", roomID, session.ErrMalformedDocument, err)
	}
	session.ApplyFields(doc, fields, s.clock.Now())

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode room document: %w", err)
	}
	if _, err := s.kv.Update(ctx, roomID, data, entry.Revision()); err != nil {
		// Distinguish a lost CAS race from a broken connection by checking
		// whether the key moved.
		cur, getErr := s.kv.Get(ctx, roomID)
		switch {
		case errors.Is(getErr, jetstream.ErrKeyNotFound):
			return store.ErrRoomDeleted
		case getErr == nil && cur.Revision() != entry.Revision():
			return fmt.Errorf("%w: have %d, expected %d", store.ErrStaleRevision, cur.Revision(), entry.Revision())
		default:
			return &store.TransientError{Op: "update", Err: err}
		}
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, roomID string) error {
	if err := s.kv.Purge(ctx, roomID); err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil
		}
		return &store.TransientError{Op: "delete", Err: err}
	}
	return nil
}

func (s *Store) decodeEntry(roomID string, entry jetstream.KeyValueEntry) (store.Snapshot, bool) {
	var doc map[string]any
	if err := json.Unmarshal(entry.Value(), &doc); err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("undecodable session document")
		return store.Snapshot{}, false
	}
	state, err := session.Decode(doc)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("malformed session document")
		return store.Snapshot{}, false
	}
	return store.Snapshot{
		State:      state,
		Rev:        int64(entry.Revision()),
		ServerTime: entry.Created(),
	}, true
}
