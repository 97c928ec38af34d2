// Package postgres backs the session store with a jsonb document table.
// Writes merge under a row lock and bump a per-room revision; change
// fan-out rides Postgres LISTEN/NOTIFY with a poll-fallback ticker for
// missed notifications.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/collerty/game-box-sub000/go/internal/session"
	"github.com/collerty/game-box-sub000/go/internal/store"
)

// Config holds configuration for the Postgres-backed store.
type Config struct {
	DSN              string
	NotifyChannel    string
	FallbackInterval time.Duration
	PingInterval     time.Duration
}

// DefaultConfig returns the default Postgres store configuration.
func DefaultConfig() Config {
	return Config{
		NotifyChannel:    "game_session_updates",
		FallbackInterval: 10 * time.Second,
		PingInterval:     90 * time.Second,
	}
}

// Store implements store.Store on a game_sessions jsonb table.
type Store struct {
	pool  *pgxpool.Pool
	cfg   Config
	clock clockwork.Clock
}

const schema = `
CREATE TABLE IF NOT EXISTS game_sessions (
    room_id    TEXT PRIMARY KEY,
    rev        BIGINT NOT NULL DEFAULT 1,
    doc        JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// New connects the pool and ensures the session table exists.
func New(ctx context.Context, cfg Config, clock clockwork.Clock) (*Store, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure session table: %w", err)
	}
	return &Store{pool: pool, cfg: cfg, clock: clock}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Create(ctx context.Context, roomID string, doc map[string]any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode room document: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO game_sessions (room_id, doc) VALUES ($1, $2) ON CONFLICT (room_id) DO NOTHING`,
		roomID, data)
	if err != nil {
		return &store.TransientError{Op: "create", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return store.ErrRoomExists
	}
	s.notify(ctx, roomID)
	return nil
}

func (s *Store) Update(ctx context.Context, roomID string, fields session.Fields) error {
	return s.update(ctx, roomID, -1, fields)
}

func (s *Store) UpdateIfRev(ctx context.Context, roomID string, rev int64, fields session.Fields) error {
	return s.update(ctx, roomID, rev, fields)
}

func (s *Store) update(ctx context.Context, roomID string, expectRev int64, fields session.Fields) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &store.TransientError{Op: "update", Err: err}
	}
	defer tx.Rollback(ctx)

	var rev int64
	var data []byte
	err = tx.QueryRow(ctx,
		`SELECT rev, doc FROM game_sessions WHERE room_id = $1 FOR UPDATE`,
		roomID).Scan(&rev, &data)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrRoomDeleted
	}
	if err != nil {
		return &store.TransientError{Op: "update", Err: err}
	}
	if expectRev >= 0 && rev != expectRev {
		return fmt.Errorf("%w: have %d, expected %d", store.ErrStaleRevision, rev, expectRev)
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("room %s: %w: %v", roomID, session.ErrMalformedDocument, err)
	}
	session.ApplyFields(doc, fields, s.clock.Now())

	merged, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode room document: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE game_sessions SET doc = $2, rev = rev + 1, updated_at = now() WHERE room_id = $1`,
		roomID, merged); err != nil {
		return &store.TransientError{Op: "update", Err: err}
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, s.cfg.NotifyChannel, roomID); err != nil {
		return &store.TransientError{Op: "update", Err: err}
	}
	if err := tx.Commit(ctx); err != nil {
		return &store.TransientError{Op: "update", Err: err}
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, roomID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM game_sessions WHERE room_id = $1`, roomID); err != nil {
		return &store.TransientError{Op: "delete", Err: err}
	}
	s.notify(ctx, roomID)
	return nil
}

func (s *Store) notify(ctx context.Context, roomID string) {
	if _, err := s.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, s.cfg.NotifyChannel, roomID); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("notify failed, poll fallback will cover")
	}
}

// Subscribe listens for this room's notifications and re-reads the row on
// every wake-up, emitting only unseen revisions. The fallback ticker covers
// dropped notifications; a missing row closes the channel.
func (s *Store) Subscribe(ctx context.Context, roomID string) (<-chan store.Snapshot, error) {
	first, err := s.fetch(ctx, roomID)
	if err != nil {
		return nil, err
	}

	listener := pq.NewListener(
		s.cfg.DSN,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("session listener event")
			}
		},
	)
	if err := listener.Listen(s.cfg.NotifyChannel); err != nil {
		listener.Close()
		return nil, &store.TransientError{Op: "subscribe", Err: err}
	}

	ch := make(chan store.Snapshot, 64)
	go func() {
		defer close(ch)
		defer listener.Close()

		lastRev := int64(0)
		emit := func(snap store.Snapshot) bool {
			if snap.Rev <= lastRev {
				return true
			}
			lastRev = snap.Rev
			select {
			case ch <- snap:
				return true
			case <-ctx.Done():
				return false
			}
		}
		if !emit(first) {
			return
		}

		fallback := time.NewTicker(s.cfg.FallbackInterval)
		ping := time.NewTicker(s.cfg.PingInterval)
		defer fallback.Stop()
		defer ping.Stop()

		for {
			refetch := false
			select {
			case <-ctx.Done():
				return
			case note := <-listener.Notify:
				// nil notification means the connection was re-established;
				// re-read in case a change was missed in between.
				refetch = note == nil || note.Extra == roomID
			case <-fallback.C:
				refetch = true
			case <-ping.C:
				if err := listener.Ping(); err != nil {
					log.Error().Err(err).Msg("failed to ping session listener")
				}
			}
			if !refetch {
				continue
			}
			snap, err := s.fetch(ctx, roomID)
			if errors.Is(err, store.ErrRoomDeleted) {
				return
			}
			if err != nil {
				log.Warn().Err(err).Str("room_id", roomID).Msg("refetch failed, retrying on next wake-up")
				continue
			}
			if !emit(snap) {
				return
			}
		}
	}()
	return ch, nil
}

func (s *Store) fetch(ctx context.Context, roomID string) (store.Snapshot, error) {
	var rev int64
	var data []byte
	var updatedAt time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT rev, doc, updated_at FROM game_sessions WHERE room_id = $1`,
		roomID).Scan(&rev, &data, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Snapshot{}, store.ErrRoomDeleted
	}
	if err != nil {
		return store.Snapshot{}, &store.TransientError{Op: "fetch", Err: err}
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return store.Snapshot{}, fmt.Errorf("room %s: %w: %v", roomID, session.ErrMalformedDocument, err)
	}
	state, err := session.Decode(doc)
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("room %s: %w", roomID, err)
	}
	return store.Snapshot{State: state, Rev: rev, ServerTime: updatedAt}, nil
}
