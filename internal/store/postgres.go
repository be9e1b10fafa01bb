package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hicpool/pool-engine/internal/model"
)

// schema is applied by Migrate. Events keep their full JSON encoding in
// payload; the other columns exist for filtering.
const schema = `
CREATE TABLE IF NOT EXISTS pool_events (
	seq        BIGINT PRIMARY KEY,
	id         UUID NOT NULL,
	category   TEXT NOT NULL,
	subject    TEXT NOT NULL,
	timestamp  TIMESTAMPTZ NOT NULL,
	payload    JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS pool_events_subject_idx ON pool_events (subject, seq);

CREATE TABLE IF NOT EXISTS pool_snapshots (
	id         UUID PRIMARY KEY,
	day        BIGINT NOT NULL,
	last_seq   BIGINT NOT NULL,
	taken_at   TIMESTAMPTZ NOT NULL,
	state      JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS pool_snapshots_last_seq_idx ON pool_snapshots (last_seq DESC);
`

// PostgresStore implements Store using PostgreSQL as the source of truth.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// AppendEvents inserts the events of one committed operation in a single
// transaction.
func (s *PostgresStore) AppendEvents(ctx context.Context, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode event %d: %w", ev.Seq, err)
		}
		batch.Queue(
			`INSERT INTO pool_events (seq, id, category, subject, timestamp, payload)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			int64(ev.Seq), ev.ID, string(ev.Category), ev.Subject.String(), ev.Timestamp, payload,
		)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("append events: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ListEvents(ctx context.Context, f model.EventFilter) ([]model.Event, error) {
	var subject string
	if !f.Subject.IsZero() {
		subject = f.Subject.String()
	}
	limit := int64(f.Limit)
	if limit < 0 {
		limit = 0
	}
	rows, err := s.pool.Query(ctx,
		`SELECT payload FROM pool_events
		 WHERE seq > $1
		   AND ($2 = '' OR category = $2)
		   AND ($3 = '' OR subject = $3)
		 ORDER BY seq
		 LIMIT NULLIF($4::BIGINT, 0)`,
		int64(f.AfterSeq), string(f.Category), subject, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var ev model.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *PostgresStore) TruncateEvents(ctx context.Context, afterSeq uint64) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM pool_events WHERE seq > $1`, int64(afterSeq))
	if err != nil {
		return 0, fmt.Errorf("truncate events: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap model.Snapshot) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pool_snapshots (id, day, last_seq, taken_at, state)
		 VALUES ($1, $2, $3, $4, $5)`,
		snap.ID, snap.Day, int64(snap.LastSeq), snap.TakenAt, []byte(snap.State),
	)
	return err
}

func (s *PostgresStore) LatestSnapshot(ctx context.Context) (*model.Snapshot, error) {
	var snap model.Snapshot
	var lastSeq int64
	var state []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id::TEXT, day, last_seq, taken_at, state
		 FROM pool_snapshots ORDER BY last_seq DESC, taken_at DESC LIMIT 1`).
		Scan(&snap.ID, &snap.Day, &lastSeq, &snap.TakenAt, &state)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	snap.LastSeq = uint64(lastSeq)
	snap.State = state
	return &snap, nil
}
