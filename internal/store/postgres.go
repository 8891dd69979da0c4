package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ilikepancakes-ink/twittwebot/common/id"
	"github.com/ilikepancakes-ink/twittwebot/core/db"
	"github.com/ilikepancakes-ink/twittwebot/internal/model"
)

// PostgresLedger persists interaction records in the interaction_records
// table. Duplicate (post_id, interaction_type) pairs are absorbed by the
// unique constraint, so Record stays idempotent under concurrent callers.
type PostgresLedger struct {
	db *db.DB
}

func NewPostgresLedger(database *db.DB) *PostgresLedger {
	return &PostgresLedger{db: database}
}

func (l *PostgresLedger) HasInteracted(ctx context.Context, postID string, t model.InteractionType) (bool, error) {
	var exists bool
	err := l.db.Pool().QueryRow(ctx, `
SELECT EXISTS (
  SELECT 1 FROM interaction_records
  WHERE post_id = $1 AND interaction_type = $2
)`, postID, string(t)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ledger exists: %w", err)
	}
	return exists, nil
}

func (l *PostgresLedger) Record(ctx context.Context, postID string, t model.InteractionType) error {
	_, err := l.db.Pool().Exec(ctx, `
INSERT INTO interaction_records (id, post_id, interaction_type, created_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (post_id, interaction_type) DO NOTHING`,
		id.New(), postID, string(t), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("ledger record: %w", err)
	}
	return nil
}

// PostgresThreadStore persists threads with messages serialized as JSONB.
// Threads are small (bounded by the reply depth cap) so a whole-row upsert
// is cheaper than a separate messages table.
type PostgresThreadStore struct {
	db *db.DB
}

func NewPostgresThreadStore(database *db.DB) *PostgresThreadStore {
	return &PostgresThreadStore{db: database}
}

func (s *PostgresThreadStore) Get(ctx context.Context, rootID string) (*model.ConversationThread, error) {
	var (
		thread model.ConversationThread
		raw    []byte
		state  string
	)
	err := s.db.Pool().QueryRow(ctx, `
SELECT root_id, messages, depth, state, started_at, updated_at
FROM conversation_threads
WHERE root_id = $1`, rootID).Scan(&thread.RootID, &raw, &thread.Depth, &state, &thread.StartedAt, &thread.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("thread get: %w", err)
	}
	if err := json.Unmarshal(raw, &thread.Messages); err != nil {
		return nil, fmt.Errorf("thread messages decode: %w", err)
	}
	thread.State = model.ThreadState(state)
	return &thread, nil
}

func (s *PostgresThreadStore) Put(ctx context.Context, thread *model.ConversationThread) error {
	raw, err := json.Marshal(thread.Messages)
	if err != nil {
		return fmt.Errorf("thread messages encode: %w", err)
	}
	_, err = s.db.Pool().Exec(ctx, `
INSERT INTO conversation_threads (root_id, messages, depth, state, started_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (root_id) DO UPDATE SET
  messages = EXCLUDED.messages,
  depth = EXCLUDED.depth,
  state = EXCLUDED.state,
  updated_at = EXCLUDED.updated_at`,
		thread.RootID, raw, thread.Depth, string(thread.State), thread.StartedAt, thread.UpdatedAt)
	if err != nil {
		return fmt.Errorf("thread put: %w", err)
	}
	return nil
}

func (s *PostgresThreadStore) List(ctx context.Context) ([]model.ThreadSummary, error) {
	rows, err := s.db.Pool().Query(ctx, `
SELECT root_id, jsonb_array_length(messages), depth, state, started_at, updated_at
FROM conversation_threads
ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("thread list: %w", err)
	}
	defer rows.Close()

	var summaries []model.ThreadSummary
	for rows.Next() {
		var (
			summary model.ThreadSummary
			state   string
		)
		if err := rows.Scan(&summary.RootID, &summary.MessageCount, &summary.Depth, &state, &summary.StartedAt, &summary.UpdatedAt); err != nil {
			return nil, fmt.Errorf("thread list scan: %w", err)
		}
		summary.State = model.ThreadState(state)
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

// PostgresCursorStore persists pagination cursors in the cursors table.
type PostgresCursorStore struct {
	db *db.DB
}

func NewPostgresCursorStore(database *db.DB) *PostgresCursorStore {
	return &PostgresCursorStore{db: database}
}

func (s *PostgresCursorStore) Get(ctx context.Context, name string) (string, error) {
	var value string
	err := s.db.Pool().QueryRow(ctx, `SELECT value FROM cursors WHERE name = $1`, name).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("cursor get: %w", err)
	}
	return value, nil
}

func (s *PostgresCursorStore) Set(ctx context.Context, name, value string) error {
	_, err := s.db.Pool().Exec(ctx, `
INSERT INTO cursors (name, value, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (name) DO UPDATE SET
  value = EXCLUDED.value,
  updated_at = EXCLUDED.updated_at`,
		name, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("cursor set: %w", err)
	}
	return nil
}
